package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/couchcryptid/precip-etl/internal/adapter/archive"
	"github.com/couchcryptid/precip-etl/internal/adapter/badgerindex"
	"github.com/couchcryptid/precip-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/precip-etl/internal/adapter/httpadapter"
	"github.com/couchcryptid/precip-etl/internal/adapter/influx"
	kafkaadapter "github.com/couchcryptid/precip-etl/internal/adapter/kafka"
	"github.com/couchcryptid/precip-etl/internal/adapter/noaaftp"
	"github.com/couchcryptid/precip-etl/internal/config"
	"github.com/couchcryptid/precip-etl/internal/domain"
	"github.com/couchcryptid/precip-etl/internal/observability"
	"github.com/couchcryptid/precip-etl/internal/pipeline"
	"github.com/spf13/cobra"
)

// app carries what the persistent pre-run resolves for every subcommand.
type app struct {
	stateNames []string
	verbose    bool

	states []domain.State
	cfg    *config.Config
	logger *slog.Logger
}

// execute runs the command tree on args. States may follow --states either
// comma-separated or as separate words: "--states AZ CA all".
func execute(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(joinStateArgs(args, root))
	return root.ExecuteContext(ctx)
}

// joinStateArgs folds the bare words after --states into its comma-separated
// value. Folding stops at the next flag or at a subcommand name.
func joinStateArgs(args []string, root *cobra.Command) []string {
	isCommand := func(word string) bool {
		for _, c := range root.Commands() {
			if c.Name() == word || c.HasAlias(word) {
				return true
			}
		}
		return false
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		var states []string
		switch {
		case arg == "--states" && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-"):
			i++
			states = append(states, args[i])
		case strings.HasPrefix(arg, "--states="):
			states = append(states, strings.TrimPrefix(arg, "--states="))
		default:
			out = append(out, arg)
			continue
		}
		for i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") && !isCommand(args[i+1]) {
			i++
			states = append(states, args[i])
		}
		out = append(out, "--states="+strings.Join(states, ","))
	}
	return out
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "precip",
		Short: "Download, flag, and summarize NOAA hourly precipitation data",
		Long: `precip fetches Hourly Precipitation Data (HPD) archives for one or more
states, resolves the deleted and missing intervals marked in the data, and
summarizes the usable precipitation.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringSliceVar(&a.stateNames, "states", []string{"AZ"}, "state abbreviations, comma- or space-separated")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	for _, stage := range pipeline.Stages {
		root.AddCommand(a.stageCmd(stage))
	}
	root.AddCommand(a.serveCmd())
	return root
}

func (a *app) setup(_ *cobra.Command, _ []string) error {
	states, err := domain.ParseStates(a.stateNames)
	if err != nil {
		return err
	}
	a.states = states

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if a.verbose {
		level = "debug"
	}
	a.logger = observability.NewLogger(level, cfg.LogFormat)
	return nil
}

var stageDescriptions = map[pipeline.Stage]string{
	pipeline.StageDownload:  "Fetch, extract, and combine the raw archives of each state",
	pipeline.StageTransform: "Parse the combined data and resolve deleted and missing flags",
	pipeline.StageAnalyze:   "Summarize the usable precipitation of each transformed state",
	pipeline.StageAll:       "Run download, transform, and analyze in order",
}

func (a *app) stageCmd(stage pipeline.Stage) *cobra.Command {
	return &cobra.Command{
		Use:   string(stage),
		Short: stageDescriptions[stage],
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, cleanup, err := a.buildPipeline()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := p.Run(cmd.Context(), stage, a.states, a.cfg.Workers); err != nil {
				a.logger.Error("pipeline failed", "stage", string(stage), "error", err)
				return err
			}
			return nil
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	var stageName string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a stage once and serve health, metrics, and summaries until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stage, err := pipeline.ParseStage(stageName)
			if err != nil {
				return err
			}
			return a.serve(cmd.Context(), stage)
		},
	}
	cmd.Flags().StringVar(&stageName, "stage", string(pipeline.StageAll),
		"stage to run at startup ("+strings.Join(pipeline.StageNames(), ", ")+")")
	return cmd
}

func (a *app) serve(ctx context.Context, stage pipeline.Stage) error {
	p, cleanup, err := a.buildPipeline()
	if err != nil {
		return err
	}
	defer cleanup()

	srv := httpadapter.NewServer(a.cfg.HTTPAddr, p, p, a.logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", "error", err)
		}
	}()

	// Start ETL pipeline.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Run(ctx, stage, a.states, a.cfg.Workers); err != nil {
			a.logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("pipeline did not stop before shutdown timeout")
	}
	a.logger.Info("shutdown complete")
	return nil
}

// buildPipeline wires the configured adapters. The returned cleanup closes
// every opened resource.
func (a *app) buildPipeline() (*pipeline.Pipeline, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				a.logger.Error("close error", "error", err)
			}
		}
	}

	index, err := badgerindex.Open(a.cfg.DownloadIndexDir, a.logger)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, index.Close)

	var loaders []pipeline.Loader
	if a.cfg.KafkaEnabled {
		w := kafkaadapter.NewWriter(a.cfg, a.logger)
		loaders = append(loaders, w)
		closers = append(closers, w.Close)
		a.logger.Info("kafka sink enabled", "topic", a.cfg.KafkaTopic, "brokers", a.cfg.KafkaBrokers)
	}
	if a.cfg.InfluxEnabled() {
		w := influx.NewWriter(a.cfg, a.logger)
		loaders = append(loaders, w)
		closers = append(closers, w.Close)
		a.logger.Info("influxdb sink enabled", "url", a.cfg.InfluxURL, "bucket", a.cfg.InfluxBucket)
	}

	p := pipeline.New(
		a.cfg.DataDir,
		noaaftp.NewClient(a.cfg, index, a.logger),
		archive.NewUnpacker(a.logger),
		csvfile.NewTable(),
		loaders,
		a.logger,
		observability.NewMetrics(),
	)
	return p, cleanup, nil
}
