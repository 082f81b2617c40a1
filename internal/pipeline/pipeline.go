package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/couchcryptid/precip-etl/internal/domain"
	"github.com/couchcryptid/precip-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrNotDownloaded is returned by Transform when the combined file is absent.
	ErrNotDownloaded = errors.New("no combined data, has the state been downloaded?")

	// ErrNotTransformed is returned by Analyze when the transformed table is absent.
	ErrNotTransformed = errors.New("no transformed data, has the state been transformed?")

	// ErrNotAnalyzed is returned by Summary when no analysis has been written.
	ErrNotAnalyzed = errors.New("no analysis, has the state been analyzed?")
)

// Downloader fetches the raw archives of a state into dir and returns the
// number of files newly downloaded.
type Downloader interface {
	Download(ctx context.Context, state domain.State, dir string) (int, error)
}

// Archive unpacks raw archives and concatenates their contents.
type Archive interface {
	Extract(ctx context.Context, srcDir, dstDir string) error
	Combine(srcDir, dstPath string) error
}

// Table persists the flagged records of a state as a tabular file.
type Table interface {
	Write(path string, records []domain.FlaggedRecord) error
	Read(path string) ([]domain.FlaggedRecord, error)
}

// Loader publishes flagged records to an additional sink.
type Loader interface {
	Name() string
	Load(ctx context.Context, state domain.State, records []domain.FlaggedRecord) error
}

// Paths are the per-state locations under the data directory.
type Paths struct {
	Raw         string
	Extracted   string
	Combined    string
	Transformed string
	Analysis    string
}

// PathsFor returns the layout of <dataDir>/<state code>/.
func PathsFor(dataDir string, state domain.State) Paths {
	root := filepath.Join(dataDir, state.Code())
	return Paths{
		Raw:         filepath.Join(root, "raw"),
		Extracted:   filepath.Join(root, "extracted"),
		Combined:    filepath.Join(root, "combined.txt"),
		Transformed: filepath.Join(root, "transformed.csv"),
		Analysis:    filepath.Join(root, "analysis"),
	}
}

// Pipeline runs the download, transform, and analyze stages for a state.
type Pipeline struct {
	dataDir    string
	downloader Downloader
	archive    Archive
	table      Table
	loaders    []Loader
	logger     *slog.Logger
	metrics    *observability.Metrics
	clock      clockwork.Clock
	ready      atomic.Bool
}

// New creates a Pipeline rooted at dataDir. loaders may be empty; the table is
// always written.
func New(dataDir string, d Downloader, a Archive, t Table, loaders []Loader, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		dataDir:    dataDir,
		downloader: d,
		archive:    a,
		table:      t,
		loaders:    loaders,
		logger:     logger,
		metrics:    metrics,
		clock:      clockwork.NewRealClock(),
	}
}

// SetClock replaces the clock used for stage timing.
func (p *Pipeline) SetClock(c clockwork.Clock) {
	p.clock = c
}

// CheckReadiness returns nil once at least one state has been transformed.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not transformed any state yet")
	}
	return nil
}

// Download fetches, extracts, and combines the raw data of a state.
func (p *Pipeline) Download(ctx context.Context, state domain.State) error {
	logger := p.loggerFor(ctx)
	return p.timed(StageDownload, func() error {
		paths := PathsFor(p.dataDir, state)
		for _, dir := range []string{paths.Raw, paths.Extracted} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
		}

		logger.Info("downloading state data", "state", state.Name, "dir", paths.Raw)
		n, err := p.downloader.Download(ctx, state, paths.Raw)
		if err != nil {
			return fmt.Errorf("download %s: %w", state, err)
		}
		p.metrics.FilesDownloaded.Add(float64(n))
		logger.Info("downloaded data files", "state", state.Name, "files", n)

		logger.Info("extracting state data", "state", state.Name, "dir", paths.Extracted)
		if err := p.archive.Extract(ctx, paths.Raw, paths.Extracted); err != nil {
			return fmt.Errorf("extract %s: %w", state, err)
		}

		if err := p.archive.Combine(paths.Extracted, paths.Combined); err != nil {
			return fmt.Errorf("combine %s: %w", state, err)
		}
		logger.Info("combined state data", "state", state.Name, "path", paths.Combined)
		return nil
	})
}

// Transform parses the combined file of a state, resolves the deleted and
// missing flags, and writes the flagged records to the table and every loader.
// A single malformed line fails the whole state.
func (p *Pipeline) Transform(ctx context.Context, state domain.State) error {
	logger := p.loggerFor(ctx)
	return p.timed(StageTransform, func() error {
		paths := PathsFor(p.dataDir, state)

		records, err := p.readCombined(logger, paths.Combined)
		if err != nil {
			return fmt.Errorf("transform %s: %w", state, err)
		}
		p.metrics.RecordsParsed.Add(float64(len(records)))

		flagged, err := ResolveFlags(ctx, records)
		if err != nil {
			return fmt.Errorf("transform %s: %w", state, err)
		}
		deleted, missing := countFlags(flagged)
		p.metrics.RecordsFlagged.WithLabelValues("deleted").Add(float64(deleted))
		p.metrics.RecordsFlagged.WithLabelValues("missing").Add(float64(missing))

		logger.Info("saving transformed data", "state", state.Name, "path", paths.Transformed,
			"records", len(flagged), "deleted", deleted, "missing", missing)
		if err := p.table.Write(paths.Transformed, flagged); err != nil {
			return fmt.Errorf("write transformed %s: %w", state, err)
		}
		p.metrics.RecordsLoaded.WithLabelValues("csv").Add(float64(len(flagged)))

		for _, l := range p.loaders {
			if err := l.Load(ctx, state, flagged); err != nil {
				return fmt.Errorf("load %s into %s: %w", state, l.Name(), err)
			}
			p.metrics.RecordsLoaded.WithLabelValues(l.Name()).Add(float64(len(flagged)))
			logger.Debug("loaded flagged records", "state", state.Name, "sink", l.Name(), "records", len(flagged))
		}

		p.ready.Store(true)
		return nil
	})
}

// Analyze summarizes the usable records of a transformed state and writes the
// summary to analysis/summary.json.
func (p *Pipeline) Analyze(ctx context.Context, state domain.State) (domain.Summary, error) {
	logger := p.loggerFor(ctx)
	var summary domain.Summary
	err := p.timed(StageAnalyze, func() error {
		paths := PathsFor(p.dataDir, state)

		if _, err := os.Stat(paths.Transformed); errors.Is(err, os.ErrNotExist) {
			logger.Error("no transformed data", "state", state.Name, "path", paths.Transformed)
			return fmt.Errorf("analyze %s: %w", state, ErrNotTransformed)
		}

		records, err := p.table.Read(paths.Transformed)
		if err != nil {
			return fmt.Errorf("read transformed %s: %w", state, err)
		}

		summary = domain.Summarize(records)
		logger.Info("precipitation collected",
			"state", state.Name,
			"start_year", summary.StartYear,
			"end_year", summary.EndYear,
			"total_inches", summary.TotalInches,
			"average_per_year_inches", summary.AveragePerYear,
			"stations", summary.Stations,
			"excluded", summary.Excluded,
		)

		if err := os.MkdirAll(paths.Analysis, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", paths.Analysis, err)
		}
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		out := filepath.Join(paths.Analysis, "summary.json")
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
		logger.Info("saved analysis", "state", state.Name, "path", out)
		return nil
	})
	return summary, err
}

// Summary reads the analysis written by the last Analyze of a state.
func (p *Pipeline) Summary(state domain.State) (domain.Summary, error) {
	var summary domain.Summary
	data, err := os.ReadFile(filepath.Join(PathsFor(p.dataDir, state).Analysis, "summary.json"))
	if errors.Is(err, os.ErrNotExist) {
		return summary, ErrNotAnalyzed
	}
	if err != nil {
		return summary, err
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return summary, fmt.Errorf("decode summary %s: %w", state, err)
	}
	return summary, nil
}

// All runs download, transform, and analyze in order.
func (p *Pipeline) All(ctx context.Context, state domain.State) error {
	if err := p.Download(ctx, state); err != nil {
		return err
	}
	if err := p.Transform(ctx, state); err != nil {
		return err
	}
	_, err := p.Analyze(ctx, state)
	return err
}

func (p *Pipeline) readCombined(logger *slog.Logger, path string) ([]domain.Record, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Error("no combined data", "path", path)
		return nil, ErrNotDownloaded
	}
	if err != nil {
		return nil, fmt.Errorf("open combined: %w", err)
	}
	defer f.Close()

	records, err := domain.ReadRecords(f)
	if err != nil {
		p.metrics.ParseErrors.Inc()
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return records, nil
}

// loggerFor returns the run-scoped logger carried by ctx, if any.
func (p *Pipeline) loggerFor(ctx context.Context) *slog.Logger {
	return observability.LoggerFromContext(ctx, p.logger)
}

// timed records the duration and failure of a stage.
func (p *Pipeline) timed(stage Stage, fn func() error) error {
	start := p.clock.Now()
	err := fn()
	p.metrics.StageDuration.WithLabelValues(string(stage)).Observe(p.clock.Since(start).Seconds())
	if err != nil {
		p.metrics.StageErrors.WithLabelValues(string(stage)).Inc()
	}
	return err
}

// ResolveFlags computes the deleted and missing flags concurrently and
// attaches them to records by position. A context that is already done
// returns its error without resolving.
func ResolveFlags(ctx context.Context, records []domain.Record) ([]domain.FlaggedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	annotations := domain.Annotations(records)
	var deleted, missing []bool

	var wg sync.WaitGroup
	wg.Go(func() { deleted = domain.ResolveIntervals(annotations, domain.DeletedMarkers) })
	wg.Go(func() { missing = domain.ResolveIntervals(annotations, domain.MissingMarkers) })
	wg.Wait()
	return domain.AttachFlags(records, deleted, missing), nil
}

func countFlags(records []domain.FlaggedRecord) (deleted, missing int) {
	for _, r := range records {
		if r.WasDeleted {
			deleted++
		}
		if r.IsMissing {
			missing++
		}
	}
	return deleted, missing
}
