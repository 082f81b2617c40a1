package pipeline

import (
	"context"
	"fmt"

	"github.com/couchcryptid/precip-etl/internal/domain"
	"github.com/couchcryptid/precip-etl/internal/observability"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Run executes stage for every state, up to workers states at a time. The
// first failure cancels the remaining states and is returned.
func (p *Pipeline) Run(ctx context.Context, stage Stage, states []domain.State, workers int) error {
	fn, ok := stageFuncs[stage]
	if !ok {
		return fmt.Errorf("unknown stage %q", stage)
	}
	if workers <= 0 {
		workers = 1
	}

	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID, "stage", string(stage))
	logger.Info("pipeline run started", "states", len(states), "workers", workers)

	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	g, gctx := errgroup.WithContext(observability.ContextWithLogger(ctx, logger))
	g.SetLimit(workers)
	for _, state := range states {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := fn(p, gctx, state); err != nil {
				logger.Error("stage failed", "state", state.Name, "error", err)
				return fmt.Errorf("%s %s: %w", stage, state, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("pipeline run complete", "states", len(states))
	return nil
}
