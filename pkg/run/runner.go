// Package run orchestrates a full mapping run: plan the split, expand the
// batch grid, dispatch it against the mapper and aggregate the outcomes into
// one finalized result.
package run

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/semalign/semalign/pkg/aggregate"
	"github.com/semalign/semalign/pkg/catalog"
	"github.com/semalign/semalign/pkg/dispatch"
	"github.com/semalign/semalign/pkg/mapper"
	"github.com/semalign/semalign/pkg/planner"
	"github.com/semalign/semalign/pkg/schedule"
)

// Config holds the run configuration.
type Config struct {
	// MaxBatchSize bounds the combined item count per mapper call.
	MaxBatchSize int

	// Threshold is the minimum score for a mapping to count as matched
	// in the finalized statistics. Range 0..100.
	Threshold int

	// Dispatch configures concurrency, pacing, timeouts and retry.
	Dispatch dispatch.Config
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize: 200,
		Threshold:    50,
		Dispatch:     dispatch.DefaultConfig(),
	}
}

// Runner executes mapping runs against a mapper. A Runner is safe for reuse
// across sequential runs; each call to Run creates its own aggregator.
type Runner struct {
	mapper mapper.Mapper
	cfg    Config
}

// New creates a runner submitting batches to m.
func New(m mapper.Mapper, cfg Config) (*Runner, error) {
	if m == nil {
		return nil, fmt.Errorf("mapper is required")
	}
	if cfg.MaxBatchSize < 2 {
		return nil, fmt.Errorf("max batch size must be >= 2 (got %d)", cfg.MaxBatchSize)
	}
	if cfg.Threshold < 0 || cfg.Threshold > 100 {
		return nil, fmt.Errorf("threshold must be in [0, 100] (got %d)", cfg.Threshold)
	}
	return &Runner{mapper: m, cfg: cfg}, nil
}

// Run maps the first catalog against the second and returns the finalized
// result. Every first-catalog item is compared with every second-catalog
// item across the batch grid.
//
// Cancelling ctx stops new batch dispatch; in-flight calls finish and their
// results are kept. Run returns the partial aggregate in that case rather
// than an error, with the run status reflecting what completed.
func (r *Runner) Run(ctx context.Context, first, second []catalog.Item, promptTemplate string) (*aggregate.Result, error) {
	runID := uuid.NewString()
	logger := log.With().
		Str("component", "runner").
		Str("run_id", runID).
		Logger()

	agg := aggregate.New(first)

	if len(first) == 0 || len(second) == 0 {
		logger.Info().
			Int("first_items", len(first)).
			Int("second_items", len(second)).
			Msg("Empty catalog, nothing to map")
		return agg.Finalize(r.cfg.Threshold), nil
	}

	descriptors, err := r.schedule(first, second, logger)
	if err != nil {
		return nil, err
	}

	disp, err := dispatch.New(r.mapper, r.cfg.Dispatch)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	start := time.Now()
	for outcome := range disp.Run(ctx, descriptors, promptTemplate) {
		agg.Merge(outcome)
	}

	result := agg.Finalize(r.cfg.Threshold)

	logger.Info().
		Str("status", string(result.Status)).
		Int("batches", len(descriptors)).
		Int("mappings", result.Stats.TotalMappings).
		Int("mapped", result.Stats.MappedCount).
		Int("failed_batches", len(result.FailedBatches)).
		Int("tokens", result.Stats.TotalTokens).
		Dur("duration", time.Since(start)).
		Msg("Run finished")

	return result, nil
}

// schedule picks between the single-call bypass and the planned grid.
func (r *Runner) schedule(first, second []catalog.Item, logger zerolog.Logger) ([]schedule.Descriptor, error) {
	if len(first)+len(second) <= r.cfg.MaxBatchSize {
		logger.Info().
			Int("first_items", len(first)).
			Int("second_items", len(second)).
			Msg("Catalogs fit in one batch, skipping partitioning")
		return schedule.Single(first, second), nil
	}

	plan, err := planner.Optimal(len(first), len(second), r.cfg.MaxBatchSize)
	if err != nil {
		return nil, fmt.Errorf("planning batch split: %w", err)
	}

	logger.Info().
		Int("first_items", plan.N1).
		Int("second_items", plan.N2).
		Int("chunk_first", plan.First).
		Int("chunk_second", plan.Second).
		Int("batches", plan.TotalBatches).
		Msg("Batch split planned")

	return schedule.Grid(plan, first, second), nil
}
