// Package dispatch runs the batch grid against the mapper under bounded
// concurrency, pacing, per-call timeouts and classified retry, and streams
// terminal outcomes as they complete.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/semalign/semalign/pkg/mapper"
	"github.com/semalign/semalign/pkg/ratelimit"
	"github.com/semalign/semalign/pkg/schedule"
)

var batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mapping_batches_total",
	Help: "Total batch outcomes by terminal status",
}, []string{"status"})

// Config holds the dispatcher configuration.
type Config struct {
	// MaxConcurrent is the worker pool size.
	MaxConcurrent int

	// CallTimeout bounds each individual mapper attempt. A timed-out
	// attempt is a transient failure handed to the retry controller; the
	// abandoned call's late result, if any, is discarded.
	CallTimeout time.Duration

	// Retry configures the per-descriptor retry controller.
	Retry RetryConfig

	// Pacer gates call starts. Nil means no pacing.
	Pacer ratelimit.Pacer
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 3,
		CallTimeout:   120 * time.Second,
		Retry:         DefaultRetryConfig(),
	}
}

// Dispatcher runs descriptor grids against a mapper.
type Dispatcher struct {
	mapper mapper.Mapper
	cfg    Config
	pacer  ratelimit.Pacer
	logger zerolog.Logger
}

// New creates a dispatcher submitting to m.
func New(m mapper.Mapper, cfg Config) (*Dispatcher, error) {
	if m == nil {
		return nil, fmt.Errorf("mapper is required")
	}
	if cfg.MaxConcurrent < 1 {
		return nil, fmt.Errorf("max concurrent must be >= 1 (got %d)", cfg.MaxConcurrent)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 120 * time.Second
	}

	pacer := cfg.Pacer
	if pacer == nil {
		pacer = ratelimit.Nop{}
	}

	return &Dispatcher{
		mapper: m,
		cfg:    cfg,
		pacer:  pacer,
		logger: log.With().Str("component", "dispatcher").Logger(),
	}, nil
}

// Run dispatches all descriptors and returns a channel of terminal outcomes,
// emitted as they complete in arbitrary order. The channel carries exactly
// one outcome per descriptor and is closed when all have resolved.
//
// Cancelling ctx stops new dispatch: queued descriptors resolve as
// StatusCancelled, while in-flight calls are allowed to finish and their
// outcomes are still emitted.
func (d *Dispatcher) Run(ctx context.Context, descriptors []schedule.Descriptor, promptTemplate string) <-chan Outcome {
	out := make(chan Outcome, len(descriptors))

	queue := make(chan schedule.Descriptor, len(descriptors))
	for _, desc := range descriptors {
		queue <- desc
	}
	close(queue)

	workers := d.cfg.MaxConcurrent
	if workers > len(descriptors) {
		workers = len(descriptors)
	}

	d.logger.Info().
		Int("batches", len(descriptors)).
		Int("workers", workers).
		Dur("call_timeout", d.cfg.CallTimeout).
		Msg("Starting batch dispatch")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go d.worker(ctx, i, queue, out, promptTemplate, &wg)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// worker pulls descriptors off the queue until it drains. Cancellation is
// checked between dequeue operations, never by interrupting a call.
func (d *Dispatcher) worker(ctx context.Context, id int, queue <-chan schedule.Descriptor, out chan<- Outcome, promptTemplate string, wg *sync.WaitGroup) {
	defer wg.Done()

	for desc := range queue {
		if ctx.Err() != nil {
			batchesTotal.WithLabelValues(string(StatusCancelled)).Inc()
			d.logger.Debug().
				Int("worker_id", id).
				Int("batch", desc.Index).
				Msg("Batch cancelled before dispatch")
			out <- Outcome{Index: desc.Index, Status: StatusCancelled}
			continue
		}
		out <- d.process(ctx, id, desc, promptTemplate)
	}
}

// process resolves one descriptor to a terminal outcome.
func (d *Dispatcher) process(ctx context.Context, workerID int, desc schedule.Descriptor, promptTemplate string) Outcome {
	logger := d.logger.With().
		Int("worker_id", workerID).
		Int("batch", desc.Index).
		Logger()

	estimate := mapper.EstimateTokens(promptTemplate) +
		mapper.EstimateTokens(mapper.EncodeItems(desc.First, false)) +
		mapper.EstimateTokens(mapper.EncodeItems(desc.Second, false))

	result, attempts, err := retryWithBackoff(ctx, d.cfg.Retry, logger, func() (*mapper.Result, error) {
		if err := d.pacer.Wait(ctx, estimate); err != nil {
			return nil, fmt.Errorf("pacing interrupted: %w", err)
		}

		// The attempt gets its own deadline but is detached from run
		// cancellation so in-flight calls finish.
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.CallTimeout)
		defer cancel()

		res, err := d.mapper.Submit(attemptCtx, desc, promptTemplate)
		if err != nil {
			return nil, err
		}
		d.pacer.Record(res.InputTokens + res.OutputTokens)
		return res, nil
	})

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Pacing was interrupted by run cancellation before the
			// call started.
			batchesTotal.WithLabelValues(string(StatusCancelled)).Inc()
			logger.Debug().Msg("Batch cancelled while awaiting pacing")
			return Outcome{Index: desc.Index, Attempts: attempts, Status: StatusCancelled}
		}
		kind := mapper.Classify(err)
		batchesTotal.WithLabelValues(string(StatusFailed)).Inc()
		logger.Error().
			Str("error_kind", string(kind)).
			Int("attempts", attempts).
			Err(err).
			Msg("Batch failed")
		return Outcome{
			Index:    desc.Index,
			Attempts: attempts,
			Status:   StatusFailed,
			ErrKind:  kind,
		}
	}

	batchesTotal.WithLabelValues(string(StatusSuccess)).Inc()
	logger.Info().
		Int("candidates", len(result.Candidates)).
		Int("attempts", attempts).
		Dur("latency", result.Latency).
		Msg("Batch completed")

	return Outcome{
		Index:        desc.Index,
		Candidates:   result.Candidates,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		Latency:      result.Latency,
		Attempts:     attempts,
		Status:       StatusSuccess,
	}
}
