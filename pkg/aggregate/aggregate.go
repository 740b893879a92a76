// Package aggregate consolidates concurrently completing batch outcomes into
// one best mapping per first-catalog code, ordered by source position.
//
// Merge is the pipeline's single serialization point: the mapping table, the
// order index and the metrics list live behind one mutex, and the merge rule
// (max score wins, position fixed at first occurrence in the source catalog)
// makes the finalized result invariant under outcome arrival order.
package aggregate

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/semalign/semalign/pkg/catalog"
	"github.com/semalign/semalign/pkg/dispatch"
	"github.com/semalign/semalign/pkg/mapper"
)

// RunStatus classifies a finished run.
type RunStatus string

const (
	// RunCompleted means every batch succeeded.
	RunCompleted RunStatus = "completed"

	// RunPartialSuccess means some batches succeeded and some failed or
	// were cancelled; partial results are usable.
	RunPartialSuccess RunStatus = "partial_success"

	// RunFailed means no batch succeeded.
	RunFailed RunStatus = "failed"
)

// CallMetrics is the per-batch metrics record. Every descriptor contributes
// exactly one, regardless of how it ended.
type CallMetrics struct {
	Index        int
	Status       dispatch.Status
	ErrKind      mapper.Kind
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
	Attempts     int
	Candidates   int
}

// FailedBatch identifies a permanently failed descriptor and its last error.
type FailedBatch struct {
	Index   int
	ErrKind mapper.Kind
}

// Stats summarizes a finalized run.
type Stats struct {
	// TotalMappings is the number of distinct first-catalog codes mapped.
	TotalMappings int

	// MappedCount is the number of entries with a second-catalog match at
	// or above the similarity threshold.
	MappedCount int

	// UnmappedCount is TotalMappings - MappedCount.
	UnmappedCount int

	// AvgScore is the mean of positive scores across kept entries.
	AvgScore float64

	TotalInputTokens  int
	TotalOutputTokens int
	TotalTokens       int
	TotalLatency      time.Duration
}

// Result is the finalized aggregate: mappings in source-position order plus
// call metrics, summary statistics and the run-level status.
type Result struct {
	Mappings      []mapper.Candidate
	Calls         []CallMetrics
	Stats         Stats
	Status        RunStatus
	FailedBatches []FailedBatch
}

type entry struct {
	candidate mapper.Candidate
	position  int
}

// Aggregator accumulates batch outcomes. Create one per run with New; Merge
// may be called concurrently from dispatch workers; Finalize only after the
// outcome stream is exhausted or the run is cancelled.
type Aggregator struct {
	mu        sync.Mutex
	positions catalog.PositionIndex
	entries   map[string]*entry
	calls     []CallMetrics
	unknown   int
	logger    zerolog.Logger
}

// New creates an aggregator for a run over the given first catalog. The
// source-position index is computed once, up front, so merge order can never
// influence final ordering.
func New(first []catalog.Item) *Aggregator {
	return &Aggregator{
		positions: catalog.NewPositionIndex(first),
		entries:   make(map[string]*entry),
		logger:    log.With().Str("component", "aggregator").Logger(),
	}
}

// Merge folds one terminal outcome into the aggregate. The metrics record is
// appended unconditionally; candidates only contribute on success, and a
// candidate replaces the stored one only when it strictly improves the score.
// The stored source position never changes after first insertion.
func (a *Aggregator) Merge(o dispatch.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, CallMetrics{
		Index:        o.Index,
		Status:       o.Status,
		ErrKind:      o.ErrKind,
		InputTokens:  o.InputTokens,
		OutputTokens: o.OutputTokens,
		Latency:      o.Latency,
		Attempts:     o.Attempts,
		Candidates:   len(o.Candidates),
	})

	for _, c := range o.Candidates {
		pos, known := a.positions[c.FirstCode]
		if !known {
			// A code the source catalog never contained cannot be
			// given a deterministic position; drop it.
			a.unknown++
			a.logger.Warn().
				Int("batch", o.Index).
				Str("first_code", c.FirstCode).
				Msg("Dropping candidate for unknown first-catalog code")
			continue
		}

		existing, seen := a.entries[c.FirstCode]
		switch {
		case !seen:
			a.entries[c.FirstCode] = &entry{candidate: c, position: pos}
		case c.Score > existing.candidate.Score:
			a.logger.Debug().
				Str("first_code", c.FirstCode).
				Int("old_score", existing.candidate.Score).
				Int("new_score", c.Score).
				Msg("Replacing mapping with higher score")
			existing.candidate = c
		}
	}
}

// UnknownCandidates returns the number of dropped candidates whose first
// code was absent from the source catalog.
func (a *Aggregator) UnknownCandidates() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unknown
}

// Reset returns the aggregator to its initial empty state, keeping the
// source-position index.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = make(map[string]*entry)
	a.calls = nil
	a.unknown = 0
}

// Finalize produces the ordered result. threshold classifies entries as
// mapped or unmapped; it has no effect on which candidate was kept.
func (a *Aggregator) Finalize(threshold int) *Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	ordered := make([]*entry, 0, len(a.entries))
	for _, e := range a.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].position < ordered[j].position
	})

	result := &Result{
		Mappings: make([]mapper.Candidate, len(ordered)),
		Calls:    append([]CallMetrics(nil), a.calls...),
	}
	// Merge order reflects completion timing; descriptor index restores a
	// deterministic order.
	sort.Slice(result.Calls, func(i, j int) bool {
		return result.Calls[i].Index < result.Calls[j].Index
	})

	scoreSum, scored := 0, 0
	for i, e := range ordered {
		result.Mappings[i] = e.candidate
		if e.candidate.Mapped() && e.candidate.Score >= threshold {
			result.Stats.MappedCount++
		}
		if e.candidate.Score > 0 {
			scoreSum += e.candidate.Score
			scored++
		}
	}
	result.Stats.TotalMappings = len(ordered)
	result.Stats.UnmappedCount = len(ordered) - result.Stats.MappedCount
	if scored > 0 {
		result.Stats.AvgScore = float64(scoreSum) / float64(scored)
	}

	var succeeded, failed, cancelled int
	for _, c := range result.Calls {
		result.Stats.TotalInputTokens += c.InputTokens
		result.Stats.TotalOutputTokens += c.OutputTokens
		result.Stats.TotalLatency += c.Latency
		switch c.Status {
		case dispatch.StatusSuccess:
			succeeded++
		case dispatch.StatusFailed:
			failed++
			result.FailedBatches = append(result.FailedBatches, FailedBatch{Index: c.Index, ErrKind: c.ErrKind})
		case dispatch.StatusCancelled:
			cancelled++
		}
	}
	result.Stats.TotalTokens = result.Stats.TotalInputTokens + result.Stats.TotalOutputTokens

	sort.Slice(result.FailedBatches, func(i, j int) bool {
		return result.FailedBatches[i].Index < result.FailedBatches[j].Index
	})

	switch {
	case failed == 0 && cancelled == 0:
		result.Status = RunCompleted
	case succeeded > 0:
		result.Status = RunPartialSuccess
	default:
		result.Status = RunFailed
	}

	return result
}
