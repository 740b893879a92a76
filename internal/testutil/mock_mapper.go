// Package testutil provides testing utilities for the mapping pipeline.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/semalign/semalign/pkg/catalog"
	"github.com/semalign/semalign/pkg/mapper"
	"github.com/semalign/semalign/pkg/schedule"
)

// MockMapper is a configurable in-memory mapper for tests. Its default
// behavior is fully deterministic: the same descriptor always produces the
// same candidates, so results are comparable across concurrency levels.
type MockMapper struct {
	mu sync.Mutex

	// SubmitFunc overrides all behavior when set.
	SubmitFunc func(ctx context.Context, d schedule.Descriptor, promptTemplate string) (*mapper.Result, error)

	// Errs scripts per-descriptor failures: each Submit for index i pops
	// the next error from Errs[i] until the queue drains, then the
	// deterministic result is returned.
	Errs map[int][]error

	// Score overrides the deterministic pair scoring.
	Score func(first, second catalog.Item) int

	// Delay is slept per call to widen concurrency interleavings.
	Delay time.Duration

	// Calls counts Submit invocations.
	Calls int
}

// NewMockMapper creates a deterministic mock mapper.
func NewMockMapper() *MockMapper {
	return &MockMapper{Errs: make(map[int][]error)}
}

// FailWith scripts errs as the outcomes of successive submissions of the
// descriptor at index, before deterministic results resume.
func (m *MockMapper) FailWith(index int, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errs[index] = append(m.Errs[index], errs...)
}

// CallCount returns the number of Submit invocations so far.
func (m *MockMapper) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// Submit implements mapper.Mapper.
func (m *MockMapper) Submit(ctx context.Context, d schedule.Descriptor, promptTemplate string) (*mapper.Result, error) {
	m.mu.Lock()
	m.Calls++
	var scripted error
	if queue := m.Errs[d.Index]; len(queue) > 0 {
		scripted = queue[0]
		m.Errs[d.Index] = queue[1:]
	}
	m.mu.Unlock()

	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, d, promptTemplate)
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if scripted != nil {
		return nil, scripted
	}

	score := m.Score
	if score == nil {
		score = PairScore
	}

	candidates := make([]mapper.Candidate, 0, len(d.First))
	for _, f := range d.First {
		best := catalog.Item{}
		bestScore := 0
		for _, s := range d.Second {
			if sc := score(f, s); sc > bestScore {
				best, bestScore = s, sc
			}
		}
		c := mapper.Candidate{
			FirstCode: f.Code,
			FirstName: f.Name,
			Score:     bestScore,
			Reasoning: "mock pairing",
		}
		if bestScore > 0 {
			c.SecondCode = best.Code
			c.SecondName = best.Name
		}
		candidates = append(candidates, c)
	}

	return &mapper.Result{
		Candidates:   candidates,
		InputTokens:  10 * (len(d.First) + len(d.Second)),
		OutputTokens: 20 * len(d.First),
		Latency:      time.Millisecond,
	}, nil
}

// PairScore is the default deterministic scoring rule: names sharing a
// longer common prefix score higher, independent of item order or timing.
func PairScore(first, second catalog.Item) int {
	n := 0
	for n < len(first.Name) && n < len(second.Name) && first.Name[n] == second.Name[n] {
		n++
	}
	score := n * 10
	if score > 100 {
		score = 100
	}
	return score
}
