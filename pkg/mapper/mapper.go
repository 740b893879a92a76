// Package mapper defines the external scoring service contract: submitting a
// batch descriptor for semantic comparison and decoding the classified
// results it returns.
package mapper

import (
	"context"
	"time"

	"github.com/semalign/semalign/pkg/schedule"
)

// Candidate is one scored mapping proposal for a first-catalog item.
// SecondCode and SecondName are empty when no acceptable match was found in
// the descriptor's second slice.
type Candidate struct {
	FirstCode  string
	FirstName  string
	SecondCode string
	SecondName string
	Score      int
	Reasoning  string
}

// Mapped reports whether the candidate carries a second-catalog match.
func (c Candidate) Mapped() bool {
	return c.SecondCode != ""
}

// Result is the mapper's response to one submitted descriptor.
type Result struct {
	Candidates   []Candidate
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
}

// Mapper performs semantic comparison between the items of a descriptor.
// Implementations must be safe for concurrent use; failures are reported as
// *Error values so callers can distinguish transient from permanent causes.
type Mapper interface {
	Submit(ctx context.Context, d schedule.Descriptor, promptTemplate string) (*Result, error)
}
