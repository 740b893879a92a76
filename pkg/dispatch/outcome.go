package dispatch

import (
	"time"

	"github.com/semalign/semalign/pkg/mapper"
)

// Status is the terminal state of one descriptor.
type Status string

const (
	// StatusSuccess means the mapper returned a decoded result.
	StatusSuccess Status = "success"

	// StatusFailed means retries were exhausted or the failure was
	// permanent.
	StatusFailed Status = "failed"

	// StatusCancelled means the descriptor was never dispatched because
	// the run was cancelled. Cancelled descriptors are excluded from retry.
	StatusCancelled Status = "cancelled"
)

// Outcome is the terminal record for one descriptor. Every descriptor
// produces exactly one outcome regardless of how it ended.
type Outcome struct {
	// Index is the descriptor's row-major generation index.
	Index int

	// Candidates holds the decoded mappings on success; empty otherwise.
	Candidates []mapper.Candidate

	InputTokens  int
	OutputTokens int
	Latency      time.Duration

	// Attempts counts mapper submissions made for this descriptor.
	Attempts int

	Status Status

	// ErrKind carries the last failure classification when Status is
	// StatusFailed.
	ErrKind mapper.Kind
}
