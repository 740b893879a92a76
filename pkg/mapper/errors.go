package mapper

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a mapper failure for retry decisions.
type Kind string

const (
	// KindRateLimited indicates the scoring service rejected the call for
	// exceeding its request rate. Transient.
	KindRateLimited Kind = "rate_limited"

	// KindTimeout indicates the call exceeded its deadline. Transient.
	KindTimeout Kind = "timeout"

	// KindConnectionReset indicates a network-level failure, including
	// server-side errors where the response never usefully arrived. Transient.
	KindConnectionReset Kind = "connection_reset"

	// KindAuthFailure indicates rejected credentials. Permanent.
	KindAuthFailure Kind = "auth_failure"

	// KindMalformedRequest indicates the service rejected the request shape.
	// Permanent.
	KindMalformedRequest Kind = "malformed_request"

	// KindQuotaExceeded indicates an exhausted usage quota. Permanent.
	KindQuotaExceeded Kind = "quota_exceeded"

	// KindDecodeFailure indicates the response shape could not be decoded
	// even after the fallback extraction strategy. Permanent.
	KindDecodeFailure Kind = "decode_failure"
)

// Transient reports whether a failure of this kind is worth retrying.
func (k Kind) Transient() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindConnectionReset:
		return true
	default:
		return false
	}
}

// Error is a classified mapper failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mapper %s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("mapper %s error: %s", e.Kind, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Classify extracts the failure kind from err. Context deadline expiry maps
// to KindTimeout so per-call timeouts enter the retry path; run cancellation
// maps to the empty, non-transient kind; anything unrecognized maps to
// KindConnectionReset, the conservative transient kind.
func Classify(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ""
	}
	return KindConnectionReset
}
