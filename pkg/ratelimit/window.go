package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// record is one admitted call inside the sliding window. tokens holds the
// estimate until the call completes and settles it with actual usage.
type record struct {
	at      time.Time
	tokens  int
	settled bool
}

// Window is a shared sliding-window budget consulted by all dispatch
// workers: at most CallLimit call starts and TokenLimit tokens per window.
// A zero TokenLimit disables the token dimension.
type Window struct {
	callLimit  int
	tokenLimit int
	window     time.Duration

	mu      sync.Mutex
	records []record

	logger zerolog.Logger

	// now is swapped in tests.
	now func() time.Time
}

// NewWindow creates a sliding-window pacer. callLimit must be positive;
// window defaults to one minute when zero.
func NewWindow(callLimit, tokenLimit int, window time.Duration) *Window {
	if window <= 0 {
		window = time.Minute
	}
	return &Window{
		callLimit:  callLimit,
		tokenLimit: tokenLimit,
		window:     window,
		logger:     log.With().Str("component", "rate-window").Logger(),
		now:        time.Now,
	}
}

// Wait implements Pacer. It blocks until both the call and token dimensions
// admit a call estimated at estimatedTokens, sleeping until the oldest
// in-window record expires between checks.
func (w *Window) Wait(ctx context.Context, estimatedTokens int) error {
	waited := time.Duration(0)
	for {
		wait := w.admitOrDelay(estimatedTokens)
		if wait == 0 {
			if waited > 0 {
				rateLimitWaitsTotal.WithLabelValues("window").Inc()
				rateLimitWaitSeconds.WithLabelValues("window").Observe(waited.Seconds())
				w.logger.Debug().
					Dur("waited", waited).
					Int("estimated_tokens", estimatedTokens).
					Msg("Call admitted after rate window wait")
			}
			return nil
		}

		waited += wait
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// admitOrDelay reserves a slot when the budget allows and returns 0, or
// returns how long to sleep before the next check.
func (w *Window) admitOrDelay(estimatedTokens int) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)

	calls := len(w.records)
	tokens := 0
	for _, r := range w.records {
		tokens += r.tokens
	}

	if calls < w.callLimit && (w.tokenLimit == 0 || tokens+estimatedTokens <= w.tokenLimit) {
		// Reserve the call slot now; Record adjusts tokens afterwards.
		w.records = append(w.records, record{at: now, tokens: estimatedTokens})
		return 0
	}

	if len(w.records) == 0 {
		// A single call larger than the token budget would never be
		// admitted; let it through rather than spin forever.
		w.records = append(w.records, record{at: now, tokens: estimatedTokens})
		return 0
	}

	expires := w.records[0].at.Add(w.window).Sub(now)
	if expires < 10*time.Millisecond {
		expires = 10 * time.Millisecond
	}
	return expires
}

// Record implements Pacer: it settles the oldest outstanding reservation
// with the call's actual token usage. Reservations are admitted and complete
// in interleaved order across workers, so each Record consumes exactly one
// reservation; which one it lands on only shifts expiry timing, the window
// total stays exact.
func (w *Window) Record(tokens int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.records {
		if !w.records[i].settled {
			w.records[i].tokens = tokens
			w.records[i].settled = true
			return
		}
	}
}

// Usage returns the in-window call and token counts.
func (w *Window) Usage() (calls, tokens int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	for _, r := range w.records {
		tokens += r.tokens
	}
	return len(w.records), tokens
}

// prune drops records older than the window. Caller holds the lock.
func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	keep := w.records[:0]
	for _, r := range w.records {
		if r.at.After(cutoff) {
			keep = append(keep, r)
		}
	}
	w.records = keep
}
