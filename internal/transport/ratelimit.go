package transport

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"alpaca-broker/internal/logging"
)

// RateLimitState tracks the venue's advertised request budget. It is scoped
// to one credential identity's session and reset on re-authorization.
//
// Updates are ordered by dispatch sequence, not goroutine arrival: each
// outbound call stamps a sequence before dispatch, and a response may only
// apply headers if no later-dispatched response already has.
type RateLimitState struct {
	mu         sync.Mutex
	remaining  int
	limit      int
	resetAt    time.Time
	appliedSeq uint64
	dispatch   uint64
}

// NewRateLimitState creates state assuming the given budget until the venue
// reports its own headers.
func NewRateLimitState(initialLimit int) *RateLimitState {
	if initialLimit <= 0 {
		initialLimit = 200
	}
	return &RateLimitState{
		remaining: initialLimit,
		limit:     initialLimit,
	}
}

// StampDispatch allocates the ordering stamp for one outbound call.
func (s *RateLimitState) StampDispatch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatch++
	return s.dispatch
}

// Update applies rate-limit headers from the response dispatched at seq.
// Stale responses (an earlier dispatch arriving after a later one) are
// dropped so the state reflects the venue's newest word.
func (s *RateLimitState) Update(seq uint64, remaining, limit int, resetAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq <= s.appliedSeq {
		return
	}
	s.appliedSeq = seq

	if limit > 0 {
		s.limit = limit
	}
	if remaining >= 0 {
		s.remaining = remaining
	}
	if !resetAt.IsZero() {
		s.resetAt = resetAt
	}
}

// Snapshot returns the current budget view.
func (s *RateLimitState) Snapshot() (remaining, limit int, resetAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining, s.limit, s.resetAt
}

// Reset restores the assumed budget. Called on re-authorization, when the
// venue-side counters start over for the new session.
func (s *RateLimitState) Reset(initialLimit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if initialLimit <= 0 {
		initialLimit = s.limit
	}
	s.remaining = initialLimit
	s.limit = initialLimit
	s.resetAt = time.Time{}
	s.appliedSeq = 0
	s.dispatch = 0
}

// tryAcquire takes one budget unit if available. When the budget is spent
// and the reset instant has not arrived, it returns the wait until then.
func (s *RateLimitState) tryAcquire(now time.Time) (ok bool, wait time.Duration, resetAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remaining > 0 {
		s.remaining--
		return true, 0, time.Time{}
	}

	if s.resetAt.IsZero() || !now.Before(s.resetAt) {
		// Reset has passed; assume a fresh budget until headers say otherwise.
		s.remaining = s.limit - 1
		if s.remaining < 0 {
			s.remaining = 0
		}
		s.resetAt = time.Time{}
		return true, 0, time.Time{}
	}

	return false, s.resetAt.Sub(now), s.resetAt
}

// Limiter provides advisory admission control over shared RateLimitState.
// Admission does not guarantee the venue agrees; a 429 after admission is
// the retry policy's to handle.
type Limiter struct {
	state  *RateLimitState
	logger zerolog.Logger
}

// NewLimiter creates a limiter over the shared state.
func NewLimiter(state *RateLimitState, logger zerolog.Logger) *Limiter {
	return &Limiter{
		state:  state,
		logger: logger.With().Str("component", "ratelimit").Logger(),
	}
}

// Admit blocks until a budget unit is available or ctx is done. Exhaustion
// suspends on a timer until the advertised reset instant; there is no
// busy-waiting.
func (l *Limiter) Admit(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ok, wait, resetAt := l.state.tryAcquire(time.Now())
		if ok {
			return nil
		}

		logging.LogRateLimitWait(l.logger, wait, resetAt)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
