package pipeline

import (
	"errors"
	"fmt"
)

// ErrAttemptsExhausted is returned by Advance when the bound has been reached.
var ErrAttemptsExhausted = errors.New("retry budget exhausted")

// RetryState bounds the rendering loop. Attempt counts from 0 and never exceeds MaxAttempts,
// so a request gets at most MaxAttempts+1 generation attempts.
type RetryState struct {
	Attempt     int
	MaxAttempts int
	LastError   string
}

// NewRetryState returns a state at attempt 0. Negative bounds are treated as 0.
func NewRetryState(maxAttempts int) RetryState {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return RetryState{MaxAttempts: maxAttempts}
}

// CanRetry reports whether Advance would succeed.
func (s *RetryState) CanRetry() bool { return s.Attempt < s.MaxAttempts }

// Advance records lastError and moves to the next attempt. At the bound it records the error,
// leaves Attempt unchanged and returns ErrAttemptsExhausted.
func (s *RetryState) Advance(lastError string) error {
	s.LastError = lastError
	if !s.CanRetry() {
		return fmt.Errorf("%w after %d attempts", ErrAttemptsExhausted, s.Attempt+1)
	}
	s.Attempt++
	return nil
}

// ScopeRetryState bounds the scope-feedback loop nested inside rendering. Its retries do not
// consume outer attempts; the budget is per request.
type ScopeRetryState struct {
	Retries     int
	MaxRetries  int
	Identifiers []string // names reported by the last scope failure
}

// NewScopeRetryState returns an unused inner budget.
func NewScopeRetryState(maxRetries int) ScopeRetryState {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return ScopeRetryState{MaxRetries: maxRetries}
}

// CanRetry reports whether Advance would succeed.
func (s *ScopeRetryState) CanRetry() bool { return s.Retries < s.MaxRetries }

// Advance consumes one scope retry for the given identifiers.
func (s *ScopeRetryState) Advance(identifiers []string) error {
	s.Identifiers = identifiers
	if !s.CanRetry() {
		return fmt.Errorf("%w: scope retries used %d of %d", ErrAttemptsExhausted, s.Retries, s.MaxRetries)
	}
	s.Retries++
	return nil
}
