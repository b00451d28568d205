package dispatch

import (
	"context"
	"sync"
	"time"
)

// RateLimitState is the account-wide earliest permitted send time. One
// instance is created at startup and shared by every Dispatcher that talks to
// the same account.
type RateLimitState struct {
	mu        sync.Mutex
	notBefore time.Time
}

// NewRateLimitState returns a state that permits sending immediately.
func NewRateLimitState() *RateLimitState {
	return &RateLimitState{}
}

// NotBefore is the current deadline; zero means no restriction.
func (s *RateLimitState) NotBefore() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notBefore
}

// Defer moves the deadline to until. The deadline never moves backwards.
func (s *RateLimitState) Defer(until time.Time) {
	s.mu.Lock()
	if until.After(s.notBefore) {
		s.notBefore = until
	}
	s.mu.Unlock()
}

// Wait blocks until now() reaches the deadline, re-reading it after every
// sleep because another sender may have extended it meanwhile.
func (s *RateLimitState) Wait(ctx context.Context, now func() time.Time, sleep func(context.Context, time.Duration) error) (time.Duration, error) {
	var waited time.Duration
	for {
		remaining := s.NotBefore().Sub(now())
		if remaining <= 0 {
			return waited, nil
		}
		if err := sleep(ctx, remaining); err != nil {
			return waited, err
		}
		waited += remaining
	}
}
