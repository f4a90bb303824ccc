// Package poller runs the wait-then-fetch step between an upload and the audio lookup.
package poller

import (
	"context"
	"fmt"
	"time"
)

// Poller waits a fixed delay and then runs the fetch exactly once. It does not retry.
type Poller struct {
	after func(time.Duration) <-chan time.Time
	delay time.Duration
}

// Option configures a Poller.
type Option func(*Poller)

// WithTimer replaces time.After, letting tests release the delay on demand.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(p *Poller) {
		p.after = after
	}
}

// New creates a Poller with the given delay.
func New(delay time.Duration, opts ...Option) *Poller {
	poller := &Poller{
		after: time.After,
		delay: delay,
	}

	for _, opt := range opts {
		opt(poller)
	}

	return poller
}

// Delay returns the configured wait.
func (p *Poller) Delay() time.Duration {
	return p.delay
}

// Run blocks for the delay, or until ctx is done, then calls fetch once.
func Run[T any](ctx context.Context, p *Poller, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("poll cancelled before lookup: %w", ctx.Err())
		case <-p.after(p.delay):
		}
	}

	err := ctx.Err()
	if err != nil {
		return zero, fmt.Errorf("poll cancelled before lookup: %w", err)
	}

	return fetch(ctx)
}
