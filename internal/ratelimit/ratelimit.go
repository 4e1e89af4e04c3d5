// Package ratelimit provides a per-key cooldown gate.
package ratelimit

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultWindow is the cooldown applied when none is configured.
const DefaultWindow = 5 * time.Second

// Limiter allows one hit per key per window.
type Limiter struct {
	hits   *cache.Cache
	window time.Duration
}

// New returns a Limiter. window <= 0 selects DefaultWindow.
func New(window time.Duration) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	// No janitor goroutine: expired keys are swept by Run.
	return &Limiter{hits: cache.New(window, 0), window: window}
}

// TryConsume reports whether key may proceed. An allowed call records the
// hit; a denied call leaves the existing hit untouched.
func (l *Limiter) TryConsume(key string) bool {
	return l.hits.Add(key, struct{}{}, l.window) == nil
}

// Window returns the configured cooldown.
func (l *Limiter) Window() time.Duration { return l.window }

// Len returns the number of tracked keys, including expired ones not yet swept.
func (l *Limiter) Len() int { return l.hits.ItemCount() }

// Run sweeps expired keys every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			l.hits.DeleteExpired()
		}
	}
}
