// Package testutil provides deterministic clocks and id generators for
// tests.
package testutil

import (
	"sync"
	"time"
)

// TokenClock is a resettable logical clock for change tokens.
//
// The repository stamps every flushed document with the next value of its
// token clock. Tests inject a TokenClock to get predictable tokens and to
// replay the same scenario with identical values.
//
// Thread-safety: all methods are safe for concurrent use.
type TokenClock struct {
	mu  sync.Mutex
	seq int64
}

// NewTokenClock creates a clock starting at 0. The first Next returns 1.
func NewTokenClock() *TokenClock {
	return &TokenClock{}
}

// Next increments and returns the next token.
func (c *TokenClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the last token without incrementing.
func (c *TokenClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset restarts the clock at 0.
func (c *TokenClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// ManualClock is a wall clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock reading start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current reading. Pass c.Now where a func() time.Time is
// expected.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
