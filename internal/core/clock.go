package core

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// TokenClock issues change tokens.
//
// Tokens are stamped on every state flushed by Save. Successive calls
// must return strictly increasing values.
type TokenClock interface {
	Next() int64
}

// Clock is a monotonic logical clock. It is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClockAt creates a clock whose first token is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next token.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued token.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// IDGenerator generates document ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// Panics if UUID generation fails, which does not happen with the default
// random source.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
