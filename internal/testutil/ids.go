package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates "prefix-0001", "prefix-0002", ...
//
// Ids sort in creation order, which keeps the ecm:uuid tie-break of query
// results predictable in tests.
//
// Thread-safety: Generate is safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix means "id".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
