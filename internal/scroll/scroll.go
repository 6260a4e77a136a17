// Package scroll keeps server-side cursors over query results.
//
// A cursor holds the ordered ids of a result and serves them in batches.
// Cursors expire when not advanced within their keep-alive; advancing an
// expired cursor fails with errs.CodeScrollTimeout, advancing an id that
// never existed (or was exhausted) with errs.CodeScrollUnknown.
//
// Each cursor has its own mutex, so one batch is served to exactly one
// caller. Eviction only takes cursors whose mutex it can acquire without
// waiting, and an advance re-checks the eviction mark after locking, so a
// sweep never drops a cursor while a batch is being served.
package scroll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/metrics"
)

// DefaultKeepAlive applies when Open is given no keep-alive.
const DefaultKeepAlive = 60 * time.Second

// tombstones bounds how many expired ids are remembered for reporting
// timeouts instead of unknown ids.
const tombstones = 1024

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator sets the scroll id generator.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithMetrics sets the collectors updated by the registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// Batch is one page of a scroll.
type Batch struct {
	ScrollID string
	IDs      []string
}

// Registry is the process-wide set of open cursors. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.Mutex
	cursors map[string]*cursor
	expired *lru.Cache[string, struct{}]

	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type cursor struct {
	mu        sync.Mutex
	ids       []string
	pos       int
	batchSize int
	keepAlive time.Duration
	lastUsed  time.Time
	evicted   bool
}

func (c *cursor) expiredAt(now time.Time) bool {
	return now.Sub(c.lastUsed) > c.keepAlive
}

func (c *cursor) next() []string {
	end := min(c.pos+c.batchSize, len(c.ids))
	batch := c.ids[c.pos:end]
	c.pos = end
	return batch
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	expired, _ := lru.New[string, struct{}](tombstones)
	r := &Registry{
		cursors: map[string]*cursor{},
		expired: expired,
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open creates a cursor over ids and returns its first batch. A cursor
// whose first batch is empty is not retained.
func (r *Registry) Open(ids []string, batchSize int, keepAlive time.Duration) (Batch, error) {
	if batchSize <= 0 {
		return Batch{}, errs.Parse("scroll batch size must be positive, got %d", batchSize)
	}
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	r.Sweep()

	c := &cursor{
		ids:       ids,
		batchSize: batchSize,
		keepAlive: keepAlive,
		lastUsed:  r.now(),
	}
	batch := Batch{ScrollID: r.newID(), IDs: c.next()}
	if len(batch.IDs) == 0 {
		return batch, nil
	}

	r.mu.Lock()
	r.cursors[batch.ScrollID] = c
	r.updateGauge()
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ScrollBatches.Inc()
	}
	r.logger.Debug("scroll opened",
		"scrollId", batch.ScrollID,
		"size", len(ids),
		"batchSize", batchSize,
		"keepAlive", keepAlive)
	return batch, nil
}

// Next returns the next batch of a cursor. The batch after the last
// non-empty one is empty, and the cursor is then forgotten.
func (r *Registry) Next(scrollID string) (Batch, error) {
	r.mu.Lock()
	c, ok := r.cursors[scrollID]
	r.mu.Unlock()
	if !ok {
		return Batch{}, r.missing(scrollID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evicted {
		return Batch{}, timedOut(scrollID)
	}
	now := r.now()
	if c.expiredAt(now) {
		r.evict(scrollID, c, true)
		return Batch{}, timedOut(scrollID)
	}

	batch := Batch{ScrollID: scrollID, IDs: c.next()}
	c.lastUsed = now
	if len(batch.IDs) == 0 {
		r.evict(scrollID, c, false)
		return batch, nil
	}
	if r.metrics != nil {
		r.metrics.ScrollBatches.Inc()
	}
	return batch, nil
}

// Close forgets a cursor. Closing an unknown id is a no-op.
func (r *Registry) Close(scrollID string) {
	r.mu.Lock()
	c, ok := r.cursors[scrollID]
	r.mu.Unlock()
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.evicted {
		r.evict(scrollID, c, false)
	}
}

// Sweep evicts expired cursors that are not being advanced, and returns
// how many it evicted.
func (r *Registry) Sweep() int {
	now := r.now()
	r.mu.Lock()
	candidates := make(map[string]*cursor, len(r.cursors))
	for id, c := range r.cursors {
		candidates[id] = c
	}
	r.mu.Unlock()

	n := 0
	for id, c := range candidates {
		if !c.mu.TryLock() {
			continue
		}
		if !c.evicted && c.expiredAt(now) {
			r.evict(id, c, true)
			n++
		}
		c.mu.Unlock()
	}
	if n > 0 {
		r.logger.Debug("scroll cursors evicted", "count", n)
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Len returns the number of open cursors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cursors)
}

// evict removes a cursor. The caller holds c.mu. A timed-out id is
// tombstoned before it leaves the map, so a concurrent Next never sees it
// as unknown.
func (r *Registry) evict(scrollID string, c *cursor, timeout bool) {
	c.evicted = true
	if timeout {
		r.expired.Add(scrollID, struct{}{})
	}
	r.mu.Lock()
	if r.cursors[scrollID] == c {
		delete(r.cursors, scrollID)
	}
	r.updateGauge()
	r.mu.Unlock()
}

func (r *Registry) missing(scrollID string) error {
	if r.expired.Contains(scrollID) {
		return timedOut(scrollID)
	}
	return errs.New(errs.CodeScrollUnknown, "unknown scroll id %s", scrollID).With("scrollId", scrollID)
}

func timedOut(scrollID string) error {
	return errs.New(errs.CodeScrollTimeout, "scroll %s timed out", scrollID).With("scrollId", scrollID)
}

// updateGauge is called with r.mu held.
func (r *Registry) updateGauge() {
	if r.metrics != nil {
		r.metrics.ScrollsOpen.Set(float64(len(r.cursors)))
	}
}
