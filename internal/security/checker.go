package security

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/metrics"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/store"
)

// DefaultCacheSize is the number of decisions a Cache keeps.
const DefaultCacheSize = 4096

type cacheKey struct {
	principal string
	id        string
	perm      string
}

// Cache memoizes decisions for one session. Any write that can change an
// ACL chain (ACP edits, moves, removals, commits of other sessions) must
// Purge it.
type Cache struct {
	lru     *lru.Cache[cacheKey, bool]
	metrics *metrics.Metrics
}

// NewCache creates a cache holding up to size decisions. m may be nil.
func NewCache(size int, m *metrics.Metrics) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[cacheKey, bool](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c, metrics: m}, nil
}

// Purge drops every decision.
func (c *Cache) Purge() {
	if c != nil {
		c.lru.Purge()
	}
}

// Len returns the number of cached decisions.
func (c *Cache) Len() int { return c.lru.Len() }

func (c *Cache) get(k cacheKey) (bool, bool) {
	v, ok := c.lru.Get(k)
	if c.metrics != nil {
		result := "miss"
		if ok {
			result = "hit"
		}
		c.metrics.PermissionCache.WithLabelValues(result).Inc()
	}
	return v, ok
}

// Checker binds a resolver to a principal and a document source.
type Checker struct {
	resolver  *Resolver
	getter    store.Getter
	principal Principal
	cache     *Cache
}

// NewChecker creates a checker. cache may be nil.
func NewChecker(r *Resolver, g store.Getter, p Principal, cache *Cache) *Checker {
	return &Checker{resolver: r, getter: g, principal: p, cache: cache}
}

// Principal returns the checked principal.
func (c *Checker) Principal() Principal { return c.principal }

// HasPermission reports whether the principal holds perm on st.
func (c *Checker) HasPermission(ctx context.Context, st *model.State, perm string) (bool, error) {
	if c.principal.Administrator || c.cache == nil {
		return c.resolver.HasPermission(ctx, c.getter, c.principal, st, perm)
	}
	k := cacheKey{principal: c.principal.key(), id: st.ID, perm: perm}
	if granted, ok := c.cache.get(k); ok {
		return granted, nil
	}
	granted, err := c.resolver.HasPermission(ctx, c.getter, c.principal, st, perm)
	if err != nil {
		return false, err
	}
	c.cache.lru.Add(k, granted)
	return granted, nil
}

// Check returns a security error unless the principal holds perm on st.
func (c *Checker) Check(ctx context.Context, st *model.State, perm string) error {
	ok, err := c.HasPermission(ctx, st, perm)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Security("%s is not granted %s on %s", c.principal.Name, perm, st.ID).
			With("id", st.ID).
			With("permission", perm)
	}
	return nil
}

// CanBrowse reports whether st may appear in query results.
func (c *Checker) CanBrowse(ctx context.Context, st *model.State) (bool, error) {
	return c.HasPermission(ctx, st, model.Browse)
}
