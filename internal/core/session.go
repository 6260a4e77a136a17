package core

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/metrics"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/security"
	"github.com/roach88/nxdoc/internal/store"
)

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	idempotentCheckIn   bool
	disableAutoCheckout bool
	allowVersionWrite   bool
	permissionCacheSize int
}

// IdempotentCheckIn makes CheckIn of a checked-in document return its
// base version instead of failing.
func IdempotentCheckIn() SessionOption {
	return func(c *sessionConfig) { c.idempotentCheckIn = true }
}

// DisableAutoCheckout keeps checked-in documents checked in when their
// properties are saved.
func DisableAutoCheckout() SessionOption {
	return func(c *sessionConfig) { c.disableAutoCheckout = true }
}

// AllowVersionWrite permits writes of lifecycle state and version-writable
// fields on versions.
func AllowVersionWrite() SessionOption {
	return func(c *sessionConfig) { c.allowVersionWrite = true }
}

// WithPermissionCacheSize bounds the session's permission cache.
func WithPermissionCacheSize(n int) SessionOption {
	return func(c *sessionConfig) { c.permissionCacheSize = n }
}

// Session is a unit of work bound to a principal.
type Session struct {
	repo      *Repository
	principal security.Principal
	cfg       sessionConfig
	src       *source
	checker   *security.Checker
	perms     *security.Cache

	// pending holds states changed since the last Save, tx the states
	// saved since the last Commit. A nil state is a removal.
	pending map[string]*model.State
	tx      map[string]*model.State

	// created holds the ids of documents created in this transaction.
	created map[string]bool

	// cache holds committed states read from the backend.
	cache map[string]*model.State

	invalMu       sync.Mutex
	invalidations []string

	rollbackOnly bool
	closed       bool
	afterCommit  []func()
}

func newSession(r *Repository, principal security.Principal, opts ...SessionOption) (*Session, error) {
	var cfg sessionConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	perms, err := security.NewCache(cfg.permissionCacheSize, r.metrics)
	if err != nil {
		return nil, fmt.Errorf("create permission cache: %w", err)
	}
	s := &Session{
		repo:      r,
		principal: principal,
		cfg:       cfg,
		perms:     perms,
		pending:   map[string]*model.State{},
		tx:        map[string]*model.State{},
		created:   map[string]bool{},
		cache:     map[string]*model.State{},
	}
	s.src = &source{s: s}
	s.checker = security.NewChecker(r.resolver, s.src, principal, perms)
	return s, nil
}

// Principal returns the principal the session acts as.
func (s *Session) Principal() security.Principal { return s.principal }

// RootID returns the id of the repository root.
func (s *Session) RootID() string { return s.repo.rootID }

// usable fails once the session is closed or rollback-only.
func (s *Session) usable() error {
	if s.closed {
		return errs.Conflict("session is closed")
	}
	if s.rollbackOnly {
		return errs.New(errs.CodeRollbackOnly, "transaction is marked rollback-only")
	}
	return nil
}

// SetRollbackOnly marks the transaction rollback-only: every later call
// except Rollback and Close fails.
func (s *Session) SetRollbackOnly() {
	s.rollbackOnly = true
}

// IsRollbackOnly reports whether the transaction is rollback-only.
func (s *Session) IsRollbackOnly() bool { return s.rollbackOnly }

// local returns the session's own version of id. found is false when the
// session holds no change for id; st is nil when id was removed.
func (s *Session) local(id string) (st *model.State, found bool) {
	if st, ok := s.pending[id]; ok {
		return st, true
	}
	st, ok := s.tx[id]
	return st, ok
}

// locals returns every state the session changed, pending first.
func (s *Session) locals() map[string]*model.State {
	out := maps.Clone(s.tx)
	maps.Copy(out, s.pending)
	return out
}

// load returns a private copy of id for modification.
func (s *Session) load(ctx context.Context, id string) (*model.State, error) {
	st, err := s.src.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// write records a modified state.
func (s *Session) write(st *model.State) {
	st.Modified = s.repo.now().UTC()
	s.pending[st.ID] = st
}

// noteLock records a lock change made directly on the backend. Local
// copies take the new lock and the committed copy is read again.
func (s *Session) noteLock(id string, lock *model.Lock) {
	delete(s.cache, id)
	for _, m := range []map[string]*model.State{s.pending, s.tx} {
		if st := m[id]; st != nil {
			c := st.Clone()
			c.Lock = lock
			m[id] = c
		}
	}
}

// insert records a new document.
func (s *Session) insert(st *model.State) {
	now := s.repo.now().UTC()
	st.Created = now
	st.Modified = now
	s.created[st.ID] = true
	s.pending[st.ID] = st
}

// drop records a removal.
func (s *Session) drop(id string) {
	s.pending[id] = nil
}

// Save flushes pending changes into the transaction overlay and applies
// invalidations received from other sessions' commits.
func (s *Session) Save(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	s.flush()
	s.drainInvalidations()
	return nil
}

func (s *Session) flush() {
	for _, id := range slices.Sorted(maps.Keys(s.pending)) {
		st := s.pending[id]
		if st != nil {
			st.ChangeToken = s.repo.tokens.Next()
		}
		s.tx[id] = st
	}
	clear(s.pending)
}

// Commit saves and writes the transaction in one backend batch. Other open
// sessions are sent invalidations for every written id. A failed commit
// marks the transaction rollback-only.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.Save(ctx); err != nil {
		return err
	}
	var batch store.Batch
	ids := slices.Sorted(maps.Keys(s.tx))
	for _, id := range ids {
		st := s.tx[id]
		switch {
		case st == nil && s.created[id]:
		case st == nil:
			batch.Deletes = append(batch.Deletes, id)
		case s.created[id]:
			batch.Creates = append(batch.Creates, st)
		default:
			batch.Updates = append(batch.Updates, st)
		}
	}

	start := time.Now()
	err := s.repo.backend.Apply(ctx, batch)
	if s.repo.metrics != nil {
		s.repo.metrics.CommitsTotal.WithLabelValues(metrics.Status(err)).Inc()
	}
	if err != nil {
		s.rollbackOnly = true
		s.repo.logger.Error("commit failed",
			"principal", s.principal.Name,
			"writes", batch.Size(),
			"error", err)
		return fmt.Errorf("commit: %w", err)
	}

	// Committed states are read again so the backend attaches the current
	// lock.
	for _, id := range ids {
		delete(s.cache, id)
	}
	clear(s.tx)
	clear(s.created)
	s.repo.invalidate(s, ids)

	if !batch.Empty() {
		s.repo.logger.Info("session committed",
			"principal", s.principal.Name,
			"writes", batch.Size(),
			"duration", time.Since(start))
	}
	hooks := s.afterCommit
	s.afterCommit = nil
	for _, hook := range hooks {
		hook()
	}
	return nil
}

// Rollback discards every uncommitted change and clears the rollback-only
// mark.
func (s *Session) Rollback() {
	clear(s.pending)
	clear(s.tx)
	clear(s.created)
	s.afterCommit = nil
	s.rollbackOnly = false
	s.perms.Purge()
}

// Close rolls back and detaches the session from the repository.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.Rollback()
	s.closed = true
	s.repo.forget(s)
}

// onCommit registers fn to run after the next successful commit.
func (s *Session) onCommit(fn func()) {
	s.afterCommit = append(s.afterCommit, fn)
}

func (s *Session) enqueueInvalidations(ids []string) {
	s.invalMu.Lock()
	s.invalidations = append(s.invalidations, ids...)
	s.invalMu.Unlock()
}

// drainInvalidations drops cached states other sessions committed.
func (s *Session) drainInvalidations() {
	s.invalMu.Lock()
	ids := s.invalidations
	s.invalidations = nil
	s.invalMu.Unlock()
	if len(ids) == 0 {
		return
	}
	for _, id := range ids {
		delete(s.cache, id)
	}
	s.perms.Purge()
}
