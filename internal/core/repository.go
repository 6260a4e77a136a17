package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/roach88/nxdoc/internal/blob"
	"github.com/roach88/nxdoc/internal/event"
	"github.com/roach88/nxdoc/internal/metrics"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/planner"
	"github.com/roach88/nxdoc/internal/query"
	"github.com/roach88/nxdoc/internal/queryir"
	"github.com/roach88/nxdoc/internal/schema"
	"github.com/roach88/nxdoc/internal/scroll"
	"github.com/roach88/nxdoc/internal/security"
	"github.com/roach88/nxdoc/internal/store"
)

// Well-known groups of the default root ACP.
const (
	AdministratorsGroup = "administrators"
	MembersGroup        = "members"
)

// RootType is the document type of the repository root.
const RootType = "Root"

// DefaultCleanupWorkers is the size of the asynchronous work pool.
const DefaultCleanupWorkers = 4

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) { r.logger = logger }
}

// WithMetrics sets the collectors updated by the repository, its executor
// and its scroll registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Repository) { r.metrics = m }
}

// WithEventSink sets the lifecycle event sink. Default: event.Discard.
func WithEventSink(sink event.Sink) Option {
	return func(r *Repository) { r.sink = sink }
}

// WithClock sets the wall clock used for timestamps, ACE validity and
// scroll expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithTokenClock sets the change token clock.
func WithTokenClock(c TokenClock) Option {
	return func(r *Repository) { r.tokens = c }
}

// WithIDGenerator sets the document id generator. Default: UUIDv7.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Repository) { r.ids = g }
}

// WithBlobs sets the blob manager. Without one, AttachBlob fails.
func WithBlobs(m *blob.Manager) Option {
	return func(r *Repository) { r.blobs = m }
}

// WithScrolls sets the scroll registry. By default the repository creates
// its own.
func WithScrolls(s *scroll.Registry) Option {
	return func(r *Repository) { r.scrolls = s }
}

// WithCleanupWorkers sets the size of the pool running orphan version
// cleanup and blob text extraction.
func WithCleanupWorkers(n int) Option {
	return func(r *Repository) { r.workers = n }
}

// WithRestoreLifecycle makes RestoreToVersion also restore the lifecycle
// state recorded in the version.
func WithRestoreLifecycle() Option {
	return func(r *Repository) { r.restoreLifecycle = true }
}

// WithoutScopeOptimization disables the planner's scope narrowing. Query
// results are identical; only the candidate set grows.
func WithoutScopeOptimization() Option {
	return func(r *Repository) {
		r.plannerOpts = append(r.plannerOpts, planner.WithoutScopeOptimization())
	}
}

// WithRootACP sets the ACP given to the root when Open creates it.
func WithRootACP(acp model.ACP) Option {
	return func(r *Repository) { r.rootACP = acp }
}

// DefaultRootACP grants Everything to administrators and Read to members.
func DefaultRootACP() model.ACP {
	return model.ACP{{
		Name: model.LocalACL,
		Entries: []model.ACE{
			model.GrantACE(AdministratorsGroup, model.Everything),
			model.GrantACE(MembersGroup, model.Read),
		},
	}}
}

// Repository is a document repository over one backend. It is safe for
// concurrent use; each caller works through its own Session.
type Repository struct {
	backend  store.Backend
	registry *schema.Registry
	planner  *planner.Planner
	executor *query.Executor
	resolver *security.Resolver
	scrolls  *scroll.Registry
	blobs    *blob.Manager
	sink     event.Sink
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tokens   TokenClock
	ids      IDGenerator
	now      func() time.Time

	rootID           string
	rootACP          model.ACP
	restoreLifecycle bool
	plannerOpts      []planner.Option

	workers int
	pool    *ants.Pool
	tasks   sync.WaitGroup

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// Open creates a repository over backend and ensures the root document
// exists. The repository does not own the backend: Close leaves it open.
func Open(ctx context.Context, backend store.Backend, registry *schema.Registry, opts ...Option) (*Repository, error) {
	r := &Repository{
		backend:  backend,
		registry: registry,
		sink:     event.Discard,
		logger:   slog.Default(),
		ids:      UUIDv7Generator{},
		now:      time.Now,
		rootACP:  DefaultRootACP(),
		workers:  DefaultCleanupWorkers,
		sessions: map[*Session]struct{}{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tokens == nil {
		r.tokens = NewClockAt(r.now().UnixMicro())
	}
	if r.workers <= 0 {
		r.workers = DefaultCleanupWorkers
	}

	r.planner = planner.New(registry, r.plannerOpts...)
	r.executor = query.New(registry,
		query.WithClock(r.now),
		query.WithLogger(r.logger),
		query.WithMetrics(r.metrics))
	r.resolver = security.NewResolver(
		security.WithClock(r.now),
		security.WithLogger(r.logger))
	if r.scrolls == nil {
		r.scrolls = scroll.NewRegistry(
			scroll.WithClock(r.now),
			scroll.WithLogger(r.logger),
			scroll.WithMetrics(r.metrics))
	}

	pool, err := ants.NewPool(r.workers, ants.WithPanicHandler(func(v any) {
		r.logger.Error("async task panicked", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	r.pool = pool

	if err := r.ensureRoot(ctx); err != nil {
		pool.Release()
		return nil, err
	}
	r.logger.Info("repository opened", "root", r.rootID, "workers", r.workers)
	return r, nil
}

func (r *Repository) ensureRoot(ctx context.Context) error {
	roots, err := r.backend.Find(ctx, &queryir.Select{
		Types: []string{RootType},
		Kinds: []model.Kind{model.KindDocument},
	})
	if err != nil {
		return fmt.Errorf("find root: %w", err)
	}
	for _, st := range roots {
		if store.IsRoot(st) {
			r.rootID = st.ID
			return nil
		}
	}

	now := r.now().UTC()
	root := &model.State{
		ID:          r.ids.Generate(),
		Kind:        model.KindDocument,
		Type:        RootType,
		ACP:         r.rootACP.Clone(),
		ChangeToken: r.tokens.Next(),
		Created:     now,
		Modified:    now,
	}
	root.SeriesID = root.ID
	if err := r.backend.Apply(ctx, store.Batch{Creates: []*model.State{root}}); err != nil {
		return fmt.Errorf("create root: %w", err)
	}
	r.rootID = root.ID
	return nil
}

// RootID returns the id of the root document.
func (r *Repository) RootID() string { return r.rootID }

// Registry returns the schema registry.
func (r *Repository) Registry() *schema.Registry { return r.registry }

// Scrolls returns the scroll registry, for sweeping.
func (r *Repository) Scrolls() *scroll.Registry { return r.scrolls }

// NewSession opens a session acting as principal.
func (r *Repository) NewSession(principal security.Principal, opts ...SessionOption) (*Session, error) {
	s, err := newSession(r, principal, opts...)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[s] = struct{}{}
	r.mu.Unlock()
	return s, nil
}

func (r *Repository) forget(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s)
	r.mu.Unlock()
}

// invalidate queues ids in every open session except from.
func (r *Repository) invalidate(from *Session, ids []string) {
	if len(ids) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for s := range r.sessions {
		if s != from {
			s.enqueueInvalidations(ids)
		}
	}
}

// submit runs fn on the worker pool. WaitIdle waits for it.
func (r *Repository) submit(name string, fn func(ctx context.Context) error) {
	r.tasks.Add(1)
	task := func() {
		defer r.tasks.Done()
		if err := fn(context.Background()); err != nil {
			r.logger.Warn("async task failed", "task", name, "error", err)
		}
	}
	if err := r.pool.Submit(task); err != nil {
		r.tasks.Done()
		r.logger.Warn("async task rejected", "task", name, "error", err)
	}
}

// WaitIdle blocks until every submitted async task has finished.
func (r *Repository) WaitIdle() {
	r.tasks.Wait()
}

// Close waits for async work and releases the worker pool.
func (r *Repository) Close() error {
	r.WaitIdle()
	return r.pool.ReleaseTimeout(3 * time.Second)
}

func (r *Repository) emit(ctx context.Context, kind event.Kind, id string, principal security.Principal, details map[string]string) {
	r.sink.Emit(ctx, event.Event{
		Kind:      kind,
		DocID:     id,
		Principal: principal.Name,
		Time:      r.now().UTC(),
		Details:   details,
	})
}
