// Package security resolves effective permissions.
//
// A permission check walks the document's ACP, then its ancestors' up to
// the root. Within one document, ACLs are read in ACP order and entries in
// ACL order; only entries effective at the resolver's clock count. The
// first entry whose principal matches the caller (by name, group or
// Everyone) and whose permission implies the requested one decides. The
// BLOCK entry denies Everything to Everyone, so it decides every check that
// reaches it and stops inheritance. No match denies.
//
// Versions have no parent: they are checked against their own ACP and then
// the chain of their live document. Proxies use their own chain.
package security

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/store"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock sets the clock used for ACE validity windows.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithLogger sets the logger receiving administrator bypasses.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// Resolver evaluates ACL chains. It holds no per-session state and is
// safe for concurrent use.
type Resolver struct {
	now    func() time.Time
	logger *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Decision is the outcome of one check.
type Decision struct {
	Granted bool

	// DecidedBy is the id of the document whose ACE decided, or "" when
	// no entry matched or the principal is an administrator.
	DecidedBy string
	ACL       string
	ACE       model.ACE
}

// Decide evaluates perm for p on st, reading ancestors through g.
func (r *Resolver) Decide(ctx context.Context, g store.Getter, p Principal, st *model.State, perm string) (Decision, error) {
	if p.Administrator {
		r.logger.Debug("administrator bypass",
			"principal", p.Name,
			"id", st.ID,
			"permission", perm)
		return Decision{Granted: true}, nil
	}
	chain, err := r.chain(ctx, g, st)
	if err != nil {
		return Decision{}, err
	}
	now := r.now()
	for _, doc := range chain {
		for _, acl := range doc.ACP {
			for _, ace := range acl.Entries {
				if ace.Status(now) != model.ACEEffective {
					continue
				}
				if !p.Matches(ace.Principal) || !Implies(ace.Permission, perm) {
					continue
				}
				return Decision{Granted: ace.Grant, DecidedBy: doc.ID, ACL: acl.Name, ACE: ace}, nil
			}
		}
	}
	return Decision{}, nil
}

// HasPermission reports whether p holds perm on st.
func (r *Resolver) HasPermission(ctx context.Context, g store.Getter, p Principal, st *model.State, perm string) (bool, error) {
	d, err := r.Decide(ctx, g, p, st, perm)
	return d.Granted, err
}

// chain returns the documents whose ACPs apply to st, nearest first.
func (r *Resolver) chain(ctx context.Context, g store.Getter, st *model.State) ([]*model.State, error) {
	chain := []*model.State{st}
	base := st
	if st.IsVersion() && st.SeriesID != "" && st.SeriesID != st.ID {
		live, err := g.Get(ctx, st.SeriesID)
		switch {
		case errs.IsNotFound(err):
			return chain, nil
		case err != nil:
			return nil, err
		}
		chain = append(chain, live)
		base = live
	}
	ancestors, _, err := store.Ancestors(ctx, g, base)
	if err != nil {
		return nil, err
	}
	return append(chain, ancestors...), nil
}
