package core

import (
	"context"
	"fmt"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/event"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/security"
)

// GetACP returns the ACP stored on id (not the inherited entries).
func (s *Session) GetACP(ctx context.Context, id string) (model.ACP, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	st, err := s.src.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get acp: %w", err)
	}
	if err := s.checker.Check(ctx, st, security.ReadSecurity); err != nil {
		return nil, err
	}
	return st.ACP.Clone(), nil
}

// SetACP replaces the ACP of id. The local ACL is kept first. Versions
// take their security from the live document and cannot hold an ACP.
func (s *Session) SetACP(ctx context.Context, id string, acp model.ACP) error {
	if err := s.usable(); err != nil {
		return err
	}
	st, err := s.load(ctx, id)
	if err != nil {
		return fmt.Errorf("set acp: %w", err)
	}
	if st.IsVersion() {
		return errs.Immutable("version %s has no ACP of its own", id).With("id", id)
	}
	if err := s.checker.Check(ctx, st, security.WriteSecurity); err != nil {
		return err
	}
	var out model.ACP
	for _, acl := range acp {
		out = out.WithACL(model.ACL{Name: acl.Name, Entries: append([]model.ACE(nil), acl.Entries...)})
	}
	st.ACP = out
	s.write(st)
	s.perms.Purge()
	s.repo.emit(ctx, event.ACPUpdated, id, s.principal, nil)
	return nil
}

// HasPermission reports whether the session principal holds perm on id.
func (s *Session) HasPermission(ctx context.Context, id, perm string) (bool, error) {
	if err := s.usable(); err != nil {
		return false, err
	}
	st, err := s.src.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("has permission: %w", err)
	}
	return s.checker.HasPermission(ctx, st, perm)
}

// FollowTransition moves id to lifecycle state to. Lifecycle states are
// free-form. On a version the change needs a session allowing version
// writes.
func (s *Session) FollowTransition(ctx context.Context, id, to string) error {
	if err := s.usable(); err != nil {
		return err
	}
	st, err := s.src.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("follow transition: %w", err)
	}
	if err := s.checker.Check(ctx, st, security.WriteLifeCycle); err != nil {
		return err
	}
	target, err := s.writeTarget(ctx, st)
	if err != nil {
		return err
	}
	if target.IsVersion() && !s.cfg.allowVersionWrite {
		return errs.Immutable("version %s cannot change lifecycle state", target.ID).With("id", target.ID)
	}
	if to == "" {
		return errs.Conflict("empty lifecycle state").With("id", id)
	}
	from := target.LifecycleState
	target.LifecycleState = to
	s.write(target)
	s.repo.emit(ctx, event.TransitionFollowed, target.ID, s.principal, map[string]string{
		"from": from,
		"to":   to,
	})
	return nil
}
