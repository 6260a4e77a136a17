package core

import (
	"context"
	"fmt"

	"github.com/roach88/nxdoc/internal/event"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/security"
	"github.com/roach88/nxdoc/internal/store"
)

// SetLock locks id for the session principal. It fails when the document
// is already locked, by anyone. Locks are written to the backend at once,
// outside the transaction, and only committed documents can be locked.
func (s *Session) SetLock(ctx context.Context, id string) (*model.Lock, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	st, err := s.src.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("set lock: %w", err)
	}
	if err := s.checker.Check(ctx, st, security.WriteProperties); err != nil {
		return nil, err
	}
	lock := model.Lock{Owner: s.principal.Name, Created: s.repo.now().UTC()}
	existing, err := s.repo.backend.SetLock(ctx, id, lock)
	if err != nil {
		return nil, fmt.Errorf("set lock: %w", err)
	}
	if existing != nil {
		return nil, store.LockedBy(id, existing)
	}
	s.noteLock(id, &lock)
	s.repo.emit(ctx, event.DocumentLocked, id, s.principal, nil)
	return &lock, nil
}

// RemoveLock unlocks id and returns the removed lock, or nil when the
// document was not locked. Only the owner or an administrator may unlock.
func (s *Session) RemoveLock(ctx context.Context, id string) (*model.Lock, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	st, err := s.src.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("remove lock: %w", err)
	}
	if err := s.checker.Check(ctx, st, security.WriteProperties); err != nil {
		return nil, err
	}
	owner := s.principal.Name
	if s.principal.Administrator {
		owner = ""
	}
	lock, err := s.repo.backend.RemoveLock(ctx, id, owner)
	if err != nil {
		return nil, fmt.Errorf("remove lock: %w", err)
	}
	if lock != nil {
		s.noteLock(id, nil)
		s.repo.emit(ctx, event.DocumentUnlocked, id, s.principal, map[string]string{"owner": lock.Owner})
	}
	return lock, nil
}

// GetLock returns the lock of id, or nil.
func (s *Session) GetLock(ctx context.Context, id string) (*model.Lock, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	st, err := s.src.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get lock: %w", err)
	}
	if err := s.checker.Check(ctx, st, model.Read); err != nil {
		return nil, err
	}
	if s.created[id] {
		return nil, nil
	}
	committed, err := s.repo.backend.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get lock: %w", err)
	}
	return committed.Lock, nil
}
