package store

import (
	"context"
	"slices"
	"strings"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/queryir"
)

// Backend is the Document Graph Store.
type Backend interface {
	// Get returns a document by id, or an errs.CodeNotFound error.
	Get(ctx context.Context, id string) (*model.State, error)

	// GetChild returns the child of parentID named name, or an
	// errs.CodeNotFound error.
	GetChild(ctx context.Context, parentID, name string) (*model.State, error)

	// GetChildren returns the children of parentID ordered by id.
	GetChildren(ctx context.Context, parentID string) ([]*model.State, error)

	// Find returns every document matching sel, ordered by id.
	Find(ctx context.Context, sel *queryir.Select) ([]*model.State, error)

	// Apply writes a batch atomically.
	Apply(ctx context.Context, batch Batch) error

	// SetLock locks id when it is unlocked. When a lock exists it is
	// returned unchanged with a nil error; callers compare owners.
	SetLock(ctx context.Context, id string, lock model.Lock) (existing *model.Lock, err error)

	// RemoveLock removes the lock of id and returns it (nil when absent).
	// A non-empty owner must match the lock owner, otherwise the lock is
	// kept and an errs.CodeSecurity error is returned.
	RemoveLock(ctx context.Context, id, owner string) (*model.Lock, error)

	// Close releases backend resources.
	Close() error
}

// Batch is a set of writes applied atomically, in order: deletes, then
// updates, then creates. Deleting first frees sibling names that a later
// create or move in the same batch may reuse.
//
// Creating an existing id or updating a missing one fails the whole batch
// with an errs.CodeConflict error. Deleting a missing id is a no-op.
type Batch struct {
	Creates []*model.State
	Updates []*model.State
	Deletes []string
}

// Empty reports whether the batch has no writes.
func (b Batch) Empty() bool {
	return len(b.Creates) == 0 && len(b.Updates) == 0 && len(b.Deletes) == 0
}

// Size returns the number of writes.
func (b Batch) Size() int {
	return len(b.Creates) + len(b.Updates) + len(b.Deletes)
}

// SortByID orders states by id using byte comparison.
func SortByID(states []*model.State) {
	slices.SortFunc(states, func(a, b *model.State) int {
		return strings.Compare(a.ID, b.ID)
	})
}

// NotFound returns the error backends report for a missing id.
func NotFound(id string) error {
	return errs.NotFound("no such document %s", id).With("id", id)
}

// ChildNotFound returns the error backends report for a missing child.
func ChildNotFound(parentID, name string) error {
	return errs.NotFound("no child %q under %s", name, parentID).
		With("parent", parentID).
		With("name", name)
}

// LockedBy returns the error reported when a lock belongs to someone else.
func LockedBy(id string, lock *model.Lock) error {
	return errs.Security("document %s is locked by %s", id, lock.Owner).
		With("id", id).
		With("owner", lock.Owner)
}

// AlreadyExists returns the error reported when a create reuses an id.
func AlreadyExists(id string) error {
	return errs.Conflict("document %s already exists", id).With("id", id)
}

// MissingForUpdate returns the error reported when an update targets a
// missing id.
func MissingForUpdate(id string) error {
	return errs.Conflict("cannot update missing document %s", id).With("id", id)
}

// NameTaken returns the error reported when two documents would share a
// parent and a name.
func NameTaken(parentID, name string) error {
	return errs.Conflict("name %q already used under %s", name, parentID).
		With("parent", parentID).
		With("name", name)
}

// ValidateBatch checks that every state in a batch has an id and a kind.
func ValidateBatch(b Batch) error {
	for _, list := range [][]*model.State{b.Creates, b.Updates} {
		for _, st := range list {
			if st == nil || st.ID == "" {
				return errs.Conflict("batch contains a document without id")
			}
			if st.Kind == 0 {
				return errs.Conflict("document %s has no kind", st.ID).With("id", st.ID)
			}
		}
	}
	return nil
}
