package core

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/event"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/schema"
	"github.com/roach88/nxdoc/internal/security"
	"github.com/roach88/nxdoc/internal/store"
)

// CopyDocument copies id and its subtree into destID under name (the
// source name when empty, suffixed on collision). Copies get new ids and
// start new version series; a copied version becomes a checked-out live
// document. Copied proxies keep their target.
func (s *Session) CopyDocument(ctx context.Context, id, destID, name string) (*model.State, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	st, err := s.src.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("copy: %w", err)
	}
	if st.ID == s.repo.rootID {
		return nil, errs.Conflict("the root cannot be copied").With("id", id)
	}
	if err := s.checker.Check(ctx, st, model.Read); err != nil {
		return nil, err
	}
	dest, err := s.src.Get(ctx, destID)
	if err != nil {
		return nil, fmt.Errorf("copy: %w", err)
	}
	if err := s.checkContainer(ctx, dest); err != nil {
		return nil, err
	}
	if name == "" {
		name = st.Name
	}
	if name, err = s.freeName(ctx, destID, name, ""); err != nil {
		return nil, err
	}

	// The subtree is collected before any copy is recorded: a folder
	// copied into itself must not visit its copy.
	tree := []*model.State{st}
	for i := 0; i < len(tree); i++ {
		if tree[i].IsProxy() {
			continue
		}
		children, err := s.src.GetChildren(ctx, tree[i].ID)
		if err != nil {
			return nil, fmt.Errorf("copy children of %s: %w", tree[i].ID, err)
		}
		tree = append(tree, children...)
	}

	newIDs := make(map[string]string, len(tree))
	var root *model.State
	for i, orig := range tree {
		cp := s.copyState(orig)
		newIDs[orig.ID] = cp.ID
		if i == 0 {
			cp.ParentID, cp.Name = destID, name
			root = cp
		} else {
			cp.ParentID = newIDs[orig.ParentID]
		}
		s.insert(cp)
	}
	s.repo.emit(ctx, event.DocumentCopied, root.ID, s.principal, map[string]string{
		"source":      id,
		"destination": destID,
		"documents":   strconv.Itoa(len(tree)),
	})
	return s.view(ctx, root)
}

// copyState returns a copy of orig with a new id and fresh versioning
// state.
func (s *Session) copyState(orig *model.State) *model.State {
	cp := orig.Clone()
	cp.ID = s.repo.ids.Generate()
	cp.Lock = nil
	if cp.IsProxy() {
		return cp
	}
	cp.Kind = model.KindDocument
	cp.SeriesID = cp.ID
	cp.CheckedIn = false
	cp.BaseVersionID = ""
	cp.MajorVersion, cp.MinorVersion = 0, 0
	cp.VersionLabel = ""
	cp.CheckinComment = ""
	cp.VersionCreated = time.Time{}
	cp.IsLatest, cp.IsLatestMajor = false, false
	cp.Facets = slices.DeleteFunc(cp.Facets, func(f string) bool {
		return f == schema.FacetImmutable
	})
	return cp
}

// MoveDocument moves id under destID, renaming it to name when not empty.
// A name already used in the destination is suffixed. Moving a document
// under itself or one of its descendants fails.
func (s *Session) MoveDocument(ctx context.Context, id, destID, name string) (*model.State, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if id == s.repo.rootID {
		return nil, errs.Conflict("the root cannot be moved").With("id", id)
	}
	st, err := s.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("move: %w", err)
	}
	if st.IsVersion() {
		return nil, errs.Conflict("version %s cannot be moved", id).With("id", id)
	}
	dest, err := s.src.Get(ctx, destID)
	if err != nil {
		return nil, fmt.Errorf("move: %w", err)
	}
	if err := s.checkContainer(ctx, dest); err != nil {
		return nil, err
	}
	if err := s.checkMoveSource(ctx, st); err != nil {
		return nil, err
	}
	if dest.ID == st.ID {
		return nil, errs.Conflict("cannot move %s under itself", id).With("id", id)
	}
	ancestors, _, err := store.Ancestors(ctx, s.src, dest)
	if err != nil {
		return nil, err
	}
	for _, a := range ancestors {
		if a.ID == st.ID {
			return nil, errs.Conflict("cannot move %s under its descendant %s", id, destID).
				With("id", id).
				With("destination", destID)
		}
	}

	if name == "" {
		name = st.Name
	}
	if name, err = s.freeName(ctx, destID, name, st.ID); err != nil {
		return nil, err
	}
	from := st.ParentID
	st.ParentID, st.Name = destID, name
	s.write(st)
	s.perms.Purge()
	s.repo.emit(ctx, event.DocumentMoved, id, s.principal, map[string]string{
		"from": from,
		"to":   destID,
	})
	return s.view(ctx, st)
}

func (s *Session) checkMoveSource(ctx context.Context, st *model.State) error {
	if st.ParentID == "" {
		return s.checker.Check(ctx, st, security.Remove)
	}
	parent, err := s.src.Get(ctx, st.ParentID)
	if errs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.checker.Check(ctx, parent, security.RemoveChildren)
}
