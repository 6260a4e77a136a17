package core

import (
	"context"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/queryir"
	"github.com/roach88/nxdoc/internal/store"
)

// source reads through a session: its own changes first, then the
// session cache, then the backend. States it returns are shared and must
// not be modified.
type source struct {
	s *Session
}

// Get implements store.Getter.
func (src *source) Get(ctx context.Context, id string) (*model.State, error) {
	s := src.s
	if st, ok := s.local(id); ok {
		if st == nil {
			return nil, store.NotFound(id)
		}
		return st, nil
	}
	if st, ok := s.cache[id]; ok {
		return st, nil
	}
	st, err := s.repo.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache[id] = st
	return st, nil
}

// GetChild returns the child of parentID named name.
func (src *source) GetChild(ctx context.Context, parentID, name string) (*model.State, error) {
	s := src.s
	for _, st := range s.locals() {
		if st != nil && st.ParentID == parentID && st.Name == name {
			return st, nil
		}
	}
	st, err := s.repo.backend.GetChild(ctx, parentID, name)
	if err != nil {
		return nil, err
	}
	if _, ok := s.local(st.ID); ok {
		// Moved, renamed or removed in this session.
		return nil, store.ChildNotFound(parentID, name)
	}
	return st, nil
}

// GetChildren returns the children of parentID ordered by id.
func (src *source) GetChildren(ctx context.Context, parentID string) ([]*model.State, error) {
	s := src.s
	committed, err := s.repo.backend.GetChildren(ctx, parentID)
	if err != nil {
		return nil, err
	}
	locals := s.locals()
	out := make([]*model.State, 0, len(committed))
	for _, st := range committed {
		if _, ok := locals[st.ID]; !ok {
			out = append(out, st)
		}
	}
	for _, st := range locals {
		if st != nil && st.ParentID == parentID {
			out = append(out, st)
		}
	}
	store.SortByID(out)
	return out, nil
}

// Find implements query.Source: backend matches overlaid with the
// session's changes, ordered by id.
func (src *source) Find(ctx context.Context, sel *queryir.Select) ([]*model.State, error) {
	s := src.s
	committed, err := s.repo.backend.Find(ctx, sel)
	if err != nil {
		return nil, err
	}
	locals := s.locals()
	out := make([]*model.State, 0, len(committed))
	for _, st := range committed {
		if _, ok := locals[st.ID]; !ok {
			out = append(out, st)
		}
	}
	for _, st := range locals {
		if st != nil && queryir.Match(sel, st) {
			out = append(out, st)
		}
	}
	store.SortByID(out)
	return out, nil
}

// exists reports whether id can be read.
func (src *source) exists(ctx context.Context, id string) (bool, error) {
	_, err := src.Get(ctx, id)
	if errs.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}
