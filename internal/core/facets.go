package core

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/event"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/security"
)

// AddFacet adds a dynamic facet to id. It returns false when the document
// already has the facet, dynamically or through its type.
func (s *Session) AddFacet(ctx context.Context, id, facet string) (bool, error) {
	st, err := s.facetTarget(ctx, id, facet)
	if err != nil {
		return false, err
	}
	if s.repo.registry.HasTypeFacet(st.Type, facet) || st.HasFacet(facet) {
		return false, nil
	}
	st.Facets = append(st.Facets, facet)
	s.write(st)
	s.repo.emit(ctx, event.FacetAdded, st.ID, s.principal, map[string]string{"facet": facet})
	return true, nil
}

// RemoveFacet removes a dynamic facet from id. It returns false when the
// facet is absent or implied by the type. Schema data no longer required
// by the type or the remaining facets is dropped.
func (s *Session) RemoveFacet(ctx context.Context, id, facet string) (bool, error) {
	st, err := s.facetTarget(ctx, id, facet)
	if err != nil {
		return false, err
	}
	if s.repo.registry.HasTypeFacet(st.Type, facet) || !st.HasFacet(facet) {
		return false, nil
	}
	st.Facets = slices.DeleteFunc(st.Facets, func(f string) bool { return f == facet })
	required := s.repo.registry.DocumentSchemas(st.Type, st.Facets)
	for _, name := range st.Properties.SortedKeys() {
		if !slices.Contains(required, name) {
			delete(st.Properties, name)
		}
	}
	s.write(st)
	s.repo.emit(ctx, event.FacetRemoved, st.ID, s.principal, map[string]string{"facet": facet})
	return true, nil
}

// facetTarget returns a private copy of the state whose facets change
// when id is edited.
func (s *Session) facetTarget(ctx context.Context, id, facet string) (*model.State, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if _, ok := s.repo.registry.Facet(facet); !ok {
		return nil, errs.NotFound("unknown facet %s", facet).With("facet", facet)
	}
	st, err := s.src.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("facet %s: %w", facet, err)
	}
	if err := s.checker.Check(ctx, st, security.WriteProperties); err != nil {
		return nil, err
	}
	target, err := s.writeTarget(ctx, st)
	if err != nil {
		return nil, err
	}
	if target.IsVersion() {
		return nil, errs.Immutable("facets of version %s cannot change", target.ID).With("id", target.ID)
	}
	return target, nil
}
