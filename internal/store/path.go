package store

import (
	"context"
	"strings"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/model"
)

// Getter reads documents by id. Backends and sessions implement it.
type Getter interface {
	Get(ctx context.Context, id string) (*model.State, error)
}

// IsRoot reports whether st is the repository root: the parentless live
// document with an empty name.
func IsRoot(st *model.State) bool {
	return st.Kind == model.KindDocument && st.ParentID == "" && st.Name == ""
}

// Ancestors returns the ancestors of st from its parent up to the top of
// its chain. complete is false when a parent is missing, in which case
// the ancestors found so far are returned.
func Ancestors(ctx context.Context, g Getter, st *model.State) (ancestors []*model.State, complete bool, err error) {
	seen := map[string]bool{st.ID: true}
	for cur := st; cur.ParentID != ""; {
		if seen[cur.ParentID] {
			return ancestors, false, errs.Conflict("parent cycle at %s", cur.ParentID).With("id", cur.ParentID)
		}
		parent, err := g.Get(ctx, cur.ParentID)
		if errs.IsNotFound(err) {
			return ancestors, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		seen[parent.ID] = true
		ancestors = append(ancestors, parent)
		cur = parent
	}
	return ancestors, true, nil
}

// Path computes the path of st: "/" for the root, "/a/b" for placed
// documents. ok is false for placeless documents and versions, and when an
// ancestor is missing.
func Path(ctx context.Context, g Getter, st *model.State) (path string, ok bool, err error) {
	if IsRoot(st) {
		return "/", true, nil
	}
	if st.ParentID == "" {
		return "", false, nil
	}
	ancestors, complete, err := Ancestors(ctx, g, st)
	if err != nil || !complete {
		return "", false, err
	}
	top := ancestors[len(ancestors)-1]
	if !IsRoot(top) {
		return "", false, nil
	}
	names := make([]string, 0, len(ancestors))
	for i := len(ancestors) - 2; i >= 0; i-- {
		names = append(names, ancestors[i].Name)
	}
	names = append(names, st.Name)
	return "/" + strings.Join(names, "/"), true, nil
}
