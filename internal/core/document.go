package core

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/event"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/schema"
	"github.com/roach88/nxdoc/internal/security"
	"github.com/roach88/nxdoc/internal/store"
)

// DefaultLifecycleState is the lifecycle state of new documents.
const DefaultLifecycleState = "project"

// GetDocument returns a document, version or proxy. A proxy is returned
// with its target's properties.
func (s *Session) GetDocument(ctx context.Context, id string) (*model.State, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	st, err := s.src.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if err := s.checker.Check(ctx, st, model.Read); err != nil {
		return nil, err
	}
	return s.view(ctx, st)
}

// GetDocumentByPath resolves an absolute path such as "/ws/file".
func (s *Session) GetDocumentByPath(ctx context.Context, path string) (*model.State, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(path, "/") {
		return nil, errs.NotFound("path %q is not absolute", path).With("path", path)
	}
	st, err := s.src.Get(ctx, s.repo.rootID)
	if err != nil {
		return nil, fmt.Errorf("get root: %w", err)
	}
	for _, name := range strings.Split(strings.Trim(path, "/"), "/") {
		if name == "" {
			continue
		}
		if st, err = s.src.GetChild(ctx, st.ID, name); err != nil {
			if errs.IsNotFound(err) {
				return nil, errs.NotFound("no document at %s", path).With("path", path)
			}
			return nil, err
		}
	}
	if err := s.checker.Check(ctx, st, model.Read); err != nil {
		return nil, err
	}
	return s.view(ctx, st)
}

// Exists reports whether id exists, regardless of permissions.
func (s *Session) Exists(ctx context.Context, id string) (bool, error) {
	if err := s.usable(); err != nil {
		return false, err
	}
	return s.src.exists(ctx, id)
}

// GetChildren returns the children of parentID the principal may browse,
// ordered by id.
func (s *Session) GetChildren(ctx context.Context, parentID string) ([]*model.State, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	parent, err := s.src.Get(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("get children: %w", err)
	}
	if err := s.checker.Check(ctx, parent, security.ReadChildren); err != nil {
		return nil, err
	}
	children, err := s.src.GetChildren(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("get children of %s: %w", parentID, err)
	}
	out := make([]*model.State, 0, len(children))
	for _, c := range children {
		ok, err := s.checker.CanBrowse(ctx, c)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		v, err := s.view(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// GetChild returns the child of parentID named name.
func (s *Session) GetChild(ctx context.Context, parentID, name string) (*model.State, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	st, err := s.src.GetChild(ctx, parentID, name)
	if err != nil {
		return nil, fmt.Errorf("get child: %w", err)
	}
	if err := s.checker.Check(ctx, st, model.Read); err != nil {
		return nil, err
	}
	return s.view(ctx, st)
}

// Path returns the path of id. ok is false for versions, placeless
// documents and documents with a missing ancestor.
func (s *Session) Path(ctx context.Context, id string) (path string, ok bool, err error) {
	if err := s.usable(); err != nil {
		return "", false, err
	}
	st, err := s.src.Get(ctx, id)
	if err != nil {
		return "", false, fmt.Errorf("path: %w", err)
	}
	return store.Path(ctx, s.src, st)
}

// GetProperty reads one property by xpath ("dc:title", "cpx:people/0").
// Missing values read as NULL.
func (s *Session) GetProperty(ctx context.Context, id, xpath string) (model.Value, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := s.resolve(doc, xpath)
	if err != nil {
		return nil, err
	}
	return getAt(doc.SchemaData(p.Schema.Name), p), nil
}

// Facets returns the type facets followed by the dynamic facets of id.
func (s *Session) Facets(ctx context.Context, id string) ([]string, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.repo.registry.DocumentFacets(doc.Type, doc.Facets), nil
}

// view returns a caller-owned copy of st. Proxies carry the properties,
// dynamic facets and extracted text of their target; a proxy whose target
// is missing has none.
func (s *Session) view(ctx context.Context, st *model.State) (*model.State, error) {
	out := st.Clone()
	if !st.IsProxy() {
		return out, nil
	}
	target, err := s.src.Get(ctx, st.TargetID)
	if errs.IsNotFound(err) {
		out.Properties = nil
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proxy target %s: %w", st.TargetID, err)
	}
	out.Properties = target.Properties.Clone()
	out.Facets = slices.Clone(target.Facets)
	out.BinaryText = target.BinaryText
	return out, nil
}

// CreateDocument creates a live document of type typ under parentID,
// setting xpath-keyed values. An empty parentID creates a placeless
// document. A name already used under the parent is suffixed (".1",
// ".2", ...); an empty name becomes the new id.
func (s *Session) CreateDocument(ctx context.Context, parentID, name, typ string, values map[string]model.Value) (*model.State, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	reg := s.repo.registry
	if _, ok := reg.Type(typ); !ok {
		return nil, errs.NotFound("unknown document type %s", typ).With("type", typ)
	}

	id := s.repo.ids.Generate()
	if name == "" {
		name = id
	}
	if parentID != "" {
		parent, err := s.src.Get(ctx, parentID)
		if err != nil {
			return nil, fmt.Errorf("create document: %w", err)
		}
		if err := s.checkContainer(ctx, parent); err != nil {
			return nil, err
		}
		if name, err = s.freeName(ctx, parentID, name, ""); err != nil {
			return nil, err
		}
	}

	st := &model.State{
		ID:             id,
		Kind:           model.KindDocument,
		Type:           typ,
		ParentID:       parentID,
		Name:           name,
		SeriesID:       id,
		LifecycleState: DefaultLifecycleState,
	}
	if err := s.applyValues(st, values); err != nil {
		return nil, err
	}
	s.insert(st)
	s.repo.emit(ctx, event.DocumentCreated, id, s.principal, map[string]string{
		"type":   typ,
		"parent": parentID,
	})
	return s.view(ctx, st)
}

// checkContainer checks that children may be added under parent.
func (s *Session) checkContainer(ctx context.Context, parent *model.State) error {
	if !parent.IsLive() || !slices.Contains(s.repo.registry.DocumentFacets(parent.Type, parent.Facets), schema.FacetFolderish) {
		return errs.Conflict("document %s is not a folder", parent.ID).With("id", parent.ID)
	}
	return s.checker.Check(ctx, parent, security.AddChildren)
}

// freeName returns name, or the first "name.N" not used under parentID by
// a document other than self.
func (s *Session) freeName(ctx context.Context, parentID, name, self string) (string, error) {
	candidate := name
	for n := 1; ; n++ {
		existing, err := s.src.GetChild(ctx, parentID, candidate)
		if errs.IsNotFound(err) || (err == nil && existing.ID == self) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("check name %q: %w", candidate, err)
		}
		candidate = name + "." + strconv.Itoa(n)
	}
}

// UpdateDocument sets xpath-keyed values and records the document as
// modified. A checked-in document is checked out first unless the session
// disables auto-checkout. Writes through a live proxy go to its target;
// versions, and the proxies pointing to them, are immutable unless the
// session allows version writes.
func (s *Session) UpdateDocument(ctx context.Context, id string, values map[string]model.Value) (*model.State, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	st, err := s.src.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	if err := s.checker.Check(ctx, st, security.WriteProperties); err != nil {
		return nil, err
	}
	target, err := s.writeTarget(ctx, st)
	if err != nil {
		return nil, err
	}
	if err := s.applyValues(target, values); err != nil {
		return nil, err
	}
	s.autoCheckout(ctx, target)
	s.write(target)
	s.repo.emit(ctx, event.DocumentModified, target.ID, s.principal, nil)

	updated, err := s.src.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, updated)
}

// SetProperty sets one property by xpath.
func (s *Session) SetProperty(ctx context.Context, id, xpath string, v model.Value) error {
	_, err := s.UpdateDocument(ctx, id, map[string]model.Value{xpath: v})
	return err
}

// writeTarget returns a private copy of the state holding st's
// properties: st itself, or the target of a proxy.
func (s *Session) writeTarget(ctx context.Context, st *model.State) (*model.State, error) {
	if !st.IsProxy() {
		return st.Clone(), nil
	}
	target, err := s.load(ctx, st.TargetID)
	if errs.IsNotFound(err) {
		return nil, errs.Conflict("proxy %s points to missing document %s", st.ID, st.TargetID).
			With("id", st.ID).
			With("target", st.TargetID)
	}
	return target, err
}

func (s *Session) autoCheckout(ctx context.Context, st *model.State) {
	if !st.IsLive() || !st.CheckedIn || s.cfg.disableAutoCheckout {
		return
	}
	st.CheckedIn = false
	s.repo.emit(ctx, event.DocumentCheckedOut, st.ID, s.principal, map[string]string{"auto": "true"})
}
