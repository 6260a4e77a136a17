package query

import (
	"context"
	"time"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/fulltext"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/queryir"
	"github.com/roach88/nxdoc/internal/schema"
	"github.com/roach88/nxdoc/internal/store"
)

// run holds the state of one Execute call.
type run struct {
	ctx      context.Context
	registry *schema.Registry
	plan     *queryir.Plan
	getter   *cachedGetter
	now      time.Time
	vars     map[string]varSpec
}

func newRun(ctx context.Context, e *Executor, plan *queryir.Plan, src Source) *run {
	return &run{
		ctx:      ctx,
		registry: e.registry,
		plan:     plan,
		getter:   &cachedGetter{src: src, cache: map[string]*model.State{}},
		now:      e.now(),
		vars:     collectVars(plan),
	}
}

// cachedGetter memoizes Get for the duration of a run. Ancestor chains
// and proxy targets are shared by many candidates.
type cachedGetter struct {
	src   store.Getter
	cache map[string]*model.State
}

func (g *cachedGetter) Get(ctx context.Context, id string) (*model.State, error) {
	if st, ok := g.cache[id]; ok {
		if st == nil {
			return nil, store.NotFound(id)
		}
		return st, nil
	}
	st, err := g.src.Get(ctx, id)
	if errs.IsNotFound(err) {
		g.cache[id] = nil
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	g.cache[id] = st
	return st, nil
}

// view is a candidate document as seen by the evaluator.
type view struct {
	st *model.State

	// target holds properties and target-held attributes: st itself, or
	// the proxy target (nil when it is missing).
	target *model.State

	pathDone bool
	path     model.Value

	ancestorsDone bool
	ancestors     map[string]bool

	acl []model.FlatEntry

	scoreDone bool
	score     float64
	texts     map[*schema.Path]*fulltext.Document
	wholeText *fulltext.Document
}

func (r *run) view(st *model.State) (*view, error) {
	v := &view{st: st, target: st, acl: st.ACP.Flatten()}
	if st.IsProxy() {
		target, err := r.getter.Get(r.ctx, st.TargetID)
		switch {
		case errs.IsNotFound(err):
			v.target = nil
		case err != nil:
			return nil, err
		default:
			v.target = target
		}
	}
	return v, nil
}

func (r *run) pathOf(v *view) (model.Value, error) {
	if !v.pathDone {
		p, ok, err := store.Path(r.ctx, r.getter, v.st)
		if err != nil {
			return nil, err
		}
		v.path = model.Null{}
		if ok {
			v.path = model.String(p)
		}
		v.pathDone = true
	}
	return v.path, nil
}

func (r *run) ancestorsOf(v *view) (map[string]bool, error) {
	if !v.ancestorsDone {
		ancestors, _, err := store.Ancestors(r.ctx, r.getter, v.st)
		if err != nil {
			return nil, err
		}
		v.ancestors = make(map[string]bool, len(ancestors))
		for _, a := range ancestors {
			v.ancestors[a.ID] = true
		}
		v.ancestorsDone = true
	}
	return v.ancestors, nil
}

func str(s string) model.Value {
	if s == "" {
		return model.Null{}
	}
	return model.String(s)
}

func timeValue(t time.Time) model.Value {
	if t.IsZero() {
		return model.Null{}
	}
	return model.Time(t)
}

// systemValue reads a system attribute.
func (r *run) systemValue(v *view, name string) (model.Value, error) {
	st := v.st
	switch name {
	case queryir.UUID:
		return model.String(st.ID), nil
	case queryir.ParentID:
		return str(st.ParentID), nil
	case queryir.Name:
		return str(st.Name), nil
	case queryir.Path:
		return r.pathOf(v)
	case queryir.PrimaryType:
		return model.String(st.Type), nil
	case queryir.IsProxy:
		return model.Bool(st.IsProxy()), nil
	case queryir.IsVersion:
		return model.Bool(st.IsVersion()), nil
	case queryir.VersionVersionableID:
		return str(st.SeriesID), nil
	case queryir.ProxyTargetID:
		return str(st.TargetID), nil
	case queryir.ChangeToken:
		return model.Int(st.ChangeToken), nil
	}

	t := v.target
	if t == nil {
		return model.Null{}, nil
	}
	switch name {
	case queryir.MixinType:
		facets := r.registry.DocumentFacets(t.Type, t.Facets)
		out := make(model.List, len(facets))
		for i, f := range facets {
			out[i] = model.String(f)
		}
		return out, nil
	case queryir.IsCheckedIn:
		return model.Bool(t.CheckedIn || t.IsVersion()), nil
	case queryir.IsLatestVersion:
		return model.Bool(t.IsLatest), nil
	case queryir.IsLatestMajorVersion:
		return model.Bool(t.IsLatestMajor), nil
	case queryir.VersionLabel:
		return str(t.VersionLabel), nil
	case queryir.VersionDescription:
		return str(t.CheckinComment), nil
	case queryir.VersionCreated:
		return timeValue(t.VersionCreated), nil
	case queryir.LifeCycleState:
		return str(t.LifecycleState), nil
	case queryir.LockOwner:
		if t.Lock == nil {
			return model.Null{}, nil
		}
		return model.String(t.Lock.Owner), nil
	case queryir.LockCreated:
		if t.Lock == nil {
			return model.Null{}, nil
		}
		return model.Time(t.Lock.Created), nil
	}
	return nil, errs.Parse("unsupported system property %q", name).With("path", name)
}

// aclValue reads one field of a flattened ACL entry.
func (r *run) aclValue(e model.FlatEntry, field string) model.Value {
	switch field {
	case queryir.ACLName:
		return model.String(e.ACLName)
	case queryir.ACLPrincipal:
		return model.String(e.Principal)
	case queryir.ACLPermission:
		return model.String(e.Permission)
	case queryir.ACLGrant:
		return model.Bool(e.Grant)
	case queryir.ACLCreator:
		return str(e.Creator)
	case queryir.ACLBegin:
		if e.Begin == nil {
			return model.Null{}
		}
		return model.Time(*e.Begin)
	case queryir.ACLEnd:
		if e.End == nil {
			return model.Null{}
		}
		return model.Time(*e.End)
	case queryir.ACLStatus:
		return model.Int(e.Status(r.now))
	}
	return model.Null{}
}

// propertyValues walks path under b. Wildcards bound in b select one
// element (-1 selects NULL); unbound wildcards expand to every element,
// or NULL for an empty list.
func propertyValues(t *model.State, path *schema.Path, vars []string, b binding) []model.Value {
	var root model.Value = model.Null{}
	if t != nil {
		if data := t.SchemaData(path.Schema.Name); data != nil {
			if val, ok := data[path.Field.Name]; ok && val != nil {
				root = val
			}
		}
	}
	cur := []model.Value{root}
	w := 0
	for _, step := range path.Steps {
		var next []model.Value
		for _, c := range cur {
			switch step.Kind {
			case schema.StepField:
				m, _ := c.(model.Map)
				next = append(next, orNull(m[step.Name]))
			case schema.StepIndex:
				l, _ := c.(model.List)
				if step.Index < len(l) {
					next = append(next, orNull(l[step.Index]))
				} else {
					next = append(next, model.Null{})
				}
			case schema.StepWildcard:
				l, _ := c.(model.List)
				if w < len(vars) {
					if i, bound := b[vars[w]]; bound {
						if i >= 0 && i < len(l) {
							next = append(next, orNull(l[i]))
						} else {
							next = append(next, model.Null{})
						}
						continue
					}
				}
				if len(l) == 0 {
					next = append(next, model.Null{})
				}
				for _, e := range l {
					next = append(next, orNull(e))
				}
			}
		}
		if step.Kind == schema.StepWildcard {
			w++
		}
		cur = next
	}
	return cur
}

func orNull(v model.Value) model.Value {
	if v == nil {
		return model.Null{}
	}
	return v
}

// score sums the scores of the matching fulltext predicates.
func (r *run) scoreOf(v *view) float64 {
	if !v.scoreDone {
		walkPredicates(r.plan.Where, func(p queryir.Predicate) {
			ft, ok := p.(*queryir.Fulltext)
			if !ok {
				return
			}
			if matched, s := ft.Query.Match(r.fulltextDoc(v, ft.Path)); matched {
				v.score += s
			}
		})
		v.scoreDone = true
	}
	return v.score
}

// fulltextDoc returns the text of the whole document (path nil) or of
// one property.
func (r *run) fulltextDoc(v *view, path *schema.Path) *fulltext.Document {
	if path == nil {
		if v.wholeText == nil {
			v.wholeText = fulltext.NewDocument(r.documentText(v.target)...)
		}
		return v.wholeText
	}
	if d, ok := v.texts[path]; ok {
		return d
	}
	var texts []string
	for _, val := range propertyValues(v.target, path, nil, nil) {
		collectText(path.Leaf, val, &texts)
	}
	d := fulltext.NewDocument(texts...)
	if v.texts == nil {
		v.texts = map[*schema.Path]*fulltext.Document{}
	}
	v.texts[path] = d
	return d
}

// documentText lists the indexed text of a state: every string property
// (blob names but not digests or mime types) and the extracted binary
// text.
func (r *run) documentText(t *model.State) []string {
	if t == nil {
		return nil
	}
	var texts []string
	for _, name := range t.Properties.SortedKeys() {
		data, _ := t.Properties[name].(model.Map)
		sch, _ := r.registry.Schema(name)
		for _, key := range data.SortedKeys() {
			var f *schema.Field
			if sch != nil {
				f = sch.Field(key)
			}
			collectText(f, data[key], &texts)
		}
	}
	if t.BinaryText != "" {
		texts = append(texts, t.BinaryText)
	}
	return texts
}

func collectText(f *schema.Field, v model.Value, out *[]string) {
	switch val := v.(type) {
	case model.String:
		*out = append(*out, string(val))
	case model.List:
		for _, e := range val {
			collectText(f, e, out)
		}
	case model.Map:
		for _, k := range val.SortedKeys() {
			var child *schema.Field
			if f != nil {
				if f.Kind == schema.KindBlob && k != schema.BlobName {
					continue
				}
				child = f.Child(k)
			}
			collectText(child, val[k], out)
		}
	}
}
