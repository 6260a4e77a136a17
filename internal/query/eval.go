package query

import (
	"slices"
	"strings"

	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/nxql"
	"github.com/roach88/nxdoc/internal/queryir"
	"github.com/roach88/nxdoc/internal/schema"
)

// binding maps wildcard variables to list positions; -1 binds NULL.
type binding map[string]int

func (b binding) with(name string, i int) binding {
	out := make(binding, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	out[name] = i
	return out
}

// varSpec locates the list a variable iterates: wildcard number k of a
// property, or the flattened ACL.
type varSpec struct {
	prop *queryir.Property
	k    int
	acl  bool
}

func collectVars(plan *queryir.Plan) map[string]varSpec {
	out := map[string]varSpec{}
	add := func(op queryir.Operand) {
		switch o := op.(type) {
		case *queryir.Property:
			for k, v := range o.Vars {
				if _, ok := out[v]; !ok {
					out[v] = varSpec{prop: o, k: k}
				}
			}
		case *queryir.ACLField:
			out[o.Var] = varSpec{acl: true}
		}
	}
	for _, c := range plan.Columns {
		add(c.Operand)
	}
	for _, o := range plan.OrderBy {
		add(o.Operand)
	}
	walkPredicates(plan.Where, func(p queryir.Predicate) {
		if c, ok := p.(*queryir.Compare); ok {
			add(c.Left)
		}
	})
	return out
}

func walkPredicates(p queryir.Predicate, fn func(queryir.Predicate)) {
	if p == nil {
		return
	}
	fn(p)
	switch n := p.(type) {
	case *queryir.And:
		for _, o := range n.Operands {
			walkPredicates(o, fn)
		}
	case *queryir.Or:
		for _, o := range n.Operands {
			walkPredicates(o, fn)
		}
	case *queryir.Not:
		walkPredicates(n.Operand, fn)
	}
}

// domain returns the length of the list a variable iterates under b.
func (r *run) domain(v *view, name string, b binding) int {
	spec, ok := r.vars[name]
	if !ok {
		return 0
	}
	if spec.acl {
		return len(v.acl)
	}
	// Walk the path up to the k-th wildcard.
	path := *spec.prop.Path
	w := 0
	for i, step := range path.Steps {
		if step.Kind == schema.StepWildcard {
			if w == spec.k {
				path.Steps = path.Steps[:i]
				break
			}
			w++
		}
	}
	n := 0
	for _, val := range propertyValues(v.target, &path, spec.prop.Vars, b) {
		if l, ok := val.(model.List); ok && len(l) > n {
			n = len(l)
		}
	}
	return n
}

// enumerate calls fn for every combination of vars under b, binding NULL
// for empty lists. It stops when fn returns true.
func (r *run) enumerate(v *view, vars []string, b binding, fn func(binding) (bool, error)) (bool, error) {
	if len(vars) == 0 {
		return fn(b)
	}
	name := vars[0]
	n := r.domain(v, name, b)
	if n == 0 {
		return r.enumerate(v, vars[1:], b.with(name, -1), fn)
	}
	for i := 0; i < n; i++ {
		stop, err := r.enumerate(v, vars[1:], b.with(name, i), fn)
		if stop || err != nil {
			return stop, err
		}
	}
	return false, nil
}

// rows returns the result rows of one candidate, or none when it does not
// match.
func (r *run) rows(v *view) ([]row, error) {
	var out []row
	_, err := r.enumerate(v, r.plan.RowVars, binding{}, func(b binding) (bool, error) {
		ok, err := r.matches(v, b)
		if err != nil || !ok {
			return false, err
		}
		rw, err := r.makeRow(v, b)
		if err != nil {
			return false, err
		}
		out = append(out, rw)
		return r.plan.SelectAll, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// matches evaluates WHERE for a row binding: some binding of the
// existential variables must make it true.
func (r *run) matches(v *view, b binding) (bool, error) {
	if r.plan.Where == nil {
		return true, nil
	}
	return r.enumerate(v, r.plan.ExistsVars, b, func(b binding) (bool, error) {
		t, err := r.eval(v, r.plan.Where, b)
		return t == triTrue, err
	})
}

func (r *run) makeRow(v *view, b binding) (row, error) {
	rw := row{Row: Row{ID: v.st.ID}}
	if r.plan.HasFulltext {
		rw.Score = r.scoreOf(v)
	}
	for _, c := range r.plan.Columns {
		val, err := r.value(v, c.Operand, b)
		if err != nil {
			return row{}, err
		}
		rw.Values = append(rw.Values, val)
	}
	for _, o := range r.plan.OrderBy {
		val, err := r.value(v, o.Operand, b)
		if err != nil {
			return row{}, err
		}
		rw.keys = append(rw.keys, val)
	}
	return rw, nil
}

// value reads an operand for projection or ordering; all its variables
// are bound.
func (r *run) value(v *view, op queryir.Operand, b binding) (model.Value, error) {
	switch o := op.(type) {
	case *queryir.Score:
		return model.Float(r.scoreOf(v)), nil
	case *queryir.System:
		return r.systemValue(v, o.Name)
	case *queryir.ACLField:
		i, ok := b[o.Var]
		if !ok || i < 0 || i >= len(v.acl) {
			return model.Null{}, nil
		}
		return r.aclValue(v.acl[i], o.Field), nil
	case *queryir.Property:
		vals := propertyValues(v.target, o.Path, o.Vars, b)
		if len(vals) == 1 {
			return vals[0], nil
		}
		return model.List(vals), nil
	}
	return model.Null{}, nil
}

// tri is a three-valued truth value ordered false < unknown < true, so
// AND is min and OR is max.
type tri int8

const (
	triFalse tri = iota
	triUnknown
	triTrue
)

func triOf(b bool) tri {
	if b {
		return triTrue
	}
	return triFalse
}

func (t tri) not() tri { return triTrue - t }

func (r *run) eval(v *view, p queryir.Predicate, b binding) (tri, error) {
	switch n := p.(type) {
	case *queryir.And:
		out := triTrue
		for _, o := range n.Operands {
			t, err := r.eval(v, o, b)
			if err != nil {
				return triFalse, err
			}
			out = min(out, t)
			if out == triFalse {
				break
			}
		}
		return out, nil
	case *queryir.Or:
		out := triFalse
		for _, o := range n.Operands {
			t, err := r.eval(v, o, b)
			if err != nil {
				return triFalse, err
			}
			out = max(out, t)
			if out == triTrue {
				break
			}
		}
		return out, nil
	case *queryir.Not:
		t, err := r.eval(v, n.Operand, b)
		return t.not(), err
	case *queryir.Fulltext:
		matched, _ := n.Query.Match(r.fulltextDoc(v, n.Path))
		return triOf(matched), nil
	case *queryir.AncestorOf:
		ancestors, err := r.ancestorsOf(v)
		if err != nil {
			return triFalse, err
		}
		return triOf(slices.ContainsFunc(n.IDs, func(id string) bool { return ancestors[id] })), nil
	case *queryir.Compare:
		return r.compare(v, n, b)
	}
	return triFalse, nil
}

// compare evaluates a comparison. Operands yielding several values
// (unbound wildcards) are existential.
func (r *run) compare(v *view, c *queryir.Compare, b binding) (tri, error) {
	vals, listValued, err := r.operandValues(v, c.Left, b)
	if err != nil {
		return triFalse, err
	}
	out := triFalse
	for _, val := range vals {
		var t tri
		if listValued {
			t = compareList(val, c.Op, c.Values)
		} else {
			t = compareScalar(val, c.Op, c.Values)
		}
		out = max(out, t)
		if out == triTrue {
			break
		}
	}
	return out, nil
}

func (r *run) operandValues(v *view, op queryir.Operand, b binding) ([]model.Value, bool, error) {
	switch o := op.(type) {
	case *queryir.Property:
		return propertyValues(v.target, o.Path, o.Vars, b), o.Path.ListValued, nil
	case *queryir.System:
		val, err := r.systemValue(v, o.Name)
		if err != nil {
			return nil, false, err
		}
		attr, _ := queryir.LookupAttribute(o.Name)
		return []model.Value{val}, attr.ListValued, nil
	case *queryir.ACLField:
		if i, ok := b[o.Var]; ok {
			if i < 0 || i >= len(v.acl) {
				return []model.Value{model.Null{}}, false, nil
			}
			return []model.Value{r.aclValue(v.acl[i], o.Field)}, false, nil
		}
		if len(v.acl) == 0 {
			return []model.Value{model.Null{}}, false, nil
		}
		out := make([]model.Value, len(v.acl))
		for i, e := range v.acl {
			out[i] = r.aclValue(e, o.Field)
		}
		return out, false, nil
	}
	return []model.Value{model.Null{}}, false, nil
}

// compareList applies an operator to a list-valued operand: positive
// operators hold when some element matches, negative ones when none
// matches the positive form. IS NULL means empty.
func compareList(val model.Value, op nxql.Operator, values []model.Value) tri {
	l, _ := val.(model.List)
	switch op {
	case nxql.OpIsNull:
		return triOf(len(l) == 0)
	case nxql.OpIsNotNull:
		return triOf(len(l) > 0)
	}
	pos := op.Positive()
	found := false
	for _, e := range l {
		if compareScalar(e, pos, values) == triTrue {
			found = true
			break
		}
	}
	if op.Negative() {
		return triOf(!found)
	}
	return triOf(found)
}

func compareScalar(val model.Value, op nxql.Operator, values []model.Value) tri {
	switch op {
	case nxql.OpIsNull:
		return triOf(model.IsNull(val))
	case nxql.OpIsNotNull:
		return triOf(!model.IsNull(val))
	}
	if model.IsNull(val) {
		return triUnknown
	}
	switch op {
	case nxql.OpEq, nxql.OpNe, nxql.OpLt, nxql.OpLe, nxql.OpGt, nxql.OpGe:
		c, ok := model.Compare(val, values[0])
		if !ok {
			return triUnknown
		}
		switch op {
		case nxql.OpEq:
			return triOf(c == 0)
		case nxql.OpNe:
			return triOf(c != 0)
		case nxql.OpLt:
			return triOf(c < 0)
		case nxql.OpLe:
			return triOf(c <= 0)
		case nxql.OpGt:
			return triOf(c > 0)
		default:
			return triOf(c >= 0)
		}
	case nxql.OpIn, nxql.OpNotIn:
		t := triFalse
		for _, want := range values {
			c, ok := model.Compare(val, want)
			if !ok {
				t = max(t, triUnknown)
				continue
			}
			if c == 0 {
				t = triTrue
				break
			}
		}
		if op == nxql.OpNotIn {
			return t.not()
		}
		return t
	case nxql.OpBetween, nxql.OpNotBetween:
		lo, okLo := model.Compare(val, values[0])
		hi, okHi := model.Compare(val, values[1])
		if !okLo || !okHi {
			return triUnknown
		}
		t := triOf(lo >= 0 && hi <= 0)
		if op == nxql.OpNotBetween {
			return t.not()
		}
		return t
	case nxql.OpLike, nxql.OpNotLike, nxql.OpILike, nxql.OpNotILike:
		s, ok := val.(model.String)
		pattern, okP := values[0].(model.String)
		if !ok || !okP {
			return triUnknown
		}
		fold := op == nxql.OpILike || op == nxql.OpNotILike
		t := triOf(Like(string(s), string(pattern), fold))
		if op.Negative() {
			return t.not()
		}
		return t
	case nxql.OpStartsWith:
		s, ok := val.(model.String)
		prefix, okP := values[0].(model.String)
		if !ok || !okP {
			return triUnknown
		}
		return triOf(StartsWith(string(s), string(prefix)))
	}
	return triUnknown
}

// StartsWith reports whether path is strictly below prefix: "/a/b" starts
// with "/a" and "/a/", but "/a" and "/ab" do not.
func StartsWith(path, prefix string) bool {
	base := strings.TrimSuffix(prefix, "/")
	return path != prefix && path != base && strings.HasPrefix(path, base+"/")
}
