// Package planner resolves parsed NXQL statements into executable plans.
//
// Planning resolves every reference against the schema registry, assigns
// wildcard variables, decides the live/version/proxy scopes, injects the
// default fulltext score ordering, and derives the conservative backend
// pushdown. All semantic errors (unresolved paths, DISTINCT/ORDER BY
// conflicts, score without fulltext, unprojectable columns, unknown types)
// are errs.CodeParse errors raised here, before any storage access.
package planner

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/fulltext"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/nxql"
	"github.com/roach88/nxdoc/internal/queryir"
	"github.com/roach88/nxdoc/internal/schema"
)

// Option configures a Planner.
type Option func(*Planner)

// WithoutScopeOptimization keeps the full live/version/proxy union even
// when WHERE pins ecm:isProxy or ecm:isVersion. Results are identical;
// only the candidate set grows.
func WithoutScopeOptimization() Option {
	return func(p *Planner) { p.optimizeScopes = false }
}

// Planner turns statements into plans. It is safe for concurrent use.
type Planner struct {
	registry       *schema.Registry
	optimizeScopes bool
}

// New creates a planner over a registry.
func New(registry *schema.Registry, opts ...Option) *Planner {
	p := &Planner{registry: registry, optimizeScopes: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlanQuery parses and plans an NXQL string.
func (p *Planner) PlanQuery(query string) (*queryir.Plan, error) {
	stmt, err := nxql.Parse(query)
	if err != nil {
		return nil, err
	}
	plan, err := p.Plan(stmt)
	if err != nil {
		return nil, err
	}
	plan.Query = query
	return plan, nil
}

// Plan resolves a parsed statement.
func (p *Planner) Plan(stmt *nxql.Statement) (*queryir.Plan, error) {
	types, err := p.resolveTypes(stmt.From)
	if err != nil {
		return nil, err
	}
	b := &builder{registry: p.registry, types: types}

	plan := &queryir.Plan{
		Query:     stmt.String(),
		Types:     types,
		Scopes:    queryir.AllScopes,
		Distinct:  stmt.Distinct,
		SelectAll: stmt.SelectAll(),
		Limit:     stmt.Limit,
		Offset:    stmt.Offset,
	}

	for _, ref := range stmt.Columns {
		op, err := b.operand(ref, "SELECT")
		if err != nil {
			return nil, err
		}
		plan.Columns = append(plan.Columns, queryir.Column{Name: ref, Operand: op})
	}

	if stmt.Where != nil {
		where, err := b.predicate(stmt.Where, false)
		if err != nil {
			return nil, err
		}
		plan.Where = where
	}
	plan.HasFulltext = b.fulltext

	for _, item := range stmt.OrderBy {
		// Ordering on a selected column orders on that column's values,
		// including its wildcard bindings.
		op := columnOperand(plan.Columns, item.Ref)
		if op == nil {
			if op, err = b.operand(item.Ref, "ORDER BY"); err != nil {
				return nil, err
			}
		}
		plan.OrderBy = append(plan.OrderBy, queryir.Order{Name: item.Ref, Operand: op, Desc: item.Desc})
	}

	if err := checkScore(plan); err != nil {
		return nil, err
	}
	if err := checkOrderBy(stmt, plan); err != nil {
		return nil, err
	}

	if plan.HasFulltext && len(plan.OrderBy) == 0 && !plan.Distinct && !b.fulltextAmbiguous {
		plan.OrderBy = []queryir.Order{{Name: queryir.FulltextScore, Operand: &queryir.Score{}, Desc: true}}
	}

	plan.RowVars, plan.ExistsVars = classifyVars(plan)

	if p.optimizeScopes {
		plan.Scopes = narrowScopes(plan.Where)
	}
	plan.Pushdown = pushdown(plan)
	if res := queryir.Validate(plan.Pushdown); !res.Valid {
		return nil, fmt.Errorf("plan %q: %w", plan.Query, res.Err())
	}
	return plan, nil
}

func columnOperand(columns []queryir.Column, ref string) queryir.Operand {
	for _, c := range columns {
		if c.Name == ref {
			return c.Operand
		}
	}
	return nil
}

func (p *Planner) resolveTypes(from []string) ([]string, error) {
	var out []string
	for _, name := range from {
		subs, ok := p.registry.Subtypes(name)
		if !ok {
			return nil, errs.Parse("unknown document type %q in FROM", name).With("type", name)
		}
		for _, s := range subs {
			if !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

// builder carries per-statement resolution state.
type builder struct {
	registry *schema.Registry
	types    []string

	uncorrelated int

	fulltext          bool
	fulltextAmbiguous bool
}

// operand resolves a column or ORDER BY reference.
func (b *builder) operand(ref, clause string) (queryir.Operand, error) {
	if ref == queryir.FulltextScore {
		return &queryir.Score{}, nil
	}
	if strings.HasPrefix(ref, queryir.FulltextAttr+".") {
		return nil, errs.Parse("%s cannot be used in %s", ref, clause).With("clause", clause)
	}
	op, err := b.reference(ref)
	if err != nil {
		return nil, err
	}
	if sys, ok := op.(*queryir.System); ok {
		attr, _ := queryir.LookupAttribute(sys.Name)
		if attr.PredicateOnly {
			return nil, errs.Parse("%s cannot be used in %s: it is not backed by a stored value", ref, clause).
				With("clause", clause).
				With("column", ref)
		}
	}
	return op, nil
}

// reference resolves a property, system attribute or ACL column.
func (b *builder) reference(ref string) (queryir.Operand, error) {
	if strings.HasPrefix(ref, queryir.ACLPrefix) {
		return b.aclField(ref)
	}
	if queryir.IsSystemRef(ref) {
		if _, ok := queryir.LookupAttribute(ref); !ok {
			return nil, errs.Parse("unknown system property %q", ref).With("path", ref)
		}
		return &queryir.System{Name: ref}, nil
	}
	path, err := b.registry.Resolve(ref, b.types)
	if err != nil {
		return nil, err
	}
	prop := &queryir.Property{Ref: ref, Path: path}
	prefix := path.Schema.Name + ":" + path.Field.Name
	for _, step := range path.Steps {
		switch step.Kind {
		case schema.StepField:
			prefix += "/" + step.Name
		case schema.StepIndex:
			prefix += "/" + strconv.Itoa(step.Index)
		case schema.StepWildcard:
			v := b.varName(prefix, step.Var)
			prop.Vars = append(prop.Vars, v)
			prefix += "/" + v
		}
	}
	return prop, nil
}

func (b *builder) aclField(ref string) (queryir.Operand, error) {
	rest := strings.TrimPrefix(ref, queryir.ACLPrefix)
	wildcard, field, ok := strings.Cut(rest, "/")
	if !ok || !schema.IsWildcardSegment(wildcard) {
		return nil, errs.Parse("ACL column %q must be ecm:acl/*N/<field>", ref).With("path", ref)
	}
	if !slices.Contains(queryir.ACLFields, field) {
		return nil, errs.Parse("unknown ACL field %q, expected one of %s", field, strings.Join(queryir.ACLFields, ", ")).
			With("path", ref).
			With("segment", field)
	}
	v := ""
	if wildcard != "*" {
		v = wildcard
	}
	return &queryir.ACLField{Var: b.varName("ecm:acl", v), Label: wildcard, Field: field}, nil
}

// varName keys a wildcard by the list it iterates, so *1 correlates only
// within one list. Uncorrelated wildcards get a fresh name each time.
func (b *builder) varName(listPath, v string) string {
	if v == "" {
		b.uncorrelated++
		return fmt.Sprintf("%s#%d", listPath, b.uncorrelated)
	}
	return listPath + "#" + v
}

// IsUncorrelated reports whether a variable came from a bare "*".
func IsUncorrelated(v string) bool {
	i := strings.LastIndexByte(v, '#')
	return i >= 0 && i+1 < len(v) && v[i+1] != '*'
}

func (b *builder) predicate(e nxql.Expr, underOrNot bool) (queryir.Predicate, error) {
	switch n := e.(type) {
	case *nxql.And:
		out := &queryir.And{}
		for _, o := range n.Operands {
			p, err := b.predicate(o, underOrNot)
			if err != nil {
				return nil, err
			}
			out.Operands = append(out.Operands, p)
		}
		return out, nil
	case *nxql.Or:
		out := &queryir.Or{}
		for _, o := range n.Operands {
			p, err := b.predicate(o, true)
			if err != nil {
				return nil, err
			}
			out.Operands = append(out.Operands, p)
		}
		return out, nil
	case *nxql.Not:
		p, err := b.predicate(n.Operand, true)
		if err != nil {
			return nil, err
		}
		return &queryir.Not{Operand: p}, nil
	case *nxql.Comparison:
		return b.comparison(n, underOrNot)
	}
	return nil, fmt.Errorf("unexpected expression %T", e)
}

func (b *builder) comparison(c *nxql.Comparison, underOrNot bool) (queryir.Predicate, error) {
	switch {
	case c.Ref == queryir.FulltextAttr || strings.HasPrefix(c.Ref, queryir.FulltextAttr+"."):
		return b.fulltextPredicate(c, underOrNot)
	case c.Ref == queryir.AncestorID:
		return ancestorPredicate(c)
	case c.Ref == queryir.FulltextScore:
		return nil, errs.Parse("%s cannot be used in WHERE", c.Ref).With("clause", "WHERE")
	}

	op, err := b.reference(c.Ref)
	if err != nil {
		return nil, err
	}
	if err := checkOperator(c); err != nil {
		return nil, err
	}
	if prop, ok := op.(*queryir.Property); ok && prop.Path.Leaf.IsComplex() &&
		c.Op != nxql.OpIsNull && c.Op != nxql.OpIsNotNull {
		return nil, errs.Parse("cannot compare complex property %q, select one of its sub-properties", c.Ref).With("path", c.Ref)
	}
	return &queryir.Compare{Left: op, Op: c.Op, Values: coerce(op, c.Values)}, nil
}

func (b *builder) fulltextPredicate(c *nxql.Comparison, underOrNot bool) (queryir.Predicate, error) {
	if c.Op != nxql.OpEq && c.Op != nxql.OpLike {
		return nil, errs.Parse("%s supports only = and LIKE, got %s", c.Ref, c.Op).With("path", c.Ref)
	}
	s, ok := c.Values[0].(model.String)
	if !ok {
		return nil, errs.Parse("%s needs a string expression", c.Ref).With("path", c.Ref)
	}
	q, err := fulltext.Parse(string(s))
	if err != nil {
		return nil, err
	}
	ft := &queryir.Fulltext{Ref: c.Ref, Query: q}
	if field, ok := strings.CutPrefix(c.Ref, queryir.FulltextAttr+"."); ok {
		path, err := b.registry.Resolve(field, b.types)
		if err != nil {
			return nil, err
		}
		ft.Path = path
	}
	b.fulltext = true
	if underOrNot {
		b.fulltextAmbiguous = true
	}
	return ft, nil
}

func ancestorPredicate(c *nxql.Comparison) (queryir.Predicate, error) {
	switch c.Op {
	case nxql.OpEq, nxql.OpNe, nxql.OpIn, nxql.OpNotIn:
	default:
		return nil, errs.Parse("%s supports only =, <>, IN and NOT IN", c.Ref).With("path", c.Ref)
	}
	anc := &queryir.AncestorOf{}
	for _, v := range c.Values {
		s, ok := v.(model.String)
		if !ok {
			return nil, errs.Parse("%s needs document ids", c.Ref).With("path", c.Ref)
		}
		anc.IDs = append(anc.IDs, string(s))
	}
	if c.Op.Negative() {
		return &queryir.Not{Operand: anc}, nil
	}
	return anc, nil
}

func checkOperator(c *nxql.Comparison) error {
	switch c.Op.Positive() {
	case nxql.OpLike, nxql.OpILike, nxql.OpStartsWith:
		if _, ok := c.Values[0].(model.String); !ok {
			return errs.Parse("%s on %s needs a string pattern", c.Op, c.Ref).With("path", c.Ref)
		}
	}
	return nil
}

// coerce converts 0/1 literals to booleans for boolean operands.
func coerce(op queryir.Operand, values []model.Value) []model.Value {
	boolean := false
	switch o := op.(type) {
	case *queryir.System:
		attr, _ := queryir.LookupAttribute(o.Name)
		boolean = attr.Kind == queryir.AttrBool
	case *queryir.Property:
		boolean = o.Path.Leaf.Kind == schema.KindBoolean
	case *queryir.ACLField:
		boolean = o.Field == queryir.ACLGrant
	}
	if !boolean {
		return values
	}
	out := make([]model.Value, len(values))
	for i, v := range values {
		if n, ok := v.(model.Int); ok && (n == 0 || n == 1) {
			out[i] = model.Bool(n == 1)
			continue
		}
		out[i] = v
	}
	return out
}

func checkScore(plan *queryir.Plan) error {
	if plan.HasFulltext {
		return nil
	}
	for _, c := range plan.Columns {
		if _, ok := c.Operand.(*queryir.Score); ok {
			return errs.Parse("%s requires an %s predicate", queryir.FulltextScore, queryir.FulltextAttr).With("clause", "SELECT")
		}
	}
	for _, o := range plan.OrderBy {
		if _, ok := o.Operand.(*queryir.Score); ok {
			return errs.Parse("%s requires an %s predicate", queryir.FulltextScore, queryir.FulltextAttr).With("clause", "ORDER BY")
		}
	}
	return nil
}

func checkOrderBy(stmt *nxql.Statement, plan *queryir.Plan) error {
	if plan.SelectAll {
		var offending []string
		for _, o := range plan.OrderBy {
			if len(operandVars(o.Operand)) > 0 {
				offending = append(offending, o.Name)
			}
		}
		if len(offending) > 0 {
			return errs.Parse("ORDER BY %s: wildcard properties cannot be ordered on when selecting whole documents",
				strings.Join(offending, ", ")).With("clause", "ORDER BY")
		}
	}
	if plan.Distinct {
		var missing []string
		for _, o := range stmt.OrderBy {
			if !slices.Contains(stmt.Columns, o.Ref) {
				missing = append(missing, o.Ref)
			}
		}
		if len(missing) > 0 && !plan.SelectAll {
			return errs.Parse("SELECT DISTINCT requires ORDER BY columns to be selected, missing: %s",
				strings.Join(missing, ", ")).With("clause", "ORDER BY")
		}
	}
	return nil
}

func operandVars(op queryir.Operand) []string {
	switch o := op.(type) {
	case *queryir.Property:
		return o.Vars
	case *queryir.ACLField:
		return []string{o.Var}
	}
	return nil
}

// classifyVars splits wildcard variables into row variables (columns and
// ORDER BY) and existential variables (correlated, WHERE only).
// Uncorrelated WHERE-only variables are existential at their comparison
// and appear in neither list.
func classifyVars(plan *queryir.Plan) (rowVars, existsVars []string) {
	add := func(list []string, v string) []string {
		if slices.Contains(list, v) {
			return list
		}
		return append(list, v)
	}
	for _, c := range plan.Columns {
		for _, v := range operandVars(c.Operand) {
			rowVars = add(rowVars, v)
		}
	}
	for _, o := range plan.OrderBy {
		for _, v := range operandVars(o.Operand) {
			rowVars = add(rowVars, v)
		}
	}
	walkCompares(plan.Where, func(c *queryir.Compare) {
		for _, v := range operandVars(c.Left) {
			if IsUncorrelated(v) || slices.Contains(rowVars, v) {
				continue
			}
			existsVars = add(existsVars, v)
		}
	})
	return rowVars, existsVars
}

func walkCompares(p queryir.Predicate, fn func(*queryir.Compare)) {
	switch n := p.(type) {
	case *queryir.And:
		for _, o := range n.Operands {
			walkCompares(o, fn)
		}
	case *queryir.Or:
		for _, o := range n.Operands {
			walkCompares(o, fn)
		}
	case *queryir.Not:
		walkCompares(n.Operand, fn)
	case *queryir.Compare:
		fn(n)
	}
}

// conjuncts returns the top-level AND operands of p.
func conjuncts(p queryir.Predicate) []queryir.Predicate {
	switch n := p.(type) {
	case nil:
		return nil
	case *queryir.And:
		var out []queryir.Predicate
		for _, o := range n.Operands {
			out = append(out, conjuncts(o)...)
		}
		return out
	default:
		return []queryir.Predicate{p}
	}
}

// narrowScopes drops union branches excluded by top-level equalities on
// ecm:isProxy and ecm:isVersion.
func narrowScopes(where queryir.Predicate) queryir.Scopes {
	scopes := queryir.AllScopes
	for _, c := range conjuncts(where) {
		cmp, ok := c.(*queryir.Compare)
		if !ok || cmp.Op != nxql.OpEq {
			continue
		}
		sys, ok := cmp.Left.(*queryir.System)
		if !ok {
			continue
		}
		val, ok := cmp.Values[0].(model.Bool)
		if !ok {
			continue
		}
		switch sys.Name {
		case queryir.IsProxy:
			if val {
				scopes.Live, scopes.Version = false, false
			} else {
				scopes.Proxy = false
			}
		case queryir.IsVersion:
			if val {
				scopes.Live, scopes.Proxy = false, false
			} else {
				scopes.Version = false
			}
		}
	}
	return scopes
}

// pushdown derives the backend prefilter from top-level conjuncts.
func pushdown(plan *queryir.Plan) *queryir.Select {
	sel := &queryir.Select{Types: plan.Types, Kinds: plan.Scopes.Kinds()}
	if plan.Scopes == queryir.AllScopes {
		sel.Kinds = nil
	}
	for _, c := range conjuncts(plan.Where) {
		cmp, ok := c.(*queryir.Compare)
		if !ok || (cmp.Op != nxql.OpEq && cmp.Op != nxql.OpIn) {
			continue
		}
		field, ok := pushdownField(cmp.Left, plan.Scopes)
		if !ok {
			continue
		}
		values, ok := pushdownValues(cmp.Left, cmp.Values)
		if !ok {
			continue
		}
		if len(values) == 1 {
			sel.Where = append(sel.Where, &queryir.Equals{Field: field, Value: values[0]})
		} else {
			sel.Where = append(sel.Where, &queryir.In{Field: field, Values: values})
		}
	}
	return sel
}

func pushdownField(op queryir.Operand, scopes queryir.Scopes) (queryir.Field, bool) {
	switch o := op.(type) {
	case *queryir.System:
		attr, _ := queryir.LookupAttribute(o.Name)
		if attr.Column == "" || (attr.FromTarget && scopes.Proxy) {
			return queryir.Field{}, false
		}
		return queryir.Field{Column: attr.Column}, true
	case *queryir.Property:
		path := o.Path
		if scopes.Proxy || len(path.Steps) > 0 || path.Field.List {
			return queryir.Field{}, false
		}
		switch path.Field.Kind {
		case schema.KindString, schema.KindLong, schema.KindBoolean:
			return queryir.Field{Schema: path.Schema.Name, Name: path.Field.Name}, true
		}
	}
	return queryir.Field{}, false
}

// pushdownValues keeps only values whose storage form compares the same in
// SQL and in Go: strings for string columns, integers and booleans for
// numeric and boolean properties.
func pushdownValues(op queryir.Operand, values []model.Value) ([]model.Value, bool) {
	want := schema.KindString
	if prop, ok := op.(*queryir.Property); ok {
		want = prop.Path.Field.Kind
	}
	for _, v := range values {
		switch v.(type) {
		case model.String:
			if want != schema.KindString {
				return nil, false
			}
		case model.Int:
			if want != schema.KindLong {
				return nil, false
			}
		case model.Bool:
			if want != schema.KindBoolean {
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return values, len(values) > 0
}
