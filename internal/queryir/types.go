package queryir

import (
	"strings"

	"github.com/roach88/nxdoc/internal/fulltext"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/nxql"
	"github.com/roach88/nxdoc/internal/schema"
)

// Scopes selects which document kinds a query ranges over. A query over a
// type is an implicit UNION ALL of the three scopes, discriminated by
// model.Kind.
type Scopes struct {
	Live    bool
	Version bool
	Proxy   bool
}

// AllScopes is the default union.
var AllScopes = Scopes{Live: true, Version: true, Proxy: true}

// Kinds returns the model kinds of the enabled scopes in a fixed order.
func (s Scopes) Kinds() []model.Kind {
	var out []model.Kind
	if s.Live {
		out = append(out, model.KindDocument)
	}
	if s.Version {
		out = append(out, model.KindVersion)
	}
	if s.Proxy {
		out = append(out, model.KindProxy)
	}
	return out
}

// Includes reports whether kind k is in scope.
func (s Scopes) Includes(k model.Kind) bool {
	switch k {
	case model.KindDocument:
		return s.Live
	case model.KindVersion:
		return s.Version
	case model.KindProxy:
		return s.Proxy
	}
	return false
}

// String renders the union for plan logging, e.g. "live+version".
func (s Scopes) String() string {
	kinds := s.Kinds()
	if len(kinds) == 0 {
		return "none"
	}
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = scopeName(k)
	}
	return strings.Join(parts, "+")
}

func scopeName(k model.Kind) string {
	if k == model.KindDocument {
		return "live"
	}
	return k.String()
}

// Plan is a resolved NXQL query.
type Plan struct {
	// Query is the original NXQL text, for logging and scroll cursors.
	Query string

	// Types are the concrete document types covered by FROM.
	Types  []string
	Scopes Scopes

	Distinct  bool
	SelectAll bool
	Columns   []Column
	Where     Predicate
	OrderBy   []Order

	// Limit and Offset are -1 when absent from the query.
	Limit  int64
	Offset int64

	// RowVars are the wildcard variables referenced by columns or ORDER
	// BY. Each combination of their list elements yields one row.
	RowVars []string

	// ExistsVars are correlated wildcard variables referenced only by
	// WHERE. A document matches when some binding of them satisfies WHERE.
	ExistsVars []string

	// HasFulltext is set when WHERE contains an ecm:fulltext predicate.
	HasFulltext bool

	// Pushdown is the prefilter handed to the backend.
	Pushdown *Select
}

// Column is one projected column.
type Column struct {
	Name    string
	Operand Operand
}

// Order is one ORDER BY item.
type Order struct {
	Name    string
	Operand Operand
	Desc    bool
}

// Operand is a value source in a plan. Sealed.
type Operand interface {
	operandNode()
	String() string
}

// Property reads a schema property. Vars holds one variable name per
// wildcard step of Path, in step order.
type Property struct {
	Ref  string
	Path *schema.Path
	Vars []string
}

// System reads a system attribute (ecm:uuid, ecm:path, ...).
type System struct {
	Name string
}

// ACLField reads a field of the flattened ACL entry bound to Var. Label
// is the wildcard as written ("*1", or "*" when uncorrelated).
type ACLField struct {
	Var   string
	Label string
	Field string
}

// Score is ecm:fulltextScore.
type Score struct{}

func (*Property) operandNode() {}
func (*System) operandNode()   {}
func (*ACLField) operandNode() {}
func (*Score) operandNode()    {}

func (p *Property) String() string { return p.Ref }
func (s *System) String() string   { return s.Name }
func (a *ACLField) String() string { return ACLPrefix + a.Label + "/" + a.Field }
func (*Score) String() string      { return FulltextScore }

// Predicate is a WHERE node. Sealed.
type Predicate interface {
	predicateNode()
}

// And is a conjunction.
type And struct {
	Operands []Predicate
}

// Or is a disjunction.
type Or struct {
	Operands []Predicate
}

// Not negates its operand.
type Not struct {
	Operand Predicate
}

// Compare applies an NXQL operator to an operand. Values were coerced to
// the operand's kind by the planner where a coercion exists (for example
// booleans written as 0/1).
type Compare struct {
	Left   Operand
	Op     nxql.Operator
	Values []model.Value
}

// Fulltext is an ecm:fulltext predicate. Path is nil for the whole
// document, or the property named by ecm:fulltext.<ref>.
type Fulltext struct {
	Ref   string
	Path  *schema.Path
	Query *fulltext.Query
}

// AncestorOf matches documents having ID among their ancestors
// (ecm:ancestorId = ID). Negated forms are expressed with Not.
type AncestorOf struct {
	IDs []string
}

func (*And) predicateNode()        {}
func (*Or) predicateNode()         {}
func (*Not) predicateNode()        {}
func (*Compare) predicateNode()    {}
func (*Fulltext) predicateNode()   {}
func (*AncestorOf) predicateNode() {}
