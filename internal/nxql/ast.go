package nxql

import (
	"strconv"
	"strings"
	"time"

	"github.com/roach88/nxdoc/internal/model"
)

// Statement is a parsed NXQL query.
type Statement struct {
	Distinct bool

	// Columns holds the selected references. Empty means SELECT *.
	Columns []string

	From    []string
	Where   Expr
	OrderBy []OrderItem

	// Limit and Offset are -1 when absent.
	Limit  int64
	Offset int64
}

// SelectAll reports whether the statement selects whole documents.
func (s *Statement) SelectAll() bool {
	return len(s.Columns) == 0
}

// OrderItem is one ORDER BY entry.
type OrderItem struct {
	Ref  string
	Desc bool
}

// Expr is a WHERE clause node. Sealed: And, Or, Not, Comparison.
type Expr interface {
	exprNode()
	String() string
}

// And is a conjunction of two or more expressions.
type And struct {
	Operands []Expr
}

// Or is a disjunction of two or more expressions.
type Or struct {
	Operands []Expr
}

// Not negates an expression.
type Not struct {
	Operand Expr
}

// Comparison applies an operator to a reference and literal operands.
//
// The number of Values depends on Op: none for IS [NOT] NULL, two for
// [NOT] BETWEEN, one or more for [NOT] IN, exactly one otherwise.
type Comparison struct {
	Ref    string
	Op     Operator
	Values []model.Value
}

func (*And) exprNode()        {}
func (*Or) exprNode()         {}
func (*Not) exprNode()        {}
func (*Comparison) exprNode() {}

// Operator is a comparison operator.
type Operator int

const (
	OpEq Operator = iota + 1
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpLike
	OpNotLike
	OpILike
	OpNotILike
	OpIn
	OpNotIn
	OpBetween
	OpNotBetween
	OpIsNull
	OpIsNotNull
	OpStartsWith
)

var operatorText = map[Operator]string{
	OpEq:         "=",
	OpNe:         "<>",
	OpLt:         "<",
	OpLe:         "<=",
	OpGt:         ">",
	OpGe:         ">=",
	OpLike:       "LIKE",
	OpNotLike:    "NOT LIKE",
	OpILike:      "ILIKE",
	OpNotILike:   "NOT ILIKE",
	OpIn:         "IN",
	OpNotIn:      "NOT IN",
	OpBetween:    "BETWEEN",
	OpNotBetween: "NOT BETWEEN",
	OpIsNull:     "IS NULL",
	OpIsNotNull:  "IS NOT NULL",
	OpStartsWith: "STARTSWITH",
}

func (o Operator) String() string {
	if s, ok := operatorText[o]; ok {
		return s
	}
	return "op(" + strconv.Itoa(int(o)) + ")"
}

// Negative reports whether the operator is the negated form of another
// (<>, NOT LIKE, NOT ILIKE, NOT IN, NOT BETWEEN, IS NOT NULL).
func (o Operator) Negative() bool {
	switch o {
	case OpNe, OpNotLike, OpNotILike, OpNotIn, OpNotBetween, OpIsNotNull:
		return true
	}
	return false
}

// Positive returns the non-negated form of a negative operator.
func (o Operator) Positive() Operator {
	switch o {
	case OpNe:
		return OpEq
	case OpNotLike:
		return OpLike
	case OpNotILike:
		return OpILike
	case OpNotIn:
		return OpIn
	case OpNotBetween:
		return OpBetween
	case OpIsNotNull:
		return OpIsNull
	}
	return o
}

func (a *And) String() string { return joinExprs(a.Operands, " AND ") }
func (o *Or) String() string  { return joinExprs(o.Operands, " OR ") }
func (n *Not) String() string { return "NOT (" + n.Operand.String() + ")" }

func (c *Comparison) String() string {
	var b strings.Builder
	b.WriteString(c.Ref)
	b.WriteByte(' ')
	b.WriteString(c.Op.String())
	switch c.Op {
	case OpIsNull, OpIsNotNull:
	case OpIn, OpNotIn:
		b.WriteString(" (")
		for i, v := range c.Values {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(FormatLiteral(v))
		}
		b.WriteByte(')')
	case OpBetween, OpNotBetween:
		b.WriteString(" " + FormatLiteral(c.Values[0]) + " AND " + FormatLiteral(c.Values[1]))
	default:
		b.WriteString(" " + FormatLiteral(c.Values[0]))
	}
	return b.String()
}

func joinExprs(exprs []Expr, sep string) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		switch e.(type) {
		case *And, *Or:
			parts[i] = "(" + e.String() + ")"
		default:
			parts[i] = e.String()
		}
	}
	return strings.Join(parts, sep)
}

// FormatLiteral renders a literal in NXQL syntax.
func FormatLiteral(v model.Value) string {
	switch val := v.(type) {
	case model.String:
		return "'" + strings.ReplaceAll(string(val), "'", "''") + "'"
	case model.Int:
		return strconv.FormatInt(int64(val), 10)
	case model.Float:
		s := strconv.FormatFloat(float64(val), 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case model.Bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case model.Time:
		return "TIMESTAMP '" + time.Time(val).UTC().Format(time.RFC3339Nano) + "'"
	default:
		return "NULL"
	}
}

// String renders the statement back to NXQL.
func (s *Statement) String() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if s.Distinct {
		b.WriteString("DISTINCT ")
	}
	if s.SelectAll() {
		b.WriteString("*")
	} else {
		b.WriteString(strings.Join(s.Columns, ", "))
	}
	b.WriteString(" FROM ")
	b.WriteString(strings.Join(s.From, ", "))
	if s.Where != nil {
		b.WriteString(" WHERE ")
		b.WriteString(s.Where.String())
	}
	if len(s.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range s.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(o.Ref)
			if o.Desc {
				b.WriteString(" DESC")
			}
		}
	}
	if s.Limit >= 0 {
		b.WriteString(" LIMIT " + strconv.FormatInt(s.Limit, 10))
	}
	if s.Offset >= 0 {
		b.WriteString(" OFFSET " + strconv.FormatInt(s.Offset, 10))
	}
	return b.String()
}

// Walk calls fn for every comparison in e, depth first.
func Walk(e Expr, fn func(*Comparison)) {
	switch n := e.(type) {
	case *And:
		for _, o := range n.Operands {
			Walk(o, fn)
		}
	case *Or:
		for _, o := range n.Operands {
			Walk(o, fn)
		}
	case *Not:
		Walk(n.Operand, fn)
	case *Comparison:
		fn(n)
	}
}
