package nxql

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/model"
)

// Parse parses an NXQL statement.
//
// Syntax errors are errs.CodeParse errors carrying the query text and the
// offending position. Parse does not resolve references; that is the
// planner's job.
func Parse(query string) (*Statement, error) {
	toks, err := lex(query)
	if err != nil {
		return nil, err
	}
	p := &parser{input: query, toks: toks}
	stmt, err := p.statement()
	if err != nil {
		return nil, err
	}
	return stmt, nil
}

// ParseExpr parses a standalone WHERE expression.
func ParseExpr(expr string) (Expr, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{input: expr, toks: toks}
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return e, nil
}

type parser struct {
	input string
	toks  []token
	pos   int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isKeyword(kw string) bool {
	t := p.peek()
	return t.kind == tokKeyword && t.text == kw
}

func (p *parser) acceptKeyword(kw string) bool {
	if p.isKeyword(kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if !p.acceptKeyword(kw) {
		return p.errorf("expected %s", kw)
	}
	return nil
}

func (p *parser) expectEOF() error {
	if p.peek().kind != tokEOF {
		return p.errorf("unexpected trailing input")
	}
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	t := p.peek()
	found := t.text
	if t.kind == tokEOF {
		found = "end of query"
	}
	msg := fmt.Sprintf(format, args...)
	return errs.Parse("%s, found %q at position %d", msg, found, t.pos).
		With("query", p.input).
		With("position", strconv.Itoa(t.pos))
}

func (p *parser) statement() (*Statement, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	stmt := &Statement{Limit: -1, Offset: -1}
	stmt.Distinct = p.acceptKeyword("DISTINCT")

	if p.peek().kind == tokStar {
		p.next()
	} else {
		for {
			t := p.next()
			if t.kind != tokIdent {
				p.pos--
				return nil, p.errorf("expected column reference")
			}
			stmt.Columns = append(stmt.Columns, t.text)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	for {
		t := p.next()
		if t.kind != tokIdent {
			p.pos--
			return nil, p.errorf("expected document type")
		}
		stmt.From = append(stmt.From, t.text)
		if p.peek().kind != tokComma {
			break
		}
		p.next()
	}

	if p.acceptKeyword("WHERE") {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		stmt.Where = e
	}

	if p.acceptKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			t := p.next()
			if t.kind != tokIdent {
				p.pos--
				return nil, p.errorf("expected ORDER BY reference")
			}
			item := OrderItem{Ref: t.text}
			if p.acceptKeyword("DESC") {
				item.Desc = true
			} else {
				p.acceptKeyword("ASC")
			}
			stmt.OrderBy = append(stmt.OrderBy, item)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}

	if p.acceptKeyword("LIMIT") {
		n, err := p.count("LIMIT")
		if err != nil {
			return nil, err
		}
		stmt.Limit = n
	}
	if p.acceptKeyword("OFFSET") {
		n, err := p.count("OFFSET")
		if err != nil {
			return nil, err
		}
		stmt.Offset = n
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) count(clause string) (int64, error) {
	t := p.peek()
	if t.kind != tokNumber {
		return 0, p.errorf("expected integer after %s", clause)
	}
	n, err := strconv.ParseInt(t.text, 10, 64)
	if err != nil || n < 0 {
		return 0, p.errorf("invalid %s value", clause)
	}
	p.next()
	return n, nil
}

func (p *parser) expr() (Expr, error) {
	left, err := p.andExpr()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("OR") {
		return left, nil
	}
	or := &Or{Operands: []Expr{left}}
	for p.acceptKeyword("OR") {
		right, err := p.andExpr()
		if err != nil {
			return nil, err
		}
		or.Operands = append(or.Operands, right)
	}
	return or, nil
}

func (p *parser) andExpr() (Expr, error) {
	left, err := p.notExpr()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("AND") {
		return left, nil
	}
	and := &And{Operands: []Expr{left}}
	for p.acceptKeyword("AND") {
		right, err := p.notExpr()
		if err != nil {
			return nil, err
		}
		and.Operands = append(and.Operands, right)
	}
	return and, nil
}

func (p *parser) notExpr() (Expr, error) {
	if p.acceptKeyword("NOT") {
		e, err := p.notExpr()
		if err != nil {
			return nil, err
		}
		return &Not{Operand: e}, nil
	}
	if p.peek().kind == tokLParen {
		p.next()
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, p.errorf("expected )")
		}
		p.next()
		return e, nil
	}
	return p.comparison()
}

func (p *parser) comparison() (Expr, error) {
	t := p.next()
	if t.kind != tokIdent {
		p.pos--
		return nil, p.errorf("expected property reference")
	}
	c := &Comparison{Ref: t.text}

	if op := p.peek(); op.kind == tokOp {
		p.next()
		switch op.text {
		case "=":
			c.Op = OpEq
		case "<>", "!=":
			c.Op = OpNe
		case "<":
			c.Op = OpLt
		case "<=":
			c.Op = OpLe
		case ">":
			c.Op = OpGt
		case ">=":
			c.Op = OpGe
		}
		v, err := p.literal()
		if err != nil {
			return nil, err
		}
		c.Values = []model.Value{v}
		return c, nil
	}

	negated := p.acceptKeyword("NOT")
	switch {
	case p.acceptKeyword("LIKE"):
		c.Op = pick(negated, OpNotLike, OpLike)
		return p.singleValue(c)
	case p.acceptKeyword("ILIKE"):
		c.Op = pick(negated, OpNotILike, OpILike)
		return p.singleValue(c)
	case p.acceptKeyword("IN"):
		c.Op = pick(negated, OpNotIn, OpIn)
		if p.peek().kind != tokLParen {
			return nil, p.errorf("expected ( after IN")
		}
		p.next()
		for {
			v, err := p.literal()
			if err != nil {
				return nil, err
			}
			c.Values = append(c.Values, v)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
		if p.peek().kind != tokRParen {
			return nil, p.errorf("expected ) after IN list")
		}
		p.next()
		return c, nil
	case p.acceptKeyword("BETWEEN"):
		c.Op = pick(negated, OpNotBetween, OpBetween)
		lo, err := p.literal()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		hi, err := p.literal()
		if err != nil {
			return nil, err
		}
		c.Values = []model.Value{lo, hi}
		return c, nil
	case !negated && p.acceptKeyword("IS"):
		not := p.acceptKeyword("NOT")
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		c.Op = pick(not, OpIsNotNull, OpIsNull)
		return c, nil
	case !negated && p.acceptKeyword("STARTSWITH"):
		c.Op = OpStartsWith
		return p.singleValue(c)
	}
	return nil, p.errorf("expected operator after %s", c.Ref)
}

func (p *parser) singleValue(c *Comparison) (Expr, error) {
	v, err := p.literal()
	if err != nil {
		return nil, err
	}
	c.Values = []model.Value{v}
	return c, nil
}

func pick(cond bool, yes, no Operator) Operator {
	if cond {
		return yes
	}
	return no
}

func (p *parser) literal() (model.Value, error) {
	t := p.peek()
	switch {
	case t.kind == tokString:
		p.next()
		return model.String(t.text), nil
	case t.kind == tokNumber:
		p.next()
		if strings.ContainsAny(t.text, ".eE") {
			f, err := strconv.ParseFloat(t.text, 64)
			if err != nil {
				return nil, p.errorf("invalid number")
			}
			return model.Float(f), nil
		}
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, p.errorf("invalid integer")
		}
		return model.Int(n), nil
	case t.kind == tokKeyword && t.text == "TRUE":
		p.next()
		return model.Bool(true), nil
	case t.kind == tokKeyword && t.text == "FALSE":
		p.next()
		return model.Bool(false), nil
	case t.kind == tokKeyword && (t.text == "TIMESTAMP" || t.text == "DATE"):
		p.next()
		s := p.peek()
		if s.kind != tokString {
			return nil, p.errorf("expected quoted value after %s", t.text)
		}
		ts, err := parseTime(t.text, s.text)
		if err != nil {
			return nil, p.errorf("invalid %s literal", t.text)
		}
		p.next()
		return model.Time(ts), nil
	}
	return nil, p.errorf("expected literal")
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTime accepts ISO timestamps; values without a zone are UTC.
func parseTime(kind, s string) (time.Time, error) {
	if kind == "DATE" {
		return time.Parse("2006-01-02", s)
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
