// Package fulltext implements the small fulltext grammar accepted by
// ecm:fulltext predicates and a word-level matcher used to evaluate it.
//
// Grammar: whitespace separated terms are ANDed; "-term" negates; a
// double-quoted "phrase" must match contiguous words; the keyword OR
// separates alternatives; a trailing * or % on a term requests prefix
// matching of its last word.
//
// Text is NFC normalized and case folded before tokenizing, so queries
// and documents compare in a locale-independent way.
package fulltext

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/nxdoc/internal/errs"
)

// Term is one positive or negative word sequence.
type Term struct {
	Words   []string
	Prefix  bool
	Negated bool
}

// Clause is a conjunction of terms.
type Clause struct {
	Terms []Term
}

// Query is a disjunction of clauses.
type Query struct {
	Raw     string
	Clauses []Clause
}

var folder = cases.Fold()

// Tokenize normalizes text and splits it into folded words.
func Tokenize(text string) []string {
	folded := folder.String(norm.NFC.String(text))
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Parse parses a fulltext expression.
func Parse(expr string) (*Query, error) {
	q := &Query{Raw: expr}
	var cur Clause
	flush := func() error {
		if len(cur.Terms) == 0 {
			return errs.Parse("empty fulltext alternative in %q", expr)
		}
		positive := false
		for _, t := range cur.Terms {
			if !t.Negated {
				positive = true
			}
		}
		if !positive {
			return errs.Parse("fulltext alternative needs a positive term in %q", expr)
		}
		q.Clauses = append(q.Clauses, cur)
		cur = Clause{}
		return nil
	}

	for _, raw := range splitTerms(expr) {
		if raw == "OR" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		term := Term{}
		if strings.HasPrefix(raw, "-") && len(raw) > 1 {
			term.Negated = true
			raw = raw[1:]
		}
		raw = strings.Trim(raw, `"`)
		if strings.HasSuffix(raw, "*") || strings.HasSuffix(raw, "%") {
			term.Prefix = true
			raw = strings.TrimRight(raw, "*%")
		}
		term.Words = Tokenize(raw)
		if len(term.Words) == 0 {
			continue
		}
		cur.Terms = append(cur.Terms, term)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return q, nil
}

// splitTerms splits on whitespace, keeping double-quoted phrases whole
// (including a leading "-").
func splitTerms(expr string) []string {
	var out []string
	var b strings.Builder
	inQuote := false
	for _, r := range expr {
		switch {
		case r == '"':
			inQuote = !inQuote
			b.WriteRune(r)
		case unicode.IsSpace(r) && !inQuote:
			if b.Len() > 0 {
				out = append(out, b.String())
				b.Reset()
			}
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

// Document is the tokenized text of one document.
type Document struct {
	words []string
}

// NewDocument tokenizes the given texts as one word sequence. Texts are
// separated so that phrases never span two values.
func NewDocument(texts ...string) *Document {
	d := &Document{}
	for i, t := range texts {
		if i > 0 {
			d.words = append(d.words, "")
		}
		d.words = append(d.words, Tokenize(t)...)
	}
	return d
}

// Len returns the number of words.
func (d *Document) Len() int {
	n := 0
	for _, w := range d.words {
		if w != "" {
			n++
		}
	}
	return n
}

// Match evaluates q against d and returns a relevance score in (0, 1] on
// match. The score is the best hit density among matching alternatives.
func (q *Query) Match(d *Document) (bool, float64) {
	matched := false
	best := 0.0
	for _, c := range q.Clauses {
		hits, ok := c.match(d)
		if !ok {
			continue
		}
		matched = true
		score := float64(hits) / float64(hits+d.Len())
		if score > best {
			best = score
		}
	}
	return matched, best
}

func (c Clause) match(d *Document) (int, bool) {
	hits := 0
	for _, t := range c.Terms {
		n := t.occurrences(d)
		if t.Negated {
			if n > 0 {
				return 0, false
			}
			continue
		}
		if n == 0 {
			return 0, false
		}
		hits += n
	}
	return hits, true
}

func (t Term) occurrences(d *Document) int {
	n := 0
	last := len(t.Words) - 1
	for i := 0; i+last < len(d.words); i++ {
		ok := true
		for j, w := range t.Words {
			dw := d.words[i+j]
			if j == last && t.Prefix {
				if !strings.HasPrefix(dw, w) {
					ok = false
				}
			} else if dw != w {
				ok = false
			}
			if !ok {
				break
			}
		}
		if ok {
			n++
		}
	}
	return n
}
