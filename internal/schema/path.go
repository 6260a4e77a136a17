package schema

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/nxdoc/internal/errs"
)

// StepKind is the kind of one segment of a resolved property path.
type StepKind int

const (
	// StepField selects a named sub-field of a complex value.
	StepField StepKind = iota + 1
	// StepIndex selects a fixed list position.
	StepIndex
	// StepWildcard iterates a list; Var names the wildcard.
	StepWildcard
)

// Step is one resolved path segment after the schema field itself.
type Step struct {
	Kind  StepKind
	Name  string // StepField
	Index int    // StepIndex

	// Var identifies a wildcard. Correlated wildcards ("*1") use their
	// literal text; uncorrelated "*" are left empty and numbered by the
	// planner.
	Var string
}

// Path is a property reference resolved against the registry.
type Path struct {
	Schema *Schema
	Field  *Field
	Steps  []Step

	// Leaf is the field reached at the end of the path (the list field
	// itself for an index/wildcard step over scalars).
	Leaf *Field

	// ListValued is true when the path ends on a list without selecting
	// an element, so comparisons use "any element" semantics.
	ListValued bool
}

// Canonical renders the path as schema:field/steps using schema names.
func (p *Path) Canonical() string {
	var b strings.Builder
	b.WriteString(p.Schema.Name)
	b.WriteByte(':')
	b.WriteString(p.Field.Name)
	for _, s := range p.Steps {
		b.WriteByte('/')
		switch s.Kind {
		case StepField:
			b.WriteString(s.Name)
		case StepIndex:
			b.WriteString(strconv.Itoa(s.Index))
		case StepWildcard:
			if s.Var == "" {
				b.WriteString("*")
			} else {
				b.WriteString(s.Var)
			}
		}
	}
	return b.String()
}

// HasWildcard reports whether any step is a wildcard.
func (p *Path) HasWildcard() bool {
	for _, s := range p.Steps {
		if s.Kind == StepWildcard {
			return true
		}
	}
	return false
}

// IsWildcardSegment reports whether seg is "*" or "*N".
func IsWildcardSegment(seg string) bool {
	if seg == "*" {
		return true
	}
	if len(seg) < 2 || seg[0] != '*' {
		return false
	}
	_, err := strconv.Atoi(seg[1:])
	return err == nil
}

// Resolve resolves an xpath such as "dc:title", "cpx:people/*1/firstname"
// or "subjects/0" against the schemas available to the given types.
//
// Prefixed references resolve through the schema prefix (or the schema
// name for schemas without prefix). Unprefixed references resolve only
// against schemas that declare no prefix, and only when exactly one such
// schema of the queried types (or any facet) has the field.
func (r *Registry) Resolve(xpath string, types []string) (*Path, error) {
	segments := strings.Split(xpath, "/")
	head := segments[0]
	if head == "" {
		return nil, parseErr(xpath, head, "empty property name")
	}

	var (
		sch   *Schema
		field *Field
	)
	if prefix, name, ok := strings.Cut(head, ":"); ok {
		s, found := r.prefixes[prefix]
		if !found {
			if byName, exists := r.schemas[prefix]; exists && byName.Prefix == "" {
				s, found = byName, true
			}
		}
		if !found {
			return nil, parseErr(xpath, head, fmt.Sprintf("no schema with prefix %q", prefix))
		}
		sch = s
		field = s.Field(name)
		if field == nil {
			return nil, parseErr(xpath, head, fmt.Sprintf("schema %q has no field %q", s.Name, name))
		}
	} else {
		var candidates []*Schema
		var prefixed []string
		for _, sname := range r.candidateSchemas(types) {
			s := r.schemas[sname]
			if s.Field(head) == nil {
				continue
			}
			if s.Prefix != "" {
				prefixed = append(prefixed, s.Prefix+":"+head)
				continue
			}
			candidates = append(candidates, s)
		}
		switch {
		case len(candidates) == 1:
			sch = candidates[0]
			field = sch.Field(head)
		case len(candidates) > 1:
			names := make([]string, len(candidates))
			for i, c := range candidates {
				names[i] = c.Name
			}
			return nil, parseErr(xpath, head, fmt.Sprintf("ambiguous property, found in schemas %s", strings.Join(names, ", ")))
		case len(prefixed) > 0:
			return nil, parseErr(xpath, head, fmt.Sprintf("prefix required, use %s", strings.Join(prefixed, " or ")))
		default:
			return nil, parseErr(xpath, head, "no such property")
		}
	}

	p := &Path{Schema: sch, Field: field, Leaf: field}
	cur := field
	inList := field.List
	for _, seg := range segments[1:] {
		switch {
		case seg == "":
			return nil, parseErr(xpath, seg, "empty path segment")
		case IsWildcardSegment(seg) || isIndex(seg):
			if !inList {
				return nil, parseErr(xpath, seg, fmt.Sprintf("%q is not a list", cur.Name))
			}
			if isIndex(seg) {
				n, _ := strconv.Atoi(seg)
				p.Steps = append(p.Steps, Step{Kind: StepIndex, Index: n})
			} else {
				v := ""
				if seg != "*" {
					v = seg
				}
				p.Steps = append(p.Steps, Step{Kind: StepWildcard, Var: v})
			}
			inList = false
		default:
			if inList {
				// Implicit element selection is not allowed inside lists of
				// complex values; the caller must say which element.
				return nil, parseErr(xpath, seg, fmt.Sprintf("%q is a list, an index or wildcard is required before %q", cur.Name, seg))
			}
			if !cur.IsComplex() {
				return nil, parseErr(xpath, seg, fmt.Sprintf("%q is not a complex property", cur.Name))
			}
			child := cur.Child(seg)
			if child == nil {
				return nil, parseErr(xpath, seg, fmt.Sprintf("%q has no sub-property %q", cur.Name, seg))
			}
			p.Steps = append(p.Steps, Step{Kind: StepField, Name: seg})
			cur = child
			inList = child.List
		}
	}
	p.Leaf = cur
	p.ListValued = inList
	return p, nil
}

func (r *Registry) candidateSchemas(types []string) []string {
	var out []string
	for _, t := range types {
		for _, s := range r.TypeSchemas(t) {
			if !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	facetNames := make([]string, 0, len(r.facets))
	for n := range r.facets {
		facetNames = append(facetNames, n)
	}
	slices.Sort(facetNames)
	for _, fn := range facetNames {
		for _, s := range r.facets[fn].Schemas {
			if !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	return out
}

func isIndex(seg string) bool {
	if seg == "" {
		return false
	}
	for _, c := range seg {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func parseErr(xpath, segment, why string) error {
	return errs.Parse("cannot resolve property %q: %s", xpath, why).
		With("path", xpath).
		With("segment", segment)
}
