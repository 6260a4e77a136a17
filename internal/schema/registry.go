package schema

import (
	"fmt"
	"slices"
	"sort"
)

// FieldKind is the scalar or structural kind of a schema field.
type FieldKind int

const (
	KindString FieldKind = iota + 1
	KindLong
	KindDouble
	KindBoolean
	KindDate
	KindBlob
	KindComplex
)

var kindNames = map[string]FieldKind{
	"string":  KindString,
	"long":    KindLong,
	"integer": KindLong,
	"double":  KindDouble,
	"boolean": KindBoolean,
	"date":    KindDate,
	"blob":    KindBlob,
	"complex": KindComplex,
}

// String returns the registry spelling of the kind.
func (k FieldKind) String() string {
	for name, kind := range kindNames {
		if kind == k && name != "integer" {
			return name
		}
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseFieldKind maps a registry type name to a FieldKind.
func ParseFieldKind(name string) (FieldKind, bool) {
	k, ok := kindNames[name]
	return k, ok
}

// Blob sub-fields. A blob field is a complex value with these keys.
const (
	BlobName     = "name"
	BlobMimeType = "mime-type"
	BlobDigest   = "digest"
	BlobLength   = "length"
)

// Field describes one schema field. Complex fields (and blobs) have
// sub-fields; List marks arrays of scalars and lists of complex values.
type Field struct {
	Name            string
	Kind            FieldKind
	List            bool
	Fields          []*Field
	VersionWritable bool
}

// IsComplex reports whether the field holds maps (complex or blob).
func (f *Field) IsComplex() bool {
	return f.Kind == KindComplex || f.Kind == KindBlob
}

// Child returns the named sub-field of a complex field.
func (f *Field) Child(name string) *Field {
	for _, c := range f.Fields {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Schema is a named set of fields. Prefix is optional; when set, field
// references must use it.
type Schema struct {
	Name   string
	Prefix string
	Fields []*Field
}

// Field returns the named top-level field.
func (s *Schema) Field(name string) *Field {
	for _, f := range s.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Facet contributes schemas to the documents that carry it.
type Facet struct {
	Name    string
	Schemas []string
}

// DocType is a document type: its schemas and static facets. Super names
// the parent type; "Document" is the implicit root of all types.
type DocType struct {
	Name    string
	Super   string
	Schemas []string
	Facets  []string
}

// Registry is an immutable-after-build catalog of schemas, facets and types.
// It is safe for concurrent reads once populated.
type Registry struct {
	schemas  map[string]*Schema
	prefixes map[string]*Schema
	facets   map[string]*Facet
	types    map[string]*DocType
}

// RootType is the implicit super type of every registered type.
const RootType = "Document"

// Well-known facets interpreted by the core.
const (
	FacetFolderish   = "Folderish"
	FacetVersionable = "Versionable"
	FacetImmutable   = "Immutable"
	FacetHidden      = "HiddenInNavigation"
)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas:  make(map[string]*Schema),
		prefixes: make(map[string]*Schema),
		facets:   make(map[string]*Facet),
		types:    make(map[string]*DocType),
	}
}

// AddSchema registers a schema. Names and prefixes must be unique.
func (r *Registry) AddSchema(s *Schema) error {
	if s.Name == "" {
		return fmt.Errorf("schema name is required")
	}
	if _, ok := r.schemas[s.Name]; ok {
		return fmt.Errorf("duplicate schema %q", s.Name)
	}
	if s.Prefix != "" {
		if other, ok := r.prefixes[s.Prefix]; ok {
			return fmt.Errorf("schema %q: prefix %q already used by %q", s.Name, s.Prefix, other.Name)
		}
		r.prefixes[s.Prefix] = s
	}
	r.schemas[s.Name] = s
	return nil
}

// AddFacet registers a facet.
func (r *Registry) AddFacet(f *Facet) error {
	if _, ok := r.facets[f.Name]; ok {
		return fmt.Errorf("duplicate facet %q", f.Name)
	}
	for _, s := range f.Schemas {
		if _, ok := r.schemas[s]; !ok {
			return fmt.Errorf("facet %q: unknown schema %q", f.Name, s)
		}
	}
	r.facets[f.Name] = f
	return nil
}

// AddType registers a document type. Schemas and facets must exist.
func (r *Registry) AddType(t *DocType) error {
	if t.Name == RootType {
		return fmt.Errorf("type name %q is reserved", RootType)
	}
	if _, ok := r.types[t.Name]; ok {
		return fmt.Errorf("duplicate type %q", t.Name)
	}
	for _, s := range t.Schemas {
		if _, ok := r.schemas[s]; !ok {
			return fmt.Errorf("type %q: unknown schema %q", t.Name, s)
		}
	}
	for _, f := range t.Facets {
		if _, ok := r.facets[f]; !ok {
			return fmt.Errorf("type %q: unknown facet %q", t.Name, f)
		}
	}
	if t.Super == "" {
		t.Super = RootType
	}
	r.types[t.Name] = t
	return nil
}

// Schema returns a schema by name.
func (r *Registry) Schema(name string) (*Schema, bool) {
	s, ok := r.schemas[name]
	return s, ok
}

// SchemaByPrefix returns the schema declaring prefix.
func (r *Registry) SchemaByPrefix(prefix string) (*Schema, bool) {
	s, ok := r.prefixes[prefix]
	return s, ok
}

// Facet returns a facet by name.
func (r *Registry) Facet(name string) (*Facet, bool) {
	f, ok := r.facets[name]
	return f, ok
}

// Type returns a document type by name.
func (r *Registry) Type(name string) (*DocType, bool) {
	t, ok := r.types[name]
	return t, ok
}

// TypeNames lists registered types in sorted order.
func (r *Registry) TypeNames() []string {
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SchemaNames lists registered schemas in sorted order.
func (r *Registry) SchemaNames() []string {
	names := make([]string, 0, len(r.schemas))
	for n := range r.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FacetNames lists registered facets in sorted order.
func (r *Registry) FacetNames() []string {
	names := make([]string, 0, len(r.facets))
	for n := range r.facets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsSubtype reports whether typ equals super or descends from it.
func (r *Registry) IsSubtype(typ, super string) bool {
	if super == RootType || typ == super {
		return true
	}
	seen := map[string]bool{}
	for cur := typ; cur != "" && !seen[cur]; {
		seen[cur] = true
		t, ok := r.types[cur]
		if !ok {
			return false
		}
		if t.Super == super {
			return true
		}
		cur = t.Super
	}
	return false
}

// Subtypes expands a FROM type into every registered type it covers.
// Returns false when name is neither RootType nor a registered type.
func (r *Registry) Subtypes(name string) ([]string, bool) {
	if name != RootType {
		if _, ok := r.types[name]; !ok {
			return nil, false
		}
	}
	var out []string
	for _, n := range r.TypeNames() {
		if r.IsSubtype(n, name) {
			out = append(out, n)
		}
	}
	return out, true
}

// TypeFacets returns the static facets of a type, including inherited ones.
func (r *Registry) TypeFacets(typ string) []string {
	var out []string
	seen := map[string]bool{}
	for cur := typ; cur != "" && cur != RootType && !seen[cur]; {
		seen[cur] = true
		t, ok := r.types[cur]
		if !ok {
			break
		}
		for _, f := range t.Facets {
			if !slices.Contains(out, f) {
				out = append(out, f)
			}
		}
		cur = t.Super
	}
	return out
}

// TypeSchemas returns the schemas declared by a type, its super types and
// its static facets.
func (r *Registry) TypeSchemas(typ string) []string {
	var out []string
	add := func(names []string) {
		for _, n := range names {
			if !slices.Contains(out, n) {
				out = append(out, n)
			}
		}
	}
	seen := map[string]bool{}
	for cur := typ; cur != "" && cur != RootType && !seen[cur]; {
		seen[cur] = true
		t, ok := r.types[cur]
		if !ok {
			break
		}
		add(t.Schemas)
		cur = t.Super
	}
	for _, f := range r.TypeFacets(typ) {
		if facet, ok := r.facets[f]; ok {
			add(facet.Schemas)
		}
	}
	return out
}

// DocumentSchemas computes the schemas present on a document of type typ
// carrying the given dynamic facets. Recomputed on every call.
func (r *Registry) DocumentSchemas(typ string, dynamicFacets []string) []string {
	out := r.TypeSchemas(typ)
	for _, f := range dynamicFacets {
		facet, ok := r.facets[f]
		if !ok {
			continue
		}
		for _, s := range facet.Schemas {
			if !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	return out
}

// DocumentFacets returns type facets followed by dynamic facets.
func (r *Registry) DocumentFacets(typ string, dynamicFacets []string) []string {
	out := r.TypeFacets(typ)
	for _, f := range dynamicFacets {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// HasTypeFacet reports whether typ statically carries facet.
func (r *Registry) HasTypeFacet(typ, facet string) bool {
	return slices.Contains(r.TypeFacets(typ), facet)
}

// QualifiedName renders "prefix:field" (or "schema:field" when the schema
// has no prefix).
func (r *Registry) QualifiedName(schemaName, field string) string {
	s, ok := r.schemas[schemaName]
	if ok && s.Prefix != "" {
		return s.Prefix + ":" + field
	}
	return schemaName + ":" + field
}
