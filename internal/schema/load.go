package schema

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

//go:embed default.cue
var defaultRegistrySource string

// LoadError reports a registry definition problem with its CUE position.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the built-in registry (core schemas and types). It panics
// if the embedded definition is invalid, which is a build defect.
func Default() *Registry {
	r, err := LoadString("default.cue", defaultRegistrySource)
	if err != nil {
		panic(fmt.Sprintf("built-in registry: %v", err))
	}
	return r
}

// LoadString compiles a CUE registry definition from source.
func LoadString(filename, src string) (*Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return build(v)
}

// LoadDir loads every .cue file of a directory as one CUE instance and
// builds the registry from it.
func LoadDir(dir string) (*Registry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("scan schema directory: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	// Files are passed by name so that package-less files load together.
	files := make([]string, len(matches))
	for i, m := range matches {
		files[i] = filepath.Base(m)
	}
	instances := load.Instances(files, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	if instances[0].Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", instances[0].Err)
	}
	v := cuecontext.New().BuildInstance(instances[0])
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return build(v)
}

// build converts the CUE value into a registry. Schemas are added first,
// then facets, then types, so that references can be validated.
func build(v cue.Value) (*Registry, error) {
	r := NewRegistry()

	if err := eachField(v, "schema", func(name string, sv cue.Value) error {
		s, err := parseSchema(name, sv)
		if err != nil {
			return err
		}
		return r.AddSchema(s)
	}); err != nil {
		return nil, err
	}

	if err := eachField(v, "facet", func(name string, fv cue.Value) error {
		schemas, err := stringList(fv, "schemas")
		if err != nil {
			return err
		}
		return r.AddFacet(&Facet{Name: name, Schemas: schemas})
	}); err != nil {
		return nil, err
	}

	// Types may reference super types declared later; add in dependency
	// order.
	pending := map[string]*DocType{}
	if err := eachField(v, "type", func(name string, tv cue.Value) error {
		t := &DocType{Name: name}
		var err error
		if t.Super, err = optionalString(tv, "super"); err != nil {
			return err
		}
		if t.Schemas, err = stringList(tv, "schemas"); err != nil {
			return err
		}
		if t.Facets, err = stringList(tv, "facets"); err != nil {
			return err
		}
		pending[name] = t
		return nil
	}); err != nil {
		return nil, err
	}
	for len(pending) > 0 {
		progressed := false
		names := make([]string, 0, len(pending))
		for n := range pending {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			t := pending[n]
			if t.Super != "" && t.Super != RootType {
				if _, ok := r.Type(t.Super); !ok {
					continue
				}
			}
			if err := r.AddType(t); err != nil {
				return nil, err
			}
			delete(pending, n)
			progressed = true
		}
		if !progressed {
			return nil, &LoadError{Field: "type", Message: fmt.Sprintf("unknown or cyclic super types among %s", strings.Join(names, ", "))}
		}
	}
	return r, nil
}

func eachField(v cue.Value, path string, fn func(string, cue.Value) error) error {
	sub := v.LookupPath(cue.ParsePath(path))
	if !sub.Exists() {
		return nil
	}
	iter, err := sub.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := fn(iter.Selector().Unquoted(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

// parseSchema reads { prefix?: string, fields: { name: spec } }.
func parseSchema(name string, v cue.Value) (*Schema, error) {
	s := &Schema{Name: name}
	var err error
	if s.Prefix, err = optionalString(v, "prefix"); err != nil {
		return nil, err
	}
	s.Fields, err = parseFields(v.LookupPath(cue.ParsePath("fields")))
	if err != nil {
		return nil, fmt.Errorf("schema %q: %w", name, err)
	}
	return s, nil
}

func parseFields(v cue.Value) ([]*Field, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var fields []*Field
	for iter.Next() {
		f, err := parseField(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields, nil
}

// parseField accepts either a type string ("string", "date[]", "blob") or
// a struct { type?, list?, versionWritable?, fields? }. A struct with
// fields and no type is complex.
func parseField(name string, v cue.Value) (*Field, error) {
	f := &Field{Name: name}
	if str, err := v.String(); err == nil {
		typeName := str
		if strings.HasSuffix(typeName, "[]") {
			f.List = true
			typeName = strings.TrimSuffix(typeName, "[]")
		}
		kind, ok := ParseFieldKind(typeName)
		if !ok || kind == KindComplex {
			return nil, &LoadError{Field: name, Message: fmt.Sprintf("unknown field type %q", str), Pos: v.Pos()}
		}
		f.Kind = kind
		if kind == KindBlob {
			f.Fields = blobFields()
		}
		return f, nil
	}

	typeName, err := optionalString(v, "type")
	if err != nil {
		return nil, err
	}
	if f.List, err = optionalBool(v, "list"); err != nil {
		return nil, err
	}
	if f.VersionWritable, err = optionalBool(v, "versionWritable"); err != nil {
		return nil, err
	}
	sub := v.LookupPath(cue.ParsePath("fields"))
	switch {
	case typeName == "" && sub.Exists():
		f.Kind = KindComplex
	case typeName == "":
		return nil, &LoadError{Field: name, Message: "field needs a type or sub-fields", Pos: v.Pos()}
	default:
		kind, ok := ParseFieldKind(typeName)
		if !ok {
			return nil, &LoadError{Field: name, Message: fmt.Sprintf("unknown field type %q", typeName), Pos: v.Pos()}
		}
		f.Kind = kind
	}
	switch f.Kind {
	case KindComplex:
		if f.Fields, err = parseFields(sub); err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
	case KindBlob:
		f.Fields = blobFields()
	}
	return f, nil
}

func blobFields() []*Field {
	return []*Field{
		{Name: BlobDigest, Kind: KindString},
		{Name: BlobLength, Kind: KindLong},
		{Name: BlobMimeType, Kind: KindString},
		{Name: BlobName, Kind: KindString},
	}
}

func optionalString(v cue.Value, path string) (string, error) {
	sub := v.LookupPath(cue.ParsePath(path))
	if !sub.Exists() {
		return "", nil
	}
	s, err := sub.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, path string) (bool, error) {
	sub := v.LookupPath(cue.ParsePath(path))
	if !sub.Exists() {
		return false, nil
	}
	b, err := sub.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func stringList(v cue.Value, path string) ([]string, error) {
	sub := v.LookupPath(cue.ParsePath(path))
	if !sub.Exists() {
		return nil, nil
	}
	iter, err := sub.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// formatCUEError converts a CUE error into a LoadError carrying the first
// position CUE reports.
func formatCUEError(err error) error {
	le := &LoadError{Field: "cue", Message: err.Error()}
	if positions := cueerrors.Positions(err); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}
