package core

import (
	"fmt"
	"slices"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/schema"
)

// validateProperties checks every schema map of st against the registry:
// the schema must be present on the document, fields must exist and
// values must match their declared kinds.
func validateProperties(reg *schema.Registry, st *model.State) error {
	present := reg.DocumentSchemas(st.Type, st.Facets)
	for _, name := range st.Properties.SortedKeys() {
		if !slices.Contains(present, name) {
			return errs.NotFound("document %s has no schema %s", st.ID, name).
				With("id", st.ID).
				With("schema", name)
		}
		sch, ok := reg.Schema(name)
		if !ok {
			return errs.NotFound("unknown schema %s", name).With("schema", name)
		}
		data := st.SchemaData(name)
		for _, field := range data.SortedKeys() {
			f := sch.Field(field)
			if f == nil {
				return errs.NotFound("schema %s has no field %s", name, field).
					With("schema", name).
					With("field", field)
			}
			if err := validateValue(f, data[field], name+":"+field); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateValue checks v against field f. NULL is valid everywhere.
func validateValue(f *schema.Field, v model.Value, path string) error {
	if model.IsNull(v) {
		return nil
	}
	if !f.List {
		return validateElement(f, v, path)
	}
	l, ok := v.(model.List)
	if !ok {
		return typeError(path, "list", v)
	}
	for i, e := range l {
		if model.IsNull(e) {
			continue
		}
		if err := validateElement(f, e, fmt.Sprintf("%s/%d", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func validateElement(f *schema.Field, v model.Value, path string) error {
	ok := false
	switch f.Kind {
	case schema.KindString:
		_, ok = v.(model.String)
	case schema.KindLong:
		_, ok = v.(model.Int)
	case schema.KindDouble:
		switch v.(type) {
		case model.Float, model.Int:
			ok = true
		}
	case schema.KindBoolean:
		_, ok = v.(model.Bool)
	case schema.KindDate:
		_, ok = v.(model.Time)
	case schema.KindComplex, schema.KindBlob:
		m, isMap := v.(model.Map)
		if !isMap {
			return typeError(path, f.Kind.String(), v)
		}
		for _, k := range m.SortedKeys() {
			child := f.Child(k)
			if child == nil {
				return errs.NotFound("property %s has no sub-property %s", path, k).
					With("path", path+"/"+k)
			}
			if err := validateValue(child, m[k], path+"/"+k); err != nil {
				return err
			}
		}
		return nil
	}
	if !ok {
		return typeError(path, f.Kind.String(), v)
	}
	return nil
}

func typeError(path, want string, got model.Value) error {
	return errs.Conflict("property %s expects %s, got %T", path, want, got).
		With("path", path).
		With("expected", want)
}
