package core

import (
	"fmt"
	"slices"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/schema"
)

// resolve resolves xpath against the schemas present on st.
func (s *Session) resolve(st *model.State, xpath string) (*schema.Path, error) {
	reg := s.repo.registry
	p, err := reg.Resolve(xpath, []string{st.Type})
	if err != nil {
		return nil, err
	}
	if p.HasWildcard() {
		return nil, errs.Parse("property %q: a wildcard does not address a single value", xpath).
			With("path", xpath)
	}
	if !slices.Contains(reg.DocumentSchemas(st.Type, st.Facets), p.Schema.Name) {
		return nil, errs.NotFound("document %s has no schema %s", st.ID, p.Schema.Name).
			With("id", st.ID).
			With("schema", p.Schema.Name)
	}
	return p, nil
}

// getAt reads the value addressed by p, or Null when any step is missing.
func getAt(data model.Map, p *schema.Path) model.Value {
	cur, ok := data[p.Field.Name]
	if !ok {
		return model.Null{}
	}
	for _, step := range p.Steps {
		switch step.Kind {
		case schema.StepField:
			m, ok := cur.(model.Map)
			if !ok {
				return model.Null{}
			}
			if cur, ok = m[step.Name]; !ok {
				return model.Null{}
			}
		case schema.StepIndex:
			l, ok := cur.(model.List)
			if !ok || step.Index >= len(l) {
				return model.Null{}
			}
			cur = l[step.Index]
		}
	}
	if cur == nil {
		return model.Null{}
	}
	return model.Clone(cur)
}

// setAt returns a copy of data with the value addressed by p replaced. An
// index equal to the list length appends.
func setAt(data model.Map, p *schema.Path, v model.Value) (model.Map, error) {
	out := data.Clone()
	if out == nil {
		out = model.Map{}
	}
	val, err := setIn(out[p.Field.Name], p.Steps, v)
	if err != nil {
		return nil, fmt.Errorf("set %s: %w", p.Canonical(), err)
	}
	out[p.Field.Name] = val
	return out, nil
}

func setIn(cur model.Value, steps []schema.Step, v model.Value) (model.Value, error) {
	if len(steps) == 0 {
		return v, nil
	}
	step := steps[0]
	switch step.Kind {
	case schema.StepField:
		m, _ := cur.(model.Map)
		m = m.Clone()
		if m == nil {
			m = model.Map{}
		}
		child, err := setIn(m[step.Name], steps[1:], v)
		if err != nil {
			return nil, err
		}
		m[step.Name] = child
		return m, nil
	case schema.StepIndex:
		l, _ := cur.(model.List)
		if step.Index > len(l) {
			return nil, errs.Conflict("index %d out of range for list of %d elements", step.Index, len(l))
		}
		l = slices.Clone(l)
		if step.Index == len(l) {
			l = append(l, model.Null{})
		}
		child, err := setIn(l[step.Index], steps[1:], v)
		if err != nil {
			return nil, err
		}
		l[step.Index] = child
		return l, nil
	}
	return nil, errs.Parse("unsupported path step")
}

// applyValues writes xpath-keyed values into st, in key order.
func (s *Session) applyValues(st *model.State, values map[string]model.Value) error {
	for _, xpath := range sortedKeys(values) {
		p, err := s.resolve(st, xpath)
		if err != nil {
			return err
		}
		if st.IsVersion() {
			if err := s.checkVersionWrite(st, p); err != nil {
				return err
			}
		}
		data, err := setAt(st.SchemaData(p.Schema.Name), p, values[xpath])
		if err != nil {
			return err
		}
		if err := validateValue(p.Field, data[p.Field.Name], xpath); err != nil {
			return err
		}
		st.SetSchemaData(p.Schema.Name, data)
	}
	return nil
}

func (s *Session) checkVersionWrite(st *model.State, p *schema.Path) error {
	if !s.cfg.allowVersionWrite {
		return errs.Immutable("version %s cannot be modified", st.ID).With("id", st.ID)
	}
	if !p.Field.VersionWritable {
		name := s.repo.registry.QualifiedName(p.Schema.Name, p.Field.Name)
		return errs.Immutable("property %s of version %s is not version-writable", name, st.ID).
			With("id", st.ID).
			With("property", name)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
