package queryir

import (
	"slices"

	"github.com/roach88/nxdoc/internal/model"
)

// Pushdown columns. Backends map these to native storage.
const (
	ColumnID        = "id"
	ColumnKind      = "kind"
	ColumnType      = "type"
	ColumnParentID  = "parent_id"
	ColumnName      = "name"
	ColumnSeriesID  = "series_id"
	ColumnTargetID  = "target_id"
	ColumnLifecycle = "lifecycle_state"
)

// Select is the backend prefilter.
//
// Semantics:
//
//	type IN Types AND kind IN Kinds AND Where[0] AND Where[1] ...
//
// Empty Types or Kinds means unrestricted. Property conditions are only
// valid when Kinds excludes proxies, since proxies hold no properties of
// their own (see Validate).
type Select struct {
	Types []string
	Kinds []model.Kind
	Where []Condition
}

// Condition is one pushdown conjunct. Sealed.
type Condition interface {
	conditionNode()
}

// Field addresses a system column (Column set) or a top-level scalar
// property (Schema and Name set).
type Field struct {
	Column string
	Schema string
	Name   string
}

// IsProperty reports whether the field addresses a property.
func (f Field) IsProperty() bool { return f.Column == "" }

// Equals is field = value.
type Equals struct {
	Field Field
	Value model.Value
}

// In is field IN (values).
type In struct {
	Field  Field
	Values []model.Value
}

func (*Equals) conditionNode() {}
func (*In) conditionNode()     {}

// Match evaluates sel against a stored state in Go. Backends without a
// native query language (bbolt) filter with it; the SQL compiler must
// agree with it.
func Match(sel *Select, st *model.State) bool {
	if sel == nil {
		return true
	}
	if len(sel.Types) > 0 && !slices.Contains(sel.Types, st.Type) {
		return false
	}
	if len(sel.Kinds) > 0 && !slices.Contains(sel.Kinds, st.Kind) {
		return false
	}
	for _, c := range sel.Where {
		switch cond := c.(type) {
		case *Equals:
			if !valueMatches(fieldValue(cond.Field, st), cond.Value) {
				return false
			}
		case *In:
			v := fieldValue(cond.Field, st)
			found := false
			for _, want := range cond.Values {
				if valueMatches(v, want) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func valueMatches(have, want model.Value) bool {
	if model.IsNull(have) {
		return false
	}
	c, ok := model.Compare(have, want)
	return ok && c == 0
}

// fieldValue reads a pushdown field from a state. Empty system strings
// read as null, matching the SQL backend's NULL columns.
func fieldValue(f Field, st *model.State) model.Value {
	if f.IsProperty() {
		data := st.SchemaData(f.Schema)
		if data == nil {
			return model.Null{}
		}
		v, ok := data[f.Name]
		if !ok {
			return model.Null{}
		}
		return v
	}
	var s string
	switch f.Column {
	case ColumnID:
		s = st.ID
	case ColumnKind:
		return model.Int(st.Kind)
	case ColumnType:
		s = st.Type
	case ColumnParentID:
		s = st.ParentID
	case ColumnName:
		s = st.Name
	case ColumnSeriesID:
		s = st.SeriesID
	case ColumnTargetID:
		s = st.TargetID
	case ColumnLifecycle:
		s = st.LifecycleState
	}
	if s == "" {
		return model.Null{}
	}
	return model.String(s)
}
