package queryir

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/nxdoc/internal/model"
)

// ValidationResult lists the problems found in a pushdown Select.
type ValidationResult struct {
	// Valid is true when the Select can be handed to any backend.
	Valid bool

	// Problems describes each rule violation, in traversal order.
	Problems []string
}

// Err returns nil for a valid result, or an error joining the problems.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("invalid pushdown: %s", strings.Join(r.Problems, "; "))
}

// Validate checks a Select against the pushdown fragment rules:
//  1. Columns are known pushdown columns
//  2. Property conditions only when proxies are out of scope
//  3. No NULL comparison values (NULL never equals anything)
//  4. In has at least one value
//
// Validate is a pure function with no side effects.
func Validate(sel *Select) ValidationResult {
	v := &validator{problems: []string{}}
	if sel == nil {
		v.addProblem("nil select")
	} else {
		v.validateSelect(sel)
	}
	return ValidationResult{Valid: len(v.problems) == 0, Problems: v.problems}
}

type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

var knownColumns = []string{
	ColumnID, ColumnKind, ColumnType, ColumnParentID, ColumnName,
	ColumnSeriesID, ColumnTargetID, ColumnLifecycle,
}

func (v *validator) validateSelect(sel *Select) {
	proxies := len(sel.Kinds) == 0 || slices.Contains(sel.Kinds, model.KindProxy)
	for _, c := range sel.Where {
		switch cond := c.(type) {
		case *Equals:
			v.validateField(cond.Field, proxies)
			if model.IsNull(cond.Value) {
				v.addProblem("field %s compared to NULL", fieldName(cond.Field))
			}
		case *In:
			v.validateField(cond.Field, proxies)
			if len(cond.Values) == 0 {
				v.addProblem("field %s: empty IN list", fieldName(cond.Field))
			}
			for _, val := range cond.Values {
				if model.IsNull(val) {
					v.addProblem("field %s: NULL in IN list", fieldName(cond.Field))
				}
			}
		default:
			v.addProblem("unknown condition type %T", c)
		}
	}
}

func (v *validator) validateField(f Field, proxies bool) {
	if f.IsProperty() {
		if f.Schema == "" || f.Name == "" {
			v.addProblem("property field needs schema and name")
			return
		}
		if proxies {
			v.addProblem("property %s cannot be pushed down while proxies are in scope", fieldName(f))
		}
		return
	}
	if !slices.Contains(knownColumns, f.Column) {
		v.addProblem("unknown column %q", f.Column)
	}
}

func fieldName(f Field) string {
	if f.IsProperty() {
		return f.Schema + ":" + f.Name
	}
	return f.Column
}
