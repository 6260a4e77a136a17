// Package querysql compiles the pushdown Select of a query plan into
// parameterized SQL for the SQLite document table.
//
// CRITICAL: every query ends with ORDER BY d.id COLLATE BINARY ASC so
// results are deterministic and match the bbolt backend's key order.
// CRITICAL: values are never interpolated; every value is a ? parameter,
// including JSON paths handed to json_extract.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/queryir"
)

// SelectColumns is the column list of every compiled query. The lock
// columns come from the LEFT JOIN and are NULL for unlocked documents.
const SelectColumns = "d.state, l.owner, l.created"

const fromClause = "documents d LEFT JOIN locks l ON l.id = d.id"

// columns maps pushdown columns to table columns.
var columns = map[string]string{
	queryir.ColumnID:        "d.id",
	queryir.ColumnKind:      "d.kind",
	queryir.ColumnType:      "d.type",
	queryir.ColumnParentID:  "d.parent_id",
	queryir.ColumnName:      "d.name",
	queryir.ColumnSeriesID:  "d.series_id",
	queryir.ColumnTargetID:  "d.target_id",
	queryir.ColumnLifecycle: "d.lifecycle_state",
}

// SQLCompiler compiles queryir.Select to parameterized SQL for SQLite.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a Select to (sql, params). A nil Select matches every
// document.
func (c *SQLCompiler) Compile(sel *queryir.Select) (string, []any, error) {
	if sel == nil {
		sel = &queryir.Select{}
	}

	var conds []string
	var params []any

	if len(sel.Types) > 0 {
		conds = append(conds, "d.type IN ("+placeholders(len(sel.Types))+")")
		for _, t := range sel.Types {
			params = append(params, t)
		}
	}
	if len(sel.Kinds) > 0 {
		conds = append(conds, "d.kind IN ("+placeholders(len(sel.Kinds))+")")
		for _, k := range sel.Kinds {
			params = append(params, int64(k))
		}
	}
	for i, cond := range sel.Where {
		sql, condParams, err := c.compileCondition(cond)
		if err != nil {
			return "", nil, fmt.Errorf("compile condition %d: %w", i, err)
		}
		conds = append(conds, sql)
		params = append(params, condParams...)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(SelectColumns)
	b.WriteString(" FROM ")
	b.WriteString(fromClause)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(stableOrderKey())
	return b.String(), params, nil
}

// stableOrderKey returns the ORDER BY clause shared by every query.
// COLLATE BINARY keeps text ordering byte-wise across SQLite versions.
func stableOrderKey() string {
	return "d.id COLLATE BINARY ASC"
}

func (c *SQLCompiler) compileCondition(cond queryir.Condition) (string, []any, error) {
	switch cc := cond.(type) {
	case *queryir.Equals:
		expr, params, err := c.fieldExpr(cc.Field)
		if err != nil {
			return "", nil, err
		}
		p, err := valueToParam(cc.Value)
		if err != nil {
			return "", nil, fmt.Errorf("field %s: %w", fieldLabel(cc.Field), err)
		}
		return expr + " = ?", append(params, p), nil
	case *queryir.In:
		if len(cc.Values) == 0 {
			return "", nil, fmt.Errorf("field %s: empty IN list", fieldLabel(cc.Field))
		}
		expr, params, err := c.fieldExpr(cc.Field)
		if err != nil {
			return "", nil, err
		}
		for _, v := range cc.Values {
			p, err := valueToParam(v)
			if err != nil {
				return "", nil, fmt.Errorf("field %s: %w", fieldLabel(cc.Field), err)
			}
			params = append(params, p)
		}
		return expr + " IN (" + placeholders(len(cc.Values)) + ")", params, nil
	default:
		return "", nil, fmt.Errorf("unsupported condition type: %T", cond)
	}
}

// fieldExpr returns the SQL expression for a field. Properties are read
// from the JSON state; the path itself is a parameter.
func (c *SQLCompiler) fieldExpr(f queryir.Field) (string, []any, error) {
	if f.IsProperty() {
		return "json_extract(d.state, ?)", []any{JSONPath(f.Schema, f.Name)}, nil
	}
	col, ok := columns[f.Column]
	if !ok {
		return "", nil, fmt.Errorf("unknown column %q", f.Column)
	}
	return col, nil, nil
}

// JSONPath returns the SQLite JSON path of a top-level property inside
// the stored state.
func JSONPath(schemaName, field string) string {
	return `$.properties.` + quoteLabel(schemaName) + `.` + quoteLabel(field)
}

func quoteLabel(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func fieldLabel(f queryir.Field) string {
	if f.IsProperty() {
		return f.Schema + ":" + f.Name
	}
	return f.Column
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// valueToParam converts a scalar Value to a SQL parameter. Booleans bind
// as integers, which is how json_extract reports JSON true/false.
func valueToParam(v model.Value) (any, error) {
	switch val := v.(type) {
	case model.String:
		return string(val), nil
	case model.Int:
		return int64(val), nil
	case model.Float:
		return float64(val), nil
	case model.Bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case nil, model.Null:
		return nil, fmt.Errorf("NULL cannot be compared with =")
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}
