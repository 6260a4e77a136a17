package query

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/nxdoc/internal/metrics"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/queryir"
	"github.com/roach88/nxdoc/internal/schema"
	"github.com/roach88/nxdoc/internal/store"
)

// UnknownTotalSize is reported as TotalSize when the caller bounded the
// count with CountUpTo and the result is larger.
const UnknownTotalSize int64 = -2

// Source provides candidate documents. Sessions implement it on top of a
// backend, overlaying their uncommitted changes.
type Source interface {
	store.Getter
	Find(ctx context.Context, sel *queryir.Select) ([]*model.State, error)
}

// Authorizer decides whether a result document is visible.
type Authorizer interface {
	CanBrowse(ctx context.Context, st *model.State) (bool, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, st *model.State) (bool, error)

// CanBrowse calls f.
func (f AuthorizerFunc) CanBrowse(ctx context.Context, st *model.State) (bool, error) {
	return f(ctx, st)
}

// AllowAll is the Authorizer of unrestricted callers.
var AllowAll Authorizer = AuthorizerFunc(func(context.Context, *model.State) (bool, error) {
	return true, nil
})

// Page selects a window of the result and the counting mode.
//
// Limit and Offset override the statement's LIMIT and OFFSET when
// positive. CountUpTo is 0 (total is the page size), -1 (exact total) or
// n > 0 (exact total when at most n, else UnknownTotalSize).
type Page struct {
	Limit     int64
	Offset    int64
	CountUpTo int64
}

// Row is one result row. Values follow Result.Columns and are empty for
// document queries.
type Row struct {
	ID     string
	Values []model.Value
	Score  float64
}

// Result is a page of rows.
type Result struct {
	Columns   []string
	Rows      []Row
	TotalSize int64
}

// IDs returns the row ids in order.
func (r *Result) IDs() []string {
	out := make([]string, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row.ID
	}
	return out
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock sets the clock used for ACE status.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics sets the collectors updated by Execute.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// Executor runs plans. It is safe for concurrent use.
type Executor struct {
	registry *schema.Registry
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates an executor.
func New(registry *schema.Registry, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs plan against src, keeping the documents authz allows.
func (e *Executor) Execute(ctx context.Context, plan *queryir.Plan, src Source, authz Authorizer, page Page) (*Result, error) {
	start := time.Now()
	res, candidates, err := e.execute(ctx, plan, src, authz, page)
	if e.metrics != nil {
		shape := "projection"
		if plan.SelectAll {
			shape = "documents"
		}
		e.metrics.QueriesTotal.WithLabelValues(shape, metrics.Status(err)).Inc()
		e.metrics.QueryDuration.Observe(time.Since(start).Seconds())
		e.metrics.QueryCandidates.Observe(float64(candidates))
	}
	if err != nil {
		return nil, fmt.Errorf("execute %q: %w", plan.Query, err)
	}
	e.logger.Debug("query executed",
		"query", plan.Query,
		"scopes", plan.Scopes.String(),
		"candidates", candidates,
		"rows", len(res.Rows),
		"total", res.TotalSize)
	return res, nil
}

func (e *Executor) execute(ctx context.Context, plan *queryir.Plan, src Source, authz Authorizer, page Page) (*Result, int, error) {
	if authz == nil {
		authz = AllowAll
	}
	candidates, err := src.Find(ctx, plan.Pushdown)
	if err != nil {
		return nil, 0, err
	}

	r := newRun(ctx, e, plan, src)
	var rows []row
	for _, st := range candidates {
		if !plan.Scopes.Includes(st.Kind) {
			continue
		}
		if len(plan.Types) > 0 && !slices.Contains(plan.Types, st.Type) {
			continue
		}
		v, err := r.view(st)
		if err != nil {
			return nil, len(candidates), err
		}
		docRows, err := r.rows(v)
		if err != nil {
			return nil, len(candidates), err
		}
		if len(docRows) == 0 {
			continue
		}
		ok, err := authz.CanBrowse(ctx, st)
		if err != nil {
			return nil, len(candidates), fmt.Errorf("check browse on %s: %w", st.ID, err)
		}
		if !ok {
			continue
		}
		rows = append(rows, docRows...)
	}

	sortRows(rows, plan.OrderBy)
	if plan.Distinct {
		rows = distinct(rows)
	}

	res := &Result{}
	for _, c := range plan.Columns {
		res.Columns = append(res.Columns, c.Name)
	}
	limit, offset := window(plan, page)
	pageRows := paginate(rows, limit, offset)
	res.Rows = make([]Row, len(pageRows))
	for i, r := range pageRows {
		res.Rows[i] = r.Row
	}
	res.TotalSize = totalSize(int64(len(rows)), int64(len(pageRows)), page.CountUpTo)
	return res, len(candidates), nil
}

// row is a result row with its sort keys.
type row struct {
	Row
	keys []model.Value
}

func sortRows(rows []row, order []queryir.Order) {
	slices.SortStableFunc(rows, func(a, b row) int {
		for i, o := range order {
			c := model.SortCompare(a.keys[i], b.keys[i])
			if o.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// distinct keeps the first row of each distinct value tuple.
func distinct(rows []row) []row {
	seen := make(map[string]bool, len(rows))
	out := rows[:0]
	for _, r := range rows {
		key := distinctKey(r)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func distinctKey(r row) string {
	if len(r.Values) == 0 {
		return r.ID
	}
	var b strings.Builder
	for _, v := range r.Values {
		data, err := model.MarshalValue(v)
		if err != nil {
			data = []byte(model.Text(v))
		}
		b.Write(data)
		b.WriteByte(0)
	}
	return b.String()
}

// window resolves the effective limit and offset. Page values override the
// statement's when positive; 0 means unlimited.
func window(plan *queryir.Plan, page Page) (limit, offset int64) {
	limit, offset = max(plan.Limit, 0), max(plan.Offset, 0)
	if page.Limit > 0 {
		limit = page.Limit
	}
	if page.Offset > 0 {
		offset = page.Offset
	}
	return limit, offset
}

func paginate(rows []row, limit, offset int64) []row {
	n := int64(len(rows))
	if offset >= n {
		return nil
	}
	end := n
	if limit > 0 && offset+limit < n {
		end = offset + limit
	}
	return rows[offset:end]
}

func totalSize(total, pageSize, countUpTo int64) int64 {
	switch {
	case countUpTo == 0:
		return pageSize
	case countUpTo < 0:
		return total
	case total <= countUpTo:
		return total
	default:
		return UnknownTotalSize
	}
}
