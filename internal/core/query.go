package core

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/query"
	"github.com/roach88/nxdoc/internal/scroll"
)

// DocumentList is a page of documents returned by Query.
type DocumentList struct {
	Documents []*model.State
	// TotalSize follows query.Page.CountUpTo; it is
	// query.UnknownTotalSize when the count limit was exceeded.
	TotalSize int64
}

// IDs returns the document ids in order.
func (l *DocumentList) IDs() []string {
	out := make([]string, len(l.Documents))
	for i, d := range l.Documents {
		out[i] = d.ID
	}
	return out
}

// Query runs a SELECT * statement and returns the matching documents the
// principal may browse. Pending changes are saved first so the query sees
// them.
func (s *Session) Query(ctx context.Context, nxql string, page query.Page) (*DocumentList, error) {
	res, err := s.run(ctx, nxql, page, true)
	if err != nil {
		return nil, err
	}
	list := &DocumentList{
		Documents: make([]*model.State, 0, len(res.Rows)),
		TotalSize: res.TotalSize,
	}
	for _, row := range res.Rows {
		st, err := s.src.Get(ctx, row.ID)
		if err != nil {
			return nil, fmt.Errorf("load query result %s: %w", row.ID, err)
		}
		v, err := s.view(ctx, st)
		if err != nil {
			return nil, err
		}
		list.Documents = append(list.Documents, v)
	}
	return list, nil
}

// QueryProjection runs a statement and returns its rows. SELECT * rows
// carry ids only.
func (s *Session) QueryProjection(ctx context.Context, nxql string, page query.Page) (*query.Result, error) {
	return s.run(ctx, nxql, page, false)
}

// Scroll runs a SELECT * statement and opens a cursor over all its ids.
// The first batch is returned with the cursor id. Scrolling is reserved
// to administrators.
func (s *Session) Scroll(ctx context.Context, nxql string, batchSize int, keepAlive time.Duration) (scroll.Batch, error) {
	if !s.principal.Administrator {
		return scroll.Batch{}, errs.Security("scroll requires an administrator").With("principal", s.principal.Name)
	}
	res, err := s.run(ctx, nxql, query.Page{}, true)
	if err != nil {
		return scroll.Batch{}, err
	}
	return s.repo.scrolls.Open(res.IDs(), batchSize, keepAlive)
}

// ScrollNext returns the next batch of an open cursor. An empty batch
// means the cursor is exhausted and has been released.
func (s *Session) ScrollNext(ctx context.Context, scrollID string) (scroll.Batch, error) {
	if err := s.usable(); err != nil {
		return scroll.Batch{}, err
	}
	if !s.principal.Administrator {
		return scroll.Batch{}, errs.Security("scroll requires an administrator").With("principal", s.principal.Name)
	}
	return s.repo.scrolls.Next(scrollID)
}

func (s *Session) run(ctx context.Context, nxql string, page query.Page, selectAll bool) (*query.Result, error) {
	if err := s.Save(ctx); err != nil {
		return nil, err
	}
	plan, err := s.repo.planner.PlanQuery(nxql)
	if err != nil {
		return nil, err
	}
	if selectAll && !plan.SelectAll {
		return nil, errs.Parse("expected SELECT * in %q", nxql).With("query", nxql)
	}
	return s.repo.executor.Execute(ctx, plan, s.src, s.checker, page)
}

var _ query.Source = (*source)(nil)
