package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/spf13/cobra"

	"github.com/roach88/nxdoc/internal/core"
	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/query"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Limit      int64
	Offset     int64
	CountUpTo  int64
	Properties bool
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <nxql>",
		Short: "Run an NXQL query",
		Long: `Run an NXQL query as the principal given by --user.

SELECT * statements list documents; other statements print their columns.
Documents the principal may not browse are left out of results and counts.

Example:
  nxdoc query "SELECT * FROM File WHERE dc:title LIKE 'Report%'"
  nxdoc query --user bob --admin=false --count-up-to -1 "SELECT * FROM Document"
  nxdoc query "SELECT ecm:uuid, dc:title FROM Note ORDER BY dc:title" --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Limit, "limit", 0, "page size (overrides LIMIT)")
	cmd.Flags().Int64Var(&opts.Offset, "offset", 0, "page offset (overrides OFFSET)")
	cmd.Flags().Int64Var(&opts.CountUpTo, "count-up-to", 0, "0: page size, -1: exact total, n: exact up to n")
	cmd.Flags().BoolVar(&opts.Properties, "properties", false, "include document properties")

	return cmd
}

// DocumentOutput is one document of a query result.
type DocumentOutput struct {
	ID           string         `json:"id"`
	Kind         string         `json:"kind"`
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Path         string         `json:"path,omitempty"`
	Title        string         `json:"title,omitempty"`
	VersionLabel string         `json:"versionLabel,omitempty"`
	Lifecycle    string         `json:"lifecycleState,omitempty"`
	Properties   map[string]any `json:"properties,omitempty"`
}

// QueryOutput is the result of the query command.
type QueryOutput struct {
	Documents []DocumentOutput `json:"documents,omitempty"`
	Columns   []string         `json:"columns,omitempty"`
	Rows      [][]any          `json:"rows,omitempty"`
	TotalSize int64            `json:"totalSize"`
}

// Text renders the result as a table.
func (q QueryOutput) Text() string {
	t := table.NewWriter()
	t.Style().Format.Header = text.FormatDefault
	if q.Columns == nil {
		t.AppendHeader(table.Row{"ID", "KIND", "TYPE", "PATH", "TITLE"})
		for _, d := range q.Documents {
			path := d.Path
			if path == "" {
				path = "-"
			}
			kind := d.Kind
			if d.VersionLabel != "" {
				kind += " " + d.VersionLabel
			}
			t.AppendRow(table.Row{d.ID, kind, d.Type, path, d.Title})
		}
	} else {
		header := make(table.Row, len(q.Columns))
		for i, c := range q.Columns {
			header[i] = c
		}
		t.AppendHeader(header)
		for _, row := range q.Rows {
			cells := make(table.Row, len(row))
			for i, v := range row {
				// go-pretty does not expect nil cells.
				if v == nil {
					v = "NULL"
				}
				cells[i] = v
			}
			t.AppendRow(cells)
		}
	}
	total := fmt.Sprint(q.TotalSize)
	if q.TotalSize == query.UnknownTotalSize {
		total = "unknown"
	}
	return fmt.Sprintf("%s\n(%d rows, total %s)\n", t.Render(), max(len(q.Documents), len(q.Rows)), total)
}

func runQuery(opts *QueryOptions, nxql string, cmd *cobra.Command) error {
	ctx := commandContext(cmd.Context())
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	e, err := openEnv(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.Close()
	s, err := e.session(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	page := query.Page{Limit: opts.Limit, Offset: opts.Offset, CountUpTo: opts.CountUpTo}
	out, err := queryDocuments(ctx, s, nxql, page, opts.Properties)
	if errs.IsParse(err) {
		out, err = queryProjection(ctx, s, nxql, page)
	}
	if err != nil {
		return formatter.Fail("query failed", err)
	}
	formatter.VerboseLog("query %q returned %d documents, %d rows", nxql, len(out.Documents), len(out.Rows))
	return formatter.Success(out)
}

func queryDocuments(ctx context.Context, s *core.Session, nxql string, page query.Page, withProps bool) (QueryOutput, error) {
	list, err := s.Query(ctx, nxql, page)
	if err != nil {
		return QueryOutput{}, err
	}
	out := QueryOutput{Documents: []DocumentOutput{}, TotalSize: list.TotalSize}
	for _, d := range list.Documents {
		do, err := documentOutput(ctx, s, d, withProps)
		if err != nil {
			return QueryOutput{}, err
		}
		out.Documents = append(out.Documents, do)
	}
	return out, nil
}

func queryProjection(ctx context.Context, s *core.Session, nxql string, page query.Page) (QueryOutput, error) {
	res, err := s.QueryProjection(ctx, nxql, page)
	if err != nil {
		return QueryOutput{}, err
	}
	out := QueryOutput{Columns: res.Columns, Rows: [][]any{}, TotalSize: res.TotalSize}
	for _, row := range res.Rows {
		cells := make([]any, len(row.Values))
		for i, v := range row.Values {
			cells[i] = model.ToGo(v)
		}
		out.Rows = append(out.Rows, cells)
	}
	return out, nil
}

func documentOutput(ctx context.Context, s *core.Session, d *model.State, withProps bool) (DocumentOutput, error) {
	path, _, err := s.Path(ctx, d.ID)
	if err != nil {
		return DocumentOutput{}, err
	}
	title, _ := d.SchemaData("dublincore")["title"].(model.String)
	out := DocumentOutput{
		ID:           d.ID,
		Kind:         d.Kind.String(),
		Type:         d.Type,
		Name:         d.Name,
		Path:         path,
		Title:        string(title),
		VersionLabel: d.VersionLabel,
		Lifecycle:    d.LifecycleState,
	}
	if withProps && len(d.Properties) > 0 {
		out.Properties, _ = model.ToGo(d.Properties).(map[string]any)
	}
	return out, nil
}

// ScrollOptions holds flags for the scroll command.
type ScrollOptions struct {
	*RootOptions
	BatchSize int
	KeepAlive time.Duration
}

// NewScrollCommand creates the scroll command.
func NewScrollCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScrollOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scroll <nxql>",
		Short: "Iterate over every id matching a SELECT * query",
		Long: `Iterate over every id matching a SELECT * query, batch by batch.

Scrolling is reserved to administrators.

Example:
  nxdoc scroll --batch-size 500 "SELECT * FROM Document WHERE ecm:isVersion = 1"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScroll(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 100, "ids per batch")
	cmd.Flags().DurationVar(&opts.KeepAlive, "keep-alive", 0, "cursor idle timeout (default from config)")

	return cmd
}

// ScrollOutput is the result of the scroll command.
type ScrollOutput struct {
	Batches int      `json:"batches"`
	IDs     []string `json:"ids"`
}

// Text lists the ids, one per line.
func (o ScrollOutput) Text() string {
	var b strings.Builder
	for _, id := range o.IDs {
		b.WriteString(id)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "(%d ids in %d batches)\n", len(o.IDs), o.Batches)
	return b.String()
}

func runScroll(opts *ScrollOptions, nxql string, cmd *cobra.Command) error {
	ctx := commandContext(cmd.Context())
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if opts.BatchSize <= 0 {
		return NewExitError(ExitCommandError, "--batch-size must be positive")
	}

	e, err := openEnv(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.Close()
	s, err := e.session(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	keepAlive := opts.KeepAlive
	if keepAlive == 0 {
		keepAlive = e.cfg.ScrollKeepAlive
	}
	batch, err := s.Scroll(ctx, nxql, opts.BatchSize, keepAlive)
	if err != nil {
		return formatter.Fail("scroll failed", err)
	}
	out := ScrollOutput{IDs: []string{}}
	for len(batch.IDs) > 0 {
		out.Batches++
		out.IDs = append(out.IDs, batch.IDs...)
		formatter.VerboseLog("batch %d: %d ids", out.Batches, len(batch.IDs))
		if batch, err = s.ScrollNext(ctx, batch.ScrollID); err != nil {
			return formatter.Fail("scroll failed", err)
		}
	}
	return formatter.Success(out)
}
