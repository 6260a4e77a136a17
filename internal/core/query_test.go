package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/event"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/query"
)

// blockedTree builds /ws/open/a and /ws/private/b, where private blocks
// inheritance and grants carol only.
func blockedTree(t *testing.T, f *fixture) (a, b string) {
	t.Helper()
	ws := f.workspace(t)
	s := f.session(t, admin)
	open, err := s.CreateDocument(f.ctx, ws, "open", "Folder", nil)
	require.NoError(t, err)
	private, err := s.CreateDocument(f.ctx, ws, "private", "Folder", nil)
	require.NoError(t, err)
	require.NoError(t, s.SetACP(f.ctx, private.ID, model.ACP{{
		Name:    model.LocalACL,
		Entries: []model.ACE{model.GrantACE("carol", model.Read), model.BlockACE()},
	}}))
	da, err := s.CreateDocument(f.ctx, open.ID, "a", "File", titled("alpha"))
	require.NoError(t, err)
	db, err := s.CreateDocument(f.ctx, private.ID, "b", "File", titled("beta"))
	require.NoError(t, err)
	require.NoError(t, s.Commit(f.ctx))
	return da.ID, db.ID
}

func TestQuery_FiltersBlockedDocuments(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		a, b := blockedTree(t, f)

		res, err := f.session(t, bob).Query(f.ctx, "SELECT * FROM File", query.Page{CountUpTo: -1})
		require.NoError(t, err)
		assert.Equal(t, []string{a}, res.IDs())
		assert.Equal(t, int64(1), res.TotalSize)
		assert.Equal(t, "alpha", title(t, res.Documents[0]))

		res, err = f.session(t, carol).Query(f.ctx, "SELECT * FROM File ORDER BY dc:title", query.Page{CountUpTo: -1})
		require.NoError(t, err)
		assert.Equal(t, []string{a, b}, res.IDs())
		assert.Equal(t, int64(2), res.TotalSize)

		res, err = f.session(t, admin).Query(f.ctx, "SELECT * FROM File ORDER BY dc:title DESC", query.Page{Limit: 1, CountUpTo: -1})
		require.NoError(t, err)
		assert.Equal(t, []string{b}, res.IDs())
		assert.Equal(t, int64(2), res.TotalSize)
	})
}

func TestQuery_SeesUnsavedChanges(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, bob)
		doc, err := s.CreateDocument(f.ctx, ws, "pending", "Note", titled("not yet committed"))
		require.NoError(t, err)

		res, err := s.Query(f.ctx, "SELECT * FROM Note WHERE dc:title LIKE 'not yet%'", query.Page{})
		require.NoError(t, err)
		assert.Equal(t, []string{doc.ID}, res.IDs())

		other, err := f.session(t, bob).Query(f.ctx, "SELECT * FROM Note", query.Page{})
		require.NoError(t, err)
		assert.Empty(t, other.Documents)
	})
}

func TestQuery_RequiresSelectAll(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		blockedTree(t, f)
		s := f.session(t, carol)

		_, err := s.Query(f.ctx, "SELECT dc:title FROM File", query.Page{})
		assert.True(t, errs.IsParse(err), "got %v", err)
		_, err = s.Query(f.ctx, "SELECT * FROM", query.Page{})
		assert.True(t, errs.IsParse(err), "got %v", err)

		res, err := s.QueryProjection(f.ctx, "SELECT dc:title FROM File ORDER BY dc:title", query.Page{})
		require.NoError(t, err)
		assert.Equal(t, []string{"dc:title"}, res.Columns)
		require.Len(t, res.Rows, 2)
		assert.Equal(t, []model.Value{model.String("alpha")}, res.Rows[0].Values)
	})
}

func TestQuery_ProxiesCarryTargetProperties(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		sec := f.section(t, ws)
		s := f.session(t, bob)
		doc, err := s.CreateDocument(f.ctx, ws, "file", "File", titled("published"))
		require.NoError(t, err)
		proxy, err := s.PublishDocument(f.ctx, doc.ID, sec, false)
		require.NoError(t, err)
		require.NoError(t, s.Commit(f.ctx))

		res, err := s.Query(f.ctx, "SELECT * FROM File WHERE ecm:isProxy = 1 AND dc:title = 'published'", query.Page{})
		require.NoError(t, err)
		require.Equal(t, []string{proxy.ID}, res.IDs())
		assert.Equal(t, "published", title(t, res.Documents[0]))
	})
}

func TestScroll(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, admin)
		var ids []string
		for i := range 5 {
			doc, err := s.CreateDocument(f.ctx, ws, fmt.Sprintf("n%d", i), "Note", nil)
			require.NoError(t, err)
			ids = append(ids, doc.ID)
		}
		require.NoError(t, s.Commit(f.ctx))

		batch, err := s.Scroll(f.ctx, "SELECT * FROM Note ORDER BY ecm:name", 2, time.Minute)
		require.NoError(t, err)
		got := batch.IDs
		var sizes []int
		sizes = append(sizes, len(batch.IDs))
		for len(batch.IDs) > 0 {
			batch, err = s.ScrollNext(f.ctx, batch.ScrollID)
			require.NoError(t, err)
			sizes = append(sizes, len(batch.IDs))
			got = append(got, batch.IDs...)
		}
		assert.Equal(t, []int{2, 2, 1, 0}, sizes)
		assert.Equal(t, ids, got)

		_, err = s.ScrollNext(f.ctx, batch.ScrollID)
		assert.True(t, errs.IsScrollUnknown(err), "got %v", err)
		assert.Zero(t, f.repo.Scrolls().Len())
	})
}

func TestScroll_Expires(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, admin)
		for i := range 3 {
			_, err := s.CreateDocument(f.ctx, ws, fmt.Sprintf("n%d", i), "Note", nil)
			require.NoError(t, err)
		}
		require.NoError(t, s.Commit(f.ctx))

		batch, err := s.Scroll(f.ctx, "SELECT * FROM Note", 1, time.Minute)
		require.NoError(t, err)
		f.clock.Advance(2 * time.Minute)
		_, err = s.ScrollNext(f.ctx, batch.ScrollID)
		assert.True(t, errs.IsScrollTimeout(err), "got %v", err)
	})
}

func TestScroll_AdministratorsOnly(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		s := f.session(t, bob)
		_, err := s.Scroll(f.ctx, "SELECT * FROM Document", 10, time.Minute)
		assert.True(t, errs.IsSecurity(err), "got %v", err)
		_, err = s.ScrollNext(f.ctx, "whatever")
		assert.True(t, errs.IsSecurity(err), "got %v", err)
	})
}

func TestAttachBlob_ExtractsText(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, bob)
		doc, err := s.CreateDocument(f.ctx, ws, "file", "File", nil)
		require.NoError(t, err)
		content := []byte("a searchable attachment")
		require.NoError(t, s.AttachBlob(f.ctx, doc.ID, "file:content", "notes.txt", "text/plain", content))

		err = s.AttachBlob(f.ctx, doc.ID, "dc:title", "x.txt", "text/plain", content)
		assert.True(t, errs.IsConflict(err), "got %v", err)

		require.NoError(t, s.Commit(f.ctx))
		f.repo.WaitIdle()

		updated := f.events.Find(event.BinaryTextUpdated)
		require.Len(t, updated, 1)
		assert.Equal(t, doc.ID, updated[0].DocID)

		reader := f.session(t, bob)
		data, err := reader.GetBlob(f.ctx, doc.ID, "file:content")
		require.NoError(t, err)
		assert.Equal(t, content, data)
		name, err := reader.GetProperty(f.ctx, doc.ID, "file:content/name")
		require.NoError(t, err)
		assert.Equal(t, model.String("notes.txt"), name)

		res, err := reader.Query(f.ctx, "SELECT * FROM File WHERE ecm:fulltext = 'searchable'", query.Page{})
		require.NoError(t, err)
		require.Equal(t, []string{doc.ID}, res.IDs())
		assert.Equal(t, "a searchable attachment", res.Documents[0].BinaryText)
	})
}
