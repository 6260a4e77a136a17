package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/event"
	"github.com/roach88/nxdoc/internal/model"
)

// section creates and commits /ws/section.
func (f *fixture) section(t *testing.T, ws string) string {
	t.Helper()
	s := f.session(t, bob)
	sec, err := s.CreateDocument(f.ctx, ws, "section", "Section", nil)
	require.NoError(t, err)
	require.NoError(t, s.Commit(f.ctx))
	return sec.ID
}

func TestLiveProxy_IsTransparent(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		sec := f.section(t, ws)
		s := f.session(t, bob)
		doc, err := s.CreateDocument(f.ctx, ws, "file", "File", titled("shared"))
		require.NoError(t, err)

		proxy, err := s.CreateProxy(f.ctx, doc.ID, sec)
		require.NoError(t, err)
		assert.Equal(t, model.KindProxy, proxy.Kind)
		assert.Equal(t, doc.ID, proxy.TargetID)
		assert.Equal(t, "file", proxy.Name)
		assert.Equal(t, "shared", title(t, proxy))
		require.NoError(t, s.Commit(f.ctx))

		_, err = s.UpdateDocument(f.ctx, proxy.ID, titled("through proxy"))
		require.NoError(t, err)
		require.NoError(t, s.Commit(f.ctx))

		live, err := s.GetDocument(f.ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, "through proxy", title(t, live))
		got, err := s.GetDocumentByPath(f.ctx, "/ws/section/file")
		require.NoError(t, err)
		assert.Equal(t, proxy.ID, got.ID)
		assert.Equal(t, "through proxy", title(t, got))

		_, err = s.CreateProxy(f.ctx, proxy.ID, sec)
		assert.True(t, errs.IsConflict(err), "got %v", err)
	})
}

func TestPublishDocument(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		sec := f.section(t, ws)
		s := f.session(t, bob)
		doc, err := s.CreateDocument(f.ctx, ws, "file", "File", titled("draft"))
		require.NoError(t, err)

		first, err := s.PublishDocument(f.ctx, doc.ID, sec, true)
		require.NoError(t, err)
		require.NoError(t, s.Commit(f.ctx))
		v1, err := s.GetDocument(f.ctx, first.TargetID)
		require.NoError(t, err)
		assert.True(t, v1.IsVersion())
		assert.Equal(t, "0.1", v1.VersionLabel)
		assert.Equal(t, "draft", title(t, first))

		_, err = s.UpdateDocument(f.ctx, doc.ID, titled("final"))
		require.NoError(t, err)
		second, err := s.PublishDocument(f.ctx, doc.ID, sec, true)
		require.NoError(t, err)
		require.NoError(t, s.Commit(f.ctx))
		assert.Equal(t, first.ID, second.ID)
		assert.NotEqual(t, first.TargetID, second.TargetID)
		assert.Equal(t, "final", title(t, second))

		// A checked-in document publishes its base version.
		third, err := s.PublishDocument(f.ctx, doc.ID, sec, false)
		require.NoError(t, err)
		require.NoError(t, s.Commit(f.ctx))
		assert.NotEqual(t, first.ID, third.ID)
		assert.Equal(t, second.TargetID, third.TargetID)
		assert.Equal(t, "file.1", third.Name)

		proxies, err := s.GetProxies(f.ctx, doc.ID, sec)
		require.NoError(t, err)
		assert.Len(t, proxies, 2)
		versions, err := s.GetVersions(f.ctx, doc.ID)
		require.NoError(t, err)
		assert.Len(t, versions, 2)
		assert.Len(t, f.events.Find(event.DocumentPublished), 3)
	})
}

func TestPublishDocument_OverwriteKeepsLiveProxy(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		sec := f.section(t, ws)
		s := f.session(t, bob)
		doc, err := s.CreateDocument(f.ctx, ws, "file", "File", titled("draft"))
		require.NoError(t, err)
		live, err := s.CreateProxy(f.ctx, doc.ID, sec)
		require.NoError(t, err)
		require.NoError(t, s.Commit(f.ctx))

		published, err := s.PublishDocument(f.ctx, doc.ID, sec, true)
		require.NoError(t, err)
		require.NoError(t, s.Commit(f.ctx))
		assert.NotEqual(t, live.ID, published.ID)

		got, err := s.GetDocument(f.ctx, live.ID)
		require.NoError(t, err)
		assert.Equal(t, doc.ID, got.TargetID, "live proxy still follows the live document")
		target, err := s.GetDocument(f.ctx, published.TargetID)
		require.NoError(t, err)
		assert.True(t, target.IsVersion())
	})
}

func TestRemoveVersion_Protected(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		sec := f.section(t, ws)
		s := f.session(t, bob)
		doc, err := s.CreateDocument(f.ctx, ws, "file", "File", nil)
		require.NoError(t, err)
		proxy, err := s.PublishDocument(f.ctx, doc.ID, sec, false)
		require.NoError(t, err)
		v1 := proxy.TargetID
		_, err = s.UpdateDocument(f.ctx, doc.ID, titled("next"))
		require.NoError(t, err)
		v2, err := s.CheckIn(f.ctx, doc.ID, VersionMinor, "")
		require.NoError(t, err)
		require.NoError(t, s.Commit(f.ctx))

		err = s.RemoveDocument(f.ctx, v1)
		assert.True(t, errs.IsSecurity(err), "got %v", err)
		err = s.RemoveDocument(f.ctx, v2)
		assert.True(t, errs.IsSecurity(err), "got %v", err)

		require.NoError(t, s.RemoveDocument(f.ctx, proxy.ID))
		require.NoError(t, s.RemoveDocument(f.ctx, v1))
		require.NoError(t, s.Commit(f.ctx))

		versions, err := s.GetVersions(f.ctx, doc.ID)
		require.NoError(t, err)
		require.Len(t, versions, 1)
		assert.Equal(t, v2, versions[0].ID)
		assert.True(t, versions[0].IsLatest)
	})
}

func TestRemoveDocument_CascadesAndCleansOrphans(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		sec := f.section(t, ws)
		s := f.session(t, bob)
		folder, err := s.CreateDocument(f.ctx, ws, "folder", "Folder", nil)
		require.NoError(t, err)
		kept, err := s.CreateDocument(f.ctx, folder.ID, "kept", "File", nil)
		require.NoError(t, err)
		dropped, err := s.CreateDocument(f.ctx, folder.ID, "dropped", "Note", nil)
		require.NoError(t, err)
		published, err := s.PublishDocument(f.ctx, kept.ID, sec, false)
		require.NoError(t, err)
		orphan, err := s.CheckIn(f.ctx, dropped.ID, VersionMinor, "")
		require.NoError(t, err)
		live, err := s.CreateProxy(f.ctx, dropped.ID, sec)
		require.NoError(t, err)
		require.NoError(t, s.Commit(f.ctx))

		require.NoError(t, s.RemoveDocument(f.ctx, folder.ID))
		require.NoError(t, s.Commit(f.ctx))
		f.repo.WaitIdle()

		reader := f.session(t, admin)
		for _, id := range []string{folder.ID, kept.ID, dropped.ID, live.ID, orphan} {
			ok, err := reader.Exists(f.ctx, id)
			require.NoError(t, err)
			assert.False(t, ok, "%s should be gone", id)
		}
		for _, id := range []string{published.ID, published.TargetID} {
			ok, err := reader.Exists(f.ctx, id)
			require.NoError(t, err)
			assert.True(t, ok, "%s should remain", id)
		}

		removed := f.events.Find(event.OrphanVersionRemoved)
		require.Len(t, removed, 1)
		assert.Equal(t, orphan, removed[0].DocID)
	})
}

func TestRemoveDocument_Checks(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, admin)
		err := s.RemoveDocument(f.ctx, f.repo.RootID())
		assert.True(t, errs.IsConflict(err), "got %v", err)

		c := f.session(t, carol)
		err = c.RemoveDocument(f.ctx, ws)
		assert.True(t, errs.IsSecurity(err), "got %v", err)
	})
}

func TestRemoveOrphanVersions_Direct(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		s := f.session(t, admin)
		doc, err := s.CreateDocument(f.ctx, "", "loose", "File", nil)
		require.NoError(t, err)
		_, err = s.CheckIn(f.ctx, doc.ID, VersionMinor, "")
		require.NoError(t, err)
		require.NoError(t, s.Commit(f.ctx))

		n, err := f.repo.RemoveOrphanVersions(f.ctx, []string{doc.ID})
		require.NoError(t, err)
		assert.Zero(t, n, "the live document still exists")
	})
}
