package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/event"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/query"
	"github.com/roach88/nxdoc/internal/schema"
	"github.com/roach88/nxdoc/internal/security"
)

func TestCopyDocument(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, bob)
		folder, err := s.CreateDocument(f.ctx, ws, "folder", "Folder", nil)
		require.NoError(t, err)
		file, err := s.CreateDocument(f.ctx, folder.ID, "file", "File", titled("original"))
		require.NoError(t, err)
		_, err = s.CheckIn(f.ctx, file.ID, VersionMajor, "")
		require.NoError(t, err)
		require.NoError(t, s.Commit(f.ctx))

		cp, err := s.CopyDocument(f.ctx, folder.ID, ws, "")
		require.NoError(t, err)
		assert.Equal(t, "folder.1", cp.Name)
		assert.NotEqual(t, folder.ID, cp.ID)

		// Copying a folder into itself copies the subtree as it was.
		inner, err := s.CopyDocument(f.ctx, folder.ID, folder.ID, "")
		require.NoError(t, err)
		assert.Equal(t, "folder", inner.Name)
		require.NoError(t, s.Commit(f.ctx))

		copied, err := s.GetDocumentByPath(f.ctx, "/ws/folder.1/file")
		require.NoError(t, err)
		assert.Equal(t, "original", title(t, copied))
		assert.Equal(t, copied.ID, copied.SeriesID)
		assert.False(t, copied.CheckedIn)
		assert.Empty(t, copied.BaseVersionID)
		versions, err := s.GetVersions(f.ctx, copied.ID)
		require.NoError(t, err)
		assert.Empty(t, versions)

		children, err := s.GetChildren(f.ctx, inner.ID)
		require.NoError(t, err)
		require.Len(t, children, 1)
		assert.Equal(t, "file", children[0].Name)

		copies := f.events.Find(event.DocumentCopied)
		require.Len(t, copies, 2)
		assert.Equal(t, "2", copies[0].Details["documents"])
	})
}

func TestCopyDocument_VersionBecomesLive(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, bob)
		file, err := s.CreateDocument(f.ctx, ws, "file", "File", titled("snap"))
		require.NoError(t, err)
		vid, err := s.CheckIn(f.ctx, file.ID, VersionMinor, "")
		require.NoError(t, err)

		cp, err := s.CopyDocument(f.ctx, vid, ws, "restored")
		require.NoError(t, err)
		assert.True(t, cp.IsLive())
		assert.Equal(t, "restored", cp.Name)
		assert.Equal(t, "snap", title(t, cp))
		assert.False(t, cp.HasFacet(schema.FacetImmutable))
		_, err = s.UpdateDocument(f.ctx, cp.ID, titled("editable"))
		assert.NoError(t, err)
	})
}

func TestMoveDocument(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, bob)
		a, err := s.CreateDocument(f.ctx, ws, "a", "Folder", nil)
		require.NoError(t, err)
		b, err := s.CreateDocument(f.ctx, a.ID, "b", "Folder", nil)
		require.NoError(t, err)
		note, err := s.CreateDocument(f.ctx, ws, "b", "Note", nil)
		require.NoError(t, err)
		require.NoError(t, s.Commit(f.ctx))

		_, err = s.MoveDocument(f.ctx, a.ID, b.ID, "")
		assert.True(t, errs.IsConflict(err), "got %v", err)
		_, err = s.MoveDocument(f.ctx, a.ID, a.ID, "")
		assert.True(t, errs.IsConflict(err), "got %v", err)
		_, err = s.MoveDocument(f.ctx, f.repo.RootID(), ws, "")
		assert.True(t, errs.IsConflict(err), "got %v", err)

		moved, err := s.MoveDocument(f.ctx, note.ID, a.ID, "")
		require.NoError(t, err)
		assert.Equal(t, "b.1", moved.Name)
		require.NoError(t, s.Commit(f.ctx))

		path, ok, err := s.Path(f.ctx, note.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "/ws/a/b.1", path)

		// Renaming in place keeps the name free of its own entry.
		renamed, err := s.MoveDocument(f.ctx, note.ID, a.ID, "b.1")
		require.NoError(t, err)
		assert.Equal(t, "b.1", renamed.Name)

		moves := f.events.Find(event.DocumentMoved)
		require.Len(t, moves, 2)
		assert.Equal(t, ws, moves[0].Details["from"])
	})
}

func TestFacets(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, bob)
		doc, err := s.CreateDocument(f.ctx, ws, "file", "File", nil)
		require.NoError(t, err)

		err = s.SetProperty(f.ctx, doc.ID, "pub:sections", model.List{model.String("news")})
		assert.Error(t, err, "schema not yet attached")

		added, err := s.AddFacet(f.ctx, doc.ID, "Publishable")
		require.NoError(t, err)
		assert.True(t, added)
		added, err = s.AddFacet(f.ctx, doc.ID, "Publishable")
		require.NoError(t, err)
		assert.False(t, added)
		added, err = s.AddFacet(f.ctx, doc.ID, schema.FacetVersionable)
		require.NoError(t, err)
		assert.False(t, added, "implied by the type")

		require.NoError(t, s.SetProperty(f.ctx, doc.ID, "pub:sections", model.List{model.String("news")}))
		require.NoError(t, s.Commit(f.ctx))

		facets, err := s.Facets(f.ctx, doc.ID)
		require.NoError(t, err)
		assert.Contains(t, facets, "Publishable")
		assert.Contains(t, facets, schema.FacetVersionable)

		removed, err := s.RemoveFacet(f.ctx, doc.ID, "Publishable")
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = s.RemoveFacet(f.ctx, doc.ID, schema.FacetVersionable)
		require.NoError(t, err)
		assert.False(t, removed)
		require.NoError(t, s.Commit(f.ctx))

		got, err := s.GetDocument(f.ctx, doc.ID)
		require.NoError(t, err)
		assert.Nil(t, got.SchemaData("publishing"))

		_, err = s.AddFacet(f.ctx, doc.ID, "NoSuchFacet")
		assert.True(t, errs.IsNotFound(err), "got %v", err)
		assert.Len(t, f.events.Find(event.FacetAdded), 1)
		assert.Len(t, f.events.Find(event.FacetRemoved), 1)
	})
}

func TestLocks(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, admin)
		require.NoError(t, s.SetACP(f.ctx, ws, model.ACP{{
			Name: model.LocalACL,
			Entries: []model.ACE{
				model.GrantACE("bob", model.Everything),
				model.GrantACE("carol", model.Everything),
			},
		}}))
		doc, err := s.CreateDocument(f.ctx, ws, "doc", "Note", nil)
		require.NoError(t, err)
		require.NoError(t, s.Commit(f.ctx))

		b := f.session(t, bob)
		c := f.session(t, carol)
		lock, err := b.SetLock(f.ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, "bob", lock.Owner)
		assert.Equal(t, testStart, lock.Created)

		_, err = c.SetLock(f.ctx, doc.ID)
		assert.True(t, errs.IsSecurity(err), "got %v", err)
		_, err = b.SetLock(f.ctx, doc.ID)
		assert.True(t, errs.IsSecurity(err), "got %v", err)
		_, err = c.RemoveLock(f.ctx, doc.ID)
		assert.True(t, errs.IsSecurity(err), "got %v", err)

		got, err := c.GetLock(f.ctx, doc.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "bob", got.Owner)

		removed, err := s.RemoveLock(f.ctx, doc.ID)
		require.NoError(t, err)
		require.NotNil(t, removed)
		assert.Equal(t, "bob", removed.Owner)
		removed, err = b.RemoveLock(f.ctx, doc.ID)
		require.NoError(t, err)
		assert.Nil(t, removed)

		got, err = c.GetLock(f.ctx, doc.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		assert.Len(t, f.events.Find(event.DocumentLocked), 1)
		assert.Len(t, f.events.Find(event.DocumentUnlocked), 1)
	})
}

func TestLocks_SurviveEdits(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, bob)
		doc, err := s.CreateDocument(f.ctx, ws, "doc", "Note", titled("draft"))
		require.NoError(t, err)
		require.NoError(t, s.Commit(f.ctx))

		_, err = s.SetLock(f.ctx, doc.ID)
		require.NoError(t, err)

		const locked = "SELECT * FROM Note WHERE ecm:lockOwner = 'bob'"
		res, err := s.Query(f.ctx, locked, query.Page{})
		require.NoError(t, err)
		assert.Equal(t, []string{doc.ID}, res.IDs())

		require.NoError(t, s.SetProperty(f.ctx, doc.ID, "dc:title", model.String("edited")))
		res, err = s.Query(f.ctx, locked, query.Page{})
		require.NoError(t, err)
		assert.Equal(t, []string{doc.ID}, res.IDs(), "uncommitted edit keeps the lock")

		require.NoError(t, s.Commit(f.ctx))
		got, err := s.GetDocument(f.ctx, doc.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Lock)
		assert.Equal(t, "bob", got.Lock.Owner)
		assert.Equal(t, "edited", title(t, got))

		_, err = s.RemoveLock(f.ctx, doc.ID)
		require.NoError(t, err)
		got, err = s.GetDocument(f.ctx, doc.ID)
		require.NoError(t, err)
		assert.Nil(t, got.Lock)
		res, err = s.Query(f.ctx, locked, query.Page{})
		require.NoError(t, err)
		assert.Empty(t, res.Documents)
	})
}

func TestACP(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		c := f.session(t, carol)
		err := c.SetACP(f.ctx, ws, nil)
		assert.True(t, errs.IsSecurity(err), "got %v", err)

		acp, err := c.GetACP(f.ctx, ws)
		require.NoError(t, err)
		require.Len(t, acp, 1)
		assert.Equal(t, model.LocalACL, acp[0].Name)

		ok, err := c.HasPermission(f.ctx, ws, model.Read)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = c.HasPermission(f.ctx, ws, security.WriteProperties)
		require.NoError(t, err)
		assert.False(t, ok)

		b := f.session(t, bob)
		require.NoError(t, b.SetACP(f.ctx, ws, model.ACP{
			{Name: "inherited", Entries: []model.ACE{model.GrantACE("carol", model.Everything)}},
			{Name: model.LocalACL, Entries: []model.ACE{model.GrantACE("bob", model.Everything)}},
		}))
		require.NoError(t, b.Commit(f.ctx))
		acp, err = b.GetACP(f.ctx, ws)
		require.NoError(t, err)
		assert.Equal(t, model.LocalACL, acp[0].Name)

		require.NoError(t, c.Save(f.ctx))
		ok, err = c.HasPermission(f.ctx, ws, security.WriteProperties)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NotEmpty(t, f.events.Find(event.ACPUpdated))
	})
}

func TestFollowTransition(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, bob)
		doc, err := s.CreateDocument(f.ctx, ws, "doc", "Note", nil)
		require.NoError(t, err)
		require.NoError(t, s.FollowTransition(f.ctx, doc.ID, "approved"))
		err = s.FollowTransition(f.ctx, doc.ID, "")
		assert.True(t, errs.IsConflict(err), "got %v", err)
		require.NoError(t, s.Commit(f.ctx))

		got, err := s.GetDocument(f.ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, "approved", got.LifecycleState)
		transitions := f.events.Find(event.TransitionFollowed)
		require.Len(t, transitions, 1)
		assert.Equal(t, DefaultLifecycleState, transitions[0].Details["from"])
	})
}
