package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/event"
	"github.com/roach88/nxdoc/internal/model"
)

func labels(versions []*model.State) []string {
	out := make([]string, len(versions))
	for i, v := range versions {
		out[i] = v.VersionLabel
	}
	return out
}

func TestCheckIn_LabelsAndLatestFlags(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, bob)
		doc, err := s.CreateDocument(f.ctx, ws, "file", "File", titled("one"))
		require.NoError(t, err)

		v1, err := s.CheckIn(f.ctx, doc.ID, VersionMinor, "first")
		require.NoError(t, err)
		_, err = s.CheckIn(f.ctx, doc.ID, VersionMinor, "again")
		assert.True(t, errs.IsConflict(err), "got %v", err)

		require.NoError(t, s.CheckOut(f.ctx, doc.ID))
		_, err = s.CheckIn(f.ctx, doc.ID, VersionMajor, "")
		require.NoError(t, err)

		_, err = s.UpdateDocument(f.ctx, doc.ID, titled("two"))
		require.NoError(t, err)
		v3, err := s.CheckIn(f.ctx, doc.ID, VersionNone, "")
		require.NoError(t, err)
		require.NoError(t, s.Commit(f.ctx))

		versions, err := s.GetVersions(f.ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"0.1", "1.0", "1.1"}, labels(versions))
		assert.Equal(t, []bool{false, false, true},
			[]bool{versions[0].IsLatest, versions[1].IsLatest, versions[2].IsLatest})
		assert.Equal(t, []bool{false, true, false},
			[]bool{versions[0].IsLatestMajor, versions[1].IsLatestMajor, versions[2].IsLatestMajor})
		assert.Equal(t, v1, versions[0].ID)
		assert.Equal(t, "first", versions[0].CheckinComment)
		assert.Equal(t, "one", title(t, versions[0]))
		assert.Equal(t, doc.ID, versions[0].SeriesID)

		last, err := s.GetLastVersion(f.ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, v3, last.ID)

		live, err := s.GetDocument(f.ctx, doc.ID)
		require.NoError(t, err)
		assert.True(t, live.CheckedIn)
		assert.Equal(t, v3, live.BaseVersionID)
		assert.Equal(t, "1.1", model.VersionLabelFor(live.MajorVersion, live.MinorVersion))

		assert.Len(t, f.events.Find(event.DocumentCheckedIn), 3)
	})
}

func TestCheckIn_Idempotent(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, bob, IdempotentCheckIn())
		doc, err := s.CreateDocument(f.ctx, ws, "file", "File", nil)
		require.NoError(t, err)
		v1, err := s.CheckIn(f.ctx, doc.ID, VersionMajor, "")
		require.NoError(t, err)
		again, err := s.CheckIn(f.ctx, doc.ID, VersionMajor, "")
		require.NoError(t, err)
		assert.Equal(t, v1, again)

		versions, err := s.GetVersions(f.ctx, doc.ID)
		require.NoError(t, err)
		assert.Len(t, versions, 1)
	})
}

func TestCheckIn_RequiresVersionable(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, bob)
		folder, err := s.CreateDocument(f.ctx, ws, "folder", "Folder", nil)
		require.NoError(t, err)
		_, err = s.CheckIn(f.ctx, folder.ID, VersionMinor, "")
		assert.True(t, errs.IsConflict(err), "got %v", err)
	})
}

func TestAutoCheckout(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, bob)
		doc, err := s.CreateDocument(f.ctx, ws, "file", "File", nil)
		require.NoError(t, err)
		_, err = s.CheckIn(f.ctx, doc.ID, VersionMinor, "")
		require.NoError(t, err)

		updated, err := s.UpdateDocument(f.ctx, doc.ID, titled("edited"))
		require.NoError(t, err)
		assert.False(t, updated.CheckedIn)

		checkouts := f.events.Find(event.DocumentCheckedOut)
		require.Len(t, checkouts, 1)
		assert.Equal(t, "true", checkouts[0].Details["auto"])
	})
}

func TestAutoCheckout_Disabled(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, bob, DisableAutoCheckout())
		doc, err := s.CreateDocument(f.ctx, ws, "file", "File", nil)
		require.NoError(t, err)
		_, err = s.CheckIn(f.ctx, doc.ID, VersionMinor, "")
		require.NoError(t, err)

		updated, err := s.UpdateDocument(f.ctx, doc.ID, titled("edited"))
		require.NoError(t, err)
		assert.True(t, updated.CheckedIn)
		assert.Empty(t, f.events.Find(event.DocumentCheckedOut))
	})
}

func TestVersion_Immutable(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, bob)
		doc, err := s.CreateDocument(f.ctx, ws, "file", "File", titled("frozen"))
		require.NoError(t, err)
		vid, err := s.CheckIn(f.ctx, doc.ID, VersionMinor, "")
		require.NoError(t, err)
		require.NoError(t, s.Commit(f.ctx))

		_, err = s.UpdateDocument(f.ctx, vid, titled("thawed"))
		assert.True(t, errs.IsImmutable(err), "got %v", err)
		err = s.FollowTransition(f.ctx, vid, "approved")
		assert.True(t, errs.IsImmutable(err), "got %v", err)
		_, err = s.AddFacet(f.ctx, vid, "Publishable")
		assert.True(t, errs.IsImmutable(err), "got %v", err)
		err = s.SetACP(f.ctx, vid, nil)
		assert.True(t, errs.IsImmutable(err), "got %v", err)
		_, err = s.MoveDocument(f.ctx, vid, ws, "")
		assert.True(t, errs.IsConflict(err), "got %v", err)

		writer := f.session(t, bob, AllowVersionWrite())
		_, err = writer.UpdateDocument(f.ctx, vid, titled("thawed"))
		assert.True(t, errs.IsImmutable(err), "got %v", err)
		_, err = writer.UpdateDocument(f.ctx, vid, map[string]model.Value{
			"dc:issued": model.Time(testStart),
		})
		require.NoError(t, err)
		require.NoError(t, writer.FollowTransition(f.ctx, vid, "approved"))
		require.NoError(t, writer.Commit(f.ctx))

		v, err := writer.GetDocument(f.ctx, vid)
		require.NoError(t, err)
		assert.Equal(t, "frozen", title(t, v))
		assert.Equal(t, "approved", v.LifecycleState)
	})
}

func TestRestoreToVersion(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, bob)
		doc, err := s.CreateDocument(f.ctx, ws, "file", "File", titled("v1"))
		require.NoError(t, err)
		v1, err := s.CheckIn(f.ctx, doc.ID, VersionMinor, "")
		require.NoError(t, err)
		_, err = s.UpdateDocument(f.ctx, doc.ID, titled("v2"))
		require.NoError(t, err)
		require.NoError(t, s.Commit(f.ctx))

		restored, err := s.RestoreToVersion(f.ctx, doc.ID, v1, RestoreOptions{})
		require.NoError(t, err)
		require.NoError(t, s.Commit(f.ctx))
		assert.Equal(t, "v1", title(t, restored))
		assert.True(t, restored.CheckedIn)
		assert.Equal(t, v1, restored.BaseVersionID)
		assert.Equal(t, int64(2), restored.MinorVersion)

		versions, err := s.GetVersions(f.ctx, doc.ID)
		require.NoError(t, err)
		require.Equal(t, []string{"0.1", "0.2"}, labels(versions))
		assert.Equal(t, "v2", title(t, versions[1]))

		// A clean document restores without a snapshot.
		restored, err = s.RestoreToVersion(f.ctx, doc.ID, versions[1].ID, RestoreOptions{CheckOut: true})
		require.NoError(t, err)
		assert.Equal(t, "v2", title(t, restored))
		assert.False(t, restored.CheckedIn)
		versions, err = s.GetVersions(f.ctx, doc.ID)
		require.NoError(t, err)
		assert.Len(t, versions, 2)

		// A dirty document restored with SkipSnapshotCreation loses its changes.
		_, err = s.UpdateDocument(f.ctx, doc.ID, titled("lost"))
		require.NoError(t, err)
		_, err = s.RestoreToVersion(f.ctx, doc.ID, v1, RestoreOptions{SkipSnapshotCreation: true})
		require.NoError(t, err)
		versions, err = s.GetVersions(f.ctx, doc.ID)
		require.NoError(t, err)
		assert.Len(t, versions, 2)

		assert.Len(t, f.events.Find(event.DocumentRestored), 3)
	})
}

func TestRestoreToVersion_OtherSeries(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ws := f.workspace(t)
		s := f.session(t, bob)
		a, err := s.CreateDocument(f.ctx, ws, "a", "File", nil)
		require.NoError(t, err)
		b, err := s.CreateDocument(f.ctx, ws, "b", "File", nil)
		require.NoError(t, err)
		va, err := s.CheckIn(f.ctx, a.ID, VersionMinor, "")
		require.NoError(t, err)

		_, err = s.RestoreToVersion(f.ctx, b.ID, va, RestoreOptions{})
		assert.True(t, errs.IsConflict(err), "got %v", err)
	})
}
