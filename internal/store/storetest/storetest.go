// Package storetest is the conformance suite shared by every
// store.Backend implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/queryir"
	"github.com/roach88/nxdoc/internal/store"
)

// OpenFunc opens an empty backend. Implementations register cleanup with
// t.Cleanup.
type OpenFunc func(t *testing.T) store.Backend

var created = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Doc builds a live document state for tests.
func Doc(id, typ, parentID, name string) *model.State {
	return &model.State{
		ID:       id,
		Kind:     model.KindDocument,
		Type:     typ,
		ParentID: parentID,
		Name:     name,
		SeriesID: id,
		Created:  created,
		Modified: created,
	}
}

// Run runs the conformance suite against open.
func Run(t *testing.T, open OpenFunc) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, open(t)) })
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, open(t)) })
	t.Run("Children", func(t *testing.T) { testChildren(t, open(t)) })
	t.Run("Move", func(t *testing.T) { testMove(t, open(t)) })
	t.Run("Find", func(t *testing.T) { testFind(t, open(t)) })
	t.Run("BatchErrors", func(t *testing.T) { testBatchErrors(t, open(t)) })
	t.Run("DeleteThenReuseName", func(t *testing.T) { testDeleteThenReuseName(t, open(t)) })
	t.Run("Locks", func(t *testing.T) { testLocks(t, open(t)) })
}

func seed(t *testing.T, b store.Backend, states ...*model.State) {
	t.Helper()
	require.NoError(t, b.Apply(context.Background(), store.Batch{Creates: states}))
}

func ids(states []*model.State) []string {
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = st.ID
	}
	return out
}

func testGetMissing(t *testing.T, b store.Backend) {
	ctx := context.Background()

	_, err := b.Get(ctx, "nope")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))

	_, err = b.GetChild(ctx, "nope", "x")
	assert.True(t, errs.IsNotFound(err))

	children, err := b.GetChildren(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, children)
}

func testRoundTrip(t *testing.T, b store.Backend) {
	ctx := context.Background()

	doc := Doc("d1", "File", "", "")
	doc.LifecycleState = "project"
	doc.ChangeToken = 42
	doc.Facets = []string{"Publishable"}
	doc.Properties = model.Map{
		"dublincore": model.Map{
			"title":    model.String("Hello"),
			"subjects": model.List{model.String("a"), model.String("b")},
			"modified": model.Time(created),
		},
		"complexschema": model.Map{
			"ratings": model.List{model.Float(1), model.Float(2.5)},
			"people": model.List{
				model.Map{"firstname": model.String("John"), "age": model.Int(40)},
			},
		},
	}
	doc.ACP = model.ACP{{Name: model.LocalACL, Entries: []model.ACE{model.GrantACE("bob", model.Read)}}}
	seed(t, b, doc)

	got, err := b.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, model.KindDocument, got.Kind)
	assert.Equal(t, int64(42), got.ChangeToken)
	assert.Equal(t, []string{"Publishable"}, got.Facets)
	assert.True(t, model.Equal(doc.Properties, got.Properties), "properties differ: %v", got.Properties)
	assert.Equal(t, doc.ACP, got.ACP)
	assert.True(t, got.Created.Equal(created))
	assert.Nil(t, got.Lock)

	// Reads are copies.
	got.Properties["dublincore"].(model.Map)["title"] = model.String("changed")
	again, err := b.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.String("Hello"), again.SchemaData("dublincore")["title"])
}

func testChildren(t *testing.T, b store.Backend) {
	ctx := context.Background()

	seed(t, b,
		Doc("root", "Root", "", ""),
		Doc("c3", "Folder", "root", "a"),
		Doc("c1", "Folder", "root", "b"),
		Doc("c2", "File", "root", "c"),
		Doc("g1", "File", "c1", "a"),
	)

	children, err := b.GetChildren(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids(children))

	child, err := b.GetChild(ctx, "root", "a")
	require.NoError(t, err)
	assert.Equal(t, "c3", child.ID)

	child, err = b.GetChild(ctx, "c1", "a")
	require.NoError(t, err)
	assert.Equal(t, "g1", child.ID)

	_, err = b.GetChild(ctx, "root", "zz")
	assert.True(t, errs.IsNotFound(err))
}

func testMove(t *testing.T, b store.Backend) {
	ctx := context.Background()

	seed(t, b,
		Doc("root", "Root", "", ""),
		Doc("f1", "Folder", "root", "f1"),
		Doc("f2", "Folder", "root", "f2"),
		Doc("doc", "File", "f1", "doc"),
	)

	moved := Doc("doc", "File", "f2", "renamed")
	require.NoError(t, b.Apply(ctx, store.Batch{Updates: []*model.State{moved}}))

	_, err := b.GetChild(ctx, "f1", "doc")
	assert.True(t, errs.IsNotFound(err))
	got, err := b.GetChild(ctx, "f2", "renamed")
	require.NoError(t, err)
	assert.Equal(t, "doc", got.ID)

	left, err := b.GetChildren(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func testFind(t *testing.T, b store.Backend) {
	ctx := context.Background()

	file := func(id, title string, count int64, flag bool) *model.State {
		st := Doc(id, "File", "root", id)
		st.Properties = model.Map{
			"dublincore":    model.Map{"title": model.String(title)},
			"complexschema": model.Map{"count": model.Int(count), "flag": model.Bool(flag)},
		}
		return st
	}
	version := Doc("v1", "File", "", "")
	version.Kind = model.KindVersion
	version.SeriesID = "f2"
	proxy := Doc("p1", "File", "root", "p1")
	proxy.Kind = model.KindProxy
	proxy.TargetID = "v1"
	proxy.SeriesID = "f2"

	all := []*model.State{
		Doc("root", "Folder", "", ""),
		file("f3", "gamma", 3, false),
		file("f1", "alpha", 1, true),
		file("f2", "beta", 2, true),
		version, proxy,
	}
	seed(t, b, all...)

	testCases := []struct {
		name string
		sel  *queryir.Select
		want []string
	}{
		{name: "nil", sel: nil, want: []string{"f1", "f2", "f3", "p1", "root", "v1"}},
		{name: "types", sel: &queryir.Select{Types: []string{"Folder"}}, want: []string{"root"}},
		{
			name: "kinds",
			sel:  &queryir.Select{Kinds: []model.Kind{model.KindVersion, model.KindProxy}},
			want: []string{"p1", "v1"},
		},
		{
			name: "series",
			sel: &queryir.Select{Where: []queryir.Condition{
				&queryir.Equals{Field: queryir.Field{Column: queryir.ColumnSeriesID}, Value: model.String("f2")},
			}},
			want: []string{"f2", "p1", "v1"},
		},
		{
			name: "target",
			sel: &queryir.Select{Where: []queryir.Condition{
				&queryir.Equals{Field: queryir.Field{Column: queryir.ColumnTargetID}, Value: model.String("v1")},
			}},
			want: []string{"p1"},
		},
		{
			name: "string property",
			sel: &queryir.Select{
				Kinds: []model.Kind{model.KindDocument},
				Where: []queryir.Condition{
					&queryir.Equals{Field: queryir.Field{Schema: "dublincore", Name: "title"}, Value: model.String("beta")},
				},
			},
			want: []string{"f2"},
		},
		{
			name: "int property in",
			sel: &queryir.Select{
				Kinds: []model.Kind{model.KindDocument},
				Where: []queryir.Condition{
					&queryir.In{Field: queryir.Field{Schema: "complexschema", Name: "count"}, Values: []model.Value{model.Int(1), model.Int(3)}},
				},
			},
			want: []string{"f1", "f3"},
		},
		{
			name: "bool property",
			sel: &queryir.Select{
				Kinds: []model.Kind{model.KindDocument},
				Where: []queryir.Condition{
					&queryir.Equals{Field: queryir.Field{Schema: "complexschema", Name: "flag"}, Value: model.Bool(true)},
				},
			},
			want: []string{"f1", "f2"},
		},
		{
			name: "missing property never matches",
			sel: &queryir.Select{
				Kinds: []model.Kind{model.KindDocument},
				Where: []queryir.Condition{
					&queryir.Equals{Field: queryir.Field{Schema: "note", Name: "note"}, Value: model.String("")},
				},
			},
			want: []string{},
		},
		{
			name: "empty parent is null",
			sel: &queryir.Select{Where: []queryir.Condition{
				&queryir.Equals{Field: queryir.Field{Column: queryir.ColumnParentID}, Value: model.String("")},
			}},
			want: []string{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := b.Find(ctx, tc.sel)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(got))

			// The backend agrees with the Go evaluator.
			var viaMatch []string
			for _, st := range all {
				if queryir.Match(tc.sel, st) {
					viaMatch = append(viaMatch, st.ID)
				}
			}
			assert.ElementsMatch(t, tc.want, viaMatch)
		})
	}
}

func testBatchErrors(t *testing.T, b store.Backend) {
	ctx := context.Background()

	seed(t, b, Doc("root", "Root", "", ""), Doc("a", "File", "root", "a"))

	err := b.Apply(ctx, store.Batch{Creates: []*model.State{Doc("a", "File", "root", "other")}})
	require.Error(t, err)
	assert.True(t, errs.IsConflict(err))

	err = b.Apply(ctx, store.Batch{Updates: []*model.State{Doc("ghost", "File", "root", "ghost")}})
	require.Error(t, err)
	assert.True(t, errs.IsConflict(err))

	err = b.Apply(ctx, store.Batch{Creates: []*model.State{Doc("b", "File", "root", "a")}})
	require.Error(t, err)
	assert.True(t, errs.IsConflict(err))

	// A failing batch leaves nothing behind.
	err = b.Apply(ctx, store.Batch{
		Deletes: []string{"a"},
		Creates: []*model.State{Doc("c", "File", "root", "c"), Doc("root", "Root", "", "")},
	})
	require.Error(t, err)
	_, err = b.Get(ctx, "a")
	require.NoError(t, err)
	_, err = b.Get(ctx, "c")
	assert.True(t, errs.IsNotFound(err))

	err = b.Apply(ctx, store.Batch{Creates: []*model.State{{ID: "nokind"}}})
	assert.True(t, errs.IsConflict(err))

	// Deleting a missing id is a no-op.
	require.NoError(t, b.Apply(ctx, store.Batch{Deletes: []string{"ghost"}}))
}

func testDeleteThenReuseName(t *testing.T, b store.Backend) {
	ctx := context.Background()

	seed(t, b, Doc("root", "Root", "", ""), Doc("old", "File", "root", "x"))

	require.NoError(t, b.Apply(ctx, store.Batch{
		Deletes: []string{"old"},
		Creates: []*model.State{Doc("new", "File", "root", "x")},
	}))

	got, err := b.GetChild(ctx, "root", "x")
	require.NoError(t, err)
	assert.Equal(t, "new", got.ID)
}

func testLocks(t *testing.T, b store.Backend) {
	ctx := context.Background()

	seed(t, b, Doc("d", "File", "", ""))

	_, err := b.SetLock(ctx, "ghost", model.Lock{Owner: "bob", Created: created})
	assert.True(t, errs.IsNotFound(err))

	existing, err := b.SetLock(ctx, "d", model.Lock{Owner: "bob", Created: created})
	require.NoError(t, err)
	assert.Nil(t, existing)

	got, err := b.Get(ctx, "d")
	require.NoError(t, err)
	require.NotNil(t, got.Lock)
	assert.Equal(t, "bob", got.Lock.Owner)
	assert.True(t, got.Lock.Created.Equal(created))

	// Re-locking, even by the owner, reports the existing lock.
	existing, err = b.SetLock(ctx, "d", model.Lock{Owner: "bob", Created: created.Add(time.Hour)})
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.True(t, existing.Created.Equal(created))

	_, err = b.RemoveLock(ctx, "d", "alice")
	require.Error(t, err)
	assert.True(t, errs.IsSecurity(err))

	removed, err := b.RemoveLock(ctx, "d", "bob")
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, "bob", removed.Owner)

	removed, err = b.RemoveLock(ctx, "d", "bob")
	require.NoError(t, err)
	assert.Nil(t, removed)

	// Forced removal and lock cleanup on delete.
	_, err = b.SetLock(ctx, "d", model.Lock{Owner: "carol", Created: created})
	require.NoError(t, err)
	removed, err = b.RemoveLock(ctx, "d", "")
	require.NoError(t, err)
	assert.Equal(t, "carol", removed.Owner)

	_, err = b.SetLock(ctx, "d", model.Lock{Owner: "carol", Created: created})
	require.NoError(t, err)
	require.NoError(t, b.Apply(ctx, store.Batch{Deletes: []string{"d"}}))
	seed(t, b, Doc("d", "File", "", ""))
	got, err = b.Get(ctx, "d")
	require.NoError(t, err)
	assert.Nil(t, got.Lock)
}
