package security

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/metrics"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/store"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type mapGetter map[string]*model.State

func (m mapGetter) Get(_ context.Context, id string) (*model.State, error) {
	if st, ok := m[id]; ok {
		return st, nil
	}
	return nil, store.NotFound(id)
}

func doc(id, parentID string, entries ...model.ACE) *model.State {
	st := &model.State{ID: id, Kind: model.KindDocument, Type: "Folder", ParentID: parentID, Name: id, SeriesID: id}
	if parentID == "" {
		st.Name = ""
	}
	if len(entries) > 0 {
		st.ACP = model.ACP{{Name: model.LocalACL, Entries: entries}}
	}
	return st
}

// hierarchy: root (Everyone Read, admins Everything) > a (bob Write) > b (BLOCK, carol Read) > c
func hierarchy() mapGetter {
	g := mapGetter{}
	for _, st := range []*model.State{
		doc("root", "", model.GrantACE(model.Everyone, model.Read), model.GrantACE("admins", model.Everything)),
		doc("a", "root", model.GrantACE("bob", model.Write)),
		doc("b", "a", model.GrantACE("carol", model.Read), model.BlockACE()),
		doc("c", "b"),
	} {
		g[st.ID] = st
	}
	return g
}

func newResolver(opts ...Option) *Resolver {
	return NewResolver(append([]Option{WithClock(func() time.Time { return testNow })}, opts...)...)
}

func TestImplies(t *testing.T) {
	testCases := []struct {
		granted, requested string
		want               bool
	}{
		{model.Everything, model.Browse, true},
		{model.Everything, Version, true},
		{model.ReadWrite, WriteProperties, true},
		{model.Read, model.Browse, true},
		{model.Read, ReadVersion, true},
		{model.Read, model.Write, false},
		{model.Write, Remove, true},
		{model.Write, model.Browse, false},
		{model.Browse, model.Read, false},
		{"Custom", "Custom", true},
	}
	for _, tc := range testCases {
		t.Run(tc.granted+">"+tc.requested, func(t *testing.T) {
			assert.Equal(t, tc.want, Implies(tc.granted, tc.requested))
		})
	}
}

func TestHasPermission(t *testing.T) {
	g := hierarchy()
	r := newResolver()
	bob := Principal{Name: "bob"}
	carol := Principal{Name: "carol"}
	dave := Principal{Name: "dave", Groups: []string{"admins"}}
	anon := Principal{Name: "anon"}

	testCases := []struct {
		name      string
		principal Principal
		id        string
		perm      string
		want      bool
	}{
		{"inherited everyone read", anon, "a", model.Browse, true},
		{"no write for everyone", anon, "a", model.Write, false},
		{"local write", bob, "a", WriteProperties, true},
		{"group grant", dave, "a", model.Write, true},
		{"block stops inheritance", anon, "b", model.Read, false},
		{"block stops ancestor grant", bob, "b", model.Write, false},
		{"block stops group grant", dave, "b", model.Read, false},
		{"entry before block", carol, "b", model.Browse, true},
		{"block inherited by child", anon, "c", model.Browse, false},
		{"grant above block applies below", carol, "c", model.Read, true},
		{"root", anon, "root", model.Read, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.HasPermission(context.Background(), g, tc.principal, g[tc.id], tc.perm)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHasPermission_FirstMatchWins(t *testing.T) {
	g := mapGetter{}
	g["root"] = doc("root", "", model.GrantACE(model.Everyone, model.Read))
	g["x"] = doc("x", "root", model.DenyACE("bob", model.Browse), model.GrantACE("bob", model.Read))
	r := newResolver()

	ok, err := r.HasPermission(context.Background(), g, Principal{Name: "bob"}, g["x"], model.Browse)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.HasPermission(context.Background(), g, Principal{Name: "bob"}, g["x"], ReadProperties)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasPermission_ValidityWindow(t *testing.T) {
	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)

	pending := model.GrantACE("bob", model.Read)
	pending.Begin = &future
	archived := model.GrantACE("carol", model.Read)
	archived.End = &past
	active := model.GrantACE("erin", model.Read)
	active.Begin = &past
	active.End = &future

	g := mapGetter{"root": doc("root", "", pending, archived, active)}
	r := newResolver()

	for name, want := range map[string]bool{"bob": false, "carol": false, "erin": true} {
		ok, err := r.HasPermission(context.Background(), g, Principal{Name: name}, g["root"], model.Browse)
		require.NoError(t, err)
		assert.Equal(t, want, ok, name)
	}
}

func TestHasPermission_VersionsUseLiveChain(t *testing.T) {
	g := hierarchy()
	live := doc("live", "b")
	g["live"] = live
	v := &model.State{ID: "v", Kind: model.KindVersion, Type: "File", SeriesID: "live"}
	g["v"] = v
	orphan := &model.State{ID: "o", Kind: model.KindVersion, Type: "File", SeriesID: "gone"}
	r := newResolver()

	ok, err := r.HasPermission(context.Background(), g, Principal{Name: "carol"}, v, model.Read)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.HasPermission(context.Background(), g, Principal{Name: "anon"}, v, model.Read)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.HasPermission(context.Background(), g, Principal{Name: "carol"}, orphan, model.Read)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasPermission_ProxiesUseOwnChain(t *testing.T) {
	g := hierarchy()
	p := &model.State{ID: "p", Kind: model.KindProxy, Type: "File", ParentID: "a", Name: "p", TargetID: "c"}
	g["p"] = p
	r := newResolver()

	ok, err := r.HasPermission(context.Background(), g, Principal{Name: "anon"}, p, model.Browse)
	require.NoError(t, err)
	assert.True(t, ok, "target is under a BLOCK but the proxy is not")
}

func TestHasPermission_AdministratorBypassIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := newResolver(WithLogger(logger))
	g := hierarchy()

	ok, err := r.HasPermission(context.Background(), g, Principal{Name: "root-user", Administrator: true}, g["c"], model.Everything)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, buf.String(), "administrator bypass")
	assert.Contains(t, buf.String(), "principal=root-user")

	ok, err = r.HasPermission(context.Background(), g, Principal{Name: "administrator"}, g["c"], model.Everything)
	require.NoError(t, err)
	assert.False(t, ok, "the name alone grants nothing")
}

func TestDecide_ReportsDecidingEntry(t *testing.T) {
	g := hierarchy()
	d, err := newResolver().Decide(context.Background(), g, Principal{Name: "anon"}, g["c"], model.Browse)
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.Equal(t, "b", d.DecidedBy)
	assert.True(t, d.ACE.IsBlock())
}

func TestChecker(t *testing.T) {
	g := hierarchy()
	m := metrics.New(nil)
	cache, err := NewCache(16, m)
	require.NoError(t, err)
	c := NewChecker(newResolver(), g, Principal{Name: "bob"}, cache)
	ctx := context.Background()

	require.NoError(t, c.Check(ctx, g["a"], model.Write))
	require.NoError(t, c.Check(ctx, g["a"], model.Write))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PermissionCache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PermissionCache.WithLabelValues("hit")))

	err = c.Check(ctx, g["b"], model.Write)
	require.Error(t, err)
	assert.True(t, errs.IsSecurity(err))

	visible, err := c.CanBrowse(ctx, g["c"])
	require.NoError(t, err)
	assert.False(t, visible)

	assert.Equal(t, 3, cache.Len())
	cache.Purge()
	assert.Equal(t, 0, cache.Len())
}

func TestPrincipalKey(t *testing.T) {
	a := Principal{Name: "x", Groups: []string{"g2", "g1"}}
	b := Principal{Name: "x", Groups: []string{"g1", "g2"}}
	assert.Equal(t, a.key(), b.key())
	assert.NotEqual(t, a.key(), Principal{Name: "x"}.key())
	assert.NotEqual(t, Principal{Name: "x", Administrator: true}.key(), Principal{Name: "x"}.key())
}
