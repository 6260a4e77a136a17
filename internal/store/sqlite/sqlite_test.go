package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/store"
	"github.com/roach88/nxdoc/internal/store/storetest"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		return createTestStore(t)
	})
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	require.NoError(t, s.verifyPragma("journal_mode", "wal"))
	require.NoError(t, s.verifyPragma("synchronous", "1"))
	require.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	require.NoError(t, s.verifyPragma("foreign_keys", "1"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Apply(context.Background(), store.Batch{
		Creates: []*model.State{storetest.Doc("d1", "File", "", "")},
	}))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	require.NoError(t, s2.verifyPragma("user_version", "1"))
	got, err := s2.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "File", got.Type)
}

func TestSystemColumns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	doc := storetest.Doc("d1", "File", "", "")
	doc.LifecycleState = "project"
	doc.ChangeToken = 7
	require.NoError(t, s.Apply(ctx, store.Batch{Creates: []*model.State{doc}}))

	var (
		parent    any
		lifecycle string
		token     int64
	)
	err := s.DB().QueryRow(
		`SELECT parent_id, lifecycle_state, change_token FROM documents WHERE id = ?`, "d1",
	).Scan(&parent, &lifecycle, &token)
	require.NoError(t, err)
	assert.Nil(t, parent, "empty parent is stored as NULL")
	assert.Equal(t, "project", lifecycle)
	assert.Equal(t, int64(7), token)
}

func TestReads_CompiledSQLExecutes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.True(t, errs.IsNotFound(err), "got %v", err)

	require.NoError(t, s.Apply(ctx, store.Batch{Creates: []*model.State{
		storetest.Doc("b", "Folder", "", ""),
		storetest.Doc("a", "File", "b", "x"),
		storetest.Doc("B", "File", "b", "y"),
	}}))

	all, err := s.Find(ctx, nil)
	require.NoError(t, err)
	var ids []string
	for _, st := range all {
		ids = append(ids, st.ID)
	}
	assert.Equal(t, []string{"B", "a", "b"}, ids, "byte-wise id order")

	children, err := s.GetChildren(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, children, 2)
	child, err := s.GetChild(ctx, "b", "y")
	require.NoError(t, err)
	assert.Equal(t, "B", child.ID)
}
