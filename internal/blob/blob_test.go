package blob

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nxdoc/internal/errs"
)

func TestPutGet(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	digest, err := m.Put([]byte("hello world"))
	require.NoError(t, err)
	assert.Len(t, digest, 64)
	assert.Equal(t, Digest([]byte("hello world")), digest)
	assert.True(t, m.Has(digest))

	data, err := m.Get(digest)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	again, err := m.Put([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, digest, again)

	other, err := m.Put([]byte("hello world!"))
	require.NoError(t, err)
	assert.NotEqual(t, digest, other)
}

func TestLayout(t *testing.T) {
	root := t.TempDir()
	m, err := Open(root)
	require.NoError(t, err)

	digest, err := m.Put([]byte("x"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, digest[:2], digest[2:4], digest))
	assert.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, digest[:2], digest[2:4]))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestGet_Missing(t *testing.T) {
	m, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = m.Get(Digest([]byte("never stored")))
	assert.True(t, errs.IsNotFound(err))

	_, err = m.Get("../../etc/passwd")
	assert.True(t, errs.IsNotFound(err))
	assert.False(t, m.Has("zz"))
}

func TestExtractText(t *testing.T) {
	assert.Equal(t, "plain", ExtractText("text/plain", []byte("plain")))
	assert.Equal(t, "untyped", ExtractText("", []byte("untyped")))
	assert.Equal(t, `{"a":1}`, ExtractText("application/json", []byte(`{"a":1}`)))
	assert.Empty(t, ExtractText("image/png", []byte("png-ish")))
	assert.Empty(t, ExtractText("text/plain", []byte{0xff, 0xfe}))
	assert.Empty(t, ExtractText("", []byte{'a', 0, 'b'}))
}
