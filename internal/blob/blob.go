// Package blob stores binary content by digest.
//
// Content is addressed by its blake3 digest (model.Digest with the blob
// domain) and laid out as <root>/<d[0:2]>/<d[2:4]>/<digest>. Writes go to a
// temporary file renamed into place, so a digest that exists is always
// complete. Garbage collection of unreferenced blobs is not done here.
package blob

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/model"
)

// Manager stores blobs in a directory. It is safe for concurrent use:
// writers of the same digest write identical bytes.
type Manager struct {
	root string
}

// Open creates the root directory if needed.
func Open(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &Manager{root: root}, nil
}

// Digest returns the digest data would be stored under.
func Digest(data []byte) string {
	return model.Digest(model.DomainBlob, data)
}

// Put stores data and returns its digest.
func (m *Manager) Put(data []byte) (string, error) {
	digest := Digest(data)
	path := m.path(digest)
	if _, err := os.Stat(path); err == nil {
		return digest, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create blob directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write blob %s: %w", digest, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close blob %s: %w", digest, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("store blob %s: %w", digest, err)
	}
	return digest, nil
}

// Get returns the content of a digest.
func (m *Manager) Get(digest string) ([]byte, error) {
	if !validDigest(digest) {
		return nil, errs.NotFound("invalid blob digest %q", digest).With("digest", digest)
	}
	data, err := os.ReadFile(m.path(digest))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errs.NotFound("blob %s not found", digest).With("digest", digest)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", digest, err)
	}
	return data, nil
}

// Has reports whether a digest is stored.
func (m *Manager) Has(digest string) bool {
	if !validDigest(digest) {
		return false
	}
	_, err := os.Stat(m.path(digest))
	return err == nil
}

func (m *Manager) path(digest string) string {
	return filepath.Join(m.root, digest[0:2], digest[2:4], digest)
}

func validDigest(d string) bool {
	if len(d) != 64 {
		return false
	}
	for i := 0; i < len(d); i++ {
		c := d[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// ExtractText returns the indexable text of a blob: the content itself
// for text/* types and valid UTF-8 without NUL bytes, else "".
func ExtractText(mimeType string, data []byte) string {
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return ""
	}
	if mimeType != "" && !isTextType(mimeType) {
		return ""
	}
	return string(data)
}

func isTextType(mimeType string) bool {
	switch {
	case len(mimeType) >= 5 && mimeType[:5] == "text/":
		return true
	case mimeType == "application/json", mimeType == "application/xml":
		return true
	}
	return false
}
