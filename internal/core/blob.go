package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/nxdoc/internal/blob"
	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/event"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/schema"
	"github.com/roach88/nxdoc/internal/security"
)

// AttachBlob stores data and sets the blob property at xpath of id. Once
// the transaction commits, the document's extracted text is refreshed
// asynchronously and a BinaryTextUpdated event follows.
func (s *Session) AttachBlob(ctx context.Context, id, xpath, filename, mimeType string, data []byte) error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.repo.blobs == nil {
		return errs.Conflict("repository has no blob store")
	}
	st, err := s.src.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("attach blob: %w", err)
	}
	target, err := s.writeTarget(ctx, st)
	if err != nil {
		return err
	}
	p, err := s.resolve(target, xpath)
	if err != nil {
		return err
	}
	if p.Leaf.Kind != schema.KindBlob || p.ListValued {
		return errs.Conflict("property %s is not a blob", xpath).With("path", xpath)
	}
	digest, err := s.repo.blobs.Put(data)
	if err != nil {
		return fmt.Errorf("attach blob: %w", err)
	}
	value := model.Map{
		schema.BlobName:     model.String(filename),
		schema.BlobMimeType: model.String(mimeType),
		schema.BlobDigest:   model.String(digest),
		schema.BlobLength:   model.Int(len(data)),
	}
	if _, err := s.UpdateDocument(ctx, id, map[string]model.Value{xpath: value}); err != nil {
		return err
	}

	repo, targetID := s.repo, target.ID
	s.onCommit(func() {
		repo.submit("binary-text", func(ctx context.Context) error {
			return repo.refreshBinaryText(ctx, targetID)
		})
	})
	return nil
}

// GetBlob returns the content of the blob property at xpath of id.
func (s *Session) GetBlob(ctx context.Context, id, xpath string) ([]byte, error) {
	if s.repo.blobs == nil {
		return nil, errs.Conflict("repository has no blob store")
	}
	v, err := s.GetProperty(ctx, id, xpath)
	if err != nil {
		return nil, err
	}
	m, ok := v.(model.Map)
	if !ok {
		return nil, errs.NotFound("no blob at %s of %s", xpath, id).With("id", id).With("path", xpath)
	}
	digest, _ := m[schema.BlobDigest].(model.String)
	return s.repo.blobs.Get(string(digest))
}

// refreshBinaryText recomputes the extracted text of id from its blobs.
func (r *Repository) refreshBinaryText(ctx context.Context, id string) error {
	s, err := r.NewSession(security.System)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.load(ctx, id)
	if errs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var texts []string
	var count int
	for _, name := range r.registry.DocumentSchemas(st.Type, st.Facets) {
		sch, ok := r.registry.Schema(name)
		if !ok {
			continue
		}
		data := st.SchemaData(name)
		for _, f := range sch.Fields {
			eachBlob(f, data[f.Name], func(b model.Map) {
				count++
				digest, _ := b[schema.BlobDigest].(model.String)
				mimeType, _ := b[schema.BlobMimeType].(model.String)
				content, err := r.blobs.Get(string(digest))
				if err != nil {
					r.logger.Warn("blob unreadable", "id", id, "digest", string(digest), "error", err)
					return
				}
				if text := blob.ExtractText(string(mimeType), content); text != "" {
					texts = append(texts, text)
				}
			})
		}
	}
	text := strings.Join(texts, "\n")
	if text == st.BinaryText {
		return nil
	}
	st.BinaryText = text
	s.write(st)
	if err := s.Commit(ctx); err != nil {
		return fmt.Errorf("update binary text of %s: %w", id, err)
	}
	r.emit(ctx, event.BinaryTextUpdated, id, security.System, map[string]string{
		"blobs": fmt.Sprint(count),
	})
	return nil
}

// eachBlob calls fn for every blob value held by field f.
func eachBlob(f *schema.Field, v model.Value, fn func(model.Map)) {
	if model.IsNull(v) {
		return
	}
	if f.List {
		l, _ := v.(model.List)
		for _, e := range l {
			eachBlob(&schema.Field{Name: f.Name, Kind: f.Kind, Fields: f.Fields}, e, fn)
		}
		return
	}
	m, ok := v.(model.Map)
	if !ok {
		return
	}
	switch f.Kind {
	case schema.KindBlob:
		fn(m)
	case schema.KindComplex:
		for _, child := range f.Fields {
			eachBlob(child, m[child.Name], fn)
		}
	}
}
