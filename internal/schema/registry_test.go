package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Loads(t *testing.T) {
	r := Default()

	for _, name := range []string{"Folder", "File", "Note", "ComplexDoc", "Root"} {
		_, ok := r.Type(name)
		assert.True(t, ok, "type %s", name)
	}
	dc, ok := r.SchemaByPrefix("dc")
	require.True(t, ok)
	assert.Equal(t, "dublincore", dc.Name)
	assert.True(t, dc.Field("issued").VersionWritable)
	assert.True(t, dc.Field("subjects").List)

	content := r.schemas["file"].Field("content")
	require.NotNil(t, content)
	assert.Equal(t, KindBlob, content.Kind)
	assert.NotNil(t, content.Child(BlobDigest))
}

func TestRegistry_Subtypes(t *testing.T) {
	r := Default()

	subs, ok := r.Subtypes("Folder")
	require.True(t, ok)
	assert.Equal(t, []string{"Folder", "HiddenFolder", "OrderedFolder"}, subs)

	all, ok := r.Subtypes(RootType)
	require.True(t, ok)
	assert.Equal(t, r.TypeNames(), all)

	_, ok = r.Subtypes("NoSuchType")
	assert.False(t, ok)
}

func TestRegistry_InheritedSchemasAndFacets(t *testing.T) {
	r := Default()

	assert.Contains(t, r.TypeSchemas("OrderedFolder"), "dublincore")
	facets := r.TypeFacets("HiddenFolder")
	assert.Contains(t, facets, FacetHidden)
	assert.Contains(t, facets, FacetFolderish)
	assert.True(t, r.HasTypeFacet("File", FacetVersionable))
	assert.Contains(t, r.TypeSchemas("File"), "uid", "facet schemas are part of the type")
}

func TestRegistry_DocumentSchemasRecomputed(t *testing.T) {
	r := Default()

	base := r.DocumentSchemas("File", nil)
	assert.NotContains(t, base, "relatedtext")

	with := r.DocumentSchemas("File", []string{"HasRelatedText"})
	assert.Contains(t, with, "relatedtext")
	assert.Equal(t, []string{"Versionable", "Commentable", "HasRelatedText"},
		r.DocumentFacets("File", []string{"HasRelatedText", "Versionable"}))
}

func TestRegistry_Validation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddSchema(&Schema{Name: "a", Prefix: "x"}))
	assert.ErrorContains(t, r.AddSchema(&Schema{Name: "b", Prefix: "x"}), "already used")
	assert.ErrorContains(t, r.AddFacet(&Facet{Name: "F", Schemas: []string{"missing"}}), "unknown schema")
	assert.ErrorContains(t, r.AddType(&DocType{Name: RootType}), "reserved")
	assert.ErrorContains(t, r.AddType(&DocType{Name: "T", Facets: []string{"nope"}}), "unknown facet")
}

func TestQualifiedName(t *testing.T) {
	r := Default()
	assert.Equal(t, "dc:title", r.QualifiedName("dublincore", "title"))
	assert.Equal(t, "common:icon", r.QualifiedName("common", "icon"))
}

func TestRegistry_Names(t *testing.T) {
	r := Default()

	schemas := r.SchemaNames()
	assert.Contains(t, schemas, "dublincore")
	assert.Contains(t, schemas, "complexschema")
	assert.IsIncreasing(t, schemas)

	facets := r.FacetNames()
	assert.Contains(t, facets, "Versionable")
	assert.Contains(t, facets, "Publishable")
	assert.IsIncreasing(t, facets)
}
