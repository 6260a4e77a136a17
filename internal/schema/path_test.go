package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nxdoc/internal/errs"
)

func TestResolve(t *testing.T) {
	r := Default()
	all := r.TypeNames()

	testCases := []struct {
		name      string
		xpath     string
		canonical string
		listValue bool
		leaf      FieldKind
	}{
		{"prefixed scalar", "dc:title", "dublincore:title", false, KindString},
		{"scalar list", "dc:subjects", "dublincore:subjects", true, KindString},
		{"list index", "dc:subjects/0", "dublincore:subjects/0", false, KindString},
		{"uncorrelated wildcard", "dc:subjects/*", "dublincore:subjects/*", false, KindString},
		{"complex list correlated", "cpx:people/*1/firstname", "complexschema:people/*1/firstname", false, KindString},
		{"complex map", "cpx:address/city", "complexschema:address/city", false, KindString},
		{"blob subfield", "file:content/digest", "file:content/digest", false, KindString},
		{"unprefixed schema", "icon", "common:icon", false, KindString},
		{"schema name as prefix", "common:icon", "common:icon", false, KindString},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := r.Resolve(tc.xpath, all)
			require.NoError(t, err)
			assert.Equal(t, tc.canonical, p.Canonical())
			assert.Equal(t, tc.listValue, p.ListValued)
			assert.Equal(t, tc.leaf, p.Leaf.Kind)
		})
	}
}

func TestResolve_Errors(t *testing.T) {
	r := Default()
	all := r.TypeNames()

	testCases := []struct {
		name    string
		xpath   string
		segment string
		message string
	}{
		{"unknown prefix", "zz:title", "zz:title", "no schema with prefix"},
		{"unknown field", "dc:nope", "dc:nope", "has no field"},
		{"prefix required", "title", "title", "prefix required, use dc:title"},
		{"index on scalar", "dc:title/0", "0", "is not a list"},
		{"missing element selector", "cpx:people/firstname", "firstname", "an index or wildcard is required"},
		{"unknown sub-property", "cpx:address/zip", "zip", "has no sub-property"},
		{"empty segment", "cpx:address/", "", "empty path segment"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(tc.xpath, all)
			require.Error(t, err)
			assert.True(t, errs.IsParse(err))
			assert.ErrorContains(t, err, tc.message)

			var e *errs.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tc.segment, e.Details["segment"])
			assert.Equal(t, tc.xpath, e.Details["path"])
		})
	}
}

func TestResolve_WildcardVar(t *testing.T) {
	r := Default()
	p, err := r.Resolve("cpx:people/*2/lastname", r.TypeNames())
	require.NoError(t, err)
	require.True(t, p.HasWildcard())
	assert.Equal(t, "*2", p.Steps[0].Var)

	p, err = r.Resolve("dc:subjects/*", r.TypeNames())
	require.NoError(t, err)
	assert.Equal(t, "", p.Steps[0].Var)
}

func TestIsWildcardSegment(t *testing.T) {
	assert.True(t, IsWildcardSegment("*"))
	assert.True(t, IsWildcardSegment("*12"))
	assert.False(t, IsWildcardSegment("*a"))
	assert.False(t, IsWildcardSegment("1"))
}
