package fulltext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nxdoc/internal/errs"
)

func TestTokenize_FoldsAndNormalizes(t *testing.T) {
	assert.Equal(t, []string{"hello", "wörld", "42"}, Tokenize("Hello, WÖRLD! 42"))
	assert.Equal(t, Tokenize("café"), Tokenize("CAFÉ"))
}

func TestParse(t *testing.T) {
	q, err := Parse(`foo -bar "big deal" pre* OR baz`)
	require.NoError(t, err)
	require.Len(t, q.Clauses, 2)

	first := q.Clauses[0].Terms
	require.Len(t, first, 4)
	assert.Equal(t, Term{Words: []string{"foo"}}, first[0])
	assert.Equal(t, Term{Words: []string{"bar"}, Negated: true}, first[1])
	assert.Equal(t, Term{Words: []string{"big", "deal"}}, first[2])
	assert.Equal(t, Term{Words: []string{"pre"}, Prefix: true}, first[3])
	assert.Equal(t, []Term{{Words: []string{"baz"}}}, q.Clauses[1].Terms)
}

func TestParse_Errors(t *testing.T) {
	for _, expr := range []string{"", "   ", "-foo", "foo OR", "OR foo"} {
		_, err := Parse(expr)
		assert.True(t, errs.IsParse(err), "expr %q", expr)
	}
}

func TestMatch(t *testing.T) {
	doc := NewDocument("The quick brown fox", "jumps over the lazy dog")

	testCases := []struct {
		expr string
		want bool
	}{
		{"quick fox", true},
		{"quick cat", false},
		{"quick -fox", false},
		{"quick -cat", true},
		{`"brown fox"`, true},
		{`"fox brown"`, false},
		{`"fox jumps"`, false},
		{"qui*", true},
		{"qui%", true},
		{"cat OR dog", true},
		{"cat OR mouse", false},
		{`-"lazy dog" quick`, false},
		{"QUICK", true},
	}
	for _, tc := range testCases {
		t.Run(tc.expr, func(t *testing.T) {
			q, err := Parse(tc.expr)
			require.NoError(t, err)
			ok, score := q.Match(doc)
			assert.Equal(t, tc.want, ok)
			if ok {
				assert.Greater(t, score, 0.0)
			} else {
				assert.Zero(t, score)
			}
		})
	}
}

func TestMatch_ScoreFavorsDensity(t *testing.T) {
	q, err := Parse("apple")
	require.NoError(t, err)

	_, dense := q.Match(NewDocument("apple apple pie"))
	_, sparse := q.Match(NewDocument("apple and many other words here"))
	assert.Greater(t, dense, sparse)
}
