package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/nxql"
)

func TestLike(t *testing.T) {
	testCases := []struct {
		s, pattern string
		fold       bool
		want       bool
	}{
		{"hello", "hello", false, true},
		{"hello", "h%", false, true},
		{"hello", "%llo", false, true},
		{"hello", "%l%", false, true},
		{"hello", "h_llo", false, true},
		{"hello", "h_lo", false, false},
		{"hello", "%", false, true},
		{"", "%", false, true},
		{"", "_", false, false},
		{"Hello", "hello", false, false},
		{"Hello", "hello", true, true},
		{"50%", `50\%`, false, true},
		{"500", `50\%`, false, false},
		{"a_b", `a\_b`, false, true},
		{"axb", `a\_b`, false, false},
		{"abcabc", "%abc", false, true},
		{"abcab", "%abc", false, false},
		{"mississippi", "m%iss%pi", false, true},
	}
	for _, tc := range testCases {
		t.Run(tc.s+" "+tc.pattern, func(t *testing.T) {
			assert.Equal(t, tc.want, Like(tc.s, tc.pattern, tc.fold))
		})
	}
}

func TestStartsWith(t *testing.T) {
	assert.True(t, StartsWith("/a/b", "/a"))
	assert.True(t, StartsWith("/a/b", "/a/"))
	assert.True(t, StartsWith("/a/b/c", "/a"))
	assert.False(t, StartsWith("/a", "/a"))
	assert.False(t, StartsWith("/ab", "/a"))
	assert.True(t, StartsWith("/a", "/"))
	assert.False(t, StartsWith("/", "/"))
}

func TestCompareScalar(t *testing.T) {
	one := []model.Value{model.Int(1)}
	testCases := []struct {
		name   string
		val    model.Value
		op     nxql.Operator
		values []model.Value
		want   tri
	}{
		{"eq", model.Int(1), nxql.OpEq, one, triTrue},
		{"int float", model.Float(1), nxql.OpEq, one, triTrue},
		{"ne", model.Int(2), nxql.OpNe, one, triTrue},
		{"null eq", model.Null{}, nxql.OpEq, one, triUnknown},
		{"null ne", model.Null{}, nxql.OpNe, one, triUnknown},
		{"mismatched types", model.String("1"), nxql.OpEq, one, triUnknown},
		{"lt", model.Int(0), nxql.OpLt, one, triTrue},
		{"ge", model.Int(1), nxql.OpGe, one, triTrue},
		{"in", model.Int(2), nxql.OpIn, []model.Value{model.Int(1), model.Int(2)}, triTrue},
		{"not in", model.Int(3), nxql.OpNotIn, []model.Value{model.Int(1), model.Int(2)}, triTrue},
		{"null in", model.Null{}, nxql.OpIn, one, triUnknown},
		{"between", model.Int(5), nxql.OpBetween, []model.Value{model.Int(1), model.Int(5)}, triTrue},
		{"not between", model.Int(5), nxql.OpNotBetween, []model.Value{model.Int(1), model.Int(5)}, triFalse},
		{"is null", model.Null{}, nxql.OpIsNull, nil, triTrue},
		{"is not null", model.Int(1), nxql.OpIsNotNull, nil, triTrue},
		{"like", model.String("abc"), nxql.OpLike, []model.Value{model.String("a%")}, triTrue},
		{"like non string", model.Int(1), nxql.OpLike, []model.Value{model.String("1")}, triUnknown},
		{"not ilike", model.String("ABC"), nxql.OpNotILike, []model.Value{model.String("a%")}, triFalse},
		{"startswith", model.String("/a/b"), nxql.OpStartsWith, []model.Value{model.String("/a")}, triTrue},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, compareScalar(tc.val, tc.op, tc.values))
		})
	}
}

func TestCompareList(t *testing.T) {
	list := model.List{model.String("a"), model.String("b")}
	a := []model.Value{model.String("a")}
	z := []model.Value{model.String("z")}

	assert.Equal(t, triTrue, compareList(list, nxql.OpEq, a))
	assert.Equal(t, triFalse, compareList(list, nxql.OpEq, z))
	assert.Equal(t, triFalse, compareList(list, nxql.OpNe, a))
	assert.Equal(t, triTrue, compareList(list, nxql.OpNe, z))
	assert.Equal(t, triTrue, compareList(model.Null{}, nxql.OpNe, a))
	assert.Equal(t, triTrue, compareList(model.List{}, nxql.OpIsNull, nil))
	assert.Equal(t, triFalse, compareList(list, nxql.OpIsNull, nil))
}

func TestTriLogic(t *testing.T) {
	assert.Equal(t, triUnknown, triUnknown.not())
	assert.Equal(t, triFalse, triTrue.not())
	assert.Equal(t, triFalse, min(triTrue, triUnknown, triFalse))
	assert.Equal(t, triTrue, max(triFalse, triUnknown, triTrue))
}
