package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalValue_KeepsFloatAndTimeTyped(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	in := Map{
		"title":   String("doc"),
		"count":   Int(2),
		"ratio":   Float(2),
		"created": Time(ts),
		"tags":    List{String("a"), String("b")},
		"nested":  Map{"flag": Bool(true), "gone": Null{}},
	}

	data, err := MarshalValue(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ratio":2.0`)
	assert.Contains(t, string(data), `"$time":"2024-03-01T10:30:00Z"`)

	out, err := UnmarshalValue(data)
	require.NoError(t, err)
	m := out.(Map)
	assert.IsType(t, Float(0), m["ratio"])
	assert.IsType(t, Int(0), m["count"])
	assert.Equal(t, Time(ts), m["created"])
	assert.True(t, Equal(in, out))
}

func TestMarshalValue_SortedKeys(t *testing.T) {
	data, err := MarshalValue(Map{"b": Int(1), "a": Int(2)})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, string(data))
}

func TestFromGo_Unsupported(t *testing.T) {
	_, err := FromGo(struct{}{})
	assert.Error(t, err)

	_, err = FromGo([]any{1, struct{}{}})
	assert.ErrorContains(t, err, "list[1]")
}

func TestCompare(t *testing.T) {
	testCases := []struct {
		name string
		a, b Value
		want int
		ok   bool
	}{
		{"strings", String("a"), String("b"), -1, true},
		{"int vs float", Int(3), Float(2.5), 1, true},
		{"bool vs int", Bool(true), Int(1), 0, true},
		{"times", Time(time.Unix(10, 0)), Time(time.Unix(5, 0)), 1, true},
		{"string vs int", String("1"), Int(1), 0, false},
		{"null", Null{}, Int(1), 0, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, ok := Compare(tc.a, tc.b)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, c)
			}
		})
	}
}

func TestSortCompare_NullsFirst(t *testing.T) {
	assert.Equal(t, -1, SortCompare(Null{}, String("a")))
	assert.Equal(t, 1, SortCompare(Int(0), nil))
	assert.Equal(t, 0, SortCompare(nil, Null{}))
	assert.Equal(t, -1, SortCompare(Int(5), String("a")), "numbers sort before strings")
}

func TestClone_IsDeep(t *testing.T) {
	orig := Map{"list": List{Map{"fn": String("John")}}}
	cp := orig.Clone()
	cp["list"].(List)[0].(Map)["fn"] = String("Paul")
	assert.Equal(t, String("John"), orig["list"].(List)[0].(Map)["fn"])
}

func TestPropertiesDigest_IgnoresClearedFields(t *testing.T) {
	a, err := PropertiesDigest(Map{"dc": Map{"title": String("x")}})
	require.NoError(t, err)
	b, err := PropertiesDigest(Map{"dc": Map{"title": String("x"), "description": Null{}, "subjects": List{}}})
	require.NoError(t, err)
	c, err := PropertiesDigest(Map{"dc": Map{"title": String("y")}})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestPropertiesDigest_NFCNormalized(t *testing.T) {
	composed, err := PropertiesDigest(Map{"s": Map{"v": String("\u00e9")}})
	require.NoError(t, err)
	decomposed, err := PropertiesDigest(Map{"s": Map{"v": String("e\u0301")}})
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestACEStatus(t *testing.T) {
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.Equal(t, ACEEffective, GrantACE("bob", Read).Status(now))
	assert.Equal(t, ACEPending, ACE{Principal: "bob", Begin: &future}.Status(now))
	assert.Equal(t, ACEArchived, ACE{Principal: "bob", End: &past}.Status(now))
	assert.Equal(t, ACEEffective, ACE{Principal: "bob", Begin: &past, End: &future}.Status(now))
	assert.True(t, BlockACE().IsBlock())
	assert.False(t, DenyACE("bob", Everything).IsBlock())
}

func TestACP_WithACLKeepsLocalFirst(t *testing.T) {
	acp := ACP{{Name: "workflow", Entries: []ACE{GrantACE("wf", Read)}}}
	acp = acp.WithACL(ACL{Name: LocalACL, Entries: []ACE{GrantACE("bob", Read)}})

	require.Len(t, acp, 2)
	assert.Equal(t, LocalACL, acp[0].Name)
	flat := acp.Flatten()
	require.Len(t, flat, 2)
	assert.Equal(t, "bob", flat[0].Principal)
	assert.Equal(t, "workflow", flat[1].ACLName)
}

func TestStateRoundTrip(t *testing.T) {
	s := &State{
		ID:         "d1",
		Kind:       KindDocument,
		Type:       "File",
		Name:       "f",
		SeriesID:   "d1",
		Properties: Map{"dublincore": Map{"title": String("t"), "ratio": Float(1)}},
		ACP:        ACP{{Name: LocalACL, Entries: []ACE{GrantACE("bob", Read)}}},
		Lock:       &Lock{Owner: "bob"},
	}
	data, err := MarshalState(s)
	require.NoError(t, err)

	got, err := UnmarshalState(data)
	require.NoError(t, err)
	assert.Nil(t, got.Lock, "locks are not persisted through state JSON")
	assert.Equal(t, Float(1), got.SchemaData("dublincore")["ratio"])
	assert.Equal(t, s.ACP, got.ACP)
}
