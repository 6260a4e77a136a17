package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Value is a sealed interface over the property value types a document can
// carry. Only Null, String, Int, Float, Bool, Time, List and Map implement
// it; type switches over Value are exhaustive.
type Value interface {
	value()
}

// Null is an absent or explicitly cleared value.
type Null struct{}

func (Null) value() {}

// String is a string scalar.
type String string

func (String) value() {}

// Int is a 64-bit integer scalar ("long" in schemas).
type Int int64

func (Int) value() {}

// Float is a double scalar.
type Float float64

func (Float) value() {}

// Bool is a boolean scalar.
type Bool bool

func (Bool) value() {}

// Time is a timestamp scalar ("date" in schemas). Stored in UTC.
type Time time.Time

func (Time) value() {}

// List is an array of scalars or a list of complex values.
type List []Value

func (List) value() {}

// Map is a complex value: field name to Value.
type Map map[string]Value

func (Map) value() {}

// timeKey marks an encoded Time inside the JSON state representation.
const timeKey = "$time"

// SortedKeys returns the map keys in byte order.
func (m Map) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Clone returns a deep copy of v. Scalars are immutable and returned as is.
func Clone(v Value) Value {
	switch val := v.(type) {
	case List:
		out := make(List, len(val))
		for i, e := range val {
			out[i] = Clone(e)
		}
		return out
	case Map:
		return val.Clone()
	default:
		return v
	}
}

// Clone returns a deep copy of the map.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, e := range m {
		out[k] = Clone(e)
	}
	return out
}

// FromGo converts plain Go values (as produced by YAML/JSON decoders or
// written in tests) into a Value.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer out of range: %d", val)
		}
		return Int(val), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case time.Time:
		return Time(val.UTC()), nil
	case json.Number:
		return numberValue(string(val))
	case []string:
		out := make(List, len(val))
		for i, s := range val {
			out[i] = String(s)
		}
		return out, nil
	case []any:
		out := make(List, len(val))
		for i, e := range val {
			ev, err := FromGo(e)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	case []map[string]any:
		out := make(List, len(val))
		for i, e := range val {
			ev, err := FromGo(e)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	case map[string]any:
		if raw, ok := val[timeKey]; ok && len(val) == 1 {
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a string", timeKey)
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("parse time: %w", err)
			}
			return Time(t.UTC()), nil
		}
		out := make(Map, len(val))
		for k, e := range val {
			ev, err := FromGo(e)
			if err != nil {
				return nil, fmt.Errorf("map[%q]: %w", k, err)
			}
			out[k] = ev
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

// MustFromGo is like FromGo but panics on error.
// Use only in tests or with literal inputs.
func MustFromGo(v any) Value {
	val, err := FromGo(v)
	if err != nil {
		panic(err)
	}
	return val
}

// ToGo converts a Value into plain Go values (string, int64, float64,
// bool, time.Time, []any, map[string]any, nil).
func ToGo(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Time:
		return time.Time(val)
	case List:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = ToGo(e)
		}
		return out
	case Map:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = ToGo(e)
		}
		return out
	default:
		return nil
	}
}

func numberValue(s string) (Value, error) {
	if strings.ContainsAny(s, ".eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("parse float %q: %w", s, err)
		}
		return Float(f), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("number out of int64 range: %s", s)
	}
	return Int(n), nil
}

// MarshalValue encodes a Value as JSON. Floats always carry a decimal point
// or exponent so that they decode back to Float, and times are encoded as
// {"$time": RFC3339Nano}. Map keys are emitted in sorted order.
func MarshalValue(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case String:
		b, err := json.Marshal(string(val))
		if err != nil {
			return err
		}
		buf.Write(b)
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("cannot encode non-finite float %v", f)
		}
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		buf.WriteString(s)
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Time:
		b, err := json.Marshal(time.Time(val).UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		buf.WriteString(`{"` + timeKey + `":`)
		buf.Write(b)
		buf.WriteByte('}')
	case List:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, e); err != nil {
				return fmt.Errorf("list[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case Map:
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeValue(buf, val[k]); err != nil {
				return fmt.Errorf("map[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown value type: %T", v)
	}
	return nil
}

// UnmarshalValue decodes JSON produced by MarshalValue.
func UnmarshalValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromGo(raw)
}

// MarshalJSON implements json.Marshaler with MarshalValue semantics.
func (m Map) MarshalJSON() ([]byte, error) {
	return MarshalValue(m)
}

// UnmarshalJSON implements json.Unmarshaler with UnmarshalValue semantics.
func (m *Map) UnmarshalJSON(data []byte) error {
	v, err := UnmarshalValue(data)
	if err != nil {
		return err
	}
	switch val := v.(type) {
	case Map:
		*m = val
	case Null:
		*m = nil
	default:
		return fmt.Errorf("expected object, got %T", v)
	}
	return nil
}

// Equal reports deep equality. Int and Float compare numerically.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	switch av := a.(type) {
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Map:
		bv, ok := b.(Map)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, e := range av {
			other, ok := bv[k]
			if !ok || !Equal(e, other) {
				return false
			}
		}
		return true
	}
	c, ok := Compare(a, b)
	return ok && c == 0
}

// Compare orders two scalars. ok is false when the values are not
// comparable (different kinds, nulls, or composite values).
func Compare(a, b Value) (c int, ok bool) {
	switch av := a.(type) {
	case String:
		if bv, isStr := b.(String); isStr {
			return strings.Compare(string(av), string(bv)), true
		}
	case Int:
		switch bv := b.(type) {
		case Int:
			return cmpOrdered(int64(av), int64(bv)), true
		case Float:
			return cmpOrdered(float64(av), float64(bv)), true
		case Bool:
			return cmpOrdered(int64(av), boolInt(bool(bv))), true
		}
	case Float:
		switch bv := b.(type) {
		case Float:
			return cmpOrdered(float64(av), float64(bv)), true
		case Int:
			return cmpOrdered(float64(av), float64(bv)), true
		}
	case Bool:
		switch bv := b.(type) {
		case Bool:
			return cmpOrdered(boolInt(bool(av)), boolInt(bool(bv))), true
		case Int:
			return cmpOrdered(boolInt(bool(av)), int64(bv)), true
		}
	case Time:
		if bv, isTime := b.(Time); isTime {
			return time.Time(av).Compare(time.Time(bv)), true
		}
	}
	return 0, false
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// SortCompare is a total order used for ORDER BY: nulls first, then by
// kind, then by Compare within a kind.
func SortCompare(a, b Value) int {
	an, bn := IsNull(a), IsNull(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}
	if c, ok := Compare(a, b); ok {
		return c
	}
	ka, kb := kindRank(a), kindRank(b)
	if ka != kb {
		return cmpOrdered(int64(ka), int64(kb))
	}
	ab, _ := MarshalValue(a)
	bb, _ := MarshalValue(b)
	return bytes.Compare(ab, bb)
}

func kindRank(v Value) int {
	switch v.(type) {
	case Bool:
		return 1
	case Int, Float:
		return 2
	case String:
		return 3
	case Time:
		return 4
	case List:
		return 5
	case Map:
		return 6
	default:
		return 0
	}
}

// Text renders a scalar for display and fulltext extraction.
func Text(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return ""
	case String:
		return string(val)
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Float:
		return strconv.FormatFloat(float64(val), 'g', -1, 64)
	case Bool:
		return strconv.FormatBool(bool(val))
	case Time:
		return time.Time(val).UTC().Format(time.RFC3339Nano)
	default:
		b, _ := MarshalValue(v)
		return string(b)
	}
}
