package model

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"
	"unicode/utf16"

	"github.com/zeebo/blake3"
	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content digests. The version suffix allows a future
// change of encoding without colliding with stored digests.
const (
	DomainProperties = "nxdoc/properties/v1"
	DomainBlob       = "nxdoc/blob/v1"
)

// MarshalCanonical produces a canonical JSON encoding of a Value for
// hashing:
//   - object keys sorted by UTF-16 code units
//   - strings NFC normalized, no HTML escaping
//   - nulls and empty composites inside maps are dropped, so a field that
//     was cleared digests like a field that was never set
func MarshalCanonical(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case String:
		return writeCanonicalString(buf, string(val))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case Float:
		buf.WriteString(strconv.FormatFloat(float64(val), 'g', -1, 64))
		buf.WriteString("f")
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case Time:
		return writeCanonicalString(buf, "t:"+time.Time(val).UTC().Format(time.RFC3339Nano))
	case List:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return fmt.Errorf("list[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case Map:
		keys := make([]string, 0, len(val))
		for k, e := range val {
			if isEmpty(e) {
				continue
			}
			keys = append(keys, k)
		}
		slices.SortFunc(keys, compareUTF16)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("map[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported value type for canonical JSON: %T", v)
	}
	return nil
}

func isEmpty(v Value) bool {
	switch val := v.(type) {
	case nil, Null:
		return true
	case List:
		return len(val) == 0
	case Map:
		for _, e := range val {
			if !isEmpty(e) {
				return false
			}
		}
		return true
	}
	return false
}

func writeCanonicalString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	// Encoder appends a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

// compareUTF16 orders keys by UTF-16 code units.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	for i := 0; i < len(a16) && i < len(b16); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return len(a16) - len(b16)
}

// Digest computes a blake3 digest with domain separation:
// BLAKE3(domain || 0x00 || data), hex encoded.
func Digest(domain string, data []byte) string {
	h := blake3.New()
	_, _ = h.Write([]byte(domain))
	_, _ = h.Write([]byte{0x00})
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PropertiesDigest digests a document's schema data. Two states with the
// same digest hold the same property values.
func PropertiesDigest(props Map) (string, error) {
	if props == nil {
		props = Map{}
	}
	data, err := MarshalCanonical(props)
	if err != nil {
		return "", fmt.Errorf("properties digest: %w", err)
	}
	return Digest(DomainProperties, data), nil
}
