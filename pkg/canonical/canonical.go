// Package canonical provides deterministic serialization and content
// hashing for ledger payloads.
//
// Two semantically equal values produce bit-identical canonical bytes
// regardless of map key order or host iteration order:
//   - Map keys are sorted lexicographically by codepoint.
//   - HTML escaping is disabled.
//   - Time instants render as ISO-8601 UTC with millisecond precision.
//   - Arbitrary-precision integers render as quoted base-10 digit strings.
//   - Binary blobs render as base64 without newlines.
//   - Non-finite numbers fail loudly instead of being coerced.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"time"
)

// Absent marks a value as absent rather than null. Map entries holding
// Absent are omitted; sequence elements holding Absent serialize as null.
var Absent = absent{}

type absent struct{}

const timeLayout = "2006-01-02T15:04:05.000Z"

// Bytes returns the canonical UTF-8 JSON encoding of v.
func Bytes(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the SHA-256 hex digest of the canonical encoding of v.
func Hash(v interface{}) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil, absent:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		return encodeString(buf, t)
	case json.Number:
		if isIntegerLiteral(t.String()) {
			// Preserves arbitrary-precision integers exactly.
			buf.WriteString(t.String())
			return nil
		}
		f, err := t.Float64()
		if err != nil {
			return fmt.Errorf("canonical: unrepresentable number %q", t.String())
		}
		return encodeFloat(buf, f)
	case int:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
		return nil
	case int32:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
		return nil
	case uint64:
		buf.WriteString(strconv.FormatUint(t, 10))
		return nil
	case float32:
		return encodeFloat(buf, float64(t))
	case float64:
		return encodeFloat(buf, t)
	case *big.Int:
		if t == nil {
			buf.WriteString("null")
			return nil
		}
		return encodeString(buf, t.String())
	case big.Int:
		return encodeString(buf, t.String())
	case time.Time:
		return encodeString(buf, t.UTC().Format(timeLayout))
	case *time.Time:
		if t == nil {
			buf.WriteString("null")
			return nil
		}
		return encodeString(buf, t.UTC().Format(timeLayout))
	case []byte:
		return encodeString(buf, base64.StdEncoding.EncodeToString(t))
	case json.RawMessage:
		return encodeRaw(buf, t)
	case map[string]interface{}:
		return encodeMap(buf, t)
	case []interface{}:
		return encodeSlice(buf, t)
	case []string:
		elems := make([]interface{}, len(t))
		for i, s := range t {
			elems[i] = s
		}
		return encodeSlice(buf, elems)
	case fmt.Stringer:
		return encodeString(buf, t.String())
	default:
		return encodeViaJSON(buf, v)
	}
}

func isIntegerLiteral(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '-' && i == 0 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canonical: non-finite number %v", f)
	}
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("canonical: %w", err)
	}
	buf.Write(b)
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// json.Encoder appends a newline; drop it.
	buf.Truncate(buf.Len() - 1)
	return nil
}

func encodeMap(buf *bytes.Buffer, m map[string]interface{}) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		if _, gone := m[k].(absent); gone {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encode(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeSlice(buf *bytes.Buffer, elems []interface{}) error {
	buf.WriteByte('[')
	for i, e := range elems {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, e); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// encodeRaw normalizes pre-encoded JSON through a number-preserving decode
// so embedded objects still get sorted keys.
func encodeRaw(buf *bytes.Buffer, raw json.RawMessage) error {
	if len(raw) == 0 {
		buf.WriteString("null")
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return fmt.Errorf("canonical: invalid raw JSON: %w", err)
	}
	return encode(buf, generic)
}

// encodeViaJSON handles structs and other tagged types: marshal with the
// standard encoder to respect json tags, then re-encode canonically.
func encodeViaJSON(buf *bytes.Buffer, v interface{}) error {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}
	return encodeRaw(buf, intermediate)
}
