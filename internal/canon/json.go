// Package canon implements deterministic, key-sorted JSON serialization
// and the blake3 event-hash contract (spec.md §4.1, §6).
//
// Grounded on the teacher's JSON-handling idiom (plain encoding/json plus
// manual canonicalization, as in internal/merge's content-hash helpers)
// generalized to full recursive key sorting with integer-exactness
// preserved via json.Number.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Marshal serializes v (anything JSON-marshalable, including a value
// decoded from JSON) into canonical form: object keys sorted
// lexicographically, no insignificant whitespace, integers preserved
// exactly. Equal values always marshal to byte-identical output.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	return CanonicalizeBytes(raw)
}

// CanonicalizeBytes re-encodes an already-valid JSON document into
// canonical form. It is used by the event codec when a payload arrives
// as raw bytes from disk (e.g. during parsing) rather than as a Go value.
func CanonicalizeBytes(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canon: invalid json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("canon: trailing data after json value")
	}
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Equal reports whether two JSON documents are canonically equal.
func Equal(a, b []byte) bool {
	ca, errA := CanonicalizeBytes(a)
	cb, errB := CanonicalizeBytes(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

func encode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		buf.WriteString(val.String())
		return nil
	case string:
		return encodeString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
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
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("canon: unsupported type %T", v)
	}
}

// encodeString relies on encoding/json for the escaping rules (so that
// the quoting behavior matches what every other Go JSON consumer in the
// pack expects) but strips the HTML-escaping json.Marshal applies by
// default, since canonical output must be a pure function of the value.
func encodeString(buf *bytes.Buffer, s string) error {
	tmp := &bytes.Buffer{}
	tmpEnc := json.NewEncoder(tmp)
	tmpEnc.SetEscapeHTML(false)
	if err := tmpEnc.Encode(s); err != nil {
		return fmt.Errorf("canon: encode string: %w", err)
	}
	b := tmp.Bytes()
	// json.Encoder.Encode appends a trailing newline; trim it.
	if len(b) > 0 && b[len(b)-1] == '\n' {
		b = b[:len(b)-1]
	}
	_, err := buf.Write(b)
	return err
}
