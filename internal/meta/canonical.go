package meta

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/xtxerr/featstore/internal/errors"
)

// =============================================================================
// Canonical Encoding
// =============================================================================

// Canonicalize serializes a metadata record into its canonical byte form.
//
// The encoding is valid JSON with a fixed layout: object keys sorted
// lexicographically, sequences in their stored order, no insignificant
// whitespace, scalars in a fixed locale-independent form (shortest
// round-trip float formatting, base-10 integers). The same record always
// produces the same bytes on every machine and run, so the bytes are
// safe to hash and safe to persist as the stored metadata blob.
//
// Canonicalization fails closed: NaN, infinities and values of
// unsupported dynamic types return ErrUncanonicalizable.
func Canonicalize(m Metadata) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, map[string]any(m)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses canonical bytes back into a Metadata record. Numbers are
// kept as json.Number so a decoded record re-canonicalizes to the exact
// bytes it was decoded from.
func Decode(b []byte) (Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var m Metadata
	if err := dec.Decode(&m); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidMetadata, err.Error())
	}
	return m, nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")

	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}

	case string:
		return encodeString(buf, x)

	case json.Number:
		// Verbatim: the text was produced by a prior canonical encode.
		if _, err := strconv.ParseFloat(x.String(), 64); err != nil {
			return errors.Wrapf(errors.ErrUncanonicalizable, "malformed number %q", x.String())
		}
		buf.WriteString(x.String())

	case int:
		buf.WriteString(strconv.FormatInt(int64(x), 10))

	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))

	case uint64:
		buf.WriteString(strconv.FormatUint(x, 10))

	case float64:
		return encodeFloat(buf, x)

	case []any:
		buf.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')

	case []string:
		buf.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')

	case []float64:
		buf.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeFloat(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')

	case Metadata:
		return encodeMap(buf, map[string]any(x))

	case map[string]any:
		return encodeMap(buf, x)

	case Element:
		return encodeStringMap(buf, map[string]string(x))

	case map[string]string:
		return encodeStringMap(buf, x)

	default:
		return errors.Wrapf(errors.ErrUncanonicalizable, "unsupported type %T", v)
	}
	return nil
}

func encodeMap(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
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
		if err := encodeValue(buf, m[k]); err != nil {
			return errors.Wrapf(err, "key %q", k)
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeStringMap(buf *bytes.Buffer, m map[string]string) error {
	keys := make([]string, 0, len(m))
	for k := range m {
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
		if err := encodeString(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	// json.Marshal of a string is deterministic and handles escaping.
	b, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(errors.ErrUncanonicalizable, err.Error())
	}
	buf.Write(b)
	return nil
}

func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return errors.Wrapf(errors.ErrUncanonicalizable, "non-finite float %v", f)
	}
	// Shortest representation that round-trips, independent of locale.
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}
