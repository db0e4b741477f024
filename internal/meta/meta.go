// Package meta defines feature metadata and the fingerprint identity
// derived from it.
//
// A feature is described by an arbitrarily nested metadata record: the
// producing component identities (grabber/reader/marker class names and
// their configuration), the element the feature was computed for, and
// non-identity provenance such as dependency versions. Identity is not a
// user-chosen name but a digest computed from a canonical serialization
// of the identity-bearing subset of the metadata.
//
// Identity contract: the reserved top-level keys "element" and
// "dependencies" are provenance-only and never contribute to the
// fingerprint. Everything else does. This contract is stable; changing
// it changes every stored fingerprint.
package meta

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/xtxerr/featstore/internal/errors"
)

// Reserved top-level metadata keys excluded from the fingerprint.
const (
	KeyElement      = "element"
	KeyDependencies = "dependencies"
	KeyName         = "name"
)

// Metadata is an arbitrarily nested key/value record describing a feature.
// Supported value types: nil, bool, string, int, int64, float64,
// json.Number, []any, []string, []float64, map[string]any, Metadata.
// Attributes are immutable once a feature is stored.
type Metadata map[string]any

// Name returns the human-assigned feature name, or "" if none is set.
func (m Metadata) Name() string {
	if s, ok := m[KeyName].(string); ok {
		return s
	}
	return ""
}

// Identity returns a copy of m with the provenance-only top-level keys
// removed. The fingerprint is computed over this subset.
func (m Metadata) Identity() Metadata {
	id := make(Metadata, len(m))
	for k, v := range m {
		if k == KeyElement || k == KeyDependencies {
			continue
		}
		id[k] = v
	}
	return id
}

// Digest is a fixed-length hex identity digest computed from metadata.
type Digest string

// digestLen is the hex length of a SHA-256 digest.
const digestLen = sha256.Size * 2

// IsValid reports whether d is a well-formed digest.
func (d Digest) IsValid() bool {
	if len(d) != digestLen {
		return false
	}
	for _, c := range d {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Short returns an abbreviated digest for log output.
func (d Digest) Short() string {
	if len(d) < 12 {
		return string(d)
	}
	return string(d[:12])
}

func (d Digest) String() string { return string(d) }

// Fingerprint computes the identity digest of a metadata record.
//
// The record is first reduced to its identity subset, then canonicalized
// (keys sorted lexicographically, sequences in order, scalars in a fixed
// locale-independent encoding); the digest is the SHA-256 of the
// canonical bytes. Equal metadata, independent of key insertion order,
// always yields an equal digest. Uncanonicalizable values (NaN,
// infinities, unsupported dynamic types) are errors, never a guess.
func Fingerprint(m Metadata) (Digest, error) {
	b, err := Canonicalize(m.Identity())
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return Digest(hex.EncodeToString(sum[:])), nil
}

// Element is the tuple of key/value pairs identifying one unit of input
// data, e.g. {"subject": "sub-01", "session": "ses-01"}.
type Element map[string]string

// elementSeparators are forbidden in element keys and values because the
// canonical form uses them as delimiters and backends use the canonical
// form as a storage key.
const elementKeySep = "="
const elementPairSep = ";"

// Validate checks that the element is usable as a storage key.
func (e Element) Validate() error {
	if len(e) == 0 {
		return errors.Wrap(errors.ErrInvalidElement, "empty element")
	}
	for k, v := range e {
		if k == "" {
			return errors.Wrap(errors.ErrInvalidElement, "empty key")
		}
		if v == "" {
			return errors.Wrapf(errors.ErrInvalidElement, "empty value for key %q", k)
		}
		if strings.ContainsAny(k, elementKeySep+elementPairSep+"/") ||
			strings.ContainsAny(v, elementKeySep+elementPairSep+"/") {
			return errors.Wrapf(errors.ErrInvalidElement, "key %q value %q: '=', ';' and '/' are reserved", k, v)
		}
	}
	return nil
}

// Canonical returns the deterministic string form of the element:
// pairs sorted by key, "k=v" joined with ";". Both backends key records
// by this string.
func (e Element) Canonical() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + elementKeySep + e[k]
	}
	return strings.Join(pairs, elementPairSep)
}

// ParseElement parses the canonical string form back into an Element.
func ParseElement(s string) (Element, error) {
	if s == "" {
		return nil, errors.Wrap(errors.ErrInvalidElement, "empty canonical form")
	}
	e := make(Element)
	for _, pair := range strings.Split(s, elementPairSep) {
		k, v, ok := strings.Cut(pair, elementKeySep)
		if !ok || k == "" || v == "" {
			return nil, errors.Wrapf(errors.ErrInvalidElement, "malformed pair %q", pair)
		}
		if _, dup := e[k]; dup {
			return nil, errors.Wrapf(errors.ErrInvalidElement, "duplicate key %q", k)
		}
		e[k] = v
	}
	return e, nil
}

// Meta returns the element as a metadata value, suitable for embedding
// under the "element" key of a feature's metadata record.
func (e Element) Meta() map[string]any {
	m := make(map[string]any, len(e))
	for k, v := range e {
		m[k] = v
	}
	return m
}

// ElementOf extracts the element recorded under the "element" key of a
// metadata record, if present.
func ElementOf(m Metadata) (Element, bool) {
	raw, ok := m[KeyElement]
	if !ok {
		return nil, false
	}
	switch x := raw.(type) {
	case map[string]any:
		e := make(Element, len(x))
		for k, v := range x {
			s, ok := v.(string)
			if !ok {
				s = fmt.Sprint(v)
			}
			e[k] = s
		}
		return e, true
	case map[string]string:
		return Element(x), true
	case Element:
		return x, true
	default:
		return nil, false
	}
}
