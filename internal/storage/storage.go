package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xtxerr/featstore/internal/errors"
	"github.com/xtxerr/featstore/internal/kind"
	"github.com/xtxerr/featstore/internal/meta"
)

// =============================================================================
// Upsert policies
// =============================================================================

// UpsertPolicy defines the behavior when a (fingerprint, element) record
// already exists in the target.
type UpsertPolicy string

const (
	// Insert fails with ErrDuplicateRecord when the record exists.
	// No bytes are written. This is the safe default for compute jobs.
	Insert UpsertPolicy = "insert"

	// Update atomically replaces the prior record.
	Update UpsertPolicy = "update"

	// Ignore silently succeeds without overwriting. Useful when
	// re-running a partially collected job graph.
	Ignore UpsertPolicy = "ignore"
)

// ValidPolicies contains all valid policy values.
var ValidPolicies = []UpsertPolicy{Insert, Update, Ignore}

// IsValid returns true if the policy is a known valid policy.
func (p UpsertPolicy) IsValid() bool {
	for _, valid := range ValidPolicies {
		if p == valid {
			return true
		}
	}
	return false
}

func (p UpsertPolicy) String() string { return string(p) }

// ParsePolicy parses a policy string, returning ErrInvalidPolicy for
// unknown values.
func ParsePolicy(s string) (UpsertPolicy, error) {
	p := UpsertPolicy(strings.ToLower(s))
	if !p.IsValid() {
		return "", errors.Wrapf(errors.ErrInvalidPolicy, "%q", s)
	}
	return p, nil
}

// =============================================================================
// Selectors
// =============================================================================

// Selector identifies one stored feature, either by its human-assigned
// name (which must be unique among stored features) or by an explicit
// fingerprint digest. Exactly one field is set.
type Selector struct {
	Name   string
	Digest meta.Digest
}

// ByName selects a feature by its metadata name field.
func ByName(name string) Selector { return Selector{Name: name} }

// ByDigest selects a feature by fingerprint.
func ByDigest(d meta.Digest) Selector { return Selector{Digest: d} }

// Validate checks that exactly one selector field is set.
func (s Selector) Validate() error {
	if (s.Name == "") == (s.Digest == "") {
		return errors.Wrap(errors.ErrInvalidMetadata, "selector needs exactly one of name or digest")
	}
	if s.Digest != "" && !s.Digest.IsValid() {
		return errors.Wrapf(errors.ErrInvalidMetadata, "malformed digest %q", s.Digest)
	}
	return nil
}

func (s Selector) String() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Digest.String()
}

// =============================================================================
// Records
// =============================================================================

// ElementRecord is one element's payload within a feature. The spec is
// per element: label sets may be ragged across elements (an empty parcel
// region drops its label for that element only), while the kind itself
// is fixed per fingerprint.
type ElementRecord struct {
	Element meta.Element
	Spec    kind.Spec
	Payload kind.Payload
}

// Feature is one stored feature: its identity, full metadata, declared
// kind, and the payloads of every element stored under it.
type Feature struct {
	Digest   meta.Digest
	Name     string
	Kind     kind.Kind
	Metadata meta.Metadata

	// Elements is sorted by canonical element form, so reads are
	// deterministic across backends and runs.
	Elements []ElementRecord
}

// SortElements orders the element records canonically in place.
func (f *Feature) SortElements() {
	sort.Slice(f.Elements, func(i, j int) bool {
		return f.Elements[i].Element.Canonical() < f.Elements[j].Element.Canonical()
	})
}

// =============================================================================
// Backend contract
// =============================================================================

// Backend is the abstract storage contract. Both the relational and the
// hierarchical backend implement it; the collector composes backends
// through it and never touches physical formats directly.
//
// Guarantees every implementation honors:
//
//   - Store computes the fingerprint and validates the payload shape
//     before any bytes are written.
//   - Every call is one logical transaction: fully visible afterward or
//     not at all, even under process termination mid-call.
//   - Side effects are confined to the backend's own file; Collect never
//     mutates a source.
//   - Collect merges source-by-source, each source one transaction, and
//     is idempotent.
type Backend interface {
	// Store persists one (metadata, kind, payload) record for one element.
	Store(ctx context.Context, m meta.Metadata, spec kind.Spec, p kind.Payload, elem meta.Element, policy UpsertPolicy) error

	// Read retrieves one feature with all its element payloads.
	Read(ctx context.Context, sel Selector) (*Feature, error)

	// ReadTabular retrieves one feature as a flat row/column view.
	ReadTabular(ctx context.Context, sel Selector) (*TabularView, error)

	// ListFeatures enumerates every distinct fingerprint with its full
	// metadata (not individual element rows).
	ListFeatures(ctx context.Context) (map[meta.Digest]meta.Metadata, error)

	// Collect merges the given source store files into this backend's
	// file under the given policy. Sources must share this backend's
	// physical format.
	Collect(ctx context.Context, sources []string, policy UpsertPolicy) error

	// Path returns the backend's store file path.
	Path() string

	// Close flushes and releases the store file. Safe to call twice.
	Close() error
}

// =============================================================================
// Store file naming
// =============================================================================

// ScopedPath derives the per-element store file path used in scoped
// ("per-element") mode: <dir>/<prefix>_<element canonical>.<ext>.
// The canonical element form contains no path separators by construction.
func ScopedPath(dir, prefix string, elem meta.Element, ext string) string {
	name := fmt.Sprintf("%s_%s%s", prefix, elem.Canonical(), ext)
	if dir == "" {
		return name
	}
	return strings.TrimRight(dir, "/") + "/" + name
}
