package bolt

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	bbolt "go.etcd.io/bbolt"

	storeerr "github.com/xtxerr/featstore/internal/errors"
	"github.com/xtxerr/featstore/internal/kind"
	"github.com/xtxerr/featstore/internal/meta"
	"github.com/xtxerr/featstore/internal/storage"
)

func openTest(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "features"+Ext), 0o600)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func connMeta(name string) meta.Metadata {
	return meta.Metadata{
		"name":    name,
		"marker":  "alpha",
		"grabber": "windowed",
		"reader":  "raw",
	}
}

func elem(subject string) meta.Element {
	return meta.Element{"subject": subject, "session": "ses-01"}
}

func TestStoreReadRoundTrip(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name string
		spec kind.Spec
		p    kind.Payload
	}{
		{
			name: "matrix",
			spec: kind.MatrixSpec([]string{"r1", "r2"}, []string{"c1", "c2"}, true, kind.DiagonalKeep),
			p:    kind.Payload2D([][]float64{{1, 2}, {3, 4}}),
		},
		{
			name: "vector",
			spec: kind.VectorSpec([]string{"mean", "std"}),
			p:    kind.Payload1D([]float64{0.5, math.NaN()}),
		},
		{
			name: "timeseries",
			spec: kind.TimeseriesSpec([]string{"ch1"}),
			p:    kind.Payload2D([][]float64{{1}, {2}, {3}}),
		},
		{
			name: "scalar_table",
			spec: kind.ScalarTableSpec([]string{"row-a"}, []string{"score"}, "unit"),
			p:    kind.Payload2D([][]float64{{0.9}}),
		},
		{
			name: "empty_vector",
			spec: kind.VectorSpec(nil),
			p:    kind.Payload1D(nil),
		},
		{
			name: "empty_timeseries",
			spec: kind.TimeseriesSpec([]string{"ch1"}),
			p:    kind.Payload2D(nil),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := openTest(t)
			m := connMeta("feat_" + tc.name)

			if err := b.Store(ctx, m, tc.spec, tc.p, elem("sub-01"), storage.Insert); err != nil {
				t.Fatalf("Store() error: %v", err)
			}

			f, err := b.Read(ctx, storage.ByName("feat_"+tc.name))
			if err != nil {
				t.Fatalf("Read() error: %v", err)
			}
			if f.Kind != tc.spec.Kind {
				t.Errorf("kind = %s, want %s", f.Kind, tc.spec.Kind)
			}
			if len(f.Elements) != 1 {
				t.Fatalf("got %d elements, want 1", len(f.Elements))
			}
			if !f.Elements[0].Payload.Equal(tc.p) {
				t.Errorf("payload mismatch: got %+v, want %+v", f.Elements[0].Payload, tc.p)
			}
		})
	}
}

func TestStorePolicies(t *testing.T) {
	ctx := context.Background()
	b := openTest(t)

	spec := kind.VectorSpec([]string{"x"})
	m := connMeta("policies")

	if err := b.Store(ctx, m, spec, kind.Payload1D([]float64{1}), elem("sub-01"), storage.Insert); err != nil {
		t.Fatalf("first Store() error: %v", err)
	}

	err := b.Store(ctx, m, spec, kind.Payload1D([]float64{2}), elem("sub-01"), storage.Insert)
	if !errors.Is(err, storeerr.ErrDuplicateRecord) {
		t.Errorf("insert on duplicate: got %v, want ErrDuplicateRecord", err)
	}

	if err := b.Store(ctx, m, spec, kind.Payload1D([]float64{3}), elem("sub-01"), storage.Ignore); err != nil {
		t.Fatalf("ignore on duplicate: %v", err)
	}
	f, _ := b.Read(ctx, storage.ByName("policies"))
	if f.Elements[0].Payload.Values1D[0] != 1 {
		t.Errorf("ignore overwrote: got %v", f.Elements[0].Payload.Values1D)
	}

	if err := b.Store(ctx, m, spec, kind.Payload1D([]float64{4}), elem("sub-01"), storage.Update); err != nil {
		t.Fatalf("update on duplicate: %v", err)
	}
	f, _ = b.Read(ctx, storage.ByName("policies"))
	if len(f.Elements) != 1 || f.Elements[0].Payload.Values1D[0] != 4 {
		t.Errorf("update did not replace: %+v", f.Elements)
	}
}

func TestStoreKindConflict(t *testing.T) {
	ctx := context.Background()
	b := openTest(t)
	m := connMeta("conflicted")

	if err := b.Store(ctx, m, kind.VectorSpec([]string{"x"}), kind.Payload1D([]float64{1}), elem("sub-01"), storage.Insert); err != nil {
		t.Fatal(err)
	}
	err := b.Store(ctx, m, kind.TimeseriesSpec([]string{"x"}), kind.Payload2D([][]float64{{1}}), elem("sub-02"), storage.Insert)
	if !errors.Is(err, storeerr.ErrInvalidKind) {
		t.Errorf("got %v, want ErrInvalidKind", err)
	}
}

func TestReadAmbiguousName(t *testing.T) {
	ctx := context.Background()
	b := openTest(t)

	m1 := connMeta("dup")
	m2 := connMeta("dup")
	m2["marker"] = "beta"
	spec := kind.VectorSpec([]string{"x"})

	if err := b.Store(ctx, m1, spec, kind.Payload1D([]float64{1}), elem("sub-01"), storage.Insert); err != nil {
		t.Fatal(err)
	}
	if err := b.Store(ctx, m2, spec, kind.Payload1D([]float64{2}), elem("sub-01"), storage.Insert); err != nil {
		t.Fatal(err)
	}

	if _, err := b.Read(ctx, storage.ByName("dup")); !errors.Is(err, storeerr.ErrAmbiguousName) {
		t.Errorf("got %v, want ErrAmbiguousName", err)
	}

	d2, _ := meta.Fingerprint(m2)
	f, err := b.Read(ctx, storage.ByDigest(d2))
	if err != nil {
		t.Fatalf("Read by digest: %v", err)
	}
	if f.Elements[0].Payload.Values1D[0] != 2 {
		t.Errorf("wrong feature resolved: %v", f.Elements[0].Payload.Values1D)
	}
}

func TestCorruptPayloadDetected(t *testing.T) {
	ctx := context.Background()
	b := openTest(t)

	m := connMeta("fragile")
	if err := b.Store(ctx, m, kind.VectorSpec([]string{"x"}), kind.Payload1D([]float64{1}), elem("sub-01"), storage.Insert); err != nil {
		t.Fatal(err)
	}
	digest, _ := meta.Fingerprint(m)

	// Flip one payload byte behind the backend's back.
	err := b.db.Update(func(tx *bbolt.Tx) error {
		rb := tx.Bucket(bucketFeatures).Bucket([]byte(digest)).
			Bucket(bucketElements).Bucket([]byte(elem("sub-01").Canonical()))
		frame := append([]byte(nil), rb.Get(keyPayload)...)
		frame[frameHeaderLen] ^= 0xFF
		return rb.Put(keyPayload, frame)
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.Read(ctx, storage.ByDigest(digest)); !errors.Is(err, storeerr.ErrCorruptPayload) {
		t.Errorf("got %v, want ErrCorruptPayload", err)
	}
	if _, err := b.Verify(ctx); err == nil {
		t.Error("Verify() passed on corrupt payload")
	}
}

func TestTamperedMetadataDetected(t *testing.T) {
	ctx := context.Background()
	b := openTest(t)

	m := connMeta("tampered")
	if err := b.Store(ctx, m, kind.VectorSpec([]string{"x"}), kind.Payload1D([]float64{1}), elem("sub-01"), storage.Insert); err != nil {
		t.Fatal(err)
	}
	digest, _ := meta.Fingerprint(m)

	// Rewrite the metadata blob so it no longer reproduces the digest.
	m2 := connMeta("tampered")
	m2["marker"] = "beta"
	blob, err := meta.Canonicalize(m2)
	if err != nil {
		t.Fatal(err)
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFeatures).Bucket([]byte(digest)).Put(keyMetadata, blob)
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.Read(ctx, storage.ByDigest(digest)); !errors.Is(err, storeerr.ErrFingerprintMismatch) {
		t.Errorf("got %v, want ErrFingerprintMismatch", err)
	}
}

func TestVerifyCountsRecords(t *testing.T) {
	ctx := context.Background()
	b := openTest(t)

	m := connMeta("counted")
	spec := kind.VectorSpec([]string{"x"})
	for _, s := range []string{"sub-01", "sub-02", "sub-03"} {
		if err := b.Store(ctx, m, spec, kind.Payload1D([]float64{1}), elem(s), storage.Insert); err != nil {
			t.Fatal(err)
		}
	}

	n, err := b.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if n != 3 {
		t.Errorf("Verify() checked %d records, want 3", n)
	}
}

func TestReopenPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "features"+Ext)

	b, err := Open(path, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Store(ctx, connMeta("durable"), kind.VectorSpec([]string{"x"}), kind.Payload1D([]float64{7}), elem("sub-01"), storage.Insert); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	b2, err := Open(path, 0o600)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b2.Close()

	f, err := b2.Read(ctx, storage.ByName("durable"))
	if err != nil {
		t.Fatalf("Read after reopen: %v", err)
	}
	if f.Elements[0].Payload.Values1D[0] != 7 {
		t.Errorf("payload lost across reopen: %v", f.Elements[0].Payload.Values1D)
	}
}

func TestClosedBackend(t *testing.T) {
	ctx := context.Background()
	b := openTest(t)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	err := b.Store(ctx, connMeta("x"), kind.VectorSpec(nil), kind.Payload1D(nil), elem("s"), storage.Insert)
	if !errors.Is(err, storeerr.ErrClosed) {
		t.Errorf("Store after Close: got %v, want ErrClosed", err)
	}
}
