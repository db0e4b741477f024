package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	storeerr "github.com/xtxerr/featstore/internal/errors"
	"github.com/xtxerr/featstore/internal/kind"
	"github.com/xtxerr/featstore/internal/meta"
	"github.com/xtxerr/featstore/internal/storage"
)

func writeSource(t *testing.T, dir, name string, values map[string]float64) string {
	t.Helper()
	path := filepath.Join(dir, name+Ext)
	b, err := Open(path, 0o600)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	defer b.Close()

	ctx := context.Background()
	for subject, v := range values {
		err := b.Store(ctx, connMeta("merged_feature"), kind.VectorSpec([]string{"x"}),
			kind.Payload1D([]float64{v}), meta.Element{"subject": subject}, storage.Insert)
		if err != nil {
			t.Fatalf("Store(%s): %v", subject, err)
		}
	}
	return path
}

func readValues(t *testing.T, b *Backend) map[string]float64 {
	t.Helper()
	f, err := b.Read(context.Background(), storage.ByName("merged_feature"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	out := make(map[string]float64)
	for _, rec := range f.Elements {
		out[rec.Element["subject"]] = rec.Payload.Values1D[0]
	}
	return out
}

func TestCollectDisjointSources(t *testing.T) {
	dir := t.TempDir()
	s1 := writeSource(t, dir, "s1", map[string]float64{"sub-01": 1})
	s2 := writeSource(t, dir, "s2", map[string]float64{"sub-02": 2})

	b := openTest(t)
	if err := b.Collect(context.Background(), []string{s1, s2}, storage.Insert); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	got := readValues(t, b)
	if len(got) != 2 || got["sub-01"] != 1 || got["sub-02"] != 2 {
		t.Errorf("merged values = %v", got)
	}
}

func TestCollectIdempotent(t *testing.T) {
	dir := t.TempDir()
	s1 := writeSource(t, dir, "s1", map[string]float64{"sub-01": 1})

	b := openTest(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := b.Collect(ctx, []string{s1}, storage.Insert); err != nil {
			t.Fatalf("Collect pass %d: %v", i, err)
		}
	}

	got := readValues(t, b)
	if len(got) != 1 || got["sub-01"] != 1 {
		t.Errorf("merged values = %v", got)
	}
}

func TestCollectOverlapPolicies(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Backend, string) {
		dir := t.TempDir()
		src := writeSource(t, dir, "src", map[string]float64{"sub-01": 99, "sub-02": 2})
		b := openTest(t)
		err := b.Store(ctx, connMeta("merged_feature"), kind.VectorSpec([]string{"x"}),
			kind.Payload1D([]float64{1}), meta.Element{"subject": "sub-01"}, storage.Insert)
		if err != nil {
			t.Fatal(err)
		}
		return b, src
	}

	t.Run("insert_keeps_target", func(t *testing.T) {
		b, src := setup(t)
		if err := b.Collect(ctx, []string{src}, storage.Insert); err != nil {
			t.Fatalf("Collect: %v", err)
		}
		got := readValues(t, b)
		if got["sub-01"] != 1 || got["sub-02"] != 2 {
			t.Errorf("merged values = %v", got)
		}
	})

	t.Run("update_takes_source", func(t *testing.T) {
		b, src := setup(t)
		if err := b.Collect(ctx, []string{src}, storage.Update); err != nil {
			t.Fatalf("Collect: %v", err)
		}
		got := readValues(t, b)
		if got["sub-01"] != 99 || got["sub-02"] != 2 {
			t.Errorf("merged values = %v", got)
		}
	})
}

func TestCollectStopsAtFailingSource(t *testing.T) {
	dir := t.TempDir()
	s1 := writeSource(t, dir, "s1", map[string]float64{"sub-01": 1})
	missing := filepath.Join(dir, "absent"+Ext)
	s3 := writeSource(t, dir, "s3", map[string]float64{"sub-03": 3})

	b := openTest(t)
	err := b.Collect(context.Background(), []string{s1, missing, s3}, storage.Insert)
	if !errors.Is(err, storeerr.ErrSourceFailed) {
		t.Fatalf("got %v, want ErrSourceFailed", err)
	}

	got := readValues(t, b)
	if len(got) != 1 || got["sub-01"] != 1 {
		t.Errorf("merged values = %v", got)
	}
}
