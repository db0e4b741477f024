package collector

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	storeerr "github.com/xtxerr/featstore/internal/errors"
	"github.com/xtxerr/featstore/internal/kind"
	"github.com/xtxerr/featstore/internal/meta"
	"github.com/xtxerr/featstore/internal/storage"
	"github.com/xtxerr/featstore/internal/storage/duckdb"
)

func openDuck(path string) (storage.Backend, error) { return duckdb.Open(path) }

func writeSource(t *testing.T, dir, name, subject string) string {
	t.Helper()
	path := filepath.Join(dir, name+duckdb.Ext)
	b, err := duckdb.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	m := meta.Metadata{"name": "band_power", "marker": "alpha"}
	err = b.Store(context.Background(), m, kind.VectorSpec([]string{"x"}),
		kind.Payload1D([]float64{1}), meta.Element{"subject": subject}, storage.Insert)
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunMergesAllSources(t *testing.T) {
	dir := t.TempDir()
	s1 := writeSource(t, dir, "s1", "sub-01")
	s2 := writeSource(t, dir, "s2", "sub-02")

	target, err := duckdb.Open(filepath.Join(dir, "combined"+duckdb.Ext))
	if err != nil {
		t.Fatal(err)
	}
	defer target.Close()

	c := New(target, Options{Open: openDuck, Preflight: true})
	res, err := c.Run(context.Background(), []string{s1, s2})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if res.FeaturesBefore != 0 || res.FeaturesAfter != 1 {
		t.Errorf("features %d -> %d, want 0 -> 1", res.FeaturesBefore, res.FeaturesAfter)
	}
	if len(res.Sources) != 2 {
		t.Fatalf("got %d source infos, want 2", len(res.Sources))
	}
	for _, s := range res.Sources {
		if s.Features != 1 {
			t.Errorf("source %s: %d features, want 1", s.Path, s.Features)
		}
	}

	f, err := target.Read(context.Background(), storage.ByName("band_power"))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Elements) != 2 {
		t.Errorf("got %d elements, want 2", len(f.Elements))
	}
}

func TestPreflightBlocksBadSource(t *testing.T) {
	dir := t.TempDir()
	s1 := writeSource(t, dir, "s1", "sub-01")
	missing := filepath.Join(dir, "absent"+duckdb.Ext)

	target, err := duckdb.Open(filepath.Join(dir, "combined"+duckdb.Ext))
	if err != nil {
		t.Fatal(err)
	}
	defer target.Close()

	c := New(target, Options{Open: openDuck, Preflight: true})
	_, err = c.Run(context.Background(), []string{s1, missing})
	if !errors.Is(err, storeerr.ErrSourceFailed) {
		t.Fatalf("got %v, want ErrSourceFailed", err)
	}

	// With preflight, nothing may have been merged.
	features, err := target.ListFeatures(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(features) != 0 {
		t.Errorf("preflight failure still merged %d features", len(features))
	}
}

func TestRunWithoutPreflightMergesUpToFailure(t *testing.T) {
	dir := t.TempDir()
	s1 := writeSource(t, dir, "s1", "sub-01")
	missing := filepath.Join(dir, "absent"+duckdb.Ext)

	target, err := duckdb.Open(filepath.Join(dir, "combined"+duckdb.Ext))
	if err != nil {
		t.Fatal(err)
	}
	defer target.Close()

	c := New(target, Options{})
	_, err = c.Run(context.Background(), []string{s1, missing})
	if !errors.Is(err, storeerr.ErrSourceFailed) {
		t.Fatalf("got %v, want ErrSourceFailed", err)
	}

	features, err := target.ListFeatures(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(features) != 1 {
		t.Errorf("sources before the failure not merged: %d features", len(features))
	}
}
