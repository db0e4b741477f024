package storage

import (
	"math"
	"testing"

	"github.com/xtxerr/featstore/internal/kind"
	"github.com/xtxerr/featstore/internal/meta"
)

func vectorFeature() *Feature {
	spec := kind.VectorSpec([]string{"a", "b"})
	f := &Feature{
		Digest: "ab",
		Name:   "BOLD_Mean",
		Kind:   kind.Vector,
		Elements: []ElementRecord{
			{Element: meta.Element{"subject": "sub-02"}, Spec: spec, Payload: kind.Payload1D([]float64{3, 4})},
			{Element: meta.Element{"subject": "sub-01"}, Spec: spec, Payload: kind.Payload1D([]float64{1, 2})},
		},
	}
	f.SortElements()
	return f
}

func TestTabulate_Vector(t *testing.T) {
	view, err := Tabulate(vectorFeature())
	if err != nil {
		t.Fatalf("Tabulate: %v", err)
	}

	if view.RowHeader != "" {
		t.Errorf("vector should have no row header, got %q", view.RowHeader)
	}
	if len(view.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(view.Rows))
	}
	// Elements sorted canonically: sub-01 first.
	if view.Rows[0].Element["subject"] != "sub-01" {
		t.Errorf("rows not in canonical element order: %v", view.Rows[0].Element)
	}
	if view.Rows[0].Values[0] != 1.0 || view.Rows[0].Values[1] != 2.0 {
		t.Errorf("row values wrong: %v", view.Rows[0].Values)
	}

	header := view.ColumnNames()
	want := []string{"subject", "a", "b"}
	if len(header) != len(want) {
		t.Fatalf("header %v, want %v", header, want)
	}
	for i := range want {
		if header[i] != want[i] {
			t.Errorf("header[%d] = %q, want %q", i, header[i], want[i])
		}
	}
}

func TestTabulate_Matrix(t *testing.T) {
	spec := kind.MatrixSpec([]string{"r1", "r2"}, []string{"c1", "c2"}, true, "")
	f := &Feature{
		Digest: "cd",
		Kind:   kind.Matrix,
		Elements: []ElementRecord{
			{Element: meta.Element{"subject": "sub-01"}, Spec: spec, Payload: kind.Payload2D([][]float64{{1, 2}, {3, 4}})},
		},
	}

	view, err := Tabulate(f)
	if err != nil {
		t.Fatalf("Tabulate: %v", err)
	}
	if view.RowHeader != "row" {
		t.Errorf("RowHeader = %q, want row", view.RowHeader)
	}
	if len(view.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(view.Rows))
	}
	if view.Rows[1].RowLabel != "r2" || view.Rows[1].Values[0] != 3 {
		t.Errorf("second row wrong: %+v", view.Rows[1])
	}
}

func TestTabulate_Timeseries(t *testing.T) {
	spec := kind.TimeseriesSpec([]string{"roi1"})
	f := &Feature{
		Kind: kind.Timeseries,
		Elements: []ElementRecord{
			{Element: meta.Element{"subject": "s"}, Spec: spec, Payload: kind.Payload2D([][]float64{{0.1}, {0.2}, {0.3}})},
		},
	}

	view, err := Tabulate(f)
	if err != nil {
		t.Fatalf("Tabulate: %v", err)
	}
	if view.RowHeader != "sample" {
		t.Errorf("RowHeader = %q, want sample", view.RowHeader)
	}
	if view.Rows[2].RowLabel != "2" {
		t.Errorf("sample label = %q, want 2", view.Rows[2].RowLabel)
	}
}

func TestTabulate_ScalarTable(t *testing.T) {
	spec := kind.ScalarTableSpec([]string{"roi1", "roi2"}, []string{"mean", "std"}, "roi")
	f := &Feature{
		Kind: kind.ScalarTable,
		Elements: []ElementRecord{
			{Element: meta.Element{"subject": "s"}, Spec: spec, Payload: kind.Payload2D([][]float64{{1, 2}, {3, 4}})},
		},
	}

	view, err := Tabulate(f)
	if err != nil {
		t.Fatalf("Tabulate: %v", err)
	}
	if view.RowHeader != "roi" {
		t.Errorf("RowHeader = %q, want roi", view.RowHeader)
	}
	if view.Rows[0].RowLabel != "roi1" {
		t.Errorf("row label = %q, want roi1", view.Rows[0].RowLabel)
	}
}

func TestTabulate_RaggedElements(t *testing.T) {
	// sub-02 is missing column "b" (e.g. an empty parcel); its cell is NaN.
	f := &Feature{
		Kind: kind.Vector,
		Elements: []ElementRecord{
			{Element: meta.Element{"subject": "sub-01"}, Spec: kind.VectorSpec([]string{"a", "b"}), Payload: kind.Payload1D([]float64{1, 2})},
			{Element: meta.Element{"subject": "sub-02"}, Spec: kind.VectorSpec([]string{"a"}), Payload: kind.Payload1D([]float64{3})},
		},
	}
	f.SortElements()

	view, err := Tabulate(f)
	if err != nil {
		t.Fatalf("Tabulate: %v", err)
	}
	if len(view.Columns) != 2 {
		t.Fatalf("column union %v, want [a b]", view.Columns)
	}
	if view.Rows[1].Values[0] != 3 || !math.IsNaN(view.Rows[1].Values[1]) {
		t.Errorf("ragged row not NaN filled: %v", view.Rows[1].Values)
	}
}

func TestTabulate_EmptyPayload(t *testing.T) {
	f := &Feature{
		Kind: kind.Vector,
		Elements: []ElementRecord{
			{Element: meta.Element{"subject": "s"}, Spec: kind.VectorSpec([]string{}), Payload: kind.Payload1D(nil)},
		},
	}

	view, err := Tabulate(f)
	if err != nil {
		t.Fatalf("Tabulate: %v", err)
	}
	// Empty-but-present: the element contributes one row with no values.
	if len(view.Rows) != 1 || len(view.Rows[0].Values) != 0 {
		t.Errorf("empty vector should yield one empty row, got %+v", view.Rows)
	}
}

func TestParsePolicy(t *testing.T) {
	for _, s := range []string{"insert", "Update", "IGNORE"} {
		if _, err := ParsePolicy(s); err != nil {
			t.Errorf("ParsePolicy(%q): %v", s, err)
		}
	}
	if _, err := ParsePolicy("merge"); err == nil {
		t.Error("unknown policy accepted")
	}
}

func TestSelector_Validate(t *testing.T) {
	if err := ByName("x").Validate(); err != nil {
		t.Errorf("name selector rejected: %v", err)
	}
	if err := (Selector{}).Validate(); err == nil {
		t.Error("empty selector accepted")
	}
	if err := (Selector{Name: "x", Digest: "ab"}).Validate(); err == nil {
		t.Error("double selector accepted")
	}
	if err := ByDigest("zz").Validate(); err == nil {
		t.Error("malformed digest accepted")
	}
}

func TestScopedPath(t *testing.T) {
	got := ScopedPath("/data", "features", meta.Element{"subject": "sub-01"}, ".duckdb")
	want := "/data/features_subject=sub-01.duckdb"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
