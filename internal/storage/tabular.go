package storage

import (
	"math"
	"sort"
	"strconv"

	"github.com/xtxerr/featstore/internal/errors"
	"github.com/xtxerr/featstore/internal/kind"
	"github.com/xtxerr/featstore/internal/meta"
)

// =============================================================================
// Tabular view
// =============================================================================

// TabularView is a flat row/column rendering of one feature across all
// of its elements, suitable for handing to external tabular analysis
// tools. Each row carries its element keys, an optional row label, and
// one value per data column.
type TabularView struct {
	// Digest identifies the feature the view was built from.
	Digest meta.Digest

	// Name is the feature's human-assigned name, if any.
	Name string

	// ElementKeys are the element key names, sorted; each is one
	// leading column of the view.
	ElementKeys []string

	// RowHeader is the label column name, or "" when the kind has no
	// row labels (Vector).
	RowHeader string

	// Columns are the data column names: the union of column labels
	// across elements, in first-seen order over canonically sorted
	// elements.
	Columns []string

	// Rows hold the data, ordered by element then row label. Cells for
	// columns an element does not carry are NaN.
	Rows []TabularRow
}

// TabularRow is one row of a TabularView.
type TabularRow struct {
	Element  meta.Element
	RowLabel string
	Values   []float64
}

// NumRows returns the row count.
func (v *TabularView) NumRows() int { return len(v.Rows) }

// ColumnNames returns the full header: element keys, row header (if
// any), then data columns.
func (v *TabularView) ColumnNames() []string {
	out := append([]string{}, v.ElementKeys...)
	if v.RowHeader != "" {
		out = append(out, v.RowHeader)
	}
	return append(out, v.Columns...)
}

// Tabulate flattens a feature into a TabularView:
//
//   - Vector:      one row per element, no row label
//   - Matrix:      one row per (element, row name), header "row"
//   - Timeseries:  one row per (element, sample), header "sample"
//   - ScalarTable: one row per (element, row name), header from the
//     declared row_header_col_name
//
// An empty rank-2 payload contributes zero rows; an empty vector
// contributes one row with NaN in every data column. Either way the
// element still appears through Read: emptiness is not absence.
func Tabulate(f *Feature) (*TabularView, error) {
	if f == nil {
		return nil, errors.Wrap(errors.ErrMissingFeature, "nil feature")
	}
	if !f.Kind.IsValid() {
		return nil, errors.Wrapf(errors.ErrInvalidKind, "%q", f.Kind)
	}

	view := &TabularView{
		Digest:      f.Digest,
		Name:        f.Name,
		RowHeader:   rowHeaderName(f),
		ElementKeys: elementKeys(f.Elements),
		Columns:     columnUnion(f.Elements),
	}

	colIndex := make(map[string]int, len(view.Columns))
	for i, c := range view.Columns {
		colIndex[c] = i
	}

	for _, rec := range f.Elements {
		switch f.Kind {
		case kind.Vector:
			view.Rows = append(view.Rows, TabularRow{
				Element: rec.Element,
				Values:  alignValues(colIndex, len(view.Columns), rec.Spec.ColNames, rec.Payload.Values1D),
			})
		default:
			for i, row := range rec.Payload.Values2D {
				view.Rows = append(view.Rows, TabularRow{
					Element:  rec.Element,
					RowLabel: rowLabel(rec.Spec, i),
					Values:   alignValues(colIndex, len(view.Columns), rec.Spec.ColNames, row),
				})
			}
		}
	}

	return view, nil
}

// rowHeaderName picks the label column name for the feature's kind.
func rowHeaderName(f *Feature) string {
	switch f.Kind {
	case kind.Vector:
		return ""
	case kind.Timeseries:
		return "sample"
	case kind.ScalarTable:
		for _, rec := range f.Elements {
			if rec.Spec.RowHeaderColName != "" {
				return rec.Spec.RowHeaderColName
			}
		}
		return "row"
	default:
		return "row"
	}
}

// rowLabel derives the label of row i for a rank-2 kind.
func rowLabel(spec kind.Spec, i int) string {
	if spec.Kind == kind.Timeseries {
		return strconv.Itoa(i)
	}
	if i < len(spec.RowNames) {
		return spec.RowNames[i]
	}
	return strconv.Itoa(i)
}

// alignValues places an element's values into the view's column order,
// filling columns the element does not carry with NaN.
func alignValues(colIndex map[string]int, width int, colNames []string, values []float64) []float64 {
	out := make([]float64, width)
	for i := range out {
		out[i] = math.NaN()
	}
	for i, v := range values {
		if i >= len(colNames) {
			break
		}
		if idx, ok := colIndex[colNames[i]]; ok {
			out[idx] = v
		}
	}
	return out
}

// columnUnion collects the data column labels across elements in
// first-seen order.
func columnUnion(records []ElementRecord) []string {
	var cols []string
	seen := make(map[string]struct{})
	for _, rec := range records {
		for _, c := range rec.Spec.ColNames {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				cols = append(cols, c)
			}
		}
	}
	return cols
}

// elementKeys collects the union of element key names across records.
func elementKeys(records []ElementRecord) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec.Element {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
