package kind

import (
	"fmt"

	"github.com/xtxerr/featstore/internal/errors"
)

// Validate checks a payload against its declared spec. It returns
// ErrShapeMismatch (wrapped with the offending dimension) on the first
// violation and nil when the payload satisfies every invariant of the
// kind. Backends call this before writing any bytes.
func Validate(spec Spec, p Payload) error {
	if err := ValidateSpec(spec); err != nil {
		return err
	}

	if got, want := p.Rank(), spec.Kind.Rank(); got != want {
		return errors.NewShapeMismatch(spec.Kind.String(),
			fmt.Sprintf("rank %d, want %d", got, want))
	}

	if p.Rank() == 2 {
		if err := validateRectangular(spec.Kind, p); err != nil {
			return err
		}
	}

	switch spec.Kind {
	case Matrix:
		return validateMatrix(spec, p)
	case Vector:
		return validateVector(spec, p)
	case Timeseries:
		return validateTimeseries(spec, p)
	case ScalarTable:
		return validateScalarTable(spec, p)
	}
	return nil
}

// validateRectangular rejects ragged rank-2 payloads.
func validateRectangular(k Kind, p Payload) error {
	cols := p.Cols()
	for i, row := range p.Values2D {
		if len(row) != cols {
			return errors.NewShapeMismatch(k.String(),
				fmt.Sprintf("ragged row %d: %d values, want %d", i, len(row), cols))
		}
	}
	return nil
}

func validateMatrix(spec Spec, p Payload) error {
	rows, cols := p.Rows(), p.Cols()

	if len(spec.RowNames) != rows {
		return errors.NewShapeMismatch("matrix",
			fmt.Sprintf("%d row names for %d rows", len(spec.RowNames), rows))
	}
	if len(spec.ColNames) != cols {
		return errors.NewShapeMismatch("matrix",
			fmt.Sprintf("%d col names for %d cols", len(spec.ColNames), cols))
	}
	if spec.Square && rows != cols {
		return errors.NewShapeMismatch("matrix",
			fmt.Sprintf("declared square but %dx%d", rows, cols))
	}
	return nil
}

func validateVector(spec Spec, p Payload) error {
	if len(spec.ColNames) != len(p.Values1D) {
		return errors.NewShapeMismatch("vector",
			fmt.Sprintf("%d col names for %d values", len(spec.ColNames), len(p.Values1D)))
	}
	return nil
}

func validateTimeseries(spec Spec, p Payload) error {
	// Rows are samples; only the column count is pinned by labels.
	// A timeseries with zero samples is legal and keeps its column names.
	if p.Rows() > 0 && len(spec.ColNames) != p.Cols() {
		return errors.NewShapeMismatch("timeseries",
			fmt.Sprintf("%d col names for %d cols", len(spec.ColNames), p.Cols()))
	}
	return nil
}

func validateScalarTable(spec Spec, p Payload) error {
	rows, cols := p.Rows(), p.Cols()

	if len(spec.RowNames) != rows {
		return errors.NewShapeMismatch("scalar_table",
			fmt.Sprintf("%d row names for %d rows", len(spec.RowNames), rows))
	}
	if rows > 0 && len(spec.ColNames) != cols {
		return errors.NewShapeMismatch("scalar_table",
			fmt.Sprintf("%d col names for %d cols", len(spec.ColNames), cols))
	}
	// The row header column carries the row identifiers in tabular
	// views; it must not shadow a data column.
	for _, n := range spec.ColNames {
		if n == spec.RowHeaderColName {
			return errors.NewShapeMismatch("scalar_table",
				fmt.Sprintf("row header column %q collides with a data column", spec.RowHeaderColName))
		}
	}
	return nil
}
