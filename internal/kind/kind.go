// Package kind defines the closed set of payload shapes a feature can
// take and the structural invariants each shape carries.
//
// Every stored payload declares exactly one kind:
//
//   - Matrix:      rank 2, named rows and columns, optionally square
//   - Vector:      rank 1, named columns
//   - Timeseries:  rank 2, rows are samples, named columns
//   - ScalarTable: rank 2, named rows and columns, one column holds
//     the row identifiers
//
// Validation happens before any bytes reach a backend; a payload that
// does not satisfy its declared kind is rejected with ErrShapeMismatch.
package kind

import (
	"math"

	"github.com/xtxerr/featstore/internal/errors"
)

// =============================================================================
// Kinds
// =============================================================================

// Kind identifies one payload shape.
type Kind string

const (
	Matrix      Kind = "matrix"
	Vector      Kind = "vector"
	Timeseries  Kind = "timeseries"
	ScalarTable Kind = "scalar_table"
)

// ValidKinds contains all valid kind values.
var ValidKinds = []Kind{Matrix, Vector, Timeseries, ScalarTable}

// IsValid returns true if the kind is a known valid kind.
func (k Kind) IsValid() bool {
	for _, valid := range ValidKinds {
		if k == valid {
			return true
		}
	}
	return false
}

func (k Kind) String() string { return string(k) }

// Rank returns the payload rank the kind requires.
func (k Kind) Rank() int {
	if k == Vector {
		return 1
	}
	return 2
}

// =============================================================================
// Diagonal policy
// =============================================================================

// DiagonalPolicy controls how a square matrix diagonal is treated on
// store. Values are preserved verbatim unless the caller declares
// otherwise; there is no implicit zeroing.
type DiagonalPolicy string

const (
	// DiagonalKeep stores diagonal values exactly as provided.
	DiagonalKeep DiagonalPolicy = "keep"

	// DiagonalZero overwrites the diagonal with zeros on store.
	DiagonalZero DiagonalPolicy = "zero"
)

// IsValid returns true if the policy is a known valid policy.
func (p DiagonalPolicy) IsValid() bool {
	return p == DiagonalKeep || p == DiagonalZero || p == ""
}

// =============================================================================
// Spec
// =============================================================================

// Spec is a kind tag plus the labels and flags that pin down one
// concrete shape. Label slices that do not apply to the kind must be nil.
type Spec struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// RowNames labels the rows of Matrix and ScalarTable payloads.
	RowNames []string `json:"row_names,omitempty" yaml:"row_names,omitempty"`

	// ColNames labels the columns of every rank-2 kind and the entries
	// of a Vector.
	ColNames []string `json:"col_names,omitempty" yaml:"col_names,omitempty"`

	// Square declares that a Matrix must have rows == cols.
	Square bool `json:"square,omitempty" yaml:"square,omitempty"`

	// Diagonal is the Matrix diagonal policy. Empty means keep.
	Diagonal DiagonalPolicy `json:"diagonal,omitempty" yaml:"diagonal,omitempty"`

	// RowHeaderColName names the ScalarTable column that holds the row
	// identifiers.
	RowHeaderColName string `json:"row_header_col_name,omitempty" yaml:"row_header_col_name,omitempty"`
}

// MatrixSpec builds a Spec for a matrix payload.
func MatrixSpec(rowNames, colNames []string, square bool, diagonal DiagonalPolicy) Spec {
	return Spec{Kind: Matrix, RowNames: rowNames, ColNames: colNames, Square: square, Diagonal: diagonal}
}

// VectorSpec builds a Spec for a vector payload.
func VectorSpec(colNames []string) Spec {
	return Spec{Kind: Vector, ColNames: colNames}
}

// TimeseriesSpec builds a Spec for a timeseries payload.
func TimeseriesSpec(colNames []string) Spec {
	return Spec{Kind: Timeseries, ColNames: colNames}
}

// ScalarTableSpec builds a Spec for a scalar table payload.
func ScalarTableSpec(rowNames, colNames []string, rowHeaderColName string) Spec {
	return Spec{Kind: ScalarTable, RowNames: rowNames, ColNames: colNames, RowHeaderColName: rowHeaderColName}
}

// =============================================================================
// Payload
// =============================================================================

// Payload holds feature values at rank 1 or rank 2. Exactly one of the
// two fields is used, matching the declared kind's rank. Empty payloads
// are legal: an empty parcel region round-trips as an empty-but-present
// record, not an absence.
type Payload struct {
	// Values1D holds rank-1 data (Vector).
	Values1D []float64

	// Values2D holds rank-2 data (Matrix, Timeseries, ScalarTable).
	// All rows must have equal length.
	Values2D [][]float64
}

// Payload1D wraps rank-1 values.
func Payload1D(values []float64) Payload {
	if values == nil {
		values = []float64{}
	}
	return Payload{Values1D: values}
}

// Payload2D wraps rank-2 values.
func Payload2D(values [][]float64) Payload {
	if values == nil {
		values = [][]float64{}
	}
	return Payload{Values2D: values}
}

// Rank returns 1 or 2 depending on which field is populated. A payload
// with both fields set is malformed and reports 0.
func (p Payload) Rank() int {
	switch {
	case p.Values1D != nil && p.Values2D != nil:
		return 0
	case p.Values1D != nil:
		return 1
	case p.Values2D != nil:
		return 2
	default:
		return 0
	}
}

// Rows returns the number of rows of a rank-2 payload.
func (p Payload) Rows() int { return len(p.Values2D) }

// Cols returns the number of columns of a rank-2 payload, or the length
// of a rank-1 payload.
func (p Payload) Cols() int {
	if p.Values1D != nil {
		return len(p.Values1D)
	}
	if len(p.Values2D) == 0 {
		return 0
	}
	return len(p.Values2D[0])
}

// Clone returns a deep copy of the payload.
func (p Payload) Clone() Payload {
	out := Payload{}
	if p.Values1D != nil {
		out.Values1D = append([]float64{}, p.Values1D...)
	}
	if p.Values2D != nil {
		out.Values2D = make([][]float64, len(p.Values2D))
		for i, row := range p.Values2D {
			out.Values2D[i] = append([]float64{}, row...)
		}
	}
	return out
}

// Equal reports whether two payloads hold identical values and shape.
// Values compare bitwise, so NaN entries match themselves.
func (p Payload) Equal(o Payload) bool {
	if p.Rank() != o.Rank() {
		return false
	}
	switch p.Rank() {
	case 1:
		if len(p.Values1D) != len(o.Values1D) {
			return false
		}
		for i := range p.Values1D {
			if !sameValue(p.Values1D[i], o.Values1D[i]) {
				return false
			}
		}
	case 2:
		if len(p.Values2D) != len(o.Values2D) {
			return false
		}
		for i := range p.Values2D {
			if len(p.Values2D[i]) != len(o.Values2D[i]) {
				return false
			}
			for j := range p.Values2D[i] {
				if !sameValue(p.Values2D[i][j], o.Values2D[i][j]) {
					return false
				}
			}
		}
	}
	return true
}

func sameValue(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

// ApplyDiagonal returns the payload with the spec's diagonal policy
// applied. Only DiagonalZero on a square matrix changes anything.
func (p Payload) ApplyDiagonal(spec Spec) Payload {
	if spec.Kind != Matrix || spec.Diagonal != DiagonalZero {
		return p
	}
	out := p.Clone()
	for i := range out.Values2D {
		if i < len(out.Values2D[i]) {
			out.Values2D[i][i] = 0
		}
	}
	return out
}

// =============================================================================
// Spec validation
// =============================================================================

// ValidateSpec checks that a Spec is internally consistent before any
// payload is considered.
func ValidateSpec(s Spec) error {
	if !s.Kind.IsValid() {
		return errors.Wrapf(errors.ErrInvalidKind, "unknown kind %q", s.Kind)
	}
	if !s.Diagonal.IsValid() {
		return errors.Wrapf(errors.ErrInvalidKind, "unknown diagonal policy %q", s.Diagonal)
	}

	switch s.Kind {
	case Vector, Timeseries:
		if s.RowNames != nil {
			return errors.Wrapf(errors.ErrInvalidKind, "%s does not take row names", s.Kind)
		}
	}
	if s.Kind != Matrix && (s.Square || s.Diagonal != "") {
		return errors.Wrapf(errors.ErrInvalidKind, "%s does not take square/diagonal", s.Kind)
	}
	if s.Kind == ScalarTable {
		if s.RowHeaderColName == "" {
			return errors.NewMissingField("row_header_col_name")
		}
	} else if s.RowHeaderColName != "" {
		return errors.Wrapf(errors.ErrInvalidKind, "%s does not take a row header column", s.Kind)
	}
	return nil
}
