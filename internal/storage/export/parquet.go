// Package export writes tabular feature views to Parquet for analysis
// tools downstream of the store.
//
// The output is long form: one row per (element, payload row, column)
// cell. Long form survives ragged label sets across elements without
// schema gymnastics and loads directly into dataframe libraries.
package export

import (
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/featstore/internal/errors"
	"github.com/xtxerr/featstore/internal/logging"
	"github.com/xtxerr/featstore/internal/storage"
)

// Ext is the conventional file extension for exported files.
const Ext = ".parquet"

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
)

// ParseCompression parses a compression type string.
func ParseCompression(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "none":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// codecFor returns the parquet-go compression codec.
func codecFor(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	default:
		return &parquet.Uncompressed
	}
}

// Row is one cell of a tabular view in long form.
type Row struct {
	Digest   string  `parquet:"digest,dict"`
	Name     string  `parquet:"name,dict"`
	Element  string  `parquet:"element,dict"`
	RowLabel string  `parquet:"row_label,dict"`
	Column   string  `parquet:"column,dict"`
	Value    float64 `parquet:"value"`
}

// Flatten converts a tabular view into long-form rows. Missing cells
// (columns a given element never produced) are carried as NaN, exactly
// as the view holds them.
func Flatten(view *storage.TabularView) []Row {
	var rows []Row
	for _, r := range view.Rows {
		elem := r.Element.Canonical()
		for ci, col := range view.Columns {
			rows = append(rows, Row{
				Digest:   string(view.Digest),
				Name:     view.Name,
				Element:  elem,
				RowLabel: r.RowLabel,
				Column:   col,
				Value:    r.Values[ci],
			})
		}
	}
	return rows
}

// WriteView writes one tabular view to a Parquet file, replacing any
// existing file at path.
func WriteView(path string, view *storage.TabularView, compression CompressionType) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(errors.ErrBackendIO, "create %s: %v", path, err)
	}

	w := parquet.NewGenericWriter[Row](f, parquet.Compression(codecFor(compression)))
	rows := Flatten(view)

	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			f.Close()
			return errors.Wrapf(errors.ErrBackendIO, "write %s: %v", path, err)
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		return errors.Wrapf(errors.ErrBackendIO, "finalize %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(errors.ErrBackendIO, "close %s: %v", path, err)
	}

	logging.Component("export").Info("exported", "path", path, "rows", len(rows))
	return nil
}

// ReadAll loads every row of an exported file.
func ReadAll(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrBackendIO, "open %s: %v", path, err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[Row](f)
	defer reader.Close()

	numRows := reader.NumRows()
	if numRows == 0 {
		return nil, nil
	}

	rows := make([]Row, numRows)
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, errors.Wrapf(errors.ErrBackendIO, "read %s: %v", path, err)
	}
	return rows[:n], nil
}
