// Package duckdb implements the storage contract over a single-file
// DuckDB database.
//
// Physical layout: one metadata table (features) holding the canonical
// metadata blob per fingerprint, one record table (records) whose
// primary key (digest, element) enforces the upsert semantics directly
// at the storage layer, and one normalized value table per storage
// kind, so arbitrary and possibly ragged shapes are representable
// without schema migration.
//
// Every Store call and every per-source merge runs in one database
// transaction; a process killed mid-call leaves the file in its
// pre-call state.
package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/featstore/internal/errors"
	"github.com/xtxerr/featstore/internal/kind"
	"github.com/xtxerr/featstore/internal/logging"
	"github.com/xtxerr/featstore/internal/meta"
	"github.com/xtxerr/featstore/internal/storage"
)

// Ext is the conventional file extension for relational store files.
const Ext = ".duckdb"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS features (
	digest   VARCHAR PRIMARY KEY,
	name     VARCHAR NOT NULL,
	kind     VARCHAR NOT NULL,
	metadata VARCHAR NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	digest       VARCHAR NOT NULL,
	element      VARCHAR NOT NULL,
	element_json VARCHAR NOT NULL,
	spec         VARCHAR NOT NULL,
	n_rows       INTEGER NOT NULL,
	n_cols       INTEGER NOT NULL,
	PRIMARY KEY (digest, element)
);
CREATE TABLE IF NOT EXISTS vector_values (
	digest    VARCHAR NOT NULL,
	element   VARCHAR NOT NULL,
	col_idx   INTEGER NOT NULL,
	col_label VARCHAR NOT NULL,
	value     DOUBLE
);
CREATE TABLE IF NOT EXISTS matrix_values (
	digest    VARCHAR NOT NULL,
	element   VARCHAR NOT NULL,
	row_idx   INTEGER NOT NULL,
	col_idx   INTEGER NOT NULL,
	row_label VARCHAR NOT NULL,
	col_label VARCHAR NOT NULL,
	value     DOUBLE
);
CREATE TABLE IF NOT EXISTS timeseries_values (
	digest    VARCHAR NOT NULL,
	element   VARCHAR NOT NULL,
	row_idx   INTEGER NOT NULL,
	col_idx   INTEGER NOT NULL,
	row_label VARCHAR NOT NULL,
	col_label VARCHAR NOT NULL,
	value     DOUBLE
);
CREATE TABLE IF NOT EXISTS scalar_values (
	digest    VARCHAR NOT NULL,
	element   VARCHAR NOT NULL,
	row_idx   INTEGER NOT NULL,
	col_idx   INTEGER NOT NULL,
	row_label VARCHAR NOT NULL,
	col_label VARCHAR NOT NULL,
	value     DOUBLE
);
`

// valueTables maps each kind to its normalized value table.
var valueTables = map[kind.Kind]string{
	kind.Vector:      "vector_values",
	kind.Matrix:      "matrix_values",
	kind.Timeseries:  "timeseries_values",
	kind.ScalarTable: "scalar_values",
}

// Backend is the relational storage backend.
type Backend struct {
	path   string
	db     *sql.DB
	log    *slog.Logger
	closed bool
}

var _ storage.Backend = (*Backend)(nil)

// Open creates or opens a DuckDB store file and applies the schema.
// Idempotent: reopening an existing store is safe.
func Open(path string) (*Backend, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrBackendIO, "open %s: %v", path, err)
	}

	// A single connection keeps transaction state unambiguous; the
	// store file is exclusively owned by this process anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(errors.ErrBackendIO, "connect %s: %v", path, err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.Wrapf(errors.ErrBackendIO, "apply schema: %v", err)
	}

	log := logging.Component("duckdb")
	log.Debug("opened", "path", path)
	return &Backend{path: path, db: db, log: log}, nil
}

// Path returns the store file path.
func (b *Backend) Path() string { return b.path }

// Close closes the store file. Safe to call twice.
func (b *Backend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.db.Close(); err != nil {
		return errors.Wrapf(errors.ErrBackendIO, "close %s: %v", b.path, err)
	}
	return nil
}

// =============================================================================
// Store
// =============================================================================

// Store persists one record inside a single transaction. The
// fingerprint is computed and the payload validated before any write.
func (b *Backend) Store(ctx context.Context, m meta.Metadata, spec kind.Spec, p kind.Payload, elem meta.Element, policy storage.UpsertPolicy) error {
	if b.closed {
		return errors.ErrClosed
	}
	if !policy.IsValid() {
		return errors.Wrapf(errors.ErrInvalidPolicy, "%q", policy)
	}
	if err := elem.Validate(); err != nil {
		return err
	}
	if err := kind.Validate(spec, p); err != nil {
		return err
	}

	digest, err := meta.Fingerprint(m)
	if err != nil {
		return err
	}
	canonical, err := meta.Canonicalize(m)
	if err != nil {
		return err
	}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return errors.Wrap(errors.ErrBackendIO, err.Error())
	}
	elemJSON, err := json.Marshal(map[string]string(elem))
	if err != nil {
		return errors.Wrap(errors.ErrBackendIO, err.Error())
	}

	p = p.ApplyDiagonal(spec)
	elemKey := elem.Canonical()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrBackendIO, err.Error())
	}
	defer tx.Rollback()

	// Feature metadata row: first writer creates it; later writers for
	// the same fingerprint must agree on the kind.
	var existingKind string
	err = tx.QueryRowContext(ctx, `SELECT kind FROM features WHERE digest = ?`, string(digest)).Scan(&existingKind)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO features (digest, name, kind, metadata) VALUES (?, ?, ?, ?)`,
			string(digest), m.Name(), spec.Kind.String(), string(canonical)); err != nil {
			return errors.Wrap(errors.ErrBackendIO, err.Error())
		}
	case err != nil:
		return errors.Wrap(errors.ErrBackendIO, err.Error())
	case existingKind != spec.Kind.String():
		return errors.Wrapf(errors.ErrInvalidKind,
			"digest %s already stored as %s, not %s", digest.Short(), existingKind, spec.Kind)
	}

	// Upsert semantics on the (digest, element) record.
	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM records WHERE digest = ? AND element = ?`,
		string(digest), elemKey).Scan(&one)
	switch {
	case err == nil:
		switch policy {
		case storage.Insert:
			return errors.NewDuplicateRecord(string(digest), elemKey)
		case storage.Ignore:
			return nil // no write, rollback is a no-op
		case storage.Update:
			if err := deleteRecord(ctx, tx, spec.Kind, string(digest), elemKey); err != nil {
				return err
			}
		}
	case err != sql.ErrNoRows:
		return errors.Wrap(errors.ErrBackendIO, err.Error())
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (digest, element, element_json, spec, n_rows, n_cols) VALUES (?, ?, ?, ?, ?, ?)`,
		string(digest), elemKey, string(elemJSON), string(specJSON), p.Rows(), p.Cols()); err != nil {
		return errors.Wrap(errors.ErrBackendIO, err.Error())
	}

	if err := insertValues(ctx, tx, spec, p, string(digest), elemKey); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrBackendIO, err.Error())
	}

	b.log.Debug("stored", "digest", digest.Short(), "element", elemKey, "kind", spec.Kind, "policy", policy)
	return nil
}

// deleteRecord removes one (digest, element) record and its value rows.
func deleteRecord(ctx context.Context, tx *sql.Tx, k kind.Kind, digest, elem string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE digest = ? AND element = ?`, digest, elem); err != nil {
		return errors.Wrap(errors.ErrBackendIO, err.Error())
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM `+valueTables[k]+` WHERE digest = ? AND element = ?`, digest, elem); err != nil {
		return errors.Wrap(errors.ErrBackendIO, err.Error())
	}
	return nil
}

// insertValues writes the normalized value rows for one payload.
func insertValues(ctx context.Context, tx *sql.Tx, spec kind.Spec, p kind.Payload, digest, elem string) error {
	if spec.Kind == kind.Vector {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO vector_values (digest, element, col_idx, col_label, value) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return errors.Wrap(errors.ErrBackendIO, err.Error())
		}
		defer stmt.Close()

		for i, v := range p.Values1D {
			if _, err := stmt.ExecContext(ctx, digest, elem, i, spec.ColNames[i], v); err != nil {
				return errors.Wrap(errors.ErrBackendIO, err.Error())
			}
		}
		return nil
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+valueTables[spec.Kind]+` (digest, element, row_idx, col_idx, row_label, col_label, value) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(errors.ErrBackendIO, err.Error())
	}
	defer stmt.Close()

	for ri, row := range p.Values2D {
		rl := rowLabelFor(spec, ri)
		for ci, v := range row {
			if _, err := stmt.ExecContext(ctx, digest, elem, ri, ci, rl, spec.ColNames[ci], v); err != nil {
				return errors.Wrap(errors.ErrBackendIO, err.Error())
			}
		}
	}
	return nil
}

func rowLabelFor(spec kind.Spec, i int) string {
	if i < len(spec.RowNames) {
		return spec.RowNames[i]
	}
	// Timeseries rows are unnamed samples.
	return ""
}

// =============================================================================
// Read
// =============================================================================

// Read retrieves one feature with all element payloads.
func (b *Backend) Read(ctx context.Context, sel storage.Selector) (*storage.Feature, error) {
	if b.closed {
		return nil, errors.ErrClosed
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	digest, err := b.resolve(ctx, sel)
	if err != nil {
		return nil, err
	}

	f := &storage.Feature{Digest: digest}

	var kindStr, metadataBlob string
	err = b.db.QueryRowContext(ctx,
		`SELECT name, kind, metadata FROM features WHERE digest = ?`, string(digest)).
		Scan(&f.Name, &kindStr, &metadataBlob)
	if err == sql.ErrNoRows {
		return nil, errors.NewMissingFeature(sel.String())
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrBackendIO, err.Error())
	}

	f.Kind = kind.Kind(kindStr)
	if f.Metadata, err = meta.Decode([]byte(metadataBlob)); err != nil {
		return nil, err
	}

	// Re-verify identity: the stored metadata must reproduce its digest.
	recomputed, err := meta.Fingerprint(f.Metadata)
	if err != nil {
		return nil, err
	}
	if recomputed != digest {
		return nil, errors.NewFingerprintMismatch(string(digest), string(recomputed))
	}

	// Drain the records cursor before fetching payloads. The pool is
	// capped at one connection, so a nested query while the cursor is
	// live would wait on itself.
	type recordRow struct {
		elemKey, elemJSON, specJSON string
		nRows, nCols                int
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT element, element_json, spec, n_rows, n_cols FROM records WHERE digest = ? ORDER BY element`, string(digest))
	if err != nil {
		return nil, errors.Wrap(errors.ErrBackendIO, err.Error())
	}
	var recs []recordRow
	for rows.Next() {
		var r recordRow
		if err := rows.Scan(&r.elemKey, &r.elemJSON, &r.specJSON, &r.nRows, &r.nCols); err != nil {
			rows.Close()
			return nil, errors.Wrap(errors.ErrBackendIO, err.Error())
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(errors.ErrBackendIO, err.Error())
	}
	rows.Close()

	for _, r := range recs {
		var rec storage.ElementRecord
		var elemMap map[string]string
		if err := json.Unmarshal([]byte(r.elemJSON), &elemMap); err != nil {
			return nil, errors.Wrap(errors.ErrBackendIO, err.Error())
		}
		rec.Element = meta.Element(elemMap)
		if err := json.Unmarshal([]byte(r.specJSON), &rec.Spec); err != nil {
			return nil, errors.Wrap(errors.ErrBackendIO, err.Error())
		}

		if rec.Payload, err = b.readPayload(ctx, f.Kind, string(digest), r.elemKey, r.nRows, r.nCols); err != nil {
			return nil, err
		}
		f.Elements = append(f.Elements, rec)
	}

	f.SortElements()
	return f, nil
}

// readPayload reassembles one element's payload from its value rows.
// The stored dimensions recover degenerate shapes (zero-column rows)
// that leave no value rows behind.
func (b *Backend) readPayload(ctx context.Context, k kind.Kind, digest, elem string, nRows, nCols int) (kind.Payload, error) {
	if k == kind.Vector {
		rows, err := b.db.QueryContext(ctx,
			`SELECT col_idx, value FROM vector_values WHERE digest = ? AND element = ? ORDER BY col_idx`,
			digest, elem)
		if err != nil {
			return kind.Payload{}, errors.Wrap(errors.ErrBackendIO, err.Error())
		}
		defer rows.Close()

		values := []float64{}
		for rows.Next() {
			var idx int
			var v float64
			if err := rows.Scan(&idx, &v); err != nil {
				return kind.Payload{}, errors.Wrap(errors.ErrBackendIO, err.Error())
			}
			values = append(values, v)
		}
		if err := rows.Err(); err != nil {
			return kind.Payload{}, errors.Wrap(errors.ErrBackendIO, err.Error())
		}
		return kind.Payload1D(values), nil
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT row_idx, value FROM `+valueTables[k]+` WHERE digest = ? AND element = ? ORDER BY row_idx, col_idx`,
		digest, elem)
	if err != nil {
		return kind.Payload{}, errors.Wrap(errors.ErrBackendIO, err.Error())
	}
	defer rows.Close()

	grid := make([][]float64, nRows)
	for i := range grid {
		grid[i] = make([]float64, 0, nCols)
	}
	for rows.Next() {
		var ri int
		var v float64
		if err := rows.Scan(&ri, &v); err != nil {
			return kind.Payload{}, errors.Wrap(errors.ErrBackendIO, err.Error())
		}
		if ri >= nRows {
			return kind.Payload{}, errors.Wrapf(errors.ErrBackendIO,
				"value row index %d outside stored shape %dx%d", ri, nRows, nCols)
		}
		grid[ri] = append(grid[ri], v)
	}
	if err := rows.Err(); err != nil {
		return kind.Payload{}, errors.Wrap(errors.ErrBackendIO, err.Error())
	}
	return kind.Payload2D(grid), nil
}

// ReadTabular retrieves one feature as a flat tabular view.
func (b *Backend) ReadTabular(ctx context.Context, sel storage.Selector) (*storage.TabularView, error) {
	f, err := b.Read(ctx, sel)
	if err != nil {
		return nil, err
	}
	return storage.Tabulate(f)
}

// resolve maps a selector to a digest, enforcing name uniqueness.
func (b *Backend) resolve(ctx context.Context, sel storage.Selector) (meta.Digest, error) {
	if sel.Digest != "" {
		return sel.Digest, nil
	}

	rows, err := b.db.QueryContext(ctx, `SELECT digest FROM features WHERE name = ?`, sel.Name)
	if err != nil {
		return "", errors.Wrap(errors.ErrBackendIO, err.Error())
	}
	defer rows.Close()

	var digests []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return "", errors.Wrap(errors.ErrBackendIO, err.Error())
		}
		digests = append(digests, d)
	}
	if err := rows.Err(); err != nil {
		return "", errors.Wrap(errors.ErrBackendIO, err.Error())
	}

	switch len(digests) {
	case 0:
		return "", errors.NewMissingFeature(sel.Name)
	case 1:
		return meta.Digest(digests[0]), nil
	default:
		return "", errors.NewAmbiguousName(sel.Name, len(digests))
	}
}

// =============================================================================
// List
// =============================================================================

// ListFeatures enumerates every stored fingerprint with its metadata.
func (b *Backend) ListFeatures(ctx context.Context) (map[meta.Digest]meta.Metadata, error) {
	if b.closed {
		return nil, errors.ErrClosed
	}

	rows, err := b.db.QueryContext(ctx, `SELECT digest, metadata FROM features ORDER BY digest`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrBackendIO, err.Error())
	}
	defer rows.Close()

	out := make(map[meta.Digest]meta.Metadata)
	for rows.Next() {
		var d, blob string
		if err := rows.Scan(&d, &blob); err != nil {
			return nil, errors.Wrap(errors.ErrBackendIO, err.Error())
		}
		m, err := meta.Decode([]byte(blob))
		if err != nil {
			return nil, err
		}
		out[meta.Digest(d)] = m
	}
	return out, rows.Err()
}
