package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xtxerr/featstore/internal/errors"
	"github.com/xtxerr/featstore/internal/kind"
	"github.com/xtxerr/featstore/internal/storage"
)

// kindOrder fixes the value-table iteration order during merges.
var kindOrder = []kind.Kind{kind.Vector, kind.Matrix, kind.Timeseries, kind.ScalarTable}

// Collect merges the given source store files into this store. Sources
// are processed strictly in order, each in its own transaction, so a
// failure at source i leaves sources 0..i-1 fully merged and i..n
// untouched. The policy decides the fate of (fingerprint, element)
// records present on both sides:
//
//	Insert, Ignore: keep the target record, copy only missing ones
//	Update:         replace the target record with the source one
func (b *Backend) Collect(ctx context.Context, sources []string, policy storage.UpsertPolicy) error {
	if b.closed {
		return errors.ErrClosed
	}
	if !policy.IsValid() {
		return errors.Wrapf(errors.ErrInvalidPolicy, "%q", policy)
	}

	for i, src := range sources {
		if err := b.collectOne(ctx, src, policy); err != nil {
			return errors.NewSourceFailed(i, src, err)
		}
		b.log.Info("merged source", "index", i, "path", src)
	}
	return nil
}

// collectOne merges a single source file. ATTACH and DETACH bracket the
// transaction; the merge itself is pure SQL set arithmetic, no payload
// ever round-trips through Go.
func (b *Backend) collectOne(ctx context.Context, src string, policy storage.UpsertPolicy) error {
	if src == b.path {
		return errors.Wrap(errors.ErrInvalidMetadata, "source is the collect target")
	}

	if _, err := b.db.ExecContext(ctx,
		fmt.Sprintf(`ATTACH %s AS src (READ_ONLY)`, quoteLiteral(src))); err != nil {
		return errors.Wrapf(errors.ErrBackendIO, "attach: %v", err)
	}
	defer b.db.ExecContext(ctx, `DETACH src`)

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrBackendIO, err.Error())
	}
	defer tx.Rollback()

	// A digest carries one kind for its lifetime; a source that stored
	// the same identity under a different kind must not merge, or its
	// value rows would land in a table the target never reads.
	var conflict string
	var tgtKind, srcKind string
	err = tx.QueryRowContext(ctx, `
		SELECT t.digest, t.kind, s.kind FROM features t
		JOIN src.features s ON s.digest = t.digest AND s.kind <> t.kind
		LIMIT 1`).Scan(&conflict, &tgtKind, &srcKind)
	switch {
	case err == nil:
		return errors.Wrapf(errors.ErrInvalidKind,
			"digest %.12s stored as %s in target, %s in source", conflict, tgtKind, srcKind)
	case err != sql.ErrNoRows:
		return errors.Wrap(errors.ErrBackendIO, err.Error())
	}

	if policy == storage.Update {
		if err := dropOverlap(ctx, tx); err != nil {
			return err
		}
	}

	// The record set to copy: everything the target does not have.
	// Under Update the overlap was just dropped, so this is the whole
	// source record set.
	if _, err := tx.ExecContext(ctx, `
		CREATE TEMP TABLE incoming AS
		SELECT s.digest, s.element FROM src.records s
		WHERE NOT EXISTS (
			SELECT 1 FROM records t
			WHERE t.digest = s.digest AND t.element = s.element
		)`); err != nil {
		return errors.Wrap(errors.ErrBackendIO, err.Error())
	}
	defer tx.ExecContext(ctx, `DROP TABLE IF EXISTS incoming`)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO features
		SELECT s.digest, s.name, s.kind, s.metadata FROM src.features s
		WHERE NOT EXISTS (SELECT 1 FROM features t WHERE t.digest = s.digest)`); err != nil {
		return errors.Wrap(errors.ErrBackendIO, err.Error())
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO records
		SELECT s.digest, s.element, s.element_json, s.spec, s.n_rows, s.n_cols
		FROM src.records s
		JOIN incoming n ON n.digest = s.digest AND n.element = s.element`); err != nil {
		return errors.Wrap(errors.ErrBackendIO, err.Error())
	}

	for _, k := range kindOrder {
		table := valueTables[k]
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %[1]s
			SELECT s.* FROM src.%[1]s s
			JOIN incoming n ON n.digest = s.digest AND n.element = s.element`, table)); err != nil {
			return errors.Wrap(errors.ErrBackendIO, err.Error())
		}
	}

	return tx.Commit()
}

// dropOverlap deletes every target record that also exists in the
// attached source, clearing the way for the source copy to win.
func dropOverlap(ctx context.Context, tx *sql.Tx) error {
	for _, k := range kindOrder {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM %s t
			WHERE EXISTS (
				SELECT 1 FROM src.records s
				WHERE s.digest = t.digest AND s.element = t.element
			)`, valueTables[k])); err != nil {
			return errors.Wrap(errors.ErrBackendIO, err.Error())
		}
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM records t
		WHERE EXISTS (
			SELECT 1 FROM src.records s
			WHERE s.digest = t.digest AND s.element = t.element
		)`); err != nil {
		return errors.Wrap(errors.ErrBackendIO, err.Error())
	}
	return nil
}

// quoteLiteral escapes a path for interpolation into ATTACH, which does
// not take bind parameters.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
