package bolt

import (
	"context"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/xtxerr/featstore/internal/errors"
	"github.com/xtxerr/featstore/internal/storage"
)

// Collect merges the given source store files into this store. Sources
// are processed strictly in order; each source is copied inside one
// write transaction on the target, so a failure leaves earlier sources
// fully merged and later ones untouched.
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

func (b *Backend) collectOne(ctx context.Context, src string, policy storage.UpsertPolicy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if src == b.path {
		return errors.Wrap(errors.ErrInvalidMetadata, "source is the collect target")
	}

	sdb, err := bbolt.Open(src, 0o600, &bbolt.Options{ReadOnly: true, Timeout: 5 * time.Second})
	if err != nil {
		return errors.Wrapf(errors.ErrBackendIO, "open source: %v", err)
	}
	defer sdb.Close()

	return sdb.View(func(stx *bbolt.Tx) error {
		srcRoot := stx.Bucket(bucketFeatures)
		if srcRoot == nil {
			return errors.Wrap(errors.ErrBackendIO, "source has no features bucket")
		}

		return b.db.Update(func(ttx *bbolt.Tx) error {
			tgtRoot := ttx.Bucket(bucketFeatures)

			return srcRoot.ForEachBucket(func(digest []byte) error {
				return mergeFeature(tgtRoot, srcRoot.Bucket(digest), digest, policy)
			})
		})
	})
}

// mergeFeature copies one fingerprint's records from source to target.
// Overlapping (fingerprint, element) records are kept as-is under
// Insert and Ignore, replaced under Update.
func mergeFeature(tgtRoot *bbolt.Bucket, sfb *bbolt.Bucket, digest []byte, policy storage.UpsertPolicy) error {
	tfb, err := tgtRoot.CreateBucketIfNotExists(digest)
	if err != nil {
		return errors.Wrap(errors.ErrBackendIO, err.Error())
	}

	if tfb.Get(keyKind) == nil {
		for _, k := range [][]byte{keyMetadata, keyName, keyKind} {
			if err := tfb.Put(k, sfb.Get(k)); err != nil {
				return errors.Wrap(errors.ErrBackendIO, err.Error())
			}
		}
	} else if string(tfb.Get(keyKind)) != string(sfb.Get(keyKind)) {
		return errors.Wrapf(errors.ErrInvalidKind,
			"digest %.12s stored as %s in target, %s in source",
			digest, tfb.Get(keyKind), sfb.Get(keyKind))
	}

	seb := sfb.Bucket(bucketElements)
	if seb == nil {
		return nil
	}
	teb, err := tfb.CreateBucketIfNotExists(bucketElements)
	if err != nil {
		return errors.Wrap(errors.ErrBackendIO, err.Error())
	}

	return seb.ForEachBucket(func(elem []byte) error {
		if teb.Bucket(elem) != nil {
			if policy != storage.Update {
				return nil
			}
			if err := teb.DeleteBucket(elem); err != nil {
				return errors.Wrap(errors.ErrBackendIO, err.Error())
			}
		}

		trb, err := teb.CreateBucket(elem)
		if err != nil {
			return errors.Wrap(errors.ErrBackendIO, err.Error())
		}
		srb := seb.Bucket(elem)
		for _, k := range [][]byte{keyElement, keySpec, keyPayload} {
			if err := trb.Put(k, srb.Get(k)); err != nil {
				return errors.Wrap(errors.ErrBackendIO, err.Error())
			}
		}
		return nil
	})
}
