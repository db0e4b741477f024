// Package bolt implements the storage contract over a single-file
// bbolt database.
//
// The hierarchy mirrors the logical model directly: one bucket per
// fingerprint under the root features bucket, one nested bucket per
// element underneath it. Payloads travel in checksummed binary frames
// and the canonical metadata blob is re-fingerprinted on every read,
// so silent corruption surfaces as an error instead of bad data.
//
//	features/
//	└── <digest>/
//	    ├── metadata        canonical metadata bytes
//	    ├── name
//	    ├── kind
//	    └── elements/
//	        └── <element>/
//	            ├── element  element keys as JSON
//	            ├── spec     per-element labels as JSON
//	            └── payload  checksummed value frame
package bolt

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/xtxerr/featstore/internal/errors"
	"github.com/xtxerr/featstore/internal/kind"
	"github.com/xtxerr/featstore/internal/logging"
	"github.com/xtxerr/featstore/internal/meta"
	"github.com/xtxerr/featstore/internal/storage"
)

// Ext is the conventional file extension for hierarchical store files.
const Ext = ".boltdb"

var (
	bucketFeatures = []byte("features")
	bucketElements = []byte("elements")

	keyMetadata = []byte("metadata")
	keyName     = []byte("name")
	keyKind     = []byte("kind")
	keyElement  = []byte("element")
	keySpec     = []byte("spec")
	keyPayload  = []byte("payload")
)

// Backend is the hierarchical storage backend.
type Backend struct {
	path   string
	db     *bbolt.DB
	log    *slog.Logger
	closed bool
}

var _ storage.Backend = (*Backend)(nil)

// Open creates or opens a bolt store file.
func Open(path string, mode os.FileMode) (*Backend, error) {
	db, err := bbolt.Open(path, mode, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrBackendIO, "open %s: %v", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFeatures)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrapf(errors.ErrBackendIO, "init %s: %v", path, err)
	}

	log := logging.Component("bolt")
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

// Store persists one record. The whole call is a single bbolt write
// transaction; bbolt makes it atomic against crashes.
func (b *Backend) Store(ctx context.Context, m meta.Metadata, spec kind.Spec, p kind.Payload, elem meta.Element, policy storage.UpsertPolicy) error {
	if b.closed {
		return errors.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
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

	frame := encodePayload(p.ApplyDiagonal(spec))
	elemKey := []byte(elem.Canonical())

	err = b.db.Update(func(tx *bbolt.Tx) error {
		fb, err := tx.Bucket(bucketFeatures).CreateBucketIfNotExists([]byte(digest))
		if err != nil {
			return errors.Wrap(errors.ErrBackendIO, err.Error())
		}

		if existing := fb.Get(keyKind); existing == nil {
			if err := fb.Put(keyMetadata, canonical); err != nil {
				return errors.Wrap(errors.ErrBackendIO, err.Error())
			}
			if err := fb.Put(keyName, []byte(m.Name())); err != nil {
				return errors.Wrap(errors.ErrBackendIO, err.Error())
			}
			if err := fb.Put(keyKind, []byte(spec.Kind)); err != nil {
				return errors.Wrap(errors.ErrBackendIO, err.Error())
			}
		} else if string(existing) != spec.Kind.String() {
			return errors.Wrapf(errors.ErrInvalidKind,
				"digest %s already stored as %s, not %s", digest.Short(), existing, spec.Kind)
		}

		eb, err := fb.CreateBucketIfNotExists(bucketElements)
		if err != nil {
			return errors.Wrap(errors.ErrBackendIO, err.Error())
		}

		if eb.Bucket(elemKey) != nil {
			switch policy {
			case storage.Insert:
				return errors.NewDuplicateRecord(string(digest), string(elemKey))
			case storage.Ignore:
				return nil
			case storage.Update:
				if err := eb.DeleteBucket(elemKey); err != nil {
					return errors.Wrap(errors.ErrBackendIO, err.Error())
				}
			}
		}

		rb, err := eb.CreateBucket(elemKey)
		if err != nil {
			return errors.Wrap(errors.ErrBackendIO, err.Error())
		}
		if err := rb.Put(keyElement, elemJSON); err != nil {
			return errors.Wrap(errors.ErrBackendIO, err.Error())
		}
		if err := rb.Put(keySpec, specJSON); err != nil {
			return errors.Wrap(errors.ErrBackendIO, err.Error())
		}
		if err := rb.Put(keyPayload, frame); err != nil {
			return errors.Wrap(errors.ErrBackendIO, err.Error())
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.log.Debug("stored", "digest", digest.Short(), "element", string(elemKey), "kind", spec.Kind, "policy", policy)
	return nil
}

// =============================================================================
// Read
// =============================================================================

// Read retrieves one feature with all element payloads. The stored
// metadata is re-fingerprinted before anything is returned.
func (b *Backend) Read(ctx context.Context, sel storage.Selector) (*storage.Feature, error) {
	if b.closed {
		return nil, errors.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	var f *storage.Feature
	err := b.db.View(func(tx *bbolt.Tx) error {
		digest, err := resolve(tx, sel)
		if err != nil {
			return err
		}
		f, err = readFeature(tx, digest)
		return err
	})
	if err != nil {
		return nil, err
	}
	return f, nil
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
func resolve(tx *bbolt.Tx, sel storage.Selector) (meta.Digest, error) {
	if sel.Digest != "" {
		return sel.Digest, nil
	}

	var matches []meta.Digest
	root := tx.Bucket(bucketFeatures)
	err := root.ForEachBucket(func(k []byte) error {
		if string(root.Bucket(k).Get(keyName)) == sel.Name {
			matches = append(matches, meta.Digest(k))
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrap(errors.ErrBackendIO, err.Error())
	}

	switch len(matches) {
	case 0:
		return "", errors.NewMissingFeature(sel.Name)
	case 1:
		return matches[0], nil
	default:
		return "", errors.NewAmbiguousName(sel.Name, len(matches))
	}
}

func readFeature(tx *bbolt.Tx, digest meta.Digest) (*storage.Feature, error) {
	fb := tx.Bucket(bucketFeatures).Bucket([]byte(digest))
	if fb == nil {
		return nil, errors.NewMissingFeature(string(digest))
	}

	f := &storage.Feature{
		Digest: digest,
		Name:   string(fb.Get(keyName)),
		Kind:   kind.Kind(fb.Get(keyKind)),
	}

	m, err := meta.Decode(fb.Get(keyMetadata))
	if err != nil {
		return nil, err
	}
	recomputed, err := meta.Fingerprint(m)
	if err != nil {
		return nil, err
	}
	if recomputed != digest {
		return nil, errors.NewFingerprintMismatch(string(digest), string(recomputed))
	}
	f.Metadata = m

	eb := fb.Bucket(bucketElements)
	if eb == nil {
		return f, nil
	}

	err = eb.ForEachBucket(func(k []byte) error {
		rec, err := readRecord(eb.Bucket(k))
		if err != nil {
			return err
		}
		f.Elements = append(f.Elements, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	f.SortElements()
	return f, nil
}

func readRecord(rb *bbolt.Bucket) (storage.ElementRecord, error) {
	var rec storage.ElementRecord

	var elemMap map[string]string
	if err := json.Unmarshal(rb.Get(keyElement), &elemMap); err != nil {
		return rec, errors.Wrap(errors.ErrBackendIO, err.Error())
	}
	rec.Element = meta.Element(elemMap)

	if err := json.Unmarshal(rb.Get(keySpec), &rec.Spec); err != nil {
		return rec, errors.Wrap(errors.ErrBackendIO, err.Error())
	}

	p, err := decodePayload(rb.Get(keyPayload))
	if err != nil {
		return rec, err
	}
	rec.Payload = p
	return rec, nil
}

// =============================================================================
// List / Verify
// =============================================================================

// ListFeatures enumerates every stored fingerprint with its metadata.
func (b *Backend) ListFeatures(ctx context.Context) (map[meta.Digest]meta.Metadata, error) {
	if b.closed {
		return nil, errors.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[meta.Digest]meta.Metadata)
	err := b.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketFeatures)
		return root.ForEachBucket(func(k []byte) error {
			m, err := meta.Decode(root.Bucket(k).Get(keyMetadata))
			if err != nil {
				return err
			}
			out[meta.Digest(k)] = m
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Verify sweeps the whole store: every metadata blob must reproduce its
// digest and every payload frame must pass its checksum. It returns the
// number of records checked.
func (b *Backend) Verify(ctx context.Context) (int, error) {
	if b.closed {
		return 0, errors.ErrClosed
	}

	checked := 0
	err := b.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketFeatures)
		return root.ForEachBucket(func(k []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := readFeature(tx, meta.Digest(k))
			if err != nil {
				return err
			}
			checked += len(f.Elements)
			return nil
		})
	})
	if err != nil {
		return checked, err
	}
	return checked, nil
}
