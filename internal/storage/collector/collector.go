// Package collector drives the merge of per-element store files into
// one combined store.
//
// The heavy lifting lives in the backends; the collector adds the
// operational shell around it: a parallel preflight that rejects
// unreadable sources before any byte lands in the target, ordered
// merging so partial failures are easy to reason about, and a result
// summary for logs and operators.
package collector

import (
	"context"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/featstore/internal/errors"
	"github.com/xtxerr/featstore/internal/logging"
	"github.com/xtxerr/featstore/internal/storage"
)

// OpenFunc opens a source store file for reading. Both backend Open
// functions satisfy it through a small adapter in the caller.
type OpenFunc func(path string) (storage.Backend, error)

// Options configures a collection run.
type Options struct {
	// Open is used by the preflight to inspect sources. Required when
	// Preflight is set.
	Open OpenFunc

	// Preflight checks every source in parallel before merging.
	Preflight bool

	// Policy decides the fate of records present in both a source and
	// the target. Defaults to Insert.
	Policy storage.UpsertPolicy
}

// SourceInfo describes one inspected source.
type SourceInfo struct {
	Path     string
	Features int
}

// Result summarizes a collection run.
type Result struct {
	Sources        []SourceInfo
	FeaturesBefore int
	FeaturesAfter  int
	Elapsed        time.Duration
}

// Collector merges source store files into a target backend.
type Collector struct {
	target storage.Backend
	opts   Options
	log    *slog.Logger
}

// New creates a collector for the given target.
func New(target storage.Backend, opts Options) *Collector {
	if opts.Policy == "" {
		opts.Policy = storage.Insert
	}
	return &Collector{target: target, opts: opts, log: logging.Component("collector")}
}

// Run merges the sources into the target, in order. With preflight
// enabled, every source is opened and inspected up front and the run
// aborts before the first merge if any source is unreadable; without
// it, errors surface at merge time and earlier sources stay merged.
func (c *Collector) Run(ctx context.Context, sources []string) (*Result, error) {
	start := time.Now()
	res := &Result{}

	if c.opts.Preflight {
		infos, err := c.preflight(ctx, sources)
		if err != nil {
			return nil, err
		}
		res.Sources = infos
	} else {
		for _, s := range sources {
			res.Sources = append(res.Sources, SourceInfo{Path: s})
		}
	}

	before, err := c.target.ListFeatures(ctx)
	if err != nil {
		return nil, err
	}
	res.FeaturesBefore = len(before)

	if err := c.target.Collect(ctx, sources, c.opts.Policy); err != nil {
		return nil, err
	}

	after, err := c.target.ListFeatures(ctx)
	if err != nil {
		return nil, err
	}
	res.FeaturesAfter = len(after)
	res.Elapsed = time.Since(start)

	c.log.Info("collection finished",
		"sources", len(sources),
		"features_before", res.FeaturesBefore,
		"features_after", res.FeaturesAfter,
		"elapsed", res.Elapsed)
	return res, nil
}

// preflight opens every source in parallel and lists its features.
// A source that cannot be opened or listed fails the whole run.
func (c *Collector) preflight(ctx context.Context, sources []string) ([]SourceInfo, error) {
	if c.opts.Open == nil {
		return nil, errors.Wrap(errors.ErrInvalidMetadata, "preflight requires an open function")
	}

	infos := make([]SourceInfo, len(sources))
	g, gctx := errgroup.WithContext(ctx)

	for i, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// Backends create missing store files on open; a missing
			// source is an error, not an empty store.
			if _, err := os.Stat(src); err != nil {
				return errors.NewSourceFailed(i, src, err)
			}
			b, err := c.opts.Open(src)
			if err != nil {
				return errors.NewSourceFailed(i, src, err)
			}
			defer b.Close()

			features, err := b.ListFeatures(gctx)
			if err != nil {
				return errors.NewSourceFailed(i, src, err)
			}
			infos[i] = SourceInfo{Path: src, Features: len(features)}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return infos, nil
}
