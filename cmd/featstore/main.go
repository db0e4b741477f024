// featstore is the feature store command line tool.
//
// Subcommands:
//
//	store    store one feature record into a per-element store file
//	collect  merge per-element store files into a combined store
//	list     list stored features with their fingerprints
//	read     print one feature as a flat table
//	export   write one feature to a Parquet file
//	verify   re-check fingerprints and payload checksums
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xtxerr/featstore/internal/config"
	"github.com/xtxerr/featstore/internal/errors"
	"github.com/xtxerr/featstore/internal/kind"
	"github.com/xtxerr/featstore/internal/logging"
	"github.com/xtxerr/featstore/internal/meta"
	"github.com/xtxerr/featstore/internal/storage"
	"github.com/xtxerr/featstore/internal/storage/bolt"
	"github.com/xtxerr/featstore/internal/storage/collector"
	"github.com/xtxerr/featstore/internal/storage/duckdb"
	"github.com/xtxerr/featstore/internal/storage/export"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(errors.CodeInvalidRequest)
	}

	var err error
	switch os.Args[1] {
	case "store":
		err = runStore(os.Args[2:])
	case "collect":
		err = runCollect(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "read":
		err = runRead(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	case "version":
		fmt.Println("featstore", Version)
	default:
		usage()
		os.Exit(errors.CodeInvalidRequest)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "featstore:", err)
		os.Exit(errors.ErrorToCode(err))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: featstore <command> [flags]

commands:
  store    -input <file.json> [-store <file>] [-element k=v;...] [-policy insert|update|ignore]
  collect  [-target <file>] [-policy insert|update|ignore] [-no-preflight] <source>...
  list     -store <file>
  read     -store <file> (-name <name> | -digest <hex>)
  export   -store <file> (-name <name> | -digest <hex>) [-out <file.parquet>]
  verify   -store <file>
  version`)
}

// commonFlags holds flags every subcommand shares.
type commonFlags struct {
	cfgPath  string
	backend  string
	logLevel string
	logJSON  bool
}

func addCommon(fs *flag.FlagSet, cf *commonFlags) {
	fs.StringVar(&cf.cfgPath, "config", "config.yaml", "config file path")
	fs.StringVar(&cf.backend, "backend", "", "store format: duckdb or bolt (overrides config)")
	fs.StringVar(&cf.logLevel, "log-level", "", "log level (overrides config)")
	fs.BoolVar(&cf.logJSON, "log-json", false, "JSON log output")
}

// loadConfig loads the config file, falling back to defaults when the
// file does not exist, and applies CLI overrides.
func loadConfig(cf *commonFlags) (*config.Config, error) {
	cfg, err := config.Load(cf.cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			return nil, err
		}
	}

	if cf.backend != "" {
		cfg.Backend = cf.backend
	}
	if cf.logLevel != "" {
		cfg.Logging.Level = cf.logLevel
	}
	if cf.logJSON {
		cfg.Logging.JSON = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON)
	return cfg, nil
}

func openBackend(cfg *config.Config, path string) (storage.Backend, error) {
	switch cfg.Backend {
	case "bolt":
		return bolt.Open(path, cfg.Store.FileMode)
	default:
		return duckdb.Open(path)
	}
}

func parseSelector(name, digest string) (storage.Selector, error) {
	sel := storage.Selector{Name: name, Digest: meta.Digest(digest)}
	if err := sel.Validate(); err != nil {
		return storage.Selector{}, err
	}
	return sel, nil
}

// storeExt returns the store file extension for the configured backend.
func storeExt(cfg *config.Config) string {
	if cfg.Backend == "bolt" {
		return bolt.Ext
	}
	return duckdb.Ext
}

// =============================================================================
// store
// =============================================================================

// storeInput is the producer-facing input document: a metadata record
// plus a kind-tagged payload.
type storeInput struct {
	Metadata meta.Metadata   `json:"metadata"`
	Spec     kind.Spec       `json:"spec"`
	Data     json.RawMessage `json:"data"`
}

func runStore(args []string) error {
	fs := flag.NewFlagSet("store", flag.ExitOnError)
	var cf commonFlags
	addCommon(fs, &cf)
	input := fs.String("input", "", "input JSON file: {metadata, spec, data}")
	store := fs.String("store", "", "store file (defaults to the scoped per-element path)")
	element := fs.String("element", "", "element as k=v pairs joined by ; (defaults to metadata's element)")
	policy := fs.String("policy", "", "upsert policy (overrides config)")
	fs.Parse(args)

	cfg, err := loadConfig(&cf)
	if err != nil {
		return err
	}
	if *input == "" {
		return errors.Wrap(errors.ErrInvalidMetadata, "-input is required")
	}

	blob, err := os.ReadFile(*input)
	if err != nil {
		return errors.Wrapf(errors.ErrBackendIO, "read %s: %v", *input, err)
	}
	var in storeInput
	if err := json.Unmarshal(blob, &in); err != nil {
		return errors.Wrapf(errors.ErrInvalidMetadata, "parse %s: %v", *input, err)
	}

	var payload kind.Payload
	switch in.Spec.Kind.Rank() {
	case 1:
		var values []float64
		if err := json.Unmarshal(in.Data, &values); err != nil {
			return errors.Wrapf(errors.ErrShapeMismatch, "data: %v", err)
		}
		payload = kind.Payload1D(values)
	default:
		var values [][]float64
		if err := json.Unmarshal(in.Data, &values); err != nil {
			return errors.Wrapf(errors.ErrShapeMismatch, "data: %v", err)
		}
		payload = kind.Payload2D(values)
	}

	elem, err := resolveElement(*element, in.Metadata)
	if err != nil {
		return err
	}

	pol := cfg.Store.DefaultPolicy
	if *policy != "" {
		pol = *policy
	}
	parsed, err := storage.ParsePolicy(pol)
	if err != nil {
		return err
	}

	path := *store
	if path == "" {
		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}
		path = storage.ScopedPath(cfg.DataDir, cfg.Store.FilePrefix, elem, storeExt(cfg))
	}

	b, err := openBackend(cfg, path)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.Store(context.Background(), in.Metadata, in.Spec, payload, elem, parsed); err != nil {
		return err
	}

	digest, err := meta.Fingerprint(in.Metadata)
	if err != nil {
		return err
	}
	fmt.Printf("stored %s element %s in %s\n", digest.Short(), elem.Canonical(), path)
	return nil
}

// resolveElement takes the element from the -element flag when given,
// falling back to the element recorded in the metadata itself.
func resolveElement(flagValue string, m meta.Metadata) (meta.Element, error) {
	if flagValue != "" {
		return meta.ParseElement(flagValue)
	}
	if elem, ok := meta.ElementOf(m); ok {
		return elem, elem.Validate()
	}
	return nil, errors.Wrap(errors.ErrInvalidMetadata,
		"no -element given and metadata carries no element")
}

// =============================================================================
// collect
// =============================================================================

func runCollect(args []string) error {
	fs := flag.NewFlagSet("collect", flag.ExitOnError)
	var cf commonFlags
	addCommon(fs, &cf)
	target := fs.String("target", "", "combined store file to merge into (defaults to the configured data dir)")
	policy := fs.String("policy", "", "overlap policy (overrides config)")
	noPreflight := fs.Bool("no-preflight", false, "skip the source preflight")
	fs.Parse(args)

	cfg, err := loadConfig(&cf)
	if err != nil {
		return err
	}
	if *target == "" {
		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}
		*target = filepath.Join(cfg.DataDir, cfg.Store.FilePrefix+storeExt(cfg))
	}
	sources := fs.Args()
	if len(sources) == 0 {
		return errors.Wrap(errors.ErrInvalidMetadata, "at least one source is required")
	}

	pol := cfg.Collect.Policy
	if *policy != "" {
		pol = *policy
	}
	parsed, err := storage.ParsePolicy(pol)
	if err != nil {
		return err
	}

	tgt, err := openBackend(cfg, *target)
	if err != nil {
		return err
	}
	defer tgt.Close()

	c := collector.New(tgt, collector.Options{
		Open:      func(path string) (storage.Backend, error) { return openBackend(cfg, path) },
		Preflight: cfg.Collect.Preflight && !*noPreflight,
		Policy:    parsed,
	})

	res, err := c.Run(context.Background(), sources)
	if err != nil {
		return err
	}

	fmt.Printf("merged %d sources into %s: %d -> %d features in %s\n",
		len(res.Sources), *target, res.FeaturesBefore, res.FeaturesAfter, res.Elapsed.Round(0))
	return nil
}

// =============================================================================
// list
// =============================================================================

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	var cf commonFlags
	addCommon(fs, &cf)
	store := fs.String("store", "", "store file to list")
	long := fs.Bool("l", false, "include full metadata as JSON")
	fs.Parse(args)

	cfg, err := loadConfig(&cf)
	if err != nil {
		return err
	}
	if *store == "" {
		return errors.Wrap(errors.ErrInvalidMetadata, "-store is required")
	}

	b, err := openBackend(cfg, *store)
	if err != nil {
		return err
	}
	defer b.Close()

	features, err := b.ListFeatures(context.Background())
	if err != nil {
		return err
	}

	for _, digest := range sortedDigests(features) {
		m := features[digest]
		if *long {
			blob, err := json.Marshal(m)
			if err != nil {
				return errors.Wrap(errors.ErrBackendIO, err.Error())
			}
			fmt.Printf("%s\t%s\n", digest, blob)
		} else {
			fmt.Printf("%s\t%s\n", digest.Short(), m.Name())
		}
	}
	return nil
}

func sortedDigests(features map[meta.Digest]meta.Metadata) []meta.Digest {
	out := make([]meta.Digest, 0, len(features))
	for d := range features {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// read
// =============================================================================

func runRead(args []string) error {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	var cf commonFlags
	addCommon(fs, &cf)
	store := fs.String("store", "", "store file to read")
	name := fs.String("name", "", "feature name")
	digest := fs.String("digest", "", "feature fingerprint")
	fs.Parse(args)

	cfg, err := loadConfig(&cf)
	if err != nil {
		return err
	}
	if *store == "" {
		return errors.Wrap(errors.ErrInvalidMetadata, "-store is required")
	}
	sel, err := parseSelector(*name, *digest)
	if err != nil {
		return err
	}

	b, err := openBackend(cfg, *store)
	if err != nil {
		return err
	}
	defer b.Close()

	view, err := b.ReadTabular(context.Background(), sel)
	if err != nil {
		return err
	}
	printView(view)
	return nil
}

func printView(view *storage.TabularView) {
	fmt.Printf("# %s %s\n", view.Digest.Short(), view.Name)
	fmt.Println(strings.Join(view.ColumnNames(), "\t"))
	for _, r := range view.Rows {
		fields := make([]string, 0, len(view.ElementKeys)+1+len(r.Values))
		for _, k := range view.ElementKeys {
			fields = append(fields, r.Element[k])
		}
		if view.RowHeader != "" {
			fields = append(fields, r.RowLabel)
		}
		for _, v := range r.Values {
			fields = append(fields, fmt.Sprintf("%g", v))
		}
		fmt.Println(strings.Join(fields, "\t"))
	}
}

// =============================================================================
// export
// =============================================================================

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	var cf commonFlags
	addCommon(fs, &cf)
	store := fs.String("store", "", "store file to read")
	name := fs.String("name", "", "feature name")
	digest := fs.String("digest", "", "feature fingerprint")
	out := fs.String("out", "", "output Parquet file (defaults to the configured export dir)")
	fs.Parse(args)

	cfg, err := loadConfig(&cf)
	if err != nil {
		return err
	}
	if *store == "" {
		return errors.Wrap(errors.ErrInvalidMetadata, "-store is required")
	}
	sel, err := parseSelector(*name, *digest)
	if err != nil {
		return err
	}

	b, err := openBackend(cfg, *store)
	if err != nil {
		return err
	}
	defer b.Close()

	view, err := b.ReadTabular(context.Background(), sel)
	if err != nil {
		return err
	}
	if *out == "" {
		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}
		base := view.Name
		if base == "" {
			base = view.Digest.Short()
		}
		*out = filepath.Join(cfg.ExportDir(), base+export.Ext)
	}
	if err := export.WriteView(*out, view, export.ParseCompression(cfg.Export.Compression)); err != nil {
		return err
	}

	fmt.Printf("exported %s to %s\n", view.Name, *out)
	return nil
}

// =============================================================================
// verify
// =============================================================================

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	var cf commonFlags
	addCommon(fs, &cf)
	store := fs.String("store", "", "store file to verify")
	fs.Parse(args)

	cfg, err := loadConfig(&cf)
	if err != nil {
		return err
	}
	if *store == "" {
		return errors.Wrap(errors.ErrInvalidMetadata, "-store is required")
	}

	b, err := openBackend(cfg, *store)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx := context.Background()

	// Bolt carries payload checksums and has a dedicated sweep; for the
	// relational backend a full read of every feature re-verifies the
	// fingerprints.
	if v, ok := b.(interface {
		Verify(context.Context) (int, error)
	}); ok {
		n, err := v.Verify(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d records verified\n", *store, n)
		return nil
	}

	features, err := b.ListFeatures(ctx)
	if err != nil {
		return err
	}
	records := 0
	for _, digest := range sortedDigests(features) {
		f, err := b.Read(ctx, storage.ByDigest(digest))
		if err != nil {
			return err
		}
		records += len(f.Elements)
	}
	fmt.Printf("%s: %d records verified\n", *store, records)
	return nil
}
