package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/previewkit/kiln/domain/build"
	"github.com/previewkit/kiln/domain/manifest"
	"github.com/previewkit/kiln/domain/modpath"
	"github.com/previewkit/kiln/domain/modset"
	"github.com/previewkit/kiln/domain/shim"
	"github.com/previewkit/kiln/ports"
	"github.com/rs/zerolog"
)

// Extension completion order for paths resolved without one, and the index
// filenames probed when a path names a directory. Both lists are ordered;
// the first hit wins.
var (
	extOrder   = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".json", ".css"}
	indexOrder = []string{"index.tsx", "index.ts", "index.jsx", "index.js", "index.mjs", "index.cjs"}
)

// ResolverConfig contains configuration for Resolver.
type ResolverConfig struct {
	VirtualRoot string // bare-package root inside the virtual namespace
	LibraryRoot string // bare-package root inside the physical namespace
}

// Resolver maps import specifiers onto the two module namespaces: the
// virtual set submitted with the job, consulted in full first, then the
// physical workspace store. Its Resolve and Load methods satisfy
// ports.ResolveFunc and ports.LoadFunc and are safe for the concurrent
// callbacks the engine issues while walking the import graph.
//
// A Resolver is built per job: the virtual set is a snapshot, and physical
// records are fetched lazily and never cached across builds.
type Resolver struct {
	set    *modset.Set
	files  ports.FileReader
	logger zerolog.Logger

	virtualRoot string
	libraryRoot string

	virtual  atomic.Int64
	physical atomic.Int64
	shims    atomic.Int64
	external atomic.Int64
	misses   atomic.Int64
}

// NewResolver creates a resolver over one virtual module set and one
// physical store.
func NewResolver(set *modset.Set, files ports.FileReader, logger zerolog.Logger, cfg ResolverConfig) *Resolver {
	if cfg.VirtualRoot == "" {
		cfg.VirtualRoot = "/node_modules"
	}
	if cfg.LibraryRoot == "" {
		cfg.LibraryRoot = "/lib"
	}

	return &Resolver{
		set:         set,
		files:       files,
		logger:      logger.With().Str("service", "resolver").Logger(),
		virtualRoot: modpath.Normalize(cfg.VirtualRoot),
		libraryRoot: modpath.Normalize(cfg.LibraryRoot),
	}
}

// Resolve maps one specifier, imported from importerDir, to a resolution.
// It never fails: specifiers that match nothing come back either external
// (bare, pass-through) or in the virtual namespace so the load step reports
// a file-not-found attributed to the importer.
func (r *Resolver) Resolve(ctx context.Context, specifier, importerDir string) (build.Resolution, error) {
	switch modpath.Classify(specifier) {
	case modpath.KindURL:
		r.external.Add(1)
		return build.Resolution{Path: specifier, External: true}, nil

	case modpath.KindRelative, modpath.KindAbsolute:
		return r.resolvePath(ctx, modpath.Join(importerDir, specifier)), nil

	default:
		return r.resolveBare(ctx, specifier), nil
	}
}

// resolvePath resolves an already-normalized absolute path: the virtual
// namespace in full (exact, extensions, indexes), then the physical one.
func (r *Resolver) resolvePath(ctx context.Context, path string) build.Resolution {
	if hit, ok := r.searchVirtual(path); ok {
		r.virtual.Add(1)
		return build.Resolution{Path: hit, Namespace: build.NamespaceVirtual}
	}
	if hit, ok := r.searchPhysical(ctx, path); ok {
		r.physical.Add(1)
		return build.Resolution{Path: hit, Namespace: build.NamespacePhysical}
	}

	// Matched nothing. Keep the virtual namespace so the load step can fail
	// with a not-found against the right importer instead of aborting the
	// whole resolve pass.
	r.misses.Add(1)
	return build.Resolution{Path: path, Namespace: build.NamespaceVirtual}
}

// resolveBare resolves a bare package specifier: a package root under the
// virtual convention path, then under the physical one, with the manifest
// of the winning root choosing the entry file. Roots found in neither
// namespace fall back to the shim table, then to external pass-through.
func (r *Resolver) resolveBare(ctx context.Context, specifier string) build.Resolution {
	pkg, subpath := modpath.SplitBare(specifier)

	vroot := modpath.Join(r.virtualRoot, pkg)
	if r.set.IsDir(vroot) {
		r.virtual.Add(1)
		return r.packageEntry(ctx, vroot, subpath, build.NamespaceVirtual)
	}

	proot := modpath.Join(r.libraryRoot, pkg)
	if info, err := r.files.Stat(ctx, proot); err == nil && info.Dir {
		r.physical.Add(1)
		return r.packageEntry(ctx, proot, subpath, build.NamespacePhysical)
	}

	if shim.Has(specifier) {
		r.shims.Add(1)
		return build.Resolution{Path: specifier, Namespace: build.NamespaceShim}
	}

	// Unknown bare packages pass through unresolved so CDN-provided globals
	// stay no-ops instead of hard failures.
	r.logger.Debug().Str("specifier", specifier).Msg("bare specifier passed through as external")
	r.external.Add(1)
	return build.Resolution{Path: specifier, External: true}
}

// packageEntry turns a package root plus subpath into a concrete module
// path inside ns. The root's manifest picks the entry; an absent or
// malformed manifest is an empty one. Once a root is chosen the resolution
// commits to its namespace, even when the entry search misses.
func (r *Resolver) packageEntry(ctx context.Context, root, subpath string, ns build.Namespace) build.Resolution {
	var m manifest.Manifest
	if data, ok := r.readFrom(ctx, root+"/package.json", ns); ok {
		m = manifest.Parse(data)
	}

	entry := modpath.Join(root, strings.TrimPrefix(m.Entry(subpath), "/"))

	var hit string
	var ok bool
	if ns == build.NamespaceVirtual {
		hit, ok = r.searchVirtual(entry)
	} else {
		hit, ok = r.searchPhysical(ctx, entry)
	}
	if !ok {
		return build.Resolution{Path: entry, Namespace: ns}
	}
	return build.Resolution{Path: hit, Namespace: ns}
}

// searchVirtual runs the exact, extension, index search against the
// virtual set.
func (r *Resolver) searchVirtual(path string) (string, bool) {
	if r.set.Has(path) {
		return path, true
	}
	for _, ext := range extOrder {
		if r.set.Has(path + ext) {
			return path + ext, true
		}
	}
	if r.set.IsDir(path) {
		for _, name := range indexOrder {
			if p := path + "/" + name; r.set.Has(p) {
				return p, true
			}
		}
	}
	return "", false
}

// searchPhysical runs the same search against the workspace store.
func (r *Resolver) searchPhysical(ctx context.Context, path string) (string, bool) {
	info, statErr := r.files.Stat(ctx, path)
	if statErr == nil && !info.Dir {
		return path, true
	}
	for _, ext := range extOrder {
		p := path + ext
		if fi, err := r.files.Stat(ctx, p); err == nil && !fi.Dir {
			return p, true
		}
	}
	if statErr == nil && info.Dir {
		for _, name := range indexOrder {
			p := path + "/" + name
			if fi, err := r.files.Stat(ctx, p); err == nil && !fi.Dir {
				return p, true
			}
		}
	}
	return "", false
}

// Load returns the contents for a previously resolved path. Virtual misses
// and physical read failures wrap ports.ErrNotFound, which the engine
// surfaces as a load-time error on the importing module.
func (r *Resolver) Load(ctx context.Context, path string, namespace build.Namespace) (build.LoadedModule, error) {
	switch namespace {
	case build.NamespaceShim:
		body, ok := shim.Lookup(path)
		if !ok {
			return build.LoadedModule{}, fmt.Errorf("no shim for %q: %w", path, ports.ErrNotFound)
		}
		return build.LoadedModule{
			Contents:   body,
			Loader:     build.LoaderJS,
			ResolveDir: modpath.Root,
		}, nil

	case build.NamespacePhysical:
		data, err := r.files.Read(ctx, path)
		if err != nil {
			return build.LoadedModule{}, fmt.Errorf("read %s: %w", path, err)
		}
		return build.LoadedModule{
			Contents:   string(data),
			Loader:     build.LoaderForPath(path),
			ResolveDir: modpath.Dir(path),
		}, nil

	default:
		code, ok := r.set.Lookup(path)
		if !ok {
			return build.LoadedModule{}, fmt.Errorf("%s: %w", path, ports.ErrNotFound)
		}
		return build.LoadedModule{
			Contents:   code,
			Loader:     build.LoaderForPath(path),
			ResolveDir: modpath.Dir(path),
		}, nil
	}
}

// readFrom reads one path out of the namespace a resolution committed to.
func (r *Resolver) readFrom(ctx context.Context, path string, ns build.Namespace) ([]byte, bool) {
	if ns == build.NamespaceVirtual {
		code, ok := r.set.Lookup(path)
		if !ok {
			return nil, false
		}
		return []byte(code), true
	}
	data, err := r.files.Read(ctx, path)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Counts reports resolver outcomes accumulated so far.
func (r *Resolver) Counts() build.ResolutionStats {
	return build.ResolutionStats{
		Virtual:  r.virtual.Load(),
		Physical: r.physical.Load(),
		Shim:     r.shims.Load(),
		External: r.external.Load(),
		Misses:   r.misses.Load(),
	}
}
