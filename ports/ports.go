// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/previewkit/kiln/domain/build"
)

// ErrNotFound is returned by stores when a path names no stored file.
// Callers distinguish "absent" from real store failures through it.
var ErrNotFound = errors.New("file not found")

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Workspace Ports
// -----------------------------------------------------------------------------

// FileInfo describes one stored path.
type FileInfo struct {
	Path    string
	Dir     bool
	Size    int64
	ModTime time.Time
}

// FileReader is the read-only view the resolver takes of the physical
// namespace. Paths are normalized absolute strings.
type FileReader interface {
	// Read returns the file contents, or ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)

	// Stat describes a path. A path that is no stored file but a prefix of
	// stored files is reported as a directory.
	Stat(ctx context.Context, path string) (FileInfo, error)
}

// WorkspaceStore persists workspace files (the physical namespace).
type WorkspaceStore interface {
	FileReader

	// Write creates or replaces a file.
	Write(ctx context.Context, path string, data []byte) error

	// Delete removes a file. Deleting an absent path returns ErrNotFound.
	Delete(ctx context.Context, path string) error

	// List returns files under a directory prefix, sorted by path.
	// The root prefix "/" lists everything.
	List(ctx context.Context, prefix string) ([]FileInfo, error)
}

// -----------------------------------------------------------------------------
// Build Engine Port
// -----------------------------------------------------------------------------

// ResolveFunc answers one resolve callback from the engine: which artifact
// does this specifier, imported from this directory, refer to.
type ResolveFunc func(ctx context.Context, specifier, importerDir string) (build.Resolution, error)

// LoadFunc answers one load callback: the contents for a previously
// resolved path in the given namespace.
type LoadFunc func(ctx context.Context, path string, namespace build.Namespace) (build.LoadedModule, error)

// EngineInput is one engine invocation: the entry module plus the two
// callbacks that answer every resolve/load the engine issues while walking
// the import graph. The entry point is resolved through Resolve like any
// other absolute specifier, with the root as its importer directory.
type EngineInput struct {
	EntryPoint string
	Options    build.Options
	Resolve    ResolveFunc
	Load       LoadFunc
}

// EngineOutput is the produced text partitioned by kind, plus the import
// adjacency recovered from the engine's metadata.
type EngineOutput struct {
	JS      string
	CSS     string
	Imports map[string][]string
}

// Engine executes the actual transform/bundle. Implementations never see
// either namespace directly; everything flows through the callbacks.
type Engine interface {
	// Build bundles from the entry point. Per-build compile failures are
	// returned as *build.Error so they can be reported to the host without
	// taking the process down.
	Build(ctx context.Context, in EngineInput) (EngineOutput, error)
}
