// Package build defines the value types shared across the compile pipeline:
// compile jobs, per-specifier resolutions, loaded module payloads, and build
// outcomes. These are plain immutable values; all behavior lives in the
// resolver and orchestrator services.
package build

import (
	"fmt"
	"strings"
	"time"
)

// Namespace identifies which module space a resolved path belongs to.
// The engine routes each load callback by namespace, so a single path string
// can name different content in different spaces.
type Namespace string

const (
	NamespaceVirtual  Namespace = "virtual"  // in-memory module set submitted with the job
	NamespacePhysical Namespace = "physical" // persistent workspace store
	NamespaceShim     Namespace = "shim"     // synthetic runtime bridge modules
)

// Loader tells the engine how to interpret module contents.
type Loader string

const (
	LoaderJS   Loader = "js"
	LoaderJSX  Loader = "jsx"
	LoaderTS   Loader = "ts"
	LoaderTSX  Loader = "tsx"
	LoaderJSON Loader = "json"
	LoaderCSS  Loader = "css"
)

// LoaderForPath picks a loader from the path's extension.
// Unknown extensions fall back to plain JS; the engine reports its own
// syntax errors downstream, which keeps loads permissive.
func LoaderForPath(path string) Loader {
	idx := strings.LastIndex(path, ".")
	if idx < 0 || idx < strings.LastIndex(path, "/") {
		return LoaderJS
	}
	switch path[idx:] {
	case ".ts":
		return LoaderTS
	case ".tsx":
		return LoaderTSX
	case ".jsx":
		return LoaderJSX
	case ".json":
		return LoaderJSON
	case ".css":
		return LoaderCSS
	case ".mjs", ".cjs", ".js":
		return LoaderJS
	default:
		return LoaderJS
	}
}

// Resolution is the outcome of resolving one import specifier.
// External resolutions are passed through untouched by the engine; everything
// else is loaded from the namespace named here.
type Resolution struct {
	Path      string
	Namespace Namespace
	External  bool
}

// LoadedModule is the payload handed to the engine for one resolved path.
type LoadedModule struct {
	Contents   string
	Loader     Loader
	ResolveDir string // importer directory for specifiers inside Contents
}

// Options are the per-job compile knobs supplied by the host (or CLI flags).
type Options struct {
	Target      string // e.g. "es2020"
	Minify      bool
	Development bool // development JSX runtime, no minification of names
}

// CompileJob is one requested build: a snapshot of the virtual module set
// plus options. Jobs are immutable once submitted; a newer job supersedes
// any queued one.
type CompileJob struct {
	ID          string
	Modules     map[string]string // normalized path -> source text
	Options     Options
	SubmittedAt time.Time
}

// ResolutionStats counts resolver outcomes across one build.
type ResolutionStats struct {
	Virtual  int64
	Physical int64
	Shim     int64
	External int64
	Misses   int64
}

// Stats carries per-build bookkeeping surfaced to logs and metrics.
type Stats struct {
	Modules     int
	JSBytes     int
	CSSBytes    int
	Duration    time.Duration
	Resolutions ResolutionStats
}

// Result is a completed build: the assembled document plus its parts.
// Fingerprint is a content hash of HTML, so identical inputs can be verified
// to produce identical output.
type Result struct {
	JobID       string
	EntryPoint  string
	HTML        string
	JS          string
	CSS         string
	Fingerprint string
	Imports     map[string][]string // module -> imported modules, from the engine metafile
	Stats       Stats
}

// Error is a structured build failure suitable for display inside the
// preview surface. It satisfies the error interface so services can wrap it.
type Error struct {
	Title   string
	Message string
	File    string
	Line    int
	Column  int
}

func (e *Error) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s (%s:%d:%d)", e.Title, e.Message, e.File, e.Line, e.Column)
	}
	return fmt.Sprintf("%s: %s", e.Title, e.Message)
}

// Errf constructs a build Error with a formatted message and no location.
func Errf(title, format string, args ...any) *Error {
	return &Error{Title: title, Message: fmt.Sprintf(format, args...)}
}
