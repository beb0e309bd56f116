// Package modset holds the virtual module namespace: the in-memory snapshot
// of source files that arrives with a compile job. A Set is immutable once
// built, so a build in flight never observes edits racing in from the host.
package modset

import (
	"sort"

	"github.com/previewkit/kiln/domain/modpath"
)

// Record is one virtual module: a normalized absolute path and its source.
type Record struct {
	Path string
	Code string
}

// Set is a path-keyed module collection with directory knowledge derived
// from the file paths themselves.
type Set struct {
	files map[string]string
	dirs  map[string]bool
}

// New builds a Set from raw path->source pairs. Paths are normalized, so
// "src/App.tsx" and "/src/./App.tsx" land on the same key; later duplicates
// overwrite earlier ones.
func New(modules map[string]string) *Set {
	s := &Set{
		files: make(map[string]string, len(modules)),
		dirs:  map[string]bool{modpath.Root: true},
	}
	for path, code := range modules {
		p := modpath.Normalize(path)
		s.files[p] = code
		for dir := modpath.Dir(p); dir != modpath.Root; dir = modpath.Dir(dir) {
			s.dirs[dir] = true
		}
	}
	return s
}

// Lookup returns the source for a normalized path.
func (s *Set) Lookup(path string) (string, bool) {
	code, ok := s.files[modpath.Normalize(path)]
	return code, ok
}

// Has reports whether the exact file exists.
func (s *Set) Has(path string) bool {
	_, ok := s.files[modpath.Normalize(path)]
	return ok
}

// IsDir reports whether the path is an interior segment of any stored file.
func (s *Set) IsDir(path string) bool {
	return s.dirs[modpath.Normalize(path)]
}

// Len returns the number of files in the set.
func (s *Set) Len() int { return len(s.files) }

// Paths returns all file paths in sorted order.
func (s *Set) Paths() []string {
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Records returns all modules sorted by path.
func (s *Set) Records() []Record {
	records := make([]Record, 0, len(s.files))
	for _, p := range s.Paths() {
		records = append(records, Record{Path: p, Code: s.files[p]})
	}
	return records
}

// Snapshot returns a copy of the underlying path->source map.
func (s *Set) Snapshot() map[string]string {
	out := make(map[string]string, len(s.files))
	for p, code := range s.files {
		out[p] = code
	}
	return out
}
