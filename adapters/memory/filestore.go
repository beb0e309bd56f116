// Package memory provides in-memory adapter implementations, used for tests
// and for ephemeral serve mode where no workspace should outlive the process.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/previewkit/kiln/domain/modpath"
	"github.com/previewkit/kiln/ports"
)

// FileStore is an in-memory implementation of ports.WorkspaceStore.
type FileStore struct {
	mu    sync.RWMutex
	files map[string]entry // by normalized path
}

type entry struct {
	data    []byte
	modTime time.Time
}

// NewFileStore creates a new in-memory workspace store.
func NewFileStore() *FileStore {
	return &FileStore{
		files: make(map[string]entry),
	}
}

// Read returns the file contents.
func (s *FileStore) Read(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.files[modpath.Normalize(path)]
	if !ok {
		return nil, ports.ErrNotFound
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

// Stat describes a path; interior segments of stored files are directories.
func (s *FileStore) Stat(ctx context.Context, path string) (ports.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := modpath.Normalize(path)
	if e, ok := s.files[p]; ok {
		return ports.FileInfo{Path: p, Size: int64(len(e.data)), ModTime: e.modTime}, nil
	}
	if p == modpath.Root {
		return ports.FileInfo{Path: p, Dir: true}, nil
	}
	for stored := range s.files {
		if strings.HasPrefix(stored, p+"/") {
			return ports.FileInfo{Path: p, Dir: true}, nil
		}
	}
	return ports.FileInfo{}, ports.ErrNotFound
}

// Write creates or replaces a file.
func (s *FileStore) Write(ctx context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	s.files[modpath.Normalize(path)] = entry{data: stored, modTime: time.Now()}
	return nil
}

// Delete removes a file.
func (s *FileStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := modpath.Normalize(path)
	if _, ok := s.files[p]; !ok {
		return ports.ErrNotFound
	}
	delete(s.files, p)
	return nil
}

// List returns files under a directory prefix, sorted by path.
func (s *FileStore) List(ctx context.Context, prefix string) ([]ports.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := modpath.Normalize(prefix)
	var result []ports.FileInfo
	for path, e := range s.files {
		if p == modpath.Root || path == p || strings.HasPrefix(path, p+"/") {
			result = append(result, ports.FileInfo{
				Path:    path,
				Size:    int64(len(e.data)),
				ModTime: e.modTime,
			})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

// Clear removes all files (for testing).
func (s *FileStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = make(map[string]entry)
}

// Ensure interface compliance.
var _ ports.WorkspaceStore = (*FileStore)(nil)
