// Package osfs provides a WorkspaceStore over a local directory, used by
// the command-line build call site. Workspace paths map onto the directory
// root; normalization strips every ".." before the join, so lookups can
// never escape the root.
package osfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/previewkit/kiln/domain/modpath"
	"github.com/previewkit/kiln/ports"
)

// FileStore is a ports.WorkspaceStore rooted at an OS directory.
type FileStore struct {
	root string
}

// New creates a store rooted at dir, which must exist.
func New(dir string) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}
	return &FileStore{root: abs}, nil
}

// Root returns the absolute OS directory backing the store.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) osPath(path string) string {
	p := modpath.Normalize(path)
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(p, "/")))
}

// Read returns the file contents.
func (s *FileStore) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(s.osPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Stat describes a path.
func (s *FileStore) Stat(ctx context.Context, path string) (ports.FileInfo, error) {
	info, err := os.Stat(s.osPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ports.FileInfo{}, ports.ErrNotFound
		}
		return ports.FileInfo{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return ports.FileInfo{
		Path:    modpath.Normalize(path),
		Dir:     info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Write creates or replaces a file, creating parent directories as needed.
func (s *FileStore) Write(ctx context.Context, path string, data []byte) error {
	target := s.osPath(path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", path, err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Delete removes a file.
func (s *FileStore) Delete(ctx context.Context, path string) error {
	err := os.Remove(s.osPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ports.ErrNotFound
		}
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// List walks the subtree under prefix and returns regular files sorted by
// path (WalkDir visits lexically).
func (s *FileStore) List(ctx context.Context, prefix string) ([]ports.FileInfo, error) {
	base := s.osPath(prefix)
	var result []ports.FileInfo
	err := filepath.WalkDir(base, func(osPath string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, osPath)
		if err != nil {
			return err
		}
		result = append(result, ports.FileInfo{
			Path:    modpath.Normalize(filepath.ToSlash(rel)),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return result, nil
}

// Ensure interface compliance.
var _ ports.WorkspaceStore = (*FileStore)(nil)
