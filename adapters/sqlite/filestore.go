package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/previewkit/kiln/domain/modpath"
	"github.com/previewkit/kiln/ports"
)

// FileStore implements ports.WorkspaceStore using SQLite.
type FileStore struct {
	db *DB
}

// NewFileStore creates a new workspace file store.
func NewFileStore(db *DB) *FileStore {
	return &FileStore{db: db}
}

// Read returns the file contents.
func (s *FileStore) Read(ctx context.Context, path string) ([]byte, error) {
	var content []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT content FROM files WHERE path = ?`,
		modpath.Normalize(path),
	).Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return content, nil
}

// Stat describes a path. A path that stores no file but prefixes stored
// files is reported as a directory.
func (s *FileStore) Stat(ctx context.Context, path string) (ports.FileInfo, error) {
	p := modpath.Normalize(path)

	var size int64
	var updatedAt string
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT size, updated_at FROM files WHERE path = ?`, p,
	).Scan(&size, &updatedAt)
	if err == nil {
		return ports.FileInfo{Path: p, Size: size, ModTime: parseTime(updatedAt)}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ports.FileInfo{}, fmt.Errorf("stat file: %w", err)
	}

	if p == modpath.Root {
		return ports.FileInfo{Path: p, Dir: true}, nil
	}
	var n int
	err = s.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM files WHERE path LIKE ? ESCAPE '\'`,
		likePrefix(p)+"/%",
	).Scan(&n)
	if err != nil {
		return ports.FileInfo{}, fmt.Errorf("stat dir: %w", err)
	}
	if n == 0 {
		return ports.FileInfo{}, ports.ErrNotFound
	}
	return ports.FileInfo{Path: p, Dir: true}, nil
}

// Write creates or replaces a file.
func (s *FileStore) Write(ctx context.Context, path string, data []byte) error {
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO files (path, content, size, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET
			content = excluded.content,
			size = excluded.size,
			updated_at = CURRENT_TIMESTAMP`,
		modpath.Normalize(path), data, len(data),
	)
	if err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Delete removes a file.
func (s *FileStore) Delete(ctx context.Context, path string) error {
	res, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM files WHERE path = ?`,
		modpath.Normalize(path),
	)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// List returns files under a directory prefix, sorted by path.
func (s *FileStore) List(ctx context.Context, prefix string) ([]ports.FileInfo, error) {
	p := modpath.Normalize(prefix)

	var rows *sql.Rows
	var err error
	if p == modpath.Root {
		rows, err = s.db.DB.QueryContext(ctx,
			`SELECT path, size, updated_at FROM files ORDER BY path`)
	} else {
		rows, err = s.db.DB.QueryContext(ctx,
			`SELECT path, size, updated_at FROM files
			WHERE path = ? OR path LIKE ? ESCAPE '\'
			ORDER BY path`,
			p, likePrefix(p)+"/%")
	}
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var result []ports.FileInfo
	for rows.Next() {
		var fi ports.FileInfo
		var updatedAt string
		if err := rows.Scan(&fi.Path, &fi.Size, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		fi.ModTime = parseTime(updatedAt)
		result = append(result, fi)
	}
	return result, rows.Err()
}

// likePrefix escapes LIKE metacharacters so stored paths containing % or _
// never widen a prefix match.
func likePrefix(p string) string {
	var out []byte
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, p[i])
	}
	return string(out)
}

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Ensure interface compliance.
var _ ports.WorkspaceStore = (*FileStore)(nil)
