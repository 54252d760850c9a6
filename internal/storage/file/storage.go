package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aliskhannn/thumbnailer/internal/storage"
)

// chunkSize bounds how much of a blob is held in memory while copying.
const chunkSize = 1 << 20

// Storage provides a simple file-based storage backend.
// It stores every blob as a single file directly under basePath.
//
// Writes go to a temporary file in the same directory and are renamed into
// place only once fully flushed, so readers never observe a partial blob.
type Storage struct {
	basePath string
}

// NewStorage creates a new Storage rooted at basePath, creating the directory
// if needed.
func NewStorage(basePath string) (*Storage, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}

	return &Storage{basePath: basePath}, nil
}

// Save streams src into the blob at key, replacing any previous content
// atomically. At most size bytes are read when size is non-negative.
func (s *Storage) Save(ctx context.Context, key string, src io.Reader, size int64, _ string) error {
	dst, err := s.path(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.basePath, "."+key+".*.tmp")
	if err != nil {
		return fmt.Errorf("storage: create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	// The temp file is removed on any failure below; after a successful
	// rename this is a no-op.
	defer os.Remove(tmpName)

	if size >= 0 {
		src = io.LimitReader(src, size)
	}

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(tmp, &ctxReader{ctx: ctx, r: src}, buf); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: write %s: %w", key, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: sync %s: %w", key, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", key, err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("storage: publish %s: %w", key, err)
	}

	return nil
}

// Open opens the blob at key for reading.
func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("storage: open %s: %w", key, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("storage: open %s: %w", key, err)
	}

	return f, nil
}

// Delete removes the blob at key.
func (s *Storage) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("storage: delete %s: %w", key, storage.ErrNotFound)
		}

		return fmt.Errorf("storage: delete %s: %w", key, err)
	}

	return nil
}

// Ping checks that the storage root is still a reachable directory.
func (s *Storage) Ping(_ context.Context) error {
	info, err := os.Stat(s.basePath)
	if err != nil {
		return fmt.Errorf("storage: stat base path: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("storage: %s is not a directory", s.basePath)
	}

	return nil
}

// path maps key to a file under basePath. Keys must be a single path element.
func (s *Storage) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}

	return filepath.Join(s.basePath, key), nil
}

// ctxReader stops a copy as soon as ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}

	return r.r.Read(p)
}
