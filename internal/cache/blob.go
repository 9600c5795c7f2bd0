package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrBlobNotFound is returned by BlobStore.Get when no object exists at the
// given path.
var ErrBlobNotFound = eris.New("blob not found")

// BlobStore is the cold tier: a flat object store holding the static-field
// documents that never expire.
type BlobStore interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte) error
}

// FSBlobStore stores blobs under a root directory on the local filesystem.
type FSBlobStore struct {
	root string
}

// NewFSBlobStore creates a filesystem blob store rooted at dir.
func NewFSBlobStore(dir string) *FSBlobStore {
	return &FSBlobStore{root: dir}
}

func (s *FSBlobStore) Get(_ context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, eris.Wrapf(err, "blob: read %s", path)
	}
	return data, nil
}

func (s *FSBlobStore) Put(_ context.Context, path string, data []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return eris.Wrapf(err, "blob: mkdir for %s", path)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return eris.Wrapf(err, "blob: write %s", path)
	}
	return nil
}

// resolve joins path under root and rejects traversal outside it.
func (s *FSBlobStore) resolve(path string) (string, error) {
	if strings.Contains(path, "..") {
		return "", eris.Errorf("blob: invalid path %s", path)
	}
	return filepath.Join(s.root, filepath.Clean("/"+path)), nil
}
