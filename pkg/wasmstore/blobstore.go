package wasmstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FilesystemBlobStore implements BlobStore over a local directory, in the
// same os.MkdirAll/os.WriteFile/os.ReadFile style the BLS key manager uses
// to persist key material to disk.
type FilesystemBlobStore struct {
	dir string
}

// NewFilesystemBlobStore builds a FilesystemBlobStore rooted at dir, creating
// it if necessary.
func NewFilesystemBlobStore(dir string) (*FilesystemBlobStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create wasm blob directory %s: %w", dir, err)
	}
	return &FilesystemBlobStore{dir: dir}, nil
}

func (f *FilesystemBlobStore) Put(ctx context.Context, key string, data []byte) error {
	path := filepath.Join(f.dir, filepath.Base(key))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write wasm blob %s: %w", key, err)
	}
	return nil
}

func (f *FilesystemBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	path := filepath.Join(f.dir, filepath.Base(key))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wasm blob %s: %w", key, err)
	}
	return data, nil
}
