package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore is a durable Store backed by one file per key. The conditional
// create maps onto O_CREATE|O_EXCL, which the filesystem guarantees to be
// atomic, so records survive process restarts and the at-most-once property
// holds across gateway instances sharing the directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("dedup: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dedup: creating %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key Key) string {
	sum := sha256.Sum256([]byte(key.String()))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:]))
}

func (s *FileStore) CreateIfAbsent(_ context.Context, key Key, value string) (CreateResult, error) {
	f, err := os.OpenFile(s.path(key), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return Conflict, nil
	}
	if err != nil {
		return 0, fmt.Errorf("dedup: creating record for %s: %w", key, err)
	}
	defer f.Close()
	if _, err := f.WriteString(value); err != nil {
		return 0, fmt.Errorf("dedup: writing record for %s: %w", key, err)
	}
	return Created, nil
}

func (s *FileStore) Delete(_ context.Context, keys []Key) error {
	for _, k := range keys {
		if err := os.Remove(s.path(k)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("dedup: removing record for %s: %w", k, err)
		}
	}
	return nil
}
