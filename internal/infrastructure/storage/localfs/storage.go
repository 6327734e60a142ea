package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

// Storage keeps raw submissions under basePath. Keys may contain "/" and map
// to nested directories.
type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/storage"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{basePath: basePath}, nil
}

func (s *Storage) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", domain.WrapError(domain.ErrInvalidInput, "resolve storage key", fmt.Errorf("key %q escapes storage root", key))
	}
	return filepath.Join(s.basePath, clean), nil
}

// Save writes to a temp file first so a crashed write never leaves a
// truncated object under the final key.
func (s *Storage) Save(_ context.Context, key string, data io.Reader) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domain.WrapError(domain.ErrStorageUnavailable, "create object dir", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return domain.WrapError(domain.ErrStorageUnavailable, "create file", err)
	}
	tmp := f.Name()
	defer func() {
		_ = os.Remove(tmp)
	}()

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		return domain.WrapError(domain.ErrStorageUnavailable, "write file", err)
	}
	if err := f.Close(); err != nil {
		return domain.WrapError(domain.ErrStorageUnavailable, "close file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return domain.WrapError(domain.ErrStorageUnavailable, "commit file", err)
	}
	return nil
}

func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrEntryNotFound, "open file", err)
		}
		return nil, domain.WrapError(domain.ErrStorageUnavailable, "open file", err)
	}
	return f, nil
}
