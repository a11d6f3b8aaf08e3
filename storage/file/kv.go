package filekv

import (
	"context"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"

	"github.com/trezcool/planner/core"
)

var validKey = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Store keeps one JSON file per key under dir, written atomically.
type Store struct {
	dir string
}

var _ core.KeyValueStore = (*Store)(nil) // interface compliance check

func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating storage directory")
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(key string) (string, error) {
	if !validKey.MatchString(key) || key == "." || key == ".." {
		return "", errors.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrKeyNotFound
		}
		return nil, errors.Wrap(err, "reading "+path)
	}
	return data, nil
}

// Set writes to a temp file in the same directory and renames it over the destination.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }() // no-op once renamed

	if _, err = tmp.Write(value); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "writing temp file")
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "syncing temp file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temp file")
	}
	if err = os.Chmod(tmpPath, 0o644); err != nil {
		return errors.Wrap(err, "setting file mode")
	}
	return errors.Wrap(os.Rename(tmpPath, path), "renaming temp file")
}
