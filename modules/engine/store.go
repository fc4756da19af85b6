package engine

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Store persists the engine configuration.
type Store interface {
	Load() (Config, error)
	Save(Config) error
}

// FileStore keeps the configuration in a yaml file. Load on a missing file
// returns an error satisfying os.IsNotExist.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (Config, error) {
	cfg := DefaultConfig()

	buf, err := os.ReadFile(s.path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.UnmarshalStrict(buf, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse %s", s.path)
	}

	return cfg, nil
}

// Save writes through a temporary file so a crash never leaves a partial
// file behind.
func (s *FileStore) Save(cfg Config) error {
	buf, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create state directory")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "failed to write state")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "failed to write state")
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "failed to commit state")
	}

	return nil
}
