package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rexliu/bctl/pkg/config"
)

// Store persists the peerId to session id map.
type Store interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, m map[string]string) error
	Close() error
}

// OpenStore selects the backend named in cfg.
func OpenStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case "", "json":
		return NewFileStore(cfg.SessionMapPath()), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.SessionMapPath())
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Store.Backend)
	}
}

// FileStore keeps the map as one JSON object on disk.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the map. A missing file yields an empty map.
func (s *FileStore) Load(context.Context) (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return map[string]string{}, err
	}
	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]string{}, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if m == nil {
		// a literal null decodes without error but leaves no map
		return map[string]string{}, fmt.Errorf("parse %s: session map is null", s.path)
	}
	return m, nil
}

// Save replaces the file atomically with owner-only permissions.
func (s *FileStore) Save(_ context.Context, m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".sessions-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
