// Package local archives items as files under a base directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/JakeFAU/listcrawler/internal/storage"
)

// Config captures the parameters for the local archive.
type Config struct {
	// BaseDir is the archive root. It is created if missing.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store writes archive objects beneath BaseDir. All file access goes
// through an os.Root, so no key can reach outside the directory.
type Store struct {
	dir  string
	root *os.Root
	seq  atomic.Uint64
}

// New opens the archive root, creating it when needed.
func New(cfg Config) (*Store, error) {
	dir := strings.TrimSpace(cfg.BaseDir)
	if dir == "" {
		return nil, errors.New("base directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open base directory: %w", err)
	}
	return &Store{dir: dir, root: root}, nil
}

// PutObject writes obj.Body to its key and returns a file:// URI. The file
// appears atomically; readers never see a partial archive.
func (s *Store) PutObject(_ context.Context, obj storage.Object) (string, error) {
	if err := storage.ValidateKey(obj.Key); err != nil {
		return "", err
	}
	name := filepath.FromSlash(obj.Key)
	if dir := filepath.Dir(name); dir != "." {
		if err := s.root.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("create %s: %w", dir, err)
		}
	}

	tmp := fmt.Sprintf("%s.%d.tmp", name, s.seq.Add(1))
	if err := s.root.WriteFile(tmp, obj.Body, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", obj.Key, err)
	}
	if err := s.root.Rename(tmp, name); err != nil {
		_ = s.root.Remove(tmp)
		return "", fmt.Errorf("commit %s: %w", obj.Key, err)
	}
	return "file://" + filepath.Join(s.dir, name), nil
}

// ReadObject returns the archived bytes stored under key.
func (s *Store) ReadObject(key string) ([]byte, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := s.root.ReadFile(filepath.FromSlash(key))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Close releases the directory handle.
func (s *Store) Close() error {
	return s.root.Close()
}
