package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
)

// localStore writes blobs under a root directory. Keys map to relative
// paths; anything escaping the root is rejected.
type localStore struct {
	log  *logger.Logger
	root string
}

func NewLocalStore(root string, log *logger.Logger) (Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("local blob store: root directory required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("local blob store: create root: %w", err)
	}
	return &localStore{
		log:  log.With("client", "LocalBlobStore"),
		root: root,
	}, nil
}

func (s *localStore) path(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.root, cleaned), nil
}

func (s *localStore) Put(_ context.Context, key string, r io.Reader) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("write blob %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close blob %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("finalize blob %q: %w", key, err)
	}
	return nil
}

func (s *localStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open blob %q: %w", key, err)
	}
	return f, nil
}

func (s *localStore) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %q: %w", key, err)
	}
	return nil
}
