// Package fs implements the artifact store on the local filesystem. Keys
// map to paths under a fixed root; writes go through a temp file and a
// rename, so readers never observe partial objects.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrWong99/castforge/internal/artifact"
)

// Store is an artifact.Store rooted at a local directory.
type Store struct {
	root string
}

var _ artifact.Store = (*Store)(nil)

// New creates a filesystem store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("artifact: resolve root %q: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create root %q: %w", abs, err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute root directory of the store.
func (s *Store) Root() string {
	return s.root
}

// resolve maps a key (or a path previously returned by Put) to an absolute
// path under the root, rejecting anything that would escape it.
func (s *Store) resolve(key string) (string, error) {
	if filepath.IsAbs(key) {
		rel, err := filepath.Rel(s.root, key)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
			return "", fmt.Errorf("artifact: path %q is outside the store root", key)
		}
		key = filepath.ToSlash(rel)
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("artifact: invalid key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *Store) PutBytes(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifact: put %q: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return "", fmt.Errorf("artifact: put %q: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("artifact: put %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("artifact: put %q: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("artifact: put %q: %w", key, err)
	}
	return path, nil
}

func (s *Store) PutText(ctx context.Context, key, text, contentType string) (string, error) {
	return s.PutBytes(ctx, key, []byte(text), contentType)
}

func (s *Store) GetBytes(ctx context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", artifact.ErrNotFound, key)
		}
		return nil, fmt.Errorf("artifact: get %q: %w", key, err)
	}
	return data, nil
}

func (s *Store) GetText(ctx context.Context, key string) (string, error) {
	data, err := s.GetBytes(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %q", artifact.ErrNotFound, key)
		}
		return fmt.Errorf("artifact: delete %q: %w", key, err)
	}
	s.pruneEmptyDirs(filepath.Dir(path))
	return nil
}

// pruneEmptyDirs removes now-empty directories between dir and the root,
// so a fully cleaned task leaves no husk behind.
func (s *Store) pruneEmptyDirs(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: list %q: %w", prefix, err)
	}
	return keys, nil
}
