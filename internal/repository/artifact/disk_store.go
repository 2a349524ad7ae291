package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DiskStore persists objects under a local root directory by namespace/name.
// Writes go through a temp file and rename so readers never observe a
// partially written object.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: strings.TrimSpace(root)}
}

func (s *DiskStore) Put(_ context.Context, namespace, name string, content []byte) error {
	fullPath, err := s.pathFor(namespace, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".put-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), fullPath)
}

func (s *DiskStore) Get(_ context.Context, namespace, name string) ([]byte, error) {
	fullPath, err := s.pathFor(namespace, name)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return raw, err
}

func (s *DiskStore) GetURL(_ context.Context, _, _ string) (string, error) {
	return "", nil
}

func (s *DiskStore) List(_ context.Context, namespace string) ([]string, error) {
	nsRoot, err := s.namespaceRoot(namespace)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, 32)
	walkErr := filepath.WalkDir(nsRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(nsRoot, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if walkErr != nil {
		if os.IsNotExist(walkErr) {
			return []string{}, nil
		}
		return nil, walkErr
	}
	sort.Strings(names)
	return names, nil
}

func (s *DiskStore) namespaceRoot(namespace string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("store is nil")
	}
	root := strings.TrimSpace(s.root)
	if root == "" {
		return "", fmt.Errorf("root is required")
	}
	namespace, err := normalizeNamespace(namespace)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, namespace), nil
}

func (s *DiskStore) pathFor(namespace, name string) (string, error) {
	if _, _, err := normalize(namespace, name); err != nil {
		return "", err
	}
	nsRoot, err := s.namespaceRoot(namespace)
	if err != nil {
		return "", err
	}
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	return filepath.Join(nsRoot, filepath.FromSlash(name)), nil
}
