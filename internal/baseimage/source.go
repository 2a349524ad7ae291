package baseimage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bootseq/internal/layer"
	artifactrepo "bootseq/internal/repository/artifact"
	"bootseq/internal/worktree"
)

// ErrNotFound is returned when a source has no runtime for a ref.
var ErrNotFound = errors.New("base runtime not found")

// Source stages a base runtime into dest. dest is created by the caller and
// is empty.
type Source interface {
	Fetch(ctx context.Context, ref Ref, dest string) error
}

// DirSource serves runtimes unpacked under Root/<name>/<tag>.
type DirSource struct {
	Root string
}

func (s DirSource) Fetch(ctx context.Context, ref Ref, dest string) error {
	root := strings.TrimSpace(s.Root)
	if root == "" {
		return fmt.Errorf("runtimes directory is not configured")
	}
	src := filepath.Join(root, filepath.FromSlash(ref.Name), ref.key())
	info, err := os.Stat(src)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %s is not a directory", ref, src)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if ref.Digest != "" {
		_, desc, err := layer.Encode(src, "")
		if err != nil {
			return err
		}
		if desc.Digest != ref.Digest {
			return fmt.Errorf("%s: content digest is %s", ref, desc.Digest)
		}
	}
	if _, err := worktree.Materialize(src, dest, worktree.Options{IgnoreFile: "-"}); err != nil {
		return fmt.Errorf("stage %s: %w", ref, err)
	}
	return nil
}

// StoreSource serves runtimes pushed into the runtimes namespace of an
// artifact store as encoded layers.
type StoreSource struct {
	Store artifactrepo.Store
}

func (s StoreSource) Fetch(ctx context.Context, ref Ref, dest string) error {
	if s.Store == nil {
		return fmt.Errorf("runtime store is not configured")
	}
	blob, err := s.Store.Get(ctx, artifactrepo.NamespaceRuntimes, storeName(ref))
	if errors.Is(err, artifactrepo.ErrNotFound) {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if ref.Digest != "" {
		if got := layer.Digest(blob); got != ref.Digest {
			return fmt.Errorf("%s: stored layer digest is %s", ref, got)
		}
	}
	return layer.Extract(blob, dest)
}

// Push encodes dir and stores it as the runtime for ref. It returns the
// layer digest, which can be used to pin the ref.
func Push(ctx context.Context, store artifactrepo.Store, ref Ref, dir string) (layer.Descriptor, error) {
	blob, desc, err := layer.Encode(dir, "")
	if err != nil {
		return layer.Descriptor{}, err
	}
	if ref.Digest != "" && ref.Digest != desc.Digest {
		return layer.Descriptor{}, fmt.Errorf("%s: content digest is %s", ref, desc.Digest)
	}
	// Stored under the digest as well so "name@sha256:..." refs resolve.
	names := []string{storeName(ref), ref.Name + "/" + desc.Digest}
	for _, name := range names {
		if err := store.Put(ctx, artifactrepo.NamespaceRuntimes, name, blob); err != nil {
			return layer.Descriptor{}, err
		}
	}
	return desc, nil
}

func storeName(ref Ref) string {
	return ref.Name + "/" + ref.key()
}

// Chain tries each source in order and returns the first hit. Only
// ErrNotFound moves on to the next source.
type Chain []Source

func (c Chain) Fetch(ctx context.Context, ref Ref, dest string) error {
	for _, src := range c {
		err := src.Fetch(ctx, ref, dest)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return fmt.Errorf("%s: %w", ref, ErrNotFound)
}
