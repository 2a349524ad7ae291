// Package registry maps human readable tags ("demo:1.2") to artifact IDs.
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	artifactrepo "bootseq/internal/repository/artifact"
)

var ErrNotFound = errors.New("tag not found")

var tagRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:/-]{0,127}$`)

// Registry points tags at artifact IDs. Set moves an existing tag.
type Registry interface {
	Set(ctx context.Context, tag, id string) error
	Resolve(ctx context.Context, tag string) (string, error)
	List(ctx context.Context) ([]Entry, error)
}

type Entry struct {
	Tag string `json:"tag"`
	ID  string `json:"id"`
}

func ValidateTag(tag string) error {
	if !tagRe.MatchString(tag) || strings.Contains(tag, "..") || strings.Contains(tag, "//") {
		return fmt.Errorf("invalid tag %q", tag)
	}
	return nil
}

func sortEntries(out []Entry) []Entry {
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

type MemoryRegistry struct {
	mu   sync.RWMutex
	tags map[string]string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{tags: map[string]string{}}
}

func (r *MemoryRegistry) Set(_ context.Context, tag, id string) error {
	if err := ValidateTag(tag); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags[tag] = id
	return nil
}

func (r *MemoryRegistry) Resolve(_ context.Context, tag string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.tags[tag]
	if !ok {
		return "", fmt.Errorf("%s: %w", tag, ErrNotFound)
	}
	return id, nil
}

func (r *MemoryRegistry) List(context.Context) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.tags))
	for tag, id := range r.tags {
		out = append(out, Entry{Tag: tag, ID: id})
	}
	return sortEntries(out), nil
}

// StoreRegistry keeps tags in the tags namespace of an artifact store, so a
// disk or S3 store is enough to share tags between invocations.
type StoreRegistry struct {
	Store artifactrepo.Store
}

func (r StoreRegistry) Set(ctx context.Context, tag, id string) error {
	if err := ValidateTag(tag); err != nil {
		return err
	}
	return r.Store.Put(ctx, artifactrepo.NamespaceTags, tag, []byte(id))
}

func (r StoreRegistry) Resolve(ctx context.Context, tag string) (string, error) {
	raw, err := r.Store.Get(ctx, artifactrepo.NamespaceTags, tag)
	if errors.Is(err, artifactrepo.ErrNotFound) {
		return "", fmt.Errorf("%s: %w", tag, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (r StoreRegistry) List(ctx context.Context) ([]Entry, error) {
	names, err := r.Store.List(ctx, artifactrepo.NamespaceTags)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(names))
	for _, tag := range names {
		id, err := r.Resolve(ctx, tag)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Tag: tag, ID: id})
	}
	return sortEntries(out), nil
}
