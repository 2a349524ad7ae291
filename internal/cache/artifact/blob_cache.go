package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	artifactrepo "bootseq/internal/repository/artifact"
)

type BlobCacheConfig struct {
	Root       string
	MaxEntries int
	// MaxBytes bounds the total size on disk. Zero means unbounded.
	MaxBytes int64
	TTL      time.Duration
}

func DefaultBlobCacheConfig(root string) BlobCacheConfig {
	return BlobCacheConfig{
		Root:       root,
		MaxEntries: 512,
		MaxBytes:   4 << 30, // 4GiB
		TTL:        7 * 24 * time.Hour,
	}
}

const blobIndexFile = "index.json"

type blobEntry struct {
	File       string    `json:"file"`
	Size       int64     `json:"size"`
	ExpiresAt  time.Time `json:"expires_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

type blobIndex struct {
	Entries map[string]blobEntry `json:"entries"`
}

// BlobCache keeps layer blobs on local disk, keyed by their sha256 digest,
// so that launching from a remote store downloads each layer once. An index
// file records sizes and access times for TTL and LRU eviction and survives
// restarts. Entries whose content no longer matches their digest are
// dropped on read.
type BlobCache struct {
	mu sync.Mutex

	dataDir   string
	indexPath string

	maxEntries int
	maxBytes   int64
	ttl        time.Duration

	totalBytes int64
	entries    map[string]blobEntry
	now        func() time.Time
}

func NewBlobCache(cfg BlobCacheConfig) (*BlobCache, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, fmt.Errorf("blob cache root is required")
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultBlobCacheConfig(root).TTL
	}
	c := &BlobCache{
		dataDir:    filepath.Join(root, "blobs"),
		indexPath:  filepath.Join(root, blobIndexFile),
		maxEntries: cfg.MaxEntries,
		maxBytes:   cfg.MaxBytes,
		ttl:        cfg.TTL,
		entries:    map[string]blobEntry{},
		now:        time.Now,
	}
	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadIndexLocked(); err != nil {
		return nil, err
	}
	if err := c.evictLocked(c.now()); err != nil {
		return nil, err
	}
	return c, c.persistIndexLocked()
}

// Get returns the cached blob for digest. A miss is not an error.
func (c *BlobCache) Get(digest string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[digest]
	if !ok {
		return nil, false, nil
	}
	now := c.now()
	if now.After(ent.ExpiresAt) {
		c.removeLocked(digest, ent)
		return nil, false, c.persistIndexLocked()
	}
	raw, err := os.ReadFile(filepath.Join(c.dataDir, ent.File))
	if os.IsNotExist(err) {
		c.removeLocked(digest, ent)
		return nil, false, c.persistIndexLocked()
	}
	if err != nil {
		return nil, false, err
	}
	if digestOf(raw) != digest {
		c.removeLocked(digest, ent)
		return nil, false, c.persistIndexLocked()
	}
	ent.AccessedAt = now
	c.entries[digest] = ent
	return raw, true, c.persistIndexLocked()
}

// Add stores content under digest. Content that does not hash to digest is
// refused.
func (c *BlobCache) Add(digest string, content []byte) error {
	if digestOf(content) != digest {
		return fmt.Errorf("blob cache: content does not match %s", digest)
	}
	file := strings.TrimPrefix(digest, "sha256:") + ".blob"
	path := filepath.Join(c.dataDir, file)

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[digest]; ok {
		c.totalBytes -= old.Size
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	now := c.now()
	c.entries[digest] = blobEntry{File: file, Size: int64(len(content)), ExpiresAt: now.Add(c.ttl), AccessedAt: now}
	c.totalBytes += int64(len(content))
	if err := c.evictLocked(now); err != nil {
		return err
	}
	return c.persistIndexLocked()
}

func (c *BlobCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *BlobCache) loadIndexLocked() error {
	raw, err := os.ReadFile(c.indexPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var idx blobIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return fmt.Errorf("blob cache index: %w", err)
	}
	for digest, ent := range idx.Entries {
		c.entries[digest] = ent
		c.totalBytes += ent.Size
	}
	return nil
}

func (c *BlobCache) evictLocked(now time.Time) error {
	for digest, ent := range c.entries {
		if now.After(ent.ExpiresAt) {
			c.removeLocked(digest, ent)
			continue
		}
		if _, err := os.Stat(filepath.Join(c.dataDir, ent.File)); os.IsNotExist(err) {
			c.removeLocked(digest, ent)
		} else if err != nil {
			return err
		}
	}
	for len(c.entries) > c.maxEntries || (c.maxBytes > 0 && c.totalBytes > c.maxBytes) {
		digest, ent, ok := c.oldestLocked()
		if !ok {
			break
		}
		c.removeLocked(digest, ent)
	}
	return nil
}

func (c *BlobCache) oldestLocked() (string, blobEntry, bool) {
	if len(c.entries) == 0 {
		return "", blobEntry{}, false
	}
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]].AccessedAt, c.entries[keys[j]].AccessedAt
		if a.Equal(b) {
			return keys[i] < keys[j]
		}
		return a.Before(b)
	})
	return keys[0], c.entries[keys[0]], true
}

func (c *BlobCache) removeLocked(digest string, ent blobEntry) {
	delete(c.entries, digest)
	c.totalBytes -= ent.Size
	if c.totalBytes < 0 {
		c.totalBytes = 0
	}
	_ = os.Remove(filepath.Join(c.dataDir, ent.File))
}

func (c *BlobCache) persistIndexLocked() error {
	raw, err := json.MarshalIndent(blobIndex{Entries: c.entries}, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.indexPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.indexPath)
}

func digestOf(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// BlobCachedStore serves the blobs namespace from a BlobCache and passes
// everything else to origin.
type BlobCachedStore struct {
	origin Store
	cache  *BlobCache
}

func NewBlobCachedStore(origin Store, cache *BlobCache) *BlobCachedStore {
	return &BlobCachedStore{origin: origin, cache: cache}
}

func (s *BlobCachedStore) Put(ctx context.Context, namespace, name string, content []byte) error {
	if err := s.origin.Put(ctx, namespace, name, content); err != nil {
		return err
	}
	if isBlob(namespace, name) {
		_ = s.cache.Add(name, content)
	}
	return nil
}

func (s *BlobCachedStore) Get(ctx context.Context, namespace, name string) ([]byte, error) {
	if !isBlob(namespace, name) {
		return s.origin.Get(ctx, namespace, name)
	}
	if raw, ok, err := s.cache.Get(name); err == nil && ok {
		return raw, nil
	}
	raw, err := s.origin.Get(ctx, namespace, name)
	if err != nil {
		return nil, err
	}
	_ = s.cache.Add(name, raw)
	return raw, nil
}

func (s *BlobCachedStore) GetURL(ctx context.Context, namespace, name string) (string, error) {
	return s.origin.GetURL(ctx, namespace, name)
}

func (s *BlobCachedStore) List(ctx context.Context, namespace string) ([]string, error) {
	return s.origin.List(ctx, namespace)
}

func isBlob(namespace, name string) bool {
	return strings.TrimSpace(namespace) == artifactrepo.NamespaceBlobs && strings.HasPrefix(name, "sha256:")
}
