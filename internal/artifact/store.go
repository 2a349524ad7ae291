package artifact

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"bootseq/internal/layer"
	artifactrepo "bootseq/internal/repository/artifact"
)

var ErrNotFound = errors.New("artifact not found")

// Publish writes every layer blob and then the config document. The config
// is written last, so a failure part way leaves no loadable artifact behind.
// blobs maps layer digests to their encoded bytes.
func Publish(ctx context.Context, store artifactrepo.Store, cfg *Config, blobs map[string][]byte) (string, error) {
	id, err := cfg.ID()
	if err != nil {
		return "", err
	}
	for _, l := range cfg.Layers {
		blob, ok := blobs[l.Digest]
		if !ok {
			return "", fmt.Errorf("%s layer %s: blob missing", l.Role, l.Digest)
		}
		if err := layer.Verify(blob, l.Descriptor()); err != nil {
			return "", fmt.Errorf("%s layer: %w", l.Role, err)
		}
		if err := store.Put(ctx, artifactrepo.NamespaceBlobs, l.Digest, blob); err != nil {
			return "", fmt.Errorf("put %s layer: %w", l.Role, err)
		}
	}
	raw, err := cfg.Canonical()
	if err != nil {
		return "", err
	}
	if err := store.Put(ctx, artifactrepo.NamespaceArtifacts, DocumentName(id), raw); err != nil {
		return "", fmt.Errorf("put config: %w", err)
	}
	return id, nil
}

// Load reads the config for id and checks it still hashes to id.
func Load(ctx context.Context, store artifactrepo.Store, id string) (*Config, error) {
	id, err := NormalizeID(id)
	if err != nil {
		return nil, err
	}
	raw, err := store.Get(ctx, artifactrepo.NamespaceArtifacts, DocumentName(id))
	if errors.Is(err, artifactrepo.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	got, err := cfg.ID()
	if err != nil {
		return nil, err
	}
	if got != id {
		return nil, fmt.Errorf("artifact %s: config hashes to %s", id, got)
	}
	return cfg, nil
}

// FetchLayer reads and verifies one layer blob.
func FetchLayer(ctx context.Context, store artifactrepo.Store, l Layer) ([]byte, error) {
	blob, err := store.Get(ctx, artifactrepo.NamespaceBlobs, l.Digest)
	if err != nil {
		return nil, fmt.Errorf("get %s layer %s: %w", l.Role, l.Digest, err)
	}
	if err := layer.Verify(blob, l.Descriptor()); err != nil {
		return nil, fmt.Errorf("%s layer: %w", l.Role, err)
	}
	return blob, nil
}

// Unpack extracts every layer of cfg into dest in stacking order.
func Unpack(ctx context.Context, store artifactrepo.Store, cfg *Config, dest string) error {
	for _, role := range Roles {
		l, ok := cfg.Layer(role)
		if !ok {
			return fmt.Errorf("artifact is missing the %s layer", role)
		}
		blob, err := FetchLayer(ctx, store, l)
		if err != nil {
			return err
		}
		if err := layer.Extract(blob, dest); err != nil {
			return fmt.Errorf("extract %s layer: %w", role, err)
		}
	}
	return nil
}

// List returns the IDs of every published artifact.
func List(ctx context.Context, store artifactrepo.Store) ([]string, error) {
	names, err := store.List(ctx, artifactrepo.NamespaceArtifacts)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(names))
	for _, n := range names {
		if !strings.HasSuffix(n, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(n, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
