package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bootseq/internal/layer"
	artifactrepo "bootseq/internal/repository/artifact"
)

func buildLayers(t *testing.T) (map[Role]Layer, map[string][]byte) {
	t.Helper()
	contents := map[Role]string{
		RoleBase:         "bin/python",
		RoleDependencies: "fastapi/__init__.py",
		RoleSource:       "main.py",
	}
	prefixes := map[Role]string{RoleBase: "", RoleDependencies: "site-packages", RoleSource: "app"}

	layers := map[Role]Layer{}
	blobs := map[string][]byte{}
	for _, role := range Roles {
		root := t.TempDir()
		p := filepath.Join(root, contents[role])
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(string(role)), 0o644))
		blob, desc, err := layer.Encode(root, prefixes[role])
		require.NoError(t, err)
		layers[role] = Layer{Role: role, MediaType: layer.MediaType, Digest: desc.Digest, Size: desc.Size}
		blobs[desc.Digest] = blob
	}
	return layers, blobs
}

func sampleConfig(layers map[Role]Layer) *Config {
	cfg := New("demo", "0.1.0", "python:3.11-slim")
	cfg.Requirements = []Requirement{{Name: "fastapi", Version: "0.110.0"}}
	for k, v := range DefaultRuntimeFlags().Env() {
		cfg.SetEnv(k, v)
	}
	cfg.Entrypoint = []string{StaticEntrypoint}
	cfg.Network = Network{PortVar: DefaultPortVar, Address: "0.0.0.0", Protocol: "tcp"}
	// Insert out of order; SetLayer keeps stacking order.
	cfg.SetLayer(layers[RoleSource])
	cfg.SetLayer(layers[RoleBase])
	cfg.SetLayer(layers[RoleDependencies])
	return cfg
}

func TestConfigIDIsStable(t *testing.T) {
	layers, _ := buildLayers(t)
	a := sampleConfig(layers)
	b := sampleConfig(layers)

	idA, err := a.ID()
	require.NoError(t, err)
	idB, err := b.ID()
	require.NoError(t, err)
	assert.Equal(t, idA, idB)
	assert.Equal(t, []Role{RoleBase, RoleDependencies, RoleSource}, []Role{a.Layers[0].Role, a.Layers[1].Role, a.Layers[2].Role})

	b.SetEnv("EXTRA", "1")
	idC, err := b.ID()
	require.NoError(t, err)
	assert.NotEqual(t, idA, idC)
}

func TestRuntimeFlagsEnv(t *testing.T) {
	layers, _ := buildLayers(t)
	cfg := sampleConfig(layers)
	v, ok := cfg.LookupEnv("PYTHONDONTWRITEBYTECODE")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	v, ok = cfg.LookupEnv("PYTHONUNBUFFERED")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Equal(t, []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONUNBUFFERED=1"}, cfg.Env)

	assert.Empty(t, RuntimeFlags{}.Env())
}

func TestValidate(t *testing.T) {
	layers, _ := buildLayers(t)

	cfg := sampleConfig(layers)
	cfg.Network.PortVar = ""
	assert.Error(t, cfg.Validate())

	cfg = sampleConfig(layers)
	cfg.Layers = cfg.Layers[:2]
	assert.Error(t, cfg.Validate())

	cfg = sampleConfig(layers)
	cfg.Entrypoint = nil
	assert.Error(t, cfg.Validate())

	assert.NoError(t, sampleConfig(layers).Validate())
}

func TestPublishLoadUnpack(t *testing.T) {
	ctx := context.Background()
	layers, blobs := buildLayers(t)
	cfg := sampleConfig(layers)
	store := artifactrepo.NewMemoryStore()

	id, err := Publish(ctx, store, cfg, blobs)
	require.NoError(t, err)

	ids, err := List(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)

	loaded, err := Load(ctx, store, id)
	require.NoError(t, err)
	assert.Equal(t, cfg.Layers, loaded.Layers)
	assert.True(t, loaded.IsStatic())

	dest := t.TempDir()
	require.NoError(t, Unpack(ctx, store, loaded, dest))
	for _, rel := range []string{"bin/python", "site-packages/fastapi/__init__.py", "app/main.py"} {
		_, err := os.Stat(filepath.Join(dest, filepath.FromSlash(rel)))
		assert.NoError(t, err, rel)
	}
}

func TestPublishMissingBlobWritesNoConfig(t *testing.T) {
	ctx := context.Background()
	layers, blobs := buildLayers(t)
	cfg := sampleConfig(layers)
	delete(blobs, layers[RoleSource].Digest)
	store := artifactrepo.NewMemoryStore()

	_, err := Publish(ctx, store, cfg, blobs)
	require.Error(t, err)

	ids, err := List(ctx, store)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLoadRejectsUnknownAndTampered(t *testing.T) {
	ctx := context.Background()
	layers, blobs := buildLayers(t)
	cfg := sampleConfig(layers)
	store := artifactrepo.NewMemoryStore()
	id, err := Publish(ctx, store, cfg, blobs)
	require.NoError(t, err)

	_, err = Load(ctx, store, "sha256:0000000000000000000000000000000000000000000000000000000000000000")
	assert.ErrorIs(t, err, ErrNotFound)

	cfg.Name = "other"
	raw, err := cfg.Canonical()
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, artifactrepo.NamespaceArtifacts, DocumentName(id), raw))
	_, err = Load(ctx, store, id)
	assert.Error(t, err)
}

func TestNormalizeID(t *testing.T) {
	hex := "ab00000000000000000000000000000000000000000000000000000000000000"
	got, err := NormalizeID(hex)
	require.NoError(t, err)
	assert.Equal(t, "sha256:"+hex, got)

	got, err = NormalizeID("sha256:" + hex + ".json")
	require.NoError(t, err)
	assert.Equal(t, "sha256:"+hex, got)

	_, err = NormalizeID("latest")
	assert.Error(t, err)
	_, err = NormalizeID("sha256:" + hex[:63] + "Z")
	assert.Error(t, err)
}
