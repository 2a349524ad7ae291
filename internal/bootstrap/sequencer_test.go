package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bootseq/internal/artifact"
	"bootseq/internal/baseimage"
	"bootseq/internal/installer"
	"bootseq/internal/logging"
	"bootseq/internal/manifest"
	"bootseq/internal/metrics"
	"bootseq/internal/registry"
	artifactrepo "bootseq/internal/repository/artifact"
	"bootseq/internal/worktree"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

type fixture struct {
	seq     *Sequencer
	store   *artifactrepo.MemoryStore
	tags    *registry.MemoryRegistry
	metrics *metrics.Metrics
	staging string
	source  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	runtimes := t.TempDir()
	writeFile(t, filepath.Join(runtimes, "python", "3.11-slim", "bin", "python"), "#!/bin/sh\n")
	writeFile(t, filepath.Join(runtimes, "python", "3.11-slim", "lib", "os.py"), "# stdlib\n")

	index := t.TempDir()
	writeFile(t, filepath.Join(index, "fastapi", "0.110.0", "fastapi", "__init__.py"), "__version__ = '0.110.0'\n")
	writeFile(t, filepath.Join(index, "uvicorn", "0.30.0", "uvicorn", "__init__.py"), "__version__ = '0.30.0'\n")

	source := t.TempDir()
	writeFile(t, filepath.Join(source, "main.py"), "from fastapi import FastAPI\napp = FastAPI()\n")
	writeFile(t, filepath.Join(source, "static", "index.html"), "<h1>hi</h1>\n")
	writeFile(t, filepath.Join(source, "__pycache__", "main.cpython-311.pyc"), "junk")

	f := &fixture{
		store:   artifactrepo.NewMemoryStore(),
		tags:    registry.NewMemoryRegistry(),
		metrics: metrics.New(),
		staging: t.TempDir(),
		source:  source,
	}
	f.seq = &Sequencer{
		Runtimes:   baseimage.DirSource{Root: runtimes},
		Installer:  installer.IndexInstaller{Root: index},
		Store:      f.store,
		Registry:   f.tags,
		Metrics:    f.metrics,
		Logger:     logging.NewNop(),
		StagingDir: f.staging,
	}
	return f
}

func (f *fixture) request(requirements string) Request {
	return Request{
		Name:       "demo",
		Version:    "1.0.0",
		Base:       "python:3.11-slim",
		Manifest:   manifest.MustParse(requirements),
		Source:     f.source,
		Entrypoint: []string{"python", "-m", "uvicorn", "main:app", "--host", "0.0.0.0", "--port", "${PORT}"},
		Flags:      artifact.DefaultRuntimeFlags(),
	}
}

func assertStagingEmpty(t *testing.T, f *fixture) {
	t.Helper()
	entries, err := os.ReadDir(f.staging)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging environments must be removed")
}

func TestBuildPublishesRunnableArtifact(t *testing.T) {
	f := newFixture(t)
	req := f.request("fastapi\nuvicorn\n")
	req.Tag = "demo:latest"

	res, err := f.seq.Build(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, res.BuildID)
	assert.Equal(t, "python:3.11-slim", res.Base)
	require.Len(t, res.Layers, 3)
	assert.Equal(t, []artifact.Requirement{
		{Name: "fastapi", Version: "0.110.0"},
		{Name: "uvicorn", Version: "0.30.0"},
	}, res.Requirements)

	tagged, err := f.tags.Resolve(context.Background(), "demo:latest")
	require.NoError(t, err)
	assert.Equal(t, res.ArtifactID, tagged)

	cfg, err := artifact.Load(context.Background(), f.store, res.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, "PORT", cfg.Network.PortVar)
	assert.Equal(t, "0.0.0.0", cfg.Network.Address)
	assert.Equal(t, artifact.Workdir, cfg.Workdir)
	assert.Equal(t, []string{
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONPATH=${BOOTSEQ_ROOT}/site-packages",
		"PYTHONUNBUFFERED=1",
	}, cfg.Env)

	run := t.TempDir()
	require.NoError(t, artifact.Unpack(context.Background(), f.store, cfg, run))
	assert.Equal(t, "#!/bin/sh\n", readFile(t, filepath.Join(run, "bin", "python")))
	assert.Equal(t, "__version__ = '0.110.0'\n", readFile(t, filepath.Join(run, "site-packages", "fastapi", "__init__.py")))
	assert.Equal(t, "<h1>hi</h1>\n", readFile(t, filepath.Join(run, "app", "static", "index.html")))
	assert.NoFileExists(t, filepath.Join(run, "app", "__pycache__", "main.cpython-311.pyc"))

	assertStagingEmpty(t, f)
	series, err := testutil.GatherAndCount(f.metrics.Registry(), "bootseq_builds_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestBuildIsReproducible(t *testing.T) {
	f := newFixture(t)
	req := f.request("fastapi\nuvicorn\n")

	first, err := f.seq.Build(context.Background(), req)
	require.NoError(t, err)
	before, err := f.store.List(context.Background(), artifactrepo.NamespaceBlobs)
	require.NoError(t, err)

	second, err := f.seq.Build(context.Background(), req)
	require.NoError(t, err)
	after, err := f.store.List(context.Background(), artifactrepo.NamespaceBlobs)
	require.NoError(t, err)

	assert.Equal(t, first.ArtifactID, second.ArtifactID)
	assert.Equal(t, first.Layers, second.Layers)
	assert.Equal(t, before, after, "an identical build adds no new blobs")

	ids, err := artifact.List(context.Background(), f.store)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ArtifactID}, ids)
}

func TestBuildSourceChangeOnlyTouchesSourceLayer(t *testing.T) {
	f := newFixture(t)
	req := f.request("fastapi\n")

	first, err := f.seq.Build(context.Background(), req)
	require.NoError(t, err)
	writeFile(t, filepath.Join(f.source, "main.py"), "app = None\n")
	second, err := f.seq.Build(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, first.ArtifactID, second.ArtifactID)
	assert.Equal(t, first.Layers[0], second.Layers[0])
	assert.Equal(t, first.Layers[1], second.Layers[1])
	assert.NotEqual(t, first.Layers[2].Digest, second.Layers[2].Digest)
}

func TestBuildUnresolvableDependencyPersistsNothing(t *testing.T) {
	f := newFixture(t)

	res, err := f.seq.Build(context.Background(), f.request("fastapi\nno-such-package\n"))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrDependencyResolution)
	assert.Equal(t, 11, ExitCode(err))

	var unresolved *installer.UnresolvedError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, []string{"no-such-package"}, unresolved.Requirements())

	assert.Zero(t, f.store.Len())
	assertStagingEmpty(t, f)
}

func TestBuildRejectsUnavailableBase(t *testing.T) {
	cases := map[string]string{
		"unpinned":     "python",
		"floating tag": "python:latest",
		"unknown tag":  "python:2.7",
		"bad name":     "Python:3.11",
	}
	for name, base := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			req := f.request("fastapi\n")
			req.Base = base

			_, err := f.seq.Build(context.Background(), req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrEnvironmentUnavailable)
			assert.Equal(t, 10, ExitCode(err))
			assert.Zero(t, f.store.Len())
			assertStagingEmpty(t, f)
		})
	}
}

func TestBuildMissingWorkingTree(t *testing.T) {
	f := newFixture(t)
	req := f.request("fastapi\n")
	req.Source = filepath.Join(t.TempDir(), "missing")

	_, err := f.seq.Build(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceCopy)
	assert.Equal(t, 12, ExitCode(err))
	assert.Zero(t, f.store.Len())
	assertStagingEmpty(t, f)
}

func TestBuildRejectsBadTagBeforeWriting(t *testing.T) {
	f := newFixture(t)
	req := f.request("fastapi\n")
	req.Tag = "../escape"

	_, err := f.seq.Build(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublish)
	assert.Equal(t, 13, ExitCode(err))
	assert.Zero(t, f.store.Len())
}

func TestBuildRejectsInvalidPortVariable(t *testing.T) {
	f := newFixture(t)
	req := f.request("fastapi\n")
	req.PortVar = "APP-PORT"

	_, err := f.seq.Build(context.Background(), req)
	require.ErrorIs(t, err, ErrPublish)
	assert.Equal(t, 13, ExitCode(err))
	assert.Contains(t, err.Error(), "APP-PORT")
	assert.Zero(t, f.store.Len())
	assertStagingEmpty(t, f)
}

type failingRegistry struct {
	*registry.MemoryRegistry
}

func (failingRegistry) Set(context.Context, string, string) error {
	return errors.New("registry unavailable")
}

func TestBuildTagFailureLeavesUntaggedArtifact(t *testing.T) {
	f := newFixture(t)
	f.seq.Registry = failingRegistry{registry.NewMemoryRegistry()}
	req := f.request("fastapi\n")
	req.Tag = "demo:1"

	_, err := f.seq.Build(context.Background(), req)
	require.ErrorIs(t, err, ErrPublish)
	assert.Equal(t, 13, ExitCode(err))

	ids, err2 := artifact.List(context.Background(), f.store)
	require.NoError(t, err2)
	require.Len(t, ids, 1)
	assert.Contains(t, err.Error(), ids[0]+" published untagged")
	_, err2 = artifact.Load(context.Background(), f.store, ids[0])
	assert.NoError(t, err2)
}

func TestBuildDefaultsToStaticEntrypoint(t *testing.T) {
	f := newFixture(t)
	req := f.request("")
	req.Entrypoint = nil

	res, err := f.seq.Build(context.Background(), req)
	require.NoError(t, err)
	cfg, err := artifact.Load(context.Background(), f.store, res.ArtifactID)
	require.NoError(t, err)
	assert.True(t, cfg.IsStatic())
	assert.Empty(t, cfg.Requirements)
}

func TestStepsRunInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env, err := f.seq.Prepare(ctx, "python:3.11-slim")
	require.NoError(t, err)
	defer env.Close()

	err = f.seq.MaterializeSource(ctx, env, f.source, worktree.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MaterializeSource must follow InstallDependencies")

	require.NoError(t, f.seq.InstallDependencies(ctx, env, manifest.MustParse("uvicorn\n")))
	require.Error(t, f.seq.InstallDependencies(ctx, env, manifest.MustParse("uvicorn\n")), "steps never repeat")
	require.NoError(t, f.seq.MaterializeSource(ctx, env, f.source, worktree.Options{}))
	require.NoError(t, f.seq.ConfigureRuntimeFlags(env, artifact.DefaultRuntimeFlags()))

	err = f.seq.DeclareNetworkContract(env, "1PORT")
	require.ErrorIs(t, err, ErrPublish)
	assert.Equal(t, 13, ExitCode(err))
	require.NoError(t, f.seq.DeclareNetworkContract(env, "APP_PORT"))

	env.Config.Entrypoint = []string{artifact.StaticEntrypoint}
	id, err := f.seq.Publish(ctx, env, "")
	require.NoError(t, err)

	root := env.Root
	require.NoError(t, env.Close())
	assert.NoDirExists(t, root)
	cfg, err := artifact.Load(ctx, f.store, id)
	require.NoError(t, err)
	assert.Equal(t, "APP_PORT", cfg.Network.PortVar)
}
