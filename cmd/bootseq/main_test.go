package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bootseq/internal/bootstrap"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	require.NoError(t, app.close())
	return out.String(), err
}

func TestBuildInspectAndTag(t *testing.T) {
	runtimes := t.TempDir()
	writeFile(t, filepath.Join(runtimes, "python", "3.11-slim", "lib", "os.py"), "# stdlib\n")
	index := t.TempDir()
	writeFile(t, filepath.Join(index, "fastapi", "0.110.0", "fastapi", "__init__.py"), "")
	writeFile(t, filepath.Join(index, "uvicorn", "0.30.0", "uvicorn", "__init__.py"), "")

	project := t.TempDir()
	writeFile(t, filepath.Join(project, "requirements.txt"), "fastapi\nuvicorn\n")
	writeFile(t, filepath.Join(project, "main.py"), "app = object()\n")
	writeFile(t, filepath.Join(project, "bootseq.yaml"), `
name: demo
version: "1.0.0"
base: python:3.11-slim
entrypoint: python -m uvicorn main:app --host 0.0.0.0 --port ${PORT}
tag: demo:1
`)

	t.Setenv("APP_ENV", "test")
	t.Setenv("BOOTSEQ_STORE", "disk")
	t.Setenv("BOOTSEQ_STORE_ROOT", t.TempDir())
	t.Setenv("BOOTSEQ_RUNTIMES_DIR", runtimes)
	t.Setenv("BOOTSEQ_INDEX_DIR", index)
	t.Setenv("BOOTSEQ_REDIS_ADDR", "")
	t.Setenv("BOOTSEQ_LOG_LEVEL", "error")

	out, err := execute(t, "build", project)
	require.NoError(t, err)
	var res bootstrap.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "demo:1", res.Tag)
	require.Len(t, res.Requirements, 2)

	out, err = execute(t, "inspect", "demo:1")
	require.NoError(t, err)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, res.ArtifactID, cfg["id"])
	assert.Equal(t, "demo", cfg["name"])
	assert.Equal(t, []any{"python", "-m", "uvicorn", "main:app", "--host", "0.0.0.0", "--port", "${PORT}"}, cfg["entrypoint"])

	out, err = execute(t, "tag", "demo:stable", "demo:1")
	require.NoError(t, err)
	assert.Equal(t, "demo:stable -> "+res.ArtifactID+"\n", out)
}

func TestBuildExitCodes(t *testing.T) {
	runtimes := t.TempDir()
	writeFile(t, filepath.Join(runtimes, "python", "3.11-slim", "lib", "os.py"), "# stdlib\n")
	index := t.TempDir()
	writeFile(t, filepath.Join(index, "fastapi", "0.110.0", "fastapi", "__init__.py"), "")

	project := t.TempDir()
	writeFile(t, filepath.Join(project, "requirements.txt"), "fastapi\nno-such-package==1.0\n")
	writeFile(t, filepath.Join(project, "main.py"), "app = object()\n")

	store := t.TempDir()
	t.Setenv("APP_ENV", "test")
	t.Setenv("BOOTSEQ_STORE", "disk")
	t.Setenv("BOOTSEQ_STORE_ROOT", store)
	t.Setenv("BOOTSEQ_RUNTIMES_DIR", runtimes)
	t.Setenv("BOOTSEQ_INDEX_DIR", index)
	t.Setenv("BOOTSEQ_REDIS_ADDR", "")
	t.Setenv("BOOTSEQ_LOG_LEVEL", "error")

	_, err := execute(t, "build", project, "--base", "python:3.11-slim")
	require.Error(t, err)
	assert.Equal(t, 11, bootstrap.ExitCode(err))

	entries, err := os.ReadDir(store)
	require.NoError(t, err)
	assert.Empty(t, entries, "a failed build publishes nothing")
}
