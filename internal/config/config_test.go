package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg := fromEnv(envFrom(nil))
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "disk", cfg.Store.Kind)
	assert.Equal(t, ".bootseq/store", cfg.Store.Root)
	assert.Equal(t, "command", cfg.Installer)
	assert.Equal(t, "minio:9000", cfg.Store.S3.Endpoint)
	assert.False(t, cfg.Store.S3.UseSSL)
	assert.False(t, cfg.Store.Cache)
	assert.Empty(t, cfg.Store.BlobCacheDir)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg := fromEnv(envFrom(map[string]string{
		"APP_ENV":                 "production",
		"BOOTSEQ_STORE":           "S3",
		"ARTIFACT_S3_ENDPOINT":    "s3.example.com",
		"ARTIFACT_S3_BUCKET":      "builds",
		"MINIO_ROOT_USER":         "user",
		"ARTIFACT_S3_SECRET_KEY":  "secret",
		"BOOTSEQ_INDEX_DIR":       "/srv/index",
		"BOOTSEQ_INSTALL_COMMAND": "uv pip install --target {target}",
		"BOOTSEQ_REDIS_ADDR":      "redis:6379",
		"BOOTSEQ_REDIS_DB":        "2",
		"BOOTSEQ_CORS_ORIGINS":    "https://a.example, https://b.example",
	}))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "s3", cfg.Store.Kind)
	assert.True(t, cfg.Store.Cache)
	assert.Equal(t, ".bootseq/cache", cfg.Store.BlobCacheDir)
	assert.Equal(t, S3Config{
		Endpoint: "s3.example.com", Region: "us-east-1", AccessKey: "user",
		SecretKey: "secret", Bucket: "builds", UseSSL: true,
	}, cfg.Store.S3)
	assert.Equal(t, "index", cfg.Installer)
	assert.Equal(t, []string{"uv", "pip", "install", "--target", "{target}"}, cfg.InstallCommand)
	assert.Equal(t, RegistryConfig{RedisAddr: "redis:6379", RedisDB: 2}, cfg.Registry)
}

func TestResolvePort(t *testing.T) {
	cases := []struct {
		env     map[string]string
		want    Port
		wantErr error
	}{
		{env: map[string]string{"PORT": "8000"}, want: 8000},
		{env: map[string]string{"PORT": "08080"}, want: 8080},
		{env: map[string]string{"PORT": ":8000"}, wantErr: ErrPortInvalid},
		{env: map[string]string{"PORT": " 8000"}, wantErr: ErrPortInvalid},
		{env: map[string]string{"PORT": "8000\n"}, wantErr: ErrPortInvalid},
		{env: map[string]string{"PORT": "+8000"}, wantErr: ErrPortInvalid},
		{env: map[string]string{"PORT": "1"}, want: 1},
		{env: map[string]string{"PORT": "65535"}, want: 65535},
		{env: nil, wantErr: ErrPortUnset},
		{env: map[string]string{"PORT": ""}, wantErr: ErrPortUnset},
		{env: map[string]string{"PORT": "http"}, wantErr: ErrPortInvalid},
		{env: map[string]string{"PORT": "0"}, wantErr: ErrPortInvalid},
		{env: map[string]string{"PORT": "65536"}, wantErr: ErrPortInvalid},
		{env: map[string]string{"PORT": "-1"}, wantErr: ErrPortInvalid},
		{env: map[string]string{"PORT": "80.5"}, wantErr: ErrPortInvalid},
	}
	for _, tc := range cases {
		got, err := ResolvePort(lookupFrom(tc.env), "PORT")
		if tc.wantErr != nil {
			assert.True(t, errors.Is(err, tc.wantErr), "env=%v err=%v", tc.env, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	p, err := ResolvePort(lookupFrom(map[string]string{"APP_PORT": "9000"}), "APP_PORT")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", p.Addr())
}

func TestParseDescriptor(t *testing.T) {
	raw := []byte(`
name: demo
base: python:3.11-slim
entrypoint: uvicorn app.main:app --host 0.0.0.0 --port ${PORT}
flags:
  unbuffered: "0"
ignore:
  - "*.log"
tag: demo:latest
`)
	d, err := ParseDescriptor(raw, DefaultDescriptor())
	require.NoError(t, err)
	require.NoError(t, d.Validate())
	assert.Equal(t, "demo", d.Name)
	assert.Equal(t, []string{"uvicorn", "app.main:app", "--host", "0.0.0.0", "--port", "${PORT}"}, d.Entrypoint)
	assert.True(t, d.Flags.DontWriteBytecode)
	assert.False(t, d.Flags.Unbuffered)
	assert.Equal(t, "requirements.txt", d.Manifest)
	assert.Equal(t, "PORT", d.PortVar)
	assert.Equal(t, []string{"*.log"}, d.Ignore)

	_, err = ParseDescriptor([]byte("bogus_key: 1\n"), DefaultDescriptor())
	assert.Error(t, err)

	d, err = ParseDescriptor([]byte("entrypoint: [python, -m, app]\n"), DefaultDescriptor())
	require.NoError(t, err)
	assert.Error(t, d.Validate(), "base is required")
}

func TestLoadDescriptorMissingFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "my-service")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	d, err := LoadDescriptor(filepath.Join(dir, DescriptorFile))
	require.NoError(t, err)
	assert.Equal(t, "my-service", d.Name)
	assert.Equal(t, ".", d.Source)
}
