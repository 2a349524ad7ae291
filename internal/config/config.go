package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	LogLevel string

	Store    StoreConfig
	Registry RegistryConfig

	RuntimesDir    string
	IndexDir       string
	Installer      string
	InstallCommand []string
	RunDir         string
	CORSOrigins    []string
}

type StoreConfig struct {
	// Kind is one of memory, disk, s3, postgres.
	Kind        string
	Root        string
	S3          S3Config
	PostgresDSN string
	Cache       bool
	// BlobCacheDir keeps fetched layer blobs on local disk. Empty disables it.
	BlobCacheDir string
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type RegistryConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Load reads the process configuration from the environment, after merging
// in a .env file from the working directory when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return fromEnv(os.Getenv), nil
}

func fromEnv(getenv func(string) string) *Config {
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }

	env := firstNonEmpty(get("APP_ENV"), "local")
	storeRoot := firstNonEmpty(get("BOOTSEQ_STORE_ROOT"), ".bootseq/store")
	kind := strings.ToLower(get("BOOTSEQ_STORE"))
	if kind == "" {
		kind = "disk"
	}

	remote := kind == "s3" || kind == "postgres"

	cfg := &Config{
		Env:      env,
		LogLevel: firstNonEmpty(get("BOOTSEQ_LOG_LEVEL"), "info"),
		Store: StoreConfig{
			Kind:        kind,
			Root:        storeRoot,
			S3:          loadS3Config(env, get),
			PostgresDSN: firstNonEmpty(get("BOOTSEQ_PG_DSN"), get("DATABASE_URL")),
			Cache:       parseBool(get("BOOTSEQ_STORE_CACHE"), remote),
		},
		Registry: RegistryConfig{
			RedisAddr:     get("BOOTSEQ_REDIS_ADDR"),
			RedisPassword: get("BOOTSEQ_REDIS_PASSWORD"),
			RedisDB:       parseInt(get("BOOTSEQ_REDIS_DB"), 0),
		},
		RuntimesDir: get("BOOTSEQ_RUNTIMES_DIR"),
		IndexDir:    get("BOOTSEQ_INDEX_DIR"),
		Installer:   strings.ToLower(get("BOOTSEQ_INSTALLER")),
		RunDir:      firstNonEmpty(get("BOOTSEQ_RUN_DIR"), ".bootseq/run"),
	}
	cfg.Store.BlobCacheDir = get("BOOTSEQ_BLOB_CACHE_DIR")
	if cfg.Store.BlobCacheDir == "" && remote {
		cfg.Store.BlobCacheDir = ".bootseq/cache"
	}
	cfg.CORSOrigins = splitList(firstNonEmpty(get("BOOTSEQ_CORS_ORIGINS"), "*"))
	if raw := get("BOOTSEQ_INSTALL_COMMAND"); raw != "" {
		cfg.InstallCommand = strings.Fields(raw)
	}
	if cfg.Installer == "" {
		if cfg.IndexDir != "" {
			cfg.Installer = "index"
		} else {
			cfg.Installer = "command"
		}
	}
	return cfg
}

func loadS3Config(env string, get func(string) string) S3Config {
	local := strings.EqualFold(env, "local")
	endpoint := get("ARTIFACT_S3_ENDPOINT")
	if local {
		endpoint = firstNonEmpty(get("ARTIFACT_MINIO_ENDPOINT"), endpoint, "minio:9000")
	}
	useSSL := parseBool(get("ARTIFACT_S3_USE_SSL"), true)
	if local {
		useSSL = false
	}
	return S3Config{
		Endpoint:  endpoint,
		Region:    firstNonEmpty(get("ARTIFACT_S3_REGION"), "us-east-1"),
		AccessKey: firstNonEmpty(get("ARTIFACT_S3_ACCESS_KEY"), get("MINIO_ROOT_USER")),
		SecretKey: firstNonEmpty(get("ARTIFACT_S3_SECRET_KEY"), get("MINIO_ROOT_PASSWORD")),
		Bucket:    firstNonEmpty(get("ARTIFACT_S3_BUCKET"), "bootseq-artifacts"),
		UseSSL:    useSSL,
	}
}

func parseBool(raw string, def bool) bool {
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
