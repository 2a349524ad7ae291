package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	cacheartifact "bootseq/internal/cache/artifact"
	"bootseq/internal/config"
	"bootseq/internal/logging"
	"bootseq/internal/metrics"
	"bootseq/internal/registry"
	artifactrepo "bootseq/internal/repository/artifact"
)

// deps holds what every subcommand shares. It is filled in by the root
// command before any subcommand runs.
type deps struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	store    artifactrepo.Store
	registry registry.Registry
	closers  []func() error
}

var app deps

var rootCmd = &cobra.Command{
	Use:           "bootseq",
	Short:         "Build runnable service artifacts and launch them on $PORT",
	Long:          `bootseq builds an artifact from a pinned base runtime, a dependency manifest and a working tree, then launches it bound to the port named in the environment.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return app.init(cmd.Context(), cmd)
	},
	PersistentPostRunE: func(*cobra.Command, []string) error {
		return app.close()
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides BOOTSEQ_LOG_LEVEL")
	rootCmd.PersistentFlags().String("store", "", "artifact store (memory, disk, s3, postgres); overrides BOOTSEQ_STORE")
	rootCmd.PersistentFlags().String("store-root", "", "disk store directory; overrides BOOTSEQ_STORE_ROOT")
}

func (r *deps) init(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := flags.GetString("store"); v != "" {
		cfg.Store.Kind = v
	}
	if v, _ := flags.GetString("store-root"); v != "" {
		cfg.Store.Root = v
	}

	r.cfg = cfg
	r.logger = logging.New(logging.ParseLevel(cfg.LogLevel), cfg.Env)
	slog.SetDefault(r.logger)
	r.metrics = metrics.New()

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Kind, err)
	}
	r.closers = append(r.closers, closeStore)
	if dir := cfg.Store.BlobCacheDir; dir != "" {
		blobs, err := cacheartifact.NewBlobCache(cacheartifact.DefaultBlobCacheConfig(dir))
		if err != nil {
			return fmt.Errorf("open blob cache: %w", err)
		}
		store = cacheartifact.NewBlobCachedStore(store, blobs)
	}
	if cfg.Store.Cache {
		cached := cacheartifact.NewCachedStore(store, cacheartifact.DefaultCacheConfig())
		r.metrics.RegisterCache(cached)
		store = cached
	}
	r.store = store

	reg, closeReg, err := openRegistry(ctx, cfg.Registry, store)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	r.closers = append(r.closers, closeReg)
	r.registry = reg
	r.logger.Debug("bootseq configured", "store", cfg.Store.Kind, "cache", cfg.Store.Cache, "redis", cfg.Registry.RedisAddr != "")
	return nil
}

func (r *deps) close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	r.closers = nil
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (artifactrepo.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Kind {
	case "memory":
		return artifactrepo.NewMemoryStore(), noop, nil
	case "disk", "":
		if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
			return nil, nil, err
		}
		return artifactrepo.NewDiskStore(cfg.Root), noop, nil
	case "s3":
		store, err := artifactrepo.NewS3Store(artifactrepo.S3Config(cfg.S3))
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case "postgres":
		store, err := artifactrepo.OpenPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}

// openRegistry uses Redis when an address is configured and otherwise keeps
// tags in the artifact store.
func openRegistry(ctx context.Context, cfg config.RegistryConfig, store artifactrepo.Store) (registry.Registry, func() error, error) {
	if cfg.RedisAddr == "" {
		return registry.StoreRegistry{Store: store}, func() error { return nil }, nil
	}
	reg := registry.NewRedisRegistry(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := reg.Ping(ctx); err != nil {
		_ = reg.Close()
		return nil, nil, err
	}
	return reg, reg.Close, nil
}
