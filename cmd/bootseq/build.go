package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"bootseq/internal/artifact"
	"bootseq/internal/baseimage"
	"bootseq/internal/bootstrap"
	"bootseq/internal/config"
	"bootseq/internal/installer"
	"bootseq/internal/manifest"
	"bootseq/internal/worktree"
)

var buildCmd = &cobra.Command{
	Use:   "build [dir]",
	Short: "Build and publish an artifact from a working tree",
	Long: `Runs Prepare, InstallDependencies, MaterializeSource, ConfigureRuntimeFlags and
DeclareNetworkContract in order, then publishes the artifact. Settings come
from bootseq.yaml in dir (default ".") and can be overridden with flags.
Prints the build result as JSON.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	f := buildCmd.Flags()
	f.StringP("file", "f", "", "build descriptor (default <dir>/bootseq.yaml)")
	f.String("name", "", "artifact name")
	f.String("version", "", "artifact version")
	f.String("base", "", "pinned base runtime, name:tag or name@sha256:<digest>")
	f.String("manifest", "", "dependency manifest, relative to dir")
	f.String("source", "", "working tree to materialize, relative to dir")
	f.StringSlice("entrypoint", nil, "entrypoint argv, comma separated")
	f.String("port-var", "", "environment variable the port is read from at launch")
	f.StringP("tag", "t", "", "tag to point at the published artifact")
	f.Bool("dont-write-bytecode", true, "set PYTHONDONTWRITEBYTECODE=1")
	f.Bool("unbuffered", true, "set PYTHONUNBUFFERED=1")
}

func runBuild(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	desc, err := loadDescriptor(cmd, dir)
	if err != nil {
		return err
	}

	manifestPath := filepath.Join(dir, desc.Manifest)
	m, err := manifest.ParseFile(manifestPath)
	if err != nil {
		return bootstrap.DependencyResolution("read manifest", err)
	}

	inst, err := newInstaller(app.cfg)
	if err != nil {
		return err
	}
	var runtimes baseimage.Chain
	if app.cfg.RuntimesDir != "" {
		runtimes = append(runtimes, baseimage.DirSource{Root: app.cfg.RuntimesDir})
	}
	runtimes = append(runtimes, baseimage.StoreSource{Store: app.store})

	seq := &bootstrap.Sequencer{
		Runtimes:  runtimes,
		Installer: inst,
		Store:     app.store,
		Registry:  app.registry,
		Metrics:   app.metrics,
		Logger:    app.logger,
	}
	res, err := seq.Build(cmd.Context(), bootstrap.Request{
		Name:       desc.Name,
		Version:    desc.Version,
		Base:       desc.Base,
		Manifest:   m,
		Source:     filepath.Join(dir, desc.Source),
		Ignore:     worktree.Options{Ignore: desc.Ignore},
		Entrypoint: desc.Entrypoint,
		PortVar:    desc.PortVar,
		Flags: artifact.RuntimeFlags{
			DontWriteBytecode: desc.Flags.DontWriteBytecode,
			Unbuffered:        desc.Flags.Unbuffered,
		},
		Tag: desc.Tag,
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// loadDescriptor reads the descriptor for dir and applies flag overrides.
func loadDescriptor(cmd *cobra.Command, dir string) (config.Descriptor, error) {
	f := cmd.Flags()
	path, _ := f.GetString("file")
	if path == "" {
		path = filepath.Join(dir, config.DescriptorFile)
	} else if _, err := os.Stat(path); err != nil {
		return config.Descriptor{}, fmt.Errorf("descriptor: %w", err)
	}
	desc, err := config.LoadDescriptor(path)
	if err != nil {
		return config.Descriptor{}, err
	}

	strs := map[string]*string{
		"name":     &desc.Name,
		"version":  &desc.Version,
		"base":     &desc.Base,
		"manifest": &desc.Manifest,
		"source":   &desc.Source,
		"port-var": &desc.PortVar,
		"tag":      &desc.Tag,
	}
	for flag, dst := range strs {
		if f.Changed(flag) {
			*dst, _ = f.GetString(flag)
		}
	}
	if f.Changed("entrypoint") {
		desc.Entrypoint, _ = f.GetStringSlice("entrypoint")
	}
	if f.Changed("dont-write-bytecode") {
		desc.Flags.DontWriteBytecode, _ = f.GetBool("dont-write-bytecode")
	}
	if f.Changed("unbuffered") {
		desc.Flags.Unbuffered, _ = f.GetBool("unbuffered")
	}
	if len(desc.Entrypoint) == 0 {
		desc.Entrypoint = []string{artifact.StaticEntrypoint}
	}
	if err := desc.Validate(); err != nil {
		return config.Descriptor{}, err
	}
	return desc, nil
}

func newInstaller(cfg *config.Config) (installer.Installer, error) {
	switch cfg.Installer {
	case "index":
		if cfg.IndexDir == "" {
			return nil, errors.New("BOOTSEQ_INDEX_DIR is required for the index installer")
		}
		return installer.IndexInstaller{Root: cfg.IndexDir}, nil
	case "command":
		return installer.CommandInstaller{Command: cfg.InstallCommand}, nil
	default:
		return nil, fmt.Errorf("unknown installer %q", cfg.Installer)
	}
}
