// Package bootstrap runs the build half of the service bootstrap contract:
// Prepare, InstallDependencies, MaterializeSource, ConfigureRuntimeFlags and
// DeclareNetworkContract, followed by Publish. Steps run strictly in order,
// are never retried, and any failure discards the staged environment.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"bootseq/internal/artifact"
	"bootseq/internal/baseimage"
	"bootseq/internal/installer"
	"bootseq/internal/layer"
	"bootseq/internal/manifest"
	"bootseq/internal/metrics"
	"bootseq/internal/registry"
	artifactrepo "bootseq/internal/repository/artifact"
	"bootseq/internal/worktree"
)

const (
	layerMediaType = layer.MediaType
	sourceDir      = "app"
)

var portVarRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Sequencer struct {
	Runtimes  baseimage.Source
	Installer installer.Installer
	Store     artifactrepo.Store
	// Registry is optional; without it tags are rejected.
	Registry registry.Registry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// StagingDir is where environments are staged. Empty means the system
	// temp directory.
	StagingDir string
}

func (s *Sequencer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// step runs fn and records its duration and outcome.
func (s *Sequencer) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	d := time.Since(start)
	kind := ""
	if err != nil {
		kind = KindOf(err).String()
	}
	s.Metrics.ObserveStep(name, d, err, kind)
	if err != nil {
		s.logger().Error("build step failed", "step", name, "duration", d, "error", err)
	} else {
		s.logger().Debug("build step done", "step", name, "duration", d)
	}
	return err
}

// Prepare stages the pinned base runtime named by base into a fresh
// environment and encodes it as the base layer.
func (s *Sequencer) Prepare(ctx context.Context, base string) (*Environment, error) {
	const op = "prepare"
	var env *Environment
	err := s.step(op, func() error {
		ref, err := baseimage.ParseRef(base)
		if err != nil {
			return EnvironmentUnavailable(op, err)
		}
		if s.Runtimes == nil {
			return EnvironmentUnavailable(op, errors.New("no base runtime source configured"))
		}
		root, err := os.MkdirTemp(s.StagingDir, "bootseq-build-")
		if err != nil {
			return EnvironmentUnavailable(op, err)
		}
		e := &Environment{
			Root:   root,
			Ref:    ref,
			Config: artifact.New("", "", ref.String()),
			blobs:  map[string][]byte{},
		}
		if err := s.Runtimes.Fetch(ctx, ref, root); err != nil {
			_ = e.Close()
			return EnvironmentUnavailable(op, fmt.Errorf("fetch %s: %w", ref, err))
		}
		blob, desc, err := layer.Encode(root, "")
		if err != nil {
			_ = e.Close()
			return EnvironmentUnavailable(op, fmt.Errorf("encode base layer: %w", err))
		}
		e.addLayer(artifact.RoleBase, blob, desc.Digest, desc.Size)
		e.stage = stagePrepared
		env = e
		return nil
	})
	return env, err
}

// InstallDependencies installs every manifest entry into site-packages, or
// nothing at all.
func (s *Sequencer) InstallDependencies(ctx context.Context, env *Environment, m *manifest.Manifest) error {
	const op = "install dependencies"
	if err := env.ready(stageInstalled); err != nil {
		return err
	}
	return s.step(op, func() error {
		if s.Installer == nil {
			return DependencyResolution(op, errors.New("no installer configured"))
		}
		if m == nil {
			m = &manifest.Manifest{}
		}
		pkgs, err := installer.Apply(ctx, s.Installer, m, env.Root)
		if err != nil {
			return DependencyResolution(op, err)
		}
		site := filepath.Join(env.Root, installer.SitePackages)
		blob, desc, err := layer.Encode(site, installer.SitePackages)
		if err != nil {
			return DependencyResolution(op, fmt.Errorf("encode dependencies layer: %w", err))
		}
		env.Packages = pkgs
		reqs := make([]artifact.Requirement, 0, len(pkgs))
		for _, p := range pkgs {
			reqs = append(reqs, artifact.Requirement{Name: p.Name, Extras: p.Extras, Constraint: p.Constraint, Version: p.Version})
		}
		env.Config.Requirements = reqs
		env.Config.SetEnv("PYTHONPATH", "${BOOTSEQ_ROOT}/"+installer.SitePackages)
		env.addLayer(artifact.RoleDependencies, blob, desc.Digest, desc.Size)
		env.stage = stageInstalled
		return nil
	})
}

// MaterializeSource copies the working tree at tree into the environment
// under the fixed app root and encodes it as the source layer.
func (s *Sequencer) MaterializeSource(ctx context.Context, env *Environment, tree string, opts worktree.Options) error {
	const op = "materialize source"
	if err := env.ready(stageMaterialized); err != nil {
		return err
	}
	return s.step(op, func() error {
		if err := ctx.Err(); err != nil {
			return SourceCopy(op, err)
		}
		dest := filepath.Join(env.Root, sourceDir)
		if _, err := os.Lstat(dest); err == nil {
			return SourceCopy(op, fmt.Errorf("base runtime already provides %s", artifact.Workdir))
		}
		files, err := worktree.Materialize(tree, dest, opts)
		if err != nil {
			return SourceCopy(op, err)
		}
		blob, desc, err := layer.Encode(dest, sourceDir)
		if err != nil {
			return SourceCopy(op, fmt.Errorf("encode source layer: %w", err))
		}
		env.addLayer(artifact.RoleSource, blob, desc.Digest, desc.Size)
		env.stage = stageMaterialized
		s.logger().Debug("source materialized", "files", len(files), "digest", desc.Digest)
		return nil
	})
}

// ConfigureRuntimeFlags writes the interpreter flags into the artifact env.
func (s *Sequencer) ConfigureRuntimeFlags(env *Environment, flags artifact.RuntimeFlags) error {
	if err := env.ready(stageFlagged); err != nil {
		return err
	}
	return s.step("configure runtime flags", func() error {
		for k, v := range flags.Env() {
			env.Config.SetEnv(k, v)
		}
		env.stage = stageFlagged
		return nil
	})
}

// DeclareNetworkContract records the variable the port is read from at
// launch. Nothing is bound.
func (s *Sequencer) DeclareNetworkContract(env *Environment, portVar string) error {
	if err := env.ready(stageDeclared); err != nil {
		return err
	}
	return s.step("declare network contract", func() error {
		portVar = strings.TrimSpace(portVar)
		if !portVarRe.MatchString(portVar) {
			return Publish("declare network contract", fmt.Errorf("invalid port variable name %q", portVar))
		}
		env.Config.Network = artifact.Network{PortVar: portVar, Address: "0.0.0.0", Protocol: "tcp"}
		env.stage = stageDeclared
		return nil
	})
}

// Publish writes the layers and then the config to the store, and points
// tag at the new artifact when one is given. A failed tag update leaves the
// artifact in the store, untagged but loadable by ID; the error names it.
func (s *Sequencer) Publish(ctx context.Context, env *Environment, tag string) (string, error) {
	const op = "publish"
	if err := env.ready(stagePublished); err != nil {
		return "", err
	}
	var id string
	err := s.step(op, func() error {
		if s.Store == nil {
			return Publish(op, errors.New("no artifact store configured"))
		}
		tag = strings.TrimSpace(tag)
		if tag != "" {
			if s.Registry == nil {
				return Publish(op, errors.New("tagging needs a registry"))
			}
			if err := registry.ValidateTag(tag); err != nil {
				return Publish(op, err)
			}
		}
		published, err := artifact.Publish(ctx, s.Store, env.Config, env.blobs)
		if err != nil {
			return Publish(op, err)
		}
		if tag != "" {
			if err := s.Registry.Set(ctx, tag, published); err != nil {
				return Publish(op, fmt.Errorf("tag %s (artifact %s published untagged): %w", tag, published, err))
			}
		}
		id = published
		env.stage = stagePublished
		return nil
	})
	return id, err
}
