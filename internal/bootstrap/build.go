package bootstrap

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bootseq/internal/artifact"
	"bootseq/internal/manifest"
	"bootseq/internal/worktree"
)

// Request is everything one build needs.
type Request struct {
	Name       string
	Version    string
	Base       string
	Manifest   *manifest.Manifest
	Source     string
	Ignore     worktree.Options
	Entrypoint []string
	PortVar    string
	Flags      artifact.RuntimeFlags
	Tag        string
}

type Result struct {
	BuildID      string                 `json:"build_id"`
	ArtifactID   string                 `json:"artifact_id"`
	Tag          string                 `json:"tag,omitempty"`
	Base         string                 `json:"base"`
	Layers       []artifact.Layer       `json:"layers"`
	Requirements []artifact.Requirement `json:"requirements"`
	Duration     time.Duration          `json:"duration_ns"`
}

// Build runs every step in order and publishes the artifact. The first
// failure stops the build; the staging environment is always removed.
func (s *Sequencer) Build(ctx context.Context, req Request) (*Result, error) {
	buildID := uuid.NewString()
	log := s.logger().With("build_id", buildID)
	start := time.Now()

	res, err := s.build(ctx, req)
	kind := ""
	if err != nil {
		kind = KindOf(err).String()
	}
	s.Metrics.ObserveBuild(err, kind)
	if err != nil {
		log.Error("build failed", "kind", kind, "exit_code", ExitCode(err), "error", err)
		return nil, err
	}
	res.BuildID = buildID
	res.Duration = time.Since(start)
	log.Info("build published", "artifact_id", res.ArtifactID, "tag", res.Tag, "duration", res.Duration)
	return res, nil
}

func (s *Sequencer) build(ctx context.Context, req Request) (*Result, error) {
	env, err := s.Prepare(ctx, req.Base)
	if err != nil {
		return nil, err
	}
	defer env.Close()

	env.Config.Name = req.Name
	env.Config.Version = req.Version
	env.Config.Entrypoint = append([]string(nil), req.Entrypoint...)
	if len(env.Config.Entrypoint) == 0 {
		env.Config.Entrypoint = []string{artifact.StaticEntrypoint}
	}

	if err := s.InstallDependencies(ctx, env, req.Manifest); err != nil {
		return nil, err
	}
	if err := s.MaterializeSource(ctx, env, req.Source, req.Ignore); err != nil {
		return nil, err
	}
	if err := s.ConfigureRuntimeFlags(env, req.Flags); err != nil {
		return nil, err
	}
	portVar := req.PortVar
	if portVar == "" {
		portVar = artifact.DefaultPortVar
	}
	if err := s.DeclareNetworkContract(env, portVar); err != nil {
		return nil, err
	}
	id, err := s.Publish(ctx, env, req.Tag)
	if err != nil {
		return nil, err
	}
	return &Result{
		ArtifactID:   id,
		Tag:          req.Tag,
		Base:         env.Config.Base,
		Layers:       env.Config.Layers,
		Requirements: env.Config.Requirements,
	}, nil
}
