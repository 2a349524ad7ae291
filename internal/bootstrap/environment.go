package bootstrap

import (
	"fmt"
	"os"

	"bootseq/internal/artifact"
	"bootseq/internal/baseimage"
	"bootseq/internal/installer"
)

type stage int

const (
	stagePrepared stage = iota + 1
	stageInstalled
	stageMaterialized
	stageFlagged
	stageDeclared
	stagePublished
)

var stageNames = map[stage]string{
	stagePrepared:     "Prepare",
	stageInstalled:    "InstallDependencies",
	stageMaterialized: "MaterializeSource",
	stageFlagged:      "ConfigureRuntimeFlags",
	stageDeclared:     "DeclareNetworkContract",
	stagePublished:    "Publish",
}

// Environment is a build in progress: a staging directory holding the base
// runtime, then the installed packages under site-packages, then the working
// tree under app, plus the artifact config assembled so far. Nothing is
// visible outside the staging directory until Publish.
type Environment struct {
	Root     string
	Ref      baseimage.Ref
	Config   *artifact.Config
	Packages []installer.Package

	blobs map[string][]byte
	stage stage
}

// ready reports whether next is the step that may run now.
func (e *Environment) ready(next stage) error {
	if e == nil {
		return fmt.Errorf("environment is nil")
	}
	if e.Root == "" {
		return fmt.Errorf("environment is closed")
	}
	if e.stage != next-1 {
		return fmt.Errorf("%s must follow %s", stageNames[next], stageNames[next-1])
	}
	return nil
}

func (e *Environment) addLayer(role artifact.Role, blob []byte, digest string, size int64) {
	e.blobs[digest] = blob
	e.Config.SetLayer(artifact.Layer{
		Role:      role,
		MediaType: layerMediaType,
		Digest:    digest,
		Size:      size,
	})
}

// Close removes the staging directory. It is safe to call more than once.
func (e *Environment) Close() error {
	if e == nil || e.Root == "" {
		return nil
	}
	err := os.RemoveAll(e.Root)
	e.Root = ""
	return err
}
