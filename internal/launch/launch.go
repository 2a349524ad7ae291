// Package launch starts a process from a published artifact: it resolves the
// listen port, unpacks the artifact into a run directory, binds 0.0.0.0:PORT
// and then either execs the artifact entrypoint or serves the materialized
// tree in-process.
package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"bootseq/internal/artifact"
	"bootseq/internal/bootstrap"
	"bootseq/internal/config"
	"bootseq/internal/metrics"
	"bootseq/internal/registry"
	artifactrepo "bootseq/internal/repository/artifact"
)

const (
	ModeExec   = "exec"
	ModeStatic = "static"

	// RootVar is expanded to the run directory in the artifact env and
	// entrypoint.
	RootVar = "BOOTSEQ_ROOT"

	defaultShutdownTimeout = 5 * time.Second
)

type Launcher struct {
	Store    artifactrepo.Store
	Registry registry.Registry
	// RunDir holds one directory per running instance. Empty means the
	// system temp directory.
	RunDir string
	// Lookup reads the process environment. Defaults to os.LookupEnv.
	Lookup func(string) (string, bool)

	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	CORSOrigins     []string
	ShutdownTimeout time.Duration
	Stdout, Stderr  io.Writer
}

func (l *Launcher) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l *Launcher) lookup(key string) (string, bool) {
	if l.Lookup == nil {
		return os.LookupEnv(key)
	}
	return l.Lookup(key)
}

func (l *Launcher) shutdownTimeout() time.Duration {
	if l.ShutdownTimeout <= 0 {
		return defaultShutdownTimeout
	}
	return l.ShutdownTimeout
}

// Instance is an unpacked artifact holding its bound listener.
type Instance struct {
	ID     string
	Config *artifact.Config
	Port   config.Port
	Dir    string

	launcher *Launcher
	ln       net.Listener
}

// Addr is the bound listen address.
func (in *Instance) Addr() net.Addr {
	if in.ln == nil {
		return nil
	}
	return in.ln.Addr()
}

func (in *Instance) Mode() string {
	if in.Config.IsStatic() {
		return ModeStatic
	}
	return ModeExec
}

// Close releases the listener and removes the run directory.
func (in *Instance) Close() error {
	var errs []error
	if in.ln != nil {
		if err := in.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		in.ln = nil
	}
	if in.Dir != "" {
		errs = append(errs, os.RemoveAll(in.Dir))
		in.Dir = ""
	}
	return errors.Join(errs...)
}

// Start resolves ref (an artifact id or a tag), resolves the port the
// artifact declares, unpacks it and binds the listener. Every failure is a
// LaunchError and leaves nothing bound. The port is checked before anything
// is written to disk.
func (l *Launcher) Start(ctx context.Context, ref string) (*Instance, error) {
	id, err := ResolveRef(ctx, l.Registry, ref)
	if err != nil {
		return nil, bootstrap.Launch("resolve artifact", err)
	}
	if l.Store == nil {
		return nil, bootstrap.Launch("load artifact", errors.New("no artifact store configured"))
	}
	cfg, err := artifact.Load(ctx, l.Store, id)
	if err != nil {
		return nil, bootstrap.Launch("load artifact", err)
	}
	port, err := config.ResolvePort(l.lookup, cfg.Network.PortVar)
	if err != nil {
		return nil, bootstrap.Launch("resolve port", err)
	}

	if l.RunDir != "" {
		if err := os.MkdirAll(l.RunDir, 0o755); err != nil {
			return nil, bootstrap.Launch("prepare run directory", err)
		}
	}
	dir, err := os.MkdirTemp(l.RunDir, "run-")
	if err != nil {
		return nil, bootstrap.Launch("prepare run directory", err)
	}
	in := &Instance{ID: id, Config: cfg, Port: port, Dir: dir, launcher: l}
	if err := artifact.Unpack(ctx, l.Store, cfg, dir); err != nil {
		_ = in.Close()
		return nil, bootstrap.Launch("unpack artifact", err)
	}

	ln, err := net.Listen("tcp", port.Addr())
	if err != nil {
		_ = in.Close()
		return nil, bootstrap.Launch("bind", err)
	}
	in.ln = ln
	l.logger().Info("artifact ready", "artifact_id", id, "addr", ln.Addr().String(), "mode", in.Mode(), "dir", dir)
	return in, nil
}

// ResolveRef turns an artifact id or a tag into an artifact id.
func ResolveRef(ctx context.Context, reg registry.Registry, ref string) (string, error) {
	if id, err := artifact.NormalizeID(ref); err == nil {
		return id, nil
	}
	if reg == nil {
		return "", fmt.Errorf("%q is not an artifact id and no registry is configured", ref)
	}
	if err := registry.ValidateTag(ref); err != nil {
		return "", err
	}
	return reg.Resolve(ctx, ref)
}

// Serve runs the instance until ctx is cancelled or the process it started
// exits. In exec mode the child's exit status is returned unclassified so it
// becomes the process exit code.
func (in *Instance) Serve(ctx context.Context) error {
	l := in.launcher
	mode := in.Mode()
	var err error
	if mode == ModeStatic {
		err = in.serveStatic(ctx)
	} else {
		err = in.exec(ctx)
	}
	kind := ""
	if err != nil {
		kind = bootstrap.KindOf(err).String()
	}
	l.Metrics.ObserveLaunch(mode, err, kind)
	return err
}

// Run is Start, Serve and Close.
func (l *Launcher) Run(ctx context.Context, ref string) error {
	in, err := l.Start(ctx, ref)
	if err != nil {
		l.Metrics.ObserveLaunch("start", err, bootstrap.KindOf(err).String())
		l.logger().Error("launch failed", "ref", ref, "error", err)
		return err
	}
	dir := in.Dir
	defer func() {
		if err := in.Close(); err != nil {
			l.logger().Warn("cleanup run directory", "dir", dir, "error", err)
		}
	}()
	return in.Serve(ctx)
}

func (in *Instance) appDir() string {
	return filepath.Join(in.Dir, filepath.Base(artifact.Workdir))
}
