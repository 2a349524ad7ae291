package launch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"bootseq/internal/bootstrap"
)

// Environment returns the child environment: the launcher's own environment,
// then the artifact env with ${BOOTSEQ_ROOT} and the port variable expanded,
// then the port variable itself. Later entries win.
func (in *Instance) Environment(base []string) []string {
	portVar := in.Config.Network.PortVar
	vars := map[string]string{}
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	vars[RootVar] = in.Dir
	vars[portVar] = in.Port.String()
	for _, kv := range in.Config.Env {
		k, v, _ := strings.Cut(kv, "=")
		vars[k] = in.expand(v)
	}
	vars[portVar] = in.Port.String()
	if bin := filepath.Join(in.Dir, "bin"); isDir(bin) {
		vars["PATH"] = bin + string(os.PathListSeparator) + vars["PATH"]
	}

	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Argv is the entrypoint with ${BOOTSEQ_ROOT} and the port variable expanded.
// Other references are left for the child to interpret.
func (in *Instance) Argv() []string {
	out := make([]string, len(in.Config.Entrypoint))
	for i, a := range in.Config.Entrypoint {
		out[i] = in.expand(a)
	}
	return out
}

func (in *Instance) expand(s string) string {
	portVar := in.Config.Network.PortVar
	return os.Expand(s, func(name string) string {
		switch name {
		case RootVar:
			return in.Dir
		case portVar:
			return in.Port.String()
		default:
			return "${" + name + "}"
		}
	})
}

// command resolves argv[0] against the unpacked runtime's bin directory
// before the launcher's PATH.
func (in *Instance) command(argv []string) (string, error) {
	name := argv[0]
	if strings.ContainsRune(name, '/') {
		if !filepath.IsAbs(name) {
			name = filepath.Join(in.appDir(), name)
		}
		return name, nil
	}
	if p := filepath.Join(in.Dir, "bin", name); isExecutable(p) {
		return p, nil
	}
	return exec.LookPath(name)
}

// exec hands the port over to the entrypoint. The probe listener is released
// immediately before the child starts, so the child can bind the same
// address.
func (in *Instance) exec(ctx context.Context) error {
	l := in.launcher
	argv := in.Argv()
	path, err := in.command(argv)
	if err != nil {
		return bootstrap.Launch("resolve entrypoint", err)
	}

	cmd := exec.CommandContext(ctx, path, argv[1:]...)
	cmd.Dir = in.appDir()
	cmd.Env = in.Environment(os.Environ())
	cmd.Stdin = os.Stdin
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = l.shutdownTimeout()

	if err := in.ln.Close(); err != nil {
		return bootstrap.Launch("release listener", err)
	}
	in.ln = nil

	if err := cmd.Start(); err != nil {
		return bootstrap.Launch("start entrypoint", err)
	}
	l.logger().Info("entrypoint started", "pid", cmd.Process.Pid, "argv", argv, "port", in.Port.String())

	err = cmd.Wait()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if ctx.Err() != nil && errors.As(err, &exitErr) {
		l.logger().Info("entrypoint stopped", "status", exitErr.ExitCode())
		return nil
	}
	if errors.As(err, &exitErr) {
		return fmt.Errorf("entrypoint %s: %w", filepath.Base(path), err)
	}
	return bootstrap.Launch("wait entrypoint", err)
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func isExecutable(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular() && info.Mode()&0o111 != 0
}
