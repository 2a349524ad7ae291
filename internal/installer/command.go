package installer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"bootseq/internal/manifest"
)

// DefaultCommand installs with pip into {target} without keeping a cache.
var DefaultCommand = []string{
	"pip", "install",
	"--no-cache-dir",
	"--disable-pip-version-check",
	"--no-input",
	"--target", "{target}",
}

// CommandInstaller delegates to an external installer. {target} and {cache}
// in Command are replaced; the requirements are appended as arguments.
// Installed versions are read back from the *.dist-info directories the
// command leaves in the target.
type CommandInstaller struct {
	Command []string
	Env     []string
}

// runCommand is injectable in tests.
var runCommand = func(ctx context.Context, env []string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, lastLines(string(out), 20))
	}
	return nil
}

func (c CommandInstaller) Install(ctx context.Context, m *manifest.Manifest, target, cacheDir string) ([]Package, error) {
	if m.Len() == 0 {
		return []Package{}, nil
	}
	command := c.Command
	if len(command) == 0 {
		command = DefaultCommand
	}
	repl := strings.NewReplacer("{target}", target, "{cache}", cacheDir)
	args := make([]string, 0, len(command)+m.Len())
	for _, a := range command[1:] {
		args = append(args, repl.Replace(a))
	}
	for _, req := range m.Requirements {
		args = append(args, req.String())
	}
	env := append([]string{
		"TMPDIR=" + cacheDir,
		"PIP_CACHE_DIR=" + filepath.Join(cacheDir, "pip"),
		"PIP_NO_CACHE_DIR=1",
	}, c.Env...)

	if err := runCommand(ctx, env, repl.Replace(command[0]), args...); err != nil {
		return nil, err
	}

	installed, err := distInfoVersions(target)
	if err != nil {
		return nil, err
	}
	pkgs := make([]Package, 0, m.Len())
	var unresolved []Unresolved
	for _, req := range m.Requirements {
		v, ok := installed[req.Name]
		if !ok {
			unresolved = append(unresolved, Unresolved{Requirement: req.String(), Reason: "not installed by " + command[0]})
			continue
		}
		if !req.Constraint.IsAny() && manifest.ValidVersion(v) && !req.Constraint.Allows(v) {
			unresolved = append(unresolved, Unresolved{Requirement: req.String(), Reason: "installed version " + v + " does not satisfy the constraint"})
			continue
		}
		pkgs = append(pkgs, Package{Name: req.Name, Extras: req.Extras, Constraint: req.Constraint.String(), Version: v})
	}
	if len(unresolved) > 0 {
		return nil, &UnresolvedError{Entries: unresolved}
	}
	return pkgs, nil
}

// distInfoVersions maps normalized package names to versions using the
// "<name>-<version>.dist-info" directories in dir.
func distInfoVersions(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		base, ok := strings.CutSuffix(e.Name(), ".dist-info")
		if !ok {
			continue
		}
		i := strings.LastIndex(base, "-")
		if i <= 0 {
			continue
		}
		out[manifest.NormalizeName(base[:i])] = base[i+1:]
	}
	return out, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
