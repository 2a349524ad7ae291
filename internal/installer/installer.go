// Package installer installs the packages a manifest names into a build
// environment. Installation is all-or-nothing: packages land in a scratch
// directory that only replaces the target once every entry succeeded.
package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bootseq/internal/manifest"
)

// SitePackages is the directory, relative to the environment root, that
// installed packages end up in.
const SitePackages = "site-packages"

// Package is an installed manifest entry.
type Package struct {
	Name       string
	Extras     []string
	Constraint string
	Version    string
}

// Installer installs every requirement of m into target. cacheDir is a
// private scratch directory the installer may use for downloads; it is
// removed once Install returns.
type Installer interface {
	Install(ctx context.Context, m *manifest.Manifest, target, cacheDir string) ([]Package, error)
}

// Unresolved names a requirement that could not be satisfied.
type Unresolved struct {
	Requirement string
	Reason      string
}

// UnresolvedError reports every unsatisfiable requirement, not just the
// first.
type UnresolvedError struct {
	Entries []Unresolved
}

func (e *UnresolvedError) Error() string {
	parts := make([]string, 0, len(e.Entries))
	for _, u := range e.Entries {
		parts = append(parts, u.Requirement+": "+u.Reason)
	}
	return fmt.Sprintf("%d unresolvable requirement(s): %s", len(e.Entries), strings.Join(parts, "; "))
}

// Requirements returns the failing requirement strings.
func (e *UnresolvedError) Requirements() []string {
	out := make([]string, 0, len(e.Entries))
	for _, u := range e.Entries {
		out = append(out, u.Requirement)
	}
	return out
}

// Apply runs inst against a scratch directory inside envDir and moves the
// result to envDir/site-packages on success. On failure nothing is left
// behind in envDir.
func Apply(ctx context.Context, inst Installer, m *manifest.Manifest, envDir string) ([]Package, error) {
	if inst == nil {
		return nil, fmt.Errorf("installer is nil")
	}
	final := filepath.Join(envDir, SitePackages)
	if _, err := os.Lstat(final); err == nil {
		return nil, fmt.Errorf("%s already exists in the environment", SitePackages)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cacheDir, err := os.MkdirTemp("", "bootseq-install-cache-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(cacheDir)

	scratch, err := os.MkdirTemp(envDir, ".install-")
	if err != nil {
		return nil, err
	}
	pkgs, err := inst.Install(ctx, m, scratch, cacheDir)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = os.RemoveAll(scratch)
		return nil, err
	}
	if err := os.Chmod(scratch, 0o755); err != nil {
		_ = os.RemoveAll(scratch)
		return nil, err
	}
	if err := os.Rename(scratch, final); err != nil {
		_ = os.RemoveAll(scratch)
		return nil, err
	}
	return pkgs, nil
}
