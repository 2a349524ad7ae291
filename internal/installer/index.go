package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bootseq/internal/layer"
	"bootseq/internal/manifest"
	"bootseq/internal/worktree"
)

// ArchiveExt marks a packaged version inside an index: an encoded layer
// holding the package files.
const ArchiveExt = ".tar.zst"

// IndexInstaller installs from a local package index laid out as
// Root/<name>/<version>/ (unpacked) or Root/<name>/<version>.tar.zst.
// The index carries no dependency metadata, so requirements with extras are
// reported unresolved rather than installed without them.
type IndexInstaller struct {
	Root string
}

type candidate struct {
	version string
	path    string
	archive bool
}

// Resolve picks a version for every requirement. It fails with an
// UnresolvedError listing every entry that has no acceptable version.
func (ix IndexInstaller) Resolve(m *manifest.Manifest) ([]Package, error) {
	pkgs, _, err := ix.resolve(m)
	return pkgs, err
}

func (ix IndexInstaller) resolve(m *manifest.Manifest) ([]Package, []candidate, error) {
	root := strings.TrimSpace(ix.Root)
	if root == "" {
		return nil, nil, fmt.Errorf("package index is not configured")
	}
	if _, err := os.Stat(root); err != nil {
		return nil, nil, fmt.Errorf("package index: %w", err)
	}
	names, err := indexNames(root)
	if err != nil {
		return nil, nil, err
	}

	pkgs := make([]Package, 0, m.Len())
	picks := make([]candidate, 0, m.Len())
	var unresolved []Unresolved
	for _, req := range m.Requirements {
		if len(req.Extras) > 0 {
			unresolved = append(unresolved, Unresolved{Requirement: req.String(), Reason: "extras are not supported by the package index"})
			continue
		}
		dir, ok := names[req.Name]
		if !ok {
			unresolved = append(unresolved, Unresolved{Requirement: req.String(), Reason: "no such package in index"})
			continue
		}
		cands, err := versions(filepath.Join(root, dir))
		if err != nil {
			return nil, nil, err
		}
		avail := make([]string, 0, len(cands))
		for v := range cands {
			avail = append(avail, v)
		}
		best, ok := req.Constraint.Best(avail)
		if !ok {
			reason := "no version satisfies the constraint"
			if len(avail) == 0 {
				reason = "package has no versions"
			}
			unresolved = append(unresolved, Unresolved{Requirement: req.String(), Reason: reason})
			continue
		}
		pkgs = append(pkgs, Package{Name: req.Name, Constraint: req.Constraint.String(), Version: best})
		picks = append(picks, cands[best])
	}
	if len(unresolved) > 0 {
		return nil, nil, &UnresolvedError{Entries: unresolved}
	}
	return pkgs, picks, nil
}

// Install resolves the whole manifest before copying anything.
func (ix IndexInstaller) Install(ctx context.Context, m *manifest.Manifest, target, cacheDir string) ([]Package, error) {
	pkgs, picks, err := ix.resolve(m)
	if err != nil {
		return nil, err
	}
	for i, c := range picks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src := c.path
		if c.archive {
			blob, err := os.ReadFile(c.path)
			if err != nil {
				return nil, err
			}
			src = filepath.Join(cacheDir, pkgs[i].Name+"-"+c.version)
			if err := layer.Extract(blob, src); err != nil {
				return nil, fmt.Errorf("unpack %s %s: %w", pkgs[i].Name, c.version, err)
			}
		}
		if err := checkConflicts(src, target); err != nil {
			return nil, fmt.Errorf("install %s %s: %w", pkgs[i].Name, c.version, err)
		}
		if _, err := worktree.Materialize(src, target, worktree.Options{IgnoreFile: "-"}); err != nil {
			return nil, fmt.Errorf("install %s %s: %w", pkgs[i].Name, c.version, err)
		}
	}
	return pkgs, nil
}

// indexNames maps normalized package names to their directory names.
func indexNames(root string) (map[string]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out[manifest.NormalizeName(e.Name())] = e.Name()
	}
	return out, nil
}

func versions(dir string) (map[string]candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]candidate, len(entries))
	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir() && manifest.ValidVersion(name):
			out[name] = candidate{version: name, path: filepath.Join(dir, name)}
		case !e.IsDir() && strings.HasSuffix(name, ArchiveExt):
			v := strings.TrimSuffix(name, ArchiveExt)
			if _, dup := out[v]; dup || !manifest.ValidVersion(v) {
				continue
			}
			out[v] = candidate{version: v, path: filepath.Join(dir, name), archive: true}
		}
	}
	return out, nil
}

// checkConflicts fails when src would overwrite a file an earlier package
// already installed.
func checkConflicts(src, target string) error {
	files, err := worktree.List(src, worktree.Options{IgnoreFile: "-"})
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.IsDir {
			continue
		}
		_, err := os.Lstat(filepath.Join(target, filepath.FromSlash(f.Path)))
		if err == nil {
			return fmt.Errorf("%s is already provided by another package", f.Path)
		}
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
