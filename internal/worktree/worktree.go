// Package worktree enumerates and copies an application working tree in a
// stable order, honouring an ignore file in the tree root.
package worktree

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"bootseq/internal/safeio"
)

// IgnoreFileName is read from the tree root when Options.IgnoreFile is empty.
const IgnoreFileName = ".bootseqignore"

// Directories that never belong in a materialized tree.
var defaultIgnoredDirs = []string{".git", ".hg", ".svn", "__pycache__", ".mypy_cache", ".pytest_cache"}

// File is one entry of a working tree.
type File struct {
	// Tree-relative path using forward slashes (e.g., "app/main.py").
	Path  string
	IsDir bool
	Size  int64
}

// Options tunes enumeration.
type Options struct {
	// IgnoreFile overrides the ignore file name. "-" disables it.
	IgnoreFile string
	// Ignore adds patterns on top of the ignore file.
	Ignore []string
}

type matcher struct {
	patterns []pattern
}

type pattern struct {
	glob   string
	negate bool
}

func (m matcher) ignored(rel string) bool {
	out := false
	for _, p := range m.patterns {
		ok, _ := doublestar.Match(p.glob, rel)
		if !ok {
			ok, _ = doublestar.Match(p.glob+"/**", rel)
		}
		if ok {
			out = !p.negate
		}
	}
	return out
}

func loadMatcher(fsys *safeio.SafeFS, opts Options) (matcher, error) {
	var m matcher
	name := opts.IgnoreFile
	if name == "" {
		name = IgnoreFileName
	}
	var lines []string
	if name != "-" {
		raw, err := fsys.SafeReadFile(name)
		switch {
		case err == nil:
			sc := bufio.NewScanner(strings.NewReader(string(raw)))
			for sc.Scan() {
				lines = append(lines, sc.Text())
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return m, fmt.Errorf("read %s: %w", name, err)
		}
	}
	lines = append(lines, opts.Ignore...)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p := pattern{}
		if strings.HasPrefix(line, "!") {
			p.negate = true
			line = strings.TrimSpace(line[1:])
		}
		line = strings.Trim(filepath.ToSlash(line), "/")
		if line == "" {
			continue
		}
		if !doublestar.ValidatePattern(line) {
			return m, fmt.Errorf("invalid ignore pattern %q", line)
		}
		p.glob = line
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// List walks root and returns every kept entry sorted by path.
func List(root string, opts Options) ([]File, error) {
	fsys, err := safeio.NewSafeFS(root)
	if err != nil {
		return nil, err
	}
	return list(fsys, opts)
}

func list(fsys *safeio.SafeFS, opts Options) ([]File, error) {
	m, err := loadMatcher(fsys, opts)
	if err != nil {
		return nil, err
	}
	root := fsys.Root()
	var out []File
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			for _, skip := range defaultIgnoredDirs {
				if d.Name() == skip {
					return filepath.SkipDir
				}
			}
			if m.ignored(rel) {
				return filepath.SkipDir
			}
			out = append(out, File{Path: rel, IsDir: true})
			return nil
		}
		if m.ignored(rel) {
			return nil
		}
		// Symlinks are followed only while they stay inside the root.
		info, err := fsys.SafeStat(rel)
		if err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%s: directory symlinks are not supported", rel)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%s: unsupported file type %s", rel, info.Mode().Type())
		}
		out = append(out, File{Path: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Materialize copies the kept entries of root into dest. dest must not exist
// or be empty. It returns the copied entries.
func Materialize(root, dest string, opts Options) ([]File, error) {
	fsys, err := safeio.NewSafeFS(root)
	if err != nil {
		return nil, err
	}
	files, err := list(fsys, opts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, err
	}
	for _, f := range files {
		target := filepath.Join(dest, filepath.FromSlash(f.Path))
		if f.IsDir {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, err
			}
			continue
		}
		if err := fsys.CopyFile(filepath.FromSlash(f.Path), target); err != nil {
			return nil, fmt.Errorf("copy %s: %w", f.Path, err)
		}
	}
	return files, nil
}
