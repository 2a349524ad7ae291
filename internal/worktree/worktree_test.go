package worktree

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func write(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func paths(files []File, withDirs bool) []string {
	var out []string
	for _, f := range files {
		if f.IsDir && !withDirs {
			continue
		}
		out = append(out, f.Path)
	}
	return out
}

func TestList_SortedAndDefaultsSkipped(t *testing.T) {
	root := t.TempDir()
	write(t, root, "requirements.txt", "fastapi\n")
	write(t, root, "app/main.py", "app = None\n")
	write(t, root, "app/__pycache__/main.cpython-311.pyc", "junk")
	write(t, root, ".git/HEAD", "ref: refs/heads/main\n")

	files, err := List(root, Options{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"app", "app/main.py", "requirements.txt"}
	if got := paths(files, true); !slices.Equal(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
}

func TestList_IgnoreFileAndNegation(t *testing.T) {
	root := t.TempDir()
	write(t, root, IgnoreFileName, "# local junk\n*.log\ntests/\n!keep.log\n")
	write(t, root, "app/main.py", "")
	write(t, root, "debug.log", "")
	write(t, root, "keep.log", "")
	write(t, root, "tests/test_main.py", "")

	files, err := List(root, Options{Ignore: []string{"app/**/*.tmp"}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{IgnoreFileName, "app/main.py", "keep.log"}
	if got := paths(files, false); !slices.Equal(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
}

func TestList_InvalidPattern(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.txt", "")
	if _, err := List(root, Options{IgnoreFile: "-", Ignore: []string{"[unclosed"}}); err == nil {
		t.Fatalf("expected invalid pattern error")
	}
}

func TestList_RejectsEscapingSymlink(t *testing.T) {
	outside := t.TempDir()
	target := write(t, outside, "secret.txt", "nope")
	root := t.TempDir()
	write(t, root, "app/main.py", "")
	if err := os.Symlink(target, filepath.Join(root, "app", "secret.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if _, err := List(root, Options{}); err == nil {
		t.Fatalf("expected symlink escape to fail")
	}
}

func TestMaterialize_CopiesKeptFiles(t *testing.T) {
	root := t.TempDir()
	write(t, root, "app/main.py", "app = 1\n")
	write(t, root, "app/__init__.py", "")
	write(t, root, ".git/config", "")

	dest := filepath.Join(t.TempDir(), "app-root")
	files, err := Materialize(root, dest, Options{})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if len(paths(files, false)) != 2 {
		t.Fatalf("unexpected files: %+v", files)
	}
	got, err := os.ReadFile(filepath.Join(dest, "app", "main.py"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "app = 1\n" {
		t.Fatalf("content=%q", got)
	}
	if _, err := os.Stat(filepath.Join(dest, ".git")); !os.IsNotExist(err) {
		t.Fatalf(".git should not be materialized, err=%v", err)
	}
}
