package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"

	artifactrepo "bootseq/internal/repository/artifact"
)

func runRegistryContract(t *testing.T, r Registry) {
	t.Helper()
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "demo:1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.Set(ctx, "demo:1", "sha256:aaa"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := r.Set(ctx, "demo:latest", "sha256:aaa"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := r.Set(ctx, "demo:latest", "sha256:bbb"); err != nil {
		t.Fatalf("move: %v", err)
	}
	id, err := r.Resolve(ctx, "demo:latest")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "sha256:bbb" {
		t.Fatalf("tag not moved, got %s", id)
	}
	entries, err := r.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []Entry{{Tag: "demo:1", ID: "sha256:aaa"}, {Tag: "demo:latest", ID: "sha256:bbb"}}
	if len(entries) != len(want) {
		t.Fatalf("entries=%v want=%v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Fatalf("entries=%v want=%v", entries, want)
		}
	}
	for _, bad := range []string{"", "../x", "-x", "a b"} {
		if err := r.Set(ctx, bad, "sha256:aaa"); err == nil {
			t.Fatalf("expected error for tag %q", bad)
		}
	}
}

func TestMemoryRegistryContract(t *testing.T) {
	runRegistryContract(t, NewMemoryRegistry())
}

func TestStoreRegistryContract(t *testing.T) {
	runRegistryContract(t, StoreRegistry{Store: artifactrepo.NewDiskStore(t.TempDir())})
}

func TestRedisRegistryContract(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	r := NewRedisRegistryFromClient(backend.NewClient(&backend.Options{Addr: mr.Addr()}), WithKey("test:tags"))
	if err := r.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	runRegistryContract(t, r)

	if got := mr.HGet("test:tags", "demo:1"); got != "sha256:aaa" {
		t.Fatalf("unexpected hash content %q", got)
	}
}
