package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatcher_NotifiesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{path, other} {
		if err := os.WriteFile(p, []byte("services: []\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan string, 4)
	w := NewWatcher(zerolog.Nop(), 20*time.Millisecond)
	if err := w.Watch(ctx, []string{path}, func(p string) { changed <- p }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := os.WriteFile(other, []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if err := os.WriteFile(path, []byte("services: []\nversion: \"2\"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case got := <-changed:
		want, _ := filepath.Abs(path)
		if got != want {
			t.Errorf("expected change for %s, got %s", want, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w := NewWatcher(zerolog.Nop(), 0)
	err := w.Watch(context.Background(), []string{filepath.Join(t.TempDir(), "absent", "services.yaml")}, func(string) {})
	if err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestWatcher_DirectoryTree(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "team")
	if err := os.Mkdir(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan string, 4)
	w := NewWatcher(zerolog.Nop(), 20*time.Millisecond)
	if err := w.Watch(ctx, []string{root}, func(p string) { changed <- p }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	path := filepath.Join(nested, "layering.rego")
	if err := os.WriteFile(path, []byte("package layering\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-changed:
		want, _ := filepath.Abs(path)
		if got != want {
			t.Errorf("expected change for %s, got %s", want, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}
