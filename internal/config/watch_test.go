package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxeledit.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("write default: %v", err)
	}

	reloaded := make(chan *Config, 4)
	w := NewWatcher(path, slog.New(slog.NewTextHandler(io.Discard, nil)), func(cfg *Config) {
		reloaded <- cfg
	})
	w.delay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cfg := Default()
	cfg.Edit.BlockChangesPerSecond = 1234
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher has registered and picked the change up.
		if err := Write(path, cfg); err != nil {
			t.Fatalf("write config: %v", err)
		}
		select {
		case got := <-reloaded:
			if got.Edit.BlockChangesPerSecond != 1234 {
				t.Fatalf("expected reloaded budget 1234, got %d", got.Edit.BlockChangesPerSecond)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("watcher returned error: %v", err)
			}
			return
		case <-deadline:
			t.Fatalf("watcher never reloaded %s", path)
		case <-tick.C:
		}
	}
}

func TestWatcherIgnoresInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxeledit.yaml")
	if err := os.WriteFile(path, []byte("edit:\n  undoHistorySize: -1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	called := false
	w := NewWatcher(path, slog.New(slog.NewTextHandler(io.Discard, nil)), func(*Config) { called = true })
	w.delay = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(path, []byte("edit:\n  undoHistorySize: -2\n"), 0o600)
	}()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("watcher returned error: %v", err)
	}
	if called {
		t.Fatalf("expected invalid config to be ignored")
	}
}
