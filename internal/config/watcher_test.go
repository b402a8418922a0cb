package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/internal/config"
)

func writeConfig(t *testing.T, path, yaml string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcherInitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxbridge.yaml")
	writeConfig(t, path, "server:\n  log_level: info\n")

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("initial config: %+v", w.Current().Server)
	}
}

func TestWatcherInitialLoadFailure(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxbridge.yaml")
	writeConfig(t, path, "server:\n  log_level: loud\n")

	if _, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond)); err == nil {
		t.Fatal("expected error for invalid initial config, got nil")
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxbridge.yaml")
	writeConfig(t, path, "server:\n  log_level: info\n")

	var mu sync.Mutex
	var gotNew *config.Config
	onChange := func(_, new *config.Config) {
		mu.Lock()
		gotNew = new
		mu.Unlock()
	}
	w, err := config.NewWatcher(path, onChange, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Backdate the mtime so the rewrite is guaranteed to look newer even
	// on coarse filesystem clocks.
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	writeConfig(t, path, "server:\n  log_level: debug\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := gotNew != nil
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotNew == nil {
		t.Fatal("onChange never fired")
	}
	if gotNew.Server.LogLevel != config.LogDebug {
		t.Errorf("new config: %+v", gotNew.Server)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current after reload: %+v", w.Current().Server)
	}
}

func TestWatcherKeepsPreviousOnInvalidRewrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxbridge.yaml")
	writeConfig(t, path, "server:\n  log_level: info\n")

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	writeConfig(t, path, "server:\n  log_level: loud\n")

	time.Sleep(100 * time.Millisecond)
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("invalid rewrite must keep previous config: %+v", w.Current().Server)
	}
}
