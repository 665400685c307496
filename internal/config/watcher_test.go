package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, path string, maxConcurrency int) {
	t.Helper()

	content := fmt.Sprintf("server:\n  listen: \"127.0.0.1:8000\"\npool:\n  max_concurrency: %d\n", maxConcurrency)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func startWatcher(t *testing.T, w *Watcher) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = w.Watch(ctx)
	}()
	// Allow the watcher to subscribe.
	time.Sleep(50 * time.Millisecond)
	return cancel
}

func TestNewWatcherPathResolution(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeTestConfig(t, path, 1)

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	absPath, _ := filepath.Abs(path)
	if w.Path() != absPath {
		t.Errorf("Expected path %s, got %s", absPath, w.Path())
	}
}

func TestNewWatcherInvalidPath(t *testing.T) {
	t.Parallel()

	w, err := NewWatcher("/nonexistent/path/to/config.yaml")
	if err == nil {
		w.Close()
		t.Fatal("Expected error for non-existent path")
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeTestConfig(t, path, 1)

	w, err := NewWatcher(path, WithDebounceDelay(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	got := make(chan int, 4)
	w.OnReload(func(cfg *Config) error {
		got <- cfg.Pool.MaxConcurrency
		return nil
	})

	cancel := startWatcher(t, w)
	defer cancel()

	writeTestConfig(t, path, 9)

	select {
	case n := <-got:
		if n != 9 {
			t.Errorf("Expected reloaded max_concurrency=9, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Callback not invoked within timeout")
	}
}

func TestWatcherCoalescesBursts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeTestConfig(t, path, 1)

	w, err := NewWatcher(path, WithDebounceDelay(200*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	var calls atomic.Int32
	w.OnReload(func(*Config) error {
		calls.Add(1)
		return nil
	})

	cancel := startWatcher(t, w)
	defer cancel()

	for i := range 5 {
		writeTestConfig(t, path, i+2)
	}
	time.Sleep(600 * time.Millisecond)

	if n := calls.Load(); n < 1 || n > 2 {
		t.Errorf("Expected burst to coalesce into 1-2 reloads, got %d", n)
	}
}

func TestWatcherSkipsInvalidConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeTestConfig(t, path, 1)

	w, err := NewWatcher(path, WithDebounceDelay(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	var calls atomic.Int32
	w.OnReload(func(*Config) error {
		calls.Add(1)
		return nil
	})

	cancel := startWatcher(t, w)
	defer cancel()

	if err := os.WriteFile(path, []byte("pool:\n  max_concurrency: -3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("Expected invalid config to be skipped, got %d reloads", calls.Load())
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeTestConfig(t, path, 1)

	w, err := NewWatcher(path, WithDebounceDelay(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	var calls atomic.Int32
	w.OnReload(func(*Config) error {
		calls.Add(1)
		return nil
	})

	cancel := startWatcher(t, w)
	defer cancel()

	writeTestConfig(t, filepath.Join(dir, "other.yaml"), 3)
	time.Sleep(300 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("Expected no reloads for other files, got %d", calls.Load())
	}
}

func TestWatcherWatchReturnsOnCancel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeTestConfig(t, path, 1)

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatcherClose(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeTestConfig(t, path, 1)

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- w.Watch(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Close(); !errors.Is(err, ErrWatcherClosed) {
		t.Errorf("Expected ErrWatcherClosed on second close, got %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after Close")
	}
}
