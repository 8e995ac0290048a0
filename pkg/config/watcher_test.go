package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	prev := GetConfig()
	t.Cleanup(func() { SetConfig(prev) })

	path := writeConfig(t, validConfig)
	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, 10*time.Millisecond, func(cfg *Config) { reloaded <- cfg }, discardLogger())
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	updated := validConfig + "\n# touched\n"
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	// Keep rewriting until the watcher has registered and fires.
	for {
		select {
		case cfg := <-reloaded:
			if len(cfg.RateLimits.Users) != 1 {
				t.Errorf("expected reloaded policies, got %+v", cfg.RateLimits)
			}
			if GetConfig() == nil {
				t.Error("expected reload to set the active configuration")
			}
			return
		case <-tick.C:
			if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
				t.Fatalf("failed to rewrite config: %v", err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}

func TestWatcher_InvalidFileKeepsPrevious(t *testing.T) {
	var calls atomic.Int32
	path := writeConfig(t, validConfig)
	w, err := NewWatcher(path, time.Millisecond, func(*Config) { calls.Add(1) }, discardLogger())
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.watcher.Close()

	if err := os.WriteFile(path, []byte("storage: {backend: nope}\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}
	w.reload()

	if calls.Load() != 0 {
		t.Error("expected invalid configuration not to reach the callback")
	}
}

func TestWatcher_EventFilter(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "tollgate.yaml"), 0, func(*Config) {}, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.watcher.Close()

	dir := filepath.Dir(w.path)
	tests := []struct {
		event fsnotify.Event
		want  bool
	}{
		{fsnotify.Event{Name: filepath.Join(dir, "tollgate.yaml"), Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: filepath.Join(dir, "tollgate.yaml"), Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: filepath.Join(dir, "tollgate.yaml"), Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: filepath.Join(dir, "tollgate.yaml"), Op: fsnotify.Remove}, false},
		{fsnotify.Event{Name: filepath.Join(dir, "other.yaml"), Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		if got := w.shouldProcessEvent(tt.event); got != tt.want {
			t.Errorf("shouldProcessEvent(%s) = %v, want %v", tt.event, got, tt.want)
		}
	}
}

func TestNewWatcher_RequiresCallback(t *testing.T) {
	if _, err := NewWatcher("tollgate.yaml", 0, nil, nil); err == nil {
		t.Error("expected error without callback")
	}
}

func TestDebouncer(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var fired atomic.Int32
	for i := 0; i < 5; i++ {
		d.Trigger(func() { fired.Add(1) })
	}

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("expected one callback after burst, got %d", got)
	}

	d.Stop()
	d.Trigger(func() { fired.Add(1) })
	time.Sleep(50 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("expected no callback after Stop, got %d", got)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
