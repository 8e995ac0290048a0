package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/limits/storage"
)

func TestLiveness(t *testing.T) {
	c := New(0)
	c.Register("broken", func(context.Context) error { return errors.New("down") })

	if got := c.Liveness().Status; got != StatusOK {
		t.Errorf("Expected liveness %q regardless of checks, got %q", StatusOK, got)
	}
}

func TestReadiness(t *testing.T) {
	c := New(time.Second)

	report := c.Readiness(context.Background())
	if report.Status != StatusReady {
		t.Errorf("Expected ready with no checks, got %q", report.Status)
	}

	c.Register("ok", func(context.Context) error { return nil })
	c.Register("broken", func(context.Context) error { return errors.New("database is locked") })

	report = c.Readiness(context.Background())
	if report.Ready() {
		t.Error("Expected not ready with a failing check")
	}
	if report.Checks["ok"].Status != StatusOK {
		t.Errorf("Expected ok check to pass, got %+v", report.Checks["ok"])
	}
	broken := report.Checks["broken"]
	if broken.Status != StatusUnhealthy || broken.Message != "database is locked" {
		t.Errorf("Unexpected broken result: %+v", broken)
	}

	c.Unregister("broken")
	if !c.Readiness(context.Background()).Ready() {
		t.Error("Expected ready after removing the failing check")
	}
}

func TestReadiness_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	c.Register("slow", func(ctx context.Context) error {
		select {
		case <-release:
		case <-time.After(time.Second):
		}
		return nil
	})

	start := time.Now()
	report := c.Readiness(context.Background())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Expected readiness to give up after the timeout, took %v", elapsed)
	}
	if report.Checks["slow"].Status != StatusUnhealthy {
		t.Errorf("Expected slow check to be unhealthy, got %+v", report.Checks["slow"])
	}
}

func TestNames(t *testing.T) {
	c := New(0)
	c.Register("store", nil)
	c.Register("config", nil)

	names := c.Names()
	if len(names) != 2 || names[0] != "config" || names[1] != "store" {
		t.Errorf("Expected sorted names, got %v", names)
	}
}

func TestHandlers(t *testing.T) {
	c := New(time.Second)
	healthy := true
	c.Register("flag", Func(func() bool { return healthy }, "flag down"))

	mux := http.NewServeMux()
	Mount(mux, c, NewVersionInfo("1.2.3", "abc123", "2025-01-01"))

	tests := []struct {
		name     string
		method   string
		path     string
		healthy  bool
		wantCode int
	}{
		{"liveness", http.MethodGet, LivenessPath, true, http.StatusOK},
		{"ready", http.MethodGet, ReadinessPath, true, http.StatusOK},
		{"not ready", http.MethodGet, ReadinessPath, false, http.StatusServiceUnavailable},
		{"head", http.MethodHead, ReadinessPath, true, http.StatusOK},
		{"version", http.MethodGet, VersionPath, true, http.StatusOK},
		{"bad method", http.MethodPost, LivenessPath, true, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			healthy = tt.healthy
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.method == http.MethodHead && rec.Body.Len() != 0 {
				t.Error("Expected empty body for HEAD")
			}
		})
	}
}

func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler(NewVersionInfo("1.2.3", "abc123", "2025-01-01"))(rec, httptest.NewRequest(http.MethodGet, VersionPath, nil))

	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("Failed to decode version: %v", err)
	}
	if info.Version != "1.2.3" || info.Commit != "abc123" || info.GoVersion == "" {
		t.Errorf("Unexpected version info: %+v", info)
	}
}

func TestStoreCheck(t *testing.T) {
	store := storage.NewMemoryStore()
	check := StoreCheck(store)

	if err := check(context.Background()); err != nil {
		t.Errorf("Expected open store to be healthy, got %v", err)
	}
	if err := StoreCheck(nil)(context.Background()); err == nil {
		t.Error("Expected nil store to be unhealthy")
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
