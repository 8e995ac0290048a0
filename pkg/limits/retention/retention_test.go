package retention

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/limits/storage"
)

type runRecord struct {
	success  bool
	removed  int
	unixTime int64
}

type fakeRecorder struct {
	runs []runRecord
}

func (f *fakeRecorder) RecordRetentionRun(success bool, removed int, unixTime int64) {
	f.runs = append(f.runs, runRecord{success, removed, unixTime})
}

type failingStore struct {
	storage.Store
}

func (failingStore) Cleanup(context.Context, time.Time) (int, error) {
	return 0, errors.New("disk full")
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPruner_Prune(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)
	store := storage.NewMemoryStoreWithConfig(storage.MemoryStoreConfig{Now: func() time.Time { return now }})
	t.Cleanup(func() { _ = store.Close() })

	for _, age := range []time.Duration{time.Hour, 10 * 24 * time.Hour, 40 * 24 * time.Hour, 90 * 24 * time.Hour} {
		rec := &storage.UsageRecord{UserID: "alice", TokensUsed: 10, Timestamp: now.Add(-age)}
		if err := store.LogTokenUsage(ctx, rec); err != nil {
			t.Fatalf("LogTokenUsage failed: %v", err)
		}
	}

	recorder := &fakeRecorder{}
	p, err := NewPruner(store, 30*24*time.Hour, recorder, discard())
	if err != nil {
		t.Fatalf("NewPruner failed: %v", err)
	}
	p.now = func() time.Time { return now }

	removed, err := p.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 records removed, got %d", removed)
	}

	left, err := store.GetUserTokenUsage(ctx, "alice", time.Time{}, now)
	if err != nil {
		t.Fatalf("GetUserTokenUsage failed: %v", err)
	}
	if len(left) != 2 {
		t.Errorf("Expected 2 records kept, got %d", len(left))
	}

	if len(recorder.runs) != 1 || recorder.runs[0] != (runRecord{true, 2, now.Unix()}) {
		t.Errorf("Unexpected recorded runs: %+v", recorder.runs)
	}
}

func TestPruner_StoreFailure(t *testing.T) {
	recorder := &fakeRecorder{}
	p, err := NewPruner(failingStore{}, time.Hour, recorder, discard())
	if err != nil {
		t.Fatalf("NewPruner failed: %v", err)
	}

	if _, err := p.Prune(context.Background()); err == nil {
		t.Fatal("Expected error from failing store")
	}
	if len(recorder.runs) != 1 || recorder.runs[0].success {
		t.Errorf("Expected one failed run recorded, got %+v", recorder.runs)
	}
}

func TestNewPruner_Validation(t *testing.T) {
	if _, err := NewPruner(nil, time.Hour, nil, nil); err == nil {
		t.Error("Expected error without store")
	}
	if _, err := NewPruner(storage.NewMemoryStore(), 0, nil, nil); err == nil {
		t.Error("Expected error for zero retention")
	}
}

func TestScheduler_Start(t *testing.T) {
	tests := []struct {
		name        string
		schedule    string
		wantRunning bool
		wantError   bool
	}{
		{"valid daily schedule", "0 3 * * *", true, false},
		{"valid hourly schedule", "0 * * * *", true, false},
		{"empty schedule", "", false, false},
		{"invalid schedule", "invalid cron", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			defer store.Close()

			p, err := NewPruner(store, time.Hour, nil, discard())
			if err != nil {
				t.Fatalf("NewPruner failed: %v", err)
			}
			s := NewScheduler(p, tt.schedule, discard())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err = s.Start(ctx)
			if (err != nil) != tt.wantError {
				t.Fatalf("Start() error = %v, wantError %v", err, tt.wantError)
			}
			if s.IsRunning() != tt.wantRunning {
				t.Errorf("IsRunning() = %v, want %v", s.IsRunning(), tt.wantRunning)
			}
			if tt.wantRunning && s.NextRun().IsZero() {
				t.Error("Expected a next run time")
			}

			s.Stop()
			if s.IsRunning() {
				t.Error("Expected scheduler to be stopped")
			}
		})
	}
}

func TestScheduler_StopsOnCancel(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()

	p, err := NewPruner(store, time.Hour, nil, discard())
	if err != nil {
		t.Fatalf("NewPruner failed: %v", err)
	}
	s := NewScheduler(p, "*/5 * * * *", discard())

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("Expected second Start to fail")
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for s.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.IsRunning() {
		t.Error("Expected scheduler to stop after context cancellation")
	}
}
