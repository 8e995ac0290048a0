package limits

import (
	"context"
	"testing"
	"time"
)

func TestTimeOfDayFactor(t *testing.T) {
	tests := map[int]float64{
		0:  1.1,
		2:  1.2,
		4:  1.2,
		5:  1.1,
		6:  1.0,
		8:  1.0,
		9:  0.9,
		16: 0.9,
		17: 1.0,
		21: 1.0,
		22: 1.1,
		23: 1.1,
	}
	for hour, want := range tests {
		ts := time.Date(2025, 1, 6, hour, 30, 0, 0, time.UTC)
		if got := TimeOfDayFactor(ts); got != want {
			t.Errorf("TimeOfDayFactor(%02d:30) = %v, want %v", hour, got, want)
		}
	}
}

func TestConfiguredEntitiesLoad(t *testing.T) {
	ctx := context.Background()

	if _, ok := (ConfiguredEntitiesLoad{}).SystemLoad(ctx); ok {
		t.Error("Expected no reading without a counter")
	}

	count := 25
	load := ConfiguredEntitiesLoad{Count: func() int { return count }}
	if got, ok := load.SystemLoad(ctx); !ok || got != 25 {
		t.Errorf("Expected 25%%, got %v (ok=%v)", got, ok)
	}

	count = 500
	if got, _ := load.SystemLoad(ctx); got != 100 {
		t.Errorf("Expected load capped at 100, got %v", got)
	}

	load.Capacity = 1000
	if got, _ := load.SystemLoad(ctx); got != 50 {
		t.Errorf("Expected 50%% with capacity 1000, got %v", got)
	}
}

func TestLoadAdapters(t *testing.T) {
	ctx := context.Background()

	if got, ok := StaticLoad(70).SystemLoad(ctx); !ok || got != 70 {
		t.Errorf("StaticLoad = %v/%v", got, ok)
	}

	f := LoadFunc(func(context.Context) (float64, bool) { return 0, false })
	if _, ok := f.SystemLoad(ctx); ok {
		t.Error("Expected LoadFunc result passed through")
	}
}

func TestLimiterDefaultLoadTracksPolicies(t *testing.T) {
	r := newTestLimiter(t, Config{})
	for _, u := range []string{"a", "b", "c"} {
		if err := r.SetUserRateLimit(u, daily(1)); err != nil {
			t.Fatalf("SetUserRateLimit failed: %v", err)
		}
	}
	if err := r.SetAPIRateLimit(testEndpoint, daily(1)); err != nil {
		t.Fatalf("SetAPIRateLimit failed: %v", err)
	}

	if got, ok := r.load.SystemLoad(context.Background()); !ok || got != 4 {
		t.Errorf("Expected load 4%% for 4 policies, got %v", got)
	}
}
