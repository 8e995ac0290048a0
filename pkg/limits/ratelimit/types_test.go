package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"day", Config{MaxRequests: 10, Window: WindowDay}, false},
		{"custom", Config{MaxRequests: 5, Window: WindowCustom, CustomWindow: 90 * time.Second}, false},
		{"with burst", Config{MaxRequests: 5, Window: WindowMinute, BurstAllowance: 2}, false},
		{"zero max", Config{MaxRequests: 0, Window: WindowDay}, true},
		{"unknown window", Config{MaxRequests: 1, Window: "fortnight"}, true},
		{"custom without length", Config{MaxRequests: 1, Window: WindowCustom}, true},
		{"length without custom", Config{MaxRequests: 1, Window: WindowHour, CustomWindow: time.Minute}, true},
		{"negative burst", Config{MaxRequests: 1, Window: WindowHour, BurstAllowance: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow(" HOUR ")
	if err != nil || w != WindowHour {
		t.Errorf("ParseWindow(HOUR) = %q, %v", w, err)
	}
	if _, err := ParseWindow("yearly"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestConfig_Limit(t *testing.T) {
	cfg := Config{MaxRequests: 10, Window: WindowDay, BurstAllowance: 3}
	if got := cfg.Limit(); got != 13 {
		t.Errorf("Expected limit 13, got %d", got)
	}
}

func TestConfig_WindowStart(t *testing.T) {
	// Thursday 2025-03-13 14:37:52.5 UTC
	now := time.Date(2025, 3, 13, 14, 37, 52, 500, time.UTC)

	tests := []struct {
		cfg  Config
		want time.Time
		end  time.Time
	}{
		{
			Config{Window: WindowMinute},
			time.Date(2025, 3, 13, 14, 37, 0, 0, time.UTC),
			time.Date(2025, 3, 13, 14, 38, 0, 0, time.UTC),
		},
		{
			Config{Window: WindowHour},
			time.Date(2025, 3, 13, 14, 0, 0, 0, time.UTC),
			time.Date(2025, 3, 13, 15, 0, 0, 0, time.UTC),
		},
		{
			Config{Window: WindowDay},
			time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			Config{Window: WindowWeek},
			time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
		},
		{
			Config{Window: WindowCustom, CustomWindow: 90 * time.Second},
			now.Add(-90 * time.Second),
			now,
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.cfg.Window), func(t *testing.T) {
			start := tt.cfg.Start(now)
			if !start.Equal(tt.want) {
				t.Errorf("Start = %v, want %v", start, tt.want)
			}
			if end := tt.cfg.End(start); !end.Equal(tt.end) {
				t.Errorf("End = %v, want %v", end, tt.end)
			}
		})
	}
}

func TestConfig_WeekStartsMonday(t *testing.T) {
	cfg := Config{Window: WindowWeek}
	monday := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	// Sunday belongs to the week that started the previous Monday.
	sunday := time.Date(2025, 3, 16, 23, 59, 0, 0, time.UTC)
	if got := cfg.Start(sunday); !got.Equal(monday) {
		t.Errorf("Sunday: Start = %v, want %v", got, monday)
	}
	if got := cfg.Start(monday); !got.Equal(monday) {
		t.Errorf("Monday: Start = %v, want %v", got, monday)
	}
}

func TestConfig_Duration(t *testing.T) {
	tests := map[Window]time.Duration{
		WindowMinute: time.Minute,
		WindowHour:   time.Hour,
		WindowDay:    24 * time.Hour,
		WindowWeek:   7 * 24 * time.Hour,
	}
	for w, want := range tests {
		if got := (Config{Window: w}).Duration(); got != want {
			t.Errorf("%s: Duration = %v, want %v", w, got, want)
		}
	}
	custom := Config{Window: WindowCustom, CustomWindow: 42 * time.Second}
	if got := custom.Duration(); got != 42*time.Second {
		t.Errorf("custom: Duration = %v", got)
	}
}
