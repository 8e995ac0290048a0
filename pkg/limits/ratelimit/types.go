package ratelimit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Window is the granularity of a rate-limit window.
type Window string

const (
	// WindowMinute resets at the top of every minute.
	WindowMinute Window = "minute"

	// WindowHour resets at the top of every hour.
	WindowHour Window = "hour"

	// WindowDay resets at midnight.
	WindowDay Window = "day"

	// WindowWeek resets at Monday 00:00.
	WindowWeek Window = "week"

	// WindowCustom is a sliding window of CustomWindow length.
	WindowCustom Window = "custom"
)

// ParseWindow converts a case-insensitive name into a Window.
func ParseWindow(s string) (Window, error) {
	w := Window(strings.ToLower(strings.TrimSpace(s)))
	switch w {
	case WindowMinute, WindowHour, WindowDay, WindowWeek, WindowCustom:
		return w, nil
	}
	return "", fmt.Errorf("%w: unknown window %q", ErrInvalidConfig, s)
}

// ErrInvalidConfig is returned when a rate-limit configuration is invalid.
var ErrInvalidConfig = errors.New("invalid rate limit configuration")

// Config is the rate-limit policy for a user or an API endpoint.
type Config struct {
	// MaxRequests is the number of request units allowed per window.
	MaxRequests int `yaml:"max_requests" json:"max_requests"`

	// Window is the window granularity.
	Window Window `yaml:"window" json:"window"`

	// CustomWindow is the sliding window length. Required iff Window is custom.
	CustomWindow time.Duration `yaml:"custom_window,omitempty" json:"custom_window,omitempty"`

	// BurstAllowance is extra request units permitted on top of MaxRequests.
	BurstAllowance int `yaml:"burst_allowance,omitempty" json:"burst_allowance,omitempty"`

	// EmergencyBypass lets requests through while the limiter is in
	// emergency mode.
	EmergencyBypass bool `yaml:"emergency_bypass,omitempty" json:"emergency_bypass,omitempty"`
}

// Validate checks the policy. Invalid policies are rejected, never corrected.
func (c Config) Validate() error {
	if c.MaxRequests <= 0 {
		return fmt.Errorf("%w: max_requests must be positive, got %d", ErrInvalidConfig, c.MaxRequests)
	}
	if c.BurstAllowance < 0 {
		return fmt.Errorf("%w: burst_allowance must be non-negative, got %d", ErrInvalidConfig, c.BurstAllowance)
	}
	if _, err := ParseWindow(string(c.Window)); err != nil {
		return err
	}
	if c.Window == WindowCustom && c.CustomWindow <= 0 {
		return fmt.Errorf("%w: custom_window is required for a custom window", ErrInvalidConfig)
	}
	if c.Window != WindowCustom && c.CustomWindow != 0 {
		return fmt.Errorf("%w: custom_window is only valid for a custom window", ErrInvalidConfig)
	}
	return nil
}

// Limit returns the effective number of units allowed per window.
func (c Config) Limit() int64 {
	return int64(c.MaxRequests) + int64(c.BurstAllowance)
}
