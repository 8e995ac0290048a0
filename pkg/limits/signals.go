package limits

import (
	"context"
	"time"
)

// LoadSignal reports system load as a percentage in [0, 100]. ok is false
// when no reading is available, in which case the load adjustment is skipped.
type LoadSignal interface {
	SystemLoad(ctx context.Context) (percent float64, ok bool)
}

// LoadFunc adapts a function to LoadSignal.
type LoadFunc func(ctx context.Context) (float64, bool)

// SystemLoad calls f.
func (f LoadFunc) SystemLoad(ctx context.Context) (float64, bool) {
	return f(ctx)
}

// StaticLoad is a fixed load reading.
type StaticLoad float64

// SystemLoad returns s.
func (s StaticLoad) SystemLoad(context.Context) (float64, bool) {
	return float64(s), true
}

// DefaultLoadCapacity is the entity count ConfiguredEntitiesLoad treats as 100%.
const DefaultLoadCapacity = 100

// ConfiguredEntitiesLoad approximates load from the number of configured
// users and endpoints. It is a coarse proxy; production deployments should
// supply a LoadSignal backed by real utilization.
type ConfiguredEntitiesLoad struct {
	// Count returns the number of configured entities.
	Count func() int

	// Capacity is the count that maps to 100%. Default: 100
	Capacity int
}

// SystemLoad returns min(100, Count/Capacity*100).
func (c ConfiguredEntitiesLoad) SystemLoad(context.Context) (float64, bool) {
	if c.Count == nil {
		return 0, false
	}
	capacity := c.Capacity
	if capacity <= 0 {
		capacity = DefaultLoadCapacity
	}
	load := float64(c.Count()) / float64(capacity) * 100
	if load > 100 {
		load = 100
	}
	return load, true
}

// TimeOfDayFactor favours off-peak hours and damps business hours:
// 02:00-05:00 1.2, 22:00-06:00 1.1, 09:00-17:00 0.9, otherwise 1.0.
func TimeOfDayFactor(t time.Time) float64 {
	h := t.Hour()
	switch {
	case h >= 2 && h < 5:
		return 1.2
	case h >= 22 || h < 6:
		return 1.1
	case h >= 9 && h < 17:
		return 0.9
	default:
		return 1.0
	}
}
