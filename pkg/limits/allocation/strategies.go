package allocation

import (
	"fmt"
	"math"
)

// percentageTolerance is the allowed deviation of the percentage sum from 1.0.
const percentageTolerance = 1e-6

// Percentages is the share of the available budget per priority.
type Percentages struct {
	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`
	Low    float64 `yaml:"low"`
}

// DefaultPercentages returns the 50/30/20 split.
func DefaultPercentages() Percentages {
	return Percentages{High: 0.5, Medium: 0.3, Low: 0.2}
}

// Validate checks that each share is in [0, 1] and that they sum to 1.0.
func (p Percentages) Validate() error {
	for name, v := range map[string]float64{"high": p.High, "medium": p.Medium, "low": p.Low} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s percentage %.4f outside [0, 1]", ErrInvalidPercentages, name, v)
		}
	}
	if sum := p.High + p.Medium + p.Low; math.Abs(sum-1.0) > percentageTolerance {
		return fmt.Errorf("%w: percentages sum to %.4f, must sum to 1.0", ErrInvalidPercentages, sum)
	}
	return nil
}

// PriorityBased splits the available budget by a fixed per-priority share.
// It is the base of every strategy chain.
type PriorityBased struct {
	percentages Percentages
}

// NewPriorityBased creates the base strategy. The percentages must sum to 1.0.
func NewPriorityBased(p Percentages) (*PriorityBased, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &PriorityBased{percentages: p}, nil
}

// Allocate returns floor(available * percentage(priority)).
func (s *PriorityBased) Allocate(available int64, priority Priority, _ *Context) int64 {
	if available <= 0 {
		return 0
	}
	return clamp(floorMul(available, s.Percentage(priority)), available)
}

// Percentage returns the configured share for priority. Unknown priorities
// receive the low share.
func (s *PriorityBased) Percentage(priority Priority) float64 {
	switch priority {
	case PriorityHigh:
		return s.percentages.High
	case PriorityMedium:
		return s.percentages.Medium
	default:
		return s.percentages.Low
	}
}

// Weights controls how strongly each context signal moves the allocation.
type Weights struct {
	History float64 `yaml:"history"`
	Load    float64 `yaml:"load"`
	Time    float64 `yaml:"time"`
}

// DefaultWeights returns history=0.3, load=0.2, time=0.1.
func DefaultWeights() Weights {
	return Weights{History: 0.3, Load: 0.2, Time: 0.1}
}

const (
	minAdjustment = 0.1
	maxAdjustment = 3.0
)

// DynamicPriority scales the wrapped allocation by a factor derived from the
// user's history, the system load and the time of day.
//
// Each present signal s with weight w contributes a multiplier of
// 1 + w*(s-1); the product is clamped to [0.1, 3.0].
type DynamicPriority struct {
	base    Strategy
	weights Weights
}

// NewDynamicPriority wraps base with history/load/time adjustment.
func NewDynamicPriority(base Strategy, w Weights) *DynamicPriority {
	return &DynamicPriority{base: base, weights: w}
}

// Allocate returns the base allocation multiplied by the adjustment factor.
func (s *DynamicPriority) Allocate(available int64, priority Priority, ctx *Context) int64 {
	if available <= 0 {
		return 0
	}
	base := s.base.Allocate(available, priority, ctx)
	return clamp(floorMul(base, s.AdjustmentFactor(ctx)), available)
}

// Percentage delegates to the wrapped strategy.
func (s *DynamicPriority) Percentage(priority Priority) float64 {
	return s.base.Percentage(priority)
}

// Unwrap returns the wrapped strategy.
func (s *DynamicPriority) Unwrap() Strategy {
	return s.base
}

// AdjustmentFactor computes the clamped multiplier for ctx.
func (s *DynamicPriority) AdjustmentFactor(ctx *Context) float64 {
	factor := 1.0
	if ctx == nil {
		return factor
	}

	if ctx.UserHistory != nil {
		factor *= weighted(HistoryFactor(ctx.UserHistory), s.weights.History)
	}
	if ctx.SystemLoad != nil {
		factor *= weighted(LoadFactor(*ctx.SystemLoad), s.weights.Load)
	}
	if ctx.TimeFactor != nil {
		factor *= weighted(*ctx.TimeFactor, s.weights.Time)
	}

	return math.Min(maxAdjustment, math.Max(minAdjustment, factor))
}

// HistoryFactor rewards compliant moderate users and throttles heavy ones.
func HistoryFactor(h *UserHistory) float64 {
	switch {
	case h.ComplianceScore > 0.8 && h.UsageRatio > 0.5 && h.UsageRatio < 0.9:
		return 1.1
	case h.UsageRatio > 0.95:
		return 0.8
	case h.UsageRatio < 0.3:
		return 1.2
	default:
		return 1.0
	}
}

// LoadFactor shrinks allocations under load and grows them when idle.
func LoadFactor(loadPercent float64) float64 {
	switch {
	case loadPercent > 80:
		return 0.7
	case loadPercent > 60:
		return 0.85
	case loadPercent < 20:
		return 1.1
	default:
		return 1.0
	}
}

// weighted blends a signal toward 1.0. The explicit conversion keeps the
// product from being fused into a multiply-add.
func weighted(signal, weight float64) float64 {
	return 1 + float64(weight*(signal-1))
}

// DefaultOverridePercentage is the share granted during an emergency.
const DefaultOverridePercentage = 0.8

// EmergencyOverride bypasses the wrapped strategy entirely when the context
// declares an emergency, granting a fixed share of the available budget.
type EmergencyOverride struct {
	base               Strategy
	overridePercentage float64
}

// NewEmergencyOverride wraps base. overridePct must be in (0, 1].
func NewEmergencyOverride(base Strategy, overridePct float64) (*EmergencyOverride, error) {
	if overridePct <= 0 || overridePct > 1 {
		return nil, fmt.Errorf("%w: override percentage %.4f outside (0, 1]", ErrInvalidParameter, overridePct)
	}
	return &EmergencyOverride{base: base, overridePercentage: overridePct}, nil
}

// Allocate short-circuits to floor(available * override) in an emergency.
func (s *EmergencyOverride) Allocate(available int64, priority Priority, ctx *Context) int64 {
	if available <= 0 {
		return 0
	}
	if s.Active(ctx) {
		return clamp(floorMul(available, s.overridePercentage), available)
	}
	return clamp(s.base.Allocate(available, priority, ctx), available)
}

// Active reports whether ctx triggers the override.
func (s *EmergencyOverride) Active(ctx *Context) bool {
	return ctx != nil && (ctx.EmergencyOverride || ctx.SystemEmergency)
}

// Percentage delegates to the wrapped strategy.
func (s *EmergencyOverride) Percentage(priority Priority) float64 {
	return s.base.Percentage(priority)
}

// Unwrap returns the wrapped strategy.
func (s *EmergencyOverride) Unwrap() Strategy {
	return s.base
}

const (
	// DefaultBurstMultiplier is the burst-mode multiplier.
	DefaultBurstMultiplier = 2.0

	// DefaultMaxBurstTokens caps a single burst allocation.
	DefaultMaxBurstTokens int64 = 1000
)

// BurstToken multiplies the wrapped allocation in burst mode, capped by
// maxBurst and by the available budget.
type BurstToken struct {
	base       Strategy
	multiplier float64
	maxBurst   int64
}

// NewBurstToken wraps base. multiplier must be >= 1 and maxBurst > 0.
func NewBurstToken(base Strategy, multiplier float64, maxBurst int64) (*BurstToken, error) {
	if multiplier < 1 {
		return nil, fmt.Errorf("%w: burst multiplier %.4f must be >= 1", ErrInvalidParameter, multiplier)
	}
	if maxBurst <= 0 {
		return nil, fmt.Errorf("%w: max burst tokens %d must be positive", ErrInvalidParameter, maxBurst)
	}
	return &BurstToken{base: base, multiplier: multiplier, maxBurst: maxBurst}, nil
}

// Allocate returns min(wrapped*multiplier, maxBurst, available) in burst mode.
func (s *BurstToken) Allocate(available int64, priority Priority, ctx *Context) int64 {
	if available <= 0 {
		return 0
	}
	allocated := s.base.Allocate(available, priority, ctx)
	if !s.Active(ctx) {
		return clamp(allocated, available)
	}
	burst := floorMul(allocated, s.multiplier)
	if burst > s.maxBurst {
		burst = s.maxBurst
	}
	return clamp(burst, available)
}

// Active reports whether ctx requests burst mode.
func (s *BurstToken) Active(ctx *Context) bool {
	return ctx != nil && ctx.BurstMode
}

// Percentage delegates to the wrapped strategy.
func (s *BurstToken) Percentage(priority Priority) float64 {
	return s.base.Percentage(priority)
}

// Unwrap returns the wrapped strategy.
func (s *BurstToken) Unwrap() Strategy {
	return s.base
}

// floorMul returns floor(v * f), saturating at math.MaxInt64.
func floorMul(v int64, f float64) int64 {
	r := math.Floor(float64(v) * f)
	if r >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(r)
}
