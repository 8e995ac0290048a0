package allocation

import (
	"fmt"
)

// Kind names a strategy chain.
type Kind string

const (
	// KindPriority is the bare priority split.
	KindPriority Kind = "priority"

	// KindDynamic is priority plus history/load/time adjustment.
	KindDynamic Kind = "dynamic"

	// KindEmergency is dynamic plus emergency override.
	KindEmergency Kind = "emergency"

	// KindComprehensive is the full chain: priority, dynamic, emergency, burst.
	KindComprehensive Kind = "comprehensive"
)

// Config describes a strategy chain.
type Config struct {
	// Kind selects how much of the chain is built.
	// Default: comprehensive
	Kind Kind `yaml:"strategy"`

	// Percentages is the per-priority split. Default: 50/30/20.
	Percentages Percentages `yaml:"percentages"`

	// Weights controls the dynamic adjustment. Default: 0.3/0.2/0.1.
	Weights Weights `yaml:"weights"`

	// OverridePercentage is the emergency share. Default: 0.8.
	OverridePercentage float64 `yaml:"override_percentage"`

	// BurstMultiplier is the burst-mode multiplier. Default: 2.0.
	BurstMultiplier float64 `yaml:"burst_multiplier"`

	// MaxBurstTokens caps a burst allocation. Default: 1000.
	MaxBurstTokens int64 `yaml:"max_burst_tokens"`
}

// DefaultConfig returns the comprehensive chain with default parameters.
func DefaultConfig() Config {
	return Config{
		Kind:               KindComprehensive,
		Percentages:        DefaultPercentages(),
		Weights:            DefaultWeights(),
		OverridePercentage: DefaultOverridePercentage,
		BurstMultiplier:    DefaultBurstMultiplier,
		MaxBurstTokens:     DefaultMaxBurstTokens,
	}
}

// ApplyDefaults fills zero-valued fields. Percentages are only defaulted when
// all three are zero so that a partial split still fails validation.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Kind == "" {
		c.Kind = d.Kind
	}
	if c.Percentages == (Percentages{}) {
		c.Percentages = d.Percentages
	}
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.OverridePercentage == 0 {
		c.OverridePercentage = d.OverridePercentage
	}
	if c.BurstMultiplier == 0 {
		c.BurstMultiplier = d.BurstMultiplier
	}
	if c.MaxBurstTokens == 0 {
		c.MaxBurstTokens = d.MaxBurstTokens
	}
}

// New builds the chain selected by cfg.Kind. Each stage wraps the previous
// one in the fixed order priority, dynamic, emergency, burst.
func New(cfg Config) (Strategy, error) {
	cfg.ApplyDefaults()

	base, err := NewPriorityBased(cfg.Percentages)
	if err != nil {
		return nil, err
	}

	var s Strategy = base
	if cfg.Kind == KindPriority {
		return s, nil
	}

	s = NewDynamicPriority(s, cfg.Weights)
	if cfg.Kind == KindDynamic {
		return s, nil
	}

	s, err = NewEmergencyOverride(s, cfg.OverridePercentage)
	if err != nil {
		return nil, err
	}
	if cfg.Kind == KindEmergency {
		return s, nil
	}

	if cfg.Kind != KindComprehensive {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidParameter, cfg.Kind)
	}
	return NewBurstToken(s, cfg.BurstMultiplier, cfg.MaxBurstTokens)
}

// NewComprehensive builds the full chain regardless of cfg.Kind.
func NewComprehensive(cfg Config) (Strategy, error) {
	cfg.Kind = KindComprehensive
	return New(cfg)
}

// AdjustmentFactor returns the dynamic adjustment factor s would apply to ctx,
// or 1.0 if the chain has no dynamic stage.
func AdjustmentFactor(s Strategy, ctx *Context) float64 {
	for s != nil {
		if d, ok := s.(*DynamicPriority); ok {
			return d.AdjustmentFactor(ctx)
		}
		w, ok := s.(Wrapper)
		if !ok {
			break
		}
		s = w.Unwrap()
	}
	return 1.0
}

// Overrides reports which short-circuit stages of s fire for ctx.
func Overrides(s Strategy, ctx *Context) (emergency, burst bool) {
	for s != nil {
		switch v := s.(type) {
		case *EmergencyOverride:
			emergency = emergency || v.Active(ctx)
		case *BurstToken:
			burst = burst || v.Active(ctx)
		}
		w, ok := s.(Wrapper)
		if !ok {
			break
		}
		s = w.Unwrap()
	}
	return emergency, burst
}
