// Package allocation decides how many tokens a request receives from a
// remaining budget.
//
// Strategies compose by wrapping. The comprehensive chain is built in a fixed
// order, each stage wrapping the previous one:
//
//	PriorityBased -> DynamicPriority -> EmergencyOverride -> BurstToken
//
// so the emergency and burst stages see the dynamically adjusted allocation
// and dominate when their context flags are set.
//
//	s, err := allocation.NewComprehensive(allocation.DefaultConfig())
//	granted := s.Allocate(1000, allocation.PriorityHigh, &allocation.Context{BurstMode: true})
//
// Every strategy returns a value in [0, available] and returns 0 when
// available <= 0. All percentage math floors to an integer.
package allocation
