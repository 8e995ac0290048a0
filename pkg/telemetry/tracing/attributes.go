package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys use the "tollgate.*" namespace.
const (
	AttrUser     = "tollgate.user"
	AttrSession  = "tollgate.session"
	AttrEndpoint = "tollgate.api_endpoint"
	AttrPriority = "tollgate.priority"

	AttrRateLimitAllowed   = "tollgate.rate_limit.allowed"
	AttrRateLimitRemaining = "tollgate.rate_limit.remaining"
	AttrRateLimitScope     = "tollgate.rate_limit.scope"
	AttrRateLimitFailOpen  = "tollgate.rate_limit.fail_open"

	AttrTokensRequested  = "tollgate.tokens.requested"
	AttrTokensAllocated  = "tollgate.tokens.allocated"
	AttrTokensRemaining  = "tollgate.tokens.remaining"
	AttrAdjustmentFactor = "tollgate.allocation.adjustment_factor"

	AttrErrorMessage = "error.message"
)

// RequestAttributes returns the attributes identifying a caller.
func RequestAttributes(user, endpoint string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrUser, user)}
	if endpoint != "" {
		attrs = append(attrs, attribute.String(AttrEndpoint, endpoint))
	}
	return attrs
}

// SetRateLimitAttributes records a rate-limit decision on span.
func SetRateLimitAttributes(span trace.Span, allowed bool, remaining int64, scope string, failOpen bool) {
	span.SetAttributes(
		attribute.Bool(AttrRateLimitAllowed, allowed),
		attribute.Int64(AttrRateLimitRemaining, remaining),
		attribute.String(AttrRateLimitScope, scope),
	)
	if failOpen {
		span.SetAttributes(attribute.Bool(AttrRateLimitFailOpen, true))
	}
}

// SetAllocationAttributes records an allocation outcome on span.
func SetAllocationAttributes(span trace.Span, priority string, requested, allocated, remaining int64, factor float64) {
	span.SetAttributes(
		attribute.String(AttrPriority, priority),
		attribute.Int64(AttrTokensRequested, requested),
		attribute.Int64(AttrTokensAllocated, allocated),
		attribute.Int64(AttrTokensRemaining, remaining),
		attribute.Float64(AttrAdjustmentFactor, factor),
	)
}

// SetSessionAttribute sets the session attribute when session is non-empty.
func SetSessionAttribute(span trace.Span, session string) {
	if session != "" {
		span.SetAttributes(attribute.String(AttrSession, session))
	}
}
