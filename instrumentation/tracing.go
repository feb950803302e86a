package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never record authorization codes or access tokens in traces
// or metrics. Only record metadata such as client IDs, outcomes and error codes.
const (
	AttrClientID     = "oauth.client_id"
	AttrResponseType = "oauth.response_type"
	AttrGrantType    = "oauth.grant_type"
	AttrRedirectURI  = "oauth.redirect_uri" // may contain sensitive query data
	AttrStatePresent = "oauth.state_present"
	AttrCodeReuse    = "oauth.code.reuse"
	AttrError        = "oauth.error"

	// Plugin attributes
	AttrPluginName    = "plugin.name"
	AttrPluginOutcome = "plugin.outcome"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageType      = "storage.type"

	// Security attributes
	AttrClientIP = "security.client_ip"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddGrantAttributes adds authorization request attributes to a span (nil-safe)
func AddGrantAttributes(span trace.Span, clientID, redirectURI string, hasState bool) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if redirectURI != "" {
		SetSpanAttributes(span, attribute.String(AttrRedirectURI, redirectURI))
	}
	SetSpanAttributes(span, attribute.Bool(AttrStatePresent, hasState))
}

// AddPluginAttributes adds extension point attributes to a span (nil-safe)
func AddPluginAttributes(span trace.Span, name, outcome string) {
	SetSpanAttributes(span,
		attribute.String(AttrPluginName, name),
		attribute.String(AttrPluginOutcome, outcome),
	)
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds security-related attributes to a span (nil-safe)
//
// PRIVACY NOTE: check ShouldLogClientIPs before calling this function.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
