package security

// Audit event types. Every event written by Auditor uses one of these values
// for its event_type attribute.
const (
	// EventAuthorizationStarted is logged when a valid GET /authorize request is accepted
	EventAuthorizationStarted = "authorization_started"

	// EventAuthorizationCodeIssued is logged when a code is stored for a client
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeExchanged is logged when a code is redeemed for an access token
	EventAuthorizationCodeExchanged = "authorization_code_exchanged"

	// EventAuthorizationCodeReuseDetected is logged when a used code is presented again
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventClientAuthFailure is logged when the token endpoint rejects client credentials
	EventClientAuthFailure = "client_auth_failure"

	// EventInvalidRedirect is logged when a redirect_uri is malformed, unregistered or mismatched
	EventInvalidRedirect = "invalid_redirect"

	// EventPluginFailed is logged when a plugin returns an error other than a decline
	EventPluginFailed = "plugin_failed"

	// EventRateLimitExceeded is logged when a request is rejected by a rate limiter
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventLoginFailed is logged when the login form rejects a user's credentials
	EventLoginFailed = "login_failed"
)
