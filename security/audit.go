package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// EventRecorder is notified for every audit event that is logged, so the
// caller can count them without the security package depending on metrics.
type EventRecorder func(eventType string)

// Auditor writes security events to a structured logger. Authorization codes
// and user names are hashed before they reach the log.
type Auditor struct {
	logger   *slog.Logger
	enabled  bool
	recorder EventRecorder
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// SetRecorder registers a callback invoked for each logged event.
func (a *Auditor) SetRecorder(recorder EventRecorder) {
	if a == nil {
		return
	}
	a.recorder = recorder
}

// Event represents a security audit event
type Event struct {
	Type      string
	ClientID  string
	Code      string
	UserID    string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed secrets
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	attrs := []any{
		"event_type", event.Type,
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"timestamp", event.Timestamp,
	}
	if event.Code != "" {
		attrs = append(attrs, "code_hash", hashForLogging(event.Code))
	}
	if event.UserID != "" {
		attrs = append(attrs, "user_id_hash", hashForLogging(event.UserID))
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, "details", event.Details)
	}

	a.logger.Info("security_audit", attrs...)

	if a.recorder != nil {
		a.recorder(event.Type)
	}
}

// LogAuthorizationStarted logs an accepted authorization request
func (a *Auditor) LogAuthorizationStarted(clientID, ipAddress string, hasState bool) {
	a.LogEvent(Event{
		Type:      EventAuthorizationStarted,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"state_present": hasState,
		},
	})
}

// LogCodeIssued logs when an authorization code is stored
func (a *Auditor) LogCodeIssued(clientID, code, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeIssued,
		ClientID:  clientID,
		Code:      code,
		IPAddress: ipAddress,
	})
}

// LogCodeExchanged logs a successful code redemption
func (a *Auditor) LogCodeExchanged(clientID, code, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeExchanged,
		ClientID:  clientID,
		Code:      code,
		IPAddress: ipAddress,
	})
}

// LogCodeReuse logs an attempt to redeem a code that was already used
func (a *Auditor) LogCodeReuse(clientID, code, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeReuseDetected,
		ClientID:  clientID,
		Code:      code,
		IPAddress: ipAddress,
		Details: map[string]any{
			"severity": "high",
		},
	})
}

// LogClientAuthFailure logs a rejected token endpoint authentication
func (a *Auditor) LogClientAuthFailure(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventClientAuthFailure,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogInvalidRedirect logs a rejected redirect_uri
func (a *Auditor) LogInvalidRedirect(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventInvalidRedirect,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogPluginFailed logs a plugin that returned an unexpected error
func (a *Auditor) LogPluginFailed(plugin, clientID string, err error) {
	details := map[string]any{"plugin": plugin}
	if err != nil {
		details["error"] = err.Error()
	}
	a.LogEvent(Event{
		Type:     EventPluginFailed,
		ClientID: clientID,
		Details:  details,
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, clientID string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogLoginFailed logs rejected login form credentials
func (a *Auditor) LogLoginFailed(userID, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventLoginFailed,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
