package oauth

import (
	"log/slog"
	"time"
)

const (
	// DefaultAuthorizationCodeTTL is how long an issued code can be redeemed.
	DefaultAuthorizationCodeTTL int64 = 600

	// DefaultAccessTokenTTL is the expires_in value of issued access tokens.
	DefaultAccessTokenTTL int64 = 3600

	// DefaultBasicRealm is the realm advertised on 401 responses of the token endpoint.
	DefaultBasicRealm = "OAuth 2.0 Secure Area"

	// DefaultAuthorizePath and DefaultTokenPath are the routes used by RegisterRoutes.
	DefaultAuthorizePath = "/authorize"
	DefaultTokenPath     = "/access-token"

	// maxRecommendedCodeTTL is the longest code lifetime RFC 6749 section 4.1.2 recommends.
	maxRecommendedCodeTTL int64 = 600
)

// Config holds the authorization server configuration.
// Zero values are replaced by secure defaults in NewServer.
type Config struct {
	// AuthorizationCodeTTL is how long codes are valid.
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is reported as expires_in in token responses.
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// BasicRealm is sent in the WWW-Authenticate challenge.
	// Default: "OAuth 2.0 Secure Area"
	BasicRealm string

	// AuthorizePath and TokenPath are the endpoint routes.
	// Default: /authorize and /access-token
	AuthorizePath string
	TokenPath     string

	// TrustProxy enables trusting X-Forwarded-For, X-Real-IP and X-Forwarded-Proto.
	// WARNING: Only enable behind a trusted reverse proxy.
	TrustProxy bool // default: false

	// TrustedProxyCount is the number of trusted proxies in front of this server.
	TrustedProxyCount int // default: 1

	// RequireSecureRedirectURIs rejects http redirect URIs except for loopback hosts.
	// Off by default so plain http callbacks keep working in development.
	RequireSecureRedirectURIs bool

	// RateLimit limits requests per client IP on both endpoints.
	RateLimit RateLimitConfig

	// EnableAuditLogging writes security events through security.Auditor.
	EnableAuditLogging bool
}

// RateLimitConfig holds per-IP rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate float64

	// Burst is the maximum burst size allowed per IP.
	// Default: 2x Rate, at least 1
	Burst int

	// MaxEntries caps tracked IPs. Zero uses the limiter default.
	MaxEntries int

	// CleanupInterval is how often idle limiters are removed.
	CleanupInterval time.Duration
}

// Enabled reports whether rate limiting is configured.
func (c RateLimitConfig) Enabled() bool {
	return c.Rate > 0
}

// applySecureDefaults fills in zero values and logs warnings for risky settings.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	applyEndpointDefaults(config)
	logSecurityWarnings(config, logger)
	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL <= 0 {
		config.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.TrustedProxyCount <= 0 {
		config.TrustedProxyCount = 1
	}
	if config.RateLimit.Enabled() && config.RateLimit.Burst <= 0 {
		config.RateLimit.Burst = max(1, int(config.RateLimit.Rate*2))
	}
}

func applyEndpointDefaults(config *Config) {
	if config.BasicRealm == "" {
		config.BasicRealm = DefaultBasicRealm
	}
	if config.AuthorizePath == "" {
		config.AuthorizePath = DefaultAuthorizePath
	}
	if config.TokenPath == "" {
		config.TokenPath = DefaultTokenPath
	}
}

func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.AuthorizationCodeTTL > maxRecommendedCodeTTL {
		logger.Warn("⚠️  SECURITY WARNING: Authorization code lifetime is LONG",
			"code_ttl_seconds", config.AuthorizationCodeTTL,
			"risk", "Leaked codes stay redeemable for longer",
			"recommendation", "Keep AuthorizationCodeTTL at or below 600 seconds",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc6749#section-4.1.2")
	}
	if !config.RateLimit.Enabled() {
		logger.Warn("⚠️  SECURITY WARNING: Rate limiting is DISABLED",
			"risk", "Code guessing and resource exhaustion on /access-token",
			"recommendation", "Set RateLimit.Rate to a positive value")
	}
	if config.TrustProxy {
		logger.Info("Trusting proxy headers for client IP",
			"trusted_proxy_count", config.TrustedProxyCount,
			"note", "Only safe behind a reverse proxy that overwrites X-Forwarded-For")
	}
	if !config.RequireSecureRedirectURIs {
		logger.Info("Plain http redirect URIs are accepted",
			"recommendation", "Set RequireSecureRedirectURIs=true in production")
	}
}
