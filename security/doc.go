// Package security provides the protective pieces shared by the OAuth
// endpoints: audit logging, rate limiting, response headers, request IDs,
// client IP resolution, expiry checks and AES-GCM encryption.
//
// # Audit Logging
//
// Auditor writes one "security_audit" log record per event. Authorization
// codes and user identifiers are replaced by a truncated SHA-256 hash so that
// logs can be correlated without exposing secrets:
//
//	auditor := security.NewAuditor(logger, true)
//	auditor.LogCodeIssued(clientID, code, clientIP)
//
// # Rate Limiting
//
// RateLimiter keeps a token bucket per identifier (client IP for /authorize,
// client_id for /access-token) in an LRU bounded by MaxEntries. Reserve
// returns the wait time used for the Retry-After header:
//
//	limiter := security.NewRateLimiter(security.RateLimiterConfig{
//	    RequestsPerSecond: 10,
//	    Burst:             20,
//	})
//	defer limiter.Stop()
//
//	if ok, wait := limiter.Reserve(ip); !ok {
//	    // respond 429 with Retry-After: wait
//	}
//
// # Expiry
//
// IsExpired applies DefaultClockSkewGracePeriod so that nodes sharing a
// store with slightly different clocks agree on code validity.
package security
