package security

import "time"

// DefaultClockSkewGracePeriod is the tolerance applied to expiry checks so that
// small clock differences between the issuing and validating nodes of a shared
// store do not reject a code that is still valid on the issuer.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired reports whether expiresAt lies in the past, allowing the default
// clock skew grace period. A zero time never expires.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod is IsExpired with a caller-supplied grace period.
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}
