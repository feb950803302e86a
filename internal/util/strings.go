package util

// SafeTruncate returns at most the first maxLen bytes of s without panicking.
// It is used to log a recognizable prefix of an authorization code or token
// instead of the full credential.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
//
// Example:
//
//	SafeTruncate("4f1c2a9e0b7d4c3e", 8) // Returns: "4f1c2a9e"
//	SafeTruncate("short", 10)           // Returns: "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
