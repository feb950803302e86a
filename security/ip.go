package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIPResolver extracts the caller's address from a request. Forwarding
// headers are only consulted when TrustProxy is set.
type ClientIPResolver struct {
	// TrustProxy enables X-Forwarded-For and X-Real-IP.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies we operate, counted from the
	// right of X-Forwarded-For. Zero means one.
	TrustedProxyCount int
}

// ClientIP returns the best-effort client address for r.
func (c ClientIPResolver) ClientIP(r *http.Request) string {
	if c.TrustProxy {
		if ip := c.fromForwardedFor(r.Header.Get("X-Forwarded-For")); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// fromForwardedFor picks the entry just left of our own proxies so that
// client-supplied entries further left cannot spoof the address.
func (c ClientIPResolver) fromForwardedFor(xff string) string {
	if xff == "" {
		return ""
	}

	hops := strings.Split(xff, ",")
	proxies := c.TrustedProxyCount
	if proxies <= 0 {
		proxies = 1
	}

	idx := len(hops) - proxies - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(hops[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
