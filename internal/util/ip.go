package util

import "net"

// HostClass is the security classification of a redirect URI host.
type HostClass int

const (
	// HostPublic is a DNS name or publicly routable IP address.
	HostPublic HostClass = iota
	// HostLoopback is localhost, 127.0.0.0/8 or ::1.
	HostLoopback
	// HostPrivate is an RFC 1918 or ULA address.
	HostPrivate
	// HostLinkLocal is 169.254.0.0/16 or fe80::/10 (cloud metadata services live here).
	HostLinkLocal
	// HostUnspecified is 0.0.0.0, :: or an empty host.
	HostUnspecified
)

// String returns a human-readable name for the classification.
func (c HostClass) String() string {
	switch c {
	case HostPublic:
		return "public"
	case HostLoopback:
		return "loopback"
	case HostPrivate:
		return "private"
	case HostLinkLocal:
		return "link_local"
	case HostUnspecified:
		return "unspecified"
	default:
		return "unknown"
	}
}

// ClassifyHost classifies a hostname as returned by url.URL.Hostname().
// Names that are not IP literals are public unless they are "localhost".
func ClassifyHost(hostname string) HostClass {
	if hostname == "" {
		return HostUnspecified
	}
	if hostname == "localhost" {
		return HostLoopback
	}

	ip := net.ParseIP(hostname)
	if ip == nil {
		return HostPublic
	}

	switch {
	case ip.IsUnspecified():
		return HostUnspecified
	case ip.IsLoopback():
		return HostLoopback
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return HostLinkLocal
	case ip.IsPrivate():
		return HostPrivate
	default:
		return HostPublic
	}
}
