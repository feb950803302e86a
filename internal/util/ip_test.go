package util

import "testing"

func TestClassifyHost(t *testing.T) {
	tests := []struct {
		host string
		want HostClass
	}{
		{host: "", want: HostUnspecified},
		{host: "0.0.0.0", want: HostUnspecified},
		{host: "::", want: HostUnspecified},
		{host: "localhost", want: HostLoopback},
		{host: "127.0.0.1", want: HostLoopback},
		{host: "127.8.9.10", want: HostLoopback},
		{host: "::1", want: HostLoopback},
		{host: "169.254.169.254", want: HostLinkLocal},
		{host: "fe80::1", want: HostLinkLocal},
		{host: "10.0.0.1", want: HostPrivate},
		{host: "192.168.1.20", want: HostPrivate},
		{host: "fd00::1", want: HostPrivate},
		{host: "8.8.8.8", want: HostPublic},
		{host: "app.example.com", want: HostPublic},
		{host: "cb", want: HostPublic},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := ClassifyHost(tt.host); got != tt.want {
				t.Errorf("ClassifyHost(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

func TestHostClass_String(t *testing.T) {
	tests := map[HostClass]string{
		HostPublic:      "public",
		HostLoopback:    "loopback",
		HostPrivate:     "private",
		HostLinkLocal:   "link_local",
		HostUnspecified: "unspecified",
		HostClass(99):   "unknown",
	}
	for class, want := range tests {
		if got := class.String(); got != want {
			t.Errorf("HostClass(%d).String() = %q, want %q", class, got, want)
		}
	}
}
