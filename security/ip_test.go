package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPResolver_ClientIP(t *testing.T) {
	tests := []struct {
		name       string
		resolver   ClientIPResolver
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "203.0.113.7:51234",
			want:       "203.0.113.7",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.7",
			want:       "203.0.113.7",
		},
		{
			name:       "forwarded headers ignored without trust",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4", "X-Real-IP": "5.6.7.8"},
			want:       "10.0.0.1",
		},
		{
			name:       "single proxy",
			resolver:   ClientIPResolver{TrustProxy: true},
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "6.6.6.6, 1.2.3.4, 10.0.0.2"},
			want:       "1.2.3.4",
		},
		{
			name:       "two proxies",
			resolver:   ClientIPResolver{TrustProxy: true, TrustedProxyCount: 2},
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.3, 10.0.0.2"},
			want:       "1.2.3.4",
		},
		{
			name:       "short chain falls back to leftmost",
			resolver:   ClientIPResolver{TrustProxy: true, TrustedProxyCount: 3},
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4"},
			want:       "1.2.3.4",
		},
		{
			name:       "invalid xff uses x-real-ip",
			resolver:   ClientIPResolver{TrustProxy: true},
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "garbage", "X-Real-IP": "5.6.7.8"},
			want:       "5.6.7.8",
		},
		{
			name:       "invalid headers use remote addr",
			resolver:   ClientIPResolver{TrustProxy: true},
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "not-an-ip"},
			want:       "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := tt.resolver.ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
