package security

import "net/http"

const (
	// apiContentSecurityPolicy forbids loading anything; JSON and redirect responses need nothing.
	apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

	// pageContentSecurityPolicy allows the inline styles of server-rendered forms.
	pageContentSecurityPolicy = "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none'"
)

// SetSecurityHeaders sets the headers every OAuth response carries.
// HSTS is only sent when the server is reached over TLS.
func SetSecurityHeaders(w http.ResponseWriter, https bool) {
	setCommonHeaders(w, https)
	w.Header().Set("Content-Security-Policy", apiContentSecurityPolicy)
}

// SetPageSecurityHeaders is SetSecurityHeaders for HTML pages such as the login form.
func SetPageSecurityHeaders(w http.ResponseWriter, https bool) {
	setCommonHeaders(w, https)
	w.Header().Set("Content-Security-Policy", pageContentSecurityPolicy)
	SetNoStoreHeaders(w)
}

// SetNoStoreHeaders marks a response as uncacheable. Token responses must carry
// exactly these two headers.
func SetNoStoreHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

func setCommonHeaders(w http.ResponseWriter, https bool) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")
	if https {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

// IsHTTPS reports whether the request reached the server over TLS, honouring
// X-Forwarded-Proto only when the proxy is trusted.
func IsHTTPS(r *http.Request, trustProxy bool) bool {
	if r.TLS != nil {
		return true
	}
	return trustProxy && r.Header.Get("X-Forwarded-Proto") == "https"
}
