package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/oauth-authcode/storage"
)

const (
	// TestClientID is the client used by fixtures
	TestClientID = "test-client-id"

	// TestRedirectURI is the redirect URI used by fixtures
	TestRedirectURI = "https://example.com/callback"

	// FormContentType is the exact content type the token endpoint accepts
	FormContentType = "application/x-www-form-urlencoded;charset=UTF-8"
)

// GenerateTestClient creates a registered test client
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID:     TestClientID,
		ClientName:   "Test Client",
		RedirectURIs: []string{TestRedirectURI},
		CreatedAt:    time.Now(),
	}
}

// GenerateTestAuthorizationRecord creates an unused record valid for 10 minutes
func GenerateTestAuthorizationRecord() *storage.AuthorizationRecord {
	code := GenerateRandomString(32)
	return &storage.AuthorizationRecord{
		Code:                code,
		ClientID:            TestClientID,
		RedirectURI:         TestRedirectURI,
		State:               "xyz",
		RedirectURIWithCode: TestRedirectURI + "?code=" + code + "&state=xyz",
		CreatedAt:           time.Now(),
		ExpiresAt:           time.Now().Add(10 * time.Minute),
	}
}

// GenerateRandomString generates a random base64url string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// BasicAuth returns the value of a Basic Authorization header for user and password
func BasicAuth(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

// HTTPRequest is a helper for making test HTTP requests
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// NewHTTPRequest creates a new HTTP request helper
func NewHTTPRequest(method, url string) *HTTPRequest {
	return &HTTPRequest{
		Method:  method,
		URL:     url,
		Headers: make(map[string]string),
	}
}

// WithHeader adds a header to the request
func (r *HTTPRequest) WithHeader(key, value string) *HTTPRequest {
	r.Headers[key] = value
	return r
}

// WithForm sets a form-encoded body
func (r *HTTPRequest) WithForm(values url.Values) *HTTPRequest {
	r.Body = values.Encode()
	return r
}

// Do executes the HTTP request against handler
func (r *HTTPRequest) Do(handler http.Handler) *httptest.ResponseRecorder {
	var body io.Reader
	if r.Body != "" {
		body = strings.NewReader(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.URL, body)
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// TokenRequest builds a well-formed access token request
func TokenRequest(target, clientID, codeEcho, code, redirectURI string) *HTTPRequest {
	return NewHTTPRequest(http.MethodPost, target).
		WithHeader("Content-Type", FormContentType).
		WithHeader("Authorization", BasicAuth(clientID, codeEcho)).
		WithForm(url.Values{
			"grant_type":   {"authorization_code"},
			"code":         {code},
			"redirect_uri": {redirectURI},
		})
}

// RedirectQuery parses the Location header of a redirect response
func RedirectQuery(t *testing.T, rr *httptest.ResponseRecorder) url.Values {
	t.Helper()
	location := rr.Header().Get("Location")
	if location == "" {
		t.Fatalf("response has no Location header (status %d, body %q)", rr.Code, rr.Body.String())
	}
	u, err := url.Parse(location)
	if err != nil {
		t.Fatalf("invalid Location %q: %v", location, err)
	}
	return u.Query()
}
