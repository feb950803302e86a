package security

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if id1 == id2 {
		t.Error("expected unique request IDs")
	}
	if len(id1) != 32 {
		t.Errorf("request ID length = %d, want 32", len(id1))
	}
	if !isValidRequestID(id1) {
		t.Errorf("generated ID %q does not pass validation", id1)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q, want req-123", got)
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q", got)
	}
}

func TestIsValidRequestID(t *testing.T) {
	tests := []struct {
		name      string
		requestID string
		valid     bool
	}{
		{name: "alphanumeric", requestID: "abc123", valid: true},
		{name: "uuid", requestID: "550e8400-e29b-41d4-a716-446655440000", valid: true},
		{name: "underscores", requestID: "req_abc_123", valid: true},
		{name: "max length", requestID: strings.Repeat("a", 128), valid: true},
		{name: "empty", requestID: "", valid: false},
		{name: "too long", requestID: strings.Repeat("a", 129), valid: false},
		{name: "crlf injection", requestID: "abc\r\nSet-Cookie: x=y", valid: false},
		{name: "spaces", requestID: "abc 123", valid: false},
		{name: "html", requestID: "<script>", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidRequestID(tt.requestID); got != tt.valid {
				t.Errorf("isValidRequestID(%q) = %v, want %v", tt.requestID, got, tt.valid)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		upstreamID string
		wantKept   bool
	}{
		{name: "no upstream id", upstreamID: "", wantKept: false},
		{name: "valid upstream id", upstreamID: "upstream-id-1", wantKept: true},
		{name: "invalid upstream id", upstreamID: "bad id!", wantKept: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.upstreamID != "" {
				req.Header.Set(RequestIDHeader, tt.upstreamID)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			header := rr.Header().Get(RequestIDHeader)
			if header == "" || header != seen {
				t.Errorf("response header %q and context id %q should match", header, seen)
			}
			if tt.wantKept && header != tt.upstreamID {
				t.Errorf("request ID = %q, want upstream %q", header, tt.upstreamID)
			}
			if !tt.wantKept && header == tt.upstreamID {
				t.Errorf("upstream ID %q should have been replaced", tt.upstreamID)
			}
		})
	}
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LoggerFromContext(WithRequestID(context.Background(), "req-42"), logger).Info("hello")
	if !strings.Contains(buf.String(), "request_id=req-42") {
		t.Errorf("log output %q missing request_id", buf.String())
	}

	buf.Reset()
	LoggerFromContext(context.Background(), logger).Info("hello")
	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("log output %q should not carry request_id", buf.String())
	}

	if LoggerFromContext(context.Background(), nil) == nil {
		t.Error("nil logger should fall back to default")
	}
}
