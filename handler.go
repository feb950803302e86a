package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-authcode/instrumentation"
	"github.com/giantswarm/oauth-authcode/security"
)

// PluginErrorHandler writes the response for a request whose extension point
// failed. err is a *PluginError.
type PluginErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Handler is a thin HTTP adapter for the OAuth Server.
// It handles HTTP requests and delegates to the Server for business logic.
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for HTTP layer
	ips    security.ClientIPResolver

	// OnPluginError handles plugin failures. Default: log and plain 500.
	OnPluginError PluginErrorHandler
}

// NewHandler creates a new HTTP handler
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
		ips: security.ClientIPResolver{
			TrustProxy:        server.Config.TrustProxy,
			TrustedProxyCount: server.Config.TrustedProxyCount,
		},
	}
	h.OnPluginError = h.defaultPluginError

	if server.Instrumentation != nil {
		h.tracer = server.Instrumentation.Tracer("http")
	}

	return h
}

// RegisterRoutes registers both endpoints on mux at the configured paths.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(h.server.Config.AuthorizePath, h.ServeAuthorization)
	mux.HandleFunc(h.server.Config.TokenPath, h.ServeAccessToken)
}

// Routes returns both endpoints wrapped in the request ID middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return security.RequestIDMiddleware(mux)
}

// ServeAuthorization handles GET and POST on the authorization endpoint.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	sw := &statusWriter{ResponseWriter: w}

	var span trace.Span
	ctx := r.Context()
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorization")
		defer span.End()
		r = r.WithContext(ctx)
	}
	defer func() {
		h.recordHTTPMetrics("authorization", r.Method, sw.Status(), startTime)
		instrumentation.AddHTTPAttributes(span, r.Method, "authorization", sw.Status())
	}()

	h.setSecurityHeaders(sw, r)

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		sw.Header().Set("Allow", "GET, POST")
		h.writeError(sw, ErrorCodeInvalidRequest, fmt.Sprintf("Method %s is not allowed", r.Method), http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.ips.ClientIP(r)
	if h.shouldLogClientIPs() {
		instrumentation.AddSecurityAttributes(span, clientIP)
	}
	if h.checkIPRateLimit(sw, r, clientIP) {
		return
	}

	if r.Method == http.MethodPost {
		h.serveAuthorizationPOST(sw, r, clientIP)
		return
	}

	query := r.URL.Query()
	result, err := h.server.Authorize(ctx, &AuthorizationRequest{
		ResponseType: query.Get("response_type"),
		ClientID:     query.Get("client_id"),
		RedirectURI:  query.Get("redirect_uri"),
		State:        query.Get("state"),
		ClientIP:     clientIP,
		Writer:       sw,
		HTTPRequest:  r,
	})
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeAuthorizationError(sw, r, err)
		return
	}

	instrumentation.SetSpanSuccess(span)
	if result.Handled {
		return
	}
	if sw.Written() {
		security.LoggerFromContext(ctx, h.logger).Warn("Extension point declined after writing a response, default redirect skipped")
		return
	}
	http.Redirect(sw, r, result.RedirectURL, http.StatusFound)
}

func (h *Handler) serveAuthorizationPOST(w http.ResponseWriter, r *http.Request, clientIP string) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	handled, err := h.server.AuthorizePOST(r.Context(), &AuthorizationRequest{
		ResponseType: r.FormValue("response_type"),
		ClientID:     r.FormValue("client_id"),
		RedirectURI:  r.FormValue("redirect_uri"),
		State:        r.FormValue("state"),
		ClientIP:     clientIP,
		Writer:       w,
		HTTPRequest:  r,
	})
	if err != nil {
		h.pluginError(w, r, err)
		return
	}
	if !handled {
		if responseStarted(w) {
			security.LoggerFromContext(r.Context(), h.logger).Warn("Extension point declined after writing a response")
			return
		}
		w.Header().Set("Allow", "GET")
		h.writeError(w, ErrorCodeInvalidRequest, "Method POST is not allowed", http.StatusMethodNotAllowed)
	}
}

// writeAuthorizationError delivers an Authorize error by redirect or directly.
func (h *Handler) writeAuthorizationError(w http.ResponseWriter, r *http.Request, err error) {
	logger := security.LoggerFromContext(r.Context(), h.logger)

	var pluginErr *PluginError
	if errors.As(err, &pluginErr) {
		h.pluginError(w, r, err)
		return
	}

	var redirectErr *RedirectError
	if errors.As(err, &redirectErr) {
		target, buildErr := redirectURIWithError(redirectErr.RedirectURI, redirectErr.OAuthError, redirectErr.State)
		if buildErr == nil {
			logger.Info("Authorization request rejected by redirect", "error", redirectErr.Code)
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		logger.Error("Failed to build error redirect", "error", buildErr)
		h.writeError(w, redirectErr.Code, redirectErr.Description, redirectErr.Status)
		return
	}

	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		logger.Info("Authorization request rejected", "error", oauthErr.Code, "description", oauthErr.Description)
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	logger.Error("Authorization request failed", "error", err)
	h.writeError(w, ErrorCodeServerError, "Internal server error", http.StatusInternalServerError)
}

// ServeAccessToken handles POST on the token endpoint.
func (h *Handler) ServeAccessToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	sw := &statusWriter{ResponseWriter: w}

	var span trace.Span
	ctx := r.Context()
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token")
		defer span.End()
		r = r.WithContext(ctx)
	}
	defer func() {
		h.recordHTTPMetrics("token", r.Method, sw.Status(), startTime)
		instrumentation.AddHTTPAttributes(span, r.Method, "token", sw.Status())
	}()

	h.setSecurityHeaders(sw, r)
	security.SetNoStoreHeaders(sw)

	if r.Method != http.MethodPost {
		sw.Header().Set("Allow", "POST")
		h.writeError(sw, ErrorCodeInvalidRequest, fmt.Sprintf("Method %s is not allowed", r.Method), http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.ips.ClientIP(r)
	if h.shouldLogClientIPs() {
		instrumentation.AddSecurityAttributes(span, clientIP)
	}
	if h.checkIPRateLimit(sw, r, clientIP) {
		return
	}

	parseErr := r.ParseForm()
	req := &TokenRequest{
		ContentType:   r.Header.Get("Content-Type"),
		Authorization: r.Header.Get("Authorization"),
		GrantType:     r.PostForm.Get("grant_type"),
		Code:          r.PostForm.Get("code"),
		RedirectURI:   r.PostForm.Get("redirect_uri"),
		ClientIP:      clientIP,
		Writer:        sw,
		HTTPRequest:   r,
	}
	// Header errors take precedence over an unreadable body.
	if parseErr != nil && validateTokenHeaders(req) == nil {
		h.writeError(sw, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	body, err := h.server.ExchangeAuthorizationCode(ctx, req)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeTokenError(sw, r, err)
		return
	}

	instrumentation.SetSpanSuccess(span)
	sw.Header().Set("Content-Type", JSONContentType)
	sw.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(sw).Encode(body); err != nil {
		security.LoggerFromContext(ctx, h.logger).Error("Failed to write token response", "error", err)
	}
}

func (h *Handler) writeTokenError(w http.ResponseWriter, r *http.Request, err error) {
	logger := security.LoggerFromContext(r.Context(), h.logger)

	var pluginErr *PluginError
	if errors.As(err, &pluginErr) {
		h.pluginError(w, r, err)
		return
	}

	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		logger.Info("Token request rejected", "error", oauthErr.Code, "description", oauthErr.Description)
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	logger.Error("Token request failed", "error", err)
	h.writeError(w, ErrorCodeServerError, "Internal server error", http.StatusInternalServerError)
}

// pluginError hands err to OnPluginError unless the extension point already
// started a response, which cannot be replaced anymore.
func (h *Handler) pluginError(w http.ResponseWriter, r *http.Request, err error) {
	if responseStarted(w) {
		security.LoggerFromContext(r.Context(), h.logger).Error("Extension point failed after writing a response", "error", err)
		return
	}
	h.OnPluginError(w, r, err)
}

func (h *Handler) defaultPluginError(w http.ResponseWriter, r *http.Request, err error) {
	security.LoggerFromContext(r.Context(), h.logger).Error("Extension point failed", "error", err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, clientIP string) bool {
	if h.server.RateLimiter == nil {
		return false
	}
	allowed, retryAfter := h.server.RateLimiter.Reserve(clientIP)
	if allowed {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "path", r.URL.Path)
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}
	h.server.Auditor.LogRateLimitExceeded(clientIP, "")

	seconds := int(math.Ceil(retryAfter.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(max(1, seconds)))
	h.writeError(w, ErrorCodeTemporarilyUnavailable, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// writeError writes an OAuth error body. 401 responses carry the Basic challenge.
func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", h.server.Config.BasicRealm))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

func (h *Handler) setSecurityHeaders(w http.ResponseWriter, r *http.Request) {
	security.SetSecurityHeaders(w, security.IsHTTPS(r, h.server.Config.TrustProxy))
}

func (h *Handler) shouldLogClientIPs() bool {
	return h.server.Instrumentation != nil && h.server.Instrumentation.ShouldLogClientIPs()
}

// recordHTTPMetrics records HTTP request metrics
func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}

	duration := time.Since(startTime).Seconds() * 1000 // convert to milliseconds
	h.server.Instrumentation.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, duration)
}

// statusWriter remembers the status code so plugin-written responses are
// counted too.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Written reports whether a status or body has been written.
func (w *statusWriter) Written() bool {
	return w.status != 0
}

func responseStarted(w http.ResponseWriter) bool {
	sw, ok := w.(*statusWriter)
	return ok && sw.Written()
}

// Status returns the written status, or 200 if nothing was written.
func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
