package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-authcode/instrumentation"
	"github.com/giantswarm/oauth-authcode/plugins"
	"github.com/giantswarm/oauth-authcode/security"
	"github.com/giantswarm/oauth-authcode/storage"
	"github.com/giantswarm/oauth-authcode/tokens"
)

// Server implements the Authorization Code Grant: it issues codes on the
// authorization endpoint and redeems them on the token endpoint.
// It holds no HTTP concerns beyond handing the exchange to plugins; see Handler.
type Server struct {
	store storage.AuthorizationStore

	// Clients is the optional client registry. When nil any client_id is accepted.
	Clients storage.ClientStore

	Tokens          tokens.Generator
	Plugins         *plugins.Registry
	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter // IP-based rate limiter
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config

	tracer trace.Tracer
}

// NewServer creates a server around store. A nil config uses defaults.
// Callers set Clients, Tokens or Plugins afterwards to customize it.
func NewServer(store storage.AuthorizationStore, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("authorization store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	srv := &Server{
		store:   store,
		Tokens:  tokens.UUIDGenerator{},
		Plugins: plugins.NewRegistry(),
		Auditor: security.NewAuditor(logger, config.EnableAuditLogging),
		Logger:  logger,
		Config:  config,
	}

	if config.RateLimit.Enabled() {
		srv.RateLimiter = security.NewRateLimiter(security.RateLimiterConfig{
			RequestsPerSecond: config.RateLimit.Rate,
			Burst:             config.RateLimit.Burst,
			MaxEntries:        config.RateLimit.MaxEntries,
			CleanupInterval:   config.RateLimit.CleanupInterval,
			Logger:            logger,
		})
	}

	return srv, nil
}

// SetInstrumentation enables tracing and metrics for the server and its
// auditor. Audit events are counted in oauth.audit.events.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst == nil {
		s.tracer = nil
		return
	}
	s.tracer = inst.Tracer("server")
	s.Auditor.SetRecorder(func(eventType string) {
		inst.Metrics().RecordAuditEvent(context.Background(), eventType)
	})
}

// Store returns the authorization store the server issues codes into.
func (s *Server) Store() storage.AuthorizationStore {
	return s.store
}

// Close stops background work owned by the server. The store is not closed.
func (s *Server) Close() {
	if s.RateLimiter != nil {
		s.RateLimiter.Stop()
	}
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, nil
	}
	return s.tracer.Start(ctx, name)
}

func (s *Server) codeTTL() time.Duration {
	return time.Duration(s.Config.AuthorizationCodeTTL) * time.Second
}

// callPlugin invokes an extension point and records its outcome.
// A failure is returned as *PluginError.
// pluginOutcomeRejected labels plugin calls that returned an *OAuthError.
const pluginOutcomeRejected = "rejected"

func (s *Server) callPlugin(ctx context.Context, name plugins.Name, req *plugins.Request) (plugins.Result, error) {
	ctx, span := s.startSpan(ctx, "oauth.plugin")
	if span != nil {
		defer span.End()
	}

	result := s.Plugins.Call(ctx, name, req)

	// An *OAuthError is a policy rejection meant for the client, not a fault.
	var oauthErr *OAuthError
	rejected := result.Outcome == plugins.Failed && errors.As(result.Err, &oauthErr)
	outcome := result.Outcome.String()
	if rejected {
		outcome = pluginOutcomeRejected
	}

	instrumentation.AddPluginAttributes(span, string(name), outcome)
	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordPluginCall(ctx, string(name), outcome)
	}

	if result.Outcome != plugins.Failed {
		instrumentation.SetSpanSuccess(span)
		return result, nil
	}
	if rejected {
		s.Logger.Info("Plugin rejected the request", "plugin", name, "client_id", req.ClientID,
			"error", oauthErr.Code, "description", oauthErr.Description)
		return result, &PluginError{Plugin: name, Err: result.Err}
	}

	instrumentation.RecordError(span, result.Err)
	s.Logger.Error("Plugin failed", "plugin", name, "client_id", req.ClientID, "error", result.Err)
	s.Auditor.LogPluginFailed(string(name), req.ClientID, result.Err)
	return result, &PluginError{Plugin: name, Err: result.Err}
}

// rejected records a protocol error returned to the caller.
func (s *Server) rejected(ctx context.Context, endpoint string, err error) {
	if s.Instrumentation == nil {
		return
	}
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		s.Instrumentation.Metrics().RecordGrantRejected(ctx, endpoint, oauthErr.Code)
	}
}
