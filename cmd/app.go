package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	oauth "github.com/giantswarm/oauth-authcode"
	"github.com/giantswarm/oauth-authcode/contrib/login"
	"github.com/giantswarm/oauth-authcode/instrumentation"
	"github.com/giantswarm/oauth-authcode/security"
	"github.com/giantswarm/oauth-authcode/storage"
	"github.com/giantswarm/oauth-authcode/storage/factory"
	"github.com/giantswarm/oauth-authcode/storage/valkey"
	"github.com/giantswarm/oauth-authcode/tokens"
)

const shutdownTimeout = 30 * time.Second

// app is a fully wired authorization server.
type app struct {
	config  *Config
	logger  *slog.Logger
	inst    *instrumentation.Instrumentation
	backend *factory.Backend
	server  *oauth.Server
	handler http.Handler
}

func newApp(ctx context.Context, cfg *Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.inst, err = instrumentation.New(instrumentation.Config{
		ServiceName:     instrumentation.DefaultServiceName,
		ServiceVersion:  GetVersion(),
		Enabled:         cfg.Metrics.Exporter != "" || cfg.Metrics.TracesExporter != "",
		LogClientIPs:    cfg.Metrics.LogClientIPs,
		MetricsExporter: cfg.Metrics.Exporter,
		TracesExporter:  cfg.Metrics.TracesExporter,
		OTLPEndpoint:    cfg.Metrics.OTLPEndpoint,
		OTLPInsecure:    cfg.Metrics.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}

	storageType, err := factory.ParseType(cfg.Storage.Type)
	if err != nil {
		return nil, err
	}
	a.backend, err = factory.New(factory.Config{
		Type: storageType,
		Valkey: valkey.Config{
			Address:   cfg.Storage.Valkey.Address,
			Password:  cfg.Storage.Valkey.Password,
			DB:        cfg.Storage.Valkey.DB,
			KeyPrefix: cfg.Storage.Valkey.KeyPrefix,
		},
		EncryptionSecret: cfg.Storage.EncryptionSecret,
		Logger:           logger,
		Instrumentation:  a.inst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s storage: %w", storageType, err)
	}

	a.server, err = oauth.NewServer(a.backend.Authorizations, &oauth.Config{
		AuthorizationCodeTTL:      cfg.OAuth.CodeTTL,
		AccessTokenTTL:            cfg.OAuth.AccessTokenTTL,
		BasicRealm:                cfg.OAuth.BasicRealm,
		AuthorizePath:             cfg.OAuth.AuthorizePath,
		TokenPath:                 cfg.OAuth.TokenPath,
		TrustProxy:                cfg.OAuth.TrustProxy,
		TrustedProxyCount:         cfg.OAuth.TrustedProxyCount,
		RequireSecureRedirectURIs: cfg.OAuth.RequireSecureRedirectURIs,
		EnableAuditLogging:        cfg.OAuth.AuditLogging,
		RateLimit: oauth.RateLimitConfig{
			Rate:  cfg.OAuth.RateLimit.Rate,
			Burst: cfg.OAuth.RateLimit.Burst,
		},
	}, logger)
	if err != nil {
		return nil, err
	}
	a.server.SetInstrumentation(a.inst)

	if a.server.Tokens, err = tokens.New(cfg.OAuth.TokenGenerator); err != nil {
		return nil, err
	}

	if err := a.registerClients(ctx); err != nil {
		return nil, err
	}
	if err := a.enableLogin(); err != nil {
		return nil, err
	}

	a.handler = a.routes()
	return a, nil
}

func (a *app) registerClients(ctx context.Context) error {
	for _, c := range a.config.Clients {
		client := &storage.Client{
			ClientID:     c.ID,
			ClientName:   c.Name,
			RedirectURIs: c.RedirectURIs,
			CreatedAt:    time.Now(),
		}
		if err := a.backend.Clients.SaveClient(ctx, client); err != nil {
			return fmt.Errorf("failed to register client %q: %w", c.ID, err)
		}
		a.logger.Info("Registered client", "client_id", c.ID, "redirect_uris", len(c.RedirectURIs))
	}

	if len(a.config.Clients) > 0 || a.config.OAuth.RequireRegisteredClients {
		a.server.Clients = a.backend.Clients
	}
	return nil
}

func (a *app) enableLogin() error {
	if len(a.config.Login.Users) == 0 {
		return nil
	}

	encryptor, err := encryptorFromSecret(a.config.Login.Secret, "login-cookie")
	if err != nil {
		return fmt.Errorf("failed to derive login cookie key: %w", err)
	}

	users := make(map[string]string, len(a.config.Login.Users))
	for _, u := range a.config.Login.Users {
		users[u.Name] = u.PasswordHash
	}

	plugin, err := login.New(login.Config{
		Users:        users,
		Store:        a.server.Store(),
		Encryptor:    encryptor,
		CookieName:   a.config.Login.CookieName,
		CookieMaxAge: time.Duration(a.server.Config.AuthorizationCodeTTL) * time.Second,
		TrustProxy:   a.config.OAuth.TrustProxy,
		Auditor:      a.server.Auditor,
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}
	if err := plugin.Register(a.server.Plugins); err != nil {
		return err
	}
	a.logger.Info("Login form enabled", "users", len(users))
	return nil
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	oauth.NewHandler(a.server, a.logger).RegisterRoutes(mux)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	if h := a.inst.PrometheusHandler(); h != nil {
		mux.Handle("GET /metrics", h)
	}

	return security.RequestIDMiddleware(mux)
}

// Run serves until ctx is cancelled, then drains connections.
func (a *app) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              a.config.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("OAuth server starting",
			"addr", a.config.Addr,
			"authorize", a.server.Config.AuthorizePath,
			"token", a.server.Config.TokenPath,
			"storage", a.backend.Type)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	a.logger.Info("Server stopped")
	return nil
}

// Close releases the rate limiter, storage and telemetry exporters.
func (a *app) Close(ctx context.Context) {
	if a.server != nil {
		a.server.Close()
	}
	if a.backend != nil {
		a.backend.Close()
	}
	if a.inst != nil {
		if err := a.inst.Shutdown(ctx); err != nil {
			a.logger.Error("Instrumentation shutdown error", "error", err)
		}
	}
}
