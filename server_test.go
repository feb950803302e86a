package oauth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/oauth-authcode/internal/testutil"
	"github.com/giantswarm/oauth-authcode/plugins"
	"github.com/giantswarm/oauth-authcode/storage"
	"github.com/giantswarm/oauth-authcode/storage/memory"
	"github.com/giantswarm/oauth-authcode/storage/mock"
	"github.com/giantswarm/oauth-authcode/tokens"
)

const (
	testClientID    = "client-x"
	testRedirectURI = "http://cb"
)

var discardLogger = slog.New(slog.DiscardHandler)

func newTestServer(t *testing.T, config *Config) (*Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	srv, err := NewServer(store, config, discardLogger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(srv.Close)
	return srv, store
}

// issueCode runs a successful authorization request and returns the code.
func issueCode(t *testing.T, srv *Server, clientID, redirectURI string) string {
	t.Helper()

	result, err := srv.Authorize(context.Background(), &AuthorizationRequest{
		ResponseType: ResponseTypeCode,
		ClientID:     clientID,
		RedirectURI:  redirectURI,
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	return result.Record.Code
}

func tokenRequest(clientID, codeEcho, code, redirectURI string) *TokenRequest {
	return &TokenRequest{
		ContentType:   FormContentType,
		Authorization: testutil.BasicAuth(clientID, codeEcho),
		GrantType:     GrantTypeAuthorizationCode,
		Code:          code,
		RedirectURI:   redirectURI,
	}
}

func assertOAuthError(t *testing.T, err error, wantCode, wantDescription string) {
	t.Helper()

	var oauthErr *OAuthError
	if !errors.As(err, &oauthErr) {
		t.Fatalf("error = %v, want *OAuthError", err)
	}
	if oauthErr.Code != wantCode {
		t.Errorf("Code = %q, want %q", oauthErr.Code, wantCode)
	}
	if oauthErr.Description != wantDescription {
		t.Errorf("Description = %q, want %q", oauthErr.Description, wantDescription)
	}
}

// sequenceGenerator returns its codes in order.
type sequenceGenerator struct {
	mu    sync.Mutex
	codes []string
}

func (g *sequenceGenerator) GenerateAuthorizationCode() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	code := g.codes[0]
	g.codes = g.codes[1:]
	return code, nil
}

func (g *sequenceGenerator) GenerateAccessToken() (string, error) {
	return "access-token", nil
}

func TestNewServer_RequiresStore(t *testing.T) {
	if _, err := NewServer(nil, nil, discardLogger); err == nil {
		t.Error("NewServer(nil) should fail")
	}
}

func TestNewServer_Defaults(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	if srv.Config.AuthorizationCodeTTL != 600 {
		t.Errorf("AuthorizationCodeTTL = %d, want 600", srv.Config.AuthorizationCodeTTL)
	}
	if srv.Config.AccessTokenTTL != 3600 {
		t.Errorf("AccessTokenTTL = %d, want 3600", srv.Config.AccessTokenTTL)
	}
	if srv.Config.BasicRealm != "OAuth 2.0 Secure Area" {
		t.Errorf("BasicRealm = %q", srv.Config.BasicRealm)
	}
	if srv.Config.AuthorizePath != "/authorize" || srv.Config.TokenPath != "/access-token" {
		t.Errorf("paths = %q, %q", srv.Config.AuthorizePath, srv.Config.TokenPath)
	}
	if _, ok := srv.Tokens.(tokens.UUIDGenerator); !ok {
		t.Errorf("Tokens = %T, want tokens.UUIDGenerator", srv.Tokens)
	}
	if srv.Plugins == nil {
		t.Error("Plugins should not be nil")
	}
	if srv.RateLimiter != nil {
		t.Error("RateLimiter should be nil without a rate")
	}
}

func TestNewServer_RateLimitBurstDefault(t *testing.T) {
	srv, _ := newTestServer(t, &Config{RateLimit: RateLimitConfig{Rate: 5}})

	if srv.Config.RateLimit.Burst != 10 {
		t.Errorf("Burst = %d, want 10", srv.Config.RateLimit.Burst)
	}
	if srv.RateLimiter == nil {
		t.Error("RateLimiter should be created when Rate > 0")
	}
}

func TestServer_Authorize_ValidationOrder(t *testing.T) {
	tests := []struct {
		name         string
		req          AuthorizationRequest
		wantRedirect bool
		wantCode     string
		wantDesc     string
	}{
		{
			name:     "missing everything reports redirect_uri",
			req:      AuthorizationRequest{},
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "Parameter redirect_uri is required",
		},
		{
			name:     "missing redirect_uri with bad response_type",
			req:      AuthorizationRequest{ResponseType: "token", ClientID: testClientID},
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "Parameter redirect_uri is required",
		},
		{
			name:     "relative redirect_uri",
			req:      AuthorizationRequest{ResponseType: "code", ClientID: testClientID, RedirectURI: "/callback"},
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "Parameter redirect_uri is invalid",
		},
		{
			name:     "missing client_id",
			req:      AuthorizationRequest{ResponseType: "code", RedirectURI: testRedirectURI},
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "Parameter client_id is required",
		},
		{
			name:         "missing response_type",
			req:          AuthorizationRequest{ClientID: testClientID, RedirectURI: testRedirectURI},
			wantRedirect: true,
			wantCode:     ErrorCodeInvalidRequest,
			wantDesc:     "Parameter response_type is required",
		},
		{
			name:         "unsupported response_type",
			req:          AuthorizationRequest{ResponseType: "token", ClientID: testClientID, RedirectURI: testRedirectURI, State: "s1"},
			wantRedirect: true,
			wantCode:     ErrorCodeUnsupportedResponseType,
			wantDesc:     "Parameter response_type should be code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, store := newTestServer(t, nil)

			_, err := srv.Authorize(context.Background(), &tt.req)
			assertOAuthError(t, err, tt.wantCode, tt.wantDesc)

			var redirectErr *RedirectError
			if got := errors.As(err, &redirectErr); got != tt.wantRedirect {
				t.Errorf("redirect delivery = %v, want %v", got, tt.wantRedirect)
			}
			if tt.wantRedirect && redirectErr.State != tt.req.State {
				t.Errorf("State = %q, want %q", redirectErr.State, tt.req.State)
			}

			if has, _ := store.HasClient(context.Background(), tt.req.ClientID); has {
				t.Error("no code should be stored for a rejected request")
			}
		})
	}
}

func TestServer_Authorize_IssuesCode(t *testing.T) {
	srv, store := newTestServer(t, nil)
	ctx := context.Background()

	before := time.Now()
	result, err := srv.Authorize(ctx, &AuthorizationRequest{
		ResponseType: "code",
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
		State:        "xyz",
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if result.Handled {
		t.Error("Handled = true without a plugin")
	}

	record, err := store.Get(ctx, testClientID, result.Record.Code)
	if err != nil {
		t.Fatalf("stored record: %v", err)
	}
	if record.RedirectURI != testRedirectURI || record.State != "xyz" || record.Used {
		t.Errorf("record = %+v", record)
	}
	if ttl := record.ExpiresAt.Sub(before); ttl < 599*time.Second || ttl > 601*time.Second {
		t.Errorf("code lifetime = %v, want about 600s", ttl)
	}

	u, err := url.Parse(result.RedirectURL)
	if err != nil {
		t.Fatalf("RedirectURL: %v", err)
	}
	if u.Query().Get("code") != record.Code || u.Query().Get("state") != "xyz" {
		t.Errorf("RedirectURL = %q", result.RedirectURL)
	}
	if record.RedirectURIWithCode != result.RedirectURL {
		t.Errorf("RedirectURIWithCode = %q, want %q", record.RedirectURIWithCode, result.RedirectURL)
	}
}

func TestServer_Authorize_ClientRegistry(t *testing.T) {
	srv, store := newTestServer(t, nil)
	srv.Clients = store
	ctx := context.Background()

	if err := store.SaveClient(ctx, &storage.Client{
		ClientID:     testClientID,
		RedirectURIs: []string{testRedirectURI},
	}); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	_, err := srv.Authorize(ctx, &AuthorizationRequest{ResponseType: "code", ClientID: "unknown", RedirectURI: testRedirectURI})
	assertOAuthError(t, err, ErrorCodeInvalidClient, "Unknown client_id")
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) && oauthErr.Status != 401 {
		t.Errorf("Status = %d, want 401", oauthErr.Status)
	}

	_, err = srv.Authorize(ctx, &AuthorizationRequest{ResponseType: "code", ClientID: testClientID, RedirectURI: "http://evil.example"})
	assertOAuthError(t, err, ErrorCodeInvalidRequest, "redirect_uri is not registered for this client")

	if _, err := srv.Authorize(ctx, &AuthorizationRequest{ResponseType: "code", ClientID: testClientID, RedirectURI: testRedirectURI}); err != nil {
		t.Errorf("registered client: Authorize() error = %v", err)
	}
}

func TestServer_Authorize_RequireSecureRedirectURIs(t *testing.T) {
	srv, _ := newTestServer(t, &Config{RequireSecureRedirectURIs: true})

	tests := []struct {
		redirectURI string
		wantErr     bool
	}{
		{"https://app.example.com/cb", false},
		{"http://localhost:8080/cb", false},
		{"http://127.0.0.1/cb", false},
		{"http://app.example.com/cb", true},
		{"ftp://app.example.com/cb", true},
	}

	for _, tt := range tests {
		t.Run(tt.redirectURI, func(t *testing.T) {
			_, err := srv.Authorize(context.Background(), &AuthorizationRequest{
				ResponseType: "code",
				ClientID:     testClientID,
				RedirectURI:  tt.redirectURI,
			})
			if (err != nil) != tt.wantErr {
				t.Errorf("Authorize() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServer_Authorize_RegeneratesCollidingCode(t *testing.T) {
	srv, store := newTestServer(t, nil)
	ctx := context.Background()

	existing := testutil.GenerateTestAuthorizationRecord()
	existing.Code = "taken"
	if err := store.Save(ctx, existing); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	srv.Tokens = &sequenceGenerator{codes: []string{"taken", "fresh"}}

	code := issueCode(t, srv, testClientID, testRedirectURI)
	if code != "fresh" {
		t.Errorf("code = %q, want %q", code, "fresh")
	}
}

func TestServer_Authorize_PluginFailurePropagates(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	boom := errors.New("boom")
	srv.Plugins.MustRegister(plugins.AuthorizationGET, func(ctx context.Context, req *plugins.Request) error {
		return boom
	})

	_, err := srv.Authorize(context.Background(), &AuthorizationRequest{
		ResponseType: "code",
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
	})

	var pluginErr *PluginError
	if !errors.As(err, &pluginErr) {
		t.Fatalf("error = %v, want *PluginError", err)
	}
	if pluginErr.Plugin != plugins.AuthorizationGET {
		t.Errorf("Plugin = %q", pluginErr.Plugin)
	}
	if !errors.Is(err, boom) {
		t.Error("plugin error should be reachable with errors.Is")
	}
}

func TestServer_Authorize_PluginReceivesRecord(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var got plugins.Request
	srv.Plugins.MustRegister(plugins.AuthorizationGET, func(ctx context.Context, req *plugins.Request) error {
		got = *req
		return nil
	})

	result, err := srv.Authorize(context.Background(), &AuthorizationRequest{
		ResponseType: "code",
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
		State:        "st",
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if !result.Handled {
		t.Error("Handled = false, want true")
	}
	if got.ClientID != testClientID || got.Code != result.Record.Code || got.State != "st" ||
		got.RedirectURIWithCode != result.Record.RedirectURIWithCode {
		t.Errorf("plugin request = %+v", got)
	}
}

func TestServer_AuthorizePOST(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	handled, err := srv.AuthorizePOST(ctx, &AuthorizationRequest{})
	if err != nil || handled {
		t.Errorf("without plugin: handled = %v, err = %v", handled, err)
	}

	srv.Plugins.MustRegister(plugins.AuthorizationPOST, func(ctx context.Context, req *plugins.Request) error {
		return plugins.ErrDecline
	})
	handled, err = srv.AuthorizePOST(ctx, &AuthorizationRequest{})
	if err != nil || handled {
		t.Errorf("declining plugin: handled = %v, err = %v", handled, err)
	}

	srv.Plugins.MustRegister(plugins.AuthorizationPOST, func(ctx context.Context, req *plugins.Request) error {
		return nil
	})
	handled, err = srv.AuthorizePOST(ctx, &AuthorizationRequest{})
	if err != nil || !handled {
		t.Errorf("handling plugin: handled = %v, err = %v", handled, err)
	}
}

func TestServer_ExchangeAuthorizationCode(t *testing.T) {
	srv, store := newTestServer(t, nil)
	ctx := context.Background()
	code := issueCode(t, srv, testClientID, testRedirectURI)

	body, err := srv.ExchangeAuthorizationCode(ctx, tokenRequest(testClientID, code, code, testRedirectURI))
	if err != nil {
		t.Fatalf("ExchangeAuthorizationCode() error = %v", err)
	}
	if body["access_token"] == "" || body["token_type"] != "bearer" || body["expires_in"] != int64(3600) {
		t.Errorf("body = %v", body)
	}

	used, err := store.IsUsed(ctx, testClientID, code)
	if err != nil || !used {
		t.Errorf("IsUsed() = %v, %v; want true", used, err)
	}
}

func TestServer_ExchangeAuthorizationCode_ValidationOrder(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	code := issueCode(t, srv, testClientID, testRedirectURI)
	otherCode := issueCode(t, srv, "client-y", testRedirectURI)

	valid := func() *TokenRequest { return tokenRequest(testClientID, code, code, testRedirectURI) }

	tests := []struct {
		name     string
		modify   func(r *TokenRequest)
		wantCode string
		wantDesc string
	}{
		{
			name:     "missing content type wins over everything",
			modify:   func(r *TokenRequest) { *r = TokenRequest{} },
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "Header Content-Type is required",
		},
		{
			name:     "content type must match exactly",
			modify:   func(r *TokenRequest) { r.ContentType = "application/x-www-form-urlencoded" },
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "Header Content-Type should be application/x-www-form-urlencoded;charset=UTF-8",
		},
		{
			name:     "missing authorization before parameters",
			modify:   func(r *TokenRequest) { r.Authorization = ""; r.GrantType = "" },
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "Header Authorization is required",
		},
		{
			name:     "non basic authorization",
			modify:   func(r *TokenRequest) { r.Authorization = "Bearer abc" },
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: `Header Authorization should start with "Basic "`,
		},
		{
			name:     "missing grant_type",
			modify:   func(r *TokenRequest) { r.GrantType = ""; r.Code = "" },
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "Parameter grant_type is required",
		},
		{
			name:     "wrong grant_type",
			modify:   func(r *TokenRequest) { r.GrantType = "refresh_token" },
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "Parameter grant_type should be authorization_code",
		},
		{
			name:     "missing code",
			modify:   func(r *TokenRequest) { r.Code = "" },
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "Parameter code is required",
		},
		{
			name:     "missing redirect_uri",
			modify:   func(r *TokenRequest) { r.RedirectURI = "" },
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "Parameter redirect_uri is required",
		},
		{
			name:     "undecodable credentials",
			modify:   func(r *TokenRequest) { r.Authorization = "Basic !!!" },
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "Base 64 from Authorization header could not be decoded",
		},
		{
			name:     "unknown client",
			modify:   func(r *TokenRequest) { r.Authorization = testutil.BasicAuth("nobody", code) },
			wantCode: ErrorCodeInvalidClient,
			wantDesc: "Invalid client_id or code on Authorization header",
		},
		{
			name:     "echoed code not valid for client",
			modify:   func(r *TokenRequest) { r.Authorization = testutil.BasicAuth(testClientID, otherCode) },
			wantCode: ErrorCodeInvalidClient,
			wantDesc: "Invalid client_id or code on Authorization header",
		},
		{
			name:     "code of another client",
			modify:   func(r *TokenRequest) { r.Code = otherCode },
			wantCode: ErrorCodeInvalidGrant,
			wantDesc: "Invalid code for this client",
		},
		{
			name:     "redirect_uri mismatch",
			modify:   func(r *TokenRequest) { r.RedirectURI = "http://cb/other" },
			wantCode: ErrorCodeInvalidGrant,
			wantDesc: "redirect_uri does not match",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.modify(req)
			_, err := srv.ExchangeAuthorizationCode(context.Background(), req)
			assertOAuthError(t, err, tt.wantCode, tt.wantDesc)
		})
	}

	// None of the rejected requests consumed the code.
	if _, err := srv.ExchangeAuthorizationCode(context.Background(), valid()); err != nil {
		t.Fatalf("valid request after rejections: %v", err)
	}
	_, err := srv.ExchangeAuthorizationCode(context.Background(), valid())
	assertOAuthError(t, err, ErrorCodeInvalidGrant, "Authorization grant already used")
}

func TestServer_ExchangeAuthorizationCode_ConcurrentRedemption(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	code := issueCode(t, srv, testClientID, testRedirectURI)

	const workers = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		reused    int
	)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := srv.ExchangeAuthorizationCode(context.Background(), tokenRequest(testClientID, code, code, testRedirectURI))

			mu.Lock()
			defer mu.Unlock()
			var oauthErr *OAuthError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &oauthErr) && oauthErr.Description == "Authorization grant already used":
				reused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if reused != workers-1 {
		t.Errorf("already-used failures = %d, want %d", reused, workers-1)
	}
}

func TestServer_ExchangeAuthorizationCode_LostMarkUsedRace(t *testing.T) {
	store := mock.NewAuthorizationStore()
	t.Cleanup(store.Stop)
	store.MarkUsedFunc = func(ctx context.Context, clientID, code string) (bool, error) {
		return false, nil
	}

	srv, err := NewServer(store, nil, discardLogger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	code := issueCode(t, srv, testClientID, testRedirectURI)

	body, err := srv.ExchangeAuthorizationCode(context.Background(), tokenRequest(testClientID, code, code, testRedirectURI))
	if body != nil {
		t.Errorf("body = %v, want nil", body)
	}
	assertOAuthError(t, err, ErrorCodeInvalidGrant, "Authorization grant already used")
	if store.CallCount("MarkUsed") != 1 {
		t.Errorf("MarkUsed calls = %d, want 1", store.CallCount("MarkUsed"))
	}
}

func TestServer_ExchangeAuthorizationCode_StorageFailure(t *testing.T) {
	store := mock.NewAuthorizationStore()
	t.Cleanup(store.Stop)
	storeErr := errors.New("connection refused")
	store.MarkUsedFunc = func(ctx context.Context, clientID, code string) (bool, error) {
		return false, storeErr
	}

	srv, err := NewServer(store, nil, discardLogger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	code := issueCode(t, srv, testClientID, testRedirectURI)

	_, err = srv.ExchangeAuthorizationCode(context.Background(), tokenRequest(testClientID, code, code, testRedirectURI))
	if !errors.Is(err, storeErr) {
		t.Errorf("error = %v, want wrapped storage error", err)
	}
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		t.Errorf("storage failure reported as OAuth error %v", oauthErr)
	}
}

func TestServer_ExchangeAuthorizationCode_ValidationPlugin(t *testing.T) {
	srv, store := newTestServer(t, nil)
	ctx := context.Background()
	code := issueCode(t, srv, testClientID, testRedirectURI)

	denied := ErrAccessDenied("client is suspended")
	srv.Plugins.MustRegister(plugins.AccessTokenValidation, func(ctx context.Context, req *plugins.Request) error {
		if req.ClientID != testClientID || req.Code != code {
			t.Errorf("plugin request = %+v", req)
		}
		return denied
	})

	_, err := srv.ExchangeAuthorizationCode(ctx, tokenRequest(testClientID, code, code, testRedirectURI))
	if err != denied {
		t.Errorf("error = %v, want the plugin's OAuthError verbatim", err)
	}
	if used, _ := store.IsUsed(ctx, testClientID, code); used {
		t.Error("rejected exchange must not consume the code")
	}

	srv.Plugins.MustRegister(plugins.AccessTokenValidation, func(ctx context.Context, req *plugins.Request) error {
		return plugins.ErrDecline
	})
	if _, err := srv.ExchangeAuthorizationCode(ctx, tokenRequest(testClientID, code, code, testRedirectURI)); err != nil {
		t.Errorf("declining validation plugin: error = %v", err)
	}
}

func TestServer_ExchangeAuthorizationCode_ValidationRejectionIsNotAFailure(t *testing.T) {
	var logs bytes.Buffer
	store := memory.New()
	t.Cleanup(store.Stop)
	srv, err := NewServer(store, &Config{EnableAuditLogging: true}, slog.New(slog.NewJSONHandler(&logs, nil)))
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(srv.Close)

	ctx := context.Background()
	code := issueCode(t, srv, testClientID, testRedirectURI)

	srv.Plugins.MustRegister(plugins.AccessTokenValidation, func(ctx context.Context, req *plugins.Request) error {
		return ErrAccessDenied("client is suspended")
	})
	logs.Reset()
	if _, err := srv.ExchangeAuthorizationCode(ctx, tokenRequest(testClientID, code, code, testRedirectURI)); err == nil {
		t.Fatal("ExchangeAuthorizationCode() error = nil")
	}
	if out := logs.String(); strings.Contains(out, "plugin_failed") || strings.Contains(out, `"level":"ERROR"`) {
		t.Errorf("policy rejection logged as a failure: %s", out)
	}

	srv.Plugins.MustRegister(plugins.AccessTokenValidation, func(ctx context.Context, req *plugins.Request) error {
		return errors.New("policy backend down")
	})
	logs.Reset()
	if _, err := srv.ExchangeAuthorizationCode(ctx, tokenRequest(testClientID, code, code, testRedirectURI)); err == nil {
		t.Fatal("ExchangeAuthorizationCode() error = nil")
	}
	if !strings.Contains(logs.String(), "plugin_failed") {
		t.Errorf("plugin fault not audited: %s", logs.String())
	}
}

func TestServer_ExchangeAuthorizationCode_ResponsePlugin(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	code := issueCode(t, srv, testClientID, testRedirectURI)

	srv.Plugins.MustRegister(plugins.AccessTokenResponse, func(ctx context.Context, req *plugins.Request) error {
		req.Response["expires_in"] = 60
		req.Response["refresh_hint"] = "none"
		return nil
	})

	body, err := srv.ExchangeAuthorizationCode(context.Background(), tokenRequest(testClientID, code, code, testRedirectURI))
	if err != nil {
		t.Fatalf("ExchangeAuthorizationCode() error = %v", err)
	}
	if body["expires_in"] != 60 || body["refresh_hint"] != "none" || body["token_type"] != "bearer" {
		t.Errorf("body = %v", body)
	}
}

func TestServer_ExchangeAuthorizationCode_ResponsePluginFailure(t *testing.T) {
	srv, store := newTestServer(t, nil)
	ctx := context.Background()
	code := issueCode(t, srv, testClientID, testRedirectURI)

	srv.Plugins.MustRegister(plugins.AccessTokenResponse, func(ctx context.Context, req *plugins.Request) error {
		return errors.New("template missing")
	})

	_, err := srv.ExchangeAuthorizationCode(ctx, tokenRequest(testClientID, code, code, testRedirectURI))
	var pluginErr *PluginError
	if !errors.As(err, &pluginErr) || pluginErr.Plugin != plugins.AccessTokenResponse {
		t.Fatalf("error = %v, want *PluginError for access-token-response", err)
	}
	if used, _ := store.IsUsed(ctx, testClientID, code); used {
		t.Error("failed exchange must not consume the code")
	}
}

func TestServer_ExchangeAuthorizationCode_RegisteredClientWithoutCodes(t *testing.T) {
	srv, store := newTestServer(t, nil)
	srv.Clients = store
	ctx := context.Background()

	if err := store.SaveClient(ctx, &storage.Client{ClientID: testClientID}); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	_, err := srv.ExchangeAuthorizationCode(ctx, tokenRequest(testClientID, "guess", "guess", testRedirectURI))
	assertOAuthError(t, err, ErrorCodeInvalidClient, "Invalid client_id or code on Authorization header")
}
