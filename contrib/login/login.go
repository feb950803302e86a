// Package login provides an authorization-GET / authorization-POST plugin
// pair that puts a username and password form in front of the default
// redirect.
//
// On GET the plugin remembers the issued code in an encrypted cookie and
// renders the form. On POST it checks the credentials against bcrypt hashes
// and, when the user allows access, redirects to the code's default target.
// A denied request consumes the code and redirects with access_denied.
package login

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	oauth "github.com/giantswarm/oauth-authcode"
	"github.com/giantswarm/oauth-authcode/internal/util"
	"github.com/giantswarm/oauth-authcode/plugins"
	"github.com/giantswarm/oauth-authcode/security"
	"github.com/giantswarm/oauth-authcode/storage"
)

const (
	// DefaultCookieName holds the pending client_id and code between GET and POST.
	DefaultCookieName = "authcode_login"

	// DefaultCookieMaxAge matches the default authorization code lifetime.
	DefaultCookieMaxAge = 10 * time.Minute
)

// dummyHash is compared against when the username is unknown so that unknown
// users take as long as wrong passwords.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

var (
	// ErrEncryptorRequired is returned by New without an enabled encryptor.
	ErrEncryptorRequired = errors.New("login: an enabled encryptor is required for the session cookie")

	// ErrNoUsers is returned by New without any user.
	ErrNoUsers = errors.New("login: at least one user is required")
)

// Config configures the login plugin.
type Config struct {
	// Users maps usernames to bcrypt password hashes (see HashPassword).
	Users map[string]string

	// Store is the authorization store the server issues codes into.
	Store storage.AuthorizationStore

	// Encryptor seals the session cookie. Required.
	Encryptor *security.Encryptor

	CookieName   string
	CookieMaxAge time.Duration

	// TrustProxy honours X-Forwarded-Proto when deciding on Secure cookies.
	TrustProxy bool

	Auditor *security.Auditor
	Logger  *slog.Logger
}

// Plugin implements the login form.
type Plugin struct {
	users      map[string]string
	store      storage.AuthorizationStore
	encryptor  *security.Encryptor
	cookieName string
	maxAge     time.Duration
	trustProxy bool
	auditor    *security.Auditor
	logger     *slog.Logger
	form       *template.Template
}

// New validates cfg and creates the plugin.
func New(cfg Config) (*Plugin, error) {
	if len(cfg.Users) == 0 {
		return nil, ErrNoUsers
	}
	if !cfg.Encryptor.IsEnabled() {
		return nil, ErrEncryptorRequired
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("login: authorization store is required")
	}
	for user, hash := range cfg.Users {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("login: password hash of user %q: %w", user, err)
		}
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.CookieMaxAge <= 0 {
		cfg.CookieMaxAge = DefaultCookieMaxAge
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Plugin{
		users:      cfg.Users,
		store:      cfg.Store,
		encryptor:  cfg.Encryptor,
		cookieName: cfg.CookieName,
		maxAge:     cfg.CookieMaxAge,
		trustProxy: cfg.TrustProxy,
		auditor:    cfg.Auditor,
		logger:     cfg.Logger,
		form:       template.Must(template.New("login").Parse(formTemplate)),
	}, nil
}

// HashPassword returns the bcrypt hash to put in Config.Users.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Register installs both extension points on registry.
func (p *Plugin) Register(registry *plugins.Registry) error {
	if err := registry.Register(plugins.AuthorizationGET, p.ShowForm); err != nil {
		return err
	}
	return registry.Register(plugins.AuthorizationPOST, p.VerifyCredentials)
}

// ShowForm is the authorization-GET handler.
func (p *Plugin) ShowForm(ctx context.Context, req *plugins.Request) error {
	value, err := p.encryptor.EncryptString(req.ClientID+"\n"+req.Code, p.cookieName)
	if err != nil {
		return fmt.Errorf("failed to seal login cookie: %w", err)
	}

	http.SetCookie(req.Writer, p.cookie(req.HTTPRequest, value, int(p.maxAge.Seconds())))
	return p.render(req.Writer, req.HTTPRequest, http.StatusOK, formData{ClientID: req.ClientID})
}

// VerifyCredentials is the authorization-POST handler. It declines requests
// that carry no valid login cookie.
func (p *Plugin) VerifyCredentials(ctx context.Context, req *plugins.Request) error {
	r := req.HTTPRequest
	clientID, code, ok := p.pending(r)
	if !ok {
		return plugins.ErrDecline
	}

	record, err := p.store.Get(ctx, clientID, code)
	if errors.Is(err, storage.ErrAuthorizationNotFound) || (err == nil && record.Used) {
		p.clearCookie(req.Writer, r)
		return p.render(req.Writer, r, http.StatusBadRequest, formData{
			ClientID: clientID,
			Error:    "The authorization request expired. Please start again from the application.",
			Expired:  true,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to load authorization code: %w", err)
	}

	username := r.PostFormValue("username")
	if !p.checkPassword(username, r.PostFormValue("password")) {
		p.logger.Warn("Login failed", "client_id", clientID)
		p.auditor.LogLoginFailed(username, clientID, "")
		return p.render(req.Writer, r, http.StatusOK, formData{
			ClientID: clientID,
			Error:    "Invalid username and/or password",
		})
	}

	p.clearCookie(req.Writer, r)

	if r.PostFormValue("allow") != "on" {
		return p.deny(ctx, req.Writer, r, record)
	}

	p.logger.Info("Login succeeded", "client_id", clientID, "code_prefix", util.SafeTruncate(code, 8))
	http.Redirect(req.Writer, r, record.RedirectURIWithCode, http.StatusFound)
	return nil
}

// deny consumes the code and sends the user agent back with access_denied.
func (p *Plugin) deny(ctx context.Context, w http.ResponseWriter, r *http.Request, record *storage.AuthorizationRecord) error {
	if _, err := p.store.MarkUsed(ctx, record.ClientID, record.Code); err != nil {
		return fmt.Errorf("failed to revoke denied code: %w", err)
	}

	target, err := oauth.AddQueryParams(record.RedirectURI, url.Values{
		"error":             {oauth.ErrorCodeAccessDenied},
		"error_description": {"The resource owner denied the request"},
		"state":             {record.State},
	})
	if err != nil {
		return err
	}
	p.logger.Info("Access denied by resource owner", "client_id", record.ClientID)
	http.Redirect(w, r, target, http.StatusFound)
	return nil
}

func (p *Plugin) checkPassword(username, password string) bool {
	hash, ok := p.users[username]
	if !ok {
		hash = dummyHash
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return ok && err == nil
}

// pending returns the client_id and code sealed in the login cookie.
func (p *Plugin) pending(r *http.Request) (clientID, code string, ok bool) {
	cookie, err := r.Cookie(p.cookieName)
	if err != nil {
		return "", "", false
	}
	plaintext, err := p.encryptor.DecryptString(cookie.Value, p.cookieName)
	if err != nil {
		p.logger.Warn("Rejected login cookie", "error", err)
		return "", "", false
	}
	clientID, code, ok = strings.Cut(plaintext, "\n")
	return clientID, code, ok && clientID != "" && code != ""
}

func (p *Plugin) cookie(r *http.Request, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     p.cookieName,
		Value:    value,
		Path:     r.URL.Path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   security.IsHTTPS(r, p.trustProxy),
		SameSite: http.SameSiteStrictMode,
	}
}

func (p *Plugin) clearCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, p.cookie(r, "", -1))
}

type formData struct {
	ClientID string
	Error    string
	Expired  bool
}

func (p *Plugin) render(w http.ResponseWriter, r *http.Request, status int, data formData) error {
	security.SetPageSecurityHeaders(w, security.IsHTTPS(r, p.trustProxy))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	return p.form.Execute(w, data)
}

const formTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Sign in</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 24rem; margin: 4rem auto; }
label { display: block; margin: .75rem 0; }
.error { color: #b00020; }
</style>
</head>
<body>
<h1>Inform your username and password</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
{{if not .Expired}}
<form method="post">
<label>Username <input type="text" name="username" autocomplete="username" required></label>
<label>Password <input type="password" name="password" autocomplete="current-password" required></label>
<p>The application <strong>{{.ClientID}}</strong> wants to access your information, do you allow?</p>
<label><input type="checkbox" name="allow"> Yes, I do</label>
<button type="submit">Continue</button>
</form>
{{end}}
</body>
</html>
`
