// Package client is a relying-party helper for talking to an authcode server.
//
// The token endpoint only accepts the exact form content type
// "application/x-www-form-urlencoded;charset=UTF-8" and a Basic credential of
// client_id and the code itself, so Exchange builds the request by hand
// instead of going through oauth2.Config.Exchange. Results are still returned
// as *oauth2.Token so they plug into oauth2.StaticTokenSource and friends.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const formContentType = "application/x-www-form-urlencoded;charset=UTF-8"

// maxResponseSize bounds how much of a token response is read.
const maxResponseSize = 1 << 20

// Config holds the relying-party settings.
type Config struct {
	// ClientID is the identifier the server knows this client by.
	ClientID string

	// AuthorizeURL and TokenURL are the server endpoints, for example
	// "https://auth.example.com/authorize" and ".../access-token".
	AuthorizeURL string
	TokenURL     string

	// RedirectURL receives the authorization code.
	RedirectURL string

	HTTPClient *http.Client // Optional custom HTTP client
}

// Client builds authorization URLs and redeems codes.
type Client struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// New creates a client.
func New(cfg *Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.AuthorizeURL == "" || cfg.TokenURL == "" {
		return nil, fmt.Errorf("authorize and token URLs are required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	return &Client{
		config: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient: httpClient,
	}, nil
}

// AuthCodeURL returns the URL to send the user agent to. state is echoed back
// on the redirect and should be checked by the caller.
func (c *Client) AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string {
	return c.config.AuthCodeURL(state, opts...)
}

// Exchange redeems code. A protocol error from the server is returned as
// *oauth2.RetrieveError with ErrorCode and ErrorDescription set.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {c.config.RedirectURL},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", formContentType)
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.config.ClientID+":"+code)))
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, retrieveError(resp, body)
	}
	return parseToken(body)
}

func retrieveError(resp *http.Response, body []byte) error {
	rerr := &oauth2.RetrieveError{Response: resp, Body: body}
	var e struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal(body, &e) == nil {
		rerr.ErrorCode = e.Error
		rerr.ErrorDescription = e.ErrorDescription
	}
	return rerr
}

func parseToken(body []byte) (*oauth2.Token, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	accessToken, _ := raw["access_token"].(string)
	if accessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}

	token := &oauth2.Token{AccessToken: accessToken}
	if tokenType, ok := raw["token_type"].(string); ok {
		token.TokenType = tokenType
	}
	if expiresIn, ok := raw["expires_in"].(float64); ok && expiresIn > 0 {
		token.ExpiresIn = int64(expiresIn)
		token.Expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	}

	// Fields added by access-token-response plugins stay reachable via Extra.
	return token.WithExtra(raw), nil
}
