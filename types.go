package oauth

import (
	"fmt"

	"github.com/giantswarm/oauth-authcode/plugins"
)

const (
	// TokenTypeBearer is the token_type of issued access tokens.
	TokenTypeBearer = "bearer"

	// ResponseTypeCode is the only supported response_type.
	ResponseTypeCode = "code"

	// GrantTypeAuthorizationCode is the only supported grant_type.
	GrantTypeAuthorizationCode = "authorization_code"

	// FormContentType is the exact Content-Type the token endpoint accepts.
	FormContentType = "application/x-www-form-urlencoded;charset=UTF-8"

	// JSONContentType is the Content-Type of successful token responses.
	JSONContentType = "application/json;charset=UTF-8"
)

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenResponse is the standard part of a successful token response.
// Plugins may add fields, so the wire body is built as a map.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Map returns the response as a mutable body for the access-token-response plugin.
func (t TokenResponse) Map() map[string]any {
	return map[string]any{
		"access_token": t.AccessToken,
		"token_type":   t.TokenType,
		"expires_in":   t.ExpiresIn,
	}
}

// PluginError is returned when an extension point fails with an error other
// than plugins.ErrDecline. The plugin's error is available through Unwrap.
type PluginError struct {
	Plugin plugins.Name
	Err    error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %s failed: %v", e.Plugin, e.Err)
}

// Unwrap returns the error returned by the plugin.
func (e *PluginError) Unwrap() error {
	return e.Err
}
