package oauth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oauth-authcode/instrumentation"
	"github.com/giantswarm/oauth-authcode/internal/util"
	"github.com/giantswarm/oauth-authcode/plugins"
	"github.com/giantswarm/oauth-authcode/storage"
)

const basicPrefix = "Basic "

// TokenRequest holds the headers and form parameters of an access token request.
type TokenRequest struct {
	ContentType   string
	Authorization string

	GrantType   string
	Code        string
	RedirectURI string

	// ClientIP is used for audit logging only.
	ClientIP string

	Writer      http.ResponseWriter
	HTTPRequest *http.Request
}

// ExchangeAuthorizationCode authenticates the client and redeems the code
// for an access token. The code is marked used only after the response body
// is complete, and at most one concurrent exchange of a code succeeds.
//
// The returned body holds access_token, token_type and expires_in plus any
// fields added by the access-token-response extension point.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req *TokenRequest) (body map[string]any, err error) {
	ctx, span := s.startSpan(ctx, "oauth.token_exchange")
	if span != nil {
		defer span.End()
	}
	defer func() {
		if err != nil {
			s.rejected(ctx, "token", err)
			instrumentation.RecordError(span, err)
		}
	}()

	if err := validateTokenHeaders(req); err != nil {
		return nil, err
	}
	if err := validateTokenParams(req); err != nil {
		return nil, err
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, req.GrantType))

	clientID, codeEcho, err := decodeBasicCredentials(req.Authorization)
	if err != nil {
		return nil, err
	}
	instrumentation.AddGrantAttributes(span, clientID, "", false)

	if err := s.authenticateClient(ctx, clientID, codeEcho, req.ClientIP); err != nil {
		return nil, err
	}

	if err := s.validateGrant(ctx, clientID, req); err != nil {
		return nil, err
	}

	pluginReq := &plugins.Request{
		Writer:      req.Writer,
		HTTPRequest: req.HTTPRequest,
		ClientID:    clientID,
		Code:        req.Code,
		RedirectURI: req.RedirectURI,
	}
	if _, err := s.callPlugin(ctx, plugins.AccessTokenValidation, pluginReq); err != nil {
		var oauthErr *OAuthError
		if errors.As(err, &oauthErr) {
			return nil, oauthErr
		}
		return nil, err
	}

	accessToken, err := s.Tokens.GenerateAccessToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	body = TokenResponse{
		AccessToken: accessToken,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   s.Config.AccessTokenTTL,
	}.Map()

	pluginReq.Response = body
	if _, err := s.callPlugin(ctx, plugins.AccessTokenResponse, pluginReq); err != nil {
		return nil, err
	}

	marked, err := s.store.MarkUsed(ctx, clientID, req.Code)
	if errors.Is(err, storage.ErrAuthorizationNotFound) {
		return nil, ErrInvalidGrant("Invalid code for this client")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark authorization code used: %w", err)
	}
	if !marked {
		s.codeReused(ctx, clientID, req.Code, req.ClientIP)
		return nil, ErrInvalidGrant("Authorization grant already used")
	}

	s.Logger.Info("Authorization code exchanged",
		"client_id", clientID,
		"code_prefix", util.SafeTruncate(req.Code, 8))
	s.Auditor.LogCodeExchanged(clientID, req.Code, req.ClientIP)
	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordCodeExchange(ctx, clientID)
	}
	instrumentation.SetSpanSuccess(span)

	return body, nil
}

func validateTokenHeaders(req *TokenRequest) error {
	switch {
	case req.ContentType == "":
		return ErrInvalidRequest(headerRequired("Content-Type"))
	case req.ContentType != FormContentType:
		return ErrInvalidRequest(headerShouldBe("Content-Type", FormContentType))
	case req.Authorization == "":
		return ErrInvalidRequest(headerRequired("Authorization"))
	case !strings.HasPrefix(req.Authorization, basicPrefix):
		return ErrInvalidRequest(headerShouldStartWith("Authorization", basicPrefix))
	}
	return nil
}

func validateTokenParams(req *TokenRequest) error {
	switch {
	case req.GrantType == "":
		return ErrInvalidRequest(paramRequired("grant_type"))
	case req.GrantType != GrantTypeAuthorizationCode:
		return ErrInvalidRequest(paramShouldBe("grant_type", GrantTypeAuthorizationCode))
	case req.Code == "":
		return ErrInvalidRequest(paramRequired("code"))
	case req.RedirectURI == "":
		return ErrInvalidRequest(paramRequired("redirect_uri"))
	}
	return nil
}

// decodeBasicCredentials splits a Basic credential into client_id and the
// echoed code on the first colon.
func decodeBasicCredentials(header string) (clientID, codeEcho string, err error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, basicPrefix))
	if err != nil {
		return "", "", ErrInvalidRequest("Base 64 from Authorization header could not be decoded")
	}
	clientID, codeEcho, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", ErrInvalidRequest("Base 64 from Authorization header could not be decoded")
	}
	return clientID, codeEcho, nil
}

// authenticateClient accepts a client that is registered or owns a live
// code, and whose Basic password is one of its live codes.
func (s *Server) authenticateClient(ctx context.Context, clientID, codeEcho, clientIP string) error {
	known, err := s.clientKnown(ctx, clientID)
	if err != nil {
		return err
	}

	valid := false
	if known && codeEcho != "" {
		valid, err = s.store.HasCode(ctx, clientID, codeEcho)
		if err != nil {
			return fmt.Errorf("failed to look up code: %w", err)
		}
	}

	if !valid {
		reason := "code on Authorization header is not valid for client"
		if !known {
			reason = "unknown client_id"
		}
		s.Logger.Warn("Client authentication failed", "client_id", clientID, "reason", reason)
		s.Auditor.LogClientAuthFailure(clientID, clientIP, reason)
		return ErrInvalidClient("Invalid client_id or code on Authorization header")
	}
	return nil
}

func (s *Server) clientKnown(ctx context.Context, clientID string) (bool, error) {
	if clientID == "" {
		return false, nil
	}
	if s.Clients != nil {
		_, err := s.Clients.GetClient(ctx, clientID)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, storage.ErrClientNotFound) {
			return false, fmt.Errorf("failed to look up client: %w", err)
		}
	}
	known, err := s.store.HasClient(ctx, clientID)
	if err != nil {
		return false, fmt.Errorf("failed to look up client: %w", err)
	}
	return known, nil
}

// validateGrant checks the code against its stored record: ownership,
// redirect_uri binding and single use, in that order.
func (s *Server) validateGrant(ctx context.Context, clientID string, req *TokenRequest) error {
	owned, err := s.store.HasCode(ctx, clientID, req.Code)
	if err != nil {
		return fmt.Errorf("failed to look up code: %w", err)
	}
	if !owned {
		return ErrInvalidGrant("Invalid code for this client")
	}

	matches, err := s.store.RedirectURIMatches(ctx, clientID, req.Code, req.RedirectURI)
	if errors.Is(err, storage.ErrAuthorizationNotFound) {
		return ErrInvalidGrant("Invalid code for this client")
	}
	if err != nil {
		return fmt.Errorf("failed to compare redirect_uri: %w", err)
	}
	if !matches {
		return ErrInvalidGrant("redirect_uri does not match")
	}

	used, err := s.store.IsUsed(ctx, clientID, req.Code)
	if errors.Is(err, storage.ErrAuthorizationNotFound) {
		return ErrInvalidGrant("Invalid code for this client")
	}
	if err != nil {
		return fmt.Errorf("failed to check code state: %w", err)
	}
	if used {
		s.codeReused(ctx, clientID, req.Code, req.ClientIP)
		return ErrInvalidGrant("Authorization grant already used")
	}
	return nil
}

func (s *Server) codeReused(ctx context.Context, clientID, code, clientIP string) {
	s.Logger.Warn("Authorization code reuse detected",
		"client_id", clientID,
		"code_prefix", util.SafeTruncate(code, 8))
	s.Auditor.LogCodeReuse(clientID, code, clientIP)
	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordCodeReuseDetected(ctx)
	}
}
