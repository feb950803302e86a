package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oauth-authcode/instrumentation"
	"github.com/giantswarm/oauth-authcode/internal/util"
	"github.com/giantswarm/oauth-authcode/plugins"
	"github.com/giantswarm/oauth-authcode/storage"
)

// maxCodeAttempts bounds regeneration when a generator collides with a live code.
const maxCodeAttempts = 3

// AuthorizationRequest holds the parameters of a request to the authorization endpoint.
type AuthorizationRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	State        string

	// ClientIP is used for audit logging only.
	ClientIP string

	// Writer and HTTPRequest are handed to plugins, which may write the response.
	Writer      http.ResponseWriter
	HTTPRequest *http.Request
}

// AuthorizationResult is the outcome of a successful authorization request.
type AuthorizationResult struct {
	// Record is the issued authorization code.
	Record *storage.AuthorizationRecord

	// Handled is true when the authorization-GET plugin produced the response.
	Handled bool

	// RedirectURL is where the user agent goes when Handled is false.
	RedirectURL string
}

// Authorize validates an authorization request, issues and stores a code and
// runs the authorization-GET extension point.
//
// Errors are *OAuthError for failures reported directly to the caller,
// *RedirectError for failures delivered to the already validated redirect_uri,
// and *PluginError when the plugin failed after the code was stored.
func (s *Server) Authorize(ctx context.Context, req *AuthorizationRequest) (result *AuthorizationResult, err error) {
	ctx, span := s.startSpan(ctx, "oauth.authorize")
	if span != nil {
		defer span.End()
	}
	instrumentation.AddGrantAttributes(span, req.ClientID, req.RedirectURI, req.State != "")
	defer func() {
		if err != nil {
			s.rejected(ctx, "authorization", err)
			instrumentation.RecordError(span, err)
		}
	}()

	if err := s.validateAuthorizationTarget(ctx, req); err != nil {
		return nil, err
	}

	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordAuthorizationStarted(ctx, req.ClientID)
	}
	s.Auditor.LogAuthorizationStarted(req.ClientID, req.ClientIP, req.State != "")

	if req.ResponseType != ResponseTypeCode {
		oauthErr := ErrInvalidRequest(paramRequired("response_type"))
		if req.ResponseType != "" {
			oauthErr = ErrUnsupportedResponseType(paramShouldBe("response_type", ResponseTypeCode))
		}
		return nil, &RedirectError{OAuthError: oauthErr, RedirectURI: req.RedirectURI, State: req.State}
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrResponseType, req.ResponseType))

	record, err := s.issueCode(ctx, req)
	if err != nil {
		return nil, err
	}

	pluginResult, err := s.callPlugin(ctx, plugins.AuthorizationGET, &plugins.Request{
		Writer:              req.Writer,
		HTTPRequest:         req.HTTPRequest,
		ClientID:            record.ClientID,
		Code:                record.Code,
		RedirectURI:         record.RedirectURI,
		State:               record.State,
		RedirectURIWithCode: record.RedirectURIWithCode,
	})
	if err != nil {
		return nil, err
	}

	instrumentation.SetSpanSuccess(span)
	return &AuthorizationResult{
		Record:      record,
		Handled:     pluginResult.Handled(),
		RedirectURL: record.RedirectURIWithCode,
	}, nil
}

// validateAuthorizationTarget checks everything that decides whether errors
// can be delivered by redirect: redirect_uri first, then client_id and the
// client registry.
func (s *Server) validateAuthorizationTarget(ctx context.Context, req *AuthorizationRequest) error {
	if req.RedirectURI == "" {
		return ErrInvalidRequest(paramRequired("redirect_uri"))
	}
	if err := validateRedirectURI(req.RedirectURI, s.Config.RequireSecureRedirectURIs); err != nil {
		s.Logger.Warn("Rejected redirect_uri", "client_id", req.ClientID, "error", err)
		s.Auditor.LogInvalidRedirect(req.ClientID, req.ClientIP, err.Error())
		return ErrInvalidRequest("Parameter redirect_uri is invalid")
	}

	if req.ClientID == "" {
		return ErrInvalidRequest(paramRequired("client_id"))
	}

	if s.Clients == nil {
		return nil
	}

	client, err := s.Clients.GetClient(ctx, req.ClientID)
	if errors.Is(err, storage.ErrClientNotFound) {
		s.Auditor.LogClientAuthFailure(req.ClientID, req.ClientIP, "unknown client_id")
		return ErrInvalidClient("Unknown client_id")
	}
	if err != nil {
		return fmt.Errorf("failed to look up client: %w", err)
	}
	if !client.AllowsRedirectURI(req.RedirectURI) {
		s.Auditor.LogInvalidRedirect(req.ClientID, req.ClientIP, "redirect_uri not registered")
		return ErrInvalidRequest("redirect_uri is not registered for this client")
	}
	return nil
}

// issueCode generates a code and stores its record.
func (s *Server) issueCode(ctx context.Context, req *AuthorizationRequest) (*storage.AuthorizationRecord, error) {
	for attempt := 1; ; attempt++ {
		code, err := s.Tokens.GenerateAuthorizationCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate authorization code: %w", err)
		}

		withCode, err := redirectURIWithCode(req.RedirectURI, code, req.State)
		if err != nil {
			return nil, fmt.Errorf("failed to build redirect: %w", err)
		}

		now := time.Now()
		record := &storage.AuthorizationRecord{
			Code:                code,
			ClientID:            req.ClientID,
			RedirectURI:         req.RedirectURI,
			State:               req.State,
			RedirectURIWithCode: withCode,
			CreatedAt:           now,
			ExpiresAt:           now.Add(s.codeTTL()),
		}

		err = s.store.Save(ctx, record)
		if errors.Is(err, storage.ErrDuplicateCode) && attempt < maxCodeAttempts {
			s.Logger.Warn("Authorization code collision, regenerating", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save authorization code: %w", err)
		}

		s.Logger.Debug("Issued authorization code",
			"client_id", record.ClientID,
			"code_prefix", util.SafeTruncate(code, 8))
		s.Auditor.LogCodeIssued(record.ClientID, code, req.ClientIP)
		if s.Instrumentation != nil {
			s.Instrumentation.Metrics().RecordCodeIssued(ctx, record.ClientID)
		}
		return record, nil
	}
}

// AuthorizePOST runs the authorization-POST extension point. It reports
// whether a plugin handled the request; there is no default behavior.
func (s *Server) AuthorizePOST(ctx context.Context, req *AuthorizationRequest) (bool, error) {
	result, err := s.callPlugin(ctx, plugins.AuthorizationPOST, &plugins.Request{
		Writer:      req.Writer,
		HTTPRequest: req.HTTPRequest,
		ClientID:    req.ClientID,
		RedirectURI: req.RedirectURI,
		State:       req.State,
	})
	if err != nil {
		return false, err
	}
	return result.Handled(), nil
}
