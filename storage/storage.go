package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by storage implementations.
var (
	// ErrAuthorizationNotFound is returned when no live record exists for a client and code.
	ErrAuthorizationNotFound = errors.New("authorization code not found")

	// ErrDuplicateCode is returned by Save when the code is already stored.
	ErrDuplicateCode = errors.New("authorization code already exists")

	// ErrClientNotFound is returned when a client is not registered.
	ErrClientNotFound = errors.New("client not found")
)

// AuthorizationStore records issued authorization codes.
// All methods accept context.Context for tracing and cancellation.
type AuthorizationStore interface {
	// Save stores a new record. It fails with ErrDuplicateCode if the code exists.
	Save(ctx context.Context, record *AuthorizationRecord) error

	// Get returns a copy of the record for clientID and code.
	Get(ctx context.Context, clientID, code string) (*AuthorizationRecord, error)

	// FindLatest returns the most recently saved live record for clientID.
	FindLatest(ctx context.Context, clientID string) (*AuthorizationRecord, error)

	// HasClient reports whether clientID owns at least one live record.
	HasClient(ctx context.Context, clientID string) (bool, error)

	// HasCode reports whether code is a live record of clientID.
	HasCode(ctx context.Context, clientID, code string) (bool, error)

	// RedirectURIMatches reports whether the record was issued for exactly redirectURI.
	RedirectURIMatches(ctx context.Context, clientID, code, redirectURI string) (bool, error)

	// IsUsed reports whether the record was already redeemed.
	IsUsed(ctx context.Context, clientID, code string) (bool, error)

	// MarkUsed marks the record used if and only if it is currently unused.
	// It returns true when this call performed the transition and false when
	// the record was already used.
	// SECURITY: This operation MUST be atomic to prevent concurrent code exchange attacks.
	MarkUsed(ctx context.Context, clientID, code string) (bool, error)
}

// ClientStore is an optional registry of known clients.
// When configured, authorization requests for unknown clients are rejected.
type ClientStore interface {
	// SaveClient registers or replaces a client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID, or ErrClientNotFound
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ListClients lists all registered clients
	ListClients(ctx context.Context) ([]*Client, error)
}

// AuthorizationRecord represents an issued authorization code
type AuthorizationRecord struct {
	Code        string
	ClientID    string
	RedirectURI string
	State       string

	// RedirectURIWithCode is the default redirect target built at issuance.
	RedirectURIWithCode string

	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// Client represents a registered client application
type Client struct {
	ClientID     string
	ClientName   string
	RedirectURIs []string // first entry is the default redirect URI
	CreatedAt    time.Time
}

// DefaultRedirectURI returns the first registered redirect URI, if any.
func (c *Client) DefaultRedirectURI() string {
	if c == nil || len(c.RedirectURIs) == 0 {
		return ""
	}
	return c.RedirectURIs[0]
}

// AllowsRedirectURI reports whether redirectURI is acceptable for the client.
// A client without registered redirect URIs accepts any URI.
func (c *Client) AllowsRedirectURI(redirectURI string) bool {
	if c == nil || len(c.RedirectURIs) == 0 {
		return true
	}
	for _, uri := range c.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}
