package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/giantswarm/oauth-authcode/storage"
)

// SaveClient stores or replaces a registered client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil {
		return fmt.Errorf("invalid client: client is nil")
	}
	if err := validateStringLength(client.ClientID, MaxIDLength, "client_id"); err != nil {
		return err
	}

	created := client.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	data, err := json.Marshal(clientJSON{
		ClientID:     client.ClientID,
		ClientName:   client.ClientName,
		RedirectURIs: client.RedirectURIs,
		CreatedAt:    created,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	for _, res := range s.client.DoMulti(ctx,
		s.client.B().Set().Key(s.clientKey(client.ClientID)).Value(string(data)).Build(),
		s.client.B().Sadd().Key(s.clientsKey()).Member(client.ClientID).Build(),
	) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("failed to save client: %w", err)
		}
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientKey(clientID)).Build()).ToString()
	if err != nil {
		if isNil(err) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var j clientJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return &storage.Client{
		ClientID:     j.ClientID,
		ClientName:   j.ClientName,
		RedirectURIs: j.RedirectURIs,
		CreatedAt:    j.CreatedAt,
	}, nil
}

// ListClients returns all registered clients ordered by ID.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	ids, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.clientsKey()).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	sort.Strings(ids)

	clients := make([]*storage.Client, 0, len(ids))
	for _, id := range ids {
		client, err := s.GetClient(ctx, id)
		if err == storage.ErrClientNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return clients, nil
}
