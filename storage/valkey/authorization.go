package valkey

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oauth-authcode/internal/util"
	"github.com/giantswarm/oauth-authcode/security"
	"github.com/giantswarm/oauth-authcode/storage"
)

// Save stores a new authorization record
func (s *Store) Save(ctx context.Context, record *storage.AuthorizationRecord) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save")
	defer span.End()
	start := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save", err, start) }()

	if record == nil {
		return fmt.Errorf("invalid authorization record: record is nil")
	}
	if err := validateStringLength(record.Code, MaxCodeLength, "code"); err != nil {
		return err
	}
	if err := validateStringLength(record.ClientID, MaxIDLength, "client_id"); err != nil {
		return err
	}

	stored := *record
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	payload, err := s.encodeRecord(&stored)
	if err != nil {
		return err
	}

	ttl := s.ttlFor(stored.ExpiresAt)
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaSaveRecord).
			Numkeys(3).
			Key(s.codeKey(stored.Code), s.clientCodesKey(stored.ClientID), s.usedKey(stored.Code)).
			Arg(payload, strconv.FormatInt(ttl.Milliseconds(), 10), stored.Code).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to save authorization record: %w", err)
	}
	if result == "DUPLICATE" {
		return storage.ErrDuplicateCode
	}

	s.logger.Debug("Saved authorization code",
		"client_id", stored.ClientID,
		"code_prefix", util.SafeTruncate(stored.Code, codeLogLength),
		"ttl", ttl)
	return nil
}

// Get returns the live record for clientID and code, with Used populated.
func (s *Store) Get(ctx context.Context, clientID, code string) (*storage.AuthorizationRecord, error) {
	ctx, span := s.startStorageSpan(ctx, "get")
	defer span.End()

	results := s.client.DoMulti(ctx,
		s.client.B().Get().Key(s.codeKey(code)).Build(),
		s.client.B().Get().Key(s.usedKey(code)).Build(),
	)

	record, err := s.liveRecord(results[0], clientID, code)
	if err != nil {
		return nil, err
	}

	if err := results[1].Error(); err == nil {
		record.Used = true
	} else if !isNil(err) {
		return nil, fmt.Errorf("failed to read used marker: %w", err)
	}
	return record, nil
}

// liveRecord decodes a GET result, treating absent, foreign and expired
// records as not found.
func (s *Store) liveRecord(res valkeygo.ValkeyResult, clientID, code string) (*storage.AuthorizationRecord, error) {
	payload, err := res.ToString()
	if err != nil {
		if isNil(err) {
			return nil, storage.ErrAuthorizationNotFound
		}
		return nil, fmt.Errorf("failed to read authorization record: %w", err)
	}

	record, err := s.decodeRecord(payload, code)
	if err != nil {
		return nil, err
	}
	if record.ClientID != clientID || security.IsExpired(record.ExpiresAt) {
		return nil, storage.ErrAuthorizationNotFound
	}
	return record, nil
}

// FindLatest returns the most recently created live record for clientID.
// Index entries whose records have expired are pruned on the way.
func (s *Store) FindLatest(ctx context.Context, clientID string) (*storage.AuthorizationRecord, error) {
	ctx, span := s.startStorageSpan(ctx, "find_latest")
	defer span.End()

	indexKey := s.clientCodesKey(clientID)
	members, err := s.client.Do(ctx, s.client.B().Smembers().Key(indexKey).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to read client index: %w", err)
	}
	if len(members) == 0 {
		return nil, storage.ErrAuthorizationNotFound
	}
	sort.Strings(members)

	cmds := make(valkeygo.Commands, 0, len(members))
	for _, code := range members {
		cmds = append(cmds, s.client.B().Get().Key(s.codeKey(code)).Build())
	}
	results := s.client.DoMulti(ctx, cmds...)

	var (
		latest *storage.AuthorizationRecord
		stale  []string
	)
	for i, res := range results {
		record, err := s.liveRecord(res, clientID, members[i])
		if err != nil {
			if err == storage.ErrAuthorizationNotFound {
				stale = append(stale, members[i])
				continue
			}
			return nil, err
		}
		if latest == nil || !record.CreatedAt.Before(latest.CreatedAt) {
			latest = record
		}
	}

	if len(stale) > 0 {
		if err := s.client.Do(ctx, s.client.B().Srem().Key(indexKey).Member(stale...).Build()).Error(); err != nil {
			s.logger.Warn("Failed to prune client index", "client_id", clientID, "error", err)
		}
	}

	if latest == nil {
		return nil, storage.ErrAuthorizationNotFound
	}
	return latest, nil
}

// HasClient reports whether clientID holds at least one live record.
func (s *Store) HasClient(ctx context.Context, clientID string) (bool, error) {
	_, err := s.FindLatest(ctx, clientID)
	if err == storage.ErrAuthorizationNotFound {
		return false, nil
	}
	return err == nil, err
}

// HasCode reports whether code is a live code of clientID.
func (s *Store) HasCode(ctx context.Context, clientID, code string) (bool, error) {
	_, err := s.liveRecord(s.client.Do(ctx, s.client.B().Get().Key(s.codeKey(code)).Build()), clientID, code)
	if err == storage.ErrAuthorizationNotFound {
		return false, nil
	}
	return err == nil, err
}

// RedirectURIMatches compares redirectURI with the stored one byte for byte.
func (s *Store) RedirectURIMatches(ctx context.Context, clientID, code, redirectURI string) (bool, error) {
	record, err := s.liveRecord(s.client.Do(ctx, s.client.B().Get().Key(s.codeKey(code)).Build()), clientID, code)
	if err != nil {
		return false, err
	}
	return record.RedirectURI == redirectURI, nil
}

// IsUsed reports whether the code has been redeemed.
func (s *Store) IsUsed(ctx context.Context, clientID, code string) (bool, error) {
	record, err := s.Get(ctx, clientID, code)
	if err != nil {
		return false, err
	}
	return record.Used, nil
}

// MarkUsed atomically flips the code to used. It returns false when another
// caller marked it first.
func (s *Store) MarkUsed(ctx context.Context, clientID, code string) (marked bool, err error) {
	ctx, span := s.startStorageSpan(ctx, "mark_used")
	defer span.End()
	start := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "mark_used", err, start) }()

	// Ownership is checked first; the used marker itself is the atomic part.
	if _, err := s.liveRecord(s.client.Do(ctx, s.client.B().Get().Key(s.codeKey(code)).Build()), clientID, code); err != nil {
		return false, err
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaMarkUsed).
			Numkeys(2).
			Key(s.codeKey(code), s.usedKey(code)).
			Arg(strconv.FormatInt(s.defaultTTL.Milliseconds(), 10)).
			Build(),
	).ToString()
	if err != nil {
		return false, fmt.Errorf("failed to execute atomic mark used: %w", err)
	}

	switch result {
	case "MARKED":
		return true, nil
	case "ALREADY_USED":
		s.logger.Warn("Authorization code already marked used",
			"client_id", clientID,
			"code_prefix", util.SafeTruncate(code, codeLogLength))
		return false, nil
	default:
		return false, storage.ErrAuthorizationNotFound
	}
}
