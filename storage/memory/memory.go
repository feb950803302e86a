package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth-authcode/instrumentation"
	"github.com/giantswarm/oauth-authcode/internal/util"
	"github.com/giantswarm/oauth-authcode/security"
	"github.com/giantswarm/oauth-authcode/storage"
)

const (
	// codeLogLength is the number of characters to include when logging codes
	// This provides enough uniqueness for debugging while keeping logs secure
	codeLogLength = 8

	// storageType is reported on spans
	storageType = "memory"
)

// entry wraps a stored record with its insertion sequence so FindLatest is
// deterministic when two records share a CreatedAt.
type entry struct {
	record *storage.AuthorizationRecord
	seq    uint64
}

// Store is an in-memory implementation of AuthorizationStore and ClientStore.
type Store struct {
	mu sync.RWMutex

	// Authorization storage: client ID -> code -> entry
	authorizations map[string]map[string]*entry
	// codeOwners maps each stored code to its client so codes stay globally unique
	codeOwners map[string]string
	seq        uint64

	// Client storage
	clients map[string]*storage.Client

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	authorizationsCountAtomic atomic.Int64
	clientsCountAtomic        atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.AuthorizationStore = (*Store)(nil)
	_ storage.ClientStore        = (*Store)(nil)
)

// New creates a new in-memory store with default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		authorizations:  make(map[string]map[string]*entry),
		codeOwners:      make(map[string]string),
		clients:         make(map[string]*storage.Client),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	// Start background cleanup
	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.authorizationsCountAtomic.Store(int64(len(s.codeOwners)))
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	logger := s.logger
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.authorizationsCountAtomic.Load() },
			func() int64 { return s.clientsCountAtomic.Load() },
		)
		if err != nil {
			logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// AuthorizationStore Implementation
// ============================================================

// Save stores a new authorization record
func (s *Store) Save(ctx context.Context, record *storage.AuthorizationRecord) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "save", err, startTime)
	}()

	if record == nil || record.Code == "" {
		return fmt.Errorf("invalid authorization record: code is required")
	}
	if record.ClientID == "" {
		return fmt.Errorf("invalid authorization record: client_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, exists := s.codeOwners[record.Code]; exists {
		existing := s.authorizations[owner][record.Code]
		if existing != nil && !security.IsExpired(existing.record.ExpiresAt) {
			return storage.ErrDuplicateCode
		}
		// The previous holder of this code is expired; reclaim it now.
		s.deleteLocked(owner, record.Code)
	}

	stored := *record
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.seq++

	byCode, ok := s.authorizations[stored.ClientID]
	if !ok {
		byCode = make(map[string]*entry)
		s.authorizations[stored.ClientID] = byCode
	}
	byCode[stored.Code] = &entry{record: &stored, seq: s.seq}
	s.codeOwners[stored.Code] = stored.ClientID
	s.authorizationsCountAtomic.Add(1)

	s.logger.Debug("Saved authorization code",
		"client_id", stored.ClientID,
		"code_prefix", util.SafeTruncate(stored.Code, codeLogLength))
	return nil
}

// Get returns a copy of the live record for clientID and code
func (s *Store) Get(ctx context.Context, clientID, code string) (*storage.AuthorizationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record := s.liveLocked(clientID, code)
	if record == nil {
		return nil, storage.ErrAuthorizationNotFound
	}

	// Return a COPY to prevent caller from modifying our stored version
	recordCopy := *record
	return &recordCopy, nil
}

// FindLatest returns the most recently saved live record for clientID
func (s *Store) FindLatest(ctx context.Context, clientID string) (*storage.AuthorizationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *entry
	for _, e := range s.authorizations[clientID] {
		if security.IsExpired(e.record.ExpiresAt) {
			continue
		}
		if latest == nil || e.seq > latest.seq {
			latest = e
		}
	}
	if latest == nil {
		return nil, storage.ErrAuthorizationNotFound
	}

	recordCopy := *latest.record
	return &recordCopy, nil
}

// HasClient reports whether clientID owns at least one live record
func (s *Store) HasClient(ctx context.Context, clientID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.authorizations[clientID] {
		if !security.IsExpired(e.record.ExpiresAt) {
			return true, nil
		}
	}
	return false, nil
}

// HasCode reports whether code is a live record of clientID
func (s *Store) HasCode(ctx context.Context, clientID, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.liveLocked(clientID, code) != nil, nil
}

// RedirectURIMatches reports whether the record was issued for exactly redirectURI
func (s *Store) RedirectURIMatches(ctx context.Context, clientID, code, redirectURI string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record := s.liveLocked(clientID, code)
	if record == nil {
		return false, storage.ErrAuthorizationNotFound
	}
	return record.RedirectURI == redirectURI, nil
}

// IsUsed reports whether the record was already redeemed
func (s *Store) IsUsed(ctx context.Context, clientID, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record := s.liveLocked(clientID, code)
	if record == nil {
		return false, storage.ErrAuthorizationNotFound
	}
	return record.Used, nil
}

// MarkUsed atomically marks the record used if it is currently unused.
//
// SECURITY: This operation is atomic - only ONE concurrent request can get true.
// All other concurrent requests observe false.
func (s *Store) MarkUsed(ctx context.Context, clientID, code string) (marked bool, err error) {
	ctx, span := s.startStorageSpan(ctx, "mark_used")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "mark_used", err, startTime)
	}()

	s.mu.Lock() // MUST use write lock for atomic check-and-set
	defer s.mu.Unlock()

	record := s.liveLocked(clientID, code)
	if record == nil {
		return false, storage.ErrAuthorizationNotFound
	}

	if record.Used {
		s.logger.Debug("Authorization code already used",
			"client_id", clientID,
			"code_prefix", util.SafeTruncate(code, codeLogLength))
		return false, nil
	}

	record.Used = true
	s.logger.Debug("Marked authorization code as used",
		"client_id", clientID,
		"code_prefix", util.SafeTruncate(code, codeLogLength))
	return true, nil
}

// liveLocked returns the stored record if present and not expired. Callers hold s.mu.
func (s *Store) liveLocked(clientID, code string) *storage.AuthorizationRecord {
	e, ok := s.authorizations[clientID][code]
	if !ok || security.IsExpired(e.record.ExpiresAt) {
		return nil
	}
	return e.record
}

// deleteLocked removes a record. Callers hold the write lock.
func (s *Store) deleteLocked(clientID, code string) {
	byCode, ok := s.authorizations[clientID]
	if !ok {
		return
	}
	if _, ok := byCode[code]; !ok {
		return
	}
	delete(byCode, code)
	if len(byCode) == 0 {
		delete(s.authorizations, clientID)
	}
	delete(s.codeOwners, code)
	s.authorizationsCountAtomic.Add(-1)
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient registers or replaces a client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil {
		return fmt.Errorf("client cannot be nil")
	}
	if client.ClientID == "" {
		return fmt.Errorf("client ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.clients[client.ClientID]; !existed {
		s.clientsCountAtomic.Add(1)
	}

	stored := *client
	stored.RedirectURIs = append([]string(nil), client.RedirectURIs...)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.clients[client.ClientID] = &stored

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}

	clientCopy := *client
	clientCopy.RedirectURIs = append([]string(nil), client.RedirectURIs...)
	return &clientCopy, nil
}

// ListClients lists all registered clients ordered by client ID
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clientCopy := *client
		clientCopy.RedirectURIs = append([]string(nil), client.RedirectURIs...)
		clients = append(clients, &clientCopy)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].ClientID < clients[j].ClientID
	})
	return clients, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0
	for clientID, byCode := range s.authorizations {
		for code, e := range byCode {
			if security.IsExpired(e.record.ExpiresAt) {
				s.deleteLocked(clientID, code)
				cleaned++
			}
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired authorization codes", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, noop.Span{}
	}

	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, storageType),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
