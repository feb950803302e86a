// Package mock provides a hookable AuthorizationStore for tests that need to
// inject storage failures or observe calls.
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/oauth-authcode/storage"
	"github.com/giantswarm/oauth-authcode/storage/memory"
)

// AuthorizationStore delegates every call to its Func field when set and to
// an in-memory store otherwise. Calls are counted by method name.
type AuthorizationStore struct {
	SaveFunc               func(ctx context.Context, record *storage.AuthorizationRecord) error
	GetFunc                func(ctx context.Context, clientID, code string) (*storage.AuthorizationRecord, error)
	FindLatestFunc         func(ctx context.Context, clientID string) (*storage.AuthorizationRecord, error)
	HasClientFunc          func(ctx context.Context, clientID string) (bool, error)
	HasCodeFunc            func(ctx context.Context, clientID, code string) (bool, error)
	RedirectURIMatchesFunc func(ctx context.Context, clientID, code, redirectURI string) (bool, error)
	IsUsedFunc             func(ctx context.Context, clientID, code string) (bool, error)
	MarkUsedFunc           func(ctx context.Context, clientID, code string) (bool, error)

	// Backing receives calls without a hook.
	Backing *memory.Store

	mu         sync.Mutex
	callCounts map[string]int
}

var _ storage.AuthorizationStore = (*AuthorizationStore)(nil)

// NewAuthorizationStore creates a mock backed by a fresh memory store.
// Call Stop when done.
func NewAuthorizationStore() *AuthorizationStore {
	return &AuthorizationStore{
		Backing:    memory.New(),
		callCounts: make(map[string]int),
	}
}

// Stop stops the backing store.
func (m *AuthorizationStore) Stop() {
	if m.Backing != nil {
		m.Backing.Stop()
	}
}

// CallCount returns how many times method was invoked.
func (m *AuthorizationStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[method]
}

func (m *AuthorizationStore) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callCounts == nil {
		m.callCounts = make(map[string]int)
	}
	m.callCounts[method]++
}

func (m *AuthorizationStore) Save(ctx context.Context, record *storage.AuthorizationRecord) error {
	m.record("Save")
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, record)
	}
	return m.Backing.Save(ctx, record)
}

func (m *AuthorizationStore) Get(ctx context.Context, clientID, code string) (*storage.AuthorizationRecord, error) {
	m.record("Get")
	if m.GetFunc != nil {
		return m.GetFunc(ctx, clientID, code)
	}
	return m.Backing.Get(ctx, clientID, code)
}

func (m *AuthorizationStore) FindLatest(ctx context.Context, clientID string) (*storage.AuthorizationRecord, error) {
	m.record("FindLatest")
	if m.FindLatestFunc != nil {
		return m.FindLatestFunc(ctx, clientID)
	}
	return m.Backing.FindLatest(ctx, clientID)
}

func (m *AuthorizationStore) HasClient(ctx context.Context, clientID string) (bool, error) {
	m.record("HasClient")
	if m.HasClientFunc != nil {
		return m.HasClientFunc(ctx, clientID)
	}
	return m.Backing.HasClient(ctx, clientID)
}

func (m *AuthorizationStore) HasCode(ctx context.Context, clientID, code string) (bool, error) {
	m.record("HasCode")
	if m.HasCodeFunc != nil {
		return m.HasCodeFunc(ctx, clientID, code)
	}
	return m.Backing.HasCode(ctx, clientID, code)
}

func (m *AuthorizationStore) RedirectURIMatches(ctx context.Context, clientID, code, redirectURI string) (bool, error) {
	m.record("RedirectURIMatches")
	if m.RedirectURIMatchesFunc != nil {
		return m.RedirectURIMatchesFunc(ctx, clientID, code, redirectURI)
	}
	return m.Backing.RedirectURIMatches(ctx, clientID, code, redirectURI)
}

func (m *AuthorizationStore) IsUsed(ctx context.Context, clientID, code string) (bool, error) {
	m.record("IsUsed")
	if m.IsUsedFunc != nil {
		return m.IsUsedFunc(ctx, clientID, code)
	}
	return m.Backing.IsUsed(ctx, clientID, code)
}

func (m *AuthorizationStore) MarkUsed(ctx context.Context, clientID, code string) (bool, error) {
	m.record("MarkUsed")
	if m.MarkUsedFunc != nil {
		return m.MarkUsedFunc(ctx, clientID, code)
	}
	return m.Backing.MarkUsed(ctx, clientID, code)
}
