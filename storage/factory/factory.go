// Package factory builds the configured storage backend.
package factory

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/giantswarm/oauth-authcode/instrumentation"
	"github.com/giantswarm/oauth-authcode/security"
	"github.com/giantswarm/oauth-authcode/storage"
	"github.com/giantswarm/oauth-authcode/storage/memory"
	"github.com/giantswarm/oauth-authcode/storage/valkey"
)

// Type names a storage backend.
type Type string

const (
	// TypeMemory keeps everything in process memory.
	TypeMemory Type = "memory"
	// TypeValkey stores records in Valkey.
	TypeValkey Type = "valkey"
)

// ParseType parses a backend name case-insensitively.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case "", TypeMemory:
		return TypeMemory, nil
	case TypeValkey:
		return TypeValkey, nil
	default:
		return "", fmt.Errorf("unsupported storage type: %q", s)
	}
}

// String returns the backend name
func (t Type) String() string {
	return string(t)
}

// Config selects and configures a backend.
type Config struct {
	Type   Type
	Valkey valkey.Config

	// EncryptionSecret enables record encryption at rest for backends that persist data.
	EncryptionSecret string

	Logger          *slog.Logger
	Instrumentation *instrumentation.Instrumentation
}

// Backend is a ready to use pair of stores. Both fields refer to the same
// underlying store.
type Backend struct {
	Type           Type
	Authorizations storage.AuthorizationStore
	Clients        storage.ClientStore

	close func()
}

// Close releases the backend's resources.
func (b *Backend) Close() {
	if b != nil && b.close != nil {
		b.close()
	}
}

// New creates the backend described by cfg.
func New(cfg Config) (*Backend, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case "", TypeMemory:
		store := memory.New()
		store.SetLogger(logger)
		if cfg.Instrumentation != nil {
			store.SetInstrumentation(cfg.Instrumentation)
		}
		if cfg.EncryptionSecret != "" {
			logger.Debug("Encryption secret ignored by in-memory storage")
		}
		return &Backend{
			Type:           TypeMemory,
			Authorizations: store,
			Clients:        store,
			close:          store.Stop,
		}, nil

	case TypeValkey:
		vcfg := cfg.Valkey
		if vcfg.Logger == nil {
			vcfg.Logger = logger
		}
		store, err := valkey.New(vcfg)
		if err != nil {
			return nil, err
		}
		if cfg.EncryptionSecret != "" {
			enc, err := security.NewEncryptorFromSecret(cfg.EncryptionSecret, "valkey-records")
			if err != nil {
				store.Close()
				return nil, err
			}
			store.SetEncryptor(enc)
		}
		if cfg.Instrumentation != nil {
			store.SetInstrumentation(cfg.Instrumentation)
		}
		return &Backend{
			Type:           TypeValkey,
			Authorizations: store,
			Clients:        store,
			close:          store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %q", cfg.Type)
	}
}
