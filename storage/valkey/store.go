package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth-authcode/instrumentation"
	"github.com/giantswarm/oauth-authcode/security"
	"github.com/giantswarm/oauth-authcode/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "authcode:"

	// DefaultRecordTTL is used for records saved without an expiry so that
	// nothing outlives the longest sensible code lifetime.
	DefaultRecordTTL = 10 * time.Minute

	// codeLogLength is the number of characters to include when logging codes
	codeLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxCodeLength bounds stored authorization codes
	MaxCodeLength = 512

	// MaxIDLength bounds client identifiers
	MaxIDLength = 256

	// MaxRecordSize bounds the serialized record
	MaxRecordSize = 64 * 1024

	storageType = "valkey"
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "authcode:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// DefaultTTL applies to records without ExpiresAt (default DefaultRecordTTL)
	DefaultTTL time.Duration
}

// Store is a Valkey-backed AuthorizationStore and ClientStore. Codes are
// globally unique keys, so any number of server replicas can share it.
type Store struct {
	client     valkeygo.Client
	prefix     string
	logger     *slog.Logger
	defaultTTL time.Duration

	// encryptor seals record payloads at rest; nil stores plain JSON
	encryptor *security.Encryptor

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

var (
	_ storage.AuthorizationStore = (*Store)(nil)
	_ storage.ClientStore        = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	s := NewWithClient(client, cfg)
	s.logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", s.prefix)
	return s, nil
}

// NewWithClient wraps an existing client. Only KeyPrefix, Logger and
// DefaultTTL are read from cfg.
func NewWithClient(client valkeygo.Client, cfg Config) *Store {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultRecordTTL
	}
	return &Store{
		client:     client,
		prefix:     prefix,
		logger:     logger,
		defaultTTL: ttl,
	}
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// Ping checks that the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetEncryptor enables encryption of authorization records at rest.
// Must be called before the store is used.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("Record encryption at rest enabled for Valkey storage")
	}
}

// SetInstrumentation enables spans and storage metrics.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// ============================================================
// Key Schema
// ============================================================

func (s *Store) codeKey(code string) string {
	return s.prefix + "code:" + code
}

func (s *Store) usedKey(code string) string {
	return s.prefix + "used:" + code
}

func (s *Store) clientCodesKey(clientID string) string {
	return s.prefix + "client-codes:" + clientID
}

func (s *Store) clientKey(clientID string) string {
	return s.prefix + "client:" + clientID
}

func (s *Store) clientsKey() string {
	return s.prefix + "clients"
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================

// luaSaveRecord stores a record only if its code is free, clears any stale
// used marker and indexes the code under its client. The index lives at
// least as long as its longest record.
//
// KEYS[1] code key, KEYS[2] client index, KEYS[3] used key
// ARGV[1] payload, ARGV[2] ttl in ms, ARGV[3] code
const luaSaveRecord = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 'DUPLICATE'
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('DEL', KEYS[3])
redis.call('SADD', KEYS[2], ARGV[3])
local current = redis.call('PTTL', KEYS[2])
if current < tonumber(ARGV[2]) then
  redis.call('PEXPIRE', KEYS[2], ARGV[2])
end
return 'OK'
`

// luaMarkUsed sets the used marker if and only if it is not set yet, giving
// it the remaining lifetime of the record. Exactly one concurrent caller
// receives MARKED.
//
// KEYS[1] code key, KEYS[2] used key
// ARGV[1] fallback ttl in ms
const luaMarkUsed = `
local pttl = redis.call('PTTL', KEYS[1])
if pttl == -2 then
  return 'NOT_FOUND'
end
if pttl <= 0 then
  pttl = tonumber(ARGV[1])
end
if redis.call('SET', KEYS[2], '1', 'NX', 'PX', pttl) then
  return 'MARKED'
end
return 'ALREADY_USED'
`

// ============================================================
// Serialization
// ============================================================

type recordJSON struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	State               string    `json:"state,omitempty"`
	RedirectURIWithCode string    `json:"redirect_uri_with_code"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// encodeRecord serializes a record, sealing it when encryption is enabled.
// The code is bound as additional data so payloads cannot be swapped between keys.
func (s *Store) encodeRecord(r *storage.AuthorizationRecord) (string, error) {
	data, err := json.Marshal(recordJSON{
		Code:                r.Code,
		ClientID:            r.ClientID,
		RedirectURI:         r.RedirectURI,
		State:               r.State,
		RedirectURIWithCode: r.RedirectURIWithCode,
		CreatedAt:           r.CreatedAt,
		ExpiresAt:           r.ExpiresAt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal authorization record: %w", err)
	}
	if len(data) > MaxRecordSize {
		return "", errInputTooLarge
	}
	return s.encryptor.EncryptString(string(data), r.Code)
}

func (s *Store) decodeRecord(payload, code string) (*storage.AuthorizationRecord, error) {
	plain, err := s.encryptor.DecryptString(payload, code)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt authorization record: %w", err)
	}
	var j recordJSON
	if err := json.Unmarshal([]byte(plain), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization record: %w", err)
	}
	return &storage.AuthorizationRecord{
		Code:                j.Code,
		ClientID:            j.ClientID,
		RedirectURI:         j.RedirectURI,
		State:               j.State,
		RedirectURIWithCode: j.RedirectURIWithCode,
		CreatedAt:           j.CreatedAt,
		ExpiresAt:           j.ExpiresAt,
	}, nil
}

type clientJSON struct {
	ClientID     string    `json:"client_id"`
	ClientName   string    `json:"client_name,omitempty"`
	RedirectURIs []string  `json:"redirect_uris,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ============================================================
// Helpers
// ============================================================

var errInputTooLarge = fmt.Errorf("input exceeds maximum allowed size")

func validateStringLength(value string, maxLen int, fieldName string) error {
	if value == "" {
		return fmt.Errorf("invalid authorization record: %s is required", fieldName)
	}
	if len(value) > maxLen {
		return fmt.Errorf("%w: %s", errInputTooLarge, fieldName)
	}
	return nil
}

// ttlFor returns the key lifetime for a record expiring at expiresAt.
// The clock skew grace period is added so the key outlives the logical expiry.
func (s *Store) ttlFor(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return s.defaultTTL
	}
	ttl := time.Until(expiresAt) + security.DefaultClockSkewGracePeriod
	if ttl < time.Millisecond {
		return time.Millisecond
	}
	return ttl
}

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, noop.Span{}
	}
	ctx, span := s.tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, storageType)
	return ctx, span
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, start time.Time) {
	if s.instrumentation == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, float64(time.Since(start).Microseconds())/1000)
}

func isNil(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
