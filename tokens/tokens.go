// Package tokens generates the opaque identifiers used as authorization codes
// and access tokens.
package tokens

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Generator kinds accepted by New.
const (
	KindUUID   = "uuid"
	KindRandom = "random"
)

// ErrUnknownGenerator is returned by New for an unsupported kind.
var ErrUnknownGenerator = errors.New("unknown token generator")

// Generator produces unguessable identifiers.
// Implementations must be safe for concurrent use.
type Generator interface {
	GenerateAuthorizationCode() (string, error)
	GenerateAccessToken() (string, error)
}

// New returns the generator for kind. An empty kind selects KindUUID.
func New(kind string) (Generator, error) {
	switch strings.ToLower(kind) {
	case "", KindUUID:
		return UUIDGenerator{}, nil
	case KindRandom:
		return RandomGenerator{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGenerator, kind)
	}
}

// UUIDGenerator returns random (version 4) UUIDs without dashes: 32 hex characters.
type UUIDGenerator struct{}

// GenerateAuthorizationCode implements Generator.
func (UUIDGenerator) GenerateAuthorizationCode() (string, error) {
	return uuidWithoutDashes()
}

// GenerateAccessToken implements Generator.
func (UUIDGenerator) GenerateAccessToken() (string, error) {
	return uuidWithoutDashes()
}

func uuidWithoutDashes() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate uuid: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// RandomGenerator returns 43-character base64url strings carrying 256 bits of
// entropy from crypto/rand.
type RandomGenerator struct{}

// GenerateAuthorizationCode implements Generator.
func (RandomGenerator) GenerateAuthorizationCode() (string, error) {
	return oauth2.GenerateVerifier(), nil
}

// GenerateAccessToken implements Generator.
func (RandomGenerator) GenerateAccessToken() (string, error) {
	return oauth2.GenerateVerifier(), nil
}
