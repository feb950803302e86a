// Package storage defines the persistence contract for issued authorization
// codes and registered clients.
//
// The storage package defines the interfaces used by the authorization and
// token endpoints:
//   - AuthorizationStore: issued codes, their client and redirect binding, and single-use state
//   - ClientStore: optional registry of known clients
//
// A record is immutable after Save except for its Used flag, which only ever
// moves from false to true through MarkUsed. MarkUsed is a compare-and-set and
// is the only place where concurrent redemptions of the same code are decided.
//
// Records past their ExpiresAt (plus the clock skew grace period) are treated
// as absent by every query.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development, testing and single-instance deployments
//   - storage/valkey: Valkey/Redis-compatible storage shared between instances
//   - storage/mock: Function-hook mocks for unit testing
//   - storage/factory: Builds one of the above from a backend name
package storage
