// Package memory provides an in-memory implementation of the storage interfaces.
//
// This package implements AuthorizationStore and ClientStore using Go's built-in
// maps with mutex protection for thread safety. It is suitable for development,
// testing, and single-instance deployments where persistence is not required.
//
// Features:
//   - Thread-safe operations using sync.RWMutex
//   - MarkUsed performed as a compare-and-set under the write lock
//   - Automatic cleanup of expired authorization records
//   - Configurable cleanup intervals
//   - OpenTelemetry spans and storage metrics via SetInstrumentation
//
// For multi-instance deployments, use the storage/valkey package instead.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	server, _ := oauth.NewServer(store, &oauth.ServerConfig{ClientStore: store}, logger)
package memory
