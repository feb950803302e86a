// Package valkey provides a Valkey storage backend for authorization records
// and registered clients.
//
// Valkey is wire-compatible with Redis. Use this backend when more than one
// server replica must see the same codes, or when codes should survive a
// restart within their lifetime.
//
// # Key Schema
//
// All keys use a configurable prefix (default "authcode:"):
//
//	{prefix}code:{code}              -> JSON(record), PX = code lifetime + grace
//	{prefix}used:{code}              -> "1" once redeemed, same lifetime
//	{prefix}client-codes:{clientID}  -> SET of codes issued to the client
//	{prefix}client:{clientID}        -> JSON(Client)
//	{prefix}clients                  -> SET of client IDs
//
// # Atomic Operations
//
// Save and MarkUsed run as Lua scripts. Save refuses an existing code, so
// duplicate codes are reported as storage.ErrDuplicateCode even across
// replicas. MarkUsed sets the used marker with SET NX, which lets exactly one
// of any number of concurrent callers win.
//
// The scripts touch several keys without hash tags, so the store expects a
// standalone or replicated (sentinel) deployment rather than cluster mode.
//
// # Encryption at Rest
//
// SetEncryptor seals record payloads with AES-256-GCM, binding each payload
// to its code:
//
//	enc, _ := security.NewEncryptorFromSecret(secret, "valkey-records")
//	store.SetEncryptor(enc)
package valkey
