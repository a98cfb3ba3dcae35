// Package session issues and validates login sessions backed by
// BoltDB.
//
// Tokens are 32 bytes from crypto/rand, hex-encoded, stored as JSON
// values in a `sessions` bucket keyed by token. Persisting sessions
// means a service restart does not log everyone out, which matters
// because the HTTP layer has no other authentication state.
//
// Expiry is enforced in two places: Validate deletes an expired entry
// the moment it is touched, and a periodic PruneExpired sweep clears
// entries nobody touches. DestroyAllForUser exists for account-wide
// revocation, where leaving live sessions behind would undo the
// revocation until each token expired on its own.
package session
