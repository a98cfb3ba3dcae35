// Package identity stores user accounts and the policy attributes
// that access decisions evaluate against.
//
// # Storage
//
// A single SQLite database with two tables:
//
//	users       user_id (uuid), email (unique), name,
//	            password_hash (argon2id PHC string), role
//	attributes  (user_id, key) -> value
//
// WAL journal mode plus a busy timeout keep the handler goroutines
// from tripping over the writer. Passwords are argon2id hashes in PHC
// string form; the parameters ride along in the hash, so they can be
// raised later without invalidating existing accounts.
//
// # Attribute bags
//
// Policies never consult users directly; they see a flat bag built by
// EffectiveAttributes: the stored rows plus a derived Role entry
// (title-cased role name). Two writes are refused at this layer no
// matter who asks:
//
//   - the Role key, because the derived entry must stay the only
//     source of role claims
//   - the __REVOKED__ value, because an attribute carrying it would
//     satisfy the blanket revocation policy
//
// Attribute keys and values follow the policy clause grammar, so
// every stored attribute is expressible in a policy.
//
// # See Also
//
//   - pkg/policy: evaluates clauses against the bags built here
//   - pkg/broker: resolves callers to bags on every access
package identity
