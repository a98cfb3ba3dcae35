/*
Package types defines the core data structures used throughout Medlock.

This package contains all fundamental types that represent Medlock's
domain model: users and roles, per-object metadata records, audit
records, sessions, and the enumerations of audit actions and statuses.
These types are used by all other packages for storage, policy
evaluation, brokering, and API responses.

# Core Types

Identity:
  - User: registered identity with role and password hash
  - Role: patient, doctor, or admin (typed string constants)
  - UserInfo: admin-facing listing row (identity + attribute bag)

Objects:
  - ObjectMeta: per-object record (owner, policy, wrapped key, IV,
    storage mode, revocation set)
  - ObjectEntry: listing row (metadata + blob size/mtime)
  - AccessGrant: broker response carrying the re-wrapped key

Audit:
  - AuditRecord: one hash-chained log line
  - AuditAction: ACCESS, REVOKE, REVOKE_USER
  - AuditStatus: GRANTED_REWRAP, DENIED_POLICY, DENIED_REVOKED,
    DENIED_ROLE, DENIED_AUTH, DENIED_OWNER, INVALID_REQUEST, SUCCESS

Sessions:
  - Session: token, user id, role, expiry

# Wire Contracts

Two types carry on-disk compatibility contracts via their JSON tags
and must not be reshaped casually:

ObjectMeta (one JSON file per object):

	{
	  "owner": "3fb4…",
	  "file": "report-2024.enc",
	  "policy": "Role:Doctor",
	  "key_blob": "8a1f…",
	  "iv": "0c6e22…",
	  "mode": "client_side_encryption",
	  "revoked_users": []
	}

AuditRecord (one JSON object per log line):

	{
	  "timestamp": 1735689600,
	  "user": "9d2c…",
	  "file": "report-2024",
	  "action": "ACCESS",
	  "status": "GRANTED_REWRAP",
	  "prev_hash": "ab34…",
	  "hash": "f01b…"
	}

The record hash is computed over the canonical key-sorted JSON with
the hash field omitted; pkg/audit owns that computation.

# Reserved Values

  - RoleAttributeKey ("Role"): derived attribute visible to the
    policy evaluator; never stored as an explicit attribute row.
  - RevokedSentinelValue ("__REVOKED__"): forbidden as an attribute
    value so the blanket-revocation policy Role:__REVOKED__ can never
    be satisfied.
  - StorageModeClientSide: the only accepted mode for new uploads.

# Design Patterns

Enumeration pattern: all enums use typed string constants:

	type AuditStatus string
	const (
	    StatusGrantedRewrap AuditStatus = "GRANTED_REWRAP"
	    StatusDeniedPolicy  AuditStatus = "DENIED_POLICY"
	)

Role derivation: Role.Attribute() title-cases the role for policy
matching ("doctor" → "Doctor"); the policy parser applies the same
canonicalization to Role clause values so both sides always agree.

Thread safety: types here are plain data. Reads are safe from any
goroutine; mutation is synchronized by the owning store (pkg/meta
serializes per-object updates, pkg/session uses bbolt transactions).

# Integration Points

This package integrates with:

  - pkg/meta: persists ObjectMeta as per-object JSON files
  - pkg/audit: appends and verifies AuditRecord lines
  - pkg/identity: produces User and attribute bags
  - pkg/policy: evaluates policies against attribute bags
  - pkg/broker: consumes all of the above, returns AccessGrant
  - pkg/session: persists Session records
  - pkg/api: serializes responses built from these types
*/
package types
