/*
Package broker implements the key re-encryption broker that mediates
every operation on protected objects.

The broker is the trust boundary of the system. Object payloads are
encrypted on the client before upload and the server never holds the
means to read them; what the server does hold is the content key of
each object, wrapped under the service keypair. The broker's job is to
unwrap that key and immediately re-wrap it toward an authorized
reader, so that possession of the stored ciphertext alone is never
enough to read a record.

# Architecture

	┌────────────────────────── BROKER ──────────────────────────┐
	│                                                             │
	│  Access(caller, object)                                     │
	│                                                             │
	│  ┌─────────┐  ┌─────────┐  ┌──────────┐                     │
	│  │ LOOKUP  │─►│ POLICY  │─►│ REVOKED? │─── denial ──┐       │
	│  └────┬────┘  └────┬────┘  └────┬─────┘             │       │
	│       │ metadata   │ attribute  │ per-object        │       │
	│       │ record     │ bag        │ revocation list   │       │
	│       ▼            ▼            ▼                    ▼       │
	│  ┌─────────┐  ┌─────────┐  ┌─────────┐        ┌─────────┐   │
	│  │ UNWRAP  │─►│ REWRAP  │─►│  EMIT   │───────►│  AUDIT  │   │
	│  └─────────┘  └─────────┘  └─────────┘        └─────────┘   │
	│   service      reader's     grant returned     hash-chained │
	│   private key  public key   only after the     append+fsync │
	│                             record is durable                │
	└─────────────────────────────────────────────────────────────┘

Between unwrap and rewrap the plaintext content key lives in a
memguard locked buffer and is destroyed on every exit path. It never
reaches a log, a metric, an error message or the response of a denied
request.

# Decision Pipeline

Every access attempt walks the same states in the same order:

Lookup:
  - Resolve the object's metadata record
  - Unknown object: audited as INVALID_REQUEST, reported as 404

Policy:
  - Build the caller's effective attribute bag (stored attributes
    plus derived Role)
  - Evaluate the object's conjunctive policy; malformed policies
    deny (fail closed)
  - Failure: audited as DENIED_POLICY

Revocation:
  - Check the caller against the object's revocation list
  - Listed: audited as DENIED_REVOKED, even when the policy matched

Unwrap / Rewrap:
  - Recover the content key under the service private key
  - Wrap it under the caller's public key
  - Failures here are server faults (integrity or provisioning), not
    denials, and are not audited

Emit:
  - Append the GRANTED_REWRAP record and fsync
  - Only then return the grant; a failed append withholds it

Decisions on one object serialize: a per-object lock spans the
metadata read and the audit append in both Access and Revoke, so the
trail's per-object order is the order decisions took effect. A grant
recorded after a revocation was decided against the revoked record.
Work on distinct objects proceeds in parallel.

# Roles

The broker enforces role gates itself rather than trusting the HTTP
router:

  - Access is reader-only (doctors in the deployed role mapping)
  - Upload and Revoke are owner-only (patients)
  - Admin accounts manage users and attributes but have no special
    path to object content; an admin requesting access is denied
    like any other non-reader

# Revocation

Two forms, both owner-initiated, both monotonic:

Granular:
  - Appends the target user to the object's revocation list
  - Idempotent; the list only grows
  - Audited as REVOKE_USER / SUCCESS

Blanket:
  - Rewrites the object's policy to the unsatisfiable sentinel
    Role:__REVOKED__
  - Cuts off every reader at once, including future ones
  - Audited as REVOKE / SUCCESS

There is no un-revoke. Restoring access means uploading a new object
under a new name with a fresh content key.

# Usage

Constructing a broker at serve time:

	b, err := broker.New(&broker.Config{
		Keys:     keys,
		Users:    users,
		Meta:     metaStore,
		Blobs:    blobs,
		Audit:    auditLog,
		Sessions: sessions,
	})
	if err != nil {
		log.Fatal("broker init failed: " + err.Error())
	}

Mediating an access request:

	grant, err := b.Access(ctx, caller, "report.txt")
	if err != nil {
		status := broker.HTTPStatus(err)
		// denial, not-found, bad request or server fault
	}
	// grant.KeyBlob is hex, wrapped for the caller; grant.BlobRef
	// names the ciphertext to download

# Failure Semantics

Errors are typed by outcome class so the HTTP layer, the audit trail
and the logs always agree:

  - DeniedError: authorization refused; carries the audit status
    (DENIED_POLICY, DENIED_REVOKED, DENIED_ROLE, DENIED_AUTH,
    DENIED_OWNER); 403, or 401 for DENIED_AUTH
  - NotFoundError: no such object; audited INVALID_REQUEST; 404
  - BadRequestError: invalid input, nothing decided; 400
  - SetupError: provisioning gap (e.g. reader without keypair); 500
  - IntegrityError: stored state that cannot be processed; 500
  - AuditWriteError: the trail could not be extended; the operation's
    result is withheld; 500

The fail-closed rule is absolute: any ambiguity in policy parsing,
revocation state or audit durability resolves to denial.

# Integration Points

This package integrates with:

  - pkg/keystore: service keypair, per-user public keys, OAEP
  - pkg/identity: caller resolution and attribute bags
  - pkg/policy: conjunctive policy evaluation
  - pkg/meta: per-object metadata records
  - pkg/blobstore: opaque ciphertext storage
  - pkg/audit: hash-chained decision trail
  - pkg/api: HTTP handlers calling Access/Upload/Revoke

# Monitoring

Key metrics:

  - medlock_access_requests_total{status}: grants and denials by class
  - medlock_revocations_total{kind}: granular vs blanket
  - medlock_uploads_total: objects registered
  - medlock_audit_append_failures_total: must stay at zero

# See Also

  - pkg/audit for the tamper-evidence construction
  - pkg/policy for the policy grammar
  - poc/rewrap-flow for an end-to-end wrap/rewrap walkthrough
*/
package broker
