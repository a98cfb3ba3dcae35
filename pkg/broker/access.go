package broker

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/awnumar/memguard"

	"github.com/caretrust/medlock/pkg/identity"
	"github.com/caretrust/medlock/pkg/keystore"
	"github.com/caretrust/medlock/pkg/meta"
	"github.com/caretrust/medlock/pkg/metrics"
	"github.com/caretrust/medlock/pkg/policy"
	"github.com/caretrust/medlock/pkg/types"
)

// Access mediates a read request on a protected object. The decision
// pipeline runs lookup, policy, revocation, unwrap, re-wrap, and only
// then emits the grant, with exactly one audit record per attempt:
//
//	lookup  -> INVALID_REQUEST on unknown object
//	policy  -> DENIED_POLICY when the attribute bag fails the policy
//	revoked -> DENIED_REVOKED when the caller is on the object's list
//	unwrap  -> content key recovered under the service private key
//	rewrap  -> content key wrapped under the caller's public key
//	emit    -> GRANTED_REWRAP recorded, grant returned
//
// The plaintext content key exists only between unwrap and rewrap,
// held in a locked buffer that is destroyed on every exit path. The
// object payload itself is never touched here.
func (b *Broker) Access(ctx context.Context, caller Caller, name string) (*types.AccessGrant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if caller.Role != types.RoleDoctor {
		if err := b.auditOutcome(caller.ID, name, types.AuditActionAccess, types.StatusDeniedRole); err != nil {
			return nil, err
		}
		b.denied(caller, name, types.StatusDeniedRole)
		return nil, &DeniedError{Status: types.StatusDeniedRole, Reason: "access requests require the reader role"}
	}

	if !meta.ValidName(name) {
		if err := b.auditOutcome(caller.ID, name, types.AuditActionAccess, types.StatusInvalidRequest); err != nil {
			return nil, err
		}
		b.denied(caller, name, types.StatusInvalidRequest)
		return nil, &NotFoundError{Object: name}
	}

	// Everything from the metadata read to the audit append runs under
	// the object's decision lock: a grant on the trail reflects the
	// record state after every revocation recorded before it.
	unlock := b.lockObject(name)
	defer unlock()

	m, err := b.meta.Get(name)
	if errors.Is(err, meta.ErrNotFound) {
		if err := b.auditOutcome(caller.ID, name, types.AuditActionAccess, types.StatusInvalidRequest); err != nil {
			return nil, err
		}
		b.denied(caller, name, types.StatusInvalidRequest)
		return nil, &NotFoundError{Object: name}
	}
	if err != nil {
		return nil, &IntegrityError{Reason: "unreadable metadata", Err: err}
	}

	user, err := b.users.UserByID(caller.ID)
	if errors.Is(err, identity.ErrUserNotFound) {
		// A live session for a user the directory no longer knows.
		if err := b.auditOutcome(caller.ID, name, types.AuditActionAccess, types.StatusDeniedAuth); err != nil {
			return nil, err
		}
		b.denied(caller, name, types.StatusDeniedAuth)
		return nil, &DeniedError{Status: types.StatusDeniedAuth, Reason: "unknown caller"}
	}
	if err != nil {
		return nil, err
	}

	attrs, err := b.users.EffectiveAttributes(user)
	if err != nil {
		return nil, err
	}
	if !policy.Satisfies(m.Policy, attrs) {
		if err := b.auditOutcome(caller.ID, name, types.AuditActionAccess, types.StatusDeniedPolicy); err != nil {
			return nil, err
		}
		b.denied(caller, name, types.StatusDeniedPolicy)
		return nil, &DeniedError{Status: types.StatusDeniedPolicy, Reason: "attributes do not satisfy the object policy"}
	}

	if m.IsRevoked(caller.ID) {
		if err := b.auditOutcome(caller.ID, name, types.AuditActionAccess, types.StatusDeniedRevoked); err != nil {
			return nil, err
		}
		b.denied(caller, name, types.StatusDeniedRevoked)
		return nil, &DeniedError{Status: types.StatusDeniedRevoked, Reason: "caller is revoked for this object"}
	}

	if m.Mode != types.StorageModeClientSide {
		if err := b.auditOutcome(caller.ID, name, types.AuditActionAccess, types.StatusInvalidRequest); err != nil {
			return nil, err
		}
		return nil, &BadRequestError{Reason: "unsupported storage mode " + m.Mode}
	}

	timer := metrics.NewTimer()

	wrapped, err := hex.DecodeString(m.KeyBlob)
	if err != nil {
		return nil, &IntegrityError{Reason: "undecodable key blob", Err: err}
	}
	contentKey, err := keystore.Unwrap(b.srsKey, wrapped)
	if err != nil {
		return nil, &IntegrityError{Reason: "content key unwrap failed", Err: err}
	}

	// From here the plaintext key is only reachable through the
	// locked buffer; NewBufferFromBytes wipes the source slice.
	buf := memguard.NewBufferFromBytes(contentKey)
	defer buf.Destroy()

	readerPub, err := b.keys.UserPublicKey(caller.ID)
	if errors.Is(err, keystore.ErrKeyNotFound) {
		return nil, &SetupError{Reason: "caller has no keypair", Err: err}
	}
	if err != nil {
		return nil, err
	}

	rewrapped, err := keystore.Wrap(readerPub, buf.Bytes())
	if err != nil {
		return nil, &IntegrityError{Reason: "content key rewrap failed", Err: err}
	}
	timer.ObserveDuration(metrics.RewrapDuration)

	// The grant is only real once its audit record is durable.
	if err := b.auditOutcome(caller.ID, name, types.AuditActionAccess, types.StatusGrantedRewrap); err != nil {
		return nil, err
	}

	b.logger.Info().
		Str("user", caller.ID).
		Str("object", name).
		Msg("Access granted")

	return &types.AccessGrant{
		KeyBlob: hex.EncodeToString(rewrapped),
		IV:      m.IV,
		BlobRef: name,
	}, nil
}

func (b *Broker) denied(caller Caller, name string, status types.AuditStatus) {
	b.logger.Warn().
		Str("user", caller.ID).
		Str("object", name).
		Str("status", string(status)).
		Msg("Access denied")
}
