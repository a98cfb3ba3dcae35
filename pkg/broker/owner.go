package broker

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/caretrust/medlock/pkg/blobstore"
	"github.com/caretrust/medlock/pkg/meta"
	"github.com/caretrust/medlock/pkg/metrics"
	"github.com/caretrust/medlock/pkg/policy"
	"github.com/caretrust/medlock/pkg/types"
)

// Upload registers a new protected object: the client-encrypted
// payload, its wrapped content key and the access policy. The payload
// is stored byte-identical; the server never validates that it
// decrypts, because it cannot.
//
// Upload is not audited. The trail records access decisions and
// revocations; creating an object decides nothing about anyone.
func (b *Broker) Upload(ctx context.Context, caller Caller, name, policyStr, keyBlobHex, ivHex string, blob io.Reader) (*types.ObjectMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if caller.Role != types.RolePatient {
		return nil, &DeniedError{Status: types.StatusDeniedRole, Reason: "uploads require the owner role"}
	}
	if !meta.ValidName(name) {
		return nil, &BadRequestError{Reason: "invalid object name"}
	}

	p, err := policy.Parse(policyStr)
	if err != nil {
		return nil, &BadRequestError{Reason: fmt.Sprintf("invalid policy: %v", err)}
	}
	if policy.IsSentinel(policyStr) {
		return nil, &BadRequestError{Reason: "policy may not be the revocation sentinel"}
	}

	if keyBlobHex == "" {
		return nil, &BadRequestError{Reason: "missing key blob"}
	}
	if _, err := hex.DecodeString(keyBlobHex); err != nil {
		return nil, &BadRequestError{Reason: "key blob is not valid hex"}
	}
	if ivHex == "" {
		return nil, &BadRequestError{Reason: "missing iv"}
	}
	if _, err := hex.DecodeString(ivHex); err != nil {
		return nil, &BadRequestError{Reason: "iv is not valid hex"}
	}

	if _, err := b.meta.Get(name); err == nil {
		return nil, &BadRequestError{Reason: "object already exists"}
	} else if !errors.Is(err, meta.ErrNotFound) {
		return nil, err
	}

	size, err := b.blobs.Put(name, blob)
	if errors.Is(err, blobstore.ErrExists) {
		return nil, &BadRequestError{Reason: "object already exists"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store payload: %w", err)
	}

	record := &types.ObjectMeta{
		Owner:        caller.ID,
		File:         name,
		Policy:       p.String(),
		KeyBlob:      keyBlobHex,
		IV:           ivHex,
		Mode:         types.StorageModeClientSide,
		RevokedUsers: []string{},
	}
	if err := b.meta.Put(name, record); err != nil {
		// Back the payload out so a later upload of this name can
		// start clean.
		_ = b.blobs.Remove(name)
		if errors.Is(err, meta.ErrExists) {
			return nil, &BadRequestError{Reason: "object already exists"}
		}
		return nil, fmt.Errorf("failed to store metadata: %w", err)
	}

	metrics.UploadsTotal.Inc()
	b.logger.Info().
		Str("user", caller.ID).
		Str("object", name).
		Int64("size", size).
		Msg("Object stored")

	return record, nil
}

// Revoke withdraws access to an object the caller owns. With a target
// user it appends to the object's revocation list; without one it
// rewrites the policy to the unsatisfiable sentinel, cutting off
// everyone at once. Both forms are monotonic: nothing here ever
// restores access, and re-revoking is idempotent.
func (b *Broker) Revoke(ctx context.Context, caller Caller, name, targetID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	kind := "blanket"
	action := types.AuditActionRevoke
	if targetID != "" {
		kind = "user"
		action = types.AuditActionRevokeUser
	}

	if caller.Role != types.RolePatient {
		if err := b.auditOutcome(caller.ID, name, action, types.StatusDeniedRole); err != nil {
			return "", err
		}
		b.denied(caller, name, types.StatusDeniedRole)
		return "", &DeniedError{Status: types.StatusDeniedRole, Reason: "revocations require the owner role"}
	}

	if !meta.ValidName(name) {
		if err := b.auditOutcome(caller.ID, name, action, types.StatusInvalidRequest); err != nil {
			return "", err
		}
		return "", &NotFoundError{Object: name}
	}

	// Held through the metadata update and the audit append, pairing
	// the revocation's effect with its trail record under the same
	// lock the access path decides under.
	unlock := b.lockObject(name)
	defer unlock()

	m, err := b.meta.Get(name)
	if errors.Is(err, meta.ErrNotFound) {
		if err := b.auditOutcome(caller.ID, name, action, types.StatusInvalidRequest); err != nil {
			return "", err
		}
		return "", &NotFoundError{Object: name}
	}
	if err != nil {
		return "", &IntegrityError{Reason: "unreadable metadata", Err: err}
	}

	if m.Owner != caller.ID {
		if err := b.auditOutcome(caller.ID, name, action, types.StatusDeniedOwner); err != nil {
			return "", err
		}
		b.denied(caller, name, types.StatusDeniedOwner)
		return "", &DeniedError{Status: types.StatusDeniedOwner, Reason: "only the owner may revoke"}
	}

	err = b.meta.Update(name, func(m *types.ObjectMeta) error {
		if targetID != "" {
			if !m.IsRevoked(targetID) {
				m.RevokedUsers = append(m.RevokedUsers, targetID)
			}
			return nil
		}
		m.Policy = types.PolicySentinelRevoked
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to update metadata: %w", err)
	}

	if err := b.auditOutcome(caller.ID, name, action, types.StatusSuccess); err != nil {
		return "", err
	}

	metrics.RevocationsTotal.WithLabelValues(kind).Inc()
	b.logger.Warn().
		Str("user", caller.ID).
		Str("object", name).
		Str("kind", kind).
		Str("target", targetID).
		Msg("Access revoked")

	return kind, nil
}
