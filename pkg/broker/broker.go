package broker

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/caretrust/medlock/pkg/audit"
	"github.com/caretrust/medlock/pkg/blobstore"
	"github.com/caretrust/medlock/pkg/identity"
	"github.com/caretrust/medlock/pkg/keystore"
	"github.com/caretrust/medlock/pkg/log"
	"github.com/caretrust/medlock/pkg/meta"
	"github.com/caretrust/medlock/pkg/metrics"
	"github.com/caretrust/medlock/pkg/session"
	"github.com/caretrust/medlock/pkg/types"
)

// Caller is an authenticated principal as resolved by the session
// layer. The broker trusts the ID and role but re-derives everything
// else (attributes, ownership, revocation state) per request.
type Caller struct {
	ID   string
	Role types.Role
}

// Config wires the broker to its stores.
type Config struct {
	Keys     *keystore.KeyStore
	Users    *identity.DB
	Meta     *meta.Store
	Blobs    *blobstore.Store
	Audit    *audit.Log
	Sessions *session.Manager
}

// Broker mediates every operation on protected objects: access
// requests, uploads and revocations. It is the only component that
// ever sees an unwrapped content key, and then only transiently.
type Broker struct {
	keys     *keystore.KeyStore
	users    *identity.DB
	meta     *meta.Store
	blobs    *blobstore.Store
	audit    *audit.Log
	sessions *session.Manager

	// Loaded once at construction; read-only afterwards.
	srsKey *rsa.PrivateKey
	srsPub []byte

	// Per-object locks serialize each mediated decision with its audit
	// append, so the trail's per-object order is the order decisions
	// took effect.
	objLocks map[string]*sync.Mutex
	objMu    sync.Mutex

	logger zerolog.Logger
}

// New creates a Broker and loads (or provisions) the service keypair.
func New(cfg *Config) (*Broker, error) {
	srsKey, srsPub, err := cfg.Keys.GetOrCreateSRS()
	if err != nil {
		return nil, fmt.Errorf("failed to load service keypair: %w", err)
	}

	return &Broker{
		keys:     cfg.Keys,
		users:    cfg.Users,
		meta:     cfg.Meta,
		blobs:    cfg.Blobs,
		audit:    cfg.Audit,
		sessions: cfg.Sessions,
		srsKey:   srsKey,
		srsPub:   srsPub,
		objLocks: make(map[string]*sync.Mutex),
		logger:   log.WithComponent("broker"),
	}, nil
}

// lockObject takes the object's decision lock and returns its release.
// Access and Revoke hold it from the metadata read through the audit
// append; without that span, a revocation could land on the trail
// before a grant that was decided against the pre-revocation record.
func (b *Broker) lockObject(name string) func() {
	b.objMu.Lock()
	l, ok := b.objLocks[name]
	if !ok {
		l = &sync.Mutex{}
		b.objLocks[name] = l
	}
	b.objMu.Unlock()

	l.Lock()
	return l.Unlock
}

// SRSPublicKeyPEM returns the service public key clients wrap content
// keys toward.
func (b *Broker) SRSPublicKeyPEM() []byte {
	return b.srsPub
}

// BlobPath resolves an object to its on-disk ciphertext for download
// streaming. Authorization happens in Access; handlers call this only
// after a grant.
func (b *Broker) BlobPath(name string) (string, error) {
	path, err := b.blobs.Open(name)
	if errors.Is(err, blobstore.ErrNotFound) || errors.Is(err, blobstore.ErrInvalidName) {
		return "", &NotFoundError{Object: name}
	}
	return path, err
}

// Objects lists stored objects for the caller: owners see their own
// records, readers see every record they might request access to.
func (b *Broker) Objects(caller Caller) ([]types.ObjectEntry, error) {
	entries, err := b.meta.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	out := make([]types.ObjectEntry, 0, len(entries))
	for _, e := range entries {
		switch caller.Role {
		case types.RolePatient:
			if e.Meta.Owner != caller.ID {
				continue
			}
		case types.RoleDoctor, types.RoleAdmin:
			// Full listing; access to content still goes through the
			// mediation path.
		default:
			return nil, &DeniedError{Status: types.StatusDeniedRole, Reason: "unknown role"}
		}

		row := types.ObjectEntry{
			Name:   e.Name,
			Owner:  e.Meta.Owner,
			Policy: e.Meta.Policy,
		}
		if size, modified, err := b.blobs.Stat(e.Name); err == nil {
			row.Size = size
			row.Modified = modified
		}
		out = append(out, row)
	}
	return out, nil
}

// RevokedUsers returns the revocation list of an object the caller
// owns.
func (b *Broker) RevokedUsers(caller Caller, name string) ([]string, error) {
	m, err := b.meta.Get(name)
	if errors.Is(err, meta.ErrNotFound) || errors.Is(err, meta.ErrInvalidName) {
		return nil, &NotFoundError{Object: name}
	}
	if err != nil {
		return nil, err
	}
	if m.Owner != caller.ID {
		return nil, &DeniedError{Status: types.StatusDeniedOwner, Reason: "not the owner"}
	}
	return append([]string(nil), m.RevokedUsers...), nil
}

// CountUsersByRole implements the metrics inventory interface.
func (b *Broker) CountUsersByRole() (map[string]int, error) {
	return b.users.CountByRole()
}

// CountObjects implements the metrics inventory interface.
func (b *Broker) CountObjects() (int, error) {
	return b.meta.Count()
}

// CountSessions implements the metrics inventory interface.
func (b *Broker) CountSessions() (int, error) {
	return b.sessions.Count()
}

// auditOutcome appends one audit record and bumps the access counter.
// An append failure converts the outcome into AuditWriteError: the
// trail must never lag behind what actually happened.
func (b *Broker) auditOutcome(user, object string, action types.AuditAction, status types.AuditStatus) error {
	if _, err := b.audit.Append(user, object, action, status); err != nil {
		b.logger.Error().Err(err).
			Str("user", user).
			Str("object", object).
			Str("status", string(status)).
			Msg("Audit append failed, withholding result")
		return &AuditWriteError{Err: err}
	}
	if action == types.AuditActionAccess {
		metrics.AccessRequestsTotal.WithLabelValues(string(status)).Inc()
	}
	return nil
}

var _ metrics.Stats = (*Broker)(nil)
