package types

import (
	"strings"
	"time"
)

// Role defines a user's role in the system
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Valid reports whether the role is one of the three known roles
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Attribute returns the derived policy attribute value for the role:
// the role name with its first letter upper-cased ("patient" → "Patient")
func (r Role) Attribute() string {
	s := string(r)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ParseRole validates and converts a role string
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// RoleAttributeKey is the reserved attribute key derived from the
// user's role. It cannot be set or removed explicitly.
const RoleAttributeKey = "Role"

// RevokedSentinelValue is the reserved attribute value used by the
// blanket-revocation policy. No user attribute may carry it, so the
// sentinel policy is never satisfiable.
const RevokedSentinelValue = "__REVOKED__"

// PolicySentinelRevoked is the policy string written by a blanket
// revocation.
const PolicySentinelRevoked = RoleAttributeKey + ":" + RevokedSentinelValue

// User represents a registered identity
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         Role
}

// StorageModeClientSide tags object records whose content key was
// wrapped client-side for the SRS (the only mode accepted for new
// uploads; legacy in-band formats are rejected at access time).
const StorageModeClientSide = "client_side_encryption"

// ObjectMeta is the per-object metadata record. The JSON field names
// are an on-disk compatibility contract; records written by earlier
// deployments load unchanged.
type ObjectMeta struct {
	Owner        string   `json:"owner"`
	File         string   `json:"file"`
	Policy       string   `json:"policy"`
	KeyBlob      string   `json:"key_blob"`
	IV           string   `json:"iv"`
	Mode         string   `json:"mode"`
	RevokedUsers []string `json:"revoked_users"`
}

// IsRevoked reports whether the user id is in the revocation set
func (m *ObjectMeta) IsRevoked(userID string) bool {
	for _, id := range m.RevokedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the record
func (m *ObjectMeta) Clone() *ObjectMeta {
	c := *m
	c.RevokedUsers = append([]string(nil), m.RevokedUsers...)
	return &c
}

// AuditAction identifies what kind of event an audit record describes
type AuditAction string

const (
	AuditActionAccess     AuditAction = "ACCESS"
	AuditActionRevoke     AuditAction = "REVOKE"
	AuditActionRevokeUser AuditAction = "REVOKE_USER"
)

// AuditStatus is the outcome recorded for an audited event
type AuditStatus string

const (
	StatusGrantedRewrap  AuditStatus = "GRANTED_REWRAP"
	StatusDeniedPolicy   AuditStatus = "DENIED_POLICY"
	StatusDeniedRevoked  AuditStatus = "DENIED_REVOKED"
	StatusDeniedRole     AuditStatus = "DENIED_ROLE"
	StatusDeniedAuth     AuditStatus = "DENIED_AUTH"
	StatusDeniedOwner    AuditStatus = "DENIED_OWNER"
	StatusInvalidRequest AuditStatus = "INVALID_REQUEST"
	StatusSuccess        AuditStatus = "SUCCESS"
)

// AuditRecord is one line of the hash-chained audit log. The JSON
// field names and the canonical hashing rules over them are a wire
// contract (see pkg/audit).
type AuditRecord struct {
	Timestamp int64       `json:"timestamp"`
	User      string      `json:"user"`
	File      string      `json:"file"`
	Action    AuditAction `json:"action"`
	Status    AuditStatus `json:"status"`
	PrevHash  string      `json:"prev_hash"`
	Hash      string      `json:"hash"`
}

// AccessGrant is the broker's response to a granted access request.
// KeyBlob is the content key re-wrapped under the caller's public
// key; it is returned once and never stored.
type AccessGrant struct {
	KeyBlob string
	IV      string
	BlobRef string
}

// Session represents an authenticated session token
type Session struct {
	Token     string
	UserID    string
	Role      Role
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session has passed its expiry
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ObjectEntry is a listing row for stored objects: metadata fields
// plus blob stats, never any key material
type ObjectEntry struct {
	Name     string
	Owner    string
	Policy   string
	Size     int64
	Modified time.Time
}

// UserInfo is a listing row for admin user views: identity fields
// plus the explicit attribute bag (no password hash)
type UserInfo struct {
	ID         string
	Email      string
	Name       string
	Role       Role
	Attributes map[string]string
}
