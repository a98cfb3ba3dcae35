package broker

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretrust/medlock/pkg/audit"
	"github.com/caretrust/medlock/pkg/blobstore"
	"github.com/caretrust/medlock/pkg/identity"
	"github.com/caretrust/medlock/pkg/keystore"
	"github.com/caretrust/medlock/pkg/meta"
	"github.com/caretrust/medlock/pkg/metrics"
	"github.com/caretrust/medlock/pkg/session"
	"github.com/caretrust/medlock/pkg/types"
)

type testEnv struct {
	broker *Broker
	users  *identity.DB
	keys   *keystore.KeyStore
	meta   *meta.Store
	blobs  *blobstore.Store
	audit  *audit.Log
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	keys := keystore.New(filepath.Join(dir, "keys", "srs"), filepath.Join(dir, "keys", "users"))

	users, err := identity.Open(filepath.Join(dir, "medlock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = users.Close() })

	metaStore, err := meta.NewStore(filepath.Join(dir, "meta"))
	require.NoError(t, err)

	blobs, err := blobstore.NewStore(filepath.Join(dir, "data"))
	require.NoError(t, err)

	auditLog, err := audit.Open(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditLog.Close() })

	sessions, err := session.NewManager(filepath.Join(dir, "sessions.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })

	b, err := New(&Config{
		Keys:     keys,
		Users:    users,
		Meta:     metaStore,
		Blobs:    blobs,
		Audit:    auditLog,
		Sessions: sessions,
	})
	require.NoError(t, err)

	return &testEnv{
		broker: b,
		users:  users,
		keys:   keys,
		meta:   metaStore,
		blobs:  blobs,
		audit:  auditLog,
	}
}

// addUser registers an account with a keypair and optional policy
// attributes, returning the caller the session layer would hand off.
func (e *testEnv) addUser(t *testing.T, email string, role types.Role, attrs map[string]string) Caller {
	t.Helper()
	u, err := e.users.CreateUser(email, "pw", role, "")
	require.NoError(t, err)
	_, _, err = e.keys.GenerateUserKeys(u.ID)
	require.NoError(t, err)
	for k, v := range attrs {
		require.NoError(t, e.users.SetAttribute(u.ID, k, v))
	}
	return Caller{ID: u.ID, Role: role}
}

// upload stores an object the way a client would: fresh content key,
// wrapped toward the service public key, payload passed through
// opaque. Returns the plaintext content key for grant verification.
func (e *testEnv) upload(t *testing.T, owner Caller, name, policyStr string, payload []byte) []byte {
	t.Helper()

	contentKey := make([]byte, 32)
	_, err := rand.Read(contentKey)
	require.NoError(t, err)

	srsPub, err := keystore.ParsePublicKey(e.broker.SRSPublicKeyPEM())
	require.NoError(t, err)
	wrapped, err := keystore.Wrap(srsPub, contentKey)
	require.NoError(t, err)

	_, err = e.broker.Upload(context.Background(), owner, name, policyStr,
		hex.EncodeToString(wrapped), "000102030405060708090a0b", bytes.NewReader(payload))
	require.NoError(t, err)

	return contentKey
}

// auditTrail returns every record for the named object in order.
func (e *testEnv) auditTrail(t *testing.T, object string) []types.AuditRecord {
	t.Helper()
	records, corrupt, err := e.audit.Scan()
	require.NoError(t, err)
	require.Empty(t, corrupt)
	var out []types.AuditRecord
	for _, rec := range records {
		if rec.File == object {
			out = append(out, rec)
		}
	}
	return out
}

func TestAccessGrantedRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@clinic.test", types.RolePatient, nil)
	reader := e.addUser(t, "reader@clinic.test", types.RoleDoctor, nil)

	payload := []byte("ciphertext bytes, opaque to the server")
	contentKey := e.upload(t, owner, "report.txt", "Role:Doctor", payload)

	grant, err := e.broker.Access(context.Background(), reader, "report.txt")
	require.NoError(t, err)
	assert.Equal(t, "report.txt", grant.BlobRef)
	assert.Equal(t, "000102030405060708090a0b", grant.IV)

	// The grant's key blob must unwrap under the reader's private key
	// to the exact content key the owner generated.
	readerPriv, err := e.keys.UserPrivateKey(reader.ID)
	require.NoError(t, err)
	rewrapped, err := hex.DecodeString(grant.KeyBlob)
	require.NoError(t, err)
	got, err := keystore.Unwrap(readerPriv, rewrapped)
	require.NoError(t, err)
	assert.Equal(t, contentKey, got)

	// The stored payload is byte-identical.
	path, err := e.broker.BlobPath(grant.BlobRef)
	require.NoError(t, err)
	stored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, stored)

	trail := e.auditTrail(t, "report.txt")
	require.Len(t, trail, 1)
	assert.Equal(t, types.StatusGrantedRewrap, trail[0].Status)
	assert.Equal(t, types.AuditActionAccess, trail[0].Action)
	assert.Equal(t, reader.ID, trail[0].User)
}

func TestAccessDeniedByPolicy(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@clinic.test", types.RolePatient, nil)
	reader := e.addUser(t, "cardio@clinic.test", types.RoleDoctor, map[string]string{"Dept": "Cardiology"})

	e.upload(t, owner, "report.txt", "Role:Doctor AND Dept:Oncology", []byte("x"))

	unwraps := testutil.ToFloat64(metrics.KeyOperationsTotal.WithLabelValues("unwrap"))

	grant, err := e.broker.Access(context.Background(), reader, "report.txt")
	assert.Nil(t, grant)

	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, types.StatusDeniedPolicy, denied.Status)
	assert.Equal(t, 403, HTTPStatus(err))

	// The denial fired before the key path: the service private key
	// was never used.
	assert.Equal(t, unwraps, testutil.ToFloat64(metrics.KeyOperationsTotal.WithLabelValues("unwrap")))

	trail := e.auditTrail(t, "report.txt")
	require.Len(t, trail, 1)
	assert.Equal(t, types.StatusDeniedPolicy, trail[0].Status)
}

func TestAccessDeniedWrongRole(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@clinic.test", types.RolePatient, nil)
	other := e.addUser(t, "other@clinic.test", types.RolePatient, nil)
	admin := e.addUser(t, "admin@clinic.test", types.RoleAdmin, nil)

	e.upload(t, owner, "report.txt", "Role:Patient", []byte("x"))

	// Even a policy that names the patient role does not open the
	// access path to non-readers; mediation is reader-only.
	for _, caller := range []Caller{other, owner, admin} {
		_, err := e.broker.Access(context.Background(), caller, "report.txt")
		var denied *DeniedError
		require.ErrorAs(t, err, &denied)
		assert.Equal(t, types.StatusDeniedRole, denied.Status)
	}

	trail := e.auditTrail(t, "report.txt")
	assert.Len(t, trail, 3)
	for _, rec := range trail {
		assert.Equal(t, types.StatusDeniedRole, rec.Status)
	}
}

func TestAccessUnknownObject(t *testing.T) {
	e := newTestEnv(t)
	reader := e.addUser(t, "reader@clinic.test", types.RoleDoctor, nil)

	_, err := e.broker.Access(context.Background(), reader, "ghost.txt")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, 404, HTTPStatus(err))

	trail := e.auditTrail(t, "ghost.txt")
	require.Len(t, trail, 1)
	assert.Equal(t, types.StatusInvalidRequest, trail[0].Status)
}

func TestGranularRevocation(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@clinic.test", types.RolePatient, nil)
	revoked := e.addUser(t, "revoked@clinic.test", types.RoleDoctor, nil)
	trusted := e.addUser(t, "trusted@clinic.test", types.RoleDoctor, nil)

	e.upload(t, owner, "report.txt", "Role:Doctor", []byte("x"))

	kind, err := e.broker.Revoke(context.Background(), owner, "report.txt", revoked.ID)
	require.NoError(t, err)
	assert.Equal(t, "user", kind)

	// The revoked reader is cut off even though the policy still
	// matches their attributes.
	_, err = e.broker.Access(context.Background(), revoked, "report.txt")
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, types.StatusDeniedRevoked, denied.Status)

	// Everyone else is untouched.
	_, err = e.broker.Access(context.Background(), trusted, "report.txt")
	assert.NoError(t, err)
}

func TestBlanketRevocation(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@clinic.test", types.RolePatient, nil)
	r1 := e.addUser(t, "r1@clinic.test", types.RoleDoctor, nil)
	r2 := e.addUser(t, "r2@clinic.test", types.RoleDoctor, map[string]string{"Dept": "ER"})

	e.upload(t, owner, "report.txt", "Role:Doctor", []byte("x"))

	kind, err := e.broker.Revoke(context.Background(), owner, "report.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "blanket", kind)

	m, err := e.meta.Get("report.txt")
	require.NoError(t, err)
	assert.Equal(t, types.PolicySentinelRevoked, m.Policy)

	for _, caller := range []Caller{r1, r2} {
		_, err := e.broker.Access(context.Background(), caller, "report.txt")
		var denied *DeniedError
		require.ErrorAs(t, err, &denied)
		assert.Equal(t, types.StatusDeniedPolicy, denied.Status)
	}

	trail := e.auditTrail(t, "report.txt")
	require.Len(t, trail, 3)
	assert.Equal(t, types.AuditActionRevoke, trail[0].Action)
	assert.Equal(t, types.StatusSuccess, trail[0].Status)
}

func TestRevocationIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@clinic.test", types.RolePatient, nil)
	reader := e.addUser(t, "reader@clinic.test", types.RoleDoctor, nil)

	e.upload(t, owner, "report.txt", "Role:Doctor", []byte("x"))

	for i := 0; i < 2; i++ {
		_, err := e.broker.Revoke(context.Background(), owner, "report.txt", reader.ID)
		require.NoError(t, err)
	}

	m, err := e.meta.Get("report.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{reader.ID}, m.RevokedUsers)

	// Both attempts are on the record.
	trail := e.auditTrail(t, "report.txt")
	assert.Len(t, trail, 2)
}

func TestRevokeRequiresOwnership(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@clinic.test", types.RolePatient, nil)
	intruder := e.addUser(t, "intruder@clinic.test", types.RolePatient, nil)
	reader := e.addUser(t, "reader@clinic.test", types.RoleDoctor, nil)

	e.upload(t, owner, "report.txt", "Role:Doctor", []byte("x"))

	_, err := e.broker.Revoke(context.Background(), intruder, "report.txt", reader.ID)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, types.StatusDeniedOwner, denied.Status)

	// Reader is unaffected.
	_, err = e.broker.Access(context.Background(), reader, "report.txt")
	assert.NoError(t, err)

	trail := e.auditTrail(t, "report.txt")
	require.Len(t, trail, 2)
	assert.Equal(t, types.StatusDeniedOwner, trail[0].Status)
	assert.Equal(t, intruder.ID, trail[0].User)
}

func TestRevokeWrongRoleAndUnknownObject(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@clinic.test", types.RolePatient, nil)
	reader := e.addUser(t, "reader@clinic.test", types.RoleDoctor, nil)

	e.upload(t, owner, "report.txt", "Role:Doctor", []byte("x"))

	_, err := e.broker.Revoke(context.Background(), reader, "report.txt", "anyone")
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, types.StatusDeniedRole, denied.Status)

	_, err = e.broker.Revoke(context.Background(), owner, "ghost.txt", "")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestRevokeThenAccessOrdering(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@clinic.test", types.RolePatient, nil)
	reader := e.addUser(t, "reader@clinic.test", types.RoleDoctor, nil)

	e.upload(t, owner, "report.txt", "Role:Doctor", []byte("x"))

	_, err := e.broker.Access(context.Background(), reader, "report.txt")
	require.NoError(t, err)

	_, err = e.broker.Revoke(context.Background(), owner, "report.txt", reader.ID)
	require.NoError(t, err)

	_, err = e.broker.Access(context.Background(), reader, "report.txt")
	require.Error(t, err)

	// The trail tells the story in order: grant, revocation, denial.
	trail := e.auditTrail(t, "report.txt")
	require.Len(t, trail, 3)
	assert.Equal(t, types.StatusGrantedRewrap, trail[0].Status)
	assert.Equal(t, types.AuditActionRevokeUser, trail[1].Action)
	assert.Equal(t, types.StatusSuccess, trail[1].Status)
	assert.Equal(t, types.StatusDeniedRevoked, trail[2].Status)
}

func TestConcurrentAccessRevokeOrdering(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@clinic.test", types.RolePatient, nil)
	reader := e.addUser(t, "reader@clinic.test", types.RoleDoctor, nil)
	e.upload(t, owner, "report.txt", "Role:Doctor", []byte("x"))

	// Hammer the access path while the owner revokes mid-stream. The
	// object lock holds each decision together with its audit append,
	// so whatever interleaving the scheduler picks, no grant for the
	// reader may appear on the trail after the revocation record.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_, _ = e.broker.Access(context.Background(), reader, "report.txt")
			}
		}
	}()

	time.Sleep(10 * time.Millisecond)
	_, err := e.broker.Revoke(context.Background(), owner, "report.txt", reader.ID)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, _ = e.broker.Access(context.Background(), reader, "report.txt")
	}
	close(stop)
	wg.Wait()

	records, corrupt, err := e.audit.Scan()
	require.NoError(t, err)
	require.Empty(t, corrupt)

	revokedAt := -1
	for i, rec := range records {
		if rec.Action == types.AuditActionRevokeUser {
			revokedAt = i
		}
	}
	require.NotEqual(t, -1, revokedAt, "revocation missing from trail")
	for _, rec := range records[revokedAt+1:] {
		if rec.User == reader.ID && rec.Status == types.StatusGrantedRewrap {
			t.Fatalf("Grant for revoked reader recorded after the revocation")
		}
	}

	report, err := e.audit.Verify()
	require.NoError(t, err)
	assert.True(t, report.OK)
}

func TestAccessWithoutKeypairIsSetupError(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@clinic.test", types.RolePatient, nil)

	// Registered reader, but no keypair was ever provisioned.
	u, err := e.users.CreateUser("nokeys@clinic.test", "pw", types.RoleDoctor, "")
	require.NoError(t, err)
	reader := Caller{ID: u.ID, Role: types.RoleDoctor}

	e.upload(t, owner, "report.txt", "Role:Doctor", []byte("x"))

	_, err = e.broker.Access(context.Background(), reader, "report.txt")
	var setup *SetupError
	require.ErrorAs(t, err, &setup)
	assert.Equal(t, 500, HTTPStatus(err))

	// Server faults are not mediation outcomes; nothing was decided,
	// nothing is on the trail.
	trail := e.auditTrail(t, "report.txt")
	assert.Empty(t, trail)
}

func TestAccessUnknownCallerDeniedAuth(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@clinic.test", types.RolePatient, nil)
	e.upload(t, owner, "report.txt", "Role:Doctor", []byte("x"))

	ghost := Caller{ID: "no-such-user", Role: types.RoleDoctor}
	_, err := e.broker.Access(context.Background(), ghost, "report.txt")
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, types.StatusDeniedAuth, denied.Status)
	assert.Equal(t, 401, HTTPStatus(err))
}

func TestAccessRejectsLegacyStorageMode(t *testing.T) {
	e := newTestEnv(t)
	reader := e.addUser(t, "reader@clinic.test", types.RoleDoctor, nil)

	require.NoError(t, e.meta.Put("legacy.txt", &types.ObjectMeta{
		Owner:        "someone",
		File:         "legacy.txt",
		Policy:       "Role:Doctor",
		KeyBlob:      "aabb",
		IV:           "ccdd",
		Mode:         "server_side_encryption",
		RevokedUsers: []string{},
	}))

	_, err := e.broker.Access(context.Background(), reader, "legacy.txt")
	var badRequest *BadRequestError
	require.ErrorAs(t, err, &badRequest)
	assert.Equal(t, 400, HTTPStatus(err))

	trail := e.auditTrail(t, "legacy.txt")
	require.Len(t, trail, 1)
	assert.Equal(t, types.StatusInvalidRequest, trail[0].Status)
}

func TestUploadValidation(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@clinic.test", types.RolePatient, nil)
	reader := e.addUser(t, "reader@clinic.test", types.RoleDoctor, nil)

	ctx := context.Background()
	blob := func() io.Reader { return bytes.NewReader([]byte("x")) }

	// Wrong role is a denial, not a validation failure
	_, err := e.broker.Upload(ctx, reader, "a.txt", "Role:Doctor", "aabb", "ccdd", blob())
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, types.StatusDeniedRole, denied.Status)

	tests := []struct {
		name    string
		object  string
		policy  string
		keyBlob string
		iv      string
	}{
		{name: "bad object name", object: "../escape", policy: "Role:Doctor", keyBlob: "aabb", iv: "ccdd"},
		{name: "unparseable policy", object: "a.txt", policy: "Role:Doctor AND", keyBlob: "aabb", iv: "ccdd"},
		{name: "sentinel policy", object: "a.txt", policy: "Role:__REVOKED__", keyBlob: "aabb", iv: "ccdd"},
		{name: "missing key blob", object: "a.txt", policy: "Role:Doctor", keyBlob: "", iv: "ccdd"},
		{name: "non-hex key blob", object: "a.txt", policy: "Role:Doctor", keyBlob: "zzzz", iv: "ccdd"},
		{name: "odd-length key blob", object: "a.txt", policy: "Role:Doctor", keyBlob: "abc", iv: "ccdd"},
		{name: "missing iv", object: "a.txt", policy: "Role:Doctor", keyBlob: "aabb", iv: ""},
		{name: "non-hex iv", object: "a.txt", policy: "Role:Doctor", keyBlob: "aabb", iv: "xyz!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.broker.Upload(ctx, owner, tt.object, tt.policy, tt.keyBlob, tt.iv, blob())
			var badRequest *BadRequestError
			assert.ErrorAs(t, err, &badRequest)
		})
	}

	// Duplicate names are refused, first writer wins
	_, err = e.broker.Upload(ctx, owner, "dup.txt", "Role:Doctor", "aabb", "ccdd", blob())
	require.NoError(t, err)
	_, err = e.broker.Upload(ctx, owner, "dup.txt", "Role:Doctor", "eeff", "0011", blob())
	var badRequest *BadRequestError
	assert.ErrorAs(t, err, &badRequest)
}

func TestUploadStoresCanonicalPolicy(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@clinic.test", types.RolePatient, nil)

	_, err := e.broker.Upload(context.Background(), owner, "a.txt",
		"Role:doctor AND Dept:ER", "aabb", "ccdd", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	m, err := e.meta.Get("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "Role:Doctor AND Dept:ER", m.Policy)
	assert.Equal(t, types.StorageModeClientSide, m.Mode)
	assert.Equal(t, owner.ID, m.Owner)
	assert.NotNil(t, m.RevokedUsers)
}

func TestObjectsListing(t *testing.T) {
	e := newTestEnv(t)
	alice := e.addUser(t, "alice@clinic.test", types.RolePatient, nil)
	bob := e.addUser(t, "bob@clinic.test", types.RolePatient, nil)
	reader := e.addUser(t, "reader@clinic.test", types.RoleDoctor, nil)

	e.upload(t, alice, "alice-scan.dcm", "Role:Doctor", []byte("aaaa"))
	e.upload(t, bob, "bob-report.txt", "Role:Doctor", []byte("bb"))

	own, err := e.broker.Objects(alice)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "alice-scan.dcm", own[0].Name)
	assert.Equal(t, int64(4), own[0].Size)
	assert.False(t, own[0].Modified.IsZero())

	all, err := e.broker.Objects(reader)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRevokedUsersListing(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@clinic.test", types.RolePatient, nil)
	other := e.addUser(t, "other@clinic.test", types.RolePatient, nil)
	reader := e.addUser(t, "reader@clinic.test", types.RoleDoctor, nil)

	e.upload(t, owner, "report.txt", "Role:Doctor", []byte("x"))
	_, err := e.broker.Revoke(context.Background(), owner, "report.txt", reader.ID)
	require.NoError(t, err)

	ids, err := e.broker.RevokedUsers(owner, "report.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{reader.ID}, ids)

	_, err = e.broker.RevokedUsers(other, "report.txt")
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, types.StatusDeniedOwner, denied.Status)
}

func TestInventoryCounts(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@clinic.test", types.RolePatient, nil)
	e.addUser(t, "reader@clinic.test", types.RoleDoctor, nil)
	e.upload(t, owner, "report.txt", "Role:Doctor", []byte("x"))

	byRole, err := e.broker.CountUsersByRole()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"patient": 1, "doctor": 1}, byRole)

	n, err := e.broker.CountObjects()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sessions, err := e.broker.CountSessions()
	require.NoError(t, err)
	assert.Equal(t, 0, sessions)
}
