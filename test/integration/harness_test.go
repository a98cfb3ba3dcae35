package integration

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/caretrust/medlock/pkg/api"
	"github.com/caretrust/medlock/pkg/audit"
	"github.com/caretrust/medlock/pkg/blobstore"
	"github.com/caretrust/medlock/pkg/broker"
	"github.com/caretrust/medlock/pkg/identity"
	"github.com/caretrust/medlock/pkg/keystore"
	"github.com/caretrust/medlock/pkg/meta"
	"github.com/caretrust/medlock/pkg/session"
	"github.com/caretrust/medlock/pkg/types"
)

const stackPassword = "integration-pw"

// stack runs the whole repository in one process: every store on a
// shared temp tree, the broker on top, the HTTP API in front. The tree
// outlives restart, so tests can assert what persists.
type stack struct {
	t   *testing.T
	dir string

	users    *identity.DB
	keys     *keystore.KeyStore
	audit    *audit.Log
	sessions *session.Manager
	srv      *httptest.Server
}

func startStack(t *testing.T) *stack {
	t.Helper()
	s := &stack{t: t, dir: t.TempDir()}
	s.open()
	t.Cleanup(s.stop)
	return s
}

// open wires every store on s.dir and starts the HTTP server. Safe to
// call again after stop; state comes back from disk.
func (s *stack) open() {
	s.t.Helper()

	s.keys = keystore.New(
		filepath.Join(s.dir, "cloud", "keys", "srs"),
		filepath.Join(s.dir, "cloud", "keys", "users"),
	)

	users, err := identity.Open(filepath.Join(s.dir, "medlock.db"))
	if err != nil {
		s.t.Fatalf("Failed to open identity store: %v", err)
	}
	s.users = users

	metaStore, err := meta.NewStore(filepath.Join(s.dir, "cloud", "meta"))
	if err != nil {
		s.t.Fatalf("Failed to open metadata store: %v", err)
	}

	blobs, err := blobstore.NewStore(filepath.Join(s.dir, "cloud", "data"))
	if err != nil {
		s.t.Fatalf("Failed to open blob store: %v", err)
	}

	auditLog, err := audit.Open(s.auditPath())
	if err != nil {
		s.t.Fatalf("Failed to open audit log: %v", err)
	}
	s.audit = auditLog

	sessions, err := session.NewManager(filepath.Join(s.dir, "sessions.db"), time.Hour)
	if err != nil {
		s.t.Fatalf("Failed to open session store: %v", err)
	}
	s.sessions = sessions

	b, err := broker.New(&broker.Config{
		Keys:     s.keys,
		Users:    users,
		Meta:     metaStore,
		Blobs:    blobs,
		Audit:    auditLog,
		Sessions: sessions,
	})
	if err != nil {
		s.t.Fatalf("Failed to create broker: %v", err)
	}

	srv := api.NewServer(api.Config{
		Broker:   b,
		Users:    users,
		Keys:     s.keys,
		Sessions: sessions,
		Audit:    auditLog,
		Version:  "integration",
	})
	s.srv = httptest.NewServer(srv.Handler())
}

func (s *stack) stop() {
	if s.srv == nil {
		return
	}
	s.srv.Close()
	s.srv = nil
	_ = s.sessions.Close()
	_ = s.audit.Close()
	_ = s.users.Close()
}

// restart simulates a server process restart on the same data tree.
func (s *stack) restart() {
	s.t.Helper()
	s.stop()
	s.open()
}

func (s *stack) auditPath() string {
	return filepath.Join(s.dir, "audit.log")
}

// newClient returns an HTTP client with its own cookie jar, so each
// logical user in a test keeps a separate session.
func (s *stack) newClient() *http.Client {
	s.t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		s.t.Fatalf("Failed to create cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (s *stack) postJSON(c *http.Client, path string, body any) (int, apiEnvelope) {
	s.t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		s.t.Fatalf("Failed to marshal request body: %v", err)
	}
	resp, err := c.Post(s.srv.URL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		s.t.Fatalf("POST %s failed: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		s.t.Fatalf("POST %s returned undecodable body: %v", path, err)
	}
	return resp.StatusCode, env
}

func (s *stack) getJSON(c *http.Client, path string) (int, apiEnvelope) {
	s.t.Helper()
	resp, err := c.Get(s.srv.URL + path)
	if err != nil {
		s.t.Fatalf("GET %s failed: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		s.t.Fatalf("GET %s returned undecodable body: %v", path, err)
	}
	return resp.StatusCode, env
}

// signupAndLogin provisions an account over the API and returns its id
// plus a logged-in client for it.
func (s *stack) signupAndLogin(email, role string) (string, *http.Client) {
	s.t.Helper()
	c := s.newClient()

	code, env := s.postJSON(c, "/api/signup", map[string]string{
		"email":    email,
		"password": stackPassword,
		"name":     "Integration User",
		"role":     role,
	})
	if code != http.StatusOK || !env.Success {
		s.t.Fatalf("Signup for %s failed: status %d, error %q", email, code, env.Error)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		s.t.Fatalf("Failed to decode signup response: %v", err)
	}

	s.login(c, email)
	return created.ID, c
}

func (s *stack) login(c *http.Client, email string) {
	s.t.Helper()
	code, env := s.postJSON(c, "/api/login", map[string]string{
		"email":    email,
		"password": stackPassword,
	})
	if code != http.StatusOK || !env.Success {
		s.t.Fatalf("Login for %s failed: status %d, error %q", email, code, env.Error)
	}
}

// seedAdmin creates an admin directly in the identity store; signup
// refuses the admin role over HTTP.
func (s *stack) seedAdmin(email string) *http.Client {
	s.t.Helper()
	u, err := s.users.CreateUser(email, stackPassword, types.RoleAdmin, "Admin")
	if err != nil {
		s.t.Fatalf("Failed to seed admin: %v", err)
	}
	if _, _, err := s.keys.GenerateUserKeys(u.ID); err != nil {
		s.t.Fatalf("Failed to generate admin keys: %v", err)
	}
	c := s.newClient()
	s.login(c, email)
	return c
}

func (s *stack) setAttribute(admin *http.Client, userID, key, value string) {
	s.t.Helper()
	code, env := s.postJSON(admin, "/api/admin/attributes", map[string]string{
		"action":  "add",
		"user_id": userID,
		"key":     key,
		"value":   value,
	})
	if code != http.StatusOK || !env.Success {
		s.t.Fatalf("Failed to set attribute %s:%s on %s: status %d, error %q",
			key, value, userID, code, env.Error)
	}
}

// srsPublicKey fetches and parses the service public key.
func (s *stack) srsPublicKey(c *http.Client) *rsa.PublicKey {
	s.t.Helper()
	code, env := s.getJSON(c, "/api/srs/public-key")
	if code != http.StatusOK {
		s.t.Fatalf("Failed to fetch service public key: status %d", code)
	}
	var data struct {
		PublicKey string `json:"public_key"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		s.t.Fatalf("Failed to decode public key response: %v", err)
	}
	pub, err := keystore.ParsePublicKey([]byte(data.PublicKey))
	if err != nil {
		s.t.Fatalf("Service public key does not parse: %v", err)
	}
	return pub
}

// uploadRecord performs the real client-side flow: seal the plaintext
// with a fresh AES-256-GCM key, wrap that key toward the service
// public key, send ciphertext and wrapped key as multipart.
func (s *stack) uploadRecord(c *http.Client, name, policy string, plaintext []byte) {
	s.t.Helper()

	pub := s.srsPublicKey(c)

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		s.t.Fatalf("Failed to generate content key: %v", err)
	}
	ciphertext, nonce := sealRecord(s.t, key, plaintext)

	wrapped, err := keystore.Wrap(pub, key)
	if err != nil {
		s.t.Fatalf("Failed to wrap content key: %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	writeField := func(field, value string) {
		if err := mw.WriteField(field, value); err != nil {
			s.t.Fatalf("Failed to write multipart field %s: %v", field, err)
		}
	}
	writeField("policy", policy)
	writeField("key_blob", hex.EncodeToString(wrapped))
	writeField("iv", hex.EncodeToString(nonce))
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		s.t.Fatalf("Failed to create multipart file: %v", err)
	}
	if _, err := fw.Write(ciphertext); err != nil {
		s.t.Fatalf("Failed to write ciphertext: %v", err)
	}
	if err := mw.Close(); err != nil {
		s.t.Fatalf("Failed to finish multipart body: %v", err)
	}

	resp, err := c.Post(s.srv.URL+"/api/patient/upload", mw.FormDataContentType(), &body)
	if err != nil {
		s.t.Fatalf("Upload of %s failed: %v", name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		s.t.Fatalf("Upload of %s rejected: status %d, body %s", name, resp.StatusCode, raw)
	}
}

type accessGrant struct {
	Status  string `json:"status"`
	KeyBlob string `json:"key_blob"`
	IV      string `json:"iv"`
	FileURL string `json:"file_url"`
}

// requestAccess asks the broker for a grant on name. Returns the HTTP
// status, and the grant when one was issued.
func (s *stack) requestAccess(c *http.Client, name string) (int, *accessGrant) {
	s.t.Helper()
	code, env := s.postJSON(c, "/api/doctor/access", map[string]string{
		"file": name,
	})
	if code != http.StatusOK {
		return code, nil
	}
	var grant accessGrant
	if err := json.Unmarshal(env.Data, &grant); err != nil {
		s.t.Fatalf("Failed to decode access grant: %v", err)
	}
	return code, &grant
}

// openRecord completes the reader side of a grant: download the
// ciphertext, unwrap the content key with the reader's private key,
// decrypt. Returns the recovered plaintext.
func (s *stack) openRecord(c *http.Client, readerID string, grant *accessGrant) []byte {
	s.t.Helper()

	resp, err := c.Get(s.srv.URL + grant.FileURL)
	if err != nil {
		s.t.Fatalf("Download via %s failed: %v", grant.FileURL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		s.t.Fatalf("Download via %s rejected: status %d", grant.FileURL, resp.StatusCode)
	}
	ciphertext, err := io.ReadAll(resp.Body)
	if err != nil {
		s.t.Fatalf("Failed to read downloaded blob: %v", err)
	}

	priv, err := s.keys.UserPrivateKey(readerID)
	if err != nil {
		s.t.Fatalf("Reader %s has no private key: %v", readerID, err)
	}
	wrapped, err := hex.DecodeString(grant.KeyBlob)
	if err != nil {
		s.t.Fatalf("Grant key blob is not hex: %v", err)
	}
	key, err := keystore.Unwrap(priv, wrapped)
	if err != nil {
		s.t.Fatalf("Failed to unwrap content key: %v", err)
	}
	nonce, err := hex.DecodeString(grant.IV)
	if err != nil {
		s.t.Fatalf("Grant IV is not hex: %v", err)
	}

	return openSealed(s.t, key, nonce, ciphertext)
}

// revoke cuts off access to name; empty target means blanket.
func (s *stack) revoke(c *http.Client, name, targetID string) string {
	s.t.Helper()
	code, env := s.postJSON(c, "/api/patient/revoke", map[string]string{
		"filename":       name,
		"revoke_user_id": targetID,
	})
	if code != http.StatusOK || !env.Success {
		s.t.Fatalf("Revoke on %s failed: status %d, error %q", name, code, env.Error)
	}
	var data struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		s.t.Fatalf("Failed to decode revoke response: %v", err)
	}
	return data.Kind
}

// lastAuditRecord returns the newest parseable record in the trail.
func (s *stack) lastAuditRecord() types.AuditRecord {
	s.t.Helper()
	records, corrupt, err := audit.ReadFile(s.auditPath())
	if err != nil {
		s.t.Fatalf("Failed to read audit log: %v", err)
	}
	if len(corrupt) > 0 {
		s.t.Fatalf("Audit log has %d unparseable lines", len(corrupt))
	}
	if len(records) == 0 {
		s.t.Fatal("Audit log is empty")
	}
	return records[len(records)-1]
}

// verifyAuditChain fails the test unless the whole trail verifies.
func (s *stack) verifyAuditChain() audit.Report {
	s.t.Helper()
	report, err := audit.VerifyFile(s.auditPath())
	if err != nil {
		s.t.Fatalf("Audit verification failed to run: %v", err)
	}
	if !report.OK {
		s.t.Fatalf("Audit chain broken: first broken line %d, %d corrupt",
			report.FirstBroken, len(report.Corrupt))
	}
	return report
}

// sealRecord encrypts plaintext under key with AES-256-GCM the way the
// browser client does. Returns ciphertext and nonce.
func sealRecord(t *testing.T, key, plaintext []byte) (ciphertext, nonce []byte) {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("Failed to create GCM: %v", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		t.Fatalf("Failed to generate nonce: %v", err)
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nonce
}

// openSealed reverses sealRecord.
func openSealed(t *testing.T, key, nonce, ciphertext []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("Failed to create GCM: %v", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		t.Fatalf("Failed to decrypt record: %v", err)
	}
	return plaintext
}

// uniqueEmail keeps accounts distinct across the suite's shared
// process without coordinating between tests.
func uniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%d@integration.test", prefix, time.Now().UnixNano())
}
