package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/caretrust/medlock/pkg/audit"
	"github.com/caretrust/medlock/pkg/broker"
	"github.com/caretrust/medlock/pkg/identity"
	"github.com/caretrust/medlock/pkg/keystore"
	"github.com/caretrust/medlock/pkg/log"
	"github.com/caretrust/medlock/pkg/metrics"
	"github.com/caretrust/medlock/pkg/session"
	"github.com/caretrust/medlock/pkg/types"
)

const (
	// SessionCookie is the name of the browser session cookie
	SessionCookie = "medlock_session"

	// anonymousUser is the audit actor recorded for requests that
	// carry no valid session
	anonymousUser = "anonymous"

	// maxUploadBytes caps multipart upload bodies
	maxUploadBytes = 64 << 20

	// maxAuditPage caps how many audit records one request may fetch
	maxAuditPage = 1000
)

// Config wires the HTTP server to the service components
type Config struct {
	Broker   *broker.Broker
	Users    *identity.DB
	Keys     *keystore.KeyStore
	Sessions *session.Manager
	Audit    *audit.Log

	// CookieSecure marks session cookies Secure; enable behind TLS
	CookieSecure bool

	// Version is reported by /health
	Version string
}

// Server is the HTTP API: authentication, the owner and reader object
// surfaces, and the admin views. Every decision about a protected
// object is delegated to the broker; this layer only resolves the
// session cookie to a caller and shapes responses.
type Server struct {
	broker   *broker.Broker
	users    *identity.DB
	keys     *keystore.KeyStore
	sessions *session.Manager
	audit    *audit.Log

	cookieSecure bool

	mux     *http.ServeMux
	httpSrv *http.Server
	logger  zerolog.Logger
}

// NewServer creates the API server and registers all routes
func NewServer(cfg Config) *Server {
	metrics.SetVersion(cfg.Version)

	s := &Server{
		broker:       cfg.Broker,
		users:        cfg.Users,
		keys:         cfg.Keys,
		sessions:     cfg.Sessions,
		audit:        cfg.Audit,
		cookieSecure: cfg.CookieSecure,
		mux:          http.NewServeMux(),
		logger:       log.WithComponent("api"),
	}

	// Public endpoints
	s.mux.HandleFunc("/api/signup", s.signupHandler)
	s.mux.HandleFunc("/api/login", s.loginHandler)
	s.mux.HandleFunc("/api/srs/public-key", s.srsPublicKeyHandler)

	// Session endpoints
	s.mux.HandleFunc("/api/session", s.sessionHandler)
	s.mux.HandleFunc("/api/logout", s.logoutHandler)

	// Reader endpoints
	s.mux.HandleFunc("/api/doctor/files", s.doctorFilesHandler)
	s.mux.HandleFunc("/api/doctor/access", s.accessHandler)
	s.mux.HandleFunc("/api/doctor/download/", s.downloadHandler)

	// Owner endpoints
	s.mux.HandleFunc("/api/patient/files", s.patientFilesHandler)
	s.mux.HandleFunc("/api/patient/upload", s.uploadHandler)
	s.mux.HandleFunc("/api/patient/revoke", s.revokeHandler)

	// Admin endpoints
	s.mux.HandleFunc("/api/admin/users", s.adminUsersHandler)
	s.mux.HandleFunc("/api/admin/attributes", s.adminAttributesHandler)
	s.mux.HandleFunc("/api/admin/audit", s.adminAuditHandler)

	// Operational endpoints, served from the health registry and the
	// Prometheus default registry rather than the response envelope
	s.mux.Handle("/health", metrics.HealthHandler())
	s.mux.Handle("/ready", metrics.ReadyHandler())
	s.mux.Handle("/metrics", metrics.Handler())

	return s
}

// Handler returns the middleware-wrapped handler for embedding in
// tests or other servers
func (s *Server) Handler() http.Handler {
	return s.withMiddleware(s.mux)
}

// Start begins serving on the given address and blocks until the
// server is stopped
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		// Uploads and downloads may take a while on slow links; only
		// the header read gets a tight deadline.
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.logger.Info().Str("address", addr).Msg("API server listening")
	if err := s.httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	s.logger.Info().Msg("Stopping API server")
	return s.httpSrv.Shutdown(ctx)
}

// envelope is the uniform JSON response shape
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: msg})
}

// writeBrokerError maps a broker error onto the HTTP status taxonomy.
// Server-side faults are logged in full but reported without detail.
func (s *Server) writeBrokerError(w http.ResponseWriter, r *http.Request, err error) {
	code := broker.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, code, "internal server error")
		return
	}
	writeError(w, code, err.Error())
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

// currentCaller resolves the session cookie to an authenticated
// caller. The second return is false when there is no valid session;
// the denial has already been written and audited.
func (s *Server) currentCaller(w http.ResponseWriter, r *http.Request) (broker.Caller, bool) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		s.denyAnonymous(w, r)
		return broker.Caller{}, false
	}

	sess, err := s.sessions.Validate(cookie.Value)
	if err != nil {
		s.denyAnonymous(w, r)
		return broker.Caller{}, false
	}

	return broker.Caller{ID: sess.UserID, Role: sess.Role}, true
}

// denyAnonymous records the rejected request and answers 401. The
// trail keeps unauthenticated probes against protected routes visible.
func (s *Server) denyAnonymous(w http.ResponseWriter, r *http.Request) {
	if _, err := s.audit.Append(anonymousUser, "", types.AuditActionAccess, types.StatusDeniedAuth); err != nil {
		s.logger.Error().Err(err).Msg("Audit append failed on auth denial")
	}
	s.logger.Warn().
		Str("path", r.URL.Path).
		Str("remote", r.RemoteAddr).
		Msg("Unauthenticated request")
	writeError(w, http.StatusUnauthorized, "authentication required")
}

// requireRole answers 403 when the caller's role does not match.
// Decision endpoints (access, upload, revoke) skip this gate so the
// broker can audit role denials itself.
func (s *Server) requireRole(w http.ResponseWriter, caller broker.Caller, role types.Role) bool {
	if caller.Role != role {
		writeError(w, http.StatusForbidden, fmt.Sprintf("requires the %s role", role))
		return false
	}
	return true
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sess types.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.cookieSecure,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.cookieSecure,
	})
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// signupHandler creates an account and provisions its keypair
func (s *Server) signupHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password must not be empty")
		return
	}

	role, ok := types.ParseRole(req.Role)
	if !ok || role == types.RoleAdmin {
		// Admin accounts are provisioned from the CLI, never over HTTP.
		writeError(w, http.StatusBadRequest, "role must be patient or doctor")
		return
	}

	user, err := s.users.CreateUser(req.Email, req.Password, role, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrEmailTaken):
			writeError(w, http.StatusBadRequest, "email is already registered")
		case errors.Is(err, identity.ErrInvalidEmail):
			writeError(w, http.StatusBadRequest, "invalid email address")
		default:
			s.logger.Error().Err(err).Msg("Failed to create user")
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	if _, _, err := s.keys.GenerateUserKeys(user.ID); err != nil {
		// The account exists but has no keypair yet. Login repairs
		// this, so report the account as created anyway.
		s.logger.Error().Err(err).Str("user", user.ID).Msg("Failed to provision user keys")
	}

	writeJSON(w, http.StatusOK, userData(user, nil))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginHandler verifies credentials and opens a session
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := s.users.UserByEmail(req.Email)
	if err != nil && !errors.Is(err, identity.ErrUserNotFound) {
		s.logger.Error().Err(err).Msg("Failed to look up user")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err != nil || !s.users.VerifyPassword(user, req.Password) {
		s.deniedLogin(w, req.Email)
		return
	}

	// Heal accounts whose key provisioning failed at signup.
	if !s.keys.HasUserKeys(user.ID) {
		if _, _, err := s.keys.GenerateUserKeys(user.ID); err != nil {
			s.logger.Error().Err(err).Str("user", user.ID).Msg("Failed to provision user keys")
		}
	}

	sess, err := s.sessions.Create(user.ID, user.Role)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create session")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.setSessionCookie(w, sess)
	s.logger.Info().
		Str("user", user.ID).
		Str("role", string(user.Role)).
		Msg("User logged in")
	writeJSON(w, http.StatusOK, userData(user, nil))
}

// deniedLogin audits a failed login under the claimed identity
func (s *Server) deniedLogin(w http.ResponseWriter, email string) {
	actor := email
	if actor == "" {
		actor = anonymousUser
	}
	if _, err := s.audit.Append(actor, "", types.AuditActionAccess, types.StatusDeniedAuth); err != nil {
		s.logger.Error().Err(err).Msg("Audit append failed on login denial")
	}
	s.logger.Warn().Str("email", email).Msg("Login failed")
	writeError(w, http.StatusUnauthorized, "invalid email or password")
}

// sessionHandler returns the logged-in user and their attributes
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	caller, ok := s.currentCaller(w, r)
	if !ok {
		return
	}

	user, err := s.users.UserByID(caller.ID)
	if err != nil {
		// The account vanished out from under a live session.
		s.logger.Warn().Str("user", caller.ID).Msg("Session for unknown user")
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	attrs, err := s.users.EffectiveAttributes(user)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load attributes")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, userData(user, attrs))
}

// logoutHandler destroys the session and clears the cookie
func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		s.denyAnonymous(w, r)
		return
	}

	if err := s.sessions.Destroy(cookie.Value); err != nil {
		s.logger.Error().Err(err).Msg("Failed to destroy session")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, nil)
}

// srsPublicKeyHandler serves the service public key clients wrap
// content keys toward
func (s *Server) srsPublicKeyHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"public_key": string(s.broker.SRSPublicKeyPEM()),
	})
}

// doctorFilesHandler lists every stored object for readers
func (s *Server) doctorFilesHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	caller, ok := s.currentCaller(w, r)
	if !ok {
		return
	}
	if !s.requireRole(w, caller, types.RoleDoctor) {
		return
	}

	entries, err := s.broker.Objects(caller)
	if err != nil {
		s.writeBrokerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.objectRows(entries))
}

type accessRequest struct {
	File string `json:"file"`
}

// accessHandler runs the broker decision pipeline for one object
func (s *Server) accessHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	caller, ok := s.currentCaller(w, r)
	if !ok {
		return
	}

	var req accessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	grant, err := s.broker.Access(r.Context(), caller, req.File)
	if err != nil {
		s.writeBrokerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "granted",
		"key_blob": grant.KeyBlob,
		"iv":       grant.IV,
		"file_url": "/api/doctor/download/" + grant.BlobRef,
	})
}

// downloadHandler streams stored ciphertext. Authorization for the
// content happened at access time; the bytes served here are opaque
// without the granted key.
func (s *Server) downloadHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	caller, ok := s.currentCaller(w, r)
	if !ok {
		return
	}
	if !s.requireRole(w, caller, types.RoleDoctor) {
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/doctor/download/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusNotFound, "object not found")
		return
	}

	path, err := s.broker.BlobPath(name)
	if err != nil {
		s.writeBrokerError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".enc"))
	http.ServeFile(w, r, path)
}

// patientFilesHandler lists the caller's own objects
func (s *Server) patientFilesHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	caller, ok := s.currentCaller(w, r)
	if !ok {
		return
	}
	if !s.requireRole(w, caller, types.RolePatient) {
		return
	}

	entries, err := s.broker.Objects(caller)
	if err != nil {
		s.writeBrokerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.objectRows(entries))
}

// uploadHandler stores a client-side encrypted object
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	caller, ok := s.currentCaller(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	// Browsers may send a full client-side path; keep the base name.
	name := filepath.Base(header.Filename)

	m, err := s.broker.Upload(
		r.Context(),
		caller,
		name,
		r.FormValue("policy"),
		r.FormValue("key_blob"),
		r.FormValue("iv"),
		file,
	)
	if err != nil {
		s.writeBrokerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"file":   m.File,
		"policy": m.Policy,
	})
}

type revokeRequest struct {
	Filename     string `json:"filename"`
	RevokeUserID string `json:"revoke_user_id"`
}

// revokeHandler withdraws access to an object the caller owns
func (s *Server) revokeHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	caller, ok := s.currentCaller(w, r)
	if !ok {
		return
	}

	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	kind, err := s.broker.Revoke(r.Context(), caller, req.Filename, req.RevokeUserID)
	if err != nil {
		s.writeBrokerError(w, r, err)
		return
	}

	resp := map[string]any{
		"file": req.Filename,
		"kind": kind,
	}
	if req.RevokeUserID != "" {
		// The revocation itself is committed and audited; the list is
		// informational, so a failed read does not fail the request.
		if revoked, err := s.broker.RevokedUsers(caller, req.Filename); err == nil {
			resp["revoked_users"] = revoked
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// adminUsersHandler lists all users with their attribute bags
func (s *Server) adminUsersHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	caller, ok := s.currentCaller(w, r)
	if !ok {
		return
	}
	if !s.requireRole(w, caller, types.RoleAdmin) {
		return
	}

	infos, err := s.users.ListUsers()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list users")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, userRows(infos))
}

type attributeRequest struct {
	Action string `json:"action"`
	UserID string `json:"user_id"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

// adminAttributesHandler adds or removes one policy attribute
func (s *Server) adminAttributesHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	caller, ok := s.currentCaller(w, r)
	if !ok {
		return
	}
	if !s.requireRole(w, caller, types.RoleAdmin) {
		return
	}

	var req attributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var err error
	switch req.Action {
	case "add":
		err = s.users.SetAttribute(req.UserID, req.Key, req.Value)
	case "remove":
		err = s.users.RemoveAttribute(req.UserID, req.Key)
	default:
		writeError(w, http.StatusBadRequest, "action must be add or remove")
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, identity.ErrReservedAttribute),
			errors.Is(err, identity.ErrInvalidAttribute):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error().Err(err).Msg("Failed to update attribute")
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	attrs, err := s.users.Attributes(req.UserID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load attributes")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    req.UserID,
		"attributes": attrs,
	})
}

// adminAuditHandler returns recent audit records, newest first, with
// a chain integrity summary
func (s *Server) adminAuditHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	caller, ok := s.currentCaller(w, r)
	if !ok {
		return
	}
	if !s.requireRole(w, caller, types.RoleAdmin) {
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxAuditPage {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("limit must be between 1 and %d", maxAuditPage))
			return
		}
		limit = n
	}

	records, err := s.audit.Recent(limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read audit log")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	report, err := s.audit.Verify()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to verify audit chain")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"integrity": map[string]any{
			"ok":           report.OK,
			"first_broken": report.FirstBroken,
			"corrupt":      len(report.Corrupt),
		},
	})
}

// Helper functions to shape internal types into API responses

// userData shapes a user for JSON responses, leaving out credentials
func userData(u *types.User, attrs map[string]string) map[string]any {
	data := map[string]any{
		"id":    u.ID,
		"email": u.Email,
		"name":  u.Name,
		"role":  string(u.Role),
	}
	if attrs != nil {
		data["attributes"] = attrs
	}
	return data
}

type objectRow struct {
	Name       string `json:"name"`
	Owner      string `json:"owner"`
	OwnerEmail string `json:"owner_email,omitempty"`
	Policy     string `json:"policy"`
	Size       int64  `json:"size"`
	Modified   string `json:"modified,omitempty"`
}

func (s *Server) objectRows(entries []types.ObjectEntry) []objectRow {
	emails := make(map[string]string)
	rows := make([]objectRow, 0, len(entries))
	for _, e := range entries {
		email, ok := emails[e.Owner]
		if !ok {
			if u, err := s.users.UserByID(e.Owner); err == nil {
				email = u.Email
			}
			emails[e.Owner] = email
		}

		row := objectRow{
			Name:       e.Name,
			Owner:      e.Owner,
			OwnerEmail: email,
			Policy:     e.Policy,
			Size:       e.Size,
		}
		if !e.Modified.IsZero() {
			row.Modified = e.Modified.UTC().Format(time.RFC3339)
		}
		rows = append(rows, row)
	}
	return rows
}

type userRow struct {
	ID         string            `json:"id"`
	Email      string            `json:"email"`
	Name       string            `json:"name"`
	Role       string            `json:"role"`
	Attributes map[string]string `json:"attributes"`
}

func userRows(infos []types.UserInfo) []userRow {
	rows := make([]userRow, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, userRow{
			ID:         info.ID,
			Email:      info.Email,
			Name:       info.Name,
			Role:       string(info.Role),
			Attributes: info.Attributes,
		})
	}
	return rows
}
