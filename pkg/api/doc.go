/*
Package api implements the HTTP API for the medlock repository service.

The api package is the only network surface of the service. It resolves
browser sessions to authenticated callers, shapes JSON responses, and
delegates every decision about a protected object to the broker. No
handler in this package reads policy, revocation state or key material
itself.

# Architecture

	┌──────────────────── BROWSER CLIENT ────────────────────────┐
	│                                                             │
	│  ┌─────────────────────────────────────────────┐           │
	│  │  Client-side crypto (WebCrypto)              │           │
	│  │  - AES-GCM encrypt/decrypt of record bytes   │           │
	│  │  - RSA-OAEP wrap of content keys             │           │
	│  └──────────────────┬──────────────────────────┘           │
	└─────────────────────┼───────────────────────────────────────┘
	                      │ HTTPS + session cookie
	                      │
	┌─────────────────────▼──── MEDLOCK SERVER ──────────────────┐
	│                                                             │
	│  ┌─────────────────────────────────────────────┐           │
	│  │         HTTP API (pkg/api)                   │           │
	│  │  - Session cookie authentication             │           │
	│  │  - Role-gated route table                    │           │
	│  │  - Request logging and metrics               │           │
	│  └──────────────────┬──────────────────────────┘           │
	│                     │                                       │
	│  ┌──────────────────▼──────────────────────────┐           │
	│  │              Broker                          │           │
	│  │  - Policy evaluation and revocation checks   │           │
	│  │  - Key unwrap and re-wrap                    │           │
	│  │  - Hash-chained audit trail                  │           │
	│  └─────────────────────────────────────────────┘           │
	└─────────────────────────────────────────────────────────────┘

# Routes

Public:
  - POST /api/signup: Create a patient or doctor account with keypair
  - POST /api/login: Verify credentials, open a session
  - GET  /api/srs/public-key: Service public key for client-side wrapping

Session:
  - GET  /api/session: Current user and effective attributes
  - POST /api/logout: Destroy the session

Reader (doctor):
  - GET  /api/doctor/files: List all stored objects
  - POST /api/doctor/access: Request a key grant for one object
  - GET  /api/doctor/download/{file}: Stream stored ciphertext

Owner (patient):
  - GET  /api/patient/files: List own objects
  - POST /api/patient/upload: Store an encrypted object (multipart)
  - POST /api/patient/revoke: Withdraw access, per-user or blanket

Admin:
  - GET  /api/admin/users: All users with attribute bags
  - POST /api/admin/attributes: Add or remove one policy attribute
  - GET  /api/admin/audit: Recent records plus chain integrity

Operational:
  - GET /health: Component health from the pkg/metrics registry
  - GET /ready: Readiness gated on identity, keystore and audit
  - GET /metrics: Prometheus exposition

# Response Envelope

Every /api endpoint answers the same JSON shape:

	{"success": true,  "data": ...}
	{"success": false, "error": "..."}

The operational endpoints (/health, /ready, /metrics) keep their
conventional formats for orchestrators and scrapers.

# Authentication

Sessions ride in the medlock_session cookie (HttpOnly, SameSite=Lax,
Secure behind TLS). A request to a protected route without a valid
session is answered 401 and recorded in the audit trail under the
actor "anonymous"; failed logins are recorded under the claimed email.
Neither is silent: the trail keeps probes visible.

# Role Gating

Listing and admin routes check the caller's role at the route and
answer 403 on mismatch. The decision routes (access, upload, revoke)
pass the caller through to the broker unchecked, so the broker's own
role gate decides and writes the audit record. One gate per decision,
and the trail always comes from the component that decided.

# Error Mapping

Broker errors carry their own HTTP mapping (see pkg/broker):

  - 401 DENIED_AUTH (missing or expired session, bad login)
  - 403 policy, revocation, role and ownership denials
  - 404 unknown object (audited as INVALID_REQUEST by the broker)
  - 400 malformed input, duplicate upload
  - 500 setup, integrity and audit-append failures

Server-side faults are logged in full and reported to the client as
"internal server error" only.

# Usage

	srv := api.NewServer(api.Config{
		Broker:   b,
		Users:    users,
		Keys:     keys,
		Sessions: sessions,
		Audit:    auditLog,
		Version:  version,
	})

	// Start blocks; Stop drains in-flight requests.
	go func() {
		if err := srv.Start(":5000"); err != nil {
			log.Fatal(err.Error())
		}
	}()
	...
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)

# Middleware

All routes pass through one wrapper that recovers panics into a 500
envelope, logs each request with method, path, status and duration,
and records request metrics labeled by the registered route pattern
so label cardinality stays bounded.

# Monitoring

Key metrics to monitor:

  - medlock_http_requests_total{path,method,code}: Request rate
  - medlock_http_request_duration_seconds{path}: Latency
  - medlock_access_requests_total{status}: Broker decisions
  - medlock_audit_append_failures_total: Trail write failures

# See Also

  - pkg/broker for the decision pipeline behind the routes
  - pkg/session for cookie token storage
  - pkg/audit for the trail written on denials
*/
package api
