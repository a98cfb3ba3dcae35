// Package keystore persists the RSA keypairs the re-encryption broker
// depends on and provides the OAEP wrap/unwrap primitives.
//
// # Layout
//
// Two directories, one service keypair, one keypair per user:
//
//	keys/
//	├── srs/
//	│   ├── srs_private.pem    (PKCS#8, 0600)
//	│   └── srs_public.pem     (SPKI,   0644)
//	└── users/
//	    ├── <userID>_private.pem
//	    └── <userID>_public.pem
//
// All keys are RSA 2048. The service public key is published so
// clients can wrap freshly generated content keys toward the broker;
// the service private key never leaves this process.
//
// # Wrap format
//
// Wrap and Unwrap use RSA-OAEP with SHA-256 and an empty label. Both
// sides must agree on every OAEP parameter, so the choice is fixed
// here rather than configurable. OAEP is randomized: wrapping the
// same content key twice yields different blobs.
//
// # Failure semantics
//
// A user without a persisted keypair is a provisioning gap, not an
// authorization decision. UserPublicKey returns ErrKeyNotFound and
// the broker maps it to a setup failure rather than a denial, so the
// condition is visible in logs instead of masquerading as policy.
//
// # See Also
//
//   - pkg/broker: unwraps under the service key, re-wraps to users
//   - cmd/medlock: generates user keypairs at account bootstrap
package keystore
