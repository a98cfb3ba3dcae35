package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caretrust/medlock/pkg/log"
	"github.com/caretrust/medlock/pkg/metrics"
)

// ErrKeyNotFound indicates no keypair exists for the requested user.
var ErrKeyNotFound = errors.New("key not found")

const (
	// RSA key size for both the service key and user keys
	keySize = 2048
	// Private keys are readable by the service user only
	privateKeyMode = 0600
	// Public keys may be served to clients
	publicKeyMode = 0644

	srsPrivateFile = "srs_private.pem"
	srsPublicFile  = "srs_public.pem"

	publicPEMType  = "PUBLIC KEY"
	privatePEMType = "PRIVATE KEY"
)

// KeyStore persists RSA keypairs as PEM files: one service keypair
// under srsDir and one keypair per user under userDir. Private keys
// are PKCS#8, public keys SPKI.
type KeyStore struct {
	srsDir  string
	userDir string

	srsKey *rsa.PrivateKey
	srsPub []byte
	mu     sync.Mutex
}

// New creates a KeyStore rooted at the given directories. Keys are
// loaded or generated lazily on first use.
func New(srsDir, userDir string) *KeyStore {
	return &KeyStore{
		srsDir:  srsDir,
		userDir: userDir,
	}
}

// GetOrCreateSRS returns the service keypair, generating and
// persisting it on first call. Both PEM files are written before the
// key is returned so a crash can never leave a half-provisioned
// service key. Subsequent calls return the cached pair.
func (ks *KeyStore) GetOrCreateSRS() (*rsa.PrivateKey, []byte, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.srsKey != nil {
		return ks.srsKey, ks.srsPub, nil
	}

	privPath := filepath.Join(ks.srsDir, srsPrivateFile)
	pubPath := filepath.Join(ks.srsDir, srsPublicFile)

	if _, err := os.Stat(privPath); err == nil {
		key, err := loadPrivateKey(privPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load service key: %w", err)
		}
		pubPEM, err := os.ReadFile(pubPath)
		if err != nil {
			// Regenerate the public half from the private key
			pubPEM, err = marshalPublicKey(&key.PublicKey)
			if err != nil {
				return nil, nil, err
			}
			if err := os.WriteFile(pubPath, pubPEM, publicKeyMode); err != nil {
				return nil, nil, fmt.Errorf("failed to restore service public key: %w", err)
			}
		}
		metrics.RegisterComponent("keystore", true, "service keypair loaded")
		ks.srsKey = key
		ks.srsPub = pubPEM
		return key, pubPEM, nil
	}

	if err := os.MkdirAll(ks.srsDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate service key: %w", err)
	}

	privPEM, err := marshalPrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	pubPEM, err := marshalPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}

	if err := os.WriteFile(privPath, privPEM, privateKeyMode); err != nil {
		return nil, nil, fmt.Errorf("failed to write service private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, publicKeyMode); err != nil {
		return nil, nil, fmt.Errorf("failed to write service public key: %w", err)
	}

	metrics.KeyOperationsTotal.WithLabelValues("generate").Inc()
	metrics.RegisterComponent("keystore", true, "service keypair generated")
	logger := log.WithComponent("keystore")
	logger.Info().Msg("Generated service keypair")

	ks.srsKey = key
	ks.srsPub = pubPEM
	return key, pubPEM, nil
}

// GenerateUserKeys creates a keypair for the user and persists both
// halves. If a pair already exists it is returned unchanged, so
// repeated bootstrap of the same user is safe.
func (ks *KeyStore) GenerateUserKeys(userID string) (privPEM, pubPEM []byte, err error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	privPath := ks.userKeyPath(userID, true)
	pubPath := ks.userKeyPath(userID, false)

	if existing, err := os.ReadFile(privPath); err == nil {
		pub, err := os.ReadFile(pubPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read user public key: %w", err)
		}
		return existing, pub, nil
	}

	if err := os.MkdirAll(ks.userDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate user key: %w", err)
	}

	privPEM, err = marshalPrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	pubPEM, err = marshalPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}

	if err := os.WriteFile(privPath, privPEM, privateKeyMode); err != nil {
		return nil, nil, fmt.Errorf("failed to write user private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, publicKeyMode); err != nil {
		return nil, nil, fmt.Errorf("failed to write user public key: %w", err)
	}

	metrics.KeyOperationsTotal.WithLabelValues("generate").Inc()
	logger := log.WithComponent("keystore")
	logger.Info().Str("user", userID).Msg("Generated user keypair")

	return privPEM, pubPEM, nil
}

// UserPublicKey loads a user's public key. Returns ErrKeyNotFound
// when the user has no persisted keypair.
func (ks *KeyStore) UserPublicKey(userID string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(ks.userKeyPath(userID, false))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to read user public key: %w", err)
	}
	return ParsePublicKey(data)
}

// UserPrivateKey loads a user's private key. Only the bootstrap CLI
// and the test harness read private halves; the access path never
// touches them.
func (ks *KeyStore) UserPrivateKey(userID string) (*rsa.PrivateKey, error) {
	path := ks.userKeyPath(userID, true)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, ErrKeyNotFound
	}
	return loadPrivateKey(path)
}

// HasUserKeys reports whether a persisted keypair exists for the user.
func (ks *KeyStore) HasUserKeys(userID string) bool {
	_, err := os.Stat(ks.userKeyPath(userID, false))
	return err == nil
}

func (ks *KeyStore) userKeyPath(userID string, private bool) string {
	suffix := "_public.pem"
	if private {
		suffix = "_private.pem"
	}
	return filepath.Join(ks.userDir, userID+suffix)
}

// Wrap encrypts a content key under an RSA public key using OAEP with
// SHA-256 and an empty label.
func Wrap(pub *rsa.PublicKey, key []byte) ([]byte, error) {
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap key: %w", err)
	}
	metrics.KeyOperationsTotal.WithLabelValues("wrap").Inc()
	return wrapped, nil
}

// Unwrap decrypts a wrapped content key under an RSA private key.
// OAEP parameters must match Wrap exactly or decryption fails.
func Unwrap(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap key: %w", err)
	}
	metrics.KeyOperationsTotal.WithLabelValues("unwrap").Inc()
	return key, nil
}

// ParsePublicKey parses an SPKI PEM public key and rejects non-RSA
// key types.
func ParsePublicKey(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil || block.Type != publicPEMType {
		return nil, fmt.Errorf("invalid public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return pub, nil
}

// ParsePrivateKey parses a PKCS#8 PEM private key and rejects non-RSA
// key types.
func ParsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil || block.Type != privatePEMType {
		return nil, fmt.Errorf("invalid private key PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return ParsePrivateKey(data)
}

func marshalPrivateKey(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: privatePEMType, Bytes: der}), nil
}

func marshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: publicPEMType, Bytes: der}), nil
}
