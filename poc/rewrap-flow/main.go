package main

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"log"
)

// Proof of concept for the key re-wrap pipeline: one content key,
// sealed toward the service at upload, re-sealed toward a reader at
// access time, with the plaintext record never touching the server.

const recordText = "Patient presents with mild hypertension. Follow up in 6 weeks."

func main() {
	log.Println("=== Medlock Key Re-wrap POC ===")
	log.Println()

	// The service keypair stands in for the broker's long-lived key.
	log.Println("1. Generating service keypair (RSA-2048)...")
	serviceKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		log.Fatalf("Failed to generate service key: %v", err)
	}
	log.Println("✓ Service keypair ready")

	log.Println("\n2. Generating reader keypair (RSA-2048)...")
	readerKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		log.Fatalf("Failed to generate reader key: %v", err)
	}
	log.Println("✓ Reader keypair ready")

	// Uploader side: seal the record with a fresh AES-256-GCM key,
	// then wrap that key toward the service public key.
	log.Println("\n3. Uploader seals the record...")
	contentKey := make([]byte, 32)
	if _, err := rand.Read(contentKey); err != nil {
		log.Fatalf("Failed to generate content key: %v", err)
	}
	ciphertext, nonce, err := seal(contentKey, []byte(recordText))
	if err != nil {
		log.Fatalf("Failed to seal record: %v", err)
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &serviceKey.PublicKey, contentKey, nil)
	if err != nil {
		log.Fatalf("Failed to wrap content key: %v", err)
	}
	log.Printf("✓ Record sealed: %d plaintext bytes -> %d ciphertext bytes", len(recordText), len(ciphertext))
	log.Printf("✓ Content key wrapped toward the service: %d bytes", len(wrapped))

	// Server side: the only place the plaintext key ever appears, and
	// only between unwrap and re-wrap. The record ciphertext is not
	// touched at all.
	log.Println("\n4. Server re-wraps the key toward the reader...")
	unwrapped, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, serviceKey, wrapped, nil)
	if err != nil {
		log.Fatalf("Failed to unwrap content key: %v", err)
	}
	rewrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &readerKey.PublicKey, unwrapped, nil)
	if err != nil {
		log.Fatalf("Failed to re-wrap content key: %v", err)
	}
	// Wipe the transient copy before anything else happens.
	for i := range unwrapped {
		unwrapped[i] = 0
	}
	log.Printf("✓ Key re-wrapped toward the reader: %d bytes", len(rewrapped))
	log.Println("✓ Transient key copy wiped")

	// Reader side: unwrap with the reader private key, decrypt.
	log.Println("\n5. Reader recovers the record...")
	readerCopy, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, readerKey, rewrapped, nil)
	if err != nil {
		log.Fatalf("Failed to unwrap re-wrapped key: %v", err)
	}
	plaintext, err := open(readerCopy, nonce, ciphertext)
	if err != nil {
		log.Fatalf("Failed to decrypt record: %v", err)
	}
	if !bytes.Equal(plaintext, []byte(recordText)) {
		log.Fatal("Recovered plaintext does not match the original")
	}
	log.Printf("✓ Recovered: %q", plaintext)

	// A second reader without a grant gets nothing useful.
	log.Println("\n6. Checking a key wrapped for one reader is useless to another...")
	strangerKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		log.Fatalf("Failed to generate stranger key: %v", err)
	}
	if _, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, strangerKey, rewrapped, nil); err == nil {
		log.Fatal("Stranger decrypted a key wrapped for someone else")
	}
	log.Println("✓ Unwrap fails for every other private key")

	log.Println("\n✅ POC complete!")
	log.Println("The server never saw the record plaintext, and the content")
	log.Println("key existed in the clear only inside step 4.")
}

func seal(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func open(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}
