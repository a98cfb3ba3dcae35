// Package blobstore holds client-encrypted payloads as opaque files.
//
// The store is deliberately blind: it never parses, transforms,
// compresses or re-encrypts what it holds, and it has no access to
// any key material. Upload bytes and download bytes are identical.
// Decryption only ever happens on the client after the broker
// re-wraps the content key toward the caller.
//
// Blobs are stored as `<name>.enc` in a flat directory; names are
// validated as single path elements, and writes go through temp file
// + rename so a partial upload never appears under its final name.
package blobstore
