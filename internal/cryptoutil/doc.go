// Package cryptoutil provides the hashing and secret-handling primitives
// used by the gateway and exposed to tenant handlers.
//
// It supports:
//   - SHA-256 content hashing for package item ETags
//   - Constant-time hash comparison to prevent timing side-channels
//   - AES-256-GCM sealing of tenant configuration values with an HKDF-derived key
//   - Unwrapping the server secret from a KMS ciphertext blob at startup
package cryptoutil
