package cryptoutil

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Digest is the lowercase hex SHA-256 of data. Package items carry it as
// their ETag.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CreateHash hashes a value such as an API key for storage. Handlers reach
// it as utils.createHash.
func CreateHash(value string) string {
	return Digest([]byte(value))
}

// CompareWithHash reports, in constant time, whether value hashes to hash.
// hash may be upper case hex.
func CompareWithHash(value, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(CreateHash(value)), []byte(strings.ToLower(hash))) == 1
}
