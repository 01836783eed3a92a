package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

const sealInfo = "jsphere-gateway/config-values/v1"

var hkdfSalt = []byte("jsphere-gateway")

// ErrNoSecret is returned by a zero Sealer.
var ErrNoSecret = errors.New("cryptoutil: no server secret configured")

// Sealer encrypts and decrypts short configuration values with AES-256-GCM.
// The key is derived from the server secret with HKDF-SHA256, so the raw
// secret never touches the cipher. Sealed values are base64(nonce|ciphertext).
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the value key from secret. An empty secret yields a
// Sealer whose operations fail with ErrNoSecret.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return &Sealer{}, nil
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, hkdfSalt, []byte(sealInfo)), key); err != nil {
		return nil, xerrors.Wrap(err, "derive value key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, xerrors.Wrap(err, "aes cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, xerrors.Wrap(err, "gcm")
	}
	return &Sealer{aead: aead}, nil
}

// Enabled reports whether a secret was configured.
func (s *Sealer) Enabled() bool { return s != nil && s.aead != nil }

// Encrypt seals plaintext and returns it base64 encoded.
func (s *Sealer) Encrypt(plaintext string) (string, error) {
	if !s.Enabled() {
		return "", ErrNoSecret
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", xerrors.Wrap(err, "nonce")
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt.
func (s *Sealer) Decrypt(sealed string) (string, error) {
	if !s.Enabled() {
		return "", ErrNoSecret
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", xerrors.Wrap(err, "decode sealed value")
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns+s.aead.Overhead() {
		return "", xerrors.New("sealed value too short")
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", xerrors.Wrap(err, "open sealed value")
	}
	return string(plain), nil
}
