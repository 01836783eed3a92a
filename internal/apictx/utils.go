package apictx

import (
	"github.com/google/uuid"

	"github.com/jspheredev/jsphere-gateway/internal/cryptoutil"
)

// Utils are the helpers exposed to handlers as ctx.utils.
type Utils struct {
	sealer *cryptoutil.Sealer
}

// NewUtils binds the helpers to the server's value sealer. A nil or
// disabled sealer makes Encrypt and Decrypt fail.
func NewUtils(s *cryptoutil.Sealer) *Utils {
	return &Utils{sealer: s}
}

func (u *Utils) CreateID() string { return uuid.NewString() }

func (u *Utils) CreateHash(value string) string { return cryptoutil.CreateHash(value) }

func (u *Utils) CompareWithHash(value, hash string) bool {
	return cryptoutil.CompareWithHash(value, hash)
}

func (u *Utils) Encrypt(plaintext string) (string, error) {
	if u.sealer == nil {
		return "", cryptoutil.ErrNoSecret
	}
	return u.sealer.Encrypt(plaintext)
}

func (u *Utils) Decrypt(sealed string) (string, error) {
	if u.sealer == nil {
		return "", cryptoutil.ErrNoSecret
	}
	return u.sealer.Decrypt(sealed)
}
