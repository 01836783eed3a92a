package cryptoutil

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

// kmsDecrypter is the subset of the KMS API needed to unwrap the server secret.
// Extracted as an interface to enable unit testing without live AWS credentials.
type kmsDecrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSSecret unwraps a KMS ciphertext blob into the plaintext server secret.
type KMSSecret struct {
	client kmsDecrypter
	keyID  string
}

// NewKMSSecret binds a KMS client. keyID is optional for symmetric keys
// since the ciphertext blob already names its key.
func NewKMSSecret(client *kms.Client, keyID string) *KMSSecret {
	return &KMSSecret{client: client, keyID: keyID}
}

// Unwrap decrypts a base64 encoded ciphertext blob.
func (k *KMSSecret) Unwrap(ctx context.Context, blobB64 string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blobB64))
	if err != nil {
		return nil, xerrors.Wrap(err, "decode kms ciphertext blob")
	}
	in := &kms.DecryptInput{CiphertextBlob: blob}
	if k.keyID != "" {
		in.KeyId = aws.String(k.keyID)
	}
	out, err := k.client.Decrypt(ctx, in)
	if err != nil {
		return nil, xerrors.Wrap(err, "kms decrypt")
	}
	if len(out.Plaintext) == 0 {
		return nil, xerrors.New("kms decrypt returned empty plaintext")
	}
	return out.Plaintext, nil
}
