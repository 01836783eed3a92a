// Package secrets resolves startup secrets (the remote host token and the
// server secret) from AWS SSM Parameter Store.
package secrets

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

type ssmGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMSource reads SecureString parameters with decryption.
type SSMSource struct {
	client ssmGetter
}

func NewSSMSource(client *ssm.Client) *SSMSource {
	return &SSMSource{client: client}
}

// Get returns the trimmed value of the named parameter.
func (s *SSMSource) Get(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", name)
	}
	return v, nil
}

// Resolve returns the parameter value when name is set, otherwise fallback.
func (s *SSMSource) Resolve(ctx context.Context, name, fallback string) (string, error) {
	if name == "" {
		return fallback, nil
	}
	if s == nil || s.client == nil {
		return "", xerrors.Newf("SSM parameter %s configured without an SSM client", name)
	}
	return s.Get(ctx, name)
}
