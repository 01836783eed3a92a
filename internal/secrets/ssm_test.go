package secrets

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSM struct {
	values map[string]string
	err    error
	last   *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.last = in
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[aws.ToString(in.Name)]
	if !ok {
		return &ssm.GetParameterOutput{}, nil
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(v)}}, nil
}

func TestSSMSource_Get(t *testing.T) {
	f := &fakeSSM{values: map[string]string{
		"/gw/token": "  ghp_abc\n",
		"/gw/blank": "   ",
	}}
	s := &SSMSource{client: f}

	tests := []struct {
		name    string
		param   string
		want    string
		wantErr string
	}{
		{"trimmed value", "/gw/token", "ghp_abc", ""},
		{"blank value", "/gw/blank", "", "is empty"},
		{"missing value", "/gw/none", "", "has no value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Get(context.Background(), tt.param)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Get = %q, want %q", got, tt.want)
			}
		})
	}
	if !aws.ToBool(f.last.WithDecryption) {
		t.Fatal("WithDecryption not requested")
	}
}

func TestSSMSource_GetError(t *testing.T) {
	s := &SSMSource{client: &fakeSSM{err: errors.New("throttled")}}
	if _, err := s.Get(context.Background(), "/gw/token"); err == nil || !strings.Contains(err.Error(), "throttled") {
		t.Fatalf("err = %v", err)
	}
}

func TestSSMSource_Resolve(t *testing.T) {
	s := &SSMSource{client: &fakeSSM{values: map[string]string{"/gw/secret": "s3cr3t"}}}

	got, err := s.Resolve(context.Background(), "", "literal")
	if err != nil || got != "literal" {
		t.Fatalf("no param: %q, %v", got, err)
	}
	got, err = s.Resolve(context.Background(), "/gw/secret", "literal")
	if err != nil || got != "s3cr3t" {
		t.Fatalf("param: %q, %v", got, err)
	}

	var nilSource *SSMSource
	if _, err := nilSource.Resolve(context.Background(), "/gw/secret", ""); err == nil {
		t.Fatal("expected error without a client")
	}
	if got, _ := nilSource.Resolve(context.Background(), "", "x"); got != "x" {
		t.Fatalf("nil source fallback = %q", got)
	}
}
