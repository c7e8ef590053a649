package keysource

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/seaword/apicore/internal/xerrors"
)

// ssmParamFetcher is the subset of the SSM API needed to fetch a parameter.
// Extracted as an interface to enable unit testing without live AWS credentials.
type ssmParamFetcher interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMParameter fetches an HS256 signing secret from an SSM SecureString
// parameter. The fetch happens once, at startup; there is no refresh loop
// because the validator's key is fixed for the process lifetime.
type SSMParameter struct {
	client ssmParamFetcher
	name   string
}

func NewSSMParameter(client *ssm.Client, name string) *SSMParameter {
	return &SSMParameter{client: client, name: name}
}

func (s *SSMParameter) Key(ctx context.Context) ([]byte, error) {
	if s.client == nil {
		return nil, xerrors.New("keysource: ssm client is not configured")
	}
	if s.name == "" {
		return nil, xerrors.New("keysource: ssm parameter name is empty")
	}

	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "keysource: ssm get parameter %s", s.name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil || *out.Parameter.Value == "" {
		return nil, xerrors.Newf("keysource: ssm parameter %s is empty", s.name)
	}

	return []byte(*out.Parameter.Value), nil
}
