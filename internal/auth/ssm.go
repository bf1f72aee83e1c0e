package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/rs/zerolog/log"
)

// ssmAPI is the subset of the SSM client used by SSMStore.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, in *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	DeleteParameter(ctx context.Context, in *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error)
}

// SSMStore keeps each user's credential as a JSON SecureString parameter at
// {prefix}/{userID}/instagram-token.
type SSMStore struct {
	client ssmAPI
	prefix string
}

// NewSSMStore creates an SSM-backed credential store.
func NewSSMStore(client ssmAPI, prefix string) *SSMStore {
	return &SSMStore{client: client, prefix: strings.TrimRight(prefix, "/")}
}

func (s *SSMStore) paramName(userID string) string {
	return fmt.Sprintf("%s/%s/instagram-token", s.prefix, userID)
}

// Get loads the user's credential, or (nil, nil) if the parameter does not exist.
func (s *SSMStore) Get(ctx context.Context, userID string) (*Credential, error) {
	name := s.paramName(userID)
	start := time.Now()
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			log.Debug().Str("param", name).Msg("No stored credential")
			return nil, nil
		}
		return nil, fmt.Errorf("ssm get %s: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, nil
	}

	var cred Credential
	if err := json.Unmarshal([]byte(*out.Parameter.Value), &cred); err != nil {
		return nil, fmt.Errorf("decode credential %s: %w", name, err)
	}
	log.Debug().Str("param", name).Dur("elapsed", time.Since(start)).Msg("Credential loaded from SSM")
	return &cred, nil
}

// Put writes the credential, overwriting any previous value.
func (s *SSMStore) Put(ctx context.Context, userID string, cred *Credential) error {
	if cred == nil {
		return fmt.Errorf("put credential: nil credential")
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	name := s.paramName(userID)
	_, err = s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(string(data)),
		Type:      types.ParameterTypeSecureString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("ssm put %s: %w", name, err)
	}
	log.Info().Str("param", name).Time("expiresAt", cred.ExpiresAt).Msg("Credential stored in SSM")
	return nil
}

// Delete removes the user's credential parameter.
func (s *SSMStore) Delete(ctx context.Context, userID string) error {
	name := s.paramName(userID)
	_, err := s.client.DeleteParameter(ctx, &ssm.DeleteParameterInput{Name: aws.String(name)})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("ssm delete %s: %w", name, err)
	}
	log.Info().Str("param", name).Msg("Credential deleted from SSM")
	return nil
}
