package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smTypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/rustyrazorblade/edl/internal/retry"
	pkgtypes "github.com/rustyrazorblade/edl/pkg/types"
)

const (
	secretPrefix          = "edl/"
	defaultMasterUser     = "admin"
	masterPasswordLength  = 24
	passwordExcludedChars = `"'\/@`
)

// CredentialsService keeps generated credentials in Secrets Manager
type CredentialsService struct {
	api SecretsAPI
	service
}

// NewCredentialsService returns a CredentialsService
func NewCredentialsService(api SecretsAPI, opts ...ServiceOption) *CredentialsService {
	return &CredentialsService{api: api, service: newService(retry.ServiceSecrets, opts)}
}

// SecretName returns the secret holding the master credentials of a domain
func SecretName(domain string) string {
	return secretPrefix + domain + "/master"
}

// EnsureMasterPassword returns the stored master credentials for a domain,
// generating and storing a new password the first time
func (s *CredentialsService) EnsureMasterPassword(ctx context.Context, domain string, tags map[string]string) (*pkgtypes.Credentials, error) {
	name := SecretName(domain)

	creds, err := s.get(ctx, name)
	if err == nil {
		s.publish("Found existing credentials %s", name)
		return creds, nil
	}
	if !retry.IsNotFound(err) {
		return nil, wrapErr("secretsmanager", "get-secret-value", name, err)
	}

	pw, err := callWithData(ctx, &s.service, func() (*secretsmanager.GetRandomPasswordOutput, error) {
		return s.api.GetRandomPassword(ctx, &secretsmanager.GetRandomPasswordInput{
			PasswordLength:          aws.Int64(masterPasswordLength),
			ExcludeCharacters:       aws.String(passwordExcludedChars),
			RequireEachIncludedType: aws.Bool(true),
		})
	})
	if err != nil {
		return nil, wrapErr("secretsmanager", "get-random-password", name, err)
	}

	creds = &pkgtypes.Credentials{Username: defaultMasterUser, Password: deref(pw.RandomPassword)}
	body, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credentials: %w", err)
	}

	var smTags []smTypes.Tag
	for _, t := range ec2Tags(withOwnerTag(tags)) {
		smTags = append(smTags, smTypes.Tag{Key: t.Key, Value: t.Value})
	}
	out, err := callWithData(ctx, &s.service, func() (*secretsmanager.CreateSecretOutput, error) {
		return s.api.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
			Name:         aws.String(name),
			Description:  aws.String("OpenSearch master user for " + domain),
			SecretString: aws.String(string(body)),
			Tags:         smTags,
		})
	})
	if err != nil {
		return nil, wrapErr("secretsmanager", "create-secret", name, err)
	}
	creds.SecretARN = deref(out.ARN)
	s.publish("Created credentials %s", name)
	return creds, nil
}

// DeleteCredentials removes the credentials of a domain without a recovery window
func (s *CredentialsService) DeleteCredentials(ctx context.Context, domain string) error {
	name := SecretName(domain)
	err := s.call(ctx, func() error {
		_, err := s.api.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
			SecretId:                   aws.String(name),
			ForceDeleteWithoutRecovery: aws.Bool(true),
		})
		return err
	})
	if err != nil && !retry.IsNotFound(err) {
		return wrapErr("secretsmanager", "delete-secret", name, err)
	}
	return nil
}

func (s *CredentialsService) get(ctx context.Context, name string) (*pkgtypes.Credentials, error) {
	out, err := callWithData(ctx, &s.service, func() (*secretsmanager.GetSecretValueOutput, error) {
		return s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	})
	if err != nil {
		return nil, err
	}
	var creds pkgtypes.Credentials
	if err := json.Unmarshal([]byte(deref(out.SecretString)), &creds); err != nil {
		return nil, fmt.Errorf("secret %s is not a credentials document: %w", name, err)
	}
	creds.SecretARN = deref(out.ARN)
	return &creds, nil
}
