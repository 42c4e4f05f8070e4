package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// apiKeyField is the key read from secrets stored as a JSON object.
const apiKeyField = "api_key"

// SecretsManagerAPI is the subset of the Secrets Manager client used by APIKeySecret.
type SecretsManagerAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)

	PutSecretValue(
		ctx context.Context,
		params *secretsmanager.PutSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.PutSecretValueOutput, error)
}

// APIKeySecret reads the map service API key from AWS Secrets Manager. The secret may
// hold the bare key or a JSON object with an "api_key" field, which is what the console
// creates for key/value secrets.
type APIKeySecret struct {
	client    SecretsManagerAPI
	secretARN string
}

// NewAPIKeySecret creates an APIKeySecret for the given secret.
func NewAPIKeySecret(client SecretsManagerAPI, secretARN string) (*APIKeySecret, error) {
	var errs []error
	if client == nil {
		errs = append(errs, errors.New("secrets manager client is required"))
	}
	if secretARN == "" {
		errs = append(errs, errors.New("secret ARN is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &APIKeySecret{client: client, secretARN: secretARN}, nil
}

// APIKey returns the current key.
func (a *APIKeySecret) APIKey(ctx context.Context) (string, error) {
	out, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.secretARN),
	})
	if err != nil {
		return "", fmt.Errorf("reading map API key secret: %w", err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("map API key secret %s has no string value", a.secretARN)
	}

	value := strings.TrimSpace(*out.SecretString)
	if !strings.HasPrefix(value, "{") {
		return value, nil
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(value), &fields); err != nil {
		return "", fmt.Errorf("parsing map API key secret: %w", err)
	}
	key := strings.TrimSpace(fields[apiKeyField])
	if key == "" {
		return "", fmt.Errorf("map API key secret %s has no %q field", a.secretARN, apiKeyField)
	}
	return key, nil
}

// SaveAPIKey replaces the key, storing it as a JSON object.
func (a *APIKeySecret) SaveAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("API key cannot be empty")
	}

	value, err := json.Marshal(map[string]string{apiKeyField: key})
	if err != nil {
		return fmt.Errorf("encoding map API key secret: %w", err)
	}

	if _, err := a.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(a.secretARN),
		SecretString: aws.String(string(value)),
	}); err != nil {
		return fmt.Errorf("writing map API key secret: %w", err)
	}
	return nil
}
