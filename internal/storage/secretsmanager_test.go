package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/require"
)

const testSecretARN = "arn:aws:secretsmanager:sa-east-1:123456789012:secret:map-api-key"

type mockSecretsManagerAPI struct {
	getSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	putSecretValueFunc func(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
}

func (m *mockSecretsManagerAPI) GetSecretValue(
	ctx context.Context,
	params *secretsmanager.GetSecretValueInput,
	optFns ...func(*secretsmanager.Options),
) (*secretsmanager.GetSecretValueOutput, error) {
	return m.getSecretValueFunc(ctx, params, optFns...)
}

func (m *mockSecretsManagerAPI) PutSecretValue(
	ctx context.Context,
	params *secretsmanager.PutSecretValueInput,
	optFns ...func(*secretsmanager.Options),
) (*secretsmanager.PutSecretValueOutput, error) {
	return m.putSecretValueFunc(ctx, params, optFns...)
}

func TestNewAPIKeySecret(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		client    SecretsManagerAPI
		secretARN string
		wantErr   bool
		errMsg    string
	}{
		"valid inputs": {
			client:    &mockSecretsManagerAPI{},
			secretARN: testSecretARN,
			wantErr:   false,
		},
		"nil client": {
			client:    nil,
			secretARN: testSecretARN,
			wantErr:   true,
			errMsg:    "secrets manager client is required",
		},
		"empty secret ARN": {
			client:    &mockSecretsManagerAPI{},
			secretARN: "",
			wantErr:   true,
			errMsg:    "secret ARN is required",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			secret, err := NewAPIKeySecret(tc.client, tc.secretARN)

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, secret)
			} else {
				require.NoError(t, err)
				require.NotNil(t, secret)
			}
		})
	}
}

// secretString returns a mock serving value for the test secret.
func secretString(value *string) *mockSecretsManagerAPI {
	return &mockSecretsManagerAPI{
		getSecretValueFunc: func(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			if *params.SecretId != testSecretARN {
				return nil, errors.New("unexpected secret")
			}
			return &secretsmanager.GetSecretValueOutput{SecretString: value}, nil
		},
	}
}

func TestAPIKeySecret_APIKey(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		client  *mockSecretsManagerAPI
		wantKey string
		errMsg  string
	}{
		"plain value": {
			client:  secretString(aws.String("map-api-key\n")),
			wantKey: "map-api-key",
		},
		"key/value secret": {
			client:  secretString(aws.String(`{"api_key":" map-api-key "}`)),
			wantKey: "map-api-key",
		},
		"key/value secret without field": {
			client: secretString(aws.String(`{"token":"x"}`)),
			errMsg: `has no "api_key" field`,
		},
		"malformed JSON": {
			client: secretString(aws.String(`{"api_key":`)),
			errMsg: "parsing map API key secret",
		},
		"binary secret": {
			client: secretString(nil),
			errMsg: "has no string value",
		},
		"API error": {
			client: &mockSecretsManagerAPI{
				getSecretValueFunc: func(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
					return nil, errors.New("access denied")
				},
			},
			errMsg: "reading map API key secret: access denied",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			secret, err := NewAPIKeySecret(tc.client, testSecretARN)
			require.NoError(t, err)

			key, err := secret.APIKey(context.Background())

			if tc.errMsg != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantKey, key)
		})
	}
}

func TestAPIKeySecret_SaveAPIKey(t *testing.T) {
	t.Parallel()

	t.Run("stores a key/value secret", func(t *testing.T) {
		t.Parallel()

		var stored string
		client := &mockSecretsManagerAPI{
			putSecretValueFunc: func(_ context.Context, params *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
				require.Equal(t, testSecretARN, *params.SecretId)
				stored = *params.SecretString
				return &secretsmanager.PutSecretValueOutput{}, nil
			},
		}
		secret, err := NewAPIKeySecret(client, testSecretARN)
		require.NoError(t, err)

		require.NoError(t, secret.SaveAPIKey(context.Background(), " new-key "))
		require.JSONEq(t, `{"api_key":"new-key"}`, stored)

		client.getSecretValueFunc = secretString(&stored).getSecretValueFunc
		key, err := secret.APIKey(context.Background())
		require.NoError(t, err)
		require.Equal(t, "new-key", key)
	})

	t.Run("empty key", func(t *testing.T) {
		t.Parallel()

		secret, err := NewAPIKeySecret(&mockSecretsManagerAPI{}, testSecretARN)
		require.NoError(t, err)

		err = secret.SaveAPIKey(context.Background(), "  ")
		require.Error(t, err)
		require.Contains(t, err.Error(), "API key cannot be empty")
	})

	t.Run("API error", func(t *testing.T) {
		t.Parallel()

		client := &mockSecretsManagerAPI{
			putSecretValueFunc: func(_ context.Context, _ *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
				return nil, errors.New("access denied")
			},
		}
		secret, err := NewAPIKeySecret(client, testSecretARN)
		require.NoError(t, err)

		err = secret.SaveAPIKey(context.Background(), "new-key")
		require.Error(t, err)
		require.Contains(t, err.Error(), "writing map API key secret")
	})
}
