// Package config provides configuration loading from environment variables and the local config file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// EnvDynamoDBAuditTable is the DynamoDB table holding the audit trail (optional).
	EnvDynamoDBAuditTable = "DYNAMODB_AUDIT_TABLE"

	// EnvDynamoDBBucketIndex is the DynamoDB Global Secondary Index keyed on the establishment bucket.
	EnvDynamoDBBucketIndex = "DYNAMODB_BUCKET_INDEX"

	// EnvDynamoDBDocumentsTable is the DynamoDB table holding the status and notification documents.
	EnvDynamoDBDocumentsTable = "DYNAMODB_DOCUMENTS_TABLE"

	// EnvDynamoDBEstablishmentsTable is the DynamoDB table holding establishment records.
	EnvDynamoDBEstablishmentsTable = "DYNAMODB_ESTABLISHMENTS_TABLE"

	// EnvLogLevel is the minimum log level (debug, info, warn, error).
	EnvLogLevel = "LOG_LEVEL"

	// EnvMapAPIBaseURL is the base URL for the map service API.
	EnvMapAPIBaseURL = "MAP_API_BASE_URL"

	// EnvMapAPIHealthTimeout is the timeout for the map service health probe.
	EnvMapAPIHealthTimeout = "MAP_API_HEALTH_TIMEOUT"

	// EnvMapAPIKeySecretARN is the Secrets Manager ARN for the map service API key (optional).
	EnvMapAPIKeySecretARN = "MAP_API_KEY_SECRET_ARN"

	// EnvMapAPIRateLimit is the maximum number of map service requests per second (0 disables).
	EnvMapAPIRateLimit = "MAP_API_RATE_LIMIT"

	// EnvMapAPITimeout is the timeout for map service create and update requests.
	EnvMapAPITimeout = "MAP_API_TIMEOUT"

	// EnvMapSource is the source tag written to every published establishment.
	EnvMapSource = "MAP_SOURCE"

	// EnvRedisAddr is the Redis address used for the run lock (optional).
	EnvRedisAddr = "REDIS_ADDR"

	// EnvRedisPassword is the Redis password (optional).
	EnvRedisPassword = "REDIS_PASSWORD"

	// EnvSSMScheduleParameter is the SSM parameter storing the automatic sync settings.
	EnvSSMScheduleParameter = "SSM_SCHEDULE_PARAMETER"

	// EnvSyncDryRun disables writes to the map service and the establishment store.
	EnvSyncDryRun = "SYNC_DRY_RUN"

	// EnvSyncStaleAfter is how long an in-progress run may last before another run may take over.
	EnvSyncStaleAfter = "SYNC_STALE_AFTER"
)

const (
	defaultBucketIndex   = "BucketIndex"
	defaultHealthTimeout = 5 * time.Second
	defaultMapAPIBaseURL = "http://localhost:5000"
	defaultStaleAfter    = time.Hour
	defaultTimeout       = 30 * time.Second
)

// DynamoDB holds AWS DynamoDB configuration.
type DynamoDB struct {
	// AuditTable is the table for the audit trail. Empty disables the persistent trail.
	AuditTable string

	// BucketIndex is the Global Secondary Index for querying establishments by bucket.
	BucketIndex string

	// DocumentsTable is the table for the status and notification documents.
	DocumentsTable string

	// EstablishmentsTable is the table for establishment records.
	EstablishmentsTable string
}

// MapAPI holds map service API configuration.
type MapAPI struct {
	// APIKeySecretARN is the Secrets Manager ARN storing the API key. Empty means no key.
	APIKeySecretARN string

	// BaseURL is the base URL for API requests.
	BaseURL string

	// HealthTimeout bounds the health probe.
	HealthTimeout time.Duration

	// RateLimit is the maximum requests per second. Zero disables limiting.
	RateLimit float64

	// Source is the source tag for published establishments. Empty uses the client default.
	Source string

	// Timeout bounds create and update requests.
	Timeout time.Duration
}

// Redis holds Redis configuration for the distributed run lock.
type Redis struct {
	// Addr is the host:port of the Redis server. Empty uses an in-process lock.
	Addr string

	// Password is the Redis password.
	Password string
}

// SSM holds AWS Systems Manager Parameter Store configuration.
type SSM struct {
	// ScheduleParameter is the SSM parameter storing the automatic sync settings.
	ScheduleParameter string
}

// Sync holds sync run behaviour.
type Sync struct {
	// DryRun disables writes to the map service and the establishment store.
	DryRun bool

	// StaleAfter is how long an in-progress run may last before it can be taken over.
	StaleAfter time.Duration
}

// Settings holds all configuration for the Lambda deployment.
type Settings struct {
	// DynamoDB contains AWS DynamoDB settings.
	DynamoDB DynamoDB

	// LogLevel is the minimum log level.
	LogLevel slog.Level

	// MapAPI contains map service settings.
	MapAPI MapAPI

	// Redis contains Redis lock settings.
	Redis Redis

	// SSM contains AWS Systems Manager Parameter Store settings.
	SSM SSM

	// Sync contains run behaviour settings.
	Sync Sync
}

func (s *Settings) validate() error {
	var errs []error

	if s.DynamoDB.DocumentsTable == "" {
		errs = append(errs, requiredError(EnvDynamoDBDocumentsTable))
	}
	if s.DynamoDB.EstablishmentsTable == "" {
		errs = append(errs, requiredError(EnvDynamoDBEstablishmentsTable))
	}
	if s.SSM.ScheduleParameter == "" {
		errs = append(errs, requiredError(EnvSSMScheduleParameter))
	}
	if !strings.HasPrefix(s.MapAPI.BaseURL, "http://") && !strings.HasPrefix(s.MapAPI.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("%s must be an http or https URL", EnvMapAPIBaseURL))
	}

	return errors.Join(errs...)
}

// Load reads configuration from environment variables.
func Load() (*Settings, error) {
	var errs []error

	cfg := &Settings{
		DynamoDB: DynamoDB{
			AuditTable:          strings.TrimSpace(os.Getenv(EnvDynamoDBAuditTable)),
			BucketIndex:         envOrDefault(EnvDynamoDBBucketIndex, defaultBucketIndex),
			DocumentsTable:      strings.TrimSpace(os.Getenv(EnvDynamoDBDocumentsTable)),
			EstablishmentsTable: strings.TrimSpace(os.Getenv(EnvDynamoDBEstablishmentsTable)),
		},
		MapAPI: MapAPI{
			APIKeySecretARN: strings.TrimSpace(os.Getenv(EnvMapAPIKeySecretARN)),
			BaseURL:         envOrDefault(EnvMapAPIBaseURL, defaultMapAPIBaseURL),
			HealthTimeout:   envDuration(EnvMapAPIHealthTimeout, defaultHealthTimeout, &errs),
			RateLimit:       envFloat(EnvMapAPIRateLimit, 0, &errs),
			Source:          strings.TrimSpace(os.Getenv(EnvMapSource)),
			Timeout:         envDuration(EnvMapAPITimeout, defaultTimeout, &errs),
		},
		Redis: Redis{
			Addr:     strings.TrimSpace(os.Getenv(EnvRedisAddr)),
			Password: os.Getenv(EnvRedisPassword),
		},
		SSM: SSM{
			ScheduleParameter: strings.TrimSpace(os.Getenv(EnvSSMScheduleParameter)),
		},
		Sync: Sync{
			DryRun:     envBool(EnvSyncDryRun, &errs),
			StaleAfter: envDuration(EnvSyncStaleAfter, defaultStaleAfter, &errs),
		},
	}

	level, err := ParseLogLevel(os.Getenv(EnvLogLevel))
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", EnvLogLevel, err))
	}
	cfg.LogLevel = level

	if err := errors.Join(append(errs, cfg.validate())...); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseLogLevel parses a level name. Empty means info.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func envOrDefault(key string, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func envDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s must be a positive duration, got %q", key, value))
		return defaultValue
	}
	return d
}

func envFloat(key string, defaultValue float64, errs *[]error) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f < 0 {
		*errs = append(*errs, fmt.Errorf("%s must be a non-negative number, got %q", key, value))
		return defaultValue
	}
	return f
}

func envBool(key string, errs *[]error) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return false
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a boolean, got %q", key, value))
		return false
	}
	return b
}

func requiredError(envVar string) error {
	return fmt.Errorf("%s is required", envVar)
}
