// Package main provides the Lambda handler entry point for the establishment map sync.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/audit"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/config"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/lock"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/mapapi"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/notify"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/schedule"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/storage"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("loading AWS config", "error", err)
		os.Exit(1)
	}

	h, err := newHandler(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("initializing handler", "error", err)
		os.Exit(1)
	}

	lambda.Start(h.handle)
}

// newHandler wires the AWS-backed stores into the sync tracker.
func newHandler(ctx context.Context, cfg *config.Settings, awsCfg aws.Config, logger *slog.Logger) (*handler, error) {
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	establishments, err := storage.NewEstablishmentTable(dynamoClient, cfg.DynamoDB.EstablishmentsTable, cfg.DynamoDB.BucketIndex)
	if err != nil {
		return nil, fmt.Errorf("creating establishment table: %w", err)
	}

	documents, err := storage.NewDocumentTable(dynamoClient, cfg.DynamoDB.DocumentsTable)
	if err != nil {
		return nil, fmt.Errorf("creating document table: %w", err)
	}

	scheduleStore, err := storage.NewScheduleParameter(ssm.NewFromConfig(awsCfg), cfg.SSM.ScheduleParameter)
	if err != nil {
		return nil, fmt.Errorf("creating schedule parameter: %w", err)
	}

	mapOpts := []mapapi.Option{
		mapapi.WithBaseURL(cfg.MapAPI.BaseURL),
		mapapi.WithHealthTimeout(cfg.MapAPI.HealthTimeout),
		mapapi.WithRateLimit(cfg.MapAPI.RateLimit),
		mapapi.WithTimeout(cfg.MapAPI.Timeout),
	}
	if cfg.MapAPI.Source != "" {
		mapOpts = append(mapOpts, mapapi.WithSource(cfg.MapAPI.Source))
	}
	if cfg.MapAPI.APIKeySecretARN != "" {
		secret, err := storage.NewAPIKeySecret(secretsmanager.NewFromConfig(awsCfg), cfg.MapAPI.APIKeySecretARN)
		if err != nil {
			return nil, fmt.Errorf("creating API key secret: %w", err)
		}
		apiKey, err := secret.APIKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading API key: %w", err)
		}
		if apiKey != "" {
			mapOpts = append(mapOpts, mapapi.WithAPIKey(apiKey))
		}
	}

	mapClient, err := mapapi.NewClient(mapOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating map client: %w", err)
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.Redis.Addr != "" {
		locker, err = lock.NewRedis(lock.RedisConfig{
			Client: redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password}),
			Logger: logger,
			TTL:    cfg.Sync.StaleAfter,
		})
		if err != nil {
			return nil, fmt.Errorf("creating redis lock: %w", err)
		}
	}

	tracker, err := sync.New(sync.Config{
		DryRun:         cfg.Sync.DryRun,
		Establishments: establishments,
		Lock:           locker,
		Logger:         logger,
		MapClient:      mapClient,
		Source:         mapClient.Source(),
		StaleRunAfter:  cfg.Sync.StaleAfter,
		StatusStore:    documents,
	})
	if err != nil {
		return nil, fmt.Errorf("creating sync tracker: %w", err)
	}

	center, err := notify.NewCenter(documents, notify.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating notification center: %w", err)
	}
	tracker.Subscribe(center.Listener())

	var trail *audit.Trail
	if cfg.DynamoDB.AuditTable != "" {
		auditTable, err := storage.NewAuditTable(dynamoClient, cfg.DynamoDB.AuditTable)
		if err != nil {
			return nil, fmt.Errorf("creating audit table: %w", err)
		}
		trail, err = audit.New(audit.Config{Logger: logger, Store: auditTable})
		if err != nil {
			return nil, fmt.Errorf("creating audit trail: %w", err)
		}
		tracker.Subscribe(trail.Listener())
	}

	runner, err := schedule.NewRunner(schedule.RunnerConfig{
		Logger:        logger,
		Settings:      scheduleStore,
		StaleRunAfter: cfg.Sync.StaleAfter,
		Tracker:       tracker,
	})
	if err != nil {
		return nil, fmt.Errorf("creating schedule runner: %w", err)
	}

	logger.Info("handler initialized",
		"map_api", mapClient.BaseURL(),
		"api_key_configured", mapClient.APIKeyConfigured(),
		"dry_run", cfg.Sync.DryRun,
		"redis_lock", cfg.Redis.Addr != "",
		"audit", trail != nil,
	)

	return &handler{
		audit:   trail,
		logger:  logger,
		runner:  runner,
		tracker: tracker,
	}, nil
}
