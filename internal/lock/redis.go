package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisKey = "aqui-aceita-bitcoin:sync:lock"
	defaultRedisTTL = time.Hour
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig holds the configuration for creating a Redis lock.
type RedisConfig struct {
	// Client is the Redis client.
	Client redis.Cmdable

	// Key is the lock key. Defaults to "aqui-aceita-bitcoin:sync:lock".
	Key string

	// Logger is the structured logger.
	Logger *slog.Logger

	// TTL bounds how long a crashed holder keeps the lock. Defaults to one hour.
	TTL time.Duration
}

// validate checks that all required RedisConfig fields are set.
func (c *RedisConfig) validate() error {
	var errs []error
	if c.Client == nil {
		errs = append(errs, errors.New("redis client is required"))
	}
	if c.TTL < 0 {
		errs = append(errs, fmt.Errorf("TTL cannot be negative, got %v", c.TTL))
	}
	return errors.Join(errs...)
}

// Redis is a lock shared by every process connected to the same Redis server.
type Redis struct {
	client redis.Cmdable
	key    string
	logger *slog.Logger
	ttl    time.Duration
}

// NewRedis creates a Redis-backed lock.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = defaultRedisKey
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultRedisTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Redis{
		client: cfg.Client,
		key:    key,
		logger: logger,
		ttl:    ttl,
	}, nil
}

// TryLock implements Locker using SET NX with an expiry.
func (r *Redis) TryLock(ctx context.Context) (func(), error) {
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring redis lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must succeed even if the caller's context is done.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()

			if err := releaseScript.Run(releaseCtx, r.client, []string{r.key}, token).Err(); err != nil {
				r.logger.Error("failed to release redis lock", "key", r.key, "error", err)
			}
		})
	}, nil
}
