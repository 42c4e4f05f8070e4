package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLocal_TryLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewLocal()

	unlock, err := l.TryLock(ctx)
	require.NoError(t, err)

	_, err = l.TryLock(ctx)
	require.ErrorIs(t, err, ErrLocked)

	unlock()
	unlock()

	unlock, err = l.TryLock(ctx)
	require.NoError(t, err)
	unlock()
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return s, client
}

func TestNewRedis(t *testing.T) {
	t.Parallel()

	_, client := newTestRedis(t)

	tests := map[string]struct {
		cfg     RedisConfig
		errMsg  string
		wantKey string
		wantTTL time.Duration
	}{
		"defaults": {
			cfg:     RedisConfig{Client: client},
			wantKey: defaultRedisKey,
			wantTTL: time.Hour,
		},
		"custom": {
			cfg:     RedisConfig{Client: client, Key: "k", TTL: time.Minute},
			wantKey: "k",
			wantTTL: time.Minute,
		},
		"missing client": {
			cfg:    RedisConfig{},
			errMsg: "redis client is required",
		},
		"negative ttl": {
			cfg:    RedisConfig{Client: client, TTL: -time.Second},
			errMsg: "TTL cannot be negative",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			l, err := NewRedis(tc.cfg)

			if tc.errMsg != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantKey, l.key)
			require.Equal(t, tc.wantTTL, l.ttl)
		})
	}
}

func TestRedis_TryLock(t *testing.T) {
	t.Parallel()

	s, client := newTestRedis(t)
	ctx := context.Background()

	first, err := NewRedis(RedisConfig{Client: client, Key: "lock", TTL: time.Minute})
	require.NoError(t, err)
	second, err := NewRedis(RedisConfig{Client: client, Key: "lock", TTL: time.Minute})
	require.NoError(t, err)

	unlock, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, s.Exists("lock"))

	_, err = second.TryLock(ctx)
	require.ErrorIs(t, err, ErrLocked)

	unlock()
	require.False(t, s.Exists("lock"))

	unlock, err = second.TryLock(ctx)
	require.NoError(t, err)
	unlock()
}

func TestRedis_ReleaseKeepsForeignLock(t *testing.T) {
	t.Parallel()

	s, client := newTestRedis(t)
	ctx := context.Background()

	l, err := NewRedis(RedisConfig{Client: client, Key: "lock", TTL: time.Minute})
	require.NoError(t, err)

	unlock, err := l.TryLock(ctx)
	require.NoError(t, err)

	// Lock expired and another holder took it over.
	s.FastForward(2 * time.Minute)
	require.NoError(t, s.Set("lock", "someone-else"))

	unlock()

	got, err := s.Get("lock")
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}
