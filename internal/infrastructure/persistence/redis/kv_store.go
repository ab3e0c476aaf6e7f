package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/merchware/gatekeeper/internal/domain/service"
	apperrors "github.com/merchware/gatekeeper/pkg/errors"
)

// incrWithTTLScript atomically increments a counter and stamps the window TTL
// only when the increment created the key. Delegating this to a single script
// is what makes concurrent CheckAndConsume calls linearizable per key.
var incrWithTTLScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[1])
if v == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return v
`)

// KVStore is the Redis implementation of service.KeyValueStore.
type KVStore struct {
	client redis.UniversalClient
}

// NewKVStore wraps a Redis client as a KeyValueStore.
func NewKVStore(client redis.UniversalClient) service.KeyValueStore {
	return &KVStore{client: client}
}

func (s *KVStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", apperrors.ErrNotFound
		}
		return "", apperrors.ErrUnavailable(err)
	}
	return val, nil
}

func (s *KVStore) PutWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return apperrors.ErrUnavailable(err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil && err != redis.Nil {
		return apperrors.ErrUnavailable(err)
	}
	return nil
}

func (s *KVStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	res, err := incrWithTTLScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, apperrors.ErrUnavailable(err)
	}
	return res, nil
}

func (s *KVStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, apperrors.ErrUnavailable(err)
	}
	// PTTL reports -1 for keys without expiry and -2 for absent keys.
	if ttl < 0 {
		return 0, apperrors.ErrNotFound
	}
	return ttl, nil
}
