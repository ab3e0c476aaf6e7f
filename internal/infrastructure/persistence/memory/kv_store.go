// Package memory provides an in-process KeyValueStore backed by go-cache.
// It serves development mode and tests of cache-agnostic logic; production
// deployments use the Redis store so counters are shared across workers.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/merchware/gatekeeper/internal/domain/service"
	apperrors "github.com/merchware/gatekeeper/pkg/errors"
)

// KVStore implements service.KeyValueStore over a process-local cache.
// Increment atomicity is provided by a mutex, which is sufficient because the
// store is never shared between processes.
type KVStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

// NewKVStore creates an empty in-process store.
func NewKVStore() *KVStore {
	return &KVStore{
		cache: gocache.New(gocache.NoExpiration, time.Minute),
	}
}

func (s *KVStore) Get(_ context.Context, key string) (string, error) {
	val, found := s.cache.Get(key)
	if !found {
		return "", apperrors.ErrNotFound
	}
	str, ok := val.(string)
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return str, nil
}

func (s *KVStore) PutWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	s.cache.Set(key, value, ttl)
	return nil
}

func (s *KVStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

func (s *KVStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if val, found := s.cache.Get(key); found {
		if current, ok := val.(string); ok {
			n, err := strconv.ParseInt(current, 10, 64)
			if err == nil {
				n++
				// Preserve the original window expiry.
				if _, expiry, ok := s.cache.GetWithExpiration(key); ok && !expiry.IsZero() {
					s.cache.Set(key, strconv.FormatInt(n, 10), time.Until(expiry))
				} else {
					s.cache.Set(key, strconv.FormatInt(n, 10), ttl)
				}
				return n, nil
			}
		}
	}

	s.cache.Set(key, "1", ttl)
	return 1, nil
}

var _ service.KeyValueStore = (*KVStore)(nil)

func (s *KVStore) TTL(_ context.Context, key string) (time.Duration, error) {
	_, expiry, found := s.cache.GetWithExpiration(key)
	if !found || expiry.IsZero() {
		return 0, apperrors.ErrNotFound
	}
	remaining := time.Until(expiry)
	if remaining <= 0 {
		return 0, apperrors.ErrNotFound
	}
	return remaining, nil
}
