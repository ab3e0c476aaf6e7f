// Package application contains the orchestration services of the Gatekeeper
// engine: key validation and key lifecycle management.
package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/merchware/gatekeeper/internal/domain/models"
	"github.com/merchware/gatekeeper/internal/domain/repository"
	"github.com/merchware/gatekeeper/internal/domain/service"
	"github.com/merchware/gatekeeper/pkg/constants"
	apperrors "github.com/merchware/gatekeeper/pkg/errors"
	"github.com/merchware/gatekeeper/pkg/logger"
)

// verdictCacheKey derives the validation-cache entry key. Only a digest of the
// secret ever reaches the cache backend.
func verdictCacheKey(secret string, keyType constants.KeyType) string {
	sum := sha256.Sum256([]byte(secret))
	return constants.CacheKeyPrefixValidation + hex.EncodeToString(sum[:]) + ":" + string(keyType)
}

// ValidatorService validates secrets against the key store, memoizing both
// positive and negative verdicts in the shared cache. Only the secret-to-key
// resolution is memoized: the IP allowlist is evaluated per request, so one
// caller's denial never speaks for another's address.
//
// Verdicts are cached with a fixed TTL and are not actively invalidated on
// rotation or deprecation, so a store-side change can take up to one TTL to be
// observed. This staleness window is a deliberate latency/consistency
// trade-off; immediate deactivation additionally purges the cached verdict.
type ValidatorService struct {
	repo  repository.APIKeyRepository
	cache service.KeyValueStore
	log   logger.Logger
	ttl   time.Duration
	now   func() time.Time

	// CacheLookup is invoked with "hit" or "miss" on every validation when
	// set; wired to metrics by the caller.
	CacheLookup func(outcome string)
}

// NewValidatorService creates a validator with the given verdict TTL.
func NewValidatorService(repo repository.APIKeyRepository, cache service.KeyValueStore, ttl time.Duration, log logger.Logger) *ValidatorService {
	if ttl <= 0 {
		ttl = constants.DefaultValidationCacheTTL
	}
	return &ValidatorService{
		repo:  repo,
		cache: cache,
		log:   log.WithComponent("validator"),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Validate checks a secret against the required key type and caller IP.
// Expected denials come back as an invalid Verdict; transient infrastructure
// faults also yield an invalid Verdict (fail-closed) but are never cached.
func (s *ValidatorService) Validate(ctx context.Context, secret string, keyType constants.KeyType, callerIP string) service.Verdict {
	cacheKey := verdictCacheKey(secret, keyType)

	if cached, err := s.cache.Get(ctx, cacheKey); err == nil {
		var verdict service.Verdict
		if jsonErr := json.Unmarshal([]byte(cached), &verdict); jsonErr == nil {
			s.lookup("hit")
			// The cache key is IP-independent, so the allowlist is evaluated
			// on every request against the cached principal snapshot.
			if verdict.Valid && verdict.Key != nil && !verdict.Key.IPAllowed(callerIP) {
				return s.denyIP(ctx, verdict.Key, callerIP)
			}
			return verdict
		}
		// Unparsable entries are dropped and revalidated.
		_ = s.cache.Delete(ctx, cacheKey)
	} else if !apperrors.IsNotFound(err) {
		s.log.Warn(ctx, "validation cache unavailable, falling through to store",
			logger.Err(err))
	}
	s.lookup("miss")

	now := s.now()
	key, err := s.repo.FindActiveByKey(ctx, secret, keyType, now)
	if err != nil {
		if apperrors.IsNotFound(err) {
			verdict := service.Verdict{
				Valid:     false,
				Message:   fmt.Sprintf("Invalid or inactive %s API key", keyType),
				ErrorCode: constants.ErrorCodeInvalidKey,
			}
			s.cacheVerdict(ctx, cacheKey, verdict)
			return verdict
		}
		// Fail closed on store faults, and never cache the faulty verdict so
		// a transient outage cannot poison the cache.
		s.log.Error(ctx, "key store unavailable during validation", err,
			logger.String("key_type", string(keyType)))
		return service.Verdict{
			Valid:     false,
			Message:   fmt.Sprintf("Invalid or inactive %s API key", keyType),
			ErrorCode: constants.ErrorCodeUnavailable,
		}
	}

	// The key snapshot is cached before the IP check so later requests from
	// other addresses are decided from the cache, each against its own IP.
	verdict := service.Verdict{Valid: true, Key: key}
	s.cacheVerdict(ctx, cacheKey, verdict)

	if !key.IPAllowed(callerIP) {
		return s.denyIP(ctx, key, callerIP)
	}

	// Usage stamping is best-effort and never blocks a valid verdict.
	if err := s.repo.TouchLastUsed(ctx, key.ID, now); err != nil {
		s.log.Warn(ctx, "failed to update key last-used timestamp",
			logger.String("key_id", key.ID), logger.Err(err))
	}

	return verdict
}

// denyIP builds the allowlist denial. It is never cached: the outcome is a
// function of the caller address, and the next caller may be listed.
func (s *ValidatorService) denyIP(ctx context.Context, key *models.APIKey, callerIP string) service.Verdict {
	s.log.Warn(ctx, "caller IP rejected by key allowlist",
		logger.String("key_id", key.ID),
		logger.String("caller_ip", callerIP))
	return service.Verdict{
		Valid:     false,
		Message:   "IP address not allowed for this key",
		ErrorCode: constants.ErrorCodeIPDenied,
	}
}

func (s *ValidatorService) cacheVerdict(ctx context.Context, cacheKey string, verdict service.Verdict) {
	payload, err := json.Marshal(verdict)
	if err != nil {
		return
	}
	if err := s.cache.PutWithTTL(ctx, cacheKey, string(payload), s.ttl); err != nil {
		s.log.Warn(ctx, "failed to cache validation verdict", logger.Err(err))
	}
}

func (s *ValidatorService) lookup(outcome string) {
	if s.CacheLookup != nil {
		s.CacheLookup(outcome)
	}
}

var _ service.KeyValidator = (*ValidatorService)(nil)
