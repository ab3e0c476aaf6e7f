package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchware/gatekeeper/internal/domain/models"
	"github.com/merchware/gatekeeper/internal/domain/repository"
	"github.com/merchware/gatekeeper/internal/infrastructure/persistence/memory"
	"github.com/merchware/gatekeeper/pkg/constants"
	apperrors "github.com/merchware/gatekeeper/pkg/errors"
	"github.com/merchware/gatekeeper/pkg/logger"
)

// countingRepo wraps a repository and counts store lookups, optionally failing
// the next one to simulate an outage.
type countingRepo struct {
	repository.APIKeyRepository
	lookups  int
	failNext bool
}

func (r *countingRepo) FindActiveByKey(ctx context.Context, secret string, keyType constants.KeyType, now time.Time) (*models.APIKey, error) {
	r.lookups++
	if r.failNext {
		r.failNext = false
		return nil, apperrors.ErrUnavailable(errors.New("connection refused"))
	}
	return r.APIKeyRepository.FindActiveByKey(ctx, secret, keyType, now)
}

func seedKey(t *testing.T, repo repository.APIKeyRepository, key *models.APIKey) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), key))
}

func TestValidate_ValidKeyCached(t *testing.T) {
	ctx := context.Background()
	repo, _ := openTestDB(t)
	counting := &countingRepo{APIKeyRepository: repo}
	validator := NewValidatorService(counting, memory.NewKVStore(), time.Minute, logger.NewNop())

	seedKey(t, repo, &models.APIKey{
		ID:        "key-1",
		Name:      "storefront",
		Secret:    "sk_live_alpha",
		KeyType:   constants.KeyTypeShop,
		Status:    constants.KeyStatusActive,
		RateLimit: 600,
	})

	v := validator.Validate(ctx, "sk_live_alpha", constants.KeyTypeShop, "203.0.113.9")
	require.True(t, v.Valid)
	require.NotNil(t, v.Key)
	assert.Equal(t, "key-1", v.Key.ID)
	assert.Equal(t, 1, counting.lookups)

	// The second validation is served from the cache.
	v = validator.Validate(ctx, "sk_live_alpha", constants.KeyTypeShop, "203.0.113.9")
	assert.True(t, v.Valid)
	assert.Equal(t, 1, counting.lookups)
}

func TestValidate_UnknownSecretNegativeCached(t *testing.T) {
	ctx := context.Background()
	repo, _ := openTestDB(t)
	counting := &countingRepo{APIKeyRepository: repo}
	validator := NewValidatorService(counting, memory.NewKVStore(), time.Minute, logger.NewNop())

	v := validator.Validate(ctx, "sk_live_ghost", constants.KeyTypeShop, "203.0.113.9")
	require.False(t, v.Valid)
	assert.Equal(t, constants.ErrorCodeInvalidKey, v.ErrorCode)
	assert.Equal(t, "Invalid or inactive shop API key", v.Message)
	assert.Nil(t, v.Key)

	// The miss is memoized; creating the key now does not help until the
	// cached verdict expires.
	seedKey(t, repo, &models.APIKey{
		ID: "key-1", Name: "late", Secret: "sk_live_ghost",
		KeyType: constants.KeyTypeShop, Status: constants.KeyStatusActive, RateLimit: 600,
	})
	v = validator.Validate(ctx, "sk_live_ghost", constants.KeyTypeShop, "203.0.113.9")
	assert.False(t, v.Valid)
	assert.Equal(t, 1, counting.lookups)
}

func TestValidate_WrongKeyType(t *testing.T) {
	ctx := context.Background()
	repo, _ := openTestDB(t)
	validator := NewValidatorService(repo, memory.NewKVStore(), time.Minute, logger.NewNop())

	seedKey(t, repo, &models.APIKey{
		ID: "key-1", Name: "storefront", Secret: "sk_live_alpha",
		KeyType: constants.KeyTypeShop, Status: constants.KeyStatusActive, RateLimit: 600,
	})

	v := validator.Validate(ctx, "sk_live_alpha", constants.KeyTypeAdmin, "203.0.113.9")
	assert.False(t, v.Valid)
	assert.Equal(t, constants.ErrorCodeInvalidKey, v.ErrorCode)
	assert.Equal(t, "Invalid or inactive admin API key", v.Message)
}

func TestValidate_ExpiredAndInactive(t *testing.T) {
	ctx := context.Background()
	repo, _ := openTestDB(t)
	validator := NewValidatorService(repo, memory.NewKVStore(), time.Minute, logger.NewNop())

	past := time.Now().Add(-time.Hour)
	seedKey(t, repo, &models.APIKey{
		ID: "expired", Name: "old", Secret: "sk_live_expired",
		KeyType: constants.KeyTypeShop, Status: constants.KeyStatusActive,
		RateLimit: 600, ExpiresAt: &past,
	})
	seedKey(t, repo, &models.APIKey{
		ID: "inactive", Name: "off", Secret: "sk_live_inactive",
		KeyType: constants.KeyTypeShop, Status: constants.KeyStatusInactive, RateLimit: 600,
	})

	assert.False(t, validator.Validate(ctx, "sk_live_expired", constants.KeyTypeShop, "203.0.113.9").Valid)
	assert.False(t, validator.Validate(ctx, "sk_live_inactive", constants.KeyTypeShop, "203.0.113.9").Valid)
}

func TestValidate_DeprecatingKeyStillValid(t *testing.T) {
	ctx := context.Background()
	repo, _ := openTestDB(t)
	validator := NewValidatorService(repo, memory.NewKVStore(), time.Minute, logger.NewNop())

	dep := time.Now().Add(72 * time.Hour)
	seedKey(t, repo, &models.APIKey{
		ID: "key-1", Name: "rotating", Secret: "sk_live_alpha",
		KeyType: constants.KeyTypeShop, Status: constants.KeyStatusActive,
		RateLimit: 600, DeprecationDate: &dep,
	})

	v := validator.Validate(ctx, "sk_live_alpha", constants.KeyTypeShop, "203.0.113.9")
	assert.True(t, v.Valid, "grace-window keys keep authenticating")
}

func TestValidate_IPAllowlist(t *testing.T) {
	ctx := context.Background()
	repo, _ := openTestDB(t)
	validator := NewValidatorService(repo, memory.NewKVStore(), time.Minute, logger.NewNop())

	seedKey(t, repo, &models.APIKey{
		ID: "key-1", Name: "pinned", Secret: "sk_live_alpha",
		KeyType: constants.KeyTypeShop, Status: constants.KeyStatusActive,
		RateLimit: 600, AllowedIPs: []string{"203.0.113.9"},
	})

	v := validator.Validate(ctx, "sk_live_alpha", constants.KeyTypeShop, "192.0.2.1")
	require.False(t, v.Valid)
	assert.Equal(t, constants.ErrorCodeIPDenied, v.ErrorCode)
	assert.Equal(t, "IP address not allowed for this key", v.Message)

	assert.True(t, validator.Validate(ctx, "sk_live_alpha", constants.KeyTypeShop, "203.0.113.9").Valid)
	assert.True(t, validator.Validate(ctx, "sk_live_alpha", constants.KeyTypeShop, "127.0.0.1").Valid,
		"loopback bypasses the allowlist")
}

func TestValidate_IPDenialNotMemoized(t *testing.T) {
	ctx := context.Background()
	repo, _ := openTestDB(t)
	validator := NewValidatorService(repo, memory.NewKVStore(), time.Minute, logger.NewNop())

	seedKey(t, repo, &models.APIKey{
		ID: "key-1", Name: "pinned", Secret: "sk_live_alpha",
		KeyType: constants.KeyTypeShop, Status: constants.KeyStatusActive,
		RateLimit: 600, AllowedIPs: []string{"203.0.113.9"},
	})

	// An unlisted caller is denied first.
	v := validator.Validate(ctx, "sk_live_alpha", constants.KeyTypeShop, "192.0.2.1")
	require.False(t, v.Valid)
	require.Equal(t, constants.ErrorCodeIPDenied, v.ErrorCode)

	// That denial must not speak for other addresses.
	assert.True(t, validator.Validate(ctx, "sk_live_alpha", constants.KeyTypeShop, "203.0.113.9").Valid,
		"the listed address stays allowed after someone else was denied")
	assert.True(t, validator.Validate(ctx, "sk_live_alpha", constants.KeyTypeShop, "127.0.0.1").Valid,
		"loopback stays allowed after someone else was denied")
}

func TestValidate_AllowlistEnforcedOnCacheHits(t *testing.T) {
	ctx := context.Background()
	repo, _ := openTestDB(t)
	counting := &countingRepo{APIKeyRepository: repo}
	validator := NewValidatorService(counting, memory.NewKVStore(), time.Minute, logger.NewNop())

	seedKey(t, repo, &models.APIKey{
		ID: "key-1", Name: "pinned", Secret: "sk_live_alpha",
		KeyType: constants.KeyTypeShop, Status: constants.KeyStatusActive,
		RateLimit: 600, AllowedIPs: []string{"203.0.113.9"},
	})

	require.True(t, validator.Validate(ctx, "sk_live_alpha", constants.KeyTypeShop, "203.0.113.9").Valid)
	require.Equal(t, 1, counting.lookups)

	// The cached positive verdict does not waive the allowlist for other
	// callers; the check reruns against the cached snapshot.
	v := validator.Validate(ctx, "sk_live_alpha", constants.KeyTypeShop, "198.51.100.7")
	assert.False(t, v.Valid)
	assert.Equal(t, constants.ErrorCodeIPDenied, v.ErrorCode)
	assert.Equal(t, 1, counting.lookups, "the denial is decided from the cache")
}

func TestValidate_StoreOutageFailsClosedUncached(t *testing.T) {
	ctx := context.Background()
	repo, _ := openTestDB(t)
	counting := &countingRepo{APIKeyRepository: repo, failNext: true}
	validator := NewValidatorService(counting, memory.NewKVStore(), time.Minute, logger.NewNop())

	seedKey(t, repo, &models.APIKey{
		ID: "key-1", Name: "storefront", Secret: "sk_live_alpha",
		KeyType: constants.KeyTypeShop, Status: constants.KeyStatusActive, RateLimit: 600,
	})

	v := validator.Validate(ctx, "sk_live_alpha", constants.KeyTypeShop, "203.0.113.9")
	require.False(t, v.Valid)
	assert.Equal(t, constants.ErrorCodeUnavailable, v.ErrorCode)

	// The faulty verdict was not cached: the next call reaches the store
	// again and succeeds.
	v = validator.Validate(ctx, "sk_live_alpha", constants.KeyTypeShop, "203.0.113.9")
	assert.True(t, v.Valid)
	assert.Equal(t, 2, counting.lookups)
}

func TestValidate_TouchesLastUsed(t *testing.T) {
	ctx := context.Background()
	repo, _ := openTestDB(t)
	validator := NewValidatorService(repo, memory.NewKVStore(), time.Minute, logger.NewNop())

	seedKey(t, repo, &models.APIKey{
		ID: "key-1", Name: "storefront", Secret: "sk_live_alpha",
		KeyType: constants.KeyTypeShop, Status: constants.KeyStatusActive, RateLimit: 600,
	})

	require.True(t, validator.Validate(ctx, "sk_live_alpha", constants.KeyTypeShop, "203.0.113.9").Valid)

	key, err := repo.FindByID(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, key.LastUsedAt)
	assert.WithinDuration(t, time.Now(), *key.LastUsedAt, 5*time.Second)
}

func TestValidate_CacheLookupHook(t *testing.T) {
	ctx := context.Background()
	repo, _ := openTestDB(t)
	validator := NewValidatorService(repo, memory.NewKVStore(), time.Minute, logger.NewNop())

	var outcomes []string
	validator.CacheLookup = func(outcome string) { outcomes = append(outcomes, outcome) }

	seedKey(t, repo, &models.APIKey{
		ID: "key-1", Name: "storefront", Secret: "sk_live_alpha",
		KeyType: constants.KeyTypeShop, Status: constants.KeyStatusActive, RateLimit: 600,
	})

	validator.Validate(ctx, "sk_live_alpha", constants.KeyTypeShop, "203.0.113.9")
	validator.Validate(ctx, "sk_live_alpha", constants.KeyTypeShop, "203.0.113.9")
	assert.Equal(t, []string{"miss", "hit"}, outcomes)
}
