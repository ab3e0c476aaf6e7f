package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchware/gatekeeper/internal/domain/models"
	"github.com/merchware/gatekeeper/internal/domain/service"
	"github.com/merchware/gatekeeper/internal/infrastructure/persistence/memory"
	"github.com/merchware/gatekeeper/internal/infrastructure/ratelimit"
	"github.com/merchware/gatekeeper/pkg/constants"
	apperrors "github.com/merchware/gatekeeper/pkg/errors"
	"github.com/merchware/gatekeeper/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubValidator struct {
	verdict service.Verdict
}

func (s *stubValidator) Validate(context.Context, string, constants.KeyType, string) service.Verdict {
	return s.verdict
}

type failingLimiter struct{}

func (failingLimiter) CheckAndConsume(context.Context, string, int, time.Duration) (service.Decision, error) {
	return service.Decision{}, apperrors.ErrUnavailable(errors.New("connection refused"))
}

func validVerdict(limit int) service.Verdict {
	return service.Verdict{
		Valid: true,
		Key: &models.APIKey{
			ID:        "key-1",
			Name:      "storefront",
			KeyType:   constants.KeyTypeShop,
			Status:    constants.KeyStatusActive,
			RateLimit: limit,
		},
	}
}

// newShopRouter mounts the middleware on a probe route that reports whether
// the principal reached the handler.
func newShopRouter(validator service.KeyValidator, limiter service.RateLimiter, cfg AuthenticatorConfig) *gin.Engine {
	auth := NewAuthenticator(validator, limiter, NewOperationRegistry(nil), cfg, nil, logger.NewNop())
	engine := gin.New()
	engine.Use(auth.ForSurface(constants.KeyTypeShop))
	engine.GET("/api/shop/ping", func(c *gin.Context) {
		key, ok := Principal(c)
		if !ok {
			c.JSON(http.StatusOK, gin.H{"principal": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"principal": key.ID})
	})
	engine.GET("/api/shop/docs", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return engine
}

func decodeDenial(t *testing.T, rec *httptest.ResponseRecorder) denialBody {
	t.Helper()
	var body denialBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestForSurface_MissingKey(t *testing.T) {
	engine := newShopRouter(&stubValidator{}, ratelimit.NewFixedWindowLimiter(memory.NewKVStore(), logger.NewNop()), AuthenticatorConfig{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/shop/ping", nil)
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeDenial(t, rec)
	assert.Equal(t, constants.ErrorCodeMissingKey, body.Error)
	assert.Equal(t, "X-STOREFRONT-KEY", body.HeaderName)
	assert.Equal(t, "shop", body.KeyType)
	assert.Contains(t, body.Message, "X-STOREFRONT-KEY")
}

func TestForSurface_InvalidKey(t *testing.T) {
	validator := &stubValidator{verdict: service.Verdict{
		Valid:     false,
		Message:   "Invalid or inactive shop API key",
		ErrorCode: constants.ErrorCodeInvalidKey,
	}}
	engine := newShopRouter(validator, ratelimit.NewFixedWindowLimiter(memory.NewKVStore(), logger.NewNop()), AuthenticatorConfig{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/shop/ping", nil)
	req.Header.Set("X-STOREFRONT-KEY", "sk_live_bogus")
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeDenial(t, rec)
	assert.Equal(t, constants.ErrorCodeInvalidKey, body.Error)
}

func TestForSurface_IPDeniedIs403(t *testing.T) {
	validator := &stubValidator{verdict: service.Verdict{
		Valid:     false,
		Message:   "IP address not allowed for this key",
		ErrorCode: constants.ErrorCodeIPDenied,
	}}
	engine := newShopRouter(validator, ratelimit.NewFixedWindowLimiter(memory.NewKVStore(), logger.NewNop()), AuthenticatorConfig{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/shop/ping", nil)
	req.Header.Set("X-STOREFRONT-KEY", "sk_live_pinned")
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, constants.ErrorCodeIPDenied, decodeDenial(t, rec).Error)
}

func TestForSurface_TransientFaultReadsAsInvalid(t *testing.T) {
	// The denial body must not reveal whether the key exists when the store
	// was unreachable.
	validator := &stubValidator{verdict: service.Verdict{
		Valid:     false,
		Message:   "Invalid or inactive shop API key",
		ErrorCode: constants.ErrorCodeUnavailable,
	}}
	engine := newShopRouter(validator, ratelimit.NewFixedWindowLimiter(memory.NewKVStore(), logger.NewNop()), AuthenticatorConfig{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/shop/ping", nil)
	req.Header.Set("X-STOREFRONT-KEY", "sk_live_alpha")
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, constants.ErrorCodeInvalidKey, decodeDenial(t, rec).Error)
}

func TestForSurface_AllowedRequestCarriesHeadersAndPrincipal(t *testing.T) {
	validator := &stubValidator{verdict: validVerdict(10)}
	engine := newShopRouter(validator, ratelimit.NewFixedWindowLimiter(memory.NewKVStore(), logger.NewNop()), AuthenticatorConfig{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/shop/ping", nil)
	req.Header.Set("X-STOREFRONT-KEY", "sk_live_alpha")
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	assert.Contains(t, rec.Body.String(), `"principal":"key-1"`)
}

func TestForSurface_Throttled(t *testing.T) {
	validator := &stubValidator{verdict: validVerdict(1)}
	engine := newShopRouter(validator, ratelimit.NewFixedWindowLimiter(memory.NewKVStore(), logger.NewNop()), AuthenticatorConfig{Window: time.Minute})

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/shop/ping", nil)
	req.Header.Set("X-STOREFRONT-KEY", "sk_live_alpha")
	engine.ServeHTTP(first, req)
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	engine.ServeHTTP(second, req)

	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	body := decodeDenial(t, second)
	assert.Equal(t, constants.ErrorCodeRateLimitExceeded, body.Error)
	assert.Contains(t, body.Message, "Rate limit of 1")
	assert.Greater(t, body.RetryAfter, 0)
}

func TestForSurface_LimiterOutageFailsClosed(t *testing.T) {
	validator := &stubValidator{verdict: validVerdict(10)}
	engine := newShopRouter(validator, failingLimiter{}, AuthenticatorConfig{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/shop/ping", nil)
	req.Header.Set("X-STOREFRONT-KEY", "sk_live_alpha")
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, constants.ErrorCodeInvalidKey, decodeDenial(t, rec).Error)
}

func TestForSurface_PublicPathBypass(t *testing.T) {
	engine := newShopRouter(&stubValidator{}, ratelimit.NewFixedWindowLimiter(memory.NewKVStore(), logger.NewNop()),
		AuthenticatorConfig{PublicPaths: []string{"/api/shop/docs"}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/shop/docs", nil)
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "no key required on a public path")
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"), "public traffic is still throttled")
}

func TestForSurface_PublicPathSurvivesLimiterOutage(t *testing.T) {
	engine := newShopRouter(&stubValidator{}, failingLimiter{},
		AuthenticatorConfig{PublicPaths: []string{"/api/shop/docs"}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/shop/docs", nil)
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestForSurface_AdminHeader(t *testing.T) {
	auth := NewAuthenticator(&stubValidator{}, ratelimit.NewFixedWindowLimiter(memory.NewKVStore(), logger.NewNop()),
		NewOperationRegistry(nil), AuthenticatorConfig{}, nil, logger.NewNop())
	engine := gin.New()
	engine.Use(auth.ForSurface(constants.KeyTypeAdmin))
	engine.GET("/api/admin/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/ping", nil)
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeDenial(t, rec)
	assert.Equal(t, "X-Admin-Key", body.HeaderName)
	assert.Equal(t, "admin", body.KeyType)
}

func newQueryRouter(publicOps []string) *gin.Engine {
	auth := NewAuthenticator(&stubValidator{}, ratelimit.NewFixedWindowLimiter(memory.NewKVStore(), logger.NewNop()),
		NewOperationRegistry(publicOps),
		AuthenticatorConfig{QueryPaths: []string{"/api/shop/query"}}, nil, logger.NewNop())
	engine := gin.New()
	engine.Use(auth.ForSurface(constants.KeyTypeShop))
	engine.POST("/api/shop/query", func(c *gin.Context) { c.Status(http.StatusOK) })
	return engine
}

func postQuery(engine *gin.Engine, payload string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/shop/query", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)
	return rec
}

func TestForSurface_QueryDocumentBypass(t *testing.T) {
	engine := newQueryRouter([]string{"IntrospectionQuery", "ProductList"})

	t.Run("declared public operation bypasses auth", func(t *testing.T) {
		rec := postQuery(engine, `{"operationName":"IntrospectionQuery"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("batch of public operations bypasses auth", func(t *testing.T) {
		rec := postQuery(engine, `{"operations":[{"operationName":"ProductList"},{"operationName":"IntrospectionQuery"}]}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("one protected operation poisons the batch", func(t *testing.T) {
		rec := postQuery(engine, `{"operations":[{"operationName":"ProductList"},{"operationName":"PlaceOrder"}]}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("undeclared document stays protected", func(t *testing.T) {
		rec := postQuery(engine, `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unparsable document stays protected", func(t *testing.T) {
		rec := postQuery(engine, `{not json`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
