package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchware/gatekeeper/internal/domain/models"
	"github.com/merchware/gatekeeper/internal/domain/service"
	"github.com/merchware/gatekeeper/internal/infrastructure/persistence/memory"
	"github.com/merchware/gatekeeper/internal/infrastructure/ratelimit"
	"github.com/merchware/gatekeeper/internal/interfaces/http/handlers"
	"github.com/merchware/gatekeeper/internal/interfaces/http/middleware"
	"github.com/merchware/gatekeeper/pkg/constants"
	"github.com/merchware/gatekeeper/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubValidator struct {
	key *models.APIKey
}

func (s *stubValidator) Validate(_ context.Context, secret string, keyType constants.KeyType, _ string) service.Verdict {
	if s.key != nil && secret == s.key.Secret && keyType == s.key.KeyType {
		return service.Verdict{Valid: true, Key: s.key}
	}
	return service.Verdict{
		Valid:     false,
		Message:   "Invalid or inactive " + string(keyType) + " API key",
		ErrorCode: constants.ErrorCodeInvalidKey,
	}
}

func newTestEngine() *gin.Engine {
	validator := &stubValidator{key: &models.APIKey{
		ID:        "key-1",
		Secret:    "sk_live_alpha",
		KeyType:   constants.KeyTypeShop,
		Status:    constants.KeyStatusActive,
		RateLimit: 100,
	}}
	limiter := ratelimit.NewFixedWindowLimiter(memory.NewKVStore(), logger.NewNop())
	auth := middleware.NewAuthenticator(validator, limiter, middleware.NewOperationRegistry(nil),
		middleware.AuthenticatorConfig{}, nil, logger.NewNop())

	return New(Options{
		Authenticator: auth,
		AdminKeys:     handlers.NewAdminKeysHandler(nil, nil, logger.NewNop()),
		Health:        handlers.NewHealthHandler(nil, nil),
	})
}

func TestRouter_OperationalEndpoints(t *testing.T) {
	engine := newTestEngine()

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_ShopSurface(t *testing.T) {
	engine := newTestEngine()

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/shop/ping", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "shop routes sit behind the authenticator")

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/shop/ping", nil)
	req.Header.Set("X-STOREFRONT-KEY", "sk_live_alpha")
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"authenticated":true`)
	assert.Contains(t, rec.Body.String(), `"key_id":"key-1"`)
}

func TestRouter_AdminSurfaceRejectsShopKey(t *testing.T) {
	engine := newTestEngine()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/ping", nil)
	req.Header.Set("X-Admin-Key", "sk_live_alpha")
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code, "a shop secret does not open the admin surface")
}

func TestRouter_RequestIDPropagated(t *testing.T) {
	engine := newTestEngine()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	engine.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"), "a request id is minted when absent")
}
