package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/merchware/gatekeeper/internal/domain/models"
	"github.com/merchware/gatekeeper/internal/domain/service"
	"github.com/merchware/gatekeeper/internal/infrastructure/monitoring"
	"github.com/merchware/gatekeeper/pkg/constants"
	apperrors "github.com/merchware/gatekeeper/pkg/errors"
	"github.com/merchware/gatekeeper/pkg/logger"
)

// maxQueryDocumentBytes bounds how much of a request body the authenticator
// will inspect for declared operation names.
const maxQueryDocumentBytes = 1 << 20

// denialBody is the structured JSON error returned on every denied request.
type denialBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	HeaderName string `json:"header_name"`
	KeyType    string `json:"key_type"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// AuthenticatorConfig holds the authenticator's routing knobs.
type AuthenticatorConfig struct {
	// PublicPaths are path prefixes (docs, introspection) that bypass
	// authentication entirely.
	PublicPaths []string
	// QueryPaths are endpoints that accept batched operation documents and
	// may bypass authentication when every declared operation is public.
	QueryPaths []string
	// Window is the fixed rate-limit window length.
	Window time.Duration
}

// Authenticator is the orchestration boundary of the engine: it resolves the
// required key type from the mounted surface, extracts the secret, runs the
// validator and the rate limiter, and emits the outcome as request context
// plus response metadata.
type Authenticator struct {
	validator service.KeyValidator
	limiter   service.RateLimiter
	registry  *OperationRegistry
	cfg       AuthenticatorConfig
	metrics   *monitoring.Metrics
	log       logger.Logger
}

// NewAuthenticator wires the authenticator. metrics may be nil in tests.
func NewAuthenticator(validator service.KeyValidator, limiter service.RateLimiter, registry *OperationRegistry, cfg AuthenticatorConfig, metrics *monitoring.Metrics, log logger.Logger) *Authenticator {
	if cfg.Window <= 0 {
		cfg.Window = constants.DefaultRateLimitWindow
	}
	return &Authenticator{
		validator: validator,
		limiter:   limiter,
		registry:  registry,
		cfg:       cfg,
		metrics:   metrics,
		log:       log.WithComponent("authenticator"),
	}
}

// ForSurface returns the middleware for one API surface. The surface
// determines the required key type and therefore the secret header.
func (a *Authenticator) ForSurface(keyType constants.KeyType) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		if a.isPublicPath(c.Request.URL.Path) || a.isPublicQuery(c) {
			// Unauthenticated traffic is still throttled, keyed by a hash
			// of the caller address instead of a principal.
			a.throttlePublic(c, keyType)
			return
		}

		header := keyType.Header()
		secret := c.GetHeader(header)
		if secret == "" {
			a.record(keyType, "missing", start)
			a.deny(c, apperrors.ErrMissingKey(header, keyType), keyType, 0)
			return
		}

		verdict := a.validator.Validate(c.Request.Context(), secret, keyType, c.ClientIP())
		if !verdict.Valid {
			// Transient faults read as the generic invalid verdict so the
			// denial never reveals whether the key exists.
			appErr := apperrors.ErrInvalidKey(keyType)
			if verdict.ErrorCode == constants.ErrorCodeIPDenied {
				appErr = apperrors.ErrIPDenied()
			}
			a.record(keyType, "denied", start)
			a.deny(c, appErr, keyType, 0)
			return
		}

		key := verdict.Key
		decision, err := a.limiter.CheckAndConsume(c.Request.Context(), key.ID, key.RateLimit, a.cfg.Window)
		if err != nil {
			// Fail closed: a limiter outage denies rather than admits.
			if apperrors.IsTransient(err) {
				a.log.Warn(c.Request.Context(), "rate limiter unavailable, denying request",
					logger.String("key_id", key.ID), logger.Err(err))
			} else {
				a.log.Error(c.Request.Context(), "rate limiter failed, denying request", err,
					logger.String("key_id", key.ID))
			}
			a.record(keyType, "denied", start)
			a.deny(c, apperrors.ErrInvalidKey(keyType), keyType, 0)
			return
		}

		a.setRateLimitHeaders(c, decision)

		if !decision.Allowed {
			retryAfter := decision.RetryAfter(time.Now())
			c.Header(constants.HeaderRetryAfter, strconv.Itoa(retryAfter))
			if a.metrics != nil {
				a.metrics.RecordRateLimitDenial(keyType)
			}
			a.log.Warn(c.Request.Context(), "rate limit exceeded",
				logger.String("key_id", key.ID),
				logger.Int("limit", decision.Limit))
			a.record(keyType, "throttled", start)
			a.deny(c, apperrors.ErrRateLimitExceeded(decision.Limit), keyType, retryAfter)
			return
		}

		c.Set(constants.ContextKeyPrincipal, key)
		c.Set(constants.ContextKeyRateLimitDecision, decision)
		a.record(keyType, "allowed", start)
		c.Next()
	}
}

// Principal returns the authenticated key attached to the request, if any.
func Principal(c *gin.Context) (*models.APIKey, bool) {
	val, ok := c.Get(constants.ContextKeyPrincipal)
	if !ok {
		return nil, false
	}
	key, ok := val.(*models.APIKey)
	return key, ok
}

// RateLimitDecision returns the throttling decision attached to the request.
func RateLimitDecision(c *gin.Context) (service.Decision, bool) {
	val, ok := c.Get(constants.ContextKeyRateLimitDecision)
	if !ok {
		return service.Decision{}, false
	}
	decision, ok := val.(service.Decision)
	return decision, ok
}

func (a *Authenticator) isPublicPath(path string) bool {
	for _, prefix := range a.cfg.PublicPaths {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// isPublicQuery reports whether a batched operation document declares only
// public operations. Anything unparsable or undeclared stays protected.
func (a *Authenticator) isPublicQuery(c *gin.Context) bool {
	if a.registry == nil {
		return false
	}
	matched := false
	for _, prefix := range a.cfg.QueryPaths {
		if prefix != "" && strings.HasPrefix(c.Request.URL.Path, prefix) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	return a.registry.AllPublic(extractOperationNames(c.Request, maxQueryDocumentBytes))
}

// throttlePublic rate-limits bypassed traffic by caller address so public
// endpoints cannot be hammered anonymously.
func (a *Authenticator) throttlePublic(c *gin.Context, keyType constants.KeyType) {
	sum := sha256.Sum256([]byte(c.ClientIP()))
	principalID := "ip:" + hex.EncodeToString(sum[:8])

	decision, err := a.limiter.CheckAndConsume(c.Request.Context(), principalID, keyType.DefaultRateLimit(), a.cfg.Window)
	if err != nil {
		// Public endpoints stay reachable through a limiter outage; the
		// protected pipeline is where fail-closed applies.
		a.log.Error(c.Request.Context(), "rate limiter unavailable on public path", err)
		c.Next()
		return
	}

	a.setRateLimitHeaders(c, decision)
	if !decision.Allowed {
		retryAfter := decision.RetryAfter(time.Now())
		c.Header(constants.HeaderRetryAfter, strconv.Itoa(retryAfter))
		a.deny(c, apperrors.ErrRateLimitExceeded(decision.Limit), keyType, retryAfter)
		return
	}
	c.Next()
}

func (a *Authenticator) setRateLimitHeaders(c *gin.Context, decision service.Decision) {
	c.Header(constants.HeaderRateLimitLimit, strconv.Itoa(decision.Limit))
	c.Header(constants.HeaderRateLimitRemaining, strconv.Itoa(decision.Remaining))
	c.Header(constants.HeaderRateLimitReset, strconv.FormatInt(decision.ResetAt, 10))
}

// deny renders an AppError as the structured denial body, carrying the header
// the caller should have used and, when throttled, the retry hint.
func (a *Authenticator) deny(c *gin.Context, appErr *apperrors.AppError, keyType constants.KeyType, retryAfter int) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, denialBody{
		Error:      appErr.Code,
		Message:    appErr.Message,
		HeaderName: keyType.Header(),
		KeyType:    string(keyType),
		RetryAfter: retryAfter,
	})
}

func (a *Authenticator) record(keyType constants.KeyType, result string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordAuth(keyType, result, time.Since(start))
	}
}
