// Package router assembles the Gatekeeper HTTP surfaces: the authenticated
// shop and admin APIs, the management plane, and the operational endpoints.
package router

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/merchware/gatekeeper/internal/interfaces/http/handlers"
	"github.com/merchware/gatekeeper/internal/interfaces/http/middleware"
	"github.com/merchware/gatekeeper/pkg/constants"
)

// Options carries the handler set and feature switches for route assembly.
type Options struct {
	Authenticator *middleware.Authenticator
	AdminKeys     *handlers.AdminKeysHandler
	Health        *handlers.HealthHandler
	EnablePprof   bool
}

// New builds the gin engine with every route mounted.
func New(opts Options) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestID(), cors.Default())

	engine.GET("/healthz", opts.Health.Healthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if opts.EnablePprof {
		pprof.Register(engine)
	}

	// Shop surface: storefront traffic authenticated with X-STOREFRONT-KEY.
	shop := engine.Group("/api/shop")
	shop.Use(opts.Authenticator.ForSurface(constants.KeyTypeShop))
	shop.GET("/ping", whoami)
	shop.POST("/query", whoami)

	// Admin surface: management traffic authenticated with X-Admin-Key.
	admin := engine.Group("/api/admin")
	admin.Use(opts.Authenticator.ForSurface(constants.KeyTypeAdmin))
	admin.GET("/ping", whoami)
	opts.AdminKeys.Register(admin)

	return engine
}

// whoami echoes the request-scoped principal and rate-limit decision. It
// stands in for the downstream business handlers (catalog, cart, checkout)
// that consume the same context attributes.
func whoami(c *gin.Context) {
	body := gin.H{"authenticated": false}
	if key, ok := middleware.Principal(c); ok {
		body["authenticated"] = true
		body["key_id"] = key.ID
		body["key_type"] = key.KeyType
	}
	if decision, ok := middleware.RateLimitDecision(c); ok {
		body["rate_limit"] = decision
	}
	c.JSON(http.StatusOK, body)
}
