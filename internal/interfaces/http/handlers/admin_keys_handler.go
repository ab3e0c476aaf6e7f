// Package handlers implements the HTTP management plane of the Gatekeeper
// service: key provisioning, lifecycle operations, reports, and health.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/merchware/gatekeeper/internal/application"
	"github.com/merchware/gatekeeper/internal/domain/models"
	"github.com/merchware/gatekeeper/internal/domain/repository"
	"github.com/merchware/gatekeeper/pkg/constants"
	apperrors "github.com/merchware/gatekeeper/pkg/errors"
	"github.com/merchware/gatekeeper/pkg/logger"
)

// AdminKeysHandler exposes the key lifecycle engine to operators. All routes
// sit behind the admin-surface authenticator.
type AdminKeysHandler struct {
	rotation *application.RotationService
	audit    repository.AuditLog
	log      logger.Logger
}

// NewAdminKeysHandler creates the management handler.
func NewAdminKeysHandler(rotation *application.RotationService, audit repository.AuditLog, log logger.Logger) *AdminKeysHandler {
	return &AdminKeysHandler{
		rotation: rotation,
		audit:    audit,
		log:      log.WithComponent("admin_keys"),
	}
}

// Register mounts the lifecycle routes on an (already authenticated) group.
func (h *AdminKeysHandler) Register(g *gin.RouterGroup) {
	g.POST("/keys", h.CreateKey)
	g.POST("/keys/:id/rotate", h.RotateKey)
	g.POST("/keys/:id/deactivate", h.DeactivateKey)
	g.POST("/keys/:id/reactivate", h.ReactivateKey)
	g.POST("/keys/deactivate-batch", h.DeactivateBatch)
	g.POST("/keys/sweeps/cleanup-expired", h.CleanupExpired)
	g.POST("/keys/sweeps/invalidate-deprecated", h.InvalidateDeprecated)
	g.GET("/keys/reports/compliance", h.ComplianceReport)
	g.GET("/keys/reports/expiring", h.ExpiringKeys)
	g.GET("/keys/reports/unused", h.UnusedKeys)
	g.GET("/keys/:id/audit", h.KeyAuditTrail)
}

type createKeyRequest struct {
	Name       string   `json:"name" binding:"required"`
	KeyType    string   `json:"key_type" binding:"required"`
	RateLimit  int      `json:"rate_limit"`
	AllowedIPs []string `json:"allowed_ips"`
	ExpiresAt  *string  `json:"expires_at"`
}

// createKeyResponse is the only place a secret is ever returned: once, at
// issuance.
type createKeyResponse struct {
	Key    *models.APIKey `json:"key"`
	Secret string         `json:"secret"`
}

// CreateKey issues a new API key.
func (h *AdminKeysHandler) CreateKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		parsed, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "expires_at must be RFC3339"})
			return
		}
		expiresAt = &parsed
	}

	key, err := h.rotation.IssueKey(c.Request.Context(), req.Name, constants.KeyType(req.KeyType), req.RateLimit, req.AllowedIPs, expiresAt)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, createKeyResponse{Key: key, Secret: key.Secret})
}

// RotateKey spawns a successor and starts the old key's transition window.
func (h *AdminKeysHandler) RotateKey(c *gin.Context) {
	successor, err := h.rotation.Rotate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, createKeyResponse{Key: successor, Secret: successor.Secret})
}

type deactivateRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// DeactivateKey flips a key inactive immediately.
func (h *AdminKeysHandler) DeactivateKey(c *gin.Context) {
	var req deactivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "reason is required"})
		return
	}
	if err := h.rotation.Deactivate(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

// ReactivateKey clears a key's deprecation and restores active status.
func (h *AdminKeysHandler) ReactivateKey(c *gin.Context) {
	if err := h.rotation.Reactivate(c.Request.Context(), c.Param("id")); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

type deactivateBatchRequest struct {
	IDs    []string `json:"ids" binding:"required"`
	Reason string   `json:"reason" binding:"required"`
}

// DeactivateBatch is the incident-response bulk deactivation.
func (h *AdminKeysHandler) DeactivateBatch(c *gin.Context) {
	var req deactivateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "ids and reason are required"})
		return
	}
	processed, err := h.rotation.DeactivateBatch(c.Request.Context(), req.IDs, req.Reason)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": processed})
}

// CleanupExpired tombstones every time-expired key.
func (h *AdminKeysHandler) CleanupExpired(c *gin.Context) {
	processed, err := h.rotation.CleanupExpiredKeys(c.Request.Context())
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": processed})
}

// InvalidateDeprecated ends the grace period of deprecated keys.
func (h *AdminKeysHandler) InvalidateDeprecated(c *gin.Context) {
	processed, err := h.rotation.InvalidateDeprecatedKeys(c.Request.Context())
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": processed})
}

// ComplianceReport returns the aggregate key inventory.
func (h *AdminKeysHandler) ComplianceReport(c *gin.Context) {
	summary, err := h.rotation.Compliance(c.Request.Context())
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ExpiringKeys lists active keys expiring within ?days (default 30).
func (h *AdminKeysHandler) ExpiringKeys(c *gin.Context) {
	days := queryInt(c, "days", 30)
	keys, err := h.rotation.KeysExpiringWithin(c.Request.Context(), days)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "keys": keys})
}

// UnusedKeys lists active keys unused for ?days (default 90).
func (h *AdminKeysHandler) UnusedKeys(c *gin.Context) {
	days := queryInt(c, "days", 90)
	keys, err := h.rotation.KeysUnusedFor(c.Request.Context(), days)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "keys": keys})
}

// KeyAuditTrail returns the lifecycle event history of one key.
func (h *AdminKeysHandler) KeyAuditTrail(c *gin.Context) {
	events, err := h.audit.ListByKey(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *AdminKeysHandler) renderError(c *gin.Context, err error) {
	if appErr, ok := apperrors.AsAppError(err); ok {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		if status >= http.StatusInternalServerError {
			h.log.Error(c.Request.Context(), "admin operation failed", err)
		}
		c.JSON(status, gin.H{"error": appErr.Code, "message": appErr.Message})
		return
	}
	h.log.Error(c.Request.Context(), "admin operation failed", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "unexpected error"})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}
