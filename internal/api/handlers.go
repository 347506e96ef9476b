package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qbitspark/sms-relay/pkg/types"
	"github.com/sirupsen/logrus"
)

// MessageOutbox captures and queries pending messages.
type MessageOutbox interface {
	Capture(ctx context.Context, sender, receiver, body string, capturedAt time.Time) (int64, error)
	ListPending(ctx context.Context) ([]types.Message, error)
}

// SIMRegistry exposes identity reconciliation and labeling.
type SIMRegistry interface {
	Reconcile(ctx context.Context) (*types.ReconciliationResult, error)
	List(ctx context.Context) ([]types.SIMIdentity, error)
	AssignLabel(ctx context.Context, durableID, label string) error
	NextUnlabeled(ctx context.Context) (*types.SIMIdentity, error)
	FullyLabeled(ctx context.Context) (bool, error)
	ResolveSubscription(ctx context.Context, subscriptionID int) string
}

// SyncTrigger requests an immediate delivery pass.
type SyncTrigger interface {
	TriggerImmediate()
}

// minPlausibleTimestampMillis is 2001-09-09T01:46:40Z in epoch
// milliseconds. Any smaller value is a seconds-precision timestamp
// misread as milliseconds.
const minPlausibleTimestampMillis = int64(1e12)

// Handler handles HTTP API requests
type Handler struct {
	outbox   MessageOutbox
	registry SIMRegistry
	trigger  SyncTrigger
}

// NewHandler creates a new API handler
func NewHandler(outbox MessageOutbox, registry SIMRegistry, trigger SyncTrigger) *Handler {
	return &Handler{
		outbox:   outbox,
		registry: registry,
		trigger:  trigger,
	}
}

// SetupRoutes configures the API routes. The middleware applies to the
// /api/v1 group only; the health endpoint stays open so liveness probes
// work without credentials.
func SetupRoutes(router *gin.Engine, handler *Handler, middleware ...gin.HandlerFunc) {
	api := router.Group("/api/v1", middleware...)
	{
		api.POST("/messages", handler.CaptureMessage)
		api.GET("/messages/pending", handler.ListPending)
		api.POST("/sync", handler.TriggerSync)
		api.GET("/sims", handler.ListSIMs)
		api.GET("/sims/next-unlabeled", handler.NextUnlabeled)
		api.PUT("/sims/:durable_id/label", handler.AssignLabel)
	}

	// Health check endpoint
	router.GET("/health", handler.HealthCheck)
}

// CaptureMessage persists an inbound message and triggers an immediate
// delivery pass. Malformed input is rejected here and never persisted.
func (h *Handler) CaptureMessage(c *gin.Context) {
	var req types.CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid request",
			Message: err.Error(),
			Code:    400,
		})
		return
	}

	// Reconcile on every inbound event so the resolution below sees the
	// current card layout.
	if _, err := h.registry.Reconcile(c.Request.Context()); err != nil {
		logrus.WithError(err).Warn("Reconciliation failed during capture")
	}

	receiver := h.registry.ResolveSubscription(c.Request.Context(), req.SubscriptionID)

	capturedAt := time.Now()
	// Timestamp is epoch milliseconds. Anything below the threshold is a
	// seconds-precision (or garbage) value that would land in 1970-2001
	// after conversion, so the receipt time is used instead.
	if req.Timestamp >= minPlausibleTimestampMillis {
		capturedAt = time.UnixMilli(req.Timestamp)
	} else if req.Timestamp > 0 {
		logrus.WithField("timestamp", req.Timestamp).Warn("Implausible capture timestamp, using receipt time")
	}

	id, err := h.outbox.Capture(c.Request.Context(), req.Sender, receiver, req.Body, capturedAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "failed to capture message",
			Message: err.Error(),
			Code:    500,
		})
		return
	}

	h.trigger.TriggerImmediate()

	c.JSON(http.StatusAccepted, types.CaptureResponse{
		ID:       id,
		Receiver: receiver,
		Status:   "accepted",
	})
}

// ListPending returns the pending snapshot in capture order.
func (h *Handler) ListPending(c *gin.Context) {
	pending, err := h.outbox.ListPending(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "failed to list pending messages",
			Message: err.Error(),
			Code:    500,
		})
		return
	}

	if pending == nil {
		pending = []types.Message{}
	}

	c.JSON(http.StatusOK, gin.H{
		"count":    len(pending),
		"messages": pending,
	})
}

// TriggerSync requests an immediate delivery pass.
func (h *Handler) TriggerSync(c *gin.Context) {
	h.trigger.TriggerImmediate()
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}

// ListSIMs reconciles and returns the persisted SIM set.
func (h *Handler) ListSIMs(c *gin.Context) {
	if _, err := h.registry.Reconcile(c.Request.Context()); err != nil {
		logrus.WithError(err).Warn("Reconciliation failed during listing")
	}

	sims, err := h.registry.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "failed to list sims",
			Message: err.Error(),
			Code:    500,
		})
		return
	}

	if sims == nil {
		sims = []types.SIMIdentity{}
	}

	c.JSON(http.StatusOK, gin.H{"sims": sims})
}

// NextUnlabeled returns the next card awaiting a label, driving the
// one-at-a-time labeling flow.
func (h *Handler) NextUnlabeled(c *gin.Context) {
	sim, err := h.registry.NextUnlabeled(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "failed to find unlabeled sim",
			Message: err.Error(),
			Code:    500,
		})
		return
	}

	if sim == nil {
		c.JSON(http.StatusNotFound, types.ErrorResponse{
			Error:   "no unlabeled sim",
			Message: "all present cards are labeled",
			Code:    404,
		})
		return
	}

	c.JSON(http.StatusOK, sim)
}

// AssignLabel sets the user-supplied label for a durable id.
func (h *Handler) AssignLabel(c *gin.Context) {
	durableID := c.Param("durable_id")
	if durableID == "" {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid request",
			Message: "durable_id parameter is required",
			Code:    400,
		})
		return
	}

	var req types.AssignLabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid request",
			Message: err.Error(),
			Code:    400,
		})
		return
	}

	if err := h.registry.AssignLabel(c.Request.Context(), durableID, req.Label); err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "failed to assign label",
			Message: err.Error(),
			Code:    500,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "labeled",
		"durable_id": durableID,
	})
}

// HealthCheck provides service health information
func (h *Handler) HealthCheck(c *gin.Context) {
	pending, err := h.outbox.ListPending(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, types.HealthResponse{
			Status:    "unhealthy",
			Timestamp: time.Now(),
			Version:   "1.0.0",
		})
		return
	}

	labeled, err := h.registry.FullyLabeled(c.Request.Context())
	if err != nil {
		labeled = false
	}

	c.JSON(http.StatusOK, types.HealthResponse{
		Status:       "healthy",
		Timestamp:    time.Now(),
		Version:      "1.0.0",
		PendingCount: len(pending),
		FullyLabeled: labeled,
	})
}
