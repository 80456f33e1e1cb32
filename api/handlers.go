package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nihanth-yadalam/IAP---backend/engine"
	"github.com/nihanth-yadalam/IAP---backend/integrations"
	"github.com/nihanth-yadalam/IAP---backend/internal/models"
	"github.com/nihanth-yadalam/IAP---backend/schedule"
)

type Handler struct {
	DB         *gorm.DB
	Engine     *engine.Engine
	OAuth      *integrations.OAuthClient
	Collisions *schedule.CollisionChecker

	// Workers bounds how many webhook-triggered syncs run at once so push
	// notifications never occupy request-serving goroutines.
	Workers chan struct{}
}

func (h *Handler) HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GoogleWebhookHandler receives push notifications from Google Calendar.
// Google controls the retry policy on non-2xx responses, so everything short
// of a handled change notification is acknowledged and ignored: a malformed
// channel id must never turn into a 5xx storm.
func (h *Handler) GoogleWebhookHandler(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.Status(http.StatusOK)
		return
	}

	note := models.Notification{
		ChannelID:     c.GetHeader("X-Goog-Channel-ID"),
		ResourceID:    c.GetHeader("X-Goog-Resource-ID"),
		ResourceState: c.GetHeader("X-Goog-Resource-State"),
		MessageNumber: c.GetHeader("X-Goog-Message-Number"),
	}

	if note.IsHandshake() {
		c.JSON(http.StatusOK, gin.H{"status": "webhook confirmed"})
		return
	}
	if note.ChannelID == "" {
		c.JSON(http.StatusOK, gin.H{"status": "no channel id"})
		return
	}

	userID, err := models.ParseChannelID(note.ChannelID)
	if err != nil {
		zap.L().Warn("Ignoring webhook with unparseable channel id",
			zap.String("channelID", note.ChannelID), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	select {
	case h.Workers <- struct{}{}:
		go func() {
			defer func() { <-h.Workers }()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := h.Engine.Pull(ctx, userID); err != nil {
				zap.L().Warn("Webhook-triggered sync failed",
					zap.Uint("userID", userID), zap.Error(err))
			}
		}()
	default:
		// Pool saturated. Dropping is safe: the periodic sweep will pick the
		// change up.
		zap.L().Warn("Sync worker pool saturated, dropping webhook trigger",
			zap.Uint("userID", userID))
	}

	c.JSON(http.StatusOK, gin.H{"status": "sync scheduled", "user_id": userID})
}

func (h *Handler) TriggerSyncHandler(c *gin.Context) {
	userID := currentUserID(c)
	if err := h.Engine.Pull(c.Request.Context(), userID); err != nil {
		syncError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "sync_completed",
		"user_id":   userID,
		"synced_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) ResetSyncHandler(c *gin.Context) {
	userID := currentUserID(c)
	if err := h.Engine.Reset(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "cursor_cleared",
		"user_id": userID,
		"message": "next sync will perform a full resync",
	})
}

func (h *Handler) SyncStatusHandler(c *gin.Context) {
	userID := currentUserID(c)
	status, err := h.Engine.Status(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "sync": status})
}

func (h *Handler) PushSlotHandler(c *gin.Context) {
	userID := currentUserID(c)
	slotID, err := strconv.ParseUint(c.Param("slotID"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slot id"})
		return
	}
	if err := h.Engine.PushSlot(c.Request.Context(), userID, uint(slotID)); err != nil {
		syncError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pushed", "slot_id": slotID})
}

func (h *Handler) PushAllHandler(c *gin.Context) {
	userID := currentUserID(c)
	report, err := h.Engine.PushPending(c.Request.Context(), userID)
	if err != nil {
		syncError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "push_completed", "report": report})
}

func (h *Handler) InitializeSyncHandler(c *gin.Context) {
	userID := currentUserID(c)
	report, err := h.Engine.Initialize(c.Request.Context(), userID)
	if err != nil {
		syncError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "initialized", "user_id": userID, "details": report})
}

func (h *Handler) UnlinkHandler(c *gin.Context) {
	userID := currentUserID(c)
	if err := h.Engine.Unlink(c.Request.Context(), userID); err != nil {
		syncError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unlinked", "user_id": userID})
}

func (h *Handler) SetupWebhookHandler(c *gin.Context) {
	userID := currentUserID(c)
	status, err := h.Engine.SetupWebhook(c.Request.Context(), userID)
	if err != nil {
		syncError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "webhook configured", "sync": status})
}

// syncError maps the engine's error taxonomy onto response codes: not-linked
// is the caller's problem, transient remote failures are deferred rather
// than failed, everything else is a plain 500.
func syncError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrNotLinked):
		c.JSON(http.StatusBadRequest, gin.H{"error": "calendar sync not configured", "detail": err.Error()})
	case errors.Is(err, integrations.ErrCredential):
		c.JSON(http.StatusBadRequest, gin.H{"error": "google authorization expired, re-link required", "detail": err.Error()})
	case integrations.IsTransient(err):
		c.JSON(http.StatusAccepted, gin.H{"status": "deferred", "detail": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type collisionRequest struct {
	Start         time.Time `json:"start" binding:"required"`
	End           time.Time `json:"end" binding:"required"`
	ExcludeTaskID uint      `json:"exclude_task_id"`
}

// CheckCollisionHandler is the pure pre-commit query the task CRUD surface
// calls before scheduling: 409 when the interval overlaps an existing task
// or a matching-day fixed slot.
func (h *Handler) CheckCollisionHandler(c *gin.Context) {
	userID := currentUserID(c)

	var req collisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interval payload"})
		return
	}

	conflict, err := h.Collisions.Check(c.Request.Context(), userID, schedule.Candidate{
		Start:         req.Start,
		End:           req.End,
		ExcludeTaskID: req.ExcludeTaskID,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if conflict != nil {
		c.JSON(http.StatusConflict, gin.H{"status": "conflict", "conflict": conflict})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "free"})
}
