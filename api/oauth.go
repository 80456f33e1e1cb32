package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nihanth-yadalam/IAP---backend/internal/models"
)

// GoogleAuthURLHandler hands the client the consent URL for linking a Google
// account. The OAuth state carries the user id so the callback, which
// arrives unauthenticated from Google's redirect, can be routed back.
func (h *Handler) GoogleAuthURLHandler(c *gin.Context) {
	userID := currentUserID(c)
	state := strconv.FormatUint(uint64(userID), 10)
	c.JSON(http.StatusOK, gin.H{"auth_url": h.OAuth.AuthURL(state)})
}

// GoogleCallbackHandler completes the link: exchanges the authorization code
// and stores the refresh credential on the user. Sync initialization is a
// separate explicit call so a slow initial pull cannot time out the OAuth
// redirect.
func (h *Handler) GoogleCallbackHandler(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code or state"})
		return
	}
	userID, err := strconv.ParseUint(state, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
		return
	}

	var user models.User
	if err := h.DB.First(&user, uint(userID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown user"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	tok, err := h.OAuth.Exchange(c.Request.Context(), code)
	if err != nil {
		zap.L().Warn("OAuth code exchange failed", zap.Uint("userID", user.ID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "google token exchange failed"})
		return
	}
	if tok.RefreshToken == "" {
		// Google only issues a refresh token on the first consent unless
		// prompt=consent forced it; without one we cannot sync.
		c.JSON(http.StatusBadRequest, gin.H{"error": "no refresh token granted, re-link with consent"})
		return
	}

	user.GoogleRefreshToken = &tok.RefreshToken
	if err := h.DB.Save(&user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	zap.L().Info("Google account linked", zap.Uint("userID", user.ID))
	c.JSON(http.StatusOK, gin.H{
		"status":  "linked",
		"user_id": user.ID,
		"message": "call POST /api/sync/initialize to start syncing",
	})
}
