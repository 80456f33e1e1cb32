package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nihanth-yadalam/IAP---backend/internal/models"
)

// registerChannel registers a fresh webhook channel for the user and records
// it on the sync state, superseding any previous channel. Caller holds the
// user lock. The state row is re-read so a cursor advanced by an earlier
// step in the same flow is not clobbered.
func (e *Engine) registerChannel(ctx context.Context, user *models.User) error {
	state, err := e.syncState(user.ID)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("sync state missing for user %d", user.ID)
	}

	token := *user.GoogleRefreshToken
	oldChannelID := state.WebhookChannelID
	oldResourceID := state.WebhookResourceID

	channelID := models.NewChannelID(user.ID)
	ch, err := e.cal.Watch(ctx, token, state.CalendarID, channelID, e.cfg.WebhookAddress, e.cfg.ChannelTTL)
	if err != nil {
		return fmt.Errorf("registering webhook channel for user %d: %w", user.ID, err)
	}

	state.WebhookChannelID = &ch.ID
	state.WebhookResourceID = &ch.ResourceID
	state.WebhookExpiresAt = ch.ExpiresAt
	if err := e.db.Save(state).Error; err != nil {
		return fmt.Errorf("recording webhook channel for user %d: %w", user.ID, err)
	}
	e.log.Info("Webhook channel registered",
		zap.Uint("userID", user.ID), zap.String("channelID", ch.ID))

	// The superseded channel would keep delivering until it expires; stop it
	// best effort.
	if oldChannelID != nil && oldResourceID != nil {
		if err := e.cal.StopChannel(ctx, token, *oldChannelID, *oldResourceID); err != nil {
			e.log.Warn("Failed to stop superseded webhook channel",
				zap.Uint("userID", user.ID), zap.String("channelID", *oldChannelID), zap.Error(err))
		}
	}
	return nil
}

// SetupWebhook registers (or re-registers) the push channel for one user on
// demand. Sync must have been initialized first.
func (e *Engine) SetupWebhook(ctx context.Context, userID uint) (Status, error) {
	if e.cfg.WebhookAddress == "" {
		return Status{}, fmt.Errorf("no webhook address configured")
	}
	user, err := e.linkedUser(userID)
	if err != nil {
		return Status{}, err
	}

	unlock := e.locks.Acquire(userID)
	if err := e.registerChannel(ctx, user); err != nil {
		unlock()
		return Status{}, err
	}
	unlock()

	return e.Status(ctx, userID)
}

// RenewExpiring renews every webhook channel expiring within the lead
// window. Failures are logged and retried on the next sweep; push and pull
// keep working via polling even while a channel has lapsed.
func (e *Engine) RenewExpiring(ctx context.Context) {
	if e.cfg.WebhookAddress == "" {
		return
	}

	threshold := e.now().Add(e.cfg.RenewLead)
	var states []models.SyncState
	err := e.db.
		Where("webhook_expires_at IS NOT NULL AND webhook_expires_at < ?", threshold).
		Find(&states).Error
	if err != nil {
		e.log.Error("Failed to list expiring webhook channels", zap.Error(err))
		return
	}

	for i := range states {
		if ctx.Err() != nil {
			return
		}
		userID := states[i].UserID
		if err := e.renewFor(ctx, userID); err != nil {
			e.log.Warn("Webhook renewal failed", zap.Uint("userID", userID), zap.Error(err))
		}
	}
}

func (e *Engine) renewFor(ctx context.Context, userID uint) error {
	user, err := e.linkedUser(userID)
	if err != nil {
		return err
	}
	unlock := e.locks.Acquire(userID)
	defer unlock()
	return e.registerChannel(ctx, user)
}
