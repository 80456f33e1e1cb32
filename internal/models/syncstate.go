package models

import "time"

// SyncState is the per-user durable sync record: which calendar we mirror,
// the incremental sync cursor, and the push-notification channel. It is
// created lazily on first link and owned exclusively by the sync engine.
type SyncState struct {
	UserID     uint   `gorm:"primaryKey" json:"user_id"`
	CalendarID string `gorm:"default:primary" json:"calendar_id"`

	// Cursor is the opaque incremental-sync token. A nil cursor forces the
	// next pull to be a full bounded-window resync.
	Cursor       *string    `json:"-"`
	LastSyncedAt *time.Time `json:"last_synced_at"`

	WebhookChannelID  *string    `json:"webhook_channel_id"`
	WebhookResourceID *string    `json:"webhook_resource_id"`
	WebhookExpiresAt  *time.Time `json:"webhook_expires_at"`

	UpdatedAt time.Time `json:"updated_at"`
}

// WebhookActive reports whether the push channel is still live.
func (s *SyncState) WebhookActive(now time.Time) bool {
	return s.WebhookExpiresAt != nil && s.WebhookExpiresAt.After(now)
}
