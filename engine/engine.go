package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/nihanth-yadalam/IAP---backend/integrations"
	"github.com/nihanth-yadalam/IAP---backend/internal/models"
)

// ErrNotLinked means the user has no Google refresh credential; sync
// operations short-circuit without attempting any remote call.
var ErrNotLinked = errors.New("user has not linked a Google account")

const defaultCalendarID = "primary"

// Config carries the engine's tunables. The match tolerance and resync
// window are deliberately configuration, not constants.
type Config struct {
	// ResyncWindow bounds a full resync: events older than this are not
	// re-fetched when the cursor is lost.
	ResyncWindow time.Duration

	// MatchTolerance is the clock-skew allowance when deciding whether an
	// incoming remote event already matches the local slot.
	MatchTolerance time.Duration

	// WebhookAddress is the public notification URL registered with Google.
	// Empty disables webhook channels; sync then runs on polling alone.
	WebhookAddress string

	// ChannelTTL is the requested webhook channel lifetime. Google may
	// grant less.
	ChannelTTL time.Duration

	// RenewLead: channels expiring within this window get renewed by the
	// background sweep.
	RenewLead time.Duration
}

// ConfigFromViper reads the sync section of the config file, applying the
// defaults the rest of the system is tuned around.
func ConfigFromViper() Config {
	cfg := Config{
		ResyncWindow:   30 * 24 * time.Hour,
		MatchTolerance: 5 * time.Second,
		ChannelTTL:     7 * 24 * time.Hour,
		RenewLead:      24 * time.Hour,
		WebhookAddress: viper.GetString("sync.webhook_address"),
	}
	if d := viper.GetInt("sync.resync_window_days"); d > 0 {
		cfg.ResyncWindow = time.Duration(d) * 24 * time.Hour
	}
	if s := viper.GetInt("sync.match_tolerance_seconds"); s > 0 {
		cfg.MatchTolerance = time.Duration(s) * time.Second
	}
	if h := viper.GetInt("sync.channel_ttl_hours"); h > 0 {
		cfg.ChannelTTL = time.Duration(h) * time.Hour
	}
	if h := viper.GetInt("sync.renew_lead_hours"); h > 0 {
		cfg.RenewLead = time.Duration(h) * time.Hour
	}
	return cfg
}

// Engine reconciles local slots with the user's remote calendar. It is the
// only component that mutates SyncState, and the only one that mutates the
// sync metadata on slots. All entry points serialize per user.
type Engine struct {
	db    *gorm.DB
	cal   integrations.Calendar
	cfg   Config
	log   *zap.Logger
	locks *userLocks
	pulls singleflight.Group

	now func() time.Time
}

func New(db *gorm.DB, cal integrations.Calendar, cfg Config, log *zap.Logger) *Engine {
	return &Engine{
		db:    db,
		cal:   cal,
		cfg:   cfg,
		log:   log,
		locks: newUserLocks(),
		now:   time.Now,
	}
}

// linkedUser loads the user and enforces the not-linked short-circuit.
func (e *Engine) linkedUser(userID uint) (*models.User, error) {
	var user models.User
	if err := e.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %d: %w", userID, ErrNotLinked)
		}
		return nil, fmt.Errorf("loading user %d: %w", userID, err)
	}
	if !user.IsLinked() {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotLinked)
	}
	return &user, nil
}

// syncState loads the user's sync state, or nil if sync was never
// initialized for them.
func (e *Engine) syncState(userID uint) (*models.SyncState, error) {
	var state models.SyncState
	err := e.db.First(&state, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading sync state for user %d: %w", userID, err)
	}
	return &state, nil
}

func (e *Engine) calendarID(state *models.SyncState) string {
	if state != nil && state.CalendarID != "" {
		return state.CalendarID
	}
	return defaultCalendarID
}

// Reset clears the stored cursor so the next pull performs a full
// bounded-window resync.
func (e *Engine) Reset(ctx context.Context, userID uint) error {
	unlock := e.locks.Acquire(userID)
	defer unlock()

	state, err := e.syncState(userID)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}
	state.Cursor = nil
	if err := e.db.Save(state).Error; err != nil {
		return fmt.Errorf("clearing cursor for user %d: %w", userID, err)
	}
	e.log.Info("Sync cursor cleared", zap.Uint("userID", userID))
	return nil
}

// WebhookStatus is the channel-health slice of a Status.
type WebhookStatus struct {
	ChannelID  *string    `json:"channel_id"`
	ResourceID *string    `json:"resource_id"`
	ExpiresAt  *time.Time `json:"expires_at"`
	Active     bool       `json:"active"`
}

// Status is the operator-facing view of a user's sync state.
type Status struct {
	Initialized  bool          `json:"initialized"`
	CalendarID   string        `json:"calendar_id,omitempty"`
	HasCursor    bool          `json:"has_cursor"`
	LastSyncedAt *time.Time    `json:"last_synced_at"`
	Webhook      WebhookStatus `json:"webhook"`
}

// Status reports cursor presence, last-synced time and webhook health.
func (e *Engine) Status(ctx context.Context, userID uint) (Status, error) {
	state, err := e.syncState(userID)
	if err != nil {
		return Status{}, err
	}
	if state == nil {
		return Status{}, nil
	}
	return Status{
		Initialized:  true,
		CalendarID:   state.CalendarID,
		HasCursor:    state.Cursor != nil,
		LastSyncedAt: state.LastSyncedAt,
		Webhook: WebhookStatus{
			ChannelID:  state.WebhookChannelID,
			ResourceID: state.WebhookResourceID,
			ExpiresAt:  state.WebhookExpiresAt,
			Active:     state.WebhookActive(e.now()),
		},
	}, nil
}

// InitReport describes what Initialize did, step by step. Steps fail
// independently: a webhook registration failure does not undo the pull.
type InitReport struct {
	SyncState   string `json:"sync_state"`
	InitialSync string `json:"initial_sync"`
	Webhook     string `json:"webhook"`
}

// Initialize sets up sync for a newly linked user: create the SyncState if
// absent, run one pull, and register a webhook channel when a notification
// address is configured.
func (e *Engine) Initialize(ctx context.Context, userID uint) (InitReport, error) {
	report := InitReport{Webhook: "skipped (no webhook address configured)"}

	user, err := e.linkedUser(userID)
	if err != nil {
		return report, err
	}

	unlock := e.locks.Acquire(userID)
	state, err := e.syncState(userID)
	if err != nil {
		unlock()
		return report, err
	}
	if state == nil {
		state = &models.SyncState{UserID: userID, CalendarID: defaultCalendarID}
		if err := e.db.Create(state).Error; err != nil {
			unlock()
			return report, fmt.Errorf("creating sync state for user %d: %w", userID, err)
		}
		report.SyncState = "created"
	} else {
		report.SyncState = "already_exists"
	}
	unlock()

	if err := e.Pull(ctx, userID); err != nil {
		report.InitialSync = fmt.Sprintf("failed: %v", err)
	} else {
		report.InitialSync = "completed"
	}

	if e.cfg.WebhookAddress != "" {
		unlock := e.locks.Acquire(userID)
		defer unlock()
		if err := e.registerChannel(ctx, user); err != nil {
			report.Webhook = fmt.Sprintf("failed: %v", err)
		} else {
			report.Webhook = "configured"
		}
	}

	return report, nil
}

// Unlink tears sync down for a user: the webhook channel is stopped (best
// effort), the SyncState row removed, and the refresh credential cleared.
// Slots keep their data; their remote linkage is left as-is since the remote
// side is no longer ours to manage.
func (e *Engine) Unlink(ctx context.Context, userID uint) error {
	user, err := e.linkedUser(userID)
	if err != nil {
		return err
	}

	unlock := e.locks.Acquire(userID)
	defer unlock()

	state, err := e.syncState(userID)
	if err != nil {
		return err
	}
	if state != nil {
		if state.WebhookChannelID != nil && state.WebhookResourceID != nil {
			if err := e.cal.StopChannel(ctx, *user.GoogleRefreshToken, *state.WebhookChannelID, *state.WebhookResourceID); err != nil {
				e.log.Warn("Failed to stop webhook channel during unlink",
					zap.Uint("userID", userID), zap.Error(err))
			}
		}
		if err := e.db.Delete(&models.SyncState{}, "user_id = ?", userID).Error; err != nil {
			return fmt.Errorf("deleting sync state for user %d: %w", userID, err)
		}
	}

	user.GoogleRefreshToken = nil
	if err := e.db.Save(user).Error; err != nil {
		return fmt.Errorf("clearing refresh credential for user %d: %w", userID, err)
	}
	e.log.Info("Calendar sync unlinked", zap.Uint("userID", userID))
	return nil
}
