package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nihanth-yadalam/IAP---backend/integrations"
	"github.com/nihanth-yadalam/IAP---backend/internal/models"
)

// Pull fetches all remote changes since the last known cursor and applies
// them locally. Concurrent pulls for the same user (webhook-triggered plus
// timer-triggered) coalesce into one flight.
func (e *Engine) Pull(ctx context.Context, userID uint) error {
	_, err, _ := e.pulls.Do(strconv.FormatUint(uint64(userID), 10), func() (interface{}, error) {
		return nil, e.pull(ctx, userID)
	})
	return err
}

func (e *Engine) pull(ctx context.Context, userID uint) error {
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

	cursor := ""
	if state != nil && state.Cursor != nil {
		cursor = *state.Cursor
	}
	calendarID := e.calendarID(state)
	token := *user.GoogleRefreshToken

	delta, err := e.cal.ListEvents(ctx, token, calendarID, cursor, e.cfg.ResyncWindow)
	if errors.Is(err, integrations.ErrCursorInvalid) {
		// Expired cursor: drop it and fall back to a full bounded-window
		// resync, exactly once.
		e.log.Info("Sync cursor invalidated, performing full resync", zap.Uint("userID", userID))
		if err := e.storeCursor(userID, state, nil); err != nil {
			return err
		}
		delta, err = e.cal.ListEvents(ctx, token, calendarID, "", e.cfg.ResyncWindow)
	}
	if err != nil {
		return fmt.Errorf("listing remote changes for user %d: %w", userID, err)
	}

	for _, ev := range delta.Events {
		if err := e.applyRemoteEvent(userID, ev); err != nil {
			return err
		}
	}

	// No returned cursor means the listing is mid-pagination; the previous
	// cursor stays in place and the next pull continues from it.
	var next *string
	if delta.NextSyncToken != "" {
		next = &delta.NextSyncToken
	} else if state != nil {
		next = state.Cursor
	}
	if err := e.storeCursor(userID, state, next); err != nil {
		return err
	}

	e.log.Debug("Pull completed",
		zap.Uint("userID", userID), zap.Int("events", len(delta.Events)))
	return nil
}

// applyRemoteEvent is the pull conflict decision table:
//
//	cancelled, no local slot        -> ignore
//	cancelled, origin LOCAL         -> keep (pending local change wins)
//	cancelled, origin REMOTE        -> soft-delete, origin REMOTE
//	live, no local slot             -> create, origin REMOTE
//	live, origin LOCAL, matching    -> skip (no redundant overwrite)
//	live, origin LOCAL, differing   -> apply, origin REMOTE
//	live, origin REMOTE             -> apply unconditionally
func (e *Engine) applyRemoteEvent(userID uint, ev integrations.Event) error {
	var slot models.Slot
	err := e.db.First(&slot, "user_id = ? AND google_event_id = ?", userID, ev.ID).Error
	found := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("looking up slot for event %s: %w", ev.ID, err)
	}

	localOrigin := found && slot.Origin != nil && *slot.Origin == models.OriginLocal

	if ev.Cancelled {
		if !found {
			return nil
		}
		if localOrigin {
			// An unpushed local change beats a remote cancellation notice;
			// the next successful push re-settles the remote side.
			return nil
		}
		slot.IsDeleted = true
		slot.Touch(models.OriginRemote, e.now())
		if err := e.db.Save(&slot).Error; err != nil {
			return fmt.Errorf("soft-deleting slot %d: %w", slot.ID, err)
		}
		return nil
	}

	if !found {
		eventID := ev.ID
		slot = models.Slot{
			UserID:         userID,
			Title:          ev.Title,
			StartAt:        &ev.Start,
			EndAt:          &ev.End,
			GoogleEventID:  &eventID,
			IsRemoteLinked: true,
		}
		slot.Touch(models.OriginRemote, e.now())
		if err := e.db.Create(&slot).Error; err != nil {
			return fmt.Errorf("creating slot for event %s: %w", ev.ID, err)
		}
		return nil
	}

	if localOrigin && e.eventsMatch(&slot, ev) {
		// Content already agrees within tolerance; applying it anyway would
		// only flap origin to REMOTE and suppress the pending push.
		return nil
	}

	slot.Title = ev.Title
	slot.StartAt = &ev.Start
	slot.EndAt = &ev.End
	slot.IsRemoteLinked = true
	slot.IsDeleted = false
	slot.Touch(models.OriginRemote, e.now())
	if err := e.db.Save(&slot).Error; err != nil {
		return fmt.Errorf("applying event %s to slot %d: %w", ev.ID, slot.ID, err)
	}
	return nil
}

// eventsMatch compares the synced fields (title, start, end) between a local
// slot and an incoming remote event, absorbing small clock and precision
// skew. Tolerance comes from configuration.
func (e *Engine) eventsMatch(slot *models.Slot, ev integrations.Event) bool {
	if slot.Title != ev.Title {
		return false
	}
	if slot.StartAt == nil || slot.EndAt == nil {
		return false
	}
	return within(*slot.StartAt, ev.Start, e.cfg.MatchTolerance) &&
		within(*slot.EndAt, ev.End, e.cfg.MatchTolerance)
}

func within(a, b time.Time, tolerance time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < tolerance
}

// storeCursor persists the cursor and last-synced timestamp, creating the
// state row lazily on the first successful pull.
func (e *Engine) storeCursor(userID uint, state *models.SyncState, cursor *string) error {
	if state == nil {
		state = &models.SyncState{UserID: userID, CalendarID: defaultCalendarID}
		if err := e.db.Create(state).Error; err != nil {
			return fmt.Errorf("creating sync state for user %d: %w", userID, err)
		}
	}
	state.Cursor = cursor
	now := e.now()
	state.LastSyncedAt = &now
	if err := e.db.Save(state).Error; err != nil {
		return fmt.Errorf("storing cursor for user %d: %w", userID, err)
	}
	return nil
}

// PullAll runs an incremental pull for every linked user, isolating failures
// so one user's bad credential cannot halt the sweep.
func (e *Engine) PullAll(ctx context.Context) {
	var users []models.User
	if err := e.db.Where("google_refresh_token IS NOT NULL AND google_refresh_token <> ''").Find(&users).Error; err != nil {
		e.log.Error("Failed to list linked users for sync sweep", zap.Error(err))
		return
	}

	for _, user := range users {
		if ctx.Err() != nil {
			return
		}
		if err := e.Pull(ctx, user.ID); err != nil {
			e.log.Warn("Periodic sync failed for user", zap.Uint("userID", user.ID), zap.Error(err))
		}
	}
}
