package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nihanth-yadalam/IAP---backend/integrations"
	"github.com/nihanth-yadalam/IAP---backend/internal/models"
)

// PushSlot ensures the remote calendar reflects the slot's current state and
// records the linkage on success. Local state only advances after the remote
// call succeeds, so a failed push is safe to retry: the operation is
// at-least-once and idempotent by remote event id.
func (e *Engine) PushSlot(ctx context.Context, userID, slotID uint) error {
	user, err := e.linkedUser(userID)
	if err != nil {
		return err
	}

	unlock := e.locks.Acquire(userID)
	defer unlock()

	var slot models.Slot
	if err := e.db.First(&slot, "id = ? AND user_id = ?", slotID, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("slot %d not found for user %d", slotID, userID)
		}
		return fmt.Errorf("loading slot %d: %w", slotID, err)
	}

	state, err := e.syncState(userID)
	if err != nil {
		return err
	}

	return e.pushSlot(ctx, user, e.calendarID(state), &slot)
}

// pushSlot carries the push decision table. Caller holds the user lock.
func (e *Engine) pushSlot(ctx context.Context, user *models.User, calendarID string, slot *models.Slot) error {
	// A push on a slot whose last writer was the remote side is a no-op;
	// this is what stops push/pull ping-pong.
	if slot.Origin == nil || *slot.Origin != models.OriginLocal {
		return nil
	}

	token := *user.GoogleRefreshToken

	switch {
	case !slot.IsRemoteLinked || slot.GoogleEventID == nil:
		if slot.IsDeleted {
			// Never reached the remote side; nothing to delete there.
			return nil
		}
		ev, err := e.eventFromSlot(slot)
		if err != nil {
			return err
		}
		eventID, err := e.cal.CreateEvent(ctx, token, calendarID, ev)
		if err != nil {
			return fmt.Errorf("pushing slot %d: %w", slot.ID, err)
		}
		slot.GoogleEventID = &eventID
		slot.IsRemoteLinked = true
		slot.Touch(models.OriginLocal, e.now())
		if err := e.db.Save(slot).Error; err != nil {
			return fmt.Errorf("recording link for slot %d: %w", slot.ID, err)
		}
		e.log.Info("Created remote event for slot",
			zap.Uint("slotID", slot.ID), zap.String("eventID", eventID))
		return nil

	case slot.IsDeleted:
		err := e.cal.DeleteEvent(ctx, token, calendarID, *slot.GoogleEventID)
		if err != nil && !errors.Is(err, integrations.ErrEventGone) {
			return fmt.Errorf("deleting remote event for slot %d: %w", slot.ID, err)
		}
		if errors.Is(err, integrations.ErrEventGone) {
			e.log.Info("Remote event already gone on delete",
				zap.Uint("slotID", slot.ID), zap.String("eventID", *slot.GoogleEventID))
		}
		// Unlink so the soft-deleted slot becomes purgeable and a second
		// push is a no-op.
		slot.GoogleEventID = nil
		slot.IsRemoteLinked = false
		slot.Touch(models.OriginLocal, e.now())
		if err := e.db.Save(slot).Error; err != nil {
			return fmt.Errorf("recording delete for slot %d: %w", slot.ID, err)
		}
		return nil

	default:
		ev, err := e.eventFromSlot(slot)
		if err != nil {
			return err
		}
		err = e.cal.UpdateEvent(ctx, token, calendarID, *slot.GoogleEventID, ev)
		if errors.Is(err, integrations.ErrEventGone) {
			// Stale reference: the event was deleted out of band. Recreate
			// and relink.
			e.log.Info("Remote event gone on update, recreating",
				zap.Uint("slotID", slot.ID), zap.String("eventID", *slot.GoogleEventID))
			eventID, createErr := e.cal.CreateEvent(ctx, token, calendarID, ev)
			if createErr != nil {
				return fmt.Errorf("recreating remote event for slot %d: %w", slot.ID, createErr)
			}
			slot.GoogleEventID = &eventID
			slot.IsRemoteLinked = true
		} else if err != nil {
			return fmt.Errorf("updating remote event for slot %d: %w", slot.ID, err)
		}
		slot.Touch(models.OriginLocal, e.now())
		if err := e.db.Save(slot).Error; err != nil {
			return fmt.Errorf("recording update for slot %d: %w", slot.ID, err)
		}
		return nil
	}
}

// PushReport accumulates the outcome of a bulk push without aborting on the
// first failing slot.
type PushReport struct {
	Pushed int             `json:"pushed"`
	Errors map[uint]string `json:"errors,omitempty"`
}

// PushPending pushes every slot of the user that has local changes the
// remote side hasn't seen: unlinked live slots, linked slots whose last
// writer is local, and soft-deleted linked slots awaiting their remote
// delete.
func (e *Engine) PushPending(ctx context.Context, userID uint) (PushReport, error) {
	report := PushReport{Errors: make(map[uint]string)}

	user, err := e.linkedUser(userID)
	if err != nil {
		return report, err
	}

	unlock := e.locks.Acquire(userID)
	defer unlock()

	state, err := e.syncState(userID)
	if err != nil {
		return report, err
	}
	calendarID := e.calendarID(state)

	var slots []models.Slot
	err = e.db.
		Where("user_id = ?", userID).
		Where(
			e.db.Where("is_remote_linked = ? AND is_deleted = ?", false, false).
				Or("is_remote_linked = ? AND origin = ?", true, models.OriginLocal),
		).
		Find(&slots).Error
	if err != nil {
		return report, fmt.Errorf("listing pending slots for user %d: %w", userID, err)
	}

	for i := range slots {
		slot := &slots[i]
		if slot.Origin == nil {
			// An unlinked slot that was never attributed counts as a local
			// write; stamp it so the push gate lets it through.
			slot.Touch(models.OriginLocal, e.now())
		}
		if err := e.pushSlot(ctx, user, calendarID, slot); err != nil {
			report.Errors[slot.ID] = err.Error()
			continue
		}
		report.Pushed++
	}
	return report, nil
}

// eventFromSlot builds the remote representation. The absolute form is
// authoritative for sync; a recurring-only slot has no remote projection.
func (e *Engine) eventFromSlot(slot *models.Slot) (integrations.Event, error) {
	spec, err := slot.TimeSpec()
	if err != nil {
		return integrations.Event{}, fmt.Errorf("slot %d: %w", slot.ID, err)
	}
	if spec.Absolute == nil {
		return integrations.Event{}, fmt.Errorf("slot %d has no absolute time and cannot sync", slot.ID)
	}
	return integrations.Event{
		Title: slot.Title,
		Start: spec.Absolute.Start,
		End:   spec.Absolute.End,
	}, nil
}
