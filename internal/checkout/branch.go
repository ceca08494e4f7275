package checkout

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"strings"
	"time"
)

// ResolveBranch picks the fulfilling branch. sourceBranchID is the configured
// delivery source; a bad value there is a deployment fault, not a user error.
func ResolveBranch(ctx context.Context, tx Tx, ft FulfillmentType, explicit *uuid.UUID, sourceBranchID string) (uuid.UUID, error) {
	switch ft {
	case FulfillmentDelivery:
		return resolveDeliverySource(ctx, tx, sourceBranchID)
	case FulfillmentPickup:
		if explicit == nil || *explicit == uuid.Nil {
			return uuid.Nil, BadRequest("Branch is required for pickup")
		}
		b, err := tx.GetBranch(ctx, *explicit)
		if errors.Is(err, ErrNotFound) {
			return uuid.Nil, NotFound("Branch not found")
		}
		if err != nil {
			return uuid.Nil, fmt.Errorf("get branch: %w", err)
		}
		if !b.IsActive {
			return uuid.Nil, NotFound("Branch not found")
		}
		return b.ID, nil
	default:
		return uuid.Nil, BadRequest("Fulfillment type must be DELIVERY or PICKUP")
	}
}

func resolveDeliverySource(ctx context.Context, tx Tx, raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, ConfigError("DELIVERY_SOURCE_BRANCH_ID is not set", nil)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ConfigError("DELIVERY_SOURCE_BRANCH_ID is not a valid UUID", err)
	}
	b, err := tx.GetBranch(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return uuid.Nil, ConfigError("configured DELIVERY_SOURCE_BRANCH_ID does not exist", nil)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("get delivery source branch: %w", err)
	}
	return b.ID, nil
}

// ValidateDeliverySlot checks an optional slot reference for delivery orders.
// It returns nil when there is nothing to validate.
func ValidateDeliverySlot(ctx context.Context, tx Tx, ft FulfillmentType, slotID *uuid.UUID, branchID uuid.UUID) (*DeliverySlot, error) {
	if ft != FulfillmentDelivery || slotID == nil || *slotID == uuid.Nil {
		return nil, nil
	}
	slot, err := tx.GetDeliverySlot(ctx, *slotID)
	if errors.Is(err, ErrNotFound) {
		return nil, NotFound("Delivery slot not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery slot: %w", err)
	}
	if !slot.IsActive || slot.BranchID != branchID {
		return nil, NotFound("Delivery slot not found")
	}
	return slot, nil
}

// NextOccurrence returns the next [start, end) of a weekly slot at or after now.
func (s DeliverySlot) NextOccurrence(now time.Time) (time.Time, time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	offset := (int(s.DayOfWeek) - int(day.Weekday()) + 7) % 7
	day = day.AddDate(0, 0, offset)
	start, end := day.Add(s.StartTime), day.Add(s.EndTime)
	if end.Before(now) || end.Equal(now) {
		start, end = start.AddDate(0, 0, 7), end.AddDate(0, 0, 7)
	}
	return start, end
}
