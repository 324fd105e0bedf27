package repository

import (
	"context"

	"yoyaku-core/internal/domain/booking"
	"yoyaku-core/internal/infra"
	"yoyaku-core/internal/infra/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	// The check and the decrement are one atomic statement; two concurrent
	// callers can never both pass a read-then-write gap.
	reserveSlotSQL = `
		UPDATE timeslots
		SET available_capacity = available_capacity - @units,
		    updated_at = now()
		WHERE id = @slot_id
		  AND tenant_id = @tenant_id
		  AND available_capacity >= @units`

	slotExistsSQL = `
		SELECT EXISTS (
			SELECT 1 FROM timeslots WHERE id = @slot_id AND tenant_id = @tenant_id
		)`

	// The increment is clamped so a stray release can never push
	// available_capacity past capacity.
	releaseByBookingSQL = `
		UPDATE timeslots ts
		SET available_capacity = LEAST(ts.capacity, ts.available_capacity + 1),
		    updated_at = now()
		FROM booking_items bi
		WHERE bi.timeslot_id = ts.id
		  AND bi.booking_id = @booking_id
		  AND ts.tenant_id = @tenant_id`
)

// CapacityRepository is the capacity ledger: conditional decrements on
// reservation, compensating increments on release.
type CapacityRepository struct{}

func NewCapacityRepository() *CapacityRepository {
	return &CapacityRepository{}
}

// Reserve decrements available_capacity for every slot in the batch. The
// first slot that cannot be decremented fails the whole call; the enclosing
// transaction rolls back any decrements already applied.
func (r *CapacityRepository) Reserve(ctx context.Context, tx db.DBTX, tenantID uuid.UUID, slotIDs []uuid.UUID, units int32) error {
	for _, slotID := range slotIDs {
		tag, err := tx.Exec(ctx, reserveSlotSQL, pgx.NamedArgs{
			"slot_id":   slotID,
			"tenant_id": tenantID,
			"units":     units,
		})
		if err != nil {
			return infra.WrapRepoErr("failed to reserve slot capacity", err)
		}
		if tag.RowsAffected() > 0 {
			continue
		}

		var exists bool
		if err := tx.QueryRow(ctx, slotExistsSQL, pgx.NamedArgs{
			"slot_id":   slotID,
			"tenant_id": tenantID,
		}).Scan(&exists); err != nil {
			return infra.WrapRepoErr("failed to check slot existence", err)
		}
		if !exists {
			return infra.WrapRepoErr("time slot not found", &booking.SlotCapacityError{SlotID: slotID}, infra.KindNotFound)
		}
		return infra.WrapRepoErr("insufficient slot capacity", &booking.SlotCapacityError{SlotID: slotID}, infra.KindConflict)
	}
	return nil
}

// ReleaseByBooking credits one unit back for every slot currently attached to
// the booking. Returns the number of slots credited; zero is a valid no-op
// when the items were already detached.
func (r *CapacityRepository) ReleaseByBooking(ctx context.Context, tx db.DBTX, tenantID, bookingID uuid.UUID) (int64, error) {
	tag, err := tx.Exec(ctx, releaseByBookingSQL, pgx.NamedArgs{
		"booking_id": bookingID,
		"tenant_id":  tenantID,
	})
	if err != nil {
		return 0, infra.WrapRepoErr("failed to release slot capacity", err)
	}
	return tag.RowsAffected(), nil
}
