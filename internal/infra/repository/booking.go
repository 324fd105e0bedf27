package repository

import (
	"context"
	"encoding/json"
	"time"

	"yoyaku-core/internal/domain/booking"
	"yoyaku-core/internal/infra"
	"yoyaku-core/internal/infra/db"
	"yoyaku-core/internal/pkg/pgconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Fixed statement templates, one per operation. Parameters are named, never
// assembled by positional-index arithmetic.
const (
	insertBookingSQL = `
		INSERT INTO bookings (
			id, tenant_id, customer_id, service_id, start_at, end_at, status,
			total_jpy, max_penalty_jpy, idempotency_key, expires_at, metadata
		) VALUES (
			@id, @tenant_id, @customer_id, @service_id, @start_at, @end_at, @status,
			@total_jpy, @max_penalty_jpy, @idempotency_key, @expires_at, @metadata
		)
		RETURNING id`

	insertBookingItemSQL = `
		INSERT INTO booking_items (booking_id, timeslot_id, resource_id)
		VALUES (@booking_id, @timeslot_id, @resource_id)`

	updateBookingStatusSQL = `
		UPDATE bookings
		SET status = @new_status,
		    expires_at = CASE WHEN @clear_expiry THEN NULL ELSE expires_at END,
		    updated_at = now()
		WHERE id = @id
		  AND tenant_id = @tenant_id
		  AND status = @from_status
		  AND deleted_at IS NULL`

	updateBookingTimesSQL = `
		UPDATE bookings
		SET start_at = @start_at, end_at = @end_at, updated_at = now()
		WHERE id = @id
		  AND tenant_id = @tenant_id
		  AND status IN ('tentative', 'confirmed')
		  AND deleted_at IS NULL`

	deleteBookingItemsSQL = `
		DELETE FROM booking_items
		USING bookings b
		WHERE booking_items.booking_id = b.id
		  AND b.id = @booking_id
		  AND b.tenant_id = @tenant_id`

	findExpiredTentativeSQL = `
		SELECT id
		FROM bookings
		WHERE tenant_id = @tenant_id
		  AND status = 'tentative'
		  AND expires_at IS NOT NULL
		  AND expires_at <= @now
		  AND deleted_at IS NULL
		ORDER BY expires_at
		LIMIT @batch`
)

type BookingRepository struct{}

func NewBookingRepository() *BookingRepository {
	return &BookingRepository{}
}

// Create inserts the booking row and its slot assignments. A unique-key
// violation on (tenant_id, idempotency_key) is classified as DUPLICATE_KEY
// so the caller can resolve the race to the winning row.
func (r *BookingRepository) Create(ctx context.Context, tx db.DBTX, b *booking.Booking) (uuid.UUID, error) {
	metadata, err := json.Marshal(b.Metadata())
	if err != nil {
		return uuid.Nil, infra.WrapRepoErr("failed to encode booking metadata", err)
	}

	var id uuid.UUID
	err = tx.QueryRow(ctx, insertBookingSQL, pgx.NamedArgs{
		"id":              b.ID(),
		"tenant_id":       b.TenantID(),
		"customer_id":     b.CustomerID(),
		"service_id":      b.ServiceID(),
		"start_at":        b.TimeRange().Start(),
		"end_at":          b.TimeRange().End(),
		"status":          b.Status().String(),
		"total_jpy":       b.TotalAmount().Yen(),
		"max_penalty_jpy": b.MaxPenalty().Yen(),
		"idempotency_key": b.IdempotencyKey().String(),
		"expires_at":      pgconv.TimePtrToPgtype(b.ExpiresAt()),
		"metadata":        metadata,
	}).Scan(&id)
	if err != nil {
		return uuid.Nil, infra.WrapRepoErr("failed to create booking", err, infra.ClassifyPgError(err))
	}

	for _, item := range b.Items() {
		_, err := tx.Exec(ctx, insertBookingItemSQL, pgx.NamedArgs{
			"booking_id":  id,
			"timeslot_id": item.TimeSlotID,
			"resource_id": item.ResourceID,
		})
		if err != nil {
			return uuid.Nil, infra.WrapRepoErr("failed to create booking item", err, infra.ClassifyPgError(err))
		}
	}

	return id, nil
}

// UpdateStatus performs the transition as a conditional update guarded by the
// expected current status. Zero affected rows means a concurrent writer got
// there first.
func (r *BookingRepository) UpdateStatus(
	ctx context.Context,
	tx db.DBTX,
	tenantID, id uuid.UUID,
	from, to booking.Status,
	clearExpiry bool,
) (int64, error) {
	tag, err := tx.Exec(ctx, updateBookingStatusSQL, pgx.NamedArgs{
		"id":           id,
		"tenant_id":    tenantID,
		"from_status":  from.String(),
		"new_status":   to.String(),
		"clear_expiry": clearExpiry,
	})
	if err != nil {
		return 0, infra.WrapRepoErr("failed to update booking status", err)
	}
	return tag.RowsAffected(), nil
}

// UpdateTimes is guarded by the reschedulable statuses so it doubles as a
// lock on the booking row. Zero affected rows means the booking left
// tentative/confirmed (or vanished) after the caller's snapshot read.
func (r *BookingRepository) UpdateTimes(ctx context.Context, tx db.DBTX, tenantID, id uuid.UUID, start, end time.Time) (int64, error) {
	tag, err := tx.Exec(ctx, updateBookingTimesSQL, pgx.NamedArgs{
		"id":        id,
		"tenant_id": tenantID,
		"start_at":  start,
		"end_at":    end,
	})
	if err != nil {
		return 0, infra.WrapRepoErr("failed to update booking times", err)
	}
	return tag.RowsAffected(), nil
}

// ReplaceItems swaps the slot assignments wholesale (delete-then-insert)
// inside the caller's transaction.
func (r *BookingRepository) ReplaceItems(ctx context.Context, tx db.DBTX, tenantID, id uuid.UUID, items []booking.Item) error {
	_, err := tx.Exec(ctx, deleteBookingItemsSQL, pgx.NamedArgs{
		"booking_id": id,
		"tenant_id":  tenantID,
	})
	if err != nil {
		return infra.WrapRepoErr("failed to delete booking items", err)
	}

	for _, item := range items {
		_, err := tx.Exec(ctx, insertBookingItemSQL, pgx.NamedArgs{
			"booking_id":  id,
			"timeslot_id": item.TimeSlotID,
			"resource_id": item.ResourceID,
		})
		if err != nil {
			return infra.WrapRepoErr("failed to insert booking item", err, infra.ClassifyPgError(err))
		}
	}
	return nil
}

// FindExpiredTentative lists tentative bookings whose expiry has passed.
// Callers still guard the actual transition with a conditional update, so a
// booking confirmed after this query is simply skipped.
func (r *BookingRepository) FindExpiredTentative(ctx context.Context, tx db.DBTX, tenantID uuid.UUID, now time.Time, batch int32) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, findExpiredTentativeSQL, pgx.NamedArgs{
		"tenant_id": tenantID,
		"now":       now,
		"batch":     batch,
	})
	if err != nil {
		return nil, infra.WrapRepoErr("failed to find expired bookings", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, infra.WrapRepoErr("failed to scan expired booking id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, infra.WrapRepoErr("failed to iterate expired bookings", err)
	}
	return ids, nil
}
