package repository

import (
	"context"

	"yoyaku-core/internal/domain/booking"
	"yoyaku-core/internal/infra"
	"yoyaku-core/internal/infra/db"

	"github.com/jackc/pgx/v5"
)

const insertChangeHistorySQL = `
	INSERT INTO booking_change_history (
		booking_id, change_type, old_status, new_status,
		old_start_at, old_end_at, new_start_at, new_end_at,
		reason, changed_by
	) VALUES (
		@booking_id, @change_type, @old_status, @new_status,
		@old_start_at, @old_end_at, @new_start_at, @new_end_at,
		@reason, @changed_by
	)`

// HistoryRepository appends audit rows. The table is append-only; there are
// no update or delete statements here by design of the schema.
type HistoryRepository struct{}

func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{}
}

func (r *HistoryRepository) Append(ctx context.Context, tx db.DBTX, rec booking.ChangeRecord) error {
	var oldStatus, newStatus *string
	if rec.OldStatus != nil {
		s := rec.OldStatus.String()
		oldStatus = &s
	}
	if rec.NewStatus != nil {
		s := rec.NewStatus.String()
		newStatus = &s
	}

	_, err := tx.Exec(ctx, insertChangeHistorySQL, pgx.NamedArgs{
		"booking_id":   rec.BookingID,
		"change_type":  string(rec.Type),
		"old_status":   oldStatus,
		"new_status":   newStatus,
		"old_start_at": rec.OldStart,
		"old_end_at":   rec.OldEnd,
		"new_start_at": rec.NewStart,
		"new_end_at":   rec.NewEnd,
		"reason":       rec.Reason,
		"changed_by":   rec.ChangedBy,
	})
	if err != nil {
		return infra.WrapRepoErr("failed to append change history", err, infra.ClassifyPgError(err))
	}
	return nil
}
