package repository

import (
	"context"

	"yoyaku-core/internal/domain/booking"
	"yoyaku-core/internal/infra"
	"yoyaku-core/internal/infra/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const insertCancellationSQL = `
	INSERT INTO booking_cancellations (booking_id, reason_code, note, cancelled_by)
	VALUES (@booking_id, @reason_code, @note, @cancelled_by)`

// CancellationRepository writes the single immutable record per cancellation.
type CancellationRepository struct{}

func NewCancellationRepository() *CancellationRepository {
	return &CancellationRepository{}
}

func (r *CancellationRepository) Insert(ctx context.Context, tx db.DBTX, bookingID uuid.UUID, reason booking.CancelReason, note, cancelledBy string) error {
	_, err := tx.Exec(ctx, insertCancellationSQL, pgx.NamedArgs{
		"booking_id":   bookingID,
		"reason_code":  reason.String(),
		"note":         note,
		"cancelled_by": cancelledBy,
	})
	if err != nil {
		return infra.WrapRepoErr("failed to insert cancellation record", err, infra.ClassifyPgError(err))
	}
	return nil
}
