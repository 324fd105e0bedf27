package shared

import (
	"context"
	"time"

	"yoyaku-core/internal/domain/booking"
	"yoyaku-core/internal/infra/db"

	"github.com/google/uuid"
)

type UnitOfWork interface {
	// Within: Full transaction for write operations with retry logic
	Within(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// CommandReads: Direct access to command reads for validation outside transactions
	CommandReads() CommandReads
}

type Tx interface {
	Bookings() BookingRepository
	Capacity() CapacityRepository
	History() HistoryRepository
	Cancellations() CancellationRepository
	Reads() CommandReads
	DB() db.DBTX
}

type CommandReads interface {
	BookingByID(ctx context.Context, tenantID, id uuid.UUID) (*BookingSnapshot, error)
	BookingByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*BookingSnapshot, error)
}

// Minimal snapshot for command read operations
type BookingSnapshot struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	CustomerID     uuid.UUID
	ServiceID      uuid.UUID
	StartAt        time.Time
	EndAt          time.Time
	Status         string
	IdempotencyKey string
	ExpiresAt      *time.Time
	Items          []BookingItemSnapshot
}

type BookingItemSnapshot struct {
	TimeSlotID uuid.UUID
	ResourceID uuid.UUID
}

type BookingRepository interface {
	Create(ctx context.Context, tx db.DBTX, b *booking.Booking) (uuid.UUID, error)
	UpdateStatus(ctx context.Context, tx db.DBTX, tenantID, id uuid.UUID, from, to booking.Status, clearExpiry bool) (int64, error)
	UpdateTimes(ctx context.Context, tx db.DBTX, tenantID, id uuid.UUID, start, end time.Time) (int64, error)
	ReplaceItems(ctx context.Context, tx db.DBTX, tenantID, id uuid.UUID, items []booking.Item) error
	FindExpiredTentative(ctx context.Context, tx db.DBTX, tenantID uuid.UUID, now time.Time, batch int32) ([]uuid.UUID, error)
}

type CapacityRepository interface {
	Reserve(ctx context.Context, tx db.DBTX, tenantID uuid.UUID, slotIDs []uuid.UUID, units int32) error
	ReleaseByBooking(ctx context.Context, tx db.DBTX, tenantID, bookingID uuid.UUID) (int64, error)
}

type HistoryRepository interface {
	Append(ctx context.Context, tx db.DBTX, rec booking.ChangeRecord) error
}

type CancellationRepository interface {
	Insert(ctx context.Context, tx db.DBTX, bookingID uuid.UUID, reason booking.CancelReason, note, cancelledBy string) error
}
