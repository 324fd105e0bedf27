package commands

import (
	"context"
	"time"

	"yoyaku-core/internal/domain/booking"
	"yoyaku-core/internal/infra"
	"yoyaku-core/internal/pkg/clock"
	"yoyaku-core/internal/pkg/errs"
	"yoyaku-core/internal/usecase/queries"
	"yoyaku-core/internal/usecase/shared"

	"github.com/google/uuid"
)

var (
	ErrBookingNotFound         = errs.New("booking not found")
	ErrSlotNotFound            = errs.New("time slot not found")
	ErrCapacityConflict        = errs.New("insufficient slot capacity")
	ErrInvalidStatus           = errs.New("invalid booking status")
	ErrInvalidTransition       = errs.New("invalid status transition")
	ErrBookingNotReschedulable = errs.New("booking cannot be rescheduled")
	ErrInvalidCancelReason     = errs.New("invalid cancellation reason")
	ErrConcurrentUpdate        = errs.New("booking was modified concurrently")
	ErrDomainValidation        = errs.New("domain validation error")
	ErrIdempotencyCheckFailed  = errs.New("idempotency check failed")
	ErrDatabaseOperationFailed = errs.New("database operation failed")
)

type CreateBookingInput struct {
	TenantID       uuid.UUID
	CustomerID     uuid.UUID
	ServiceID      uuid.UUID
	ResourceID     uuid.UUID
	StartAt        time.Time
	EndAt          time.Time
	TimeSlotIDs    []uuid.UUID
	IdempotencyKey string
	Metadata       map[string]any
	AutoConfirm    bool
}

type RescheduleBookingInput struct {
	TenantID    uuid.UUID
	BookingID   uuid.UUID
	ResourceID  uuid.UUID
	StartAt     time.Time
	EndAt       time.Time
	TimeSlotIDs []uuid.UUID
	Reason      string
	Actor       string
}

type CreateBookingResult struct {
	Booking    *queries.BookingView
	IsReplayed bool
}

// BookingViews is the read-after-commit port; the command side never builds
// response views itself.
type BookingViews interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*queries.BookingView, error)
	GetByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*queries.BookingView, error)
}

type BookingCommands interface {
	CreateBooking(ctx context.Context, in CreateBookingInput) (*CreateBookingResult, error)
	UpdateBookingStatus(ctx context.Context, tenantID, id uuid.UUID, to booking.Status, reason, actor string) (*queries.BookingView, error)
	CancelBooking(ctx context.Context, tenantID, id uuid.UUID, reason booking.CancelReason, note, actor string) (*queries.BookingView, error)
	RescheduleBooking(ctx context.Context, in RescheduleBookingInput) (*queries.BookingView, error)
	CleanupExpiredBookings(ctx context.Context, tenantID uuid.UUID) (int, error)
}

type bookingUseCaseImpl struct {
	uow         shared.UnitOfWork
	factory     *booking.Factory
	views       BookingViews
	clock       clock.Clock
	expiryBatch int32
}

func NewBookingUseCase(
	uow shared.UnitOfWork,
	factory *booking.Factory,
	views BookingViews,
	clock clock.Clock,
	expiryBatch int32,
) BookingCommands {
	if expiryBatch <= 0 {
		expiryBatch = 500
	}
	return &bookingUseCaseImpl{
		uow:         uow,
		factory:     factory,
		views:       views,
		clock:       clock,
		expiryBatch: expiryBatch,
	}
}

// CreateBooking admits a new booking: idempotency resolution, amount
// calculation, then one transaction covering the booking row, the slot
// decrements and the audit entry.
func (u *bookingUseCaseImpl) CreateBooking(ctx context.Context, in CreateBookingInput) (*CreateBookingResult, error) {
	key, err := booking.NewIdempotencyKey(in.IdempotencyKey)
	if err != nil {
		return nil, errs.Mark(err, ErrDomainValidation)
	}

	if replayed, err := u.findReplay(ctx, in.TenantID, key.String()); err != nil {
		return nil, err
	} else if replayed != nil {
		return &CreateBookingResult{Booking: replayed, IsReplayed: true}, nil
	}

	timeRange, err := booking.NewTimeRange(in.StartAt, in.EndAt)
	if err != nil {
		return nil, errs.Mark(err, ErrDomainValidation)
	}

	entity, err := u.factory.CreateBooking(booking.NewBookingSpec{
		TenantID:       in.TenantID,
		CustomerID:     in.CustomerID,
		ServiceID:      in.ServiceID,
		ResourceID:     in.ResourceID,
		TimeRange:      timeRange,
		TimeSlotIDs:    in.TimeSlotIDs,
		IdempotencyKey: key,
		Metadata:       in.Metadata,
		AutoConfirm:    in.AutoConfirm,
	})
	if err != nil {
		return nil, errs.Mark(err, ErrDomainValidation)
	}

	var lostIdempotencyRace bool
	err = u.uow.Within(ctx, func(ctx context.Context, tx shared.Tx) error {
		id, err := tx.Bookings().Create(ctx, tx.DB(), entity)
		if err != nil {
			if infra.IsKind(err, infra.KindDuplicateKey) {
				lostIdempotencyRace = true
				return err
			}
			return errs.Mark(err, ErrDatabaseOperationFailed)
		}

		if err := tx.Capacity().Reserve(ctx, tx.DB(), in.TenantID, in.TimeSlotIDs, 1); err != nil {
			return markCapacityError(err)
		}

		status := entity.Status()
		start, end := timeRange.Start(), timeRange.End()
		return u.appendHistory(ctx, tx, booking.ChangeRecord{
			BookingID: id,
			Type:      booking.ChangeCreated,
			NewStatus: &status,
			NewStart:  &start,
			NewEnd:    &end,
			ChangedBy: "system",
		})
	})
	if err != nil {
		if lostIdempotencyRace {
			// A concurrent request with the same key committed first; its row
			// is the result of this request too.
			winner, err := u.views.GetByIdempotencyKey(ctx, in.TenantID, key.String())
			if err != nil {
				return nil, errs.Mark(err, ErrIdempotencyCheckFailed)
			}
			return &CreateBookingResult{Booking: winner, IsReplayed: true}, nil
		}
		return nil, err
	}

	view, err := u.views.GetByID(ctx, in.TenantID, entity.ID())
	if err != nil {
		return nil, errs.Mark(err, ErrDatabaseOperationFailed)
	}
	return &CreateBookingResult{Booking: view, IsReplayed: false}, nil
}

func (u *bookingUseCaseImpl) findReplay(ctx context.Context, tenantID uuid.UUID, key string) (*queries.BookingView, error) {
	snap, err := u.uow.CommandReads().BookingByIdempotencyKey(ctx, tenantID, key)
	if err != nil {
		if infra.IsKind(err, infra.KindNotFound) {
			return nil, nil
		}
		return nil, errs.Mark(err, ErrIdempotencyCheckFailed)
	}
	return u.views.GetByID(ctx, tenantID, snap.ID)
}

// UpdateBookingStatus drives the state machine. A transition into cancelled is
// routed through the cancellation path so every cancelled booking carries
// exactly one cancellation record.
func (u *bookingUseCaseImpl) UpdateBookingStatus(ctx context.Context, tenantID, id uuid.UUID, to booking.Status, reason, actor string) (*queries.BookingView, error) {
	if !to.IsValid() {
		return nil, ErrInvalidStatus
	}
	if to == booking.StatusCancelled {
		return u.CancelBooking(ctx, tenantID, id, booking.CancelReasonOther, reason, actor)
	}
	if err := u.transition(ctx, tenantID, id, to, reason, actor, nil, ""); err != nil {
		return nil, err
	}
	return u.readView(ctx, tenantID, id)
}

func (u *bookingUseCaseImpl) CancelBooking(ctx context.Context, tenantID, id uuid.UUID, reason booking.CancelReason, note, actor string) (*queries.BookingView, error) {
	if !reason.IsValid() {
		return nil, ErrInvalidCancelReason
	}
	if err := u.transition(ctx, tenantID, id, booking.StatusCancelled, note, actor, &reason, note); err != nil {
		return nil, err
	}
	return u.readView(ctx, tenantID, id)
}

// transition performs one guarded status change: snapshot read, state-machine
// check, conditional update, audit entry, and the cancellation side effects
// when the target is cancelled.
func (u *bookingUseCaseImpl) transition(
	ctx context.Context,
	tenantID, id uuid.UUID,
	to booking.Status,
	reason, actor string,
	cancelReason *booking.CancelReason,
	note string,
) error {
	return u.uow.Within(ctx, func(ctx context.Context, tx shared.Tx) error {
		snap, err := tx.Reads().BookingByID(ctx, tenantID, id)
		if err != nil {
			if infra.IsKind(err, infra.KindNotFound) {
				return ErrBookingNotFound
			}
			return errs.Mark(err, ErrDatabaseOperationFailed)
		}

		from := booking.Status(snap.Status)
		if !from.CanTransitionTo(to) {
			return ErrInvalidTransition
		}

		clearExpiry := to == booking.StatusConfirmed
		rows, err := tx.Bookings().UpdateStatus(ctx, tx.DB(), tenantID, id, from, to, clearExpiry)
		if err != nil {
			return errs.Mark(err, ErrDatabaseOperationFailed)
		}
		if rows == 0 {
			return ErrConcurrentUpdate
		}

		if to == booking.StatusCancelled {
			if err := tx.Cancellations().Insert(ctx, tx.DB(), id, *cancelReason, note, actor); err != nil {
				return errs.Mark(err, ErrDatabaseOperationFailed)
			}
			if _, err := tx.Capacity().ReleaseByBooking(ctx, tx.DB(), tenantID, id); err != nil {
				return errs.Mark(err, ErrDatabaseOperationFailed)
			}
		}

		return u.appendHistory(ctx, tx, booking.ChangeRecord{
			BookingID: id,
			Type:      booking.ChangeTypeFor(to),
			OldStatus: &from,
			NewStatus: &to,
			Reason:    reason,
			ChangedBy: actor,
		})
	})
}

// RescheduleBooking swaps the booking onto a new set of slots: credit the old
// slots, debit the new ones, then rewrite the assignments and times, all in
// one transaction.
func (u *bookingUseCaseImpl) RescheduleBooking(ctx context.Context, in RescheduleBookingInput) (*queries.BookingView, error) {
	timeRange, err := booking.NewTimeRange(in.StartAt, in.EndAt)
	if err != nil {
		return nil, errs.Mark(err, ErrDomainValidation)
	}
	if len(in.TimeSlotIDs) == 0 {
		return nil, errs.Mark(booking.ErrNoTimeSlots, ErrDomainValidation)
	}
	seen := make(map[uuid.UUID]struct{}, len(in.TimeSlotIDs))
	for _, slotID := range in.TimeSlotIDs {
		if _, ok := seen[slotID]; ok {
			return nil, errs.Mark(booking.ErrDuplicateTimeSlots, ErrDomainValidation)
		}
		seen[slotID] = struct{}{}
	}

	err = u.uow.Within(ctx, func(ctx context.Context, tx shared.Tx) error {
		snap, err := tx.Reads().BookingByID(ctx, in.TenantID, in.BookingID)
		if err != nil {
			if infra.IsKind(err, infra.KindNotFound) {
				return ErrBookingNotFound
			}
			return errs.Mark(err, ErrDatabaseOperationFailed)
		}

		status := booking.Status(snap.Status)
		if status != booking.StatusTentative && status != booking.StatusConfirmed {
			return ErrBookingNotReschedulable
		}

		// The status-guarded write goes first: it locks the booking row, and
		// zero affected rows means a concurrent transition (e.g. a cancel that
		// already credited the old slots) won the race. No capacity is touched
		// in that case.
		rows, err := tx.Bookings().UpdateTimes(ctx, tx.DB(), in.TenantID, in.BookingID, timeRange.Start(), timeRange.End())
		if err != nil {
			return errs.Mark(err, ErrDatabaseOperationFailed)
		}
		if rows == 0 {
			return ErrConcurrentUpdate
		}

		if _, err := tx.Capacity().ReleaseByBooking(ctx, tx.DB(), in.TenantID, in.BookingID); err != nil {
			return errs.Mark(err, ErrDatabaseOperationFailed)
		}
		if err := tx.Capacity().Reserve(ctx, tx.DB(), in.TenantID, in.TimeSlotIDs, 1); err != nil {
			return markCapacityError(err)
		}

		items := make([]booking.Item, len(in.TimeSlotIDs))
		for i, slotID := range in.TimeSlotIDs {
			items[i] = booking.Item{TimeSlotID: slotID, ResourceID: in.ResourceID}
		}
		if err := tx.Bookings().ReplaceItems(ctx, tx.DB(), in.TenantID, in.BookingID, items); err != nil {
			return errs.Mark(err, ErrDatabaseOperationFailed)
		}

		newStart, newEnd := timeRange.Start(), timeRange.End()
		return u.appendHistory(ctx, tx, booking.ChangeRecord{
			BookingID: in.BookingID,
			Type:      booking.ChangeRescheduled,
			OldStart:  &snap.StartAt,
			OldEnd:    &snap.EndAt,
			NewStart:  &newStart,
			NewEnd:    &newEnd,
			Reason:    in.Reason,
			ChangedBy: in.Actor,
		})
	})
	if err != nil {
		return nil, err
	}
	return u.readView(ctx, in.TenantID, in.BookingID)
}

// CleanupExpiredBookings sweeps tentative bookings past their expiry into
// cancelled and credits their slots back. Each booking is still guarded by the
// conditional status update, so one confirmed mid-sweep is left alone.
func (u *bookingUseCaseImpl) CleanupExpiredBookings(ctx context.Context, tenantID uuid.UUID) (int, error) {
	expired := 0
	err := u.uow.Within(ctx, func(ctx context.Context, tx shared.Tx) error {
		ids, err := tx.Bookings().FindExpiredTentative(ctx, tx.DB(), tenantID, u.clock.Now(), u.expiryBatch)
		if err != nil {
			return errs.Mark(err, ErrDatabaseOperationFailed)
		}

		for _, id := range ids {
			rows, err := tx.Bookings().UpdateStatus(ctx, tx.DB(), tenantID, id, booking.StatusTentative, booking.StatusCancelled, false)
			if err != nil {
				return errs.Mark(err, ErrDatabaseOperationFailed)
			}
			if rows == 0 {
				continue
			}

			if err := tx.Cancellations().Insert(ctx, tx.DB(), id, booking.CancelReasonExpired, "", "system"); err != nil {
				return errs.Mark(err, ErrDatabaseOperationFailed)
			}
			if _, err := tx.Capacity().ReleaseByBooking(ctx, tx.DB(), tenantID, id); err != nil {
				return errs.Mark(err, ErrDatabaseOperationFailed)
			}

			from, to := booking.StatusTentative, booking.StatusCancelled
			if err := u.appendHistory(ctx, tx, booking.ChangeRecord{
				BookingID: id,
				Type:      booking.ChangeCancelled,
				OldStatus: &from,
				NewStatus: &to,
				Reason:    "tentative hold expired",
				ChangedBy: "system",
			}); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

func (u *bookingUseCaseImpl) appendHistory(ctx context.Context, tx shared.Tx, rec booking.ChangeRecord) error {
	if err := tx.History().Append(ctx, tx.DB(), rec); err != nil {
		return errs.Mark(err, ErrDatabaseOperationFailed)
	}
	return nil
}

func (u *bookingUseCaseImpl) readView(ctx context.Context, tenantID, id uuid.UUID) (*queries.BookingView, error) {
	view, err := u.views.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, errs.Mark(err, ErrDatabaseOperationFailed)
	}
	return view, nil
}

func markCapacityError(err error) error {
	if infra.IsKind(err, infra.KindNotFound) {
		return errs.Mark(err, ErrSlotNotFound)
	}
	if infra.IsKind(err, infra.KindConflict) {
		return errs.Mark(err, ErrCapacityConflict)
	}
	return errs.Mark(err, ErrDatabaseOperationFailed)
}
