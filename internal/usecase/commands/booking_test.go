//go:build unit

package commands_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"yoyaku-core/internal/domain/booking"
	"yoyaku-core/internal/infra"
	"yoyaku-core/internal/pkg/clock"
	"yoyaku-core/internal/usecase/commands"
	"yoyaku-core/internal/usecase/shared"
	"yoyaku-core/tests/common/builder"
	queriesmock "yoyaku-core/tests/mock/queries"
	sharedmock "yoyaku-core/tests/mock/shared"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

type BookingCommandsTestSuite struct {
	suite.Suite
	ctrl          *gomock.Controller
	uow           *sharedmock.MockUnitOfWork
	tx            *sharedmock.MockTx
	bookings      *sharedmock.MockBookingRepository
	capacity      *sharedmock.MockCapacityRepository
	history       *sharedmock.MockHistoryRepository
	cancellations *sharedmock.MockCancellationRepository
	reads         *sharedmock.MockCommandReads
	views         *queriesmock.MockBookingQueries
	clock         *clock.MockClock
	usecase       commands.BookingCommands
}

func (s *BookingCommandsTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.uow = sharedmock.NewMockUnitOfWork(s.ctrl)
	s.tx = sharedmock.NewMockTx(s.ctrl)
	s.bookings = sharedmock.NewMockBookingRepository(s.ctrl)
	s.capacity = sharedmock.NewMockCapacityRepository(s.ctrl)
	s.history = sharedmock.NewMockHistoryRepository(s.ctrl)
	s.cancellations = sharedmock.NewMockCancellationRepository(s.ctrl)
	s.reads = sharedmock.NewMockCommandReads(s.ctrl)
	s.views = queriesmock.NewMockBookingQueries(s.ctrl)
	s.clock = clock.NewMockClock(builder.BaseTime)

	factory := booking.NewFactory(s.clock, booking.NewHourlyRateCalculator(3000, 10), 15*time.Minute)
	s.usecase = commands.NewBookingUseCase(s.uow, factory, s.views, s.clock, 500)

	s.tx.EXPECT().DB().Return(nil).AnyTimes()
	s.tx.EXPECT().Bookings().Return(s.bookings).AnyTimes()
	s.tx.EXPECT().Capacity().Return(s.capacity).AnyTimes()
	s.tx.EXPECT().History().Return(s.history).AnyTimes()
	s.tx.EXPECT().Cancellations().Return(s.cancellations).AnyTimes()
	s.tx.EXPECT().Reads().Return(s.reads).AnyTimes()
}

func (s *BookingCommandsTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestBookingCommandsSuite(t *testing.T) {
	suite.Run(t, new(BookingCommandsTestSuite))
}

// expectWithin runs the transactional closure against the mock Tx.
func (s *BookingCommandsTestSuite) expectWithin() {
	s.uow.EXPECT().Within(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context, shared.Tx) error) error {
			return fn(ctx, s.tx)
		},
	)
}

func notFoundErr() error {
	return infra.WrapRepoErr("booking not found", errors.New("no rows"), infra.KindNotFound)
}

func (s *BookingCommandsTestSuite) TestCreateBooking() {
	s.Run("creates, reserves, and records history", func() {
		bb := builder.NewBookingBuilder()
		view := bb.BuildView(booking.StatusTentative)

		s.uow.EXPECT().CommandReads().Return(s.reads)
		s.reads.EXPECT().BookingByIdempotencyKey(gomock.Any(), bb.TenantID(), bb.IdempotencyKey()).
			Return(nil, notFoundErr())

		s.expectWithin()
		var createdID uuid.UUID
		s.bookings.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, _ any, b *booking.Booking) (uuid.UUID, error) {
				s.Equal(booking.StatusTentative, b.Status())
				s.NotNil(b.ExpiresAt())
				createdID = b.ID()
				return b.ID(), nil
			},
		)
		s.capacity.EXPECT().Reserve(gomock.Any(), gomock.Any(), bb.TenantID(), bb.SlotIDs(), int32(1)).Return(nil)
		s.history.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, _ any, rec booking.ChangeRecord) error {
				s.Equal(booking.ChangeCreated, rec.Type)
				s.Equal(createdID, rec.BookingID)
				return nil
			},
		)
		s.views.EXPECT().GetByID(gomock.Any(), bb.TenantID(), gomock.Any()).Return(view, nil)

		result, err := s.usecase.CreateBooking(context.Background(), createInput(bb))
		s.Require().NoError(err)
		s.False(result.IsReplayed)
		s.Equal(view, result.Booking)
	})

	s.Run("replays an existing booking without reserving again", func() {
		bb := builder.NewBookingBuilder()
		view := bb.BuildView(booking.StatusTentative)
		snap := bb.BuildSnapshot(view.ID, booking.StatusTentative)

		s.uow.EXPECT().CommandReads().Return(s.reads)
		s.reads.EXPECT().BookingByIdempotencyKey(gomock.Any(), bb.TenantID(), bb.IdempotencyKey()).
			Return(snap, nil)
		s.views.EXPECT().GetByID(gomock.Any(), bb.TenantID(), view.ID).Return(view, nil)

		result, err := s.usecase.CreateBooking(context.Background(), createInput(bb))
		s.Require().NoError(err)
		s.True(result.IsReplayed)
		s.Equal(view, result.Booking)
	})

	s.Run("capacity conflict names the exhausted slot", func() {
		bb := builder.NewBookingBuilder()
		fullSlot := bb.SlotIDs()[0]

		s.uow.EXPECT().CommandReads().Return(s.reads)
		s.reads.EXPECT().BookingByIdempotencyKey(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, notFoundErr())

		s.expectWithin()
		s.bookings.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).Return(uuid.New(), nil)
		s.capacity.EXPECT().Reserve(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), int32(1)).
			Return(infra.WrapRepoErr("insufficient slot capacity", &booking.SlotCapacityError{SlotID: fullSlot}, infra.KindConflict))

		_, err := s.usecase.CreateBooking(context.Background(), createInput(bb))
		s.ErrorIs(err, commands.ErrCapacityConflict)

		var slotErr *booking.SlotCapacityError
		s.Require().ErrorAs(err, &slotErr)
		s.Equal(fullSlot, slotErr.SlotID)
	})

	s.Run("duplicate key race resolves to the winning row", func() {
		bb := builder.NewBookingBuilder()
		view := bb.BuildView(booking.StatusTentative)

		s.uow.EXPECT().CommandReads().Return(s.reads)
		s.reads.EXPECT().BookingByIdempotencyKey(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, notFoundErr())

		s.expectWithin()
		s.bookings.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(uuid.Nil, infra.WrapRepoErr("failed to create booking", errors.New("23505"), infra.KindDuplicateKey))
		s.views.EXPECT().GetByIdempotencyKey(gomock.Any(), bb.TenantID(), bb.IdempotencyKey()).Return(view, nil)

		result, err := s.usecase.CreateBooking(context.Background(), createInput(bb))
		s.Require().NoError(err)
		s.True(result.IsReplayed)
	})

	s.Run("duplicate slot ids rejected before the transaction", func() {
		bb := builder.NewBookingBuilder()
		slot := uuid.New()
		in := createInput(bb)
		in.TimeSlotIDs = []uuid.UUID{slot, slot}

		s.uow.EXPECT().CommandReads().Return(s.reads)
		s.reads.EXPECT().BookingByIdempotencyKey(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, notFoundErr())

		_, err := s.usecase.CreateBooking(context.Background(), in)
		s.ErrorIs(err, commands.ErrDomainValidation)
	})

	s.Run("empty idempotency key rejected up front", func() {
		bb := builder.NewBookingBuilder().WithIdempotencyKey("  ")
		_, err := s.usecase.CreateBooking(context.Background(), createInput(bb))
		s.ErrorIs(err, commands.ErrDomainValidation)
	})
}

func (s *BookingCommandsTestSuite) TestUpdateBookingStatus() {
	s.Run("invalid transition mutates nothing", func() {
		bb := builder.NewBookingBuilder()
		id := uuid.New()

		s.expectWithin()
		s.reads.EXPECT().BookingByID(gomock.Any(), bb.TenantID(), id).
			Return(bb.BuildSnapshot(id, booking.StatusCompleted), nil)

		_, err := s.usecase.UpdateBookingStatus(context.Background(), bb.TenantID(), id, booking.StatusConfirmed, "", "op")
		s.ErrorIs(err, commands.ErrInvalidTransition)
	})

	s.Run("concurrent writer loses the conditional update", func() {
		bb := builder.NewBookingBuilder()
		id := uuid.New()

		s.expectWithin()
		s.reads.EXPECT().BookingByID(gomock.Any(), bb.TenantID(), id).
			Return(bb.BuildSnapshot(id, booking.StatusTentative), nil)
		s.bookings.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), bb.TenantID(), id,
			booking.StatusTentative, booking.StatusConfirmed, true).Return(int64(0), nil)

		_, err := s.usecase.UpdateBookingStatus(context.Background(), bb.TenantID(), id, booking.StatusConfirmed, "", "op")
		s.ErrorIs(err, commands.ErrConcurrentUpdate)
	})

	s.Run("confirm clears the expiry and writes history", func() {
		bb := builder.NewBookingBuilder()
		id := uuid.New()
		view := bb.BuildView(booking.StatusConfirmed)

		s.expectWithin()
		s.reads.EXPECT().BookingByID(gomock.Any(), bb.TenantID(), id).
			Return(bb.BuildSnapshot(id, booking.StatusTentative), nil)
		s.bookings.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), bb.TenantID(), id,
			booking.StatusTentative, booking.StatusConfirmed, true).Return(int64(1), nil)
		s.history.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, _ any, rec booking.ChangeRecord) error {
				s.Equal(booking.ChangeConfirmed, rec.Type)
				s.Equal(booking.StatusTentative, *rec.OldStatus)
				s.Equal(booking.StatusConfirmed, *rec.NewStatus)
				return nil
			},
		)
		s.views.EXPECT().GetByID(gomock.Any(), bb.TenantID(), id).Return(view, nil)

		got, err := s.usecase.UpdateBookingStatus(context.Background(), bb.TenantID(), id, booking.StatusConfirmed, "", "op")
		s.Require().NoError(err)
		s.Equal(view, got)
	})

	s.Run("unknown status rejected", func() {
		_, err := s.usecase.UpdateBookingStatus(context.Background(), uuid.New(), uuid.New(), booking.Status("pending"), "", "op")
		s.ErrorIs(err, commands.ErrInvalidStatus)
	})

	s.Run("missing booking", func() {
		bb := builder.NewBookingBuilder()
		id := uuid.New()

		s.expectWithin()
		s.reads.EXPECT().BookingByID(gomock.Any(), bb.TenantID(), id).Return(nil, notFoundErr())

		_, err := s.usecase.UpdateBookingStatus(context.Background(), bb.TenantID(), id, booking.StatusConfirmed, "", "op")
		s.ErrorIs(err, commands.ErrBookingNotFound)
	})
}

func (s *BookingCommandsTestSuite) TestCancelBooking() {
	s.Run("writes one cancellation row and releases capacity", func() {
		bb := builder.NewBookingBuilder()
		id := uuid.New()
		view := bb.BuildView(booking.StatusCancelled)

		s.expectWithin()
		s.reads.EXPECT().BookingByID(gomock.Any(), bb.TenantID(), id).
			Return(bb.BuildSnapshot(id, booking.StatusConfirmed), nil)
		s.bookings.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), bb.TenantID(), id,
			booking.StatusConfirmed, booking.StatusCancelled, false).Return(int64(1), nil)
		s.cancellations.EXPECT().Insert(gomock.Any(), gomock.Any(), id,
			booking.CancelReasonCustomerRequest, "changed plans", "op").Return(nil)
		s.capacity.EXPECT().ReleaseByBooking(gomock.Any(), gomock.Any(), bb.TenantID(), id).Return(int64(2), nil)
		s.history.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
		s.views.EXPECT().GetByID(gomock.Any(), bb.TenantID(), id).Return(view, nil)

		got, err := s.usecase.CancelBooking(context.Background(), bb.TenantID(), id,
			booking.CancelReasonCustomerRequest, "changed plans", "op")
		s.Require().NoError(err)
		s.Equal(view, got)
	})

	s.Run("unknown reason rejected", func() {
		_, err := s.usecase.CancelBooking(context.Background(), uuid.New(), uuid.New(),
			booking.CancelReason("changed_mind"), "", "op")
		s.ErrorIs(err, commands.ErrInvalidCancelReason)
	})

	s.Run("cancelling a cancelled booking fails", func() {
		bb := builder.NewBookingBuilder()
		id := uuid.New()

		s.expectWithin()
		s.reads.EXPECT().BookingByID(gomock.Any(), bb.TenantID(), id).
			Return(bb.BuildSnapshot(id, booking.StatusCancelled), nil)

		_, err := s.usecase.CancelBooking(context.Background(), bb.TenantID(), id,
			booking.CancelReasonOther, "", "op")
		s.ErrorIs(err, commands.ErrInvalidTransition)
	})
}

func (s *BookingCommandsTestSuite) TestRescheduleBooking() {
	s.Run("terminal booking cannot move", func() {
		bb := builder.NewBookingBuilder()
		id := uuid.New()

		s.expectWithin()
		s.reads.EXPECT().BookingByID(gomock.Any(), bb.TenantID(), id).
			Return(bb.BuildSnapshot(id, booking.StatusCompleted), nil)

		_, err := s.usecase.RescheduleBooking(context.Background(), rescheduleInput(bb, id))
		s.ErrorIs(err, commands.ErrBookingNotReschedulable)
	})

	s.Run("release old slots, reserve new, rewrite assignments", func() {
		bb := builder.NewBookingBuilder()
		id := uuid.New()
		view := bb.BuildView(booking.StatusConfirmed)
		in := rescheduleInput(bb, id)

		s.expectWithin()
		s.reads.EXPECT().BookingByID(gomock.Any(), bb.TenantID(), id).
			Return(bb.BuildSnapshot(id, booking.StatusConfirmed), nil)
		guard := s.bookings.EXPECT().UpdateTimes(gomock.Any(), gomock.Any(), bb.TenantID(), id, in.StartAt, in.EndAt).
			Return(int64(1), nil)
		s.capacity.EXPECT().ReleaseByBooking(gomock.Any(), gomock.Any(), bb.TenantID(), id).
			Return(int64(2), nil).After(guard)
		s.capacity.EXPECT().Reserve(gomock.Any(), gomock.Any(), bb.TenantID(), in.TimeSlotIDs, int32(1)).
			Return(nil).After(guard)
		s.bookings.EXPECT().ReplaceItems(gomock.Any(), gomock.Any(), bb.TenantID(), id, gomock.Any()).Return(nil)
		s.history.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, _ any, rec booking.ChangeRecord) error {
				s.Equal(booking.ChangeRescheduled, rec.Type)
				s.Equal(in.StartAt, *rec.NewStart)
				s.Equal(bb.Start(), *rec.OldStart)
				return nil
			},
		)
		s.views.EXPECT().GetByID(gomock.Any(), bb.TenantID(), id).Return(view, nil)

		got, err := s.usecase.RescheduleBooking(context.Background(), in)
		s.Require().NoError(err)
		s.Equal(view, got)
	})

	s.Run("concurrent cancel aborts before any capacity writes", func() {
		bb := builder.NewBookingBuilder()
		id := uuid.New()
		in := rescheduleInput(bb, id)

		// The snapshot still shows confirmed, but the guarded write affects
		// zero rows because a cancel committed in between. No capacity
		// expectations are set: touching the ledger here would double-credit
		// the old slots.
		s.expectWithin()
		s.reads.EXPECT().BookingByID(gomock.Any(), bb.TenantID(), id).
			Return(bb.BuildSnapshot(id, booking.StatusConfirmed), nil)
		s.bookings.EXPECT().UpdateTimes(gomock.Any(), gomock.Any(), bb.TenantID(), id, in.StartAt, in.EndAt).
			Return(int64(0), nil)

		_, err := s.usecase.RescheduleBooking(context.Background(), in)
		s.ErrorIs(err, commands.ErrConcurrentUpdate)
	})

	s.Run("duplicate slot ids rejected before any writes", func() {
		bb := builder.NewBookingBuilder()
		in := rescheduleInput(bb, uuid.New())
		slot := uuid.New()
		in.TimeSlotIDs = []uuid.UUID{slot, slot}

		_, err := s.usecase.RescheduleBooking(context.Background(), in)
		s.ErrorIs(err, commands.ErrDomainValidation)
	})

	s.Run("inverted time range rejected before any writes", func() {
		bb := builder.NewBookingBuilder()
		in := rescheduleInput(bb, uuid.New())
		in.EndAt = in.StartAt

		_, err := s.usecase.RescheduleBooking(context.Background(), in)
		s.ErrorIs(err, commands.ErrDomainValidation)
	})
}

func (s *BookingCommandsTestSuite) TestCleanupExpiredBookings() {
	s.Run("counts only the bookings it actually cancelled", func() {
		tenantID := uuid.New()
		winner, loser := uuid.New(), uuid.New()

		s.expectWithin()
		s.bookings.EXPECT().FindExpiredTentative(gomock.Any(), gomock.Any(), tenantID, builder.BaseTime, int32(500)).
			Return([]uuid.UUID{winner, loser}, nil)

		// Winner: CAS succeeds, side effects follow.
		s.bookings.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), tenantID, winner,
			booking.StatusTentative, booking.StatusCancelled, false).Return(int64(1), nil)
		s.cancellations.EXPECT().Insert(gomock.Any(), gomock.Any(), winner,
			booking.CancelReasonExpired, "", "system").Return(nil)
		s.capacity.EXPECT().ReleaseByBooking(gomock.Any(), gomock.Any(), tenantID, winner).Return(int64(1), nil)
		s.history.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

		// Loser: confirmed mid-sweep, CAS affects zero rows, skipped.
		s.bookings.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), tenantID, loser,
			booking.StatusTentative, booking.StatusCancelled, false).Return(int64(0), nil)

		expired, err := s.usecase.CleanupExpiredBookings(context.Background(), tenantID)
		s.Require().NoError(err)
		s.Equal(1, expired)
	})

	s.Run("empty sweep", func() {
		tenantID := uuid.New()

		s.expectWithin()
		s.bookings.EXPECT().FindExpiredTentative(gomock.Any(), gomock.Any(), tenantID, builder.BaseTime, int32(500)).
			Return(nil, nil)

		expired, err := s.usecase.CleanupExpiredBookings(context.Background(), tenantID)
		s.Require().NoError(err)
		s.Equal(0, expired)
	})
}

func createInput(bb *builder.BookingBuilder) commands.CreateBookingInput {
	return commands.CreateBookingInput{
		TenantID:       bb.TenantID(),
		CustomerID:     uuid.New(),
		ServiceID:      uuid.New(),
		ResourceID:     bb.ResourceID(),
		StartAt:        bb.Start(),
		EndAt:          bb.End(),
		TimeSlotIDs:    bb.SlotIDs(),
		IdempotencyKey: bb.IdempotencyKey(),
	}
}

func rescheduleInput(bb *builder.BookingBuilder, id uuid.UUID) commands.RescheduleBookingInput {
	return commands.RescheduleBookingInput{
		TenantID:    bb.TenantID(),
		BookingID:   id,
		ResourceID:  bb.ResourceID(),
		StartAt:     bb.Start().Add(24 * time.Hour),
		EndAt:       bb.End().Add(24 * time.Hour),
		TimeSlotIDs: []uuid.UUID{uuid.New()},
		Reason:      "customer request",
		Actor:       "op",
	}
}
