package builder

import (
	"time"

	"yoyaku-core/internal/domain/booking"
	"yoyaku-core/internal/pkg/clock"
	"yoyaku-core/internal/usecase/queries"
	"yoyaku-core/internal/usecase/shared"

	"github.com/google/uuid"
)

// BaseTime is the fixed reference instant shared by booking tests.
var BaseTime = time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

// BookingBuilder assembles factory specs and read views with sensible
// defaults; tests mutate only what the case is about.
type BookingBuilder struct {
	tenantID    uuid.UUID
	customerID  uuid.UUID
	serviceID   uuid.UUID
	resourceID  uuid.UUID
	start       time.Time
	end         time.Time
	slotIDs     []uuid.UUID
	idemKey     string
	metadata    map[string]any
	autoConfirm bool
}

func NewBookingBuilder() *BookingBuilder {
	return &BookingBuilder{
		tenantID:   uuid.New(),
		customerID: uuid.New(),
		serviceID:  uuid.New(),
		resourceID: uuid.New(),
		start:      BaseTime,
		end:        BaseTime.Add(2 * time.Hour),
		slotIDs:    []uuid.UUID{uuid.New(), uuid.New()},
		idemKey:    "req-" + uuid.NewString(),
	}
}

func (b *BookingBuilder) WithTenantID(id uuid.UUID) *BookingBuilder { b.tenantID = id; return b }
func (b *BookingBuilder) WithTimes(start, end time.Time) *BookingBuilder {
	b.start, b.end = start, end
	return b
}
func (b *BookingBuilder) WithSlotIDs(ids ...uuid.UUID) *BookingBuilder { b.slotIDs = ids; return b }
func (b *BookingBuilder) WithIdempotencyKey(key string) *BookingBuilder {
	b.idemKey = key
	return b
}
func (b *BookingBuilder) WithAutoConfirm() *BookingBuilder { b.autoConfirm = true; return b }
func (b *BookingBuilder) WithMetadata(m map[string]any) *BookingBuilder {
	b.metadata = m
	return b
}

func (b *BookingBuilder) TenantID() uuid.UUID    { return b.tenantID }
func (b *BookingBuilder) ResourceID() uuid.UUID  { return b.resourceID }
func (b *BookingBuilder) SlotIDs() []uuid.UUID   { return b.slotIDs }
func (b *BookingBuilder) Start() time.Time       { return b.start }
func (b *BookingBuilder) End() time.Time         { return b.end }
func (b *BookingBuilder) IdempotencyKey() string { return b.idemKey }

func (b *BookingBuilder) BuildSpec() (booking.NewBookingSpec, error) {
	timeRange, err := booking.NewTimeRange(b.start, b.end)
	if err != nil {
		return booking.NewBookingSpec{}, err
	}
	key, err := booking.NewIdempotencyKey(b.idemKey)
	if err != nil {
		return booking.NewBookingSpec{}, err
	}
	return booking.NewBookingSpec{
		TenantID:       b.tenantID,
		CustomerID:     b.customerID,
		ServiceID:      b.serviceID,
		ResourceID:     b.resourceID,
		TimeRange:      timeRange,
		TimeSlotIDs:    b.slotIDs,
		IdempotencyKey: key,
		Metadata:       b.metadata,
		AutoConfirm:    b.autoConfirm,
	}, nil
}

// BuildDomain runs the spec through a factory pinned to BaseTime.
func (b *BookingBuilder) BuildDomain() (*booking.Booking, error) {
	spec, err := b.BuildSpec()
	if err != nil {
		return nil, err
	}
	factory := booking.NewFactory(
		clock.NewMockClock(BaseTime),
		booking.NewHourlyRateCalculator(3000, 10),
		15*time.Minute,
	)
	return factory.CreateBooking(spec)
}

func (b *BookingBuilder) BuildView(status booking.Status) *queries.BookingView {
	items := make([]queries.BookingItemView, len(b.slotIDs))
	for i, slotID := range b.slotIDs {
		items[i] = queries.BookingItemView{TimeSlotID: slotID, ResourceID: b.resourceID}
	}
	return &queries.BookingView{
		ID:             uuid.New(),
		TenantID:       b.tenantID,
		CustomerID:     b.customerID,
		ServiceID:      b.serviceID,
		ResourceID:     b.resourceID,
		StartAt:        b.start,
		EndAt:          b.end,
		Status:         status.String(),
		TotalJPY:       6000,
		MaxPenaltyJPY:  600,
		IdempotencyKey: b.idemKey,
		Items:          items,
		CreatedAt:      BaseTime,
		UpdatedAt:      BaseTime,
	}
}

func (b *BookingBuilder) BuildSnapshot(id uuid.UUID, status booking.Status) *shared.BookingSnapshot {
	items := make([]shared.BookingItemSnapshot, len(b.slotIDs))
	for i, slotID := range b.slotIDs {
		items[i] = shared.BookingItemSnapshot{TimeSlotID: slotID, ResourceID: b.resourceID}
	}
	return &shared.BookingSnapshot{
		ID:             id,
		TenantID:       b.tenantID,
		CustomerID:     b.customerID,
		ServiceID:      b.serviceID,
		StartAt:        b.start,
		EndAt:          b.end,
		Status:         status.String(),
		IdempotencyKey: b.idemKey,
		Items:          items,
	}
}
