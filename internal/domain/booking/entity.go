package booking

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoTimeSlots        = errors.New("booking requires at least one time slot")
	ErrDuplicateTimeSlots = errors.New("booking lists the same time slot twice")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrTerminalStatus     = errors.New("booking is in a terminal status")
	ErrInvalidStatusValue = errors.New("invalid booking status")
)

// Item assigns the booking one reserved time slot on a resource.
type Item struct {
	TimeSlotID uuid.UUID
	ResourceID uuid.UUID
}

// Booking is one customer's reservation of a resource for an interval.
// expiresAt is set if and only if the status is tentative.
type Booking struct {
	id             uuid.UUID
	tenantID       uuid.UUID
	customerID     uuid.UUID
	serviceID      uuid.UUID
	timeRange      TimeRange
	status         Status
	totalAmount    Money
	maxPenalty     Money
	idempotencyKey IdempotencyKey
	expiresAt      *time.Time
	metadata       map[string]any
	items          []Item
	createdAt      time.Time
	updatedAt      time.Time
}

func (b *Booking) ID() uuid.UUID                  { return b.id }
func (b *Booking) TenantID() uuid.UUID            { return b.tenantID }
func (b *Booking) CustomerID() uuid.UUID          { return b.customerID }
func (b *Booking) ServiceID() uuid.UUID           { return b.serviceID }
func (b *Booking) TimeRange() TimeRange           { return b.timeRange }
func (b *Booking) Status() Status                 { return b.status }
func (b *Booking) TotalAmount() Money             { return b.totalAmount }
func (b *Booking) MaxPenalty() Money              { return b.maxPenalty }
func (b *Booking) IdempotencyKey() IdempotencyKey { return b.idempotencyKey }
func (b *Booking) ExpiresAt() *time.Time          { return b.expiresAt }
func (b *Booking) Metadata() map[string]any       { return b.metadata }
func (b *Booking) CreatedAt() time.Time           { return b.createdAt }
func (b *Booking) UpdatedAt() time.Time           { return b.updatedAt }

// Items returns a copy so callers cannot mutate the slot assignments.
func (b *Booking) Items() []Item {
	out := make([]Item, len(b.items))
	copy(out, b.items)
	return out
}

// ResourceID is derived from the slot assignments; all items of one booking
// reference the same resource.
func (b *Booking) ResourceID() uuid.UUID {
	if len(b.items) == 0 {
		return uuid.Nil
	}
	return b.items[0].ResourceID
}

func (b *Booking) IsTentative() bool {
	return b.status == StatusTentative
}

func (b *Booking) HasExpired(now time.Time) bool {
	return b.status == StatusTentative && b.expiresAt != nil && now.After(*b.expiresAt)
}

// TransitionTo applies a status transition in memory. Entering confirmed
// clears the expiry; any transition outside the table fails without mutation.
func (b *Booking) TransitionTo(to Status) error {
	if !to.IsValid() {
		return ErrInvalidStatusValue
	}
	if !b.status.CanTransitionTo(to) {
		return ErrInvalidTransition
	}
	b.status = to
	if to == StatusConfirmed {
		b.expiresAt = nil
	}
	return nil
}

// ChangeRecord is the data for one append-only audit row.
type ChangeRecord struct {
	BookingID  uuid.UUID
	Type       ChangeType
	OldStatus  *Status
	NewStatus  *Status
	OldStart   *time.Time
	OldEnd     *time.Time
	NewStart   *time.Time
	NewEnd     *time.Time
	Reason     string
	ChangedBy  string
}
