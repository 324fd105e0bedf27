package booking

import (
	"time"

	"yoyaku-core/internal/pkg/clock"

	"github.com/google/uuid"
)

type Factory struct {
	Clock        clock.Clock
	Amounts      AmountCalculator
	TentativeTTL time.Duration
}

func NewFactory(clock clock.Clock, amounts AmountCalculator, tentativeTTL time.Duration) *Factory {
	return &Factory{
		Clock:        clock,
		Amounts:      amounts,
		TentativeTTL: tentativeTTL,
	}
}

// NewBookingSpec is the validated input the factory turns into an aggregate.
// TimeSlotIDs are pre-resolved by the availability layer.
type NewBookingSpec struct {
	TenantID       uuid.UUID
	CustomerID     uuid.UUID
	ServiceID      uuid.UUID
	ResourceID     uuid.UUID
	TimeRange      TimeRange
	TimeSlotIDs    []uuid.UUID
	IdempotencyKey IdempotencyKey
	Metadata       map[string]any
	AutoConfirm    bool
}

// CreateBooking builds a new aggregate. The initial status is tentative with
// an expiry unless the caller requested auto-confirmation, in which case no
// expiry is set.
func (f *Factory) CreateBooking(spec NewBookingSpec) (*Booking, error) {
	if len(spec.TimeSlotIDs) == 0 {
		return nil, ErrNoTimeSlots
	}
	seen := make(map[uuid.UUID]struct{}, len(spec.TimeSlotIDs))
	for _, slotID := range spec.TimeSlotIDs {
		if _, ok := seen[slotID]; ok {
			return nil, ErrDuplicateTimeSlots
		}
		seen[slotID] = struct{}{}
	}

	total, err := NewMoney(f.Amounts.TotalJPY(ServicePriceContext{
		ServiceID:  spec.ServiceID.String(),
		ResourceID: spec.ResourceID.String(),
	}, spec.TimeRange))
	if err != nil {
		return nil, err
	}
	penalty := f.Amounts.MaxPenalty(total)

	status := StatusTentative
	var expiresAt *time.Time
	if spec.AutoConfirm {
		status = StatusConfirmed
	} else {
		t := f.Clock.Now().Add(f.TentativeTTL)
		expiresAt = &t
	}

	items := make([]Item, len(spec.TimeSlotIDs))
	for i, slotID := range spec.TimeSlotIDs {
		items[i] = Item{TimeSlotID: slotID, ResourceID: spec.ResourceID}
	}

	metadata := spec.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	return &Booking{
		id:             uuid.New(),
		tenantID:       spec.TenantID,
		customerID:     spec.CustomerID,
		serviceID:      spec.ServiceID,
		timeRange:      spec.TimeRange,
		status:         status,
		totalAmount:    total,
		maxPenalty:     penalty,
		idempotencyKey: spec.IdempotencyKey,
		expiresAt:      expiresAt,
		metadata:       metadata,
		items:          items,
	}, nil
}
