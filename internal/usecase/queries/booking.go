package queries

import (
	"context"
	"time"

	"yoyaku-core/internal/domain/booking"
	"yoyaku-core/internal/pkg/errs"

	"github.com/google/uuid"
)

var (
	ErrTenantRequired = errs.New("tenant id is required")
	ErrInvalidPeriod  = errs.New("invalid statistics period")
)

// Read models (DTO for read side)
type BookingView struct {
	ID             uuid.UUID         `json:"id"`
	TenantID       uuid.UUID         `json:"tenant_id"`
	CustomerID     uuid.UUID         `json:"customer_id"`
	ServiceID      uuid.UUID         `json:"service_id"`
	ResourceID     uuid.UUID         `json:"resource_id"`
	StartAt        time.Time         `json:"start_at"`
	EndAt          time.Time         `json:"end_at"`
	Status         string            `json:"status"`
	TotalJPY       int64             `json:"total_jpy"`
	MaxPenaltyJPY  int64             `json:"max_penalty_jpy"`
	IdempotencyKey string            `json:"idempotency_key"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	Items          []BookingItemView `json:"items"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type BookingItemView struct {
	TimeSlotID uuid.UUID `json:"timeslot_id"`
	ResourceID uuid.UUID `json:"resource_id"`
}

type BookingListItem struct {
	ID         uuid.UUID `json:"id"`
	CustomerID uuid.UUID `json:"customer_id"`
	ServiceID  uuid.UUID `json:"service_id"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	Status     string    `json:"status"`
	TotalJPY   int64     `json:"total_jpy"`
	CreatedAt  time.Time `json:"created_at"`
}

type SortKey string

const (
	SortByStartTime SortKey = "start_at"
	SortByCreatedAt SortKey = "created_at"
	SortByStatus    SortKey = "status"
)

type SearchCriteria struct {
	TenantID   uuid.UUID
	CustomerID *uuid.UUID
	ServiceID  *uuid.UUID
	ResourceID *uuid.UUID
	Statuses   []booking.Status
	From       *time.Time
	To         *time.Time
	SortBy     SortKey
	Limit      int32
	Offset     int32
}

type SearchResult struct {
	Items  []*BookingListItem `json:"items"`
	Total  int64              `json:"total"`
	Limit  int32              `json:"limit"`
	Offset int32              `json:"offset"`
}

type HourCount struct {
	Hour  int   `json:"hour"`
	Count int64 `json:"count"`
}

type ResourceCount struct {
	ResourceID uuid.UUID `json:"resource_id"`
	Count      int64     `json:"count"`
}

type BookingStatistics struct {
	StatusCounts       map[string]int64 `json:"status_counts"`
	AverageDurationMin float64          `json:"average_duration_min"`
	TotalValueJPY      int64            `json:"total_value_jpy"`
	PeakHours          []HourCount      `json:"peak_hours"`
	TopResources       []ResourceCount  `json:"top_resources"`
}

// BookingReadStore is the read-side persistence port.
type BookingReadStore interface {
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*BookingView, error)
	FindByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*BookingView, error)
	Search(ctx context.Context, c SearchCriteria) ([]*BookingListItem, int64, error)
	Statistics(ctx context.Context, tenantID uuid.UUID, from, to time.Time, resourceID *uuid.UUID) (*BookingStatistics, error)
}

type BookingQueries interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*BookingView, error)
	GetByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*BookingView, error)
	Search(ctx context.Context, c SearchCriteria) (*SearchResult, error)
	Statistics(ctx context.Context, tenantID uuid.UUID, from, to time.Time, resourceID *uuid.UUID) (*BookingStatistics, error)
}

const defaultSearchLimit = 50

type bookingQueriesImpl struct {
	store  BookingReadStore
	rowCap int32
}

func NewBookingQueries(store BookingReadStore, rowCap int32) BookingQueries {
	if rowCap <= 0 {
		rowCap = 1000
	}
	return &bookingQueriesImpl{store: store, rowCap: rowCap}
}

func (q *bookingQueriesImpl) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*BookingView, error) {
	return q.store.FindByID(ctx, tenantID, id)
}

func (q *bookingQueriesImpl) GetByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*BookingView, error) {
	return q.store.FindByIdempotencyKey(ctx, tenantID, key)
}

// Search clamps the page size to the hard row cap regardless of what the
// caller asked for.
func (q *bookingQueriesImpl) Search(ctx context.Context, c SearchCriteria) (*SearchResult, error) {
	if c.TenantID == uuid.Nil {
		return nil, ErrTenantRequired
	}
	if c.Limit <= 0 {
		c.Limit = defaultSearchLimit
	}
	if c.Limit > q.rowCap {
		c.Limit = q.rowCap
	}
	if c.Offset < 0 {
		c.Offset = 0
	}
	if c.SortBy == "" {
		c.SortBy = SortByStartTime
	}

	items, total, err := q.store.Search(ctx, c)
	if err != nil {
		return nil, err
	}
	return &SearchResult{
		Items:  items,
		Total:  total,
		Limit:  c.Limit,
		Offset: c.Offset,
	}, nil
}

func (q *bookingQueriesImpl) Statistics(ctx context.Context, tenantID uuid.UUID, from, to time.Time, resourceID *uuid.UUID) (*BookingStatistics, error) {
	if tenantID == uuid.Nil {
		return nil, ErrTenantRequired
	}
	if !to.After(from) {
		return nil, ErrInvalidPeriod
	}
	return q.store.Statistics(ctx, tenantID, from, to, resourceID)
}
