package request

import (
	"strings"
	"time"

	"yoyaku-core/internal/domain/booking"
	"yoyaku-core/internal/usecase/queries"

	"github.com/google/uuid"
)

type CreateBookingRequest struct {
	CustomerID  uuid.UUID      `json:"customer_id" binding:"required"`
	ServiceID   uuid.UUID      `json:"service_id" binding:"required"`
	ResourceID  uuid.UUID      `json:"resource_id" binding:"required"`
	StartAt     time.Time      `json:"start_at" binding:"required"`
	EndAt       time.Time      `json:"end_at" binding:"required"`
	TimeSlotIDs []uuid.UUID    `json:"timeslot_ids" binding:"required,min=1"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	AutoConfirm bool           `json:"auto_confirm,omitempty"`
}

type UpdateBookingStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason,omitempty"`
}

func (r UpdateBookingStatusRequest) ToStatus() (booking.Status, bool) {
	s := booking.Status(strings.ToLower(strings.TrimSpace(r.Status)))
	return s, s.IsValid()
}

type CancelBookingRequest struct {
	Reason string `json:"reason" binding:"required"`
	Note   string `json:"note,omitempty"`
}

func (r CancelBookingRequest) ToReason() (booking.CancelReason, bool) {
	reason := booking.CancelReason(strings.ToLower(strings.TrimSpace(r.Reason)))
	return reason, reason.IsValid()
}

type RescheduleBookingRequest struct {
	ResourceID  uuid.UUID   `json:"resource_id" binding:"required"`
	StartAt     time.Time   `json:"start_at" binding:"required"`
	EndAt       time.Time   `json:"end_at" binding:"required"`
	TimeSlotIDs []uuid.UUID `json:"timeslot_ids" binding:"required,min=1"`
	Reason      string      `json:"reason,omitempty"`
}

type SearchBookingsRequest struct {
	CustomerID *uuid.UUID `form:"customer_id"`
	ServiceID  *uuid.UUID `form:"service_id"`
	ResourceID *uuid.UUID `form:"resource_id"`
	Status     []string   `form:"status"`
	From       *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To         *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	SortBy     string     `form:"sort_by"`
	Limit      int32      `form:"limit"`
	Offset     int32      `form:"offset"`
}

// ToCriteria drops unknown status values instead of failing; the whitelist is
// the domain status set.
func (r SearchBookingsRequest) ToCriteria(tenantID uuid.UUID) queries.SearchCriteria {
	var statuses []booking.Status
	for _, s := range r.Status {
		status := booking.Status(strings.ToLower(strings.TrimSpace(s)))
		if status.IsValid() {
			statuses = append(statuses, status)
		}
	}

	return queries.SearchCriteria{
		TenantID:   tenantID,
		CustomerID: r.CustomerID,
		ServiceID:  r.ServiceID,
		ResourceID: r.ResourceID,
		Statuses:   statuses,
		From:       r.From,
		To:         r.To,
		SortBy:     queries.SortKey(r.SortBy),
		Limit:      r.Limit,
		Offset:     r.Offset,
	}
}

type BookingStatisticsRequest struct {
	From       time.Time  `form:"from" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	To         time.Time  `form:"to" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	ResourceID *uuid.UUID `form:"resource_id"`
}
