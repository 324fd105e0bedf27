package response

import (
	"time"

	"yoyaku-core/internal/usecase/queries"

	"github.com/google/uuid"
)

type BookingItemResponse struct {
	TimeSlotID uuid.UUID `json:"timeslotId"`
	ResourceID uuid.UUID `json:"resourceId"`
}

type BookingResponse struct {
	ID            uuid.UUID             `json:"id"`
	CustomerID    uuid.UUID             `json:"customerId"`
	ServiceID     uuid.UUID             `json:"serviceId"`
	ResourceID    uuid.UUID             `json:"resourceId"`
	StartAt       time.Time             `json:"startAt"`
	EndAt         time.Time             `json:"endAt"`
	Status        string                `json:"status"`
	TotalJPY      int64                 `json:"totalJpy"`
	MaxPenaltyJPY int64                 `json:"maxPenaltyJpy"`
	ExpiresAt     *time.Time            `json:"expiresAt,omitempty"`
	Metadata      map[string]any        `json:"metadata,omitempty"`
	Items         []BookingItemResponse `json:"items"`
	Replayed      bool                  `json:"replayed,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

type BookingListItemResponse struct {
	ID         uuid.UUID `json:"id"`
	CustomerID uuid.UUID `json:"customerId"`
	ServiceID  uuid.UUID `json:"serviceId"`
	StartAt    time.Time `json:"startAt"`
	EndAt      time.Time `json:"endAt"`
	Status     string    `json:"status"`
	TotalJPY   int64     `json:"totalJpy"`
	CreatedAt  time.Time `json:"createdAt"`
}

type BookingSearchResponse struct {
	Items  []*BookingListItemResponse `json:"items"`
	Total  int64                      `json:"total"`
	Limit  int32                      `json:"limit"`
	Offset int32                      `json:"offset"`
}

type CleanupResponse struct {
	Expired int `json:"expired"`
}

func FromBookingView(view *queries.BookingView) *BookingResponse {
	items := make([]BookingItemResponse, len(view.Items))
	for i, item := range view.Items {
		items[i] = BookingItemResponse{
			TimeSlotID: item.TimeSlotID,
			ResourceID: item.ResourceID,
		}
	}
	return &BookingResponse{
		ID:            view.ID,
		CustomerID:    view.CustomerID,
		ServiceID:     view.ServiceID,
		ResourceID:    view.ResourceID,
		StartAt:       view.StartAt,
		EndAt:         view.EndAt,
		Status:        view.Status,
		TotalJPY:      view.TotalJPY,
		MaxPenaltyJPY: view.MaxPenaltyJPY,
		ExpiresAt:     view.ExpiresAt,
		Metadata:      view.Metadata,
		Items:         items,
		CreatedAt:     view.CreatedAt,
		UpdatedAt:     view.UpdatedAt,
	}
}

func FromBookingListItem(item *queries.BookingListItem) *BookingListItemResponse {
	return &BookingListItemResponse{
		ID:         item.ID,
		CustomerID: item.CustomerID,
		ServiceID:  item.ServiceID,
		StartAt:    item.StartAt,
		EndAt:      item.EndAt,
		Status:     item.Status,
		TotalJPY:   item.TotalJPY,
		CreatedAt:  item.CreatedAt,
	}
}

func FromSearchResult(result *queries.SearchResult) *BookingSearchResponse {
	items := make([]*BookingListItemResponse, len(result.Items))
	for i, item := range result.Items {
		items[i] = FromBookingListItem(item)
	}
	return &BookingSearchResponse{
		Items:  items,
		Total:  result.Total,
		Limit:  result.Limit,
		Offset: result.Offset,
	}
}
