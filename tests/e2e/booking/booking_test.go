//go:build e2e

package booking_test

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"yoyaku-core/internal/handler/dto/request"
	"yoyaku-core/internal/handler/dto/response"
	"yoyaku-core/tests/common/authtest"
	"yoyaku-core/tests/common/dbtest"
	"yoyaku-core/tests/common/httptest"
	"yoyaku-core/tests/e2e"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const bookingsURL = "/api/bookings"

type BookingSuite struct {
	e2e.SharedSuite
}

func TestBookingSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(BookingSuite))
}

// fixture bundles the reference rows a booking needs.
type fixture struct {
	TenantID   uuid.UUID
	CustomerID uuid.UUID
	ServiceID  uuid.UUID
	ResourceID uuid.UUID
	SlotStart  time.Time
	Token      string
}

func (s *BookingSuite) seed(name string) fixture {
	t := s.T()

	tenantID := dbtest.CreateTestTenant(t, s.DB, name)
	return fixture{
		TenantID:   tenantID,
		CustomerID: dbtest.CreateTestCustomer(t, s.DB, tenantID, "山田太郎"),
		ServiceID:  dbtest.CreateTestService(t, s.DB, tenantID, "カット60分"),
		ResourceID: dbtest.CreateTestResource(t, s.DB, tenantID, "Room A"),
		SlotStart:  time.Now().Truncate(time.Hour).Add(24 * time.Hour),
		Token:      authtest.IssueTenantToken(t, s.Config.JWT.Secret, tenantID, "e2e-operator"),
	}
}

func (s *BookingSuite) slot(f fixture, offset time.Duration, capacity int32) uuid.UUID {
	return dbtest.CreateTestTimeSlot(s.T(), s.DB, f.TenantID, f.ResourceID, f.SlotStart.Add(offset), time.Hour, capacity)
}

func (s *BookingSuite) createRequest(f fixture, slotIDs ...uuid.UUID) request.CreateBookingRequest {
	return request.CreateBookingRequest{
		CustomerID:  f.CustomerID,
		ServiceID:   f.ServiceID,
		ResourceID:  f.ResourceID,
		StartAt:     f.SlotStart,
		EndAt:       f.SlotStart.Add(time.Duration(len(slotIDs)) * time.Hour),
		TimeSlotIDs: slotIDs,
	}
}

func (s *BookingSuite) createBooking(f fixture, key string, slotIDs ...uuid.UUID) response.BookingResponse {
	t := s.T()

	w := httptest.PerformRequestWithHeaders(t, s.Router, http.MethodPost, bookingsURL,
		s.createRequest(f, slotIDs...), f.Token, map[string]string{"Idempotency-Key": key})
	require.Equal(t, http.StatusCreated, w.Code, "booking creation failed: %s", w.Body.String())

	var created response.BookingResponse
	require.NoError(t, httptest.DecodeResponseBody(t, w.Body, &created))
	return created
}

// =============================================================================
// TestCreateBooking - admission path
// =============================================================================

func (s *BookingSuite) TestCreateBooking() {
	s.Run("Normal case: booking reserves capacity and records history", func() {
		t := s.T()

		f := s.seed("create-tenant")
		slot1 := s.slot(f, 0, 3)
		slot2 := s.slot(f, time.Hour, 3)

		created := s.createBooking(f, "e2e-create-1", slot1, slot2)

		require.Equal(t, "tentative", created.Status)
		require.NotNil(t, created.ExpiresAt, "tentative booking should carry an expiry")
		require.Equal(t, int64(3000*2), created.TotalJPY)
		require.Len(t, created.Items, 2)

		require.EqualValues(t, 2, dbtest.AvailableCapacity(t, s.DB, slot1))
		require.EqualValues(t, 2, dbtest.AvailableCapacity(t, s.DB, slot2))
		require.EqualValues(t, 1, dbtest.CountRows(t, s.DB,
			"SELECT count(*) FROM booking_change_history WHERE booking_id = $1 AND change_type = 'created'", created.ID))
	})

	s.Run("Normal case: same idempotency key replays without reserving twice", func() {
		t := s.T()

		f := s.seed("replay-tenant")
		slot := s.slot(f, 0, 3)

		first := s.createBooking(f, "e2e-replay-1", slot)

		w := httptest.PerformRequestWithHeaders(t, s.Router, http.MethodPost, bookingsURL,
			s.createRequest(f, slot), f.Token, map[string]string{"Idempotency-Key": "e2e-replay-1"})
		require.Equal(t, http.StatusOK, w.Code)

		var replayed response.BookingResponse
		require.NoError(t, httptest.DecodeResponseBody(t, w.Body, &replayed))
		require.Equal(t, first.ID, replayed.ID)
		require.True(t, replayed.Replayed)

		require.EqualValues(t, 2, dbtest.AvailableCapacity(t, s.DB, slot))
		require.EqualValues(t, 1, dbtest.CountRows(t, s.DB,
			"SELECT count(*) FROM bookings WHERE tenant_id = $1", f.TenantID))
	})

	s.Run("Error case: second booking on a full slot gets 409 and no partial state", func() {
		t := s.T()

		f := s.seed("conflict-tenant")
		slot := s.slot(f, 0, 1)

		s.createBooking(f, "e2e-conflict-1", slot)
		require.EqualValues(t, 0, dbtest.AvailableCapacity(t, s.DB, slot))

		w := httptest.PerformRequestWithHeaders(t, s.Router, http.MethodPost, bookingsURL,
			s.createRequest(f, slot), f.Token, map[string]string{"Idempotency-Key": "e2e-conflict-2"})
		require.Equal(t, http.StatusConflict, w.Code)

		// The losing request must leave nothing behind.
		require.EqualValues(t, 0, dbtest.AvailableCapacity(t, s.DB, slot))
		require.EqualValues(t, 1, dbtest.CountRows(t, s.DB,
			"SELECT count(*) FROM bookings WHERE tenant_id = $1", f.TenantID))
	})

	s.Run("Error case: same slot listed twice is rejected without partial state", func() {
		t := s.T()

		f := s.seed("dupslot-tenant")
		slot := s.slot(f, 0, 2)

		w := httptest.PerformRequestWithHeaders(t, s.Router, http.MethodPost, bookingsURL,
			s.createRequest(f, slot, slot), f.Token, map[string]string{"Idempotency-Key": "e2e-dupslot-1"})
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)

		require.EqualValues(t, 2, dbtest.AvailableCapacity(t, s.DB, slot))
		require.EqualValues(t, 0, dbtest.CountRows(t, s.DB,
			"SELECT count(*) FROM bookings WHERE tenant_id = $1", f.TenantID))
	})

	s.Run("Error case: missing Idempotency-Key header", func() {
		t := s.T()

		f := s.seed("nokey-tenant")
		slot := s.slot(f, 0, 1)

		w := httptest.PerformRequest(t, s.Router, http.MethodPost, bookingsURL, s.createRequest(f, slot), f.Token)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	s.Run("Error case: unauthenticated request", func() {
		t := s.T()

		f := s.seed("noauth-tenant")
		slot := s.slot(f, 0, 1)

		w := httptest.PerformRequestWithHeaders(t, s.Router, http.MethodPost, bookingsURL,
			s.createRequest(f, slot), "", map[string]string{"Idempotency-Key": "e2e-noauth-1"})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

// =============================================================================
// TestStatusLifecycle - state machine over HTTP
// =============================================================================

func (s *BookingSuite) TestStatusLifecycle() {
	s.Run("Normal case: tentative -> confirmed -> completed", func() {
		t := s.T()

		f := s.seed("lifecycle-tenant")
		slot := s.slot(f, 0, 2)
		created := s.createBooking(f, "e2e-lifecycle-1", slot)

		w := httptest.PerformRequest(t, s.Router, http.MethodPatch,
			fmt.Sprintf("%s/%s/status", bookingsURL, created.ID), map[string]string{"status": "confirmed"}, f.Token)
		require.Equal(t, http.StatusOK, w.Code)

		var confirmed response.BookingResponse
		require.NoError(t, httptest.DecodeResponseBody(t, w.Body, &confirmed))
		require.Equal(t, "confirmed", confirmed.Status)
		require.Nil(t, confirmed.ExpiresAt, "confirming must clear the expiry")

		w = httptest.PerformRequest(t, s.Router, http.MethodPatch,
			fmt.Sprintf("%s/%s/status", bookingsURL, created.ID), map[string]string{"status": "completed"}, f.Token)
		require.Equal(t, http.StatusOK, w.Code)

		// Completion does not release capacity.
		require.EqualValues(t, 1, dbtest.AvailableCapacity(t, s.DB, slot))
	})

	s.Run("Error case: tentative cannot jump to completed", func() {
		t := s.T()

		f := s.seed("badjump-tenant")
		slot := s.slot(f, 0, 2)
		created := s.createBooking(f, "e2e-badjump-1", slot)

		w := httptest.PerformRequest(t, s.Router, http.MethodPatch,
			fmt.Sprintf("%s/%s/status", bookingsURL, created.ID), map[string]string{"status": "completed"}, f.Token)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	s.Run("Error case: unknown status value", func() {
		t := s.T()

		f := s.seed("badstatus-tenant")
		slot := s.slot(f, 0, 2)
		created := s.createBooking(f, "e2e-badstatus-1", slot)

		w := httptest.PerformRequest(t, s.Router, http.MethodPatch,
			fmt.Sprintf("%s/%s/status", bookingsURL, created.ID), map[string]string{"status": "pending"}, f.Token)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// =============================================================================
// TestCancelBooking - cancellation invariants
// =============================================================================

func (s *BookingSuite) TestCancelBooking() {
	s.Run("Normal case: cancel releases capacity and writes exactly one cancellation", func() {
		t := s.T()

		f := s.seed("cancel-tenant")
		slot := s.slot(f, 0, 2)
		created := s.createBooking(f, "e2e-cancel-1", slot)
		require.EqualValues(t, 1, dbtest.AvailableCapacity(t, s.DB, slot))

		w := httptest.PerformRequest(t, s.Router, http.MethodPost,
			fmt.Sprintf("%s/%s/cancel", bookingsURL, created.ID),
			map[string]string{"reason": "customer_request", "note": "予定変更のため"}, f.Token)
		require.Equal(t, http.StatusOK, w.Code)

		var cancelled response.BookingResponse
		require.NoError(t, httptest.DecodeResponseBody(t, w.Body, &cancelled))
		require.Equal(t, "cancelled", cancelled.Status)

		require.EqualValues(t, 2, dbtest.AvailableCapacity(t, s.DB, slot))
		require.EqualValues(t, 1, dbtest.CountRows(t, s.DB,
			"SELECT count(*) FROM booking_cancellations WHERE booking_id = $1", created.ID))
		require.EqualValues(t, 1, dbtest.CountRows(t, s.DB,
			"SELECT count(*) FROM booking_change_history WHERE booking_id = $1 AND change_type = 'cancelled'", created.ID))
	})

	s.Run("Error case: cancelling twice is rejected and capacity is not double-credited", func() {
		t := s.T()

		f := s.seed("doublecancel-tenant")
		slot := s.slot(f, 0, 2)
		created := s.createBooking(f, "e2e-doublecancel-1", slot)

		url := fmt.Sprintf("%s/%s/cancel", bookingsURL, created.ID)
		w := httptest.PerformRequest(t, s.Router, http.MethodPost, url, map[string]string{"reason": "other"}, f.Token)
		require.Equal(t, http.StatusOK, w.Code)

		w = httptest.PerformRequest(t, s.Router, http.MethodPost, url, map[string]string{"reason": "other"}, f.Token)
		require.Equal(t, http.StatusBadRequest, w.Code)

		require.EqualValues(t, 2, dbtest.AvailableCapacity(t, s.DB, slot))
		require.EqualValues(t, 1, dbtest.CountRows(t, s.DB,
			"SELECT count(*) FROM booking_cancellations WHERE booking_id = $1", created.ID))
	})

	s.Run("Error case: unknown cancellation reason", func() {
		t := s.T()

		f := s.seed("badreason-tenant")
		slot := s.slot(f, 0, 2)
		created := s.createBooking(f, "e2e-badreason-1", slot)

		w := httptest.PerformRequest(t, s.Router, http.MethodPost,
			fmt.Sprintf("%s/%s/cancel", bookingsURL, created.ID), map[string]string{"reason": "changed_mind"}, f.Token)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// =============================================================================
// TestRescheduleBooking - slot swap
// =============================================================================

func (s *BookingSuite) TestRescheduleBooking() {
	s.Run("Normal case: old slots credited, new slots debited", func() {
		t := s.T()

		f := s.seed("reschedule-tenant")
		oldSlot := s.slot(f, 0, 2)
		newSlot := s.slot(f, 48*time.Hour, 2)
		created := s.createBooking(f, "e2e-reschedule-1", oldSlot)

		newStart := f.SlotStart.Add(48 * time.Hour)
		w := httptest.PerformRequest(t, s.Router, http.MethodPost,
			fmt.Sprintf("%s/%s/reschedule", bookingsURL, created.ID),
			request.RescheduleBookingRequest{
				ResourceID:  f.ResourceID,
				StartAt:     newStart,
				EndAt:       newStart.Add(time.Hour),
				TimeSlotIDs: []uuid.UUID{newSlot},
				Reason:      "customer request",
			}, f.Token)
		require.Equal(t, http.StatusOK, w.Code, "reschedule failed: %s", w.Body.String())

		var moved response.BookingResponse
		require.NoError(t, httptest.DecodeResponseBody(t, w.Body, &moved))
		require.True(t, moved.StartAt.Equal(newStart))
		require.Len(t, moved.Items, 1)
		require.Equal(t, newSlot, moved.Items[0].TimeSlotID)

		require.EqualValues(t, 2, dbtest.AvailableCapacity(t, s.DB, oldSlot))
		require.EqualValues(t, 1, dbtest.AvailableCapacity(t, s.DB, newSlot))
		require.EqualValues(t, 1, dbtest.CountRows(t, s.DB,
			"SELECT count(*) FROM booking_change_history WHERE booking_id = $1 AND change_type = 'rescheduled'", created.ID))
	})

	s.Run("Error case: cancelled booking cannot move", func() {
		t := s.T()

		f := s.seed("reschedule-terminal-tenant")
		oldSlot := s.slot(f, 0, 2)
		newSlot := s.slot(f, 48*time.Hour, 2)
		created := s.createBooking(f, "e2e-reschedule-2", oldSlot)

		w := httptest.PerformRequest(t, s.Router, http.MethodPost,
			fmt.Sprintf("%s/%s/cancel", bookingsURL, created.ID), map[string]string{"reason": "other"}, f.Token)
		require.Equal(t, http.StatusOK, w.Code)

		newStart := f.SlotStart.Add(48 * time.Hour)
		w = httptest.PerformRequest(t, s.Router, http.MethodPost,
			fmt.Sprintf("%s/%s/reschedule", bookingsURL, created.ID),
			request.RescheduleBookingRequest{
				ResourceID:  f.ResourceID,
				StartAt:     newStart,
				EndAt:       newStart.Add(time.Hour),
				TimeSlotIDs: []uuid.UUID{newSlot},
			}, f.Token)
		require.Equal(t, http.StatusConflict, w.Code)
	})
}

// =============================================================================
// TestExpirySweep - tentative hold cleanup
// =============================================================================

func (s *BookingSuite) TestExpirySweep() {
	s.Run("Normal case: expired tentative booking is cancelled and capacity restored", func() {
		t := s.T()

		f := s.seed("expiry-tenant")
		slot := s.slot(f, 0, 2)
		created := s.createBooking(f, "e2e-expiry-1", slot)
		dbtest.ForceExpire(t, s.DB, created.ID)

		w := httptest.PerformRequest(t, s.Router, http.MethodPost, bookingsURL+"/cleanup", nil, f.Token)
		require.Equal(t, http.StatusOK, w.Code)

		var result response.CleanupResponse
		require.NoError(t, httptest.DecodeResponseBody(t, w.Body, &result))
		require.Equal(t, 1, result.Expired)

		require.EqualValues(t, 2, dbtest.AvailableCapacity(t, s.DB, slot))
		require.EqualValues(t, 1, dbtest.CountRows(t, s.DB,
			"SELECT count(*) FROM booking_cancellations WHERE booking_id = $1 AND reason_code = 'expired'", created.ID))
	})

	s.Run("Normal case: confirmed bookings survive the sweep", func() {
		t := s.T()

		f := s.seed("expiry-survivor-tenant")
		slot := s.slot(f, 0, 2)
		created := s.createBooking(f, "e2e-expiry-2", slot)

		w := httptest.PerformRequest(t, s.Router, http.MethodPatch,
			fmt.Sprintf("%s/%s/status", bookingsURL, created.ID), map[string]string{"status": "confirmed"}, f.Token)
		require.Equal(t, http.StatusOK, w.Code)

		w = httptest.PerformRequest(t, s.Router, http.MethodPost, bookingsURL+"/cleanup", nil, f.Token)
		require.Equal(t, http.StatusOK, w.Code)

		var result response.CleanupResponse
		require.NoError(t, httptest.DecodeResponseBody(t, w.Body, &result))
		require.Equal(t, 0, result.Expired)
		require.EqualValues(t, 1, dbtest.AvailableCapacity(t, s.DB, slot))
	})
}

// =============================================================================
// TestSearchAndStatistics - read side
// =============================================================================

func (s *BookingSuite) TestSearchAndStatistics() {
	s.Run("Normal case: status filter and paging", func() {
		t := s.T()

		f := s.seed("search-tenant")
		slot1 := s.slot(f, 0, 5)
		slot2 := s.slot(f, time.Hour, 5)

		first := s.createBooking(f, "e2e-search-1", slot1)
		s.createBooking(f, "e2e-search-2", slot2)

		w := httptest.PerformRequest(t, s.Router, http.MethodPatch,
			fmt.Sprintf("%s/%s/status", bookingsURL, first.ID), map[string]string{"status": "confirmed"}, f.Token)
		require.Equal(t, http.StatusOK, w.Code)

		w = httptest.PerformRequest(t, s.Router, http.MethodGet, bookingsURL+"?status=confirmed", nil, f.Token)
		require.Equal(t, http.StatusOK, w.Code)

		var result response.BookingSearchResponse
		require.NoError(t, httptest.DecodeResponseBody(t, w.Body, &result))
		require.EqualValues(t, 1, result.Total)
		require.Len(t, result.Items, 1)
		require.Equal(t, first.ID, result.Items[0].ID)
	})

	s.Run("Normal case: another tenant sees nothing", func() {
		t := s.T()

		f := s.seed("isolation-tenant")
		slot := s.slot(f, 0, 5)
		created := s.createBooking(f, "e2e-isolation-1", slot)

		otherTenant := dbtest.CreateTestTenant(t, s.DB, "isolation-other-tenant")
		otherToken := authtest.IssueTenantToken(t, s.Config.JWT.Secret, otherTenant, "e2e-operator")

		w := httptest.PerformRequest(t, s.Router, http.MethodGet,
			fmt.Sprintf("%s/%s", bookingsURL, created.ID), nil, otherToken)
		require.Equal(t, http.StatusNotFound, w.Code)

		w = httptest.PerformRequest(t, s.Router, http.MethodGet, bookingsURL, nil, otherToken)
		require.Equal(t, http.StatusOK, w.Code)

		var result response.BookingSearchResponse
		require.NoError(t, httptest.DecodeResponseBody(t, w.Body, &result))
		require.EqualValues(t, 0, result.Total)
	})

	s.Run("Normal case: statistics aggregate the period", func() {
		t := s.T()

		f := s.seed("stats-tenant")
		slot1 := s.slot(f, 0, 5)
		slot2 := s.slot(f, time.Hour, 5)

		first := s.createBooking(f, "e2e-stats-1", slot1)
		s.createBooking(f, "e2e-stats-2", slot2)

		w := httptest.PerformRequest(t, s.Router, http.MethodPatch,
			fmt.Sprintf("%s/%s/status", bookingsURL, first.ID), map[string]string{"status": "confirmed"}, f.Token)
		require.Equal(t, http.StatusOK, w.Code)

		from := f.SlotStart.Add(-time.Hour).UTC().Format(time.RFC3339)
		to := f.SlotStart.Add(72 * time.Hour).UTC().Format(time.RFC3339)
		w = httptest.PerformRequest(t, s.Router, http.MethodGet,
			fmt.Sprintf("%s/stats?from=%s&to=%s", bookingsURL, from, to), nil, f.Token)
		require.Equal(t, http.StatusOK, w.Code, "stats failed: %s", w.Body.String())

		var stats struct {
			StatusCounts  map[string]int64 `json:"status_counts"`
			TotalValueJPY int64            `json:"total_value_jpy"`
		}
		require.NoError(t, httptest.DecodeResponseBody(t, w.Body, &stats))
		require.EqualValues(t, 1, stats.StatusCounts["confirmed"])
		require.EqualValues(t, 1, stats.StatusCounts["tentative"])
		require.Equal(t, int64(6000), stats.TotalValueJPY)
	})

	s.Run("Normal case: resource filter narrows every aggregate", func() {
		t := s.T()

		f := s.seed("stats-resource-tenant")
		slotA := s.slot(f, 0, 5)
		s.createBooking(f, "e2e-stats-res-1", slotA)

		otherResource := dbtest.CreateTestResource(t, s.DB, f.TenantID, "Room B")
		otherStart := f.SlotStart.Add(2 * time.Hour)
		slotB := dbtest.CreateTestTimeSlot(t, s.DB, f.TenantID, otherResource, otherStart, time.Hour, 5)

		req := s.createRequest(f, slotB)
		req.ResourceID = otherResource
		req.StartAt = otherStart
		req.EndAt = otherStart.Add(time.Hour)
		w := httptest.PerformRequestWithHeaders(t, s.Router, http.MethodPost, bookingsURL,
			req, f.Token, map[string]string{"Idempotency-Key": "e2e-stats-res-2"})
		require.Equal(t, http.StatusCreated, w.Code)

		from := f.SlotStart.Add(-time.Hour).UTC().Format(time.RFC3339)
		to := f.SlotStart.Add(72 * time.Hour).UTC().Format(time.RFC3339)
		w = httptest.PerformRequest(t, s.Router, http.MethodGet,
			fmt.Sprintf("%s/stats?from=%s&to=%s&resource_id=%s", bookingsURL, from, to, otherResource), nil, f.Token)
		require.Equal(t, http.StatusOK, w.Code, "filtered stats failed: %s", w.Body.String())

		var stats struct {
			StatusCounts map[string]int64 `json:"status_counts"`
			PeakHours    []struct {
				Hour  int   `json:"hour"`
				Count int64 `json:"count"`
			} `json:"peak_hours"`
			TopResources []struct {
				ResourceID uuid.UUID `json:"resource_id"`
				Count      int64     `json:"count"`
			} `json:"top_resources"`
		}
		require.NoError(t, httptest.DecodeResponseBody(t, w.Body, &stats))
		require.EqualValues(t, 1, stats.StatusCounts["tentative"])

		var peakTotal int64
		for _, hc := range stats.PeakHours {
			peakTotal += hc.Count
		}
		require.EqualValues(t, 1, peakTotal, "peak hours must honor the resource filter")

		require.Len(t, stats.TopResources, 1)
		require.Equal(t, otherResource, stats.TopResources[0].ResourceID)
	})

	s.Run("Error case: inverted statistics period", func() {
		t := s.T()

		f := s.seed("stats-period-tenant")

		from := f.SlotStart.UTC().Format(time.RFC3339)
		to := f.SlotStart.Add(-time.Hour).UTC().Format(time.RFC3339)
		w := httptest.PerformRequest(t, s.Router, http.MethodGet,
			fmt.Sprintf("%s/stats?from=%s&to=%s", bookingsURL, from, to), nil, f.Token)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}
