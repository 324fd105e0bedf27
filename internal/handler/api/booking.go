package api

import (
	"errors"
	"net/http"
	"strings"

	"yoyaku-core/internal/domain/booking"
	reqdto "yoyaku-core/internal/handler/dto/request"
	resdto "yoyaku-core/internal/handler/dto/response"
	"yoyaku-core/internal/handler/httperr"
	"yoyaku-core/internal/handler/middleware"
	"yoyaku-core/internal/usecase/commands"
	"yoyaku-core/internal/usecase/queries"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type BookingHandler struct {
	bookingCommands commands.BookingCommands
	bookingQueries  queries.BookingQueries
}

func NewBookingHandler(bookingCommands commands.BookingCommands, bookingQueries queries.BookingQueries) *BookingHandler {
	return &BookingHandler{
		bookingCommands: bookingCommands,
		bookingQueries:  bookingQueries,
	}
}

// @Summary Create booking
// @Description Create a new booking with idempotency key
// @Tags bookings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string true "Idempotency key for duplicate prevention"
// @Param request body reqdto.CreateBookingRequest true "Booking request"
// @Success 201 {object} resdto.BookingResponse
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 422 {object} map[string]string
// @Router /bookings [post]
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	idempotencyKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if idempotencyKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Idempotency-Key header is required"})
		return
	}

	var req reqdto.CreateBookingRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	result, err := h.bookingCommands.CreateBooking(c.Request.Context(), commands.CreateBookingInput{
		TenantID:       tenantID,
		CustomerID:     req.CustomerID,
		ServiceID:      req.ServiceID,
		ResourceID:     req.ResourceID,
		StartAt:        req.StartAt,
		EndAt:          req.EndAt,
		TimeSlotIDs:    req.TimeSlotIDs,
		IdempotencyKey: idempotencyKey,
		Metadata:       req.Metadata,
		AutoConfirm:    req.AutoConfirm,
	})
	if err != nil {
		h.writeCommandError(c, err)
		return
	}

	response := resdto.FromBookingView(result.Booking)
	response.Replayed = result.IsReplayed
	if result.IsReplayed {
		c.JSON(http.StatusOK, response)
		return
	}
	c.JSON(http.StatusCreated, response)
}

// @Summary Update booking status
// @Description Drive the booking through its status state machine
// @Tags bookings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Booking ID"
// @Param request body reqdto.UpdateBookingStatusRequest true "Target status"
// @Success 200 {object} resdto.BookingResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 422 {object} map[string]string
// @Router /bookings/{id}/status [patch]
func (h *BookingHandler) UpdateBookingStatus(c *gin.Context) {
	tenantID, id, ok := h.tenantAndBookingID(c)
	if !ok {
		return
	}

	var req reqdto.UpdateBookingStatusRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	status, valid := req.ToStatus()
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown booking status"})
		return
	}

	view, err := h.bookingCommands.UpdateBookingStatus(c.Request.Context(), tenantID, id, status, req.Reason, middleware.GetActor(c))
	if err != nil {
		h.writeCommandError(c, err)
		return
	}
	c.JSON(http.StatusOK, resdto.FromBookingView(view))
}

// @Summary Cancel booking
// @Description Cancel a booking and release its reserved capacity
// @Tags bookings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Booking ID"
// @Param request body reqdto.CancelBookingRequest true "Cancellation reason"
// @Success 200 {object} resdto.BookingResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /bookings/{id}/cancel [post]
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	tenantID, id, ok := h.tenantAndBookingID(c)
	if !ok {
		return
	}

	var req reqdto.CancelBookingRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	reason, valid := req.ToReason()
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown cancellation reason"})
		return
	}

	view, err := h.bookingCommands.CancelBooking(c.Request.Context(), tenantID, id, reason, req.Note, middleware.GetActor(c))
	if err != nil {
		h.writeCommandError(c, err)
		return
	}
	c.JSON(http.StatusOK, resdto.FromBookingView(view))
}

// @Summary Reschedule booking
// @Description Move a booking onto a new set of time slots
// @Tags bookings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Booking ID"
// @Param request body reqdto.RescheduleBookingRequest true "New schedule"
// @Success 200 {object} resdto.BookingResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 422 {object} map[string]string
// @Router /bookings/{id}/reschedule [post]
func (h *BookingHandler) RescheduleBooking(c *gin.Context) {
	tenantID, id, ok := h.tenantAndBookingID(c)
	if !ok {
		return
	}

	var req reqdto.RescheduleBookingRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	view, err := h.bookingCommands.RescheduleBooking(c.Request.Context(), commands.RescheduleBookingInput{
		TenantID:    tenantID,
		BookingID:   id,
		ResourceID:  req.ResourceID,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		TimeSlotIDs: req.TimeSlotIDs,
		Reason:      req.Reason,
		Actor:       middleware.GetActor(c),
	})
	if err != nil {
		h.writeCommandError(c, err)
		return
	}
	c.JSON(http.StatusOK, resdto.FromBookingView(view))
}

// @Summary Get booking
// @Description Get booking by ID
// @Tags bookings
// @Produce json
// @Security BearerAuth
// @Param id path string true "Booking ID"
// @Success 200 {object} resdto.BookingResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /bookings/{id} [get]
func (h *BookingHandler) GetBooking(c *gin.Context) {
	tenantID, id, ok := h.tenantAndBookingID(c)
	if !ok {
		return
	}

	view, err := h.bookingQueries.GetByID(c.Request.Context(), tenantID, id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Booking not found"})
		return
	}
	c.JSON(http.StatusOK, resdto.FromBookingView(view))
}

// @Summary Search bookings
// @Description Search bookings with filters and paging
// @Tags bookings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} resdto.BookingSearchResponse
// @Failure 400 {object} map[string]string
// @Router /bookings [get]
func (h *BookingHandler) SearchBookings(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var req reqdto.SearchBookingsRequest
	if bindErr := c.ShouldBindQuery(&req); bindErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	result, err := h.bookingQueries.Search(c.Request.Context(), req.ToCriteria(tenantID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, resdto.FromSearchResult(result))
}

// @Summary Booking statistics
// @Description Aggregate booking statistics for a period
// @Tags bookings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} queries.BookingStatistics
// @Failure 400 {object} map[string]string
// @Router /bookings/stats [get]
func (h *BookingHandler) GetStatistics(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var req reqdto.BookingStatisticsRequest
	if bindErr := c.ShouldBindQuery(&req); bindErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	stats, err := h.bookingQueries.Statistics(c.Request.Context(), tenantID, req.From, req.To, req.ResourceID)
	if err != nil {
		if errors.Is(err, queries.ErrInvalidPeriod) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid statistics period"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// @Summary Expire tentative bookings
// @Description Sweep tentative bookings past their expiry into cancelled
// @Tags bookings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} resdto.CleanupResponse
// @Router /bookings/cleanup [post]
func (h *BookingHandler) CleanupExpired(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	expired, err := h.bookingCommands.CleanupExpiredBookings(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, resdto.CleanupResponse{Expired: expired})
}

func (h *BookingHandler) tenantAndBookingID(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return uuid.Nil, uuid.Nil, false
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID format"})
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, id, true
}

func (h *BookingHandler) writeCommandError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, commands.ErrBookingNotFound):
		httperr.AbortWithError(c, http.StatusNotFound, err, "Booking not found", nil)
	case errors.Is(err, commands.ErrSlotNotFound):
		httperr.AbortWithError(c, http.StatusNotFound, err, "Time slot not found", nil)
	case errors.Is(err, commands.ErrCapacityConflict):
		httperr.AbortWithError(c, http.StatusConflict, err, "Insufficient capacity for requested time slot", capacityDetail(err))
	case errors.Is(err, commands.ErrConcurrentUpdate):
		httperr.AbortWithError(c, http.StatusConflict, err, "Booking was modified concurrently", nil)
	case errors.Is(err, commands.ErrInvalidTransition):
		httperr.AbortWithError(c, http.StatusBadRequest, err, "Status transition not allowed", nil)
	case errors.Is(err, commands.ErrBookingNotReschedulable):
		httperr.AbortWithError(c, http.StatusConflict, err, "Booking cannot be rescheduled", nil)
	case errors.Is(err, commands.ErrInvalidStatus), errors.Is(err, commands.ErrInvalidCancelReason):
		httperr.AbortWithError(c, http.StatusBadRequest, err, "Invalid request value", nil)
	case errors.Is(err, commands.ErrDomainValidation):
		httperr.AbortWithError(c, http.StatusUnprocessableEntity, err, "Domain validation failed", nil)
	default:
		httperr.AbortWithError(c, http.StatusInternalServerError, err, "Internal server error", nil)
	}
}

// capacityDetail names the slot that could not be reserved so clients can
// offer alternatives.
func capacityDetail(err error) any {
	var slotErr *booking.SlotCapacityError
	if errors.As(err, &slotErr) {
		return gin.H{"slot_id": slotErr.SlotID.String()}
	}
	return nil
}
