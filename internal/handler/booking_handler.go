package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studio-booking-api/internal/dto"
	"github.com/noah-isme/studio-booking-api/internal/middleware"
	"github.com/noah-isme/studio-booking-api/internal/models"
	appErrors "github.com/noah-isme/studio-booking-api/pkg/errors"
	"github.com/noah-isme/studio-booking-api/pkg/export"
	"github.com/noah-isme/studio-booking-api/pkg/response"
)

type bookingService interface {
	Book(ctx context.Context, userID string, req dto.BookClassRequest) (*dto.BookingResult, error)
	Cancel(ctx context.Context, userID, classID string) (*dto.CancelResult, error)
	ListUserBookings(ctx context.Context, userID string, includeHistory bool) ([]dto.BookingView, error)
	ListClassBookings(ctx context.Context, requester models.Requester, classID string) (*dto.ClassBookingsResponse, error)
	ExportClassRoster(ctx context.Context, requester models.Requester, classID string, format export.Format) (*export.Document, error)
}

// BookingHandler exposes seat reservation endpoints.
type BookingHandler struct {
	service bookingService
}

// NewBookingHandler constructs a booking handler.
func NewBookingHandler(svc bookingService) *BookingHandler {
	return &BookingHandler{service: svc}
}

// List godoc
// @Summary List active bookings
// @Description Confirmed and waitlisted bookings of the caller, soonest class first
// @Tags Bookings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /bookings [get]
func (h *BookingHandler) List(c *gin.Context) {
	h.list(c, false)
}

// History godoc
// @Summary List booking history
// @Description Every booking of the caller including cancellations, latest class first
// @Tags Bookings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /bookings/history [get]
func (h *BookingHandler) History(c *gin.Context) {
	h.list(c, true)
}

func (h *BookingHandler) list(c *gin.Context, includeHistory bool) {
	who, ok := requester(c)
	if !ok {
		return
	}
	bookings, err := h.service.ListUserBookings(c.Request.Context(), who.UserID, includeHistory)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCount(c, len(bookings))
	response.JSON(c, http.StatusOK, bookings, withMeta(c))
}

// Create godoc
// @Summary Book a class
// @Description Confirms a seat when one is free, otherwise joins the waitlist
// @Tags Bookings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.BookClassRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bookings [post]
func (h *BookingHandler) Create(c *gin.Context) {
	who, ok := requester(c)
	if !ok {
		return
	}
	var req dto.BookClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid booking payload"))
		return
	}

	result, err := h.service.Book(c.Request.Context(), who.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Cancel godoc
// @Summary Cancel a booking
// @Description Cancels the caller's booking and confirms the next waitlisted member when a seat frees up
// @Tags Bookings
// @Produce json
// @Security BearerAuth
// @Param classId path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bookings/cancel/{classId} [delete]
func (h *BookingHandler) Cancel(c *gin.Context) {
	who, ok := requester(c)
	if !ok {
		return
	}
	result, err := h.service.Cancel(c.Request.Context(), who.UserID, c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// ClassRoster godoc
// @Summary Class roster
// @Description Confirmed and waitlisted members of a class
// @Tags Bookings
// @Produce json
// @Security BearerAuth
// @Param classId path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /bookings/class/{classId} [get]
func (h *BookingHandler) ClassRoster(c *gin.Context) {
	who, ok := requester(c)
	if !ok {
		return
	}
	roster, err := h.service.ListClassBookings(c.Request.Context(), who, c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster)
}

// ExportRoster godoc
// @Summary Export class roster
// @Tags Bookings
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param classId path string true "Class ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /bookings/class/{classId}/export [get]
func (h *BookingHandler) ExportRoster(c *gin.Context) {
	who, ok := requester(c)
	if !ok {
		return
	}
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	doc, err := h.service.ExportClassRoster(c.Request.Context(), who, c.Param("classId"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, doc.Filename, doc.ContentType, doc.Body)
}
