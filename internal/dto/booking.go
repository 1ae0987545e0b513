package dto

import (
	"time"

	"github.com/noah-isme/studio-booking-api/internal/models"
)

// BookClassRequest is the payload for reserving a seat.
type BookClassRequest struct {
	ClassID string `json:"classId" validate:"required"`
	Notes   string `json:"notes"`
}

// BookingView describes one of the caller's bookings together with its class.
type BookingView struct {
	ID          string                  `json:"id"`
	Class       ClassSummary            `json:"class"`
	Status      models.EnrollmentStatus `json:"status"`
	BookingDate time.Time               `json:"bookingDate"`
	Notes       string                  `json:"notes,omitempty"`
	CancelledAt *time.Time              `json:"cancelledAt,omitempty"`
	PromotedAt  *time.Time              `json:"promotedAt,omitempty"`
}

// NewBookingView pairs an entry with the class it belongs to.
func NewBookingView(c *models.ClassSession, e models.EnrollmentEntry) BookingView {
	return BookingView{
		ID:          e.ID,
		Class:       NewClassSummary(c),
		Status:      e.Status,
		BookingDate: e.BookingDate,
		Notes:       e.Notes,
		CancelledAt: e.CancelledAt,
		PromotedAt:  e.PromotedAt,
	}
}

// BookingResult is returned by a successful book call.
type BookingResult struct {
	Status  models.EnrollmentStatus `json:"status"`
	Message string                  `json:"message"`
	Booking BookingView             `json:"booking"`
}

// CancelResult is returned by a successful cancel call.
type CancelResult struct {
	Message  string                  `json:"message"`
	Previous models.EnrollmentStatus `json:"previousStatus"`
	Promoted bool                    `json:"promoted"`
}

// RosterEntry is one seat in the instructor-facing roster.
type RosterEntry struct {
	ID          string                  `json:"id"`
	UserID      string                  `json:"userId"`
	Name        string                  `json:"name"`
	Email       string                  `json:"email"`
	Status      models.EnrollmentStatus `json:"status"`
	BookingDate time.Time               `json:"bookingDate"`
	Notes       string                  `json:"notes,omitempty"`
	PromotedAt  *time.Time              `json:"promotedAt,omitempty"`
}

// RosterStats summarises seat usage of a class.
type RosterStats struct {
	TotalConfirmed int `json:"totalConfirmed"`
	TotalWaitlist  int `json:"totalWaitlist"`
	AvailableSpots int `json:"availableSpots"`
}

// ClassBookingsResponse is the roster of a class split by status.
type ClassBookingsResponse struct {
	Class     ClassSummary  `json:"class"`
	Capacity  int           `json:"capacity"`
	Confirmed []RosterEntry `json:"confirmed"`
	Waitlist  []RosterEntry `json:"waitlist"`
	Stats     RosterStats   `json:"stats"`
}
