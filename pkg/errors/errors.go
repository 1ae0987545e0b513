package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so cloned errors compare equal to their template.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Generic errors.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Booking rule violations.
var (
	ErrAlreadyBooked            = New("ALREADY_BOOKED", http.StatusBadRequest, "you already hold a booking for this class")
	ErrTooSoon                  = New("TOO_SOON", http.StatusBadRequest, "cannot book classes starting within 30 minutes")
	ErrTooFarAhead              = New("TOO_FAR_AHEAD", http.StatusBadRequest, "cannot book classes more than 30 days in advance")
	ErrNoteTooLong              = New("NOTE_TOO_LONG", http.StatusBadRequest, "booking notes cannot exceed 500 characters")
	ErrNotEnrolled              = New("NOT_ENROLLED", http.StatusNotFound, "you are not enrolled in this class")
	ErrCancellationWindowClosed = New("CANCELLATION_WINDOW_CLOSED", http.StatusBadRequest, "cannot cancel within 2 hours of class start time")
	ErrClassInactive            = New("CLASS_INACTIVE", http.StatusBadRequest, "this class is no longer active")
	ErrClassStarted             = New("CLASS_STARTED", http.StatusBadRequest, "cannot book classes that have already started or passed")
	ErrClassHasBookings         = New("CLASS_HAS_BOOKINGS", http.StatusBadRequest, "cannot delete class with active bookings")
	ErrCapacityBelowConfirmed   = New("CAPACITY_BELOW_CONFIRMED", http.StatusBadRequest, "capacity cannot be lower than confirmed bookings")
	ErrWriteConflict            = New("WRITE_CONFLICT", http.StatusConflict, "class was modified concurrently, please retry")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
