package dto

import (
	"time"

	"github.com/noah-isme/studio-booking-api/internal/models"
)

// ScheduleInput carries the start and end instants of a class.
type ScheduleInput struct {
	StartTime time.Time `json:"startTime" validate:"required"`
	EndTime   time.Time `json:"endTime" validate:"required,gtfield=StartTime"`
}

// CreateClassRequest is the payload for adding a class to the catalog.
type CreateClassRequest struct {
	Title        string               `json:"title" validate:"required,max=100"`
	Description  string               `json:"description" validate:"required,max=500"`
	InstructorID string               `json:"instructorId" validate:"omitempty,uuid"`
	Type         models.ClassType     `json:"type" validate:"required,oneof=hatha vinyasa ashtanga yin hot restorative meditation"`
	Level        models.ClassLevel    `json:"level" validate:"required,oneof=beginner intermediate advanced all-levels"`
	Location     models.ClassLocation `json:"location" validate:"required,oneof=studio-1 studio-2 outdoor online"`
	Capacity     int                  `json:"capacity" validate:"required,min=1,max=50"`
	Schedule     ScheduleInput        `json:"schedule" validate:"required"`
	IsActive     *bool                `json:"isActive"`
}

// UpdateClassRequest applies a partial update. Nil fields are left untouched.
type UpdateClassRequest struct {
	Title       *string               `json:"title" validate:"omitempty,min=1,max=100"`
	Description *string               `json:"description" validate:"omitempty,max=500"`
	Type        *models.ClassType     `json:"type" validate:"omitempty,oneof=hatha vinyasa ashtanga yin hot restorative meditation"`
	Level       *models.ClassLevel    `json:"level" validate:"omitempty,oneof=beginner intermediate advanced all-levels"`
	Location    *models.ClassLocation `json:"location" validate:"omitempty,oneof=studio-1 studio-2 outdoor online"`
	Capacity    *int                  `json:"capacity" validate:"omitempty,min=1,max=50"`
	Schedule    *ScheduleInput        `json:"schedule"`
	IsActive    *bool                 `json:"isActive"`
}

// ClassListQuery binds catalog listing query parameters.
type ClassListQuery struct {
	Type          string `form:"type"`
	Level         string `form:"level"`
	Instructor    string `form:"instructor"`
	Location      string `form:"location"`
	AvailableOnly bool   `form:"availableOnly"`
}

// ClassSearchQuery binds search query parameters.
type ClassSearchQuery struct {
	Keyword    string `form:"keyword"`
	Type       string `form:"type"`
	Level      string `form:"level"`
	Instructor string `form:"instructor"`
	Date       string `form:"date"`
}

// Schedule is the presentation of a class time slot.
type Schedule struct {
	Date      string    `json:"date"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// Instructor identifies who leads a class.
type Instructor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ClassSummary is the compact class shape embedded in booking views.
type ClassSummary struct {
	ID         string               `json:"id"`
	Title      string               `json:"title"`
	Type       models.ClassType     `json:"type"`
	Level      models.ClassLevel    `json:"level"`
	Instructor Instructor           `json:"instructor"`
	Schedule   Schedule             `json:"schedule"`
	Location   models.ClassLocation `json:"location"`
}

// ClassView is the public catalog representation of a class.
type ClassView struct {
	ClassSummary
	Description    string    `json:"description"`
	Capacity       int       `json:"capacity"`
	EnrolledCount  int       `json:"enrolledCount"`
	WaitlistCount  int       `json:"waitlistCount"`
	AvailableSpots int       `json:"availableSpots"`
	IsFull         bool      `json:"isFull"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NewClassSummary projects a class onto its summary view.
func NewClassSummary(c *models.ClassSession) ClassSummary {
	return ClassSummary{
		ID:         c.ID,
		Title:      c.Title,
		Type:       c.Type,
		Level:      c.Level,
		Instructor: Instructor{ID: c.InstructorID, Name: c.InstructorName},
		Schedule: Schedule{
			Date:      c.ClassDate.Format("2006-01-02"),
			StartTime: c.StartTime,
			EndTime:   c.EndTime,
		},
		Location: c.Location,
	}
}

// NewClassView projects a class onto the catalog view with counts derived from its ledger.
func NewClassView(c *models.ClassSession) ClassView {
	return ClassView{
		ClassSummary:   NewClassSummary(c),
		Description:    c.Description,
		Capacity:       c.Capacity,
		EnrolledCount:  c.Enrolled.ConfirmedCount(),
		WaitlistCount:  c.Enrolled.WaitlistCount(),
		AvailableSpots: c.AvailableSpots(),
		IsFull:         c.IsFull(),
		IsActive:       c.IsActive,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}
