package models

import "time"

// ClassType is the style of yoga taught in a session.
type ClassType string

const (
	ClassTypeHatha       ClassType = "hatha"
	ClassTypeVinyasa     ClassType = "vinyasa"
	ClassTypeAshtanga    ClassType = "ashtanga"
	ClassTypeYin         ClassType = "yin"
	ClassTypeHot         ClassType = "hot"
	ClassTypeRestorative ClassType = "restorative"
	ClassTypeMeditation  ClassType = "meditation"
)

// ClassLevel is the intended audience of a session.
type ClassLevel string

const (
	LevelBeginner     ClassLevel = "beginner"
	LevelIntermediate ClassLevel = "intermediate"
	LevelAdvanced     ClassLevel = "advanced"
	LevelAllLevels    ClassLevel = "all-levels"
)

// ClassLocation is where the session takes place.
type ClassLocation string

const (
	LocationStudio1 ClassLocation = "studio-1"
	LocationStudio2 ClassLocation = "studio-2"
	LocationOutdoor ClassLocation = "outdoor"
	LocationOnline  ClassLocation = "online"
)

const (
	MaxClassCapacity = 50
	MaxNotesLength   = 500
)

// ClassSession is a scheduled, fixed-capacity class together with its enrollment ledger.
type ClassSession struct {
	ID             string        `db:"id" json:"id"`
	Title          string        `db:"title" json:"title"`
	Description    string        `db:"description" json:"description"`
	InstructorID   string        `db:"instructor_id" json:"instructor_id"`
	InstructorName string        `db:"instructor_name" json:"instructor_name"`
	Type           ClassType     `db:"type" json:"type"`
	Level          ClassLevel    `db:"level" json:"level"`
	Location       ClassLocation `db:"location" json:"location"`
	Capacity       int           `db:"capacity" json:"capacity"`
	ClassDate      time.Time     `db:"class_date" json:"class_date"`
	StartTime      time.Time     `db:"start_time" json:"start_time"`
	EndTime        time.Time     `db:"end_time" json:"end_time"`
	IsActive       bool          `db:"is_active" json:"is_active"`
	Enrolled       Ledger        `db:"enrolled" json:"enrolled"`
	Version        int64         `db:"version" json:"version"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// AvailableSpots derives the free confirmed seats from the live ledger.
func (c *ClassSession) AvailableSpots() int {
	return c.Enrolled.AvailableSpots(c.Capacity)
}

// IsFull reports whether every seat is confirmed.
func (c *ClassSession) IsFull() bool {
	return c.Enrolled.IsFull(c.Capacity)
}

// StartsIn returns the duration between now and the class start.
func (c *ClassSession) StartsIn(now time.Time) time.Duration {
	return c.StartTime.Sub(now)
}

// ClassFilter narrows the public catalog listing.
type ClassFilter struct {
	Type          ClassType
	Level         ClassLevel
	InstructorID  string
	Location      ClassLocation
	AvailableOnly bool
	From          time.Time
}

// ClassSearch filters the keyword search endpoint.
type ClassSearch struct {
	Keyword      string
	Type         ClassType
	Level        ClassLevel
	InstructorID string
	Date         *time.Time
}

// Valid reports whether t is a known class type.
func (t ClassType) Valid() bool {
	switch t {
	case ClassTypeHatha, ClassTypeVinyasa, ClassTypeAshtanga, ClassTypeYin, ClassTypeHot, ClassTypeRestorative, ClassTypeMeditation:
		return true
	}
	return false
}

// Valid reports whether l is a known level.
func (l ClassLevel) Valid() bool {
	switch l {
	case LevelBeginner, LevelIntermediate, LevelAdvanced, LevelAllLevels:
		return true
	}
	return false
}

// Valid reports whether l is a known location.
func (l ClassLocation) Valid() bool {
	switch l {
	case LocationStudio1, LocationStudio2, LocationOutdoor, LocationOnline:
		return true
	}
	return false
}
