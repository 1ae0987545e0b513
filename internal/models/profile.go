package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StatsAction identifies the booking event reported to the stats aggregator.
type StatsAction string

const (
	StatsActionBook   StatsAction = "book"
	StatsActionCancel StatsAction = "cancel"
)

// PreferredTime is the part of the day a member likes to practise.
type PreferredTime string

const (
	PreferredMorning   PreferredTime = "morning"
	PreferredAfternoon PreferredTime = "afternoon"
	PreferredEvening   PreferredTime = "evening"
)

// FitnessGoal is one of the outcomes a member practises for.
type FitnessGoal string

const (
	GoalFlexibility  FitnessGoal = "flexibility"
	GoalStrength     FitnessGoal = "strength"
	GoalStressRelief FitnessGoal = "stress-relief"
	GoalWeightLoss   FitnessGoal = "weight-loss"
	GoalSpiritual    FitnessGoal = "spiritual"
	GoalMeditation   FitnessGoal = "meditation"
)

// FitnessPreferences drive class recommendations.
type FitnessPreferences struct {
	FavoriteYogaTypes []ClassType   `json:"favorite_yoga_types"`
	FitnessLevel      ClassLevel    `json:"fitness_level"`
	PreferredTime     PreferredTime `json:"preferred_time"`
	Goals             []FitnessGoal `json:"goals"`
}

// DefaultFitnessPreferences is what a new profile starts with.
func DefaultFitnessPreferences() FitnessPreferences {
	return FitnessPreferences{
		FavoriteYogaTypes: []ClassType{},
		FitnessLevel:      LevelBeginner,
		PreferredTime:     PreferredMorning,
		Goals:             []FitnessGoal{},
	}
}

// NotificationSettings are the member's messaging opt-ins.
type NotificationSettings struct {
	BookingReminders   bool `json:"booking_reminders"`
	ClassUpdates       bool `json:"class_updates"`
	Promotions         bool `json:"promotions"`
	EmailNotifications bool `json:"email_notifications"`
}

// DefaultNotificationSettings opts into everything except promotions.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{BookingReminders: true, ClassUpdates: true, EmailNotifications: true}
}

// EmergencyContact is who the studio calls if something happens during class.
type EmergencyContact struct {
	Name         string `json:"name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Relationship string `json:"relationship,omitempty"`
}

// UserProfile keeps denormalised booking counters and editable settings for a member.
type UserProfile struct {
	UserID           string               `db:"user_id" json:"user_id"`
	TotalClasses     int                  `db:"total_classes" json:"total_classes"`
	ClassesThisMonth int                  `db:"classes_this_month" json:"classes_this_month"`
	ClassesThisYear  int                  `db:"classes_this_year" json:"classes_this_year"`
	LastClassDate    *time.Time           `db:"last_class_date" json:"last_class_date,omitempty"`
	MemberSince      time.Time            `db:"member_since" json:"member_since"`
	Preferences      FitnessPreferences   `db:"preferences" json:"preferences"`
	Notifications    NotificationSettings `db:"notifications" json:"notifications"`
	EmergencyContact EmergencyContact     `db:"emergency_contact" json:"emergency_contact"`
	UpdatedAt        time.Time            `db:"updated_at" json:"updated_at"`
}

// Value implements driver.Valuer.
func (p FitnessPreferences) Value() (driver.Value, error) {
	return marshalJSONColumn("preferences", p)
}

// Scan implements sql.Scanner. Missing keys keep their defaults.
func (p *FitnessPreferences) Scan(src interface{}) error {
	*p = DefaultFitnessPreferences()
	return scanJSONColumn("preferences", src, p)
}

// Value implements driver.Valuer.
func (n NotificationSettings) Value() (driver.Value, error) {
	return marshalJSONColumn("notifications", n)
}

// Scan implements sql.Scanner. Missing keys keep their defaults.
func (n *NotificationSettings) Scan(src interface{}) error {
	*n = DefaultNotificationSettings()
	return scanJSONColumn("notifications", src, n)
}

// Value implements driver.Valuer.
func (e EmergencyContact) Value() (driver.Value, error) {
	return marshalJSONColumn("emergency contact", e)
}

// Scan implements sql.Scanner.
func (e *EmergencyContact) Scan(src interface{}) error {
	*e = EmergencyContact{}
	return scanJSONColumn("emergency contact", src, e)
}

func marshalJSONColumn(label string, v interface{}) (driver.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", label, err)
	}
	return raw, nil
}

func scanJSONColumn(label string, src, dest interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan %s: unsupported type %T", label, src)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("scan %s: %w", label, err)
	}
	return nil
}
