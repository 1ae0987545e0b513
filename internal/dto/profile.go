package dto

import (
	"time"

	"github.com/noah-isme/studio-booking-api/internal/models"
)

// ProfileResponse is the caller's profile with identity fields.
type ProfileResponse struct {
	User    models.UserInfo    `json:"user"`
	Profile models.UserProfile `json:"profile"`
}

// DashboardStats are the headline counters on the member dashboard.
type DashboardStats struct {
	TotalClasses       int        `json:"totalClasses"`
	ClassesThisMonth   int        `json:"classesThisMonth"`
	ClassesThisYear    int        `json:"classesThisYear"`
	LastClassDate      *time.Time `json:"lastClassDate,omitempty"`
	MemberSince        time.Time  `json:"memberSince"`
	FavoriteInstructor string     `json:"favoriteInstructor,omitempty"`
}

// DashboardResponse aggregates what the member home screen renders.
type DashboardResponse struct {
	Stats            DashboardStats `json:"stats"`
	UpcomingBookings []BookingView  `json:"upcomingBookings"`
	RecentHistory    []BookingView  `json:"recentHistory"`
	Recommendations  []ClassView    `json:"recommendations"`
}

// UpdatePreferencesRequest sets fitness preferences. Omitted fields are left unchanged.
type UpdatePreferencesRequest struct {
	FavoriteYogaTypes []models.ClassType    `json:"favoriteYogaTypes" validate:"omitempty,max=7,dive,oneof=hatha vinyasa ashtanga yin hot restorative meditation"`
	FitnessLevel      *models.ClassLevel    `json:"fitnessLevel" validate:"omitempty,oneof=beginner intermediate advanced"`
	PreferredTime     *models.PreferredTime `json:"preferredTime" validate:"omitempty,oneof=morning afternoon evening"`
	Goals             []models.FitnessGoal  `json:"goals" validate:"omitempty,max=6,dive,oneof=flexibility strength stress-relief weight-loss spiritual meditation"`
}

// NotificationSettingsPatch toggles individual notification opt-ins.
type NotificationSettingsPatch struct {
	BookingReminders   *bool `json:"bookingReminders"`
	ClassUpdates       *bool `json:"classUpdates"`
	Promotions         *bool `json:"promotions"`
	EmailNotifications *bool `json:"emailNotifications"`
}

// EmergencyContactPatch updates individual emergency contact fields.
type EmergencyContactPatch struct {
	Name         *string `json:"name" validate:"omitempty,max=100"`
	Phone        *string `json:"phone" validate:"omitempty,max=30"`
	Relationship *string `json:"relationship" validate:"omitempty,max=50"`
}

// UpdateProfileRequest merges each provided section into the stored profile.
type UpdateProfileRequest struct {
	Preferences      *UpdatePreferencesRequest  `json:"preferences"`
	Notifications    *NotificationSettingsPatch `json:"notifications"`
	EmergencyContact *EmergencyContactPatch     `json:"emergencyContact"`
}

// StatsInsights derives headline figures from the booking breakdown.
type StatsInsights struct {
	MostFrequentType       string  `json:"mostFrequentType"`
	MostFrequentInstructor string  `json:"mostFrequentInstructor"`
	AverageClassesPerMonth float64 `json:"averageClassesPerMonth"`
}

// UserStatsResponse is the detailed booking breakdown of a member.
type UserStatsResponse struct {
	TotalBookings       int            `json:"totalBookings"`
	ConfirmedClasses    int            `json:"confirmedClasses"`
	CancelledClasses    int            `json:"cancelledClasses"`
	WaitlistClasses     int            `json:"waitlistClasses"`
	FavoriteTypes       map[string]int `json:"favoriteTypes"`
	FavoriteInstructors map[string]int `json:"favoriteInstructors"`
	MonthlyActivity     map[string]int `json:"monthlyActivity"`
	Insights            StatsInsights  `json:"insights"`
}
