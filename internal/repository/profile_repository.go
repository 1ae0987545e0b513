package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studio-booking-api/internal/models"
)

// ProfileRepository stores the denormalised booking counters and settings per member.
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository constructs the repository.
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Get returns the profile of userID or sql.ErrNoRows.
func (r *ProfileRepository) Get(ctx context.Context, userID string) (*models.UserProfile, error) {
	const query = `SELECT user_id, total_classes, classes_this_month, classes_this_year, last_class_date, member_since,
	preferences, notifications, emergency_contact, updated_at
FROM user_profiles WHERE user_id = $1`
	var profile models.UserProfile
	if err := r.db.GetContext(ctx, &profile, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	return &profile, nil
}

// Ensure creates an empty profile for userID when none exists.
func (r *ProfileRepository) Ensure(ctx context.Context, userID string, at time.Time) error {
	const query = `INSERT INTO user_profiles (user_id, member_since, updated_at) VALUES ($1, $2, $2) ON CONFLICT (user_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, userID, at); err != nil {
		return fmt.Errorf("ensure user profile: %w", err)
	}
	return nil
}

// UpdateSettings replaces the preference, notification and emergency contact
// documents of the profile, creating the row when it is missing.
func (r *ProfileRepository) UpdateSettings(ctx context.Context, profile *models.UserProfile, at time.Time) error {
	const query = `INSERT INTO user_profiles (user_id, preferences, notifications, emergency_contact, member_since, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (user_id) DO UPDATE SET
	preferences = EXCLUDED.preferences,
	notifications = EXCLUDED.notifications,
	emergency_contact = EXCLUDED.emergency_contact,
	updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, profile.UserID, profile.Preferences, profile.Notifications, profile.EmergencyContact, at); err != nil {
		return fmt.Errorf("update profile settings: %w", err)
	}
	return nil
}

// IncrementBooking bumps every class counter and records at as the last class date.
func (r *ProfileRepository) IncrementBooking(ctx context.Context, userID string, at time.Time) error {
	const query = `INSERT INTO user_profiles (user_id, total_classes, classes_this_month, classes_this_year, last_class_date, member_since, updated_at)
VALUES ($1, 1, 1, 1, $2, $2, $2)
ON CONFLICT (user_id) DO UPDATE SET
	total_classes = user_profiles.total_classes + 1,
	classes_this_month = user_profiles.classes_this_month + 1,
	classes_this_year = user_profiles.classes_this_year + 1,
	last_class_date = EXCLUDED.last_class_date,
	updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, userID, at); err != nil {
		return fmt.Errorf("increment booking counters: %w", err)
	}
	return nil
}

// ResetMonthly zeroes classes_this_month for every profile and returns the number touched.
func (r *ProfileRepository) ResetMonthly(ctx context.Context, at time.Time) (int64, error) {
	const query = `UPDATE user_profiles SET classes_this_month = 0, updated_at = $1 WHERE classes_this_month <> 0`
	return r.reset(ctx, query, at, "reset monthly counters")
}

// ResetYearly zeroes classes_this_year for every profile and returns the number touched.
func (r *ProfileRepository) ResetYearly(ctx context.Context, at time.Time) (int64, error) {
	const query = `UPDATE user_profiles SET classes_this_year = 0, updated_at = $1 WHERE classes_this_year <> 0`
	return r.reset(ctx, query, at, "reset yearly counters")
}

func (r *ProfileRepository) reset(ctx context.Context, query string, at time.Time, label string) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, at)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", label, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", label, err)
	}
	return n, nil
}
