package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-booking-api/internal/models"
)

func TestIncrementBookingUpserts(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (user_id) DO UPDATE SET")).
		WithArgs("u1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.IncrementBooking(context.Background(), "u1", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureProfile(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (user_id) DO NOTHING")).
		WithArgs("u1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Ensure(context.Background(), "u1", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProfile(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"user_id", "total_classes", "classes_this_month", "classes_this_year", "last_class_date", "member_since",
		"preferences", "notifications", "emergency_contact", "updated_at"}).
		AddRow("u1", 12, 3, 9, now, now,
			[]byte(`{"favorite_yoga_types":["yin"],"fitness_level":"advanced"}`),
			[]byte(`{"promotions":true}`),
			[]byte(`{"name":"Sam","phone":"555-0100"}`),
			now)
	mock.ExpectQuery("FROM user_profiles WHERE user_id").WithArgs("u1").WillReturnRows(rows)

	profile, err := repo.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 12, profile.TotalClasses)
	assert.Equal(t, 3, profile.ClassesThisMonth)
	assert.Equal(t, []models.ClassType{models.ClassTypeYin}, profile.Preferences.FavoriteYogaTypes)
	assert.Equal(t, models.LevelAdvanced, profile.Preferences.FitnessLevel)
	assert.Equal(t, models.PreferredMorning, profile.Preferences.PreferredTime)
	assert.True(t, profile.Notifications.Promotions)
	assert.True(t, profile.Notifications.BookingReminders)
	assert.Equal(t, "Sam", profile.EmergencyContact.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSettingsUpserts(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	profile := &models.UserProfile{
		UserID:        "u1",
		Preferences:   models.DefaultFitnessPreferences(),
		Notifications: models.DefaultNotificationSettings(),
	}
	mock.ExpectExec(regexp.QuoteMeta("emergency_contact = EXCLUDED.emergency_contact")).
		WithArgs("u1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateSettings(context.Background(), profile, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetMonthlyReturnsAffected(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("SET classes_this_month = 0")).
		WithArgs(at).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := repo.ResetMonthly(context.Background(), at)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
