package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-booking-api/internal/dto"
	"github.com/noah-isme/studio-booking-api/internal/models"
	appErrors "github.com/noah-isme/studio-booking-api/pkg/errors"
)

const (
	dashboardListLimit  = 5
	recommendationLimit = 3
)

type profileStore interface {
	Get(ctx context.Context, userID string) (*models.UserProfile, error)
	Ensure(ctx context.Context, userID string, at time.Time) error
	UpdateSettings(ctx context.Context, profile *models.UserProfile, at time.Time) error
}

type profileUserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type profileClassReader interface {
	ListByUser(ctx context.Context, userID string) ([]models.ClassSession, error)
	List(ctx context.Context, filter models.ClassFilter) ([]models.ClassSession, error)
}

// ProfileService serves member profiles, dashboards and booking statistics.
type ProfileService struct {
	profiles  profileStore
	users     profileUserLookup
	classes   profileClassReader
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// ProfileServiceParams groups constructor dependencies.
type ProfileServiceParams struct {
	Profiles  profileStore
	Users     profileUserLookup
	Classes   profileClassReader
	Validator *validator.Validate
	Logger    *zap.Logger
}

// NewProfileService constructs a ProfileService.
func NewProfileService(params ProfileServiceParams) *ProfileService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	return &ProfileService{
		profiles:  params.Profiles,
		users:     params.Users,
		classes:   params.Classes,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// Profile returns the caller's identity and counters, creating the profile row on first access.
func (s *ProfileService) Profile(ctx context.Context, userID string) (*dto.ProfileResponse, error) {
	user, err := s.lookupUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return profileResponse(user, profile), nil
}

// UpdateProfile merges the provided preference, notification and emergency
// contact sections into the caller's profile.
func (s *ProfileService) UpdateProfile(ctx context.Context, userID string, req dto.UpdateProfileRequest) (*dto.ProfileResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}
	return s.updateSettings(ctx, userID, func(p *models.UserProfile) {
		if req.Preferences != nil {
			applyPreferences(&p.Preferences, *req.Preferences)
		}
		if n := req.Notifications; n != nil {
			setBool(&p.Notifications.BookingReminders, n.BookingReminders)
			setBool(&p.Notifications.ClassUpdates, n.ClassUpdates)
			setBool(&p.Notifications.Promotions, n.Promotions)
			setBool(&p.Notifications.EmailNotifications, n.EmailNotifications)
		}
		if c := req.EmergencyContact; c != nil {
			setTrimmed(&p.EmergencyContact.Name, c.Name)
			setTrimmed(&p.EmergencyContact.Phone, c.Phone)
			setTrimmed(&p.EmergencyContact.Relationship, c.Relationship)
		}
	})
}

// UpdatePreferences replaces the fitness preference fields present in req.
func (s *ProfileService) UpdatePreferences(ctx context.Context, userID string, req dto.UpdatePreferencesRequest) (*dto.ProfileResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid preferences payload")
	}
	return s.updateSettings(ctx, userID, func(p *models.UserProfile) {
		applyPreferences(&p.Preferences, req)
	})
}

func (s *ProfileService) updateSettings(ctx context.Context, userID string, apply func(*models.UserProfile)) (*dto.ProfileResponse, error) {
	user, err := s.lookupUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	apply(profile)
	now := s.now().UTC()
	if err := s.profiles.UpdateSettings(ctx, profile, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}
	profile.UpdatedAt = now
	s.logger.Info("profile settings updated", zap.String("user_id", userID))
	return profileResponse(user, profile), nil
}

// Dashboard aggregates counters with the next and most recent classes of the caller.
func (s *ProfileService) Dashboard(ctx context.Context, userID string) (*dto.DashboardResponse, error) {
	profile, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	classes, err := s.classes.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bookings")
	}

	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	upcoming := make([]dto.BookingView, 0)
	recent := make([]dto.BookingView, 0)
	instructors := map[string]int{}
	thisMonth := 0

	for i := range classes {
		class := &classes[i]
		entry, ok := class.Enrolled.LatestEntry(userID)
		if !ok {
			continue
		}
		if entry.Status == models.EnrollmentConfirmed {
			instructors[class.InstructorName]++
			if !class.StartTime.Before(monthStart) {
				thisMonth++
			}
		}
		switch {
		case !class.StartTime.Before(now):
			if entry.Status.Active() && class.IsActive {
				upcoming = append(upcoming, dto.NewBookingView(class, entry))
			}
		default:
			recent = append(recent, dto.NewBookingView(class, entry))
		}
	}

	sort.SliceStable(upcoming, func(i, j int) bool {
		return upcoming[i].Class.Schedule.StartTime.Before(upcoming[j].Class.Schedule.StartTime)
	})
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Class.Schedule.StartTime.After(recent[j].Class.Schedule.StartTime)
	})

	recommendations, err := s.recommend(ctx, userID, profile.Preferences)
	if err != nil {
		return nil, err
	}

	return &dto.DashboardResponse{
		Stats: dto.DashboardStats{
			TotalClasses:       profile.TotalClasses,
			ClassesThisMonth:   thisMonth,
			ClassesThisYear:    profile.ClassesThisYear,
			LastClassDate:      profile.LastClassDate,
			MemberSince:        profile.MemberSince,
			FavoriteInstructor: mostFrequent(instructors),
		},
		UpcomingBookings: limitViews(upcoming, dashboardListLimit),
		RecentHistory:    limitViews(recent, dashboardListLimit),
		Recommendations:  recommendations,
	}, nil
}

// Stats breaks the caller's bookings down by status, type, instructor and month.
// Each class contributes its latest entry for the caller.
func (s *ProfileService) Stats(ctx context.Context, userID string) (*dto.UserStatsResponse, error) {
	classes, err := s.classes.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bookings")
	}

	stats := &dto.UserStatsResponse{
		FavoriteTypes:       map[string]int{},
		FavoriteInstructors: map[string]int{},
		MonthlyActivity:     map[string]int{},
	}
	for i := range classes {
		class := &classes[i]
		entry, ok := class.Enrolled.LatestEntry(userID)
		if !ok {
			continue
		}
		stats.TotalBookings++
		switch entry.Status {
		case models.EnrollmentConfirmed:
			stats.ConfirmedClasses++
		case models.EnrollmentCancelled:
			stats.CancelledClasses++
		case models.EnrollmentWaitlist:
			stats.WaitlistClasses++
		}
		stats.FavoriteTypes[string(class.Type)]++
		if class.InstructorName != "" {
			stats.FavoriteInstructors[class.InstructorName]++
		}
		stats.MonthlyActivity[entry.BookingDate.UTC().Format("2006-01")]++
	}

	stats.Insights = dto.StatsInsights{
		MostFrequentType:       mostFrequent(stats.FavoriteTypes),
		MostFrequentInstructor: mostFrequent(stats.FavoriteInstructors),
	}
	if months := len(stats.MonthlyActivity); months > 0 {
		avg := float64(stats.TotalBookings) / float64(months)
		stats.Insights.AverageClassesPerMonth = math.Round(avg*100) / 100
	}
	return stats, nil
}

// recommend suggests upcoming classes with free seats that match the member's
// favourite types and fitness level, skipping classes the member already holds
// a seat or waitlist position in. All-levels classes match any fitness level.
func (s *ProfileService) recommend(ctx context.Context, userID string, prefs models.FitnessPreferences) ([]dto.ClassView, error) {
	candidates, err := s.classes.List(ctx, models.ClassFilter{AvailableOnly: true, From: s.now().UTC()})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recommendations")
	}
	types := make(map[models.ClassType]struct{}, len(prefs.FavoriteYogaTypes))
	for _, t := range prefs.FavoriteYogaTypes {
		types[t] = struct{}{}
	}

	out := make([]dto.ClassView, 0, recommendationLimit)
	for i := range candidates {
		class := &candidates[i]
		if len(types) > 0 {
			if _, ok := types[class.Type]; !ok {
				continue
			}
		}
		if prefs.FitnessLevel != "" && class.Level != prefs.FitnessLevel && class.Level != models.LevelAllLevels {
			continue
		}
		if _, held := class.Enrolled.ActiveEntry(userID); held {
			continue
		}
		if class.AvailableSpots() <= 0 {
			continue
		}
		out = append(out, dto.NewClassView(class))
		if len(out) == recommendationLimit {
			break
		}
	}
	return out, nil
}

func (s *ProfileService) lookupUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

func (s *ProfileService) getOrCreate(ctx context.Context, userID string) (*models.UserProfile, error) {
	profile, err := s.profiles.Get(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load profile")
	}

	if err := s.profiles.Ensure(ctx, userID, s.now().UTC()); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create profile")
	}
	s.logger.Debug("profile created", zap.String("user_id", userID))
	profile, err = s.profiles.Get(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load profile")
	}
	return profile, nil
}

// mostFrequent returns the key with the highest count, preferring the
// alphabetically first key on ties.
func mostFrequent(counts map[string]int) string {
	best, bestCount := "", 0
	for key, count := range counts {
		if count > bestCount || (count == bestCount && key < best) {
			best, bestCount = key, count
		}
	}
	return best
}

func profileResponse(user *models.User, profile *models.UserProfile) *dto.ProfileResponse {
	return &dto.ProfileResponse{
		User: models.UserInfo{
			ID:       user.ID,
			Email:    user.Email,
			FullName: user.FullName,
			Role:     user.Role,
		},
		Profile: *profile,
	}
}

func applyPreferences(p *models.FitnessPreferences, req dto.UpdatePreferencesRequest) {
	if req.FavoriteYogaTypes != nil {
		p.FavoriteYogaTypes = append([]models.ClassType{}, req.FavoriteYogaTypes...)
	}
	if req.FitnessLevel != nil {
		p.FitnessLevel = *req.FitnessLevel
	}
	if req.PreferredTime != nil {
		p.PreferredTime = *req.PreferredTime
	}
	if req.Goals != nil {
		p.Goals = append([]models.FitnessGoal{}, req.Goals...)
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setTrimmed(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func limitViews(views []dto.BookingView, n int) []dto.BookingView {
	if len(views) > n {
		return views[:n]
	}
	return views
}
