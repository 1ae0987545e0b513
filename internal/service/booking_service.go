package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-booking-api/internal/dto"
	"github.com/noah-isme/studio-booking-api/internal/models"
	"github.com/noah-isme/studio-booking-api/internal/repository"
	appErrors "github.com/noah-isme/studio-booking-api/pkg/errors"
	"github.com/noah-isme/studio-booking-api/pkg/export"
)

const (
	minBookingLeadTime    = 30 * time.Minute
	maxBookingHorizon     = 30 * 24 * time.Hour
	cancellationCutoff    = 2 * time.Hour
	defaultBookingRetries = 5
)

const (
	MessageBooked     = "Successfully booked class"
	MessageWaitlisted = "Added to waitlist - you will be notified if a spot opens up"
	MessageCancelled  = "Booking cancelled successfully"
)

type bookingClassRepository interface {
	FindByID(ctx context.Context, id string) (*models.ClassSession, error)
	ListByUser(ctx context.Context, userID string) ([]models.ClassSession, error)
	SaveLedger(ctx context.Context, id string, ledger models.Ledger, expectedVersion int64, at time.Time) (int64, error)
}

type rosterUserRepository interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]models.User, error)
}

type statsRecorder interface {
	Record(ctx context.Context, userID string, action models.StatsAction) error
}

// BookingServiceConfig tunes the booking engine.
type BookingServiceConfig struct {
	MaxRetries int
}

// BookingService enforces the capacity, waitlist and time-window rules for class enrollment.
type BookingService struct {
	classes   bookingClassRepository
	users     rosterUserRepository
	stats     statsRecorder
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
	cfg       BookingServiceConfig
}

// BookingServiceParams groups constructor dependencies.
type BookingServiceParams struct {
	Classes   bookingClassRepository
	Users     rosterUserRepository
	Stats     statsRecorder
	Cache     *CacheService
	Metrics   *MetricsService
	Validator *validator.Validate
	Logger    *zap.Logger
	Config    BookingServiceConfig
}

// NewBookingService constructs a BookingService with sane defaults.
func NewBookingService(params BookingServiceParams) *BookingService {
	cfg := params.Config
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultBookingRetries
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	return &BookingService{
		classes:   params.Classes,
		users:     params.Users,
		stats:     params.Stats,
		cache:     params.Cache,
		metrics:   params.Metrics,
		validator: validate,
		logger:    logger,
		now:       time.Now,
		cfg:       cfg,
	}
}

// Book reserves a seat for userID, or a waitlist position when the class is full.
func (s *BookingService) Book(ctx context.Context, userID string, req dto.BookClassRequest) (*dto.BookingResult, error) {
	result, err := s.book(ctx, userID, req)
	if err != nil {
		s.metrics.RecordBooking(appErrors.FromError(err).Code)
		return nil, err
	}
	s.metrics.RecordBooking(string(result.Status))
	s.recordStats(ctx, userID, models.StatsActionBook)
	return result, nil
}

func (s *BookingService) book(ctx context.Context, userID string, req dto.BookClassRequest) (*dto.BookingResult, error) {
	if userID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	req.ClassID = strings.TrimSpace(req.ClassID)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "class id is required")
	}
	notes := strings.TrimSpace(req.Notes)
	if utf8.RuneCountInString(notes) > models.MaxNotesLength {
		return nil, appErrors.ErrNoteTooLong
	}

	var entry models.EnrollmentEntry
	class, err := s.mutateLedger(ctx, "book", req.ClassID, func(class *models.ClassSession, now time.Time) error {
		if !class.IsActive {
			return appErrors.ErrClassInactive
		}
		until := class.StartsIn(now)
		if until <= 0 {
			return appErrors.ErrClassStarted
		}
		if _, held := class.Enrolled.ActiveEntry(userID); held {
			return appErrors.ErrAlreadyBooked
		}
		if until < minBookingLeadTime {
			return appErrors.ErrTooSoon
		}
		if until > maxBookingHorizon {
			return appErrors.ErrTooFarAhead
		}

		status := models.EnrollmentConfirmed
		if class.IsFull() {
			status = models.EnrollmentWaitlist
		}
		entry = models.EnrollmentEntry{
			ID:          uuid.NewString(),
			UserID:      userID,
			Status:      status,
			BookingDate: now,
			Notes:       notes,
		}
		class.Enrolled.Append(entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	message := MessageBooked
	if entry.Status == models.EnrollmentWaitlist {
		message = MessageWaitlisted
	}
	s.logger.Info("class booked",
		zap.String("class_id", class.ID),
		zap.String("user_id", userID),
		zap.String("status", string(entry.Status)),
		zap.Int("available_spots", class.AvailableSpots()),
	)
	return &dto.BookingResult{
		Status:  entry.Status,
		Message: message,
		Booking: dto.NewBookingView(class, entry),
	}, nil
}

// Cancel releases userID's seat or waitlist position and promotes the next waitlisted member.
func (s *BookingService) Cancel(ctx context.Context, userID, classID string) (*dto.CancelResult, error) {
	if userID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	classID = strings.TrimSpace(classID)
	if classID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "class id is required")
	}

	var (
		previous models.EnrollmentEntry
		promoted models.EnrollmentEntry
		didPromo bool
	)
	class, err := s.mutateLedger(ctx, "cancel", classID, func(class *models.ClassSession, now time.Time) error {
		if class.Enrolled.ActiveIndex(userID) < 0 {
			return appErrors.ErrNotEnrolled
		}
		if until := class.StartsIn(now); until > 0 && until < cancellationCutoff {
			return appErrors.ErrCancellationWindowClosed
		}
		previous, _ = class.Enrolled.Cancel(userID, now)
		promoted, didPromo = class.Enrolled.PromoteNext(class.Capacity, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCancellation(didPromo)
	fields := []zap.Field{
		zap.String("class_id", class.ID),
		zap.String("user_id", userID),
		zap.String("previous_status", string(previous.Status)),
	}
	if didPromo {
		fields = append(fields, zap.String("promoted_user_id", promoted.UserID))
	}
	s.logger.Info("booking cancelled", fields...)
	s.recordStats(ctx, userID, models.StatsActionCancel)

	return &dto.CancelResult{
		Message:  MessageCancelled,
		Previous: previous.Status,
		Promoted: didPromo,
	}, nil
}

// ListUserBookings returns the caller's bookings. Without history only confirmed and
// waitlisted entries are returned, soonest class first; with history every entry is
// returned, latest class first.
func (s *BookingService) ListUserBookings(ctx context.Context, userID string, includeHistory bool) ([]dto.BookingView, error) {
	if userID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	classes, err := s.classes.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bookings")
	}

	views := make([]dto.BookingView, 0)
	for i := range classes {
		class := &classes[i]
		for _, e := range class.Enrolled {
			if e.UserID != userID {
				continue
			}
			if !includeHistory && !e.Status.Active() {
				continue
			}
			views = append(views, dto.NewBookingView(class, e))
		}
	}

	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if !a.Class.Schedule.StartTime.Equal(b.Class.Schedule.StartTime) {
			if includeHistory {
				return a.Class.Schedule.StartTime.After(b.Class.Schedule.StartTime)
			}
			return a.Class.Schedule.StartTime.Before(b.Class.Schedule.StartTime)
		}
		if includeHistory {
			return a.BookingDate.After(b.BookingDate)
		}
		return a.BookingDate.Before(b.BookingDate)
	})
	return views, nil
}

// ListClassBookings returns the roster of a class to an admin or its instructor.
func (s *BookingService) ListClassBookings(ctx context.Context, requester models.Requester, classID string) (*dto.ClassBookingsResponse, error) {
	if !requester.Role.CanManageClasses() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only instructors and admins can view class bookings")
	}
	class, err := s.loadClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if !requester.CanManage(class.InstructorID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you can only view bookings for your own classes")
	}

	confirmed := class.Enrolled.ByStatus(models.EnrollmentConfirmed)
	waitlist := class.Enrolled.ByStatus(models.EnrollmentWaitlist)

	ids := make([]string, 0, len(confirmed)+len(waitlist))
	for _, e := range confirmed {
		ids = append(ids, e.UserID)
	}
	for _, e := range waitlist {
		ids = append(ids, e.UserID)
	}
	users := map[string]models.User{}
	if s.users != nil && len(ids) > 0 {
		users, err = s.users.FindByIDs(ctx, ids)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster members")
		}
	}

	return &dto.ClassBookingsResponse{
		Class:     dto.NewClassSummary(class),
		Capacity:  class.Capacity,
		Confirmed: rosterEntries(confirmed, users),
		Waitlist:  rosterEntries(waitlist, users),
		Stats: dto.RosterStats{
			TotalConfirmed: len(confirmed),
			TotalWaitlist:  len(waitlist),
			AvailableSpots: class.AvailableSpots(),
		},
	}, nil
}

// ExportClassRoster renders the roster of a class as a downloadable document.
func (s *BookingService) ExportClassRoster(ctx context.Context, requester models.Requester, classID string, format export.Format) (*export.Document, error) {
	roster, err := s.ListClassBookings(ctx, requester, classID)
	if err != nil {
		return nil, err
	}

	data := export.Dataset{
		Title: roster.Class.Title,
		Subtitle: fmt.Sprintf("%s %s-%s UTC | %s | %s | %d/%d confirmed, %d waitlisted",
			roster.Class.Schedule.Date,
			roster.Class.Schedule.StartTime.UTC().Format("15:04"),
			roster.Class.Schedule.EndTime.UTC().Format("15:04"),
			roster.Class.Instructor.Name,
			roster.Class.Location,
			roster.Stats.TotalConfirmed, roster.Capacity, roster.Stats.TotalWaitlist,
		),
		Headers: []string{"#", "Name", "Email", "Status", "Booked At", "Notes"},
	}
	appendRows := func(entries []dto.RosterEntry) {
		for _, e := range entries {
			data.Rows = append(data.Rows, []string{
				strconv.Itoa(len(data.Rows) + 1),
				e.Name,
				e.Email,
				string(e.Status),
				e.BookingDate.UTC().Format("2006-01-02 15:04"),
				e.Notes,
			})
		}
	}
	appendRows(roster.Confirmed)
	appendRows(roster.Waitlist)

	doc, err := export.Render(format, "roster-"+roster.Class.ID, data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}
	return doc, nil
}

// mutateLedger loads the class, applies fn and writes the ledger back with a
// version check. On a concurrent write the whole cycle repeats so every rule is
// evaluated against the fresh ledger.
func (s *BookingService) mutateLedger(ctx context.Context, op, classID string, fn func(class *models.ClassSession, now time.Time) error) (*models.ClassSession, error) {
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "request cancelled")
		}
		class, err := s.loadClass(ctx, classID)
		if err != nil {
			return nil, err
		}
		now := s.now().UTC()
		if err := fn(class, now); err != nil {
			return nil, err
		}

		start := time.Now()
		version, err := s.classes.SaveLedger(ctx, class.ID, class.Enrolled, class.Version, now)
		s.metrics.ObserveDBQuery("save_ledger", time.Since(start))
		if err == nil {
			class.Version = version
			s.cache.Invalidate(ctx, classCachePattern)
			return class, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			s.logger.Error("failed to persist class ledger", zap.String("class_id", classID), zap.String("op", op), zap.Error(err))
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save booking")
		}
		s.metrics.RecordWriteConflict(op)
		s.logger.Debug("ledger write conflict, retrying", zap.String("class_id", classID), zap.String("op", op), zap.Int("attempt", attempt))
	}
	s.logger.Warn("ledger write conflict retries exhausted", zap.String("class_id", classID), zap.String("op", op), zap.Int("attempts", s.cfg.MaxRetries))
	return nil, appErrors.ErrWriteConflict
}

func (s *BookingService) loadClass(ctx context.Context, classID string) (*models.ClassSession, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	return class, nil
}

func (s *BookingService) recordStats(ctx context.Context, userID string, action models.StatsAction) {
	if s.stats == nil {
		return
	}
	if err := s.stats.Record(ctx, userID, action); err != nil {
		s.logger.Warn("failed to record profile stats", zap.String("user_id", userID), zap.String("action", string(action)), zap.Error(err))
	}
}

func rosterEntries(entries []models.EnrollmentEntry, users map[string]models.User) []dto.RosterEntry {
	out := make([]dto.RosterEntry, 0, len(entries))
	for _, e := range entries {
		u := users[e.UserID]
		out = append(out, dto.RosterEntry{
			ID:          e.ID,
			UserID:      e.UserID,
			Name:        u.FullName,
			Email:       u.Email,
			Status:      e.Status,
			BookingDate: e.BookingDate,
			Notes:       e.Notes,
			PromotedAt:  e.PromotedAt,
		})
	}
	return out
}
