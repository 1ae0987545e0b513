package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-booking-api/internal/dto"
	"github.com/noah-isme/studio-booking-api/internal/models"
	"github.com/noah-isme/studio-booking-api/internal/repository"
	appErrors "github.com/noah-isme/studio-booking-api/pkg/errors"
)

const (
	classCachePrefix  = "classes"
	classCachePattern = classCachePrefix + ":*"
	classWriteRetries = 3
)

type classCatalogRepository interface {
	FindByID(ctx context.Context, id string) (*models.ClassSession, error)
	List(ctx context.Context, filter models.ClassFilter) ([]models.ClassSession, error)
	Search(ctx context.Context, search models.ClassSearch) ([]models.ClassSession, error)
	Create(ctx context.Context, class *models.ClassSession) error
	Update(ctx context.Context, class *models.ClassSession) error
	Delete(ctx context.Context, id string, expectedVersion int64) error
}

type instructorLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// ClassService manages the class catalog.
type ClassService struct {
	repo      classCatalogRepository
	users     instructorLookup
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
	cacheTTL  time.Duration
}

// ClassServiceParams groups constructor dependencies.
type ClassServiceParams struct {
	Repo      classCatalogRepository
	Users     instructorLookup
	Cache     *CacheService
	Validator *validator.Validate
	Logger    *zap.Logger
	CacheTTL  time.Duration
}

// NewClassService constructs a ClassService.
func NewClassService(params ClassServiceParams) *ClassService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	return &ClassService{
		repo:      params.Repo,
		users:     params.Users,
		cache:     params.Cache,
		validator: validate,
		logger:    logger,
		now:       time.Now,
		cacheTTL:  params.CacheTTL,
	}
}

// List returns upcoming active classes matching the query. The bool reports a cache hit.
func (s *ClassService) List(ctx context.Context, q dto.ClassListQuery) ([]dto.ClassView, bool, error) {
	filter := models.ClassFilter{
		Type:          models.ClassType(strings.TrimSpace(q.Type)),
		Level:         models.ClassLevel(strings.TrimSpace(q.Level)),
		InstructorID:  strings.TrimSpace(q.Instructor),
		Location:      models.ClassLocation(strings.TrimSpace(q.Location)),
		AvailableOnly: q.AvailableOnly,
	}
	if err := validateCatalogEnums(filter.Type, filter.Level, filter.Location); err != nil {
		return nil, false, err
	}
	if err := validateInstructorFilter(filter.InstructorID); err != nil {
		return nil, false, err
	}

	key := fmt.Sprintf("%s:list:type=%s:level=%s:instructor=%s:location=%s:available=%t",
		classCachePrefix, filter.Type, filter.Level, filter.InstructorID, filter.Location, filter.AvailableOnly)
	var cached []dto.ClassView
	if s.cache.Get(ctx, key, &cached) {
		return cached, true, nil
	}

	filter.From = s.now().UTC()
	classes, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	views := classViews(classes)
	s.cache.Set(ctx, key, views, s.cacheTTL)
	return views, false, nil
}

// Search matches active classes by keyword and optional filters.
func (s *ClassService) Search(ctx context.Context, q dto.ClassSearchQuery) ([]dto.ClassView, error) {
	search := models.ClassSearch{
		Keyword:      strings.TrimSpace(q.Keyword),
		Type:         models.ClassType(strings.TrimSpace(q.Type)),
		Level:        models.ClassLevel(strings.TrimSpace(q.Level)),
		InstructorID: strings.TrimSpace(q.Instructor),
	}
	if err := validateCatalogEnums(search.Type, search.Level, ""); err != nil {
		return nil, err
	}
	if err := validateInstructorFilter(search.InstructorID); err != nil {
		return nil, err
	}
	if raw := strings.TrimSpace(q.Date); raw != "" {
		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
		}
		search.Date = &day
	}

	classes, err := s.repo.Search(ctx, search)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to search classes")
	}
	return classViews(classes), nil
}

// Get returns a single class with live seat counts.
func (s *ClassService) Get(ctx context.Context, id string) (*dto.ClassView, error) {
	class, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	view := dto.NewClassView(class)
	return &view, nil
}

// Create adds a class. Instructors always own the classes they create.
func (s *ClassService) Create(ctx context.Context, requester models.Requester, req dto.CreateClassRequest) (*dto.ClassView, error) {
	if !requester.Role.CanManageClasses() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only instructors and admins can create classes")
	}
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}

	instructorID := strings.TrimSpace(req.InstructorID)
	if instructorID == "" {
		instructorID = requester.UserID
	}
	if !requester.IsAdmin() && instructorID != requester.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "instructors can only create their own classes")
	}
	instructorName, err := s.resolveInstructor(ctx, instructorID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	start := req.Schedule.StartTime.UTC()
	if !start.After(now) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "class must start in the future")
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	class := &models.ClassSession{
		Title:          req.Title,
		Description:    req.Description,
		InstructorID:   instructorID,
		InstructorName: instructorName,
		Type:           req.Type,
		Level:          req.Level,
		Location:       req.Location,
		Capacity:       req.Capacity,
		ClassDate:      classDate(start),
		StartTime:      start,
		EndTime:        req.Schedule.EndTime.UTC(),
		IsActive:       active,
		Enrolled:       models.Ledger{},
	}
	if err := s.repo.Create(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create class")
	}
	s.cache.Invalidate(ctx, classCachePattern)
	s.logger.Info("class created", zap.String("class_id", class.ID), zap.String("instructor_id", instructorID))

	view := dto.NewClassView(class)
	return &view, nil
}

// Update edits a class owned by the requester, or any class for admins. Raising the
// capacity confirms waitlisted members in booking order.
func (s *ClassService) Update(ctx context.Context, requester models.Requester, id string, req dto.UpdateClassRequest) (*dto.ClassView, error) {
	if !requester.Role.CanManageClasses() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only instructors and admins can update classes")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	if req.Schedule != nil {
		if err := s.validator.Struct(req.Schedule); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule")
		}
	}

	for attempt := 1; attempt <= classWriteRetries; attempt++ {
		class, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if !requester.CanManage(class.InstructorID) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "you can only update your own classes")
		}
		promoted, err := applyClassUpdate(class, req, s.now().UTC())
		if err != nil {
			return nil, err
		}

		err = s.repo.Update(ctx, class)
		if err == nil {
			s.cache.Invalidate(ctx, classCachePattern)
			s.logger.Info("class updated", zap.String("class_id", class.ID), zap.Int("promoted", promoted))
			view := dto.NewClassView(class)
			return &view, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update class")
		}
	}
	return nil, appErrors.ErrWriteConflict
}

// Delete removes a class that has no confirmed bookings.
func (s *ClassService) Delete(ctx context.Context, requester models.Requester, id string) error {
	if !requester.Role.CanManageClasses() {
		return appErrors.Clone(appErrors.ErrForbidden, "only instructors and admins can delete classes")
	}
	for attempt := 1; attempt <= classWriteRetries; attempt++ {
		class, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if !requester.CanManage(class.InstructorID) {
			return appErrors.Clone(appErrors.ErrForbidden, "you can only delete your own classes")
		}
		if class.Enrolled.ConfirmedCount() > 0 {
			return appErrors.ErrClassHasBookings
		}

		err = s.repo.Delete(ctx, class.ID, class.Version)
		if err == nil {
			s.cache.Invalidate(ctx, classCachePattern)
			s.logger.Info("class deleted", zap.String("class_id", class.ID))
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete class")
		}
	}
	return appErrors.ErrWriteConflict
}

func (s *ClassService) load(ctx context.Context, id string) (*models.ClassSession, error) {
	class, err := s.repo.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	return class, nil
}

func (s *ClassService) resolveInstructor(ctx context.Context, id string) (string, error) {
	if s.users == nil {
		return "", nil
	}
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrValidation, "instructor not found")
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
	}
	if !user.Role.CanManageClasses() || !user.Active {
		return "", appErrors.Clone(appErrors.ErrValidation, "assigned user cannot teach classes")
	}
	return user.FullName, nil
}

func applyClassUpdate(class *models.ClassSession, req dto.UpdateClassRequest, now time.Time) (int, error) {
	if req.Title != nil {
		class.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		class.Description = *req.Description
	}
	if req.Type != nil {
		class.Type = *req.Type
	}
	if req.Level != nil {
		class.Level = *req.Level
	}
	if req.Location != nil {
		class.Location = *req.Location
	}
	if req.Schedule != nil {
		class.StartTime = req.Schedule.StartTime.UTC()
		class.EndTime = req.Schedule.EndTime.UTC()
		class.ClassDate = classDate(class.StartTime)
	}
	if req.IsActive != nil {
		class.IsActive = *req.IsActive
	}

	promoted := 0
	if req.Capacity != nil {
		if *req.Capacity < class.Enrolled.ConfirmedCount() {
			return 0, appErrors.ErrCapacityBelowConfirmed
		}
		class.Capacity = *req.Capacity
		for {
			if _, ok := class.Enrolled.PromoteNext(class.Capacity, now); !ok {
				break
			}
			promoted++
		}
	}
	return promoted, nil
}

func validateCatalogEnums(t models.ClassType, l models.ClassLevel, loc models.ClassLocation) error {
	if t != "" && !t.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown class type")
	}
	if l != "" && !l.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown class level")
	}
	if loc != "" && !loc.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown class location")
	}
	return nil
}

func validateInstructorFilter(id string) error {
	if id == "" {
		return nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "instructor must be a valid id")
	}
	return nil
}

func classViews(classes []models.ClassSession) []dto.ClassView {
	views := make([]dto.ClassView, 0, len(classes))
	for i := range classes {
		views = append(views, dto.NewClassView(&classes[i]))
	}
	return views
}

func classDate(start time.Time) time.Time {
	y, m, d := start.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
