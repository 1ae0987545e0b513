package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-booking-api/internal/dto"
	"github.com/noah-isme/studio-booking-api/internal/middleware"
	"github.com/noah-isme/studio-booking-api/internal/models"
	appErrors "github.com/noah-isme/studio-booking-api/pkg/errors"
	"github.com/noah-isme/studio-booking-api/pkg/export"
)

type responseEnvelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) responseEnvelope {
	t.Helper()
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

func newTestContext(method, target string, body interface{}, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	c.Request = httptest.NewRequest(method, target, reader)
	c.Request.Header.Set("Content-Type", "application/json")
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, rec
}

var memberClaims = &models.JWTClaims{UserID: "member-1", Role: models.RoleUser}

type fakeBookingSrv struct {
	bookResult  *dto.BookingResult
	bookErr     error
	lastBook    dto.BookClassRequest
	lastUser    string
	history     bool
	cancelErr   error
	doc         *export.Document
	exportErr   error
	lastFormat  export.Format
	lastRequest models.Requester
}

func (f *fakeBookingSrv) Book(ctx context.Context, userID string, req dto.BookClassRequest) (*dto.BookingResult, error) {
	f.lastUser = userID
	f.lastBook = req
	return f.bookResult, f.bookErr
}

func (f *fakeBookingSrv) Cancel(ctx context.Context, userID, classID string) (*dto.CancelResult, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &dto.CancelResult{Message: "Booking cancelled successfully", Previous: models.EnrollmentConfirmed}, nil
}

func (f *fakeBookingSrv) ListUserBookings(ctx context.Context, userID string, includeHistory bool) ([]dto.BookingView, error) {
	f.lastUser = userID
	f.history = includeHistory
	return []dto.BookingView{{ID: "e1"}, {ID: "e2"}}, nil
}

func (f *fakeBookingSrv) ListClassBookings(ctx context.Context, requester models.Requester, classID string) (*dto.ClassBookingsResponse, error) {
	f.lastRequest = requester
	if requester.Role == models.RoleUser {
		return nil, appErrors.ErrForbidden
	}
	return &dto.ClassBookingsResponse{}, nil
}

func (f *fakeBookingSrv) ExportClassRoster(ctx context.Context, requester models.Requester, classID string, format export.Format) (*export.Document, error) {
	f.lastFormat = format
	return f.doc, f.exportErr
}

func TestBookingCreateReturns201(t *testing.T) {
	srv := &fakeBookingSrv{bookResult: &dto.BookingResult{Status: models.EnrollmentWaitlist, Message: "Added to waitlist - you will be notified if a spot opens up"}}
	handler := NewBookingHandler(srv)

	c, rec := newTestContext(http.MethodPost, "/bookings", map[string]string{"classId": "c-1", "notes": "first time"}, memberClaims)
	handler.Create(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "member-1", srv.lastUser)
	assert.Equal(t, "c-1", srv.lastBook.ClassID)
	assert.Equal(t, "first time", srv.lastBook.Notes)

	var result dto.BookingResult
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &result))
	assert.Equal(t, models.EnrollmentWaitlist, result.Status)
}

func TestBookingCreateRequiresAuth(t *testing.T) {
	handler := NewBookingHandler(&fakeBookingSrv{})
	c, rec := newTestContext(http.MethodPost, "/bookings", map[string]string{"classId": "c-1"}, nil)
	handler.Create(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBookingCreateMapsBusinessErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{appErrors.ErrTooSoon, http.StatusBadRequest, "TOO_SOON"},
		{appErrors.Clone(appErrors.ErrNotFound, "class not found"), http.StatusNotFound, "NOT_FOUND"},
		{appErrors.ErrWriteConflict, http.StatusConflict, "WRITE_CONFLICT"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			handler := NewBookingHandler(&fakeBookingSrv{bookErr: tc.err})
			c, rec := newTestContext(http.MethodPost, "/bookings", map[string]string{"classId": "c-1"}, memberClaims)
			handler.Create(c)

			assert.Equal(t, tc.status, rec.Code)
			envelope := decodeEnvelope(t, rec)
			require.NotNil(t, envelope.Error)
			assert.Equal(t, tc.code, envelope.Error.Code)
		})
	}
}

func TestBookingHistoryFlag(t *testing.T) {
	srv := &fakeBookingSrv{}
	handler := NewBookingHandler(srv)

	c, rec := newTestContext(http.MethodGet, "/bookings/history", nil, memberClaims)
	handler.History(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, srv.history)
	assert.Equal(t, float64(2), decodeEnvelope(t, rec).Meta["count"])

	c, _ = newTestContext(http.MethodGet, "/bookings", nil, memberClaims)
	handler.List(c)
	assert.False(t, srv.history)
}

func TestBookingCancelWindowClosed(t *testing.T) {
	handler := NewBookingHandler(&fakeBookingSrv{cancelErr: appErrors.ErrCancellationWindowClosed})
	c, rec := newTestContext(http.MethodDelete, "/bookings/cancel/c-1", nil, memberClaims)
	c.Params = gin.Params{{Key: "classId", Value: "c-1"}}
	handler.Cancel(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "CANCELLATION_WINDOW_CLOSED", decodeEnvelope(t, rec).Error.Code)
}

func TestClassRosterForbiddenForMembers(t *testing.T) {
	handler := NewBookingHandler(&fakeBookingSrv{})
	c, rec := newTestContext(http.MethodGet, "/bookings/class/c-1", nil, memberClaims)
	c.Params = gin.Params{{Key: "classId", Value: "c-1"}}
	handler.ClassRoster(c)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestExportRosterStreamsFile(t *testing.T) {
	srv := &fakeBookingSrv{doc: &export.Document{Filename: "roster-c-1.pdf", ContentType: "application/pdf", Body: []byte("%PDF-1.3")}}
	handler := NewBookingHandler(srv)
	admin := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	c, rec := newTestContext(http.MethodGet, "/bookings/class/c-1/export?format=PDF", nil, admin)
	c.Params = gin.Params{{Key: "classId", Value: "c-1"}}
	handler.ExportRoster(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.FormatPDF, srv.lastFormat)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "roster-c-1.pdf")

	c, rec = newTestContext(http.MethodGet, "/bookings/class/c-1/export?format=xlsx", nil, admin)
	handler.ExportRoster(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeClassSrv struct {
	cacheHit  bool
	listQuery dto.ClassListQuery
	creator   models.Requester
}

func (f *fakeClassSrv) List(ctx context.Context, q dto.ClassListQuery) ([]dto.ClassView, bool, error) {
	f.listQuery = q
	return []dto.ClassView{{Capacity: 10, AvailableSpots: 4}}, f.cacheHit, nil
}

func (f *fakeClassSrv) Search(ctx context.Context, q dto.ClassSearchQuery) ([]dto.ClassView, error) {
	return nil, nil
}

func (f *fakeClassSrv) Get(ctx context.Context, id string) (*dto.ClassView, error) {
	return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
}

func (f *fakeClassSrv) Create(ctx context.Context, requester models.Requester, req dto.CreateClassRequest) (*dto.ClassView, error) {
	f.creator = requester
	return &dto.ClassView{Capacity: req.Capacity}, nil
}

func (f *fakeClassSrv) Update(ctx context.Context, requester models.Requester, id string, req dto.UpdateClassRequest) (*dto.ClassView, error) {
	return nil, appErrors.ErrCapacityBelowConfirmed
}

func (f *fakeClassSrv) Delete(ctx context.Context, requester models.Requester, id string) error {
	return appErrors.ErrClassHasBookings
}

func TestClassListBindsFiltersAndReportsCache(t *testing.T) {
	srv := &fakeClassSrv{cacheHit: true}
	handler := NewClassHandler(srv)

	c, rec := newTestContext(http.MethodGet, "/classes?type=yin&availableOnly=true", nil, nil)
	handler.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "yin", srv.listQuery.Type)
	assert.True(t, srv.listQuery.AvailableOnly)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, true, envelope.Meta["cache_hit"])
	assert.Equal(t, "HIT", rec.Header().Get(middleware.CacheHeader))
}

func TestClassHandlerErrors(t *testing.T) {
	srv := &fakeClassSrv{}
	handler := NewClassHandler(srv)
	instructor := &models.JWTClaims{UserID: "inst-1", Role: models.RoleInstructor}

	c, rec := newTestContext(http.MethodGet, "/classes/missing", nil, nil)
	handler.Get(c)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	c, rec = newTestContext(http.MethodPut, "/classes/c-1", map[string]int{"capacity": 1}, instructor)
	handler.Update(c)
	assert.Equal(t, "CAPACITY_BELOW_CONFIRMED", decodeEnvelope(t, rec).Error.Code)

	c, rec = newTestContext(http.MethodDelete, "/classes/c-1", nil, instructor)
	handler.Delete(c)
	assert.Equal(t, "CLASS_HAS_BOOKINGS", decodeEnvelope(t, rec).Error.Code)

	c, rec = newTestContext(http.MethodPost, "/classes", map[string]int{"capacity": 8}, instructor)
	handler.Create(c)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "inst-1", srv.creator.UserID)
	assert.Equal(t, models.RoleInstructor, srv.creator.Role)
}

func TestReadyReportsFailingDependency(t *testing.T) {
	handler := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"database": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	})
	c, rec := newTestContext(http.MethodGet, "/ready", nil, nil)
	handler.Ready(c)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable","checks":{"database":"ok","redis":"connection refused"}}`, rec.Body.String())
}

type fakeProfileSrv struct {
	lastUser  string
	lastPrefs dto.UpdatePreferencesRequest
	lastPatch dto.UpdateProfileRequest
}

func (f *fakeProfileSrv) Profile(ctx context.Context, userID string) (*dto.ProfileResponse, error) {
	return &dto.ProfileResponse{}, nil
}

func (f *fakeProfileSrv) UpdateProfile(ctx context.Context, userID string, req dto.UpdateProfileRequest) (*dto.ProfileResponse, error) {
	f.lastUser = userID
	f.lastPatch = req
	return &dto.ProfileResponse{}, nil
}

func (f *fakeProfileSrv) UpdatePreferences(ctx context.Context, userID string, req dto.UpdatePreferencesRequest) (*dto.ProfileResponse, error) {
	f.lastUser = userID
	f.lastPrefs = req
	if req.FitnessLevel != nil && !req.FitnessLevel.Valid() {
		return nil, appErrors.ErrValidation
	}
	return &dto.ProfileResponse{}, nil
}

func (f *fakeProfileSrv) Dashboard(ctx context.Context, userID string) (*dto.DashboardResponse, error) {
	return &dto.DashboardResponse{}, nil
}

func (f *fakeProfileSrv) Stats(ctx context.Context, userID string) (*dto.UserStatsResponse, error) {
	return &dto.UserStatsResponse{}, nil
}

func TestUpdatePreferencesBindsPayload(t *testing.T) {
	srv := &fakeProfileSrv{}
	handler := NewProfileHandler(srv)

	body := map[string]interface{}{"favoriteYogaTypes": []string{"yin"}, "fitnessLevel": "advanced"}
	c, rec := newTestContext(http.MethodPut, "/profile/preferences", body, memberClaims)
	handler.UpdatePreferences(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "member-1", srv.lastUser)
	assert.Equal(t, []models.ClassType{models.ClassTypeYin}, srv.lastPrefs.FavoriteYogaTypes)
	require.NotNil(t, srv.lastPrefs.FitnessLevel)
	assert.Equal(t, models.LevelAdvanced, *srv.lastPrefs.FitnessLevel)
	assert.Nil(t, srv.lastPrefs.Goals)

	c, rec = newTestContext(http.MethodPut, "/profile/preferences", map[string]string{"fitnessLevel": "expert"}, memberClaims)
	handler.UpdatePreferences(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateProfileBindsSections(t *testing.T) {
	srv := &fakeProfileSrv{}
	handler := NewProfileHandler(srv)

	body := map[string]interface{}{
		"notifications":    map[string]bool{"promotions": true},
		"emergencyContact": map[string]string{"name": "Sam"},
	}
	c, rec := newTestContext(http.MethodPut, "/profile", body, memberClaims)
	handler.UpdateProfile(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, srv.lastPatch.Preferences)
	require.NotNil(t, srv.lastPatch.Notifications)
	require.NotNil(t, srv.lastPatch.Notifications.Promotions)
	assert.True(t, *srv.lastPatch.Notifications.Promotions)
	assert.Nil(t, srv.lastPatch.Notifications.ClassUpdates)
	require.NotNil(t, srv.lastPatch.EmergencyContact)
	assert.Equal(t, "Sam", *srv.lastPatch.EmergencyContact.Name)

	c, rec = newTestContext(http.MethodPut, "/profile", nil, nil)
	handler.UpdateProfile(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
