package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-booking-api/internal/dto"
	"github.com/noah-isme/studio-booking-api/internal/models"
	"github.com/noah-isme/studio-booking-api/internal/repository"
	appErrors "github.com/noah-isme/studio-booking-api/pkg/errors"
	"github.com/noah-isme/studio-booking-api/pkg/export"
)

var bookingNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type memoryClassStore struct {
	mu             sync.Mutex
	classes        map[string]models.ClassSession
	alwaysConflict bool
	saves          int
	conflicts      int
}

func newMemoryClassStore(classes ...models.ClassSession) *memoryClassStore {
	store := &memoryClassStore{classes: map[string]models.ClassSession{}}
	for _, c := range classes {
		store.classes[c.ID] = c
	}
	return store
}

func (m *memoryClassStore) FindByID(ctx context.Context, id string) (*models.ClassSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c.Enrolled = c.Enrolled.Clone()
	return &c, nil
}

func (m *memoryClassStore) ListByUser(ctx context.Context, userID string) ([]models.ClassSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ClassSession
	for _, c := range m.classes {
		if _, ok := c.Enrolled.LatestEntry(userID); ok {
			c.Enrolled = c.Enrolled.Clone()
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryClassStore) SaveLedger(ctx context.Context, id string, ledger models.Ledger, expectedVersion int64, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[id]
	if !ok {
		return 0, errors.New("missing class")
	}
	if m.alwaysConflict || c.Version != expectedVersion {
		m.conflicts++
		return 0, repository.ErrVersionConflict
	}
	c.Enrolled = ledger.Clone()
	c.Version++
	c.UpdatedAt = at
	m.classes[id] = c
	m.saves++
	return c.Version, nil
}

func (m *memoryClassStore) get(id string) models.ClassSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.classes[id]
}

type fakeRosterUsers struct {
	users map[string]models.User
}

func (f *fakeRosterUsers) FindByIDs(ctx context.Context, ids []string) (map[string]models.User, error) {
	out := map[string]models.User{}
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

type fakeStatsRecorder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeStatsRecorder) Record(ctx context.Context, userID string, action models.StatsAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID+":"+string(action))
	return f.err
}

func testClass(id string, capacity int, startsIn time.Duration) models.ClassSession {
	start := bookingNow.Add(startsIn)
	return models.ClassSession{
		ID:             id,
		Title:          "Class " + id,
		InstructorID:   "instructor-1",
		InstructorName: "Iris",
		Type:           models.ClassTypeVinyasa,
		Level:          models.LevelAllLevels,
		Location:       models.LocationStudio1,
		Capacity:       capacity,
		ClassDate:      start.Truncate(24 * time.Hour),
		StartTime:      start,
		EndTime:        start.Add(time.Hour),
		IsActive:       true,
		Enrolled:       models.Ledger{},
		Version:        1,
	}
}

func newTestBookingService(store *memoryClassStore, stats statsRecorder, retries int) *BookingService {
	svc := NewBookingService(BookingServiceParams{
		Classes: store,
		Users: &fakeRosterUsers{users: map[string]models.User{
			"alice": {ID: "alice", FullName: "Alice", Email: "alice@example.com"},
			"bob":   {ID: "bob", FullName: "Bob", Email: "bob@example.com"},
		}},
		Stats:  stats,
		Config: BookingServiceConfig{MaxRetries: retries},
	})
	svc.now = func() time.Time { return bookingNow }
	return svc
}

func book(t *testing.T, svc *BookingService, userID, classID string) *dto.BookingResult {
	t.Helper()
	res, err := svc.Book(context.Background(), userID, dto.BookClassRequest{ClassID: classID})
	require.NoError(t, err)
	return res
}

func TestBookConfirmsWhileSeatsRemain(t *testing.T) {
	store := newMemoryClassStore(testClass("c1", 2, 24*time.Hour))
	stats := &fakeStatsRecorder{}
	svc := newTestBookingService(store, stats, 0)

	res := book(t, svc, "alice", "c1")
	assert.Equal(t, models.EnrollmentConfirmed, res.Status)
	assert.Equal(t, MessageBooked, res.Message)
	assert.Equal(t, "c1", res.Booking.Class.ID)

	class := store.get("c1")
	assert.Equal(t, int64(2), class.Version)
	assert.Equal(t, 1, class.AvailableSpots())
	assert.Equal(t, []string{"alice:book"}, stats.calls)
}

func TestBookCapacityHoldsUnderConcurrency(t *testing.T) {
	store := newMemoryClassStore(testClass("c1", 5, 24*time.Hour))
	svc := newTestBookingService(store, nil, 25)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Book(context.Background(), fmt.Sprintf("user-%02d", i), dto.BookClassRequest{ClassID: "c1"})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	class := store.get("c1")
	assert.Equal(t, 5, class.Enrolled.ConfirmedCount())
	assert.Equal(t, 15, class.Enrolled.WaitlistCount())
	assert.Len(t, class.Enrolled, 20)
	assert.Equal(t, 0, class.AvailableSpots())
}

func TestBookRejectsDuplicateUnderConcurrency(t *testing.T) {
	store := newMemoryClassStore(testClass("c1", 5, 24*time.Hour))
	svc := newTestBookingService(store, nil, 25)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Book(context.Background(), "alice", dto.BookClassRequest{ClassID: "c1"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			if errors.Is(err, appErrors.ErrAlreadyBooked) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 9, rejected)
	assert.Len(t, store.get("c1").Enrolled, 1)
}

func TestBookAlreadyBooked(t *testing.T) {
	store := newMemoryClassStore(testClass("c1", 2, 24*time.Hour))
	svc := newTestBookingService(store, nil, 0)

	book(t, svc, "alice", "c1")
	_, err := svc.Book(context.Background(), "alice", dto.BookClassRequest{ClassID: "c1"})
	assert.ErrorIs(t, err, appErrors.ErrAlreadyBooked)
}

func TestBookWaitlistedUserCannotBookAgain(t *testing.T) {
	store := newMemoryClassStore(testClass("c1", 1, 24*time.Hour))
	svc := newTestBookingService(store, nil, 0)

	book(t, svc, "alice", "c1")
	res := book(t, svc, "bob", "c1")
	require.Equal(t, models.EnrollmentWaitlist, res.Status)

	_, err := svc.Book(context.Background(), "bob", dto.BookClassRequest{ClassID: "c1"})
	assert.ErrorIs(t, err, appErrors.ErrAlreadyBooked)
}

func TestBookTimeWindows(t *testing.T) {
	cases := []struct {
		name     string
		startsIn time.Duration
		wantErr  *appErrors.Error
	}{
		{"ten minutes ahead", 10 * time.Minute, appErrors.ErrTooSoon},
		{"exactly thirty minutes ahead", 30 * time.Minute, nil},
		{"forty days ahead", 40 * 24 * time.Hour, appErrors.ErrTooFarAhead},
		{"twenty nine days ahead", 29 * 24 * time.Hour, nil},
		{"already started", -5 * time.Minute, appErrors.ErrClassStarted},
		{"starting right now", 0, appErrors.ErrClassStarted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemoryClassStore(testClass("c1", 5, tc.startsIn))
			svc := newTestBookingService(store, nil, 0)

			_, err := svc.Book(context.Background(), "alice", dto.BookClassRequest{ClassID: "c1"})
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Empty(t, store.get("c1").Enrolled)
		})
	}
}

func TestBookRuleOrder(t *testing.T) {
	inactive := testClass("inactive", 5, 10*time.Minute)
	inactive.IsActive = false
	started := testClass("started", 5, -time.Hour)
	started.Enrolled = models.Ledger{{ID: "e1", UserID: "alice", Status: models.EnrollmentConfirmed, BookingDate: bookingNow.Add(-48 * time.Hour)}}
	soon := testClass("soon", 5, 10*time.Minute)
	soon.Enrolled = models.Ledger{{ID: "e2", UserID: "alice", Status: models.EnrollmentConfirmed, BookingDate: bookingNow.Add(-time.Hour)}}

	store := newMemoryClassStore(inactive, started, soon)
	svc := newTestBookingService(store, nil, 0)

	_, err := svc.Book(context.Background(), "alice", dto.BookClassRequest{ClassID: "inactive"})
	assert.ErrorIs(t, err, appErrors.ErrClassInactive)

	_, err = svc.Book(context.Background(), "alice", dto.BookClassRequest{ClassID: "started"})
	assert.ErrorIs(t, err, appErrors.ErrClassStarted)

	_, err = svc.Book(context.Background(), "alice", dto.BookClassRequest{ClassID: "soon"})
	assert.ErrorIs(t, err, appErrors.ErrAlreadyBooked)
}

func TestBookValidation(t *testing.T) {
	store := newMemoryClassStore(testClass("c1", 5, 24*time.Hour))
	svc := newTestBookingService(store, nil, 0)

	_, err := svc.Book(context.Background(), "alice", dto.BookClassRequest{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Book(context.Background(), "alice", dto.BookClassRequest{ClassID: "missing"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.Book(context.Background(), "alice", dto.BookClassRequest{ClassID: "c1", Notes: strings.Repeat("é", 501)})
	assert.ErrorIs(t, err, appErrors.ErrNoteTooLong)

	res, err := svc.Book(context.Background(), "alice", dto.BookClassRequest{ClassID: "c1", Notes: strings.Repeat("é", 500)})
	require.NoError(t, err)
	assert.Equal(t, 500, len([]rune(res.Booking.Notes)))
}

func TestBookReturnsWriteConflictWhenRetriesExhausted(t *testing.T) {
	store := newMemoryClassStore(testClass("c1", 5, 24*time.Hour))
	store.alwaysConflict = true
	svc := newTestBookingService(store, nil, 3)

	_, err := svc.Book(context.Background(), "alice", dto.BookClassRequest{ClassID: "c1"})
	assert.ErrorIs(t, err, appErrors.ErrWriteConflict)
	assert.Equal(t, 3, store.conflicts)
	assert.Empty(t, store.get("c1").Enrolled)
}

func TestBookSucceedsWhenStatsFail(t *testing.T) {
	store := newMemoryClassStore(testClass("c1", 5, 24*time.Hour))
	stats := &fakeStatsRecorder{err: errors.New("queue full")}
	svc := newTestBookingService(store, stats, 0)

	res, err := svc.Book(context.Background(), "alice", dto.BookClassRequest{ClassID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentConfirmed, res.Status)
	assert.Equal(t, 1, store.get("c1").Enrolled.ConfirmedCount())
}

func TestCancelPromotesEarliestWaitlisted(t *testing.T) {
	store := newMemoryClassStore(testClass("c1", 2, 24*time.Hour))
	svc := newTestBookingService(store, nil, 0)

	for _, u := range []string{"A", "B", "C", "D"} {
		book(t, svc, u, "c1")
	}
	res, err := svc.Cancel(context.Background(), "A", "c1")
	require.NoError(t, err)
	assert.True(t, res.Promoted)
	assert.Equal(t, models.EnrollmentConfirmed, res.Previous)

	ledger := store.get("c1").Enrolled
	c, _ := ledger.ActiveEntry("C")
	d, _ := ledger.ActiveEntry("D")
	assert.Equal(t, models.EnrollmentConfirmed, c.Status)
	require.NotNil(t, c.PromotedAt)
	assert.Equal(t, models.EnrollmentWaitlist, d.Status)
	assert.Equal(t, 0, ledger.AvailableSpots(2))

	a, ok := ledger.LatestEntry("A")
	require.True(t, ok)
	assert.Equal(t, models.EnrollmentCancelled, a.Status)
	require.NotNil(t, a.CancelledAt)
}

func TestCancelWaitlistedDoesNotPromote(t *testing.T) {
	store := newMemoryClassStore(testClass("c1", 1, 24*time.Hour))
	svc := newTestBookingService(store, nil, 0)

	book(t, svc, "A", "c1")
	book(t, svc, "B", "c1")
	book(t, svc, "C", "c1")

	res, err := svc.Cancel(context.Background(), "B", "c1")
	require.NoError(t, err)
	assert.False(t, res.Promoted)
	assert.Equal(t, models.EnrollmentWaitlist, res.Previous)

	ledger := store.get("c1").Enrolled
	assert.Equal(t, 1, ledger.ConfirmedCount())
	assert.Equal(t, 1, ledger.WaitlistCount())
}

func TestCancelWindow(t *testing.T) {
	cases := []struct {
		name     string
		startsIn time.Duration
		wantErr  *appErrors.Error
	}{
		{"one hour before start", time.Hour, appErrors.ErrCancellationWindowClosed},
		{"three hours before start", 3 * time.Hour, nil},
		{"exactly two hours before start", 2 * time.Hour, nil},
		{"after the class started", -30 * time.Minute, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			class := testClass("c1", 5, tc.startsIn)
			class.Enrolled = models.Ledger{{ID: "e1", UserID: "alice", Status: models.EnrollmentConfirmed, BookingDate: bookingNow.Add(-72 * time.Hour)}}
			store := newMemoryClassStore(class)
			svc := newTestBookingService(store, nil, 0)

			_, err := svc.Cancel(context.Background(), "alice", "c1")
			if tc.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, 0, store.get("c1").Enrolled.ConfirmedCount())
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, 1, store.get("c1").Enrolled.ConfirmedCount())
		})
	}
}

func TestCancelNotEnrolled(t *testing.T) {
	store := newMemoryClassStore(testClass("c1", 5, 24*time.Hour))
	svc := newTestBookingService(store, nil, 0)

	_, err := svc.Cancel(context.Background(), "alice", "c1")
	assert.ErrorIs(t, err, appErrors.ErrNotEnrolled)

	_, err = svc.Cancel(context.Background(), "alice", "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	book(t, svc, "alice", "c1")
	_, err = svc.Cancel(context.Background(), "alice", "c1")
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), "alice", "c1")
	assert.ErrorIs(t, err, appErrors.ErrNotEnrolled)
}

func TestCancelThenRebook(t *testing.T) {
	store := newMemoryClassStore(testClass("c1", 5, 24*time.Hour))
	stats := &fakeStatsRecorder{}
	svc := newTestBookingService(store, stats, 0)

	book(t, svc, "alice", "c1")
	_, err := svc.Cancel(context.Background(), "alice", "c1")
	require.NoError(t, err)
	res := book(t, svc, "alice", "c1")
	assert.Equal(t, models.EnrollmentConfirmed, res.Status)

	ledger := store.get("c1").Enrolled
	require.Len(t, ledger, 2)
	assert.Equal(t, models.EnrollmentCancelled, ledger[0].Status)
	assert.Equal(t, models.EnrollmentConfirmed, ledger[1].Status)
	assert.NotEqual(t, ledger[0].ID, ledger[1].ID)
	assert.Equal(t, []string{"alice:book", "alice:cancel", "alice:book"}, stats.calls)
}

func TestSingleSeatScenario(t *testing.T) {
	store := newMemoryClassStore(testClass("c1", 1, 24*time.Hour))
	svc := newTestBookingService(store, nil, 0)

	first := book(t, svc, "U1", "c1")
	assert.Equal(t, models.EnrollmentConfirmed, first.Status)

	second := book(t, svc, "U2", "c1")
	assert.Equal(t, models.EnrollmentWaitlist, second.Status)
	assert.Equal(t, MessageWaitlisted, second.Message)

	_, err := svc.Cancel(context.Background(), "U1", "c1")
	require.NoError(t, err)
	promoted, ok := store.get("c1").Enrolled.ActiveEntry("U2")
	require.True(t, ok)
	assert.Equal(t, models.EnrollmentConfirmed, promoted.Status)

	third := book(t, svc, "U3", "c1")
	assert.Equal(t, models.EnrollmentWaitlist, third.Status)
	c1 := store.get("c1")
	assert.Equal(t, 0, c1.AvailableSpots())
}

func TestListUserBookingsOrdering(t *testing.T) {
	early := testClass("early", 5, 24*time.Hour)
	late := testClass("late", 5, 72*time.Hour)
	dropped := testClass("dropped", 5, 48*time.Hour)
	store := newMemoryClassStore(late, early, dropped)
	svc := newTestBookingService(store, nil, 0)

	book(t, svc, "alice", "late")
	book(t, svc, "alice", "early")
	book(t, svc, "alice", "dropped")
	_, err := svc.Cancel(context.Background(), "alice", "dropped")
	require.NoError(t, err)

	active, err := svc.ListUserBookings(context.Background(), "alice", false)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "early", active[0].Class.ID)
	assert.Equal(t, "late", active[1].Class.ID)

	history, err := svc.ListUserBookings(context.Background(), "alice", true)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "late", history[0].Class.ID)
	assert.Equal(t, "dropped", history[1].Class.ID)
	assert.Equal(t, models.EnrollmentCancelled, history[1].Status)
	assert.Equal(t, "early", history[2].Class.ID)
}

func TestListClassBookingsAuthorization(t *testing.T) {
	store := newMemoryClassStore(testClass("c1", 1, 24*time.Hour))
	svc := newTestBookingService(store, nil, 0)
	book(t, svc, "alice", "c1")
	book(t, svc, "bob", "c1")

	_, err := svc.ListClassBookings(context.Background(), models.Requester{UserID: "alice", Role: models.RoleUser}, "c1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.ListClassBookings(context.Background(), models.Requester{UserID: "instructor-2", Role: models.RoleInstructor}, "c1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	roster, err := svc.ListClassBookings(context.Background(), models.Requester{UserID: "instructor-1", Role: models.RoleInstructor}, "c1")
	require.NoError(t, err)
	require.Len(t, roster.Confirmed, 1)
	require.Len(t, roster.Waitlist, 1)
	assert.Equal(t, "Alice", roster.Confirmed[0].Name)
	assert.Equal(t, "Bob", roster.Waitlist[0].Name)
	assert.Equal(t, dto.RosterStats{TotalConfirmed: 1, TotalWaitlist: 1, AvailableSpots: 0}, roster.Stats)

	_, err = svc.ListClassBookings(context.Background(), models.Requester{UserID: "root", Role: models.RoleAdmin}, "c1")
	require.NoError(t, err)

	_, err = svc.ListClassBookings(context.Background(), models.Requester{UserID: "root", Role: models.RoleAdmin}, "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestExportClassRosterCSV(t *testing.T) {
	store := newMemoryClassStore(testClass("c1", 1, 24*time.Hour))
	svc := newTestBookingService(store, nil, 0)
	book(t, svc, "alice", "c1")
	book(t, svc, "bob", "c1")

	doc, err := svc.ExportClassRoster(context.Background(), models.Requester{UserID: "root", Role: models.RoleAdmin}, "c1", export.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "roster-c1.csv", doc.Filename)

	lines := strings.Split(strings.TrimSpace(string(doc.Body)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "#,Name,Email,Status,Booked At,Notes", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1,Alice,alice@example.com,confirmed,"))
	assert.True(t, strings.HasPrefix(lines[2], "2,Bob,bob@example.com,waitlist,"))
}

func TestExportClassRosterForbiddenForMembers(t *testing.T) {
	store := newMemoryClassStore(testClass("c1", 1, 24*time.Hour))
	svc := newTestBookingService(store, nil, 0)

	_, err := svc.ExportClassRoster(context.Background(), models.Requester{UserID: "alice", Role: models.RoleUser}, "c1", export.FormatPDF)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}
