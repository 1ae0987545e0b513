package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/studio-booking-api/internal/models"
	"github.com/noah-isme/studio-booking-api/pkg/jobs"
)

// StatsJobType tags profile counter jobs on the background queue.
const StatsJobType = "profile.stats"

type profileCounterRepository interface {
	Ensure(ctx context.Context, userID string, at time.Time) error
	IncrementBooking(ctx context.Context, userID string, at time.Time) error
	ResetMonthly(ctx context.Context, at time.Time) (int64, error)
	ResetYearly(ctx context.Context, at time.Time) (int64, error)
}

type jobEnqueuer interface {
	TryEnqueue(job jobs.Job) error
}

// StatsEvent is the payload of a profile counter job.
type StatsEvent struct {
	UserID string
	Action models.StatsAction
	At     time.Time
}

// StatsService maintains the best-effort booking counters on member profiles.
type StatsService struct {
	repo    profileCounterRepository
	queue   jobEnqueuer
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewStatsService constructs the aggregator. Without a queue, Record applies updates inline.
func NewStatsService(repo profileCounterRepository, metrics *MetricsService, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsService{repo: repo, metrics: metrics, logger: logger, now: time.Now}
}

// UseQueue routes Record through q. q is expected to call Handle for each job.
func (s *StatsService) UseQueue(q jobEnqueuer) {
	s.queue = q
}

// Record reports a booking event for userID. With a queue attached it never blocks.
func (s *StatsService) Record(ctx context.Context, userID string, action models.StatsAction) error {
	event := StatsEvent{UserID: userID, Action: action, At: s.now().UTC()}
	if s.queue == nil {
		return s.Apply(ctx, event)
	}
	if err := s.queue.TryEnqueue(jobs.Job{Type: StatsJobType, Payload: event}); err != nil {
		s.metrics.RecordStatsDropped()
		return fmt.Errorf("enqueue stats event: %w", err)
	}
	return nil
}

// Handle is the queue handler for StatsJobType jobs.
func (s *StatsService) Handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(StatsEvent)
	if !ok {
		s.logger.Error("discarding malformed stats job", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	return s.Apply(ctx, event)
}

// Apply writes a single event to the profile store.
func (s *StatsService) Apply(ctx context.Context, event StatsEvent) error {
	switch event.Action {
	case models.StatsActionBook:
		return s.repo.IncrementBooking(ctx, event.UserID, event.At)
	case models.StatsActionCancel:
		// counters are cumulative; a cancel only guarantees the profile exists
		return s.repo.Ensure(ctx, event.UserID, event.At)
	default:
		return fmt.Errorf("unknown stats action %q", event.Action)
	}
}

// ResetPeriodCounters zeroes the monthly counters, and the yearly ones in January.
func (s *StatsService) ResetPeriodCounters(ctx context.Context) error {
	now := s.now().UTC()
	n, err := s.repo.ResetMonthly(ctx, now)
	if err != nil {
		return err
	}
	s.logger.Info("monthly class counters reset", zap.Int64("profiles", n))

	if now.Month() == time.January {
		n, err = s.repo.ResetYearly(ctx, now)
		if err != nil {
			return err
		}
		s.logger.Info("yearly class counters reset", zap.Int64("profiles", n))
	}
	return nil
}
