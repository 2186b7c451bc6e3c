// Package service implements the feedback engine behind the HTTP API: the
// submission orchestrator, feedback queries and aggregate maintenance.
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/cadenza/internal/adapters/notify"
	"github.com/okian/cadenza/internal/adapters/repository"
	"github.com/okian/cadenza/internal/domain/category"
	"github.com/okian/cadenza/internal/domain/dedupe"
	"github.com/okian/cadenza/internal/domain/model"
	"github.com/okian/cadenza/pkg/errkind"
	"github.com/okian/cadenza/pkg/logger"
	"github.com/okian/cadenza/pkg/metrics"
)

const (
	defaultSubmitTimeout       = 10 * time.Second
	defaultAggregateMaxRetries = 8
	defaultDedupeSize          = 50000
	defaultNotifyQueueSize     = 1024
	defaultNotifyWorkerCount   = 4
	stopTimeout                = 15 * time.Second
)

type counters struct {
	submitted     atomic.Int64
	rejected      atomic.Int64
	failed        atomic.Int64
	duplicates    atomic.Int64
	notified      atomic.Int64
	notifySkipped atomic.Int64
}

// Service wires the store, the notifier and the domain steps together.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	notifier   Notifier
	deduper    dedupe.Deduper
	validator  *requestValidator
	attendance *AttendanceTracker
	feedback   *FeedbackStore
	aggregates *AggregateMaintainer
	trigger    *NotificationTrigger
	query      *QueryService

	// Owned components are shut down by Stop.
	ownsStore  bool
	dispatcher *notify.Dispatcher

	// Configuration
	submitTimeout     time.Duration
	maxRetries        int
	dedupeSize        int
	notifyQueueSize   int
	notifyWorkerCount int
	now               func() time.Time
	newID             func() string

	// State
	started bool
	stats   counters

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the document store. The service does not close a store it
// was given.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithNotifier sets the notification hand-off. Without one, notifications
// are rendered and logged by an internal dispatcher.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSubmitTimeout bounds a whole submission.
func WithSubmitTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.submitTimeout = d
		}
	}
}

// WithAggregateMaxRetries sets how many version conflicts a single write
// tolerates before failing.
func WithAggregateMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithDedupeSize sets how many idempotency keys are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithNotifyQueueSize sets the internal dispatcher's queue capacity.
func WithNotifyQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.notifyQueueSize = size
		}
	}
}

// WithNotifyWorkerCount sets the internal dispatcher's worker count.
func WithNotifyWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.notifyWorkerCount = count
		}
	}
}

// WithClock overrides the time source for records and scores.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides feedback record id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		submitTimeout:     defaultSubmitTimeout,
		maxRetries:        defaultAggregateMaxRetries,
		dedupeSize:        defaultDedupeSize,
		notifyQueueSize:   defaultNotifyQueueSize,
		notifyWorkerCount: defaultNotifyWorkerCount,
		now:               time.Now,
		newID:             uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes the components. Calling it twice is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting feedback service...")

	v, err := newRequestValidator()
	if err != nil {
		return errkind.Wrap("service.start", ErrUnexpected, err)
	}
	s.validator = v

	if s.store == nil {
		s.store = repository.NewMemoryStore(ctx)
		s.ownsStore = true
		s.logger.Info(ctx, "using in-memory store")
	}
	if s.notifier == nil {
		s.dispatcher = notify.NewDispatcher(notify.NewLogSender(s.logger.Named("mail")),
			notify.WithQueueSize(s.notifyQueueSize),
			notify.WithWorkerCount(s.notifyWorkerCount),
			notify.WithLogger(s.logger.Named("notify")),
		)
		s.dispatcher.Start(context.WithoutCancel(ctx))
		s.notifier = s.dispatcher
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.attendance = NewAttendanceTracker(s.store, s.maxRetries)
	s.feedback = NewFeedbackStore(s.store, s.maxRetries, s.now, s.newID)
	s.aggregates = NewAggregateMaintainer(s.store, s.maxRetries, s.now)
	s.trigger = NewNotificationTrigger(s.notifier, s.logger.Named("trigger"))
	s.query = NewQueryService(s.store)

	s.started = true
	s.logger.Info(ctx, "feedback service started",
		logger.Duration("submitTimeout", s.submitTimeout),
		logger.Int("aggregateMaxRetries", s.maxRetries),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// Stop drains owned notification workers and closes an owned store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping feedback service...")

	if s.dispatcher != nil {
		if err := s.dispatcher.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "notification queue not drained", logger.Error(err))
		}
		s.dispatcher = nil
		s.notifier = nil
	}
	if s.ownsStore && s.store != nil {
		_ = s.store.Close()
		s.store = nil
		s.ownsStore = false
	}

	s.started = false
	s.logger.Info(ctx, "feedback service stopped")
}

func (s *Service) isStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// SeenAndRecord atomically checks if an idempotency key was seen and
// records it if not.
func (s *Service) SeenAndRecord(ctx context.Context, key string) bool {
	seen := s.deduper.SeenAndRecord(ctx, key)
	if seen {
		s.stats.duplicates.Add(1)
		metrics.RecordDuplicateSubmission()
	}
	return seen
}

// Unrecord releases an idempotency key so the submission can be retried.
func (s *Service) Unrecord(ctx context.Context, key string) {
	s.deduper.Unrecord(ctx, key)
}

// ListFeedback returns a course's feedback history.
func (s *Service) ListFeedback(ctx context.Context, courseID, studentID string) (FeedbackList, error) {
	if !s.isStarted() {
		return FeedbackList{}, errkind.New("service.list_feedback", ErrNotStarted)
	}
	return s.query.ListFeedback(ctx, courseID, studentID)
}

// Scores returns a course's stored pooled scores.
func (s *Service) Scores(ctx context.Context, courseID string) ([]model.PerformanceScoreEntry, error) {
	if !s.isStarted() {
		return nil, errkind.New("service.course_scores", ErrNotStarted)
	}
	return s.query.Scores(ctx, courseID)
}

// Rescore recomputes every aggregate in a course from its records.
func (s *Service) Rescore(ctx context.Context, courseID string) ([]model.PerformanceScoreEntry, error) {
	if !s.isStarted() {
		return nil, errkind.New("service.rescore", ErrNotStarted)
	}
	return s.aggregates.Rescore(ctx, courseID)
}

// Categories lists the registered categories and their metric keys.
func (s *Service) Categories() []category.Schema {
	return category.All()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":             s.started,
		"submitTimeoutMs":     s.submitTimeout.Milliseconds(),
		"aggregateMaxRetries": s.maxRetries,
		"dedupeSize":          s.dedupeSize,
		"submitted":           s.stats.submitted.Load(),
		"rejected":            s.stats.rejected.Load(),
		"failed":              s.stats.failed.Load(),
		"duplicates":          s.stats.duplicates.Load(),
		"notified":            s.stats.notified.Load(),
		"notifySkipped":       s.stats.notifySkipped.Load(),
	}

	if s.started {
		stats["idempotencyKeys"] = s.deduper.Size()
		if s.dispatcher != nil {
			queueLen := s.dispatcher.QueueLen(context.Background())
			stats["notifyQueueLength"] = queueLen
			metrics.UpdateNotifyQueueSize(queueLen)
		}
	}

	return stats
}
