// Package analysis decides when a user's conversation is due for analysis and
// queues the job that performs it.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"noria-api/internal/metrics"
	"noria-api/internal/models"
)

const (
	// DefaultThreshold is the number of user-authored messages between analyses.
	DefaultThreshold = 25
	JobName          = "analysis_job"
)

// ErrQueueInsertion marks a job that could not be queued even though the
// message that triggered it was saved.
var ErrQueueInsertion = errors.New("analysis job queue insertion failed")

type QueueInsertionError struct {
	UserID uuid.UUID
	Count  int64
	Err    error
}

func (e *QueueInsertionError) Error() string {
	return fmt.Sprintf("%v for user %s at message %d: %v", ErrQueueInsertion, e.UserID, e.Count, e.Err)
}

func (e *QueueInsertionError) Unwrap() []error {
	return []error{ErrQueueInsertion, e.Err}
}

// JobQueue is the store jobs are appended to. It must share the transaction
// that saved the triggering message.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.QueueJob) error
}

// Publisher announces committed jobs to out-of-process workers.
type Publisher interface {
	PublishJob(ctx context.Context, job *models.QueueJob, userMessageCount int64) error
}

// Outcome is the result of one evaluation. Job is nil when nothing was queued.
type Outcome struct {
	UserID           uuid.UUID
	UserMessageCount int64
	Job              *models.QueueJob
}

func (o Outcome) Enqueued() bool { return o.Job != nil }

type Trigger struct {
	threshold int64
	now       func() time.Time
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

type Option func(*Trigger)

func WithPublisher(p Publisher) Option {
	return func(t *Trigger) { t.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Trigger) { t.metrics = m }
}

func WithNow(now func() time.Time) Option {
	return func(t *Trigger) {
		if now != nil {
			t.now = now
		}
	}
}

func NewTrigger(threshold int, logger *zap.Logger, opts ...Option) (*Trigger, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("analysis threshold must be >= 1, got %d", threshold)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Trigger{
		threshold: int64(threshold),
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		logger:    logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Trigger) Threshold() int { return int(t.threshold) }

// ShouldEnqueue reports whether count is a positive multiple of threshold.
func ShouldEnqueue(count, threshold int64) bool {
	return threshold > 0 && count > 0 && count%threshold == 0
}

// Evaluate runs once per saved user message, with count being the user's
// message total including that message. When count crosses a threshold
// multiple it enqueues a single job carrying the user id.
//
// A failed enqueue is returned as a *QueueInsertionError; callers keep the
// message and report the failure.
func (t *Trigger) Evaluate(ctx context.Context, queue JobQueue, userID uuid.UUID, count int64) (Outcome, error) {
	outcome := Outcome{UserID: userID, UserMessageCount: count}
	if !ShouldEnqueue(count, t.threshold) {
		return outcome, nil
	}

	job := models.NewQueueJob(JobName, map[string]any{"user_id": userID.String()}, t.now())
	if err := queue.Enqueue(ctx, job); err != nil {
		t.metrics.AnalysisQueueFailure()
		t.logger.Error("Failed to enqueue analysis job",
			zap.String("user_id", userID.String()),
			zap.Int64("user_message_count", count),
			zap.Error(err))
		return outcome, &QueueInsertionError{UserID: userID, Count: count, Err: err}
	}

	outcome.Job = job
	return outcome, nil
}

// AfterCommit records and announces a job once its transaction has committed.
// Publishing is best effort; the queue row remains the source of truth.
func (t *Trigger) AfterCommit(ctx context.Context, outcome Outcome) {
	if !outcome.Enqueued() {
		return
	}

	t.metrics.AnalysisJobEnqueued()
	t.logger.Info("Analysis job enqueued",
		zap.String("job_id", outcome.Job.ID.String()),
		zap.String("user_id", outcome.UserID.String()),
		zap.Int64("user_message_count", outcome.UserMessageCount))

	if t.publisher == nil {
		return
	}
	err := t.publisher.PublishJob(ctx, outcome.Job, outcome.UserMessageCount)
	t.metrics.AnalysisJobPublished(err)
	if err != nil {
		t.logger.Warn("Failed to publish analysis job",
			zap.String("job_id", outcome.Job.ID.String()),
			zap.Error(err))
	}
}
