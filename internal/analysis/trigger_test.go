package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"noria-api/internal/metrics"
	"noria-api/internal/models"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []*models.QueueJob
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job *models.QueueJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type recordingPublisher struct {
	jobs   []*models.QueueJob
	counts []int64
	err    error
}

func (p *recordingPublisher) PublishJob(_ context.Context, job *models.QueueJob, count int64) error {
	p.jobs = append(p.jobs, job)
	p.counts = append(p.counts, count)
	return p.err
}

func TestShouldEnqueue(t *testing.T) {
	for n := int64(-1); n <= 100; n++ {
		want := n > 0 && n%25 == 0
		assert.Equal(t, want, ShouldEnqueue(n, DefaultThreshold), "count %d", n)
	}
	assert.False(t, ShouldEnqueue(10, 0))
}

func TestNewTrigger_InvalidThreshold(t *testing.T) {
	_, err := NewTrigger(0, nil)
	assert.Error(t, err)
}

func TestTrigger_EvaluateSequence(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	trigger, err := NewTrigger(DefaultThreshold, zap.NewNop(), WithNow(func() time.Time { return fixed }))
	require.NoError(t, err)

	queue := &recordingQueue{}
	userID := uuid.New()
	var enqueuedAt []int64

	for count := int64(1); count <= 50; count++ {
		outcome, err := trigger.Evaluate(context.Background(), queue, userID, count)
		require.NoError(t, err)
		if outcome.Enqueued() {
			enqueuedAt = append(enqueuedAt, count)
		}
	}

	assert.Equal(t, []int64{25, 50}, enqueuedAt)
	require.Len(t, queue.jobs, 2)

	job := queue.jobs[0]
	assert.Equal(t, JobName, job.Name)
	assert.Equal(t, map[string]any{"user_id": userID.String()}, job.Data)
	assert.Equal(t, models.DefaultJobPriority, job.Priority)
	assert.Equal(t, models.DefaultJobRetryLimit, job.RetryLimit)
	assert.Equal(t, fixed, job.CreatedAt)
	assert.Equal(t, fixed, job.StartAfter)
	assert.Nil(t, job.CompletedAt)
	assert.NotEqual(t, queue.jobs[0].ID, queue.jobs[1].ID)
}

func TestTrigger_CustomThreshold(t *testing.T) {
	trigger, err := NewTrigger(3, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, trigger.Threshold())

	queue := &recordingQueue{}
	for count := int64(1); count <= 9; count++ {
		_, err := trigger.Evaluate(context.Background(), queue, uuid.New(), count)
		require.NoError(t, err)
	}
	assert.Len(t, queue.jobs, 3)
}

func TestTrigger_QueueFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	m := metrics.New()
	trigger, err := NewTrigger(DefaultThreshold, zap.New(core), WithMetrics(m))
	require.NoError(t, err)

	storeErr := errors.New("relation job_queue does not exist")
	userID := uuid.New()
	outcome, err := trigger.Evaluate(context.Background(), &recordingQueue{err: storeErr}, userID, 25)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueInsertion)
	assert.ErrorIs(t, err, storeErr)

	var qErr *QueueInsertionError
	require.True(t, errors.As(err, &qErr))
	assert.Equal(t, userID, qErr.UserID)
	assert.Equal(t, int64(25), qErr.Count)

	assert.False(t, outcome.Enqueued())
	assert.Equal(t, int64(25), outcome.UserMessageCount)
	assert.Equal(t, 1, logs.FilterMessage("Failed to enqueue analysis job").Len())
}

func TestTrigger_AfterCommitPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	trigger, err := NewTrigger(DefaultThreshold, nil, WithPublisher(pub))
	require.NoError(t, err)

	queue := &recordingQueue{}
	ctx := context.Background()

	skipped, err := trigger.Evaluate(ctx, queue, uuid.New(), 24)
	require.NoError(t, err)
	trigger.AfterCommit(ctx, skipped)
	assert.Empty(t, pub.jobs)

	outcome, err := trigger.Evaluate(ctx, queue, uuid.New(), 75)
	require.NoError(t, err)
	trigger.AfterCommit(ctx, outcome)

	require.Len(t, pub.jobs, 1)
	assert.Equal(t, outcome.Job.ID, pub.jobs[0].ID)
	assert.Equal(t, []int64{75}, pub.counts)
}

func TestTrigger_PublishFailureIsNotFatal(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	trigger, err := NewTrigger(DefaultThreshold, zap.New(core), WithPublisher(pub))
	require.NoError(t, err)

	outcome, err := trigger.Evaluate(context.Background(), &recordingQueue{}, uuid.New(), 25)
	require.NoError(t, err)

	assert.NotPanics(t, func() { trigger.AfterCommit(context.Background(), outcome) })
	assert.Equal(t, 1, logs.FilterMessage("Failed to publish analysis job").Len())
}

type capturedMessage struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

type fakeProducer struct {
	messages []capturedMessage
}

func (p *fakeProducer) ProduceMessage(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	p.messages = append(p.messages, capturedMessage{topic, key, value, headers})
	return nil
}

func TestKafkaPublisher_PublishJob(t *testing.T) {
	producer := &fakeProducer{}
	publisher := NewKafkaPublisher(producer, "analysis-jobs")

	userID := uuid.New()
	job := models.NewQueueJob(JobName, map[string]any{"user_id": userID.String()}, time.Now().UTC())
	require.NoError(t, publisher.PublishJob(context.Background(), job, 50))

	require.Len(t, producer.messages, 1)
	msg := producer.messages[0]
	assert.Equal(t, "analysis-jobs", msg.topic)
	assert.Equal(t, userID.String(), string(msg.key))
	assert.Equal(t, JobName, msg.headers["job_name"])

	var event JobEvent
	require.NoError(t, json.Unmarshal(msg.value, &event))
	assert.Equal(t, job.ID.String(), event.JobID)
	assert.Equal(t, int64(50), event.UserMessageCount)
	assert.Equal(t, userID.String(), event.Data["user_id"])
}
