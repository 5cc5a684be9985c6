package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"noria-api/internal/models"
)

// Producer is implemented by client.KafkaProducer.
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// JobEvent is the broker message sent for each queued analysis job.
type JobEvent struct {
	JobID            string         `json:"job_id"`
	Name             string         `json:"name"`
	Data             map[string]any `json:"data"`
	UserMessageCount int64          `json:"user_message_count"`
	CreatedAt        time.Time      `json:"created_at"`
}

// KafkaPublisher writes job events keyed by user id, so one user's events stay
// on one partition in order.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

func NewKafkaPublisher(producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) PublishJob(ctx context.Context, job *models.QueueJob, userMessageCount int64) error {
	event := JobEvent{
		JobID:            job.ID.String(),
		Name:             job.Name,
		Data:             job.Data,
		UserMessageCount: userMessageCount,
		CreatedAt:        job.CreatedAt,
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode job event: %w", err)
	}

	key, _ := job.Data["user_id"].(string)
	headers := map[string]string{"job_name": job.Name}
	if err := p.producer.ProduceMessage(ctx, p.topic, []byte(key), value, headers); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", job.ID, err)
	}
	return nil
}
