package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultJobPriority   = 0
	DefaultJobRetryLimit = 3
)

type QueueJob struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Data        map[string]any `db:"data" json:"data"`
	Priority    int            `db:"priority" json:"priority"`
	RetryLimit  int            `db:"retry_limit" json:"retry_limit"`
	RetryCount  int            `db:"retry_count" json:"retry_count"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	StartAfter  time.Time      `db:"start_after" json:"start_after"`
	CompletedAt *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// NewQueueJob returns a job with the queue defaults applied and both
// timestamps set to now.
func NewQueueJob(name string, data map[string]any, now time.Time) *QueueJob {
	return &QueueJob{
		ID:         uuid.New(),
		Name:       name,
		Data:       data,
		Priority:   DefaultJobPriority,
		RetryLimit: DefaultJobRetryLimit,
		CreatedAt:  now,
		StartAfter: now,
	}
}
