package models

import (
	"time"

	"github.com/google/uuid"
)

const MaxMessageRangeLength = 255

type AnalysisResult struct {
	ID           uuid.UUID `db:"id" json:"id"`
	UserID       uuid.UUID `db:"user_id" json:"user_id"`
	ChatScore    int       `db:"chat_score" json:"chat_score"`
	Timestamp    time.Time `db:"timestamp" json:"timestamp"`
	MessageRange *string   `db:"message_range" json:"message_range"`
}

type AnalysisUpdate struct {
	ChatScore    *int
	MessageRange *string
}
