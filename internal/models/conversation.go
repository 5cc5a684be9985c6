package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SenderUser   = "user"
	SenderCoach  = "coach"
	SenderSystem = "system"
)

func ValidSenderType(s string) bool {
	switch s {
	case SenderUser, SenderCoach, SenderSystem:
		return true
	}
	return false
}

type Conversation struct {
	ID          uuid.UUID `db:"id" json:"id"`
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	MessageText string    `db:"message_text" json:"message_text"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
	SenderType  string    `db:"sender_type" json:"sender_type"`
}

type ConversationUpdate struct {
	MessageText *string
	SenderType  *string
}

// UserMessageCounter is the running total of user-authored messages for one
// user. It only ever increases.
type UserMessageCounter struct {
	UserID           uuid.UUID `db:"user_id" json:"user_id"`
	UserMessageCount int64     `db:"user_message_count" json:"user_message_count"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}
