package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	MinStage = 1
	MaxStage = 3
)

type User struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	Email        string         `db:"email" json:"email"`
	PasswordHash string         `db:"password_hash" json:"-"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	Goals        map[string]any `db:"goals" json:"goals,omitempty"`
	Stage        int            `db:"stage" json:"stage"`
}

// UserUpdate carries the optional fields of a partial user update.
type UserUpdate struct {
	Email        *string
	PasswordHash *string
	Goals        map[string]any
	Stage        *int
}

func (u UserUpdate) IsEmpty() bool {
	return u.Email == nil && u.PasswordHash == nil && u.Goals == nil && u.Stage == nil
}
