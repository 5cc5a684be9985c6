package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"noria-api/internal/models"
)

// CounterRepository keeps the per-user count of user-authored messages.
type CounterRepository struct {
	q       Querier
	dialect dialect
}

// IncrementUserMessages adds one to the user's counter and returns the new
// value. The upsert takes the counter row's write lock, so concurrent
// transactions for the same user observe strictly increasing values.
func (r *CounterRepository) IncrementUserMessages(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	query := r.dialect.rebind(`INSERT INTO user_message_counters (user_id, user_message_count, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET user_message_count = user_message_counters.user_message_count + 1,
			updated_at = excluded.updated_at
		RETURNING user_message_count`)

	var count int64
	if err := r.q.QueryRowContext(ctx, query, userID, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to increment message counter: %w", translateError(err))
	}
	return count, nil
}

// Get returns the user's counter, or a zero counter when none exists yet.
func (r *CounterRepository) Get(ctx context.Context, userID uuid.UUID) (*models.UserMessageCounter, error) {
	query := r.dialect.rebind(`SELECT user_id, user_message_count, updated_at
		FROM user_message_counters WHERE user_id = ?`)

	var c models.UserMessageCounter
	err := r.q.QueryRowContext(ctx, query, userID).Scan(&c.UserID, &c.UserMessageCount, &c.UpdatedAt)
	if err != nil {
		if err = translateError(err); err == ErrNotFound {
			return &models.UserMessageCounter{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to read message counter: %w", err)
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}
