package sqldb

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"noria-api/internal/models"
)

type ConversationRepository struct {
	q       Querier
	dialect dialect
}

const conversationColumns = `id, user_id, message_text, "timestamp", sender_type`

func (r *ConversationRepository) Create(ctx context.Context, msg *models.Conversation) error {
	query := r.dialect.rebind(`INSERT INTO conversations (id, user_id, message_text, "timestamp", sender_type)
		VALUES (?, ?, ?, ?, ?)`)
	_, err := r.q.ExecContext(ctx, query, msg.ID, msg.UserID, msg.MessageText, msg.Timestamp, msg.SenderType)
	if err != nil {
		return fmt.Errorf("failed to insert conversation message: %w", translateError(err))
	}
	return nil
}

func (r *ConversationRepository) Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	query := r.dialect.rebind(`SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`)
	msg, err := scanConversation(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translateError(err)
	}
	return msg, nil
}

// ListForUser returns the user's messages oldest first.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error) {
	query := r.dialect.rebind(`SELECT ` + conversationColumns + ` FROM conversations
		WHERE user_id = ? ORDER BY "timestamp", id`)
	rows, err := r.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Conversation, 0)
	for rows.Next() {
		msg, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CountForUser counts the user's messages, optionally restricted to one sender type.
func (r *ConversationRepository) CountForUser(ctx context.Context, userID uuid.UUID, senderType string) (int64, error) {
	query := `SELECT COUNT(*) FROM conversations WHERE user_id = ?`
	args := []any{userID}
	if senderType != "" {
		query += ` AND sender_type = ?`
		args = append(args, senderType)
	}

	var count int64
	if err := r.q.QueryRowContext(ctx, r.dialect.rebind(query), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return count, nil
}

func (r *ConversationRepository) Update(ctx context.Context, id uuid.UUID, upd models.ConversationUpdate) (*models.Conversation, error) {
	var sets []string
	var args []any
	if upd.MessageText != nil {
		sets = append(sets, "message_text = ?")
		args = append(args, *upd.MessageText)
	}
	if upd.SenderType != nil {
		sets = append(sets, "sender_type = ?")
		args = append(args, *upd.SenderType)
	}
	if len(sets) == 0 {
		return r.Get(ctx, id)
	}
	args = append(args, id)

	query := r.dialect.rebind(`UPDATE conversations SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", translateError(err))
	}
	if err := expectRows(res); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *ConversationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q.ExecContext(ctx, r.dialect.rebind(`DELETE FROM conversations WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", translateError(err))
	}
	return expectRows(res)
}

func scanConversation(row scanner) (*models.Conversation, error) {
	var msg models.Conversation
	if err := row.Scan(&msg.ID, &msg.UserID, &msg.MessageText, &msg.Timestamp, &msg.SenderType); err != nil {
		return nil, err
	}
	msg.Timestamp = msg.Timestamp.UTC()
	return &msg, nil
}
