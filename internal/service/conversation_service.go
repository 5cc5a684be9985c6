package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"noria-api/internal/analysis"
	"noria-api/internal/metrics"
	"noria-api/internal/models"
	"noria-api/internal/repository/sqldb"
	"noria-api/internal/util"
)

// ConversationService stores conversation messages and runs the analysis
// trigger for every user-authored message.
type ConversationService struct {
	db      *sqldb.DB
	trigger *analysis.Trigger
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

type CreateMessageRequest struct {
	MessageText string `json:"message_text"`
	SenderType  string `json:"sender_type"`
}

type UpdateMessageRequest struct {
	MessageText *string `json:"message_text,omitempty"`
	SenderType  *string `json:"sender_type,omitempty"`
}

// CreateMessageResult describes a saved message. QueueErr is set when the
// message was saved but its analysis job could not be queued.
type CreateMessageResult struct {
	Message          *models.Conversation
	UserMessageCount int64
	AnalysisJob      *models.QueueJob
	QueueErr         error
}

func NewConversationService(db *sqldb.DB, trigger *analysis.Trigger, m *metrics.Metrics, logger *zap.Logger) *ConversationService {
	return &ConversationService{
		db:      db,
		trigger: trigger,
		metrics: m,
		logger:  logger,
		now:     utcNow,
	}
}

// CreateMessage saves a message. For user-authored messages the per-user
// counter is incremented and the analysis trigger evaluated inside the same
// transaction; the counter row lock orders concurrent messages of one user.
func (s *ConversationService) CreateMessage(ctx context.Context, userID uuid.UUID, req *CreateMessageRequest) (*CreateMessageResult, error) {
	if err := validateMessage(req.MessageText, req.SenderType); err != nil {
		return nil, err
	}

	msg := &models.Conversation{
		ID:          uuid.New(),
		UserID:      userID,
		MessageText: req.MessageText,
		Timestamp:   s.now(),
		SenderType:  req.SenderType,
	}
	result := &CreateMessageResult{Message: msg}
	var outcome analysis.Outcome

	err := s.db.WithTx(ctx, func(repos *sqldb.Repositories) error {
		exists, err := repos.Users.Exists(ctx, userID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrUserNotFound
		}

		if err := repos.Conversations.Create(ctx, msg); err != nil {
			return err
		}
		if msg.SenderType != models.SenderUser {
			return nil
		}

		count, err := repos.Counters.IncrementUserMessages(ctx, userID, msg.Timestamp)
		if err != nil {
			return err
		}
		result.UserMessageCount = count

		outcome, result.QueueErr = s.trigger.Evaluate(ctx, repos.Jobs, userID, count)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, sqldb.ErrForeignKey) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	s.metrics.MessageSaved(msg.SenderType)
	result.AnalysisJob = outcome.Job
	s.trigger.AfterCommit(ctx, outcome)

	s.logger.Debug("Conversation message saved",
		util.String("message_id", msg.ID.String()),
		util.String("user_id", userID.String()),
		util.String("sender_type", msg.SenderType),
		util.Int64("user_message_count", result.UserMessageCount),
		util.Bool("analysis_job_enqueued", outcome.Enqueued()),
	)
	return result, nil
}

func (s *ConversationService) ListMessages(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error) {
	repos := s.db.Repositories()
	if err := ensureUser(ctx, repos, userID); err != nil {
		return nil, err
	}
	messages, err := repos.Conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

func (s *ConversationService) GetMessage(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	msg, err := s.db.Repositories().Conversations.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sqldb.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// UpdateMessage edits a message in place. Edits never change the user's
// message counter, so already queued analyses are not repeated.
func (s *ConversationService) UpdateMessage(ctx context.Context, id uuid.UUID, req *UpdateMessageRequest) (*models.Conversation, error) {
	if req.MessageText != nil && strings.TrimSpace(*req.MessageText) == "" {
		return nil, fmt.Errorf("%w: message_text must not be empty", ErrInvalidInput)
	}
	if req.SenderType != nil && !models.ValidSenderType(*req.SenderType) {
		return nil, fmt.Errorf("%w: sender_type must be one of user, coach, system", ErrInvalidInput)
	}

	msg, err := s.db.Repositories().Conversations.Update(ctx, id, models.ConversationUpdate{
		MessageText: req.MessageText,
		SenderType:  req.SenderType,
	})
	if err != nil {
		if errors.Is(err, sqldb.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	return msg, nil
}

func (s *ConversationService) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	if err := s.db.Repositories().Conversations.Delete(ctx, id); err != nil {
		if errors.Is(err, sqldb.ErrNotFound) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// UserMessageCount returns how many user-authored messages have been saved
// for the user, including ones since deleted.
func (s *ConversationService) UserMessageCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	repos := s.db.Repositories()
	if err := ensureUser(ctx, repos, userID); err != nil {
		return 0, err
	}
	counter, err := repos.Counters.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return counter.UserMessageCount, nil
}

func validateMessage(text, senderType string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: message_text is required", ErrInvalidInput)
	}
	if !models.ValidSenderType(senderType) {
		return fmt.Errorf("%w: sender_type must be one of user, coach, system", ErrInvalidInput)
	}
	return nil
}

func ensureUser(ctx context.Context, repos *sqldb.Repositories, userID uuid.UUID) error {
	exists, err := repos.Users.Exists(ctx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUserNotFound
	}
	return nil
}
