package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"noria-api/internal/models"
	"noria-api/internal/repository/sqldb"
	"noria-api/internal/util"
)

type AnalysisService struct {
	db     *sqldb.DB
	logger *zap.Logger
}

type CreateAnalysisRequest struct {
	ChatScore    *int    `json:"chat_score"`
	MessageRange *string `json:"message_range,omitempty"`
}

type UpdateAnalysisRequest struct {
	ChatScore    *int    `json:"chat_score,omitempty"`
	MessageRange *string `json:"message_range,omitempty"`
}

func NewAnalysisService(db *sqldb.DB, logger *zap.Logger) *AnalysisService {
	return &AnalysisService{db: db, logger: logger}
}

func (s *AnalysisService) CreateResult(ctx context.Context, userID uuid.UUID, req *CreateAnalysisRequest) (*models.AnalysisResult, error) {
	if req.ChatScore == nil {
		return nil, fmt.Errorf("%w: chat_score is required", ErrInvalidInput)
	}
	if err := validateMessageRange(req.MessageRange); err != nil {
		return nil, err
	}

	result := &models.AnalysisResult{
		ID:           uuid.New(),
		UserID:       userID,
		ChatScore:    *req.ChatScore,
		Timestamp:    utcNow(),
		MessageRange: req.MessageRange,
	}
	if err := s.db.Repositories().Analysis.Create(ctx, result); err != nil {
		if errors.Is(err, sqldb.ErrForeignKey) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to create analysis result: %w", err)
	}

	s.logger.Info("Analysis result recorded",
		util.String("analysis_id", result.ID.String()),
		util.String("user_id", userID.String()),
		util.Int("chat_score", result.ChatScore))
	return result, nil
}

func (s *AnalysisService) ListResults(ctx context.Context, userID uuid.UUID) ([]*models.AnalysisResult, error) {
	repos := s.db.Repositories()
	if err := ensureUser(ctx, repos, userID); err != nil {
		return nil, err
	}
	results, err := repos.Analysis.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis results: %w", err)
	}
	return results, nil
}

func (s *AnalysisService) GetResult(ctx context.Context, id uuid.UUID) (*models.AnalysisResult, error) {
	result, err := s.db.Repositories().Analysis.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sqldb.ErrNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, fmt.Errorf("failed to get analysis result: %w", err)
	}
	return result, nil
}

func (s *AnalysisService) UpdateResult(ctx context.Context, id uuid.UUID, req *UpdateAnalysisRequest) (*models.AnalysisResult, error) {
	if err := validateMessageRange(req.MessageRange); err != nil {
		return nil, err
	}
	result, err := s.db.Repositories().Analysis.Update(ctx, id, models.AnalysisUpdate{
		ChatScore:    req.ChatScore,
		MessageRange: req.MessageRange,
	})
	if err != nil {
		if errors.Is(err, sqldb.ErrNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, fmt.Errorf("failed to update analysis result: %w", err)
	}
	return result, nil
}

func (s *AnalysisService) DeleteResult(ctx context.Context, id uuid.UUID) error {
	if err := s.db.Repositories().Analysis.Delete(ctx, id); err != nil {
		if errors.Is(err, sqldb.ErrNotFound) {
			return ErrAnalysisNotFound
		}
		return fmt.Errorf("failed to delete analysis result: %w", err)
	}
	return nil
}

func validateMessageRange(r *string) error {
	if r == nil {
		return nil
	}
	if len(*r) > models.MaxMessageRangeLength {
		return fmt.Errorf("%w: message_range must be at most %d characters", ErrInvalidInput, models.MaxMessageRangeLength)
	}
	if util.ContainsSuspicious(*r) {
		return fmt.Errorf("%w: message_range contains invalid characters", ErrInvalidInput)
	}
	return nil
}
