package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"noria-api/internal/analysis"
	"noria-api/internal/models"
	"noria-api/internal/repository/sqldb"
	"noria-api/internal/util"
)

const (
	DefaultJobListLimit = 50
	MaxJobListLimit     = 500
)

// JobService is the worker-facing view of the job queue.
type JobService struct {
	db     *sqldb.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewJobService(db *sqldb.DB, logger *zap.Logger) *JobService {
	return &JobService{db: db, logger: logger, now: utcNow}
}

// ListPending returns jobs that are ready to run. limit is clamped to
// [1, MaxJobListLimit] and defaults to DefaultJobListLimit.
func (s *JobService) ListPending(ctx context.Context, name string, limit int) ([]*models.QueueJob, error) {
	if limit <= 0 {
		limit = DefaultJobListLimit
	}
	if limit > MaxJobListLimit {
		limit = MaxJobListLimit
	}
	jobs, err := s.db.Repositories().Jobs.ListPending(ctx, name, s.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	return jobs, nil
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*models.QueueJob, error) {
	job, err := s.db.Repositories().Jobs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sqldb.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListAnalysisJobs returns every analysis job queued for the user.
func (s *JobService) ListAnalysisJobs(ctx context.Context, userID uuid.UUID) ([]*models.QueueJob, error) {
	jobs, err := s.db.Repositories().Jobs.ListForUser(ctx, analysis.JobName, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis jobs: %w", err)
	}
	return jobs, nil
}

func (s *JobService) CompleteJob(ctx context.Context, id uuid.UUID) (*models.QueueJob, error) {
	repos := s.db.Repositories()
	if err := repos.Jobs.Complete(ctx, id, s.now()); err != nil {
		switch {
		case errors.Is(err, sqldb.ErrNotFound):
			return nil, ErrJobNotFound
		case errors.Is(err, sqldb.ErrJobCompleted):
			return nil, ErrJobAlreadyDone
		}
		return nil, fmt.Errorf("failed to complete job: %w", err)
	}

	s.logger.Info("Job completed", util.String("job_id", id.String()))
	return s.GetJob(ctx, id)
}
