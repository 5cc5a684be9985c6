package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"noria-api/internal/models"
)

var ErrJobCompleted = errors.New("job already completed")

const enqueueSavepoint = "job_enqueue"

type JobQueueRepository struct {
	q       Querier
	dialect dialect
}

const jobColumns = `id, name, data, priority, retry_limit, retry_count, created_at, start_after, completed_at`

// Enqueue inserts job. Inside a transaction the insert runs under a savepoint,
// so a failed enqueue is undone on its own and the surrounding transaction
// stays usable.
func (r *JobQueueRepository) Enqueue(ctx context.Context, job *models.QueueJob) error {
	tx, ok := r.q.(*sql.Tx)
	if !ok {
		return r.insert(ctx, r.q, job)
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+enqueueSavepoint); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	if err := r.insert(ctx, tx, job); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+enqueueSavepoint); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back to savepoint: %w", rbErr))
		}
		_, _ = tx.ExecContext(ctx, "RELEASE SAVEPOINT "+enqueueSavepoint)
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+enqueueSavepoint); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func (r *JobQueueRepository) insert(ctx context.Context, q Querier, job *models.QueueJob) error {
	data := job.Data
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode job data: %w", err)
	}

	query := r.dialect.rebind(`INSERT INTO job_queue
		(id, name, data, priority, retry_limit, retry_count, created_at, start_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = q.ExecContext(ctx, query,
		job.ID, job.Name, string(raw), job.Priority, job.RetryLimit, job.RetryCount, job.CreatedAt, job.StartAfter)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", translateError(err))
	}
	return nil
}

func (r *JobQueueRepository) Get(ctx context.Context, id uuid.UUID) (*models.QueueJob, error) {
	query := r.dialect.rebind(`SELECT ` + jobColumns + ` FROM job_queue WHERE id = ?`)
	job, err := scanJob(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translateError(err)
	}
	return job, nil
}

// ListPending returns incomplete jobs that may start at or before now,
// highest priority first and oldest first within a priority. An empty name
// matches every job.
func (r *JobQueueRepository) ListPending(ctx context.Context, name string, now time.Time, limit int) ([]*models.QueueJob, error) {
	query := `SELECT ` + jobColumns + ` FROM job_queue WHERE completed_at IS NULL AND start_after <= ?`
	args := []any{now}
	if name != "" {
		query += ` AND name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY priority DESC, created_at, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.q.QueryContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.QueueJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListForUser returns every job whose payload names userID, oldest first.
func (r *JobQueueRepository) ListForUser(ctx context.Context, name string, userID uuid.UUID) ([]*models.QueueJob, error) {
	var query string
	if r.dialect.isPostgres() {
		query = `SELECT ` + jobColumns + ` FROM job_queue WHERE name = ? AND data->>'user_id' = ? ORDER BY created_at, id`
	} else {
		query = `SELECT ` + jobColumns + ` FROM job_queue WHERE name = ? AND json_extract(data, '$.user_id') = ? ORDER BY created_at, id`
	}

	rows, err := r.q.QueryContext(ctx, r.dialect.rebind(query), name, userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs for user: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.QueueJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Complete marks a pending job done.
func (r *JobQueueRepository) Complete(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := r.dialect.rebind(`UPDATE job_queue SET completed_at = ? WHERE id = ? AND completed_at IS NULL`)
	res, err := r.q.ExecContext(ctx, query, now, id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if err := expectRows(res); err == nil {
		return nil
	} else if err != ErrNotFound {
		return err
	}

	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrJobCompleted
}

func scanJob(row scanner) (*models.QueueJob, error) {
	var (
		job         models.QueueJob
		data        []byte
		completedAt sql.NullTime
	)
	if err := row.Scan(&job.ID, &job.Name, &data, &job.Priority, &job.RetryLimit, &job.RetryCount,
		&job.CreatedAt, &job.StartAfter, &completedAt); err != nil {
		return nil, err
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.StartAfter = job.StartAfter.UTC()
	job.CompletedAt = nullTimePtr(completedAt)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &job.Data); err != nil {
			return nil, fmt.Errorf("failed to decode job data: %w", err)
		}
	}
	return &job, nil
}
