package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"noria-api/internal/models"
)

type AnalysisRepository struct {
	q       Querier
	dialect dialect
}

const analysisColumns = `id, user_id, chat_score, "timestamp", message_range`

func (r *AnalysisRepository) Create(ctx context.Context, result *models.AnalysisResult) error {
	query := r.dialect.rebind(`INSERT INTO analysis_results (id, user_id, chat_score, "timestamp", message_range)
		VALUES (?, ?, ?, ?, ?)`)
	_, err := r.q.ExecContext(ctx, query,
		result.ID, result.UserID, result.ChatScore, result.Timestamp, nullString(result.MessageRange))
	if err != nil {
		return fmt.Errorf("failed to insert analysis result: %w", translateError(err))
	}
	return nil
}

func (r *AnalysisRepository) Get(ctx context.Context, id uuid.UUID) (*models.AnalysisResult, error) {
	query := r.dialect.rebind(`SELECT ` + analysisColumns + ` FROM analysis_results WHERE id = ?`)
	result, err := scanAnalysis(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translateError(err)
	}
	return result, nil
}

func (r *AnalysisRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.AnalysisResult, error) {
	query := r.dialect.rebind(`SELECT ` + analysisColumns + ` FROM analysis_results
		WHERE user_id = ? ORDER BY "timestamp", id`)
	rows, err := r.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis results: %w", err)
	}
	defer rows.Close()

	results := make([]*models.AnalysisResult, 0)
	for rows.Next() {
		result, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis result: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

func (r *AnalysisRepository) Update(ctx context.Context, id uuid.UUID, upd models.AnalysisUpdate) (*models.AnalysisResult, error) {
	var sets []string
	var args []any
	if upd.ChatScore != nil {
		sets = append(sets, "chat_score = ?")
		args = append(args, *upd.ChatScore)
	}
	if upd.MessageRange != nil {
		sets = append(sets, "message_range = ?")
		args = append(args, *upd.MessageRange)
	}
	if len(sets) == 0 {
		return r.Get(ctx, id)
	}
	args = append(args, id)

	query := r.dialect.rebind(`UPDATE analysis_results SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update analysis result: %w", translateError(err))
	}
	if err := expectRows(res); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *AnalysisRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q.ExecContext(ctx, r.dialect.rebind(`DELETE FROM analysis_results WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete analysis result: %w", translateError(err))
	}
	return expectRows(res)
}

func scanAnalysis(row scanner) (*models.AnalysisResult, error) {
	var (
		result       models.AnalysisResult
		messageRange sql.NullString
	)
	if err := row.Scan(&result.ID, &result.UserID, &result.ChatScore, &result.Timestamp, &messageRange); err != nil {
		return nil, err
	}
	result.Timestamp = result.Timestamp.UTC()
	if messageRange.Valid {
		result.MessageRange = &messageRange.String
	}
	return &result, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
