package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"noria-api/internal/models"
)

type UserRepository struct {
	q       Querier
	dialect dialect
}

const userColumns = `id, email, password_hash, created_at, goals, stage`

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	goals, err := encodeJSON(user.Goals)
	if err != nil {
		return err
	}

	query := r.dialect.rebind(`INSERT INTO users (id, email, password_hash, created_at, goals, stage)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err = r.q.ExecContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.CreatedAt, goals, user.Stage)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", translateError(err))
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := r.dialect.rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	user, err := scanUser(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translateError(err)
	}
	return user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := r.dialect.rebind(`SELECT ` + userColumns + ` FROM users WHERE email = ?`)
	user, err := scanUser(r.q.QueryRowContext(ctx, query, email))
	if err != nil {
		return nil, translateError(err)
	}
	return user, nil
}

func (r *UserRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	query := r.dialect.rebind(`SELECT 1 FROM users WHERE id = ?`)
	var one int
	err := r.q.QueryRowContext(ctx, query, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return true, nil
}

// Update applies the non-nil fields of upd and returns the stored user.
// An empty update returns the current record unchanged.
func (r *UserRepository) Update(ctx context.Context, id uuid.UUID, upd models.UserUpdate) (*models.User, error) {
	if upd.IsEmpty() {
		return r.GetByID(ctx, id)
	}

	var sets []string
	var args []any
	if upd.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *upd.Email)
	}
	if upd.PasswordHash != nil {
		sets = append(sets, "password_hash = ?")
		args = append(args, *upd.PasswordHash)
	}
	if upd.Goals != nil {
		goals, err := encodeJSON(upd.Goals)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "goals = ?")
		args = append(args, goals)
	}
	if upd.Stage != nil {
		sets = append(sets, "stage = ?")
		args = append(args, *upd.Stage)
	}
	args = append(args, id)

	query := r.dialect.rebind(`UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", translateError(err))
	}
	if err := expectRows(res); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q.ExecContext(ctx, r.dialect.rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", translateError(err))
	}
	return expectRows(res)
}

func scanUser(row scanner) (*models.User, error) {
	var (
		user  models.User
		goals []byte
	)
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt, &goals, &user.Stage); err != nil {
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	if len(goals) > 0 {
		if err := json.Unmarshal(goals, &user.Goals); err != nil {
			return nil, fmt.Errorf("failed to decode user goals: %w", err)
		}
	}
	return &user, nil
}

// encodeJSON returns nil for a nil map so the column stays NULL. JSON is
// bound as text because lib/pq sends []byte as bytea.
func encodeJSON(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json: %w", err)
	}
	return string(raw), nil
}

func expectRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
