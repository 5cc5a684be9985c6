package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"noria-api/internal/hashing"
	"noria-api/internal/models"
	"noria-api/internal/repository/sqldb"
	"noria-api/internal/util"
)

const maxEmailLength = 255

// UserService handles signup and profile management.
type UserService struct {
	db     *sqldb.DB
	hasher *hashing.PasswordHasher
	logger *zap.Logger
	now    func() time.Time
}

// RegisterRequest represents a signup request
type RegisterRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Goals    map[string]any `json:"goals,omitempty"`
	Stage    *int           `json:"stage,omitempty"`
}

// UpdateUserRequest represents a partial user update; nil fields are left alone.
type UpdateUserRequest struct {
	Email    *string        `json:"email,omitempty"`
	Password *string        `json:"password,omitempty"`
	Goals    map[string]any `json:"goals,omitempty"`
	Stage    *int           `json:"stage,omitempty"`
}

func NewUserService(db *sqldb.DB, hasher *hashing.PasswordHasher, logger *zap.Logger) *UserService {
	return &UserService{
		db:     db,
		hasher: hasher,
		logger: logger,
		now:    utcNow,
	}
}

// RegisterUser validates the password policy, rejects taken emails, then
// stores the user with a peppered bcrypt hash.
func (s *UserService) RegisterUser(ctx context.Context, req *RegisterRequest) (*models.User, error) {
	startTime := time.Now()

	email, err := validateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	stage := models.MinStage
	if req.Stage != nil {
		stage = *req.Stage
	}
	if err := validateStage(stage); err != nil {
		return nil, err
	}
	if err := hashing.ValidatePasswordRequirements(req.Password); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	users := s.db.Repositories().Users
	if _, err := users.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailAlreadyExists
	} else if !errors.Is(err, sqldb.ErrNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
		Goals:        req.Goals,
		Stage:        stage,
	}
	if err := users.Create(ctx, user); err != nil {
		// A concurrent signup can win between the lookup and the insert.
		if errors.Is(err, sqldb.ErrDuplicate) {
			return nil, ErrEmailAlreadyExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("User registered",
		util.String("user_id", user.ID.String()),
		util.Int("stage", user.Stage),
		util.Duration("duration", time.Since(startTime)),
	)
	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.db.Repositories().Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sqldb.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UpdateUser applies a partial update. A new email must not belong to another
// user and a new password must satisfy the password policy.
func (s *UserService) UpdateUser(ctx context.Context, userID uuid.UUID, req *UpdateUserRequest) (*models.User, error) {
	users := s.db.Repositories().Users
	var upd models.UserUpdate

	if req.Email != nil {
		email, err := validateEmail(*req.Email)
		if err != nil {
			return nil, err
		}
		existing, err := users.GetByEmail(ctx, email)
		switch {
		case err == nil && existing.ID != userID:
			return nil, ErrEmailAlreadyExists
		case err != nil && !errors.Is(err, sqldb.ErrNotFound):
			return nil, fmt.Errorf("failed to check email: %w", err)
		}
		upd.Email = &email
	}

	if req.Password != nil {
		if err := hashing.ValidatePasswordRequirements(*req.Password); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		passwordHash, err := s.hasher.Hash(*req.Password)
		if err != nil {
			return nil, err
		}
		upd.PasswordHash = &passwordHash
	}

	if req.Goals != nil {
		upd.Goals = req.Goals
	}

	if req.Stage != nil {
		if err := validateStage(*req.Stage); err != nil {
			return nil, err
		}
		upd.Stage = req.Stage
	}

	user, err := users.Update(ctx, userID, upd)
	if err != nil {
		switch {
		case errors.Is(err, sqldb.ErrNotFound):
			return nil, ErrUserNotFound
		case errors.Is(err, sqldb.ErrDuplicate):
			return nil, ErrEmailAlreadyExists
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	s.logger.Info("User updated",
		util.String("user_id", userID.String()),
		util.Bool("email_changed", upd.Email != nil),
		util.Bool("password_changed", upd.PasswordHash != nil),
	)
	return user, nil
}

// DeleteUser removes the user along with their messages, analyses and counter.
func (s *UserService) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	if err := s.db.Repositories().Users.Delete(ctx, userID); err != nil {
		if errors.Is(err, sqldb.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}
	s.logger.Info("User deleted", util.String("user_id", userID.String()))
	return nil
}

func validateEmail(raw string) (string, error) {
	email := util.NormalizeEmail(raw)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if len(email) > maxEmailLength || util.ContainsSuspicious(email) {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return email, nil
}

func validateStage(stage int) error {
	if stage < models.MinStage || stage > models.MaxStage {
		return fmt.Errorf("%w: stage must be between %d and %d", ErrInvalidInput, models.MinStage, models.MaxStage)
	}
	return nil
}

func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
