package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"noria-api/internal/hashing"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestRegisterUser(t *testing.T) {
	env := newTestEnv(t)
	users := env.services.UserService()
	ctx := context.Background()

	user, err := users.RegisterUser(ctx, &RegisterRequest{
		Email:    "  Ada@Example.com ",
		Password: strongPassword,
		Goals:    map[string]any{"focus": "sleep"},
	})
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, 1, user.Stage)
	assert.NotEqual(t, strongPassword, user.PasswordHash)

	stored, err := users.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, stored.Email)
	assert.Equal(t, "sleep", stored.Goals["focus"])

	hasher, err := hashing.NewPasswordHasher("test-pepper", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NoError(t, hasher.Verify(strongPassword, user.PasswordHash))
	assert.ErrorIs(t, hasher.Verify("Wr0ngPassword", user.PasswordHash), hashing.ErrPasswordMatch)
}

func TestRegisterUser_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	users := env.services.UserService()
	ctx := context.Background()

	_, err := users.RegisterUser(ctx, &RegisterRequest{Email: "dup@example.com", Password: strongPassword})
	require.NoError(t, err)

	_, err = users.RegisterUser(ctx, &RegisterRequest{Email: "DUP@example.com", Password: strongPassword})
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)
}

func TestRegisterUser_Validation(t *testing.T) {
	env := newTestEnv(t)
	users := env.services.UserService()

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{name: "missing email", req: RegisterRequest{Password: strongPassword}},
		{name: "malformed email", req: RegisterRequest{Email: "not-an-email", Password: strongPassword}},
		{name: "short password", req: RegisterRequest{Email: "a@example.com", Password: "Ab1"}},
		{name: "no uppercase", req: RegisterRequest{Email: "a@example.com", Password: "lowercase123"}},
		{name: "no digit", req: RegisterRequest{Email: "a@example.com", Password: "NoDigitsHere"}},
		{name: "stage too high", req: RegisterRequest{Email: "a@example.com", Password: strongPassword, Stage: intPtr(4)}},
		{name: "stage too low", req: RegisterRequest{Email: "a@example.com", Password: strongPassword, Stage: intPtr(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := users.RegisterUser(context.Background(), &tt.req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestRegisterUser_WeakPasswordKeepsPolicyError(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.services.UserService().RegisterUser(context.Background(), &RegisterRequest{
		Email:    "weak@example.com",
		Password: "password",
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, err, hashing.ErrWeakPassword)
}

func TestUpdateUser(t *testing.T) {
	env := newTestEnv(t)
	users := env.services.UserService()
	ctx := context.Background()

	first, err := users.RegisterUser(ctx, &RegisterRequest{Email: "first@example.com", Password: strongPassword})
	require.NoError(t, err)
	_, err = users.RegisterUser(ctx, &RegisterRequest{Email: "second@example.com", Password: strongPassword})
	require.NoError(t, err)

	updated, err := users.UpdateUser(ctx, first.ID, &UpdateUserRequest{Stage: intPtr(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Stage)
	assert.Equal(t, "first@example.com", updated.Email)

	_, err = users.UpdateUser(ctx, first.ID, &UpdateUserRequest{Email: strPtr("second@example.com")})
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)

	_, err = users.UpdateUser(ctx, first.ID, &UpdateUserRequest{Password: strPtr("weak")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = users.UpdateUser(ctx, uuid.New(), &UpdateUserRequest{Stage: intPtr(2)})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDeleteUser(t *testing.T) {
	env := newTestEnv(t)
	users := env.services.UserService()
	ctx := context.Background()

	user, err := users.RegisterUser(ctx, &RegisterRequest{Email: "gone@example.com", Password: strongPassword})
	require.NoError(t, err)

	require.NoError(t, users.DeleteUser(ctx, user.ID))
	_, err = users.GetUser(ctx, user.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)

	assert.ErrorIs(t, users.DeleteUser(ctx, user.ID), ErrUserNotFound)
}
