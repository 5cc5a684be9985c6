package service

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noria-api/internal/models"
)

func TestAnalysisService_CRUD(t *testing.T) {
	env := newTestEnv(t)
	user := registerTestUser(t, env, "scores@example.com")
	results := env.services.AnalysisService()
	ctx := context.Background()

	created, err := results.CreateResult(ctx, user.ID, &CreateAnalysisRequest{
		ChatScore:    intPtr(72),
		MessageRange: strPtr("1-25"),
	})
	require.NoError(t, err)
	assert.Equal(t, 72, created.ChatScore)

	got, err := results.GetResult(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.MessageRange)
	assert.Equal(t, "1-25", *got.MessageRange)

	updated, err := results.UpdateResult(ctx, created.ID, &UpdateAnalysisRequest{ChatScore: intPtr(80)})
	require.NoError(t, err)
	assert.Equal(t, 80, updated.ChatScore)
	assert.Equal(t, "1-25", *updated.MessageRange)

	list, err := results.ListResults(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, results.DeleteResult(ctx, created.ID))
	_, err = results.GetResult(ctx, created.ID)
	assert.ErrorIs(t, err, ErrAnalysisNotFound)
	assert.ErrorIs(t, results.DeleteResult(ctx, created.ID), ErrAnalysisNotFound)
}

func TestAnalysisService_Validation(t *testing.T) {
	env := newTestEnv(t)
	user := registerTestUser(t, env, "bad-scores@example.com")
	results := env.services.AnalysisService()
	ctx := context.Background()

	_, err := results.CreateResult(ctx, user.ID, &CreateAnalysisRequest{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	tooLong := strings.Repeat("9", models.MaxMessageRangeLength+1)
	_, err = results.CreateResult(ctx, user.ID, &CreateAnalysisRequest{ChatScore: intPtr(1), MessageRange: &tooLong})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = results.CreateResult(ctx, user.ID, &CreateAnalysisRequest{ChatScore: intPtr(1), MessageRange: strPtr("<script>")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = results.CreateResult(ctx, uuid.New(), &CreateAnalysisRequest{ChatScore: intPtr(1)})
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = results.ListResults(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrUserNotFound)
}
