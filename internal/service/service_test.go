package service

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"noria-api/internal/analysis"
	"noria-api/internal/hashing"
	"noria-api/internal/metrics"
	"noria-api/internal/repository/sqldb"
	"noria-api/internal/repository/sqldb/sqldbtest"
)

const strongPassword = "Secur3Passw0rd"

type testEnv struct {
	db       *sqldb.DB
	metrics  *metrics.Metrics
	services *ServiceFactory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithDB(t, sqldbtest.New(t))
}

func newTestEnvWithDB(t *testing.T, db *sqldb.DB) *testEnv {
	t.Helper()

	hasher, err := hashing.NewPasswordHasher("test-pepper", bcrypt.MinCost)
	require.NoError(t, err)

	m := metrics.New()
	trigger, err := analysis.NewTrigger(analysis.DefaultThreshold, zap.NewNop(), analysis.WithMetrics(m))
	require.NoError(t, err)

	return &testEnv{
		db:       db,
		metrics:  m,
		services: NewServiceFactory(db, hasher, trigger, m, zap.NewNop()),
	}
}
