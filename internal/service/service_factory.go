package service

import (
	"sync"

	"go.uber.org/zap"

	"noria-api/internal/analysis"
	"noria-api/internal/hashing"
	"noria-api/internal/metrics"
	"noria-api/internal/repository/sqldb"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	db      *sqldb.DB
	hasher  *hashing.PasswordHasher
	trigger *analysis.Trigger
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu                  sync.Mutex
	userService         *UserService
	conversationService *ConversationService
	analysisService     *AnalysisService
	jobService          *JobService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	db *sqldb.DB,
	hasher *hashing.PasswordHasher,
	trigger *analysis.Trigger,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		db:      db,
		hasher:  hasher,
		trigger: trigger,
		metrics: m,
		logger:  logger,
	}
}

// UserService returns the user service instance (singleton)
func (f *ServiceFactory) UserService() *UserService {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userService == nil {
		f.userService = NewUserService(f.db, f.hasher, f.logger)
	}
	return f.userService
}

func (f *ServiceFactory) ConversationService() *ConversationService {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conversationService == nil {
		f.conversationService = NewConversationService(f.db, f.trigger, f.metrics, f.logger)
	}
	return f.conversationService
}

func (f *ServiceFactory) AnalysisService() *AnalysisService {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.analysisService == nil {
		f.analysisService = NewAnalysisService(f.db, f.logger)
	}
	return f.analysisService
}

func (f *ServiceFactory) JobService() *JobService {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.jobService == nil {
		f.jobService = NewJobService(f.db, f.logger)
	}
	return f.jobService
}

// Cleanup drops the cached services. The database is owned by the caller.
func (f *ServiceFactory) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userService = nil
	f.conversationService = nil
	f.analysisService = nil
	f.jobService = nil
}
