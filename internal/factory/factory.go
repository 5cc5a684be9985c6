package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"noria-api/internal/analysis"
	"noria-api/internal/client"
	"noria-api/internal/config"
	"noria-api/internal/hashing"
	"noria-api/internal/metrics"
	"noria-api/internal/ratelimit"
	redisrepo "noria-api/internal/repository/redis"
	"noria-api/internal/repository/sqldb"
	"noria-api/internal/service"
	"noria-api/internal/util"
)

const signupLimiterName = "signup"

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config
	logger *zap.Logger

	// Clients
	db            *sqldb.DB
	redisClient   *client.RedisClient
	kafkaProducer *client.KafkaProducer

	metrics        *metrics.Metrics
	hasher         *hashing.PasswordHasher
	trigger        *analysis.Trigger
	signupLimiter  ratelimit.Limiter
	serviceFactory *service.ServiceFactory

	stopJanitor context.CancelFunc
	closeOnce   sync.Once
	closed      chan struct{}
}

// NewFactory connects every configured backend and builds the shared
// components. The database is required; Redis is required only in production
// when it backs the rate limiter; Kafka is always optional.
func NewFactory(ctx context.Context, cfg *config.Config) (*Factory, error) {
	logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{
		config:  cfg,
		logger:  logger,
		metrics: metrics.New(),
		closed:  make(chan struct{}),
	}

	if err := f.initializeClients(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := f.initializeComponents(); err != nil {
		f.Close()
		return nil, err
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("database_driver", f.db.Driver()),
		util.String("rate_limit_backend", f.rateLimitBackend()),
		util.Bool("kafka_enabled", f.kafkaProducer != nil),
	)
	return f, nil
}

// initializeClients connects the database, Redis and Kafka concurrently.
func (f *Factory) initializeClients(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		db, err := sqldb.Open(f.config.Database)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		f.db = db
		return nil
	})

	if f.config.RateLimit.Backend == config.RateLimitBackendRedis {
		g.Go(func() error {
			rc, err := client.NewRedisClient(f.config.Redis)
			if err == nil {
				err = rc.HealthCheck(gctx)
				if err != nil {
					_ = rc.Close()
				}
			}
			if err != nil {
				if f.config.IsProduction() {
					return fmt.Errorf("redis: %w", err)
				}
				util.Warn("Redis unavailable - falling back to in-memory rate limiting", util.ErrorField(err))
				return nil
			}
			f.redisClient = rc
			return nil
		})
	}

	if f.config.Kafka.Enabled {
		g.Go(func() error {
			producer, err := client.NewKafkaProducer(f.config.Kafka, f.logger)
			if err != nil {
				util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
				return nil
			}
			if err := producer.HealthCheck(gctx); err != nil {
				util.Warn("Kafka broker not reachable yet - job notifications may be delayed", util.ErrorField(err))
			}
			f.kafkaProducer = producer
			return nil
		})
	}

	return g.Wait()
}

func (f *Factory) initializeComponents() error {
	hasher, err := hashing.NewPasswordHasher(f.config.Auth.PasswordPepper, f.config.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to create password hasher: %w", err)
	}
	f.hasher = hasher

	opts := []analysis.Option{analysis.WithMetrics(f.metrics)}
	if f.kafkaProducer != nil {
		opts = append(opts, analysis.WithPublisher(analysis.NewKafkaPublisher(f.kafkaProducer, f.config.Kafka.AnalysisTopic)))
	}
	trigger, err := analysis.NewTrigger(f.config.Analysis.MessageThreshold, f.logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create analysis trigger: %w", err)
	}
	f.trigger = trigger

	limiter, err := f.newSignupLimiter()
	if err != nil {
		return fmt.Errorf("failed to create signup rate limiter: %w", err)
	}
	f.signupLimiter = limiter

	f.serviceFactory = service.NewServiceFactory(f.db, f.hasher, f.trigger, f.metrics, f.logger)
	return nil
}

func (f *Factory) newSignupLimiter() (ratelimit.Limiter, error) {
	limit := f.config.Auth.SignupRateLimit
	window := f.config.Auth.SignupRateWindowSeconds

	if f.redisClient != nil {
		return redisrepo.NewRateLimitCache(f.redisClient, signupLimiterName, limit, window,
			redisrepo.WithFailOpen(f.config.RateLimit.FailOpen),
			redisrepo.WithLogger(f.logger),
		)
	}

	limiter, err := ratelimit.NewSlidingWindow(limit, window,
		ratelimit.WithShards(f.config.RateLimit.Shards),
		ratelimit.WithLogger(f.logger),
	)
	if err != nil {
		return nil, err
	}
	janitorCtx, cancel := context.WithCancel(context.Background())
	f.stopJanitor = cancel
	limiter.StartJanitor(janitorCtx, f.config.RateLimit.CleanupInterval)
	return limiter, nil
}

func (f *Factory) rateLimitBackend() string {
	if f.redisClient != nil {
		return config.RateLimitBackendRedis
	}
	return config.RateLimitBackendMemory
}

// Migrate brings the database schema up to date.
func (f *Factory) Migrate(ctx context.Context) error {
	return f.db.Migrate(ctx)
}

// HealthCheck returns one entry per failing dependency. Kafka is left out
// because job notifications are best effort.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.db != nil {
		if err := f.db.HealthCheck(ctx); err != nil {
			healthErrors["database"] = err
		}
	} else {
		healthErrors["database"] = errors.New("database not initialized")
	}

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			util.Warn("Kafka health check failed", util.ErrorField(err))
		}
	}

	return healthErrors
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.stopJanitor != nil {
			f.stopJanitor()
		}

		if f.serviceFactory != nil {
			f.serviceFactory.Cleanup()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.db != nil {
			if err := f.db.Close(); err != nil {
				util.Error("Failed to close database", util.ErrorField(err))
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Logger() *zap.Logger {
	return f.logger
}

func (f *Factory) Metrics() *metrics.Metrics {
	return f.metrics
}

func (f *Factory) SignupLimiter() ratelimit.Limiter {
	return f.signupLimiter
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}
