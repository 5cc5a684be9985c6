package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Analysis    AnalysisConfig
	Logging     LoggingConfig
	Metrics     MetricsConfig
}

type ServerConfig struct {
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
	// TrustedProxies are addresses or CIDR blocks allowed to set X-Forwarded-For and X-Real-IP.
	TrustedProxies []string
}

type DatabaseConfig struct {
	URL             string
	Driver          string
	MaxConns        int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	PasswordPepper          string
	BcryptCost              int
	SignupRateLimit         int
	SignupRateWindowSeconds int
}

type RateLimitConfig struct {
	Backend         string
	Shards          int
	CleanupInterval time.Duration
	FailOpen        bool
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	AnalysisTopic string
}

type AnalysisConfig struct {
	MessageThreshold int
}

type LoggingConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// LoadConfig reads an optional .env file and then the process environment.
// Variables already present in the environment win over the .env file.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "local"),
		Server: ServerConfig{
			Port:               getEnvInt("PORT", 8080),
			ReadTimeout:        getEnvDuration("READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       getEnvDuration("WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:        getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			CORSAllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			TrustedProxies:     getEnvSlice("TRUSTED_PROXIES", nil),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			Driver:          getEnv("DATABASE_DRIVER", ""),
			MaxConns:        getEnvInt("DATABASE_MAX_CONNS", 20),
			MaxIdle:         getEnvInt("DATABASE_MAX_IDLE", 10),
			ConnMaxLifetime: getEnvDuration("DATABASE_CONN_MAX_LIFETIME", time.Hour),
		},
		Auth: AuthConfig{
			PasswordPepper:          getEnv("PASSWORD_PEPPER", ""),
			BcryptCost:              getEnvInt("BCRYPT_COST", 12),
			SignupRateLimit:         getEnvInt("AUTH_SIGNUP_RATE_LIMIT", 10),
			SignupRateWindowSeconds: getEnvInt("AUTH_SIGNUP_RATE_WINDOW_SECONDS", 60),
		},
		RateLimit: RateLimitConfig{
			Backend:         getEnv("RATE_LIMIT_BACKEND", RateLimitBackendMemory),
			Shards:          getEnvInt("RATE_LIMIT_SHARDS", 32),
			CleanupInterval: getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
			FailOpen:        getEnvBool("RATE_LIMIT_FAIL_OPEN", true),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Kafka: KafkaConfig{
			Enabled:       getEnvBool("KAFKA_ENABLED", false),
			Brokers:       getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			AnalysisTopic: getEnv("KAFKA_ANALYSIS_TOPIC", "analysis-jobs"),
		},
		Analysis: AnalysisConfig{
			MessageThreshold: getEnvInt("ANALYSIS_MESSAGE_THRESHOLD", 25),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = inferDriver(cfg.Database.URL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting found.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Auth.PasswordPepper == "" {
		return errors.New("PASSWORD_PEPPER is required")
	}
	if c.Auth.SignupRateLimit < 1 {
		return errors.New("AUTH_SIGNUP_RATE_LIMIT must be >= 1")
	}
	if c.Auth.SignupRateWindowSeconds < 1 {
		return errors.New("AUTH_SIGNUP_RATE_WINDOW_SECONDS must be >= 1")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.Auth.BcryptCost)
	}
	switch c.RateLimit.Backend {
	case RateLimitBackendMemory, RateLimitBackendRedis:
	default:
		return fmt.Errorf("unsupported rate limit backend %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Shards < 1 {
		return errors.New("RATE_LIMIT_SHARDS must be >= 1")
	}
	if c.Analysis.MessageThreshold < 1 {
		return errors.New("ANALYSIS_MESSAGE_THRESHOLD must be >= 1")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid PORT %d", c.Server.Port)
	}
	// Credentials are allowed cross-origin, so every origin must be explicit.
	for _, origin := range c.Server.CORSAllowedOrigins {
		if strings.Contains(origin, "*") {
			return fmt.Errorf("CORS_ALLOWED_ORIGINS must not contain wildcards, got %q", origin)
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "local" || c.Environment == "development" || c.Environment == "test"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// DriverName returns the database/sql driver name for the configured URL.
func (d DatabaseConfig) DriverName() string {
	if d.Driver != "" {
		return d.Driver
	}
	return inferDriver(d.URL)
}

// DSN returns the connection string handed to sql.Open.
func (d DatabaseConfig) DSN() string {
	if d.DriverName() != DriverSQLite {
		return d.URL
	}
	dsn := strings.TrimPrefix(d.URL, "sqlite3://")
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	if !strings.Contains(dsn, "_foreign_keys") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_foreign_keys=on&_busy_timeout=10000"
	}
	return dsn
}

func inferDriver(url string) string {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DriverPostgres
	case strings.HasPrefix(url, "sqlite"), strings.HasPrefix(url, "file:"), strings.HasSuffix(url, ".db"):
		return DriverSQLite
	default:
		return DriverPostgres
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadEnvFile loads variables from path without overriding ones already set.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}
