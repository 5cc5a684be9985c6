// Package sqldb is the relational store behind users, conversations, analysis
// results and the job queue. It runs on PostgreSQL in production and on SQLite
// for local development and tests.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"noria-api/internal/config"
	"noria-api/internal/util"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrDuplicate  = errors.New("record already exists")
	ErrForeignKey = errors.New("referenced record does not exist")
	ErrConstraint = errors.New("constraint violation")
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type DB struct {
	sqlDB   *sql.DB
	dialect dialect
}

// Open connects, applies pool settings and pings the database.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	driverName := cfg.DriverName()
	switch driverName {
	case config.DriverPostgres, config.DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}

	sqlDB, err := sql.Open(driverName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single connection serialises access and
	// keeps shared in-memory databases alive.
	if driverName == config.DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		if cfg.MaxConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxConns)
		}
		if cfg.MaxIdle > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdle)
		}
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driverName == config.DriverSQLite {
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			util.Warn("Failed to enable WAL mode", util.ErrorField(err))
		}
	}

	util.Info("Database connection established",
		zap.String("driver", driverName),
		zap.Int("max_conns", cfg.MaxConns))

	return &DB{sqlDB: sqlDB, dialect: dialect{driver: driverName}}, nil
}

func (d *DB) SQL() *sql.DB { return d.sqlDB }

func (d *DB) Driver() string { return d.dialect.driver }

// Repositories returns repositories bound to the connection pool.
func (d *DB) Repositories() *Repositories {
	return newRepositories(d.sqlDB, d.dialect)
}

// WithTx runs fn inside a transaction and commits when fn returns nil.
// Any error or panic rolls the transaction back.
func (d *DB) WithTx(ctx context.Context, fn func(repos *Repositories) error) (err error) {
	tx, err := d.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				util.Error("Failed to roll back transaction", util.ErrorField(rbErr))
			}
		}
	}()

	if err = fn(newRepositories(tx, d.dialect)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (d *DB) HealthCheck(ctx context.Context) error {
	if err := d.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var one int
	if err := d.sqlDB.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	return nil
}

func (d *DB) Close() error {
	if d.sqlDB == nil {
		return nil
	}
	if err := d.sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	util.Info("Database connection closed")
	return nil
}

type dialect struct {
	driver string
}

func (d dialect) isPostgres() bool { return d.driver == config.DriverPostgres }

// rebind rewrites ? placeholders to $N for PostgreSQL.
func (d dialect) rebind(query string) string {
	if !d.isPostgres() || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// translateError maps driver constraint errors onto the package sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Message)
		case "23503":
			return fmt.Errorf("%w: %s", ErrForeignKey, pqErr.Message)
		case "23514", "23502":
			return fmt.Errorf("%w: %s", ErrConstraint, pqErr.Message)
		}
		return err
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %s", ErrDuplicate, liteErr.Error())
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %s", ErrForeignKey, liteErr.Error())
		case sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintNotNull:
			return fmt.Errorf("%w: %s", ErrConstraint, liteErr.Error())
		}
	}
	return err
}

// Repositories groups the repositories that share one Querier.
type Repositories struct {
	Users         *UserRepository
	Conversations *ConversationRepository
	Counters      *CounterRepository
	Analysis      *AnalysisRepository
	Jobs          *JobQueueRepository
}

func newRepositories(q Querier, d dialect) *Repositories {
	return &Repositories{
		Users:         &UserRepository{q: q, dialect: d},
		Conversations: &ConversationRepository{q: q, dialect: d},
		Counters:      &CounterRepository{q: q, dialect: d},
		Analysis:      &AnalysisRepository{q: q, dialect: d},
		Jobs:          &JobQueueRepository{q: q, dialect: d},
	}
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
