package sqldb

import (
	"context"
	"fmt"

	"noria-api/internal/util"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		goals TEXT,
		stage INTEGER NOT NULL DEFAULT 1 CHECK (stage BETWEEN 1 AND 3)
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		message_text TEXT NOT NULL,
		"timestamp" TIMESTAMP NOT NULL,
		sender_type TEXT NOT NULL CHECK (sender_type IN ('user', 'coach', 'system'))
	)`,
	`CREATE TABLE IF NOT EXISTS analysis_results (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		chat_score INTEGER NOT NULL,
		"timestamp" TIMESTAMP NOT NULL,
		message_range TEXT CHECK (message_range IS NULL OR length(message_range) <= 255)
	)`,
	`CREATE TABLE IF NOT EXISTS job_queue (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		data TEXT NOT NULL DEFAULT '{}',
		priority INTEGER NOT NULL DEFAULT 0,
		retry_limit INTEGER NOT NULL DEFAULT 3,
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		start_after TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS user_message_counters (
		user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		user_message_count INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		goals JSONB,
		stage INTEGER NOT NULL DEFAULT 1 CHECK (stage BETWEEN 1 AND 3)
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		message_text TEXT NOT NULL,
		"timestamp" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		sender_type VARCHAR(32) NOT NULL,
		CONSTRAINT conversations_sender_type_chk CHECK (sender_type IN ('user', 'coach', 'system'))
	)`,
	`CREATE TABLE IF NOT EXISTS analysis_results (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		chat_score INTEGER NOT NULL,
		"timestamp" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		message_range VARCHAR(255)
	)`,
	`CREATE TABLE IF NOT EXISTS job_queue (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name VARCHAR(255) NOT NULL,
		data JSONB NOT NULL DEFAULT '{}'::jsonb,
		priority INTEGER NOT NULL DEFAULT 0,
		retry_limit INTEGER NOT NULL DEFAULT 3,
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		start_after TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS user_message_counters (
		user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		user_message_count BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	// Messages are counted in the application now; a leftover counting
	// trigger would enqueue every job twice.
	`DROP TRIGGER IF EXISTS trigger_analysis_queue ON conversations`,
	`DROP FUNCTION IF EXISTS queue_analysis_check()`,
}

var sharedIndexes = []string{
	`CREATE INDEX IF NOT EXISTS ix_conversations_user_id ON conversations (user_id, "timestamp")`,
	`CREATE INDEX IF NOT EXISTS ix_analysis_results_user_id ON analysis_results (user_id)`,
	`CREATE INDEX IF NOT EXISTS ix_job_queue_pending ON job_queue (name, priority, start_after) WHERE completed_at IS NULL`,
	// Seed counters for users whose messages predate the counter table.
	`INSERT INTO user_message_counters (user_id, user_message_count, updated_at)
		SELECT user_id, COUNT(*), CURRENT_TIMESTAMP FROM conversations
		WHERE sender_type = 'user'
		GROUP BY user_id
		ON CONFLICT (user_id) DO NOTHING`,
}

// Row level security mirrors the hosted Postgres setup. auth.uid() is shimmed
// to return NULL when the database is not provisioned with an auth schema.
var postgresSecurity = []string{
	`DO $do$
	BEGIN
		IF NOT EXISTS (
			SELECT 1 FROM pg_proc p
			JOIN pg_namespace n ON p.pronamespace = n.oid
			WHERE n.nspname = 'auth' AND p.proname = 'uid'
		) THEN
			EXECUTE 'CREATE SCHEMA IF NOT EXISTS auth';
			EXECUTE 'CREATE OR REPLACE FUNCTION auth.uid() RETURNS uuid LANGUAGE sql STABLE AS $fn$ SELECT NULL::uuid $fn$';
		END IF;
	END
	$do$`,
	`ALTER TABLE users ENABLE ROW LEVEL SECURITY`,
	`ALTER TABLE conversations ENABLE ROW LEVEL SECURITY`,
	`ALTER TABLE analysis_results ENABLE ROW LEVEL SECURITY`,
}

type rowPolicy struct {
	name    string
	table   string
	command string
	clause  string
}

var rowPolicies = []rowPolicy{
	{"Users can view their own data", "users", "SELECT", "USING (auth.uid() = id)"},
	{"Users can update their own data", "users", "UPDATE", "USING (auth.uid() = id)"},
	{"Users can view their own conversations", "conversations", "SELECT", "USING (auth.uid() = user_id)"},
	{"Users can insert their own messages", "conversations", "INSERT", "WITH CHECK (auth.uid() = user_id)"},
	{"Users can view their own analysis", "analysis_results", "SELECT", "USING (auth.uid() = user_id)"},
}

func (p rowPolicy) statement() string {
	return fmt.Sprintf(`DO $do$
	BEGIN
		IF NOT EXISTS (
			SELECT 1 FROM pg_policies
			WHERE schemaname = current_schema() AND tablename = '%s' AND policyname = '%s'
		) THEN
			CREATE POLICY "%s" ON %s FOR %s %s;
		END IF;
	END
	$do$`, p.table, p.name, p.name, p.table, p.command, p.clause)
}

// Migrate creates or upgrades the schema. It is safe to run on every start.
func (d *DB) Migrate(ctx context.Context) error {
	var statements []string
	if d.dialect.isPostgres() {
		statements = append(statements, postgresSchema...)
	} else {
		statements = append(statements, sqliteSchema...)
	}
	statements = append(statements, sharedIndexes...)
	if d.dialect.isPostgres() {
		statements = append(statements, postgresSecurity...)
		for _, p := range rowPolicies {
			statements = append(statements, p.statement())
		}
	}

	tx, err := d.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d failed: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	util.Info("Database schema migrated",
		util.String("driver", d.dialect.driver),
		util.Int("statements", len(statements)))
	return nil
}
