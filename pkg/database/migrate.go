package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

type migration struct {
	version int
	name    string
	up      string
}

var migrations = []migration{
	{
		version: 1,
		name:    "integration_credentials",
		up: `
			CREATE EXTENSION IF NOT EXISTS pgcrypto;

			CREATE TABLE IF NOT EXISTS integration_credentials (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				tenant_id TEXT NOT NULL,
				provider TEXT NOT NULL,
				credential_type TEXT NOT NULL CHECK (credential_type IN ('basic', 'oauth2', 'api_key')),
				credentials_encrypted TEXT,
				access_token_encrypted TEXT,
				refresh_token_encrypted TEXT,
				token_expires_at TIMESTAMPTZ,
				refresh_token_expires_at TIMESTAMPTZ,
				last_refreshed_at TIMESTAMPTZ,
				refresh_error_count INTEGER NOT NULL DEFAULT 0,
				last_refresh_error TEXT,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				config JSONB NOT NULL DEFAULT '{}'::jsonb,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (tenant_id, provider)
			);

			CREATE INDEX IF NOT EXISTS idx_integration_credentials_active
				ON integration_credentials (provider) WHERE is_active;
			CREATE INDEX IF NOT EXISTS idx_integration_credentials_expiry
				ON integration_credentials (token_expires_at) WHERE is_active;
		`,
	},
	{
		version: 2,
		name:    "games_and_rosters",
		up: `
			CREATE TABLE IF NOT EXISTS games (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				tenant_id TEXT NOT NULL,
				external_id TEXT NOT NULL,
				slug TEXT NOT NULL,
				home_team TEXT NOT NULL,
				away_team TEXT NOT NULL,
				start_time TIMESTAMPTZ NOT NULL,
				status TEXT NOT NULL DEFAULT 'scheduled',
				home_score INTEGER,
				away_score INTEGER,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (tenant_id, external_id)
			);

			CREATE INDEX IF NOT EXISTS idx_games_live ON games (tenant_id, status, start_time);

			CREATE TABLE IF NOT EXISTS roster_players (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				tenant_id TEXT NOT NULL,
				external_id TEXT NOT NULL,
				first_name TEXT NOT NULL,
				last_name TEXT NOT NULL,
				uniform TEXT,
				position TEXT,
				class_year TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (tenant_id, external_id)
			);
		`,
	},
	{
		version: 3,
		name:    "game_stats_and_sync_runs",
		up: `
			CREATE TABLE IF NOT EXISTS game_stats (
				game_id UUID PRIMARY KEY REFERENCES games(id) ON DELETE CASCADE,
				play_by_play JSONB,
				line_score JSONB,
				total_plays INTEGER NOT NULL DEFAULT 0,
				fetched_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS sync_runs (
				id UUID PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				game_id UUID,
				triggered_by TEXT,
				started_at TIMESTAMPTZ NOT NULL,
				finished_at TIMESTAMPTZ NOT NULL,
				status TEXT NOT NULL,
				error TEXT
			);

			CREATE INDEX IF NOT EXISTS idx_sync_runs_tenant ON sync_runs (tenant_id, started_at DESC);
		`,
	},
}

// Open connects through database/sql with the lib/pq driver
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Migrate applies pending migrations in one transaction and returns the
// versions it applied
func Migrate(db *sql.DB) ([]int, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return nil, fmt.Errorf("failed to read migration version: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var applied []int
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := tx.Exec(m.up); err != nil {
			return nil, fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
			return nil, fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		applied = append(applied, m.version)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit migrations: %w", err)
	}
	return applied, nil
}
