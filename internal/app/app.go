// Package app wires the shared object graph of the statsync binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iddaa-lens/statsync/internal/config"
	"github.com/iddaa-lens/statsync/pkg/credentials"
	"github.com/iddaa-lens/statsync/pkg/database"
	"github.com/iddaa-lens/statsync/pkg/database/pool"
	"github.com/iddaa-lens/statsync/pkg/jobs"
	"github.com/iddaa-lens/statsync/pkg/logger"
	"github.com/iddaa-lens/statsync/pkg/presto"
	"github.com/iddaa-lens/statsync/pkg/secrets"
	"github.com/iddaa-lens/statsync/pkg/services"
)

// App holds the long-lived collaborators
type App struct {
	Pool        *pgxpool.Pool
	Credentials *credentials.Manager
	Provider    *presto.Client
	Sync        *services.SyncService
	Scheduler   *jobs.Scheduler
	LockManager jobs.JobLockManager
}

// Build connects to Postgres and assembles the credential manager, provider
// client, sync engine and scheduler
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	encryptor, err := secrets.NewAESEncryptor(cfg.Security.EncryptionKey, "")
	if err != nil {
		return nil, fmt.Errorf("credential encryptor: %w", err)
	}

	db, err := pool.New(ctx, cfg.DatabaseURL(), pool.DefaultConfig())
	if err != nil {
		return nil, err
	}
	a := &App{Pool: db}

	a.Credentials = credentials.NewManager(
		database.NewCredentialStore(db, logger.New("credential-store")),
		encryptor,
		credentials.ManagerOptions{
			MaxRefreshErrors: cfg.Sync.MaxRefreshErrors,
			Logger:           logger.New("credentials"),
		},
	)

	a.Provider = presto.NewClient(&presto.Config{
		BaseURL:        cfg.Presto.BaseURL,
		Timeout:        time.Duration(cfg.Presto.Timeout) * time.Second,
		RequestsPerMin: cfg.Presto.RequestsPerMin,
	}, logger.New("presto-client"))

	a.Sync = services.NewSyncService(
		a.Credentials,
		a.Provider,
		database.NewGameStore(db, logger.New("game-store")),
		services.SyncConfig{LiveWindow: cfg.LiveWindow()},
		logger.New("sync-service"),
	)

	if cfg.Sync.DistributedLocks {
		// each held lock pins its own pooled session
		a.LockManager = jobs.NewPostgreSQLLockManager(jobs.PoolSessions{Pool: db}, logger.New("job-lock-manager"))
	}

	a.Scheduler = jobs.NewScheduler(a.Sync, a.Credentials, jobs.SchedulerConfig{
		FullSyncCron: cfg.Sync.FullSyncCron,
		LiveSyncCron: cfg.Sync.LiveSyncCron,
		Provider:     presto.ProviderName,
		LockManager:  a.LockManager,
	}, logger.New("sync-scheduler"))

	log.Info().
		Str("action", "app_wired").
		Bool("distributed_locks", a.LockManager != nil).
		Str("provider_url", cfg.Presto.BaseURL).
		Msg("Database connected and services initialized")
	return a, nil
}

// Close releases the pool
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
