package jobs

import (
	"context"
	"fmt"

	"github.com/iddaa-lens/statsync/pkg/logger"
)

// FullSyncJob runs one full sync pass outside the timers, for example from
// the cron binary's -once mode
type FullSyncJob struct {
	scheduler *Scheduler
	schedule  string
}

func NewFullSyncJob(scheduler *Scheduler, schedule string) *FullSyncJob {
	if schedule == "" {
		schedule = DefaultFullSyncCron
	}
	return &FullSyncJob{scheduler: scheduler, schedule: schedule}
}

func (j *FullSyncJob) Name() string     { return "full_sync" }
func (j *FullSyncJob) Schedule() string { return j.schedule }

func (j *FullSyncJob) Execute(ctx context.Context) error {
	report, err := j.scheduler.RunFullSync(ctx)
	if err != nil {
		return err
	}
	recordRunStats(ctx, report.Synced, report.Failed)
	if report.Failed > 0 {
		return fmt.Errorf("full sync: %d of %d tenants failed", report.Failed, report.Tenants)
	}
	return nil
}

// LiveStatsSyncJob runs one live stats pass
type LiveStatsSyncJob struct {
	scheduler *Scheduler
	schedule  string
}

func NewLiveStatsSyncJob(scheduler *Scheduler, schedule string) *LiveStatsSyncJob {
	if schedule == "" {
		schedule = DefaultLiveSyncCron
	}
	return &LiveStatsSyncJob{scheduler: scheduler, schedule: schedule}
}

func (j *LiveStatsSyncJob) Name() string     { return "live_stats_sync" }
func (j *LiveStatsSyncJob) Schedule() string { return j.schedule }

func (j *LiveStatsSyncJob) Execute(ctx context.Context) error {
	report, err := j.scheduler.RunLiveStatsSync(ctx)
	if err != nil {
		return err
	}
	recordRunStats(ctx, report.Games-report.GameErr, report.Failed+report.GameErr)
	if report.Failed > 0 || report.GameErr > 0 {
		return fmt.Errorf("live sync: %d tenants and %d games failed", report.Failed, report.GameErr)
	}
	return nil
}

// TokenRefreshJob refreshes provider tokens shortly before they expire so
// syncs rarely pay for a refresh inline
type TokenRefreshJob struct {
	refresher     TokenRefresher
	schedule      string
	bufferMinutes int
}

func NewTokenRefreshJob(refresher TokenRefresher, schedule string, bufferMinutes int) *TokenRefreshJob {
	if bufferMinutes <= 0 {
		bufferMinutes = 15
	}
	return &TokenRefreshJob{
		refresher:     refresher,
		schedule:      schedule,
		bufferMinutes: bufferMinutes,
	}
}

func (j *TokenRefreshJob) Name() string     { return "token_refresh" }
func (j *TokenRefreshJob) Schedule() string { return j.schedule }

func (j *TokenRefreshJob) Execute(ctx context.Context) error {
	refreshed, failed, err := j.refresher.RefreshExpiringTokens(ctx, j.bufferMinutes)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	recordRunStats(ctx, refreshed, failed)
	logger.WithContext(ctx, "token-refresh").Debug().
		Str("action", "token_refresh_pass").
		Int("buffer_minutes", j.bufferMinutes).
		Int("refreshed", refreshed).
		Int("failed", failed).
		Msg("Token refresh pass finished")
	if failed > 0 {
		return fmt.Errorf("token refresh: %d refreshed, %d failed", refreshed, failed)
	}
	return nil
}
