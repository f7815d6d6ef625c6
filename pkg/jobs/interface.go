package jobs

import (
	"context"

	"github.com/iddaa-lens/statsync/pkg/models"
)

// Job represents a schedulable job that can be executed by the cron service
type Job interface {
	// Execute runs the job with the given context
	Execute(ctx context.Context) error

	// Name returns a human-readable name for the job
	Name() string

	// Schedule returns the cron schedule expression for this job
	// Format: "minute hour day month weekday" or "@every duration"
	Schedule() string
}

// JobManager manages and schedules auxiliary jobs
type JobManager interface {
	RegisterJob(job Job) error

	Start()

	// Stop prevents further runs; the returned context is done once running jobs finish
	Stop() context.Context

	GetJobs() []Job
}

// SyncEngine does the per-tenant and per-game work the Scheduler orchestrates
type SyncEngine interface {
	SyncAll(ctx context.Context, tenantID string, triggeredBy *string) (*models.SyncResult, error)
	GetLiveEligibleGames(ctx context.Context, tenantID string) ([]models.GameRef, error)
	SyncLiveStats(ctx context.Context, tenantID, gameID string, triggeredBy *string) error
}

// TenantLister enumerates tenants with an active integration for a provider
type TenantLister interface {
	ListActiveTenants(ctx context.Context, provider string) ([]string, error)
}

// TokenRefresher proactively refreshes tokens close to expiry
type TokenRefresher interface {
	RefreshExpiringTokens(ctx context.Context, bufferMinutes int) (refreshed int, failed int, err error)
}

// RunStats counts what one job execution processed. Jobs report into the
// RunStats carried by their context; the runner logs it on completion.
type RunStats struct {
	Processed int
	Failed    int
}

type runStatsKey struct{}

// WithRunStats returns a context that collects the stats of one execution
func WithRunStats(ctx context.Context) (context.Context, *RunStats) {
	stats := &RunStats{}
	return context.WithValue(ctx, runStatsKey{}, stats), stats
}

func recordRunStats(ctx context.Context, processed, failed int) {
	if stats, ok := ctx.Value(runStatsKey{}).(*RunStats); ok {
		stats.Processed += processed
		stats.Failed += failed
	}
}
