package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/iddaa-lens/statsync/pkg/credentials"
	"github.com/iddaa-lens/statsync/pkg/logger"
	"github.com/iddaa-lens/statsync/pkg/metrics"
	"github.com/iddaa-lens/statsync/pkg/models"
)

// ErrTenantBusy is returned by SyncTenant while another sync of the tenant runs
var ErrTenantBusy = errors.New("tenant sync already in progress")

const (
	KindFull = "full"
	KindLive = "live"

	DefaultFullSyncCron = "0 */4 * * *"
	DefaultLiveSyncCron = "*/2 * * * *"
)

// SchedulerConfig configures the two recurring timers
type SchedulerConfig struct {
	FullSyncCron string
	LiveSyncCron string
	// Provider selects which integrations define the tenant set
	Provider string
	// LockManager adds a cross-process guard on top of the in-memory one. Optional.
	LockManager JobLockManager
}

// RunReport summarizes one orchestrator run
type RunReport struct {
	Kind    string        `json:"kind"`
	Tenants int           `json:"tenants"`
	Synced  int           `json:"synced"`
	Skipped int           `json:"skipped"`
	Idle    int           `json:"idle"`
	Failed  int           `json:"failed"`
	Games   int           `json:"games"`
	GameErr int           `json:"game_errors"`
	Elapsed time.Duration `json:"elapsed"`
}

// Scheduler owns the full and live timers and the per-tenant overlap guard.
// A tenant is synced by at most one run at a time regardless of kind; tenants
// inside one run are processed one after another.
type Scheduler struct {
	engine  SyncEngine
	tenants TenantLister
	locks   JobLockManager
	logger  *logger.Logger

	fullSpec string
	liveSpec string
	provider string

	mu      sync.Mutex
	cron    *cron.Cron
	running bool

	guardMu sync.Mutex
	syncing map[string]struct{}
}

func NewScheduler(engine SyncEngine, tenants TenantLister, cfg SchedulerConfig, log *logger.Logger) *Scheduler {
	if cfg.FullSyncCron == "" {
		cfg.FullSyncCron = DefaultFullSyncCron
	}
	if cfg.LiveSyncCron == "" {
		cfg.LiveSyncCron = DefaultLiveSyncCron
	}
	if log == nil {
		log = logger.New("sync-scheduler")
	}
	return &Scheduler{
		engine:   engine,
		tenants:  tenants,
		locks:    cfg.LockManager,
		logger:   log,
		fullSpec: cfg.FullSyncCron,
		liveSpec: cfg.LiveSyncCron,
		provider: cfg.Provider,
		syncing:  make(map[string]struct{}),
	}
}

// Start registers the full and live timers. Calling it again while running
// only logs a warning.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn().
			Str("action", "scheduler_already_running").
			Msg("Scheduler already started, ignoring")
		return nil
	}

	c := newCron(s.logger)
	if _, err := c.AddFunc(s.fullSpec, func() { s.onTimer(KindFull) }); err != nil {
		return fmt.Errorf("schedule full sync %q: %w", s.fullSpec, err)
	}
	if _, err := c.AddFunc(s.liveSpec, func() { s.onTimer(KindLive) }); err != nil {
		return fmt.Errorf("schedule live sync %q: %w", s.liveSpec, err)
	}
	c.Start()

	s.cron = c
	s.running = true

	s.logger.Info().
		Str("action", "scheduler_started").
		Str("full_sync_cron", s.fullSpec).
		Str("live_sync_cron", s.liveSpec).
		Msg("Sync scheduler started")
	return nil
}

// Stop cancels both timers. Runs already in flight are not interrupted; the
// returned context is done once they finish. Safe to call when not running.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	ctx := s.cron.Stop()
	s.cron = nil
	s.running = false

	s.logger.Info().
		Str("action", "scheduler_stopped").
		Msg("Sync scheduler stopped")
	return ctx
}

// Running reports whether the timers are registered
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TimerCount is the number of registered timers, two while running
func (s *Scheduler) TimerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return 0
	}
	return len(s.cron.Entries())
}

// onTimer is the cron callback; it must never let an error escape
func (s *Scheduler) onTimer(kind string) {
	log := s.logger.WithJob(kind + "-sync").WithRequestID(uuid.New().String())
	ctx := log.ToContext(context.Background())

	var err error
	switch kind {
	case KindFull:
		_, err = s.RunFullSync(ctx)
	case KindLive:
		_, err = s.RunLiveStatsSync(ctx)
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("action", "scheduled_run_failed").
			Msg("Scheduled sync run failed")
	}
}

// RunFullSync runs the full sync for every active tenant, one at a time.
// Only a failure to enumerate tenants is returned.
func (s *Scheduler) RunFullSync(ctx context.Context) (*RunReport, error) {
	log := logger.FromContext(ctx, s.logger)

	return s.run(ctx, KindFull, func(ctx context.Context, tenantID string, report *RunReport) error {
		result, err := s.engine.SyncAll(ctx, tenantID, nil)
		if err != nil {
			return err
		}
		log.WithTenant(tenantID).Debug().
			Str("action", "tenant_full_sync_done").
			Int("players", result.PlayersSynced).
			Int("games", result.GamesSynced).
			Msg("Tenant synced")
		return nil
	})
}

// RunLiveStatsSync polls live stats for every live-eligible game of every
// active tenant. Tenants without eligible games are skipped without a
// provider call; a failing game does not stop the remaining games.
func (s *Scheduler) RunLiveStatsSync(ctx context.Context) (*RunReport, error) {
	log := logger.FromContext(ctx, s.logger)

	return s.run(ctx, KindLive, func(ctx context.Context, tenantID string, report *RunReport) error {
		games, err := s.engine.GetLiveEligibleGames(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("list live games: %w", err)
		}
		if len(games) == 0 {
			report.Idle++
			return errIdle
		}

		tenantLog := log.WithTenant(tenantID)
		for _, game := range games {
			report.Games++
			if err := s.engine.SyncLiveStats(ctx, tenantID, game.ID, nil); err != nil {
				report.GameErr++
				tenantLog.WithGame(game.ID, game.ExternalID).Error().
					Err(err).
					Str("action", "game_live_sync_failed").
					Bool("terminal", credentials.IsTerminal(err)).
					Msg("Live stats sync failed for game")
			}
		}
		return nil
	})
}

// errIdle marks a tenant that had nothing to do
var errIdle = errors.New("idle")

type tenantFunc func(ctx context.Context, tenantID string, report *RunReport) error

func (s *Scheduler) run(ctx context.Context, kind string, fn tenantFunc) (*RunReport, error) {
	log := logger.FromContext(ctx, s.logger)
	start := time.Now()

	tenants, err := s.tenants.ListActiveTenants(ctx, s.provider)
	if err != nil {
		metrics.SyncRuns.WithLabelValues(kind, "failed").Inc()
		return nil, fmt.Errorf("%s sync: %w", kind, err)
	}

	log.Info().
		Str("action", "sync_run_start").
		Str("kind", kind).
		Int("tenants", len(tenants)).
		Msg("Sync run started")

	report := &RunReport{Kind: kind, Tenants: len(tenants)}
	for _, tenantID := range tenants {
		s.runTenant(ctx, kind, tenantID, report, fn)
	}

	report.Elapsed = time.Since(start)
	metrics.SyncRuns.WithLabelValues(kind, "completed").Inc()

	log.Info().
		Str("action", "sync_run_complete").
		Str("kind", kind).
		Int("tenants", report.Tenants).
		Int("synced", report.Synced).
		Int("skipped", report.Skipped).
		Int("idle", report.Idle).
		Int("failed", report.Failed).
		Int("games", report.Games).
		Int("game_errors", report.GameErr).
		Dur("duration", report.Elapsed).
		Msg("Sync run completed")
	return report, nil
}

// runTenant runs fn for one tenant under the overlap guard. Failures are
// logged and counted, never returned.
func (s *Scheduler) runTenant(ctx context.Context, kind, tenantID string, report *RunReport, fn tenantFunc) {
	log := logger.FromContext(ctx, s.logger).WithTenant(tenantID)

	release, err := s.acquire(ctx, tenantID)
	switch {
	case errors.Is(err, ErrTenantBusy):
		report.Skipped++
		metrics.TenantSyncs.WithLabelValues(kind, "skipped").Inc()
		log.Warn().
			Err(err).
			Str("action", "tenant_skipped").
			Str("kind", kind).
			Msg("Tenant sync skipped")
		return
	case err != nil:
		// the lock backend is down; the tenant was not synced and must not look skipped
		report.Failed++
		metrics.TenantSyncs.WithLabelValues(kind, "failed").Inc()
		log.Error().
			Err(err).
			Str("action", "tenant_lock_failed").
			Str("kind", kind).
			Msg("Tenant sync failed, could not take the tenant lock")
		return
	}
	defer release()

	start := time.Now()
	err = fn(ctx, tenantID, report)
	metrics.TenantSyncDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, errIdle):
		metrics.TenantSyncs.WithLabelValues(kind, "idle").Inc()
	case err != nil:
		report.Failed++
		metrics.TenantSyncs.WithLabelValues(kind, "failed").Inc()
		log.Error().
			Err(err).
			Str("action", "tenant_sync_failed").
			Str("kind", kind).
			Bool("terminal", credentials.IsTerminal(err)).
			Msg("Tenant sync failed")
	default:
		report.Synced++
		metrics.TenantSyncs.WithLabelValues(kind, "success").Inc()
	}
}

// SyncTenant runs a full sync of one tenant on demand, through the same guard
// as the timers. Unlike the scheduled runs, the engine error is returned.
func (s *Scheduler) SyncTenant(ctx context.Context, tenantID string, triggeredBy *string) (*models.SyncResult, error) {
	release, err := s.acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	result, err := s.engine.SyncAll(ctx, tenantID, triggeredBy)
	metrics.TenantSyncDuration.WithLabelValues(KindFull).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TenantSyncs.WithLabelValues(KindFull, "failed").Inc()
		return nil, err
	}
	metrics.TenantSyncs.WithLabelValues(KindFull, "success").Inc()
	return result, nil
}

// acquire takes the in-memory guard and, when configured, the cross-process
// lock for tenantID. The returned func releases both.
func (s *Scheduler) acquire(ctx context.Context, tenantID string) (func(), error) {
	s.guardMu.Lock()
	if _, busy := s.syncing[tenantID]; busy {
		s.guardMu.Unlock()
		return nil, ErrTenantBusy
	}
	s.syncing[tenantID] = struct{}{}
	s.guardMu.Unlock()
	metrics.TenantsSyncing.Inc()

	local := func() {
		s.guardMu.Lock()
		delete(s.syncing, tenantID)
		s.guardMu.Unlock()
		metrics.TenantsSyncing.Dec()
	}

	if s.locks == nil {
		return local, nil
	}

	key := TenantLockKey(tenantID)
	acquired, err := s.locks.AcquireLock(ctx, key)
	if err != nil {
		local()
		return nil, fmt.Errorf("tenant lock: %w", err)
	}
	if !acquired {
		local()
		return nil, fmt.Errorf("%w: held by another instance", ErrTenantBusy)
	}

	return func() {
		// release with a fresh context so a canceled run still drops the lock
		if err := s.locks.ReleaseLock(context.Background(), key); err != nil {
			s.logger.WithTenant(tenantID).Error().
				Err(err).
				Str("action", "tenant_lock_release_failed").
				Msg("Failed to release tenant lock")
		}
		local()
	}, nil
}

// IsSyncing reports whether tenantID currently holds the in-memory guard
func (s *Scheduler) IsSyncing(tenantID string) bool {
	s.guardMu.Lock()
	defer s.guardMu.Unlock()
	_, ok := s.syncing[tenantID]
	return ok
}
