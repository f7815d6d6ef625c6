package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iddaa-lens/statsync/internal/app"
	"github.com/iddaa-lens/statsync/internal/config"
	"github.com/iddaa-lens/statsync/pkg/jobs"
	"github.com/iddaa-lens/statsync/pkg/logger"
)

func main() {
	var (
		jobName = flag.String("job", "", "Run specific job once (full, live, token_refresh)")
		once    = flag.Bool("once", false, "Run job once and exit")
	)
	flag.Parse()

	logger.SetupLogger()
	log := logger.New("statsync-cron")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Str("action", "config_invalid").Msg("Invalid configuration")
	}

	a, err := app.Build(context.Background(), cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("action", "startup_failed").Msg("Failed to initialize")
	}
	defer a.Close()

	fullJob := jobs.NewFullSyncJob(a.Scheduler, cfg.Sync.FullSyncCron)
	liveJob := jobs.NewLiveStatsSyncJob(a.Scheduler, cfg.Sync.LiveSyncCron)
	var refreshJob jobs.Job = jobs.NewTokenRefreshJob(a.Sync, cfg.Sync.TokenRefreshCron, cfg.Sync.RefreshBufferMinutes)
	if a.LockManager != nil {
		refreshJob = jobs.NewLockedJob(refreshJob, a.LockManager, logger.New("locked-job"))
	}

	if *once && *jobName != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		var job jobs.Job
		switch *jobName {
		case "full":
			job = fullJob
		case "live":
			job = liveJob
		case "token_refresh":
			job = refreshJob
		default:
			log.Fatal().Str("job", *jobName).Msg("Unknown job. Available jobs: full, live, token_refresh")
		}

		jobLog := log.WithJob(job.Name())
		runCtx, stats := jobs.WithRunStats(jobLog.ToContext(ctx))
		start := time.Now()
		jobLog.LogJobStart(job.Name(), "once")
		if err := job.Execute(runCtx); err != nil {
			jobLog.Fatal().
				Err(err).
				Str("action", "job_failed").
				Int("items_processed", stats.Processed).
				Int("error_count", stats.Failed).
				Msg("Job failed")
		}
		jobLog.LogJobComplete(job.Name(), time.Since(start), stats.Processed, stats.Failed)
		return
	}

	// the full and live timers belong to the scheduler; auxiliary jobs go to the job manager
	if err := a.Scheduler.Start(); err != nil {
		log.Fatal().Err(err).Str("action", "scheduler_start_failed").Msg("Failed to start scheduler")
	}

	jobManager := jobs.NewJobManager(logger.New("job-manager"))
	if err := jobManager.RegisterJob(refreshJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register token refresh job")
	}
	jobManager.Start()

	log.Info().
		Str("action", "cron_started").
		Int("aux_jobs", len(jobManager.GetJobs())).
		Msg("Statsync cron service started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down, waiting for in-flight syncs")
	schedulerDone := a.Scheduler.Stop()
	jobsDone := jobManager.Stop()
	<-schedulerDone.Done()
	<-jobsDone.Done()
	log.Info().Msg("Statsync cron service stopped")
}
