package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/iddaa-lens/statsync/pkg/logger"
)

// LockedJob runs the wrapped job only on the instance that wins its
// cluster-wide lock; the others skip the run
type LockedJob struct {
	job         Job
	lockManager JobLockManager
	logger      *logger.Logger
}

func NewLockedJob(job Job, lockManager JobLockManager, log *logger.Logger) *LockedJob {
	if log == nil {
		log = logger.New("locked-job")
	}
	return &LockedJob{
		job:         job,
		lockManager: lockManager,
		logger:      log,
	}
}

func (l *LockedJob) Name() string {
	return l.job.Name()
}

func (l *LockedJob) Schedule() string {
	return l.job.Schedule()
}

func (l *LockedJob) Execute(ctx context.Context) error {
	key := "statsync:job:" + l.job.Name()

	acquired, err := l.lockManager.AcquireLock(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to acquire lock for job %s: %w", l.job.Name(), err)
	}
	if !acquired {
		l.logger.Info().
			Str("job_name", l.job.Name()).
			Str("action", "job_skipped_locked").
			Msg("Job skipped, another instance is running it")
		return nil
	}

	defer func() {
		if err := l.lockManager.ReleaseLock(context.Background(), key); err != nil {
			l.logger.Error().
				Err(err).
				Str("job_name", l.job.Name()).
				Str("action", "lock_release_error").
				Msg("Failed to release job lock")
		}
	}()

	start := time.Now()
	err = l.job.Execute(ctx)
	l.logger.Debug().
		Str("job_name", l.job.Name()).
		Dur("duration", time.Since(start)).
		Bool("success", err == nil).
		Msg("Locked job finished")
	return err
}
