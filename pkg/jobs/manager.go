package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/iddaa-lens/statsync/pkg/logger"
)

// DefaultJobTimeout bounds one run of an auxiliary job
const DefaultJobTimeout = 30 * time.Minute

type cronJobManager struct {
	cron    *cron.Cron
	jobs    []Job
	logger  *logger.Logger
	timeout time.Duration
}

// NewJobManager creates a new job manager
func NewJobManager(log *logger.Logger) JobManager {
	if log == nil {
		log = logger.New("job-manager")
	}
	return &cronJobManager{
		cron:    newCron(log),
		jobs:    make([]Job, 0),
		logger:  log,
		timeout: DefaultJobTimeout,
	}
}

// newCron builds a UTC cron whose entries survive panics
func newCron(log *logger.Logger) *cron.Cron {
	cl := cronLogger{log: log}
	return cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
}

func (m *cronJobManager) RegisterJob(job Job) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}

	m.logger.Info().
		Str("job_name", job.Name()).
		Str("schedule", job.Schedule()).
		Str("action", "job_registered").
		Msg("Registering job")

	if _, err := m.cron.AddFunc(job.Schedule(), func() { m.run(job) }); err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", job.Name(), err)
	}

	m.jobs = append(m.jobs, job)
	return nil
}

// run executes one job invocation with its own request id. Errors are
// logged; nothing propagates back into cron.
func (m *cronJobManager) run(job Job) {
	log := m.logger.WithJob(job.Name()).WithRequestID(uuid.New().String())

	ctx, cancel := context.WithTimeout(log.ToContext(context.Background()), m.timeout)
	defer cancel()
	ctx, stats := WithRunStats(ctx)

	log.LogJobStart(job.Name(), job.Schedule())
	start := time.Now()

	if err := job.Execute(ctx); err != nil {
		log.Error().
			Err(err).
			Str("action", "job_failed").
			Dur("duration", time.Since(start)).
			Int("items_processed", stats.Processed).
			Int("error_count", stats.Failed).
			Msg("Job failed")
		return
	}
	log.LogJobComplete(job.Name(), time.Since(start), stats.Processed, stats.Failed)
}

func (m *cronJobManager) Start() {
	m.logger.Info().
		Int("jobs", len(m.jobs)).
		Msg("Starting job manager")
	m.cron.Start()
}

func (m *cronJobManager) Stop() context.Context {
	m.logger.Info().Msg("Stopping job manager")
	return m.cron.Stop()
}

func (m *cronJobManager) GetJobs() []Job {
	return append([]Job(nil), m.jobs...)
}

// cronLogger routes robfig/cron's internal logging into zerolog
type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
