// Package scheduler runs the listener's periodic jobs on gocron v2.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/bowatch/bowatch/internal/shared/biztime"
	"github.com/bowatch/bowatch/internal/shared/logger"
)

// Job names, also used as metric labels.
const (
	JobDepositPoll = "deposit-poll"
	JobTokenWatch  = "token-watch"
	JobLogCleanup  = "notification-log-cleanup"
)

// BatchJob processes one batch and returns the number of items handled.
type BatchJob interface {
	Execute(ctx context.Context) (int, error)
}

// LogPruner deletes notification log rows older than cutoff.
type LogPruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// JobObserver records job runs.
type JobObserver interface {
	ObserveJob(job string, started time.Time, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveJob(string, time.Time, error) {}

type SchedulerManager struct {
	scheduler gocron.Scheduler
	logger    logger.Interface
	observer  JobObserver

	started   bool
	startedMu sync.RWMutex
}

// NewSchedulerManager creates a scheduler in the business timezone so cron
// expressions read in local time. observer may be nil.
func NewSchedulerManager(log logger.Interface, observer JobObserver) (*SchedulerManager, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(biztime.Location()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	if observer == nil {
		observer = nopObserver{}
	}

	return &SchedulerManager{
		scheduler: scheduler,
		logger:    log.Named("scheduler"),
		observer:  observer,
	}, nil
}

// ========================================
// Deposit Poll (interval, start immediately)
// ========================================

// RegisterDepositPollJob polls the deposit listing every interval. A run
// never overlaps the previous one.
func (m *SchedulerManager) RegisterDepositPollJob(job BatchJob, interval, timeout time.Duration) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			m.runBatch(ctx, JobDepositPoll, job)
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("deposit", "poll"),
		gocron.WithName(JobDepositPoll),
	)
	if err != nil {
		return fmt.Errorf("failed to register deposit poll job: %w", err)
	}

	m.logger.Infow("registered deposit poll job", "interval", interval)
	return nil
}

// ========================================
// Token Watch (interval, start immediately)
// ========================================

func (m *SchedulerManager) RegisterTokenWatchJob(job BatchJob, interval time.Duration) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			m.runBatch(ctx, JobTokenWatch, job)
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("credentials", "token-source"),
		gocron.WithName(JobTokenWatch),
	)
	if err != nil {
		return fmt.Errorf("failed to register token watch job: %w", err)
	}

	m.logger.Infow("registered token watch job", "interval", interval)
	return nil
}

// ========================================
// Notification Log Cleanup (cron-based)
// ========================================

// RegisterLogCleanupJob prunes the notification log daily at 05:00.
func (m *SchedulerManager) RegisterLogCleanupJob(pruner LogPruner, retentionDays int) error {
	_, err := m.scheduler.NewJob(
		gocron.CronJob("0 5 * * *", false),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			m.executeLogCleanup(ctx, pruner, retentionDays)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("notification-log", "cleanup"),
		gocron.WithName(JobLogCleanup),
	)
	if err != nil {
		return fmt.Errorf("failed to register log cleanup job: %w", err)
	}

	m.logger.Infow("registered notification log cleanup job", "schedule", "0 5 * * *", "retention_days", retentionDays)
	return nil
}

func (m *SchedulerManager) runBatch(ctx context.Context, name string, job BatchJob) {
	startTime := biztime.NowUTC()

	count, err := job.Execute(ctx)
	m.observer.ObserveJob(name, startTime, err)
	if err != nil {
		m.logger.Errorw("scheduled job failed",
			"job", name,
			"error", err,
			"duration", time.Since(startTime),
		)
		return
	}

	if count > 0 {
		m.logger.Infow("scheduled job processed items",
			"job", name,
			"count", count,
			"duration", time.Since(startTime),
		)
	} else {
		m.logger.Debugw("scheduled job found nothing to do",
			"job", name,
			"duration", time.Since(startTime),
		)
	}
}

func (m *SchedulerManager) executeLogCleanup(ctx context.Context, pruner LogPruner, retentionDays int) {
	startTime := biztime.NowUTC()
	cutoff := startTime.AddDate(0, 0, -retentionDays)

	removed, err := pruner.PruneOlderThan(ctx, cutoff)
	m.observer.ObserveJob(JobLogCleanup, startTime, err)
	if err != nil {
		m.logger.Errorw("notification log cleanup failed",
			"error", err,
			"duration", time.Since(startTime),
			"retention_days", retentionDays,
		)
		return
	}

	m.logger.Infow("notification log cleanup completed",
		"removed", removed,
		"duration", time.Since(startTime),
		"retention_days", retentionDays,
	)
}

// ========================================
// Scheduler Lifecycle Methods
// ========================================

func (m *SchedulerManager) Start() {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()

	if m.started {
		return
	}

	m.scheduler.Start()
	m.started = true
	m.logger.Infow("scheduler manager started", "job_count", len(m.scheduler.Jobs()))
}

// Stop waits for running jobs to complete before returning.
func (m *SchedulerManager) Stop() error {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()

	if !m.started {
		return nil
	}

	m.logger.Infow("stopping scheduler manager")

	err := m.scheduler.Shutdown()
	m.started = false

	if err != nil {
		m.logger.Errorw("scheduler manager shutdown with error", "error", err)
		return err
	}

	m.logger.Infow("scheduler manager stopped")
	return nil
}

func (m *SchedulerManager) Jobs() []gocron.Job {
	return m.scheduler.Jobs()
}
