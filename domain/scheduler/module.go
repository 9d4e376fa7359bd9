package scheduler

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/banterhq/banter/domain/useractivity"
	"github.com/banterhq/banter/internal/archive"
	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/internal/queue"
)

// Module provides scheduled task functionality
var Module = fx.Module("scheduler",
	fx.Provide(
		NewConfig,
		NewScheduler,
	),
	fx.Invoke(
		RegisterTasks,
		RegisterSchedulerLifecycle,
	),
)

// TaskParams contains dependencies for creating scheduled tasks
type TaskParams struct {
	fx.In
	Scheduler  *Scheduler
	Supervisor *queue.Supervisor
	Activity   *useractivity.Repository
	Archive    *archive.Service
	AppCfg     *config.Config
	Log        *slog.Logger
	Cfg        *Config
}

// RegisterTasks registers all scheduled tasks
func RegisterTasks(p TaskParams) error {
	if !p.Cfg.Enabled {
		p.Log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	metricsTask := NewMetricsLogTask(p.Supervisor, p.Log)
	if err := addScheduledTask(p.Scheduler, p.Log, "metrics_log",
		p.Cfg.MetricsLogSchedule, p.Cfg.MetricsLogInterval, metricsTask.Run); err != nil {
		p.Log.Error("failed to register metrics log task",
			slog.String("error", err.Error()))
	}

	scanTask := NewQuarantineScanTask(p.AppCfg.Queue.ErrorDir, p.Log)
	if err := addScheduledTask(p.Scheduler, p.Log, "quarantine_scan",
		p.Cfg.QuarantineScanSchedule, p.Cfg.QuarantineScanInterval, scanTask.Run); err != nil {
		p.Log.Error("failed to register quarantine scan task",
			slog.String("error", err.Error()))
	}

	cleanupTask := NewActivityCleanupTask(p.Activity, p.Cfg.ActivityMaxAge(), p.Log)
	if err := addScheduledTask(p.Scheduler, p.Log, "activity_cleanup",
		p.Cfg.ActivityCleanupSchedule, p.Cfg.ActivityCleanupInterval, cleanupTask.Run); err != nil {
		p.Log.Error("failed to register activity cleanup task",
			slog.String("error", err.Error()))
	}

	if p.Archive.Enabled() {
		archiveTask := NewArchiveUploadTask(p.Archive, p.AppCfg.Queue.ErrorDir, p.Log)
		if err := p.Scheduler.AddCronTask("archive_upload",
			p.AppCfg.Archive.CronSpec, archiveTask.Run); err != nil {
			p.Log.Error("failed to register archive upload task",
				slog.String("error", err.Error()))
		}
	}

	p.Log.Info("registered scheduled tasks",
		slog.Any("tasks", p.Scheduler.ListTasks()))

	return nil
}

// addScheduledTask registers a task on its cron schedule when one is
// configured, falling back to the interval.
func addScheduledTask(s *Scheduler, log *slog.Logger, name, cronSchedule string, interval time.Duration, task TaskFunc) error {
	if cronSchedule != "" {
		log.Debug("using cron schedule for task",
			slog.String("name", name),
			slog.String("schedule", cronSchedule))
		return s.AddCronTask(name, cronSchedule, task)
	}
	return s.AddIntervalTask(name, interval, task)
}

// RegisterSchedulerLifecycle registers the scheduler with fx lifecycle
func RegisterSchedulerLifecycle(lc fx.Lifecycle, scheduler *Scheduler, cfg *Config) {
	if !cfg.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
}
