package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/banterhq/banter/domain/useractivity"
	"github.com/banterhq/banter/internal/archive"
	"github.com/banterhq/banter/internal/queue"
	"github.com/banterhq/banter/pkg/logger"
)

// MetricsLogTask logs a snapshot of every worker's counters
type MetricsLogTask struct {
	supervisor *queue.Supervisor
	log        *slog.Logger
}

// NewMetricsLogTask creates a new metrics log task
func NewMetricsLogTask(supervisor *queue.Supervisor, log *slog.Logger) *MetricsLogTask {
	return &MetricsLogTask{
		supervisor: supervisor,
		log:        log.With(logger.Scope("scheduler.metrics_log")),
	}
}

// Run logs the current worker counters
func (t *MetricsLogTask) Run(ctx context.Context) error {
	for _, m := range t.supervisor.WorkerMetrics() {
		t.log.Info("worker counters",
			slog.String("queue", m.Queue),
			slog.String("type", m.Type),
			slog.Int64("processed", m.Processed),
			slog.Int64("retried", m.Retried),
			slog.Int64("quarantined", m.Quarantined))
	}
	return nil
}

// QuarantineScanTask watches the quarantine directory and warns when a
// queue's errors file has grown since the previous scan.
type QuarantineScanTask struct {
	dir string
	log *slog.Logger

	mu        sync.Mutex
	lastSizes map[string]int64
}

// NewQuarantineScanTask creates a new quarantine scan task
func NewQuarantineScanTask(dir string, log *slog.Logger) *QuarantineScanTask {
	return &QuarantineScanTask{
		dir:       dir,
		log:       log.With(logger.Scope("scheduler.quarantine_scan")),
		lastSizes: make(map[string]int64),
	}
}

// Run scans the quarantine directory
func (t *QuarantineScanTask) Run(ctx context.Context) error {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if os.IsNotExist(err) {
			// No quarantine dir means no failures yet.
			return nil
		}
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".errors" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		size := info.Size()
		last, seen := t.lastSizes[entry.Name()]
		t.lastSizes[entry.Name()] = size

		if seen && size > last {
			t.log.Warn("quarantine file grew since last scan",
				slog.String("file", entry.Name()),
				slog.Int64("bytes", size),
				slog.Int64("grown_by", size-last))
		} else if !seen && size > 0 {
			t.log.Warn("quarantine file present",
				slog.String("file", entry.Name()),
				slog.Int64("bytes", size))
		}
	}
	return nil
}

// ActivityCleanupTask deletes activity rollups nobody has touched in a long
// time.
type ActivityCleanupTask struct {
	repo   *useractivity.Repository
	maxAge time.Duration
	log    *slog.Logger
}

// NewActivityCleanupTask creates a new activity cleanup task
func NewActivityCleanupTask(repo *useractivity.Repository, maxAge time.Duration, log *slog.Logger) *ActivityCleanupTask {
	return &ActivityCleanupTask{
		repo:   repo,
		maxAge: maxAge,
		log:    log.With(logger.Scope("scheduler.activity_cleanup")),
	}
}

// Run deletes stale rollup rows
func (t *ActivityCleanupTask) Run(ctx context.Context) error {
	start := time.Now()
	deleted, err := t.repo.DeleteStale(ctx, time.Now().Add(-t.maxAge))
	if err != nil {
		return err
	}
	if deleted > 0 {
		t.log.Info("deleted stale activity rollups",
			slog.Int64("count", deleted),
			slog.Duration("duration", time.Since(start)))
	} else {
		t.log.Debug("no stale activity rollups",
			slog.Duration("duration", time.Since(start)))
	}
	return nil
}

// ArchiveUploadTask copies quarantine files to the configured bucket.
type ArchiveUploadTask struct {
	svc *archive.Service
	dir string
	log *slog.Logger
}

// NewArchiveUploadTask creates a new archive upload task
func NewArchiveUploadTask(svc *archive.Service, dir string, log *slog.Logger) *ArchiveUploadTask {
	return &ArchiveUploadTask{
		svc: svc,
		dir: dir,
		log: log.With(logger.Scope("scheduler.archive_upload")),
	}
}

// Run uploads the current quarantine files
func (t *ArchiveUploadTask) Run(ctx context.Context) error {
	uploaded, err := t.svc.UploadQuarantineFiles(ctx, t.dir)
	if err != nil {
		return err
	}
	if uploaded > 0 {
		t.log.Info("archived quarantine files", slog.Int("count", uploaded))
	}
	return nil
}
