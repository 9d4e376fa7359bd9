package queue

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_processed_total",
		Help: "Jobs consumed successfully, by queue",
	}, []string{"queue"})

	jobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_retried_total",
		Help: "Jobs re-published for retry after a handler failure, by queue",
	}, []string{"queue"})

	jobsQuarantined = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_quarantined_total",
		Help: "Jobs written to the quarantine sink, by queue",
	}, []string{"queue"})

	consumeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queue_consume_duration_seconds",
		Help:    "Handler latency per consumed job or batch, by queue",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})
)

// WorkerMetrics is a point-in-time snapshot of one worker's counters, served
// by the ops API alongside the prometheus series.
type WorkerMetrics struct {
	Queue       string `json:"queue"`
	Type        string `json:"type,omitempty"`
	Processed   int64  `json:"processed"`
	Retried     int64  `json:"retried"`
	Quarantined int64  `json:"quarantined"`
}

// counters holds a worker's local tallies behind a mutex.
type counters struct {
	mu          sync.RWMutex
	processed   int64
	retried     int64
	quarantined int64
}

func (c *counters) bumpProcessed(n int) {
	c.mu.Lock()
	c.processed += int64(n)
	c.mu.Unlock()
}

func (c *counters) bumpRetried(n int) {
	c.mu.Lock()
	c.retried += int64(n)
	c.mu.Unlock()
}

func (c *counters) bumpQuarantined(n int) {
	c.mu.Lock()
	c.quarantined += int64(n)
	c.mu.Unlock()
}

func (c *counters) snapshot(queue string, typ WorkerType) WorkerMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return WorkerMetrics{
		Queue:       queue,
		Type:        string(typ),
		Processed:   c.processed,
		Retried:     c.retried,
		Quarantined: c.quarantined,
	}
}
