package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/banterhq/banter/pkg/logger"
)

// ErrorSink preserves jobs that could not be processed. Each queue gets an
// append-only file <dir>/<queue_name>.errors; one line per failure event:
//
//	<RFC3339 timestamp>\t<JSON array of job objects>\n
//
// A single job still serializes as a one-element array so every line parses
// the same way. Files are never truncated; the directory is created lazily.
type ErrorSink struct {
	dir string
	log *slog.Logger
	mu  sync.Mutex
}

// NewErrorSink returns a sink writing under dir.
func NewErrorSink(dir string, log *slog.Logger) *ErrorSink {
	return &ErrorSink{
		dir: dir,
		log: log.With(logger.Scope("queue.errors")),
	}
}

// Record appends one failure line holding the given jobs, bookkeeping keys
// included.
func (s *ErrorSink) Record(queueName string, jobs ...Job) error {
	items := make([]any, 0, len(jobs))
	for _, j := range jobs {
		fields, err := j.Fields()
		if err != nil {
			// Keep the raw text rather than lose the job.
			items = append(items, string(j.Payload))
			continue
		}
		items = append(items, fields)
	}
	return s.append(queueName, items)
}

// RecordRaw appends a line for a payload that could not be decoded at all.
// The raw text is kept as a JSON string so the line stays parseable.
func (s *ErrorSink) RecordRaw(queueName string, body []byte) error {
	return s.append(queueName, []any{string(body)})
}

// Path returns the quarantine file path for a queue.
func (s *ErrorSink) Path(queueName string) string {
	return filepath.Join(s.dir, queueName+".errors")
}

func (s *ErrorSink) append(queueName string, items []any) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode quarantine record: %w", err)
	}
	line := fmt.Sprintf("%s\t%s\n", time.Now().UTC().Format(time.RFC3339), data)

	// The whole line goes out in one O_APPEND write so concurrent workers
	// never interleave a record's bytes.
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}
	f, err := os.OpenFile(s.Path(queueName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open quarantine file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append quarantine record: %w", err)
	}

	jobsQuarantined.WithLabelValues(queueName).Add(float64(len(items)))
	s.log.Debug("quarantine record written",
		slog.String("queue", queueName),
		slog.Int("jobs", len(items)))
	return nil
}
