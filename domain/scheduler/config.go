package scheduler

import (
	"os"
	"strconv"
	"time"
)

// Config holds scheduler configuration
type Config struct {
	// Enabled controls whether the scheduler runs
	Enabled bool

	// MetricsLogInterval is the interval for logging worker counter snapshots
	MetricsLogInterval time.Duration

	// QuarantineScanInterval is the interval for scanning the quarantine
	// directory for growth
	QuarantineScanInterval time.Duration

	// ActivityCleanupInterval is the interval for deleting stale activity
	// rollup rows
	ActivityCleanupInterval time.Duration

	// ActivityMaxAgeDays is how old an activity rollup's last visit can be
	// before cleanup removes it
	ActivityMaxAgeDays int

	// Cron schedule overrides (take precedence over intervals when set)
	// Cron format with seconds: "second minute hour day-of-month month day-of-week"
	MetricsLogSchedule      string
	QuarantineScanSchedule  string
	ActivityCleanupSchedule string
}

// NewConfig creates a new Config from environment variables
func NewConfig() *Config {
	return &Config{
		Enabled:                 getEnvBool("SCHEDULER_ENABLED", true),
		MetricsLogInterval:      getEnvDuration("METRICS_LOG_INTERVAL_MS", 5*time.Minute),
		QuarantineScanInterval:  getEnvDuration("QUARANTINE_SCAN_INTERVAL_MS", 10*time.Minute),
		ActivityCleanupInterval: getEnvDuration("ACTIVITY_CLEANUP_INTERVAL_MS", 6*time.Hour),
		ActivityMaxAgeDays:      getEnvInt("ACTIVITY_MAX_AGE_DAYS", 90),
		// Cron schedule overrides (empty string means use interval)
		MetricsLogSchedule:      getEnvString("METRICS_LOG_SCHEDULE", ""),
		QuarantineScanSchedule:  getEnvString("QUARANTINE_SCAN_SCHEDULE", ""),
		ActivityCleanupSchedule: getEnvString("ACTIVITY_CLEANUP_SCHEDULE", ""),
	}
}

// ActivityMaxAge returns the cleanup threshold as a Duration
func (c *Config) ActivityMaxAge() time.Duration {
	return time.Duration(c.ActivityMaxAgeDays) * 24 * time.Hour
}

// getEnvBool returns a boolean from an environment variable
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvInt returns an integer from an environment variable
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvDuration returns a duration from an environment variable (in milliseconds)
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

// getEnvString returns a string from an environment variable
func getEnvString(key string, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
