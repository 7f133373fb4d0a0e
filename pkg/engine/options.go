package engine

import (
	"time"

	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxConcurrentWorkflows = 10
	defaultRetryDelay             = 5 * time.Second
)

type config struct {
	maxConcurrentWorkflows int
	retryDelay             time.Duration
	cleanupSchedule        string
	cleanupMaxAge          time.Duration
	tracer                 trace.Tracer
}

// Option configures an Engine at construction time.
type Option func(*config)

// WithMaxConcurrentWorkflows bounds how many instances may be active at once.
// Starts and resumes beyond the bound fail with ErrResourceExhausted.
func WithMaxConcurrentWorkflows(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxConcurrentWorkflows = n
		}
	}
}

// WithRetryDelay sets the fixed delay between a failed attempt and its retry.
func WithRetryDelay(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// WithCleanup schedules garbage collection of terminal instances older than
// maxAge. Schedule is a cron expression ("@hourly", "0 3 * * *", ...).
func WithCleanup(schedule string, maxAge time.Duration) Option {
	return func(c *config) {
		c.cleanupSchedule = schedule
		c.cleanupMaxAge = maxAge
	}
}

// WithTracer enables a per-step-execution span on the given tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *config) {
		c.tracer = tracer
	}
}
