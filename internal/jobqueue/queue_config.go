/*
Package jobqueue configuration for the River task queue.

Tuning notes:
  - MaxWorkers bounds how many agent tasks run at once in this process. Each
    task holds a clone on disk and at most one model request in flight.
  - MaxAttempts counts the first run. Role workflows tolerate a rerun (an
    existing pull request is accepted, a clean tree pushes nothing), but a
    rerun reviewer posts a second comment, so keep this low.
  - JobTimeout should be at least agent.task_timeout; the runner enforces the
    task timeout itself.
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"

	"github.com/autodev/internal/config"
)

// QueueConfig holds all configurable parameters for the task queue
type QueueConfig struct {
	MaxWorkers  int
	MaxAttempts int
	JobTimeout  time.Duration
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:  4,
		MaxAttempts: 3,
		JobTimeout:  30 * time.Minute,
	}
}

// QueueConfigFrom derives the queue settings from the dispatch and agent
// sections.
func QueueConfigFrom(cfg *config.Config) *QueueConfig {
	qc := DefaultQueueConfig()
	if cfg.Dispatch.MaxConcurrent > 0 {
		qc.MaxWorkers = cfg.Dispatch.MaxConcurrent
	}
	if cfg.Agent.TaskTimeout > 0 {
		// Leave room for clone cleanup and the final log lines.
		qc.JobTimeout = cfg.Agent.TaskTimeout + time.Minute
	}
	return qc
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
