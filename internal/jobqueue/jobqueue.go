/*
Package jobqueue provides a River-based launcher that runs agent tasks from a
Postgres-backed queue.

Installation tokens are never written to the queue table. A job only carries
the installation id; the worker mints a fresh token when it picks the job up.

For configuration options see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/autodev/internal/agent"
	"github.com/autodev/internal/dispatch"
)

// TaskJobArgs represents the arguments for an agent task job
type TaskJobArgs struct {
	TaskID         string `json:"task_id"`
	Role           string `json:"role"`
	Repository     string `json:"repository"`
	Subject        int    `json:"subject"`
	InstallationID int64  `json:"installation_id"`
}

// Kind returns the job kind for River
func (TaskJobArgs) Kind() string {
	return "autodev_task"
}

// TaskWorker handles agent task jobs
type TaskWorker struct {
	river.WorkerDefaults[TaskJobArgs]
	creds  dispatch.CredentialSource
	runner dispatch.TaskRunner
}

// NewTaskWorker creates a worker that resolves credentials through creds and
// executes tasks with runner.
func NewTaskWorker(creds dispatch.CredentialSource, runner dispatch.TaskRunner) *TaskWorker {
	return &TaskWorker{creds: creds, runner: runner}
}

// Work runs one task. A failed role run is returned to River so the job is
// retried up to MaxAttempts.
func (w *TaskWorker) Work(ctx context.Context, job *river.Job[TaskJobArgs]) error {
	args := job.Args
	logger := log.With().
		Str("task_id", args.TaskID).
		Str("role", args.Role).
		Str("repository", args.Repository).
		Int("subject", args.Subject).
		Logger()

	role, err := agent.ParseRole(args.Role)
	if err != nil {
		// Never runnable; retrying cannot help.
		return river.JobCancel(err)
	}

	cred, err := w.creds.InstallationToken(ctx, args.InstallationID)
	if err != nil {
		logger.Error().Err(err).Msg("Could not resolve installation credential")
		return fmt.Errorf("%w: %v", dispatch.ErrAuth, err)
	}

	task := &agent.Task{
		ID:             args.TaskID,
		Role:           role,
		Repository:     args.Repository,
		SubjectNumber:  args.Subject,
		InstallationID: args.InstallationID,
		Credential:     cred.Token,
	}

	logger.Info().Msg("Processing queued task")
	res, err := w.runner.Run(ctx, task)
	if err != nil {
		logger.Error().Err(err).Msg("Task failed")
		return fmt.Errorf("%s task failed: %w", role, err)
	}
	logger.Info().Str("outcome", string(res.Outcome)).Msg("Task completed")
	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue creates a new job queue instance on an open pool. River's
// schema must already be migrated (see database.Migrate).
func NewJobQueue(pool *pgxpool.Pool, config *QueueConfig, worker *TaskWorker) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, worker)

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:      config.RiverQueueConfig(),
		Workers:     workers,
		MaxAttempts: config.MaxAttempts,
		JobTimeout:  config.JobTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// ArgsFor builds the job arguments of t. The credential is left out.
func ArgsFor(t *agent.Task) TaskJobArgs {
	return TaskJobArgs{
		TaskID:         t.ID,
		Role:           string(t.Role),
		Repository:     t.Repository,
		Subject:        t.SubjectNumber,
		InstallationID: t.InstallationID,
	}
}

// Launch implements dispatch.Launcher by queueing the task. The in-memory
// credential is discarded; the worker mints its own.
func (jq *JobQueue) Launch(ctx context.Context, t *agent.Task) error {
	t.Credential = ""
	if t.InstallationID == 0 {
		return fmt.Errorf("queue %s task: no installation id", t.Role)
	}

	res, err := jq.client.Insert(ctx, ArgsFor(t), nil)
	if err != nil {
		return fmt.Errorf("failed to queue %s task: %w", t.Role, err)
	}
	log.Info().
		Str("task_id", t.ID).
		Int64("job_id", res.Job.ID).
		Msg("Task queued")
	return nil
}

var _ dispatch.Launcher = (*JobQueue)(nil)
