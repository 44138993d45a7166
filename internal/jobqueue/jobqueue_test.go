package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autodev/internal/agent"
	"github.com/autodev/internal/config"
	"github.com/autodev/internal/dispatch"
	"github.com/autodev/internal/ghapp"
)

type stubCreds struct {
	err error
}

func (s stubCreds) InstallationToken(_ context.Context, id int64) (*ghapp.Credential, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &ghapp.Credential{Token: "ghs_fresh", InstallationID: id, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type stubRunner struct {
	err  error
	seen []agent.Task
}

func (s *stubRunner) Run(_ context.Context, t *agent.Task) (*agent.Result, error) {
	s.seen = append(s.seen, *t)
	if s.err != nil {
		return nil, s.err
	}
	return &agent.Result{Outcome: agent.OutcomeApproved}, nil
}

func TestArgsForDropsCredential(t *testing.T) {
	task := agent.NewTask(agent.RoleReviewer, "octo/repo", 7, "ghs_secret")
	task.InstallationID = 42

	args := ArgsFor(task)
	assert.Equal(t, TaskJobArgs{
		TaskID:         task.ID,
		Role:           "reviewer",
		Repository:     "octo/repo",
		Subject:        7,
		InstallationID: 42,
	}, args)
	assert.Equal(t, "autodev_task", args.Kind())
}

func TestWorkerMintsCredentialAndRuns(t *testing.T) {
	runner := &stubRunner{}
	w := NewTaskWorker(stubCreds{}, runner)

	err := w.Work(context.Background(), &river.Job[TaskJobArgs]{Args: TaskJobArgs{
		TaskID: "t-1", Role: "fixer", Repository: "octo/repo", Subject: 7, InstallationID: 42,
	}})
	require.NoError(t, err)

	require.Len(t, runner.seen, 1)
	got := runner.seen[0]
	assert.Equal(t, "t-1", got.ID)
	assert.Equal(t, agent.RoleFixer, got.Role)
	assert.Equal(t, 7, got.SubjectNumber)
	assert.Equal(t, "ghs_fresh", got.Credential.Value())
}

func TestWorkerAuthFailure(t *testing.T) {
	runner := &stubRunner{}
	w := NewTaskWorker(stubCreds{err: ghapp.ErrAuth}, runner)

	err := w.Work(context.Background(), &river.Job[TaskJobArgs]{Args: TaskJobArgs{Role: "coder", InstallationID: 42}})
	require.ErrorIs(t, err, dispatch.ErrAuth)
	assert.Empty(t, runner.seen)
}

func TestWorkerPropagatesTaskFailure(t *testing.T) {
	w := NewTaskWorker(stubCreds{}, &stubRunner{err: errors.New("push rejected")})

	err := w.Work(context.Background(), &river.Job[TaskJobArgs]{Args: TaskJobArgs{Role: "coder", InstallationID: 42}})
	require.ErrorContains(t, err, "push rejected")
}

func TestWorkerCancelsUnknownRole(t *testing.T) {
	runner := &stubRunner{}
	w := NewTaskWorker(stubCreds{}, runner)

	err := w.Work(context.Background(), &river.Job[TaskJobArgs]{Args: TaskJobArgs{Role: "deployer"}})
	require.Error(t, err)
	assert.Empty(t, runner.seen)
}

func TestQueueConfigFrom(t *testing.T) {
	cfg := &config.Config{}
	cfg.Dispatch.MaxConcurrent = 8
	cfg.Agent.TaskTimeout = 20 * time.Minute

	qc := QueueConfigFrom(cfg)
	assert.Equal(t, 8, qc.MaxWorkers)
	assert.Equal(t, 21*time.Minute, qc.JobTimeout)
	assert.Equal(t, 3, qc.MaxAttempts)
	assert.Equal(t, 8, qc.RiverQueueConfig()[river.QueueDefault].MaxWorkers)
}
