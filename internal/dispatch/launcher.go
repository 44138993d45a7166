package dispatch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autodev/internal/agent"
	"github.com/autodev/internal/config"
)

// Launcher starts a task without waiting for it to finish. A failing or
// panicking task must not reach the caller.
type Launcher interface {
	Launch(ctx context.Context, t *agent.Task) error
}

// TaskRunner executes one task to completion. *agent.Runner implements it.
type TaskRunner interface {
	Run(ctx context.Context, t *agent.Task) (*agent.Result, error)
}

// GoroutineLauncher runs each task in its own goroutine, at most limit at a
// time. Tasks over the limit wait for a slot inside their goroutine so Launch
// never blocks the webhook response.
type GoroutineLauncher struct {
	runner  TaskRunner
	sem     chan struct{}
	timeout time.Duration
	logger  zerolog.Logger
	wg      sync.WaitGroup

	// done is called after every task; tests use it to observe results.
	done func(t *agent.Task, res *agent.Result, err error)
}

// NewGoroutineLauncher creates a launcher. limit <= 0 means unbounded.
func NewGoroutineLauncher(runner TaskRunner, limit int, timeout time.Duration) *GoroutineLauncher {
	l := &GoroutineLauncher{
		runner:  runner,
		timeout: timeout,
		logger:  log.With().Str("component", "launcher").Logger(),
	}
	if limit > 0 {
		l.sem = make(chan struct{}, limit)
	}
	return l
}

// Launch implements Launcher. The task context is detached from ctx so it
// outlives the webhook request.
func (l *GoroutineLauncher) Launch(ctx context.Context, t *agent.Task) error {
	taskCtx := context.WithoutCancel(ctx)
	l.wg.Add(1)
	go l.run(taskCtx, t)
	return nil
}

func (l *GoroutineLauncher) run(ctx context.Context, t *agent.Task) {
	defer l.wg.Done()

	if l.sem != nil {
		l.sem <- struct{}{}
		defer func() { <-l.sem }()
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	var (
		res *agent.Result
		err error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			l.logger.Error().
				Str("task_id", t.ID).
				Str("stack", string(debug.Stack())).
				Msgf("Recovered from panic in %s task", t.Role)
		}
		l.finish(t, res, err)
	}()

	res, err = l.runner.Run(ctx, t)
}

func (l *GoroutineLauncher) finish(t *agent.Task, res *agent.Result, err error) {
	ev := l.logger.Info()
	if err != nil {
		ev = l.logger.Error().Err(err)
	}
	ev = ev.Str("task_id", t.ID).
		Str("role", string(t.Role)).
		Str("repository", t.Repository).
		Int("subject", t.SubjectNumber)
	if res != nil {
		ev = ev.Str("outcome", string(res.Outcome))
	}
	ev.Msg("Task finished")

	if l.done != nil {
		l.done(t, res, err)
	}
}

// Wait blocks until every launched task has returned.
func (l *GoroutineLauncher) Wait() {
	l.wg.Wait()
}

// ExecLauncher runs each task as a child process of the autodev binary. The
// installation token reaches the child only through its environment.
type ExecLauncher struct {
	binary     string
	configPath string
	logger     zerolog.Logger
	wg         sync.WaitGroup
}

// NewExecLauncher uses binary, or the running executable when binary is empty.
func NewExecLauncher(binary, configPath string) (*ExecLauncher, error) {
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		binary = self
	}
	return &ExecLauncher{
		binary:     binary,
		configPath: configPath,
		logger:     log.With().Str("component", "exec-launcher").Logger(),
	}, nil
}

// Args is the command line of the child for t.
func (l *ExecLauncher) Args(t *agent.Task) []string {
	var args []string
	if l.configPath != "" {
		args = append(args, "--config", l.configPath)
	}
	args = append(args, string(t.Role))
	flag := "--pr"
	if t.Role == agent.RoleCoder {
		flag = "--issue"
	}
	return append(args, flag, strconv.Itoa(t.SubjectNumber))
}

// Env is the child environment: the parent's plus the task's repository and
// token, which override any inherited value.
func (l *ExecLauncher) Env(t *agent.Task) []string {
	return append(os.Environ(),
		config.EnvPrefix+"GITHUB__TOKEN="+t.Credential.Value(),
		config.EnvPrefix+"GITHUB__REPOSITORY="+t.Repository,
	)
}

// Launch implements Launcher.
func (l *ExecLauncher) Launch(ctx context.Context, t *agent.Task) error {
	cmd := exec.Command(l.binary, l.Args(t)...)
	cmd.Env = l.Env(t)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	t.Credential = ""

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s task: %w", t.Role, err)
	}
	l.logger.Info().
		Str("task_id", t.ID).
		Str("role", string(t.Role)).
		Int("pid", cmd.Process.Pid).
		Msg("Task process started")

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		err := cmd.Wait()
		ev := l.logger.Info()
		if err != nil {
			ev = l.logger.Warn().Err(err)
		}
		ev.Str("task_id", t.ID).
			Int("exit_code", cmd.ProcessState.ExitCode()).
			Msg("Task process exited")
	}()
	return nil
}

// Wait blocks until every child process has exited.
func (l *ExecLauncher) Wait() {
	l.wg.Wait()
}
