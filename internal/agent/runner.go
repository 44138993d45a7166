package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/autodev/internal/codectx"
	"github.com/autodev/internal/config"
	"github.com/autodev/internal/guard"
	"github.com/autodev/internal/lease"
	"github.com/autodev/internal/llm"
	"github.com/autodev/internal/logging"
	"github.com/autodev/internal/metrics"
	"github.com/autodev/internal/secrets"
	"github.com/autodev/internal/vcs"
)

// DriverFactory builds the driver of one task.
type DriverFactory func(ctx context.Context, opts vcs.DriverOptions) (vcs.Driver, error)

// GeneratorFactory builds the model gateway of one task.
type GeneratorFactory func(ctx context.Context, opts llm.Options, log *logging.TaskLogger) (llm.Generator, error)

// Runner turns a Task into a role run with collaborators built from config.
type Runner struct {
	cfg          *config.Config
	locker       lease.Locker
	counter      guard.Counter
	scanner      *secrets.Scanner
	metrics      *metrics.Recorder
	newDriver    DriverFactory
	newGenerator GeneratorFactory
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithLocker serializes tasks on the same subject.
func WithLocker(l lease.Locker) RunnerOption {
	return func(r *Runner) { r.locker = l }
}

// WithCounter gives the iteration guard a durable counter.
func WithCounter(c guard.Counter) RunnerOption {
	return func(r *Runner) { r.counter = c }
}

// WithMetrics records task metrics.
func WithMetrics(m *metrics.Recorder) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithDriverFactory replaces the GitHub driver.
func WithDriverFactory(f DriverFactory) RunnerOption {
	return func(r *Runner) { r.newDriver = f }
}

// WithGeneratorFactory replaces the langchaingo gateway.
func WithGeneratorFactory(f GeneratorFactory) RunnerOption {
	return func(r *Runner) { r.newGenerator = f }
}

// NewRunner prepares a Runner. The secret scanner is loaded once here when
// agent.scan_secrets is on.
func NewRunner(cfg *config.Config, opts ...RunnerOption) (*Runner, error) {
	r := &Runner{
		cfg:          cfg,
		newDriver:    defaultDriver,
		newGenerator: defaultGenerator,
	}
	for _, o := range opts {
		o(r)
	}
	if r.locker == nil {
		r.locker = lease.NewMemory()
	}
	if cfg.Agent.ScanSecrets {
		s, err := secrets.NewScanner()
		if err != nil {
			return nil, err
		}
		r.scanner = s
	}
	return r, nil
}

func defaultDriver(ctx context.Context, opts vcs.DriverOptions) (vcs.Driver, error) {
	return vcs.NewGitHubDriver(ctx, opts)
}

func defaultGenerator(ctx context.Context, opts llm.Options, log *logging.TaskLogger) (llm.Generator, error) {
	g, err := llm.New(ctx, opts)
	if err != nil {
		return nil, err
	}
	return g.WithLogger(log.Logger()), nil
}

// WorkspaceDir is the fresh per-task clone directory.
func WorkspaceDir(root string, t *Task) string {
	return filepath.Join(root, filepath.FromSlash(t.Repository), fmt.Sprintf("%s-%d-%s", t.Role, t.SubjectNumber, t.ID))
}

// Run executes one task. The task credential is cleared when Run returns.
func (r *Runner) Run(ctx context.Context, t *Task) (res *Result, err error) {
	defer func() { t.Credential = "" }()

	if r.cfg.Agent.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Agent.TaskTimeout)
		defer cancel()
	}

	tl, err := logging.StartTaskLogging(r.cfg.Logging.Dir, logging.TaskInfo{
		ID:         t.ID,
		Role:       string(t.Role),
		Repository: t.Repository,
		Subject:    t.SubjectNumber,
	})
	if err != nil {
		return nil, err
	}
	defer tl.Close()

	start := time.Now()
	r.metrics.TaskStarted(string(t.Role))
	defer func() {
		outcome := OutcomeFailed
		if res != nil {
			outcome = res.Outcome
		}
		if err != nil {
			tl.LogError(string(t.Role), err)
		} else {
			tl.Log("Finished with outcome %s", outcome)
		}
		r.metrics.ObserveTask(string(t.Role), string(outcome), time.Since(start))
	}()

	driverOpts := vcs.DriverOptionsFromConfig(r.cfg, WorkspaceDir(r.cfg.Agent.WorkspaceRoot, t))
	driverOpts.Token = t.Credential
	driverOpts.Repository = t.Repository
	driverOpts.Logger = tl.Logger()
	driver, err := r.newDriver(ctx, driverOpts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := driver.Close(); cerr != nil {
			tl.Warn("Could not remove workspace: %v", cerr)
		}
	}()
	if err := driver.Authenticate(ctx); err != nil {
		return nil, err
	}

	llmOpts := llm.OptionsFromConfig(r.cfg.LLM)
	gen, err := r.newGenerator(ctx, llmOpts, tl)
	if err != nil {
		return nil, err
	}

	d := &Deps{
		Driver: driver,
		LLM:    gen,
		Model:  llmOpts.Model,
		Guard:  guard.New(r.cfg.Agent.IterationLimit, r.counter),
		Locker: r.locker,
		Context: codectx.New(codectx.Options{
			Extensions:  r.cfg.Agent.ContextExtensions,
			ExcludeDirs: r.cfg.Agent.ContextExcludeDirs,
			Limit:       r.cfg.Agent.ContextLimit,
			Gitignore:   true,
		}),
		Scanner:        r.scanner,
		Metrics:        r.metrics,
		Denylist:       r.cfg.Agent.Denylist,
		DefaultBase:    r.cfg.Agent.DefaultBase,
		StrictApproval: r.cfg.Agent.StrictApproval,
		Log:            tl,
	}
	return Dispatch(ctx, d, t)
}

// Dispatch runs the workflow of the task's role.
func Dispatch(ctx context.Context, d *Deps, t *Task) (*Result, error) {
	switch t.Role {
	case RoleCoder:
		return RunCoder(ctx, d, t)
	case RoleReviewer:
		return RunReviewer(ctx, d, t)
	case RoleFixer:
		return RunFixer(ctx, d, t)
	}
	return nil, fmt.Errorf("unknown role %q", t.Role)
}
