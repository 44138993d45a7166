package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/autodev/internal/agent"
	"github.com/autodev/internal/api"
	"github.com/autodev/internal/config"
	"github.com/autodev/internal/dispatch"
	"github.com/autodev/internal/ghapp"
	"github.com/autodev/internal/guard"
	"github.com/autodev/internal/jobqueue"
	"github.com/autodev/internal/lease"
	"github.com/autodev/internal/metrics"
)

// ServeCommand returns the CLI command for starting the webhook server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the GitHub App webhook server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Override server.addr",
			},
			&cli.StringFlag{
				Name:  "launcher",
				Usage: "Override dispatch.launcher (goroutine, exec, river)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if launcher := c.String("launcher"); launcher != "" {
		cfg.Dispatch.Launcher = launcher
	}
	if err := config.ValidateServer(cfg); err != nil {
		return cli.Exit(fmt.Sprintf("%v: %v", errConfig, err), 1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := ghapp.Load(cfg.GitHub)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(reg)

	pool, err := openDatabase(ctx, cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if pool != nil {
		defer pool.Close()
	}

	runnerOpts := []agent.RunnerOption{agent.WithMetrics(recorder)}
	if pool != nil {
		runnerOpts = append(runnerOpts,
			agent.WithCounter(guard.NewPostgresCounter(pool)),
			agent.WithLocker(lease.NewPostgres(pool)),
		)
	}
	runner, err := agent.NewRunner(cfg, runnerOpts...)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	launcher, shutdown, err := newLauncher(ctx, cfg, c.String("config"), app, runner, pool)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	log.Info().
		Int64("app_id", app.ID()).
		Str("launcher", cfg.Dispatch.Launcher).
		Bool("database", pool != nil).
		Msg("Starting autodev")

	server := api.NewServer(cfg, dispatch.New(app, launcher, recorder), reg)
	serveErr := server.Start(ctx)

	log.Info().Msg("Waiting for running tasks")
	shutdown()
	return serveErr
}

// newLauncher builds the configured launcher. The returned func waits for (or
// stops) in-flight tasks.
func newLauncher(ctx context.Context, cfg *config.Config, configPath string, app *ghapp.App, runner *agent.Runner, pool *pgxpool.Pool) (dispatch.Launcher, func(), error) {
	switch cfg.Dispatch.Launcher {
	case config.LauncherExec:
		l, err := dispatch.NewExecLauncher(cfg.Dispatch.Binary, configPath)
		if err != nil {
			return nil, nil, err
		}
		return l, l.Wait, nil

	case config.LauncherRiver:
		if pool == nil {
			return nil, nil, fmt.Errorf("%w: the river launcher requires a database", errConfig)
		}
		jq, err := jobqueue.NewJobQueue(pool, jobqueue.QueueConfigFrom(cfg), jobqueue.NewTaskWorker(app, runner))
		if err != nil {
			return nil, nil, err
		}
		if err := jq.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("start job queue: %w", err)
		}
		stop := func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := jq.Stop(stopCtx); err != nil {
				log.Warn().Err(err).Msg("Job queue did not stop cleanly")
			}
		}
		return jq, stop, nil

	default:
		l := dispatch.NewGoroutineLauncher(runner, cfg.Dispatch.MaxConcurrent, cfg.Agent.TaskTimeout)
		return l, l.Wait, nil
	}
}
