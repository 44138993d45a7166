package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/autodev/internal/agent"
	"github.com/autodev/internal/config"
	"github.com/autodev/internal/database"
	"github.com/autodev/internal/guard"
	"github.com/autodev/internal/lease"
)

// CoderCommand returns the coder command
func CoderCommand() *cli.Command {
	return roleCommand(agent.RoleCoder, "issue", "Implement an issue and open a pull request")
}

// ReviewerCommand returns the reviewer command
func ReviewerCommand() *cli.Command {
	return roleCommand(agent.RoleReviewer, "pr", "Review a pull request and post the verdict")
}

// FixerCommand returns the fixer command
func FixerCommand() *cli.Command {
	return roleCommand(agent.RoleFixer, "pr", "Apply the latest review feedback to a pull request")
}

func roleCommand(role agent.Role, subject, usage string) *cli.Command {
	return &cli.Command{
		Name:  string(role),
		Usage: usage,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:     subject,
				Usage:    fmt.Sprintf("%s number to work on", strings.ToUpper(subject)),
				Required: true,
			},
			&cli.StringFlag{
				Name:    "repo",
				Aliases: []string{"r"},
				Usage:   "Override github.repository (owner/name)",
			},
		},
		Action: func(c *cli.Context) error {
			return runRole(c, role, c.Int(subject))
		},
	}
}

func runRole(c *cli.Context, role agent.Role, subject int) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if repo := c.String("repo"); repo != "" {
		cfg.GitHub.Repository = repo
	}
	if subject <= 0 {
		return cli.Exit(fmt.Sprintf("%v: subject number must be positive", errConfig), 1)
	}
	if err := config.ValidateRole(cfg); err != nil {
		return cli.Exit(fmt.Sprintf("%v: %v", errConfig, err), 1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, closeDB, err := durableOptions(ctx, cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer closeDB()

	runner, err := agent.NewRunner(cfg, opts...)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	task := agent.NewTask(role, cfg.GitHub.Repository, subject, cfg.GitHub.Token)
	res, err := runner.Run(ctx, task)
	if err != nil {
		return cli.Exit(fmt.Sprintf("%s failed: %v", role, err), 1)
	}

	printResult(role, res)
	if code := agent.ExitCode(res.Outcome); code != 0 {
		return cli.Exit(fmt.Sprintf("%s finished: %s", role, res.Outcome), code)
	}
	return nil
}

// durableOptions wires the Postgres counter and lease when a database is
// configured. The returned func closes the pool.
func durableOptions(ctx context.Context, cfg *config.Config) ([]agent.RunnerOption, func(), error) {
	pool, err := openDatabase(ctx, cfg)
	if err != nil || pool == nil {
		return nil, func() {}, err
	}
	return []agent.RunnerOption{
		agent.WithCounter(guard.NewPostgresCounter(pool)),
		agent.WithLocker(lease.NewPostgres(pool)),
	}, pool.Close, nil
}

// openDatabase opens and migrates the database, or returns a nil pool when
// none is configured.
func openDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	url, err := database.ResolveURL(cfg.Database.URL.Value())
	if errors.Is(err, database.ErrNoDatabase) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	pool, err := database.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	log.Debug().Msg("Database ready")
	return pool, nil
}

func printResult(role agent.Role, res *agent.Result) {
	fmt.Printf("%s outcome: %s\n", role, res.Outcome)
	for _, p := range res.Written {
		fmt.Printf("  wrote   %s\n", p)
	}
	for _, p := range res.Skipped {
		fmt.Printf("  skipped %s\n", p)
	}
	if res.PullRequest != "" {
		fmt.Printf("  pull request: %s\n", res.PullRequest)
	}
	if res.CommentURL != "" {
		fmt.Printf("  comment: %s\n", res.CommentURL)
	}
}
