package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/autodev/internal/config"
	"github.com/autodev/internal/guard"
)

// CyclesCommand inspects and resets the durable review cycle counter.
func CyclesCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "repo",
			Aliases:  []string{"r"},
			Usage:    "Repository in owner/name form",
			Required: true,
		},
		&cli.IntFlag{
			Name:     "pr",
			Usage:    "Pull request number",
			Required: true,
		},
	}
	return &cli.Command{
		Name:  "cycles",
		Usage: "Inspect or reset stored review cycle counts",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the stored review cycle count of a pull request",
				Flags:  flags,
				Action: withCounter(showCycles),
			},
			{
				Name:   "reset",
				Usage:  "Start counting review cycles afresh so the fixer may run again",
				Flags:  flags,
				Action: withCounter(resetCycles),
			},
		},
	}
}

func withCounter(fn func(ctx context.Context, c *cli.Context, counter *guard.PostgresCounter) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		if err := config.ValidateRepository(c.String("repo")); err != nil {
			return cli.Exit(err.Error(), 1)
		}

		ctx := c.Context
		pool, err := openDatabase(ctx, cfg)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		if pool == nil {
			return cli.Exit(fmt.Sprintf("%v: database.url is not set", errConfig), 1)
		}
		defer pool.Close()

		return fn(ctx, c, guard.NewPostgresCounter(pool))
	}
}

func showCycles(ctx context.Context, c *cli.Context, counter *guard.PostgresCounter) error {
	tally, err := counter.Load(ctx, c.String("repo"), c.Int("pr"))
	if err != nil {
		return err
	}
	fmt.Printf("%s#%d: %d review cycle(s)", c.String("repo"), c.Int("pr"), tally.Cycles)
	if !tally.ResetAt.IsZero() {
		fmt.Printf(", comments before %s ignored", tally.ResetAt.Format(time.RFC3339))
	}
	fmt.Println()
	return nil
}

func resetCycles(ctx context.Context, c *cli.Context, counter *guard.PostgresCounter) error {
	if err := counter.Reset(ctx, c.String("repo"), c.Int("pr")); err != nil {
		return err
	}
	fmt.Printf("%s#%d: review cycles reset\n", c.String("repo"), c.Int("pr"))
	return nil
}
