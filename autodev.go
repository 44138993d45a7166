package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/autodev/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "autodev",
		Usage:   "GitHub App that codes, reviews and fixes pull requests with an LLM",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (default: ./autodev.toml, then ~/.autodev.toml)",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from `FILE` before reading configuration",
				Value: ".env",
			},
		},
		Before: func(c *cli.Context) error {
			path := c.String("env-file")
			if _, err := os.Stat(path); err != nil {
				if c.IsSet("env-file") {
					return fmt.Errorf("env file: %w", err)
				}
				return nil
			}
			return cmd.LoadEnvFile(path)
		},
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.CoderCommand(),
			cmd.ReviewerCommand(),
			cmd.FixerCommand(),
			cmd.CyclesCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
