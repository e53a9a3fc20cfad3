package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kiln/internal/logger"
	"github.com/samcharles93/kiln/internal/version"
)

func main() {
	app := &cli.Command{
		Name:    "kiln",
		Usage:   "Train and sample small decoder-only language models",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug, info, warn, error)",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (auto, text, json, pretty)",
				Value: "auto",
			},
		},
		// Running kiln without a subcommand trains with the defaults.
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runTrain(ctx, cmd, defaultTrainOptions())
		},
		Commands: []*cli.Command{
			trainCmd(),
			generateCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the logger from the root logging flags.
func newLogger(cmd *cli.Command) logger.Logger {
	level := logger.ParseLevel(cmd.String("log-level"))
	switch cmd.String("log-format") {
	case "text":
		return logger.Text(os.Stderr, level)
	case "json":
		return logger.JSON(os.Stderr, level)
	case "pretty":
		return logger.Pretty(os.Stderr, level)
	default:
		return logger.Auto(os.Stderr, level)
	}
}
