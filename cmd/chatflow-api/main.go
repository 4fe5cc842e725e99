// Package main provides the chatflow API server and its maintenance commands.
package main

import (
	"context"
	"os"

	"github.com/dukex/chatflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	logger := log.WithModule("api")

	cmd := &cli.Command{
		Name:                  "chatflow-api",
		Usage:                 "Run conversational flows over web chat, Telegram and WhatsApp",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			RunAPICommand(),
			FlowsCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func databaseURLFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "database-url",
		Usage:    "Database connection URL for persistence (file://<dir> or postgres://...)",
		Required: true,
		Sources:  cli.EnvVars("DATABASE_URL"),
	}
}

func logLevelFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error)",
		Value:   "info",
		Sources: cli.EnvVars("LOG_LEVEL"),
	}
}

func logFormatFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "log-format",
		Usage:   "Log format (text, json)",
		Value:   "text",
		Sources: cli.EnvVars("LOG_FORMAT"),
	}
}
