package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/asseto/signoff/pkg/cmd"
	"github.com/asseto/signoff/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "signoff-notifier",
		Usage:                 "Start the Signoff notification service",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus provider (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the role directory (empty for in-memory)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("notifier")

			logger.InfoContext(ctx, "Initializing Signoff Notifier")

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			directory := cmd.NewRoleDirectory(command.String("redis-url"))

			service := NewService(logger, directory, eventBus)
			service.Start(ctx)

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
