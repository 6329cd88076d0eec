package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rouhapp/coordination/pkg/cmd"
	"github.com/rouhapp/coordination/pkg/effects"
	"github.com/rouhapp/coordination/pkg/log"
	"github.com/rouhapp/coordination/pkg/services"
	cli "github.com/urfave/cli/v3"
)

func main() {
	logger := log.WithModule("sweeper")

	command := &cli.Command{
		Name:                  "coordination-sweeper",
		Usage:                 "Poll active runs for state timeouts and stale access links",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression for the sweep cycle",
				Value:   "@every 1m",
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "link-inactivity-threshold",
				Usage:   "Rotate access links for participants inactive this long",
				Value:   30 * 24 * time.Hour,
				Sources: cli.EnvVars("LINK_INACTIVITY_THRESHOLD"),
			},
			&cli.StringFlag{
				Name:    "link-base-url",
				Usage:   "Base URL embedded in refreshed access links",
				Value:   "http://localhost:9091",
				Sources: cli.EnvVars("LINK_BASE_URL"),
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

			logger.InfoContext(ctx, "Initializing coordination sweeper")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			templateService := services.NewTemplate(persistence, nil)
			dispatcher := effects.NewDispatcher(logger, effects.NewLogExecutor(logger))
			runService := services.NewRun(persistence, templateService, eventBus, dispatcher, logger, command.String("link-base-url"))

			sweeper := NewSweeper(logger, runService, command.Duration("link-inactivity-threshold"))

			if err := sweeper.Start(ctx, command.String("schedule")); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop

			sweeper.Stop()
			logger.InfoContext(ctx, "Sweeper stopped")

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
