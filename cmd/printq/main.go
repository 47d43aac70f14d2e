// Command printq administers printers and relays the print job outbox.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/stickerlandia/printq/config"
	"github.com/urfave/cli/v3"
)

func main() {
	cfg := config.Load()
	out := os.Stdout

	cmd := &cli.Command{
		Name:    "printq",
		Usage:   "Sticker print queue",
		Version: "1.0.0",
		Commands: []*cli.Command{
			{
				Name:  "outbox",
				Usage: "Relay pending outbox events to the configured publisher",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runOutbox(ctx, cfg)
				},
			},
			{
				Name:  "migrate",
				Usage: "Run Postgres migrations",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runMigrations(cfg)
				},
			},
			{
				Name:  "init-tables",
				Usage: "Create the DynamoDB tables when missing",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runInitTables(ctx, cfg, out)
				},
			},
			{
				Name:  "purge",
				Usage: "Delete expired items from a Postgres store",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runPurge(ctx, cfg, out)
				},
			},
			{
				Name:  "register-printer",
				Usage: "Register a printer and print its API key",
				Flags: []cli.Flag{eventFlag(), nameFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runRegisterPrinter(ctx, cfg, out, cmd.String("event"), cmd.String("name"))
				},
			},
			{
				Name:  "delete-printer",
				Usage: "Delete a printer and its jobs",
				Flags: []cli.Flag{eventFlag(), nameFlag(), forceFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runDeletePrinter(ctx, cfg, out, cmd.String("event"), cmd.String("name"), cmd.Bool("force"))
				},
			},
			{
				Name:  "delete-event",
				Usage: "Delete every printer of an event",
				Flags: []cli.Flag{eventFlag(), forceFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runDeleteEvent(ctx, cfg, out, cmd.String("event"), cmd.Bool("force"))
				},
			},
			{
				Name:  "printers",
				Usage: "Show the printers of an event with their status",
				Flags: []cli.Flag{eventFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runPrinters(ctx, cfg, out, cmd.String("event"))
				},
			},
			{
				Name:  "events",
				Usage: "List the events having printers",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runEvents(ctx, cfg, out)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func eventFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "event",
		Aliases:  []string{"e"},
		Required: true,
		Usage:    "Event name",
	}
}

func nameFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "name",
		Aliases:  []string{"n"},
		Required: true,
		Usage:    "Printer name",
	}
}

func forceFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "force",
		Usage: "Delete even when jobs are being printed",
	}
}
