package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stickerlandia/printq/commands"
	"github.com/stickerlandia/printq/config"
	"github.com/stickerlandia/printq/metrics"
	"github.com/stickerlandia/printq/metrics/tally"
	"github.com/stickerlandia/printq/outbox"
	"github.com/stickerlandia/printq/store/dynamodb"
	"golang.org/x/sync/errgroup"
)

const migrationsPath = "file://sql/postgres"

// runOutbox relays pending outbox items until SIGINT/SIGTERM, exposing the
// processor counters on the metrics endpoint.
func runOutbox(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	pub, err := a.publisher(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	var processed, failed metrics.Counter = &metrics.NopCounter{}, &metrics.NopCounter{}
	if cfg.MetricsEnabled {
		scope := tally.NewPrometheusScope("printq", time.Second)
		a.onClose(scope.Close)
		processed = scope.Counter("outbox_processed")
		failed = scope.Counter("outbox_failed")

		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: scope.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			a.logger.Info(fmt.Sprintf("metrics listening on %s", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	p := outbox.NewProcessor(outbox.Settings{
		PollingInterval:  cfg.OutboxPollingInterval,
		MaxItemsPerCycle: cfg.OutboxBatchSize,
	}, a.outbox(), pub,
		outbox.WithLogger(a.logger.With("processor")),
		outbox.WithOnSuccessCounter(processed),
		outbox.WithOnErrorCounter(failed),
		outbox.WithRateLimit(cfg.OutboxMaxPublishRate),
	)
	g.Go(func() error {
		return p.Run(gctx)
	})
	return g.Wait()
}

// runMigrations applies the pending Postgres migrations.
func runMigrations(cfg *config.Config) error {
	log := newLogger(cfg)
	log.Info("running database migrations")

	m, err := migrate.New(migrationsPath, cfg.DBConnectionString)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err := errors.Join(srcErr, dbErr); err != nil {
			log.Error("closing migrate instance", err)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("migrations completed successfully")
	return nil
}

// runInitTables creates the DynamoDB tables when they are missing.
func runInitTables(ctx context.Context, cfg *config.Config, out io.Writer) error {
	client, err := dynamodb.NewClient(ctx, dynamodb.ClientSettings{
		Region:   cfg.AWSRegion,
		Endpoint: cfg.AWSEndpoint,
	})
	if err != nil {
		return err
	}
	for _, table := range []string{cfg.PrinterTableName, cfg.PrintJobTableName} {
		created, err := dynamodb.EnsureTable(ctx, client, table)
		if err != nil {
			return err
		}
		state := "exists"
		if created {
			state = "created"
		}
		fmt.Fprintf(out, "%s\t%s\n", table, state)
	}
	return nil
}

type purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// runPurge deletes expired items on stores without native TTL support.
func runPurge(ctx context.Context, cfg *config.Config, out io.Writer) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	p, ok := a.store.(purger)
	if !ok {
		return fmt.Errorf("store %q expires items by itself", cfg.StoreDriver)
	}
	n, err := p.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d expired items purged\n", n)
	return nil
}

func runRegisterPrinter(ctx context.Context, cfg *config.Config, out io.Writer, event, name string) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	p, err := a.handlers().RegisterPrinter(ctx, event, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Printer ID: %s\nAPI key:    %s\n", p.ID, p.Key)
	return nil
}

func runDeletePrinter(ctx context.Context, cfg *config.Config, out io.Writer, event, name string, force bool) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	n, err := a.handlers().DeletePrinter(ctx, event, name, force)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "printer deleted, %d jobs removed\n", n)
	return nil
}

func runDeleteEvent(ctx context.Context, cfg *config.Config, out io.Writer, event string, force bool) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	n, err := a.handlers().DeleteEvent(ctx, event, force)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d printers deleted\n", n)
	return nil
}

func runPrinters(ctx context.Context, cfg *config.Config, out io.Writer, event string) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	statuses, err := a.handlers().GetPrinterStatuses(ctx, event)
	if err != nil {
		return err
	}
	return writeStatuses(out, statuses)
}

func runEvents(ctx context.Context, cfg *config.Config, out io.Writer) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	events, err := a.handlers().ListEvents(ctx)
	if err != nil {
		return err
	}
	for _, e := range events {
		fmt.Fprintln(out, e)
	}
	return nil
}

func writeStatuses(out io.Writer, statuses []commands.PrinterStatus) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tACTIVE JOBS\tLAST HEARTBEAT\tLAST JOB")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			s.PrinterID, s.PrinterName, s.Status, s.ActiveJobs,
			formatOptional(s.LastHeartbeat), formatOptional(s.LastJobProcessed))
	}
	return w.Flush()
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
