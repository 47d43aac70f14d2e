package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/stickerlandia/printq/domain"
	"golang.org/x/sync/errgroup"
)

// PrinterStatus is the dashboard view of a printer.
type PrinterStatus struct {
	PrinterID        string
	EventName        string
	PrinterName      string
	Status           domain.PrinterStatus
	LastHeartbeat    *time.Time
	LastJobProcessed *time.Time
	ActiveJobs       int
}

// DeleteEvent deletes every printer of an event with their jobs. Unless
// force is set, all printers are checked before any is deleted.
func (h *Handlers) DeleteEvent(ctx context.Context, eventName string, force bool) (int, error) {
	printers, err := h.registry.ListForEvent(ctx, eventName)
	if err != nil {
		return 0, err
	}
	if len(printers) == 0 {
		return 0, fmt.Errorf("%w: no printers for event %s", domain.ErrPrinterNotFound, eventName)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelChecks)
	for _, p := range printers {
		g.Go(func() error {
			return h.checkDeletable(gctx, p, force)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	for _, p := range printers {
		if _, err := h.deletePrinter(ctx, p); err != nil {
			return 0, fmt.Errorf("deleting printer %s: %w", p.ID, err)
		}
	}
	h.logger.Info(fmt.Sprintf("event %s deleted with %d printers", eventName, len(printers)))
	return len(printers), nil
}

// GetPrinterStatuses returns the status of every printer of an event.
func (h *Handlers) GetPrinterStatuses(ctx context.Context, eventName string) ([]PrinterStatus, error) {
	printers, err := h.registry.ListForEvent(ctx, eventName)
	if err != nil {
		return nil, err
	}
	statuses := make([]PrinterStatus, len(printers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelChecks)
	for i, p := range printers {
		g.Go(func() error {
			active, err := h.queue.CountActiveJobs(gctx, p.ID)
			if err != nil {
				return err
			}
			statuses[i] = PrinterStatus{
				PrinterID:        p.ID,
				EventName:        p.EventName,
				PrinterName:      p.PrinterName,
				Status:           h.registry.Status(p),
				LastHeartbeat:    p.LastHeartbeat,
				LastJobProcessed: p.LastJobProcessed,
				ActiveJobs:       active,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return statuses, nil
}

// ListEvents returns the names of the events having printers.
func (h *Handlers) ListEvents(ctx context.Context) ([]string, error) {
	return h.registry.ListEvents(ctx)
}
