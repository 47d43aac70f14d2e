// Package commands implements the printer and print job use cases. Every
// command owns its write transaction: it buffers the aggregate writes and
// their outbox events and commits them exactly once.
package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/stickerlandia/printq/clock"
	"github.com/stickerlandia/printq/domain"
	"github.com/stickerlandia/printq/logger"
	"github.com/stickerlandia/printq/outbox"
	"github.com/stickerlandia/printq/queue"
	"github.com/stickerlandia/printq/registry"
	"github.com/stickerlandia/printq/store"
)

const (
	DefaultJobsPerPoll = 1
	MaxJobsPerPoll     = 10
	maxParallelChecks  = 8
)

type Handlers struct {
	store    store.Store
	registry *registry.Registry
	queue    *queue.Queue
	outbox   *outbox.Outbox
	clock    clock.Clock
	logger   logger.Logger
}

// opt allows optional configuration.
type opt func(h *Handlers)

// WithLogger allows clients to configure an optional logger.
func WithLogger(l logger.Logger) opt {
	return func(h *Handlers) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithClock replaces the wall clock used by job transitions.
func WithClock(c clock.Clock) opt {
	return func(h *Handlers) {
		if c != nil {
			h.clock = c
		}
	}
}

func New(s store.Store, r *registry.Registry, q *queue.Queue, o *outbox.Outbox, options ...opt) *Handlers {
	if s == nil || r == nil || q == nil || o == nil {
		panic("store, registry, queue and outbox are mandatory")
	}
	h := &Handlers{
		store:    s,
		registry: r,
		queue:    q,
		outbox:   o,
		clock:    clock.RealClock{},
		logger:   &logger.NopLogger{},
	}
	for _, op := range options {
		op(h)
	}
	return h
}

func (h *Handlers) begin() *store.WriteTransaction {
	return store.NewWriteTransaction(h.store, store.WithTxLogger(h.logger))
}

// finish discards whatever the command left uncommitted, flagging it as
// expected when the command failed.
func finish(tx *store.WriteTransaction, err *error) {
	if *err != nil {
		tx.MarkFaulted()
	}
	tx.Close()
}

// RegisterPrinter registers a printer and records PrinterRegisteredEvent.
// The returned printer carries the API key, which is only visible here.
func (h *Handlers) RegisterPrinter(ctx context.Context, eventName, printerName string) (p *domain.Printer, err error) {
	tx := h.begin()
	defer finish(tx, &err)

	p, err = h.registry.Register(ctx, tx, eventName, printerName)
	if err != nil {
		return nil, err
	}
	if err = h.outbox.StoreEvents(ctx, tx, p.Events()); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPrinterExists, p.ID)
		}
		return nil, err
	}
	p.ClearEvents()
	h.logger.Info(fmt.Sprintf("printer %s registered", p.ID))
	return p, nil
}

// DeletePrinter removes a printer and all its jobs. Printers with jobs in
// processing are only deleted when force is set.
func (h *Handlers) DeletePrinter(ctx context.Context, eventName, printerName string, force bool) (int, error) {
	p, err := h.registry.FindByEventAndName(ctx, eventName, printerName)
	if err != nil {
		return 0, err
	}
	if err := h.checkDeletable(ctx, p, force); err != nil {
		return 0, err
	}
	return h.deletePrinter(ctx, p)
}

func (h *Handlers) checkDeletable(ctx context.Context, p *domain.Printer, force bool) error {
	if force {
		return nil
	}
	busy, err := h.queue.HasJobsInStatus(ctx, p.ID, domain.PrintJobProcessing)
	if err != nil {
		return err
	}
	if busy {
		return fmt.Errorf("%w: %s", domain.ErrPrinterHasActiveJobs, p.ID)
	}
	return nil
}

// deletePrinter commits the printer removal with its event, then deletes the
// jobs outside of the transaction.
func (h *Handlers) deletePrinter(ctx context.Context, p *domain.Printer) (deleted int, err error) {
	tx := h.begin()
	defer finish(tx, &err)

	h.registry.DeletePrinter(tx, p)
	if err = h.outbox.StoreEvents(ctx, tx, p.Events()); err != nil {
		return 0, err
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	p.ClearEvents()

	deleted, err = h.queue.DeleteJobsForPrinter(ctx, p.ID)
	if err != nil {
		return deleted, err
	}
	h.logger.Info(fmt.Sprintf("printer %s deleted with %d jobs", p.ID, deleted))
	return deleted, nil
}
