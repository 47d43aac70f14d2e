package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stickerlandia/printq/domain"
	"github.com/stickerlandia/printq/logger"
	"github.com/stickerlandia/printq/metrics"
	"golang.org/x/time/rate"
)

// UnknownEventReason is the failure reason recorded for unknown event types.
const UnknownEventReason = "Unknown event type"

// EventPublisher delivers domain events to the rest of the platform.
type EventPublisher interface {
	PublishPrinterRegistered(ctx context.Context, e domain.PrinterRegisteredEvent) error
	PublishPrinterDeleted(ctx context.Context, e domain.PrinterDeletedEvent) error
	PublishPrintJobQueued(ctx context.Context, e domain.PrintJobQueuedEvent) error
	PublishPrintJobCompleted(ctx context.Context, e domain.PrintJobCompletedEvent) error
	PublishPrintJobFailed(ctx context.Context, e domain.PrintJobFailedEvent) error
}

// Source is where the processor reads pending items from and writes
// outcomes back to.
type Source interface {
	GetUnprocessedItems(ctx context.Context, maxCount int) ([]*Item, error)
	UpdateOutboxItem(ctx context.Context, item *Item) error
}

// Result summarizes one processing cycle.
type Result struct {
	Processed     int
	Failed        int
	UpdateErrors  int
	TotalSelected int
}

// Processor relays pending outbox items to an EventPublisher. Items are never
// retried: a failed delivery is recorded on the item and left for operators.
type Processor struct {
	settings   Settings
	source     Source
	publisher  EventPublisher
	logger     logger.Logger
	successCtr metrics.Counter
	errorCtr   metrics.Counter
	limiter    *rate.Limiter
}

// processorOpt allows optional configuration.
type processorOpt func(p *Processor)

// WithLogger allows clients to configure an optional logger.
func WithLogger(l logger.Logger) processorOpt {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithOnSuccessCounter allows clients to configure an optional counter
// for observability.
func WithOnSuccessCounter(c metrics.Counter) processorOpt {
	return func(p *Processor) {
		if c != nil {
			p.successCtr = c
		}
	}
}

// WithOnErrorCounter allows clients to configure an optional counter
// for observability.
func WithOnErrorCounter(c metrics.Counter) processorOpt {
	return func(p *Processor) {
		if c != nil {
			p.errorCtr = c
		}
	}
}

// WithRateLimit caps deliveries to perSecond events per second. A
// non-positive rate leaves deliveries unthrottled.
func WithRateLimit(perSecond float64) processorOpt {
	return func(p *Processor) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewProcessor creates a processor using the provided settings, source and
// publisher. Collaborators implementing logger.Loggable receive the
// processor logger.
func NewProcessor(s Settings, src Source, pub EventPublisher, options ...processorOpt) *Processor {
	if src == nil || pub == nil {
		panic("you must provide a source and a publisher")
	}
	validateSettings(&s)

	p := &Processor{
		settings:   s,
		source:     src,
		publisher:  pub,
		logger:     &logger.NopLogger{},
		successCtr: &metrics.NopCounter{},
		errorCtr:   &metrics.NopCounter{},
	}
	for _, o := range options {
		o(p)
	}
	for _, a := range []any{src, pub} {
		if l, ok := a.(logger.Loggable); ok {
			l.SetLogger(p.logger)
		}
	}
	return p
}

// Run processes the outbox every polling interval until ctx is done.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info(fmt.Sprintf("outbox processor started, polling every %s", p.settings.PollingInterval))
	ticker := time.NewTicker(p.settings.PollingInterval)
	defer ticker.Stop()
	for {
		if _, err := p.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("processing the outbox", err)
		}
		select {
		case <-ctx.Done():
			p.logger.Info("outbox processor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessOnce delivers one batch of pending items. Each item is handled on
// its own: a failure never aborts the rest of the batch.
func (p *Processor) ProcessOnce(ctx context.Context) (Result, error) {
	items, err := p.source.GetUnprocessedItems(ctx, p.settings.MaxItemsPerCycle)
	if err != nil {
		return Result{}, fmt.Errorf("reading unprocessed items: %w", err)
	}
	res := Result{TotalSelected: len(items)}
	if len(items) == 0 {
		return res, nil
	}
	p.logger.Debug(fmt.Sprintf("processing %d outbox items", len(items)))

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return res, err
			}
		}
		if perr := p.deliver(ctx, item); perr != nil {
			p.logger.Error(fmt.Sprintf("delivering outbox item %s (%s)", item.ID, item.EventType), perr)
			item.MarkFailed(perr.Error())
			res.Failed++
			p.errorCtr.Inc(1)
		} else {
			item.MarkProcessed()
			res.Processed++
			p.successCtr.Inc(1)
		}
		if err := p.source.UpdateOutboxItem(ctx, item); errors.Is(err, ErrItemSettled) {
			p.logger.Warn(fmt.Sprintf("outbox item %s was settled by another processor", item.ID))
		} else if err != nil {
			p.logger.Error(fmt.Sprintf("recording the outcome of outbox item %s", item.ID), err)
			res.UpdateErrors++
		}
	}

	p.logger.Info(fmt.Sprintf("%d outbox items were delivered (with %d failed) from a total of %d selected", res.Processed, res.Failed, res.TotalSelected))
	return res, nil
}

// deliver decodes the item and calls the matching publisher method.
func (p *Processor) deliver(ctx context.Context, item *Item) error {
	ev, err := domain.DecodeEvent(item.EventType, []byte(item.EventData))
	if err != nil {
		var unknown *domain.UnknownEventError
		if errors.As(err, &unknown) {
			return errors.New(UnknownEventReason)
		}
		return err
	}

	ctx = ContextWithItem(ctx, item)
	switch e := ev.(type) {
	case domain.PrinterRegisteredEvent:
		return p.publisher.PublishPrinterRegistered(ctx, e)
	case domain.PrinterDeletedEvent:
		return p.publisher.PublishPrinterDeleted(ctx, e)
	case domain.PrintJobQueuedEvent:
		return p.publisher.PublishPrintJobQueued(ctx, e)
	case domain.PrintJobCompletedEvent:
		return p.publisher.PublishPrintJobCompleted(ctx, e)
	case domain.PrintJobFailedEvent:
		return p.publisher.PublishPrintJobFailed(ctx, e)
	default:
		return errors.New(UnknownEventReason)
	}
}
