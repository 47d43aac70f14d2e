package emitter

import (
	"context"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/stickerlandia/printq/clock"
	"github.com/stickerlandia/printq/domain"
	"github.com/stickerlandia/printq/logger"
	"github.com/stickerlandia/printq/outbox"
	"go.opentelemetry.io/otel/propagation"
)

const (
	DefaultSource = "printq"

	extTraceParent = "traceparent"
	extTraceID     = "traceid"
)

// Publisher implements outbox.EventPublisher on top of an Emitter. Events
// are wrapped in CloudEvents whose id is the outbox item id, so consumers can
// drop redeliveries.
type Publisher struct {
	emitter Emitter
	source  string
	clock   clock.Clock
	logger  logger.Logger
}

var _ outbox.EventPublisher = (*Publisher)(nil)
var _ logger.Loggable = (*Publisher)(nil)

func NewPublisher(e Emitter, source string) *Publisher {
	if e == nil {
		panic("emitter is mandatory")
	}
	if source == "" {
		source = DefaultSource
	}
	return &Publisher{
		emitter: e,
		source:  source,
		clock:   clock.RealClock{},
		logger:  &logger.NopLogger{},
	}
}

// SetLogger sets an optional logger, shared with the emitter when it accepts one.
func (p *Publisher) SetLogger(l logger.Logger) {
	p.logger = l
	if lg, ok := p.emitter.(logger.Loggable); ok {
		lg.SetLogger(l)
	}
}

func (p *Publisher) PublishPrinterRegistered(ctx context.Context, e domain.PrinterRegisteredEvent) error {
	return p.publish(ctx, e)
}

func (p *Publisher) PublishPrinterDeleted(ctx context.Context, e domain.PrinterDeletedEvent) error {
	return p.publish(ctx, e)
}

func (p *Publisher) PublishPrintJobQueued(ctx context.Context, e domain.PrintJobQueuedEvent) error {
	return p.publish(ctx, e)
}

func (p *Publisher) PublishPrintJobCompleted(ctx context.Context, e domain.PrintJobCompletedEvent) error {
	return p.publish(ctx, e)
}

func (p *Publisher) PublishPrintJobFailed(ctx context.Context, e domain.PrintJobFailedEvent) error {
	return p.publish(ctx, e)
}

func (p *Publisher) publish(ctx context.Context, e domain.Event) error {
	m, err := p.encode(ctx, e)
	if err != nil {
		return err
	}
	if err := p.emitter.Emit(ctx, m); err != nil {
		return err
	}
	p.logger.Debug(fmt.Sprintf("published %s for %s", e.EventType(), e.OwnerKey()))
	return nil
}

// encode builds the structured mode CloudEvent for e.
func (p *Publisher) encode(ctx context.Context, e domain.Event) (*Message, error) {
	ce := cloudevents.NewEvent()
	ce.SetType(e.EventType())
	ce.SetSource(p.source)
	ce.SetSubject(e.OwnerKey())
	ce.SetTime(p.clock.Now())
	ce.SetID(uuid.NewString())

	item, ok := outbox.ItemFromContext(ctx)
	if ok {
		ce.SetID(item.ID)
		ce.SetTime(item.EventTime)
		if item.TraceID != "" {
			ce.SetExtension(extTraceID, item.TraceID)
		}
	}

	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	if tp := carrier.Get(extTraceParent); tp != "" {
		ce.SetExtension(extTraceParent, tp)
	}

	if err := ce.SetData(cloudevents.ApplicationJSON, e); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", e.EventType(), err)
	}
	if err := ce.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cloudevent %s: %w", e.EventType(), err)
	}
	body, err := ce.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding cloudevent %s: %w", e.EventType(), err)
	}

	headers := map[string]string{
		"ce_id":          ce.ID(),
		"ce_type":        ce.Type(),
		"ce_source":      ce.Source(),
		"ce_specversion": ce.SpecVersion(),
		"content-type":   cloudevents.ApplicationCloudEventsJSON,
	}
	for k, v := range carrier {
		headers[k] = v
	}
	return &Message{
		EventType: e.EventType(),
		Key:       e.OwnerKey(),
		Body:      body,
		Headers:   headers,
	}, nil
}
