// Package pubsub sends events through a gocloud.dev pub/sub topic, so the
// same code targets SNS, SQS, GCP Pub/Sub or an in-memory topic depending on
// the topic URL.
package pubsub

import (
	"context"
	"fmt"
	"reflect"

	"github.com/stickerlandia/printq/emitter"
	"github.com/stickerlandia/printq/logger"
	"gocloud.dev/pubsub"

	// Register the topic drivers.
	_ "gocloud.dev/pubsub/awssnssqs"
	_ "gocloud.dev/pubsub/mempubsub"
)

// MetadataKey carries the partitioning key of the message.
const MetadataKey = "key"

type sender interface {
	Send(ctx context.Context, m *pubsub.Message) error
}

type Emitter struct {
	topic  sender
	logger logger.Logger
}

var _ emitter.Emitter = (*Emitter)(nil)
var _ logger.Loggable = (*Emitter)(nil)

func New(t sender) *Emitter {
	if t == nil || reflect.ValueOf(t).IsNil() {
		panic("topic is mandatory")
	}
	return &Emitter{
		topic:  t,
		logger: &logger.NopLogger{},
	}
}

// OpenTopic opens the topic identified by url (e.g. "mem://events",
// "awssns:///arn:aws:sns:us-east-1:123456789012:events?region=us-east-1").
func OpenTopic(ctx context.Context, url string) (*pubsub.Topic, error) {
	t, err := pubsub.OpenTopic(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open topic: %w", err)
	}
	return t, nil
}

func (e *Emitter) SetLogger(l logger.Logger) {
	e.logger = l
}

func (e *Emitter) Emit(ctx context.Context, m *emitter.Message) error {
	md := make(map[string]string, len(m.Headers)+1)
	for k, v := range m.Headers {
		md[k] = v
	}
	md[MetadataKey] = m.Key
	if err := e.topic.Send(ctx, &pubsub.Message{Body: m.Body, Metadata: md}); err != nil {
		return fmt.Errorf("sending %s: %w", m.EventType, err)
	}
	e.logger.Debug(fmt.Sprintf("sent %s for %s", m.EventType, m.Key))
	return nil
}
