package kafka

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/iancoleman/strcase"
	"github.com/stickerlandia/printq/emitter"
	"github.com/stickerlandia/printq/logger"
)

const defaultTopicPrefix = "printq"

type kafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
}

type Emitter struct {
	producer    kafkaProducer
	topicPrefix string
	logger      logger.Logger
}

var _ emitter.Emitter = (*Emitter)(nil)
var _ logger.Loggable = (*Emitter)(nil)

// opt allows optional configuration.
type opt func(e *Emitter)

// WithTopicPrefix sets the prefix of every topic name.
func WithTopicPrefix(prefix string) opt {
	return func(e *Emitter) {
		if prefix != "" {
			e.topicPrefix = prefix
		}
	}
}

func New(p kafkaProducer, options ...opt) *Emitter {
	if p == nil || reflect.ValueOf(p).IsNil() {
		panic("producer is mandatory")
	}
	e := &Emitter{
		producer:    p,
		topicPrefix: defaultTopicPrefix,
		logger:      &logger.NopLogger{},
	}
	for _, o := range options {
		o(e)
	}
	return e
}

func (e *Emitter) SetLogger(l logger.Logger) {
	e.logger = l
}

// Emit produces the message and waits for its delivery report.
func (e *Emitter) Emit(ctx context.Context, m *emitter.Message) error {
	internal := make(chan kafka.Event, 1)
	topic := buildTopicName(e.topicPrefix, m.EventType)
	err := e.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(m.Key),
		Value:          m.Body,
		Headers:        headers(m.Headers),
	}, internal)
	if err != nil {
		return fmt.Errorf("producing to %s: %w", topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-internal:
			switch r := ev.(type) {
			case *kafka.Message:
				if r.TopicPartition.Error != nil {
					return r.TopicPartition.Error
				}
				e.logger.Debug(fmt.Sprintf("delivered message to topic %s [%d] at offset %v",
					topic, r.TopicPartition.Partition, r.TopicPartition.Offset))
				return nil
			case kafka.Error:
				return r
			default:
				e.logger.Debug(fmt.Sprintf("ignored event: %s", ev))
			}
		}
	}
}

// buildTopicName builds a topic name from an event type (e.g. if
// eventType="printJobs.queued.v1" then topic name is
// "printq-print-jobs-queued-v1").
func buildTopicName(prefix, eventType string) string {
	return fmt.Sprintf("%s-%s", prefix, strcase.ToKebab(eventType))
}

func headers(h map[string]string) []kafka.Header {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]kafka.Header, 0, len(keys))
	for _, k := range keys {
		out = append(out, kafka.Header{Key: k, Value: []byte(h[k])})
	}
	return out
}
