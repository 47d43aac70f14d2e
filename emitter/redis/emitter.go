package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/iancoleman/strcase"
	"github.com/redis/go-redis/v9"
	"github.com/stickerlandia/printq/emitter"
	"github.com/stickerlandia/printq/logger"
)

const defaultChannelPrefix = "printq"

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// envelope is the payload sent on the channel, headers travel with the body
// because pub/sub has no message metadata.
type envelope struct {
	Key     string            `json:"key"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body"`
}

// Emitter publishes events on Redis pub/sub channels, one per event type.
type Emitter struct {
	client        publisher
	channelPrefix string
	logger        logger.Logger
}

var _ emitter.Emitter = (*Emitter)(nil)
var _ logger.Loggable = (*Emitter)(nil)

// opt allows optional configuration.
type opt func(e *Emitter)

// WithChannelPrefix sets the prefix of every channel name.
func WithChannelPrefix(prefix string) opt {
	return func(e *Emitter) {
		if prefix != "" {
			e.channelPrefix = prefix
		}
	}
}

func New(client publisher, options ...opt) *Emitter {
	if client == nil || reflect.ValueOf(client).IsNil() {
		panic("client is mandatory")
	}
	e := &Emitter{
		client:        client,
		channelPrefix: defaultChannelPrefix,
		logger:        &logger.NopLogger{},
	}
	for _, o := range options {
		o(e)
	}
	return e
}

func (e *Emitter) SetLogger(l logger.Logger) {
	e.logger = l
}

func (e *Emitter) Emit(ctx context.Context, m *emitter.Message) error {
	payload, err := json.Marshal(envelope{Key: m.Key, Headers: m.Headers, Body: m.Body})
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	channel := buildChannelName(e.channelPrefix, m.EventType)
	receivers, err := e.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	e.logger.Debug(fmt.Sprintf("published message to channel %s (%d receivers)", channel, receivers))
	return nil
}

// buildChannelName builds a channel name from an event type (e.g. if
// eventType="printJobs.queued.v1" then channel name is
// "printq:print_jobs_queued_v1").
func buildChannelName(prefix, eventType string) string {
	return fmt.Sprintf("%s:%s", prefix, strcase.ToSnake(eventType))
}

// NewClient builds a go-redis client and checks the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return client, nil
}
