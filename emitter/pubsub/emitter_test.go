package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stickerlandia/printq/emitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/pubsub"
	"gocloud.dev/pubsub/mempubsub"
)

func TestNew(t *testing.T) {
	var nilTopic *pubsub.Topic
	assert.PanicsWithValue(t, "topic is mandatory", func() { New(nil) })
	assert.PanicsWithValue(t, "topic is mandatory", func() { New(nilTopic) })
}

func TestEmit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	topic := mempubsub.NewTopic()
	defer topic.Shutdown(ctx)
	sub := mempubsub.NewSubscription(topic, time.Minute)
	defer sub.Shutdown(ctx)

	e := New(topic)
	require.NoError(t, e.Emit(ctx, &emitter.Message{
		EventType: "printJobs.queued.v1",
		Key:       "E-P",
		Body:      []byte(`{"id":"1"}`),
		Headers:   map[string]string{"ce_id": "1"},
	}))

	msg, err := sub.Receive(ctx)
	require.NoError(t, err)
	msg.Ack()
	assert.Equal(t, `{"id":"1"}`, string(msg.Body))
	assert.Equal(t, "E-P", msg.Metadata[MetadataKey])
	assert.Equal(t, "1", msg.Metadata["ce_id"])
}

func TestEmitAfterShutdown(t *testing.T) {
	ctx := context.Background()
	topic := mempubsub.NewTopic()
	require.NoError(t, topic.Shutdown(ctx))

	err := New(topic).Emit(ctx, &emitter.Message{EventType: "x", Body: []byte("{}")})
	assert.Error(t, err)
}

func TestOpenTopic(t *testing.T) {
	ctx := context.Background()
	topic, err := OpenTopic(ctx, "mem://printq-test")
	require.NoError(t, err)
	assert.NoError(t, topic.Shutdown(ctx))

	_, err = OpenTopic(ctx, "nope://x")
	assert.Error(t, err)
}
