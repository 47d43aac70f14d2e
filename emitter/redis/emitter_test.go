package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stickerlandia/printq/emitter"
	"github.com/stickerlandia/printq/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	channel string
	message []byte
	err     error
}

func (f *fakeClient) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.message, _ = message.([]byte)
	if f.err != nil {
		cmd := redis.NewIntCmd(context.Background())
		cmd.SetErr(f.err)
		return cmd
	}
	return redis.NewIntResult(1, nil)
}

func TestNew(t *testing.T) {
	var nilClient *fakeClient
	assert.PanicsWithValue(t, "client is mandatory", func() { New(nil) })
	assert.PanicsWithValue(t, "client is mandatory", func() { New(nilClient) })
	e := New(&fakeClient{}, WithChannelPrefix("stickers"), WithChannelPrefix(""))
	assert.Equal(t, "stickers", e.channelPrefix)
}

func TestEmit(t *testing.T) {
	testcases := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "published"},
		{name: "redis error", err: errors.New("connection refused"), wantErr: true},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeClient{err: tc.err}
			e := New(client)
			logs := &test.TestLogger{}
			e.SetLogger(logs)

			err := e.Emit(context.Background(), &emitter.Message{
				EventType: "printersRegistered",
				Key:       "E-P",
				Body:      []byte(`{"id":"1"}`),
				Headers:   map[string]string{"ce_id": "1"},
			})
			test.AssertError(t, err, tc.wantErr)
			assert.Equal(t, buildChannelName(defaultChannelPrefix, "printersRegistered"), client.channel)

			var env envelope
			require.NoError(t, json.Unmarshal(client.message, &env))
			assert.Equal(t, "E-P", env.Key)
			assert.Equal(t, "1", env.Headers["ce_id"])
			assert.JSONEq(t, `{"id":"1"}`, string(env.Body))
			assert.Equal(t, !tc.wantErr, logs.Count("debug") == 1)
		})
	}
}

func Test_buildChannelName(t *testing.T) {
	assert.Equal(t, "printq:printers_registered", buildChannelName("printq", "printersRegistered"))
}
