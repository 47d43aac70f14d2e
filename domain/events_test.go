package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	testcases := []struct {
		name  string
		event Event
	}{
		{name: "registered", event: PrinterRegisteredEvent{PrinterID: "E-P", EventName: "E", PrinterName: "P"}},
		{name: "deleted", event: PrinterDeletedEvent{PrinterID: "E-P", EventName: "E", PrinterName: "P"}},
		{name: "queued", event: PrintJobQueuedEvent{PrintJobID: "1", PrinterID: "E-P", UserID: "u", StickerID: "s"}},
		{name: "completed", event: PrintJobCompletedEvent{PrintJobID: "1", PrinterID: "E-P", UserID: "u", StickerID: "s", CompletedAt: at}},
		{name: "failed", event: PrintJobFailedEvent{PrintJobID: "1", PrinterID: "E-P", UserID: "u", StickerID: "s", FailureReason: "jam", FailedAt: at}},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.event)
			require.NoError(t, err)
			got, err := DecodeEvent(tc.event.EventType(), data)
			require.NoError(t, err)
			assert.Equal(t, tc.event, got)
			assert.Equal(t, "E-P", got.OwnerKey())
		})
	}
}

func TestDecodeEventErrors(t *testing.T) {
	_, err := DecodeEvent("unknown.event.type", []byte(`{}`))
	var unknown *UnknownEventError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "unknown.event.type", unknown.EventType)

	_, err = DecodeEvent(EventPrintJobQueued, []byte(`{not json`))
	assert.Error(t, err)
	assert.False(t, errors.As(err, &unknown))
}

func TestIsPrinterEvent(t *testing.T) {
	assert.True(t, IsPrinterEvent(EventPrinterRegistered))
	assert.True(t, IsPrinterEvent(EventPrinterDeleted))
	assert.False(t, IsPrinterEvent(EventPrintJobQueued))
}
