package domain

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterPrinter(t *testing.T) {
	p, err := RegisterPrinter("TestEvent", "TestPrinter")
	require.NoError(t, err)

	assert.Equal(t, "TESTEVENT-TESTPRINTER", p.ID)
	assert.Equal(t, "TestEvent", p.EventName)
	assert.Equal(t, "TestPrinter", p.PrinterName)
	key, err := base64.StdEncoding.DecodeString(p.Key)
	require.NoError(t, err)
	assert.Len(t, key, apiKeyBytes)

	require.Len(t, p.Events(), 1)
	assert.Equal(t, PrinterRegisteredEvent{PrinterID: p.ID, EventName: "TestEvent", PrinterName: "TestPrinter"}, p.Events()[0])

	other, err := RegisterPrinter("TestEvent", "TestPrinter")
	require.NoError(t, err)
	assert.NotEqual(t, p.Key, other.Key)
}

func TestRegisterPrinterInvalid(t *testing.T) {
	testcases := []struct {
		name        string
		eventName   string
		printerName string
	}{
		{name: "empty event", printerName: "p"},
		{name: "blank printer", eventName: "e", printerName: "   "},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := RegisterPrinter(tc.eventName, tc.printerName)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestPrinterID(t *testing.T) {
	testcases := []struct {
		name    string
		event   string
		printer string
	}{
		{name: "mixed case", event: "TestEvent", printer: "TestPrinter"},
		{name: "lower case", event: "testevent", printer: "testprinter"},
		{name: "surrounding whitespace", event: " TestEvent ", printer: "\tTestPrinter "},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, "TESTEVENT-TESTPRINTER", PrinterID(tc.event, tc.printer))
		})
	}
}

func TestPrinterFrom(t *testing.T) {
	hb := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	p := PrinterFrom("E-P", "E", "P", "key", &hb, nil)
	assert.Empty(t, p.Events())
	assert.Equal(t, &hb, p.LastHeartbeat)
	assert.Nil(t, p.LastJobProcessed)
}

func TestPrinterStatus(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	testcases := []struct {
		name      string
		heartbeat *time.Time
		want      PrinterStatus
	}{
		{name: "never seen", want: PrinterOffline},
		{name: "recent heartbeat", heartbeat: ptr(now.Add(-30 * time.Second)), want: PrinterOnline},
		{name: "heartbeat at the window edge", heartbeat: ptr(now.Add(-DefaultOnlineWindow)), want: PrinterOffline},
		{name: "stale heartbeat", heartbeat: ptr(now.Add(-10 * time.Minute)), want: PrinterOffline},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			p := PrinterFrom("E-P", "E", "P", "k", tc.heartbeat, nil)
			assert.Equal(t, tc.want, p.Status(now, DefaultOnlineWindow))
		})
	}
}

func TestPrinterHeartbeatAndDelete(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	p := PrinterFrom("E-P", "E", "P", "k", nil, nil)
	p.RecordHeartbeat(now)
	p.RecordJobProcessed(now)
	assert.Equal(t, PrinterOnline, p.Status(now.Add(time.Minute), DefaultOnlineWindow))
	assert.Equal(t, now, *p.LastJobProcessed)
	assert.Empty(t, p.Events())

	p.Delete()
	require.Len(t, p.Events(), 1)
	assert.Equal(t, EventPrinterDeleted, p.Events()[0].EventType())
	p.ClearEvents()
	assert.Empty(t, p.Events())
}

func ptr(t time.Time) *time.Time {
	return &t
}
