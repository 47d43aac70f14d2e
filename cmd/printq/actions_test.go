package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stickerlandia/printq/commands"
	"github.com/stickerlandia/printq/config"
	"github.com/stickerlandia/printq/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteStatuses(t *testing.T) {
	hb := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := writeStatuses(&buf, []commands.PrinterStatus{
		{PrinterID: "EVENT-A", PrinterName: "a", Status: domain.PrinterOnline, ActiveJobs: 2, LastHeartbeat: &hb},
		{PrinterID: "EVENT-B", PrinterName: "b", Status: domain.PrinterOffline},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "Online")
	assert.Contains(t, lines[1], "2024-05-01T09:00:00Z")
	assert.Contains(t, lines[2], "Offline")
	assert.Contains(t, lines[2], "-")
}

func TestNewAppUnknownDriver(t *testing.T) {
	_, err := newApp(context.Background(), &config.Config{StoreDriver: "cassandra"})
	assert.ErrorIs(t, err, errUnknownDriver)
}

func TestPublisherUnknownDriver(t *testing.T) {
	a := &app{cfg: &config.Config{PublisherDriver: "carrier-pigeon"}, logger: newLogger(&config.Config{})}
	_, err := a.publisher(context.Background())
	assert.ErrorIs(t, err, errUnknownDriver)
}

func TestPublisherPubSub(t *testing.T) {
	a := &app{cfg: &config.Config{PublisherDriver: "pubsub", PubSubTopicURL: "mem://printq-cli-test"}, logger: newLogger(&config.Config{})}
	p, err := a.publisher(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, p)
	a.Close()
}
