package domain

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// DefaultOnlineWindow is how long after its last heartbeat a printer is
// still considered online.
const DefaultOnlineWindow = 2 * time.Minute

const apiKeyBytes = 32

type PrinterStatus string

const (
	PrinterOnline  PrinterStatus = "Online"
	PrinterOffline PrinterStatus = "Offline"
)

// Printer is a printing station registered for an event.
type Printer struct {
	ID               string
	EventName        string
	PrinterName      string
	Key              string
	LastHeartbeat    *time.Time
	LastJobProcessed *time.Time

	events []Event
}

// PrinterID returns the case-insensitive identity of a printer. Surrounding
// whitespace of either name is ignored.
func PrinterID(eventName, printerName string) string {
	return strings.ToUpper(strings.TrimSpace(eventName) + "-" + strings.TrimSpace(printerName))
}

// RegisterPrinter creates a new printer with a fresh API key and raises
// PrinterRegisteredEvent.
func RegisterPrinter(eventName, printerName string) (*Printer, error) {
	eventName = strings.TrimSpace(eventName)
	printerName = strings.TrimSpace(printerName)
	if eventName == "" {
		return nil, fmt.Errorf("%w: event name is required", ErrInvalidArgument)
	}
	if printerName == "" {
		return nil, fmt.Errorf("%w: printer name is required", ErrInvalidArgument)
	}
	key, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	p := &Printer{
		ID:          PrinterID(eventName, printerName),
		EventName:   eventName,
		PrinterName: printerName,
		Key:         key,
	}
	p.raise(PrinterRegisteredEvent{PrinterID: p.ID, EventName: eventName, PrinterName: printerName})
	return p, nil
}

// PrinterFrom rebuilds a stored printer. No events are raised.
func PrinterFrom(id, eventName, printerName, key string, lastHeartbeat, lastJobProcessed *time.Time) *Printer {
	return &Printer{
		ID:               id,
		EventName:        eventName,
		PrinterName:      printerName,
		Key:              key,
		LastHeartbeat:    lastHeartbeat,
		LastJobProcessed: lastJobProcessed,
	}
}

// GenerateAPIKey returns 32 random bytes encoded as standard base64.
func GenerateAPIKey() (string, error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func (p *Printer) RecordHeartbeat(now time.Time) {
	t := now.UTC()
	p.LastHeartbeat = &t
}

func (p *Printer) RecordJobProcessed(now time.Time) {
	t := now.UTC()
	p.LastJobProcessed = &t
}

// Status derives the connectivity of the printer at now. It is never stored.
func (p *Printer) Status(now time.Time, window time.Duration) PrinterStatus {
	if p.LastHeartbeat != nil && now.Sub(*p.LastHeartbeat) < window {
		return PrinterOnline
	}
	return PrinterOffline
}

// Delete raises PrinterDeletedEvent.
func (p *Printer) Delete() {
	p.raise(PrinterDeletedEvent{PrinterID: p.ID, EventName: p.EventName, PrinterName: p.PrinterName})
}

// Events returns the events raised since the last ClearEvents.
func (p *Printer) Events() []Event {
	return p.events
}

func (p *Printer) ClearEvents() {
	p.events = nil
}

func (p *Printer) raise(e Event) {
	p.events = append(p.events, e)
}
