package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	EventPrinterRegistered = "printers.registered.v1"
	EventPrinterDeleted    = "printers.deleted.v1"
	EventPrintJobQueued    = "printJobs.queued.v1"
	EventPrintJobCompleted = "printJobs.completed.v1"
	EventPrintJobFailed    = "printJobs.failed.v1"

	printerEventPrefix = "printers."
)

// Event is a domain event raised by an aggregate.
type Event interface {
	// EventType returns the versioned type tag.
	EventType() string
	// OwnerKey returns the identifier of the entity the event belongs to.
	OwnerKey() string
}

// IsPrinterEvent reports whether the type tag belongs to the printer family.
func IsPrinterEvent(eventType string) bool {
	return strings.HasPrefix(eventType, printerEventPrefix)
}

type PrinterRegisteredEvent struct {
	PrinterID   string `json:"printerId"`
	EventName   string `json:"eventName"`
	PrinterName string `json:"printerName"`
}

func (PrinterRegisteredEvent) EventType() string  { return EventPrinterRegistered }
func (e PrinterRegisteredEvent) OwnerKey() string { return e.PrinterID }

type PrinterDeletedEvent struct {
	PrinterID   string `json:"printerId"`
	EventName   string `json:"eventName"`
	PrinterName string `json:"printerName"`
}

func (PrinterDeletedEvent) EventType() string  { return EventPrinterDeleted }
func (e PrinterDeletedEvent) OwnerKey() string { return e.PrinterID }

type PrintJobQueuedEvent struct {
	PrintJobID string `json:"printJobId"`
	PrinterID  string `json:"printerId"`
	UserID     string `json:"userId"`
	StickerID  string `json:"stickerId"`
}

func (PrintJobQueuedEvent) EventType() string  { return EventPrintJobQueued }
func (e PrintJobQueuedEvent) OwnerKey() string { return e.PrinterID }

type PrintJobCompletedEvent struct {
	PrintJobID  string    `json:"printJobId"`
	PrinterID   string    `json:"printerId"`
	UserID      string    `json:"userId"`
	StickerID   string    `json:"stickerId"`
	CompletedAt time.Time `json:"completedAt"`
}

func (PrintJobCompletedEvent) EventType() string  { return EventPrintJobCompleted }
func (e PrintJobCompletedEvent) OwnerKey() string { return e.PrinterID }

type PrintJobFailedEvent struct {
	PrintJobID    string    `json:"printJobId"`
	PrinterID     string    `json:"printerId"`
	UserID        string    `json:"userId"`
	StickerID     string    `json:"stickerId"`
	FailureReason string    `json:"failureReason"`
	FailedAt      time.Time `json:"failedAt"`
}

func (PrintJobFailedEvent) EventType() string  { return EventPrintJobFailed }
func (e PrintJobFailedEvent) OwnerKey() string { return e.PrinterID }

// DecodeEvent rebuilds an event from its type tag and serialized payload.
// Unknown tags return an *UnknownEventError.
func DecodeEvent(eventType string, data []byte) (Event, error) {
	var ev Event
	var err error
	switch eventType {
	case EventPrinterRegistered:
		var e PrinterRegisteredEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case EventPrinterDeleted:
		var e PrinterDeletedEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case EventPrintJobQueued:
		var e PrintJobQueuedEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case EventPrintJobCompleted:
		var e PrintJobCompletedEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case EventPrintJobFailed:
		var e PrintJobFailedEvent
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return nil, &UnknownEventError{EventType: eventType}
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", eventType, err)
	}
	return ev, nil
}
