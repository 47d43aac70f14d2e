package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"
)

type PrintJobStatus string

const (
	PrintJobQueued     PrintJobStatus = "Queued"
	PrintJobProcessing PrintJobStatus = "Processing"
	PrintJobCompleted  PrintJobStatus = "Completed"
	PrintJobFailed     PrintJobStatus = "Failed"
)

// Terminal reports whether no further transition is possible.
func (s PrintJobStatus) Terminal() bool {
	return s == PrintJobCompleted || s == PrintJobFailed
}

// PrintJob is a sticker waiting to be printed by a printer.
type PrintJob struct {
	ID            string
	PrinterID     string
	UserID        string
	StickerID     string
	StickerURL    string
	Status        PrintJobStatus
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	CompletedAt   *time.Time
	FailureReason string
	TraceParent   string
	Headers       map[string]string

	events []Event
}

// NewPrintJob carries the fields needed to queue a print job.
type NewPrintJob struct {
	PrinterID  string
	UserID     string
	StickerID  string
	StickerURL string
	Headers    map[string]string
}

var absoluteHTTPURL = validation.By(func(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return validation.NewError("validation_sticker_url", "must be an absolute http or https URL")
	}
	return nil
})

// Validate checks the creation invariants.
func (n NewPrintJob) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.PrinterID, validation.Required),
		validation.Field(&n.UserID, validation.Required),
		validation.Field(&n.StickerID, validation.Required),
		validation.Field(&n.StickerURL, validation.Required, absoluteHTTPURL),
	)
}

// CreatePrintJob queues a new job and raises PrintJobQueuedEvent.
func CreatePrintJob(n NewPrintJob, now time.Time) (*PrintJob, error) {
	if err := n.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrintJob, err)
	}
	j := &PrintJob{
		ID:         uuid.NewString(),
		PrinterID:  n.PrinterID,
		UserID:     n.UserID,
		StickerID:  n.StickerID,
		StickerURL: n.StickerURL,
		Status:     PrintJobQueued,
		CreatedAt:  now.UTC(),
		Headers:    n.Headers,
	}
	if j.Headers != nil {
		j.TraceParent = j.Headers["traceparent"]
	}
	j.raise(PrintJobQueuedEvent{PrintJobID: j.ID, PrinterID: j.PrinterID, UserID: j.UserID, StickerID: j.StickerID})
	return j, nil
}

// PrintJobFrom rebuilds a stored job. No events are raised.
func PrintJobFrom(j PrintJob) *PrintJob {
	j.events = nil
	return &j
}

func (j *PrintJob) MarkAsProcessing(now time.Time) error {
	if j.Status != PrintJobQueued {
		return &InvalidTransitionError{From: j.Status, Op: "process"}
	}
	t := now.UTC()
	j.Status = PrintJobProcessing
	j.ProcessedAt = &t
	return nil
}

func (j *PrintJob) Complete(now time.Time) error {
	if j.Status != PrintJobProcessing {
		return &InvalidTransitionError{From: j.Status, Op: "complete"}
	}
	t := now.UTC()
	j.Status = PrintJobCompleted
	j.CompletedAt = &t
	j.raise(PrintJobCompletedEvent{
		PrintJobID:  j.ID,
		PrinterID:   j.PrinterID,
		UserID:      j.UserID,
		StickerID:   j.StickerID,
		CompletedAt: t,
	})
	return nil
}

func (j *PrintJob) Fail(reason string, now time.Time) error {
	if j.Status != PrintJobProcessing {
		return &InvalidTransitionError{From: j.Status, Op: "fail"}
	}
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("%w: failure reason is required", ErrInvalidArgument)
	}
	t := now.UTC()
	j.Status = PrintJobFailed
	j.CompletedAt = &t
	j.FailureReason = reason
	j.raise(PrintJobFailedEvent{
		PrintJobID:    j.ID,
		PrinterID:     j.PrinterID,
		UserID:        j.UserID,
		StickerID:     j.StickerID,
		FailureReason: reason,
		FailedAt:      t,
	})
	return nil
}

func (j *PrintJob) Events() []Event {
	return j.events
}

func (j *PrintJob) ClearEvents() {
	j.events = nil
}

func (j *PrintJob) raise(e Event) {
	j.events = append(j.events, e)
}
