package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPrinterNotFound      = errors.New("printer not found")
	ErrPrinterExists        = errors.New("printer already exists")
	ErrPrinterHasActiveJobs = errors.New("printer has jobs in processing")
	ErrPrintJobNotFound     = errors.New("print job not found")
	ErrInvalidPrintJob      = errors.New("invalid print job")
	ErrPrintJobOwnership    = errors.New("print job belongs to another printer")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInvalidTransition    = errors.New("invalid status transition")
)

// InvalidTransitionError is returned when an operation is not allowed from
// the current status of a print job.
type InvalidTransitionError struct {
	From PrintJobStatus
	Op   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s a print job in status %s", e.Op, e.From)
}

// Is makes errors.Is(err, ErrInvalidTransition) hold.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// UnknownEventError is returned when decoding an event type tag that is not
// part of the known set.
type UnknownEventError struct {
	EventType string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.EventType)
}
