package commands

import (
	"context"
	"errors"
	"fmt"

	validation "github.com/jellydator/validation"
	"github.com/stickerlandia/printq/domain"
	"github.com/stickerlandia/printq/store"
	"go.opentelemetry.io/otel/propagation"
)

// SubmitPrintJobInput is the request to print a sticker on a printer.
type SubmitPrintJobInput struct {
	EventName   string
	PrinterName string
	UserID      string
	StickerID   string
	StickerURL  string
}

func (in SubmitPrintJobInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.EventName, validation.Required),
		validation.Field(&in.PrinterName, validation.Required),
	)
}

// AcknowledgePrintJobInput reports the outcome of a claimed job.
type AcknowledgePrintJobInput struct {
	JobID         string
	Success       bool
	FailureReason string
}

func (in AcknowledgePrintJobInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.JobID, validation.Required),
		validation.Field(&in.FailureReason, validation.When(!in.Success, validation.Required)),
	)
}

// SubmitPrintJob queues a job on the named printer and records
// PrintJobQueuedEvent. The caller trace context travels with the job.
func (h *Handlers) SubmitPrintJob(ctx context.Context, in SubmitPrintJobInput) (j *domain.PrintJob, err error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, err)
	}
	p, err := h.registry.FindByEventAndName(ctx, in.EventName, in.PrinterName)
	if err != nil {
		return nil, err
	}

	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	var headers map[string]string
	if len(carrier) > 0 {
		headers = carrier
	}

	j, err = domain.CreatePrintJob(domain.NewPrintJob{
		PrinterID:  p.ID,
		UserID:     in.UserID,
		StickerID:  in.StickerID,
		StickerURL: in.StickerURL,
		Headers:    headers,
	}, h.clock.Now())
	if err != nil {
		return nil, err
	}

	tx := h.begin()
	defer finish(tx, &err)
	if err = h.queue.Add(tx, j); err != nil {
		return nil, err
	}
	if err = h.outbox.StoreEvents(ctx, tx, j.Events()); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	j.ClearEvents()
	h.logger.Debug(fmt.Sprintf("job %s queued on %s", j.ID, p.ID))
	return j, nil
}

// PollPrintJobs records a heartbeat for the printer owning apiKey and claims
// up to maxJobs queued jobs for it. A zero maxJobs claims one job.
func (h *Handlers) PollPrintJobs(ctx context.Context, apiKey string, maxJobs int) ([]*domain.PrintJob, error) {
	if maxJobs == 0 {
		maxJobs = DefaultJobsPerPoll
	}
	if err := validation.Validate(maxJobs, validation.Min(1), validation.Max(MaxJobsPerPoll)); err != nil {
		return nil, fmt.Errorf("%w: maxJobs %s", domain.ErrInvalidArgument, err)
	}
	p, err := h.registry.ValidateKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if err := h.registry.RecordHeartbeat(ctx, p); err != nil {
		return nil, err
	}
	return h.queue.GetQueuedJobsForPrinter(ctx, p.ID, maxJobs)
}

// AcknowledgePrintJob completes or fails a job claimed by the printer owning
// apiKey, recording the matching event and the printer's last processed job.
func (h *Handlers) AcknowledgePrintJob(ctx context.Context, apiKey string, in AcknowledgePrintJobInput) (j *domain.PrintJob, err error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, err)
	}
	p, err := h.registry.ValidateKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	j, err = h.jobOf(ctx, p, in.JobID)
	if err != nil {
		return nil, err
	}

	now := h.clock.Now()
	if in.Success {
		err = j.Complete(now)
	} else {
		err = j.Fail(in.FailureReason, now)
	}
	if err != nil {
		return nil, err
	}
	p.RecordJobProcessed(now)

	tx := h.begin()
	defer finish(tx, &err)
	if err = h.queue.UpdateFrom(tx, j, domain.PrintJobProcessing); err != nil {
		return nil, err
	}
	h.registry.Update(tx, p)
	if err = h.outbox.StoreEvents(ctx, tx, j.Events()); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			err = fmt.Errorf("%w: job %s was acknowledged concurrently", domain.ErrInvalidTransition, j.ID)
		}
		return nil, err
	}
	j.ClearEvents()
	return j, nil
}

// jobOf loads a job of the printer. A job that exists under another printer
// is reported as an ownership error.
func (h *Handlers) jobOf(ctx context.Context, p *domain.Printer, jobID string) (*domain.PrintJob, error) {
	j, err := h.queue.Get(ctx, p.ID, jobID)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, domain.ErrPrintJobNotFound) {
		return nil, err
	}
	other, scanErr := h.queue.GetByID(ctx, jobID)
	if scanErr != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: job %s belongs to %s", domain.ErrPrintJobOwnership, jobID, other.PrinterID)
}
