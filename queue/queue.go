// Package queue stores print jobs and hands queued jobs to polling printers.
package queue

import (
	"context"
	"fmt"

	"github.com/stickerlandia/printq/clock"
	"github.com/stickerlandia/printq/domain"
	"github.com/stickerlandia/printq/logger"
	"github.com/stickerlandia/printq/metrics"
	"github.com/stickerlandia/printq/store"
)

// Queue implements the print job repository.
type Queue struct {
	store      store.Store
	table      string
	clock      clock.Clock
	logger     logger.Logger
	claimedCtr metrics.Counter
	lostCtr    metrics.Counter
}

// opt allows optional configuration.
type opt func(q *Queue)

// WithLogger allows clients to configure an optional logger.
func WithLogger(l logger.Logger) opt {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithClock replaces the wall clock used when claiming jobs.
func WithClock(c clock.Clock) opt {
	return func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	}
}

// WithClaimCounters allows clients to count won and lost claims.
func WithClaimCounters(claimed, lost metrics.Counter) opt {
	return func(q *Queue) {
		if claimed != nil {
			q.claimedCtr = claimed
		}
		if lost != nil {
			q.lostCtr = lost
		}
	}
}

func New(s store.Store, table string, options ...opt) *Queue {
	if s == nil {
		panic("store is mandatory")
	}
	if table == "" {
		panic("table is mandatory")
	}
	q := &Queue{
		store:      s,
		table:      table,
		clock:      clock.RealClock{},
		logger:     &logger.NopLogger{},
		claimedCtr: &metrics.NopCounter{},
		lostCtr:    &metrics.NopCounter{},
	}
	for _, o := range options {
		o(q)
	}
	return q
}

// Table returns the name of the print jobs table.
func (q *Queue) Table() string {
	return q.table
}

// Add buffers the write of a new job.
func (q *Queue) Add(tx *store.WriteTransaction, j *domain.PrintJob) error {
	return q.put(tx, j)
}

// Update buffers a full replace of the job.
func (q *Queue) Update(tx *store.WriteTransaction, j *domain.PrintJob) error {
	return q.put(tx, j)
}

// UpdateFrom buffers a full replace of the job that only applies while the
// stored job is still in status from. Otherwise the commit fails with
// store.ErrConditionFailed.
func (q *Queue) UpdateFrom(tx *store.WriteTransaction, j *domain.PrintJob, from domain.PrintJobStatus) error {
	return q.put(tx, j, store.Equals(attrStatus, string(from)))
}

func (q *Queue) put(tx *store.WriteTransaction, j *domain.PrintJob, conds ...store.Condition) error {
	item, err := toItem(j)
	if err != nil {
		return err
	}
	tx.AddPut(q.table, item, conds...)
	return nil
}

// Get reads a job of a known printer.
func (q *Queue) Get(ctx context.Context, printerID, jobID string) (*domain.PrintJob, error) {
	item, err := q.store.Get(ctx, q.table, jobKey(printerID, jobID))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrPrintJobNotFound, jobID)
	}
	return fromItem(item)
}

// GetByID finds a job without knowing its printer. It scans the table.
func (q *Queue) GetByID(ctx context.Context, jobID string) (*domain.PrintJob, error) {
	items, err := q.store.Scan(ctx, q.table,
		store.Equals(attrItemType, itemType),
		store.Equals(attrPrintJobID, jobID),
	)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrPrintJobNotFound, jobID)
	}
	return fromItem(items[0])
}

// GetQueuedJobsForPrinter claims up to maxJobs of the oldest queued jobs of
// the printer and returns the claimed ones in claim order. Jobs claimed by a
// concurrent poller in the meantime are skipped.
func (q *Queue) GetQueuedJobsForPrinter(ctx context.Context, printerID string, maxJobs int) ([]*domain.PrintJob, error) {
	if maxJobs <= 0 {
		return nil, fmt.Errorf("%w: maxJobs must be positive", domain.ErrInvalidArgument)
	}
	items, err := q.store.Query(ctx, store.QueryInput{
		Table:     q.table,
		Index:     store.IndexGSI1,
		Partition: statusPartition(printerID, domain.PrintJobQueued),
		Limit:     maxJobs,
	})
	if err != nil {
		return nil, err
	}

	claimed := make([]*domain.PrintJob, 0, len(items))
	for _, item := range items {
		j, err := fromItem(item)
		if err != nil {
			return claimed, err
		}
		ok, err := q.claim(ctx, j)
		if err != nil {
			return claimed, err
		}
		if ok {
			claimed = append(claimed, j)
		}
	}
	return claimed, nil
}

// claim moves the job from Queued to Processing only if it is still queued
// in the store. Losing the race is not an error.
func (q *Queue) claim(ctx context.Context, j *domain.PrintJob) (bool, error) {
	now := q.clock.Now()
	applied, err := q.store.ConditionalUpdate(ctx, store.UpdateInput{
		Table: q.table,
		Key:   jobKey(j.PrinterID, j.ID),
		Set: store.Item{
			attrStatus:       string(domain.PrintJobProcessing),
			attrProcessedAt:  store.FormatTime(now),
			store.AttrGSI1PK: statusPartition(j.PrinterID, domain.PrintJobProcessing),
		},
		Conditions: []store.Condition{store.Equals(attrStatus, string(domain.PrintJobQueued))},
	})
	if err != nil {
		return false, fmt.Errorf("claiming job %s: %w", j.ID, err)
	}
	if !applied {
		q.lostCtr.Inc(1)
		q.logger.Debug(fmt.Sprintf("job %s was claimed by another poller", j.ID))
		return false, nil
	}
	q.claimedCtr.Inc(1)
	return true, j.MarkAsProcessing(now)
}

// DeleteJobsForPrinter removes every job of the printer right away, in
// batches. It is not atomic with any other write.
func (q *Queue) DeleteJobsForPrinter(ctx context.Context, printerID string) (int, error) {
	items, err := q.store.Query(ctx, store.QueryInput{
		Table:     q.table,
		Partition: printerPartition(printerID),
	})
	if err != nil {
		return 0, err
	}
	keys := make([]store.Key, 0, len(items))
	for _, item := range items {
		if item.String(attrItemType) == itemType {
			keys = append(keys, item.Key())
		}
	}
	deleted := 0
	for _, batch := range store.Chunk(keys, store.MaxBatchItems) {
		if err := q.store.BatchDelete(ctx, q.table, batch); err != nil {
			return deleted, fmt.Errorf("deleting jobs of %s: %w", printerID, err)
		}
		deleted += len(batch)
	}
	if deleted > 0 {
		q.logger.Debug(fmt.Sprintf("deleted %d jobs of printer %s", deleted, printerID))
	}
	return deleted, nil
}

func (q *Queue) HasJobsInStatus(ctx context.Context, printerID string, status domain.PrintJobStatus) (bool, error) {
	items, err := q.store.Query(ctx, store.QueryInput{
		Table:     q.table,
		Index:     store.IndexGSI1,
		Partition: statusPartition(printerID, status),
		Limit:     1,
	})
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

// CountActiveJobs returns the number of queued plus processing jobs.
func (q *Queue) CountActiveJobs(ctx context.Context, printerID string) (int, error) {
	total := 0
	for _, status := range []domain.PrintJobStatus{domain.PrintJobQueued, domain.PrintJobProcessing} {
		items, err := q.store.Query(ctx, store.QueryInput{
			Table:     q.table,
			Index:     store.IndexGSI1,
			Partition: statusPartition(printerID, status),
		})
		if err != nil {
			return 0, err
		}
		total += len(items)
	}
	return total, nil
}

// ListForPrinter returns every job of the printer, oldest first.
func (q *Queue) ListForPrinter(ctx context.Context, printerID string) ([]*domain.PrintJob, error) {
	items, err := q.store.Query(ctx, store.QueryInput{
		Table:     q.table,
		Partition: printerPartition(printerID),
	})
	if err != nil {
		return nil, err
	}
	jobs := make([]*domain.PrintJob, 0, len(items))
	for _, item := range items {
		if item.String(attrItemType) != itemType {
			continue
		}
		j, err := fromItem(item)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	sortByCreation(jobs)
	return jobs, nil
}
