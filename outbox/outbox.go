// Package outbox stages domain events in the same atomic write as the state
// change that raised them, and relays them to an EventPublisher.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/stickerlandia/printq/clock"
	"github.com/stickerlandia/printq/domain"
	"github.com/stickerlandia/printq/logger"
	"github.com/stickerlandia/printq/store"
	"go.opentelemetry.io/otel/trace"
)

// Retention is how long outbox items are kept, delivered or not.
const Retention = 7 * 24 * time.Hour

const (
	itemType = "OutboxItem"

	partitionPending   = "OUTBOX#PENDING"
	partitionProcessed = "OUTBOX#PROCESSED"
	partitionFailed    = "OUTBOX#FAILED"

	attrItemType      = "ItemType"
	attrOutboxID      = "OutboxId"
	attrEventType     = "EventType"
	attrEventData     = "EventData"
	attrEventTime     = "EventTime"
	attrProcessed     = "Processed"
	attrFailed        = "Failed"
	attrFailureReason = "FailureReason"
	attrTraceID       = "TraceId"
	attrOwnerKey      = "OwnerKey"
)

var (
	// ErrItemNotFound is returned when updating an item that no longer exists.
	ErrItemNotFound = errors.New("outbox item not found")
	// ErrItemSettled is returned when the item outcome was already recorded.
	ErrItemSettled = errors.New("outbox item already settled")
)

// Outbox implements the outbox repository. Printer events are stored in the
// printers table and every other event in the print jobs table.
type Outbox struct {
	store         store.Store
	printersTable string
	jobsTable     string
	clock         clock.Clock
	logger        logger.Logger
}

var _ logger.Loggable = (*Outbox)(nil)

// opt allows optional configuration.
type opt func(o *Outbox)

// WithClock replaces the wall clock used to timestamp events.
func WithClock(c clock.Clock) opt {
	return func(o *Outbox) {
		if c != nil {
			o.clock = c
		}
	}
}

func New(s store.Store, printersTable, jobsTable string, options ...opt) *Outbox {
	if s == nil {
		panic("store is mandatory")
	}
	if printersTable == "" || jobsTable == "" {
		panic("tables are mandatory")
	}
	o := &Outbox{
		store:         s,
		printersTable: printersTable,
		jobsTable:     jobsTable,
		clock:         clock.RealClock{},
		logger:        &logger.NopLogger{},
	}
	for _, op := range options {
		op(o)
	}
	return o
}

// SetLogger sets an optional logger.
func (o *Outbox) SetLogger(l logger.Logger) {
	o.logger = l
}

// StoreEventFor buffers the event in tx, owned by the entity that raised it.
func (o *Outbox) StoreEventFor(ctx context.Context, tx *store.WriteTransaction, ev domain.Event) error {
	return o.StoreEventForOwner(ctx, tx, ev.OwnerKey(), ev)
}

// StoreEventForOwner buffers the event in tx with an explicit owner key.
func (o *Outbox) StoreEventForOwner(ctx context.Context, tx *store.WriteTransaction, ownerKey string, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", ev.EventType(), err)
	}
	item := &Item{
		ID:        uuid.NewString(),
		EventType: ev.EventType(),
		EventData: string(data),
		EventTime: o.clock.Now().UTC(),
		OwnerKey:  ownerKey,
		table:     o.tableFor(ev.EventType()),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		item.TraceID = sc.TraceID().String()
	}
	tx.AddPut(item.table, toStoreItem(item))
	o.logger.Debug(fmt.Sprintf("outbox item %s buffered for %s", item.ID, item.EventType))
	return nil
}

// StoreEvents buffers every event in order.
func (o *Outbox) StoreEvents(ctx context.Context, tx *store.WriteTransaction, events []domain.Event) error {
	for _, ev := range events {
		if err := o.StoreEventFor(ctx, tx, ev); err != nil {
			return err
		}
	}
	return nil
}

// GetUnprocessedItems returns up to maxCount pending items, oldest first,
// across both tables.
func (o *Outbox) GetUnprocessedItems(ctx context.Context, maxCount int) ([]*Item, error) {
	if maxCount <= 0 {
		return nil, nil
	}
	var items []*Item
	for _, table := range o.tables() {
		stored, err := o.store.Query(ctx, store.QueryInput{
			Table:     table,
			Index:     store.IndexGSI1,
			Partition: partitionPending,
			Limit:     maxCount,
		})
		if err != nil {
			return nil, err
		}
		for _, s := range stored {
			item, err := fromStoreItem(table, s)
			if err != nil {
				return nil, err
			}
			if item.Pending() {
				items = append(items, item)
			}
		}
	}
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].EventTime.Before(items[b].EventTime)
	})
	if len(items) > maxCount {
		items = items[:maxCount]
	}
	return items, nil
}

// UpdateOutboxItem writes back the delivery outcome right away. The write
// only applies while the stored item is still pending, so an outcome is
// recorded once.
func (o *Outbox) UpdateOutboxItem(ctx context.Context, item *Item) error {
	table := item.table
	if table == "" {
		table = o.tableFor(item.EventType)
	}
	key := itemKey(item.ID, item.EventType)
	set := store.Item{
		attrProcessed:     item.Processed,
		attrFailed:        item.Failed,
		attrFailureReason: item.FailureReason,
		store.AttrGSI1PK:  statusPartition(item),
	}
	if item.TraceID != "" {
		set[attrTraceID] = item.TraceID
	}
	applied, err := o.store.ConditionalUpdate(ctx, store.UpdateInput{
		Table: table,
		Key:   key,
		Set:   set,
		Conditions: []store.Condition{
			store.Equals(attrOutboxID, item.ID),
			store.Equals(attrProcessed, false),
			store.Equals(attrFailed, false),
		},
	})
	if err != nil {
		return fmt.Errorf("updating outbox item %s: %w", item.ID, err)
	}
	if applied {
		return nil
	}
	current, err := o.store.Get(ctx, table, key)
	if err != nil {
		return fmt.Errorf("reading outbox item %s: %w", item.ID, err)
	}
	if current == nil {
		return fmt.Errorf("%w: %s", ErrItemNotFound, item.ID)
	}
	return fmt.Errorf("%w: %s", ErrItemSettled, item.ID)
}

func (o *Outbox) tableFor(eventType string) string {
	if domain.IsPrinterEvent(eventType) {
		return o.printersTable
	}
	return o.jobsTable
}

func (o *Outbox) tables() []string {
	if o.printersTable == o.jobsTable {
		return []string{o.jobsTable}
	}
	return []string{o.printersTable, o.jobsTable}
}

func itemKey(id, eventType string) store.Key {
	return store.Key{PK: "OUTBOX#" + id, SK: "EVENT#" + eventType}
}

func statusPartition(i *Item) string {
	switch {
	case i.Processed:
		return partitionProcessed
	case i.Failed:
		return partitionFailed
	default:
		return partitionPending
	}
}

func toStoreItem(i *Item) store.Item {
	key := itemKey(i.ID, i.EventType)
	item := store.Item{
		store.AttrPK:     key.PK,
		store.AttrSK:     key.SK,
		store.AttrGSI1PK: statusPartition(i),
		store.AttrGSI1SK: store.FormatTime(i.EventTime),
		store.AttrTTL:    i.EventTime.Add(Retention).Unix(),
		attrItemType:     itemType,
		attrOutboxID:     i.ID,
		attrEventType:    i.EventType,
		attrEventData:    i.EventData,
		attrEventTime:    store.FormatTime(i.EventTime),
		attrProcessed:    i.Processed,
		attrFailed:       i.Failed,
	}
	if i.FailureReason != "" {
		item[attrFailureReason] = i.FailureReason
	}
	if i.TraceID != "" {
		item[attrTraceID] = i.TraceID
	}
	if i.OwnerKey != "" {
		item[attrOwnerKey] = i.OwnerKey
	}
	return item
}

func fromStoreItem(table string, s store.Item) (*Item, error) {
	t, _, err := s.Time(attrEventTime)
	if err != nil {
		return nil, err
	}
	return &Item{
		ID:            s.String(attrOutboxID),
		EventType:     s.String(attrEventType),
		EventData:     s.String(attrEventData),
		EventTime:     t,
		Processed:     s.Bool(attrProcessed),
		Failed:        s.Bool(attrFailed),
		FailureReason: s.String(attrFailureReason),
		TraceID:       s.String(attrTraceID),
		OwnerKey:      s.String(attrOwnerKey),
		table:         table,
	}, nil
}
