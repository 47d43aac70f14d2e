// Package registry stores printers keyed by event, with a secondary index on
// their API key.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stickerlandia/printq/clock"
	"github.com/stickerlandia/printq/domain"
	"github.com/stickerlandia/printq/logger"
	"github.com/stickerlandia/printq/store"
)

const (
	itemType = "Printer"

	attrItemType         = "ItemType"
	attrEventName        = "EventName"
	attrPrinterName      = "PrinterName"
	attrKey              = "Key"
	attrLastHeartbeat    = "LastHeartbeat"
	attrLastJobProcessed = "LastJobProcessed"
)

// Registry implements the printer repository.
type Registry struct {
	store  store.Store
	table  string
	clock  clock.Clock
	window time.Duration
	logger logger.Logger
}

// opt allows optional configuration.
type opt func(r *Registry)

// WithLogger allows clients to configure an optional logger.
func WithLogger(l logger.Logger) opt {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock replaces the wall clock used for heartbeats and status.
func WithClock(c clock.Clock) opt {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithOnlineWindow overrides domain.DefaultOnlineWindow.
func WithOnlineWindow(d time.Duration) opt {
	return func(r *Registry) {
		if d > 0 {
			r.window = d
		}
	}
}

func New(s store.Store, table string, options ...opt) *Registry {
	if s == nil {
		panic("store is mandatory")
	}
	if table == "" {
		panic("table is mandatory")
	}
	r := &Registry{
		store:  s,
		table:  table,
		clock:  clock.RealClock{},
		window: domain.DefaultOnlineWindow,
		logger: &logger.NopLogger{},
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// Table returns the name of the printers table.
func (r *Registry) Table() string {
	return r.table
}

// Register creates a printer and buffers its write. The buffered put only
// succeeds if no printer with the same identity was written meanwhile, in
// which case the commit fails with store.ErrConditionFailed. Ids are unique
// across events too: ("A-B", "C") and ("A", "B-C") would share a jobs
// partition, so the second one is rejected.
func (r *Registry) Register(ctx context.Context, tx *store.WriteTransaction, eventName, printerName string) (*domain.Printer, error) {
	p, err := domain.RegisterPrinter(eventName, printerName)
	if err != nil {
		return nil, err
	}
	existing, err := r.store.Get(ctx, r.table, printerKey(p.EventName, p.ID))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrPrinterExists, p.ID)
	}
	other, err := r.FindByID(ctx, p.ID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s is taken by event %s", domain.ErrPrinterExists, p.ID, other.EventName)
	case !errors.Is(err, domain.ErrPrinterNotFound):
		return nil, err
	}
	tx.AddPut(r.table, toItem(p), store.NotExists(store.AttrPK))
	r.logger.Debug(fmt.Sprintf("printer %s registered", p.ID))
	return p, nil
}

// FindByAPIKey resolves a printer through the API key index.
func (r *Registry) FindByAPIKey(ctx context.Context, apiKey string) (*domain.Printer, error) {
	items, err := r.store.Query(ctx, store.QueryInput{
		Table:     r.table,
		Index:     store.IndexGSI1,
		Partition: apiKey,
		Limit:     1,
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 || items[0].String(attrItemType) != itemType {
		return nil, domain.ErrPrinterNotFound
	}
	return fromItem(items[0])
}

// ValidateKey returns the printer owning apiKey.
func (r *Registry) ValidateKey(ctx context.Context, apiKey string) (*domain.Printer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: api key is required", domain.ErrInvalidArgument)
	}
	return r.FindByAPIKey(ctx, apiKey)
}

func (r *Registry) FindByEventAndName(ctx context.Context, eventName, printerName string) (*domain.Printer, error) {
	item, err := r.store.Get(ctx, r.table, printerKey(eventName, domain.PrinterID(eventName, printerName)))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrPrinterNotFound
	}
	return fromItem(item)
}

// FindByID looks a printer up by id alone. It scans the table.
func (r *Registry) FindByID(ctx context.Context, id string) (*domain.Printer, error) {
	items, err := r.store.Scan(ctx, r.table,
		store.Equals(attrItemType, itemType),
		store.Equals(store.AttrSK, id),
	)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.ErrPrinterNotFound
	}
	return fromItem(items[0])
}

// ListForEvent returns the printers of an event ordered by id.
func (r *Registry) ListForEvent(ctx context.Context, eventName string) ([]*domain.Printer, error) {
	items, err := r.store.Query(ctx, store.QueryInput{
		Table:     r.table,
		Partition: eventPartition(eventName),
	})
	if err != nil {
		return nil, err
	}
	printers := make([]*domain.Printer, 0, len(items))
	for _, item := range items {
		if item.String(attrItemType) != itemType {
			continue
		}
		p, err := fromItem(item)
		if err != nil {
			return nil, err
		}
		printers = append(printers, p)
	}
	return printers, nil
}

// ListEvents returns the distinct event names having printers. It scans the
// table.
func (r *Registry) ListEvents(ctx context.Context) ([]string, error) {
	items, err := r.store.Scan(ctx, r.table, store.Equals(attrItemType, itemType))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var events []string
	for _, item := range items {
		name := item.String(attrEventName)
		if _, ok := seen[eventPartition(name)]; ok {
			continue
		}
		seen[eventPartition(name)] = struct{}{}
		events = append(events, name)
	}
	sort.Strings(events)
	return events, nil
}

// RecordHeartbeat stores the current time as the last heartbeat of the
// printer. The write is immediate and raises no event.
func (r *Registry) RecordHeartbeat(ctx context.Context, p *domain.Printer) error {
	now := r.clock.Now()
	applied, err := r.store.ConditionalUpdate(ctx, store.UpdateInput{
		Table: r.table,
		Key:   printerKey(p.EventName, p.ID),
		Set:   store.Item{attrLastHeartbeat: store.FormatTime(now)},
	})
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("%w: %s", domain.ErrPrinterNotFound, p.ID)
	}
	p.RecordHeartbeat(now)
	return nil
}

// Update buffers a full replace of the printer.
func (r *Registry) Update(tx *store.WriteTransaction, p *domain.Printer) {
	tx.AddPut(r.table, toItem(p))
}

// Delete loads the printer, buffers its removal and raises
// PrinterDeletedEvent on the returned aggregate.
func (r *Registry) Delete(ctx context.Context, tx *store.WriteTransaction, eventName, printerName string) (*domain.Printer, error) {
	p, err := r.FindByEventAndName(ctx, eventName, printerName)
	if err != nil {
		return nil, err
	}
	r.DeletePrinter(tx, p)
	return p, nil
}

// DeletePrinter buffers the removal of an already loaded printer.
func (r *Registry) DeletePrinter(tx *store.WriteTransaction, p *domain.Printer) {
	tx.AddDelete(r.table, printerKey(p.EventName, p.ID))
	p.Delete()
}

// Status derives the printer status using the registry clock and window.
func (r *Registry) Status(p *domain.Printer) domain.PrinterStatus {
	return p.Status(r.clock.Now(), r.window)
}

func eventPartition(eventName string) string {
	return strings.ToUpper(strings.TrimSpace(eventName))
}

func printerKey(eventName, id string) store.Key {
	return store.Key{PK: eventPartition(eventName), SK: id}
}

func toItem(p *domain.Printer) store.Item {
	item := store.Item{
		store.AttrPK:     eventPartition(p.EventName),
		store.AttrSK:     p.ID,
		store.AttrGSI1PK: p.Key,
		store.AttrGSI1SK: p.ID,
		attrItemType:     itemType,
		attrEventName:    p.EventName,
		attrPrinterName:  p.PrinterName,
		attrKey:          p.Key,
	}
	if p.LastHeartbeat != nil {
		item[attrLastHeartbeat] = store.FormatTime(*p.LastHeartbeat)
	}
	if p.LastJobProcessed != nil {
		item[attrLastJobProcessed] = store.FormatTime(*p.LastJobProcessed)
	}
	return item
}

func fromItem(item store.Item) (*domain.Printer, error) {
	hb, err := optionalTime(item, attrLastHeartbeat)
	if err != nil {
		return nil, err
	}
	processed, err := optionalTime(item, attrLastJobProcessed)
	if err != nil {
		return nil, err
	}
	if item.String(store.AttrSK) == "" {
		return nil, errors.New("printer item without id")
	}
	return domain.PrinterFrom(
		item.String(store.AttrSK),
		item.String(attrEventName),
		item.String(attrPrinterName),
		item.String(attrKey),
		hb,
		processed,
	), nil
}

func optionalTime(item store.Item, attr string) (*time.Time, error) {
	t, ok, err := item.Time(attr)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}
