package outbox

import (
	"context"
	"time"
)

// Item is a domain event staged for delivery.
type Item struct {
	ID            string
	EventType     string
	EventData     string
	EventTime     time.Time
	Processed     bool
	Failed        bool
	FailureReason string
	TraceID       string
	OwnerKey      string

	table string
}

// Pending reports whether the item still awaits delivery.
func (i *Item) Pending() bool {
	return !i.Processed && !i.Failed
}

// MarkProcessed flags a successful delivery.
func (i *Item) MarkProcessed() {
	i.Processed = true
	i.Failed = false
	i.FailureReason = ""
}

// MarkFailed flags a permanent delivery failure.
func (i *Item) MarkFailed(reason string) {
	i.Processed = false
	i.Failed = true
	i.FailureReason = reason
}

type itemCtxKey struct{}

// ContextWithItem attaches the item being delivered to ctx so publishers can
// use its id as a deduplication key.
func ContextWithItem(ctx context.Context, i *Item) context.Context {
	return context.WithValue(ctx, itemCtxKey{}, i)
}

// ItemFromContext returns the item attached by ContextWithItem, if any.
func ItemFromContext(ctx context.Context) (*Item, bool) {
	i, ok := ctx.Value(itemCtxKey{}).(*Item)
	return i, ok
}
