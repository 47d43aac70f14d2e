package store

import (
	"context"
	"errors"
	"fmt"
)

const (
	MaxTransactItems = 100 // maximum number of operations in one atomic write
	MaxBatchItems    = 25  // maximum number of keys per batch request

	AttrPK     = "PK"
	AttrSK     = "SK"
	AttrGSI1PK = "GSI1PK"
	AttrGSI1SK = "GSI1SK"
	AttrTTL    = "TTL"

	IndexGSI1 = "GSI1"
)

var (
	// ErrConditionFailed is returned when a conditional write was rejected
	// because the stored item did not satisfy the condition.
	ErrConditionFailed = errors.New("condition failed")

	// ErrTooManyItems is returned when a write exceeds the store limits.
	ErrTooManyItems = errors.New("too many items")

	// ErrUncommitted reports buffered writes discarded without commit.
	ErrUncommitted = errors.New("uncommitted transaction")

	// ErrUnknownIndex is returned when a query names an unsupported index.
	ErrUnknownIndex = errors.New("unknown index")
)

// Key identifies an item inside a table.
type Key struct {
	PK string
	SK string
}

// Condition is a predicate evaluated against the stored item at write time.
// With NotExists set the attribute must be absent (or the item missing);
// otherwise the attribute must equal Value.
type Condition struct {
	Attr      string
	Value     any
	NotExists bool
}

// Equals builds an equality condition.
func Equals(attr string, v any) Condition {
	return Condition{Attr: attr, Value: v}
}

// NotExists builds an absence condition.
func NotExists(attr string) Condition {
	return Condition{Attr: attr, NotExists: true}
}

// QueryInput selects items sharing a partition value, ordered by the sort
// attribute of the table or of the named index.
type QueryInput struct {
	Table      string
	Index      string // empty for the primary key
	Partition  string
	Limit      int // 0 means unlimited
	Descending bool
}

// UpdateInput sets attributes on an existing item when every condition holds.
type UpdateInput struct {
	Table      string
	Key        Key
	Set        Item
	Conditions []Condition
}

// WriteOp is a single put or delete inside an atomic write.
type WriteOp struct {
	Table      string
	Put        Item
	Delete     *Key
	Conditions []Condition
}

// Store is a partitioned key-value store with conditional writes,
// secondary index queries and bounded atomic batches.
type Store interface {
	// Put writes a full item, replacing any item with the same key.
	Put(ctx context.Context, table string, item Item, conds ...Condition) error

	// Delete removes an item. Deleting a missing item is not an error.
	Delete(ctx context.Context, table string, key Key) error

	// Get returns the item or nil when it does not exist.
	Get(ctx context.Context, table string, key Key) (Item, error)

	// Query returns the items of a partition ordered by sort attribute.
	Query(ctx context.Context, in QueryInput) ([]Item, error)

	// Scan reads a whole table filtering by the given conditions. It is only
	// meant for low cardinality lookups lacking a dedicated index.
	Scan(ctx context.Context, table string, filter ...Condition) ([]Item, error)

	// ConditionalUpdate applies the update atomically. A failed condition is
	// reported as applied=false with a nil error and leaves the item untouched.
	ConditionalUpdate(ctx context.Context, in UpdateInput) (applied bool, err error)

	// TransactWrite applies between 1 and MaxTransactItems operations
	// atomically. A failed condition aborts the whole batch with ErrConditionFailed.
	TransactWrite(ctx context.Context, ops []WriteOp) error

	// BatchDelete removes up to MaxBatchItems keys. It is not atomic.
	BatchDelete(ctx context.Context, table string, keys []Key) error
}

// IndexAttrs returns the partition and sort attribute names of an index.
func IndexAttrs(index string) (pk string, sk string, err error) {
	switch index {
	case "":
		return AttrPK, AttrSK, nil
	case IndexGSI1:
		return AttrGSI1PK, AttrGSI1SK, nil
	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnknownIndex, index)
	}
}

// Chunk splits keys in slices of at most size elements.
func Chunk(keys []Key, size int) [][]Key {
	var chunks [][]Key
	for i := 0; i < len(keys); i += size {
		end := i + size
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[i:end])
	}
	return chunks
}
