package store

import (
	"context"
	"fmt"

	"github.com/stickerlandia/printq/logger"
)

// WriteTransaction buffers the writes issued by one command and commits them
// as a single unit. It is owned by one command and is not safe for concurrent
// use.
type WriteTransaction struct {
	store     Store
	logger    logger.Logger
	ops       []WriteOp
	committed bool
	faulted   bool
}

// txOpt allows optional configuration.
type txOpt func(t *WriteTransaction)

// WithTxLogger allows clients to configure an optional logger.
func WithTxLogger(l logger.Logger) txOpt {
	return func(t *WriteTransaction) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewWriteTransaction creates an empty buffer over the provided store.
func NewWriteTransaction(s Store, options ...txOpt) *WriteTransaction {
	if s == nil {
		panic("store is mandatory")
	}
	t := &WriteTransaction{
		store:  s,
		logger: &logger.NopLogger{},
	}
	for _, o := range options {
		o(t)
	}
	return t
}

// AddPut buffers a put. No I/O is performed.
func (t *WriteTransaction) AddPut(table string, item Item, conds ...Condition) {
	t.ops = append(t.ops, WriteOp{Table: table, Put: item.Clone(), Conditions: conds})
}

// AddDelete buffers a delete. No I/O is performed.
func (t *WriteTransaction) AddDelete(table string, key Key) {
	k := key
	t.ops = append(t.ops, WriteOp{Table: table, Delete: &k})
}

// Len returns the number of buffered operations.
func (t *WriteTransaction) Len() int {
	return len(t.ops)
}

// Committed reports whether Commit already succeeded.
func (t *WriteTransaction) Committed() bool {
	return t.committed
}

// MarkFaulted flags that the owning command failed, so discarding the buffer
// without commit is expected.
func (t *WriteTransaction) MarkFaulted() {
	t.faulted = true
}

// Commit writes the buffered operations. A single operation is issued as a
// plain write, two or more as one atomic batch. Calling Commit again after a
// successful commit is a no-op.
func (t *WriteTransaction) Commit(ctx context.Context) error {
	if t.committed {
		return nil
	}
	if len(t.ops) > MaxTransactItems {
		return fmt.Errorf("%w: %d operations buffered, the maximum is %d", ErrTooManyItems, len(t.ops), MaxTransactItems)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var err error
	switch len(t.ops) {
	case 0:
	case 1:
		op := t.ops[0]
		if op.Put != nil {
			err = t.store.Put(ctx, op.Table, op.Put, op.Conditions...)
		} else {
			err = t.store.Delete(ctx, op.Table, *op.Delete)
		}
	default:
		err = t.store.TransactWrite(ctx, t.ops)
	}
	if err != nil {
		return fmt.Errorf("committing %d operations: %w", len(t.ops), err)
	}

	t.logger.Debug(fmt.Sprintf("committed %d operations", len(t.ops)))
	t.ops = nil
	t.committed = true
	return nil
}

// Close discards the buffer. Pending operations are reported as expected when
// the transaction was marked faulted and as lost otherwise.
func (t *WriteTransaction) Close() {
	if len(t.ops) == 0 {
		return
	}
	if t.faulted {
		t.logger.Warn(fmt.Sprintf("transaction discarded after a failure, %d operations were not committed", len(t.ops)))
	} else {
		t.logger.Error(fmt.Sprintf("transaction discarded without commit, %d operations were LOST", len(t.ops)), ErrUncommitted)
	}
	t.ops = nil
}
