package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stickerlandia/printq/store"
)

// Store is an in-memory store.Store. Every operation runs under one mutex, so
// conditional writes and atomic batches are linearizable.
type Store struct {
	mu     sync.Mutex
	tables map[string]map[store.Key]store.Item
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{tables: make(map[string]map[store.Key]store.Item)}
}

func (s *Store) table(name string) map[store.Key]store.Item {
	t, ok := s.tables[name]
	if !ok {
		t = make(map[store.Key]store.Item)
		s.tables[name] = t
	}
	return t
}

func (s *Store) Put(ctx context.Context, table string, item store.Item, conds ...store.Condition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(table)
	if !matches(t[item.Key()], conds) {
		return store.ErrConditionFailed
	}
	t[item.Key()] = store.Normalize(item.Clone())
	return nil
}

func (s *Store) Delete(ctx context.Context, table string, key store.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.table(table), key)
	return nil
}

func (s *Store) Get(ctx context.Context, table string, key store.Key) (store.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.table(table)[key].Clone(), nil
}

func (s *Store) Query(ctx context.Context, in store.QueryInput) ([]store.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pkAttr, skAttr, err := store.IndexAttrs(in.Index)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []store.Item
	for _, i := range s.table(in.Table) {
		if i.Has(pkAttr) && i.String(pkAttr) == in.Partition {
			items = append(items, i.Clone())
		}
	}
	sort.SliceStable(items, func(a, b int) bool {
		sa, sb := items[a].String(skAttr), items[b].String(skAttr)
		if sa == sb {
			// tie-break on the primary key to keep results deterministic
			sa, sb = items[a].String(store.AttrSK), items[b].String(store.AttrSK)
		}
		if in.Descending {
			return sa > sb
		}
		return sa < sb
	})
	if in.Limit > 0 && len(items) > in.Limit {
		items = items[:in.Limit]
	}
	return items, nil
}

func (s *Store) Scan(ctx context.Context, table string, filter ...store.Condition) ([]store.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []store.Item
	for _, i := range s.table(table) {
		if matches(i, filter) {
			items = append(items, i.Clone())
		}
	}
	sort.Slice(items, func(a, b int) bool {
		ka, kb := items[a].Key(), items[b].Key()
		if ka.PK == kb.PK {
			return ka.SK < kb.SK
		}
		return ka.PK < kb.PK
	})
	return items, nil
}

func (s *Store) ConditionalUpdate(ctx context.Context, in store.UpdateInput) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(in.Table)
	current, ok := t[in.Key]
	if !ok || !matches(current, in.Conditions) {
		return false, nil
	}
	updated := current.Clone()
	for k, v := range in.Set {
		updated[k] = v
	}
	t[in.Key] = store.Normalize(updated)
	return true, nil
}

func (s *Store) TransactWrite(ctx context.Context, ops []store.WriteOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ops) == 0 || len(ops) > store.MaxTransactItems {
		return fmt.Errorf("%w: %d operations", store.ErrTooManyItems, len(ops))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for idx, op := range ops {
		key := opKey(op)
		if !matches(s.table(op.Table)[key], op.Conditions) {
			return fmt.Errorf("transaction canceled at operation %d: %w", idx, store.ErrConditionFailed)
		}
	}
	for _, op := range ops {
		t := s.table(op.Table)
		if op.Put != nil {
			t[op.Put.Key()] = store.Normalize(op.Put.Clone())
		} else {
			delete(t, *op.Delete)
		}
	}
	return nil
}

func (s *Store) BatchDelete(ctx context.Context, table string, keys []store.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(keys) > store.MaxBatchItems {
		return fmt.Errorf("%w: %d keys in one batch", store.ErrTooManyItems, len(keys))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(table)
	for _, k := range keys {
		delete(t, k)
	}
	return nil
}

// Len returns the number of items stored in a table.
func (s *Store) Len(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.table(table))
}

func opKey(op store.WriteOp) store.Key {
	if op.Put != nil {
		return op.Put.Key()
	}
	return *op.Delete
}

// matches evaluates conditions against the stored item, nil when missing.
func matches(item store.Item, conds []store.Condition) bool {
	for _, c := range conds {
		v, ok := item[c.Attr]
		if c.NotExists {
			if ok {
				return false
			}
			continue
		}
		if !ok || !store.ValuesEqual(v, c.Value) {
			return false
		}
	}
	return true
}
