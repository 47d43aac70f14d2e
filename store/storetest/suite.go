// Package storetest holds a behavioral suite that every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stickerlandia/printq/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const table = "suite"

func item(pk, sk string, attrs ...any) store.Item {
	i := store.Item{store.AttrPK: pk, store.AttrSK: sk}
	for n := 0; n+1 < len(attrs); n += 2 {
		i[attrs[n].(string)] = attrs[n+1]
	}
	return i
}

// Run executes the suite. newStore must return an empty store each time.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, table, item("P", "S", "Name", "one", "Count", int64(2), "Flag", true)))

		got, err := s.Get(ctx, table, store.Key{PK: "P", SK: "S"})
		require.NoError(t, err)
		assert.Equal(t, "one", got.String("Name"))
		assert.Equal(t, int64(2), got.Int("Count"))
		assert.True(t, got.Bool("Flag"))

		missing, err := s.Get(ctx, table, store.Key{PK: "P", SK: "missing"})
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("put replaces the whole item", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, table, item("P", "S", "A", "1", "B", "2")))
		require.NoError(t, s.Put(ctx, table, item("P", "S", "A", "3")))

		got, err := s.Get(ctx, table, store.Key{PK: "P", SK: "S"})
		require.NoError(t, err)
		assert.Equal(t, "3", got.String("A"))
		assert.False(t, got.Has("B"))
	})

	t.Run("conditional put", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, table, item("P", "S", "A", "1"), store.NotExists(store.AttrPK)))
		err := s.Put(ctx, table, item("P", "S", "A", "2"), store.NotExists(store.AttrPK))
		assert.ErrorIs(t, err, store.ErrConditionFailed)

		got, err := s.Get(ctx, table, store.Key{PK: "P", SK: "S"})
		require.NoError(t, err)
		assert.Equal(t, "1", got.String("A"))
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, table, item("P", "S")))
		require.NoError(t, s.Delete(ctx, table, store.Key{PK: "P", SK: "S"}))
		require.NoError(t, s.Delete(ctx, table, store.Key{PK: "P", SK: "S"}))

		got, err := s.Get(ctx, table, store.Key{PK: "P", SK: "S"})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("query orders by sort attribute", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, table, item("P", "S1", store.AttrGSI1PK, "G", store.AttrGSI1SK, "2025-01-03")))
		require.NoError(t, s.Put(ctx, table, item("P", "S2", store.AttrGSI1PK, "G", store.AttrGSI1SK, "2025-01-01")))
		require.NoError(t, s.Put(ctx, table, item("P", "S3", store.AttrGSI1PK, "G", store.AttrGSI1SK, "2025-01-02")))
		require.NoError(t, s.Put(ctx, table, item("Q", "S4", store.AttrGSI1PK, "H", store.AttrGSI1SK, "2025-01-01")))

		got, err := s.Query(ctx, store.QueryInput{Table: table, Index: store.IndexGSI1, Partition: "G"})
		require.NoError(t, err)
		assert.Equal(t, []string{"S2", "S3", "S1"}, sortKeys(got))

		got, err = s.Query(ctx, store.QueryInput{Table: table, Index: store.IndexGSI1, Partition: "G", Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"S2", "S3"}, sortKeys(got))

		got, err = s.Query(ctx, store.QueryInput{Table: table, Index: store.IndexGSI1, Partition: "G", Descending: true, Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"S1"}, sortKeys(got))

		got, err = s.Query(ctx, store.QueryInput{Table: table, Partition: "P"})
		require.NoError(t, err)
		assert.Equal(t, []string{"S1", "S2", "S3"}, sortKeys(got))

		got, err = s.Query(ctx, store.QueryInput{Table: table, Index: store.IndexGSI1, Partition: "none"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("scan filters by condition", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, table, item("P1", "S", "Kind", "a")))
		require.NoError(t, s.Put(ctx, table, item("P2", "S", "Kind", "b")))
		require.NoError(t, s.Put(ctx, table, item("P3", "S", "Kind", "a", "Extra", "x")))

		got, err := s.Scan(ctx, table, store.Equals("Kind", "a"))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"P1", "P3"}, partitionKeys(got))

		got, err = s.Scan(ctx, table, store.Equals("Kind", "a"), store.NotExists("Extra"))
		require.NoError(t, err)
		assert.Equal(t, []string{"P1"}, partitionKeys(got))

		got, err = s.Scan(ctx, table)
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("conditional update", func(t *testing.T) {
		s := newStore(t)
		key := store.Key{PK: "P", SK: "S"}
		require.NoError(t, s.Put(ctx, table, item("P", "S", "Status", "Queued", "Other", "kept")))

		applied, err := s.ConditionalUpdate(ctx, store.UpdateInput{
			Table:      table,
			Key:        key,
			Set:        store.Item{"Status": "Processing"},
			Conditions: []store.Condition{store.Equals("Status", "Queued")},
		})
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = s.ConditionalUpdate(ctx, store.UpdateInput{
			Table:      table,
			Key:        key,
			Set:        store.Item{"Status": "Processing", "Other": "changed"},
			Conditions: []store.Condition{store.Equals("Status", "Queued")},
		})
		require.NoError(t, err)
		assert.False(t, applied)

		got, err := s.Get(ctx, table, key)
		require.NoError(t, err)
		assert.Equal(t, "Processing", got.String("Status"))
		assert.Equal(t, "kept", got.String("Other"))

		applied, err = s.ConditionalUpdate(ctx, store.UpdateInput{
			Table:      table,
			Key:        store.Key{PK: "P", SK: "missing"},
			Set:        store.Item{"Status": "Processing"},
			Conditions: []store.Condition{store.Equals("Status", "Queued")},
		})
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("transact write is atomic", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, table, item("P", "existing")))

		err := s.TransactWrite(ctx, []store.WriteOp{
			{Table: table, Put: item("P", "new")},
			{Table: table, Put: item("P", "existing"), Conditions: []store.Condition{store.NotExists(store.AttrPK)}},
		})
		assert.ErrorIs(t, err, store.ErrConditionFailed)

		got, err := s.Get(ctx, table, store.Key{PK: "P", SK: "new"})
		require.NoError(t, err)
		assert.Nil(t, got)

		err = s.TransactWrite(ctx, []store.WriteOp{
			{Table: table, Put: item("P", "new")},
			{Table: table, Delete: &store.Key{PK: "P", SK: "existing"}},
		})
		require.NoError(t, err)

		got, err = s.Get(ctx, table, store.Key{PK: "P", SK: "new"})
		require.NoError(t, err)
		assert.NotNil(t, got)
		got, err = s.Get(ctx, table, store.Key{PK: "P", SK: "existing"})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("transact write rejects oversized batches", func(t *testing.T) {
		s := newStore(t)
		ops := make([]store.WriteOp, store.MaxTransactItems+1)
		for n := range ops {
			ops[n] = store.WriteOp{Table: table, Put: item("P", fmt.Sprintf("S%03d", n))}
		}
		assert.ErrorIs(t, s.TransactWrite(ctx, ops), store.ErrTooManyItems)
	})

	t.Run("batch delete", func(t *testing.T) {
		s := newStore(t)
		var keys []store.Key
		for n := 0; n < store.MaxBatchItems; n++ {
			i := item("P", fmt.Sprintf("S%02d", n))
			require.NoError(t, s.Put(ctx, table, i))
			keys = append(keys, i.Key())
		}
		require.NoError(t, s.Put(ctx, table, item("P", "survivor")))

		require.NoError(t, s.BatchDelete(ctx, table, keys))

		got, err := s.Query(ctx, store.QueryInput{Table: table, Partition: "P"})
		require.NoError(t, err)
		assert.Equal(t, []string{"survivor"}, sortKeys(got))

		assert.ErrorIs(t, s.BatchDelete(ctx, table, make([]store.Key, store.MaxBatchItems+1)), store.ErrTooManyItems)
	})

	t.Run("concurrent conditional updates apply once", func(t *testing.T) {
		s := newStore(t)
		key := store.Key{PK: "P", SK: "S"}
		require.NoError(t, s.Put(ctx, table, item("P", "S", "Status", "Queued")))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for n := 0; n < 8; n++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				applied, err := s.ConditionalUpdate(ctx, store.UpdateInput{
					Table:      table,
					Key:        key,
					Set:        store.Item{"Status": "Processing", "Owner": fmt.Sprint(n)},
					Conditions: []store.Condition{store.Equals("Status", "Queued")},
				})
				assert.NoError(t, err)
				if applied {
					wins.Add(1)
				}
			}(n)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func sortKeys(items []store.Item) []string {
	var keys []string
	for _, i := range items {
		keys = append(keys, i.String(store.AttrSK))
	}
	return keys
}

func partitionKeys(items []store.Item) []string {
	var keys []string
	for _, i := range items {
		keys = append(keys, i.String(store.AttrPK))
	}
	return keys
}
