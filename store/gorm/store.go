package gorm

import (
	"context"
	"fmt"

	"github.com/stickerlandia/printq/logger"
	"github.com/stickerlandia/printq/store"
	"github.com/stickerlandia/printq/store/internal/sqlgen"
	"gorm.io/gorm"
)

// Store implements store.Store on the Postgres "items" table through gorm.
type Store struct {
	db     *gorm.DB
	logger logger.Logger
}

var _ logger.Loggable = (*Store)(nil)
var _ store.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	if db == nil {
		panic("db is mandatory")
	}
	return &Store{
		db:     db,
		logger: &logger.NopLogger{},
	}
}

// SetLogger sets an optional logger.
func (s *Store) SetLogger(l logger.Logger) {
	s.logger = l
}

func (s *Store) Put(ctx context.Context, table string, item store.Item, conds ...store.Condition) error {
	st, err := sqlgen.Put(table, item, conds)
	if err != nil {
		return err
	}
	return exec(s.db.WithContext(ctx), st, len(conds) > 0)
}

func (s *Store) Delete(ctx context.Context, table string, key store.Key) error {
	st, err := sqlgen.Delete(table, key, nil)
	if err != nil {
		return err
	}
	return exec(s.db.WithContext(ctx), st, false)
}

func (s *Store) Get(ctx context.Context, table string, key store.Key) (store.Item, error) {
	items, err := s.query(ctx, sqlgen.Get(table, key))
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

func (s *Store) Query(ctx context.Context, in store.QueryInput) ([]store.Item, error) {
	st, err := sqlgen.Query(in)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, st)
}

func (s *Store) Scan(ctx context.Context, table string, filter ...store.Condition) ([]store.Item, error) {
	st, err := sqlgen.Scan(table, filter)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, st)
}

func (s *Store) ConditionalUpdate(ctx context.Context, in store.UpdateInput) (bool, error) {
	st, err := sqlgen.Update(in)
	if err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Exec(st.SQL, st.Args...)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// TransactWrite runs every operation inside one gorm transaction.
func (s *Store) TransactWrite(ctx context.Context, ops []store.WriteOp) error {
	if len(ops) == 0 || len(ops) > store.MaxTransactItems {
		return fmt.Errorf("%w: %d operations", store.ErrTooManyItems, len(ops))
	}
	stmts := make([]sqlgen.Statement, len(ops))
	for i, op := range ops {
		var err error
		if op.Put != nil {
			stmts[i], err = sqlgen.Put(op.Table, op.Put, op.Conditions)
		} else {
			stmts[i], err = sqlgen.Delete(op.Table, *op.Delete, op.Conditions)
		}
		if err != nil {
			return err
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, st := range stmts {
			if err := exec(tx, st, len(ops[i].Conditions) > 0); err != nil {
				return fmt.Errorf("transaction canceled at operation %d: %w", i, err)
			}
		}
		return nil
	})
}

func (s *Store) BatchDelete(ctx context.Context, table string, keys []store.Key) error {
	if len(keys) == 0 {
		return nil
	}
	if len(keys) > store.MaxBatchItems {
		return fmt.Errorf("%w: %d keys in one batch", store.ErrTooManyItems, len(keys))
	}
	st := sqlgen.BatchDelete(table, keys)
	return s.db.WithContext(ctx).Exec(st.SQL, st.Args...).Error
}

func exec(db *gorm.DB, st sqlgen.Statement, conditional bool) error {
	res := db.Exec(st.SQL, st.Args...)
	if res.Error != nil {
		return res.Error
	}
	if conditional && res.RowsAffected == 0 {
		return store.ErrConditionFailed
	}
	return nil
}

func (s *Store) query(ctx context.Context, st sqlgen.Statement) ([]store.Item, error) {
	rows, err := s.db.WithContext(ctx).Raw(st.SQL, st.Args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []store.Item
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		item, err := sqlgen.DecodeAttrs(raw)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
