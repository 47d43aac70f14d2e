package pgxv5

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stickerlandia/printq/logger"
	"github.com/stickerlandia/printq/store"
	"github.com/stickerlandia/printq/store/internal/sqlgen"
)

// dbpool is a helper interface to work with pgxpool.Pool.
type dbpool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...interface{}) (commandTag pgconn.CommandTag, err error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// executor is satisfied by both the pool and a pgx.Tx.
type executor interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (commandTag pgconn.CommandTag, err error)
}

// Store implements store.Store on the Postgres "items" table using pgx.
type Store struct {
	db     dbpool
	logger logger.Logger
}

var _ logger.Loggable = (*Store)(nil)
var _ store.Store = (*Store)(nil)

func New(pool dbpool) *Store {
	if pool == nil || reflect.ValueOf(pool).IsNil() {
		panic("pool is mandatory")
	}
	return &Store{
		db:     pool,
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
	return s.exec(ctx, s.db, st, len(conds) > 0)
}

func (s *Store) Delete(ctx context.Context, table string, key store.Key) error {
	st, err := sqlgen.Delete(table, key, nil)
	if err != nil {
		return err
	}
	return s.exec(ctx, s.db, st, false)
}

func (s *Store) Get(ctx context.Context, table string, key store.Key) (store.Item, error) {
	st := sqlgen.Get(table, key)
	var raw []byte
	err := s.db.QueryRow(ctx, st.Dollar(), st.Args...).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sqlgen.DecodeAttrs(raw)
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
	ct, err := s.db.Exec(ctx, st.Dollar(), st.Args...)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// TransactWrite runs every operation inside one database transaction.
func (s *Store) TransactWrite(ctx context.Context, ops []store.WriteOp) (err error) {
	if len(ops) == 0 || len(ops) > store.MaxTransactItems {
		return fmt.Errorf("%w: %d operations", store.ErrTooManyItems, len(ops))
	}
	stmts := make([]sqlgen.Statement, len(ops))
	for i, op := range ops {
		if op.Put != nil {
			stmts[i], err = sqlgen.Put(op.Table, op.Put, op.Conditions)
		} else {
			stmts[i], err = sqlgen.Delete(op.Table, *op.Delete, op.Conditions)
		}
		if err != nil {
			return err
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Error("rolling back transaction", rbErr)
			}
		}
	}()

	for i, st := range stmts {
		if err = s.exec(ctx, tx, st, len(ops[i].Conditions) > 0); err != nil {
			return fmt.Errorf("transaction canceled at operation %d: %w", i, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) BatchDelete(ctx context.Context, table string, keys []store.Key) error {
	if len(keys) == 0 {
		return nil
	}
	if len(keys) > store.MaxBatchItems {
		return fmt.Errorf("%w: %d keys in one batch", store.ErrTooManyItems, len(keys))
	}
	st := sqlgen.BatchDelete(table, keys)
	_, err := s.db.Exec(ctx, st.Dollar(), st.Args...)
	return err
}

// PurgeExpired deletes the items whose TTL is before now and returns how
// many were removed.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	st := sqlgen.Purge(now.Unix())
	ct, err := s.db.Exec(ctx, st.Dollar(), st.Args...)
	if err != nil {
		return 0, err
	}
	s.logger.Debug(fmt.Sprintf("purged %d expired items", ct.RowsAffected()))
	return ct.RowsAffected(), nil
}

func (s *Store) exec(ctx context.Context, e executor, st sqlgen.Statement, conditional bool) error {
	ct, err := e.Exec(ctx, st.Dollar(), st.Args...)
	if err != nil {
		return err
	}
	if conditional && ct.RowsAffected() == 0 {
		return store.ErrConditionFailed
	}
	return nil
}

func (s *Store) query(ctx context.Context, st sqlgen.Statement) ([]store.Item, error) {
	rows, err := s.db.Query(ctx, st.Dollar(), st.Args...)
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
