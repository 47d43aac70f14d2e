package pgxv5

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stickerlandia/printq/logger"
	"github.com/stickerlandia/printq/store"
	"github.com/stickerlandia/printq/store/internal/sqlgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s := New(mock)
	s.SetLogger(&logger.NopLogger{})
	return s, mock
}

func TestNew(t *testing.T) {
	testcases := []struct {
		name      string
		pool      func(t *testing.T) dbpool
		wantPanic bool
	}{
		{
			name: "valid pool",
			pool: func(t *testing.T) dbpool {
				mock, err := pgxmock.NewPool()
				require.NoError(t, err)
				return mock
			},
			wantPanic: false,
		},
		{
			name:      "pool is nil",
			pool:      func(t *testing.T) dbpool { return nil },
			wantPanic: true,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.wantPanic {
				assert.Panics(t, func() {
					New(tc.pool(t))
				})
			} else {
				assert.NotPanics(t, func() {
					New(tc.pool(t))
				})
			}
		})
	}
}

func TestPut(t *testing.T) {
	item := store.Item{store.AttrPK: "P", store.AttrSK: "S", "A": "1"}
	testcases := []struct {
		name             string
		conds            []store.Condition
		mockExpectations func(pgxmock.PgxPoolIface, sqlgen.Statement)
		wantErr          error
	}{
		{
			name: "unconditional put",
			mockExpectations: func(mock pgxmock.PgxPoolIface, st sqlgen.Statement) {
				mock.ExpectExec(st.Dollar()).WithArgs(st.Args...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name:  "condition rejected",
			conds: []store.Condition{store.NotExists(store.AttrPK)},
			mockExpectations: func(mock pgxmock.PgxPoolIface, st sqlgen.Statement) {
				mock.ExpectExec(st.Dollar()).WithArgs(st.Args...).WillReturnResult(pgxmock.NewResult("INSERT", 0))
			},
			wantErr: store.ErrConditionFailed,
		},
		{
			name: "database error",
			mockExpectations: func(mock pgxmock.PgxPoolIface, st sqlgen.Statement) {
				mock.ExpectExec(st.Dollar()).WithArgs(st.Args...).WillReturnError(errors.New("error#1"))
			},
			wantErr: errors.New("error#1"),
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			s, mock := createMockStore(t)
			st, err := sqlgen.Put("printers", item, tc.conds)
			require.NoError(t, err)
			tc.mockExpectations(mock, st)

			err = s.Put(context.Background(), "printers", item, tc.conds...)
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else if errors.Is(tc.wantErr, store.ErrConditionFailed) {
				assert.ErrorIs(t, err, store.ErrConditionFailed)
			} else {
				assert.EqualError(t, err, tc.wantErr.Error())
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGet(t *testing.T) {
	key := store.Key{PK: "P", SK: "S"}
	st := sqlgen.Get("jobs", key)

	t.Run("found", func(t *testing.T) {
		s, mock := createMockStore(t)
		mock.ExpectQuery(st.Dollar()).WithArgs(st.Args...).
			WillReturnRows(pgxmock.NewRows([]string{"attrs"}).AddRow([]byte(`{"PK":"P","SK":"S","TTL":10}`)))

		got, err := s.Get(context.Background(), "jobs", key)
		require.NoError(t, err)
		assert.Equal(t, store.Item{"PK": "P", "SK": "S", "TTL": int64(10)}, got)
	})

	t.Run("missing", func(t *testing.T) {
		s, mock := createMockStore(t)
		mock.ExpectQuery(st.Dollar()).WithArgs(st.Args...).WillReturnError(pgx.ErrNoRows)

		got, err := s.Get(context.Background(), "jobs", key)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("database error", func(t *testing.T) {
		s, mock := createMockStore(t)
		mock.ExpectQuery(st.Dollar()).WithArgs(st.Args...).WillReturnError(errors.New("error#2"))

		_, err := s.Get(context.Background(), "jobs", key)
		assert.EqualError(t, err, "error#2")
	})
}

func TestQuery(t *testing.T) {
	in := store.QueryInput{Table: "jobs", Index: store.IndexGSI1, Partition: "PRINTER#A#STATUS#Queued", Limit: 2}
	st, err := sqlgen.Query(in)
	require.NoError(t, err)

	s, mock := createMockStore(t)
	mock.ExpectQuery(st.Dollar()).WithArgs(st.Args...).
		WillReturnRows(pgxmock.NewRows([]string{"attrs"}).
			AddRow([]byte(`{"PK":"P","SK":"JOB#1"}`)).
			AddRow([]byte(`{"PK":"P","SK":"JOB#2"}`)))

	got, err := s.Query(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "JOB#1", got[0].String(store.AttrSK))
	assert.Equal(t, "JOB#2", got[1].String(store.AttrSK))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConditionalUpdate(t *testing.T) {
	in := store.UpdateInput{
		Table:      "jobs",
		Key:        store.Key{PK: "P", SK: "S"},
		Set:        store.Item{"Status": "Processing"},
		Conditions: []store.Condition{store.Equals("Status", "Queued")},
	}
	st, err := sqlgen.Update(in)
	require.NoError(t, err)

	testcases := []struct {
		name        string
		rows        int64
		wantApplied bool
	}{
		{name: "claim won", rows: 1, wantApplied: true},
		{name: "claim lost", rows: 0, wantApplied: false},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			s, mock := createMockStore(t)
			mock.ExpectExec(st.Dollar()).WithArgs(st.Args...).WillReturnResult(pgxmock.NewResult("UPDATE", tc.rows))

			applied, err := s.ConditionalUpdate(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, tc.wantApplied, applied)
		})
	}
}

func TestTransactWrite(t *testing.T) {
	put := store.WriteOp{Table: "jobs", Put: store.Item{store.AttrPK: "P", store.AttrSK: "S"}}
	guarded := store.WriteOp{
		Table:      "printers",
		Put:        store.Item{store.AttrPK: "E", store.AttrSK: "ID"},
		Conditions: []store.Condition{store.NotExists(store.AttrPK)},
	}
	putSt, _ := sqlgen.Put(put.Table, put.Put, nil)
	guardedSt, _ := sqlgen.Put(guarded.Table, guarded.Put, guarded.Conditions)

	testcases := []struct {
		name             string
		mockExpectations func(pgxmock.PgxPoolIface)
		wantErr          error
	}{
		{
			name: "all operations committed",
			mockExpectations: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(putSt.Dollar()).WithArgs(putSt.Args...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectExec(guardedSt.Dollar()).WithArgs(guardedSt.Args...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "failed condition rolls back",
			mockExpectations: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(putSt.Dollar()).WithArgs(putSt.Args...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectExec(guardedSt.Dollar()).WithArgs(guardedSt.Args...).WillReturnResult(pgxmock.NewResult("INSERT", 0))
				mock.ExpectRollback()
			},
			wantErr: store.ErrConditionFailed,
		},
		{
			name: "begin error",
			mockExpectations: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin().WillReturnError(errors.New("error#3"))
			},
			wantErr: errors.New("error#3"),
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			s, mock := createMockStore(t)
			tc.mockExpectations(mock)

			err := s.TransactWrite(context.Background(), []store.WriteOp{put, guarded})
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else if errors.Is(tc.wantErr, store.ErrConditionFailed) {
				assert.ErrorIs(t, err, store.ErrConditionFailed)
			} else {
				assert.EqualError(t, err, tc.wantErr.Error())
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("empty batch", func(t *testing.T) {
		s, _ := createMockStore(t)
		assert.ErrorIs(t, s.TransactWrite(context.Background(), nil), store.ErrTooManyItems)
	})
}

func TestBatchDelete(t *testing.T) {
	keys := []store.Key{{PK: "P", SK: "1"}, {PK: "P", SK: "2"}}
	st := sqlgen.BatchDelete("jobs", keys)

	s, mock := createMockStore(t)
	mock.ExpectExec(st.Dollar()).WithArgs(st.Args...).WillReturnResult(pgxmock.NewResult("DELETE", 2))

	require.NoError(t, s.BatchDelete(context.Background(), "jobs", keys))
	require.NoError(t, s.BatchDelete(context.Background(), "jobs", nil))
	assert.ErrorIs(t, s.BatchDelete(context.Background(), "jobs", make([]store.Key, 26)), store.ErrTooManyItems)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	st := sqlgen.Purge(now.Unix())

	s, mock := createMockStore(t)
	mock.ExpectExec(st.Dollar()).WithArgs(st.Args...).WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := s.PurgeExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
