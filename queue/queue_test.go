package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stickerlandia/printq/clock"
	"github.com/stickerlandia/printq/domain"
	"github.com/stickerlandia/printq/store"
	"github.com/stickerlandia/printq/store/memory"
	"github.com/stickerlandia/printq/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	table   = "jobs"
	printer = "EVENT-PRINTER"
)

var start = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newJob(t *testing.T, printerID string, at time.Time) *domain.PrintJob {
	t.Helper()
	j, err := domain.CreatePrintJob(domain.NewPrintJob{
		PrinterID:  printerID,
		UserID:     "user-1",
		StickerID:  "sticker-1",
		StickerURL: "https://stickers.example.com/1.png",
	}, at)
	require.NoError(t, err)
	return j
}

func addJobs(t *testing.T, q *Queue, s store.Store, jobs ...*domain.PrintJob) {
	t.Helper()
	tx := store.NewWriteTransaction(s)
	for _, j := range jobs {
		require.NoError(t, q.Add(tx, j))
	}
	require.NoError(t, tx.Commit(context.Background()))
}

func TestNew(t *testing.T) {
	assert.PanicsWithValue(t, "store is mandatory", func() { New(nil, table) })
	assert.PanicsWithValue(t, "table is mandatory", func() { New(memory.New(), "") })
	assert.Equal(t, table, New(memory.New(), table).Table())
}

func TestAddAndGet(t *testing.T) {
	s := memory.New()
	q := New(s, table)
	ctx := context.Background()

	j := newJob(t, printer, start)
	j.Headers = map[string]string{"traceparent": "00-abc-def-01", "tracestate": "x=1"}
	j.TraceParent = "00-abc-def-01"

	tx := store.NewWriteTransaction(s)
	require.NoError(t, q.Add(tx, j))
	_, err := q.Get(ctx, printer, j.ID)
	assert.ErrorIs(t, err, domain.ErrPrintJobNotFound, "buffered writes are not visible")
	require.NoError(t, tx.Commit(ctx))

	got, err := q.Get(ctx, printer, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, domain.PrintJobQueued, got.Status)
	assert.Equal(t, start, got.CreatedAt)
	assert.Equal(t, j.Headers, got.Headers)
	assert.Equal(t, j.TraceParent, got.TraceParent)
	assert.Empty(t, got.Events())

	byID, err := q.GetByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, printer, byID.PrinterID)

	_, err = q.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrPrintJobNotFound)
}

func TestGetQueuedJobsForPrinterIsOldestFirst(t *testing.T) {
	s := memory.New()
	c := clock.NewMock(start.Add(time.Hour))
	q := New(s, table, WithClock(c))
	ctx := context.Background()

	a := newJob(t, printer, start)
	b := newJob(t, printer, start.Add(time.Second))
	cj := newJob(t, printer, start.Add(2*time.Second))
	other := newJob(t, "EVENT-OTHER", start.Add(-time.Hour))
	addJobs(t, q, s, cj, a, other, b)

	claimed, err := q.GetQueuedJobsForPrinter(ctx, printer, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, a.ID, claimed[0].ID)
	assert.Equal(t, b.ID, claimed[1].ID)
	for _, j := range claimed {
		assert.Equal(t, domain.PrintJobProcessing, j.Status)
		require.NotNil(t, j.ProcessedAt)
		assert.Equal(t, start.Add(time.Hour), *j.ProcessedAt)
	}

	stored, err := q.Get(ctx, printer, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PrintJobProcessing, stored.Status)

	queued, err := q.HasJobsInStatus(ctx, printer, domain.PrintJobQueued)
	require.NoError(t, err)
	assert.True(t, queued)
	remaining, err := q.GetQueuedJobsForPrinter(ctx, printer, 5)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, cj.ID, remaining[0].ID)

	none, err := q.GetQueuedJobsForPrinter(ctx, printer, 5)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = q.GetQueuedJobsForPrinter(ctx, printer, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

// racingStore lets another poller claim the first candidate between the
// index query and the conditional update.
type racingStore struct {
	*memory.Store
	rival *Queue
}

func (r *racingStore) Query(ctx context.Context, in store.QueryInput) ([]store.Item, error) {
	items, err := r.Store.Query(ctx, in)
	if err != nil || len(items) == 0 {
		return items, err
	}
	j, err := fromItem(items[0])
	if err != nil {
		return nil, err
	}
	if _, err := r.rival.claim(ctx, j); err != nil {
		return nil, err
	}
	return items, nil
}

func TestGetQueuedJobsForPrinterSkipsLostClaims(t *testing.T) {
	mem := memory.New()
	lost := &test.TestCounter{}
	won := &test.TestCounter{}
	logs := &test.TestLogger{}
	rs := &racingStore{Store: mem, rival: New(mem, table)}
	q := New(rs, table, WithClaimCounters(won, lost), WithLogger(logs))

	a := newJob(t, printer, start)
	b := newJob(t, printer, start.Add(time.Second))
	addJobs(t, q, mem, a, b)

	claimed, err := q.GetQueuedJobsForPrinter(context.Background(), printer, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, b.ID, claimed[0].ID)
	assert.Equal(t, int64(1), won.Value())
	assert.Equal(t, int64(1), lost.Value())
	assert.True(t, logs.Contains("debug", a.ID))
}

func TestConcurrentPollersNeverShareJobs(t *testing.T) {
	const (
		jobs    = 40
		pollers = 6
		perPoll = 5
	)
	s := memory.New()
	q := New(s, table)
	var all []*domain.PrintJob
	for i := 0; i < jobs; i++ {
		all = append(all, newJob(t, printer, start.Add(time.Duration(i)*time.Millisecond)))
	}
	for _, batch := range chunkJobs(all, store.MaxTransactItems) {
		addJobs(t, q, s, batch...)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for p := 0; p < pollers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < 3; round++ {
				claimed, err := q.GetQueuedJobsForPrinter(context.Background(), printer, perPoll)
				assert.NoError(t, err)
				mu.Lock()
				for _, j := range claimed {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	total := 0
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
		total += n
	}
	assert.LessOrEqual(t, total, jobs)
}

func TestUpdateSetsRetentionOnTerminalJobs(t *testing.T) {
	s := memory.New()
	q := New(s, table)
	ctx := context.Background()
	j := newJob(t, printer, start)
	addJobs(t, q, s, j)

	require.NoError(t, j.MarkAsProcessing(start.Add(time.Second)))
	tx := store.NewWriteTransaction(s)
	require.NoError(t, q.Update(tx, j))
	require.NoError(t, tx.Commit(ctx))
	item, err := s.Get(ctx, table, jobKey(printer, j.ID))
	require.NoError(t, err)
	assert.False(t, item.Has(store.AttrTTL))
	assert.Equal(t, statusPartition(printer, domain.PrintJobProcessing), item.String(store.AttrGSI1PK))

	done := start.Add(2 * time.Second)
	require.NoError(t, j.Fail("paper jam", done))
	tx = store.NewWriteTransaction(s)
	require.NoError(t, q.Update(tx, j))
	require.NoError(t, tx.Commit(ctx))
	item, err = s.Get(ctx, table, jobKey(printer, j.ID))
	require.NoError(t, err)
	assert.Equal(t, done.Add(TerminalRetention).Unix(), item.Int(store.AttrTTL))

	got, err := q.Get(ctx, printer, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PrintJobFailed, got.Status)
	assert.Equal(t, "paper jam", got.FailureReason)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, done, *got.CompletedAt)
}

func TestDeleteJobsForPrinter(t *testing.T) {
	s := memory.New()
	q := New(s, table)
	ctx := context.Background()

	var mine []*domain.PrintJob
	for i := 0; i < store.MaxBatchItems+5; i++ {
		mine = append(mine, newJob(t, printer, start.Add(time.Duration(i)*time.Second)))
	}
	addJobs(t, q, s, mine...)
	addJobs(t, q, s, newJob(t, "EVENT-OTHER", start))
	_, err := q.GetQueuedJobsForPrinter(ctx, printer, 3)
	require.NoError(t, err)

	deleted, err := q.DeleteJobsForPrinter(ctx, printer)
	require.NoError(t, err)
	assert.Equal(t, len(mine), deleted)
	assert.Equal(t, 1, s.Len(table))

	jobs, err := q.ListForPrinter(ctx, printer)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	deleted, err = q.DeleteJobsForPrinter(ctx, printer)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestCountAndStatusQueries(t *testing.T) {
	s := memory.New()
	q := New(s, table)
	ctx := context.Background()

	testcases := []struct {
		name           string
		queued         int
		claim          int
		wantActive     int
		wantProcessing bool
	}{
		{name: "no jobs"},
		{name: "only queued", queued: 3, wantActive: 3},
		{name: "queued and processing", queued: 4, claim: 2, wantActive: 4, wantProcessing: true},
	}
	for i, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			printerID := fmt.Sprintf("EVENT-P%d", i)
			for n := 0; n < tc.queued; n++ {
				addJobs(t, q, s, newJob(t, printerID, start.Add(time.Duration(n)*time.Second)))
			}
			if tc.claim > 0 {
				_, err := q.GetQueuedJobsForPrinter(ctx, printerID, tc.claim)
				require.NoError(t, err)
			}
			active, err := q.CountActiveJobs(ctx, printerID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantActive, active)
			processing, err := q.HasJobsInStatus(ctx, printerID, domain.PrintJobProcessing)
			require.NoError(t, err)
			assert.Equal(t, tc.wantProcessing, processing)

			jobs, err := q.ListForPrinter(ctx, printerID)
			require.NoError(t, err)
			assert.Len(t, jobs, tc.queued)
		})
	}
}

func chunkJobs(jobs []*domain.PrintJob, size int) [][]*domain.PrintJob {
	var out [][]*domain.PrintJob
	for i := 0; i < len(jobs); i += size {
		end := i + size
		if end > len(jobs) {
			end = len(jobs)
		}
		out = append(out, jobs[i:end])
	}
	return out
}

func TestUpdateFrom(t *testing.T) {
	s := memory.New()
	q := New(s, table)
	ctx := context.Background()
	j := newJob(t, printer, start)
	addJobs(t, q, s, j)
	require.NoError(t, j.MarkAsProcessing(start.Add(time.Second)))
	tx := store.NewWriteTransaction(s)
	require.NoError(t, q.Update(tx, j))
	require.NoError(t, tx.Commit(ctx))

	completed := *j
	require.NoError(t, completed.Complete(start.Add(2*time.Second)))
	tx = store.NewWriteTransaction(s)
	require.NoError(t, q.UpdateFrom(tx, &completed, domain.PrintJobProcessing))
	require.NoError(t, tx.Commit(ctx))

	failed := *j
	require.NoError(t, failed.Fail("paper jam", start.Add(3*time.Second)))
	tx = store.NewWriteTransaction(s)
	require.NoError(t, q.UpdateFrom(tx, &failed, domain.PrintJobProcessing))
	assert.ErrorIs(t, tx.Commit(ctx), store.ErrConditionFailed)

	got, err := q.Get(ctx, printer, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PrintJobCompleted, got.Status)
}
