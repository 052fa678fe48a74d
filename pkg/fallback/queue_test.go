package fallback_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/fallback"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/quota"
	"github.com/dmitrymomot/notifykit/pkg/retry"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingDeliverer struct {
	mu    sync.Mutex
	calls []fallback.Item
	err   error
	usage int64
}

func (d *recordingDeliverer) Deliver(_ context.Context, it fallback.Item) (fallback.Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, it)
	if d.err != nil {
		return fallback.Report{}, d.err
	}
	return fallback.Report{PushSent: true, Usage: d.usage}, nil
}

func (d *recordingDeliverer) Calls() []fallback.Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]fallback.Item(nil), d.calls...)
}

type fixture struct {
	clock     *clock
	store     *fallback.MemoryStore
	records   *delivery.MemoryStore
	quota     *quota.Controller
	deliverer *recordingDeliverer
	queue     *fallback.Queue
}

func newFixture(t *testing.T, limit int64) *fixture {
	t.Helper()

	c := &clock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	f := &fixture{
		clock:     c,
		store:     fallback.NewMemoryStore(),
		records:   delivery.NewMemoryStore(),
		deliverer: &recordingDeliverer{usage: 1},
	}
	f.quota = quota.NewController(quota.NewMemoryStore(quota.WithMemoryClock(c.Now)),
		quota.WithLimits(quota.Limit{Provider: "expo", Period: quota.Daily, Max: limit}),
		quota.WithClock(c.Now),
		quota.WithLogger(logger.Discard()),
	)

	q, err := fallback.NewQueue(f.store,
		fallback.WithDeliveryRecords(f.records),
		fallback.WithAdmission(f.quota),
		fallback.WithDeliverer(f.deliverer),
		fallback.WithClock(c.Now),
		fallback.WithLogger(logger.Discard()),
	)
	require.NoError(t, err)
	f.queue = q
	return f
}

func (f *fixture) enqueue(t *testing.T, key string, priority int) uuid.UUID {
	t.Helper()

	res, err := f.queue.Enqueue(context.Background(), fallback.Item{
		UserID:   "user-1",
		Type:     "reminder",
		Payload:  []byte(`{"title":"Review due"}`),
		Priority: priority,
		DedupKey: key,
	})
	require.NoError(t, err)
	require.False(t, res.IsDuplicate)
	return res.NotificationID
}

func TestNewQueue_NilStore(t *testing.T) {
	t.Parallel()

	_, err := fallback.NewQueue(nil)
	assert.ErrorIs(t, err, fallback.ErrStoreNil)
}

func TestEnqueue_AppliesDefaults(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	id := f.enqueue(t, "k1", 0)

	it, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, fallback.StatusPending, it.Status)
	assert.Equal(t, 3, it.MaxRetries)
	assert.Equal(t, 0, it.RetryCount)
	assert.Equal(t, f.clock.Now(), it.ScheduledFor)
}

func TestEnqueue_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	_, err := f.queue.Enqueue(context.Background(), fallback.Item{DedupKey: "k"})
	assert.ErrorIs(t, err, fallback.ErrMissingUserID)

	_, err = f.queue.Enqueue(context.Background(), fallback.Item{UserID: "u"})
	assert.ErrorIs(t, err, fallback.ErrMissingDedupKey)
}

func TestEnqueue_DuplicateActiveItem(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	id := f.enqueue(t, "k1", 0)

	res, err := f.queue.Enqueue(context.Background(), fallback.Item{UserID: "user-1", DedupKey: "k1"})
	require.NoError(t, err)
	assert.True(t, res.IsDuplicate)
	assert.Equal(t, id, res.NotificationID)
	assert.Len(t, f.store.Items(), 1)
}

func TestEnqueue_FailedItemDoesNotBlock(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.deliverer.err = retry.Terminal(errors.New("invalid payload"))
	f.enqueue(t, "k1", 0)

	_, err := f.queue.Drain(context.Background(), 10)
	require.NoError(t, err)

	res, err := f.queue.Enqueue(context.Background(), fallback.Item{UserID: "user-1", DedupKey: "k1"})
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
}

func TestEnqueue_RecentDeliveryIsDuplicate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	require.NoError(t, f.records.Create(context.Background(), &delivery.Record{
		UserID: "user-1", Type: "reminder", DedupKey: "k1", PushSent: true, CreatedAt: f.clock.Now().Add(-10 * time.Minute),
	}))

	res, err := f.queue.Enqueue(context.Background(), fallback.Item{UserID: "user-1", DedupKey: "k1"})
	require.NoError(t, err)
	assert.True(t, res.IsDuplicate)
	assert.Equal(t, uuid.Nil, res.NotificationID)

	f.clock.Advance(time.Hour)
	res, err = f.queue.Enqueue(context.Background(), fallback.Item{UserID: "user-1", DedupKey: "k1"})
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
}

func TestEnqueue_ConcurrentSameKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	var inserted atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.queue.Enqueue(context.Background(), fallback.Item{UserID: "user-1", DedupKey: "same"})
			if err == nil && !res.IsDuplicate {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inserted.Load())
	assert.Len(t, f.store.Items(), 1)
}

func TestDrain_PriorityThenAge(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	low := f.enqueue(t, "low", 1)
	f.clock.Advance(time.Second)
	highOld := f.enqueue(t, "high-old", 5)
	f.clock.Advance(time.Second)
	highNew := f.enqueue(t, "high-new", 5)

	res, err := f.queue.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, fallback.DrainResult{Processed: 3, Sent: 3}, res)

	calls := f.deliverer.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, []uuid.UUID{highOld, highNew, low}, []uuid.UUID{calls[0].ID, calls[1].ID, calls[2].ID})
}

func TestDrain_NoQuotaDefersEverything(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	for i := range 5 {
		f.enqueue(t, "k"+string(rune('a'+i)), 0)
	}

	res, err := f.queue.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, fallback.DrainResult{Deferred: 5}, res)
	assert.Empty(t, f.deliverer.Calls())
	assert.Zero(t, f.records.Count())

	for _, it := range f.store.Items() {
		assert.Equal(t, fallback.StatusPending, it.Status)
		assert.Equal(t, 0, it.RetryCount)
	}
}

func TestDrain_BoundedByRemainingQuota(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	f.enqueue(t, "a", 1)
	f.enqueue(t, "b", 9)
	f.enqueue(t, "c", 5)

	res, err := f.queue.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Deferred)

	calls := f.deliverer.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "b", calls[0].DedupKey)
	assert.Equal(t, "c", calls[1].DedupKey)

	st, err := f.quota.Status(context.Background(), "expo")
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Usage)
}

func TestDrain_SuccessRecordsDelivery(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	id := f.enqueue(t, "k1", 0)

	_, err := f.queue.Drain(context.Background(), 10)
	require.NoError(t, err)

	it, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, fallback.StatusSent, it.Status)

	recs := f.records.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "k1", recs[0].DedupKey)
	assert.True(t, recs[0].PushSent)
}

func TestDrain_FailureReschedulesOneMinuteLater(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.deliverer.err = errors.New("connection reset")
	id := f.enqueue(t, "k1", 0)

	res, err := f.queue.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, fallback.DrainResult{Processed: 1}, res)

	it, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, fallback.StatusPending, it.Status)
	assert.Equal(t, 1, it.RetryCount)
	assert.Equal(t, f.clock.Now().Add(time.Minute), it.ScheduledFor)
	assert.Equal(t, "connection reset", it.LastError)

	// Not due yet.
	res, err = f.queue.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)

	f.clock.Advance(time.Minute)
	res, err = f.queue.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
}

func TestDrain_LastRetryFailsPermanently(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.deliverer.err = errors.New("timeout")
	id := f.enqueue(t, "k1", 0)

	for range 2 {
		_, err := f.queue.Drain(context.Background(), 10)
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	it, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, it.MaxRetries-1, it.RetryCount)

	res, err := f.queue.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	it, err = f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, fallback.StatusFailed, it.Status)
	assert.Equal(t, it.MaxRetries, it.RetryCount)

	f.clock.Advance(time.Hour)
	res, err = f.queue.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}

func TestDrain_TerminalErrorFailsImmediately(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.deliverer.err = fallback.ErrSkipped
	id := f.enqueue(t, "k1", 0)

	res, err := f.queue.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, fallback.DrainResult{Processed: 1, Failed: 1}, res)

	it, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, fallback.StatusFailed, it.Status)
}

func TestDrain_ExhaustedItemsMarkedFailed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	now := f.clock.Now()
	require.NoError(t, f.store.Insert(context.Background(), &fallback.Item{
		ID: uuid.New(), UserID: "user-1", DedupKey: "k1", Status: fallback.StatusPending,
		RetryCount: 3, MaxRetries: 3, ScheduledFor: now, CreatedAt: now, UpdatedAt: now,
	}))

	res, err := f.queue.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, fallback.DrainResult{Failed: 1}, res)
	assert.Empty(t, f.deliverer.Calls())
}

func TestDrain_RecoversStaleProcessingItems(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	now := f.clock.Now()
	stale := uuid.New()
	fresh := uuid.New()
	require.NoError(t, f.store.Insert(context.Background(), &fallback.Item{
		ID: stale, UserID: "user-1", DedupKey: "stale", Status: fallback.StatusProcessing,
		MaxRetries: 3, ScheduledFor: now, CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-10 * time.Minute),
	}))
	require.NoError(t, f.store.Insert(context.Background(), &fallback.Item{
		ID: fresh, UserID: "user-1", DedupKey: "fresh", Status: fallback.StatusProcessing,
		MaxRetries: 3, ScheduledFor: now, CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Minute),
	}))

	res, err := f.queue.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	calls := f.deliverer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, stale, calls[0].ID)
}

func TestDrain_StaleReclaimCountsAsRetry(t *testing.T) {
	t.Parallel()

	stale := func(t *testing.T, f *fixture, retries int) uuid.UUID {
		t.Helper()
		now := f.clock.Now()
		id := uuid.New()
		require.NoError(t, f.store.Insert(context.Background(), &fallback.Item{
			ID: id, UserID: "user-1", DedupKey: id.String(), Status: fallback.StatusProcessing,
			RetryCount: retries, MaxRetries: 3, ScheduledFor: now,
			CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-10 * time.Minute),
		}))
		return id
	}

	t.Run("last reclaim exhausts the item", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, 100)
		id := stale(t, f, 2)

		res, err := f.queue.Drain(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, fallback.DrainResult{Failed: 1}, res)
		assert.Empty(t, f.deliverer.Calls())

		it, err := f.store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, fallback.StatusFailed, it.Status)
		assert.Equal(t, 3, it.RetryCount)
	})

	t.Run("reclaim and failure both count", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, 100)
		f.deliverer.err = errors.New("connection reset")
		id := stale(t, f, 0)

		res, err := f.queue.Drain(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Processed)

		calls := f.deliverer.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, 1, calls[0].RetryCount)

		it, err := f.store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, fallback.StatusPending, it.Status)
		assert.Equal(t, 2, it.RetryCount)
	})
}

func TestQueue_Duplicate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	ctx := context.Background()

	id, dup, err := f.queue.Duplicate(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, uuid.Nil, id)

	queued := f.enqueue(t, "k1", 0)
	id, dup, err = f.queue.Duplicate(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, queued, id)

	require.NoError(t, f.records.Create(ctx, &delivery.Record{
		UserID: "user-1", Type: "reminder", DedupKey: "k2", PushSent: true, CreatedAt: f.clock.Now(),
	}))
	id, dup, err = f.queue.Duplicate(ctx, "k2")
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, uuid.Nil, id)

	f.clock.Advance(2 * time.Hour)
	_, dup, err = f.queue.Duplicate(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, dup)

	_, dup, err = f.queue.Duplicate(ctx, "")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestDrain_OverlappingDrainsDeliverOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1000)
	for i := range 20 {
		f.enqueue(t, uuid.NewString()+string(rune('a'+i)), 0)
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.queue.Drain(context.Background(), 20)
		}()
	}
	wg.Wait()

	seen := map[uuid.UUID]int{}
	for _, c := range f.deliverer.Calls() {
		seen[c.ID]++
	}
	assert.Len(t, seen, 20)
	for _, n := range seen {
		assert.Equal(t, 1, n)
	}
}

func TestDrain_RequiresDeliverer(t *testing.T) {
	t.Parallel()

	q, err := fallback.NewQueue(fallback.NewMemoryStore(), fallback.WithLogger(logger.Discard()))
	require.NoError(t, err)
	_, err = q.Drain(context.Background(), 1)
	assert.ErrorIs(t, err, fallback.ErrDelivererNil)
}

func TestPurge(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	sent := f.enqueue(t, "sent", 0)
	_, err := f.queue.Drain(context.Background(), 10)
	require.NoError(t, err)
	pending := f.enqueue(t, "pending", 0)

	f.clock.Advance(8 * 24 * time.Hour)
	n, err := f.queue.Purge(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.store.Get(context.Background(), sent)
	assert.ErrorIs(t, err, fallback.ErrItemNotFound)
	_, err = f.store.Get(context.Background(), pending)
	assert.NoError(t, err)
}
