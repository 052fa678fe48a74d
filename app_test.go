package notifykit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit"
	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/email"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/push"
	"github.com/dmitrymomot/notifykit/pkg/quota"
	"github.com/dmitrymomot/notifykit/pkg/retry"
	"github.com/dmitrymomot/notifykit/pkg/sender"
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

type stubPush struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (p *stubPush) Send(_ context.Context, tokens []string, _ push.Message) ([]push.TokenResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	out := make([]push.TokenResult, len(tokens))
	for i, t := range tokens {
		out[i] = push.TokenResult{Token: t}
	}
	return out, nil
}

func (p *stubPush) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *stubPush) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type stubMailer struct{}

func (stubMailer) SendEmail(context.Context, email.SendEmailParams) (string, error) {
	return "msg-1", nil
}

func newApp(t *testing.T, cfg notifykit.Config, p push.Provider) (*notifykit.App, *clock) {
	t.Helper()

	c := &clock{now: time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)}
	cfg.Retry = retry.Config{MaxAttempts: 1}

	app, err := notifykit.New(context.Background(), cfg,
		notifykit.WithPushProvider(p),
		notifykit.WithEmailSender(stubMailer{}),
		notifykit.WithContactResolver(sender.ContactResolverFunc(func(_ context.Context, userID string) (string, error) {
			return userID + "@example.com", nil
		})),
		notifykit.WithClock(c.Now),
		notifykit.WithLogger(logger.Discard()),
	)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app, c
}

func TestNew_InMemory(t *testing.T) {
	t.Parallel()

	p := &stubPush{}
	app, _ := newApp(t, notifykit.Config{
		Quota: quota.Config{Limits: []string{"expo:daily:0"}},
	}, p)

	assert.Nil(t, app.DB)
	assert.Nil(t, app.Redis)
	require.NoError(t, app.Healthcheck(context.Background()))

	ctx := context.Background()
	require.NoError(t, app.Tokens.Register(ctx, "u1", "tok-1", "android"))

	res, err := app.Sender.Dispatch(ctx, sender.Request{
		UserID: "u1",
		Type:   "order_shipped",
		Content: sender.Content{
			Title:  "Shipped",
			ItemID: "o-1",
			Email:  &sender.EmailContent{Text: "Your order is on its way"},
		},
	})
	require.NoError(t, err)

	// Email has no quota and goes out; push waits for capacity but the
	// notification counts as sent.
	assert.Equal(t, sender.OutcomeSent, res.Outcome)
	assert.True(t, res.EmailSent)
	assert.False(t, res.PushSent)
	assert.Zero(t, p.Calls())

	st := app.Quota.AllStatus(ctx)
	require.Len(t, st, 1)
	assert.Equal(t, "expo", st[0].Provider)
	assert.Zero(t, st[0].Remaining)
}

func TestNew_InvalidQuotaLimits(t *testing.T) {
	t.Parallel()

	_, err := notifykit.New(context.Background(), notifykit.Config{
		Quota: quota.Config{Limits: []string{"expo:weekly:10"}},
	}, notifykit.WithLogger(logger.Discard()), notifykit.WithPushProvider(&stubPush{}), notifykit.WithEmailSender(stubMailer{}))
	require.ErrorIs(t, err, notifykit.ErrInvalidConfig)
}

func TestApp_RegisterJobsDrainsFallback(t *testing.T) {
	t.Parallel()

	p := &stubPush{}
	app, clk := newApp(t, notifykit.Config{}, p)
	ctx := context.Background()

	require.NoError(t, app.Tokens.Register(ctx, "u1", "tok-1", "ios"))

	p.set(errors.New("connection reset by peer"))
	res, err := app.Sender.Dispatch(ctx, sender.Request{
		UserID:  "u1",
		Type:    "reminder",
		Content: sender.Content{Title: "Don't forget"},
	})
	require.NoError(t, err)
	require.Equal(t, sender.OutcomeQueued, res.Outcome)
	p.set(nil)

	worker, err := app.NewWorker()
	require.NoError(t, err)
	scheduler, err := app.NewScheduler()
	require.NoError(t, err)
	require.NoError(t, app.RegisterJobs(worker, scheduler))

	assert.ElementsMatch(t, []string{
		notifykit.DrainFallbackTaskName,
		notifykit.PurgeFallbackTaskName,
		notifykit.PurgeDeliveriesTaskName,
		"queue.purge_tasks",
	}, scheduler.ListTasks())

	scheduler.CheckTasks(ctx)
	processed, err := worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed, "drain is not due before the first minute passes")

	clk.Advance(time.Minute)
	processed, err = worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 2, p.Calls())

	records := app.Records.(*delivery.MemoryStore).Records()
	require.Len(t, records, 2)
	assert.False(t, records[0].Delivered())
	assert.True(t, records[1].PushSent)
}

func TestApp_MaintenanceJobsPurgeDeliveries(t *testing.T) {
	t.Parallel()

	app, clk := newApp(t, notifykit.Config{DeliveryRetention: 24 * time.Hour}, &stubPush{})
	ctx := context.Background()

	start := clk.Now()
	require.NoError(t, app.Records.Create(ctx, &delivery.Record{UserID: "old", Type: "t", PushSent: true, CreatedAt: start.Add(-48 * time.Hour)}))
	require.NoError(t, app.Records.Create(ctx, &delivery.Record{UserID: "new", Type: "t", PushSent: true, CreatedAt: start}))

	worker, err := app.NewWorker()
	require.NoError(t, err)
	scheduler, err := app.NewScheduler()
	require.NoError(t, err)
	require.NoError(t, app.RegisterJobs(worker, scheduler))

	scheduler.CheckTasks(ctx)
	clk.Advance(16 * time.Hour)

	runs := 0
	for {
		processed, err := worker.ProcessNext(ctx)
		require.NoError(t, err)
		if !processed {
			break
		}
		runs++
	}
	assert.Equal(t, 4, runs)

	records := app.Records.(*delivery.MemoryStore).Records()
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].UserID)
}

func TestApp_RegisterJobsRequiresWorker(t *testing.T) {
	t.Parallel()

	app, _ := newApp(t, notifykit.Config{}, &stubPush{})
	require.ErrorIs(t, app.RegisterJobs(nil, nil), notifykit.ErrNilWorker)
}

func TestApp_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	app, _ := newApp(t, notifykit.Config{}, &stubPush{})
	app.Close()
	app.Close()
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("QUOTA_LIMITS", "expo:daily:100,postmark:monthly:10000")
	t.Setenv("PUSH_TIMEOUT", "5s")
	t.Setenv("FALLBACK_MAX_RETRIES", "5")

	cfg, err := notifykit.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"expo:daily:100", "postmark:monthly:10000"}, cfg.Quota.Limits)
	assert.Equal(t, 5*time.Second, cfg.Push.Timeout)
	assert.Equal(t, 5, cfg.Fallback.MaxRetries)
	assert.Equal(t, "expo", cfg.Fallback.Provider)
	assert.Equal(t, 1440, cfg.Sender.DedupBucketMinutes)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 15*time.Second, cfg.Email.Timeout)
	assert.True(t, cfg.MigrateOnStart)
	assert.False(t, cfg.PG.Enabled())
	assert.False(t, cfg.Redis.Enabled())
}
