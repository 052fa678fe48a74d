package breaker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/breaker"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
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

var errProvider = errors.New("provider unavailable")

func fail(context.Context) error { return errProvider }
func ok(context.Context) error   { return nil }

func newRegistry(c *clock, opts ...breaker.RegistryOption) *breaker.Registry {
	opts = append([]breaker.RegistryOption{breaker.WithClock(c.Now), breaker.WithLogger(logger.Discard())}, opts...)
	return breaker.NewRegistry(opts...)
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	c := newClock()
	reg := newRegistry(c)

	for range 5 {
		assert.ErrorIs(t, reg.Execute(context.Background(), "push", fail), errProvider)
	}
	assert.Equal(t, breaker.StateOpen, reg.Get("push").State())

	called := false
	err := reg.Execute(context.Background(), "push", func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.True(t, breaker.IsOpen(err))

	var openErr *breaker.OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "push", openErr.Dependency)
	assert.Equal(t, 60, openErr.RemainingSeconds())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	reg := newRegistry(newClock())
	for range 4 {
		_ = reg.Execute(context.Background(), "push", fail)
	}
	require.NoError(t, reg.Execute(context.Background(), "push", ok))
	for range 4 {
		_ = reg.Execute(context.Background(), "push", fail)
	}
	assert.Equal(t, breaker.StateClosed, reg.Get("push").State())
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	t.Parallel()

	c := newClock()
	reg := newRegistry(c)
	for range 5 {
		_ = reg.Execute(context.Background(), "email", fail)
	}

	c.Advance(59 * time.Second)
	err := reg.Execute(context.Background(), "email", ok)
	var openErr *breaker.OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, 1, openErr.RemainingSeconds())

	c.Advance(time.Second)
	require.NoError(t, reg.Execute(context.Background(), "email", ok))
	assert.Equal(t, breaker.StateHalfOpen, reg.Get("email").State())

	require.NoError(t, reg.Execute(context.Background(), "email", ok))
	assert.Equal(t, breaker.StateHalfOpen, reg.Get("email").State())

	require.NoError(t, reg.Execute(context.Background(), "email", ok))
	assert.Equal(t, breaker.StateClosed, reg.Get("email").State())

	stats := reg.Get("email").Stats()
	assert.Equal(t, 0, stats.Failures)
	assert.Equal(t, 0, stats.Successes)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	c := newClock()
	reg := newRegistry(c)
	for range 5 {
		_ = reg.Execute(context.Background(), "push", fail)
	}
	c.Advance(time.Minute)

	require.NoError(t, reg.Execute(context.Background(), "push", ok))
	require.ErrorIs(t, reg.Execute(context.Background(), "push", fail), errProvider)
	assert.Equal(t, breaker.StateOpen, reg.Get("push").State())

	// Cooldown restarted from the half-open failure.
	c.Advance(30 * time.Second)
	assert.True(t, breaker.IsOpen(reg.Execute(context.Background(), "push", ok)))
	c.Advance(30 * time.Second)
	assert.NoError(t, reg.Execute(context.Background(), "push", ok))
}

func TestRegistry_IndependentDependencies(t *testing.T) {
	t.Parallel()

	reg := newRegistry(newClock())
	for range 5 {
		_ = reg.Execute(context.Background(), "push", fail)
	}
	assert.Equal(t, breaker.StateOpen, reg.Get("push").State())
	assert.NoError(t, reg.Execute(context.Background(), "email", ok))
	assert.Equal(t, breaker.StateClosed, reg.Get("email").State())
}

func TestRegistry_PerDependencySettings(t *testing.T) {
	t.Parallel()

	c := newClock()
	reg := newRegistry(c, breaker.WithSettings("flaky", breaker.Settings{
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Second,
	}))

	for range 3 {
		_ = reg.Execute(context.Background(), "flaky", fail)
	}
	assert.Equal(t, breaker.StateOpen, reg.Get("flaky").State())

	c.Advance(30 * time.Second)
	assert.NoError(t, reg.Execute(context.Background(), "flaky", ok))
}

func TestRegistry_FailurePredicate(t *testing.T) {
	t.Parallel()

	ignored := errors.New("bad request")
	reg := newRegistry(newClock(), breaker.WithFailurePredicate(func(err error) bool {
		return !errors.Is(err, ignored)
	}))

	for range 10 {
		_ = reg.Execute(context.Background(), "push", func(context.Context) error { return ignored })
	}
	assert.Equal(t, breaker.StateClosed, reg.Get("push").State())
}

func TestRegistry_ObserverReceivesTransitions(t *testing.T) {
	t.Parallel()

	c := newClock()
	var mu sync.Mutex
	var events []breaker.Event
	reg := newRegistry(c, breaker.WithObserver(func(_ context.Context, ev breaker.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}))

	for range 5 {
		_ = reg.Execute(context.Background(), "push", fail)
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "push", events[0].Dependency)
	assert.Equal(t, breaker.StateClosed, events[0].From)
	assert.Equal(t, breaker.StateOpen, events[0].To)
	assert.Equal(t, 5, events[0].Failures)
}

func TestDo(t *testing.T) {
	t.Parallel()

	reg := newRegistry(newClock())
	v, err := breaker.Do(context.Background(), reg, "push", func(context.Context) (string, error) {
		return "ticket-1", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ticket-1", v)
}

func TestBreaker_ConcurrentHalfOpenTransition(t *testing.T) {
	t.Parallel()

	c := newClock()
	var transitions atomic.Int32
	reg := newRegistry(c, breaker.WithObserver(func(_ context.Context, ev breaker.Event) {
		if ev.To == breaker.StateHalfOpen {
			transitions.Add(1)
		}
	}))
	for range 5 {
		_ = reg.Execute(context.Background(), "push", fail)
	}
	c.Advance(time.Minute)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reg.Execute(context.Background(), "push", ok)
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return transitions.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, breaker.StateClosed, reg.Get("push").State())
}

func TestRegistry_StatsAndReset(t *testing.T) {
	t.Parallel()

	reg := newRegistry(newClock())
	for range 5 {
		_ = reg.Execute(context.Background(), "push", fail)
	}
	assert.Equal(t, "open", reg.Stats()["push"].State)

	reg.Reset("push")
	assert.Equal(t, breaker.StateClosed, reg.Get("push").State())
	assert.NoError(t, reg.Execute(context.Background(), "push", ok))
}
