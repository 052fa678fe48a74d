package breaker

import (
	"context"
	"sync"
	"time"
)

// State represents the current state of a circuit breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects every call until the reset timeout elapses.
	StateOpen
	// StateHalfOpen lets calls through to probe whether the dependency recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Settings tune a single breaker.
type Settings struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
}

// DefaultSettings: open after 5 consecutive failures, probe after 60s,
// close after 3 consecutive probe successes.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		ResetTimeout:     60 * time.Second,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = d.FailureThreshold
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = d.SuccessThreshold
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = d.ResetTimeout
	}
	return s
}

// Event describes a state transition.
type Event struct {
	Dependency string
	From       State
	To         State
	Failures   int
	At         time.Time
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	State           string
	Failures        int
	Successes       int
	LastFailureTime time.Time
}

// Breaker guards calls to one named dependency. Safe for concurrent use: the
// read-check-mutate sequence around every call happens under one mutex.
type Breaker struct {
	name      string
	settings  Settings
	now       func() time.Time
	notify    func(Event)
	isFailure func(error) bool

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
}

func newBreaker(name string, s Settings, now func() time.Time, notify func(Event), isFailure func(error) bool) *Breaker {
	if now == nil {
		now = time.Now
	}
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}
	return &Breaker{
		name:      name,
		settings:  s.withDefaults(),
		now:       now,
		notify:    notify,
		isFailure: isFailure,
		state:     StateClosed,
	}
}

// Name returns the guarded dependency name.
func (b *Breaker) Name() string { return b.name }

// Execute runs op unless the circuit is open.
// A rejected call returns *OpenError and op is not invoked.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := op(ctx)
	b.record(err)

	return err
}

// allow decides whether a call may proceed and performs the lazy
// OPEN -> HALF_OPEN transition once the reset timeout has elapsed.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}

	elapsed := b.now().Sub(b.lastFailure)
	if elapsed >= b.settings.ResetTimeout {
		b.transition(StateHalfOpen)
		return nil
	}

	return &OpenError{Dependency: b.name, Remaining: b.settings.ResetTimeout - elapsed}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !b.isFailure(err) {
		b.onSuccess()
		return
	}
	b.onFailure()
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

func (b *Breaker) onFailure() {
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.failures++
		b.transition(StateOpen)
	case StateOpen:
		// A call admitted before the circuit opened finished late.
		b.failures++
	}
}

// transition must be called with mu held. Counters reset on every transition.
func (b *Breaker) transition(to State) {
	ev := Event{
		Dependency: b.name,
		From:       b.state,
		To:         to,
		Failures:   b.failures,
		At:         b.now(),
	}

	b.state = to
	b.failures = 0
	b.successes = 0

	if b.notify != nil {
		b.notify(ev)
	}
}

// State returns the current state without triggering transitions.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot for monitoring.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		State:           b.state.String(),
		Failures:        b.failures,
		Successes:       b.successes,
		LastFailureTime: b.lastFailure,
	}
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.failures = 0
	b.successes = 0
	b.lastFailure = time.Time{}
}
