package quota

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Period is the window a quota counter accumulates over.
type Period string

const (
	Daily   Period = "daily"
	Monthly Period = "monthly"
)

// Valid reports whether p is a supported period.
func (p Period) Valid() bool {
	return p == Daily || p == Monthly
}

// Bounds returns the UTC start and end of the period containing t.
func (p Period) Bounds(t time.Time) (start, end time.Time) {
	t = t.UTC()
	switch p {
	case Monthly:
		start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	default:
		start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 0, 1)
	}
	return start, end
}

// Limit is one row of the static quota table.
type Limit struct {
	Provider string `yaml:"provider"`
	Period   Period `yaml:"period"`
	Max      int64  `yaml:"max"`
}

func (l Limit) validate() error {
	if l.Provider == "" {
		return fmt.Errorf("%w: empty provider", ErrInvalidLimit)
	}
	if !l.Period.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPeriod, l.Period)
	}
	if l.Max < 0 {
		return fmt.Errorf("%w: negative max for %s", ErrInvalidLimit, l.Provider)
	}
	return nil
}

// ParseLimit parses the compact "provider:period:max" form used in env config,
// e.g. "expo:daily:10000".
func ParseLimit(s string) (Limit, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return Limit{}, fmt.Errorf("%w: %q", ErrInvalidLimit, s)
	}

	maxValue, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Limit{}, fmt.Errorf("%w: %q: %w", ErrInvalidLimit, s, err)
	}

	l := Limit{
		Provider: parts[0],
		Period:   Period(strings.ToLower(parts[1])),
		Max:      maxValue,
	}
	if err := l.validate(); err != nil {
		return Limit{}, err
	}
	return l, nil
}

// Status is a snapshot of a provider's quota counter.
type Status struct {
	Provider   string
	Period     Period
	Usage      int64
	Limit      int64
	Percentage float64
	Remaining  int64
	ResetAt    time.Time
	// Unlimited is set for providers without a configured limit and when the
	// store could not be read.
	Unlimited bool
}

func newStatus(l Limit, usage int64, resetAt time.Time) Status {
	st := Status{
		Provider: l.Provider,
		Period:   l.Period,
		Usage:    usage,
		Limit:    l.Max,
		ResetAt:  resetAt,
	}
	st.Remaining = max(l.Max-usage, 0)
	if l.Max > 0 {
		st.Percentage = math.Round(float64(usage)/float64(l.Max)*10000) / 100
	} else if usage > 0 {
		st.Percentage = 100
	}
	return st
}

func unlimitedStatus(provider string, usage int64) Status {
	return Status{
		Provider:  provider,
		Usage:     usage,
		Limit:     math.MaxInt64,
		Remaining: math.MaxInt64,
		Unlimited: true,
	}
}
