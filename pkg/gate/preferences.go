package gate

import (
	"fmt"
	"time"
)

// Channel is a delivery channel a user can switch on or off.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

// QuietHours is a daily window, in the user's timezone, during which nothing is sent.
// Start and End use the HH:MM format. The window wraps midnight when Start > End.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// Preferences are a user's notification settings. Missing entries in Types and
// Channels mean enabled.
type Preferences struct {
	UserID       string           `json:"user_id"`
	Enabled      bool             `json:"enabled"`
	DoNotDisturb bool             `json:"do_not_disturb"`
	QuietHours   QuietHours       `json:"quiet_hours"`
	Timezone     string           `json:"timezone"`
	Types        map[string]bool  `json:"types,omitempty"`
	Channels     map[Channel]bool `json:"channels,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// DefaultPreferences returns the preferences a user has before changing anything:
// everything enabled, no quiet hours, UTC.
func DefaultPreferences(userID string) Preferences {
	now := time.Now().UTC()
	return Preferences{
		UserID:    userID,
		Enabled:   true,
		Timezone:  "UTC",
		Types:     map[string]bool{},
		Channels:  map[Channel]bool{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TypeEnabled reports whether notificationType is allowed. Only an explicit false disables it.
func (p Preferences) TypeEnabled(notificationType string) bool {
	enabled, ok := p.Types[notificationType]
	return !ok || enabled
}

// ChannelEnabled reports whether the channel is allowed. Only an explicit false disables it.
func (p Preferences) ChannelEnabled(ch Channel) bool {
	enabled, ok := p.Channels[ch]
	return !ok || enabled
}

// Location resolves the user's timezone, falling back to UTC when it is
// empty or unknown.
func (p Preferences) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseClock converts HH:MM into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// InQuietHours reports whether now falls inside the user's quiet window.
// An unparsable window is treated as disabled.
func (p Preferences) InQuietHours(now time.Time) bool {
	if !p.QuietHours.Enabled {
		return false
	}

	start, err := ParseClock(p.QuietHours.Start)
	if err != nil {
		return false
	}
	end, err := ParseClock(p.QuietHours.End)
	if err != nil {
		return false
	}

	local := now.In(p.Location())
	return inWindow(local.Hour()*60+local.Minute(), start, end)
}

func inWindow(minute, start, end int) bool {
	switch {
	case start == end:
		return false
	case start < end:
		return minute >= start && minute < end
	default:
		return minute >= start || minute < end
	}
}
