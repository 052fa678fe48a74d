package gate

import (
	"fmt"
	"time"
)

// Reason explains a gate decision.
type Reason string

const (
	ReasonAllowed      Reason = "allowed"
	ReasonDisabled     Reason = "notifications_disabled"
	ReasonDoNotDisturb Reason = "do_not_disturb"
	ReasonQuietHours   Reason = "quiet_hours"
	ReasonTypeDisabled Reason = "type_disabled"
	ReasonDuplicate    Reason = "duplicate"
)

// Decision is the outcome of evaluating preferences for one notification.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Decide evaluates the preference checks in order: master toggle, do-not-disturb,
// quiet hours, then the per-type flag. The first failing check wins.
func Decide(p Preferences, notificationType string, now time.Time) Decision {
	switch {
	case !p.Enabled:
		return Decision{Reason: ReasonDisabled}
	case p.DoNotDisturb:
		return Decision{Reason: ReasonDoNotDisturb}
	case p.InQuietHours(now):
		return Decision{Reason: ReasonQuietHours}
	case !p.TypeEnabled(notificationType):
		return Decision{Reason: ReasonTypeDisabled}
	}
	return Decision{Allowed: true, Reason: ReasonAllowed}
}

// CanSend reports whether a notification of the given type may be attempted now.
func CanSend(p Preferences, notificationType string, now time.Time) bool {
	return Decide(p, notificationType, now).Allowed
}

// ChannelEnabled reports whether the user accepts notifications on ch.
func ChannelEnabled(p Preferences, ch Channel) bool {
	return p.ChannelEnabled(ch)
}

// DefaultBucketMinutes collapses repeats of the same notification within a day.
const DefaultBucketMinutes = 1440

// DedupKey builds "{userID}:{type}:{itemID}:{bucket}" where bucket is the start
// of the time bucket containing at, in epoch minutes. Two calls for the same
// user, type and item inside one bucket produce the same key.
// A non-positive bucketMinutes uses DefaultBucketMinutes. An empty itemID
// leaves its segment empty.
func DedupKey(userID, notificationType, itemID string, bucketMinutes int, at time.Time) string {
	if bucketMinutes <= 0 {
		bucketMinutes = DefaultBucketMinutes
	}

	epochMinute := floorDiv(at.Unix(), 60)
	size := int64(bucketMinutes)
	bucket := floorDiv(epochMinute, size) * size

	return fmt.Sprintf("%s:%s:%s:%d", userID, notificationType, itemID, bucket)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
