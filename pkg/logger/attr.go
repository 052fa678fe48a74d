package logger

import (
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the user identifier under the key "user_id".
// Empty ids produce an empty Attr so callers can log unconditionally.
func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

// NotificationID records a queued notification identifier.
func NotificationID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("notification_id", id)
}

// NotificationType records the notification type under the key "notification_type".
func NotificationType(t string) slog.Attr {
	return slog.String("notification_type", t)
}

// DedupKey records the deduplication key of a notification.
func DedupKey(key string) slog.Attr {
	return slog.String("dedup_key", key)
}

// Dependency records the name of a guarded external dependency.
func Dependency(name string) slog.Attr {
	return slog.String("dependency", name)
}

// Provider records a quota-tracked provider name.
func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}

// Channel records a delivery channel (push, email).
func Channel(name string) slog.Attr {
	return slog.String("channel", name)
}

// TaskID records a job queue task identifier.
func TaskID(id any) slog.Attr {
	return slog.Any("task_id", id)
}

// TaskName records a job queue task name.
func TaskName(name string) slog.Attr {
	return slog.String("task_name", name)
}

// RetryCount records the retry count under the key "retry_count".
func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

// Duration records a duration under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
