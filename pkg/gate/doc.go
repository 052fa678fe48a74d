// Package gate decides whether a notification should be attempted at all.
//
// Decide checks, in order, the user's master toggle, do-not-disturb flag,
// quiet hours and per-type flag. Quiet hours are evaluated in the user's
// timezone (UTC when missing or unknown) and may wrap midnight, so a 22:00-08:00
// window covers both 23:30 and 07:00.
//
// DedupKey derives the idempotency key used by the fallback queue: the same
// user, type and item inside one time bucket (a day by default) map to one key.
//
// Preferences are read through a PreferenceStore that creates the default row
// on first read. MemoryStore and PostgresStore are provided.
package gate
