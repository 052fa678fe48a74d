// Package push delivers push notifications to device tokens.
//
// Provider is the seam to the push service. ExpoProvider talks to the Expo
// push API, splitting large batches and pacing requests with a token bucket;
// NoopProvider is selected when push is disabled. Batch-level failures are
// returned as errors the retry package can classify (HTTP statuses become
// *retry.StatusError); per-token failures are reported in TokenResult, and
// tokens the provider no longer recognises report Invalid so the caller can
// deactivate them in the TokenStore.
package push
