// Package async runs work off the calling goroutine.
//
// Run returns a Future for computations the caller will Await, which is how
// independent delivery channels are sent concurrently. Go is the
// fire-and-forget variant used for observability side effects: the caller
// never waits, and failures or panics are contained and logged.
package async
