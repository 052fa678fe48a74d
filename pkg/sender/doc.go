// Package sender is the single entry point for delivering a notification to a
// user over push and email.
//
// For each request the sender loads the user's preferences (or takes them from
// WithPreferences) and applies the gate. A denied notification never reaches a
// provider. Allowed channels run concurrently; each one checks provider quota,
// then calls the provider through its circuit breaker wrapping a retry loop,
// with a fixed timeout per attempt. Device tokens the push provider reports as
// unregistered are deactivated whatever the batch outcome.
//
// Send reports a structured Result with an Outcome of sent, denied or failed.
// Dispatch additionally stores deferrable failures (no quota, open circuit,
// transient errors) in the fallback queue and reports queued. Deliver lets the
// fallback queue drain those items through the same path.
//
//	s := sender.New(
//	    sender.WithPreferenceStore(prefs),
//	    sender.WithPush(push.NewExpoProvider(pushCfg), tokens),
//	    sender.WithEmail(mailer, contacts),
//	    sender.WithBreakers(breakers),
//	    sender.WithAdmission(quotaController),
//	    sender.WithDeliveryRecords(records),
//	    sender.WithFallbackQueue(queue),
//	)
//	queue.SetDeliverer(s)
//
//	res, err := s.Dispatch(ctx, sender.Request{
//	    UserID:  userID,
//	    Type:    "comment_reply",
//	    Content: sender.Content{Title: "New reply", Body: body, ItemID: commentID},
//	})
package sender
