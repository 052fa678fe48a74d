// Package email sends transactional notification emails.
//
// EmailSender is the provider seam. Two implementations ship with the package:
// a Postmark client for production and DevSender, which writes each message to
// disk as an HTML file plus JSON metadata. NewPostmarkClient validates its
// Config up front; callers without Postmark tokens should use DevSender.
//
//	sender, err := email.NewPostmarkClient(cfg)
//	if err != nil {
//	    return err
//	}
//	id, err := sender.SendEmail(ctx, email.SendEmailParams{
//	    SendTo:   "user@example.com",
//	    Subject:  "New reply",
//	    BodyHTML: "<p>Someone replied to your post</p>",
//	    Tag:      "reply",
//	})
//
// Both senders validate SendEmailParams first and wrap validation failures in
// ErrInvalidParams. Errors that cannot succeed on retry (invalid params,
// rejected or inactive recipients) are wrapped with retry.Terminal so the
// retry engine and circuit breaker leave them alone.
package email
