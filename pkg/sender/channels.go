package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/dmitrymomot/notifykit/pkg/breaker"
	"github.com/dmitrymomot/notifykit/pkg/email"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/push"
	"github.com/dmitrymomot/notifykit/pkg/retry"
)

func (s *Sender) sendPush(ctx context.Context, req Request, track bool) channelOutcome {
	var out channelOutcome

	tokens, err := s.tokens.ActiveTokens(ctx, req.UserID)
	if err != nil {
		out.err = errors.Join(push.ErrTokenStore, err)
		out.result.Error = out.err.Error()
		return out
	}
	if len(tokens) == 0 {
		out.result.Skipped = "no_tokens"
		return out
	}

	msg := pushMessage(req)
	if err := msg.Validate(); err != nil {
		out.err = retry.Terminal(err)
		out.result.Error = err.Error()
		return out
	}

	if !s.hasCapacity(ctx, s.pushName, int64(len(tokens))) {
		out.err = ErrNoCapacity
		out.result.Error = ErrNoCapacity.Error()
		return out
	}

	results, err := guarded(ctx, s, s.pushName, s.pushTimeout, func(ctx context.Context) ([]push.TokenResult, error) {
		return s.push.Send(ctx, tokens, msg)
	})
	out.result.Attempted = !breaker.IsOpen(err)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "push delivery failed",
			logger.UserID(req.UserID),
			logger.Provider(s.pushName),
			logger.Error(err),
		)
		out.err = err
		out.result.Error = err.Error()
		return out
	}

	sum := push.Summarize(results)
	out.result.Accepted = sum.Accepted
	out.result.Failed = sum.Failed
	out.result.Invalid = len(sum.Invalid)
	s.removeInvalidTokens(ctx, req.UserID, sum.Invalid)

	// The provider bills every message it processed, accepted or not.
	out.usage = int64(len(results))
	if track {
		s.track(ctx, s.pushName, out.usage)
	}

	if sum.Accepted == 0 {
		out.err = rejection(results)
		out.result.Error = out.err.Error()
		return out
	}
	out.result.Sent = true
	return out
}

func (s *Sender) removeInvalidTokens(ctx context.Context, userID string, tokens []string) {
	if len(tokens) == 0 {
		return
	}
	if err := s.tokens.Deactivate(ctx, tokens...); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "failed to deactivate invalid push tokens",
			logger.UserID(userID),
			slog.Int("tokens", len(tokens)),
			logger.Error(err),
		)
		return
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "deactivated invalid push tokens",
		logger.UserID(userID),
		slog.Int("tokens", len(tokens)),
	)
}

// rejection classifies a batch in which no token was accepted. Unknown
// provider errors may clear up; invalid tokens and oversized messages do not.
func rejection(results []push.TokenResult) error {
	var first error
	for _, r := range results {
		if r.OK() {
			continue
		}
		if first == nil {
			first = r.Err
		}
		if errors.Is(r.Err, push.ErrProviderResponse) {
			return fmt.Errorf("%w: %w", ErrPushRejected, r.Err)
		}
	}
	return retry.Terminal(fmt.Errorf("%w: %w", ErrPushRejected, first))
}

func pushMessage(req Request) push.Message {
	msg := push.Message{
		Title: req.Title,
		Body:  req.Body,
		Data:  req.Data,
	}
	if req.Priority > 0 {
		msg.Priority = "high"
	}

	if p := req.Push; p != nil {
		if p.Title != "" {
			msg.Title = p.Title
		}
		if p.Body != "" {
			msg.Body = p.Body
		}
		if len(p.Data) > 0 {
			msg.Data = make(map[string]any, len(req.Data)+len(p.Data))
			maps.Copy(msg.Data, req.Data)
			maps.Copy(msg.Data, p.Data)
		}
		if p.Priority != "" {
			msg.Priority = p.Priority
		}
		msg.Sound = p.Sound
		msg.Badge = p.Badge
		msg.TTL = p.TTL
	}
	return msg
}

func (s *Sender) sendEmail(ctx context.Context, req Request, track bool) channelOutcome {
	var out channelOutcome

	to := req.Email.To
	if to == "" && s.contacts != nil {
		addr, err := s.contacts.EmailAddress(ctx, req.UserID)
		if err != nil {
			out.err = err
			out.result.Error = err.Error()
			return out
		}
		to = addr
	}
	if to == "" {
		out.result.Skipped = "no_address"
		return out
	}

	params := emailParams(req, to)
	if err := params.Validate(); err != nil {
		out.err = retry.Terminal(err)
		out.result.Error = err.Error()
		return out
	}

	if !s.hasCapacity(ctx, s.emailName, 1) {
		out.err = ErrNoCapacity
		out.result.Error = ErrNoCapacity.Error()
		return out
	}

	id, err := guarded(ctx, s, s.emailName, s.emailTimeout, func(ctx context.Context) (string, error) {
		return s.email.SendEmail(ctx, params)
	})
	out.result.Attempted = !breaker.IsOpen(err)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "email delivery failed",
			logger.UserID(req.UserID),
			logger.Provider(s.emailName),
			logger.Error(err),
		)
		out.err = err
		out.result.Error = err.Error()
		return out
	}

	out.usage = 1
	if track {
		s.track(ctx, s.emailName, out.usage)
	}
	out.result.Sent = true
	out.result.MessageID = id
	return out
}

func emailParams(req Request, to string) email.SendEmailParams {
	c := req.Email
	p := email.SendEmailParams{
		SendTo:   to,
		Subject:  c.Subject,
		BodyHTML: c.HTML,
		BodyText: c.Text,
		Tag:      c.Tag,
		Metadata: make(map[string]string, len(c.Metadata)+2),
	}
	if p.Subject == "" {
		p.Subject = req.Title
	}
	if p.BodyHTML == "" && p.BodyText == "" {
		p.BodyText = req.Body
	}
	if p.Tag == "" {
		p.Tag = req.Type
	}
	maps.Copy(p.Metadata, c.Metadata)
	p.Metadata["user_id"] = req.UserID
	p.Metadata["notification_type"] = req.Type
	return p
}

func decodePayload(raw json.RawMessage, req *Request) error {
	if len(raw) == 0 {
		return ErrBadPayload
	}
	if err := json.Unmarshal(raw, req); err != nil {
		return errors.Join(ErrBadPayload, err)
	}
	return nil
}
