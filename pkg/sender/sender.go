package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/async"
	"github.com/dmitrymomot/notifykit/pkg/breaker"
	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/email"
	"github.com/dmitrymomot/notifykit/pkg/fallback"
	"github.com/dmitrymomot/notifykit/pkg/gate"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/push"
	"github.com/dmitrymomot/notifykit/pkg/retry"
)

// Sender delivers notifications through push and email. Every provider call
// passes the preference gate, the quota check, the provider's circuit breaker
// and a retry loop, in that order.
type Sender struct {
	prefs     gate.PreferenceStore
	push      push.Provider
	tokens    push.TokenStore
	email     email.EmailSender
	contacts  ContactResolver
	records   delivery.Store
	queue     *fallback.Queue
	breakers  *breaker.Registry
	admission Admission
	retryOpts []retry.Option

	pushName      string
	emailName     string
	pushTimeout   time.Duration
	emailTimeout  time.Duration
	bucketMinutes int

	now    func() time.Time
	logger *slog.Logger
}

// New creates a Sender. Channels without a provider are skipped.
func New(opts ...Option) *Sender {
	s := &Sender{
		pushName:      push.ProviderName,
		emailName:     email.ProviderName,
		pushTimeout:   10 * time.Second,
		emailTimeout:  15 * time.Second,
		bucketMinutes: gate.DefaultBucketMinutes,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// attempt carries one pass through the channels.
type attempt struct {
	req      Request
	prefs    *gate.Preferences
	dedupKey string
	// drain is set when a queued item is being delivered: the queue writes the
	// delivery record and tracks usage of its own provider.
	drain bool
}

type channelOutcome struct {
	result ChannelResult
	usage  int64
	err    error
}

// Send delivers content to the user right away. The returned error is only
// set for requests that cannot be attempted at all; provider failures are
// reported through the Result.
func (s *Sender) Send(ctx context.Context, userID, notificationType string, content Content, opts ...SendOption) (Result, error) {
	return s.send(ctx, Request{UserID: userID, Type: notificationType, Content: content}, opts...)
}

// Dispatch is Send that queues the notification in the fallback queue when
// the failure is deferrable.
func (s *Sender) Dispatch(ctx context.Context, req Request, opts ...SendOption) (Result, error) {
	res, err := s.send(ctx, req, opts...)
	if err != nil || !res.Deferrable() {
		return res, err
	}
	if s.queue == nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "notification not deferred, no fallback queue",
			logger.UserID(req.UserID),
			logger.NotificationType(req.Type),
		)
		return res, nil
	}

	payload, err := req.payload()
	if err != nil {
		res.Details.Error = err.Error()
		return res, nil
	}

	er, err := s.queue.Enqueue(ctx, fallback.Item{
		UserID:   req.UserID,
		Type:     req.Type,
		Payload:  payload,
		Priority: req.Priority,
		DedupKey: res.Details.DedupKey,
	})
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "failed to defer notification",
			logger.UserID(req.UserID),
			logger.DedupKey(res.Details.DedupKey),
			logger.Error(err),
		)
		res.Details.Error = err.Error()
		return res, nil
	}

	res.Outcome = OutcomeQueued
	res.Details.NotificationID = er.NotificationID
	res.Details.Duplicate = er.IsDuplicate
	return res, nil
}

// Deliver sends a queued item. It implements fallback.Deliverer.
func (s *Sender) Deliver(ctx context.Context, item fallback.Item) (fallback.Report, error) {
	var req Request
	if err := decodePayload(item.Payload, &req); err != nil {
		return fallback.Report{}, retry.Terminal(err)
	}
	if req.UserID == "" {
		req.UserID = item.UserID
	}
	if req.Type == "" {
		req.Type = item.Type
	}

	res, usage, err := s.run(ctx, attempt{req: req, dedupKey: item.DedupKey, drain: true})
	if err != nil {
		return fallback.Report{}, retry.Terminal(err)
	}

	report := fallback.Report{PushSent: res.PushSent, EmailSent: res.EmailSent, Usage: usage}
	switch {
	case res.Outcome == OutcomeSent:
		return report, nil
	case res.Outcome == OutcomeDenied && res.Details.Reason == gate.ReasonQuietHours:
		return report, ErrQuietHours
	case res.Outcome == OutcomeDenied:
		return report, fmt.Errorf("%w: %s", fallback.ErrSkipped, res.Details.Reason)
	case res.Deferrable():
		return report, fmt.Errorf("%w: %s", ErrNotDelivered, res.failure())
	default:
		return report, retry.Terminal(fmt.Errorf("%w: %s", ErrNotDelivered, res.failure()))
	}
}

func (s *Sender) send(ctx context.Context, req Request, opts ...SendOption) (Result, error) {
	var so sendOptions
	for _, opt := range opts {
		opt(&so)
	}

	res, _, err := s.run(ctx, attempt{req: req, prefs: so.prefs})
	return res, err
}

// run applies the gate and fans out to the channels. The returned usage is
// the quota consumed on the fallback queue's provider during a drain.
func (s *Sender) run(ctx context.Context, a attempt) (Result, int64, error) {
	res := Result{Outcome: OutcomeFailed}
	req := a.req

	if err := req.Validate(); err != nil {
		res.Details.Error = err.Error()
		return res, 0, err
	}

	now := s.now()
	res.Details.DedupKey = a.dedupKey
	if res.Details.DedupKey == "" {
		res.Details.DedupKey = gate.DedupKey(req.UserID, req.Type, req.ItemID, s.bucketMinutes, now)
	}

	if !a.drain {
		if id, dup := s.duplicate(ctx, res.Details.DedupKey, now); dup {
			res.Outcome = OutcomeDenied
			res.Details.Reason = gate.ReasonDuplicate
			res.Details.Duplicate = true
			res.Details.NotificationID = id
			s.logger.LogAttrs(ctx, slog.LevelDebug, "duplicate notification not sent",
				logger.UserID(req.UserID),
				logger.DedupKey(res.Details.DedupKey),
			)
			return res, 0, nil
		}
	}

	prefs, err := s.preferences(ctx, req.UserID, a.prefs)
	if err != nil {
		res.Details.Error = err.Error()
		res.deferrable = true
		return res, 0, nil
	}

	decision := gate.Decide(prefs, req.Type, now)
	res.Details.Reason = decision.Reason
	if !decision.Allowed {
		res.Outcome = OutcomeDenied
		s.logger.LogAttrs(ctx, slog.LevelDebug, "notification denied by preferences",
			logger.UserID(req.UserID),
			logger.NotificationType(req.Type),
			slog.String("reason", string(decision.Reason)),
		)
		return res, 0, nil
	}

	drainProvider := ""
	if a.drain && s.queue != nil {
		drainProvider = s.queue.Config().Provider
	}

	var pushF, emailF *async.Future[channelOutcome]
	switch {
	case s.push == nil || s.tokens == nil:
		res.Details.Push.Skipped = "not_configured"
	case !prefs.ChannelEnabled(gate.ChannelPush):
		res.Details.Push.Skipped = "channel_disabled"
	default:
		track := !a.drain || s.pushName != drainProvider
		pushF = async.Run(ctx, func(ctx context.Context) (channelOutcome, error) {
			return s.sendPush(ctx, req, track), nil
		})
	}
	switch {
	case req.Email == nil:
		res.Details.Email.Skipped = "no_content"
	case s.email == nil:
		res.Details.Email.Skipped = "not_configured"
	case !prefs.ChannelEnabled(gate.ChannelEmail):
		res.Details.Email.Skipped = "channel_disabled"
	default:
		track := !a.drain || s.emailName != drainProvider
		emailF = async.Run(ctx, func(ctx context.Context) (channelOutcome, error) {
			return s.sendEmail(ctx, req, track), nil
		})
	}

	pushOut := await(pushF, res.Details.Push)
	emailOut := await(emailF, res.Details.Email)
	res.Details.Push = pushOut.result
	res.Details.Email = emailOut.result
	res.PushSent = pushOut.result.Sent
	res.EmailSent = emailOut.result.Sent

	var usage int64
	if s.pushName == drainProvider {
		usage += pushOut.usage
	}
	if s.emailName == drainProvider {
		usage += emailOut.usage
	}

	switch {
	case res.PushSent || res.EmailSent:
		res.Outcome = OutcomeSent
	case pushOut.err == nil && emailOut.err == nil:
		res.Details.Error = ErrNoChannel.Error()
	default:
		res.deferrable = deferrable(pushOut.err) || deferrable(emailOut.err)
	}

	if !a.drain && (pushOut.result.Attempted || emailOut.result.Attempted) {
		s.record(ctx, req, res, now)
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "notification processed",
		logger.UserID(req.UserID),
		logger.NotificationType(req.Type),
		slog.String("outcome", string(res.Outcome)),
		slog.Bool("push_sent", res.PushSent),
		slog.Bool("email_sent", res.EmailSent),
		slog.Bool("deferrable", res.deferrable),
	)

	return res, usage, nil
}

func (s *Sender) preferences(ctx context.Context, userID string, given *gate.Preferences) (gate.Preferences, error) {
	if given != nil {
		return *given, nil
	}
	if s.prefs == nil {
		return gate.DefaultPreferences(userID), nil
	}
	p, err := s.prefs.Get(ctx, userID)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "failed to load notification preferences",
			logger.UserID(userID),
			logger.Error(err),
		)
		return gate.Preferences{}, errors.Join(ErrPreferences, err)
	}
	return p, nil
}

// duplicate reports whether the key is already queued or was delivered within
// the queue's dedup window. Lookup failures let the send through.
func (s *Sender) duplicate(ctx context.Context, dedupKey string, now time.Time) (uuid.UUID, bool) {
	var (
		id  uuid.UUID
		dup bool
		err error
	)
	switch {
	case s.queue != nil:
		id, dup, err = s.queue.Duplicate(ctx, dedupKey)
	case s.records != nil:
		dup, err = s.records.HasRecent(ctx, dedupKey, now.UTC().Add(-fallback.DefaultConfig().DedupWindow))
	}
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "duplicate check failed",
			logger.DedupKey(dedupKey),
			logger.Error(err),
		)
		return uuid.Nil, false
	}
	return id, dup
}

func (s *Sender) record(ctx context.Context, req Request, res Result, now time.Time) {
	if s.records == nil {
		return
	}
	payload, err := req.payload()
	if err != nil {
		payload = nil
	}
	rec := &delivery.Record{
		UserID:    req.UserID,
		Type:      req.Type,
		ItemID:    req.ItemID,
		DedupKey:  res.Details.DedupKey,
		PushSent:  res.PushSent,
		EmailSent: res.EmailSent,
		Payload:   payload,
		CreatedAt: now.UTC(),
	}
	if err := s.records.Create(ctx, rec); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "failed to write delivery record",
			logger.UserID(req.UserID),
			logger.DedupKey(res.Details.DedupKey),
			logger.Error(err),
		)
	}
}

func (s *Sender) track(ctx context.Context, provider string, n int64) {
	if s.admission == nil || n <= 0 {
		return
	}
	// Store failures are logged by the controller.
	_, _ = s.admission.TrackUsage(ctx, provider, n)
}

func (s *Sender) hasCapacity(ctx context.Context, provider string, n int64) bool {
	return s.admission == nil || !s.admission.ShouldFallback(ctx, provider, n)
}

// guarded runs op through the provider's breaker and a retry loop, with a
// fresh timeout per attempt. In-flight calls ignore caller cancellation.
func guarded[T any](ctx context.Context, s *Sender, provider string, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	ctx = context.WithoutCancel(ctx)

	opts := make([]retry.Option, 0, len(s.retryOpts)+1)
	opts = append(opts, retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
		s.logger.LogAttrs(ctx, slog.LevelDebug, "retrying provider call",
			logger.Provider(provider),
			logger.RetryCount(attempt),
			logger.Duration(delay),
			logger.Error(err),
		)
	}))
	opts = append(opts, s.retryOpts...)

	call := func(ctx context.Context) (T, error) {
		return retry.DoValue(ctx, func(ctx context.Context) (T, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return op(ctx)
		}, opts...)
	}

	if s.breakers == nil {
		return call(ctx)
	}
	return breaker.Do(ctx, s.breakers, provider, call)
}

func await(f *async.Future[channelOutcome], skipped ChannelResult) channelOutcome {
	if f == nil {
		return channelOutcome{result: skipped}
	}
	out, err := f.Await()
	if err != nil {
		out.err = err
		out.result.Error = err.Error()
	}
	return out
}

// deferrable reports whether a channel failure may succeed later.
func deferrable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNoCapacity), breaker.IsOpen(err):
		return true
	default:
		return !retry.IsTerminal(err)
	}
}

func (r Result) failure() string {
	switch {
	case r.Details.Error != "":
		return r.Details.Error
	case r.Details.Push.Error != "" && r.Details.Email.Error != "":
		return fmt.Sprintf("push: %s; email: %s", r.Details.Push.Error, r.Details.Email.Error)
	case r.Details.Push.Error != "":
		return r.Details.Push.Error
	default:
		return r.Details.Email.Error
	}
}
