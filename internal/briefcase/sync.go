package briefcase

import (
	"context"
	"time"

	"github.com/zeusync/hubsync/internal/core/changeset"
	"github.com/zeusync/hubsync/internal/core/events"
	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/observability/log"
	"github.com/zeusync/hubsync/internal/core/observability/metrics"
)

// retryable are the push failures caused by other briefcases pushing at
// the same time.
var retryable = []hub.ErrorID{
	hub.AnotherUserPushing,
	hub.PullIsRequired,
	hub.DatabaseTemporarilyLocked,
	hub.OperationFailed,
}

const unsubscribeTimeout = 5 * time.Second

var pushEvents = []events.EventType{events.ChangeSetPrePushEvent, events.ChangeSetPostPushEvent}

// PullMergeAndPush pulls, merges and pushes, repeating up to maxAttempts
// times while the push loses a race with another briefcase. Between
// attempts it waits for the other push to finish, using push events when
// the service delivers them and a random delay otherwise. A failed pull or
// merge, a non-race push failure and running out of attempts all return
// the error that caused them.
func (b *Briefcase) PullMergeAndPush(ctx context.Context, opts PushOptions, maxAttempts int) (changeset.Chain, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	defer b.observe("pull_merge_push", time.Now())

	var (
		latch   *events.Latch
		handle  events.Handle
		lastErr error
	)
	defer func() {
		if handle != "" {
			b.unsubscribePushEvents(handle)
		}
	}()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		chain, err := b.PullAndMerge(ctx, opts.Progress)
		if err != nil {
			b.metrics.RecordAttempt(metrics.OutcomeFailed)
			return nil, err
		}

		if err := sleep(ctx, b.randomDuration(b.cfg.JitterMax)); err != nil {
			return nil, err
		}

		if b.otherPushInFlight(latch) {
			err = hub.NewError(hub.PullIsRequired, "another briefcase started pushing")
		} else {
			err = b.Push(ctx, opts)
		}
		if err == nil {
			b.metrics.RecordAttempt(metrics.OutcomeSuccess)
			return chain, nil
		}
		if !hub.HasID(err, retryable...) {
			b.metrics.RecordAttempt(metrics.OutcomeFailed)
			return nil, err
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}
		b.metrics.RecordAttempt(metrics.OutcomeRetry)
		b.logger.Info("push raced another briefcase, retrying",
			log.Int("attempt", attempt),
			log.Int("max_attempts", maxAttempts),
			log.Error(err))

		if attempt == 1 {
			b.seedRandom()
			latch, handle = b.subscribePushEvents(ctx)
		}
		if err := b.waitForOtherPush(ctx, latch); err != nil {
			return nil, err
		}
		if latch != nil {
			latch.Reset()
		}
	}

	b.metrics.RecordAttempt(metrics.OutcomeExhausted)
	b.logger.Warn("push attempts exhausted", log.Int("attempts", maxAttempts), log.Error(lastErr))
	return nil, lastErr
}

// otherPushInFlight reports whether the last push event seen is another
// briefcase starting a push.
func (b *Briefcase) otherPushInFlight(latch *events.Latch) bool {
	if latch == nil {
		return false
	}
	evt, ok := latch.Last()
	return ok && evt.Type == events.ChangeSetPrePushEvent && evt.BriefcaseID != b.ID()
}

// subscribePushEvents feeds push events into a latch. It returns a nil
// latch when events are unavailable.
func (b *Briefcase) subscribePushEvents(ctx context.Context) (*events.Latch, events.Handle) {
	if b.events == nil {
		return nil, ""
	}
	latch := events.NewLatch()
	handle, err := b.events.Subscribe(ctx, pushEvents, latch.Observe)
	if err != nil {
		b.logger.Warn("push events unavailable, falling back to random delay", log.Error(err))
		return nil, ""
	}
	return latch, handle
}

func (b *Briefcase) unsubscribePushEvents(handle events.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	if err := b.events.Unsubscribe(ctx, handle); err != nil {
		b.logger.Warn("unsubscribing push events failed", log.Error(err))
	}
}

// waitForOtherPush blocks until another briefcase's push completes or the
// wait bound passes. Without events it sleeps a random delay instead.
func (b *Briefcase) waitForOtherPush(ctx context.Context, latch *events.Latch) error {
	if latch == nil {
		b.metrics.RecordEventWait(metrics.WaitFallback)
		return sleep(ctx, b.randomDuration(b.cfg.FallbackDelayMax))
	}

	_, ok := latch.Wait(ctx, b.cfg.eventWait(), func(e events.Event) bool {
		return e.Type == events.ChangeSetPostPushEvent
	})
	if err := ctx.Err(); err != nil {
		return hub.Wrap(hub.Cancelled, err)
	}
	if ok {
		b.metrics.RecordEventWait(metrics.WaitObserved)
	} else {
		b.metrics.RecordEventWait(metrics.WaitTimeout)
	}
	return nil
}

// SubscribeEventsCallback registers cb for types, every type when types is
// empty.
func (b *Briefcase) SubscribeEventsCallback(ctx context.Context, types []events.EventType, cb events.Callback) (events.Handle, error) {
	if b.events == nil {
		return "", hub.NewError(hub.NotSubscribedToEventService, "event service is not configured")
	}
	return b.events.Subscribe(ctx, types, cb)
}

func (b *Briefcase) UnsubscribeEventsCallback(ctx context.Context, handle events.Handle) error {
	if b.events == nil {
		return hub.NewError(hub.NotSubscribedToEventService, "event service is not configured")
	}
	return b.events.Unsubscribe(ctx, handle)
}
