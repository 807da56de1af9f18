package briefcase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/hubsync/internal/core/events"
	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/hub/hubtest"
	"github.com/zeusync/hubsync/internal/core/observability/metrics"
	"github.com/zeusync/hubsync/internal/core/resources"
)

func racing(id hub.ErrorID) error {
	return hub.NewError(id, "race")
}

func TestPullMergeAndPushRetriesRaces(t *testing.T) {
	h := linearHistory(1)
	client := &hubtest.Client{
		QueryFunc: h.query,
		SendChangesetFunc: pushFailures(
			racing(hub.AnotherUserPushing),
			racing(hub.DatabaseTemporarilyLocked),
			racing(hub.OperationFailed),
		),
	}
	db := newFakeDB("cs1").withChanges("cs2")
	b := newTestBriefcase(t, db, client)

	_, err := b.PullMergeAndPush(context.Background(), PushOptions{}, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, finalizeCount(client))
	assert.Equal(t, 3, db.abandoned)
	assert.Equal(t, []string{"cs2"}, db.finished)
}

func TestPullMergeAndPushStopsOnFatalError(t *testing.T) {
	h := linearHistory(1)
	client := &hubtest.Client{
		QueryFunc:         h.query,
		SendChangesetFunc: pushFailures(racing(hub.CodeReservedByAnotherBriefcase)),
	}
	db := newFakeDB("cs1").withChanges("cs2")

	_, err := newTestBriefcase(t, db, client).PullMergeAndPush(context.Background(), PushOptions{}, 5)
	assert.True(t, hub.HasID(err, hub.CodeReservedByAnotherBriefcase))
	assert.Equal(t, 1, finalizeCount(client))
}

func TestPullMergeAndPushReturnsLastErrorWhenExhausted(t *testing.T) {
	h := linearHistory(1)
	client := &hubtest.Client{
		QueryFunc: h.query,
		SendChangesetFunc: pushFailures(
			racing(hub.AnotherUserPushing),
			racing(hub.AnotherUserPushing),
			racing(hub.PullIsRequired),
		),
	}
	db := newFakeDB("cs1").withChanges("cs2")

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector("test", reg)
	require.NoError(t, err)
	b := newTestBriefcase(t, db, client)
	b.metrics = collector

	_, err = b.PullMergeAndPush(context.Background(), PushOptions{}, 3)
	assert.True(t, hub.HasID(err, hub.PullIsRequired))
	assert.Equal(t, 3, finalizeCount(client))

	assert.Equal(t, 2.0, counterValue(t, reg, "test_sync_attempts_total", "retry"))
	assert.Equal(t, 1.0, counterValue(t, reg, "test_sync_attempts_total", "exhausted"))
}

func TestPullMergeAndPushDoesNotRetryPullFailure(t *testing.T) {
	pullErr := hub.NewError(hub.Unauthorized, "expired")
	client := &hubtest.Client{
		QueryFunc: func(context.Context, hub.Query) ([]hub.Instance, error) { return nil, pullErr },
	}
	db := newFakeDB("cs1").withChanges("cs2")

	_, err := newTestBriefcase(t, db, client).PullMergeAndPush(context.Background(), PushOptions{}, 3)
	assert.ErrorIs(t, err, pullErr)
	assert.Zero(t, finalizeCount(client))
	assert.Zero(t, db.started)
}

func TestPullMergeAndPushKeepsConflictCallback(t *testing.T) {
	h := linearHistory(1)
	client := &hubtest.Client{
		QueryFunc: h.query,
		SendChangesetFunc: pushFailures(
			racing(hub.PullIsRequired),
			racing(hub.PullIsRequired),
		),
	}
	db := newFakeDB("cs1").withChanges("cs2")

	calls := 0
	_, err := newTestBriefcase(t, db, client).PullMergeAndPush(context.Background(), PushOptions{
		OnConflict: func(*resources.Response) { calls++ },
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPullMergeAndPushHonorsCancellation(t *testing.T) {
	h := linearHistory(1)
	ctx, cancel := context.WithCancel(context.Background())
	client := &hubtest.Client{
		QueryFunc: h.query,
		SendChangesetFunc: func(context.Context, *hub.Changeset) (hub.ChangesetResponse, error) {
			cancel()
			return hub.ChangesetResponse{}, racing(hub.AnotherUserPushing)
		},
	}
	db := newFakeDB("cs1").withChanges("cs2")
	b := newTestBriefcase(t, db, client)
	b.cfg.FallbackDelayMax = time.Minute

	_, err := b.PullMergeAndPush(ctx, PushOptions{}, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, finalizeCount(client))
}

func TestOtherPushInFlight(t *testing.T) {
	b := newTestBriefcase(t, newFakeDB(), &hubtest.Client{})
	assert.False(t, b.otherPushInFlight(nil))

	latch := events.NewLatch()
	assert.False(t, b.otherPushInFlight(latch))

	latch.Observe(events.Event{Type: events.ChangeSetPrePushEvent, BriefcaseID: 2})
	assert.False(t, b.otherPushInFlight(latch), "own push")

	latch.Observe(events.Event{Type: events.ChangeSetPrePushEvent, BriefcaseID: 9})
	assert.True(t, b.otherPushInFlight(latch))

	latch.Observe(events.Event{Type: events.ChangeSetPostPushEvent, BriefcaseID: 9})
	assert.False(t, b.otherPushInFlight(latch))
}

func TestWaitForOtherPush(t *testing.T) {
	b := newTestBriefcase(t, newFakeDB(), &hubtest.Client{})
	b.cfg.EventPolls = 100
	b.cfg.PollInterval = 50 * time.Millisecond

	latch := events.NewLatch()
	go func() {
		time.Sleep(10 * time.Millisecond)
		latch.Observe(events.Event{Type: events.ChangeSetPostPushEvent, BriefcaseID: 9})
	}()

	start := time.Now()
	require.NoError(t, b.waitForOtherPush(context.Background(), latch))
	assert.Less(t, time.Since(start), 4*time.Second)

	b.cfg.EventPolls = 2
	b.cfg.PollInterval = time.Millisecond
	latch.Reset()
	require.NoError(t, b.waitForOtherPush(context.Background(), latch), "timing out is not an error")
}

func TestPullMergeAndPushSubscribesToPushEvents(t *testing.T) {
	h := linearHistory(1)
	client := &hubtest.Client{
		QueryFunc:         h.query,
		SendChangesetFunc: pushFailures(racing(hub.AnotherUserPushing)),
	}
	stream := &eventClient{msgs: make(chan events.Message, 1)}
	dials := 0
	manager := events.NewManager(eventAPI{}, func(context.Context, events.SASToken, string) (events.ServiceClient, error) {
		dials++
		stream.msgs <- events.Message{ContentType: string(events.ChangeSetPostPushEvent), Body: []byte(`{"BriefcaseId":9}`)}
		return stream, nil
	}, events.Config{StopTimeout: time.Second}, nil)
	defer func() { require.NoError(t, manager.Stop()) }()

	db := newFakeDB("cs1").withChanges("cs2")
	b := newTestBriefcase(t, db, client)
	b.events = manager

	_, err := b.PullMergeAndPush(context.Background(), PushOptions{}, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, finalizeCount(client))
	assert.Equal(t, 1, dials)
	assert.False(t, manager.IsSubscribed(), "push events are dropped once the push lands")
}

func TestPullMergeAndPushSkipsPushWhileAnotherBriefcasePushes(t *testing.T) {
	h := linearHistory(1)
	stream := &eventClient{msgs: make(chan events.Message, 4)}
	manager := events.NewManager(eventAPI{}, func(context.Context, events.SASToken, string) (events.ServiceClient, error) {
		return stream, nil
	}, events.Config{StopTimeout: time.Second}, nil)
	defer func() { require.NoError(t, manager.Stop()) }()

	// Once the retry loop listens for push events, the next pull sees
	// another briefcase start pushing. The lock event after it confirms the
	// listener has dispatched the pre-push event.
	var once sync.Once
	query := func(ctx context.Context, q hub.Query) ([]hub.Instance, error) {
		if manager.IsSubscribed() {
			once.Do(func() {
				delivered := make(chan struct{}, 1)
				_, err := manager.Subscribe(ctx, []events.EventType{events.LockEvent}, func(events.Event) {
					delivered <- struct{}{}
				})
				require.NoError(t, err)
				stream.msgs <- events.Message{ContentType: string(events.ChangeSetPrePushEvent), Body: []byte(`{"BriefcaseId":9}`)}
				stream.msgs <- events.Message{ContentType: string(events.LockEvent), Body: []byte(`{}`)}
				select {
				case <-delivered:
				case <-time.After(5 * time.Second):
					t.Error("pre-push event was not dispatched")
				}
			})
		}
		return h.query(ctx, q)
	}
	client := &hubtest.Client{
		QueryFunc:         query,
		SendChangesetFunc: pushFailures(racing(hub.AnotherUserPushing)),
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector("test", reg)
	require.NoError(t, err)
	db := newFakeDB("cs1").withChanges("cs2")
	b := newTestBriefcase(t, db, client)
	b.events = manager
	b.metrics = collector

	_, err = b.PullMergeAndPush(context.Background(), PushOptions{}, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, finalizeCount(client), "the attempt that saw the pre-push event sent nothing")
	assert.Equal(t, 2.0, counterValue(t, reg, "test_sync_attempts_total", "retry"))
	assert.Equal(t, 1.0, counterValue(t, reg, "test_sync_attempts_total", "success"))
	assert.Equal(t, []string{"cs2"}, db.finished)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{%s} not found", name, label)
	return 0
}
