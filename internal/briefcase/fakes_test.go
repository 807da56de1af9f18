package briefcase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zeusync/hubsync/internal/core/changeset"
	"github.com/zeusync/hubsync/internal/core/events"
	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/hub/hubtest"
)

// fakeDB applies changesets to a stack of ids.
type fakeDB struct {
	mu sync.Mutex

	id         int
	missing    bool
	readOnly   bool
	noTracking bool

	applied  []string
	reversed []string
	calls    []string

	pendingChanges bool
	nextLocal      *LocalChangeSet
	inProgress     *LocalChangeSet
	started        int
	finished       []string
	abandoned      int
	saved          int
}

var _ LocalDB = (*fakeDB)(nil)

func newFakeDB(applied ...string) *fakeDB {
	return &fakeDB{id: 2, applied: applied}
}

func (d *fakeDB) ParentChangeSetID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.applied) == 0 {
		return ""
	}
	return d.applied[len(d.applied)-1]
}

func (d *fakeDB) HasReversedChangeSets() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reversed) > 0
}

func (d *fakeDB) Merge(_ context.Context, cs *changeset.ChangeSet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "merge "+cs.ID)
	d.applied = append(d.applied, cs.ID)
	return nil
}

func (d *fakeDB) Reverse(_ context.Context, cs *changeset.ChangeSet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "reverse "+cs.ID)
	if n := len(d.applied); n > 0 && d.applied[n-1] == cs.ID {
		d.applied = d.applied[:n-1]
		d.reversed = append(d.reversed, cs.ID)
	}
	return nil
}

func (d *fakeDB) Reinstate(_ context.Context, cs *changeset.ChangeSet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "reinstate "+cs.ID)
	d.applied = append(d.applied, cs.ID)
	if n := len(d.reversed); n > 0 {
		d.reversed = d.reversed[:n-1]
	}
	return nil
}

func (d *fakeDB) Exists() bool            { return !d.missing }
func (d *fakeDB) IsReadOnly() bool        { return d.readOnly }
func (d *fakeDB) IsTrackingEnabled() bool { return !d.noTracking }
func (d *fakeDB) BriefcaseID() int        { return d.id }

func (d *fakeDB) InProgressChangeSet() (*LocalChangeSet, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inProgress, d.inProgress != nil
}

func (d *fakeDB) HasPendingChanges() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingChanges
}

func (d *fakeDB) StartCreateChangeSet(context.Context) (*LocalChangeSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started++
	local := *d.nextLocal
	if len(d.applied) > 0 {
		local.ParentID = d.applied[len(d.applied)-1]
	}
	d.inProgress = &local
	return d.inProgress, nil
}

func (d *fakeDB) FinishCreateChangeSet(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finished = append(d.finished, id)
	d.applied = append(d.applied, id)
	d.inProgress = nil
	d.pendingChanges = false
	return nil
}

func (d *fakeDB) AbandonCreateChangeSet(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.abandoned++
	d.inProgress = nil
	return nil
}

func (d *fakeDB) Save(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.saved++
	return nil
}

func (d *fakeDB) withChanges(id string) *fakeDB {
	d.pendingChanges = true
	d.nextLocal = &LocalChangeSet{ID: id, FilePath: "/tmp/" + id + ".cs", FileSize: 10}
	return d
}

// history answers changeset and version queries from a linear history
// cs1..csN.
type history struct {
	ids      []string
	versions map[string]string
}

func linearHistory(n int) *history {
	h := &history{versions: map[string]string{}}
	for i := 1; i <= n; i++ {
		h.ids = append(h.ids, fmt.Sprintf("cs%d", i))
	}
	return h
}

func (h *history) instance(i int) hub.Instance {
	parent := ""
	if i > 0 {
		parent = h.ids[i-1]
	}
	return hubtest.ChangeSetInstance(h.ids[i], parent, int64(i+1), 0)
}

func (h *history) indexOf(id string) int {
	for i, v := range h.ids {
		if v == id {
			return i
		}
	}
	return -1
}

func (h *history) query(_ context.Context, q hub.Query) ([]hub.Instance, error) {
	switch q.Class {
	case hub.ClassVersion:
		var out []hub.Instance
		for _, id := range q.IDs {
			if cs, ok := h.versions[id]; ok {
				out = append(out, hub.Instance{Properties: map[string]any{"ChangeSetId": cs}})
			}
		}
		return out, nil
	case hub.ClassChangeSet:
	default:
		return nil, nil
	}

	var out []hub.Instance
	switch {
	case len(q.IDs) > 0:
		for _, id := range q.IDs {
			if i := h.indexOf(id); i >= 0 {
				out = append(out, h.instance(i))
			}
		}
	case strings.HasPrefix(q.Filter, "Index+gt+"):
		var after, upTo int
		if _, err := fmt.Sscanf(q.Filter, "Index+gt+%d+and+Index+le+%d", &after, &upTo); err != nil {
			return nil, err
		}
		for i := after; i < upTo && i < len(h.ids); i++ {
			out = append(out, h.instance(i))
		}
	case q.Filter == "":
		for i := range h.ids {
			out = append(out, h.instance(i))
		}
	default:
		start := strings.Index(q.Filter, "'")
		id := strings.Trim(q.Filter[start:], "'")
		for i := h.indexOf(id) + 1; i < len(h.ids); i++ {
			out = append(out, h.instance(i))
		}
	}
	if q.Top > 0 && len(out) > q.Top {
		out = out[:q.Top]
	}
	// Reverse to prove the caller sorts.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func fastSync() SyncConfig {
	return SyncConfig{
		MaxAttempts:      5,
		JitterMax:        time.Millisecond,
		FallbackDelayMax: time.Millisecond,
		EventPolls:       4,
		PollInterval:     5 * time.Millisecond,
	}
}

func newTestBriefcase(t *testing.T, db *fakeDB, client *hubtest.Client) *Briefcase {
	t.Helper()
	remote := changeset.DefaultRemoteConfig()
	remote.DownloadDir = t.TempDir()
	remote.Retry = hub.RetryPolicy{}
	return New(Deps{
		DB:     db,
		Client: client,
		Remote: remote,
		Sync:   fastSync(),
	})
}

// pushFailures makes the first len(errs) finalize requests fail with errs
// in order. Other batches succeed.
func pushFailures(errs ...error) func(context.Context, *hub.Changeset) (hub.ChangesetResponse, error) {
	var mu sync.Mutex
	return func(_ context.Context, cs *hub.Changeset) (hub.ChangesetResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(errs) > 0 && isFinalize(cs) {
			err := errs[0]
			errs = errs[1:]
			return hub.ChangesetResponse{}, err
		}
		return hub.ChangesetResponse{}, nil
	}
}

func isFinalize(cs *hub.Changeset) bool {
	for _, inst := range cs.Instances {
		if inst.ObjectID.Class == hub.ClassChangeSet {
			return true
		}
	}
	return false
}

func finalizeCount(client *hubtest.Client) int {
	n := 0
	for _, cs := range client.SentChangesets() {
		if isFinalize(cs) {
			n++
		}
	}
	return n
}

// eventAPI and eventClient back an events.Manager for retry tests.
type eventAPI struct{}

func (eventAPI) CreateSubscription(_ context.Context, types []events.EventType) (events.Subscription, error) {
	return events.Subscription{ID: "sub", Types: types}, nil
}

func (eventAPI) UpdateSubscription(_ context.Context, id string, types []events.EventType) (events.Subscription, error) {
	return events.Subscription{ID: id, Types: types}, nil
}

func (eventAPI) GetSASToken(context.Context) (events.SASToken, error) {
	return events.SASToken{Token: "t", BaseAddress: "https://events"}, nil
}

type eventClient struct {
	msgs chan events.Message
}

func (c *eventClient) Receive(ctx context.Context) (events.Message, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case <-ctx.Done():
		return events.Message{}, ctx.Err()
	}
}

func (c *eventClient) UpdateToken(string) {}
func (c *eventClient) Close() error       { return nil }
