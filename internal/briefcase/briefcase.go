// Package briefcase keeps a local database in step with the hosted
// repository: it pulls and merges new changesets, pushes local ones and
// negotiates the locks and codes they need.
package briefcase

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/zeusync/hubsync/internal/core/changeset"
	"github.com/zeusync/hubsync/internal/core/events"
	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/observability/log"
	"github.com/zeusync/hubsync/internal/core/observability/metrics"
	"github.com/zeusync/hubsync/internal/core/resources"
	"github.com/zeusync/hubsync/internal/storage/blob"
	"github.com/zeusync/hubsync/internal/storage/state"
)

// SyncConfig tunes PullMergeAndPush.
type SyncConfig struct {
	MaxAttempts int `yaml:"max_attempts" toml:"max_attempts"`
	// JitterMax bounds the pause before each push.
	JitterMax time.Duration `yaml:"jitter_max" toml:"jitter_max"`
	// FallbackDelayMax bounds the random wait between attempts when no
	// push events are available.
	FallbackDelayMax time.Duration `yaml:"fallback_delay_max" toml:"fallback_delay_max"`
	EventPolls       int           `yaml:"event_polls" toml:"event_polls"`
	PollInterval     time.Duration `yaml:"poll_interval" toml:"poll_interval"`
}

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		MaxAttempts:      5,
		JitterMax:        200 * time.Millisecond,
		FallbackDelayMax: 5 * time.Second,
		EventPolls:       100,
		PollInterval:     50 * time.Millisecond,
	}
}

// eventWait is the longest PullMergeAndPush waits for another push to end.
func (c SyncConfig) eventWait() time.Duration {
	return time.Duration(c.EventPolls) * c.PollInterval
}

// Deps are the collaborators of a Briefcase. Blobs, Events, Pending and
// Metrics are optional.
type Deps struct {
	DB      LocalDB
	Client  hub.RepositoryClient
	Blobs   blob.Store
	Events  *events.Manager
	Pending state.Store
	Metrics metrics.Recorder
	Logger  log.Log

	MasterFileID string
	Remote       changeset.RemoteConfig
	Retry        hub.RetryPolicy
	Sync         SyncConfig
}

// Briefcase synchronizes one local database with the repository. Its
// operations may be called from one goroutine at a time.
type Briefcase struct {
	db          LocalDB
	client      hub.RepositoryClient
	blobs       blob.Store
	remote      *changeset.Remote
	reconciler  *changeset.Reconciler
	coordinator *resources.Coordinator
	events      *events.Manager
	pending     state.Store
	metrics     metrics.Recorder
	retry       hub.RetryPolicy
	cfg         SyncConfig
	logger      log.Log

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(d Deps) *Briefcase {
	if d.Logger == nil {
		d.Logger = log.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop()
	}
	if d.Pending == nil {
		d.Pending = state.NewMemoryStore()
	}
	if d.Sync == (SyncConfig{}) {
		d.Sync = DefaultSyncConfig()
	}

	id := 0
	if d.DB != nil {
		id = d.DB.BriefcaseID()
	}
	logger := d.Logger.With(log.String("component", "briefcase"), log.Int("briefcase", id))

	b := &Briefcase{
		db:      d.DB,
		client:  d.Client,
		blobs:   d.Blobs,
		events:  d.Events,
		pending: d.Pending,
		metrics: d.Metrics,
		retry:   d.Retry,
		cfg:     d.Sync,
		logger:  logger,
	}
	if d.Client != nil {
		b.remote = changeset.NewRemote(d.Client, d.Blobs, d.Remote, d.Logger)
		b.coordinator = resources.NewCoordinator(d.Client, id, d.MasterFileID, d.Retry, d.Logger)
	}
	if d.DB != nil {
		b.reconciler = changeset.NewReconciler(d.DB, d.Logger, d.Metrics)
	}
	return b
}

// ID returns the briefcase id of the local database.
func (b *Briefcase) ID() int {
	return b.db.BriefcaseID()
}

// Coordinator exposes lock and code queries beyond the pass-throughs.
func (b *Briefcase) Coordinator() *resources.Coordinator {
	return b.coordinator
}

// checkOpen verifies the database and connection before any request.
func (b *Briefcase) checkOpen() error {
	switch {
	case b.db == nil || !b.db.Exists():
		return hub.ErrFileNotFound
	case b.client == nil:
		return hub.ErrInvalidConnection
	default:
		return nil
	}
}

// checkWritable adds the conditions for operations that change the
// database.
func (b *Briefcase) checkWritable() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	switch {
	case b.db.IsReadOnly():
		return hub.ErrReadOnly
	case !b.db.IsTrackingEnabled():
		return hub.ErrTrackingDisabled
	default:
		return nil
	}
}

func (b *Briefcase) observe(op string, start time.Time) {
	b.metrics.ObserveDuration(op, time.Since(start))
}

// seedRandom seeds the per briefcase generator from the wall clock. It is
// used only to spread retries out.
func (b *Briefcase) seedRandom() {
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	if b.rng != nil {
		return
	}
	id := int64(b.db.BriefcaseID())
	if id <= 0 {
		id = 1
	}
	seed := uint64(time.Now().UnixNano() / id)
	b.rng = rand.New(rand.NewPCG(seed, uint64(id)))
}

// randomDuration returns a duration in [0, max).
func (b *Briefcase) randomDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	if b.rng == nil {
		return rand.N(max)
	}
	return time.Duration(b.rng.Int64N(int64(max)))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return hub.Wrap(hub.Cancelled, err)
		}
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return hub.Wrap(hub.Cancelled, ctx.Err())
	}
}
