package changeset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/observability/log"
	"github.com/zeusync/hubsync/internal/storage/blob"
	"github.com/zeusync/hubsync/pkg/concurrent"
)

const payloadExt = ".cs"

type RemoteConfig struct {
	DownloadDir string
	// Workers bounds parallel downloads.
	Workers int
	Retry   hub.RetryPolicy
}

func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		DownloadDir: filepath.Join(os.TempDir(), "hubsync", "changesets"),
		Workers:     4,
		Retry:       hub.DefaultRetryPolicy(),
	}
}

// Remote queries and downloads changesets from the service.
type Remote struct {
	client hub.RepositoryClient
	blobs  blob.Store
	cfg    RemoteConfig
	logger log.Log
}

// NewRemote builds a Remote. blobs may be nil, in which case payloads are
// always fetched through the repository client.
func NewRemote(client hub.RepositoryClient, blobs blob.Store, cfg RemoteConfig, logger log.Log) *Remote {
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Remote{
		client: client,
		blobs:  blobs,
		cfg:    cfg,
		logger: logger.With(log.String("component", "changeset-remote")),
	}
}

func (r *Remote) query(ctx context.Context, q hub.Query) (Chain, error) {
	instances, err := hub.Retry(ctx, r.cfg.Retry, r.logger, "query changesets", func(ctx context.Context) ([]hub.Instance, error) {
		return r.client.Query(ctx, q)
	})
	if err != nil {
		r.logger.Error("changeset query failed", log.String("filter", q.Filter), log.Error(err))
		return nil, err
	}

	chain := make(Chain, 0, len(instances))
	for _, inst := range instances {
		chain = append(chain, FromInstance(inst))
	}
	chain.Sort()
	return chain, nil
}

func changeSetQuery(filter string) hub.Query {
	q := hub.NewQuery(hub.ClassChangeSet)
	q.Filter = filter
	q.Related = []string{hub.ClassFileAccessKey}
	return q
}

// After returns every changeset following id, all of them when id is empty.
func (r *Remote) After(ctx context.Context, id string) (Chain, error) {
	filter := ""
	if id != "" {
		filter = fmt.Sprintf("FollowingChangeSet-backward-ChangeSet.Id+eq+'%s'", id)
	}
	return r.query(ctx, changeSetQuery(filter))
}

// Range returns the changesets with afterIndex < Index <= upToIndex.
func (r *Remote) Range(ctx context.Context, afterIndex, upToIndex int64) (Chain, error) {
	return r.query(ctx, changeSetQuery(fmt.Sprintf("Index+gt+%d+and+Index+le+%d", afterIndex, upToIndex)))
}

// ByID fetches a single changeset.
func (r *Remote) ByID(ctx context.Context, id string) (*ChangeSet, error) {
	q := changeSetQuery("")
	q.IDs = []string{id}
	chain, err := r.query(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, hub.Errorf(hub.ChangeSetDoesNotExist, "changeset %s does not exist", id)
	}
	return chain[0], nil
}

// HasNewer reports whether the service holds changesets following id.
func (r *Remote) HasNewer(ctx context.Context, id string) (bool, error) {
	q := hub.NewQuery(hub.ClassChangeSet)
	q.Select = "Id"
	q.Top = 1
	if id != "" {
		q.Filter = fmt.Sprintf("FollowingChangeSet-backward-ChangeSet.Id+eq+'%s'", id)
	}
	chain, err := r.query(ctx, q)
	if err != nil {
		return false, err
	}
	return len(chain) > 0, nil
}

// VersionChangeSetID resolves the changeset a named version points at.
func (r *Remote) VersionChangeSetID(ctx context.Context, versionID string) (string, error) {
	q := hub.NewQuery(hub.ClassVersion)
	q.IDs = []string{versionID}
	instances, err := hub.Retry(ctx, r.cfg.Retry, r.logger, "query version", func(ctx context.Context) ([]hub.Instance, error) {
		return r.client.Query(ctx, q)
	})
	if err != nil {
		return "", err
	}
	if len(instances) == 0 {
		return "", hub.Errorf(hub.VersionDoesNotExist, "version %s does not exist", versionID)
	}
	return instances[0].String("ChangeSetId"), nil
}

// Download fetches every payload in parallel and records its local path.
// The chain keeps its index order.
func (r *Remote) Download(ctx context.Context, chain Chain, progress hub.ProgressFunc) error {
	if len(chain) == 0 {
		return nil
	}
	if err := os.MkdirAll(r.cfg.DownloadDir, 0o755); err != nil {
		return hub.Wrap(hub.FileDownloadFailed, err)
	}

	agg := newAggregateProgress(chain, progress)
	paths, err := concurrent.Map(ctx, chain, r.cfg.Workers, func(ctx context.Context, cs *ChangeSet) (string, error) {
		return r.downloadOne(ctx, cs, agg.forChangeSet(cs.ID))
	})
	if err != nil {
		return err
	}
	for i, p := range paths {
		chain[i].FilePath = p
	}
	chain.Sort()
	return nil
}

func (r *Remote) downloadOne(ctx context.Context, cs *ChangeSet, progress hub.ProgressFunc) (string, error) {
	path := filepath.Join(r.cfg.DownloadDir, cs.ID+payloadExt)
	if info, err := os.Stat(path); err == nil && cs.FileSize > 0 && info.Size() == cs.FileSize {
		progress(cs.FileSize, cs.FileSize)
		return path, nil
	}

	err := hub.RetryDo(ctx, r.cfg.Retry, r.logger, "download changeset", func(ctx context.Context) error {
		if cs.DownloadURL != "" && r.blobs != nil {
			return r.blobs.Download(ctx, cs.DownloadURL, path, progress)
		}
		return r.client.DownloadFile(ctx, cs.ObjectID(), path, progress)
	})
	if err != nil {
		r.logger.Error("changeset download failed", log.String("changeset", cs.ID), log.Error(err))
		return "", hub.Wrap(hub.FileDownloadFailed, err)
	}
	return path, nil
}

// aggregateProgress folds per-file progress into one callback.
type aggregateProgress struct {
	mu    sync.Mutex
	done  map[string]int64
	sum   int64
	total int64
	fn    hub.ProgressFunc
}

func newAggregateProgress(chain Chain, fn hub.ProgressFunc) *aggregateProgress {
	a := &aggregateProgress{done: make(map[string]int64, len(chain)), fn: fn}
	for _, cs := range chain {
		a.total += cs.FileSize
	}
	return a
}

func (a *aggregateProgress) forChangeSet(id string) hub.ProgressFunc {
	return func(transferred, _ int64) {
		if a.fn == nil {
			return
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		a.sum += transferred - a.done[id]
		a.done[id] = transferred
		a.fn(a.sum, a.total)
	}
}
