package briefcase

import (
	"context"
	"time"

	"github.com/zeusync/hubsync/internal/core/changeset"
	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/observability/log"
)

// Pull downloads every changeset the local database has not applied and
// returns them in index order. Nothing is applied; see Merge.
func (b *Briefcase) Pull(ctx context.Context, progress hub.ProgressFunc) (changeset.Chain, error) {
	if err := b.checkWritable(); err != nil {
		return nil, err
	}
	defer b.observe("pull", time.Now())

	if err := b.finishInterruptedPush(ctx); err != nil {
		return nil, err
	}

	parent := b.db.ParentChangeSetID()
	chain, err := b.remote.After(ctx, parent)
	if err != nil {
		return nil, err
	}
	if err := b.remote.Download(ctx, chain, progress); err != nil {
		return nil, err
	}
	b.logger.Info("pulled changesets",
		log.String("parent", parent),
		log.Int("count", len(chain)))

	b.resubmitPendingReleases(ctx)
	return chain, nil
}

// finishInterruptedPush completes a local changeset whose push reached the
// service before the process stopped.
func (b *Briefcase) finishInterruptedPush(ctx context.Context) error {
	local, ok := b.db.InProgressChangeSet()
	if !ok {
		return nil
	}

	_, err := b.remote.ByID(ctx, local.ID)
	switch {
	case hub.HasID(err, hub.ChangeSetDoesNotExist):
		// Never arrived; the next push sends it again.
		return nil
	case err != nil:
		return err
	}

	b.logger.Info("finishing changeset pushed before interruption", log.String("changeset", local.ID))
	if err := b.db.FinishCreateChangeSet(ctx, local.ID); err != nil {
		return err
	}
	return b.db.Save(ctx)
}

// Merge applies a pulled chain to the local database.
func (b *Briefcase) Merge(ctx context.Context, chain changeset.Chain) error {
	if err := b.checkWritable(); err != nil {
		return err
	}
	defer b.observe("merge", time.Now())

	if err := b.reconciler.Apply(ctx, chain); err != nil {
		b.logger.Error("merge failed", log.Int("count", len(chain)), log.Error(err))
		return err
	}
	return nil
}

// PullAndMerge pulls and applies in one step and returns what was applied.
func (b *Briefcase) PullAndMerge(ctx context.Context, progress hub.ProgressFunc) (changeset.Chain, error) {
	chain, err := b.Pull(ctx, progress)
	if err != nil {
		return nil, err
	}
	if err := b.Merge(ctx, chain); err != nil {
		return nil, err
	}
	return chain, nil
}

// UpdateToVersion moves the local database to the changeset a named
// version points at, forward or backward.
func (b *Briefcase) UpdateToVersion(ctx context.Context, versionID string, progress hub.ProgressFunc) error {
	if err := b.checkWritable(); err != nil {
		return err
	}
	target, err := b.remote.VersionChangeSetID(ctx, versionID)
	if err != nil {
		return err
	}
	return b.updateTo(ctx, target, progress)
}

// UpdateToChangeSet moves the local database to changeSetID, forward or
// backward. An empty id means the start of history.
func (b *Briefcase) UpdateToChangeSet(ctx context.Context, changeSetID string, progress hub.ProgressFunc) error {
	if err := b.checkWritable(); err != nil {
		return err
	}
	return b.updateTo(ctx, changeSetID, progress)
}

func (b *Briefcase) updateTo(ctx context.Context, target string, progress hub.ProgressFunc) error {
	defer b.observe("update", time.Now())

	parent := b.db.ParentChangeSetID()
	if parent == target {
		return nil
	}

	targetIndex, err := b.indexOf(ctx, target)
	if err != nil {
		return err
	}
	parentIndex, err := b.indexOf(ctx, parent)
	if err != nil {
		return err
	}

	// The reconciler merges when the range starts at the local parent and
	// reverses when it starts at the target.
	from, to := parentIndex, targetIndex
	if targetIndex < parentIndex {
		from, to = targetIndex, parentIndex
	}
	chain, err := b.remote.Range(ctx, from, to)
	if err != nil {
		return err
	}
	if err := b.remote.Download(ctx, chain, progress); err != nil {
		return err
	}

	b.logger.Info("updating briefcase",
		log.String("from", parent),
		log.String("to", target),
		log.Int("changesets", len(chain)))
	return b.reconciler.Apply(ctx, chain)
}

func (b *Briefcase) indexOf(ctx context.Context, id string) (int64, error) {
	if id == "" {
		return 0, nil
	}
	cs, err := b.remote.ByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return cs.Index, nil
}

// IsBriefcaseUpToDate reports whether the service has no changesets newer
// than the local parent.
func (b *Briefcase) IsBriefcaseUpToDate(ctx context.Context) (bool, error) {
	if err := b.checkOpen(); err != nil {
		return false, err
	}
	newer, err := b.remote.HasNewer(ctx, b.db.ParentChangeSetID())
	if err != nil {
		return false, err
	}
	return !newer, nil
}
