package briefcase

import (
	"context"
	"errors"

	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/observability/log"
	"github.com/zeusync/hubsync/internal/core/resources"
	"github.com/zeusync/hubsync/internal/storage/state"
)

// AcquireCodesLocks acquires locks and reserves codes against the local
// parent changeset.
func (b *Briefcase) AcquireCodesLocks(ctx context.Context, locks []resources.Lock, codes []resources.Code, opts resources.ResponseOptions) (*resources.Response, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return b.coordinator.AcquireCodesLocks(ctx, b.request(locks, codes, opts))
}

// QueryCodesLocksAvailability reports whether AcquireCodesLocks would
// succeed.
func (b *Briefcase) QueryCodesLocksAvailability(ctx context.Context, locks []resources.Lock, codes []resources.Code, opts resources.ResponseOptions) (*resources.Response, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return b.coordinator.QueryCodesLocksAvailability(ctx, b.request(locks, codes, opts))
}

// DemoteCodesLocks lowers locks and releases codes. A demotion that fails
// for transport reasons is kept and resubmitted by the next Pull.
func (b *Briefcase) DemoteCodesLocks(ctx context.Context, locks []resources.Lock, codes []resources.Code, opts resources.ResponseOptions) (*resources.Response, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	req := b.request(locks, codes, opts)
	resp, err := b.coordinator.DemoteCodesLocks(ctx, req)
	if err != nil {
		b.deferRelease(ctx, state.ReleaseDemote, req, err)
	}
	return resp, err
}

// RelinquishCodesLocks releases everything the briefcase holds. A failure
// for transport reasons is kept and resubmitted by the next Pull.
func (b *Briefcase) RelinquishCodesLocks(ctx context.Context, opts resources.ResponseOptions) (*resources.Response, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	resp, err := b.coordinator.RelinquishCodesLocks(ctx, opts)
	if err != nil {
		b.deferRelease(ctx, state.ReleaseRelinquish, resources.Request{Options: opts}, err)
	}
	return resp, err
}

// QueryCodesLocks returns the codes and locks this briefcase holds.
func (b *Briefcase) QueryCodesLocks(ctx context.Context) (*resources.CodeLockSet, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return b.coordinator.QueryCodesLocks(ctx, b.ID())
}

// QueryUnavailableCodesLocks returns the codes and locks this briefcase
// cannot take.
func (b *Briefcase) QueryUnavailableCodesLocks(ctx context.Context) (*resources.CodeLockSet, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return b.coordinator.QueryUnavailableCodesLocks(ctx, b.ID(), b.db.ParentChangeSetID())
}

func (b *Briefcase) request(locks []resources.Lock, codes []resources.Code, opts resources.ResponseOptions) resources.Request {
	return resources.Request{
		Locks:           locks,
		Codes:           codes,
		LastChangeSetID: b.db.ParentChangeSetID(),
		Options:         opts,
	}
}

func (b *Briefcase) deferRelease(ctx context.Context, kind state.ReleaseKind, req resources.Request, cause error) {
	if !isTransient(cause) {
		return
	}
	r := state.NewPendingRelease(b.ID(), kind, req)
	if err := b.pending.Put(ctx, r); err != nil {
		b.logger.Warn("recording pending release failed", log.String("kind", string(kind)), log.Error(err))
		return
	}
	b.logger.Info("release deferred to next pull", log.String("kind", string(kind)), log.Error(cause))
}

// resubmitPendingReleases sends releases left over from earlier failures.
// Failures are logged; a release the service rejects outright is dropped.
// Nothing is sent while a local changeset is still being created, since
// its push needs the locks.
func (b *Briefcase) resubmitPendingReleases(ctx context.Context) {
	if _, creating := b.db.InProgressChangeSet(); creating {
		return
	}
	records, err := b.pending.List(ctx, b.ID())
	if err != nil {
		b.logger.Warn("listing pending releases failed", log.Error(err))
		return
	}

	for _, r := range records {
		var err error
		switch r.Kind {
		case state.ReleaseDemote:
			_, err = b.coordinator.DemoteCodesLocks(ctx, r.Request)
		case state.ReleaseRelinquish:
			_, err = b.coordinator.RelinquishCodesLocks(ctx, r.Request.Options)
		}
		if err != nil && isTransient(err) {
			b.logger.Warn("pending release still failing", log.String("id", r.ID), log.Error(err))
			continue
		}
		if err != nil {
			b.logger.Warn("dropping rejected pending release", log.String("id", r.ID), log.Error(err))
		}
		if err := b.pending.Delete(ctx, r.ID); err != nil {
			b.logger.Warn("deleting pending release failed", log.String("id", r.ID), log.Error(err))
		}
	}
}

func isTransient(err error) bool {
	var he *hub.Error
	return errors.As(err, &he) && he.IsTemporary()
}
