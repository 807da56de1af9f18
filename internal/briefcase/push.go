package briefcase

import (
	"context"
	"time"

	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/observability/log"
	"github.com/zeusync/hubsync/internal/core/resources"
	"github.com/zeusync/hubsync/internal/storage/state"
)

// Push results, used as metric labels.
const (
	pushSuccess = "success"
	pushNoop    = "noop"
	pushFailed  = "failed"
)

type PushOptions struct {
	Description string
	// Relinquish releases every lock and code after the push.
	Relinquish bool
	Progress   hub.ProgressFunc
	// ResponseOptions selects the conflict detail OnConflict receives.
	ResponseOptions resources.ResponseOptions
	// OnConflict is called with the mapped conflict when the service
	// rejects a push over locks or codes. It is kept across retries.
	OnConflict func(*resources.Response)
}

// Push sends the local changes as one changeset. With no local changes it
// returns nil without contacting the service. A failed push leaves the
// local database as it was before the call.
func (b *Briefcase) Push(ctx context.Context, opts PushOptions) error {
	if err := b.checkWritable(); err != nil {
		return err
	}
	defer b.observe("push", time.Now())

	local, ok := b.db.InProgressChangeSet()
	if !ok {
		if !b.db.HasPendingChanges() {
			b.metrics.RecordPush(pushNoop)
			return nil
		}
		var err error
		if local, err = b.db.StartCreateChangeSet(ctx); err != nil {
			b.metrics.RecordPush(pushFailed)
			return err
		}
	}

	var pending *state.PendingRelease
	if opts.Relinquish {
		r := state.NewPendingRelease(b.ID(), state.ReleaseRelinquish, resources.Request{Options: opts.ResponseOptions})
		if err := b.pending.Put(ctx, r); err != nil {
			b.logger.Warn("recording pending relinquish failed", log.Error(err))
		} else {
			pending = &r
		}
	}

	if err := b.pushChangeSet(ctx, local, opts); err != nil {
		b.metrics.RecordPush(pushFailed)
		b.logger.Error("push failed", log.String("changeset", local.ID), log.Error(err))
		if abandonErr := b.db.AbandonCreateChangeSet(ctx); abandonErr != nil {
			b.logger.Error("abandoning local changeset failed", log.Error(abandonErr))
		}
		b.dropPending(ctx, pending)
		b.reportConflict(err, opts)
		return err
	}

	if err := b.db.FinishCreateChangeSet(ctx, local.ID); err != nil {
		b.metrics.RecordPush(pushFailed)
		return err
	}
	if err := b.db.Save(ctx); err != nil {
		b.metrics.RecordPush(pushFailed)
		return err
	}
	b.dropPending(ctx, pending)

	b.metrics.RecordPush(pushSuccess)
	b.logger.Info("pushed changeset",
		log.String("changeset", local.ID),
		log.String("parent", local.ParentID),
		log.Int64("size", local.FileSize))
	return nil
}

// pushChangeSet creates the changeset on the service, uploads its payload
// and finalizes it together with its locks and codes.
func (b *Briefcase) pushChangeSet(ctx context.Context, local *LocalChangeSet, opts PushOptions) error {
	id := hub.NewObjectID(hub.ClassChangeSet, local.ID)
	props := map[string]any{
		"Id":                local.ID,
		"ParentId":          local.ParentID,
		"Description":       opts.Description,
		"FileSize":          local.FileSize,
		"BriefcaseId":       b.ID(),
		"ContainingChanges": local.ContainingChanges,
		"IsUploaded":        false,
	}

	inst, err := b.client.CreateObject(ctx, id, props)
	switch {
	case hub.HasID(err, hub.ChangeSetAlreadyExists):
		// Created by an earlier attempt; upload again through the client.
		b.logger.Debug("changeset already created", log.String("changeset", local.ID))
		inst = hub.Instance{ObjectID: id}
	case err != nil:
		return err
	}

	if err := b.upload(ctx, inst, local, opts.Progress); err != nil {
		return err
	}

	return b.coordinator.FinalizeChangeSet(ctx, resources.FinalizeRequest{
		ChangeSet:       id,
		Properties:      map[string]any{"Description": opts.Description},
		ChangeSetID:     local.ID,
		ParentID:        local.ParentID,
		UsedLocks:       local.UsedLocks,
		AssignedCodes:   local.AssignedCodes,
		DiscardedCodes:  local.DiscardedCodes,
		RelinquishAfter: opts.Relinquish,
		Options:         opts.ResponseOptions,
	})
}

// upload sends the payload straight to blob storage when the service
// handed out an upload URL and through the repository client otherwise.
func (b *Briefcase) upload(ctx context.Context, inst hub.Instance, local *LocalChangeSet, progress hub.ProgressFunc) error {
	var uploadURL string
	if key, ok := inst.RelatedOf(hub.ClassFileAccessKey); ok {
		uploadURL = key.String("UploadUrl")
	}

	err := hub.RetryDo(ctx, b.retry, b.logger, "upload changeset", func(ctx context.Context) error {
		if uploadURL != "" && b.blobs != nil {
			return b.blobs.Upload(ctx, uploadURL, local.FilePath, progress)
		}
		return b.client.UploadFile(ctx, inst.ObjectID, local.FilePath, progress)
	})
	if err != nil {
		return hub.Wrap(hub.FileUploadFailed, err)
	}
	return nil
}

func (b *Briefcase) reportConflict(err error, opts PushOptions) {
	if opts.OnConflict == nil {
		return
	}
	resp := resources.MapError(err, opts.ResponseOptions)
	if resp.Status == resources.StatusServerUnavailable {
		return
	}
	opts.OnConflict(resp)
}

func (b *Briefcase) dropPending(ctx context.Context, r *state.PendingRelease) {
	if r == nil {
		return
	}
	if err := b.pending.Delete(ctx, r.ID); err != nil {
		b.logger.Warn("dropping pending release failed", log.String("id", r.ID), log.Error(err))
	}
}
