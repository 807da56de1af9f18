package briefcase

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/hub/hubtest"
	"github.com/zeusync/hubsync/internal/core/resources"
	"github.com/zeusync/hubsync/internal/storage/state"
)

func TestPushWithoutChangesIsNoop(t *testing.T) {
	client := &hubtest.Client{}
	db := newFakeDB("cs1")
	require.NoError(t, newTestBriefcase(t, db, client).Push(context.Background(), PushOptions{Description: "nothing"}))

	assert.Empty(t, client.Created)
	assert.Empty(t, client.Uploaded)
	assert.Empty(t, client.SentChangesets())
	assert.Zero(t, db.started)
}

func TestPushSendsAndCommits(t *testing.T) {
	client := &hubtest.Client{}
	db := newFakeDB("cs1").withChanges("cs2")
	db.nextLocal.UsedLocks = []resources.Lock{{Type: resources.LockableElement, ObjectID: 5, Level: resources.LockExclusive}}
	b := newTestBriefcase(t, db, client)

	require.NoError(t, b.Push(context.Background(), PushOptions{Description: "walls"}))

	require.Len(t, client.Created, 1)
	assert.Equal(t, hub.NewObjectID(hub.ClassChangeSet, "cs2"), client.Created[0])
	assert.Equal(t, []string{"cs2"}, client.Uploaded)
	assert.Equal(t, 1, finalizeCount(client))

	final := client.SentChangesets()[0]
	assert.Equal(t, true, final.Instances[0].Properties["IsUploaded"])
	assert.Equal(t, "walls", final.Instances[0].Properties["Description"])

	assert.Equal(t, []string{"cs2"}, db.finished)
	assert.Equal(t, 1, db.saved)
	assert.Zero(t, db.abandoned)
	assert.Equal(t, "cs2", db.ParentChangeSetID())
}

func TestPushReusesInProgressChangeSet(t *testing.T) {
	client := &hubtest.Client{
		CreateObjectFunc: func(context.Context, hub.ObjectID, map[string]any) (hub.Instance, error) {
			return hub.Instance{}, hub.NewError(hub.ChangeSetAlreadyExists, "exists")
		},
	}
	db := newFakeDB("cs1")
	db.inProgress = &LocalChangeSet{ID: "cs2", ParentID: "cs1", FilePath: "/tmp/cs2"}
	b := newTestBriefcase(t, db, client)

	require.NoError(t, b.Push(context.Background(), PushOptions{}))
	assert.Zero(t, db.started)
	assert.Equal(t, []string{"cs2"}, client.Uploaded)
	assert.Equal(t, []string{"cs2"}, db.finished)
}

func TestPushFailureAbandonsLocalChangeSet(t *testing.T) {
	extended, _ := json.Marshal(map[string]any{
		"ConflictingLocks": []map[string]any{{"ObjectId": 5, "LockType": 2, "LockLevel": 2, "BriefcaseId": 7}},
	})
	serverErr := &hub.Error{
		ID:           hub.LockOwnedByAnotherBriefcase,
		Message:      "lock is owned by another briefcase",
		Description:  "Element 5 is locked by briefcase 7",
		ExtendedData: extended,
	}
	client := &hubtest.Client{SendChangesetFunc: pushFailures(serverErr)}
	db := newFakeDB("cs1").withChanges("cs2")
	b := newTestBriefcase(t, db, client)

	var conflict *resources.Response
	err := b.Push(context.Background(), PushOptions{
		ResponseOptions: resources.ResponseLockState,
		OnConflict:      func(r *resources.Response) { conflict = r },
	})
	require.Error(t, err)
	assert.True(t, hub.HasID(err, hub.LockOwnedByAnotherBriefcase))
	assert.Contains(t, err.Error(), "locked by briefcase 7")

	assert.Equal(t, 1, db.abandoned)
	assert.Empty(t, db.finished)
	assert.Equal(t, "cs1", db.ParentChangeSetID())

	require.NotNil(t, conflict)
	assert.Equal(t, resources.StatusLockAlreadyHeld, conflict.Status)
	require.Len(t, conflict.Locks, 1)
	assert.Equal(t, 7, conflict.Locks[0].BriefcaseID)
}

func TestPushUploadFailure(t *testing.T) {
	client := &hubtest.Client{
		UploadFileFunc: func(context.Context, hub.ObjectID, string) error {
			return hub.NewError(hub.Unauthorized, "expired")
		},
	}
	db := newFakeDB("cs1").withChanges("cs2")
	err := newTestBriefcase(t, db, client).Push(context.Background(), PushOptions{})
	assert.True(t, hub.HasID(err, hub.FileUploadFailed))
	assert.Zero(t, finalizeCount(client))
	assert.Equal(t, 1, db.abandoned)
}

type uploadRecorder struct {
	locations []string
}

func (u *uploadRecorder) Upload(_ context.Context, location, _ string, progress hub.ProgressFunc) error {
	u.locations = append(u.locations, location)
	if progress != nil {
		progress(10, 10)
	}
	return nil
}

func (u *uploadRecorder) Download(context.Context, string, string, hub.ProgressFunc) error {
	return nil
}

func TestPushUploadsThroughBlobStore(t *testing.T) {
	client := &hubtest.Client{
		CreateObjectFunc: func(_ context.Context, id hub.ObjectID, props map[string]any) (hub.Instance, error) {
			return hub.Instance{
				ObjectID:   id,
				Properties: props,
				Related: []hub.Instance{{
					ObjectID:   hub.NewObjectID(hub.ClassFileAccessKey, ""),
					Properties: map[string]any{"UploadUrl": "s3://changesets/cs2"},
				}},
			}, nil
		},
	}
	blobs := &uploadRecorder{}
	db := newFakeDB("cs1").withChanges("cs2")
	b := newTestBriefcase(t, db, client)
	b.blobs = blobs

	var done int64
	require.NoError(t, b.Push(context.Background(), PushOptions{Progress: func(d, _ int64) { done = d }}))
	assert.Equal(t, []string{"s3://changesets/cs2"}, blobs.locations)
	assert.Empty(t, client.Uploaded)
	assert.EqualValues(t, 10, done)
}

func TestPushRelinquishRecordsPendingRelease(t *testing.T) {
	pending := state.NewMemoryStore()
	var seen int
	client := &hubtest.Client{
		SendChangesetFunc: func(ctx context.Context, cs *hub.Changeset) (hub.ChangesetResponse, error) {
			records, _ := pending.List(ctx, 2)
			seen = len(records)
			return hub.ChangesetResponse{}, nil
		},
	}
	db := newFakeDB("cs1").withChanges("cs2")
	b := newTestBriefcase(t, db, client)
	b.pending = pending

	require.NoError(t, b.Push(context.Background(), PushOptions{Relinquish: true}))
	assert.Equal(t, 1, seen, "record exists while the service is contacted")

	records, err := pending.List(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, records)

	var ids []string
	for _, inst := range client.SentChangesets()[0].Instances {
		ids = append(ids, inst.ObjectID.ID)
	}
	assert.Contains(t, ids, "DeleteAllLocks-2")
	assert.Contains(t, ids, "DiscardReservedCodes-2")
}
