package changeset

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/hub/hubtest"
	"github.com/zeusync/hubsync/internal/storage/blob"
)

type recordingBlobs struct {
	mu        sync.Mutex
	locations []string
}

func (b *recordingBlobs) Upload(context.Context, string, string, hub.ProgressFunc) error { return nil }

func (b *recordingBlobs) Download(_ context.Context, location, path string, progress hub.ProgressFunc) error {
	b.mu.Lock()
	b.locations = append(b.locations, location)
	b.mu.Unlock()
	progress(4, 4)
	return os.WriteFile(path, []byte("blob"), 0o644)
}

func testRemote(t *testing.T, client hub.RepositoryClient, blobs *recordingBlobs) *Remote {
	cfg := DefaultRemoteConfig()
	cfg.DownloadDir = t.TempDir()
	var store blob.Store
	if blobs != nil {
		store = blobs
	}
	return NewRemote(client, store, cfg, nil)
}

func TestAfterSortsByIndex(t *testing.T) {
	client := &hubtest.Client{
		QueryFunc: func(_ context.Context, q hub.Query) ([]hub.Instance, error) {
			return []hub.Instance{
				hubtest.ChangeSetInstance("cs3", "cs2", 3, 0),
				hubtest.ChangeSetInstance("cs2", "cs1", 2, 0),
			}, nil
		},
	}
	chain, err := testRemote(t, client, nil).After(context.Background(), "cs1")
	require.NoError(t, err)
	assert.Equal(t, []string{"cs2", "cs3"}, chain.IDs())
	require.Len(t, client.Queries, 1)
	assert.Contains(t, client.Queries[0].Filter, "'cs1'")
	assert.Equal(t, []string{hub.ClassFileAccessKey}, client.Queries[0].Related)
}

func TestByIDNotFound(t *testing.T) {
	_, err := testRemote(t, &hubtest.Client{}, nil).ByID(context.Background(), "missing")
	assert.Equal(t, hub.ChangeSetDoesNotExist, hub.IDOf(err))
}

func TestVersionChangeSetID(t *testing.T) {
	client := &hubtest.Client{
		QueryFunc: func(_ context.Context, q hub.Query) ([]hub.Instance, error) {
			if q.Class != hub.ClassVersion || q.IDs[0] != "v1" {
				return nil, nil
			}
			return []hub.Instance{{Properties: map[string]any{"ChangeSetId": "cs7"}}}, nil
		},
	}
	r := testRemote(t, client, nil)

	id, err := r.VersionChangeSetID(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, "cs7", id)

	_, err = r.VersionChangeSetID(context.Background(), "v2")
	assert.Equal(t, hub.VersionDoesNotExist, hub.IDOf(err))
}

func TestDownloadRoutesByAccessKey(t *testing.T) {
	client := &hubtest.Client{}
	blobs := &recordingBlobs{}
	r := testRemote(t, client, blobs)

	chain := Chain{
		{ID: "cs1", Index: 1, FileSize: 3},
		{ID: "cs2", ParentID: "cs1", Index: 2, FileSize: 4, DownloadURL: "s3://bucket/cs2.cs"},
	}

	var mu sync.Mutex
	var last int64
	err := r.Download(context.Background(), chain, func(done, total int64) {
		mu.Lock()
		last = done
		mu.Unlock()
		assert.EqualValues(t, 7, total)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"cs1"}, client.Downloaded)
	assert.Equal(t, []string{"s3://bucket/cs2.cs"}, blobs.locations)
	assert.EqualValues(t, 7, last)
	for _, cs := range chain {
		assert.Equal(t, filepath.Join(r.cfg.DownloadDir, cs.ID+payloadExt), cs.FilePath)
		assert.FileExists(t, cs.FilePath)
	}
}

func TestDownloadSkipsCompletePayloads(t *testing.T) {
	client := &hubtest.Client{}
	r := testRemote(t, client, nil)
	require.NoError(t, os.WriteFile(filepath.Join(r.cfg.DownloadDir, "cs1"+payloadExt), []byte("abc"), 0o644))

	chain := Chain{{ID: "cs1", Index: 1, FileSize: 3}}
	require.NoError(t, r.Download(context.Background(), chain, nil))
	assert.Empty(t, client.Downloaded)
}

func TestHasNewer(t *testing.T) {
	client := &hubtest.Client{
		QueryFunc: func(_ context.Context, q hub.Query) ([]hub.Instance, error) {
			if q.Filter == "" {
				return []hub.Instance{hubtest.ChangeSetInstance("cs1", "", 1, 0)}, nil
			}
			return nil, nil
		},
	}
	r := testRemote(t, client, nil)

	newer, err := r.HasNewer(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, newer)

	newer, err = r.HasNewer(context.Background(), "cs1")
	require.NoError(t, err)
	assert.False(t, newer)
}
