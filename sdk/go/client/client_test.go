package client

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/hub/hubtest"
)

// closedDB reports a briefcase whose file is gone.
type closedDB struct {
	LocalDB
}

func (closedDB) BriefcaseID() int { return 12 }
func (closedDB) Exists() bool     { return false }

func testConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.State.Driver = "memory"
	cfg.Hub.DownloadDir = t.TempDir()
	cfg.Log.Level = "silent"
	return cfg
}

func TestOpenValidatesArguments(t *testing.T) {
	_, err := Open(nil, closedDB{}, &hubtest.Client{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Open(testConfig(t), nil, &hubtest.Client{})
	assert.ErrorIs(t, err, ErrNoDatabase)

	_, err = Open(testConfig(t), closedDB{}, nil)
	assert.ErrorIs(t, err, ErrNoRepository)

	bad := testConfig(t)
	bad.Sync.MaxAttempts = 0
	_, err = Open(bad, closedDB{}, &hubtest.Client{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestClientLifecycle(t *testing.T) {
	c, err := Open(testConfig(t), closedDB{}, &hubtest.Client{})
	require.NoError(t, err)
	assert.Equal(t, 12, c.BriefcaseID())

	_, err = c.Pull(context.Background(), nil)
	assert.ErrorIs(t, err, ErrFileNotFound)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Pull(context.Background(), nil)
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.ErrorIs(t, c.Push(context.Background(), PushOptions{}), ErrClientClosed)
	_, err = c.Subscribe(context.Background(), nil, func(Event) {})
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestUsersAreCachedPerClient(t *testing.T) {
	repo := &hubtest.Client{QueryFunc: func(_ context.Context, q hub.Query) ([]hub.Instance, error) {
		var out []hub.Instance
		for _, id := range q.IDs {
			out = append(out, hub.Instance{
				ObjectID:   hub.NewObjectID(hub.ClassUserInfo, id),
				Properties: map[string]any{"Id": id, "Name": "n-" + id},
			})
		}
		return out, nil
	}}
	c, err := Open(testConfig(t), closedDB{}, repo)
	require.NoError(t, err)
	defer c.Close()

	users, err := c.Users(context.Background(), "a", "b")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "n-a", users[0].Name)

	_, err = c.Users(context.Background(), "a")
	require.NoError(t, err)
	assert.Len(t, repo.Queries, 1)

	c.InvalidateUsers()
	_, err = c.Users(context.Background(), "a")
	require.NoError(t, err)
	assert.Len(t, repo.Queries, 2)
}

func TestErrorHelpers(t *testing.T) {
	conflict := hub.NewError(hub.LockOwnedByAnotherBriefcase, "held")
	assert.True(t, IsConflict(conflict))
	assert.True(t, HasID(conflict, hub.LockOwnedByAnotherBriefcase))
	assert.False(t, IsConflict(errors.New("plain")))

	assert.True(t, IsTemporary(hub.NewError(hub.ServiceUnavailable, "down")))
	assert.False(t, IsTemporary(conflict))
	assert.False(t, IsTemporary(errors.New("plain")))
}
