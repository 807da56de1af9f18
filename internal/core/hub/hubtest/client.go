// Package hubtest provides an in-memory RepositoryClient for tests.
package hubtest

import (
	"context"
	"os"
	"sync"

	"github.com/zeusync/hubsync/internal/core/hub"
)

// Client records every request and answers from user supplied functions.
// Nil functions answer with empty successful responses.
type Client struct {
	mu sync.Mutex

	QueryFunc         func(ctx context.Context, q hub.Query) ([]hub.Instance, error)
	CreateObjectFunc  func(ctx context.Context, id hub.ObjectID, props map[string]any) (hub.Instance, error)
	SendChangesetFunc func(ctx context.Context, cs *hub.Changeset) (hub.ChangesetResponse, error)
	UploadFileFunc    func(ctx context.Context, id hub.ObjectID, path string) error

	Queries    []hub.Query
	Created    []hub.ObjectID
	Changesets []*hub.Changeset
	Uploaded   []string
	Downloaded []string
}

var _ hub.RepositoryClient = (*Client)(nil)

func (c *Client) Query(ctx context.Context, q hub.Query) ([]hub.Instance, error) {
	c.mu.Lock()
	c.Queries = append(c.Queries, q)
	fn := c.QueryFunc
	c.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, q)
}

func (c *Client) CreateObject(ctx context.Context, id hub.ObjectID, props map[string]any) (hub.Instance, error) {
	c.mu.Lock()
	c.Created = append(c.Created, id)
	fn := c.CreateObjectFunc
	c.mu.Unlock()
	if fn == nil {
		return hub.Instance{ObjectID: id, Properties: props}, nil
	}
	return fn(ctx, id, props)
}

func (c *Client) SendChangeset(ctx context.Context, cs *hub.Changeset) (hub.ChangesetResponse, error) {
	c.mu.Lock()
	c.Changesets = append(c.Changesets, cs)
	fn := c.SendChangesetFunc
	c.mu.Unlock()
	if fn == nil {
		resp := hub.ChangesetResponse{}
		for _, inst := range cs.Instances {
			resp.Instances = append(resp.Instances, hub.Instance{ObjectID: inst.ObjectID, Properties: inst.Properties})
		}
		return resp, nil
	}
	return fn(ctx, cs)
}

func (c *Client) UploadFile(ctx context.Context, id hub.ObjectID, path string, progress hub.ProgressFunc) error {
	c.mu.Lock()
	c.Uploaded = append(c.Uploaded, id.ID)
	fn := c.UploadFileFunc
	c.mu.Unlock()
	if progress != nil {
		progress(1, 1)
	}
	if fn == nil {
		return nil
	}
	return fn(ctx, id, path)
}

// DownloadFile writes the object id as the payload.
func (c *Client) DownloadFile(_ context.Context, id hub.ObjectID, path string, progress hub.ProgressFunc) error {
	c.mu.Lock()
	c.Downloaded = append(c.Downloaded, id.ID)
	c.mu.Unlock()
	if err := os.WriteFile(path, []byte(id.ID), 0o644); err != nil {
		return err
	}
	if progress != nil {
		progress(int64(len(id.ID)), int64(len(id.ID)))
	}
	return nil
}

// QueryCount returns how many queries targeted class.
func (c *Client) QueryCount(class string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, q := range c.Queries {
		if q.Class == class {
			n++
		}
	}
	return n
}

// SentChangesets returns a snapshot of the batches sent so far.
func (c *Client) SentChangesets() []*hub.Changeset {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*hub.Changeset(nil), c.Changesets...)
}

// ChangeSetInstance builds a ChangeSet instance as the service returns it.
func ChangeSetInstance(id, parent string, index int64, containing int) hub.Instance {
	return hub.Instance{
		ObjectID: hub.NewObjectID(hub.ClassChangeSet, id),
		Properties: map[string]any{
			"Id":                id,
			"ParentId":          parent,
			"Index":             index,
			"FileSize":          int64(len(id)),
			"ContainingChanges": containing,
			"BriefcaseId":       2,
		},
	}
}
