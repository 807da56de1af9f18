package hub

import (
	"context"
	"sync"
)

type UserInfo struct {
	ID      string
	Name    string
	Surname string
	Email   string
}

// UserFetcher resolves user ids the cache does not hold yet.
type UserFetcher func(ctx context.Context, ids []string) ([]UserInfo, error)

// UserCache memoizes user lookups for the lifetime of one connection. It
// grows without bound; Invalidate drops every entry, which callers do when
// credentials change.
type UserCache struct {
	mu    sync.RWMutex
	users map[string]UserInfo
	fetch UserFetcher
}

func NewUserCache(fetch UserFetcher) *UserCache {
	return &UserCache{users: make(map[string]UserInfo), fetch: fetch}
}

// QueryUsers returns a fetcher reading UserInfo instances through client.
func QueryUsers(client RepositoryClient) UserFetcher {
	return func(ctx context.Context, ids []string) ([]UserInfo, error) {
		q := NewQuery(ClassUserInfo)
		q.IDs = ids
		instances, err := client.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		out := make([]UserInfo, 0, len(instances))
		for _, inst := range instances {
			id := inst.String("Id")
			if id == "" {
				id = inst.ObjectID.ID
			}
			out = append(out, UserInfo{
				ID:      id,
				Name:    inst.String("Name"),
				Surname: inst.String("Surname"),
				Email:   inst.String("Email"),
			})
		}
		return out, nil
	}
}

// Get returns the users for ids in request order. Unknown ids are skipped.
func (c *UserCache) Get(ctx context.Context, ids ...string) ([]UserInfo, error) {
	c.mu.RLock()
	var missing []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := c.users[id]; !ok {
			missing = append(missing, id)
		}
	}
	c.mu.RUnlock()

	if len(missing) > 0 && c.fetch != nil {
		fetched, err := c.fetch(ctx, missing)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		for _, u := range fetched {
			c.users[u.ID] = u
		}
		c.mu.Unlock()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]UserInfo, 0, len(ids))
	for _, id := range ids {
		if u, ok := c.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (c *UserCache) Invalidate() {
	c.mu.Lock()
	c.users = make(map[string]UserInfo)
	c.mu.Unlock()
}

func (c *UserCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.users)
}
