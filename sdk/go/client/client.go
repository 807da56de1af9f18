// Package client is the public entry point for synchronising a local
// briefcase with the hub.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zeusync/hubsync/internal/briefcase"
	"github.com/zeusync/hubsync/internal/config"
	"github.com/zeusync/hubsync/internal/core/changeset"
	"github.com/zeusync/hubsync/internal/core/events"
	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/resources"
	"github.com/zeusync/hubsync/internal/injector"
)

type (
	Config           = config.Config
	LocalDB          = briefcase.LocalDB
	LocalChangeSet   = briefcase.LocalChangeSet
	RepositoryClient = hub.RepositoryClient
	ProgressFunc     = hub.ProgressFunc
	PushOptions      = briefcase.PushOptions
	Chain            = changeset.Chain

	Lock            = resources.Lock
	Code            = resources.Code
	ResponseOptions = resources.ResponseOptions
	Response        = resources.Response
	CodeLockSet     = resources.CodeLockSet

	UserInfo = hub.UserInfo

	EventType = events.EventType
	Event     = events.Event
	Handle    = events.Handle
	Callback  = events.Callback
)

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() *Config { return config.Default() }

// LoadConfig reads a YAML or TOML file and applies HUBSYNC_* overrides.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Client owns a briefcase and the resources wired around it.
type Client struct {
	bc      *briefcase.Briefcase
	users   *hub.UserCache
	cleanup func()

	closed    atomic.Bool
	closeOnce sync.Once
}

// Open wires a briefcase for db against repo. Close releases the state
// store and stops the event listener.
func Open(cfg *Config, db LocalDB, repo RepositoryClient) (*Client, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if db == nil {
		return nil, ErrNoDatabase
	}
	if repo == nil {
		return nil, ErrNoRepository
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	bc, cleanup, err := injector.InitializeBriefcase(cfg, db, repo)
	if err != nil {
		return nil, err
	}
	return &Client{bc: bc, users: hub.NewUserCache(hub.QueryUsers(repo)), cleanup: cleanup}, nil
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cleanup()
	})
	return nil
}

func (c *Client) briefcase() (*briefcase.Briefcase, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	return c.bc, nil
}

// BriefcaseID returns the id the hub assigned to the local database.
func (c *Client) BriefcaseID() int { return c.bc.ID() }

// Pull downloads the changesets newer than the briefcase's parent.
func (c *Client) Pull(ctx context.Context, progress ProgressFunc) (Chain, error) {
	bc, err := c.briefcase()
	if err != nil {
		return nil, err
	}
	return bc.Pull(ctx, progress)
}

// Merge applies a pulled chain to the local database.
func (c *Client) Merge(ctx context.Context, chain Chain) error {
	bc, err := c.briefcase()
	if err != nil {
		return err
	}
	return bc.Merge(ctx, chain)
}

func (c *Client) PullAndMerge(ctx context.Context, progress ProgressFunc) (Chain, error) {
	bc, err := c.briefcase()
	if err != nil {
		return nil, err
	}
	return bc.PullAndMerge(ctx, progress)
}

// Push sends local changes as one changeset.
func (c *Client) Push(ctx context.Context, opts PushOptions) error {
	bc, err := c.briefcase()
	if err != nil {
		return err
	}
	return bc.Push(ctx, opts)
}

// PullMergeAndPush retries Push after pulling whenever the hub reports a
// race with another briefcase. maxAttempts below 1 uses the configured
// limit.
func (c *Client) PullMergeAndPush(ctx context.Context, opts PushOptions, maxAttempts int) (Chain, error) {
	bc, err := c.briefcase()
	if err != nil {
		return nil, err
	}
	return bc.PullMergeAndPush(ctx, opts, maxAttempts)
}

func (c *Client) UpdateToVersion(ctx context.Context, versionID string, progress ProgressFunc) error {
	bc, err := c.briefcase()
	if err != nil {
		return err
	}
	return bc.UpdateToVersion(ctx, versionID, progress)
}

func (c *Client) UpdateToChangeSet(ctx context.Context, changeSetID string, progress ProgressFunc) error {
	bc, err := c.briefcase()
	if err != nil {
		return err
	}
	return bc.UpdateToChangeSet(ctx, changeSetID, progress)
}

func (c *Client) IsUpToDate(ctx context.Context) (bool, error) {
	bc, err := c.briefcase()
	if err != nil {
		return false, err
	}
	return bc.IsBriefcaseUpToDate(ctx)
}

func (c *Client) AcquireCodesLocks(ctx context.Context, locks []Lock, codes []Code, opts ResponseOptions) (*Response, error) {
	bc, err := c.briefcase()
	if err != nil {
		return nil, err
	}
	return bc.AcquireCodesLocks(ctx, locks, codes, opts)
}

func (c *Client) QueryCodesLocksAvailability(ctx context.Context, locks []Lock, codes []Code, opts ResponseOptions) (*Response, error) {
	bc, err := c.briefcase()
	if err != nil {
		return nil, err
	}
	return bc.QueryCodesLocksAvailability(ctx, locks, codes, opts)
}

func (c *Client) DemoteCodesLocks(ctx context.Context, locks []Lock, codes []Code, opts ResponseOptions) (*Response, error) {
	bc, err := c.briefcase()
	if err != nil {
		return nil, err
	}
	return bc.DemoteCodesLocks(ctx, locks, codes, opts)
}

func (c *Client) RelinquishCodesLocks(ctx context.Context, opts ResponseOptions) (*Response, error) {
	bc, err := c.briefcase()
	if err != nil {
		return nil, err
	}
	return bc.RelinquishCodesLocks(ctx, opts)
}

func (c *Client) QueryCodesLocks(ctx context.Context) (*CodeLockSet, error) {
	bc, err := c.briefcase()
	if err != nil {
		return nil, err
	}
	return bc.QueryCodesLocks(ctx)
}

func (c *Client) QueryUnavailableCodesLocks(ctx context.Context) (*CodeLockSet, error) {
	bc, err := c.briefcase()
	if err != nil {
		return nil, err
	}
	return bc.QueryUnavailableCodesLocks(ctx)
}

// Users resolves user ids, querying the hub only for ids not seen on this
// connection.
func (c *Client) Users(ctx context.Context, ids ...string) ([]UserInfo, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	return c.users.Get(ctx, ids...)
}

// InvalidateUsers drops cached users. The host owns the RepositoryClient and
// its credentials, so the host calls this after refreshing or switching them.
func (c *Client) InvalidateUsers() { c.users.Invalidate() }

// Subscribe registers cb for the given event types; no types means every
// event.
func (c *Client) Subscribe(ctx context.Context, types []EventType, cb Callback) (Handle, error) {
	bc, err := c.briefcase()
	if err != nil {
		return "", err
	}
	return bc.SubscribeEventsCallback(ctx, types, cb)
}

func (c *Client) Unsubscribe(ctx context.Context, h Handle) error {
	bc, err := c.briefcase()
	if err != nil {
		return err
	}
	return bc.UnsubscribeEventsCallback(ctx, h)
}
