// Package resources negotiates locks and codes with the service.
package resources

import (
	"context"
	"fmt"

	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/observability/log"
	"github.com/zeusync/hubsync/pkg/concurrent"
)

// Request describes locks and codes to acquire, check or demote.
type Request struct {
	Locks []Lock
	Codes []Code
	// LastChangeSetID is the briefcase's parent changeset; the service uses
	// it to detect locks released by changesets the briefcase has not pulled.
	LastChangeSetID string
	Options         ResponseOptions
}

// Coordinator issues lock and code requests for one briefcase.
type Coordinator struct {
	client       hub.RepositoryClient
	briefcaseID  int
	masterFileID string
	retry        hub.RetryPolicy
	logger       log.Log
}

func NewCoordinator(client hub.RepositoryClient, briefcaseID int, masterFileID string, retry hub.RetryPolicy, logger log.Log) *Coordinator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Coordinator{
		client:       client,
		briefcaseID:  briefcaseID,
		masterFileID: masterFileID,
		retry:        retry,
		logger: logger.With(
			log.String("component", "resources"),
			log.Int("briefcase", briefcaseID)),
	}
}

func (c *Coordinator) owner() owner {
	return owner{briefcaseID: c.briefcaseID, masterFileID: c.masterFileID}
}

// send issues cs and maps any failure into a Response.
func (c *Coordinator) send(ctx context.Context, op string, cs *hub.Changeset, opts ResponseOptions) (*Response, error) {
	if cs.IsEmpty() {
		return &Response{Status: StatusSuccess}, nil
	}
	applyResponseOptions(cs, opts)

	c.logger.Debug("sending request", log.String("operation", op), log.Int("instances", len(cs.Instances)))
	if _, err := c.client.SendChangeset(ctx, cs); err != nil {
		resp := MapError(err, opts)
		c.logger.Error("request failed",
			log.String("operation", op),
			log.String("status", resp.Status.String()),
			log.Error(err))
		return resp, err
	}
	return &Response{Status: StatusSuccess}, nil
}

func (c *Coordinator) acquireBatch(req Request, queryOnly bool) *hub.Changeset {
	cs := &hub.Changeset{}
	addLocks(cs, hub.Modified, req.Locks, lockBatch{
		owner:                 c.owner(),
		releasedWithChangeSet: req.LastChangeSetID,
		queryOnly:             queryOnly,
	})
	addCodes(cs, hub.Created, req.Codes, codeBatch{
		briefcaseID: c.briefcaseID,
		codeState:   CodeReserved,
		queryOnly:   queryOnly,
	})
	return cs
}

// AcquireCodesLocks reserves codes and acquires locks in a single request.
func (c *Coordinator) AcquireCodesLocks(ctx context.Context, req Request) (*Response, error) {
	return c.send(ctx, "acquire", c.acquireBatch(req, false), req.Options)
}

// QueryCodesLocksAvailability checks whether AcquireCodesLocks would succeed
// without changing anything on the service.
func (c *Coordinator) QueryCodesLocksAvailability(ctx context.Context, req Request) (*Response, error) {
	return c.send(ctx, "query availability", c.acquireBatch(req, true), req.Options)
}

// DemoteCodesLocks lowers lock levels to those given and returns codes to
// the available pool.
func (c *Coordinator) DemoteCodesLocks(ctx context.Context, req Request) (*Response, error) {
	cs := &hub.Changeset{}
	addLocks(cs, hub.Modified, req.Locks, lockBatch{owner: c.owner()})
	addCodes(cs, hub.Modified, req.Codes, codeBatch{briefcaseID: c.briefcaseID, codeState: CodeAvailable})
	return c.send(ctx, "demote", cs, req.Options)
}

// RelinquishCodesLocks releases every lock and reserved code the briefcase
// holds.
func (c *Coordinator) RelinquishCodesLocks(ctx context.Context, opts ResponseOptions) (*Response, error) {
	cs := &hub.Changeset{}
	addRelinquish(cs, c.briefcaseID)
	return c.send(ctx, "relinquish", cs, opts)
}

// FinalizeRequest is the last stage of a push.
type FinalizeRequest struct {
	// ChangeSet is the instance created for the push and its properties.
	ChangeSet       hub.ObjectID
	Properties      map[string]any
	ChangeSetID     string
	ParentID        string
	UsedLocks       []Lock
	AssignedCodes   []Code
	DiscardedCodes  []Code
	RelinquishAfter bool
	Options         ResponseOptions
}

// FinalizeChangeSet marks an uploaded changeset complete, records the locks
// and codes it used and optionally releases everything else, all in one
// request. When the service reports a used lock or code it does not know
// about, they are acquired and the same request is sent once more.
func (c *Coordinator) FinalizeChangeSet(ctx context.Context, req FinalizeRequest) error {
	props := make(map[string]any, len(req.Properties)+1)
	for k, v := range req.Properties {
		props[k] = v
	}
	props["IsUploaded"] = true

	cs := &hub.Changeset{}
	cs.Add(req.ChangeSet, hub.Modified, props)
	addLocks(cs, hub.Modified, req.UsedLocks, lockBatch{
		owner:                 c.owner(),
		releasedWithChangeSet: req.ChangeSetID,
		onlyExclusive:         true,
	})
	if len(req.AssignedCodes) > 0 {
		addCodes(cs, hub.Modified, req.AssignedCodes, codeBatch{
			briefcaseID: c.briefcaseID,
			codeState:   CodeUsed,
			changeSetID: req.ChangeSetID,
		})
	}
	if len(req.DiscardedCodes) > 0 {
		addCodes(cs, hub.Modified, req.DiscardedCodes, codeBatch{
			briefcaseID: c.briefcaseID,
			codeState:   CodeDiscarded,
			changeSetID: req.ChangeSetID,
		})
	}
	if req.RelinquishAfter {
		addRelinquish(cs, c.briefcaseID)
	}
	applyResponseOptions(cs, req.Options)

	_, err := c.client.SendChangeset(ctx, cs)
	if err == nil {
		return nil
	}
	if !hub.HasID(err, hub.LockDoesNotExist, hub.CodeDoesNotExist) {
		c.logger.Error("changeset finalize failed", log.String("changeset", req.ChangeSetID), log.Error(err))
		return err
	}

	c.logger.Info("acquiring missing locks and codes before finalizing",
		log.String("changeset", req.ChangeSetID),
		log.String("reason", hub.IDOf(err).String()))

	reserve := append(append([]Code(nil), req.AssignedCodes...), req.DiscardedCodes...)
	if _, err := c.AcquireCodesLocks(ctx, Request{
		Locks:           req.UsedLocks,
		Codes:           reserve,
		LastChangeSetID: req.ParentID,
		Options:         ResponseNone,
	}); err != nil {
		return err
	}

	if _, err := c.client.SendChangeset(ctx, cs); err != nil {
		c.logger.Error("changeset finalize retry failed", log.String("changeset", req.ChangeSetID), log.Error(err))
		return err
	}
	return nil
}

type queryTask func(ctx context.Context, out *CodeLockSet) error

func (c *Coordinator) runQueries(ctx context.Context, tasks ...queryTask) (*CodeLockSet, error) {
	out := &CodeLockSet{}
	fns := make([]func(context.Context) error, len(tasks))
	for i, task := range tasks {
		fns[i] = func(ctx context.Context) error { return task(ctx, out) }
	}
	if err := concurrent.All(ctx, fns...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Coordinator) query(ctx context.Context, q hub.Query, out *CodeLockSet, add func(hub.Instance, *CodeLockSet)) error {
	instances, err := hub.Retry(ctx, c.retry, c.logger, "query "+q.Class, func(ctx context.Context) ([]hub.Instance, error) {
		return c.client.Query(ctx, q)
	})
	if err != nil {
		return err
	}
	for _, inst := range instances {
		add(inst, out)
	}
	return nil
}

func addLockInstance(inst hub.Instance, out *CodeLockSet) {
	if l, ok := lockFromInstance(inst); ok {
		out.AddLock(l)
	}
}

func addHeldLockInstance(inst hub.Instance, out *CodeLockSet) {
	if l, ok := lockFromInstance(inst); ok && l.Level != LockNone {
		out.AddLock(l)
	}
}

func addCodeInstance(inst hub.Instance, out *CodeLockSet) {
	if code, ok := codeFromInstance(inst); ok {
		out.AddCode(code)
	}
}

func addMultiLockInstance(inst hub.Instance, out *CodeLockSet) {
	for _, l := range multiLockFromInstance(inst) {
		out.AddLock(l)
	}
}

func addMultiCodeInstance(inst hub.Instance, out *CodeLockSet) {
	for _, code := range multiCodeFromInstance(inst) {
		out.AddCode(code)
	}
}

// QueryCodesLocksByID looks up the state of specific codes and locks. A
// positive briefcaseID restricts the lookup to that briefcase's entries.
// With no codes and no locks, everything the briefcase holds is returned.
func (c *Coordinator) QueryCodesLocksByID(ctx context.Context, codes []Code, locks []Lock, briefcaseID int) (*CodeLockSet, error) {
	var tasks []queryTask
	if len(codes) > 0 {
		q := hub.NewQuery(hub.ClassCode)
		for _, code := range codes {
			q.IDs = append(q.IDs, code.ServerID(briefcaseID))
		}
		tasks = append(tasks, func(ctx context.Context, out *CodeLockSet) error {
			return c.query(ctx, q, out, addCodeInstance)
		})
	}
	if len(locks) > 0 {
		q := hub.NewQuery(hub.ClassLock)
		for _, l := range locks {
			q.IDs = append(q.IDs, lockServerID(l, briefcaseID))
		}
		tasks = append(tasks, func(ctx context.Context, out *CodeLockSet) error {
			return c.query(ctx, q, out, addHeldLockInstance)
		})
	}
	if len(tasks) == 0 {
		if briefcaseID <= 0 {
			return &CodeLockSet{}, nil
		}
		return c.QueryCodesLocks(ctx, briefcaseID)
	}
	return c.runQueries(ctx, tasks...)
}

// QueryCodesLocks returns every code and lock held by briefcaseID.
func (c *Coordinator) QueryCodesLocks(ctx context.Context, briefcaseID int) (*CodeLockSet, error) {
	filter := fmt.Sprintf("(BriefcaseId+eq+%d)", briefcaseID)
	codes := hub.NewQuery(hub.ClassMultiCode)
	codes.Filter = filter
	locks := hub.NewQuery(hub.ClassMultiLock)
	locks.Filter = filter

	return c.runQueries(ctx,
		func(ctx context.Context, out *CodeLockSet) error {
			return c.query(ctx, codes, out, addMultiCodeInstance)
		},
		func(ctx context.Context, out *CodeLockSet) error {
			return c.query(ctx, locks, out, addMultiLockInstance)
		},
	)
}

// QueryUnavailableCodesLocks returns codes and locks briefcaseID cannot
// take: those held by other briefcases plus locks released by changesets
// newer than lastChangeSetID.
func (c *Coordinator) QueryUnavailableCodesLocks(ctx context.Context, briefcaseID int, lastChangeSetID string) (*CodeLockSet, error) {
	if !IsBriefcase(briefcaseID) {
		return nil, hub.Errorf(hub.FileIsNotBriefcase, "briefcase id %d is reserved", briefcaseID)
	}

	var index int64
	if lastChangeSetID != "" {
		q := hub.NewQuery(hub.ClassChangeSet)
		q.IDs = []string{lastChangeSetID}
		q.Select = "Index"
		instances, err := hub.Retry(ctx, c.retry, c.logger, "query changeset", func(ctx context.Context) ([]hub.Instance, error) {
			return c.client.Query(ctx, q)
		})
		switch {
		case err != nil && !hub.HasID(err, hub.ChangeSetDoesNotExist):
			c.logger.Error("changeset lookup failed", log.String("changeset", lastChangeSetID), log.Error(err))
			return nil, err
		case err == nil && len(instances) > 0:
			index = instances[0].Int64("Index")
		}
	}

	codes := hub.NewQuery(hub.ClassCode)
	codes.Filter = fmt.Sprintf("BriefcaseId+ne+%d", briefcaseID)
	locks := hub.NewQuery(hub.ClassLock)
	locks.Filter = fmt.Sprintf("BriefcaseId+ne+%d+and+(LockLevel+gt+%d+or+ReleasedWithChangeSetIndex+gt+%d)",
		briefcaseID, int(LockNone), index)

	return c.runQueries(ctx,
		func(ctx context.Context, out *CodeLockSet) error {
			return c.query(ctx, codes, out, addCodeInstance)
		},
		func(ctx context.Context, out *CodeLockSet) error {
			return c.query(ctx, locks, out, addLockInstance)
		},
	)
}
