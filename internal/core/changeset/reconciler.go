package changeset

import (
	"context"
	"fmt"

	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/observability/log"
	"github.com/zeusync/hubsync/internal/core/observability/metrics"
)

// Reconcile actions, also used as metric labels.
const (
	ActionMerge     = "merge"
	ActionReverse   = "reverse"
	ActionReinstate = "reinstate"
)

// Reconciler applies an ordered batch of changesets to a Store, choosing
// between merge, reverse and reinstate from the store's position.
type Reconciler struct {
	store   Store
	logger  log.Log
	metrics metrics.Recorder
}

func NewReconciler(store Store, logger log.Log, recorder metrics.Recorder) *Reconciler {
	if logger == nil {
		logger = log.NewNop()
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &Reconciler{
		store:   store,
		logger:  logger.With(log.String("component", "reconciler")),
		metrics: recorder,
	}
}

// Apply brings the store in line with chain, which must be sorted by index.
//
// A batch carrying schema changes is never applied to an open store; the
// returned error tells the caller how to apply it on reopen instead.
func (r *Reconciler) Apply(ctx context.Context, chain Chain) error {
	if len(chain) == 0 {
		return nil
	}

	parent := r.store.ParentChangeSetID()
	first := chain[0]

	if chain.ContainsSchemaChanges() {
		if parent == "" || parent == first.ParentID {
			return hub.Errorf(hub.MergeSchemaChangesOnOpen,
				"%d changesets with schema changes must be merged on reopen", len(chain))
		}
		return hub.Errorf(hub.ReverseOrReinstateSchemaChangesOnOpen,
			"changesets with schema changes must be reversed or reinstated on reopen")
	}

	if parent != first.ParentID {
		return r.reverse(ctx, chain)
	}
	return r.forward(ctx, chain)
}

// reverse walks the chain newest first, undoing every applied changeset
// until the store sits on the chain's starting point.
func (r *Reconciler) reverse(ctx context.Context, chain Chain) error {
	target := chain[0].ParentID
	for i := len(chain) - 1; i >= 0; i-- {
		if r.store.ParentChangeSetID() == target {
			break
		}
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		cs := chain[i]
		if cs.ID != r.store.ParentChangeSetID() {
			continue
		}
		if err := r.store.Reverse(ctx, cs); err != nil {
			return applyFailed(ActionReverse, cs, err)
		}
		r.metrics.RecordReconcile(ActionReverse)
		r.logger.Debug("changeset reversed", log.String("changeset", cs.ID), log.Int64("index", cs.Index))
	}

	if got := r.store.ParentChangeSetID(); got != target {
		return hub.Errorf(hub.ApplyError, "store is at %q after reversing, expected %q", got, target)
	}
	return nil
}

// forward reinstates previously reversed changesets and merges the rest, in
// ascending order.
func (r *Reconciler) forward(ctx context.Context, chain Chain) error {
	for _, cs := range chain {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		action := ActionMerge
		var err error
		if r.store.HasReversedChangeSets() {
			action = ActionReinstate
			err = r.store.Reinstate(ctx, cs)
		} else {
			err = r.store.Merge(ctx, cs)
		}
		if err != nil {
			return applyFailed(action, cs, err)
		}
		r.metrics.RecordReconcile(action)
		r.logger.Debug("changeset applied",
			log.String("action", action),
			log.String("changeset", cs.ID),
			log.Int64("index", cs.Index))
	}
	return nil
}

func cancelled(err error) error {
	return &hub.Error{ID: hub.ApplyError, Message: "apply cancelled", Cause: hub.Wrap(hub.Cancelled, err)}
}

func applyFailed(action string, cs *ChangeSet, err error) error {
	return &hub.Error{
		ID:      hub.ApplyError,
		Message: fmt.Sprintf("%s changeset %s", action, cs.ID),
		Cause:   err,
	}
}
