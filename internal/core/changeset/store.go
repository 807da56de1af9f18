package changeset

import "context"

// Store is the local database the reconciler applies changesets to.
type Store interface {
	// ParentChangeSetID is the id of the last changeset applied, empty for a
	// store that has none.
	ParentChangeSetID() string
	// HasReversedChangeSets reports whether changesets were reversed and not
	// reinstated yet.
	HasReversedChangeSets() bool

	Merge(ctx context.Context, cs *ChangeSet) error
	Reverse(ctx context.Context, cs *ChangeSet) error
	Reinstate(ctx context.Context, cs *ChangeSet) error
}
