package briefcase

import (
	"context"

	"github.com/zeusync/hubsync/internal/core/changeset"
	"github.com/zeusync/hubsync/internal/core/resources"
)

// LocalChangeSet is a changeset the local database is creating for a push.
type LocalChangeSet struct {
	ID                string
	ParentID          string
	FilePath          string
	FileSize          int64
	ContainingChanges int

	// UsedLocks are the locks the changes were made under.
	UsedLocks      []resources.Lock
	AssignedCodes  []resources.Code
	DiscardedCodes []resources.Code
}

// LocalDB is the local briefcase database. The briefcase only reads its
// state and drives it through the operations below.
type LocalDB interface {
	changeset.Store

	// Exists reports whether the database file is present.
	Exists() bool
	IsReadOnly() bool
	IsTrackingEnabled() bool
	BriefcaseID() int

	// InProgressChangeSet returns the changeset left mid-creation by an
	// earlier push, if any.
	InProgressChangeSet() (*LocalChangeSet, bool)
	HasPendingChanges() bool
	StartCreateChangeSet(ctx context.Context) (*LocalChangeSet, error)
	FinishCreateChangeSet(ctx context.Context, id string) error
	AbandonCreateChangeSet(ctx context.Context) error
	Save(ctx context.Context) error
}
