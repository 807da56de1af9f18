// Package changeset holds the changeset model, the reconciler that applies
// downloaded changesets to a local store, and the remote queries that fetch
// them.
package changeset

import (
	"slices"
	"time"

	"github.com/zeusync/hubsync/internal/core/hub"
)

// ContainingChanges flags reported by the service.
const (
	ContainsRegular = 0
	ContainsSchema  = 1 << 0
)

// ChangeSet is one entry of the server's linear history.
type ChangeSet struct {
	ID                string
	ParentID          string
	Index             int64
	Description       string
	FileSize          int64
	BriefcaseID       int
	ContainingChanges int
	PushDate          time.Time
	UserCreated       string

	// DownloadURL is set when the service hands out direct blob access.
	DownloadURL string
	// FilePath is the local payload location once downloaded.
	FilePath string
}

func (c *ChangeSet) ContainsSchemaChanges() bool {
	return c.ContainingChanges&ContainsSchema != 0
}

func (c *ChangeSet) ObjectID() hub.ObjectID {
	return hub.NewObjectID(hub.ClassChangeSet, c.ID)
}

// FromInstance converts a ChangeSet instance returned by the service.
func FromInstance(inst hub.Instance) *ChangeSet {
	cs := &ChangeSet{
		ID:                inst.String("Id"),
		ParentID:          inst.String("ParentId"),
		Index:             inst.Int64("Index"),
		Description:       inst.String("Description"),
		FileSize:          inst.Int64("FileSize"),
		BriefcaseID:       int(inst.Int64("BriefcaseId")),
		ContainingChanges: int(inst.Int64("ContainingChanges")),
		PushDate:          inst.Time("PushDate"),
		UserCreated:       inst.String("UserCreated"),
	}
	if cs.ID == "" {
		cs.ID = inst.ObjectID.ID
	}
	if key, ok := inst.RelatedOf(hub.ClassFileAccessKey); ok {
		cs.DownloadURL = key.String("DownloadUrl")
	}
	return cs
}

// Chain is a batch of changesets ordered by ascending index.
type Chain []*ChangeSet

// Sort orders the chain by index.
func (c Chain) Sort() {
	slices.SortStableFunc(c, func(a, b *ChangeSet) int {
		switch {
		case a.Index < b.Index:
			return -1
		case a.Index > b.Index:
			return 1
		default:
			return 0
		}
	})
}

// IsLinked reports whether every element's parent is its predecessor.
func (c Chain) IsLinked() bool {
	for i := 1; i < len(c); i++ {
		if c[i].ParentID != c[i-1].ID {
			return false
		}
	}
	return true
}

func (c Chain) ContainsSchemaChanges() bool {
	for _, cs := range c {
		if cs.ContainsSchemaChanges() {
			return true
		}
	}
	return false
}

func (c Chain) IDs() []string {
	ids := make([]string, len(c))
	for i, cs := range c {
		ids[i] = cs.ID
	}
	return ids
}

// Last returns the newest changeset or nil.
func (c Chain) Last() *ChangeSet {
	if len(c) == 0 {
		return nil
	}
	return c[len(c)-1]
}
