// Package state keeps lock and code release requests that have not reached
// the service yet, so a later pull can resubmit them.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/hubsync/internal/core/resources"
)

type ReleaseKind string

const (
	ReleaseRelinquish ReleaseKind = "relinquish"
	ReleaseDemote     ReleaseKind = "demote"
)

var (
	ErrNotFound    = errors.New("pending release not found")
	ErrInvalidKind = errors.New("invalid release kind")
)

// PendingRelease is one release the briefcase still owes the service.
type PendingRelease struct {
	ID          string
	BriefcaseID int
	Kind        ReleaseKind
	// Request carries the demoted locks and codes; relinquish uses only
	// Request.Options.
	Request   resources.Request
	CreatedAt time.Time
}

// NewPendingRelease stamps a record with a fresh id and the current time.
func NewPendingRelease(briefcaseID int, kind ReleaseKind, req resources.Request) PendingRelease {
	return PendingRelease{
		ID:          uuid.NewString(),
		BriefcaseID: briefcaseID,
		Kind:        kind,
		Request:     req,
		CreatedAt:   time.Now().UTC(),
	}
}

func (k ReleaseKind) valid() bool {
	return k == ReleaseRelinquish || k == ReleaseDemote
}

// Store persists pending releases. List returns records oldest first.
type Store interface {
	Put(ctx context.Context, r PendingRelease) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, briefcaseID int) ([]PendingRelease, error)
	// Clear removes every record of a briefcase and returns how many went.
	Clear(ctx context.Context, briefcaseID int) (int, error)
	Close() error
}
