package client

import (
	"errors"

	"github.com/zeusync/hubsync/internal/core/hub"
)

// Client-specific errors
var (
	ErrClientClosed  = errors.New("client is closed")
	ErrInvalidConfig = errors.New("invalid client configuration")
	ErrNoDatabase    = errors.New("local database is required")
	ErrNoRepository  = errors.New("repository client is required")
)

// Errors reported by the briefcase.
var (
	ErrFileNotFound      = hub.ErrFileNotFound
	ErrInvalidConnection = hub.ErrInvalidConnection
	ErrReadOnly          = hub.ErrReadOnly
	ErrTrackingDisabled  = hub.ErrTrackingDisabled
)

type (
	Error   = hub.Error
	ErrorID = hub.ErrorID
)

// HasID reports whether err carries one of ids.
func HasID(err error, ids ...ErrorID) bool { return hub.HasID(err, ids...) }

// IsConflict reports whether another briefcase holds a lock or code the
// request needed.
func IsConflict(err error) bool {
	return hub.HasID(err, hub.LockOwnedByAnotherBriefcase, hub.CodeReservedByAnotherBriefcase, hub.PullIsRequired)
}

// IsTemporary reports whether retrying the same call later may succeed.
func IsTemporary(err error) bool {
	var he *hub.Error
	return errors.As(err, &he) && he.IsTemporary()
}
