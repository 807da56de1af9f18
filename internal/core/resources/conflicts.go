package resources

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/zeusync/hubsync/internal/core/hub"
)

// conflictStatus maps service error ids onto repository statuses. Any id not
// listed maps to StatusServerUnavailable.
var conflictStatus = map[hub.ErrorID]RepositoryStatus{
	hub.LockOwnedByAnotherBriefcase:    StatusLockAlreadyHeld,
	hub.PullIsRequired:                 StatusRevisionRequired,
	hub.CodeReservedByAnotherBriefcase: StatusCodeUnavailable,
	hub.CodeStateInvalid:               StatusCodeUnavailable,
	hub.CodeDoesNotExist:               StatusCodeNotReserved,
}

// conflictPayload is the extended data the service attaches to conflicts.
type conflictPayload struct {
	ConflictingLocks []struct {
		ObjectID              json.Number `json:"ObjectId"`
		LockType              int         `json:"LockType"`
		LockLevel             int         `json:"LockLevel"`
		BriefcaseID           int         `json:"BriefcaseId"`
		ReleasedWithChangeSet string      `json:"ReleasedWithChangeSet"`
	} `json:"ConflictingLocks"`
	ConflictingCodes []struct {
		CodeSpecID  json.Number `json:"CodeSpecId"`
		CodeScope   string      `json:"CodeScope"`
		Value       string      `json:"Value"`
		State       int         `json:"State"`
		BriefcaseID int         `json:"BriefcaseId"`
		ChangeSetID string      `json:"ChangeSetId"`
	} `json:"ConflictingCodes"`
}

// MapError converts a failed request into a Response. Conflicting locks and
// codes are included only when opts asked for them.
func MapError(err error, opts ResponseOptions) *Response {
	if err == nil {
		return &Response{Status: StatusSuccess}
	}

	var he *hub.Error
	if !errors.As(err, &he) {
		return &Response{Status: StatusServerUnavailable}
	}
	status, ok := conflictStatus[he.ID]
	if !ok {
		return &Response{Status: StatusServerUnavailable}
	}

	resp := &Response{Status: status}
	wantLocks, wantCodes := false, false
	switch he.ID {
	case hub.LockOwnedByAnotherBriefcase:
		wantLocks = opts.Has(ResponseLockState)
	case hub.PullIsRequired:
		wantLocks = opts.Has(ResponseLockState)
		wantCodes = opts.Has(ResponseCodeState)
	default:
		wantCodes = opts.Has(ResponseCodeState)
	}
	if (!wantLocks && !wantCodes) || len(he.ExtendedData) == 0 {
		return resp
	}

	var payload conflictPayload
	if json.Unmarshal(he.ExtendedData, &payload) != nil {
		return resp
	}
	if wantLocks {
		for _, l := range payload.ConflictingLocks {
			id, err := strconv.ParseUint(l.ObjectID.String(), 10, 64)
			if err != nil {
				continue
			}
			resp.Locks = append(resp.Locks, LockState{
				Lock:                  Lock{Type: LockableType(l.LockType), ObjectID: id, Level: LockLevel(l.LockLevel)},
				BriefcaseID:           l.BriefcaseID,
				ReleasedWithChangeSet: l.ReleasedWithChangeSet,
			})
		}
	}
	if wantCodes {
		for _, c := range payload.ConflictingCodes {
			spec, err := strconv.ParseUint(c.CodeSpecID.String(), 10, 64)
			if err != nil {
				continue
			}
			resp.Codes = append(resp.Codes, CodeInfo{
				Code:        Code{SpecID: spec, Scope: c.CodeScope, Value: c.Value},
				State:       CodeState(c.State),
				BriefcaseID: c.BriefcaseID,
				ChangeSetID: c.ChangeSetID,
			})
		}
	}
	return resp
}
