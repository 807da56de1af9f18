package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrorID classifies every failure a hub operation can report.
type ErrorID int

const (
	Unknown ErrorID = iota

	// Local preconditions

	FileNotFound
	InvalidConnection
	BriefcaseIsReadOnly
	TrackingNotEnabled
	FileIsNotBriefcase
	ChangeSetDoesNotExist
	VersionDoesNotExist
	MergeSchemaChangesOnOpen
	ReverseOrReinstateSchemaChangesOnOpen
	ApplyError
	Cancelled

	// Transport

	ConnectionError
	RequestTimeout
	ServiceUnavailable
	Unauthorized
	FileUploadFailed
	FileDownloadFailed

	// Server conflicts

	AnotherUserPushing
	PullIsRequired
	DatabaseTemporarilyLocked
	OperationFailed
	LockOwnedByAnotherBriefcase
	LockDoesNotExist
	CodeReservedByAnotherBriefcase
	CodeStateInvalid
	CodeDoesNotExist
	ChangeSetAlreadyExists
	MissingRequiredProperties

	// Event service

	NotSubscribedToEventService
	NoEventsFound
	EventCallbackAlreadySubscribed
	EventCallbackNotFound
	EventCallbackNotSpecified
	EventServiceSubscribingError
	NoSASFound
	NoSubscriptionFound
)

var errorIDNames = map[ErrorID]string{
	Unknown:                               "Unknown",
	FileNotFound:                          "FileNotFound",
	InvalidConnection:                     "InvalidConnection",
	BriefcaseIsReadOnly:                   "BriefcaseIsReadOnly",
	TrackingNotEnabled:                    "TrackingNotEnabled",
	FileIsNotBriefcase:                    "FileIsNotBriefcase",
	ChangeSetDoesNotExist:                 "ChangeSetDoesNotExist",
	VersionDoesNotExist:                   "VersionDoesNotExist",
	MergeSchemaChangesOnOpen:              "MergeSchemaChangesOnOpen",
	ReverseOrReinstateSchemaChangesOnOpen: "ReverseOrReinstateSchemaChangesOnOpen",
	ApplyError:                            "ApplyError",
	Cancelled:                             "Cancelled",
	ConnectionError:                       "ConnectionError",
	RequestTimeout:                        "RequestTimeout",
	ServiceUnavailable:                    "ServiceUnavailable",
	Unauthorized:                          "Unauthorized",
	FileUploadFailed:                      "FileUploadFailed",
	FileDownloadFailed:                    "FileDownloadFailed",
	AnotherUserPushing:                    "AnotherUserPushing",
	PullIsRequired:                        "PullIsRequired",
	DatabaseTemporarilyLocked:             "DatabaseTemporarilyLocked",
	OperationFailed:                       "OperationFailed",
	LockOwnedByAnotherBriefcase:           "LockOwnedByAnotherBriefcase",
	LockDoesNotExist:                      "LockDoesNotExist",
	CodeReservedByAnotherBriefcase:        "CodeReservedByAnotherBriefcase",
	CodeStateInvalid:                      "CodeStateInvalid",
	CodeDoesNotExist:                      "CodeDoesNotExist",
	ChangeSetAlreadyExists:                "ChangeSetAlreadyExists",
	MissingRequiredProperties:             "MissingRequiredProperties",
	NotSubscribedToEventService:           "NotSubscribedToEventService",
	NoEventsFound:                         "NoEventsFound",
	EventCallbackAlreadySubscribed:        "EventCallbackAlreadySubscribed",
	EventCallbackNotFound:                 "EventCallbackNotFound",
	EventCallbackNotSpecified:             "EventCallbackNotSpecified",
	EventServiceSubscribingError:          "EventServiceSubscribingError",
	NoSASFound:                            "NoSASFound",
	NoSubscriptionFound:                   "NoSubscriptionFound",
}

func (id ErrorID) String() string {
	if name, ok := errorIDNames[id]; ok {
		return name
	}
	return fmt.Sprintf("ErrorID(%d)", int(id))
}

// serverErrorIDs maps error identifiers reported by the service. Identifiers
// arrive with a "iModelHub." prefix which is stripped before lookup.
var serverErrorIDs = map[string]ErrorID{
	"AnotherUserPushing":             AnotherUserPushing,
	"PullIsRequired":                 PullIsRequired,
	"DatabaseTemporarilyLocked":      DatabaseTemporarilyLocked,
	"iModelHubOperationFailed":       OperationFailed,
	"OperationFailed":                OperationFailed,
	"LockOwnedByAnotherBriefcase":    LockOwnedByAnotherBriefcase,
	"LockDoesNotExist":               LockDoesNotExist,
	"CodeReservedByAnotherBriefcase": CodeReservedByAnotherBriefcase,
	"CodeStateInvalid":               CodeStateInvalid,
	"CodeDoesNotExist":               CodeDoesNotExist,
	"ChangeSetAlreadyExists":         ChangeSetAlreadyExists,
	"ChangeSetDoesNotExist":          ChangeSetDoesNotExist,
	"InvalidChangeSet":               ChangeSetDoesNotExist,
	"VersionDoesNotExist":            VersionDoesNotExist,
	"MissingRequiredProperties":      MissingRequiredProperties,
	"FileDoesNotExist":               FileNotFound,
	"FileIsNotBriefcase":             FileIsNotBriefcase,
	"EventSubscriptionDoesNotExist":  NoSubscriptionFound,
}

const serverErrorPrefix = "iModelHub."

// ParseServerErrorID resolves a service error identifier. Unrecognized
// identifiers map to Unknown.
func ParseServerErrorID(s string) ErrorID {
	if id, ok := serverErrorIDs[strings.TrimPrefix(s, serverErrorPrefix)]; ok {
		return id
	}
	return Unknown
}

// Error is the structured failure returned by every hub operation.
type Error struct {
	ID          ErrorID
	Message     string
	Description string
	// HTTPStatus is zero for failures that never reached the service.
	HTTPStatus int
	// ExtendedData is the raw conflict payload attached by the service.
	ExtendedData json.RawMessage
	Cause        error
}

func NewError(id ErrorID, message string) *Error {
	return &Error{ID: id, Message: message}
}

func Errorf(id ErrorID, format string, args ...any) *Error {
	return &Error{ID: id, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches id to err. A *Error cause with the same id is returned as is.
func Wrap(id ErrorID, err error) *Error {
	if err == nil {
		return nil
	}
	var he *Error
	if errors.As(err, &he) && he.ID == id {
		return he
	}
	return &Error{ID: id, Message: err.Error(), Cause: err}
}

// FromServer builds an error from a service error response.
func FromServer(serverID, message, description string, status int, extended json.RawMessage) *Error {
	return &Error{
		ID:           ParseServerErrorID(serverID),
		Message:      message,
		Description:  description,
		HTTPStatus:   status,
		ExtendedData: extended,
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Description != "" && e.Description != msg {
		return fmt.Sprintf("%s: %s (%s)", e.ID, msg, e.Description)
	}
	return fmt.Sprintf("%s: %s", e.ID, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by ID.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.ID == e.ID
}

// IsTemporary reports transport failures worth repeating unchanged.
func (e *Error) IsTemporary() bool {
	switch e.ID {
	case ConnectionError, RequestTimeout, ServiceUnavailable:
		return true
	default:
		return false
	}
}

// IDOf extracts the ErrorID of err, Unknown when err carries none.
func IDOf(err error) ErrorID {
	var he *Error
	if errors.As(err, &he) {
		return he.ID
	}
	return Unknown
}

// HasID reports whether err carries one of ids.
func HasID(err error, ids ...ErrorID) bool {
	if err == nil {
		return false
	}
	got := IDOf(err)
	for _, id := range ids {
		if got == id {
			return true
		}
	}
	return false
}

// Sentinels usable with errors.Is.
var (
	ErrFileNotFound      = NewError(FileNotFound, "briefcase is not open")
	ErrInvalidConnection = NewError(InvalidConnection, "repository connection is not set")
	ErrReadOnly          = NewError(BriefcaseIsReadOnly, "briefcase is read-only")
	ErrTrackingDisabled  = NewError(TrackingNotEnabled, "change tracking is not enabled")
	ErrNotBriefcase      = NewError(FileIsNotBriefcase, "file is a master or standalone copy")
)
