package resources

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Reserved briefcase ids that never take part in lock or code bookkeeping.
const (
	MasterBriefcaseID     = 0
	StandaloneBriefcaseID = 1
)

// IsBriefcase reports whether id names a real briefcase.
func IsBriefcase(id int) bool {
	return id != MasterBriefcaseID && id != StandaloneBriefcaseID
}

type LockableType int

const (
	LockableDb LockableType = iota
	LockableModel
	LockableElement
	LockableSchemas
)

type LockLevel int

const (
	LockNone LockLevel = iota
	LockShared
	LockExclusive
)

func (l LockLevel) String() string {
	switch l {
	case LockShared:
		return "shared"
	case LockExclusive:
		return "exclusive"
	default:
		return "none"
	}
}

type Lock struct {
	Type     LockableType
	ObjectID uint64
	Level    LockLevel
}

// LockState is a lock as the service reports it.
type LockState struct {
	Lock
	BriefcaseID           int
	ReleasedWithChangeSet string
}

type CodeState int

const (
	CodeAvailable CodeState = iota
	CodeReserved
	CodeUsed
	CodeDiscarded
)

func (s CodeState) String() string {
	switch s {
	case CodeReserved:
		return "reserved"
	case CodeUsed:
		return "used"
	case CodeDiscarded:
		return "discarded"
	default:
		return "available"
	}
}

// Code is a unique name reserved within a code spec and scope.
type Code struct {
	SpecID uint64
	Scope  string
	Value  string
}

// ServerID renders the identifier the service uses for a code, optionally
// qualified by briefcase.
func (c Code) ServerID(briefcaseID int) string {
	value := url.PathEscape(strings.ReplaceAll(c.Value, "-", "_2D_"))
	id := fmt.Sprintf("%d-%s-%s", c.SpecID, url.PathEscape(c.Scope), value)
	if briefcaseID > 0 {
		id = fmt.Sprintf("%s-%d", id, briefcaseID)
	}
	return id
}

// CodeInfo is a code as the service reports it.
type CodeInfo struct {
	Code
	State       CodeState
	BriefcaseID int
	ChangeSetID string
}

// ResponseOptions select which conflict details a failed request reports.
type ResponseOptions uint8

const (
	ResponseNone      ResponseOptions = 0
	ResponseLockState ResponseOptions = 1 << 0
	ResponseCodeState ResponseOptions = 1 << 1
	ResponseUnlimited ResponseOptions = 1 << 2
	ResponseAll                       = ResponseLockState | ResponseCodeState | ResponseUnlimited
)

func (o ResponseOptions) Has(flag ResponseOptions) bool {
	return o&flag != 0
}

// RepositoryStatus is the outcome of a lock or code request.
type RepositoryStatus int

const (
	StatusSuccess RepositoryStatus = iota
	StatusServerUnavailable
	StatusLockAlreadyHeld
	StatusRevisionRequired
	StatusCodeUnavailable
	StatusCodeNotReserved
	StatusInvalidRequest
)

func (s RepositoryStatus) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusServerUnavailable:
		return "ServerUnavailable"
	case StatusLockAlreadyHeld:
		return "LockAlreadyHeld"
	case StatusRevisionRequired:
		return "RevisionRequired"
	case StatusCodeUnavailable:
		return "CodeUnavailable"
	case StatusCodeNotReserved:
		return "CodeNotReserved"
	case StatusInvalidRequest:
		return "InvalidRequest"
	default:
		return fmt.Sprintf("RepositoryStatus(%d)", int(s))
	}
}

// Response carries the status of a lock or code request and, for failures,
// the conflicting entries the caller asked for.
type Response struct {
	Status RepositoryStatus
	Locks  []LockState
	Codes  []CodeInfo
}

// CodeLockSet accumulates query results. It is safe for concurrent use.
type CodeLockSet struct {
	mu    sync.Mutex
	locks []LockState
	codes []CodeInfo
}

func (s *CodeLockSet) AddLock(l LockState) {
	s.mu.Lock()
	s.locks = append(s.locks, l)
	s.mu.Unlock()
}

func (s *CodeLockSet) AddCode(c CodeInfo) {
	s.mu.Lock()
	s.codes = append(s.codes, c)
	s.mu.Unlock()
}

func (s *CodeLockSet) Locks() []LockState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LockState(nil), s.locks...)
}

func (s *CodeLockSet) Codes() []CodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CodeInfo(nil), s.codes...)
}
