package resources

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/zeusync/hubsync/internal/core/hub"
)

// Sentinel instance ids that release everything a briefcase holds.
const (
	deleteAllLocks       = "DeleteAllLocks"
	discardReservedCodes = "DiscardReservedCodes"
)

// Request custom options understood by the service.
const (
	optionDetailedLocks = "DetailedError_Locks"
	optionDetailedCodes = "DetailedError_Codes"
	optionMaxInstances  = "SetMaximumInstances"
	lockBucketsPerType  = 3
	lockBuckets         = 4 * lockBucketsPerType
	multiLockInstanceID = "MultiLock"
	multiCodeInstanceID = "MultiCode"
)

// owner identifies who a batch is issued for.
type owner struct {
	briefcaseID  int
	masterFileID string
}

type lockBatch struct {
	owner
	releasedWithChangeSet string
	onlyExclusive         bool
	queryOnly             bool
}

// addLocks groups locks into one MultiLock instance per type and level.
func addLocks(cs *hub.Changeset, state hub.ChangeState, locks []Lock, b lockBatch) {
	var buckets [lockBuckets][]string
	for _, l := range locks {
		if b.onlyExclusive && l.Level != LockExclusive {
			continue
		}
		idx := int(l.Type)*lockBucketsPerType + int(l.Level)
		if idx < 0 || idx >= lockBuckets {
			continue
		}
		buckets[idx] = append(buckets[idx], strconv.FormatUint(l.ObjectID, 10))
	}

	for idx, ids := range buckets {
		if len(ids) == 0 {
			continue
		}
		cs.Add(hub.NewObjectID(hub.ClassMultiLock, multiLockInstanceID), state, map[string]any{
			"BriefcaseId":           b.briefcaseID,
			"MasterFileId":          b.masterFileID,
			"ReleasedWithChangeSet": b.releasedWithChangeSet,
			"QueryOnly":             b.queryOnly,
			"LockType":              idx / lockBucketsPerType,
			"LockLevel":             idx % lockBucketsPerType,
			"ObjectIds":             ids,
		})
	}
}

type codeBatch struct {
	briefcaseID int
	codeState   CodeState
	changeSetID string
	queryOnly   bool
}

type codeGroupKey struct {
	specID uint64
	scope  string
}

// addCodes groups codes into one MultiCode instance per spec and scope.
func addCodes(cs *hub.Changeset, state hub.ChangeState, codes []Code, b codeBatch) {
	groups := make(map[codeGroupKey][]string)
	var order []codeGroupKey
	for _, c := range codes {
		key := codeGroupKey{specID: c.SpecID, scope: c.Scope}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c.Value)
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].specID != order[j].specID {
			return order[i].specID < order[j].specID
		}
		return order[i].scope < order[j].scope
	})

	for _, key := range order {
		props := map[string]any{
			"CodeSpecId":  strconv.FormatUint(key.specID, 10),
			"CodeScope":   key.scope,
			"Values":      groups[key],
			"State":       int(b.codeState),
			"BriefcaseId": b.briefcaseID,
			"QueryOnly":   b.queryOnly,
		}
		if b.changeSetID != "" {
			props["ChangeSetId"] = b.changeSetID
		}
		cs.Add(hub.NewObjectID(hub.ClassMultiCode, multiCodeInstanceID), state, props)
	}
}

// addRelinquish appends the sentinels that drop every lock and reserved
// code held by briefcaseID.
func addRelinquish(cs *hub.Changeset, briefcaseID int) {
	cs.Add(hub.NewObjectID(hub.ClassLock, fmt.Sprintf("%s-%d", deleteAllLocks, briefcaseID)), hub.Deleted, map[string]any{})
	cs.Add(hub.NewObjectID(hub.ClassCode, fmt.Sprintf("%s-%d", discardReservedCodes, briefcaseID)), hub.Deleted, map[string]any{})
}

// applyResponseOptions turns off detail the caller did not ask for.
func applyResponseOptions(cs *hub.Changeset, opts ResponseOptions) {
	if opts.Has(ResponseUnlimited) {
		cs.Options.SetCustom(optionMaxInstances, "-1")
	}
	if !opts.Has(ResponseLockState) {
		cs.Options.SetCustom(optionDetailedLocks, "false")
	}
	if !opts.Has(ResponseCodeState) {
		cs.Options.SetCustom(optionDetailedCodes, "false")
	}
}

func lockServerID(l Lock, briefcaseID int) string {
	if briefcaseID > 0 {
		return fmt.Sprintf("%d-%d-%d", int(l.Type), l.ObjectID, briefcaseID)
	}
	return fmt.Sprintf("%d-%d", int(l.Type), l.ObjectID)
}

func lockFromInstance(inst hub.Instance) (LockState, bool) {
	id, err := strconv.ParseUint(inst.String("ObjectId"), 10, 64)
	if err != nil {
		return LockState{}, false
	}
	return LockState{
		Lock: Lock{
			Type:     LockableType(inst.Int64("LockType")),
			ObjectID: id,
			Level:    LockLevel(inst.Int64("LockLevel")),
		},
		BriefcaseID:           int(inst.Int64("BriefcaseId")),
		ReleasedWithChangeSet: inst.String("ReleasedWithChangeSet"),
	}, true
}

func multiLockFromInstance(inst hub.Instance) []LockState {
	base := LockState{
		Lock: Lock{
			Type:  LockableType(inst.Int64("LockType")),
			Level: LockLevel(inst.Int64("LockLevel")),
		},
		BriefcaseID:           int(inst.Int64("BriefcaseId")),
		ReleasedWithChangeSet: inst.String("ReleasedWithChangeSet"),
	}
	var out []LockState
	for _, raw := range inst.Strings("ObjectIds") {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			continue
		}
		l := base
		l.ObjectID = id
		out = append(out, l)
	}
	return out
}

func codeFromInstance(inst hub.Instance) (CodeInfo, bool) {
	spec, err := strconv.ParseUint(inst.String("CodeSpecId"), 10, 64)
	if err != nil {
		return CodeInfo{}, false
	}
	return CodeInfo{
		Code:        Code{SpecID: spec, Scope: inst.String("CodeScope"), Value: inst.String("Value")},
		State:       CodeState(inst.Int64("State")),
		BriefcaseID: int(inst.Int64("BriefcaseId")),
		ChangeSetID: inst.String("ChangeSetId"),
	}, true
}

func multiCodeFromInstance(inst hub.Instance) []CodeInfo {
	spec, err := strconv.ParseUint(inst.String("CodeSpecId"), 10, 64)
	if err != nil {
		return nil
	}
	var out []CodeInfo
	for _, v := range inst.Strings("Values") {
		out = append(out, CodeInfo{
			Code:        Code{SpecID: spec, Scope: inst.String("CodeScope"), Value: v},
			State:       CodeState(inst.Int64("State")),
			BriefcaseID: int(inst.Int64("BriefcaseId")),
			ChangeSetID: inst.String("ChangeSetId"),
		})
	}
	return out
}
