package events

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// EventType names a push notification the service emits.
type EventType string

const (
	LockEvent              EventType = "LockEvent"
	AllLocksDeletedEvent   EventType = "AllLocksDeletedEvent"
	ChangeSetPostPushEvent EventType = "ChangeSetPostPushEvent"
	ChangeSetPrePushEvent  EventType = "ChangeSetPrePushEvent"
	CodeEvent              EventType = "CodeEvent"
	AllCodesDeletedEvent   EventType = "AllCodesDeletedEvent"
	BriefcaseDeletedEvent  EventType = "BriefcaseDeletedEvent"
	IModelDeletedEvent     EventType = "iModelDeletedEvent"
	VersionEvent           EventType = "VersionEvent"
)

var knownTypes = map[EventType]struct{}{
	LockEvent:              {},
	AllLocksDeletedEvent:   {},
	ChangeSetPostPushEvent: {},
	ChangeSetPrePushEvent:  {},
	CodeEvent:              {},
	AllCodesDeletedEvent:   {},
	BriefcaseDeletedEvent:  {},
	IModelDeletedEvent:     {},
	VersionEvent:           {},
}

func (t EventType) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

var ErrUnknownEvent = errors.New("unknown event type")

// Event is one decoded push notification.
type Event struct {
	Type           EventType
	BriefcaseID    int
	ChangeSetID    string
	ChangeSetIndex int64
	VersionID      string
	Date           time.Time
	// Raw keeps the full body for event kinds with extra payload such as
	// lock and code details.
	Raw json.RawMessage
}

type eventBody struct {
	EventType      EventType   `json:"EventType"`
	BriefcaseID    int         `json:"BriefcaseId"`
	ChangeSetID    string      `json:"ChangeSetId"`
	ChangeSetIndex json.Number `json:"ChangeSetIndex"`
	VersionID      string      `json:"VersionId"`
	Date           string      `json:"Date"`
}

// Parse decodes a message. The event type comes from the content type when
// it names a known event and from the body otherwise.
func Parse(contentType string, body []byte) (Event, error) {
	var b eventBody
	if len(body) > 0 {
		if err := json.Unmarshal(body, &b); err != nil {
			return Event{}, err
		}
	}

	typ := EventType(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if !typ.Known() {
		typ = b.EventType
	}
	if !typ.Known() {
		return Event{}, ErrUnknownEvent
	}

	evt := Event{
		Type:        typ,
		BriefcaseID: b.BriefcaseID,
		ChangeSetID: b.ChangeSetID,
		VersionID:   b.VersionID,
		Raw:         append(json.RawMessage(nil), body...),
	}
	if b.ChangeSetIndex != "" {
		evt.ChangeSetIndex, _ = b.ChangeSetIndex.Int64()
	}
	if b.Date != "" {
		evt.Date, _ = time.Parse(time.RFC3339Nano, b.Date)
	}
	return evt, nil
}
