package hub

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const DefaultSchema = "iModelScope"

// Instance classes used by the sync client.
const (
	ClassChangeSet         = "ChangeSet"
	ClassVersion           = "Version"
	ClassLock              = "Lock"
	ClassMultiLock         = "MultiLock"
	ClassCode              = "Code"
	ClassMultiCode         = "MultiCode"
	ClassEventSubscription = "EventSubscription"
	ClassEventSAS          = "EventSAS"
	ClassFileAccessKey     = "AccessKey"
	ClassUserInfo          = "UserInfo"
)

type ObjectID struct {
	Schema string
	Class  string
	ID     string
}

func NewObjectID(class, id string) ObjectID {
	return ObjectID{Schema: DefaultSchema, Class: class, ID: id}
}

func (o ObjectID) String() string {
	if o.ID == "" {
		return o.Schema + "." + o.Class
	}
	return o.Schema + "." + o.Class + "/" + o.ID
}

// Instance is one object returned by the service.
type Instance struct {
	ObjectID   ObjectID
	Properties map[string]any
	Related    []Instance
}

func (i Instance) String(key string) string {
	return scalarString(i.Properties[key])
}

// scalarString formats decoded JSON numbers without exponents so large ids
// survive a round trip through float64.
func scalarString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func (i Instance) Int64(key string) int64 {
	switch v := i.Properties[key].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

func (i Instance) Bool(key string) bool {
	switch v := i.Properties[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

func (i Instance) Time(key string) time.Time {
	switch v := i.Properties[key].(type) {
	case time.Time:
		return v
	case string:
		t, _ := time.Parse(time.RFC3339Nano, v)
		return t
	default:
		return time.Time{}
	}
}

func (i Instance) Strings(key string) []string {
	switch v := i.Properties[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, scalarString(item))
		}
		return out
	default:
		return nil
	}
}

// RelatedOf returns the first related instance of class.
func (i Instance) RelatedOf(class string) (Instance, bool) {
	for _, r := range i.Related {
		if r.ObjectID.Class == class {
			return r, true
		}
	}
	return Instance{}, false
}

// Query selects instances of a class. IDs and Filter combine with AND.
type Query struct {
	Schema string
	Class  string
	IDs    []string
	Filter string
	Select string
	// Related asks the service to embed related instances of these classes.
	Related []string
	Top     int
}

func NewQuery(class string) Query {
	return Query{Schema: DefaultSchema, Class: class}
}

type ChangeState int

const (
	Existing ChangeState = iota
	Created
	Modified
	Deleted
)

func (s ChangeState) String() string {
	switch s {
	case Created:
		return "new"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "existing"
	}
}

type ChangedInstance struct {
	ObjectID   ObjectID
	State      ChangeState
	Properties map[string]any
}

// Response content selectors
const (
	ResponseFullInstance = "FullInstance"
	ResponseEmpty        = "Empty"
)

type RequestOptions struct {
	ResponseContent string
	Custom          map[string]string
}

func (o *RequestOptions) SetCustom(key, value string) {
	if o.Custom == nil {
		o.Custom = make(map[string]string)
	}
	o.Custom[key] = value
}

// Changeset is a batch of instance changes sent in one request.
type Changeset struct {
	Instances []ChangedInstance
	Options   RequestOptions
}

func (c *Changeset) Add(id ObjectID, state ChangeState, properties map[string]any) {
	c.Instances = append(c.Instances, ChangedInstance{ObjectID: id, State: state, Properties: properties})
}

func (c *Changeset) IsEmpty() bool {
	return len(c.Instances) == 0
}

// ChangesetResponse holds the instances after change in request order.
type ChangesetResponse struct {
	Instances []Instance
}

// ProgressFunc reports transferred and total bytes.
type ProgressFunc func(transferred, total int64)
