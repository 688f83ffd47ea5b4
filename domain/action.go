package domain

// ActionKind enumerates the closed set of action variants.
type ActionKind string

const (
	ActionSetFact      ActionKind = "set_fact"
	ActionDeleteFact   ActionKind = "delete_fact"
	ActionEmitEvent    ActionKind = "emit_event"
	ActionSetTimer     ActionKind = "set_timer"
	ActionCancelTimer  ActionKind = "cancel_timer"
	ActionCallService  ActionKind = "call_service"
	ActionLog          ActionKind = "log"
	ActionConditional  ActionKind = "conditional"
	ActionForEach      ActionKind = "for_each"
	ActionTryCatch     ActionKind = "try_catch"
)

// Valid reports whether k is one of the recognized action kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionSetFact, ActionDeleteFact, ActionEmitEvent, ActionSetTimer,
		ActionCancelTimer, ActionCallService, ActionLog, ActionConditional,
		ActionForEach, ActionTryCatch:
		return true
	default:
		return false
	}
}

// Action is a tagged union over all action kinds. Only the fields relevant
// to Kind are populated; dynamic-substitution fields (Key, Value, Topic,
// Data, Duration, Message, Args) may contain "${...}" interpolation or
// {"ref": "..."} whole-value references, resolved at execution time.
type Action struct {
	Kind ActionKind `json:"kind"`

	// set_fact / delete_fact
	Key   string      `json:"key,omitempty"`
	Value interface{} `json:"value,omitempty"`

	// emit_event
	Topic string                 `json:"topic,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`

	// set_timer / cancel_timer
	Name     string       `json:"name,omitempty"`
	Duration string       `json:"duration,omitempty"`
	Repeat   *TimerRepeat `json:"repeat,omitempty"`
	OnExpire *TimerExpire `json:"onExpire,omitempty"`

	// call_service
	Service string        `json:"service,omitempty"`
	Method  string        `json:"method,omitempty"`
	Args    []interface{} `json:"args,omitempty"`

	// log
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`

	// conditional
	Conditions []Condition `json:"conditions,omitempty"`
	Then       []Action    `json:"then,omitempty"`
	Else       []Action    `json:"else,omitempty"`

	// for_each
	Collection interface{} `json:"collection,omitempty"` // literal seq or {"ref": "..."}
	// CollectionFilter, if set, is a JSONPath expression (e.g.
	// "$.items[?(@.active==true)]") applied to the resolved Collection
	// value, for sources that need filter/wildcard selection beyond what
	// Collection's dotted ref path alone can express.
	CollectionFilter string   `json:"collectionFilter,omitempty"`
	As               string   `json:"as,omitempty"`
	MaxIterations    int      `json:"maxIterations,omitempty"`
	ForEachBody      []Action `json:"actions,omitempty"`

	// try_catch
	Try     []Action     `json:"try,omitempty"`
	Catch   *CatchClause `json:"catch,omitempty"`
	Finally []Action     `json:"finally,omitempty"`
}

// CatchClause binds a caught error to an optional variable name and runs a
// nested action list.
type CatchClause struct {
	As      string   `json:"as,omitempty"`
	Actions []Action `json:"actions"`
}
