package websocket

import (
	"strings"
	"time"
)

// Action is the kind of a session step.
type Action int

const (
	ActionUnknown Action = iota
	ActionSend
	ActionSendJSON
	ActionSendBinary
	ActionReceive
	ActionReceiveJSON
	ActionPing
	ActionPong
	ActionWait
)

var actionNames = map[Action]string{
	ActionSend:        "send",
	ActionSendJSON:    "send_json",
	ActionSendBinary:  "send_binary",
	ActionReceive:     "receive",
	ActionReceiveJSON: "receive_json",
	ActionPing:        "ping",
	ActionPong:        "pong",
	ActionWait:        "wait",
}

// ParseAction maps an action name to an Action. Unrecognized names map to
// ActionUnknown.
func ParseAction(s string) Action {
	name := strings.ToLower(strings.TrimSpace(s))
	for a, n := range actionNames {
		if n == name {
			return a
		}
	}
	return ActionUnknown
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return "unknown"
}

// MarshalText renders the action name.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

const (
	DefaultReceiveTimeout = 10 * time.Second
	DefaultWait           = time.Second
	DefaultConnectTimeout = 30 * time.Second
)

// Step is one entry of a session's message list.
type Step struct {
	Action Action
	// Name is the action as written in the definition; it names unknown
	// actions in error messages.
	Name     string
	Data     any
	Timeout  time.Duration // receive timeout or wait duration; zero uses the default
	Expected any
}

// NewStep builds a step from a raw action name.
func NewStep(action string, data any, timeout time.Duration, expected any) Step {
	return Step{Action: ParseAction(action), Name: action, Data: data, Timeout: timeout, Expected: expected}
}

func (s Step) label() string {
	if s.Action == ActionUnknown && s.Name != "" {
		return s.Name
	}
	return s.Action.String()
}
