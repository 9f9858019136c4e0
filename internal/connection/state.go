package connection

import "fmt"

// State is a step of the session state machine. Terminal is absorbing.
type State int32

const (
	Idle State = iota
	Scanning
	Found
	Connecting
	Subscribed
	Ready
	Streaming
	Terminal
)

var stateNames = [...]string{
	Idle:       "idle",
	Scanning:   "scanning",
	Found:      "found",
	Connecting: "connecting",
	Subscribed: "subscribed",
	Ready:      "ready",
	Streaming:  "streaming",
	Terminal:   "terminal",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int32(s))
	}
	return stateNames[s]
}

// transitions lists the forward edges; every state may also move to Terminal.
var transitions = map[State][]State{
	Idle:       {Scanning, Found, Connecting},
	Scanning:   {Found},
	Found:      {Connecting},
	Connecting: {Subscribed},
	Subscribed: {Ready},
	Ready:      {Streaming},
}

func canTransition(from, to State) bool {
	if from == Terminal {
		return false
	}
	if to == Terminal {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError reports a state change the machine does not allow.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid connection state transition %s -> %s", e.From, e.To)
}
