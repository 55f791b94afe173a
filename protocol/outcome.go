// File: protocol/outcome.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outcome is the single result of processing one inbound frame: an optional
// response frame plus the connection-lifecycle directive the dispatch engine
// must apply.

package protocol

// Action tells the dispatch engine what to do after a frame was processed.
type Action int

const (
	// ActionSilent keeps the connection open and sends nothing.
	ActionSilent Action = iota
	// ActionRespond sends Frame and keeps the connection open.
	ActionRespond
	// ActionRespondAndClose sends Frame, then closes the connection.
	ActionRespondAndClose
	// ActionCloseSilently closes the connection without sending anything.
	ActionCloseSilently
)

func (a Action) String() string {
	switch a {
	case ActionSilent:
		return "silent"
	case ActionRespond:
		return "respond"
	case ActionRespondAndClose:
		return "respond-and-close"
	case ActionCloseSilently:
		return "close-silently"
	default:
		return "unknown"
	}
}

// Outcome is a tagged processing result.
type Outcome struct {
	Action Action
	Frame  *Frame
}

// Silent returns an outcome with no response.
func Silent() Outcome {
	return Outcome{Action: ActionSilent}
}

// Respond returns an outcome that transmits f and keeps the connection.
// A nil frame degrades to Silent.
func Respond(f *Frame) Outcome {
	if f == nil {
		return Silent()
	}
	return Outcome{Action: ActionRespond, Frame: f}
}

// RespondAndClose returns an outcome that transmits f and then closes.
func RespondAndClose(f *Frame) Outcome {
	return Outcome{Action: ActionRespondAndClose, Frame: f}
}

// CloseSilently returns an outcome that closes without a response.
func CloseSilently() Outcome {
	return Outcome{Action: ActionCloseSilently}
}

// Closes reports whether the connection must be torn down.
func (o Outcome) Closes() bool {
	return o.Action == ActionRespondAndClose || o.Action == ActionCloseSilently
}
