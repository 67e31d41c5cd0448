package types

// Frame is one message pushed to a live listener, over SSE or WebSocket.
//
// SSE encoding:
//
//	id: <ID>
//	event: <Event>
//	data: <Data>
//
// Reconnecting clients send the last ID they saw as Last-Event-ID. Gateway
// frames (state, hint, error) and event-log frames use separate id spaces:
// gateway ids look like "msg-<n>", log ids like "turn-<t>-log-<k>".
type Frame struct {
	ID    string `json:"id"`
	Event string `json:"event"`
	Data  string `json:"data"`
}

const (
	EventStateDelta  = "state.delta"
	EventStateFinal  = "state.final"
	EventSystemError = "system.error"
	EventRuleHint    = "rule.hint"
	EventLog         = "event.log"
)
