package tools

import "time"

// Tool name constants. The enabled set in RestaurantConfig refers to these.
const (
	NameEndCall     = "end_call"
	NameGetAddress  = "get_address"
	NameForwardCall = "forward_call"
)

// Status is the outcome classification of one tool invocation.
type Status string

const (
	StatusExecuted Status = "executed"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Invocation is one agent-initiated tool call. It is an append-only log
// entry: once dispatch completes and the record is appended to the call's
// tool log it is never mutated.
type Invocation struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	InvokedAt  time.Time      `json:"invoked_at"`

	Status Status `json:"status"`
	// Result is the payload reported back to the agent (an address, a
	// rejection reason, an error description).
	Result string `json:"result,omitempty"`
}

// Signal tells the orchestrator what a successful tool execution requires of
// the call lifecycle. SignalNone covers pure reads.
type Signal string

const (
	SignalNone    Signal = ""
	SignalEndCall Signal = "end_call"
	SignalForward Signal = "forward_call"
)

// Result is the outcome of executing one tool.
type Result struct {
	Status Status
	// Payload is relayed to the agent verbatim.
	Payload string
	// Signal requests a lifecycle action from the orchestrator.
	Signal Signal
}
