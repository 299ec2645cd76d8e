package calllog

import (
	"time"

	"restaurant-ivr/internal/tools"
)

// Role identifies who produced a transcript turn.
type Role string

const (
	RoleCaller Role = "caller"
	RoleAgent  Role = "agent"
)

// Turn is one utterance in the call transcript.
type Turn struct {
	Role Role      `json:"role" db:"role"`
	Text string    `json:"text" db:"text"`
	At   time.Time `json:"at" db:"at"`
}

// Summary is the immutable record of one finished call.
//
// Invariants:
// - Written exactly once per call, keyed by the provider call id; the store
//   upserts so delivery retries stay idempotent.
// - Never updated after a successful write.
type Summary struct {
	CallSID      string `json:"call_sid" db:"call_sid"`
	RestaurantID string `json:"restaurant_id" db:"restaurant_id"`
	From         string `json:"from_number,omitempty" db:"from_number"`

	StartedAt time.Time `json:"started_at" db:"started_at"`
	EndedAt   time.Time `json:"ended_at" db:"ended_at"`

	// FinalState is the terminal lifecycle state the call ended in.
	FinalState string `json:"final_state" db:"final_state"`
	// HandledBy classifies the outcome: ai, forwarded or unhandled.
	HandledBy string `json:"handled_by" db:"handled_by"`
	// ForwardedTo is set when the call left the AI for a staffed line.
	ForwardedTo string `json:"forwarded_to,omitempty" db:"forwarded_to"`

	Transcript []Turn             `json:"transcript,omitempty"`
	Tools      []tools.Invocation `json:"tools,omitempty"`

	// Error describes why the call terminated abnormally, if it did.
	Error string `json:"error,omitempty" db:"error"`
}
