package convai

// Event is a typed event read from the conversational session.
//
// Events are delivered in arrival order on Session.Events(). Per-type order
// is preserved; no ordering is guaranteed across types.
type Event interface {
	eventType() string
}

// AgentAudioEvent carries one chunk of agent speech (16-bit LE PCM).
type AgentAudioEvent struct {
	Audio   []byte
	EventID int64
}

func (AgentAudioEvent) eventType() string { return "agent_audio" }

// AgentTextEvent carries the agent's response text for the current turn.
type AgentTextEvent struct {
	Text string
}

func (AgentTextEvent) eventType() string { return "agent_text" }

// UserTranscriptEvent carries the transcription of a caller utterance.
type UserTranscriptEvent struct {
	Text string
}

func (UserTranscriptEvent) eventType() string { return "user_transcript" }

// ToolCallEvent is an agent-initiated tool invocation. The consumer must
// answer via Session.SendToolResult using the same ToolCallID.
type ToolCallEvent struct {
	ToolCallID string
	Name       string
	Parameters map[string]any
}

func (ToolCallEvent) eventType() string { return "tool_call" }

// InterruptionEvent signals caller barge-in detected by the vendor; any
// buffered agent audio should be discarded.
type InterruptionEvent struct {
	EventID int64
}

func (InterruptionEvent) eventType() string { return "interruption" }

// ErrorKind classifies session errors.
type ErrorKind string

const (
	// KindTransportClosed: the websocket dropped mid-call. Not retryable;
	// the orchestrator falls back to forwarding.
	KindTransportClosed ErrorKind = "transport_closed"
	// KindProtocol: the vendor sent a frame we could not decode.
	KindProtocol ErrorKind = "protocol"
	// KindVendor: the vendor reported an in-band error.
	KindVendor ErrorKind = "vendor"
)

// ErrorEvent is terminal: the events channel closes after it is delivered.
type ErrorEvent struct {
	Kind ErrorKind
	Err  error
}

func (ErrorEvent) eventType() string { return "error" }
