package session

import (
	"fmt"
	"sync"
	"time"

	"restaurant-ivr/internal/calllog"
	"restaurant-ivr/internal/restaurants"
	"restaurant-ivr/internal/tools"
)

// State is the lifecycle state of one call session.
type State string

const (
	StateInitiated       State = "INITIATED"
	StateConfigResolved  State = "CONFIG_RESOLVED"
	StateAIActive        State = "AI_ACTIVE"
	StateForwarding      State = "FORWARDING"
	StateForwarded       State = "FORWARDED"
	StateEndedByTool     State = "ENDED_BY_TOOL"
	StateEndedByCaller   State = "ENDED_BY_CALLER"
	StateErrorTerminated State = "ERROR_TERMINATED"
)

// allowedTransitions is the complete transition relation. Anything not
// listed is a programming error, not a recoverable condition.
var allowedTransitions = map[State][]State{
	StateInitiated:      {StateConfigResolved, StateErrorTerminated},
	StateConfigResolved: {StateAIActive, StateForwarding, StateForwarded, StateEndedByCaller, StateErrorTerminated},
	StateAIActive:       {StateForwarding, StateEndedByTool, StateEndedByCaller, StateErrorTerminated},
	StateForwarding:     {StateForwarded, StateErrorTerminated},
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}

// HandledBy classifies the call outcome for reporting.
type HandledBy string

const (
	// HandledAI: the AI session was active and the call ended normally
	// (agent hangup or caller hangup).
	HandledAI HandledBy = "ai"
	// HandledForwarded: the caller reached a staffed line.
	HandledForwarded HandledBy = "forwarded"
	// HandledUnhandled: the caller got neither.
	HandledUnhandled HandledBy = "unhandled"
)

// CallSession is the live state of one inbound call. The config snapshot is
// taken once at resolution time and never refreshed mid-call.
//
// Identity fields are written once before the session is shared across
// goroutines; everything mutable is guarded by mu.
type CallSession struct {
	ID      string
	CallSID string
	From    string

	mu          sync.Mutex
	state       State
	config      restaurants.RestaurantConfig
	streamSID   string
	startedAt   time.Time
	endedAt     time.Time
	forwardedTo string
	errReason   string
	terminating bool
	slotHeld    bool
	finalized   bool
	transcript  []calllog.Turn
	toolLog     []tools.Invocation
}

func newCallSession(id, callSID, from string, now time.Time) *CallSession {
	return &CallSession{
		ID:        id,
		CallSID:   callSID,
		From:      from,
		state:     StateInitiated,
		startedAt: now,
	}
}

func (s *CallSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TransitionTo moves the session to the next state, enforcing the
// transition relation. Terminal states are sticky.
func (s *CallSession) TransitionTo(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, allowed := range allowedTransitions[s.state] {
		if allowed == next {
			s.state = next
			return nil
		}
	}
	return fmt.Errorf("session: illegal transition %s -> %s for call %s", s.state, next, s.CallSID)
}

// SetConfig stores the immutable per-call config snapshot.
func (s *CallSession) SetConfig(cfg restaurants.RestaurantConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
}

func (s *CallSession) Config() restaurants.RestaurantConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

func (s *CallSession) RestaurantID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.ID
}

// ClaimStream attaches a media stream to the session. Exactly one stream
// may claim a session, and only while the call is waiting for its stream.
func (s *CallSession) ClaimStream(sid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConfigResolved || s.streamSID != "" {
		return false
	}
	s.streamSID = sid
	return true
}

func (s *CallSession) StreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

func (s *CallSession) SetForwardedTo(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwardedTo = target
}

func (s *CallSession) SetError(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errReason == "" {
		s.errReason = reason
	}
}

func (s *CallSession) ErrorReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errReason
}

// MarkTerminating flags that call teardown has begun. Returns false if it
// was already flagged, which makes repeated end_call tool calls no-ops.
func (s *CallSession) MarkTerminating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminating {
		return false
	}
	s.terminating = true
	return true
}

func (s *CallSession) Terminating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminating
}

func (s *CallSession) markSlotHeld() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slotHeld = true
}

// takeSlot consumes the held slot, if any. Returns true exactly once.
func (s *CallSession) takeSlot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.slotHeld
	s.slotHeld = false
	return held
}

// markFinalized returns true for the first caller only.
func (s *CallSession) markFinalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return false
	}
	s.finalized = true
	return true
}

func (s *CallSession) AppendTurn(role calllog.Role, text string, at time.Time) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, calllog.Turn{Role: role, Text: text, At: at})
}

// AppendInvocation records one tool invocation. The log is append-only.
func (s *CallSession) AppendInvocation(inv tools.Invocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolLog = append(s.toolLog, inv)
}

func (s *CallSession) finish(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endedAt.IsZero() {
		s.endedAt = now
	}
}

// Outcome classifies the finished call. Forwarded wins over everything;
// a normal AI ending (tool or caller hangup) counts as handled by AI; any
// error termination leaves the caller unhandled.
func (s *CallSession) Outcome() HandledBy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcomeLocked()
}

func (s *CallSession) outcomeLocked() HandledBy {
	switch s.state {
	case StateForwarded:
		return HandledForwarded
	case StateEndedByTool, StateEndedByCaller:
		return HandledAI
	default:
		return HandledUnhandled
	}
}

// Summary snapshots the session for the call log.
func (s *CallSession) Summary() calllog.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	transcript := make([]calllog.Turn, len(s.transcript))
	copy(transcript, s.transcript)
	toolLog := make([]tools.Invocation, len(s.toolLog))
	copy(toolLog, s.toolLog)

	return calllog.Summary{
		CallSID:      s.CallSID,
		RestaurantID: s.config.ID,
		From:         s.From,
		StartedAt:    s.startedAt,
		EndedAt:      s.endedAt,
		FinalState:   string(s.state),
		HandledBy:    string(s.outcomeLocked()),
		ForwardedTo:  s.forwardedTo,
		Transcript:   transcript,
		Tools:        toolLog,
		Error:        s.errReason,
	}
}
