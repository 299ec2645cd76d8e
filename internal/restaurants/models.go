package restaurants

import "time"

// RestaurantConfig is the per-call immutable tenant snapshot.
//
// It is fetched once when a call arrives and never refreshed mid-call, so an
// admin edit (for example disabling AI handling) applies to the next call
// only. Every in-flight call's behavior is reproducible from its snapshot.
type RestaurantConfig struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	// Address is read by the get_address tool.
	Address string `json:"address,omitempty" db:"address"`

	// InboundNumber is the provisioned E.164 number callers dial; inbound
	// calls are resolved to a restaurant by this number.
	InboundNumber string `json:"inbound_number" db:"inbound_number"`

	// ForwardingNumber is the restaurant's own staffed line, used as the
	// forwarding target when a call cannot or should not be handled by the
	// agent. May be empty, in which case forwarding is unavailable.
	ForwardingNumber string `json:"forwarding_number,omitempty" db:"forwarding_number"`

	// Timezone is an IANA zone name; call hours are evaluated in it.
	Timezone string `json:"timezone" db:"timezone"`

	AIEnabled bool `json:"ai_enabled" db:"ai_enabled"`

	// CallHoursStart/End are local times formatted "15:04". An end before
	// the start denotes an overnight window (e.g. 18:00-02:00).
	CallHoursStart string `json:"call_hours_start" db:"call_hours_start"`
	CallHoursEnd   string `json:"call_hours_end" db:"call_hours_end"`

	// AgentID and VoiceID identify the conversational agent configuration.
	AgentID string `json:"agent_id" db:"agent_id"`
	VoiceID string `json:"voice_id,omitempty" db:"voice_id"`

	// EnabledTools is the set of tool names the agent may invoke for this
	// restaurant. Enforced server-side by the tool dispatcher.
	EnabledTools []string `json:"enabled_tools" db:"enabled_tools"`

	// KnowledgeRefs are opaque knowledge-base document ids attached to the
	// agent session.
	KnowledgeRefs []string `json:"knowledge_refs,omitempty" db:"knowledge_refs"`

	// Greeting is the agent's first message template, if configured.
	Greeting string `json:"greeting,omitempty" db:"greeting"`
}

// ToolEnabled reports whether the named tool is in the enabled set.
func (c RestaurantConfig) ToolEnabled(name string) bool {
	for _, t := range c.EnabledTools {
		if t == name {
			return true
		}
	}
	return false
}

// Resolution is the resolver output: the snapshot plus call-hours evaluation
// at resolve time. WithinCallHours is computed once so the orchestrator's
// decision does not depend on when it happens to read the clock.
type Resolution struct {
	Config RestaurantConfig

	WithinCallHours bool
	ResolvedAt      time.Time
}
