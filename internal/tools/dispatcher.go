package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"restaurant-ivr/internal/restaurants"
)

// CallContext is what a tool may see and touch during execution. Tools never
// mutate the call session directly; lifecycle effects travel back to the
// orchestrator as Result.Signal.
type CallContext struct {
	CallID string
	Config restaurants.RestaurantConfig

	// Terminating reports whether call termination is already in progress,
	// so end_call can be a no-op instead of an error on repeats.
	Terminating func() bool
}

// Tool is one executable capability exposed to the conversational agent.
type Tool interface {
	Name() string
	Execute(ctx context.Context, call CallContext, params map[string]any) Result
}

// Dispatcher routes agent tool calls to registered tools, enforcing the
// per-restaurant enabled set before execution. Authorization is enforced
// here, not trusted from the agent.
type Dispatcher struct {
	tools map[string]Tool
	now   func() time.Time
}

func NewDispatcher(registered ...Tool) *Dispatcher {
	d := &Dispatcher{tools: make(map[string]Tool, len(registered)), now: time.Now}
	for _, t := range registered {
		d.tools[t.Name()] = t
	}
	return d
}

// Defaults returns a dispatcher with the built-in tool set.
func Defaults() *Dispatcher {
	return NewDispatcher(EndCallTool{}, GetAddressTool{}, ForwardCallTool{})
}

// Dispatch executes one tool call and returns the completed, append-ready
// invocation record plus the lifecycle signal (if any). Every invocation is
// recorded regardless of outcome; callers append the record unconditionally.
func (d *Dispatcher) Dispatch(ctx context.Context, call CallContext, id, name string, params map[string]any) (Invocation, Signal) {
	inv := Invocation{
		ID:         id,
		Name:       name,
		Parameters: params,
		InvokedAt:  d.now().UTC(),
	}

	name = strings.TrimSpace(name)
	if !call.Config.ToolEnabled(name) {
		inv.Status = StatusRejected
		inv.Result = "tool disabled for this restaurant"
		return inv, SignalNone
	}

	tool, ok := d.tools[name]
	if !ok {
		inv.Status = StatusRejected
		inv.Result = fmt.Sprintf("unknown tool %q", name)
		return inv, SignalNone
	}

	res := tool.Execute(ctx, call, params)
	inv.Status = res.Status
	inv.Result = res.Payload
	if res.Status != StatusExecuted {
		return inv, SignalNone
	}
	return inv, res.Signal
}

// EndCallTool lets the agent hang up cleanly. Idempotent: a second end_call
// while termination is in progress is a no-op, not an error.
type EndCallTool struct{}

func (EndCallTool) Name() string { return NameEndCall }

func (EndCallTool) Execute(ctx context.Context, call CallContext, params map[string]any) Result {
	if call.Terminating != nil && call.Terminating() {
		return Result{Status: StatusExecuted, Payload: "call termination already in progress", Signal: SignalNone}
	}
	return Result{Status: StatusExecuted, Payload: "ending the call", Signal: SignalEndCall}
}

// GetAddressTool reads the restaurant address from the config snapshot.
type GetAddressTool struct{}

func (GetAddressTool) Name() string { return NameGetAddress }

func (GetAddressTool) Execute(ctx context.Context, call CallContext, params map[string]any) Result {
	addr := strings.TrimSpace(call.Config.Address)
	if addr == "" {
		return Result{Status: StatusRejected, Payload: "this restaurant has not set up their address information"}
	}
	return Result{Status: StatusExecuted, Payload: addr}
}

// ForwardCallTool hands the caller to the restaurant's staffed line. The
// agent must be told when forwarding is unavailable rather than the call
// silently failing.
type ForwardCallTool struct{}

func (ForwardCallTool) Name() string { return NameForwardCall }

func (ForwardCallTool) Execute(ctx context.Context, call CallContext, params map[string]any) Result {
	if strings.TrimSpace(call.Config.ForwardingNumber) == "" {
		return Result{Status: StatusRejected, Payload: "no forwarding number is configured for this restaurant"}
	}
	return Result{
		Status:  StatusExecuted,
		Payload: "forwarding the call to " + call.Config.ForwardingNumber,
		Signal:  SignalForward,
	}
}
