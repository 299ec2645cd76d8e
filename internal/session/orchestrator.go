package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"restaurant-ivr/internal/audiobridge"
	"restaurant-ivr/internal/calllog"
	"restaurant-ivr/internal/config"
	"restaurant-ivr/internal/convai"
	"restaurant-ivr/internal/notify"
	"restaurant-ivr/internal/restaurants"
	"restaurant-ivr/internal/telephony"
	"restaurant-ivr/internal/tools"
	"restaurant-ivr/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AgentSession is the subset of the conversational session the orchestrator
// drives. convai.Session satisfies it.
type AgentSession interface {
	Events() <-chan convai.Event
	SendAudio(frame []byte)
	SendToolResult(toolCallID, result string, isError bool) error
	Interrupt()
	Close() error
}

// AgentDialer opens conversational sessions. convai.Client is adapted via
// NewConvAIDialer; tests substitute fakes.
type AgentDialer interface {
	Open(ctx context.Context, req convai.OpenRequest) (AgentSession, error)
}

type convaiDialer struct {
	client *convai.Client
}

func NewConvAIDialer(c *convai.Client) AgentDialer { return convaiDialer{client: c} }

func (d convaiDialer) Open(ctx context.Context, req convai.OpenRequest) (AgentSession, error) {
	s, err := d.client.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// MediaTransport is the subset of the provider media stream the orchestrator
// drives. telephony.MediaStream satisfies it.
type MediaTransport interface {
	ReadEvent() (telephony.StreamEvent, error)
	SendAudio(mulaw []byte) error
	SendClear() error
	Close() error
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Resolver   *restaurants.Resolver
	Dialer     AgentDialer
	Control    telephony.CallControl
	Tokens     *telephony.TokenIssuer
	Dispatcher *tools.Dispatcher
	CallLog    *calllog.Service
	Notifier   notify.Notifier

	// Redis enforces the optional per-restaurant concurrent-call cap.
	// Nil disables the cap.
	Redis *redis.Client

	// StreamURL is the public wss:// endpoint the provider connects its
	// media stream to.
	StreamURL string

	Session config.SessionConfig

	// StreamStartTimeout bounds how long an answered call may wait for its
	// media stream before the session is abandoned. Defaults to the stream
	// token TTL's order of magnitude.
	StreamStartTimeout time.Duration

	Logger *slog.Logger
}

// Orchestrator owns the call lifecycle: it answers the voice webhook,
// adopts the media stream, runs the AI conversation, executes tools and
// tears everything down into a call summary.
type Orchestrator struct {
	resolver   *restaurants.Resolver
	dialer     AgentDialer
	control    telephony.CallControl
	tokens     *telephony.TokenIssuer
	dispatcher *tools.Dispatcher
	logs       *calllog.Service
	notifier   notify.Notifier
	rdb        *redis.Client
	registry   *Registry

	streamURL    string
	cfg          config.SessionConfig
	startTimeout time.Duration
	log          *slog.Logger
	now          func() time.Time
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Resolver == nil:
		return nil, errors.New("session: resolver is required")
	case opts.Dialer == nil:
		return nil, errors.New("session: agent dialer is required")
	case opts.Control == nil:
		return nil, errors.New("session: call control is required")
	case opts.Tokens == nil:
		return nil, errors.New("session: token issuer is required")
	case opts.CallLog == nil:
		return nil, errors.New("session: call log is required")
	case opts.StreamURL == "":
		return nil, errors.New("session: stream url is required")
	}

	if opts.Dispatcher == nil {
		opts.Dispatcher = tools.Defaults()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StreamStartTimeout <= 0 {
		opts.StreamStartTimeout = 2 * time.Minute
	}
	if opts.Session.MaxCallDuration <= 0 {
		opts.Session.MaxCallDuration = 15 * time.Minute
	}
	if opts.Session.ForwardAckTimeout <= 0 {
		opts.Session.ForwardAckTimeout = 10 * time.Second
	}

	return &Orchestrator{
		resolver:     opts.Resolver,
		dialer:       opts.Dialer,
		control:      opts.Control,
		tokens:       opts.Tokens,
		dispatcher:   opts.Dispatcher,
		logs:         opts.CallLog,
		notifier:     opts.Notifier,
		rdb:          opts.Redis,
		registry:     NewRegistry(),
		streamURL:    opts.StreamURL,
		cfg:          opts.Session,
		startTimeout: opts.StreamStartTimeout,
		log:          opts.Logger,
		now:          time.Now,
	}, nil
}

// Registry exposes the live-session registry for observability endpoints.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// StartCall answers the inbound voice webhook: it registers the session,
// resolves the restaurant and decides how the call is answered. The
// returned plan renders to TwiML.
//
// Duplicate webhooks for a live call get ErrSessionExists and a reject
// plan; the first session is untouched.
func (o *Orchestrator) StartCall(ctx context.Context, form telephony.InboundForm) (telephony.AnswerPlan, error) {
	now := o.now().UTC()
	s := newCallSession(uuid.NewString(), form.CallSID, form.From, now)

	if err := o.registry.Insert(s); err != nil {
		return telephony.AnswerPlan{Action: telephony.AnswerActionReject}, err
	}

	log := o.log.With("call_sid", s.CallSID, "session_id", s.ID)

	res, err := o.resolver.Resolve(ctx, form.To)
	if errors.Is(err, restaurants.ErrNotFound) {
		// Not one of ours; nothing to log against a restaurant.
		log.Warn("inbound call for unknown number", "to", form.To)
		o.registry.Remove(s.CallSID)
		return telephony.AnswerPlan{Action: telephony.AnswerActionReject}, nil
	}
	if err != nil {
		o.registry.Remove(s.CallSID)
		return telephony.AnswerPlan{Action: telephony.AnswerActionReject}, err
	}

	cfg := res.Config
	s.SetConfig(cfg)
	if err := s.TransitionTo(StateConfigResolved); err != nil {
		o.registry.Remove(s.CallSID)
		return telephony.AnswerPlan{Action: telephony.AnswerActionReject}, err
	}
	log = log.With("restaurant_id", cfg.ID)

	aiAvailable := cfg.AIEnabled && res.WithinCallHours && cfg.AgentID != ""
	if aiAvailable && !o.acquireSlot(ctx, s, cfg.ID, log) {
		log.Info("concurrent call cap reached, answering without AI")
		aiAvailable = false
	}

	if !aiAvailable {
		return o.answerWithoutAI(s, cfg, log), nil
	}

	token, err := o.tokens.Issue(now, s.CallSID, cfg.ID)
	if err != nil {
		log.Error("stream token issue failed", "error", err)
		o.releaseSlot(s, cfg.ID)
		return o.answerWithoutAI(s, cfg, log), nil
	}

	// If the provider never opens the stream the session must not linger.
	// Only an unclaimed, still-waiting session is abandoned here.
	time.AfterFunc(o.startTimeout, func() {
		cur, ok := o.registry.Get(s.CallSID)
		if !ok || cur != s || s.StreamSID() != "" || s.State() != StateConfigResolved {
			return
		}
		if s.TransitionTo(StateErrorTerminated) == nil {
			s.SetError("media stream never started")
			o.finalize(s)
		}
	})

	log.Info("answering with media stream")
	return telephony.AnswerPlan{
		Action:    telephony.AnswerActionStream,
		StreamURL: o.streamURL,
		StreamParams: map[string]string{
			"token":         token,
			"call_sid":      s.CallSID,
			"restaurant_id": cfg.ID,
		},
	}, nil
}

// answerWithoutAI forwards to the staffed line when one exists, otherwise
// rejects. Either way the call is finished from our point of view.
func (o *Orchestrator) answerWithoutAI(s *CallSession, cfg restaurants.RestaurantConfig, log *slog.Logger) telephony.AnswerPlan {
	if cfg.ForwardingNumber != "" {
		s.SetForwardedTo(cfg.ForwardingNumber)
		if err := s.TransitionTo(StateForwarded); err == nil {
			log.Info("answering with forward", "forward_to", cfg.ForwardingNumber)
			o.finalize(s)
			return telephony.AnswerPlan{Action: telephony.AnswerActionForward, ForwardTo: cfg.ForwardingNumber}
		}
	}

	s.SetError("AI unavailable and no forwarding number configured")
	if s.TransitionTo(StateErrorTerminated) == nil {
		log.Warn("rejecting call, no answer path available")
		o.finalize(s)
	}
	return telephony.AnswerPlan{Action: telephony.AnswerActionReject}
}

// RunStream adopts one provider media stream: it authenticates the stream
// against its token, opens the conversational session and pumps both
// directions until the call ends.
func (o *Orchestrator) RunStream(ctx context.Context, mt MediaTransport) error {
	defer mt.Close()

	start, err := o.awaitStart(mt)
	if err != nil {
		return err
	}

	claims, err := o.tokens.Verify(start.CustomParameters["token"], start.CallSID, o.now())
	if err != nil {
		return fmt.Errorf("session: stream token rejected: %w", err)
	}

	s, ok := o.registry.Get(start.CallSID)
	if !ok {
		return fmt.Errorf("session: no live session for call %s", start.CallSID)
	}
	if claims.RestaurantID != s.RestaurantID() {
		return fmt.Errorf("session: stream restaurant mismatch for call %s", start.CallSID)
	}
	if !s.ClaimStream(start.StreamSID) {
		// A second stream for a live call must not disturb the first.
		return fmt.Errorf("session: call %s already has an active stream", start.CallSID)
	}

	cfg := s.Config()
	log := o.log.With("call_sid", s.CallSID, "session_id", s.ID, "restaurant_id", cfg.ID, "stream_sid", start.StreamSID)

	agent, err := o.openAgent(ctx, cfg)
	if err != nil {
		log.Error("agent session unavailable", "error", err)
		s.SetError("agent session unavailable")
		return o.leaveAIForStaff(ctx, s, log)
	}
	defer agent.Close()

	if err := s.TransitionTo(StateAIActive); err != nil {
		// Lost the race against the stream-start watchdog.
		return err
	}
	log.Info("AI session active")

	bridge := audiobridge.New(
		agent.SendAudio,
		func(mulaw []byte) bool { return mt.SendAudio(mulaw) == nil },
		o.cfg.AudioQueueDepth,
	)

	err = o.pump(ctx, s, cfg, agent, mt, bridge, log)

	dups, dropped := bridge.Stats()
	log.Info("call finished",
		"final_state", s.State(),
		"handled_by", s.Outcome(),
		"duplicate_frames", dups,
		"dropped_frames", dropped,
	)
	o.finalize(s)
	return err
}

// awaitStart consumes frames until the stream's start event.
func (o *Orchestrator) awaitStart(mt MediaTransport) (telephony.StartInfo, error) {
	for {
		ev, err := mt.ReadEvent()
		if err != nil {
			return telephony.StartInfo{}, err
		}
		switch ev.Type {
		case telephony.EventStart:
			return ev.Start, nil
		case telephony.EventStop:
			return telephony.StartInfo{}, errors.New("session: stream stopped before start")
		}
	}
}

type streamMsg struct {
	ev  telephony.StreamEvent
	err error
}

// pump runs the per-call event loop. It returns once the session has
// reached a terminal state (or should be error-terminated by the caller).
func (o *Orchestrator) pump(ctx context.Context, s *CallSession, cfg restaurants.RestaurantConfig, agent AgentSession, mt MediaTransport, bridge *audiobridge.Bridge, log *slog.Logger) error {
	msgs := make(chan streamMsg, 64)
	readerDone := make(chan struct{})
	defer close(readerDone)
	go func() {
		for {
			ev, err := mt.ReadEvent()
			// The loop below may return while frames are still arriving;
			// without the readerDone arm this send would park forever.
			select {
			case msgs <- streamMsg{ev: ev, err: err}:
			case <-readerDone:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	maxDur := time.NewTimer(o.cfg.MaxCallDuration)
	defer maxDur.Stop()

	for {
		select {
		case <-ctx.Done():
			s.SetError("server shutting down")
			s.MarkTerminating()
			_ = s.TransitionTo(StateErrorTerminated)
			o.hangup(s, log)
			return ctx.Err()

		case <-maxDur.C:
			// A system-initiated end, not a failure: the AI handled the call
			// until the duration cap kicked in.
			log.Warn("max call duration exceeded")
			s.SetError("max call duration exceeded")
			s.MarkTerminating()
			if s.TransitionTo(StateEndedByTool) != nil {
				_ = s.TransitionTo(StateErrorTerminated)
			}
			o.hangup(s, log)
			return nil

		case m := <-msgs:
			if m.err != nil {
				// Transport drop without a stop frame: the caller is gone.
				if s.TransitionTo(StateEndedByCaller) != nil {
					_ = s.TransitionTo(StateErrorTerminated)
				}
				return nil
			}
			switch m.ev.Type {
			case telephony.EventMedia:
				bridge.HandleInbound(audiobridge.InboundFrame{Seq: m.ev.Media.Seq, MuLaw: m.ev.Media.Payload})
			case telephony.EventStop:
				log.Info("caller hung up")
				if s.TransitionTo(StateEndedByCaller) != nil {
					_ = s.TransitionTo(StateErrorTerminated)
				}
				return nil
			}

		case ev, ok := <-agent.Events():
			if !ok {
				s.SetError("agent session closed unexpectedly")
				return o.forwardMidCall(ctx, s, log)
			}
			done, err := o.handleAgentEvent(ctx, s, cfg, agent, mt, bridge, ev, log)
			if done || err != nil {
				return err
			}
		}
	}
}

func (o *Orchestrator) handleAgentEvent(ctx context.Context, s *CallSession, cfg restaurants.RestaurantConfig, agent AgentSession, mt MediaTransport, bridge *audiobridge.Bridge, ev convai.Event, log *slog.Logger) (bool, error) {
	switch e := ev.(type) {
	case convai.AgentAudioEvent:
		bridge.HandleAgentAudio(e.Audio)

	case convai.AgentTextEvent:
		s.AppendTurn(calllog.RoleAgent, e.Text, o.now().UTC())

	case convai.UserTranscriptEvent:
		s.AppendTurn(calllog.RoleCaller, e.Text, o.now().UTC())

	case convai.InterruptionEvent:
		// Caller barge-in: stop queued agent audio everywhere.
		agent.Interrupt()
		bridge.Clear()
		if err := mt.SendClear(); err != nil {
			log.Warn("clear message failed", "error", err)
		}

	case convai.ToolCallEvent:
		return o.handleToolCall(ctx, s, cfg, agent, e, log)

	case convai.ErrorEvent:
		log.Error("agent session error", "kind", string(e.Kind), "error", e.Err)
		s.SetError("agent session error: " + string(e.Kind))
		return true, o.forwardMidCall(ctx, s, log)
	}
	return false, nil
}

// handleToolCall dispatches one tool invocation and applies its lifecycle
// signal. Tool calls are handled on the event loop goroutine, so they are
// serialized per call by construction.
func (o *Orchestrator) handleToolCall(ctx context.Context, s *CallSession, cfg restaurants.RestaurantConfig, agent AgentSession, e convai.ToolCallEvent, log *slog.Logger) (bool, error) {
	call := tools.CallContext{
		CallID:      s.CallSID,
		Config:      cfg,
		Terminating: s.Terminating,
	}
	inv, sig := o.dispatcher.Dispatch(ctx, call, e.ToolCallID, e.Name, e.Parameters)
	s.AppendInvocation(inv)
	log.Info("tool dispatched", "tool", inv.Name, "status", string(inv.Status))

	if err := agent.SendToolResult(e.ToolCallID, inv.Result, inv.Status != tools.StatusExecuted); err != nil {
		log.Warn("tool result delivery failed", "tool", inv.Name, "error", err)
	}

	switch sig {
	case tools.SignalEndCall:
		if !s.MarkTerminating() {
			return false, nil
		}
		_ = s.TransitionTo(StateEndedByTool)
		o.hangup(s, log)
		// Keep draining until the provider closes the stream, so late
		// events (including repeat end_call no-ops) are still recorded.
		return false, nil

	case tools.SignalForward:
		if !s.MarkTerminating() {
			return false, nil
		}
		o.forward(ctx, s, cfg.ForwardingNumber, log)
		return true, nil
	}
	return false, nil
}

// forward redirects the live call to the staffed line and settles the
// session into FORWARDED or ERROR_TERMINATED.
func (o *Orchestrator) forward(ctx context.Context, s *CallSession, target string, log *slog.Logger) {
	if s.TransitionTo(StateForwarding) != nil {
		return
	}
	s.SetForwardedTo(target)

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ForwardAckTimeout)
	defer cancel()

	if err := o.control.Forward(fctx, s.CallSID, target); err != nil {
		log.Error("forward failed", "forward_to", target, "error", err)
		s.SetError("forward failed")
		_ = s.TransitionTo(StateErrorTerminated)
		o.hangup(s, log)
		return
	}
	log.Info("call forwarded", "forward_to", target)
	_ = s.TransitionTo(StateForwarded)
}

// forwardMidCall is the fallback when the AI drops out from under a live
// call: hand the caller to staff if possible, otherwise hang up.
func (o *Orchestrator) forwardMidCall(ctx context.Context, s *CallSession, log *slog.Logger) error {
	if !s.MarkTerminating() {
		return nil
	}
	cfg := s.Config()
	if cfg.ForwardingNumber == "" {
		_ = s.TransitionTo(StateErrorTerminated)
		o.hangup(s, log)
		return nil
	}
	o.forward(ctx, s, cfg.ForwardingNumber, log)
	return nil
}

// leaveAIForStaff settles a stream whose AI session never opened.
func (o *Orchestrator) leaveAIForStaff(ctx context.Context, s *CallSession, log *slog.Logger) error {
	err := o.forwardMidCall(ctx, s, log)
	o.finalize(s)
	return err
}

// openAgent opens the conversational session with at most one immediate
// retry on connection failure.
func (o *Orchestrator) openAgent(ctx context.Context, cfg restaurants.RestaurantConfig) (AgentSession, error) {
	req := o.buildOpenRequest(cfg)
	agent, err := o.dialer.Open(ctx, req)
	if err == nil {
		return agent, nil
	}
	if !errors.Is(err, convai.ErrConnect) {
		return nil, err
	}
	return o.dialer.Open(ctx, req)
}

func (o *Orchestrator) buildOpenRequest(cfg restaurants.RestaurantConfig) convai.OpenRequest {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		loc = time.UTC
	}
	local := o.now().In(loc)

	hours := "always open"
	if cfg.CallHoursStart != "" && cfg.CallHoursEnd != "" {
		hours = cfg.CallHoursStart + " to " + cfg.CallHoursEnd
	}

	return convai.OpenRequest{
		AgentID:      cfg.AgentID,
		VoiceID:      cfg.VoiceID,
		EnabledTools: cfg.EnabledTools,
		FirstMessage: cfg.Greeting,
		DynamicVars: map[string]string{
			"restaurant_name":    cfg.Name,
			"restaurant_address": cfg.Address,
			"operating_hours":    hours,
			"current_time":       local.Format("Monday 3:04 PM"),
		},
	}
}

// ConversationInitiation builds the client-data payload for the vendor's
// conversation-initiation webhook. It prefers the live session's config
// snapshot and falls back to resolving the dialed number, so the webhook
// works whether or not it races the media stream.
func (o *Orchestrator) ConversationInitiation(ctx context.Context, callSID, calledNumber string) (map[string]any, error) {
	var cfg restaurants.RestaurantConfig
	if s, ok := o.registry.Get(callSID); ok && s.RestaurantID() != "" {
		cfg = s.Config()
	} else {
		res, err := o.resolver.Resolve(ctx, calledNumber)
		if err != nil {
			return nil, err
		}
		cfg = res.Config
	}

	req := o.buildOpenRequest(cfg)
	payload := map[string]any{
		"type":              "conversation_initiation_client_data",
		"dynamic_variables": req.DynamicVars,
	}
	override := map[string]any{}
	if req.FirstMessage != "" {
		override["agent"] = map[string]any{"first_message": req.FirstMessage}
	}
	if req.VoiceID != "" {
		override["tts"] = map[string]any{"voice_id": req.VoiceID}
	}
	if len(override) > 0 {
		payload["conversation_config_override"] = override
	}
	return payload, nil
}

// hangup asks the provider to complete the call. Best-effort: the caller
// may already be gone.
func (o *Orchestrator) hangup(s *CallSession, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ForwardAckTimeout)
	defer cancel()
	if err := o.control.Hangup(ctx, s.CallSID); err != nil {
		log.Warn("provider hangup failed", "error", err)
	}
}

func (o *Orchestrator) acquireSlot(ctx context.Context, s *CallSession, restaurantID string, log *slog.Logger) bool {
	if o.rdb == nil || o.cfg.MaxCallsPerRestaurant <= 0 {
		return true
	}
	ok, err := utils.AcquireCallSlot(ctx, o.rdb, callSlotKey(restaurantID), o.cfg.MaxCallsPerRestaurant, o.cfg.MaxCallDuration)
	if err != nil {
		// The cap is advisory; a broken redis must not block calls.
		log.Warn("call slot acquire failed, proceeding without cap", "error", err)
		return true
	}
	if ok {
		s.markSlotHeld()
	}
	return ok
}

func (o *Orchestrator) releaseSlot(s *CallSession, restaurantID string) {
	if o.rdb == nil || !s.takeSlot() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := utils.ReleaseCallSlot(ctx, o.rdb, callSlotKey(restaurantID)); err != nil {
		o.log.Warn("call slot release failed", "restaurant_id", restaurantID, "error", err)
	}
}

func callSlotKey(restaurantID string) string {
	return "ivr:calls:" + restaurantID
}

// finalize settles the finished session: timestamps, registry removal,
// slot release, durable call log (at-least-once) and best-effort
// notification. Safe to reach from multiple paths; only the first wins.
func (o *Orchestrator) finalize(s *CallSession) {
	if !s.markFinalized() {
		return
	}

	now := o.now().UTC()
	s.finish(now)
	if !s.State().Terminal() {
		_ = s.TransitionTo(StateErrorTerminated)
	}

	o.registry.Remove(s.CallSID)
	o.releaseSlot(s, s.RestaurantID())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sum := s.Summary()
	if err := o.logs.Record(ctx, sum); err != nil {
		o.log.Error("call summary write failed", "call_sid", s.CallSID, "error", err)
	}

	if o.notifier != nil {
		o.notifier.CallFinished(ctx, notify.Event{
			CallSID:      s.CallSID,
			RestaurantID: sum.RestaurantID,
			HandledBy:    sum.HandledBy,
			FinalState:   sum.FinalState,
			EndedAt:      sum.EndedAt,
			Reason:       sum.Error,
		})
	}
}
