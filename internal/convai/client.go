package convai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const defaultConnectTimeout = 5 * time.Second

// ErrConnect wraps session-open failures. The orchestrator is allowed one
// immediate retry on it before classifying the call as forward-only.
var ErrConnect = errors.New("convai: connect failed")

// Client dials conversational-AI sessions. One Client serves all calls; each
// Open returns an independent Session bound to one agent and one call.
type Client struct {
	wsBaseURL      string
	apiKey         string
	connectTimeout time.Duration
	queueDepth     int
	log            *slog.Logger

	dialer *websocket.Dialer
}

type ClientOptions struct {
	WSBaseURL      string
	APIKey         string
	ConnectTimeout time.Duration

	// AudioQueueDepth bounds the outbound caller-audio queue per session.
	AudioQueueDepth int

	Logger *slog.Logger
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.WSBaseURL == "" {
		return nil, errors.New("convai: ws base url is required")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		wsBaseURL:      opts.WSBaseURL,
		apiKey:         opts.APIKey,
		connectTimeout: opts.ConnectTimeout,
		queueDepth:     opts.AudioQueueDepth,
		log:            log,
		dialer:         &websocket.Dialer{HandshakeTimeout: opts.ConnectTimeout},
	}, nil
}

// OpenRequest parameterizes one conversational session.
type OpenRequest struct {
	AgentID      string
	VoiceID      string
	EnabledTools []string

	// FirstMessage overrides the agent greeting, if configured.
	FirstMessage string

	// DynamicVars are exposed to the agent prompt (restaurant name, address,
	// operating hours, current time).
	DynamicVars map[string]string
}

// Open establishes the streaming session: dial, send conversation initiation,
// await vendor metadata. It fails fast; retry policy belongs to the caller.
func (c *Client) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	if req.AgentID == "" {
		return nil, errors.New("convai: agent id is required")
	}

	wsURL, err := c.sessionURL(req.AgentID)
	if err != nil {
		return nil, err
	}

	headers := make(http.Header)
	if c.apiKey != "" {
		headers.Set("xi-api-key", c.apiKey)
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.connectTimeout)
		defer cancel()
	}

	conn, resp, err := c.dialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial status %d: %v", ErrConnect, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	init := initiationMessage{
		Type:             "conversation_initiation_client_data",
		DynamicVariables: req.DynamicVars,
	}
	if req.VoiceID != "" || req.FirstMessage != "" {
		init.ConfigOverride = &configOverride{}
		if req.VoiceID != "" {
			init.ConfigOverride.TTS = &ttsOverride{VoiceID: req.VoiceID}
		}
		if req.FirstMessage != "" {
			init.ConfigOverride.Agent = &agentOverride{FirstMessage: req.FirstMessage}
		}
	}
	if err := conn.WriteJSON(init); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: send initiation: %v", ErrConnect, err)
	}

	// The vendor answers with conversation_initiation_metadata before any
	// audio or events flow.
	_ = conn.SetReadDeadline(time.Now().Add(c.connectTimeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: read initiation metadata: %v", ErrConnect, err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	ev, _, err := decodeServerFrame(payload)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if errEv, ok := ev.(ErrorEvent); ok {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnect, errEv.Err)
	}

	s := newSession(conn, c.queueDepth, c.log.With("agent_id", req.AgentID))
	s.start()
	return s, nil
}

func (c *Client) sessionURL(agentID string) (string, error) {
	u, err := url.Parse(c.wsBaseURL)
	if err != nil {
		return "", fmt.Errorf("convai: bad ws base url: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", agentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
