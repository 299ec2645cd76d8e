package convai

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	eventBuffer       = 256
	writeWait         = 5 * time.Second
	closeGracePeriod  = 2 * time.Second
	controlQueueDepth = 16
)

// Session is one live conversational-AI connection bound to a single call.
//
// Ownership: the read loop is the only goroutine reading the socket and the
// write loop the only one writing it (gorilla connections allow one reader
// and one writer). All public methods are safe for concurrent use.
type Session struct {
	conn *websocket.Conn
	log  *slog.Logger

	events chan Event
	audio  *frameQueue
	ctrl   chan []byte

	// suppressThrough drops agent audio with event ids at or below it after a
	// barge-in, so stale speech never resumes while audio of the next turn
	// still passes even when it arrives ahead of the agent_response frame.
	// -1 means no suppression.
	suppressThrough atomic.Int64
	lastAudioID     atomic.Int64

	closeOnce sync.Once
	closing   atomic.Bool
	done      chan struct{}
	writerEnd chan struct{}
}

func newSession(conn *websocket.Conn, queueDepth int, log *slog.Logger) *Session {
	s := &Session{
		conn:      conn,
		log:       log,
		events:    make(chan Event, eventBuffer),
		audio:     newFrameQueue(queueDepth),
		ctrl:      make(chan []byte, controlQueueDepth),
		done:      make(chan struct{}),
		writerEnd: make(chan struct{}),
	}
	s.suppressThrough.Store(-1)
	return s
}

func (s *Session) start() {
	go s.writeLoop()
	go s.readLoop()
}

// Events returns the ordered event stream. The channel closes when the
// session ends; a transport drop delivers ErrorEvent{KindTransportClosed}
// first.
func (s *Session) Events() <-chan Event { return s.events }

// SendAudio enqueues one caller audio frame (16-bit LE PCM). It never blocks:
// when the outbound queue is full the oldest unsent frame is dropped.
func (s *Session) SendAudio(frame []byte) {
	if len(frame) == 0 || s.closing.Load() {
		return
	}
	s.audio.Push(frame)
}

// DroppedFrames reports how many outbound frames were evicted unsent.
func (s *Session) DroppedFrames() uint64 { return s.audio.Dropped() }

// SendToolResult reports a tool outcome back into the conversation so the
// agent can relay failures to the caller instead of going silent.
func (s *Session) SendToolResult(toolCallID, result string, isError bool) error {
	if s.closing.Load() {
		return errors.New("convai: session closed")
	}
	payload, err := json.Marshal(toolResultMessage{
		Type:       "client_tool_result",
		ToolCallID: toolCallID,
		Result:     result,
		IsError:    isError,
	})
	if err != nil {
		return err
	}
	select {
	case s.ctrl <- payload:
		return nil
	case <-s.done:
		return errors.New("convai: session closed")
	}
}

// Interrupt signals caller barge-in: queued caller audio keeps flowing, but
// agent audio up to the last delivered chunk is suppressed. Audio carrying a
// newer event id (the next turn) passes through.
func (s *Session) Interrupt() {
	s.raiseSuppression(s.lastAudioID.Load())
}

func (s *Session) raiseSuppression(through int64) {
	for {
		cur := s.suppressThrough.Load()
		if through <= cur || s.suppressThrough.CompareAndSwap(cur, through) {
			return
		}
	}
}

// Close shuts the session down exactly once; safe to call in any state.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		close(s.done)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))

		// Give the peer a moment to answer the close handshake, then drop
		// the transport; the read loop unblocks on it either way.
		time.AfterFunc(closeGracePeriod, func() { _ = s.conn.Close() })
	})
	return nil
}

func (s *Session) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closing.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.emit(ErrorEvent{Kind: KindTransportClosed, Err: err})
			return
		}

		ev, pingID, err := decodeServerFrame(data)
		if err != nil {
			// One undecodable frame is not fatal; log and keep the call alive.
			s.log.Warn("convai frame decode failed", "err", err)
			continue
		}
		if pingID >= 0 {
			s.enqueuePong(pingID)
			continue
		}
		if ev == nil {
			continue
		}

		switch typed := ev.(type) {
		case AgentAudioEvent:
			if typed.EventID <= s.suppressThrough.Load() {
				continue
			}
			s.lastAudioID.Store(typed.EventID)
			s.emit(typed)
		case AgentTextEvent:
			// A new agent turn lifts the barge-in suppression; vendors that
			// do not number their audio frames rely on this path.
			s.suppressThrough.Store(-1)
			s.emit(typed)
		case InterruptionEvent:
			s.raiseSuppression(typed.EventID)
			s.emit(typed)
		default:
			s.emit(ev)
		}
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) enqueuePong(eventID int64) {
	payload, err := json.Marshal(pongMessage{Type: "pong", EventID: eventID})
	if err != nil {
		return
	}
	select {
	case s.ctrl <- payload:
	default:
		// Pong loss is recoverable; the vendor pings again.
	}
}

func (s *Session) writeLoop() {
	defer close(s.writerEnd)

	for {
		select {
		case <-s.done:
			return
		case payload := <-s.ctrl:
			if !s.write(payload) {
				return
			}
		case <-s.audio.Wait():
			for {
				frame := s.audio.Pop()
				if frame == nil {
					break
				}
				payload, err := encodeAudioChunk(frame)
				if err != nil {
					continue
				}
				if !s.write(payload) {
					return
				}
			}
		}
	}
}

func (s *Session) write(payload []byte) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !s.closing.Load() {
			s.log.Warn("convai write failed", "err", err)
		}
		return false
	}
	return true
}
