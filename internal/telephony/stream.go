package telephony

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Media stream wire protocol, as Twilio speaks it over the websocket opened
// by <Connect><Stream>. Frames are JSON envelopes tagged by "event".
// Ref: https://www.twilio.com/docs/voice/media-streams/websocket-messages

// StreamEventType tags one inbound frame from the provider.
type StreamEventType string

const (
	EventConnected StreamEventType = "connected"
	EventStart     StreamEventType = "start"
	EventMedia     StreamEventType = "media"
	EventMark      StreamEventType = "mark"
	EventStop      StreamEventType = "stop"
)

// StartInfo carries the stream handshake: which call this stream belongs to
// and the custom parameters we planted in the TwiML.
type StartInfo struct {
	StreamSID        string
	CallSID          string
	AccountSID       string
	CustomParameters map[string]string
}

// MediaFrame is one caller audio frame. Payload is raw mu-law bytes
// (already base64-decoded); Seq is the envelope sequence number.
type MediaFrame struct {
	Seq     uint64
	Track   string
	Payload []byte
}

// StreamEvent is one decoded inbound frame.
type StreamEvent struct {
	Type  StreamEventType
	Start StartInfo
	Media MediaFrame
	Mark  string
}

type streamEnvelope struct {
	Event          string          `json:"event"`
	SequenceNumber string          `json:"sequenceNumber"`
	StreamSID      string          `json:"streamSid"`
	Start          json.RawMessage `json:"start"`
	Media          json.RawMessage `json:"media"`
	Mark           json.RawMessage `json:"mark"`
}

type streamStartPayload struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

type streamMediaPayload struct {
	Track   string `json:"track"`
	Payload string `json:"payload"`
}

type streamMarkPayload struct {
	Name string `json:"name"`
}

type outboundMedia struct {
	Event     string             `json:"event"`
	StreamSID string             `json:"streamSid"`
	Media     outboundMediaInner `json:"media"`
}

type outboundMediaInner struct {
	Payload string `json:"payload"`
}

type outboundMark struct {
	Event     string            `json:"event"`
	StreamSID string            `json:"streamSid"`
	Mark      streamMarkPayload `json:"mark"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

const streamWriteTimeout = 5 * time.Second

// MediaStream wraps one provider media-stream websocket. Reads are
// single-goroutine (the stream handler's loop); writes are serialized with a
// mutex because agent audio and clear messages come from different
// goroutines.
type MediaStream struct {
	conn *websocket.Conn

	mu        sync.Mutex
	streamSID string

	closeOnce sync.Once
}

func NewMediaStream(conn *websocket.Conn) *MediaStream {
	return &MediaStream{conn: conn}
}

// StreamSID is the provider's stream identifier, known after the start
// event has been read.
func (s *MediaStream) StreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

// ReadEvent blocks for the next frame from the provider. Unknown event
// types are skipped. A closed connection surfaces as an error.
func (s *MediaStream) ReadEvent() (StreamEvent, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return StreamEvent{}, err
		}

		var env streamEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return StreamEvent{}, fmt.Errorf("telephony: malformed stream frame: %w", err)
		}

		switch StreamEventType(env.Event) {
		case EventConnected:
			return StreamEvent{Type: EventConnected}, nil

		case EventStart:
			var start streamStartPayload
			if err := json.Unmarshal(env.Start, &start); err != nil {
				return StreamEvent{}, fmt.Errorf("telephony: malformed start frame: %w", err)
			}
			if start.StreamSID == "" {
				start.StreamSID = env.StreamSID
			}
			s.mu.Lock()
			s.streamSID = start.StreamSID
			s.mu.Unlock()
			return StreamEvent{Type: EventStart, Start: StartInfo{
				StreamSID:        start.StreamSID,
				CallSID:          start.CallSID,
				AccountSID:       start.AccountSID,
				CustomParameters: start.CustomParameters,
			}}, nil

		case EventMedia:
			var media streamMediaPayload
			if err := json.Unmarshal(env.Media, &media); err != nil {
				return StreamEvent{}, fmt.Errorf("telephony: malformed media frame: %w", err)
			}
			payload, err := base64.StdEncoding.DecodeString(media.Payload)
			if err != nil {
				return StreamEvent{}, fmt.Errorf("telephony: malformed media payload: %w", err)
			}
			seq, _ := strconv.ParseUint(env.SequenceNumber, 10, 64)
			return StreamEvent{Type: EventMedia, Media: MediaFrame{
				Seq:     seq,
				Track:   media.Track,
				Payload: payload,
			}}, nil

		case EventMark:
			var mark streamMarkPayload
			_ = json.Unmarshal(env.Mark, &mark)
			return StreamEvent{Type: EventMark, Mark: mark.Name}, nil

		case EventStop:
			return StreamEvent{Type: EventStop}, nil

		default:
			// Unknown events are ignored for forward compatibility.
		}
	}
}

// SendAudio pushes one mu-law frame to the caller. Requires the start event
// to have been read first (the stream sid is not known before that).
func (s *MediaStream) SendAudio(mulaw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamSID == "" {
		return errors.New("telephony: stream not started")
	}
	return s.writeJSON(outboundMedia{
		Event:     "media",
		StreamSID: s.streamSID,
		Media:     outboundMediaInner{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	})
}

// SendClear asks the provider to discard audio it has buffered but not yet
// played. Used on caller barge-in.
func (s *MediaStream) SendClear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamSID == "" {
		return errors.New("telephony: stream not started")
	}
	return s.writeJSON(outboundClear{Event: "clear", StreamSID: s.streamSID})
}

// SendMark requests a playback checkpoint notification.
func (s *MediaStream) SendMark(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamSID == "" {
		return errors.New("telephony: stream not started")
	}
	return s.writeJSON(outboundMark{
		Event:     "mark",
		StreamSID: s.streamSID,
		Mark:      streamMarkPayload{Name: name},
	})
}

func (s *MediaStream) writeJSON(v any) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return s.conn.WriteJSON(v)
}

// Close sends a websocket close frame and tears the connection down.
// Safe to call more than once.
func (s *MediaStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.mu.Unlock()
		err = s.conn.Close()
	})
	return err
}
