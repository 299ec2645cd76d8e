package convai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeVendor is an in-process conversational-AI endpoint: it accepts the
// websocket, consumes the initiation message, answers with metadata, then
// runs the provided script against the connection.
type fakeVendor struct {
	t      *testing.T
	script func(conn *websocket.Conn)
	srv    *httptest.Server
}

func newFakeVendor(t *testing.T, script func(conn *websocket.Conn)) *fakeVendor {
	t.Helper()
	v := &fakeVendor{t: t, script: script}
	upgrader := websocket.Upgrader{}
	v.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var init map[string]any
		if err := conn.ReadJSON(&init); err != nil {
			t.Errorf("read initiation: %v", err)
			return
		}
		if init["type"] != "conversation_initiation_client_data" {
			t.Errorf("unexpected initiation type: %v", init["type"])
		}
		meta := map[string]any{"type": "conversation_initiation_metadata"}
		if err := conn.WriteJSON(meta); err != nil {
			return
		}
		if v.script != nil {
			v.script(conn)
		}
	}))
	t.Cleanup(v.srv.Close)
	return v
}

func (v *fakeVendor) wsURL() string {
	return "ws" + strings.TrimPrefix(v.srv.URL, "http")
}

func openSession(t *testing.T, v *fakeVendor) *Session {
	t.Helper()
	c, err := NewClient(ClientOptions{WSBaseURL: v.wsURL(), APIKey: "test", ConnectTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	s, err := c.Open(context.Background(), OpenRequest{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatalf("events channel closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for event")
		return nil
	}
}

func TestOpen_FailsFastOnRejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := NewClient(ClientOptions{
		WSBaseURL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		ConnectTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.Open(context.Background(), OpenRequest{AgentID: "agent-1"})
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
}

func TestSession_DeliversEventsInArrivalOrder(t *testing.T) {
	v := newFakeVendor(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{
			"type":                     "user_transcript",
			"user_transcription_event": map[string]any{"user_transcript": "do you deliver"},
		})
		_ = conn.WriteJSON(map[string]any{
			"type":                 "agent_response",
			"agent_response_event": map[string]any{"agent_response": "yes we do"},
		})
		audio := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
		_ = conn.WriteJSON(map[string]any{
			"type":        "audio",
			"audio_event": map[string]any{"audio_base_64": audio, "event_id": 7},
		})
		_ = conn.WriteJSON(map[string]any{
			"type": "client_tool_call",
			"client_tool_call": map[string]any{
				"tool_name":    "get_address",
				"tool_call_id": "tc-1",
				"parameters":   map[string]any{},
			},
		})
		time.Sleep(500 * time.Millisecond)
	})
	s := openSession(t, v)

	if ev, ok := nextEvent(t, s).(UserTranscriptEvent); !ok || ev.Text != "do you deliver" {
		t.Fatalf("expected user transcript, got %#v", ev)
	}
	if ev, ok := nextEvent(t, s).(AgentTextEvent); !ok || ev.Text != "yes we do" {
		t.Fatalf("expected agent text, got %#v", ev)
	}
	audioEv, ok := nextEvent(t, s).(AgentAudioEvent)
	if !ok || len(audioEv.Audio) != 4 || audioEv.EventID != 7 {
		t.Fatalf("expected agent audio, got %#v", audioEv)
	}
	toolEv, ok := nextEvent(t, s).(ToolCallEvent)
	if !ok || toolEv.Name != "get_address" || toolEv.ToolCallID != "tc-1" {
		t.Fatalf("expected tool call, got %#v", toolEv)
	}
}

func TestSession_AnswersPings(t *testing.T) {
	gotPong := make(chan pongMessage, 1)
	v := newFakeVendor(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{
			"type":       "ping",
			"ping_event": map[string]any{"event_id": 42},
		})
		var pong pongMessage
		if err := conn.ReadJSON(&pong); err == nil {
			gotPong <- pong
		}
	})
	openSession(t, v)

	select {
	case pong := <-gotPong:
		if pong.Type != "pong" || pong.EventID != 42 {
			t.Fatalf("unexpected pong: %#v", pong)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for pong")
	}
}

func TestSession_SendAudioReachesVendor(t *testing.T) {
	gotChunk := make(chan string, 1)
	v := newFakeVendor(t, func(conn *websocket.Conn) {
		var chunk userAudioChunk
		if err := conn.ReadJSON(&chunk); err == nil {
			gotChunk <- chunk.UserAudioChunk
		}
	})
	s := openSession(t, v)

	s.SendAudio([]byte{9, 8, 7})

	select {
	case b64 := <-gotChunk:
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil || len(raw) != 3 {
			t.Fatalf("bad chunk payload: %q err=%v", b64, err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for audio chunk")
	}
}

func TestSession_InterruptSuppressesStaleAudioOnly(t *testing.T) {
	interrupted := make(chan struct{})
	v := newFakeVendor(t, func(conn *websocket.Conn) {
		audio := base64.StdEncoding.EncodeToString([]byte{1})
		_ = conn.WriteJSON(map[string]any{
			"type":        "audio",
			"audio_event": map[string]any{"audio_base_64": audio, "event_id": 1},
		})
		<-interrupted
		// A stale replay of the interrupted turn, then the next turn's audio
		// arriving ahead of its agent_response frame.
		_ = conn.WriteJSON(map[string]any{
			"type":        "audio",
			"audio_event": map[string]any{"audio_base_64": audio, "event_id": 1},
		})
		_ = conn.WriteJSON(map[string]any{
			"type":        "audio",
			"audio_event": map[string]any{"audio_base_64": audio, "event_id": 2},
		})
		_ = conn.WriteJSON(map[string]any{
			"type":                 "agent_response",
			"agent_response_event": map[string]any{"agent_response": "fresh turn"},
		})
		time.Sleep(500 * time.Millisecond)
	})
	s := openSession(t, v)

	if ev, ok := nextEvent(t, s).(AgentAudioEvent); !ok || ev.EventID != 1 {
		t.Fatalf("expected first audio chunk, got %#v", ev)
	}
	s.Interrupt()
	close(interrupted)

	// The replay of event 1 is dropped; event 2 belongs to the new turn and
	// passes even though its agent_response has not arrived yet.
	audioEv, ok := nextEvent(t, s).(AgentAudioEvent)
	if !ok || audioEv.EventID != 2 {
		t.Fatalf("expected next-turn audio, got %#v", audioEv)
	}
	if ev, ok := nextEvent(t, s).(AgentTextEvent); !ok || ev.Text != "fresh turn" {
		t.Fatalf("expected agent text, got %#v", ev)
	}
}

func TestSession_VendorInterruptionSuppressesByEventID(t *testing.T) {
	v := newFakeVendor(t, func(conn *websocket.Conn) {
		audio := base64.StdEncoding.EncodeToString([]byte{1})
		_ = conn.WriteJSON(map[string]any{
			"type":               "interruption",
			"interruption_event": map[string]any{"event_id": 3},
		})
		_ = conn.WriteJSON(map[string]any{
			"type":        "audio",
			"audio_event": map[string]any{"audio_base_64": audio, "event_id": 3},
		})
		_ = conn.WriteJSON(map[string]any{
			"type":        "audio",
			"audio_event": map[string]any{"audio_base_64": audio, "event_id": 4},
		})
		time.Sleep(500 * time.Millisecond)
	})
	s := openSession(t, v)

	if ev, ok := nextEvent(t, s).(InterruptionEvent); !ok || ev.EventID != 3 {
		t.Fatalf("expected interruption event, got %#v", ev)
	}
	audioEv, ok := nextEvent(t, s).(AgentAudioEvent)
	if !ok || audioEv.EventID != 4 {
		t.Fatalf("expected only audio newer than the interruption, got %#v", audioEv)
	}
}

func TestSession_TransportDropSurfacesError(t *testing.T) {
	v := newFakeVendor(t, func(conn *websocket.Conn) {
		// Abrupt close without a close handshake.
		_ = conn.UnderlyingConn().Close()
	})
	s := openSession(t, v)

	for ev := range s.Events() {
		if errEv, ok := ev.(ErrorEvent); ok {
			if errEv.Kind != KindTransportClosed {
				t.Fatalf("expected transport_closed, got %q", errEv.Kind)
			}
			return
		}
	}
	t.Fatalf("events closed without an error event")
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	v := newFakeVendor(t, func(conn *websocket.Conn) {
		// Wait for the client close handshake.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	s := openSession(t, v)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	// Events channel drains and closes without a transport error.
	for ev := range s.Events() {
		if _, ok := ev.(ErrorEvent); ok {
			t.Fatalf("unexpected error event after clean close: %#v", ev)
		}
	}
}

func TestFrameQueue_DropsOldestOnOverflow(t *testing.T) {
	q := newFrameQueue(3)
	for i := 0; i < 5; i++ {
		q.Push([]byte{byte(i)})
	}
	if q.Dropped() != 2 {
		t.Fatalf("expected 2 dropped, got %d", q.Dropped())
	}
	var got []byte
	for {
		f := q.Pop()
		if f == nil {
			break
		}
		got = append(got, f[0])
	}
	if string(got) != string([]byte{2, 3, 4}) {
		t.Fatalf("expected oldest frames evicted, got %v", got)
	}
}

func TestDecodeServerFrame_UnknownTypeSkipped(t *testing.T) {
	ev, ping, err := decodeServerFrame([]byte(`{"type":"brand_new_thing","data":1}`))
	if err != nil || ev != nil || ping != -1 {
		t.Fatalf("expected unknown frame skipped, got ev=%#v ping=%d err=%v", ev, ping, err)
	}
}

func TestDecodeServerFrame_VendorError(t *testing.T) {
	ev, _, err := decodeServerFrame([]byte(`{"type":"error","message":"agent not found"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	errEv, ok := ev.(ErrorEvent)
	if !ok || errEv.Kind != KindVendor {
		t.Fatalf("expected vendor error event, got %#v", ev)
	}
	if !strings.Contains(errEv.Err.Error(), "agent not found") {
		t.Fatalf("expected message preserved, got %v", errEv.Err)
	}
}

func TestEncodeAudioChunk(t *testing.T) {
	payload, err := encodeAudioChunk([]byte{1, 2})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var chunk userAudioChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(chunk.UserAudioChunk)
	if err != nil || len(raw) != 2 {
		t.Fatalf("bad payload: %v %v", raw, err)
	}
}
