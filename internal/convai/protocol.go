package convai

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Wire protocol for the conversational-AI websocket. Text frames carry a
// JSON object; inbound frames are discriminated by "type", outbound audio
// uses the bare user_audio_chunk shape the vendor expects.

type initiationMessage struct {
	Type             string            `json:"type"`
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
	ConfigOverride   *configOverride   `json:"conversation_config_override,omitempty"`
}

type configOverride struct {
	Agent *agentOverride `json:"agent,omitempty"`
	TTS   *ttsOverride   `json:"tts,omitempty"`
}

type agentOverride struct {
	FirstMessage string `json:"first_message,omitempty"`
}

type ttsOverride struct {
	VoiceID string `json:"voice_id,omitempty"`
}

type userAudioChunk struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

type toolResultMessage struct {
	Type       string `json:"type"`
	ToolCallID string `json:"tool_call_id"`
	Result     string `json:"result"`
	IsError    bool   `json:"is_error"`
}

type pongMessage struct {
	Type    string `json:"type"`
	EventID int64  `json:"event_id"`
}

func encodeAudioChunk(pcm []byte) ([]byte, error) {
	return json.Marshal(userAudioChunk{UserAudioChunk: base64.StdEncoding.EncodeToString(pcm)})
}

// decodeServerFrame maps one inbound text frame to an Event.
// A nil Event with nil error means the frame required no consumer action
// (metadata, pong) or was an unknown type, which is skipped by design so a
// vendor protocol addition does not kill live calls.
// The second return is a ping event id to answer, or -1.
func decodeServerFrame(data []byte) (Event, int64, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, -1, fmt.Errorf("convai: decode frame envelope: %w", err)
	}

	switch strings.TrimSpace(envelope.Type) {
	case "conversation_initiation_metadata":
		return nil, -1, nil

	case "audio":
		var frame struct {
			AudioEvent struct {
				AudioBase64 string `json:"audio_base_64"`
				EventID     int64  `json:"event_id"`
			} `json:"audio_event"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, -1, fmt.Errorf("convai: decode audio event: %w", err)
		}
		audio, err := base64.StdEncoding.DecodeString(frame.AudioEvent.AudioBase64)
		if err != nil {
			return nil, -1, fmt.Errorf("convai: decode audio payload: %w", err)
		}
		return AgentAudioEvent{Audio: audio, EventID: frame.AudioEvent.EventID}, -1, nil

	case "agent_response":
		var frame struct {
			AgentResponseEvent struct {
				AgentResponse string `json:"agent_response"`
			} `json:"agent_response_event"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, -1, fmt.Errorf("convai: decode agent_response: %w", err)
		}
		return AgentTextEvent{Text: frame.AgentResponseEvent.AgentResponse}, -1, nil

	case "user_transcript":
		var frame struct {
			UserTranscriptionEvent struct {
				UserTranscript string `json:"user_transcript"`
			} `json:"user_transcription_event"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, -1, fmt.Errorf("convai: decode user_transcript: %w", err)
		}
		return UserTranscriptEvent{Text: frame.UserTranscriptionEvent.UserTranscript}, -1, nil

	case "client_tool_call":
		var frame struct {
			ClientToolCall struct {
				ToolName   string         `json:"tool_name"`
				ToolCallID string         `json:"tool_call_id"`
				Parameters map[string]any `json:"parameters"`
			} `json:"client_tool_call"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, -1, fmt.Errorf("convai: decode client_tool_call: %w", err)
		}
		return ToolCallEvent{
			ToolCallID: frame.ClientToolCall.ToolCallID,
			Name:       frame.ClientToolCall.ToolName,
			Parameters: frame.ClientToolCall.Parameters,
		}, -1, nil

	case "interruption":
		var frame struct {
			InterruptionEvent struct {
				EventID int64 `json:"event_id"`
			} `json:"interruption_event"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, -1, fmt.Errorf("convai: decode interruption: %w", err)
		}
		return InterruptionEvent{EventID: frame.InterruptionEvent.EventID}, -1, nil

	case "ping":
		var frame struct {
			PingEvent struct {
				EventID int64 `json:"event_id"`
			} `json:"ping_event"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, -1, fmt.Errorf("convai: decode ping: %w", err)
		}
		return nil, frame.PingEvent.EventID, nil

	case "error":
		var frame struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &frame)
		return ErrorEvent{Kind: KindVendor, Err: fmt.Errorf("convai: vendor error: %s", frame.Message)}, -1, nil

	default:
		return nil, -1, nil
	}
}
