package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"sort"
	"strings"
)

// AnswerAction is the telephony-level decision for an inbound call.
type AnswerAction string

const (
	// AnswerActionReject declines the call without connecting anything.
	AnswerActionReject AnswerAction = "reject"
	// AnswerActionHangup answers and immediately hangs up.
	AnswerActionHangup AnswerAction = "hangup"
	// AnswerActionForward bridges the caller to a staffed line.
	AnswerActionForward AnswerAction = "forward"
	// AnswerActionStream opens a bidirectional media stream to our
	// media-stream websocket endpoint.
	AnswerActionStream AnswerAction = "stream"
)

// AnswerPlan is what the orchestrator decided to do with an inbound call,
// expressed in provider-neutral terms. RenderTwiML maps it to Twilio markup.
type AnswerPlan struct {
	Action AnswerAction

	// ForwardTo is the dial target for AnswerActionForward. PSTN number or
	// sip: URI.
	ForwardTo string

	// StreamURL is the wss:// endpoint for AnswerActionStream.
	StreamURL string
	// StreamParams travel as <Parameter> elements on the stream and come
	// back verbatim in the stream's start event. We use them to carry the
	// signed stream token and ids.
	StreamParams map[string]string
}

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.
//
// Only include primitives we need at the adapter boundary.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName xml.Name  `xml:"Dial"`
	Number  string    `xml:"Number,omitempty"`
	Sip     *twimlSip `xml:"Sip,omitempty"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// RenderTwiML maps an AnswerPlan to TwiML.
func RenderTwiML(plan AnswerPlan) (string, error) {
	var r twimlResponse

	switch plan.Action {
	case AnswerActionReject:
		r.Verbs = append(r.Verbs, twimlReject{Reason: "busy"})
	case AnswerActionHangup:
		r.Verbs = append(r.Verbs, twimlHangup{})
	case AnswerActionForward:
		if strings.TrimSpace(plan.ForwardTo) == "" {
			return "", errors.New("telephony: forward_to required for forward action")
		}
		d := twimlDial{}
		// Prefer SIP if it looks like sip:... otherwise treat as a PSTN number.
		if strings.HasPrefix(strings.ToLower(plan.ForwardTo), "sip:") {
			d.Sip = &twimlSip{URI: plan.ForwardTo}
		} else {
			d.Number = plan.ForwardTo
		}
		r.Verbs = append(r.Verbs, d)
	case AnswerActionStream:
		if strings.TrimSpace(plan.StreamURL) == "" {
			return "", errors.New("telephony: stream_url required for stream action")
		}
		s := twimlStream{URL: plan.StreamURL}
		for _, name := range sortedKeys(plan.StreamParams) {
			s.Parameters = append(s.Parameters, twimlParameter{Name: name, Value: plan.StreamParams[name]})
		}
		r.Verbs = append(r.Verbs, twimlConnect{Stream: s})
	default:
		return "", errors.New("telephony: unknown answer action")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
