package telephony

import (
	"errors"
	"net/http"
	"strings"
)

// InboundForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
//
// Keep it minimal and provider-adapter-only. Routing the call (AI, forward,
// reject) is decided by the session orchestrator, not here.
type InboundForm struct {
	CallSID     string
	AccountSID  string
	From        string
	To          string
	Direction   string
	CallStatus  string
	CallerName  string
	FromCity    string
	FromState   string
	FromZip     string
	FromCountry string
}

// ParseInboundForm reads and validates the inbound-voice webhook form.
// CallSid and To are mandatory: without them the call cannot be registered
// or resolved to a restaurant.
func ParseInboundForm(r *http.Request) (InboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return InboundForm{}, err
	}
	f := InboundForm{
		CallSID:     strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSID:  strings.TrimSpace(r.PostFormValue("AccountSid")),
		From:        strings.TrimSpace(r.PostFormValue("From")),
		To:          strings.TrimSpace(r.PostFormValue("To")),
		Direction:   r.PostFormValue("Direction"),
		CallStatus:  r.PostFormValue("CallStatus"),
		CallerName:  r.PostFormValue("CallerName"),
		FromCity:    r.PostFormValue("FromCity"),
		FromState:   r.PostFormValue("FromState"),
		FromZip:     r.PostFormValue("FromZip"),
		FromCountry: r.PostFormValue("FromCountry"),
	}
	if f.CallSID == "" {
		return InboundForm{}, errors.New("telephony: webhook missing CallSid")
	}
	if f.To == "" {
		return InboundForm{}, errors.New("telephony: webhook missing To")
	}
	return f, nil
}
