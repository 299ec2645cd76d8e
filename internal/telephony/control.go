package telephony

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CallControl mutates a live call out-of-band, while its media stream is
// connected. This is how the orchestrator redirects a call to a staffed
// line or hangs it up after the agent finished.
type CallControl interface {
	// Forward redirects the live call to dial the given target. The media
	// stream drops once the provider applies the new instructions.
	Forward(ctx context.Context, callSID, target string) error
	// Hangup completes the live call.
	Hangup(ctx context.Context, callSID string) error
}

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioControl drives live calls through the Twilio REST API.
// No provider SDK: the two requests we need are plain form POSTs.
type TwilioControl struct {
	accountSID string
	authToken  string
	baseURL    string
	client     *http.Client
}

func NewTwilioControl(accountSID, authToken string) *TwilioControl {
	return &TwilioControl{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    twilioAPIBase,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *TwilioControl) Forward(ctx context.Context, callSID, target string) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("telephony: forward target required for call %s", callSID)
	}
	twiml, err := RenderTwiML(AnswerPlan{Action: AnswerActionForward, ForwardTo: target})
	if err != nil {
		return err
	}
	return c.updateCall(ctx, callSID, url.Values{"Twiml": {twiml}})
}

func (c *TwilioControl) Hangup(ctx context.Context, callSID string) error {
	return c.updateCall(ctx, callSID, url.Values{"Status": {"completed"}})
}

func (c *TwilioControl) updateCall(ctx context.Context, callSID string, form url.Values) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, url.PathEscape(callSID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("telephony: twilio call update %s: status %d: %s", callSID, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
