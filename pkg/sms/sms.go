package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the Twilio messages endpoint directly over its REST form
// API.
type Client struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	HTTPClient *http.Client
}

func NewClient(accountSID, authToken, fromNumber string) *Client {
	return &Client{
		AccountSID: accountSID,
		AuthToken:  authToken,
		FromNumber: fromNumber,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers one SMS. It returns the provider message SID and the HTTP
// status code; callers classify non-201 statuses.
func (c *Client) Send(ctx context.Context, to, body string) (string, int, error) {
	if c.AccountSID == "" || c.AuthToken == "" || c.FromNumber == "" {
		return "", 0, fmt.Errorf("missing SMS configuration: AccountSID, AuthToken, or FromNumber is empty")
	}

	urlStr := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", c.AccountSID)
	msgData := url.Values{}
	msgData.Set("To", to)
	msgData.Set("From", c.FromNumber)
	msgData.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, strings.NewReader(msgData.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create SMS request for %s: %w", to, err)
	}
	req.SetBasicAuth(c.AccountSID, c.AuthToken)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to send SMS to %s: %w", to, err)
	}
	defer resp.Body.Close()

	var out struct {
		SID string `json:"sid"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode != http.StatusCreated {
		return "", resp.StatusCode, fmt.Errorf("Twilio API returned status %d for %s", resp.StatusCode, to)
	}
	return out.SID, resp.StatusCode, nil
}
