package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const apiBase = "https://api.twilio.com/2010-04-01"

// Client is a thin wrapper over the Twilio messages API. Sends are
// fire-and-forget: delivery retries are Twilio's concern, not ours.
type Client struct {
	accountSID string
	authToken  string
	fromNumber string
	httpClient *http.Client
}

func NewClient(accountSID, authToken, fromNumber string) *Client {
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Configured reports whether credentials are present. When they are not,
// callers save messages without sending, as in local development.
func (c *Client) Configured() bool {
	return c.accountSID != "" && c.authToken != "" && c.fromNumber != ""
}

type sendResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"` // error detail on failure
}

// SendSMS sends one SMS and returns the Twilio message SID.
func (c *Client) SendSMS(ctx context.Context, to, body string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("twilio credentials not configured")
	}

	form := url.Values{}
	form.Set("To", FormatPhoneNumber(to))
	form.Set("From", c.fromNumber)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", apiBase, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read twilio response: %w", err)
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse twilio response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("twilio returned status %d: %s", resp.StatusCode, parsed.Message)
	}

	return parsed.SID, nil
}

// VerifySignature checks the X-Twilio-Signature header on an inbound
// webhook: HMAC-SHA1 over the full URL plus the form parameters sorted by
// key, keyed with the auth token.
func (c *Client) VerifySignature(fullURL string, form url.Values, signature string) bool {
	if c.authToken == "" {
		// No token configured: skip verification (local development).
		return true
	}

	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	payload := fullURL
	for _, k := range keys {
		payload += k + form.Get(k)
	}

	mac := hmac.New(sha1.New, []byte(c.authToken))
	mac.Write([]byte(payload))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// FormatPhoneNumber normalizes a phone number to E.164, assuming US when
// no country code is present.
func FormatPhoneNumber(phone string) string {
	if strings.HasPrefix(phone, "+") {
		return phone
	}
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	return "+1" + cleaned
}

// InboundParams are the form fields Twilio posts to the SMS webhook.
type InboundParams struct {
	From       string `form:"From" binding:"required"`
	To         string `form:"To"`
	Body       string `form:"Body"`
	MessageSID string `form:"MessageSid"`
}
