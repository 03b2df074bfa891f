// Package serverchan sends push notifications through ServerChan.
package serverchan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Timeout bounds one push request.
const Timeout = 10 * time.Second

const maxErrorBody = 512

// Message is one push notification. Empty fields are not sent.
type Message struct {
	Title string `json:"title,omitempty"`
	Desp  string `json:"desp,omitempty"`
	Tags  string `json:"tags,omitempty"`
	Short string `json:"short,omitempty"`
}

// Client pushes messages for one SendKey.
type Client struct {
	url        string
	httpClient *http.Client
}

// New creates a Client for sendKey.
func New(sendKey string) *Client {
	return NewWithURL(URL(sendKey), &http.Client{Timeout: Timeout})
}

// NewWithURL creates a Client posting to url, used for testing.
func NewWithURL(url string, hc *http.Client) *Client {
	return &Client{url: url, httpClient: hc}
}

// URL returns the push endpoint for sendKey. SC3 keys start with "sctp".
func URL(sendKey string) string {
	if strings.HasPrefix(sendKey, "sctp") {
		return "https://" + sendKey + ".push.ft07.com/send"
	}
	return "https://sctapi.ftqq.com/" + sendKey + ".send"
}

// APIError is returned when ServerChan refuses a push.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != http.StatusOK {
		return fmt.Sprintf("ServerChan error (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ServerChan error (code %d): %s", e.Code, e.Message)
}

type response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send pushes msg.
func (c *Client) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json;charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ServerChan request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read ServerChan response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: truncate(string(data))}
	}

	var out response
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to decode ServerChan response: %w", err)
	}
	if out.Code != 0 {
		return &APIError{StatusCode: http.StatusOK, Code: out.Code, Message: out.Message}
	}
	return nil
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
