// Package llm is a minimal client for OpenAI-compatible chat completion APIs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a completion request when Config.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is kept in an APIError.
const maxErrorBody = 512

// Config describes one chat completion endpoint.
type Config struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client sends chat completion requests. It is safe for concurrent use.
type Client struct {
	url        string
	apiKey     string
	model      string
	httpClient *http.Client
}

// New creates a Client for cfg.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewWithHTTPClient(cfg, &http.Client{Timeout: timeout})
}

// NewWithHTTPClient creates a Client that uses hc, used for testing.
func NewWithHTTPClient(cfg Config, hc *http.Client) *Client {
	return &Client{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: hc,
	}
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call.
type Request struct {
	Messages    []Message
	JSON        bool // ask for a JSON object response
	Temperature float64
	MaxTokens   int
}

type responseFormat struct {
	Type string `json:"type"`
}

type requestBody struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
}

type responseBody struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Result string `json:"result"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ErrEmptyResponse is returned when the model produced no content.
var ErrEmptyResponse = errors.New("empty completion")

// APIError describes a failed request. Transient errors may succeed when
// tried again later; callers here never retry on their own.
type APIError struct {
	StatusCode int
	Message    string
	Transient  bool
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("LLM API request failed: %s", e.Message)
	}
	return fmt.Sprintf("LLM API error (HTTP %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is an APIError marked transient.
func IsTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Transient
}

// Complete sends req and returns the trimmed text of the first choice, or
// of the "result" field some gateways use instead.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	body := requestBody{
		Model:       c.model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(bodyJSON))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &APIError{Message: err.Error(), Transient: true, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &APIError{StatusCode: resp.StatusCode, Message: err.Error(), Transient: true, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyError(resp.StatusCode, data)
	}

	var out responseBody
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode completion: %w", err)
	}

	content := out.Result
	if len(out.Choices) > 0 {
		content = out.Choices[0].Message.Content
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// classifyError turns a non-200 response into an APIError.
func classifyError(status int, body []byte) *APIError {
	msg := strings.TrimSpace(string(body))
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Message != "" {
		msg = eb.Error.Message
	}
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}

	return &APIError{
		StatusCode: status,
		Message:    msg,
		Transient:  status == http.StatusTooManyRequests || status >= 500,
	}
}
