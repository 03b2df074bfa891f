// Package smtpclient implements a single-shot SMTP submission client that
// speaks the protocol directly over a socket: greeting, optional STARTTLS or
// implicit TLS, AUTH LOGIN, one sender, one recipient, one HTML message.
//
// Each Send opens its own connection, delivers exactly one message and closes
// the connection before returning. There is no pooling and no retry.
package smtpclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shineum/comment-notifier/internal/email"
)

// Client delivers messages with a fixed ConnectionConfig. It holds no
// connection state between calls and is safe for concurrent use.
type Client struct {
	cfg  ConnectionConfig
	dial DialFunc
	now  func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the TCP dialer, e.g. with an in-memory transport.
func WithDialer(d DialFunc) Option {
	return func(c *Client) { c.dial = d }
}

// WithClock sets the time source used for the Date header.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New returns a Client for cfg.
func New(cfg ConnectionConfig, opts ...Option) *Client {
	c := &Client{
		cfg:  cfg.withDefaults(),
		dial: Dial,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration, defaults applied.
func (c *Client) Config() ConnectionConfig {
	return c.cfg
}

var errHeaderInjection = errors.New("address contains a line break")

// Send connects, authenticates if credentials are configured, transmits e and
// disconnects. On success e.MessageID is set. The transcript is non-nil only
// when Debug is enabled and is returned on failure too.
//
// ctx bounds the dial; every reply read is bounded by the configured Timeout.
// Failures are *Error values matching ErrConnection, ErrProtocol, ErrCrypto
// or ErrAuth.
func (c *Client) Send(ctx context.Context, e *email.Email) (Transcript, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("smtp: %w", err)
	}
	from, to := e.Envelope.FromAddress, e.Envelope.ToAddress
	if strings.ContainsAny(from, "\r\n") || strings.ContainsAny(to, "\r\n") {
		return nil, fmt.Errorf("smtp: %w", errHeaderInjection)
	}

	messageID := newMessageID(c.cfg.Host)
	payload := dataPayload(buildMessage(e, c.now(), messageID))

	s := &session{
		cfg: c.cfg,
		rec: recorder{enabled: c.cfg.Debug},
	}
	if err := s.run(ctx, c.dial, from, to, payload); err != nil {
		return s.rec.transcript(), err
	}

	e.MessageID = messageID
	return s.rec.transcript(), nil
}
