// Package email defines the mail data model shared by the SMTP client,
// delivery providers and the notifier.
package email

import (
	"errors"
	"fmt"
	"strings"
)

// Envelope identifies the single sender and the single recipient of a message.
// Addresses are not validated beyond non-emptiness.
type Envelope struct {
	FromAddress string
	FromName    string
	ToAddress   string
	ToName      string
}

// Message holds the already rendered content of a notification.
// Both fields may contain non-ASCII text.
type Message struct {
	Subject string
	Body    string // HTML
}

// Email is one deliverable message: who it goes to and what it says.
type Email struct {
	Envelope Envelope
	Message  Message

	// MessageID is filled in by the transport that generated it, if any.
	MessageID string
}

// ErrEmptyAddress is returned by Validate when an envelope address is missing.
var ErrEmptyAddress = errors.New("empty envelope address")

// Validate checks that both envelope addresses are present.
func (e *Email) Validate() error {
	if strings.TrimSpace(e.Envelope.FromAddress) == "" {
		return fmt.Errorf("from: %w", ErrEmptyAddress)
	}
	if strings.TrimSpace(e.Envelope.ToAddress) == "" {
		return fmt.Errorf("to: %w", ErrEmptyAddress)
	}
	return nil
}
