// Package provider defines the interface for notification mail backends.
package provider

import (
	"context"

	"github.com/shineum/comment-notifier/internal/email"
)

// Provider delivers one rendered notification mail. Implementations make a
// single attempt; failures are reported, never retried.
type Provider interface {
	// Send delivers e. On success it may set e.MessageID.
	Send(ctx context.Context, e *email.Email) error

	// Name returns the human-readable name of this provider.
	Name() string
}
