// Package smtp implements a Provider that submits notification mail to an
// SMTP server through smtpclient.
package smtp

import (
	"context"
	"log/slog"

	"github.com/shineum/comment-notifier/internal/email"
	"github.com/shineum/comment-notifier/internal/smtpclient"
)

// Provider delivers each message over a fresh SMTP connection.
type Provider struct {
	client *smtpclient.Client
	logger *slog.Logger
}

// New creates a Provider for cfg. Extra options are passed to the client.
func New(cfg smtpclient.ConnectionConfig, logger *slog.Logger, opts ...smtpclient.Option) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		client: smtpclient.New(cfg, opts...),
		logger: logger.With("provider", "smtp"),
	}
}

// Send delivers e. With Debug enabled the protocol transcript is logged at
// debug level, whether or not delivery succeeded.
func (p *Provider) Send(ctx context.Context, e *email.Email) error {
	cfg := p.client.Config()
	transcript, err := p.client.Send(ctx, e)
	if transcript != nil {
		p.logger.Debug("SMTP transcript",
			"host", cfg.Host,
			"to", e.Envelope.ToAddress,
			"transcript", transcript.String(),
		)
	}
	if err != nil {
		attrs := []any{"host", cfg.Host, "port", cfg.Port, "security", cfg.Security.String(), "error", err}
		if kind := smtpclient.KindOf(err); kind != 0 {
			attrs = append(attrs, "kind", kind.String())
		}
		p.logger.Warn("SMTP delivery failed", attrs...)
		return err
	}

	p.logger.Info("SMTP delivery succeeded",
		"host", cfg.Host,
		"to", e.Envelope.ToAddress,
		"message_id", e.MessageID,
	)
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}
