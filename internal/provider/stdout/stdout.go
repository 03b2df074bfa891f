// Package stdout implements a Provider that prints notification mail to
// standard output. It is meant for dry runs and local development.
package stdout

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"sync"

	"github.com/shineum/comment-notifier/internal/email"
)

const separator = "========================================\n"

// Provider prints messages in a human-readable format.
type Provider struct {
	mu sync.Mutex
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the message. Write failures are not reported.
func (p *Provider) Send(_ context.Context, e *email.Email) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("stdout: %w", err)
	}

	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "From: %s\n", formatAddress(e.Envelope.FromName, e.Envelope.FromAddress))
	fmt.Fprintf(&b, "To: %s\n", formatAddress(e.Envelope.ToName, e.Envelope.ToAddress))
	fmt.Fprintf(&b, "Subject: %s\n", e.Message.Subject)
	fmt.Fprintf(&b, "Body (%s):\n", formatSize(len(e.Message.Body)))
	b.WriteString(e.Message.Body + "\n")
	b.WriteString(separator)

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.writer, b.String())

	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatAddress renders a display name without MIME encoding, since the
// output is read by people.
func formatAddress(name, address string) string {
	if name == "" {
		return address
	}
	if strings.ContainsAny(name, `",<>@`) {
		return (&mail.Address{Name: name, Address: address}).String()
	}
	return fmt.Sprintf("%s <%s>", name, address)
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
