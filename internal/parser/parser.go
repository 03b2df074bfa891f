// Package parser decodes a received RFC 5322 message back into an email.Email.
// It is the receiving half of the notification pipeline and is used to verify
// what actually went over the wire.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/shineum/comment-notifier/internal/email"
)

var wordDecoder = new(mime.WordDecoder)

// Parse parses a raw message. Address headers and the subject are decoded
// from RFC 2047 encoded-words; the body is decoded according to its
// Content-Transfer-Encoding. For multipart messages the HTML part wins over
// the plain text one.
func Parse(raw []byte) (*email.Email, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &email.Email{MessageID: msg.Header.Get("Message-Id")}

	result.Envelope.FromName, result.Envelope.FromAddress = parseAddress(msg.Header.Get("From"))
	result.Envelope.ToName, result.Envelope.ToAddress = parseAddress(msg.Header.Get("To"))

	subject, err := wordDecoder.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		slog.Warn("failed to decode subject, keeping raw value", "error", err)
		subject = msg.Header.Get("Subject")
	}
	result.Message.Subject = subject

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	cte := msg.Header.Get("Content-Transfer-Encoding")

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		body, err := decodeBody(msg.Body, cte)
		if err != nil {
			return nil, err
		}
		result.Message.Body = string(body)
		return result, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		body, err := parseMultipart(msg.Body, boundary)
		if err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		result.Message.Body = body
		return result, nil
	}

	body, err := decodeBody(msg.Body, cte)
	if err != nil {
		return nil, err
	}
	result.Message.Body = string(body)
	return result, nil
}

// parseMultipart returns the first text/html part, or the first text/plain
// part when there is no HTML.
func parseMultipart(body io.Reader, boundary string) (string, error) {
	reader := multipart.NewReader(body, boundary)

	var text, html string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read next part: %w", err)
		}

		partType := part.Header.Get("Content-Type")
		if partType == "" {
			partType = "text/plain"
		}
		mediaType, params, err := mime.ParseMediaType(partType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			nested, err := parseMultipart(part, params["boundary"])
			if err != nil {
				slog.Warn("failed to parse nested multipart", "error", err)
				continue
			}
			if html == "" {
				html = nested
			}
			continue
		}

		// multipart.Reader already strips quoted-printable and drops the header.
		content, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			slog.Warn("failed to read part content", "content_type", mediaType, "error", err)
			continue
		}

		switch mediaType {
		case "text/html":
			if html == "" {
				html = string(content)
			}
		case "text/plain":
			if text == "" {
				text = string(content)
			}
		default:
			slog.Debug("skipping non-text MIME part", "content_type", mediaType)
		}
	}

	if html != "" {
		return html, nil
	}
	return text, nil
}

// decodeBody reads r and undoes the named transfer encoding. Unknown
// encodings (7bit, 8bit, binary) are returned as is.
func decodeBody(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read message body: %w", err)
		}
		cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 content: %w", err)
			}
		}
		return decoded, nil
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(r))
		if err != nil {
			return nil, fmt.Errorf("failed to decode quoted-printable content: %w", err)
		}
		return decoded, nil
	default:
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read message body: %w", err)
		}
		return raw, nil
	}
}

// parseAddress splits a single address header into display name and
// address. Unparseable values are returned whole as the address.
func parseAddress(raw string) (name, addr string) {
	if raw == "" {
		return "", ""
	}
	parsed, err := mail.ParseAddress(raw)
	if err != nil {
		return "", strings.TrimSpace(raw)
	}
	return parsed.Name, parsed.Address
}
