package smtpclient

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/comment-notifier/internal/email"
)

// Mailer is the X-Mailer header value.
const Mailer = "comment-notifier/1.0"

// bodyLineLength is the base64 line width from RFC 2045.
const bodyLineLength = 76

const crlf = "\r\n"

// needsEncoding reports whether s has any byte outside printable ASCII.
func needsEncoding(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return true
		}
	}
	return false
}

// encodeHeader returns s unchanged when it is printable ASCII, otherwise as a
// single RFC 2047 "B" encoded-word.
func encodeHeader(s string) string {
	if !needsEncoding(s) {
		return s
	}
	return "=?UTF-8?B?" + base64.StdEncoding.EncodeToString([]byte(s)) + "?="
}

// formatAddress renders `"Name" <address>`. Names needing encoding are sent as
// a bare encoded-word, since encoded-words are not decoded inside quotes.
func formatAddress(name, addr string) string {
	switch {
	case name == "":
		return "<" + addr + ">"
	case needsEncoding(name):
		return encodeHeader(name) + " <" + addr + ">"
	default:
		quoted := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name)
		return `"` + quoted + `" <` + addr + ">"
	}
}

// wrapBase64 encodes data and breaks it into CRLF-separated lines of
// bodyLineLength characters; only the last line may be shorter.
func wrapBase64(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)

	var b strings.Builder
	b.Grow(len(encoded) + len(encoded)/bodyLineLength*2)
	for i := 0; i < len(encoded); i += bodyLineLength {
		if i > 0 {
			b.WriteString(crlf)
		}
		end := i + bodyLineLength
		if end > len(encoded) {
			end = len(encoded)
		}
		b.WriteString(encoded[i:end])
	}
	return b.String()
}

// newMessageID returns a fresh Message-ID scoped to host.
func newMessageID(host string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "<" + token + "@" + host + ">"
}

// buildMessage assembles headers, the blank separator line and the base64 body.
func buildMessage(e *email.Email, now time.Time, messageID string) string {
	env := e.Envelope
	headers := []string{
		"Date: " + now.Format(time.RFC1123Z),
		"From: " + formatAddress(env.FromName, env.FromAddress),
		"To: " + formatAddress(env.ToName, env.ToAddress),
		"Subject: " + encodeHeader(e.Message.Subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
		"Content-Transfer-Encoding: base64",
		"X-Mailer: " + Mailer,
		"Message-ID: " + messageID,
	}

	return strings.Join(headers, crlf) + crlf + crlf + wrapBase64([]byte(e.Message.Body))
}

// dotStuff doubles the leading dot of every line that starts with one, so no
// content line can be read as the end-of-data marker (RFC 5321 §4.5.2).
func dotStuff(msg string) string {
	lines := strings.Split(msg, crlf)
	for i, line := range lines {
		if strings.HasPrefix(line, ".") {
			lines[i] = "." + line
		}
	}
	return strings.Join(lines, crlf)
}

// dataPayload is the full DATA transmission: the stuffed message followed by
// the unescaped terminator line.
func dataPayload(msg string) []byte {
	stuffed := dotStuff(msg)
	if !strings.HasSuffix(stuffed, crlf) {
		stuffed += crlf
	}
	return []byte(stuffed + "." + crlf)
}
