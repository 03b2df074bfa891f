package smtpclient

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// Reply codes used by the delivery sequence (RFC 5321 §4.2).
const (
	codeServiceReady   = 220
	codeAuthOK         = 235
	codeOK             = 250
	codeUserNotLocal   = 251
	codeAuthContinue   = 334
	codeStartMailInput = 354
)

// maxReplyLines caps continuation lines so a misbehaving server cannot grow
// a reply without bound inside the read deadline.
const maxReplyLines = 512

var errReplyTooLong = errors.New("reply exceeds line limit")

// Reply is one logical server response, possibly assembled from several lines.
type Reply struct {
	Code int
	Text string // lines joined with "\n", CRLF stripped
}

// isFinalLine reports whether line ends a reply: the fourth character is a
// space rather than a hyphen. A bare three-digit line also ends it.
func isFinalLine(line string) bool {
	if len(line) == 3 {
		return true
	}
	return len(line) > 3 && line[3] == ' '
}

// parseCode returns the numeric three-digit prefix of text, or 0.
func parseCode(text string) int {
	if len(text) < 3 {
		return 0
	}
	code, err := strconv.Atoi(text[:3])
	if err != nil || code < 0 {
		return 0
	}
	return code
}

// readReply reads lines until the final line of a reply. The whole reply must
// arrive within timeout.
func readReply(t Transport, timeout time.Duration) (Reply, error) {
	deadline := time.Now().Add(timeout)

	var lines []string
	for {
		line, err := t.ReadLine(deadline)
		if err != nil {
			return Reply{Text: strings.Join(lines, "\n")}, err
		}

		line = strings.TrimRight(line, "\r\n")
		lines = append(lines, line)
		if isFinalLine(line) {
			break
		}
		if len(lines) >= maxReplyLines {
			return Reply{Text: strings.Join(lines, "\n")}, errReplyTooLong
		}
	}

	text := strings.Join(lines, "\n")
	return Reply{Code: parseCode(text), Text: text}, nil
}
