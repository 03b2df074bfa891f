package smtpclient

import (
	"context"
	"strings"
	"time"
)

// fakeTransport is an in-memory Transport. The banner is readable at once;
// each Write releases the next scripted reply. When the script runs out,
// reads time out.
type fakeTransport struct {
	pending    []string
	replies    []string
	writes     []string
	upgradeErr error
	upgraded   bool
	closed     int
}

func newFakeTransport(banner string, replies ...string) *fakeTransport {
	f := &fakeTransport{replies: replies}
	if banner != "" {
		f.pending = splitReply(banner)
	}
	return f
}

// splitReply turns "250-a\r\n250 b" into terminated wire lines.
func splitReply(reply string) []string {
	parts := strings.Split(reply, "\r\n")
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		lines = append(lines, p+"\r\n")
	}
	return lines
}

func (f *fakeTransport) Write(p []byte) error {
	f.writes = append(f.writes, string(p))
	if len(f.replies) > 0 {
		next := f.replies[0]
		f.replies = f.replies[1:]
		if next != "" {
			f.pending = append(f.pending, splitReply(next)...)
		}
	}
	return nil
}

func (f *fakeTransport) ReadLine(time.Time) (string, error) {
	if len(f.pending) == 0 {
		return "", ErrTimeout
	}
	line := f.pending[0]
	f.pending = f.pending[1:]
	return line, nil
}

func (f *fakeTransport) UpgradeEncryption(time.Time) error {
	f.upgraded = true
	return f.upgradeErr
}

func (f *fakeTransport) Close() error {
	f.closed++
	return nil
}

// commands returns the command lines written, with the DATA payload
// collapsed to a marker.
func (f *fakeTransport) commands() []string {
	cmds := make([]string, 0, len(f.writes))
	for _, w := range f.writes {
		if strings.Count(w, "\r\n") > 1 {
			cmds = append(cmds, "<payload>")
			continue
		}
		cmds = append(cmds, strings.TrimSuffix(w, "\r\n"))
	}
	return cmds
}

func (f *fakeTransport) dial(context.Context, ConnectionConfig) (Transport, error) {
	return f, nil
}
