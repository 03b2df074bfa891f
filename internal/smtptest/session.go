package smtptest

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/comment-notifier/internal/parser"
)

// Session states.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

const idleTimeout = 10 * time.Second

const maxMessageSize = 10 * 1024 * 1024

type session struct {
	srv    *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	state  int

	tlsActive bool
}

func newSession(srv *Server, conn net.Conn) *session {
	_, implicit := conn.(*tls.Conn)
	return &session{
		srv:       srv,
		conn:      conn,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
		state:     stateConnected,
		tlsActive: implicit,
	}
}

func (s *session) script() Script {
	return s.srv.script
}

// handle runs the command loop until QUIT, a stall, or a read error.
func (s *session) handle() {
	defer s.conn.Close()

	if s.script().Stall[Connect] {
		s.stall()
		return
	}
	greeting := s.script().Greeting
	if greeting == "" {
		greeting = "220 localhost ESMTP smtptest"
	}
	s.writeReply(greeting)

	for {
		line, err := s.readLine()
		if err != nil {
			if err != io.EOF {
				slog.Debug("smtptest: read error", "error", err)
			}
			return
		}
		if line == "" {
			continue
		}

		s.srv.record(line)
		cmd, arg := parseCommand(line)

		if s.script().Stall[cmd] {
			s.stall()
			return
		}
		if done := s.handleCommand(cmd, arg); done {
			return
		}
	}
}

func (s *session) handleCommand(cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		return s.handleSTARTTLS()
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		return s.handleDATA()
	case "RSET":
		if s.state > stateGreeted {
			s.resetTransaction()
		}
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.reply("QUIT", "221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	if cmd == "HELO" {
		if s.reply(cmd, "250 localhost Hello "+arg) {
			s.state = stateGreeted
		}
		return
	}

	lines := []string{"250-localhost Hello " + arg}
	if s.script().StartTLS && !s.tlsActive {
		lines = append(lines, "250-STARTTLS")
	}
	if s.srv.auth.Enabled() {
		lines = append(lines, "250-AUTH LOGIN")
	}
	lines = append(lines, fmt.Sprintf("250-SIZE %d", maxMessageSize), "250 OK")

	if s.reply(cmd, strings.Join(lines, "\r\n")) {
		s.state = stateGreeted
	}
}

// handleSTARTTLS upgrades the connection. It returns true when the session
// cannot continue.
func (s *session) handleSTARTTLS() bool {
	if !s.script().StartTLS {
		s.writeLine("454 TLS not available")
		return false
	}
	if s.tlsActive {
		s.writeLine("454 TLS already active")
		return false
	}
	if !s.reply("STARTTLS", "220 Ready to start TLS") {
		return false
	}

	if s.script().BreakTLS {
		s.writeLine("this is not a TLS handshake")
		return true
	}

	tlsConn := tls.Server(s.conn, s.srv.certs.ServerConfig())
	if err := tlsConn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
		return true
	}
	if err := tlsConn.Handshake(); err != nil {
		slog.Debug("smtptest: TLS handshake failed", "error", err)
		return true
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
	return false
}

func (s *session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !s.srv.auth.Enabled() {
		s.writeLine("503 AUTH not available")
		return
	}
	if mechanism, _, _ := strings.Cut(arg, " "); !strings.EqualFold(mechanism, "LOGIN") {
		s.writeLine("504 Unrecognized authentication type")
		return
	}

	if !s.reply("AUTH", "334 VXNlcm5hbWU6") {
		return
	}
	encodedUser, err := s.readCredential()
	if err != nil {
		return
	}
	if encodedUser == "*" {
		s.writeLine("501 Authentication cancelled")
		return
	}

	s.writeLine("334 UGFzc3dvcmQ6")
	encodedPass, err := s.readCredential()
	if err != nil {
		return
	}
	if encodedPass == "*" {
		s.writeLine("501 Authentication cancelled")
		return
	}

	if err := s.srv.auth.VerifyLogin(encodedUser, encodedPass); err != nil {
		s.writeLine("535 5.7.8 Authentication credentials invalid")
		return
	}

	s.state = stateAuthOK
	s.writeLine("235 2.7.0 Authentication successful")
}

// readCredential reads one AUTH LOGIN response line, recording it like any
// other command.
func (s *session) readCredential() (string, error) {
	line, err := s.readLine()
	if err != nil {
		slog.Debug("smtptest: failed to read AUTH LOGIN response", "error", err)
		return "", err
	}
	s.srv.record(line)
	return line, nil
}

func (s *session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if s.srv.auth.Enabled() && s.state < stateAuthOK {
		s.writeLine("530 Authentication required")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") || extractAddress(arg[5:]) == "" {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	if s.reply("MAIL", "250 OK") {
		s.state = stateMailFrom
	}
}

func (s *session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") || extractAddress(arg[3:]) == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	if s.reply("RCPT", "250 OK") {
		s.state = stateRcptTo
	}
}

// handleDATA reads the payload up to the terminator line, undoing
// dot-stuffing. It returns true when the session must end.
func (s *session) handleDATA() bool {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return false
	}
	if !s.reply("DATA", "354 Start mail input; end with <CRLF>.<CRLF>") {
		return false
	}

	var data strings.Builder
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			slog.Debug("smtptest: error reading DATA", "error", err)
			return true
		}
		if line == ".\r\n" || line == ".\n" {
			break
		}
		if strings.HasPrefix(line, ".") {
			line = line[1:]
		}
		data.WriteString(line)
	}

	if s.script().Stall[EndOfData] {
		s.stall()
		return true
	}

	raw := []byte(data.String())
	msg, err := parser.Parse(raw)
	if err != nil {
		slog.Debug("smtptest: failed to parse message", "error", err)
		s.writeLine("550 Failed to process message")
		s.resetTransaction()
		return false
	}

	if s.reply(EndOfData, "250 OK message queued") {
		s.srv.accept(raw, msg)
	}
	s.resetTransaction()
	return false
}

func (s *session) resetTransaction() {
	if s.srv.auth.Enabled() {
		s.state = stateAuthOK
	} else {
		s.state = stateGreeted
	}
}

// reply writes the scripted override for key, or def, and reports whether
// the reply written is a positive one.
func (s *session) reply(key, def string) bool {
	text := def
	if override, ok := s.script().Replies[key]; ok {
		text = override
	}
	s.writeReply(text)

	code, _ := strconv.Atoi(text[:min(3, len(text))])
	return code > 0 && code < 400
}

// stall stops answering and waits for the client to go away.
func (s *session) stall() {
	_ = s.conn.SetDeadline(time.Now().Add(idleTimeout))
	_, _ = io.Copy(io.Discard, s.conn)
}

func (s *session) readLine() (string, error) {
	if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
		return "", err
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// writeReply writes a possibly multi-line reply.
func (s *session) writeReply(text string) {
	for _, line := range strings.Split(text, "\r\n") {
		s.writeLine("%s", line)
	}
}

func (s *session) writeLine(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		slog.Debug("smtptest: failed to write", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Debug("smtptest: failed to flush", "error", err)
	}
}

// parseCommand splits a command line into the upper-cased verb and its argument.
func parseCommand(line string) (string, string) {
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd), arg
}

// extractAddress returns the address inside angle brackets, or the bare value.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return ""
		}
		return s[1:end]
	}
	return s
}
