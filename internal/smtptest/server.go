// Package smtptest runs a scripted SMTP server on a loopback listener for
// exercising SMTP clients end to end: plain, STARTTLS and implicit TLS
// sessions, AUTH LOGIN, and injected failures such as rejected commands,
// missing replies and broken TLS handshakes.
package smtptest

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shineum/comment-notifier/internal/email"
	tlsutil "github.com/shineum/comment-notifier/internal/tls"
)

// EndOfData is the Replies/Stall key for the reply to the message payload.
const EndOfData = "."

// Connect is the Stall key that suppresses the greeting.
const Connect = "CONNECT"

// Script controls how the server behaves. The zero value is a well-behaved
// plain-text server without authentication.
type Script struct {
	// Greeting replaces the default "220 localhost ESMTP" banner.
	Greeting string

	// Replies overrides the success reply of a verb ("EHLO", "MAIL", "RCPT",
	// "DATA", "AUTH", EndOfData, ...). Multi-line replies are separated by
	// "\r\n". An override with a 4xx/5xx code also prevents the state change.
	Replies map[string]string

	// Stall lists verbs that never get a reply. The session then waits for the
	// client to hang up.
	Stall map[string]bool

	// StartTLS advertises and accepts STARTTLS.
	StartTLS bool

	// BreakTLS answers STARTTLS with 220 but then sends garbage instead of a
	// TLS handshake.
	BreakTLS bool

	// ImplicitTLS wraps the listener in TLS from the first byte.
	ImplicitTLS bool

	// Username and Password, when both set, make AUTH LOGIN mandatory.
	Username string
	Password string
}

// Server is a running scripted server.
type Server struct {
	script Script
	auth   *Authenticator
	certs  *tlsutil.SelfSigned
	ln     net.Listener

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	commands []string
	raw      [][]byte
	messages []*email.Email

	wg sync.WaitGroup
}

// Start launches a server for script and registers its shutdown with t.
func Start(t testing.TB, script Script) *Server {
	t.Helper()

	certs, err := tlsutil.GenerateSelfSigned()
	if err != nil {
		t.Fatalf("smtptest: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("smtptest: failed to listen: %v", err)
	}
	if script.ImplicitTLS {
		ln = tls.NewListener(ln, certs.ServerConfig())
	}

	s := &Server{
		script: script,
		auth:   NewAuthenticator(script.Username, script.Password),
		certs:  certs,
		ln:     ln,
		conns:  make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)

	return s
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess := newSession(s, conn)
			sess.handle()

			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

// Close stops the listener, drops open connections and waits for sessions.
func (s *Server) Close() {
	_ = s.ln.Close()

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		slog.Warn("smtptest: sessions still running after close")
	}
}

// Host returns the listener IP.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.ln.Addr().String())
	return host
}

// Port returns the listener port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.ln.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// CertPool trusts the server's self-signed certificate.
func (s *Server) CertPool() *x509.CertPool {
	return s.certs.Pool()
}

// ClientTLSConfig is a client config that trusts the server.
func (s *Server) ClientTLSConfig() *tls.Config {
	return &tls.Config{
		RootCAs:    s.CertPool(),
		ServerName: s.Host(),
		MinVersion: tls.VersionTLS12,
	}
}

// Commands returns every command line received so far, in order, across
// all sessions. Message payloads are not included.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Messages returns the accepted messages, parsed.
func (s *Server) Messages() []*email.Email {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*email.Email(nil), s.messages...)
}

// RawMessages returns the accepted messages after dot-unstuffing, as they
// were received between DATA and the terminator.
func (s *Server) RawMessages() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.raw...)
}

func (s *Server) record(line string) {
	s.mu.Lock()
	s.commands = append(s.commands, line)
	s.mu.Unlock()
}

func (s *Server) accept(raw []byte, msg *email.Email) {
	s.mu.Lock()
	s.raw = append(s.raw, raw)
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}
