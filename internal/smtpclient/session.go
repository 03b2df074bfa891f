package smtpclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"time"
)

// state is a position in the delivery sequence. States only move forward.
type state int

const (
	stateDisconnected state = iota
	stateConnected
	stateGreeted
	stateTLSNegotiating
	stateAuthenticated // or skipped
	stateSenderAccepted
	stateRecipientAccepted
	stateDataPhase
	stateCompleted
	stateClosed
)

var stateNames = map[state]string{
	stateDisconnected:      "disconnected",
	stateConnected:         "connected",
	stateGreeted:           "greeted",
	stateTLSNegotiating:    "tls-negotiating",
	stateAuthenticated:     "authenticated",
	stateSenderAccepted:    "sender-accepted",
	stateRecipientAccepted: "recipient-accepted",
	stateDataPhase:         "data",
	stateCompleted:         "completed",
	stateClosed:            "closed",
}

func (s state) String() string {
	return stateNames[s]
}

// step is one command/response exchange of the sequence.
type step int

const (
	stepBanner step = iota
	stepEhlo
	stepHelo
	stepStartTLS
	stepAuth
	stepAuthUser
	stepAuthPass
	stepMailFrom
	stepRcptTo
	stepData
	stepMessage
	stepQuit
)

// contract is what a step requires and produces.
type contract struct {
	name      string  // command name reported in errors
	from      []state // states the step may start from
	accept    []int   // reply codes accepted; empty means unchecked
	kind      Kind    // failure kind on an unaccepted reply
	sensitive bool    // mask the command in the transcript
	next      state   // state after an accepted reply; 0 keeps the current one
}

var contracts = map[step]contract{
	stepBanner: {
		name: "CONNECT", from: []state{stateDisconnected},
		accept: []int{codeServiceReady}, kind: KindConnection, next: stateConnected,
	},
	stepEhlo: {
		name: "EHLO", from: []state{stateConnected, stateTLSNegotiating},
		accept: []int{codeOK}, kind: KindProtocol, next: stateGreeted,
	},
	stepHelo: {
		name: "EHLO/HELO", from: []state{stateConnected, stateTLSNegotiating},
		accept: []int{codeOK}, kind: KindProtocol, next: stateGreeted,
	},
	stepStartTLS: {
		name: "STARTTLS", from: []state{stateGreeted},
		accept: []int{codeServiceReady}, kind: KindProtocol, next: stateTLSNegotiating,
	},
	stepAuth: {
		name: "AUTH LOGIN", from: []state{stateGreeted},
		accept: []int{codeAuthContinue}, kind: KindAuth,
	},
	stepAuthUser: {
		name: "AUTH LOGIN username", from: []state{stateGreeted},
		accept: []int{codeAuthContinue}, kind: KindAuth, sensitive: true,
	},
	stepAuthPass: {
		name: "AUTH LOGIN password", from: []state{stateGreeted},
		accept: []int{codeAuthOK}, kind: KindAuth, sensitive: true, next: stateAuthenticated,
	},
	stepMailFrom: {
		name: "MAIL FROM", from: []state{stateAuthenticated},
		accept: []int{codeOK}, kind: KindProtocol, next: stateSenderAccepted,
	},
	stepRcptTo: {
		name: "RCPT TO", from: []state{stateSenderAccepted},
		accept: []int{codeOK, codeUserNotLocal}, kind: KindProtocol, next: stateRecipientAccepted,
	},
	stepData: {
		name: "DATA", from: []state{stateRecipientAccepted},
		accept: []int{codeStartMailInput}, kind: KindProtocol, next: stateDataPhase,
	},
	stepMessage: {
		name: "DATA payload", from: []state{stateDataPhase},
		accept: []int{codeOK}, kind: KindProtocol, next: stateCompleted,
	},
	stepQuit: {
		name: "QUIT", from: []state{stateCompleted},
	},
}

var errOutOfSequence = errors.New("command out of sequence")

// session is the state of one delivery attempt. It owns its transport
// exclusively and never outlives Client.Send.
type session struct {
	cfg   ConnectionConfig
	t     Transport
	state state
	rec   recorder
}

// run drives the whole sequence. The transport is closed on every return path.
func (s *session) run(ctx context.Context, dial DialFunc, from, to string, payload []byte) error {
	t, err := dial(ctx, s.cfg)
	if err != nil {
		return &Error{Kind: KindConnection, Command: "CONNECT", Err: err}
	}
	s.t = t
	defer s.close()

	if _, err := s.exchange(stepBanner, nil, ""); err != nil {
		return err
	}
	if err := s.greet(); err != nil {
		return err
	}
	if s.cfg.Security == SecurityStartTLS {
		if err := s.startTLS(); err != nil {
			return err
		}
	}
	if err := s.authenticate(); err != nil {
		return err
	}
	if err := s.cmd(stepMailFrom, "MAIL FROM:<"+from+">"); err != nil {
		return err
	}
	if err := s.cmd(stepRcptTo, "RCPT TO:<"+to+">"); err != nil {
		return err
	}
	if err := s.cmd(stepData, "DATA"); err != nil {
		return err
	}
	if _, err := s.exchange(stepMessage, payload, string(payload)); err != nil {
		return err
	}

	// The message is accepted at this point; QUIT is a courtesy.
	_ = s.cmd(stepQuit, "QUIT")
	return nil
}

// greet sends EHLO and falls back once to HELO if the server rejects it.
func (s *session) greet() error {
	err := s.cmd(stepEhlo, "EHLO "+s.cfg.LocalName)
	if err == nil {
		return nil
	}

	var se *Error
	if !errors.As(err, &se) || se.Code == 0 {
		// Transport failure rather than a rejection.
		return err
	}
	return s.cmd(stepHelo, "HELO "+s.cfg.LocalName)
}

// startTLS upgrades the connection in place and greets again, since the
// server may advertise different capabilities over TLS.
func (s *session) startTLS() error {
	if err := s.cmd(stepStartTLS, "STARTTLS"); err != nil {
		return err
	}

	deadline := time.Now().Add(s.cfg.Timeout)
	if err := s.t.UpgradeEncryption(deadline); err != nil {
		return &Error{Kind: KindCrypto, Command: "STARTTLS", Err: err}
	}

	return s.greet()
}

// authenticate runs AUTH LOGIN, or records the step as skipped when no
// credentials are configured.
func (s *session) authenticate() error {
	if !s.cfg.AuthEnabled() {
		s.state = stateAuthenticated
		return nil
	}

	if err := s.cmd(stepAuth, "AUTH LOGIN"); err != nil {
		return err
	}
	if err := s.cmd(stepAuthUser, base64.StdEncoding.EncodeToString([]byte(s.cfg.Username))); err != nil {
		return err
	}
	return s.cmd(stepAuthPass, base64.StdEncoding.EncodeToString([]byte(s.cfg.Password)))
}

// cmd sends a single command line and checks the reply.
func (s *session) cmd(st step, line string) error {
	_, err := s.exchange(st, []byte(line+crlf), line)
	return err
}

// exchange writes out (if any), reads one reply and enforces the step's
// contract. logLine is what the transcript shows for out.
func (s *session) exchange(st step, out []byte, logLine string) (Reply, error) {
	c := contracts[st]
	if !slices.Contains(c.from, s.state) {
		return Reply{}, &Error{
			Kind:    KindProtocol,
			Command: c.name,
			Err:     fmt.Errorf("%w: state %s", errOutOfSequence, s.state),
		}
	}

	if out != nil {
		s.rec.client(logLine, c.sensitive)
		if err := s.t.Write(out); err != nil {
			return Reply{}, &Error{Kind: readFailureKind(st), Command: c.name, Err: err}
		}
	}

	reply, err := readReply(s.t, s.cfg.Timeout)
	s.rec.server(reply.Text)
	if err != nil {
		return reply, &Error{Kind: readFailureKind(st), Command: c.name, Response: reply.Text, Err: err}
	}

	if len(c.accept) > 0 && !slices.Contains(c.accept, reply.Code) {
		return reply, &Error{Kind: c.kind, Command: c.name, Code: reply.Code, Response: reply.Text}
	}

	if c.next != 0 {
		s.state = c.next
	}
	return reply, nil
}

// readFailureKind is the kind reported when no usable reply arrived: a
// missing banner is a connection failure, anything later a protocol one.
func readFailureKind(st step) Kind {
	if st == stepBanner {
		return KindConnection
	}
	return KindProtocol
}

func (s *session) close() {
	if s.t == nil {
		return
	}
	_ = s.t.Close()
	s.t = nil
	s.state = stateClosed
}
