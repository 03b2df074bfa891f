package smtpclient

import (
	"errors"
	"strings"
)

// Kind classifies a failed delivery attempt.
type Kind int

const (
	// KindConnection: the transport could not be opened or the banner was not 220.
	KindConnection Kind = iota + 1
	// KindProtocol: a command got an unexpected reply, or no reply in time.
	KindProtocol
	// KindCrypto: STARTTLS was accepted but the handshake failed.
	KindCrypto
	// KindAuth: a step of AUTH LOGIN got an unexpected reply.
	KindAuth
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrConnection = errors.New("connection error")
	ErrProtocol   = errors.New("protocol error")
	ErrCrypto     = errors.New("crypto error")
	ErrAuth       = errors.New("auth error")
)

// ErrTimeout is wrapped when a reply did not complete before the read deadline.
var ErrTimeout = errors.New("no response (timeout)")

// ErrNoResponse is wrapped when the server closed the connection mid-reply.
var ErrNoResponse = errors.New("no response (connection closed)")

func (k Kind) sentinel() error {
	switch k {
	case KindConnection:
		return ErrConnection
	case KindCrypto:
		return ErrCrypto
	case KindAuth:
		return ErrAuth
	default:
		return ErrProtocol
	}
}

// String returns the human-readable kind name.
func (k Kind) String() string {
	return k.sentinel().Error()
}

// Error is returned by Send for every failed attempt. Response holds the raw
// server text when one was received; otherwise Err holds the cause.
type Error struct {
	Kind     Kind
	Command  string
	Code     int
	Response string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("smtp: ")
	b.WriteString(e.Kind.String())
	if e.Command != "" {
		b.WriteString(": ")
		b.WriteString(e.Command)
	}
	switch {
	case e.Response != "":
		b.WriteString(": ")
		b.WriteString(e.Response)
		if e.Err != nil {
			b.WriteString(" (")
			b.WriteString(e.Err.Error())
			b.WriteString(")")
		}
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Timeout reports whether the attempt failed waiting for a reply.
func (e *Error) Timeout() bool {
	return errors.Is(e.Err, ErrTimeout)
}

// KindOf returns the Kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
