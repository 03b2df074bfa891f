package smtpclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Transport is the byte stream a session speaks SMTP over. Plaintext,
// implicit TLS and STARTTLS connections are different constructions of it.
type Transport interface {
	// Write sends p in full.
	Write(p []byte) error

	// ReadLine returns the next line including its terminator. It fails with
	// ErrTimeout if the line does not arrive before deadline.
	ReadLine(deadline time.Time) (string, error)

	// UpgradeEncryption performs a client TLS handshake on the open
	// connection, replacing the plaintext stream in place.
	UpgradeEncryption(deadline time.Time) error

	Close() error
}

// DialFunc opens a Transport to the server described by cfg. For
// SecurityImplicitTLS the returned transport must already be encrypted.
type DialFunc func(ctx context.Context, cfg ConnectionConfig) (Transport, error)

// Dial is the default DialFunc, connecting over TCP.
func Dial(ctx context.Context, cfg ConnectionConfig) (Transport, error) {
	d := &net.Dialer{Timeout: cfg.Timeout}

	var (
		conn net.Conn
		err  error
	)
	if cfg.Security == SecurityImplicitTLS {
		td := &tls.Dialer{NetDialer: d, Config: cfg.tlsConfig()}
		conn, err = td.DialContext(ctx, "tcp", cfg.Addr())
	} else {
		conn, err = d.DialContext(ctx, "tcp", cfg.Addr())
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr(), err)
	}

	return NewTransport(conn, cfg.tlsConfig(), cfg.Timeout), nil
}

// netTransport is a Transport over a net.Conn.
type netTransport struct {
	conn         net.Conn
	reader       *bufio.Reader
	tlsConfig    *tls.Config
	writeTimeout time.Duration
}

// NewTransport wraps an established connection. tlsConfig is used by
// UpgradeEncryption; writeTimeout bounds each Write.
func NewTransport(conn net.Conn, tlsConfig *tls.Config, writeTimeout time.Duration) Transport {
	return &netTransport{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		tlsConfig:    tlsConfig,
		writeTimeout: writeTimeout,
	}
}

func (t *netTransport) Write(p []byte) error {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := t.conn.Write(p)
	return err
}

func (t *netTransport) ReadLine(deadline time.Time) (string, error) {
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}

	line, err := t.reader.ReadString('\n')
	if err != nil {
		var ne net.Error
		switch {
		case errors.As(err, &ne) && ne.Timeout():
			return "", ErrTimeout
		case errors.Is(err, io.EOF):
			return "", ErrNoResponse
		default:
			return "", err
		}
	}
	return line, nil
}

func (t *netTransport) UpgradeEncryption(deadline time.Time) error {
	// Anything buffered past the STARTTLS reply was sent in plaintext and
	// must not be mistaken for a post-handshake response.
	if t.reader.Buffered() > 0 {
		return errors.New("unexpected plaintext data after STARTTLS reply")
	}

	tlsConn := tls.Client(t.conn, t.tlsConfig)
	if err := tlsConn.SetDeadline(deadline); err != nil {
		return err
	}
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("tls handshake: %w", err)
	}
	if err := tlsConn.SetDeadline(time.Time{}); err != nil {
		return err
	}

	t.conn = tlsConn
	t.reader = bufio.NewReader(tlsConn)
	return nil
}

func (t *netTransport) Close() error {
	return t.conn.Close()
}
