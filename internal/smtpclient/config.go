package smtpclient

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// SecurityMode selects how the connection is encrypted.
type SecurityMode int

const (
	// SecurityNone keeps the whole session in plaintext.
	SecurityNone SecurityMode = iota
	// SecurityImplicitTLS encrypts the connection from the first byte (SMTPS, port 465).
	SecurityImplicitTLS
	// SecurityStartTLS upgrades a plaintext connection after the greeting (port 587).
	SecurityStartTLS
)

// String returns the configuration name of the mode.
func (m SecurityMode) String() string {
	switch m {
	case SecurityImplicitTLS:
		return "ssl"
	case SecurityStartTLS:
		return "tls"
	default:
		return "none"
	}
}

// ParseSecurityMode maps the configuration names "none", "ssl" and "tls" to
// a SecurityMode. "ssl" means implicit TLS and "tls" means STARTTLS.
func ParseSecurityMode(s string) (SecurityMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return SecurityNone, nil
	case "ssl", "smtps":
		return SecurityImplicitTLS, nil
	case "tls", "starttls":
		return SecurityStartTLS, nil
	default:
		return SecurityNone, fmt.Errorf("unknown security mode %q", s)
	}
}

const (
	// DefaultTimeout bounds the dial and every reply read.
	DefaultTimeout = 30 * time.Second

	// DefaultLocalName is the identity sent with EHLO/HELO.
	DefaultLocalName = "localhost"
)

// ConnectionConfig holds everything needed to deliver one message.
// It is read-only for the duration of a Send call.
type ConnectionConfig struct {
	Host     string
	Port     int
	Security SecurityMode

	// Username and Password enable AUTH LOGIN. If either is empty,
	// authentication is skipped.
	Username string
	Password string

	// LocalName is the EHLO/HELO identity. Defaults to DefaultLocalName.
	LocalName string

	// Timeout bounds the dial, each reply read and the TLS handshake.
	// Defaults to DefaultTimeout.
	Timeout time.Duration

	// TLSConfig is used for implicit TLS and STARTTLS. If nil, a config
	// verifying Host is used.
	TLSConfig *tls.Config

	// Debug enables the command/response transcript.
	Debug bool
}

// Addr returns host:port.
func (c ConnectionConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AuthEnabled reports whether both credentials are set.
func (c ConnectionConfig) AuthEnabled() bool {
	return c.Username != "" && c.Password != ""
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.LocalName == "" {
		c.LocalName = DefaultLocalName
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// tlsConfig returns a copy of the configured TLS settings with the server
// name filled in.
func (c ConnectionConfig) tlsConfig() *tls.Config {
	var cfg *tls.Config
	if c.TLSConfig != nil {
		cfg = c.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = c.Host
	}
	return cfg
}
