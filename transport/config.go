package transport

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/relativeprotocol/zoneclient/credential"
	"github.com/relativeprotocol/zoneclient/protocol"
)

// State is the lifecycle of a Connection.
type State int

// Connection states. Idle → Connecting → Connected → Disconnecting → Idle, with
// Connected → Connecting when a live connection fails.
const (
	Idle State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by Send outside the Connected state.
var ErrNotConnected = errors.New("transport: not connected")

// ConfigError reports connection settings that can never produce a
// connection.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string  { return "transport config: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// IsRetryable reports whether a connection failure should be retried. Trust,
// configuration and protocol errors are fatal; everything else is
// network-level.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var protoErr *protocol.ProtocolError
	if errors.As(err, &protoErr) {
		return false
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return false
	}
	return !credential.IsTrustError(err)
}

// Backoff describes the delay between reconnect attempts.
type Backoff struct {
	Min        time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64
	// MaxAttempts bounds consecutive failed attempts; zero means unlimited.
	MaxAttempts int
}

// Delay returns the wait before retry number attempt, counting from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.Min) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Config controls a Connection.
type Config struct {
	// URL is the wss:// endpoint of the zone server.
	URL string
	// ClientName is reported to the server in the dial query.
	ClientName string

	HandshakeTimeout time.Duration
	// IdleTimeout drops a connection that has been silent this long.
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	MaxFrameSize int64

	Backoff Backoff
	// MinDialInterval rate limits dial attempts independently of Backoff.
	MinDialInterval time.Duration
}

// DefaultConfig returns the defaults used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		ClientName:       "zoneclient",
		HandshakeTimeout: 10 * time.Second,
		IdleTimeout:      30 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxFrameSize:     1 << 20,
		Backoff: Backoff{
			Min:        time.Second,
			Max:        30 * time.Second,
			Multiplier: 2,
			Jitter:     0.25,
		},
		MinDialInterval: 500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ClientName == "" {
		c.ClientName = def.ClientName
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if c.Backoff.Min <= 0 {
		c.Backoff.Min = def.Backoff.Min
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = def.Backoff.Max
	}
	if c.Backoff.Multiplier <= 0 {
		c.Backoff.Multiplier = def.Backoff.Multiplier
	}
	return c
}
