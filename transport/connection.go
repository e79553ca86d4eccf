//  connection.go
//  ZoneClient Core
//
//  Copyright (c) 2025 Relative Companies, Inc.
//  Personal, non-commercial use only.
//
//  Owns the single websocket to the zone server. A supervisor goroutine dials
//  over pinned mutual TLS, waits for the connection-number handshake, pumps
//  frames to the listener and reconnects with backoff until told to stop.

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/schema"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relativeprotocol/zoneclient/buffer"
	"github.com/relativeprotocol/zoneclient/credential"
	"github.com/relativeprotocol/zoneclient/log"
	"github.com/relativeprotocol/zoneclient/notify"
	"github.com/relativeprotocol/zoneclient/protocol"
)

// Listener observes a Connection. Callbacks run on the connection's executor
// in the order the events happened.
type Listener interface {
	// ConnectionStateChanged reports a new state. err is set when the
	// transition was caused by a failure.
	ConnectionStateChanged(state State, err error)
	// FrameReceived delivers a response or notification frame. Handshake
	// and heartbeat frames are consumed by the connection.
	FrameReceived(msg protocol.ServerMessage)
}

// Transport is the frame-level API used by the session layer.
type Transport interface {
	Connect()
	Disconnect()
	Send(frame []byte) error
	State() State
}

// dialQuery is appended to the server URL on every dial.
type dialQuery struct {
	Version int    `schema:"v"`
	Client  string `schema:"client,omitempty"`
}

var queryEncoder = schema.NewEncoder()

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the connection's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithExecutor delivers listener callbacks on exec instead of a private
// queue. exec must not run tasks on the posting goroutine.
func WithExecutor(exec notify.Executor) Option {
	return func(c *Connection) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Connection is a reconnecting websocket to the zone server.
type Connection struct {
	cfg      Config
	provider credential.Provider
	trust    credential.TrustStore
	listener Listener
	logger   *zap.Logger
	exec     notify.Executor
	ownQueue *notify.Queue
	limiter  *rate.Limiter

	connNumber atomic.Int64

	mu     sync.Mutex
	state  State
	gen    uint64
	cancel context.CancelFunc
	conn   *websocket.Conn
	closed bool
	wg     sync.WaitGroup

	writeMu sync.Mutex
}

// New constructs an idle connection. Call Connect to start it.
func New(cfg Config, provider credential.Provider, trust credential.TrustStore, listener Listener, opts ...Option) (*Connection, error) {
	if cfg.URL == "" {
		return nil, errors.New("server url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if provider == nil || trust == nil {
		return nil, errors.New("credential provider and trust store are required")
	}
	if listener == nil {
		return nil, errors.New("listener is required")
	}
	cfg = cfg.withDefaults()

	limit := rate.Inf
	if cfg.MinDialInterval > 0 {
		limit = rate.Every(cfg.MinDialInterval)
	}
	c := &Connection{
		cfg:      cfg,
		provider: provider,
		trust:    trust,
		listener: listener,
		logger:   log.L(),
		limiter:  rate.NewLimiter(limit, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("transport")
	if c.exec == nil {
		c.ownQueue = notify.NewQueue(c.logger)
		c.exec = c.ownQueue
	}
	return c, nil
}

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionNumber returns the number assigned by the server in the latest
// handshake.
func (c *Connection) ConnectionNumber() int64 {
	return c.connNumber.Load()
}

// Connect starts connecting. It is a no-op unless the connection is Idle.
func (c *Connection) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != Idle {
		return
	}
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.setStateLocked(gen, Connecting, nil)

	c.wg.Add(1)
	go c.supervise(ctx, cancel, gen)
}

// Disconnect closes the connection and stops reconnecting. Callbacks from the
// abandoned attempt are suppressed; the listener sees Disconnecting then Idle.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	cancel, conn := c.cancel, c.conn
	c.cancel, c.conn = nil, nil
	c.setStateLocked(gen, Disconnecting, nil)
	c.setStateLocked(gen, Idle, nil)
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
	}
	if cancel != nil {
		cancel()
	}
}

// Close disconnects and waits for every goroutine owned by the connection to
// exit. The connection cannot be reused.
func (c *Connection) Close() {
	c.Disconnect()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
	if c.ownQueue != nil {
		c.ownQueue.Close()
		<-c.ownQueue.Done()
	}
}

// Send writes one frame. It fails with ErrNotConnected outside Connected and
// never waits for a reply.
func (c *Connection) Send(frame []byte) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		// The read loop observes the closed socket and reconnects.
		_ = conn.Close()
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *Connection) setStateLocked(gen uint64, state State, err error) {
	if gen != c.gen || c.state == state {
		return
	}
	c.state = state
	c.exec.Post(func() {
		c.listener.ConnectionStateChanged(state, err)
	})
}

func (c *Connection) setState(gen uint64, state State, err error) {
	c.mu.Lock()
	c.setStateLocked(gen, state, err)
	c.mu.Unlock()
}

func (c *Connection) deliver(gen uint64, msg protocol.ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.exec.Post(func() {
		c.listener.FrameReceived(msg)
	})
}

// finish ends the attempt with gen, leaving the connection Idle.
func (c *Connection) finish(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.cancel, c.conn = nil, nil
	c.setStateLocked(gen, Idle, err)
}

func (c *Connection) supervise(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer c.wg.Done()
	defer cancel()

	attempt := 0
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
		err := c.runOnce(ctx, gen)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("connection closed")
		}
		if !IsRetryable(err) {
			c.logger.Error("connection failed permanently", zap.Error(err))
			c.finish(gen, err)
			return
		}
		if errors.Is(err, errEstablished) {
			attempt = 0
		}
		attempt++
		if limit := c.cfg.Backoff.MaxAttempts; limit > 0 && attempt >= limit {
			c.logger.Warn("giving up after repeated failures", zap.Int("attempts", attempt), zap.Error(err))
			c.finish(gen, err)
			return
		}

		c.setState(gen, Connecting, err)
		delay := c.cfg.Backoff.Delay(attempt)
		c.logger.Info("reconnecting",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

var errEstablished = errors.New("established connection lost")

// runOnce performs one dial-handshake-read cycle. A retryable failure after
// the handshake completed also wraps errEstablished, so the backoff restarts.
func (c *Connection) runOnce(ctx context.Context, gen uint64) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	if err := c.handshake(gen, conn); err != nil {
		return err
	}
	err = c.readLoop(gen, conn)

	c.mu.Lock()
	if gen == c.gen && c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	if !IsRetryable(err) {
		return err
	}
	c.logger.Warn("connection lost", zap.Error(err))
	return fmt.Errorf("%w: %w", errEstablished, err)
}

func (c *Connection) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	values := u.Query()
	if err := queryEncoder.Encode(dialQuery{Version: protocol.Version, Client: c.cfg.ClientName}, values); err != nil {
		return "", fmt.Errorf("encode dial query: %w", err)
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

func (c *Connection) dial(ctx context.Context) (*websocket.Conn, error) {
	var rejected atomic.Bool
	tlsCfg, err := credential.PinnedTLSConfig(c.provider, c.trust, func(err *credential.TrustError) {
		rejected.Store(true)
		c.logger.Error("server key is not pinned", zap.String("fingerprint", err.Fingerprint))
	})
	if err != nil {
		return nil, &credential.TrustError{Err: err}
	}
	target, err := c.dialURL()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	dialer := websocket.Dialer{
		TLSClientConfig:  tlsCfg,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		WriteBufferPool:  buffer.WriteBufferPool,
	}
	c.logger.Debug("dialing", zap.String("url", c.cfg.URL))
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if credential.IsTrustError(err) {
			return nil, err
		}
		if rejected.Load() {
			return nil, &credential.TrustError{Err: err}
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

func (c *Connection) extendDeadline(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
}

func (c *Connection) handshake(gen uint64, conn *websocket.Conn) error {
	conn.SetReadLimit(c.cfg.MaxFrameSize)
	conn.SetPingHandler(func(data string) error {
		c.extendDeadline(conn)
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})
	c.extendDeadline(conn)

	msg, err := c.readFrame(conn)
	if err != nil {
		return err
	}
	hello, ok := msg.(protocol.ConnectionNumber)
	if !ok {
		return protocol.Violation("expected connection number, got %T", msg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return context.Canceled
	}
	c.conn = conn
	c.connNumber.Store(hello.Number)
	c.setStateLocked(gen, Connected, nil)
	c.logger.Info("connected", zap.Int64("connection_number", hello.Number))
	return nil
}

func (c *Connection) readFrame(conn *websocket.Conn) (protocol.ServerMessage, error) {
	_, r, err := conn.NextReader()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, &protocol.ProtocolError{Reason: "frame exceeds size limit", Err: err}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("no traffic for %s: %w", c.cfg.IdleTimeout, err)
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}
	frame, err := buffer.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	defer frame.Release()
	c.extendDeadline(conn)
	return protocol.DecodeServerMessage(frame.Bytes())
}

func (c *Connection) readLoop(gen uint64, conn *websocket.Conn) error {
	for {
		msg, err := c.readFrame(conn)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case protocol.Heartbeat:
		case protocol.ConnectionNumber:
			return protocol.Violation("connection number %d received mid-stream", m.Number)
		default:
			c.deliver(gen, m)
		}
	}
}
