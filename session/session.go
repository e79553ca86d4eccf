//  session.go
//  ZoneClient Core
//
//  Copyright (c) 2025 Relative Companies, Inc.
//  Personal, non-commercial use only.
//
//  A Session ties one transport, one correlator and one replica together on
//  a single serialized loop. Every public method posts to that loop; listener
//  callbacks are handed to the UI executor in the order they were raised.

package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/relativeprotocol/zoneclient/correlator"
	"github.com/relativeprotocol/zoneclient/credential"
	"github.com/relativeprotocol/zoneclient/log"
	"github.com/relativeprotocol/zoneclient/model"
	"github.com/relativeprotocol/zoneclient/notify"
	"github.com/relativeprotocol/zoneclient/protocol"
	"github.com/relativeprotocol/zoneclient/replica"
	"github.com/relativeprotocol/zoneclient/transport"
)

var (
	// ErrClosed is returned by every operation on a closed session.
	ErrClosed = errors.New("session closed")
	// ErrNotJoined is returned by intents issued outside Joined.
	ErrNotJoined = errors.New("session is not joined to a zone")
	// ErrUnknownIdentity is returned when a member is not owned by this device.
	ErrUnknownIdentity = errors.New("unknown identity")
	// ErrUnknownPlayer is returned when a member does not exist in the zone.
	ErrUnknownPlayer = errors.New("unknown player")
)

// TransportFactory builds the transport a session drives. Listener callbacks
// must be posted to exec.
type TransportFactory func(listener transport.Listener, exec notify.Executor) (transport.Transport, error)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithUIExecutor delivers listener and intent callbacks on exec, typically
// the host's main thread.
func WithUIExecutor(exec notify.Executor) Option {
	return func(s *Session) {
		if exec != nil {
			s.ui = exec
		}
	}
}

// WithLoopExecutor runs the session's core loop on exec instead of a private
// queue.
func WithLoopExecutor(exec notify.Executor) Option {
	return func(s *Session) {
		if exec != nil {
			s.loop = exec
		}
	}
}

// WithTransportFactory replaces the websocket transport.
func WithTransportFactory(factory TransportFactory) Option {
	return func(s *Session) {
		if factory != nil {
			s.factory = factory
		}
	}
}

// NewToken returns a fresh interest token for RequestJoin.
func NewToken() string {
	return uuid.NewString()
}

// Session is a client's membership in one zone.
type Session struct {
	cfg     Config
	self    model.PublicKey
	logger  *zap.Logger
	loop    notify.Executor
	ui      notify.Executor
	owned   []*notify.Queue
	factory TransportFactory

	states *notify.Registry[StateListener]
	errs   *notify.Registry[ErrorListener]
	events *notify.Registry[EventListener]

	current atomic.Int32

	// Loop-owned state.
	transport transport.Transport
	corr      *correlator.Correlator
	replica   *replica.Replica
	state     JoinState
	link      transport.State
	zoneID    model.ZoneID
	tokens    map[string]struct{}
	fatal     bool
	failed    bool
	closed    bool
	quitSeq   uint64
	quitTimer *time.Timer

	closeOnce sync.Once
}

// New builds a session in the Unavailable state. Nothing is dialled until
// RequestJoin.
func New(cfg Config, provider credential.Provider, trust credential.TrustStore, opts ...Option) (*Session, error) {
	if provider == nil {
		return nil, errors.New("credential provider is required")
	}
	self, err := provider.PublicKey()
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:    cfg,
		self:   self,
		logger: log.L(),
		zoneID: cfg.ZoneID,
		tokens: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("session")
	if s.loop == nil {
		q := notify.NewQueue(s.logger)
		s.owned = append(s.owned, q)
		s.loop = q
	}
	if s.ui == nil {
		q := notify.NewQueue(s.logger)
		s.owned = append(s.owned, q)
		s.ui = q
	}
	if s.factory == nil {
		if trust == nil {
			s.closeQueues()
			return nil, errors.New("trust store is required")
		}
		s.factory = func(listener transport.Listener, exec notify.Executor) (transport.Transport, error) {
			return transport.New(cfg.Transport, provider, trust, listener,
				transport.WithExecutor(exec),
				transport.WithLogger(s.logger))
		}
	}

	s.states = notify.NewRegistry[StateListener](s.ui)
	s.errs = notify.NewRegistry[ErrorListener](s.ui)
	s.events = notify.NewRegistry[EventListener](s.ui)

	tr, err := s.factory(listener{s}, s.loop)
	if err != nil {
		s.closeQueues()
		return nil, err
	}
	s.transport = tr
	s.corr = correlator.New(tr, s.loop, cfg.CommandTimeout, s.logger)
	s.replica = replica.New(self, s.emit, s.logger)
	return s, nil
}

// Self returns this device's public key.
func (s *Session) Self() model.PublicKey {
	return s.self
}

// State returns the latest join state.
func (s *Session) State() JoinState {
	return JoinState(s.current.Load())
}

// SubscribeState registers l for join state transitions.
func (s *Session) SubscribeState(l StateListener) *notify.Subscription {
	return s.states.Subscribe(l)
}

// SubscribeErrors registers l for join failures.
func (s *Session) SubscribeErrors(l ErrorListener) *notify.Subscription {
	return s.errs.Subscribe(l)
}

// SubscribeEvents registers l for zone mirror changes.
func (s *Session) SubscribeEvents(l EventListener) *notify.Subscription {
	return s.events.Subscribe(l)
}

// View runs fn on the session loop with the zone mirror and waits for it. fn
// must not retain r. It reports false once the session is closed. View must
// not be called from a session callback running on the loop.
func (s *Session) View(fn func(r *replica.Replica)) bool {
	ok := false
	notify.Call(s.loop, func() {
		if s.closed {
			return
		}
		fn(s.replica)
		ok = true
	})
	return ok
}

// ZoneID returns the zone the session joins, which is empty until a created
// zone has been assigned its id.
func (s *Session) ZoneID() model.ZoneID {
	var id model.ZoneID
	notify.Call(s.loop, func() { id = s.zoneID })
	return id
}

// RequestJoin registers interest under token. retry clears a previous fatal
// failure and forces a fresh attempt.
func (s *Session) RequestJoin(token string, retry bool) {
	s.loop.Post(func() {
		if s.closed {
			return
		}
		s.tokens[token] = struct{}{}
		s.cancelQuit()
		if retry {
			s.fatal = false
		}
		s.advance()
	})
}

// UnrequestJoin withdraws the interest registered under token. When no
// interest remains the session quits after Config.QuitDelay.
func (s *Session) UnrequestJoin(token string) {
	s.loop.Post(func() {
		if s.closed {
			return
		}
		if _, ok := s.tokens[token]; !ok {
			return
		}
		delete(s.tokens, token)
		if len(s.tokens) == 0 {
			s.scheduleQuit()
		}
	})
}

// Close disconnects and releases the session's goroutines. It must not be
// called from a session callback.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		notify.Call(s.loop, func() {
			s.closed = true
			s.cancelQuit()
			clear(s.tokens)
			s.transport.Disconnect()
		})
		if c, ok := s.transport.(interface{ Close() }); ok {
			c.Close()
		}
		notify.Call(s.loop, func() {
			s.corr.Reset()
			s.replica.Clear()
		})
		s.closeQueues()
	})
	return nil
}

func (s *Session) closeQueues() {
	for _, q := range s.owned {
		q.Close()
		<-q.Done()
	}
}

// listener receives transport callbacks on the loop.
type listener struct {
	s *Session
}

func (l listener) ConnectionStateChanged(state transport.State, err error) {
	l.s.linkChanged(state, err)
}

func (l listener) FrameReceived(msg protocol.ServerMessage) {
	l.s.frameReceived(msg)
}
