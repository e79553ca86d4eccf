//  server.go
//  ZoneClient Core
//
//  Copyright (c) 2025 Relative Companies, Inc.
//  Personal, non-commercial use only.
//
//  An in-memory zone server speaking the client wire protocol over a TLS
//  websocket. Integration tests and the CLI demo run against it.

// Package zonetest provides an in-memory zone server and credential helpers
// for tests and local demos.
package zonetest

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/gorilla/schema"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/relativeprotocol/zoneclient/credential"
	"github.com/relativeprotocol/zoneclient/log"
	"github.com/relativeprotocol/zoneclient/model"
	"github.com/relativeprotocol/zoneclient/protocol"
)

// ZonePath is the websocket endpoint served by Server.
const ZonePath = "/zone"

type dialQuery struct {
	Version int    `schema:"v"`
	Client  string `schema:"client"`
}

// Status is the body of GET /status.
type Status struct {
	Zones       int   `json:"zones"`
	Connections int   `json:"connections"`
	Dials       int64 `json:"dials"`
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIdentity serves with id instead of a freshly generated identity.
func WithIdentity(id *Identity) Option {
	return func(s *Server) {
		s.identity = id
	}
}

// WithHeartbeat sends a heartbeat frame to every connection at interval.
func WithHeartbeat(interval time.Duration) Option {
	return func(s *Server) {
		s.heartbeat = interval
	}
}

// WithoutHandshake skips the connection-number frame and opens every
// connection with a heartbeat instead.
func WithoutHandshake() Option {
	return func(s *Server) {
		s.skipHandshake = true
	}
}

type client struct {
	conn   *websocket.Conn
	key    model.PublicKey
	number int64
	zones  map[model.ZoneID]struct{}

	writeMu sync.Mutex
	done    chan struct{}
}

func (c *client) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Server is an in-memory zone server.
type Server struct {
	identity      *Identity
	logger        *zap.Logger
	heartbeat     time.Duration
	skipHandshake bool

	http     *httptest.Server
	upgrader websocket.Upgrader
	decoder  *schema.Decoder
	wg       sync.WaitGroup

	dials       atomic.Int64
	unavailable atomic.Bool

	mu       sync.Mutex
	closed   bool
	ledger   *ledger
	clients  map[*client]struct{}
	nextConn int64
	commands map[protocol.Kind]int
}

// NewServer starts a server on a loopback TLS listener.
func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		logger:   log.L(),
		decoder:  schema.NewDecoder(),
		ledger:   newLedger(),
		clients:  make(map[*client]struct{}),
		commands: make(map[protocol.Kind]int),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("zonetest")
	s.decoder.IgnoreUnknownKeys(true)
	if s.identity == nil {
		id, err := NewIdentity("zonetest", 24*time.Hour)
		if err != nil {
			return nil, err
		}
		s.identity = id
	}

	s.http = httptest.NewUnstartedServer(s.routes())
	s.http.TLS = &tls.Config{
		Certificates: []tls.Certificate{s.identity.Certificate},
		ClientAuth:   tls.RequireAnyClientCert,
		MinVersion:   tls.VersionTLS12,
	}
	s.http.StartTLS()
	return s, nil
}

// NewTestServer starts a server that is closed when tb finishes.
func NewTestServer(tb testing.TB, opts ...Option) *Server {
	tb.Helper()
	s, err := NewServer(opts...)
	if err != nil {
		tb.Fatalf("start zone server: %v", err)
	}
	tb.Cleanup(func() {
		if err := s.Close(); err != nil {
			tb.Errorf("close zone server: %v", err)
		}
	})
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Get("/status", s.handleStatus)
	r.Get(ZonePath, s.handleZone)
	return r
}

// URL returns the wss:// endpoint clients dial.
func (s *Server) URL() string {
	return "wss" + strings.TrimPrefix(s.http.URL, "https") + ZonePath
}

// StatusURL returns the https:// address of the status endpoint.
func (s *Server) StatusURL() string {
	return s.http.URL + "/status"
}

// Identity returns the server's TLS identity.
func (s *Server) Identity() *Identity {
	return s.identity
}

// Trust returns a trust store pinning the server's key.
func (s *Server) Trust() credential.StaticTrustStore {
	return s.identity.Trust()
}

// Dials reports how many websocket upgrades were attempted.
func (s *Server) Dials() int64 {
	return s.dials.Load()
}

// SetAvailable makes the server refuse (false) or accept (true) new
// websocket upgrades. While unavailable, CreateZone and JoinZone on open
// connections fail with a retryable unavailable error.
func (s *Server) SetAvailable(available bool) {
	s.unavailable.Store(!available)
}

// Connections reports the number of open websocket connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Commands reports how many commands of kind were received.
func (s *Server) Commands(kind protocol.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands[kind]
}

// Zone returns a copy of a hosted zone, or nil.
func (s *Server) Zone(id model.ZoneID) *model.Zone {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.ledger.zones[id]
	if !ok {
		return nil
	}
	return h.zone.Clone()
}

// CreateZone hosts a new zone directly, bypassing the wire protocol.
func (s *Server) CreateZone(cmd protocol.CreateZone) (*model.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	zone, cerr := s.ledger.createZone(cmd)
	if cerr != nil {
		return nil, cerr
	}
	return zone, nil
}

// DropConnections closes every websocket without a close handshake.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c.conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

// TerminateZone sends ZoneTerminated to every client joined to id and
// detaches them. The zone itself survives and can be rejoined.
func (s *Server) TerminateZone(id model.ZoneID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	joined := s.joinedLocked(id)
	s.broadcastLocked(joined, id, protocol.ZoneTerminated{})
	for _, c := range joined {
		delete(c.zones, id)
	}
}

// Notify broadcasts n to every client joined to id.
func (s *Server) Notify(id model.ZoneID, n protocol.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(s.joinedLocked(id), id, n)
}

// Close stops the server and waits for its connections to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	var err error
	for c := range s.clients {
		err = multierr.Append(err, ignoreClosed(c.conn.Close()))
	}
	s.mu.Unlock()
	s.http.Close()
	s.wg.Wait()
	return err
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := Status{Zones: len(s.ledger.zones), Connections: len(s.clients), Dials: s.dials.Load()}
	s.mu.Unlock()
	render.JSON(w, r, status)
}

func (s *Server) handleZone(w http.ResponseWriter, r *http.Request) {
	s.wg.Add(1)
	defer s.wg.Done()
	s.dials.Inc()
	if s.unavailable.Load() {
		http.Error(w, "zone server unavailable", http.StatusServiceUnavailable)
		return
	}
	var query dialQuery
	if err := s.decoder.Decode(&query, r.URL.Query()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if query.Version != protocol.Version {
		http.Error(w, fmt.Sprintf("unsupported protocol version %d", query.Version), http.StatusBadRequest)
		return
	}
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		http.Error(w, "client certificate required", http.StatusUnauthorized)
		return
	}
	key := credential.PublicKeyOf(r.TLS.PeerCertificates[0])

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.nextConn++
	c := &client{
		conn:   conn,
		key:    key,
		number: s.nextConn,
		zones:  make(map[model.ZoneID]struct{}),
		done:   make(chan struct{}),
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	logger := s.logger.With(
		zap.Int64("connection_number", c.number),
		zap.String("client", query.Client),
		zap.String("key", credential.Fingerprint(key)))
	logger.Debug("client connected")

	defer s.disconnect(c)

	var hello []byte
	if s.skipHandshake {
		hello, err = protocol.EncodeHeartbeat()
	} else {
		hello, err = protocol.EncodeConnectionNumber(c.number)
	}
	if err == nil {
		err = c.write(hello)
	}
	if err != nil {
		logger.Warn("handshake failed", zap.Error(err))
		return
	}

	if s.heartbeat > 0 {
		s.wg.Add(1)
		go s.heartbeats(c)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("client disconnected", zap.Error(err))
			return
		}
		frame, err := protocol.DecodeCommand(data)
		if err != nil {
			logger.Warn("dropping malformed command", zap.Error(err))
			return
		}
		s.handle(c, frame)
	}
}

func (s *Server) heartbeats(c *client) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	frame, _ := protocol.EncodeHeartbeat()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(frame); err != nil {
				return
			}
		}
	}
}

func (s *Server) disconnect(c *client) {
	close(c.done)
	_ = c.conn.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
	for id := range c.zones {
		s.leaveLocked(c, id)
	}
}

func (s *Server) joinedLocked(id model.ZoneID) []*client {
	var out []*client
	for c := range s.clients {
		if _, ok := c.zones[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) keyConnectedLocked(id model.ZoneID, key model.PublicKey, except *client) bool {
	for _, c := range s.joinedLocked(id) {
		if c != except && c.key == key {
			return true
		}
	}
	return false
}

func (s *Server) broadcastLocked(targets []*client, id model.ZoneID, n protocol.Notification) {
	frame, err := protocol.EncodeNotification(id, n)
	if err != nil {
		s.logger.Error("encode notification", zap.Error(err))
		return
	}
	for _, c := range targets {
		if err := c.write(frame); err != nil {
			s.logger.Debug("notification not delivered", zap.Int64("connection_number", c.number), zap.Error(err))
		}
	}
}

func (s *Server) leaveLocked(c *client, id model.ZoneID) {
	delete(c.zones, id)
	if !s.keyConnectedLocked(id, c.key, c) {
		s.broadcastLocked(s.joinedLocked(id), id, protocol.ClientQuitZone{PublicKey: c.key})
	}
}

func (s *Server) reply(c *client, id int64, kind protocol.Kind, body protocol.ResponseBody, cerr *protocol.CommandError) {
	var (
		frame []byte
		err   error
	)
	if cerr != nil {
		frame, err = protocol.EncodeErrorResponse(id, kind, cerr)
	} else {
		frame, err = protocol.EncodeResponse(id, body)
	}
	if err == nil {
		err = c.write(frame)
	}
	if err != nil {
		s.logger.Debug("response not delivered", zap.Int64("correlation_id", id), zap.Error(err))
	}
}

func (s *Server) handle(c *client, frame protocol.CommandFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind := frame.Command.Kind()
	s.commands[kind]++

	if s.unavailable.Load() && (kind == protocol.KindCreateZone || kind == protocol.KindJoinZone) {
		s.reply(c, frame.CorrelationID, kind, nil, commandError(protocol.CodeUnavailable, "zone server is draining"))
		return
	}

	switch cmd := frame.Command.(type) {
	case protocol.CreateZone:
		zone, cerr := s.ledger.createZone(cmd)
		if cerr != nil {
			s.reply(c, frame.CorrelationID, kind, nil, cerr)
			return
		}
		s.reply(c, frame.CorrelationID, kind, protocol.CreateZoneResponse{Zone: *zone}, nil)

	case protocol.JoinZone:
		h, ok := s.ledger.zones[frame.ZoneID]
		if !ok {
			s.reply(c, frame.CorrelationID, kind, nil, commandError(protocol.CodeZoneNotFound, "zone %s does not exist", frame.ZoneID))
			return
		}
		if _, joined := c.zones[frame.ZoneID]; !joined {
			if !s.keyConnectedLocked(frame.ZoneID, c.key, c) {
				s.broadcastLocked(s.joinedLocked(frame.ZoneID), frame.ZoneID, protocol.ClientJoinedZone{PublicKey: c.key})
			}
			c.zones[frame.ZoneID] = struct{}{}
		}
		seen := make(map[model.PublicKey]struct{})
		var connected []model.PublicKey
		for _, other := range s.joinedLocked(frame.ZoneID) {
			if _, dup := seen[other.key]; !dup {
				seen[other.key] = struct{}{}
				connected = append(connected, other.key)
			}
		}
		s.reply(c, frame.CorrelationID, kind, protocol.JoinZoneResponse{Zone: *h.zone.Clone(), ConnectedClients: connected}, nil)

	case protocol.QuitZone:
		if _, joined := c.zones[frame.ZoneID]; !joined {
			s.reply(c, frame.CorrelationID, kind, nil, commandError(protocol.CodeNotJoined, "not joined to zone %s", frame.ZoneID))
			return
		}
		s.leaveLocked(c, frame.ZoneID)
		s.reply(c, frame.CorrelationID, kind, protocol.QuitZoneResponse{}, nil)

	default:
		if _, joined := c.zones[frame.ZoneID]; !joined {
			s.reply(c, frame.CorrelationID, kind, nil, commandError(protocol.CodeNotJoined, "not joined to zone %s", frame.ZoneID))
			return
		}
		body, notifications, cerr := s.ledger.apply(c.key, frame.ZoneID, cmd)
		if cerr != nil {
			s.reply(c, frame.CorrelationID, kind, nil, cerr)
			return
		}
		joined := s.joinedLocked(frame.ZoneID)
		for _, n := range notifications {
			s.broadcastLocked(joined, frame.ZoneID, n)
		}
		s.reply(c, frame.CorrelationID, kind, body, nil)
	}
}
