//  client.go
//  ZoneClient Bridge
//
//  Copyright (c) 2025 Relative Companies, Inc.
//  Personal, non-commercial use only.
//
//  Wires the Go zone session to the native host app, translating join
//  lifecycles, intents and mirror events into gomobile-friendly calls.

package bridge

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/relativeprotocol/zoneclient/config"
	"github.com/relativeprotocol/zoneclient/credential"
	"github.com/relativeprotocol/zoneclient/log"
	"github.com/relativeprotocol/zoneclient/model"
	"github.com/relativeprotocol/zoneclient/notify"
	"github.com/relativeprotocol/zoneclient/replica"
	"github.com/relativeprotocol/zoneclient/session"
)

var errNotRunning = errors.New("client is not running")

// Client drives one zone session on behalf of the host.
type Client struct {
	cfg      session.Config
	provider credential.Provider
	trust    credential.TrustStore
	listener Listener

	mu      sync.Mutex
	session *session.Session
	pump    *eventPump
	subs    []*notify.Subscription
	running atomic.Bool
}

// NewClient parses configYAML and the device credentials. certPEM and keyPEM
// replace the credentials section of the file when set; pinnedPEM replaces
// the trust section.
func NewClient(configYAML, certPEM, keyPEM, pinnedPEM []byte, listener Listener) (*Client, error) {
	if listener == nil {
		return nil, errors.New("listener is required")
	}
	cfg, err := config.Parse(configYAML)
	if err != nil {
		return nil, err
	}
	scfg, err := cfg.SessionConfig()
	if err != nil {
		return nil, err
	}

	var provider credential.Provider
	if len(certPEM) > 0 || len(keyPEM) > 0 {
		provider, err = credential.ProviderFromPEM(certPEM, keyPEM)
	} else {
		provider, err = cfg.Provider()
	}
	if err != nil {
		return nil, fmt.Errorf("device credentials: %w", err)
	}

	var trust credential.TrustStore
	if len(pinnedPEM) > 0 {
		keys, perr := credential.ParsePinnedPEM(pinnedPEM)
		if perr != nil {
			return nil, fmt.Errorf("pinned keys: %w", perr)
		}
		trust = credential.StaticTrustStore(keys)
	} else if trust, err = cfg.TrustStore(); err != nil {
		return nil, err
	}

	return &Client{
		cfg:      scfg,
		provider: provider,
		trust:    trust,
		listener: listener,
	}, nil
}

// Start creates the session. Nothing is dialled until RequestJoin.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running.Load() {
		return nil
	}

	pump := newEventPump()
	s, err := session.New(c.cfg, c.provider, c.trust,
		session.WithLogger(log.L().Named("zone")),
		session.WithUIExecutor(pump),
	)
	if err != nil {
		pump.Close()
		return fmt.Errorf("create session: %w", err)
	}

	c.subs = []*notify.Subscription{
		s.SubscribeState(session.StateListenerFunc(func(state session.JoinState) {
			c.listener.StateChanged(state.String())
		})),
		s.SubscribeErrors(session.ErrorListenerFunc(func(err error) {
			c.listener.Failed(err.Error(), session.IsFatal(err))
		})),
		s.SubscribeEvents(session.EventListenerFunc(c.forward)),
	}
	c.session = s
	c.pump = pump
	c.running.Store(true)
	return nil
}

// Stop closes the session and waits for queued host callbacks to run. It
// must not be called from a Listener callback.
func (c *Client) Stop() {
	c.mu.Lock()
	s, pump, subs := c.session, c.pump, c.subs
	c.session, c.pump, c.subs = nil, nil, nil
	c.running.Store(false)
	c.mu.Unlock()
	if s == nil {
		return
	}

	if err := s.Close(); err != nil {
		log.L().Warn("close session", zap.Error(err))
	}
	pump.Close()
	for _, sub := range subs {
		sub.Cancel()
	}
}

// IsRunning reports whether Start has been called without a matching Stop.
func (c *Client) IsRunning() bool {
	return c.running.Load()
}

func (c *Client) current() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) forward(ev replica.Event) {
	payload, err := encodeJSON(ev)
	if err != nil {
		log.L().Error("encode zone event", zap.String("kind", ev.Kind()), zap.Error(err))
		return
	}
	c.listener.ZoneEvent(ev.Kind(), payload)
}

// NewToken returns a fresh interest token.
func (c *Client) NewToken() string {
	return session.NewToken()
}

// RequestJoin registers interest in the zone under token.
func (c *Client) RequestJoin(token string, retry bool) {
	if s := c.current(); s != nil {
		s.RequestJoin(token, retry)
	}
}

// UnrequestJoin withdraws the interest registered under token.
func (c *Client) UnrequestJoin(token string) {
	if s := c.current(); s != nil {
		s.UnrequestJoin(token)
	}
}

// State returns the join state name, "unavailable" when stopped.
func (c *Client) State() string {
	if s := c.current(); s != nil {
		return s.State().String()
	}
	return session.Unavailable.String()
}

// PublicKey returns this device's key in base64.
func (c *Client) PublicKey() (string, error) {
	key, err := c.provider.PublicKey()
	if err != nil {
		return "", err
	}
	return key.String(), nil
}

// ZoneID returns the joined or created zone's id.
func (c *Client) ZoneID() string {
	if s := c.current(); s != nil {
		return string(s.ZoneID())
	}
	return ""
}

type snapshot struct {
	ZoneID           model.ZoneID                       `json:"zoneId"`
	Name             string                             `json:"name"`
	Identities       []model.Member                     `json:"identities"`
	HiddenIdentities []model.Member                     `json:"hiddenIdentities"`
	Players          []model.Member                     `json:"players"`
	ConnectedPlayers []model.Member                     `json:"connectedPlayers"`
	Balances         map[model.MemberID]decimal.Decimal `json:"balances"`
}

// Snapshot returns the mirrored zone's views as JSON, "null" while not
// joined. It must not be called from a Listener callback.
func (c *Client) Snapshot() (string, error) {
	s := c.current()
	if s == nil {
		return "", errNotRunning
	}
	var snap *snapshot
	s.View(func(r *replica.Replica) {
		if !r.Valid() {
			return
		}
		zone := r.Zone()
		snap = &snapshot{
			ZoneID:           zone.ID,
			Name:             zone.Name,
			Identities:       r.Identities(),
			HiddenIdentities: r.HiddenIdentities(),
			Players:          r.OtherMembers(),
			ConnectedPlayers: r.ConnectedMembers(),
			Balances:         make(map[model.MemberID]decimal.Decimal, len(zone.Members)),
		}
		for id := range zone.Members {
			snap.Balances[id] = r.MemberBalance(id)
		}
	})
	return encodeJSON(snap)
}

func result(cb ResultCallback) session.Result {
	return func(err error) {
		if cb == nil {
			return
		}
		if err != nil {
			cb.Done(err.Error())
			return
		}
		cb.Done("")
	}
}

// intent runs fn against the session. Input errors and a stopped client are
// reported to cb before intent returns.
func (c *Client) intent(cb ResultCallback, fn func(s *session.Session, done session.Result)) {
	done := result(cb)
	s := c.current()
	if s == nil {
		done(errNotRunning)
		return
	}
	fn(s, done)
}

// CreateIdentity adds an identity named name with its own account.
func (c *Client) CreateIdentity(name string, cb ResultCallback) {
	c.intent(cb, func(s *session.Session, done session.Result) {
		s.CreateIdentity(name, done)
	})
}

// ChangeIdentityName renames one of this device's identities.
func (c *Client) ChangeIdentityName(memberID, name string, cb ResultCallback) {
	c.intent(cb, func(s *session.Session, done session.Result) {
		s.ChangeIdentityName(model.MemberID(memberID), name, done)
	})
}

// DeleteIdentity hides one of this device's identities.
func (c *Client) DeleteIdentity(memberID string, cb ResultCallback) {
	c.intent(cb, func(s *session.Session, done session.Result) {
		s.DeleteIdentity(model.MemberID(memberID), done)
	})
}

// RestoreIdentity unhides one of this device's identities.
func (c *Client) RestoreIdentity(memberID string, cb ResultCallback) {
	c.intent(cb, func(s *session.Session, done session.Result) {
		s.RestoreIdentity(model.MemberID(memberID), done)
	})
}

// TransferIdentity hands an identity to the device holding publicKey, given
// in base64.
func (c *Client) TransferIdentity(memberID, publicKey string, cb ResultCallback) {
	c.intent(cb, func(s *session.Session, done session.Result) {
		var target model.PublicKey
		if err := target.UnmarshalText([]byte(publicKey)); err != nil {
			done(fmt.Errorf("public key: %w", err))
			return
		}
		s.TransferIdentity(model.MemberID(memberID), target, done)
	})
}

// TransferToPlayer pays value to every member in the comma separated
// recipients list.
func (c *Client) TransferToPlayer(fromMemberID, recipients, value string, cb ResultCallback) {
	c.intent(cb, func(s *session.Session, done session.Result) {
		amount, err := decimal.NewFromString(value)
		if err != nil {
			done(fmt.Errorf("value: %w", err))
			return
		}
		var to []model.MemberID
		for _, id := range strings.Split(recipients, ",") {
			if id = strings.TrimSpace(id); id != "" {
				to = append(to, model.MemberID(id))
			}
		}
		s.TransferToPlayer(model.MemberID(fromMemberID), to, amount, done)
	})
}

// ChangeGameName renames the zone.
func (c *Client) ChangeGameName(name string, cb ResultCallback) {
	c.intent(cb, func(s *session.Session, done session.Result) {
		s.ChangeGameName(name, done)
	})
}
