//  replica.go
//  ZoneClient Core
//
//  Copyright (c) 2025 Relative Companies, Inc.
//  Personal, non-commercial use only.
//
//  The local mirror of one zone. Notifications are folded in arrival order;
//  each one is validated against the mirror first, applied in full, and only
//  then reported to the event sink.

package replica

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/relativeprotocol/zoneclient/credential"
	"github.com/relativeprotocol/zoneclient/log"
	"github.com/relativeprotocol/zoneclient/model"
	"github.com/relativeprotocol/zoneclient/protocol"
)

type set[K comparable] map[K]struct{}

func (s set[K]) has(k K) bool {
	_, ok := s[k]
	return ok
}

// Replica mirrors one zone for the device identified by self. It is not safe
// for concurrent use; the session drives it from its event loop.
type Replica struct {
	self   model.PublicKey
	emit   func(Event)
	logger *zap.Logger

	zone       *model.Zone
	connected  set[model.PublicKey]
	identities set[model.MemberID]
	others     set[model.MemberID]
	online     set[model.MemberID]
	balances   map[model.AccountID]decimal.Decimal
}

// New returns an empty, invalid replica. emit receives every event
// synchronously; nil discards them.
func New(self model.PublicKey, emit func(Event), logger *zap.Logger) *Replica {
	if emit == nil {
		emit = func(Event) {}
	}
	r := &Replica{
		self:   self,
		emit:   emit,
		logger: log.Or(logger).Named("replica"),
	}
	r.reset()
	return r
}

func (r *Replica) reset() {
	r.zone = nil
	r.connected = make(set[model.PublicKey])
	r.identities = make(set[model.MemberID])
	r.others = make(set[model.MemberID])
	r.online = make(set[model.MemberID])
	r.balances = make(map[model.AccountID]decimal.Decimal)
}

// Valid reports whether the mirror holds a joined zone.
func (r *Replica) Valid() bool {
	return r.zone != nil
}

// Self returns the device key used to classify identities.
func (r *Replica) Self() model.PublicKey {
	return r.self
}

// Hydrate replaces the mirror with a join snapshot.
func (r *Replica) Hydrate(zone model.Zone, connectedClients []model.PublicKey) error {
	snapshot := zone.Clone()
	snapshot.EnsureMaps()
	if err := checkSnapshot(snapshot); err != nil {
		return err
	}

	r.reset()
	r.zone = snapshot
	for _, key := range connectedClients {
		r.connected[key] = struct{}{}
	}
	for id, m := range snapshot.Members {
		r.classify(id, m)
	}
	for id := range snapshot.Accounts {
		r.balances[id] = decimal.Zero
	}
	for _, tx := range snapshot.Transactions {
		r.post(tx)
	}

	r.logger.Info("zone hydrated",
		zap.String("zone", string(snapshot.ID)),
		zap.Int("members", len(snapshot.Members)),
		zap.Int("accounts", len(snapshot.Accounts)),
		zap.Int("transactions", len(snapshot.Transactions)),
		zap.Int("connected", len(r.connected)))
	r.emit(Initialized{ZoneID: snapshot.ID})
	return nil
}

func checkSnapshot(z *model.Zone) error {
	for id, m := range z.Members {
		if m.ID != id {
			return protocol.Violation("member %q stored under id %q", m.ID, id)
		}
	}
	for id, a := range z.Accounts {
		if a.ID != id {
			return protocol.Violation("account %q stored under id %q", a.ID, id)
		}
		for _, owner := range a.OwnerMemberIDs {
			if _, ok := z.Members[owner]; !ok {
				return protocol.Violation("account %q owned by unknown member %q", id, owner)
			}
		}
	}
	if z.EquityAccountID != "" {
		if _, ok := z.Accounts[z.EquityAccountID]; !ok {
			return protocol.Violation("unknown equity account %q", z.EquityAccountID)
		}
	}
	for id, tx := range z.Transactions {
		if tx.ID != id {
			return protocol.Violation("transaction %q stored under id %q", tx.ID, id)
		}
		if err := checkTransaction(z, tx); err != nil {
			return err
		}
	}
	return nil
}

func checkTransaction(z *model.Zone, tx model.Transaction) error {
	if _, ok := z.Accounts[tx.From]; !ok {
		return protocol.Violation("transaction %q from unknown account %q", tx.ID, tx.From)
	}
	if _, ok := z.Accounts[tx.To]; !ok {
		return protocol.Violation("transaction %q to unknown account %q", tx.ID, tx.To)
	}
	if tx.Value.IsNegative() {
		return protocol.Violation("transaction %q has negative value", tx.ID)
	}
	return nil
}

// Clear discards the mirror after a disconnect.
func (r *Replica) Clear() {
	if !r.Valid() {
		return
	}
	r.reset()
	r.emit(Cleared{})
}

// Terminate discards the mirror after the server terminated the zone.
func (r *Replica) Terminate() {
	r.reset()
	r.emit(Terminated{})
}

// Apply folds one notification into the mirror. A notification that does not
// fit the mirror returns a *protocol.ProtocolError and leaves it unchanged.
func (r *Replica) Apply(n protocol.Notification) error {
	if !r.Valid() {
		return protocol.Violation("%s received without a joined zone", n.Kind())
	}
	var events []Event
	switch n := n.(type) {
	case protocol.ClientJoinedZone:
		if r.connected.has(n.PublicKey) {
			return protocol.Violation("client %s joined twice", credential.Fingerprint(n.PublicKey))
		}
		r.connected[n.PublicKey] = struct{}{}
		events = r.refreshPresence()

	case protocol.ClientQuitZone:
		if !r.connected.has(n.PublicKey) {
			return protocol.Violation("unknown client %s quit", credential.Fingerprint(n.PublicKey))
		}
		delete(r.connected, n.PublicKey)
		events = r.refreshPresence()

	case protocol.MemberCreated:
		m := n.Member
		if m.ID == "" {
			return protocol.Violation("member created without id")
		}
		if _, ok := r.zone.Members[m.ID]; ok {
			return protocol.Violation("member %q created twice", m.ID)
		}
		r.zone.Members[m.ID] = m.Clone()
		events = r.classify(m.ID, m)

	case protocol.MemberUpdated:
		m := n.Member
		old, ok := r.zone.Members[m.ID]
		if !ok {
			return protocol.Violation("update for unknown member %q", m.ID)
		}
		r.zone.Members[m.ID] = m.Clone()
		events = r.reclassify(old, m)

	case protocol.AccountCreated:
		a := n.Account
		if a.ID == "" {
			return protocol.Violation("account created without id")
		}
		if _, ok := r.zone.Accounts[a.ID]; ok {
			return protocol.Violation("account %q created twice", a.ID)
		}
		if err := r.checkOwners(a); err != nil {
			return err
		}
		r.zone.Accounts[a.ID] = a.Clone()
		r.balances[a.ID] = decimal.Zero
		events = []Event{AccountAdded{Account: a.Clone()}}

	case protocol.AccountUpdated:
		a := n.Account
		if _, ok := r.zone.Accounts[a.ID]; !ok {
			return protocol.Violation("update for unknown account %q", a.ID)
		}
		if err := r.checkOwners(a); err != nil {
			return err
		}
		r.zone.Accounts[a.ID] = a.Clone()
		events = []Event{AccountChanged{Account: a.Clone()}}

	case protocol.TransactionAdded:
		tx := n.Transaction
		if tx.ID == "" {
			return protocol.Violation("transaction added without id")
		}
		if _, ok := r.zone.Transactions[tx.ID]; ok {
			return protocol.Violation("transaction %q added twice", tx.ID)
		}
		if err := checkTransaction(r.zone, tx); err != nil {
			return err
		}
		r.zone.Transactions[tx.ID] = tx
		r.post(tx)
		events = []Event{
			TransactionAdded{Transaction: tx},
			BalanceChanged{AccountID: tx.From, Balance: r.balances[tx.From]},
			BalanceChanged{AccountID: tx.To, Balance: r.balances[tx.To]},
		}

	case protocol.ZoneNameSet:
		r.zone.Name = n.Name
		events = []Event{ZoneNameChanged{Name: n.Name}}

	case protocol.ZoneTerminated:
		r.Terminate()
		return nil

	default:
		return protocol.Violation("unhandled notification %s", n.Kind())
	}

	for _, ev := range events {
		r.emit(ev)
	}
	return nil
}

func (r *Replica) checkOwners(a model.Account) error {
	for _, owner := range a.OwnerMemberIDs {
		if _, ok := r.zone.Members[owner]; !ok {
			return protocol.Violation("account %q owned by unknown member %q", a.ID, owner)
		}
	}
	return nil
}

func (r *Replica) post(tx model.Transaction) {
	r.balances[tx.From] = r.balances[tx.From].Sub(tx.Value)
	r.balances[tx.To] = r.balances[tx.To].Add(tx.Value)
}

func (r *Replica) ownerOnline(m model.Member) bool {
	for _, key := range m.OwnerPublicKeys {
		if r.connected.has(key) {
			return true
		}
	}
	return false
}

// classify places a member that is new to the views.
func (r *Replica) classify(id model.MemberID, m model.Member) []Event {
	if m.OwnedBy(r.self) {
		r.identities[id] = struct{}{}
		return []Event{IdentityAdded{Member: m.Clone()}}
	}
	r.others[id] = struct{}{}
	events := []Event{PlayerAdded{Member: m.Clone()}}
	if r.ownerOnline(m) {
		r.online[id] = struct{}{}
		events = append(events, PlayerConnected{Member: m.Clone()})
	}
	return events
}

// reclassify moves an updated member between views. All sets are updated
// before any event is returned.
func (r *Replica) reclassify(old, m model.Member) []Event {
	wasMine, isMine := old.OwnedBy(r.self), m.OwnedBy(r.self)
	wasOnline := r.online.has(m.ID)

	switch {
	case wasMine && isMine:
		return []Event{IdentityChanged{Member: m.Clone()}}

	case wasMine && !isMine:
		delete(r.identities, m.ID)
		events := []Event{IdentityRemoved{Member: m.Clone()}}
		return append(events, r.classify(m.ID, m)...)

	case !wasMine && isMine:
		delete(r.others, m.ID)
		delete(r.online, m.ID)
		r.identities[m.ID] = struct{}{}
		var events []Event
		if wasOnline {
			events = append(events, PlayerDisconnected{Member: m.Clone()})
		}
		return append(events, PlayerRemoved{Member: m.Clone()}, IdentityAdded{Member: m.Clone()})

	default:
		events := []Event{PlayerChanged{Member: m.Clone()}}
		isOnline := r.ownerOnline(m)
		switch {
		case isOnline && !wasOnline:
			r.online[m.ID] = struct{}{}
			events = append(events, PlayerConnected{Member: m.Clone()})
		case !isOnline && wasOnline:
			delete(r.online, m.ID)
			events = append(events, PlayerDisconnected{Member: m.Clone()})
		}
		return events
	}
}

// refreshPresence recomputes the connected-members view after the connected
// client set changed.
func (r *Replica) refreshPresence() []Event {
	var events []Event
	for _, m := range r.sortedMembers(r.others) {
		isOnline := r.ownerOnline(m)
		wasOnline := r.online.has(m.ID)
		switch {
		case isOnline && !wasOnline:
			r.online[m.ID] = struct{}{}
			events = append(events, PlayerConnected{Member: m.Clone()})
		case !isOnline && wasOnline:
			delete(r.online, m.ID)
			events = append(events, PlayerDisconnected{Member: m.Clone()})
		}
	}
	return events
}
