package replica

import (
	"github.com/shopspring/decimal"

	"github.com/relativeprotocol/zoneclient/model"
)

// Event is a change to the mirror or one of its derived views, emitted after
// the change is fully applied.
type Event interface {
	// Kind names the event for hosts that cannot switch on Go types.
	Kind() string
	isEvent()
}

// Initialized reports a mirror hydrated from a join snapshot.
type Initialized struct {
	ZoneID model.ZoneID `json:"zoneId"`
}

// Cleared reports a mirror discarded because the connection dropped.
type Cleared struct{}

// Terminated reports a mirror discarded because the server terminated the
// zone session.
type Terminated struct{}

// ZoneCreated reports a zone created on behalf of this session.
type ZoneCreated struct {
	ZoneID model.ZoneID `json:"zoneId"`
}

// ZoneNameChanged reports a rename.
type ZoneNameChanged struct {
	Name string `json:"name"`
}

// IdentityAdded reports a member that became owned by this device.
type IdentityAdded struct {
	Member model.Member `json:"member"`
}

// IdentityChanged reports an update to a member owned by this device.
type IdentityChanged struct {
	Member model.Member `json:"member"`
}

// IdentityRemoved reports a member no longer owned by this device.
type IdentityRemoved struct {
	Member model.Member `json:"member"`
}

// PlayerAdded reports a member that entered the other-members view.
type PlayerAdded struct {
	Member model.Member `json:"member"`
}

// PlayerChanged reports an update to another member.
type PlayerChanged struct {
	Member model.Member `json:"member"`
}

// PlayerRemoved reports a member that left the other-members view.
type PlayerRemoved struct {
	Member model.Member `json:"member"`
}

// PlayerConnected reports another member whose owner came online.
type PlayerConnected struct {
	Member model.Member `json:"member"`
}

// PlayerDisconnected reports another member with no owner online.
type PlayerDisconnected struct {
	Member model.Member `json:"member"`
}

// AccountAdded reports a new account.
type AccountAdded struct {
	Account model.Account `json:"account"`
}

// AccountChanged reports a replaced account.
type AccountChanged struct {
	Account model.Account `json:"account"`
}

// TransactionAdded reports an appended transaction.
type TransactionAdded struct {
	Transaction model.Transaction `json:"transaction"`
}

// BalanceChanged reports an account's new balance.
type BalanceChanged struct {
	AccountID model.AccountID `json:"accountId"`
	Balance   decimal.Decimal `json:"balance"`
}

func (Initialized) Kind() string        { return "initialized" }
func (Cleared) Kind() string            { return "cleared" }
func (Terminated) Kind() string         { return "terminated" }
func (ZoneCreated) Kind() string        { return "zoneCreated" }
func (ZoneNameChanged) Kind() string    { return "zoneNameChanged" }
func (IdentityAdded) Kind() string      { return "identityAdded" }
func (IdentityChanged) Kind() string    { return "identityChanged" }
func (IdentityRemoved) Kind() string    { return "identityRemoved" }
func (PlayerAdded) Kind() string        { return "playerAdded" }
func (PlayerChanged) Kind() string      { return "playerChanged" }
func (PlayerRemoved) Kind() string      { return "playerRemoved" }
func (PlayerConnected) Kind() string    { return "playerConnected" }
func (PlayerDisconnected) Kind() string { return "playerDisconnected" }
func (AccountAdded) Kind() string       { return "accountAdded" }
func (AccountChanged) Kind() string     { return "accountChanged" }
func (TransactionAdded) Kind() string   { return "transactionAdded" }
func (BalanceChanged) Kind() string     { return "balanceChanged" }

func (Initialized) isEvent()        {}
func (Cleared) isEvent()            {}
func (Terminated) isEvent()         {}
func (ZoneCreated) isEvent()        {}
func (ZoneNameChanged) isEvent()    {}
func (IdentityAdded) isEvent()      {}
func (IdentityChanged) isEvent()    {}
func (IdentityRemoved) isEvent()    {}
func (PlayerAdded) isEvent()        {}
func (PlayerChanged) isEvent()      {}
func (PlayerRemoved) isEvent()      {}
func (PlayerConnected) isEvent()    {}
func (PlayerDisconnected) isEvent() {}
func (AccountAdded) isEvent()       {}
func (AccountChanged) isEvent()     {}
func (TransactionAdded) isEvent()   {}
func (BalanceChanged) isEvent()     {}
