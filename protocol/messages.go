//  messages.go
//  ZoneClient Core
//
//  Copyright (c) 2025 Relative Companies, Inc.
//  Personal, non-commercial use only.
//
//  Declares the closed sets of commands, responses and notifications that
//  travel between a zone client and the zone server.

package protocol

import (
	"github.com/shopspring/decimal"

	"github.com/relativeprotocol/zoneclient/model"
)

// Kind tags the body of a command, response or notification frame. A command
// and its response share the same kind.
type Kind string

// Command and response kinds.
const (
	KindCreateZone     Kind = "createZone"
	KindJoinZone       Kind = "joinZone"
	KindQuitZone       Kind = "quitZone"
	KindCreateMember   Kind = "createMember"
	KindUpdateMember   Kind = "updateMember"
	KindCreateAccount  Kind = "createAccount"
	KindUpdateAccount  Kind = "updateAccount"
	KindAddTransaction Kind = "addTransaction"
	KindSetZoneName    Kind = "setZoneName"
)

// Notification kinds.
const (
	KindClientJoinedZone Kind = "clientJoinedZone"
	KindClientQuitZone   Kind = "clientQuitZone"
	KindMemberCreated    Kind = "memberCreated"
	KindMemberUpdated    Kind = "memberUpdated"
	KindAccountCreated   Kind = "accountCreated"
	KindAccountUpdated   Kind = "accountUpdated"
	KindTransactionAdded Kind = "transactionAdded"
	KindZoneNameSet      Kind = "zoneNameSet"
	KindZoneTerminated   Kind = "zoneTerminated"
)

// Command is a client request. The set of implementations is closed: only
// the types in this file satisfy it.
type Command interface {
	Kind() Kind
	isCommand()
}

// CreateZone creates a zone with its equity owner and equity account. It is
// the only command that is not scoped to an existing zone.
type CreateZone struct {
	Name          string         `json:"name,omitempty"`
	EquityOwner   model.Member   `json:"equityOwner"`
	EquityAccount model.Account  `json:"equityAccount"`
	Metadata      model.Metadata `json:"metadata,omitempty"`
}

// JoinZone attaches the connection to a zone's notification stream.
type JoinZone struct{}

// QuitZone detaches the connection from a zone.
type QuitZone struct{}

// CreateMember adds a member; the server assigns its id.
type CreateMember struct {
	Member model.Member `json:"member"`
}

// UpdateMember replaces an existing member record.
type UpdateMember struct {
	Member model.Member `json:"member"`
}

// CreateAccount adds an account; the server assigns its id.
type CreateAccount struct {
	Account model.Account `json:"account"`
}

// UpdateAccount replaces an existing account record.
type UpdateAccount struct {
	Account model.Account `json:"account"`
}

// AddTransaction transfers value between two accounts, acting as a member
// that owns the source account.
type AddTransaction struct {
	ActingAs    model.MemberID  `json:"actingAs"`
	From        model.AccountID `json:"from"`
	To          model.AccountID `json:"to"`
	Value       decimal.Decimal `json:"value"`
	Description string          `json:"description,omitempty"`
}

// SetZoneName renames the zone.
type SetZoneName struct {
	Name string `json:"name,omitempty"`
}

func (CreateZone) Kind() Kind     { return KindCreateZone }
func (JoinZone) Kind() Kind       { return KindJoinZone }
func (QuitZone) Kind() Kind       { return KindQuitZone }
func (CreateMember) Kind() Kind   { return KindCreateMember }
func (UpdateMember) Kind() Kind   { return KindUpdateMember }
func (CreateAccount) Kind() Kind  { return KindCreateAccount }
func (UpdateAccount) Kind() Kind  { return KindUpdateAccount }
func (AddTransaction) Kind() Kind { return KindAddTransaction }
func (SetZoneName) Kind() Kind    { return KindSetZoneName }

func (CreateZone) isCommand()     {}
func (JoinZone) isCommand()       {}
func (QuitZone) isCommand()       {}
func (CreateMember) isCommand()   {}
func (UpdateMember) isCommand()   {}
func (CreateAccount) isCommand()  {}
func (UpdateAccount) isCommand()  {}
func (AddTransaction) isCommand() {}
func (SetZoneName) isCommand()    {}

// ResponseBody is the success payload of a response. Its Kind matches the
// command it answers.
type ResponseBody interface {
	Kind() Kind
	isResponse()
}

// CreateZoneResponse carries the newly created zone.
type CreateZoneResponse struct {
	Zone model.Zone `json:"zone"`
}

// JoinZoneResponse carries the full zone snapshot and the public keys of the
// clients currently connected to it.
type JoinZoneResponse struct {
	Zone             model.Zone        `json:"zone"`
	ConnectedClients []model.PublicKey `json:"connectedClients"`
}

// QuitZoneResponse acknowledges QuitZone.
type QuitZoneResponse struct{}

// CreateMemberResponse carries the created member with its assigned id.
type CreateMemberResponse struct {
	Member model.Member `json:"member"`
}

// UpdateMemberResponse acknowledges UpdateMember.
type UpdateMemberResponse struct{}

// CreateAccountResponse carries the created account with its assigned id.
type CreateAccountResponse struct {
	Account model.Account `json:"account"`
}

// UpdateAccountResponse acknowledges UpdateAccount.
type UpdateAccountResponse struct{}

// AddTransactionResponse carries the appended transaction.
type AddTransactionResponse struct {
	Transaction model.Transaction `json:"transaction"`
}

// SetZoneNameResponse acknowledges SetZoneName.
type SetZoneNameResponse struct{}

func (CreateZoneResponse) Kind() Kind     { return KindCreateZone }
func (JoinZoneResponse) Kind() Kind       { return KindJoinZone }
func (QuitZoneResponse) Kind() Kind       { return KindQuitZone }
func (CreateMemberResponse) Kind() Kind   { return KindCreateMember }
func (UpdateMemberResponse) Kind() Kind   { return KindUpdateMember }
func (CreateAccountResponse) Kind() Kind  { return KindCreateAccount }
func (UpdateAccountResponse) Kind() Kind  { return KindUpdateAccount }
func (AddTransactionResponse) Kind() Kind { return KindAddTransaction }
func (SetZoneNameResponse) Kind() Kind    { return KindSetZoneName }

func (CreateZoneResponse) isResponse()     {}
func (JoinZoneResponse) isResponse()       {}
func (QuitZoneResponse) isResponse()       {}
func (CreateMemberResponse) isResponse()   {}
func (UpdateMemberResponse) isResponse()   {}
func (CreateAccountResponse) isResponse()  {}
func (UpdateAccountResponse) isResponse()  {}
func (AddTransactionResponse) isResponse() {}
func (SetZoneNameResponse) isResponse()    {}

// Notification is a zone event pushed by the server to every joined client.
type Notification interface {
	Kind() Kind
	isNotification()
}

// ClientJoinedZone reports a newly connected client.
type ClientJoinedZone struct {
	PublicKey model.PublicKey `json:"publicKey"`
}

// ClientQuitZone reports a client that left the zone.
type ClientQuitZone struct {
	PublicKey model.PublicKey `json:"publicKey"`
}

// MemberCreated reports a new member.
type MemberCreated struct {
	Member model.Member `json:"member"`
}

// MemberUpdated reports a replaced member record.
type MemberUpdated struct {
	Member model.Member `json:"member"`
}

// AccountCreated reports a new account.
type AccountCreated struct {
	Account model.Account `json:"account"`
}

// AccountUpdated reports a replaced account record.
type AccountUpdated struct {
	Account model.Account `json:"account"`
}

// TransactionAdded reports an appended transaction.
type TransactionAdded struct {
	Transaction model.Transaction `json:"transaction"`
}

// ZoneNameSet reports a zone rename.
type ZoneNameSet struct {
	Name string `json:"name,omitempty"`
}

// ZoneTerminated reports that the server discarded the zone session. Clients
// must rejoin.
type ZoneTerminated struct{}

func (ClientJoinedZone) Kind() Kind { return KindClientJoinedZone }
func (ClientQuitZone) Kind() Kind   { return KindClientQuitZone }
func (MemberCreated) Kind() Kind    { return KindMemberCreated }
func (MemberUpdated) Kind() Kind    { return KindMemberUpdated }
func (AccountCreated) Kind() Kind   { return KindAccountCreated }
func (AccountUpdated) Kind() Kind   { return KindAccountUpdated }
func (TransactionAdded) Kind() Kind { return KindTransactionAdded }
func (ZoneNameSet) Kind() Kind      { return KindZoneNameSet }
func (ZoneTerminated) Kind() Kind   { return KindZoneTerminated }

func (ClientJoinedZone) isNotification() {}
func (ClientQuitZone) isNotification()   {}
func (MemberCreated) isNotification()    {}
func (MemberUpdated) isNotification()    {}
func (AccountCreated) isNotification()   {}
func (AccountUpdated) isNotification()   {}
func (TransactionAdded) isNotification() {}
func (ZoneNameSet) isNotification()      {}
func (ZoneTerminated) isNotification()   {}
