//  model.go
//  ZoneClient Core
//
//  Copyright (c) 2025 Relative Companies, Inc.
//  Personal, non-commercial use only.
//
//  Declares the replicated zone data model: identifiers, members, accounts,
//  transactions and the zone aggregate that owns them.

package model

import (
	"encoding/base64"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ZoneID identifies a zone. It is assigned by the server when the zone is
// created.
type ZoneID string

// MemberID identifies a member within a zone.
type MemberID string

// AccountID identifies an account within a zone.
type AccountID string

// TransactionID identifies a transaction within a zone.
type TransactionID string

// PublicKey holds the raw DER-encoded SubjectPublicKeyInfo of a device
// identity. It is a string so it can key maps; on the wire it is base64.
type PublicKey string

// PublicKeyFromBytes copies raw key bytes into a PublicKey.
func PublicKeyFromBytes(raw []byte) PublicKey {
	return PublicKey(raw)
}

// Bytes returns a copy of the raw key bytes.
func (k PublicKey) Bytes() []byte {
	return []byte(k)
}

// String renders the key as standard base64.
func (k PublicKey) String() string {
	return base64.StdEncoding.EncodeToString([]byte(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PublicKey) UnmarshalText(text []byte) error {
	raw, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return err
	}
	*k = PublicKey(raw)
	return nil
}

// Metadata is the free-form JSON object attached to members and accounts.
type Metadata map[string]any

// MetadataHidden is the metadata key marking a soft-deleted member.
const MetadataHidden = "hidden"

// Clone returns a shallow copy of m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Member is an identity within a zone, owned by zero or more public keys.
type Member struct {
	ID              MemberID    `json:"id,omitempty"`
	OwnerPublicKeys []PublicKey `json:"ownerPublicKeys"`
	Name            string      `json:"name,omitempty"`
	Metadata        Metadata    `json:"metadata,omitempty"`
}

// OwnedBy reports whether key is one of the member's owners.
func (m Member) OwnedBy(key PublicKey) bool {
	for _, owner := range m.OwnerPublicKeys {
		if owner == key {
			return true
		}
	}
	return false
}

// Hidden reports whether the member has been soft-deleted.
func (m Member) Hidden() bool {
	hidden, _ := m.Metadata[MetadataHidden].(bool)
	return hidden
}

// Clone returns a deep enough copy that the result can be mutated without
// affecting m.
func (m Member) Clone() Member {
	m.OwnerPublicKeys = append([]PublicKey(nil), m.OwnerPublicKeys...)
	m.Metadata = m.Metadata.Clone()
	return m
}

// Account is a balance-holding entity owned by zero or more members.
type Account struct {
	ID             AccountID  `json:"id,omitempty"`
	OwnerMemberIDs []MemberID `json:"ownerMemberIds"`
	Name           string     `json:"name,omitempty"`
	Metadata       Metadata   `json:"metadata,omitempty"`
}

// OwnedBy reports whether member is one of the account's owners.
func (a Account) OwnedBy(member MemberID) bool {
	for _, owner := range a.OwnerMemberIDs {
		if owner == member {
			return true
		}
	}
	return false
}

// Clone returns a copy of a that shares no slices or maps with it.
func (a Account) Clone() Account {
	a.OwnerMemberIDs = append([]MemberID(nil), a.OwnerMemberIDs...)
	a.Metadata = a.Metadata.Clone()
	return a
}

// Transaction is an immutable value transfer between two accounts.
type Transaction struct {
	ID          TransactionID   `json:"id,omitempty"`
	From        AccountID       `json:"from"`
	To          AccountID       `json:"to"`
	Value       decimal.Decimal `json:"value"`
	Creator     MemberID        `json:"creator,omitempty"`
	Created     time.Time       `json:"created"`
	Description string          `json:"description,omitempty"`
}

// Zone is the aggregate root of a shared ledger.
type Zone struct {
	ID              ZoneID                        `json:"id"`
	Name            string                        `json:"name,omitempty"`
	EquityAccountID AccountID                     `json:"equityAccountId"`
	Members         map[MemberID]Member           `json:"members"`
	Accounts        map[AccountID]Account         `json:"accounts"`
	Transactions    map[TransactionID]Transaction `json:"transactions"`
	Created         time.Time                     `json:"created"`
	Expires         time.Time                     `json:"expires"`
	Metadata        Metadata                      `json:"metadata,omitempty"`
}

// NewZone returns an empty zone with initialised collections.
func NewZone(id ZoneID) *Zone {
	return &Zone{
		ID:           id,
		Members:      make(map[MemberID]Member),
		Accounts:     make(map[AccountID]Account),
		Transactions: make(map[TransactionID]Transaction),
	}
}

// Clone returns a deep copy of z.
func (z *Zone) Clone() *Zone {
	if z == nil {
		return nil
	}
	out := *z
	out.Members = make(map[MemberID]Member, len(z.Members))
	for id, m := range z.Members {
		out.Members[id] = m.Clone()
	}
	out.Accounts = make(map[AccountID]Account, len(z.Accounts))
	for id, a := range z.Accounts {
		out.Accounts[id] = a.Clone()
	}
	out.Transactions = make(map[TransactionID]Transaction, len(z.Transactions))
	for id, tx := range z.Transactions {
		out.Transactions[id] = tx
	}
	out.Metadata = z.Metadata.Clone()
	return &out
}

// EnsureMaps replaces nil collections with empty ones. Decoded zones may omit
// empty maps.
func (z *Zone) EnsureMaps() {
	if z.Members == nil {
		z.Members = make(map[MemberID]Member)
	}
	if z.Accounts == nil {
		z.Accounts = make(map[AccountID]Account)
	}
	if z.Transactions == nil {
		z.Transactions = make(map[TransactionID]Transaction)
	}
}

// SortedTransactions returns the zone's transactions ordered by creation time,
// then id.
func (z *Zone) SortedTransactions() []Transaction {
	out := make([]Transaction, 0, len(z.Transactions))
	for _, tx := range z.Transactions {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SortMembers orders members by name, then id.
func SortMembers(members []Member) {
	sort.Slice(members, func(i, j int) bool {
		if members[i].Name != members[j].Name {
			return members[i].Name < members[j].Name
		}
		return members[i].ID < members[j].ID
	})
}
