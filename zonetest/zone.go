package zonetest

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/relativeprotocol/zoneclient/model"
	"github.com/relativeprotocol/zoneclient/protocol"
)

// hostedZone is the authoritative copy of one zone.
type hostedZone struct {
	zone   *model.Zone
	nextID int64
}

func (h *hostedZone) id() string {
	h.nextID++
	return strconv.FormatInt(h.nextID, 10)
}

func (h *hostedZone) balance(account model.AccountID) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range h.zone.Transactions {
		if tx.To == account {
			total = total.Add(tx.Value)
		}
		if tx.From == account {
			total = total.Sub(tx.Value)
		}
	}
	return total
}

func commandError(code, format string, args ...any) *protocol.CommandError {
	return &protocol.CommandError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: code == protocol.CodeUnavailable,
	}
}

// ledger applies commands to hosted zones. It is not safe for concurrent use;
// the server serialises access.
type ledger struct {
	zones map[model.ZoneID]*hostedZone
	now   func() time.Time
	ttl   time.Duration
}

func newLedger() *ledger {
	return &ledger{
		zones: make(map[model.ZoneID]*hostedZone),
		now:   func() time.Time { return time.Now().UTC() },
		ttl:   7 * 24 * time.Hour,
	}
}

func (l *ledger) createZone(cmd protocol.CreateZone) (*model.Zone, *protocol.CommandError) {
	if err := protocol.Validate(cmd); err != nil {
		return nil, commandError(protocol.CodeInvalidCommand, "%v", err)
	}
	now := l.now()
	h := &hostedZone{zone: model.NewZone(model.ZoneID(uuid.NewString()))}
	h.zone.Name = cmd.Name
	h.zone.Created = now
	h.zone.Expires = now.Add(l.ttl)
	h.zone.Metadata = cmd.Metadata.Clone()

	owner := cmd.EquityOwner.Clone()
	owner.ID = model.MemberID(h.id())
	h.zone.Members[owner.ID] = owner

	account := cmd.EquityAccount.Clone()
	account.ID = model.AccountID(h.id())
	account.OwnerMemberIDs = []model.MemberID{owner.ID}
	h.zone.Accounts[account.ID] = account
	h.zone.EquityAccountID = account.ID

	l.zones[h.zone.ID] = h
	return h.zone.Clone(), nil
}

// apply executes a zone-scoped command issued by key. Notifications are
// returned in the order they must be broadcast.
func (l *ledger) apply(key model.PublicKey, zoneID model.ZoneID, cmd protocol.Command) (protocol.ResponseBody, []protocol.Notification, *protocol.CommandError) {
	h, ok := l.zones[zoneID]
	if !ok {
		return nil, nil, commandError(protocol.CodeZoneNotFound, "zone %s does not exist", zoneID)
	}
	if err := protocol.Validate(cmd); err != nil {
		return nil, nil, commandError(protocol.CodeInvalidCommand, "%v", err)
	}
	zone := h.zone

	switch c := cmd.(type) {
	case protocol.CreateMember:
		member := c.Member.Clone()
		member.ID = model.MemberID(h.id())
		zone.Members[member.ID] = member
		return protocol.CreateMemberResponse{Member: member.Clone()},
			[]protocol.Notification{protocol.MemberCreated{Member: member.Clone()}}, nil

	case protocol.UpdateMember:
		current, ok := zone.Members[c.Member.ID]
		if !ok {
			return nil, nil, commandError(protocol.CodeUnknownMember, "member %s does not exist", c.Member.ID)
		}
		if !current.OwnedBy(key) {
			return nil, nil, commandError(protocol.CodeNotOwner, "member %s is not owned by the caller", c.Member.ID)
		}
		member := c.Member.Clone()
		zone.Members[member.ID] = member
		return protocol.UpdateMemberResponse{},
			[]protocol.Notification{protocol.MemberUpdated{Member: member.Clone()}}, nil

	case protocol.CreateAccount:
		if cerr := l.checkOwners(zone, key, c.Account.OwnerMemberIDs); cerr != nil {
			return nil, nil, cerr
		}
		account := c.Account.Clone()
		account.ID = model.AccountID(h.id())
		zone.Accounts[account.ID] = account
		return protocol.CreateAccountResponse{Account: account.Clone()},
			[]protocol.Notification{protocol.AccountCreated{Account: account.Clone()}}, nil

	case protocol.UpdateAccount:
		current, ok := zone.Accounts[c.Account.ID]
		if !ok {
			return nil, nil, commandError(protocol.CodeUnknownAccount, "account %s does not exist", c.Account.ID)
		}
		if cerr := l.checkOwners(zone, key, current.OwnerMemberIDs); cerr != nil {
			return nil, nil, cerr
		}
		for _, owner := range c.Account.OwnerMemberIDs {
			if _, ok := zone.Members[owner]; !ok {
				return nil, nil, commandError(protocol.CodeUnknownMember, "member %s does not exist", owner)
			}
		}
		account := c.Account.Clone()
		zone.Accounts[account.ID] = account
		return protocol.UpdateAccountResponse{},
			[]protocol.Notification{protocol.AccountUpdated{Account: account.Clone()}}, nil

	case protocol.AddTransaction:
		from, ok := zone.Accounts[c.From]
		if !ok {
			return nil, nil, commandError(protocol.CodeUnknownAccount, "account %s does not exist", c.From)
		}
		if _, ok := zone.Accounts[c.To]; !ok {
			return nil, nil, commandError(protocol.CodeUnknownAccount, "account %s does not exist", c.To)
		}
		actor, ok := zone.Members[c.ActingAs]
		if !ok {
			return nil, nil, commandError(protocol.CodeUnknownMember, "member %s does not exist", c.ActingAs)
		}
		if !actor.OwnedBy(key) || !from.OwnedBy(actor.ID) {
			return nil, nil, commandError(protocol.CodeNotOwner, "account %s is not owned by member %s", c.From, c.ActingAs)
		}
		if c.From != zone.EquityAccountID && h.balance(c.From).LessThan(c.Value) {
			return nil, nil, commandError(protocol.CodeInsufficientBalance, "account %s cannot cover %s", c.From, c.Value)
		}
		tx := model.Transaction{
			ID:          model.TransactionID(h.id()),
			From:        c.From,
			To:          c.To,
			Value:       c.Value,
			Creator:     c.ActingAs,
			Created:     l.now(),
			Description: c.Description,
		}
		zone.Transactions[tx.ID] = tx
		return protocol.AddTransactionResponse{Transaction: tx},
			[]protocol.Notification{protocol.TransactionAdded{Transaction: tx}}, nil

	case protocol.SetZoneName:
		zone.Name = c.Name
		return protocol.SetZoneNameResponse{},
			[]protocol.Notification{protocol.ZoneNameSet{Name: c.Name}}, nil

	default:
		return nil, nil, commandError(protocol.CodeInvalidCommand, "unsupported command %s", cmd.Kind())
	}
}

// checkOwners requires every owner to exist and at least one of them to be
// controlled by key.
func (l *ledger) checkOwners(zone *model.Zone, key model.PublicKey, owners []model.MemberID) *protocol.CommandError {
	controlled := false
	for _, id := range owners {
		member, ok := zone.Members[id]
		if !ok {
			return commandError(protocol.CodeUnknownMember, "member %s does not exist", id)
		}
		if member.OwnedBy(key) {
			controlled = true
		}
	}
	if !controlled {
		return commandError(protocol.CodeNotOwner, "no owner is controlled by the caller")
	}
	return nil
}
