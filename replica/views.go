package replica

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/relativeprotocol/zoneclient/model"
)

func (r *Replica) sortedMembers(ids set[model.MemberID]) []model.Member {
	out := make([]model.Member, 0, len(ids))
	for id := range ids {
		out = append(out, r.zone.Members[id].Clone())
	}
	model.SortMembers(out)
	return out
}

// Zone returns a copy of the mirrored zone, or nil when the mirror is invalid.
func (r *Replica) Zone() *model.Zone {
	return r.zone.Clone()
}

// ZoneID returns the mirrored zone's id, or "" when the mirror is invalid.
func (r *Replica) ZoneID() model.ZoneID {
	if r.zone == nil {
		return ""
	}
	return r.zone.ID
}

// Identities returns the members owned by this device, hidden ones included.
func (r *Replica) Identities() []model.Member {
	return r.sortedMembers(r.identities)
}

// HiddenIdentities returns the identities marked hidden.
func (r *Replica) HiddenIdentities() []model.Member {
	var out []model.Member
	for _, m := range r.Identities() {
		if m.Hidden() {
			out = append(out, m)
		}
	}
	return out
}

// OtherMembers returns every member not owned by this device.
func (r *Replica) OtherMembers() []model.Member {
	return r.sortedMembers(r.others)
}

// ConnectedMembers returns the other members with at least one owner online.
func (r *Replica) ConnectedMembers() []model.Member {
	return r.sortedMembers(r.online)
}

// ConnectedClients returns the keys of the clients joined to the zone.
func (r *Replica) ConnectedClients() []model.PublicKey {
	out := make([]model.PublicKey, 0, len(r.connected))
	for key := range r.connected {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsIdentity reports whether id is owned by this device.
func (r *Replica) IsIdentity(id model.MemberID) bool {
	return r.identities.has(id)
}

// Member looks up a member.
func (r *Replica) Member(id model.MemberID) (model.Member, bool) {
	if r.zone == nil {
		return model.Member{}, false
	}
	m, ok := r.zone.Members[id]
	return m.Clone(), ok
}

// Account looks up an account.
func (r *Replica) Account(id model.AccountID) (model.Account, bool) {
	if r.zone == nil {
		return model.Account{}, false
	}
	a, ok := r.zone.Accounts[id]
	return a.Clone(), ok
}

// AccountsOf returns the accounts that list member among their owners,
// ordered by id.
func (r *Replica) AccountsOf(member model.MemberID) []model.Account {
	if r.zone == nil {
		return nil
	}
	var out []model.Account
	for _, a := range r.zone.Accounts {
		if a.OwnedBy(member) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AccountBalance returns incoming minus outgoing value for an account.
func (r *Replica) AccountBalance(id model.AccountID) (decimal.Decimal, bool) {
	b, ok := r.balances[id]
	return b, ok
}

// MemberBalance sums the balances of every account the member owns. A shared
// account counts in full for each of its owners.
func (r *Replica) MemberBalance(id model.MemberID) decimal.Decimal {
	total := decimal.Zero
	for _, a := range r.AccountsOf(id) {
		total = total.Add(r.balances[a.ID])
	}
	return total
}
