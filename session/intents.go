package session

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/relativeprotocol/zoneclient/correlator"
	"github.com/relativeprotocol/zoneclient/model"
	"github.com/relativeprotocol/zoneclient/protocol"
)

// Result receives the outcome of an intent on the UI executor.
type Result func(err error)

func (s *Session) deliver(done Result, err error) {
	if done == nil {
		return
	}
	s.ui.Post(func() { done(err) })
}

// intent runs fn on the loop once the session is joined, failing done
// otherwise.
func (s *Session) intent(done Result, fn func()) {
	s.loop.Post(func() {
		switch {
		case s.closed:
			s.deliver(done, ErrClosed)
		case s.state != Joined:
			s.deliver(done, ErrNotJoined)
		default:
			fn()
		}
	})
}

// send issues cmd against the joined zone and reports to done.
func (s *Session) send(cmd protocol.Command, done Result) {
	s.corr.Send(s.zoneID, cmd, func(_ protocol.ResponseBody, err error) {
		s.deliver(done, err)
	})
}

func (s *Session) identity(id model.MemberID) (model.Member, error) {
	if !s.replica.IsIdentity(id) {
		return model.Member{}, fmt.Errorf("%w: %s", ErrUnknownIdentity, id)
	}
	m, _ := s.replica.Member(id)
	return m, nil
}

// Execute submits a raw zone command. cb runs on the UI executor.
func (s *Session) Execute(cmd protocol.Command, cb correlator.Callback) {
	if cb == nil {
		cb = func(protocol.ResponseBody, error) {}
	}
	s.intent(func(err error) { cb(nil, err) }, func() {
		s.corr.Send(s.zoneID, cmd, func(body protocol.ResponseBody, err error) {
			s.ui.Post(func() { cb(body, err) })
		})
	})
}

// CreateIdentity creates a member owned by this device, then an account for
// it.
func (s *Session) CreateIdentity(name string, done Result) {
	s.intent(done, func() {
		member := model.Member{Name: name, OwnerPublicKeys: []model.PublicKey{s.self}}
		s.corr.Send(s.zoneID, protocol.CreateMember{Member: member}, func(body protocol.ResponseBody, err error) {
			if err != nil {
				s.deliver(done, err)
				return
			}
			created := body.(protocol.CreateMemberResponse).Member
			account := model.Account{Name: name, OwnerMemberIDs: []model.MemberID{created.ID}}
			s.send(protocol.CreateAccount{Account: account}, done)
		})
	})
}

// ChangeIdentityName renames an identity.
func (s *Session) ChangeIdentityName(id model.MemberID, name string, done Result) {
	s.intent(done, func() {
		m, err := s.identity(id)
		if err != nil {
			s.deliver(done, err)
			return
		}
		m.Name = name
		s.send(protocol.UpdateMember{Member: m}, done)
	})
}

// DeleteIdentity hides an identity. Members are never removed from a zone.
func (s *Session) DeleteIdentity(id model.MemberID, done Result) {
	s.setHidden(id, true, done)
}

// RestoreIdentity unhides an identity.
func (s *Session) RestoreIdentity(id model.MemberID, done Result) {
	s.setHidden(id, false, done)
}

func (s *Session) setHidden(id model.MemberID, hidden bool, done Result) {
	s.intent(done, func() {
		m, err := s.identity(id)
		if err != nil {
			s.deliver(done, err)
			return
		}
		if m.Hidden() == hidden {
			s.deliver(done, nil)
			return
		}
		if hidden {
			if m.Metadata == nil {
				m.Metadata = model.Metadata{}
			}
			m.Metadata[model.MetadataHidden] = true
		} else {
			delete(m.Metadata, model.MetadataHidden)
		}
		s.send(protocol.UpdateMember{Member: m}, done)
	})
}

// TransferIdentity hands an identity to the device holding target.
func (s *Session) TransferIdentity(id model.MemberID, target model.PublicKey, done Result) {
	s.intent(done, func() {
		m, err := s.identity(id)
		if err != nil {
			s.deliver(done, err)
			return
		}
		m.OwnerPublicKeys = []model.PublicKey{target}
		s.send(protocol.UpdateMember{Member: m}, done)
	})
}

// TransferToPlayer moves value from the first account of identity from to
// the first account of every recipient, one transaction each. done receives
// the combined failures once every transaction has been answered.
func (s *Session) TransferToPlayer(from model.MemberID, to []model.MemberID, value decimal.Decimal, done Result) {
	s.intent(done, func() {
		if _, err := s.identity(from); err != nil {
			s.deliver(done, err)
			return
		}
		source, err := s.accountOf(from, ErrUnknownIdentity)
		if err != nil {
			s.deliver(done, err)
			return
		}
		var cmds []protocol.AddTransaction
		for _, recipient := range to {
			target, err := s.accountOf(recipient, ErrUnknownPlayer)
			if err != nil {
				s.deliver(done, err)
				return
			}
			cmds = append(cmds, protocol.AddTransaction{
				ActingAs: from,
				From:     source,
				To:       target,
				Value:    value,
			})
		}
		if len(cmds) == 0 {
			s.deliver(done, nil)
			return
		}

		remaining := len(cmds)
		var errs error
		for _, cmd := range cmds {
			s.corr.Send(s.zoneID, cmd, func(_ protocol.ResponseBody, err error) {
				errs = multierr.Append(errs, err)
				remaining--
				if remaining == 0 {
					s.deliver(done, errs)
				}
			})
		}
	})
}

func (s *Session) accountOf(member model.MemberID, unknown error) (model.AccountID, error) {
	if _, ok := s.replica.Member(member); !ok {
		return "", fmt.Errorf("%w: %s", unknown, member)
	}
	accounts := s.replica.AccountsOf(member)
	if len(accounts) == 0 {
		return "", fmt.Errorf("%w: %s has no account", unknown, member)
	}
	return accounts[0].ID, nil
}

// ChangeGameName renames the zone.
func (s *Session) ChangeGameName(name string, done Result) {
	s.intent(done, func() {
		s.send(protocol.SetZoneName{Name: name}, done)
	})
}
