package session

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relativeprotocol/zoneclient/correlator"
	"github.com/relativeprotocol/zoneclient/credential"
	"github.com/relativeprotocol/zoneclient/model"
	"github.com/relativeprotocol/zoneclient/protocol"
	"github.com/relativeprotocol/zoneclient/replica"
	"github.com/relativeprotocol/zoneclient/transport"
)

// Everything in this file runs on the session loop.

func (s *Session) setState(state JoinState) {
	if s.state == state {
		return
	}
	s.logger.Info("join state changed",
		zap.Stringer("from", s.state),
		zap.Stringer("to", state))
	s.state = state
	s.current.Store(int32(state))
	s.states.Dispatch(func(l StateListener) { l.JoinStateChanged(state) })
}

func (s *Session) report(err error) {
	s.errs.Dispatch(func(l ErrorListener) { l.JoinFailed(err) })
}

func (s *Session) emit(ev replica.Event) {
	s.events.Dispatch(func(l EventListener) { l.ZoneEvent(ev) })
}

// IsFatal reports whether err ends joining until RequestJoin is called with
// retry set. A command error is fatal unless the server marked it retryable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var cmdErr *protocol.CommandError
	if errors.As(err, &cmdErr) {
		return !cmdErr.Retryable
	}
	return !transport.IsRetryable(err)
}

// advance acts on interest that was just registered.
func (s *Session) advance() {
	switch s.state {
	case Unavailable, Available:
		if s.fatal {
			s.logger.Info("join requested after a fatal failure; waiting for a retry")
			return
		}
		s.connect()
	}
	// Every other state is already working towards Joined, or resumes the
	// join once its quit or disconnect finishes.
}

func (s *Session) connect() {
	s.failed = false
	s.setState(Connecting)
	s.link = transport.Connecting
	s.transport.Connect()
}

func (s *Session) disconnect() {
	s.setState(Disconnecting)
	if s.link == transport.Idle {
		s.settle(nil)
		return
	}
	s.transport.Disconnect()
}

// abort ends the current attempt because of err. The session settles in
// Unavailable when err is fatal and in Available otherwise.
func (s *Session) abort(err error) {
	fatal := IsFatal(err)
	s.logger.Error("join failed", zap.Bool("fatal", fatal), zap.Error(err))
	if fatal {
		s.fatal = true
	}
	s.failed = true
	s.report(err)
	s.disconnect()
}

func (s *Session) linkChanged(state transport.State, err error) {
	s.link = state
	switch state {
	case transport.Connected:
		s.connected()
	case transport.Connecting:
		if err != nil {
			s.lost(err)
		}
	case transport.Idle:
		s.settle(err)
	}
}

func (s *Session) connected() {
	if s.closed || len(s.tokens) == 0 {
		s.disconnect()
		return
	}
	switch s.state {
	case Connecting, Reconnecting:
		s.start()
	}
}

// lost handles a live connection that dropped while the transport reconnects.
func (s *Session) lost(err error) {
	s.logger.Warn("connection lost", zap.Stringer("state", s.state), zap.Error(err))
	switch s.state {
	case Joined, Joining:
		s.setState(Reconnecting)
	case Quitting:
		s.setState(Disconnecting)
		s.transport.Disconnect()
	}
	s.replica.Clear()
	s.corr.Reset()
}

// settle handles the transport reaching Idle.
func (s *Session) settle(err error) {
	switch {
	case err != nil:
		fatal := IsFatal(err)
		if fatal {
			s.fatal = true
		}
		s.logger.Error("connection failed", zap.Bool("fatal", fatal), zap.Error(err))
		s.report(err)
		if fatal {
			s.setState(Unavailable)
		} else {
			s.setState(Available)
		}
	case s.failed:
		if s.fatal {
			s.setState(Unavailable)
		} else {
			s.setState(Available)
		}
	case !s.closed && !s.fatal && len(s.tokens) > 0:
		s.connect()
	default:
		s.setState(Unavailable)
	}
	s.replica.Clear()
	s.corr.Reset()
}

// start opens the zone on a fresh connection.
func (s *Session) start() {
	s.setState(Joining)
	if s.zoneID == "" {
		s.create()
		return
	}
	s.join()
}

func (s *Session) create() {
	name := s.cfg.EquityName
	cmd := protocol.CreateZone{
		Name:          s.cfg.ZoneName,
		EquityOwner:   model.Member{Name: name, OwnerPublicKeys: []model.PublicKey{s.self}},
		EquityAccount: model.Account{Name: name},
	}
	s.corr.Send("", cmd, func(body protocol.ResponseBody, err error) {
		if s.state != Joining {
			return
		}
		if err != nil {
			s.commandFailed(err)
			return
		}
		zone := body.(protocol.CreateZoneResponse).Zone
		if zone.ID == "" {
			s.abort(protocol.Violation("created zone has no id"))
			return
		}
		s.zoneID = zone.ID
		s.logger.Info("zone created", zap.String("zone", string(zone.ID)))
		s.emit(replica.ZoneCreated{ZoneID: zone.ID})
		if len(s.tokens) == 0 {
			s.disconnect()
			return
		}
		s.join()
	})
}

func (s *Session) join() {
	s.setState(Joining)
	zoneID := s.zoneID
	s.corr.Send(zoneID, protocol.JoinZone{}, func(body protocol.ResponseBody, err error) {
		if s.state != Joining {
			return
		}
		if err != nil {
			s.commandFailed(err)
			return
		}
		resp := body.(protocol.JoinZoneResponse)
		if resp.Zone.ID != zoneID {
			s.abort(protocol.Violation("joined zone %q, asked for %q", resp.Zone.ID, zoneID))
			return
		}
		if err := s.replica.Hydrate(resp.Zone, resp.ConnectedClients); err != nil {
			s.abort(err)
			return
		}
		s.setState(Joined)
		if len(s.tokens) == 0 {
			s.quit()
		}
	})
}

// commandFailed handles a create or join command that did not succeed.
func (s *Session) commandFailed(err error) {
	if errors.Is(err, correlator.ErrConnectionLost) {
		// The transport callback that caused this drives the state.
		return
	}
	s.abort(err)
}

func (s *Session) quit() {
	s.setState(Quitting)
	s.corr.Send(s.zoneID, protocol.QuitZone{}, func(_ protocol.ResponseBody, err error) {
		if s.state != Quitting {
			return
		}
		if err != nil {
			s.logger.Warn("quit failed", zap.Error(err))
		}
		if len(s.tokens) > 0 && err == nil {
			s.join()
			return
		}
		s.replica.Clear()
		s.disconnect()
	})
}

func (s *Session) scheduleQuit() {
	s.cancelQuit()
	if s.cfg.QuitDelay <= 0 {
		s.release()
		return
	}
	seq := s.quitSeq
	s.quitTimer = time.AfterFunc(s.cfg.QuitDelay, func() {
		s.loop.Post(func() {
			if seq == s.quitSeq {
				s.release()
			}
		})
	})
}

func (s *Session) cancelQuit() {
	s.quitSeq++
	if s.quitTimer != nil {
		s.quitTimer.Stop()
		s.quitTimer = nil
	}
}

// release winds the session down once no interest remains. A pending join is
// left to complete; its response triggers the quit.
func (s *Session) release() {
	if len(s.tokens) > 0 {
		return
	}
	switch s.state {
	case Joined:
		s.quit()
	case Connecting, Reconnecting:
		s.disconnect()
	}
}

func (s *Session) frameReceived(msg protocol.ServerMessage) {
	switch msg := msg.(type) {
	case protocol.Response:
		if err := s.corr.HandleResponse(msg); err != nil {
			s.abort(err)
		}
	case protocol.NotificationFrame:
		s.notified(msg)
	default:
		s.abort(protocol.Violation("unexpected %T frame", msg))
	}
}

func (s *Session) notified(frame protocol.NotificationFrame) {
	if !s.replica.Valid() {
		s.logger.Debug("dropping notification outside a joined zone",
			zap.String("kind", string(frame.Notification.Kind())))
		return
	}
	if frame.ZoneID != s.replica.ZoneID() {
		s.abort(protocol.Violation("notification for zone %q while joined to %q", frame.ZoneID, s.replica.ZoneID()))
		return
	}
	if err := s.replica.Apply(frame.Notification); err != nil {
		s.abort(fmt.Errorf("apply %s: %w", frame.Notification.Kind(), err))
		return
	}
	switch n := frame.Notification.(type) {
	case protocol.ZoneTerminated:
		s.terminated()
	case protocol.ClientJoinedZone:
		s.logger.Debug("client joined", zap.String("client", credential.Fingerprint(n.PublicKey)))
	case protocol.ClientQuitZone:
		s.logger.Debug("client quit", zap.String("client", credential.Fingerprint(n.PublicKey)))
	}
}

// terminated rejoins a zone the server discarded.
func (s *Session) terminated() {
	s.logger.Info("zone terminated", zap.String("zone", string(s.zoneID)))
	switch s.state {
	case Joined:
		if len(s.tokens) == 0 {
			s.disconnect()
			return
		}
		s.join()
	case Quitting:
		s.disconnect()
	}
}
