package session

import (
	"github.com/relativeprotocol/zoneclient/replica"
)

// JoinState is the lifecycle of the session's wish to be joined to a zone.
type JoinState int32

// Join states. The initial state is Unavailable.
const (
	Unavailable JoinState = iota
	Available
	Connecting
	Reconnecting
	Joining
	Joined
	Quitting
	Disconnecting
)

func (s JoinState) String() string {
	switch s {
	case Unavailable:
		return "unavailable"
	case Available:
		return "available"
	case Connecting:
		return "connecting"
	case Reconnecting:
		return "reconnecting"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case Quitting:
		return "quitting"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// StateListener observes join state transitions.
type StateListener interface {
	JoinStateChanged(state JoinState)
}

// ErrorListener observes failures that moved the session to Available or
// Unavailable, and fatal protocol errors.
type ErrorListener interface {
	JoinFailed(err error)
}

// EventListener observes changes to the zone mirror.
type EventListener interface {
	ZoneEvent(ev replica.Event)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(JoinState)

// JoinStateChanged implements StateListener.
func (f StateListenerFunc) JoinStateChanged(state JoinState) { f(state) }

// ErrorListenerFunc adapts a function to ErrorListener.
type ErrorListenerFunc func(error)

// JoinFailed implements ErrorListener.
func (f ErrorListenerFunc) JoinFailed(err error) { f(err) }

// EventListenerFunc adapts a function to EventListener.
type EventListenerFunc func(replica.Event)

// ZoneEvent implements EventListener.
func (f EventListenerFunc) ZoneEvent(ev replica.Event) { f(ev) }
