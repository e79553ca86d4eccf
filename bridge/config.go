//  config.go
//  ZoneClient Bridge
//
//  Copyright (c) 2025 Relative Companies, Inc.
//  Personal, non-commercial use only.
//
//  Defines the interface surface exposed to the gomobile bindings so the
//  native app can drive a zone session and observe it.

package bridge

// Listener is implemented by the host app. All callbacks arrive on one
// goroutine, in the order the session raised them, and must not block on the
// Client.
type Listener interface {
	// StateChanged reports the new join state, such as "joined" or
	// "reconnecting".
	StateChanged(state string)
	// Failed reports a failure that ended a join attempt. A fatal failure
	// needs RequestJoin with retry set before the client tries again.
	Failed(message string, fatal bool)
	// ZoneEvent reports a change to the zone mirror. payload is the JSON
	// encoding of the event.
	ZoneEvent(kind string, payload string)
}

// ResultCallback receives the outcome of an intent. message is empty on
// success.
type ResultCallback interface {
	Done(message string)
}
