//  codec.go
//  ZoneClient Core
//
//  Copyright (c) 2025 Relative Companies, Inc.
//  Personal, non-commercial use only.
//
//  Encodes and decodes the versioned JSON envelopes exchanged over the zone
//  websocket. Both directions live here so the client and the test server
//  share one wire definition.

package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/relativeprotocol/zoneclient/model"
)

// Version is the wire-protocol revision spoken by this client.
const Version = 1

// FrameType is the top-level tag of every frame.
type FrameType string

// Recognised frame types.
const (
	FrameConnectionNumber FrameType = "connectionNumber"
	FrameHeartbeat        FrameType = "heartbeat"
	FrameCommand          FrameType = "command"
	FrameResponse         FrameType = "response"
	FrameNotification     FrameType = "notification"
)

type envelope struct {
	Version          int             `json:"v"`
	Type             FrameType       `json:"type"`
	ConnectionNumber int64           `json:"connectionNumber,omitempty"`
	CorrelationID    int64           `json:"correlationId,omitempty"`
	ZoneID           model.ZoneID    `json:"zoneId,omitempty"`
	Kind             Kind            `json:"kind,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Error            *CommandError   `json:"error,omitempty"`
}

// ServerMessage is a decoded server-to-client frame: one of ConnectionNumber,
// Heartbeat, Response or NotificationFrame.
type ServerMessage interface {
	isServerMessage()
}

// ConnectionNumber is the handshake frame that opens every connection.
type ConnectionNumber struct {
	Number int64
}

// Heartbeat keeps an idle connection alive.
type Heartbeat struct{}

// Response answers the command with the same correlation id. Exactly one of
// Body and Err is set.
type Response struct {
	CorrelationID int64
	Kind          Kind
	Body          ResponseBody
	Err           *CommandError
}

// NotificationFrame carries a zone event.
type NotificationFrame struct {
	ZoneID       model.ZoneID
	Notification Notification
}

func (ConnectionNumber) isServerMessage()  {}
func (Heartbeat) isServerMessage()         {}
func (Response) isServerMessage()          {}
func (NotificationFrame) isServerMessage() {}

// CommandFrame is a decoded client-to-server frame.
type CommandFrame struct {
	CorrelationID int64
	ZoneID        model.ZoneID
	Command       Command
}

var commandDecoders = map[Kind]func(json.RawMessage) (Command, error){
	KindCreateZone:     decodeCommand[CreateZone],
	KindJoinZone:       decodeCommand[JoinZone],
	KindQuitZone:       decodeCommand[QuitZone],
	KindCreateMember:   decodeCommand[CreateMember],
	KindUpdateMember:   decodeCommand[UpdateMember],
	KindCreateAccount:  decodeCommand[CreateAccount],
	KindUpdateAccount:  decodeCommand[UpdateAccount],
	KindAddTransaction: decodeCommand[AddTransaction],
	KindSetZoneName:    decodeCommand[SetZoneName],
}

var responseDecoders = map[Kind]func(json.RawMessage) (ResponseBody, error){
	KindCreateZone:     decodeResponse[CreateZoneResponse],
	KindJoinZone:       decodeResponse[JoinZoneResponse],
	KindQuitZone:       decodeResponse[QuitZoneResponse],
	KindCreateMember:   decodeResponse[CreateMemberResponse],
	KindUpdateMember:   decodeResponse[UpdateMemberResponse],
	KindCreateAccount:  decodeResponse[CreateAccountResponse],
	KindUpdateAccount:  decodeResponse[UpdateAccountResponse],
	KindAddTransaction: decodeResponse[AddTransactionResponse],
	KindSetZoneName:    decodeResponse[SetZoneNameResponse],
}

var notificationDecoders = map[Kind]func(json.RawMessage) (Notification, error){
	KindClientJoinedZone: decodeNotification[ClientJoinedZone],
	KindClientQuitZone:   decodeNotification[ClientQuitZone],
	KindMemberCreated:    decodeNotification[MemberCreated],
	KindMemberUpdated:    decodeNotification[MemberUpdated],
	KindAccountCreated:   decodeNotification[AccountCreated],
	KindAccountUpdated:   decodeNotification[AccountUpdated],
	KindTransactionAdded: decodeNotification[TransactionAdded],
	KindZoneNameSet:      decodeNotification[ZoneNameSet],
	KindZoneTerminated:   decodeNotification[ZoneTerminated],
}

func decodePayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

func decodeCommand[T Command](raw json.RawMessage) (Command, error) {
	return decodePayload[T](raw)
}

func decodeResponse[T ResponseBody](raw json.RawMessage) (ResponseBody, error) {
	return decodePayload[T](raw)
}

func decodeNotification[T Notification](raw json.RawMessage) (Notification, error) {
	return decodePayload[T](raw)
}

func marshalEnvelope(env envelope, payload any) ([]byte, error) {
	env.Version = Version
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", env.Kind, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

func unmarshalEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, &ProtocolError{Reason: "malformed frame", Err: err}
	}
	if env.Version != Version {
		return env, Violation("unsupported protocol version %d", env.Version)
	}
	return env, nil
}

// EncodeCommand renders a command frame. zoneID is empty for CreateZone.
func EncodeCommand(correlationID int64, zoneID model.ZoneID, cmd Command) ([]byte, error) {
	return marshalEnvelope(envelope{
		Type:          FrameCommand,
		CorrelationID: correlationID,
		ZoneID:        zoneID,
		Kind:          cmd.Kind(),
	}, cmd)
}

// DecodeCommand parses a client-to-server frame.
func DecodeCommand(data []byte) (CommandFrame, error) {
	env, err := unmarshalEnvelope(data)
	if err != nil {
		return CommandFrame{}, err
	}
	if env.Type != FrameCommand {
		return CommandFrame{}, Violation("expected command frame, got %q", env.Type)
	}
	decode, ok := commandDecoders[env.Kind]
	if !ok {
		return CommandFrame{}, Violation("unknown command kind %q", env.Kind)
	}
	cmd, err := decode(env.Payload)
	if err != nil {
		return CommandFrame{}, &ProtocolError{Reason: fmt.Sprintf("malformed %s command", env.Kind), Err: err}
	}
	return CommandFrame{CorrelationID: env.CorrelationID, ZoneID: env.ZoneID, Command: cmd}, nil
}

// EncodeResponse renders a successful response frame.
func EncodeResponse(correlationID int64, body ResponseBody) ([]byte, error) {
	return marshalEnvelope(envelope{
		Type:          FrameResponse,
		CorrelationID: correlationID,
		Kind:          body.Kind(),
	}, body)
}

// EncodeErrorResponse renders a failed response frame.
func EncodeErrorResponse(correlationID int64, kind Kind, cmdErr *CommandError) ([]byte, error) {
	return marshalEnvelope(envelope{
		Type:          FrameResponse,
		CorrelationID: correlationID,
		Kind:          kind,
		Error:         cmdErr,
	}, nil)
}

// EncodeNotification renders a notification frame.
func EncodeNotification(zoneID model.ZoneID, n Notification) ([]byte, error) {
	return marshalEnvelope(envelope{
		Type:   FrameNotification,
		ZoneID: zoneID,
		Kind:   n.Kind(),
	}, n)
}

// EncodeConnectionNumber renders the handshake frame.
func EncodeConnectionNumber(n int64) ([]byte, error) {
	return marshalEnvelope(envelope{Type: FrameConnectionNumber, ConnectionNumber: n}, nil)
}

// EncodeHeartbeat renders a heartbeat frame.
func EncodeHeartbeat() ([]byte, error) {
	return marshalEnvelope(envelope{Type: FrameHeartbeat}, nil)
}

// DecodeServerMessage parses a server-to-client frame. Every failure is a
// *ProtocolError.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	env, err := unmarshalEnvelope(data)
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case FrameConnectionNumber:
		return ConnectionNumber{Number: env.ConnectionNumber}, nil
	case FrameHeartbeat:
		return Heartbeat{}, nil
	case FrameResponse:
		resp := Response{CorrelationID: env.CorrelationID, Kind: env.Kind}
		if env.Error != nil {
			resp.Err = env.Error
			return resp, nil
		}
		decode, ok := responseDecoders[env.Kind]
		if !ok {
			return nil, Violation("unknown response kind %q", env.Kind)
		}
		body, err := decode(env.Payload)
		if err != nil {
			return nil, &ProtocolError{Reason: fmt.Sprintf("malformed %s response", env.Kind), Err: err}
		}
		resp.Body = body
		return resp, nil
	case FrameNotification:
		decode, ok := notificationDecoders[env.Kind]
		if !ok {
			return nil, Violation("unknown notification kind %q", env.Kind)
		}
		n, err := decode(env.Payload)
		if err != nil {
			return nil, &ProtocolError{Reason: fmt.Sprintf("malformed %s notification", env.Kind), Err: err}
		}
		return NotificationFrame{ZoneID: env.ZoneID, Notification: n}, nil
	default:
		return nil, Violation("unexpected frame type %q", env.Type)
	}
}
