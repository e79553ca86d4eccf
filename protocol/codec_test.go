package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relativeprotocol/zoneclient/model"
)

func TestCommandFrameCarriesCorrelationAndZone(t *testing.T) {
	cmd := AddTransaction{
		ActingAs: "m1",
		From:     "a1",
		To:       "a2",
		Value:    decimal.RequireFromString("1500.00"),
	}
	data, err := EncodeCommand(7, "z1", cmd)
	require.NoError(t, err)

	frame, err := DecodeCommand(data)
	require.NoError(t, err)
	assert.Equal(t, int64(7), frame.CorrelationID)
	assert.Equal(t, model.ZoneID("z1"), frame.ZoneID)

	decoded, ok := frame.Command.(AddTransaction)
	require.True(t, ok, "decoded %T", frame.Command)
	assert.True(t, decoded.Value.Equal(cmd.Value))
	assert.Equal(t, model.AccountID("a2"), decoded.To)
}

func TestDecodeServerMessageTypes(t *testing.T) {
	cn, err := EncodeConnectionNumber(3)
	require.NoError(t, err)
	msg, err := DecodeServerMessage(cn)
	require.NoError(t, err)
	assert.Equal(t, ConnectionNumber{Number: 3}, msg)

	hb, err := EncodeHeartbeat()
	require.NoError(t, err)
	msg, err = DecodeServerMessage(hb)
	require.NoError(t, err)
	assert.Equal(t, Heartbeat{}, msg)

	n, err := EncodeNotification("z1", ClientJoinedZone{PublicKey: "key"})
	require.NoError(t, err)
	msg, err = DecodeServerMessage(n)
	require.NoError(t, err)
	assert.Equal(t, NotificationFrame{ZoneID: "z1", Notification: ClientJoinedZone{PublicKey: "key"}}, msg)

	terminated, err := EncodeNotification("z1", ZoneTerminated{})
	require.NoError(t, err)
	msg, err = DecodeServerMessage(terminated)
	require.NoError(t, err)
	assert.Equal(t, NotificationFrame{ZoneID: "z1", Notification: ZoneTerminated{}}, msg)
}

func TestDecodeJoinResponse(t *testing.T) {
	zone := model.NewZone("z1")
	zone.EquityAccountID = "0"
	zone.Members["0"] = model.Member{ID: "0", OwnerPublicKeys: []model.PublicKey{"dave"}, Name: "Bank"}
	zone.Accounts["0"] = model.Account{ID: "0", OwnerMemberIDs: []model.MemberID{"0"}}

	data, err := EncodeResponse(4, JoinZoneResponse{Zone: *zone, ConnectedClients: []model.PublicKey{"dave"}})
	require.NoError(t, err)

	msg, err := DecodeServerMessage(data)
	require.NoError(t, err)
	resp, ok := msg.(Response)
	require.True(t, ok)
	assert.Equal(t, int64(4), resp.CorrelationID)
	assert.Nil(t, resp.Err)

	body, ok := resp.Body.(JoinZoneResponse)
	require.True(t, ok)
	assert.Equal(t, "Bank", body.Zone.Members["0"].Name)
	assert.Equal(t, []model.PublicKey{"dave"}, body.ConnectedClients)
}

func TestDecodeErrorResponse(t *testing.T) {
	data, err := EncodeErrorResponse(9, KindJoinZone, &CommandError{Code: CodeZoneNotFound, Message: "gone"})
	require.NoError(t, err)

	msg, err := DecodeServerMessage(data)
	require.NoError(t, err)
	resp := msg.(Response)
	require.NotNil(t, resp.Err)
	assert.Nil(t, resp.Body)
	assert.Equal(t, CodeZoneNotFound, resp.Err.Code)
	assert.Equal(t, KindJoinZone, resp.Kind)
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"wrong version":     `{"v":2,"type":"heartbeat"}`,
		"unknown type":      `{"v":1,"type":"gossip"}`,
		"unknown kind":      `{"v":1,"type":"notification","kind":"memberDeleted"}`,
		"malformed payload": `{"v":1,"type":"notification","kind":"memberCreated","payload":{"member":[]}}`,
		"command to client": `{"v":1,"type":"command","kind":"joinZone"}`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeServerMessage([]byte(frame))
			var perr *ProtocolError
			require.True(t, errors.As(err, &perr), "got %v", err)
		})
	}
}

func TestEnvelopeShape(t *testing.T) {
	data, err := EncodeCommand(1, "", CreateZone{Name: "Bank of Dave"})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, float64(Version), raw["v"])
	assert.Equal(t, "command", raw["type"])
	assert.Equal(t, "createZone", raw["kind"])
	assert.NotContains(t, raw, "zoneId")
}

func TestValidate(t *testing.T) {
	long := strings.Repeat("x", model.MaxTagLength+1)
	cases := []struct {
		name string
		cmd  Command
		ok   bool
	}{
		{"join", JoinZone{}, true},
		{"zone name too long", SetZoneName{Name: long}, false},
		{"member name too long", CreateMember{Member: model.Member{Name: long}}, false},
		{"update without id", UpdateMember{Member: model.Member{Name: "a"}}, false},
		{"negative value", AddTransaction{From: "a", To: "b", Value: decimal.NewFromInt(-1)}, false},
		{"same account", AddTransaction{From: "a", To: "a", Value: decimal.NewFromInt(1)}, false},
		{"valid transfer", AddTransaction{From: "a", To: "b", Value: decimal.NewFromInt(1)}, true},
		{"create zone", CreateZone{Name: "Bank of Dave", EquityOwner: model.Member{Name: "Banker"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.cmd)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "got %v", err)
		})
	}
}
