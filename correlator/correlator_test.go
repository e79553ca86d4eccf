package correlator

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relativeprotocol/zoneclient/model"
	"github.com/relativeprotocol/zoneclient/notify"
	"github.com/relativeprotocol/zoneclient/protocol"
)

type fakeSender struct {
	frames [][]byte
	err    error
}

func (s *fakeSender) Send(frame []byte) error {
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, frame)
	return nil
}

type outcome struct {
	body protocol.ResponseBody
	err  error
}

func collect(results *[]outcome) Callback {
	return func(body protocol.ResponseBody, err error) {
		*results = append(*results, outcome{body, err})
	}
}

func TestResponseDeliveredExactlyOnce(t *testing.T) {
	var tr notify.Trampoline
	sender := &fakeSender{}
	c := New(sender, &tr, time.Minute, nil)

	var results []outcome
	id := c.Send("z1", protocol.JoinZone{}, collect(&results))
	require.Equal(t, int64(1), id)
	require.Len(t, sender.frames, 1)

	frame, err := protocol.DecodeCommand(sender.frames[0])
	require.NoError(t, err)
	assert.Equal(t, id, frame.CorrelationID)
	assert.Equal(t, model.ZoneID("z1"), frame.ZoneID)

	resp := protocol.Response{CorrelationID: id, Kind: protocol.KindJoinZone, Body: protocol.JoinZoneResponse{}}
	require.NoError(t, c.HandleResponse(resp))
	require.NoError(t, c.HandleResponse(resp))
	require.NoError(t, c.HandleResponse(protocol.Response{CorrelationID: 99, Kind: protocol.KindJoinZone}))

	require.Len(t, results, 1)
	assert.NoError(t, results[0].err)
	assert.IsType(t, protocol.JoinZoneResponse{}, results[0].body)
	assert.Zero(t, c.Pending())
}

func TestOutOfOrderResponses(t *testing.T) {
	var tr notify.Trampoline
	c := New(&fakeSender{}, &tr, time.Minute, nil)

	got := map[int64]protocol.Kind{}
	record := func(id *int64) Callback {
		return func(body protocol.ResponseBody, err error) {
			require.NoError(t, err)
			got[*id] = body.Kind()
		}
	}
	var first, second int64
	first = c.Send("z1", protocol.SetZoneName{Name: "a"}, record(&first))
	second = c.Send("z1", protocol.QuitZone{}, record(&second))
	assert.NotEqual(t, first, second)

	require.NoError(t, c.HandleResponse(protocol.Response{CorrelationID: second, Kind: protocol.KindQuitZone, Body: protocol.QuitZoneResponse{}}))
	require.NoError(t, c.HandleResponse(protocol.Response{CorrelationID: first, Kind: protocol.KindSetZoneName, Body: protocol.SetZoneNameResponse{}}))
	assert.Equal(t, map[int64]protocol.Kind{first: protocol.KindSetZoneName, second: protocol.KindQuitZone}, got)
}

func TestCommandErrorGoesToCaller(t *testing.T) {
	var tr notify.Trampoline
	c := New(&fakeSender{}, &tr, time.Minute, nil)

	var results []outcome
	id := c.Send("z1", protocol.AddTransaction{ActingAs: "1", From: "2", To: "3", Value: decimal.NewFromInt(5)}, collect(&results))
	cmdErr := &protocol.CommandError{Code: protocol.CodeInsufficientBalance}
	require.NoError(t, c.HandleResponse(protocol.Response{CorrelationID: id, Kind: protocol.KindAddTransaction, Err: cmdErr}))

	require.Len(t, results, 1)
	var got *protocol.CommandError
	require.True(t, errors.As(results[0].err, &got))
	assert.Equal(t, protocol.CodeInsufficientBalance, got.Code)
}

func TestKindMismatchIsProtocolError(t *testing.T) {
	var tr notify.Trampoline
	c := New(&fakeSender{}, &tr, time.Minute, nil)

	var results []outcome
	id := c.Send("z1", protocol.JoinZone{}, collect(&results))
	err := c.HandleResponse(protocol.Response{CorrelationID: id, Kind: protocol.KindQuitZone, Body: protocol.QuitZoneResponse{}})

	var protoErr *protocol.ProtocolError
	require.True(t, errors.As(err, &protoErr))
	require.Len(t, results, 1)
	assert.True(t, errors.As(results[0].err, &protoErr))
}

func TestResetFailsPendingAndRestartsIDs(t *testing.T) {
	var tr notify.Trampoline
	c := New(&fakeSender{}, &tr, time.Minute, nil)

	var results []outcome
	c.Send("z1", protocol.JoinZone{}, collect(&results))
	c.Send("z1", protocol.SetZoneName{Name: "b"}, collect(&results))
	assert.Equal(t, 2, c.Pending())

	c.Reset()
	require.Len(t, results, 2)
	for _, r := range results {
		assert.ErrorIs(t, r.err, ErrConnectionLost)
	}
	assert.Zero(t, c.Pending())

	assert.Equal(t, int64(1), c.Send("z1", protocol.JoinZone{}, collect(&results)))
}

func TestSendFailureAndValidation(t *testing.T) {
	var tr notify.Trampoline
	boom := errors.New("not connected")
	c := New(&fakeSender{err: boom}, &tr, time.Minute, nil)

	var results []outcome
	assert.Zero(t, c.Send("z1", protocol.JoinZone{}, collect(&results)))
	assert.Zero(t, c.Send("z1", protocol.AddTransaction{From: "a", To: "a"}, collect(&results)))

	require.Len(t, results, 2)
	assert.ErrorIs(t, results[0].err, boom)
	var verr *protocol.ValidationError
	assert.True(t, errors.As(results[1].err, &verr))
	assert.Zero(t, c.Pending())
}

func TestTimeout(t *testing.T) {
	q := notify.NewQueue(nil)
	defer func() {
		q.Close()
		<-q.Done()
	}()
	c := New(&fakeSender{}, q, 20*time.Millisecond, nil)

	done := make(chan error, 2)
	var id int64
	notify.Call(q, func() {
		id = c.Send("z1", protocol.JoinZone{}, func(_ protocol.ResponseBody, err error) { done <- err })
	})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("command did not time out")
	}

	notify.Call(q, func() {
		assert.NoError(t, c.HandleResponse(protocol.Response{CorrelationID: id, Kind: protocol.KindJoinZone, Body: protocol.JoinZoneResponse{}}))
		assert.Zero(t, c.Pending())
	})
	assert.Empty(t, done)
}
