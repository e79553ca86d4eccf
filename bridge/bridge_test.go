package bridge

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/relativeprotocol/zoneclient/log"
	"github.com/relativeprotocol/zoneclient/model"
	"github.com/relativeprotocol/zoneclient/replica"
	"github.com/relativeprotocol/zoneclient/zonetest"
)

func TestPumpRunsTasksInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pump := newEventPump()
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		pump.Post(func() { got = append(got, i) })
	}
	pump.Close()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPumpDropsTasksAfterClose(t *testing.T) {
	pump := newEventPump()
	pump.Close()

	ran := false
	pump.Post(func() { ran = true })
	assert.False(t, ran)
	pump.Close()
	<-pump.Done()
}

func TestPumpSurvivesPanickingCallback(t *testing.T) {
	pump := newEventPump()
	ran := make(chan struct{})
	pump.Post(func() { panic("host bug") })
	pump.Post(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("pump stopped after a panicking task")
	}
	pump.Close()
}

func TestEncodeJSONDoesNotAliasPool(t *testing.T) {
	first, err := encodeJSON(replica.ZoneNameChanged{Name: "Bank & Co"})
	require.NoError(t, err)
	_, err = encodeJSON(replica.ZoneNameChanged{Name: "something much longer than before"})
	require.NoError(t, err)

	assert.Equal(t, `{"name":"Bank & Co"}`, first)
}

type sinkLine struct {
	level   string
	message string
}

type recordingSink struct {
	mu    sync.Mutex
	lines []sinkLine
}

func (s *recordingSink) Log(level, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, sinkLine{level, message})
}

func TestLogSink(t *testing.T) {
	t.Cleanup(func() { log.SetLogger(nil) })

	sink := &recordingSink{}
	require.NoError(t, SetLogSink(sink, "INFO"))

	logger := log.L().Named("transport").With(zap.String("zone", "Z1"))
	logger.Debug("hidden")
	logger.Info("dialing", zap.Int("attempt", 2))
	log.L().Warn("  ")

	require.Len(t, sink.lines, 2)
	assert.Equal(t, "info", sink.lines[0].level)
	assert.Regexp(t, `^transport: dialing \[attempt=2 zone=Z1\] \(bridge/bridge_test\.go:\d+\)$`, sink.lines[0].message)
	assert.Equal(t, "warn", sink.lines[1].level)
	assert.Regexp(t, `^warn \(bridge/bridge_test\.go:\d+\)$`, sink.lines[1].message)

	assert.Error(t, SetLogSink(sink, "chatty"))
	assert.NoError(t, SetLogSink(nil, ""))
}

func TestFormatEntryWithoutCaller(t *testing.T) {
	ent := zapcore.Entry{Level: zapcore.ErrorLevel, LoggerName: "session", Message: "join failed"}
	assert.Equal(t, "session: join failed [fatal=true]", formatEntry(ent, map[string]any{"fatal": true}))
}

func TestSetMemoryLimit(t *testing.T) {
	previous := SetMemoryLimit(0, 0)
	assert.Equal(t, previous, SetMemoryLimit(0, 0), "zero values leave the limit alone")
}

type hostEvent struct {
	kind    string
	payload string
}

type recorder struct {
	states chan string
	events chan hostEvent
	fails  chan string
}

func newRecorder() *recorder {
	return &recorder{
		states: make(chan string, 64),
		events: make(chan hostEvent, 256),
		fails:  make(chan string, 16),
	}
}

func (r *recorder) StateChanged(state string)             { r.states <- state }
func (r *recorder) Failed(message string, fatal bool)     { r.fails <- message }
func (r *recorder) ZoneEvent(kind string, payload string) { r.events <- hostEvent{kind, payload} }

func (r *recorder) waitState(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-r.states:
			if st == want {
				return
			}
		case msg := <-r.fails:
			t.Fatalf("unexpected failure: %s", msg)
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func (r *recorder) waitEvent(t *testing.T, kind string) string {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-r.events:
			if ev.kind == kind {
				return ev.payload
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return ""
		}
	}
}

type callback chan string

func (c callback) Done(message string) { c <- message }

func (c callback) wait(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-c:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("intent never completed")
		return ""
	}
}

func clientYAML(server *zonetest.Server) []byte {
	return []byte("server: {url: " + server.URL() + "}\n" +
		"backoff: {min: 10ms, max: 50ms}\n" +
		"session: {quitDelay: 0s, zoneName: Poker Night}\n")
}

func TestNewClientValidation(t *testing.T) {
	server := zonetest.NewTestServer(t)
	device := zonetest.MustIdentity(t, "device")
	pinned := server.Identity().CertPEM

	_, err := NewClient(clientYAML(server), device.CertPEM, device.KeyPEM, pinned, nil)
	assert.Error(t, err, "listener is required")

	_, err = NewClient([]byte("server: {}"), device.CertPEM, device.KeyPEM, pinned, newRecorder())
	assert.Error(t, err, "url is required")

	_, err = NewClient(clientYAML(server), device.CertPEM, nil, pinned, newRecorder())
	assert.Error(t, err, "key is required")

	_, err = NewClient(clientYAML(server), device.CertPEM, device.KeyPEM, nil, newRecorder())
	assert.Error(t, err, "trust is required")

	_, err = NewClient(clientYAML(server), device.CertPEM, device.KeyPEM, []byte("junk"), newRecorder())
	assert.Error(t, err)
}

func TestClientAgainstZoneServer(t *testing.T) {
	server := zonetest.NewTestServer(t)
	device := zonetest.MustIdentity(t, "device")
	rec := newRecorder()

	client, err := NewClient(clientYAML(server), device.CertPEM, device.KeyPEM, server.Identity().CertPEM, rec)
	require.NoError(t, err)
	key, err := client.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, device.PublicKey.String(), key)

	assert.False(t, client.IsRunning())
	assert.Equal(t, "unavailable", client.State())
	snap, err := client.Snapshot()
	assert.ErrorIs(t, err, errNotRunning)
	assert.Empty(t, snap)

	require.NoError(t, client.Start())
	require.NoError(t, client.Start(), "start is idempotent")
	assert.True(t, client.IsRunning())

	token := client.NewToken()
	client.RequestJoin(token, false)

	var created replica.ZoneCreated
	require.NoError(t, json.Unmarshal([]byte(rec.waitEvent(t, "zoneCreated")), &created))
	assert.NotEmpty(t, created.ZoneID)
	rec.waitState(t, "joined")
	assert.Equal(t, string(created.ZoneID), client.ZoneID())

	done := make(callback, 1)
	client.CreateIdentity("Alice", done)
	assert.Empty(t, done.wait(t))

	var added replica.IdentityAdded
	require.NoError(t, json.Unmarshal([]byte(rec.waitEvent(t, "identityAdded")), &added))
	assert.Equal(t, "Alice", added.Member.Name)

	snap, err = client.Snapshot()
	require.NoError(t, err)
	var view struct {
		ZoneID     model.ZoneID              `json:"zoneId"`
		Name       string                    `json:"name"`
		Identities []model.Member            `json:"identities"`
		Balances   map[model.MemberID]string `json:"balances"`
	}
	require.NoError(t, json.Unmarshal([]byte(snap), &view))
	assert.Equal(t, created.ZoneID, view.ZoneID)
	assert.Equal(t, "Poker Night", view.Name)
	assert.Len(t, view.Identities, 2, "the equity owner and Alice")
	assert.Equal(t, "0", view.Balances[added.Member.ID])

	client.ChangeGameName("Poker Night II", done)
	assert.Empty(t, done.wait(t))
	assert.Contains(t, rec.waitEvent(t, "zoneNameChanged"), "Poker Night II")

	client.TransferIdentity(string(added.Member.ID), "not base64!", done)
	assert.Contains(t, done.wait(t), "public key")

	client.TransferToPlayer(string(added.Member.ID), "M-missing", "abc", done)
	assert.Contains(t, done.wait(t), "value")

	client.UnrequestJoin(token)
	rec.waitState(t, "unavailable")

	client.Stop()
	client.Stop()
	assert.False(t, client.IsRunning())
	assert.Equal(t, "unavailable", client.State())

	client.CreateIdentity("Bob", done)
	assert.Equal(t, errNotRunning.Error(), done.wait(t))
	assert.Empty(t, client.ZoneID())
}
