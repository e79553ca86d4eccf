package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relativeprotocol/zoneclient/replica"
	"github.com/relativeprotocol/zoneclient/session"
	"github.com/relativeprotocol/zoneclient/transport"
	"github.com/relativeprotocol/zoneclient/zonetest"
)

func joinedREPL(t *testing.T) (*repl, *bytes.Buffer) {
	t.Helper()
	server := zonetest.NewTestServer(t)
	device := zonetest.MustIdentity(t, "device")

	cfg := session.DefaultConfig()
	cfg.QuitDelay = 0
	cfg.Transport = transport.Config{
		URL:     server.URL(),
		Backoff: transport.Backoff{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2},
	}
	s, err := session.New(cfg, device.Provider(), server.Trust(), session.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	joined := make(chan struct{}, 1)
	s.SubscribeState(session.StateListenerFunc(func(st session.JoinState) {
		if st == session.Joined {
			joined <- struct{}{}
		}
	}))

	out := &bytes.Buffer{}
	r := newREPL(s, out)
	require.NoError(t, r.exec("join"))
	select {
	case <-joined:
	case <-time.After(5 * time.Second):
		t.Fatal("never joined")
	}
	return r, out
}

func TestREPLParsing(t *testing.T) {
	r := newREPL(nil, &bytes.Buffer{})

	assert.NoError(t, r.exec("   "))
	assert.ErrorIs(t, r.exec("quit"), errQuit)
	assert.Error(t, r.exec(`identity "unterminated`))
	assert.ErrorContains(t, r.exec("frobnicate"), "unknown command")
	assert.ErrorContains(t, r.exec("transfer M1 M2"), "usage")
	assert.ErrorContains(t, r.exec("transfer M1 M2 lots"), "value")
	assert.ErrorContains(t, r.exec("rename-identity M1"), "usage")
	assert.ErrorContains(t, r.exec("delete-identity"), "usage")
}

func TestREPLAgainstZoneServer(t *testing.T) {
	r, out := joinedREPL(t)

	require.NoError(t, r.exec(`identity "Alice Smith"`))
	out.Reset()
	require.NoError(t, r.exec("identities"))
	assert.Contains(t, out.String(), "Alice Smith")
	assert.Contains(t, out.String(), "Banker")

	var alice string
	r.s.View(func(v *replica.Replica) {
		for _, m := range v.Identities() {
			if m.Name == "Alice Smith" {
				alice = string(m.ID)
			}
		}
	})
	require.NotEmpty(t, alice)

	require.NoError(t, r.exec("rename-identity "+alice+" Alice"))
	require.NoError(t, r.exec("delete-identity "+alice))
	out.Reset()
	require.NoError(t, r.exec("identities"))
	assert.Contains(t, out.String(), "hidden")
	require.NoError(t, r.exec("restore-identity "+alice))

	assert.ErrorIs(t, r.exec("transfer "+alice+" M-nobody 5"), session.ErrUnknownPlayer)
	require.NoError(t, r.exec("game-name Friday Game"))

	out.Reset()
	require.NoError(t, r.exec("state"))
	assert.Equal(t, "joined\n", out.String())

	require.NoError(t, r.exec("leave"))
	assert.Empty(t, r.token)
}
