package session

import (
	"time"

	"github.com/relativeprotocol/zoneclient/model"
	"github.com/relativeprotocol/zoneclient/transport"
)

// Config controls a Session.
type Config struct {
	Transport transport.Config

	// ZoneID is the zone to join. When empty the session creates a zone on
	// its first connection and joins that one from then on.
	ZoneID model.ZoneID
	// ZoneName names a zone created by the session.
	ZoneName string
	// EquityName names the equity member and account of a created zone.
	EquityName string

	// QuitDelay defers quitting after the last interest is withdrawn. Zero
	// quits immediately.
	QuitDelay time.Duration
	// CommandTimeout bounds the wait for every response.
	CommandTimeout time.Duration
}

// DefaultConfig returns the settings used by the CLI and the mobile bridge.
func DefaultConfig() Config {
	return Config{
		Transport:      transport.DefaultConfig(),
		ZoneName:       "Bank",
		EquityName:     "Banker",
		QuitDelay:      2 * time.Second,
		CommandTimeout: 30 * time.Second,
	}
}
