//  config.go
//  ZoneClient Core
//
//  Copyright (c) 2025 Relative Companies, Inc.
//  Personal, non-commercial use only.
//
//  The YAML configuration file shared by the CLI and the mobile bridge. It
//  maps onto the plain Config structs of the transport and session packages.

package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/docker/go-units"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/relativeprotocol/zoneclient/credential"
	"github.com/relativeprotocol/zoneclient/model"
	"github.com/relativeprotocol/zoneclient/session"
	"github.com/relativeprotocol/zoneclient/transport"
)

// Config is the root of the configuration file.
type Config struct {
	Server      Server      `yaml:"server"`
	Backoff     Backoff     `yaml:"backoff"`
	Session     Session     `yaml:"session"`
	Credentials Credentials `yaml:"credentials"`
	Trust       Trust       `yaml:"trust"`
	Log         Log         `yaml:"log"`
}

// Server locates the zone server.
type Server struct {
	URL              string        `yaml:"url"`
	ClientName       string        `yaml:"clientName"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	IdleTimeout      time.Duration `yaml:"idleTimeout"`
	WriteTimeout     time.Duration `yaml:"writeTimeout"`
	// MaxFrameSize is a human readable size such as "1MiB".
	MaxFrameSize string `yaml:"maxFrameSize"`
}

// Backoff paces reconnect attempts.
type Backoff struct {
	Min             time.Duration `yaml:"min"`
	Max             time.Duration `yaml:"max"`
	Multiplier      float64       `yaml:"multiplier"`
	Jitter          float64       `yaml:"jitter"`
	MaxAttempts     int           `yaml:"maxAttempts"`
	MinDialInterval time.Duration `yaml:"minDialInterval"`
}

// Session selects the zone and the join lifecycle timings.
type Session struct {
	ZoneID         string        `yaml:"zoneId"`
	ZoneName       string        `yaml:"zoneName"`
	EquityName     string        `yaml:"equityName"`
	QuitDelay      time.Duration `yaml:"quitDelay"`
	CommandTimeout time.Duration `yaml:"commandTimeout"`
}

// Credentials points at the device certificate and key.
type Credentials struct {
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

// Trust points at the pinned server keys: a directory of .crt/.pem files, a
// single PEM file, or both.
type Trust struct {
	PinnedDir  string `yaml:"pinnedDir"`
	PinnedFile string `yaml:"pinnedFile"`
}

// Log configures the process logger.
type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a configuration with every field but the server URL and
// the credential paths filled in.
func Default() Config {
	t := transport.DefaultConfig()
	s := session.DefaultConfig()
	return Config{
		Server: Server{
			ClientName:       t.ClientName,
			HandshakeTimeout: t.HandshakeTimeout,
			IdleTimeout:      t.IdleTimeout,
			WriteTimeout:     t.WriteTimeout,
			MaxFrameSize:     units.BytesSize(float64(t.MaxFrameSize)),
		},
		Backoff: Backoff{
			Min:             t.Backoff.Min,
			Max:             t.Backoff.Max,
			Multiplier:      t.Backoff.Multiplier,
			Jitter:          t.Backoff.Jitter,
			MaxAttempts:     t.Backoff.MaxAttempts,
			MinDialInterval: t.MinDialInterval,
		},
		Session: Session{
			ZoneName:       s.ZoneName,
			EquityName:     s.EquityName,
			QuitDelay:      s.QuitDelay,
			CommandTimeout: s.CommandTimeout,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads and validates the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.URL == "" {
		return errors.New("server.url is required")
	}
	for name, d := range map[string]time.Duration{
		"server.handshakeTimeout": c.Server.HandshakeTimeout,
		"server.idleTimeout":      c.Server.IdleTimeout,
		"server.writeTimeout":     c.Server.WriteTimeout,
		"backoff.min":             c.Backoff.Min,
		"backoff.max":             c.Backoff.Max,
		"session.commandTimeout":  c.Session.CommandTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Backoff.Max < c.Backoff.Min {
		return errors.New("backoff.max must not be below backoff.min")
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter >= 1 {
		return errors.New("backoff.jitter must be in [0, 1)")
	}
	if c.Session.QuitDelay < 0 {
		return errors.New("session.quitDelay must not be negative")
	}
	if _, err := c.frameSize(); err != nil {
		return err
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

func (c Config) frameSize() (int64, error) {
	size, err := units.RAMInBytes(c.Server.MaxFrameSize)
	if err != nil {
		return 0, fmt.Errorf("server.maxFrameSize: %w", err)
	}
	if size <= 0 {
		return 0, errors.New("server.maxFrameSize must be positive")
	}
	return size, nil
}

// TransportConfig returns the transport settings.
func (c Config) TransportConfig() (transport.Config, error) {
	size, err := c.frameSize()
	if err != nil {
		return transport.Config{}, err
	}
	return transport.Config{
		URL:              c.Server.URL,
		ClientName:       c.Server.ClientName,
		HandshakeTimeout: c.Server.HandshakeTimeout,
		IdleTimeout:      c.Server.IdleTimeout,
		WriteTimeout:     c.Server.WriteTimeout,
		MaxFrameSize:     size,
		Backoff: transport.Backoff{
			Min:         c.Backoff.Min,
			Max:         c.Backoff.Max,
			Multiplier:  c.Backoff.Multiplier,
			Jitter:      c.Backoff.Jitter,
			MaxAttempts: c.Backoff.MaxAttempts,
		},
		MinDialInterval: c.Backoff.MinDialInterval,
	}, nil
}

// SessionConfig returns the session settings, transport included.
func (c Config) SessionConfig() (session.Config, error) {
	t, err := c.TransportConfig()
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		Transport:      t,
		ZoneID:         model.ZoneID(c.Session.ZoneID),
		ZoneName:       c.Session.ZoneName,
		EquityName:     c.Session.EquityName,
		QuitDelay:      c.Session.QuitDelay,
		CommandTimeout: c.Session.CommandTimeout,
	}, nil
}

// Provider returns a cached provider reading the configured key pair.
func (c Config) Provider() (*credential.CachedProvider, error) {
	if c.Credentials.CertFile == "" || c.Credentials.KeyFile == "" {
		return nil, errors.New("credentials.certFile and credentials.keyFile are required")
	}
	certFile, keyFile := c.Credentials.CertFile, c.Credentials.KeyFile
	return credential.NewCachedProvider(func() (tls.Certificate, error) {
		return tls.LoadX509KeyPair(certFile, keyFile)
	}), nil
}

// TrustStore returns the configured pinned keys.
func (c Config) TrustStore() (credential.TrustStore, error) {
	var stores multiStore
	if c.Trust.PinnedFile != "" {
		data, err := os.ReadFile(c.Trust.PinnedFile)
		if err != nil {
			return nil, fmt.Errorf("read pinned keys: %w", err)
		}
		keys, err := credential.ParsePinnedPEM(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Trust.PinnedFile, err)
		}
		stores = append(stores, credential.StaticTrustStore(keys))
	}
	if c.Trust.PinnedDir != "" {
		stores = append(stores, credential.NewDirTrustStore(c.Trust.PinnedDir))
	}
	switch len(stores) {
	case 0:
		return nil, errors.New("trust.pinnedDir or trust.pinnedFile is required")
	case 1:
		return stores[0], nil
	default:
		return stores, nil
	}
}

type multiStore []credential.TrustStore

func (m multiStore) PinnedKeys() ([]model.PublicKey, error) {
	var keys []model.PublicKey
	for _, s := range m {
		k, err := s.PinnedKeys()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k...)
	}
	return keys, nil
}

// Logger builds the process logger described by the log section.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
