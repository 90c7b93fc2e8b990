// Package config implements the configuration for the huddle client and relay.
//
// Configuration is read from a TOML file and then overridden by HUDDLE_*
// environment variables. FixupAndValidate fills defaults, so an empty file is a
// valid configuration that talks to an in-process relay.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"huddle/internal/log"
)

const (
	// TransportMemory keeps every relay endpoint inside the process.
	TransportMemory = "memory"
	// TransportNATS talks to relay daemons over NATS.
	TransportNATS = "nats"

	defaultStoreFile          = "huddle.db"
	defaultFlushIntervalMs    = 500
	defaultPublishTimeoutMs   = 5000
	defaultQueryTimeoutMs     = 5000
	defaultWelcomeLookbackSec = 72 * 60 * 60
	defaultCipherSuite        = 1
	defaultResolveParallelism = 8
	defaultRelayNATSURL       = "nats://127.0.0.1:4222"
)

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool `env:"HUDDLE_LOG_DISABLE"`
	// File is the log file. Empty logs to stderr.
	File string `env:"HUDDLE_LOG_FILE"`
	// Level is one of ERROR, WARNING, NOTICE, INFO, DEBUG.
	Level string `env:"HUDDLE_LOG_LEVEL"`
}

// Store is the durable store configuration.
type Store struct {
	// Home is the data directory holding the identity and the database.
	Home string `env:"HUDDLE_HOME"`
	// File is the bbolt database file, relative to Home unless absolute.
	File string `env:"HUDDLE_STORE_FILE"`
	// FlushIntervalMs bounds how long coalesced writes wait before hitting disk.
	FlushIntervalMs int `env:"HUDDLE_STORE_FLUSH_MS"`
}

// Transport is the pub/sub transport configuration.
type Transport struct {
	// Kind is "memory" or "nats".
	Kind string `env:"HUDDLE_TRANSPORT"`
	// Endpoints are relay endpoints. For NATS these are server URLs.
	Endpoints []string `env:"HUDDLE_ENDPOINTS" envSeparator:","`
	// MaxReconnects and ReconnectWaitMs tune the NATS connection.
	MaxReconnects   int `env:"HUDDLE_NATS_MAX_RECONNECTS"`
	ReconnectWaitMs int `env:"HUDDLE_NATS_RECONNECT_WAIT_MS"`
	// PublishTimeoutMs and QueryTimeoutMs bound a single endpoint round trip.
	PublishTimeoutMs int `env:"HUDDLE_PUBLISH_TIMEOUT_MS"`
	QueryTimeoutMs   int `env:"HUDDLE_QUERY_TIMEOUT_MS"`
}

// Groups holds group session parameters.
type Groups struct {
	// CipherSuite is the default cipher suite for new groups and invite targets.
	CipherSuite uint16 `env:"HUDDLE_CIPHER_SUITE"`
	// WelcomeLookbackSec is how far back the welcome subscription reaches. It
	// must exceed the gift wrap timestamp randomization plus expected latency.
	WelcomeLookbackSec int `env:"HUDDLE_WELCOME_LOOKBACK_SEC"`
	// MultiDeviceInvites invites every live device of an identity instead of
	// only the most recent invite target.
	MultiDeviceInvites bool `env:"HUDDLE_MULTI_DEVICE_INVITES"`
	// RequiredCapabilities filters invite targets during resolution.
	RequiredCapabilities []string `env:"HUDDLE_REQUIRED_CAPABILITIES" envSeparator:","`
	// ResolveParallelism bounds concurrent invite target lookups.
	ResolveParallelism int `env:"HUDDLE_RESOLVE_PARALLELISM"`
}

// Relay configures the relay daemon.
type Relay struct {
	// NATSURL is the NATS server the daemon serves clients on.
	NATSURL string `env:"HUDDLE_RELAY_NATS_URL"`
}

// Config is the top level huddle configuration.
type Config struct {
	Logging   Logging
	Store     Store
	Transport Transport
	Groups    Groups
	Relay     Relay
}

// FlushInterval returns the coalesced write interval.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Store.FlushIntervalMs) * time.Millisecond
}

// PublishTimeout returns the per-endpoint publish timeout.
func (c *Config) PublishTimeout() time.Duration {
	return time.Duration(c.Transport.PublishTimeoutMs) * time.Millisecond
}

// ReconnectWait returns the delay between NATS reconnect attempts.
func (c *Config) ReconnectWait() time.Duration {
	return time.Duration(c.Transport.ReconnectWaitMs) * time.Millisecond
}

// QueryTimeout returns the per-endpoint query timeout.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Transport.QueryTimeoutMs) * time.Millisecond
}

// WelcomeLookback returns the welcome subscription window.
func (c *Config) WelcomeLookback() time.Duration {
	return time.Duration(c.Groups.WelcomeLookbackSec) * time.Second
}

// StorePath returns the absolute database path.
func (c *Config) StorePath() string {
	if filepath.IsAbs(c.Store.File) {
		return c.Store.File
	}
	return filepath.Join(c.Store.Home, c.Store.File)
}

// FixupAndValidate applies defaults and rejects invalid values.
func (c *Config) FixupAndValidate() error {
	if c.Store.Home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		c.Store.Home = filepath.Join(dir, ".huddle")
	}
	if c.Store.File == "" {
		c.Store.File = defaultStoreFile
	}
	if c.Store.FlushIntervalMs <= 0 {
		c.Store.FlushIntervalMs = defaultFlushIntervalMs
	}

	switch c.Transport.Kind {
	case "":
		c.Transport.Kind = TransportMemory
	case TransportMemory, TransportNATS:
	default:
		return fmt.Errorf("config: invalid Transport.Kind: '%v'", c.Transport.Kind)
	}
	if c.Transport.Kind == TransportNATS && len(c.Transport.Endpoints) == 0 {
		return errors.New("config: Transport.Endpoints is required for nats")
	}
	if c.Transport.Kind == TransportMemory && len(c.Transport.Endpoints) == 0 {
		c.Transport.Endpoints = []string{"memory://local"}
	}
	if c.Transport.MaxReconnects == 0 {
		c.Transport.MaxReconnects = 10
	}
	if c.Transport.ReconnectWaitMs <= 0 {
		c.Transport.ReconnectWaitMs = 2000
	}
	if c.Transport.PublishTimeoutMs <= 0 {
		c.Transport.PublishTimeoutMs = defaultPublishTimeoutMs
	}
	if c.Transport.QueryTimeoutMs <= 0 {
		c.Transport.QueryTimeoutMs = defaultQueryTimeoutMs
	}

	if c.Groups.CipherSuite == 0 {
		c.Groups.CipherSuite = defaultCipherSuite
	}
	if c.Groups.WelcomeLookbackSec <= 0 {
		c.Groups.WelcomeLookbackSec = defaultWelcomeLookbackSec
	}
	if c.Groups.ResolveParallelism <= 0 {
		c.Groups.ResolveParallelism = defaultResolveParallelism
	}
	if c.Relay.NATSURL == "" {
		c.Relay.NATSURL = defaultRelayNATSURL
	}
	return nil
}

// InitLogBackend builds the log backend described by the Logging section.
func (c *Config) InitLogBackend() (*log.Backend, error) {
	f := c.Logging.File
	if !c.Logging.Disable && f != "" && !filepath.IsAbs(f) {
		return nil, errors.New("config: log file path must be absolute path")
	}
	return log.New(f, c.Logging.Level, c.Logging.Disable)
}

// Load parses the provided buffer b as a config file body, applies
// environment overrides and returns the validated Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file. A missing file
// yields the defaults.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return Load(b)
}
