package peerdb

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Config -
type Config struct {
	Debug          bool     `toml:"debug"`
	DSN            string   `toml:"dsn"`
	MetricsAddress string   `toml:"metrics_address"`
	Blacklist      []string `toml:"blacklist"`

	// Advanced
	PeerTTL         int     `toml:"peer_ttl"`
	CleanupInterval int     `toml:"cleanup_interval"`
	AnnounceRate    float64 `toml:"announce_rate"`
	AnnounceBurst   int     `toml:"announce_burst"`
	BlacklistSize   int     `toml:"blacklist_size"`
	SwarmLimit      int     `toml:"swarm_limit"`
}

// DefaultConfig sets the defaults
func DefaultConfig() Config {
	return Config{
		Debug:           false,
		DSN:             ":memory:",
		MetricsAddress:  "localhost:9100",
		PeerTTL:         3600,
		CleanupInterval: 300,
		AnnounceRate:    1000,
		AnnounceBurst:   2000,
		BlacklistSize:   1000,
		SwarmLimit:      30,
	}
}

// LoadConfig reads a TOML file over the defaults
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, Error.New("failed to load config %s: %v", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would make the daemon misbehave
func (c Config) Validate() error {
	if c.DSN == "" {
		return Error.New("dsn is required")
	}
	if c.PeerTTL <= 0 {
		return Error.New("peer_ttl must be positive, got %d", c.PeerTTL)
	}
	if c.CleanupInterval <= 0 {
		return Error.New("cleanup_interval must be positive, got %d", c.CleanupInterval)
	}
	if c.AnnounceRate <= 0 || c.AnnounceBurst <= 0 {
		return Error.New("announce_rate and announce_burst must be positive")
	}
	if c.BlacklistSize <= 0 {
		return Error.New("blacklist_size must be positive, got %d", c.BlacklistSize)
	}
	if len(c.Blacklist) > c.BlacklistSize {
		return Error.New("blacklist has %d entries, more than blacklist_size %d", len(c.Blacklist), c.BlacklistSize)
	}
	if c.SwarmLimit < 0 {
		return Error.New("swarm_limit must not be negative, got %d", c.SwarmLimit)
	}
	for _, s := range c.Blacklist {
		if _, err := HashFromString(s); err != nil {
			return err
		}
	}
	return nil
}

// TTL is PeerTTL as a duration
func (c Config) TTL() time.Duration {
	return time.Duration(c.PeerTTL) * time.Second
}

// Interval is CleanupInterval as a duration
func (c Config) Interval() time.Duration {
	return time.Duration(c.CleanupInterval) * time.Second
}
