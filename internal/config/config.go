// Package config decodes the relay's TOML configuration file, following
// the teacher's Config/CreateConfig pair (defaults applied in a
// constructor) and the pack's BurntSushi/toml decoding idiom
// (internal/config in the trickster example).
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// KeyexchangeConfig holds the channel store's tunables.
type KeyexchangeConfig struct {
	CidLen       int      `toml:"cid_len"`
	TTL          int      `toml:"ttl"`
	MaxGets      int      `toml:"max_gets"`
	RootRedirect string   `toml:"root_redirect"`
	CacheServers []string `toml:"cache_servers"`
	UseMemory    bool     `toml:"use_memory"`
}

// FilteringConfig holds the abuse-mitigation layer's tunables.
type FilteringConfig struct {
	Use            bool     `toml:"use"`
	BlacklistTTL   int      `toml:"blacklist_ttl"`
	BrBlacklistTTL int      `toml:"br_blacklist_ttl"`
	Treshold       int      `toml:"treshold"`
	BrTreshold     int      `toml:"br_treshold"`
	IPQueueTTL     int      `toml:"ip_queue_ttl"`
	Observe        bool     `toml:"observe"`
	AdminPage      string   `toml:"admin_page"`
	IPWhitelist    []string `toml:"ip_whitelist"`
	UseMemory      bool     `toml:"use_memory"`
}

// Config is the Running Configuration for the relay, mirroring the
// teacher's single Config struct, split into two sub-sections.
type Config struct {
	Keyexchange KeyexchangeConfig `toml:"keyexchange"`
	Filtering   FilteringConfig   `toml:"filtering"`
	ListenAddr  string            `toml:"listen_addr"`
}

// Default populates a Config with the relay's documented defaults, the way
// the teacher's CreateConfig does.
func Default() *Config {
	return &Config{
		Keyexchange: KeyexchangeConfig{
			CidLen:  4,
			TTL:     300,
			MaxGets: 6,
		},
		Filtering: FilteringConfig{
			BlacklistTTL:   300,
			BrBlacklistTTL: 86400,
			Treshold:       20,
			BrTreshold:     5,
			IPQueueTTL:     360,
		},
		ListenAddr: ":5000",
	}
}

// Load decodes path into a Config seeded with Default, so a partial TOML
// file only needs to override what it cares about.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// TTLDuration returns the channel TTL as a time.Duration.
func (c *KeyexchangeConfig) TTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

// IPQueueTTLDuration returns the counter window as a time.Duration.
func (c *FilteringConfig) IPQueueTTLDuration() time.Duration {
	return time.Duration(c.IPQueueTTL) * time.Second
}

// BlacklistTTLDuration returns the rate-threshold blacklist TTL.
func (c *FilteringConfig) BlacklistTTLDuration() time.Duration {
	return time.Duration(c.BlacklistTTL) * time.Second
}

// BrBlacklistTTLDuration returns the bad-request-threshold blacklist TTL.
func (c *FilteringConfig) BrBlacklistTTLDuration() time.Duration {
	return time.Duration(c.BrBlacklistTTL) * time.Second
}
