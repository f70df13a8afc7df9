package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"timelock/internal/logging"
)

// DefaultRemoteTimeout bounds every quorum read and remote learn.
const DefaultRemoteTimeout = 5 * time.Second

// Defaults applied by ApplyDefaults.
const (
	DefaultMaxConcurrentPerPeer = 16
	DefaultSkewInterval         = time.Second
	DefaultSkewThreshold        = 50 * time.Millisecond
	DefaultCorruptionInterval   = 5 * time.Minute
	DefaultHistoryWindow        = 500
	DefaultLogLevel             = "info"
)

// Peer represents a peer node in the cluster.
type Peer struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// Config holds the node configuration.
type Config struct {
	NodeID     string `yaml:"node_id"`
	ListenAddr string `yaml:"listen_addr"`
	// AdminAddr serves /metrics and /health; empty disables the admin server.
	AdminAddr string `yaml:"admin_addr"`
	DataDir   string `yaml:"data_dir"`
	InMemory  bool   `yaml:"in_memory"`
	Peers     []Peer `yaml:"peers"`

	QuorumTimeout        time.Duration `yaml:"quorum_timeout"`
	MaxConcurrentPerPeer int64         `yaml:"max_concurrent_per_peer"`

	SkewInterval  time.Duration `yaml:"skew_interval"`
	SkewThreshold time.Duration `yaml:"skew_threshold"`

	CorruptionInterval time.Duration `yaml:"corruption_interval"`
	HistoryWindow      int           `yaml:"history_window"`

	LogLevel string `yaml:"log_level"`
	JSONLogs bool   `yaml:"json_logs"`
}

// Load reads a YAML config file. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.QuorumTimeout <= 0 {
		c.QuorumTimeout = DefaultRemoteTimeout
	}
	if c.MaxConcurrentPerPeer <= 0 {
		c.MaxConcurrentPerPeer = DefaultMaxConcurrentPerPeer
	}
	if c.SkewInterval <= 0 {
		c.SkewInterval = DefaultSkewInterval
	}
	if c.SkewThreshold <= 0 {
		c.SkewThreshold = DefaultSkewThreshold
	}
	if c.CorruptionInterval <= 0 {
		c.CorruptionInterval = DefaultCorruptionInterval
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate checks the config after defaults were applied. Errors name the
// offending field or peer.
func (c *Config) Validate() error {
	var errs []error
	if c.NodeID == "" {
		errs = append(errs, errors.New("node_id is required"))
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.DataDir == "" && !c.InMemory {
		errs = append(errs, errors.New("data_dir is required unless in_memory is set"))
	}
	seen := make(map[string]string)
	for _, p := range c.Peers {
		if p.ID == "" || p.Addr == "" {
			errs = append(errs, fmt.Errorf("peer %q: id and addr are required", p.ID))
			continue
		}
		if prev, ok := seen[p.ID]; ok && prev != p.Addr {
			errs = append(errs, fmt.Errorf("peer %q listed with two addresses: %s and %s", p.ID, prev, p.Addr))
		}
		seen[p.ID] = p.Addr
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level %q: %w", c.LogLevel, err))
	}
	return errors.Join(errs...)
}

// Remotes returns the peers other than this node, in config order and
// without duplicates.
func (c *Config) Remotes() []Peer {
	out := make([]Peer, 0, len(c.Peers))
	seen := map[string]bool{c.NodeID: true}
	for _, p := range c.Peers {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

// ClusterSize counts this node and its remotes.
func (c *Config) ClusterSize() int {
	return len(c.Remotes()) + 1
}

// QuorumSize is a majority of the cluster.
func (c *Config) QuorumSize() int {
	return c.ClusterSize()/2 + 1
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{
			ID:   id,
			Addr: addr,
		})
	}

	return peers, nil
}
