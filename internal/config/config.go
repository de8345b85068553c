package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Transport kinds
const (
	TransportGossip = "gossip"
	TransportGRPC   = "grpc"
	TransportRedis  = "redis"
)

// Config represents the complete configuration for an entity store node
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Store       StoreConfig       `yaml:"store"`
	Clock       ClockConfig       `yaml:"clock"`
	Transport   TransportConfig   `yaml:"transport"`
	Gossip      GossipConfig      `yaml:"gossip"`
	GRPC        GRPCConfig        `yaml:"grpc"`
	Redis       RedisConfig       `yaml:"redis"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	AntiEntropy AntiEntropyConfig `yaml:"anti_entropy"`
	Messaging   MessagingConfig   `yaml:"messaging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds node identity and the admin HTTP server
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	Host            string        `yaml:"host"`
	AdminPort       int           `yaml:"admin_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// ReadyMinPeers is the peer count below which /ready reports not ready
	ReadyMinPeers int `yaml:"ready_min_peers"`
	// RateLimit caps admin requests per second. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	// GeneratedNodeID is set when NodeID was not configured
	GeneratedNodeID bool `yaml:"-"`
}

// StoreConfig holds replicated table configuration
type StoreConfig struct {
	Shards       int           `yaml:"shards"`
	MergePolicy  string        `yaml:"merge_policy"`
	TombstoneTTL time.Duration `yaml:"tombstone_ttl"`
}

// ClockConfig selects the timestamp source
type ClockConfig struct {
	Kind string `yaml:"kind"`
}

// TransportConfig selects the peer transport
type TransportConfig struct {
	Kind string `yaml:"kind"`
}

// GossipConfig holds memberlist configuration
type GossipConfig struct {
	BindAddr         string        `yaml:"bind_addr"`
	BindPort         int           `yaml:"bind_port"`
	AdvertiseAddr    string        `yaml:"advertise_addr"`
	AdvertisePort    int           `yaml:"advertise_port"`
	SeedNodes        []string      `yaml:"seed_nodes"`
	GossipInterval   time.Duration `yaml:"gossip_interval"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	ProbeInterval    time.Duration `yaml:"probe_interval"`
	PushPullInterval time.Duration `yaml:"push_pull_interval"`
	RetransmitMult   int           `yaml:"retransmit_mult"`
	MaxBroadcastSize int           `yaml:"max_broadcast_size"`
}

// GRPCConfig holds gRPC peer transport configuration
type GRPCConfig struct {
	ListenAddr     string            `yaml:"listen_addr"`
	AdvertiseAddr  string            `yaml:"advertise_addr"`
	Peers          map[string]string `yaml:"peers"`
	CallTimeout    time.Duration     `yaml:"call_timeout"`
	MaxConnections int               `yaml:"max_connections"`
	MaxMessageSize int               `yaml:"max_message_size"`
}

// RedisConfig holds Redis pub/sub transport configuration
type RedisConfig struct {
	Addr              string        `yaml:"addr"`
	Password          string        `yaml:"password"`
	DB                int           `yaml:"db"`
	ChannelPrefix     string        `yaml:"channel_prefix"`
	PresenceTTL       time.Duration `yaml:"presence_ttl"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DiscoveryConfig holds etcd discovery configuration for the gRPC transport
type DiscoveryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Endpoints   []string      `yaml:"endpoints"`
	Prefix      string        `yaml:"prefix"`
	LeaseTTL    time.Duration `yaml:"lease_ttl"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// AntiEntropyConfig holds anti-entropy configuration
type AntiEntropyConfig struct {
	Enabled      *bool         `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	Jitter       time.Duration `yaml:"jitter"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	RoundTimeout time.Duration `yaml:"round_timeout"`
	RepairRate   float64       `yaml:"repair_rate"`
	RepairBurst  int           `yaml:"repair_burst"`
}

// IsEnabled reports whether anti-entropy runs. It is on unless disabled.
func (c AntiEntropyConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// MessagingConfig holds codec and send pool configuration
type MessagingConfig struct {
	Codec       string        `yaml:"codec"`
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a file. An empty path means
// defaults plus environment.
func LoadConfig(filePath string) (*Config, error) {
	var cfg Config
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with environment variables (these take precedence)
	applyEnvironmentOverrides(&cfg)

	// Set defaults if not specified
	setDefaults(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to config
func applyEnvironmentOverrides(cfg *Config) {
	if nodeID := os.Getenv("NODE_ID"); nodeID != "" {
		cfg.Server.NodeID = nodeID
	}
	if port := os.Getenv("ADMIN_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.AdminPort = p
		}
	}
	if kind := os.Getenv("TRANSPORT_KIND"); kind != "" {
		cfg.Transport.Kind = kind
	}
	if seeds := os.Getenv("SEED_NODES"); seeds != "" {
		cfg.Gossip.SeedNodes = splitList(seeds)
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if endpoints := os.Getenv("ETCD_ENDPOINTS"); endpoints != "" {
		cfg.Discovery.Endpoints = splitList(endpoints)
		cfg.Discovery.Enabled = true
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.NodeID == "" {
		cfg.Server.NodeID = uuid.New().String()
		cfg.Server.GeneratedNodeID = true
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.AdminPort == 0 {
		cfg.Server.AdminPort = 9090
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = int(cfg.Server.RateLimit)
		if cfg.Server.RateBurst < 1 {
			cfg.Server.RateBurst = 1
		}
	}

	if cfg.Store.Shards == 0 {
		cfg.Store.Shards = 32
	}
	if cfg.Store.MergePolicy == "" {
		cfg.Store.MergePolicy = "union"
	}

	if cfg.Clock.Kind == "" {
		cfg.Clock.Kind = "hybrid"
	}
	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = TransportGossip
	}

	// Gossip defaults
	if cfg.Gossip.BindPort == 0 {
		cfg.Gossip.BindPort = 7946
	}
	if cfg.Gossip.GossipInterval == 0 {
		cfg.Gossip.GossipInterval = 200 * time.Millisecond
	}
	if cfg.Gossip.ProbeTimeout == 0 {
		cfg.Gossip.ProbeTimeout = 500 * time.Millisecond
	}
	if cfg.Gossip.ProbeInterval == 0 {
		cfg.Gossip.ProbeInterval = time.Second
	}
	if cfg.Gossip.PushPullInterval == 0 {
		cfg.Gossip.PushPullInterval = 30 * time.Second
	}
	if cfg.Gossip.MaxBroadcastSize == 0 {
		cfg.Gossip.MaxBroadcastSize = 1024
	}

	// gRPC defaults
	if cfg.GRPC.ListenAddr == "" {
		cfg.GRPC.ListenAddr = "0.0.0.0:7950"
	}
	if cfg.GRPC.CallTimeout == 0 {
		cfg.GRPC.CallTimeout = 5 * time.Second
	}
	if cfg.GRPC.MaxConnections == 0 {
		cfg.GRPC.MaxConnections = 1000
	}

	// Redis defaults
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.ChannelPrefix == "" {
		cfg.Redis.ChannelPrefix = "entitystore:"
	}
	if cfg.Redis.PresenceTTL == 0 {
		cfg.Redis.PresenceTTL = 15 * time.Second
	}

	// Discovery defaults
	if cfg.Discovery.Prefix == "" {
		cfg.Discovery.Prefix = "/entitystore/nodes/"
	}
	if cfg.Discovery.LeaseTTL == 0 {
		cfg.Discovery.LeaseTTL = 10 * time.Second
	}
	if cfg.Discovery.DialTimeout == 0 {
		cfg.Discovery.DialTimeout = 5 * time.Second
	}

	// Anti-entropy defaults
	if cfg.AntiEntropy.Interval == 0 {
		cfg.AntiEntropy.Interval = 5 * time.Second
	}
	if cfg.AntiEntropy.Jitter == 0 {
		cfg.AntiEntropy.Jitter = time.Second
	}
	if cfg.AntiEntropy.InitialDelay == 0 {
		cfg.AntiEntropy.InitialDelay = 5 * time.Second
	}
	if cfg.AntiEntropy.RoundTimeout == 0 {
		cfg.AntiEntropy.RoundTimeout = 10 * time.Second
	}
	if cfg.AntiEntropy.RepairRate == 0 {
		cfg.AntiEntropy.RepairRate = 1000
	}
	if cfg.AntiEntropy.RepairBurst == 0 {
		cfg.AntiEntropy.RepairBurst = 100
	}

	// Messaging defaults
	if cfg.Messaging.Codec == "" {
		cfg.Messaging.Codec = "msgpack"
	}
	if cfg.Messaging.Workers == 0 {
		cfg.Messaging.Workers = 8
	}
	if cfg.Messaging.QueueSize == 0 {
		cfg.Messaging.QueueSize = 4096
	}
	if cfg.Messaging.SendTimeout == 0 {
		cfg.Messaging.SendTimeout = 5 * time.Second
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.AdminPort < 1 || c.Server.AdminPort > 65535 {
		return fmt.Errorf("server.admin_port must be between 1 and 65535")
	}
	if c.Server.ReadyMinPeers < 0 {
		return fmt.Errorf("server.ready_min_peers cannot be negative")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit cannot be negative")
	}
	switch c.Transport.Kind {
	case TransportGossip, TransportGRPC, TransportRedis:
	default:
		return fmt.Errorf("transport.kind must be one of gossip, grpc, redis")
	}
	switch c.Clock.Kind {
	case "hybrid", "wall", "epoch":
	default:
		return fmt.Errorf("clock.kind must be one of hybrid, wall, epoch")
	}
	switch c.Store.MergePolicy {
	case "union", "replace":
	default:
		return fmt.Errorf("store.merge_policy must be union or replace")
	}
	switch c.Messaging.Codec {
	case "msgpack", "json":
	default:
		return fmt.Errorf("messaging.codec must be msgpack or json")
	}
	if c.Store.Shards < 1 {
		return fmt.Errorf("store.shards must be positive")
	}
	if c.Store.TombstoneTTL < 0 {
		return fmt.Errorf("store.tombstone_ttl cannot be negative")
	}
	if c.AntiEntropy.Jitter >= c.AntiEntropy.Interval {
		return fmt.Errorf("anti_entropy.jitter must be smaller than anti_entropy.interval")
	}
	if c.Discovery.Enabled && len(c.Discovery.Endpoints) == 0 {
		return fmt.Errorf("discovery.endpoints is required when discovery is enabled")
	}
	if c.Gossip.BindPort < 0 || c.Gossip.BindPort > 65535 {
		return fmt.Errorf("gossip.bind_port must be between 0 and 65535")
	}
	return nil
}
