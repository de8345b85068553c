package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Server.NodeID)
	assert.True(t, cfg.Server.GeneratedNodeID)
	assert.Equal(t, TransportGossip, cfg.Transport.Kind)
	assert.Equal(t, "hybrid", cfg.Clock.Kind)
	assert.Equal(t, "union", cfg.Store.MergePolicy)
	assert.Equal(t, 32, cfg.Store.Shards)
	assert.Equal(t, "msgpack", cfg.Messaging.Codec)
	assert.Equal(t, 5*time.Second, cfg.AntiEntropy.Interval)
	assert.True(t, cfg.AntiEntropy.IsEnabled())
	assert.Zero(t, cfg.Store.TombstoneTTL)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
server:
  node_id: node-1
  admin_port: 9100
store:
  merge_policy: replace
  tombstone_ttl: 1h
transport:
  kind: grpc
grpc:
  listen_addr: 127.0.0.1:7001
  peers:
    node-2: 127.0.0.1:7002
anti_entropy:
  enabled: false
  interval: 2s
  jitter: 500ms
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "node-1", cfg.Server.NodeID)
	assert.False(t, cfg.Server.GeneratedNodeID)
	assert.Equal(t, 9100, cfg.Server.AdminPort)
	assert.Equal(t, "replace", cfg.Store.MergePolicy)
	assert.Equal(t, time.Hour, cfg.Store.TombstoneTTL)
	assert.Equal(t, TransportGRPC, cfg.Transport.Kind)
	assert.Equal(t, map[string]string{"node-2": "127.0.0.1:7002"}, cfg.GRPC.Peers)
	assert.False(t, cfg.AntiEntropy.IsEnabled())
	assert.Equal(t, 2*time.Second, cfg.AntiEntropy.Interval)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  node_id: from-file
transport:
  kind: gossip
`)
	t.Setenv("NODE_ID", "from-env")
	t.Setenv("TRANSPORT_KIND", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("SEED_NODES", "a:7946, b:7946,")
	t.Setenv("ETCD_ENDPOINTS", "http://etcd:2379")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Server.NodeID)
	assert.Equal(t, TransportRedis, cfg.Transport.Kind)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"a:7946", "b:7946"}, cfg.Gossip.SeedNodes)
	assert.True(t, cfg.Discovery.Enabled)
	assert.Equal(t, []string{"http://etcd:2379"}, cfg.Discovery.Endpoints)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = LoadConfig(writeConfig(t, "server: [not a map"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown transport", func(c *Config) { c.Transport.Kind = "carrier-pigeon" }, "transport.kind"},
		{"unknown clock", func(c *Config) { c.Clock.Kind = "sundial" }, "clock.kind"},
		{"unknown policy", func(c *Config) { c.Store.MergePolicy = "first" }, "store.merge_policy"},
		{"unknown codec", func(c *Config) { c.Messaging.Codec = "xml" }, "messaging.codec"},
		{"jitter too large", func(c *Config) { c.AntiEntropy.Jitter = c.AntiEntropy.Interval }, "anti_entropy.jitter"},
		{"negative ttl", func(c *Config) { c.Store.TombstoneTTL = -time.Second }, "store.tombstone_ttl"},
		{"discovery without endpoints", func(c *Config) { c.Discovery.Enabled = true }, "discovery.endpoints"},
		{"negative min peers", func(c *Config) { c.Server.ReadyMinPeers = -1 }, "server.ready_min_peers"},
		{"negative rate limit", func(c *Config) { c.Server.RateLimit = -1 }, "server.rate_limit"},
		{"bad admin port", func(c *Config) { c.Server.AdminPort = 70000 }, "server.admin_port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			setDefaults(cfg)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
