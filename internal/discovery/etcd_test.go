package discovery

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCopyMembers(t *testing.T) {
	in := map[string]string{"a": "10.0.0.1:7000"}
	out := copyMembers(in)
	out["b"] = "10.0.0.2:7000"
	assert.Len(t, in, 1)
}

// Runs against a real etcd when ETCD_ENDPOINTS is set.
func TestEtcdRegistry_RegisterAndWatch(t *testing.T) {
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}

	prefix := "/entitystore-test/" + uuid.New().String()
	cfg := func() *Config {
		return &Config{Endpoints: strings.Split(endpoints, ","), Prefix: prefix, LeaseTTL: 5 * time.Second}
	}

	a, err := NewEtcdRegistry(cfg(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Register(ctx, "a", "127.0.0.1:7001"))

	updates := make(chan map[string]string, 8)
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() { _ = a.Watch(watchCtx, func(m map[string]string) { updates <- m }) }()

	assert.Equal(t, map[string]string{"a": "127.0.0.1:7001"}, <-updates)

	b, err := NewEtcdRegistry(cfg(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, b.Register(ctx, "b", "127.0.0.1:7002"))
	assert.Equal(t, map[string]string{"a": "127.0.0.1:7001", "b": "127.0.0.1:7002"}, <-updates)

	require.NoError(t, b.Close())
	assert.Equal(t, map[string]string{"a": "127.0.0.1:7001"}, <-updates)
}
