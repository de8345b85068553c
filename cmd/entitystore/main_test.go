package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opennetworkinglab/onos-sub118/internal/config"
	"github.com/opennetworkinglab/onos-sub118/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		level   string
		format  string
		wantErr bool
	}{
		{"info", "json", false},
		{"debug", "console", false},
		{"chatty", "json", true},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			logger, err := initLogger(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestVersionCmd(t *testing.T) {
	cmd := versionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "entitystore dev\n", out.String())
}

func TestDigestCmd(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/debug/digest", r.URL.Path)
		_ = json.NewEncoder(w).Encode(server.DigestSummary{
			NodeID:        "a",
			Entities:      3,
			LiveFragments: 4,
			Tombstones:    1,
			Peers:         []string{"b", "c"},
		})
	}))
	defer ts.Close()

	cmd := digestCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--admin", ts.URL + "/"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), "node:           a")
	assert.Contains(t, out.String(), "live fragments: 4")
	assert.Contains(t, out.String(), "peers:          b, c")
}

func TestFetchDigest_Errors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := fetchDigest(context.Background(), ts.URL)
	assert.ErrorContains(t, err, "503")

	ts.Close()
	_, err = fetchDigest(context.Background(), ts.URL)
	assert.ErrorContains(t, err, "failed to reach admin server")
}

func TestNewTransport_UnknownKind(t *testing.T) {
	cfg := &config.Config{Transport: config.TransportConfig{Kind: "smoke-signal"}}
	_, _, err := newTransport(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "unknown transport kind")
}

func TestServe_RedisUnavailable(t *testing.T) {
	t.Setenv("TRANSPORT_KIND", "redis")
	t.Setenv("REDIS_ADDR", "127.0.0.1:1")
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	err = serve(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
