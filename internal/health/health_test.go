package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestChecker_Readiness(t *testing.T) {
	c := NewChecker(time.Hour, zap.NewNop())

	failing := errors.New("no peers")
	var peersErr error = failing
	c.Register("store", func(context.Context) error { return nil })
	c.Register("peers", func(context.Context) error { return peersErr })

	// not ready before the first run
	rec := httptest.NewRecorder()
	c.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	assert.False(t, c.RunChecks(context.Background()))
	rec = httptest.NewRecorder()
	c.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, "no peers", resp.Checks["peers"])
	assert.Equal(t, "healthy", resp.Checks["store"])

	peersErr = nil
	assert.True(t, c.RunChecks(context.Background()))
	assert.True(t, c.IsReady())
	rec = httptest.NewRecorder()
	c.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChecker_Liveness(t *testing.T) {
	c := NewChecker(0, zap.NewNop())
	rec := httptest.NewRecorder()
	c.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestChecker_StartStop(t *testing.T) {
	c := NewChecker(10*time.Millisecond, zap.NewNop())
	c.Register("ok", func(context.Context) error { return nil })
	c.Start()
	assert.True(t, c.IsReady())
	c.Stop()
	c.Stop()
}
