package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copilot-server/pkg/config"
	"copilot-server/pkg/copilot"
)

func newTestServer(t *testing.T) (*Server, *copilot.Engine) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := copilot.DefaultConfig()
	cfg.UseLLMForDetection = false
	engine := copilot.NewEngine(logger, nil, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})

	server := NewServer(logger, config.HTTPConfig{ListenAddr: ":0"}, engine, nil)
	return server, engine
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServerHealthEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(t, server.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, false, resp["session_active"])

	rec = doJSON(t, server.Handler(), http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, server.Handler(), http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerCallLifecycle(t *testing.T) {
	server, engine := newTestServer(t)
	h := server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/call/start",
		map[string]string{"recording_id": "rec-1", "session_id": "sess-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var session copilot.CallSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "sess-1", session.SessionID)
	assert.True(t, session.IsActive)

	rec = doJSON(t, h, http.MethodPost, "/api/transcript", map[string]interface{}{
		"channel":  "them",
		"text":     "this is too expensive for us",
		"is_final": true,
		"start":    time.Now().Add(-3 * time.Second),
		"end":      time.Now(),
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return engine.GetState().Committed == 1
	}, 2*time.Second, 5*time.Millisecond)

	rec = doJSON(t, h, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state copilot.EngineState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.Len(t, state.CueCards, 1)
	assert.Equal(t, "price", state.CueCards[0].ObjectionType)

	rec = doJSON(t, h, http.MethodPost, "/api/call/end", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var endResp struct {
		Summary copilot.CallSummary     `json:"summary"`
		Metrics copilot.MetricsSnapshot `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &endResp))
	assert.True(t, endResp.Summary.Degraded)
	assert.Equal(t, 6, endResp.Metrics.WordCount.Them)
}

func TestServerEndCallWithoutSessionConflict(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(t, server.Handler(), http.MethodPost, "/api/call/end", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServerCueCardNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	h := server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/call/start",
		map[string]string{"recording_id": "rec-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/cuecards/dismiss",
		map[string]string{"trigger_id": "no-such-card"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerInvalidRequests(t *testing.T) {
	server, _ := newTestServer(t)
	h := server.Handler()

	// Bad JSON body.
	req := httptest.NewRequest(http.MethodPost, "/api/call/start", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Empty recording id.
	rec = doJSON(t, h, http.MethodPost, "/api/call/start", map[string]string{"recording_id": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Wrong method.
	rec = doJSON(t, h, http.MethodGet, "/api/call/start", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerConfigRoundTrip(t *testing.T) {
	server, _ := newTestServer(t)
	h := server.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg copilot.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.True(t, cfg.EnableSentiment)

	rec = doJSON(t, h, http.MethodPatch, "/api/config",
		map[string]bool{"enableSentiment": false})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.False(t, cfg.EnableSentiment)
	assert.True(t, cfg.EnableMetrics)
}

func TestServerBookmarkEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	h := server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/bookmarks",
		map[string]interface{}{"category": "pricing", "note": "revisit"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	doJSON(t, h, http.MethodPost, "/api/call/start", map[string]string{"recording_id": "rec-1"})
	rec = doJSON(t, h, http.MethodPost, "/api/bookmarks",
		map[string]interface{}{"category": "pricing", "note": "revisit", "timestamp": time.Now()})
	require.Equal(t, http.StatusCreated, rec.Code)

	var bm copilot.Bookmark
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bm))
	assert.Equal(t, "rec-1", bm.RecordingID)
}
