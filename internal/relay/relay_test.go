package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	cfg := DefaultConfig()
	cfg.EngineURL = srv.URL
	return NewClient(cfg), srv
}

func TestClient_SubmitAccepted(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		var req bundleRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sendBundle", req.Method)
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": "bundle-abc"})
	})
	defer srv.Close()

	id, accepted, err := client.Submit(context.Background(), "signed-tx")
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, "bundle-abc", id)

	stats := client.Stats()
	assert.Equal(t, int64(1), stats.BundlesSent)
	assert.Equal(t, int64(1), stats.BundlesAccepted)
	assert.Equal(t, 100.0, stats.AcceptRate)
}

func TestClient_SubmitDeclined(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": 1,
			"error": map[string]any{"code": -32602, "message": "bundle rejected"},
		})
	})
	defer srv.Close()

	_, accepted, err := client.Submit(context.Background(), "signed-tx")
	require.NoError(t, err, "a decline is not a transport failure")
	assert.False(t, accepted)
}

func TestClient_SubmitTransportFailure(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})
	defer srv.Close()

	_, accepted, err := client.Submit(context.Background(), "signed-tx")
	assert.Error(t, err)
	assert.False(t, accepted)
	assert.Equal(t, int64(1), client.Stats().BundlesFailed)
}
