package venue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apex-trading/apex/internal/execution"
	"github.com/apex-trading/apex/internal/position"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	client := NewClient(Config{
		Endpoints: map[position.ChainKey]string{position.ChainSOL: srv.URL},
		TimeoutMs: 1000,
	})
	return client, srv
}

func TestClient_PrepareOrder(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/order", r.URL.Path)
		assert.Equal(t, "base-asset", r.URL.Query().Get("inputMint"))
		assert.Equal(t, "mint-1", r.URL.Query().Get("outputMint"))
		assert.Equal(t, "0.5", r.URL.Query().Get("amount"))
		assert.Equal(t, "200", r.URL.Query().Get("slippageBps"))
		w.Write([]byte(`{"transaction": "unsigned-b64", "priceUsd": "0.002"}`))
	})
	defer srv.Close()

	order, err := client.PrepareOrder(context.Background(), execution.OrderRequest{
		Chain:       position.ChainSOL,
		InputAsset:  "base-asset",
		OutputAsset: "mint-1",
		Amount:      decimal.NewFromFloat(0.5),
		SlippageBps: 200,
	})
	require.NoError(t, err)
	assert.Equal(t, "unsigned-b64", order.UnsignedTx)
	assert.True(t, order.QuotedPrice.Equal(decimal.NewFromFloat(0.002)))
}

func TestClient_PrepareOrderSellAll(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("sellAll"))
		assert.Empty(t, r.URL.Query().Get("amount"))
		w.Write([]byte(`{"transaction": "unsigned-b64"}`))
	})
	defer srv.Close()

	order, err := client.PrepareOrder(context.Background(), execution.OrderRequest{
		Chain:       position.ChainSOL,
		InputAsset:  "mint-1",
		OutputAsset: "base-asset",
		SellAll:     true,
	})
	require.NoError(t, err)
	assert.True(t, order.QuotedPrice.IsZero(), "missing quote price is not an error")
}

func TestClient_PrepareOrderNoRoute(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	})
	defer srv.Close()

	_, err := client.PrepareOrder(context.Background(), execution.OrderRequest{
		Chain:       position.ChainSOL,
		OutputAsset: "mint-1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no route")
}

func TestClient_UnconfiguredChain(t *testing.T) {
	client := NewClient(Config{TimeoutMs: 1000})
	_, err := client.PrepareOrder(context.Background(), execution.OrderRequest{Chain: position.ChainBSC})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no endpoint configured")
}

func TestClient_SubmitDirect(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute", r.URL.Path)
		var req executeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "signed-b64", req.SignedTransaction)
		w.Write([]byte(`{"signature": "tx-sig-1"}`))
	})
	defer srv.Close()

	sig, err := client.SubmitDirect(context.Background(), position.ChainSOL, "signed-b64")
	require.NoError(t, err)
	assert.Equal(t, "tx-sig-1", sig)
}

func TestClient_SubmitDirectRejected(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"error": "slippage exceeded"}`))
	})
	defer srv.Close()

	_, err := client.SubmitDirect(context.Background(), position.ChainSOL, "signed-b64")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slippage exceeded")
}
