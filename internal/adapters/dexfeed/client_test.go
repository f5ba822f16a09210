package dexfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apex-trading/apex/internal/position"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(discovery, price http.HandlerFunc) (*Client, func()) {
	discoverySrv := httptest.NewServer(discovery)
	priceSrv := httptest.NewServer(price)
	client := NewClient(Config{
		DiscoveryURL: discoverySrv.URL,
		PriceURL:     priceSrv.URL,
		TimeoutMs:    1000,
		MaxTries:     2,
	})
	return client, func() {
		discoverySrv.Close()
		priceSrv.Close()
	}
}

func TestClient_LatestFiltersUnsupportedChains(t *testing.T) {
	client, cleanup := newTestClient(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[
			{"chainId": "solana", "tokenAddress": "mint-1"},
			{"chainId": "tron", "tokenAddress": "addr-x"},
			{"chainId": "base", "tokenAddress": "0xabc"},
			{"chainId": "ethereum", "tokenAddress": ""}
		]`))
	}, nil)
	defer cleanup()

	signals, err := client.Latest(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, position.ChainSOL, signals[0].Chain)
	assert.Equal(t, "mint-1", signals[0].Address)
	assert.Equal(t, position.PlaceholderSymbol, signals[0].Symbol)
	assert.Equal(t, position.ChainBASE, signals[1].Chain)
}

func TestClient_Price(t *testing.T) {
	client, cleanup := newTestClient(nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mint-1", r.URL.Path)
		w.Write([]byte(`{"pairs": [{"priceUsd": "0.00231", "baseToken": {"symbol": "TKN"}}]}`))
	})
	defer cleanup()

	price, err := client.Price(context.Background(), position.ChainSOL, "mint-1")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromFloat(0.00231)))
}

func TestClient_PriceNoPairs(t *testing.T) {
	client, cleanup := newTestClient(nil, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"pairs": []}`))
	})
	defer cleanup()

	_, err := client.Price(context.Background(), position.ChainSOL, "mint-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pairs")
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	client, cleanup := newTestClient(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"chainId": "solana", "tokenAddress": "mint-1"}]`))
	}, nil)
	defer cleanup()

	signals, err := client.Latest(context.Background())
	require.NoError(t, err)
	assert.Len(t, signals, 1)
	assert.Equal(t, int64(2), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64
	client, cleanup := newTestClient(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "not found", http.StatusNotFound)
	}, nil)
	defer cleanup()

	_, err := client.Latest(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load(), "4xx must not be retried")
}

func TestStream_ServesFreshCacheAndFallsBack(t *testing.T) {
	var restCalls atomic.Int64
	client, cleanup := newTestClient(nil, func(w http.ResponseWriter, _ *http.Request) {
		restCalls.Add(1)
		w.Write([]byte(`{"pairs": [{"priceUsd": "0.5"}]}`))
	})
	defer cleanup()

	stream := NewStream(StreamConfig{FreshnessMs: 60000}, client)

	// No cached push yet: REST fallback.
	price, err := stream.Price(context.Background(), position.ChainSOL, "mint-1")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromFloat(0.5)))
	assert.Equal(t, int64(1), restCalls.Load())

	// Fresh push: served from cache, no extra REST call.
	stream.mu.Lock()
	stream.cache["mint-1"] = cachedPrice{price: decimal.NewFromFloat(0.7), at: time.Now()}
	stream.mu.Unlock()

	price, err = stream.Price(context.Background(), position.ChainSOL, "mint-1")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromFloat(0.7)))
	assert.Equal(t, int64(1), restCalls.Load())

	// Stale push: back to REST.
	stream.mu.Lock()
	stream.cache["mint-1"] = cachedPrice{price: decimal.NewFromFloat(0.7), at: time.Now().Add(-2 * time.Minute)}
	stream.mu.Unlock()

	price, err = stream.Price(context.Background(), position.ChainSOL, "mint-1")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromFloat(0.5)))
	assert.Equal(t, int64(2), restCalls.Load())
}
