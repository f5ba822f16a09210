package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Bundle Relay Client — privileged submission path for atomic,
// front-run-resistant inclusion. JSON-RPC sendBundle over HTTP.
// ---------------------------------------------------------------------------

// Config configures the relay client.
type Config struct {
	EngineURL string `yaml:"engine_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		EngineURL: "https://mainnet.block-engine.jito.wtf/api/v1/bundles",
		TimeoutMs: 5000,
	}
}

// Client submits signed transactions as single-transaction bundles.
type Client struct {
	config     Config
	httpClient *http.Client

	bundlesSent     atomic.Int64
	bundlesAccepted atomic.Int64
	bundlesFailed   atomic.Int64
}

// NewClient creates a relay client.
func NewClient(config Config) *Client {
	timeout := time.Duration(config.TimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type bundleRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type bundleResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Result  string `json:"result,omitempty"` // bundle ID
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Submit sends a signed transaction through the relay. A declined bundle is
// reported as accepted=false with a nil error so callers can fall back to
// direct submission; transport failures return an error.
func (c *Client) Submit(ctx context.Context, signedTx string) (string, bool, error) {
	c.bundlesSent.Add(1)

	req := bundleRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sendBundle",
		Params:  []any{[]string{signedTx}},
	}

	body, err := json.Marshal(req)
	if err != nil {
		c.bundlesFailed.Add(1)
		return "", false, fmt.Errorf("relay: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.EngineURL, bytes.NewReader(body))
	if err != nil {
		c.bundlesFailed.Add(1)
		return "", false, fmt.Errorf("relay: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.bundlesFailed.Add(1)
		return "", false, fmt.Errorf("relay: HTTP error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.bundlesFailed.Add(1)
		return "", false, fmt.Errorf("relay: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.bundlesFailed.Add(1)
		return "", false, fmt.Errorf("relay: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var bundleResp bundleResponse
	if err := json.Unmarshal(respBody, &bundleResp); err != nil {
		c.bundlesFailed.Add(1)
		return "", false, fmt.Errorf("relay: parse response: %w", err)
	}

	// A structured error response is a decline, not a transport failure.
	if bundleResp.Error != nil {
		c.bundlesFailed.Add(1)
		log.Warn().
			Int("code", bundleResp.Error.Code).
			Str("message", bundleResp.Error.Message).
			Msg("relay: bundle declined")
		return "", false, nil
	}
	if bundleResp.Result == "" {
		c.bundlesFailed.Add(1)
		return "", false, nil
	}

	c.bundlesAccepted.Add(1)
	log.Info().Str("bundle_id", bundleResp.Result).Msg("relay: bundle accepted")
	return bundleResp.Result, true, nil
}

// Stats returns relay counters.
type Stats struct {
	BundlesSent     int64   `json:"bundles_sent"`
	BundlesAccepted int64   `json:"bundles_accepted"`
	BundlesFailed   int64   `json:"bundles_failed"`
	AcceptRate      float64 `json:"accept_rate_pct"`
}

func (c *Client) Stats() Stats {
	sent := c.bundlesSent.Load()
	accepted := c.bundlesAccepted.Load()
	rate := 0.0
	if sent > 0 {
		rate = float64(accepted) / float64(sent) * 100.0
	}
	return Stats{
		BundlesSent:     sent,
		BundlesAccepted: accepted,
		BundlesFailed:   c.bundlesFailed.Load(),
		AcceptRate:      rate,
	}
}
