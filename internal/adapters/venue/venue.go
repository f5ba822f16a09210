// Package venue talks to the per-chain swap aggregator APIs: order
// preparation (quote + unsigned transaction) and direct transaction
// submission.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/apex-trading/apex/internal/execution"
	"github.com/apex-trading/apex/internal/position"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Config configures the venue client.
type Config struct {
	// Order API base URL per chain.
	Endpoints map[position.ChainKey]string `yaml:"endpoints"`

	TimeoutMs int `yaml:"timeout_ms"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Endpoints: map[position.ChainKey]string{
			position.ChainSOL: "https://quote-api.jup.ag/v6",
		},
		TimeoutMs: 10000,
	}
}

// Client implements execution.Venue over the aggregator REST APIs.
type Client struct {
	config     Config
	httpClient *http.Client

	orders  atomic.Int64
	submits atomic.Int64
	errors  atomic.Int64
}

// NewClient creates a venue client.
func NewClient(config Config) *Client {
	if config.TimeoutMs == 0 {
		config.TimeoutMs = DefaultConfig().TimeoutMs
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: time.Duration(config.TimeoutMs) * time.Millisecond},
	}
}

func (c *Client) endpoint(chain position.ChainKey) (string, error) {
	base, ok := c.config.Endpoints[chain]
	if !ok || base == "" {
		return "", fmt.Errorf("venue: no endpoint configured for chain %s", chain)
	}
	return base, nil
}

type orderResponse struct {
	Transaction string `json:"transaction"` // base64 unsigned transaction
	PriceUSD    string `json:"priceUsd"`
}

// PrepareOrder asks the chain's aggregator for a route and an unsigned
// transaction.
func (c *Client) PrepareOrder(ctx context.Context, req execution.OrderRequest) (execution.Order, error) {
	base, err := c.endpoint(req.Chain)
	if err != nil {
		c.errors.Add(1)
		return execution.Order{}, err
	}

	queryURL, err := url.Parse(base + "/order")
	if err != nil {
		c.errors.Add(1)
		return execution.Order{}, fmt.Errorf("venue: parse URL: %w", err)
	}
	q := queryURL.Query()
	q.Set("inputMint", req.InputAsset)
	q.Set("outputMint", req.OutputAsset)
	q.Set("slippageBps", fmt.Sprintf("%d", req.SlippageBps))
	if req.SellAll {
		q.Set("sellAll", "true")
	} else {
		q.Set("amount", req.Amount.String())
	}
	queryURL.RawQuery = q.Encode()

	body, err := c.get(ctx, queryURL.String())
	if err != nil {
		c.errors.Add(1)
		return execution.Order{}, fmt.Errorf("venue: prepare order: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.errors.Add(1)
		return execution.Order{}, fmt.Errorf("venue: parse order response: %w", err)
	}
	if resp.Transaction == "" {
		c.errors.Add(1)
		return execution.Order{}, fmt.Errorf("venue: no route for %s -> %s", req.InputAsset, req.OutputAsset)
	}

	// The quoted price is informational; a missing one is not an error.
	price := decimal.Zero
	if resp.PriceUSD != "" {
		if p, err := decimal.NewFromString(resp.PriceUSD); err == nil {
			price = p
		}
	}

	c.orders.Add(1)
	log.Debug().
		Str("chain", string(req.Chain)).
		Str("output", req.OutputAsset).
		Str("price", price.String()).
		Msg("venue: order prepared")

	return execution.Order{UnsignedTx: resp.Transaction, QuotedPrice: price}, nil
}

type executeRequest struct {
	SignedTransaction string `json:"signedTransaction"`
}

type executeResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

// SubmitDirect broadcasts a signed transaction through the aggregator's
// execute endpoint.
func (c *Client) SubmitDirect(ctx context.Context, chain position.ChainKey, signedTx string) (string, error) {
	base, err := c.endpoint(chain)
	if err != nil {
		c.errors.Add(1)
		return "", err
	}

	payload, err := json.Marshal(executeRequest{SignedTransaction: signedTx})
	if err != nil {
		c.errors.Add(1)
		return "", fmt.Errorf("venue: marshal execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/execute", bytes.NewReader(payload))
	if err != nil {
		c.errors.Add(1)
		return "", fmt.Errorf("venue: create execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.errors.Add(1)
		return "", fmt.Errorf("venue: execute HTTP error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.errors.Add(1)
		return "", fmt.Errorf("venue: read execute response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.errors.Add(1)
		return "", fmt.Errorf("venue: execute HTTP %d: %s", resp.StatusCode, string(body))
	}

	var execResp executeResponse
	if err := json.Unmarshal(body, &execResp); err != nil {
		c.errors.Add(1)
		return "", fmt.Errorf("venue: parse execute response: %w", err)
	}
	if execResp.Error != "" {
		c.errors.Add(1)
		return "", fmt.Errorf("venue: execute rejected: %s", execResp.Error)
	}
	if execResp.Signature == "" {
		c.errors.Add(1)
		return "", fmt.Errorf("venue: execute returned no signature")
	}

	c.submits.Add(1)
	return execResp.Signature, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// Stats returns venue counters.
type Stats struct {
	Orders  int64 `json:"orders"`
	Submits int64 `json:"submits"`
	Errors  int64 `json:"errors"`
}

func (c *Client) Stats() Stats {
	return Stats{
		Orders:  c.orders.Load(),
		Submits: c.submits.Load(),
		Errors:  c.errors.Load(),
	}
}
