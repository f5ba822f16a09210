// Package dexfeed talks to the DEX aggregator's public API: token discovery
// for the sniper loops and spot prices for the position monitors.
package dexfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/apex-trading/apex/internal/position"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	defaultDiscoveryURL = "https://api.dexscreener.com/token-boosts/latest/v1"
	defaultPriceURL     = "https://api.dexscreener.com/latest/dex/tokens"
)

// chainIDs maps the feed's chain identifiers to ours.
var chainIDs = map[string]position.ChainKey{
	"solana":   position.ChainSOL,
	"ethereum": position.ChainETH,
	"base":     position.ChainBASE,
	"bsc":      position.ChainBSC,
}

// Config configures the feed client.
type Config struct {
	DiscoveryURL string `yaml:"discovery_url"`
	PriceURL     string `yaml:"price_url"`
	TimeoutMs    int    `yaml:"timeout_ms"`
	MaxTries     uint   `yaml:"max_tries"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DiscoveryURL: defaultDiscoveryURL,
		PriceURL:     defaultPriceURL,
		TimeoutMs:    8000,
		MaxTries:     3,
	}
}

// Client implements signal.DiscoveryFeed and monitor.PriceFeed over the
// aggregator's REST API.
type Client struct {
	config     Config
	httpClient *http.Client

	discoveries atomic.Int64
	priceReads  atomic.Int64
	errors      atomic.Int64
}

// NewClient creates a feed client.
func NewClient(config Config) *Client {
	if config.DiscoveryURL == "" {
		config.DiscoveryURL = defaultDiscoveryURL
	}
	if config.PriceURL == "" {
		config.PriceURL = defaultPriceURL
	}
	if config.TimeoutMs == 0 {
		config.TimeoutMs = DefaultConfig().TimeoutMs
	}
	if config.MaxTries == 0 {
		config.MaxTries = DefaultConfig().MaxTries
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: time.Duration(config.TimeoutMs) * time.Millisecond},
	}
}

// boostEntry is one promoted-token entry from the discovery endpoint. The
// feed does not include a symbol there; assets stay unidentified until the
// first price lookup.
type boostEntry struct {
	ChainID      string `json:"chainId"`
	TokenAddress string `json:"tokenAddress"`
	Description  string `json:"description"`
}

// Latest lists current candidates across all supported chains. Entries on
// chains we do not trade are dropped.
func (c *Client) Latest(ctx context.Context) ([]position.Signal, error) {
	body, err := c.get(ctx, c.config.DiscoveryURL)
	if err != nil {
		c.errors.Add(1)
		return nil, fmt.Errorf("dexfeed: discovery: %w", err)
	}

	var entries []boostEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		c.errors.Add(1)
		return nil, fmt.Errorf("dexfeed: parse discovery response: %w", err)
	}

	signals := make([]position.Signal, 0, len(entries))
	for _, entry := range entries {
		chain, ok := chainIDs[entry.ChainID]
		if !ok || entry.TokenAddress == "" {
			continue
		}
		signals = append(signals, position.Signal{
			Chain:   chain,
			Symbol:  position.PlaceholderSymbol,
			Address: entry.TokenAddress,
		})
	}

	c.discoveries.Add(1)
	log.Debug().Int("candidates", len(signals)).Msg("dexfeed: discovery poll")
	return signals, nil
}

type pairsResponse struct {
	Pairs []struct {
		PriceUSD  string `json:"priceUsd"`
		BaseToken struct {
			Symbol string `json:"symbol"`
		} `json:"baseToken"`
	} `json:"pairs"`
}

// Price returns the current USD price of an asset, taken from its most liquid
// pair.
func (c *Client) Price(ctx context.Context, chain position.ChainKey, address string) (decimal.Decimal, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/%s", c.config.PriceURL, address))
	if err != nil {
		c.errors.Add(1)
		return decimal.Zero, fmt.Errorf("dexfeed: price: %w", err)
	}

	var resp pairsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.errors.Add(1)
		return decimal.Zero, fmt.Errorf("dexfeed: parse price response: %w", err)
	}
	if len(resp.Pairs) == 0 {
		c.errors.Add(1)
		return decimal.Zero, fmt.Errorf("dexfeed: no pairs for %s", address)
	}

	price, err := decimal.NewFromString(resp.Pairs[0].PriceUSD)
	if err != nil || !price.IsPositive() {
		c.errors.Add(1)
		return decimal.Zero, fmt.Errorf("dexfeed: bad price %q for %s", resp.Pairs[0].PriceUSD, address)
	}

	c.priceReads.Add(1)
	return price, nil
}

// get fetches a URL with exponential-backoff retries. Client errors other
// than 429 are permanent; retrying them only burns the rate limit.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
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
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)))
		}
		return body, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.config.MaxTries),
	)
}

// Stats returns feed counters.
type Stats struct {
	Discoveries int64 `json:"discoveries"`
	PriceReads  int64 `json:"price_reads"`
	Errors      int64 `json:"errors"`
}

func (c *Client) Stats() Stats {
	return Stats{
		Discoveries: c.discoveries.Load(),
		PriceReads:  c.priceReads.Load(),
		Errors:      c.errors.Load(),
	}
}
