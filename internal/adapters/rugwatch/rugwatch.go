// Package rugwatch queries the external token reputation service used by the
// safety gate.
package rugwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/apex-trading/apex/internal/safety"
	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://api.rugcheck.xyz"

// Config configures the client.
type Config struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:   defaultBaseURL,
		TimeoutMs: 8000,
	}
}

// Client implements safety.ReportProvider.
type Client struct {
	config     Config
	httpClient *http.Client

	reports atomic.Int64
	errors  atomic.Int64
}

// NewClient creates a reputation client.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.TimeoutMs == 0 {
		config.TimeoutMs = DefaultConfig().TimeoutMs
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: time.Duration(config.TimeoutMs) * time.Millisecond},
	}
}

type reportResponse struct {
	Score  int  `json:"score"`
	Rugged bool `json:"rugged"`
}

// Report fetches the reputation verdict for an asset. Every failure path
// returns an error so the gate can fail closed.
func (c *Client) Report(ctx context.Context, address string) (safety.Report, error) {
	url := fmt.Sprintf("%s/v1/tokens/%s/report", c.config.BaseURL, address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.errors.Add(1)
		return safety.Report{}, fmt.Errorf("rugwatch: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.errors.Add(1)
		return safety.Report{}, fmt.Errorf("rugwatch: HTTP error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.errors.Add(1)
		return safety.Report{}, fmt.Errorf("rugwatch: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.errors.Add(1)
		return safety.Report{}, fmt.Errorf("rugwatch: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var report reportResponse
	if err := json.Unmarshal(body, &report); err != nil {
		c.errors.Add(1)
		return safety.Report{}, fmt.Errorf("rugwatch: parse response: %w", err)
	}

	c.reports.Add(1)
	log.Debug().Str("address", address).Int("score", report.Score).
		Bool("rugged", report.Rugged).Msg("rugwatch: report fetched")

	return safety.Report{Score: report.Score, Flagged: report.Rugged}, nil
}

// Stats returns client counters.
type Stats struct {
	Reports int64 `json:"reports"`
	Errors  int64 `json:"errors"`
}

func (c *Client) Stats() Stats {
	return Stats{Reports: c.reports.Load(), Errors: c.errors.Load()}
}
