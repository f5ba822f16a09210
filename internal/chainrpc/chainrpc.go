// Package chainrpc queries node JSON-RPC endpoints for account balances in
// the chain's native unit.
package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/apex-trading/apex/internal/position"
	"github.com/shopspring/decimal"
)

// Config configures the RPC client.
type Config struct {
	// Node RPC URL per chain.
	Endpoints map[position.ChainKey]string `yaml:"endpoints"`

	// Funding account address per chain.
	Accounts map[position.ChainKey]string `yaml:"accounts"`

	TimeoutMs int `yaml:"timeout_ms"`
}

// Client implements safety.BalanceProvider over chain node RPCs.
type Client struct {
	config     Config
	httpClient *http.Client

	queries atomic.Int64
	errors  atomic.Int64
}

// NewClient creates an RPC client.
func NewClient(config Config) *Client {
	if config.TimeoutMs == 0 {
		config.TimeoutMs = 5000
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: time.Duration(config.TimeoutMs) * time.Millisecond},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Balance returns the account's native balance on the chain. SOL nodes report
// lamports, EVM nodes report hex wei; both are normalized to whole units.
func (c *Client) Balance(ctx context.Context, chain position.ChainKey) (decimal.Decimal, error) {
	endpoint, ok := c.config.Endpoints[chain]
	if !ok || endpoint == "" {
		c.errors.Add(1)
		return decimal.Zero, fmt.Errorf("chainrpc: no endpoint configured for chain %s", chain)
	}
	account, ok := c.config.Accounts[chain]
	if !ok || account == "" {
		c.errors.Add(1)
		return decimal.Zero, fmt.Errorf("chainrpc: no account configured for chain %s", chain)
	}

	var req rpcRequest
	if chain == position.ChainSOL {
		req = rpcRequest{JSONRPC: "2.0", ID: 1, Method: "getBalance", Params: []any{account}}
	} else {
		req = rpcRequest{JSONRPC: "2.0", ID: 1, Method: "eth_getBalance", Params: []any{account, "latest"}}
	}

	resp, err := c.call(ctx, endpoint, req)
	if err != nil {
		c.errors.Add(1)
		return decimal.Zero, err
	}

	balance, err := c.parseBalance(chain, resp)
	if err != nil {
		c.errors.Add(1)
		return decimal.Zero, err
	}

	c.queries.Add(1)
	return balance, nil
}

func (c *Client) call(ctx context.Context, endpoint string, req rpcRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("chainrpc: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("chainrpc: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chainrpc: HTTP error: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("chainrpc: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chainrpc: HTTP %d: %s", httpResp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("chainrpc: parse response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("chainrpc: RPC error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func (c *Client) parseBalance(chain position.ChainKey, result json.RawMessage) (decimal.Decimal, error) {
	if chain == position.ChainSOL {
		var solResult struct {
			Value int64 `json:"value"` // lamports
		}
		if err := json.Unmarshal(result, &solResult); err != nil {
			return decimal.Zero, fmt.Errorf("chainrpc: parse SOL balance: %w", err)
		}
		return decimal.New(solResult.Value, -9), nil
	}

	var hexWei string
	if err := json.Unmarshal(result, &hexWei); err != nil {
		return decimal.Zero, fmt.Errorf("chainrpc: parse EVM balance: %w", err)
	}
	wei, ok := new(big.Int).SetString(strings.TrimPrefix(hexWei, "0x"), 16)
	if !ok {
		return decimal.Zero, fmt.Errorf("chainrpc: bad hex balance %q", hexWei)
	}
	return decimal.NewFromBigInt(wei, -18), nil
}

// Stats returns RPC counters.
type Stats struct {
	Queries int64 `json:"queries"`
	Errors  int64 `json:"errors"`
}

func (c *Client) Stats() Stats {
	return Stats{Queries: c.queries.Load(), Errors: c.errors.Load()}
}
