package execution

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/apex-trading/apex/internal/position"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Execution Engine — quote, sign, submit. Relay-first with transparent
// direct fallback; never double-submits, never retries within a call.
// ---------------------------------------------------------------------------

// OrderRequest asks a venue for a route and an unsigned transaction.
type OrderRequest struct {
	Chain       position.ChainKey
	InputAsset  string
	OutputAsset string
	Amount      decimal.Decimal
	SellAll     bool
	SlippageBps int
}

// Order is a venue's prepared route: the unsigned transaction payload plus
// the quoted price per output unit (zero when the venue does not report one).
type Order struct {
	UnsignedTx  string
	QuotedPrice decimal.Decimal
}

// Venue is the swap/order aggregator boundary.
type Venue interface {
	PrepareOrder(ctx context.Context, req OrderRequest) (Order, error)
	SubmitDirect(ctx context.Context, chain position.ChainKey, signedTx string) (string, error)
}

// Signer signs transactions inside a local signing boundary. Key material
// never crosses this interface.
type Signer interface {
	Sign(chain position.ChainKey, unsignedTx string) (string, error)
	Ready() bool
}

// Relay is the privileged low-latency submission path. A nil error with
// accepted=false means the relay declined the bundle.
type Relay interface {
	Submit(ctx context.Context, signedTx string) (id string, accepted bool, err error)
}

// Config configures the engine.
type Config struct {
	SlippageBps   int           `yaml:"slippage_bps"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SlippageBps:   200,
		SubmitTimeout: 10 * time.Second,
	}
}

// TradeParams describes a buy or sell intent.
type TradeParams struct {
	Chain       position.ChainKey
	Asset       string
	Amount      decimal.Decimal // entry size; ignored for sells (full position)
	BaseAsset   string
	PreferRelay bool
}

// TradeResult reports the submission outcome. Success means the venue or
// relay acknowledged acceptance.
type TradeResult struct {
	Success   bool            `json:"success"`
	FillPrice decimal.Decimal `json:"fill_price_usd"`
	TxID      string          `json:"tx_id"`
	Route     string          `json:"route"` // relay|direct
	Error     string          `json:"error,omitempty"`
}

// Engine converts trade intents into signed, submitted transactions. It keeps
// no position bookkeeping; that belongs to the caller.
type Engine struct {
	config Config
	venue  Venue
	signer Signer
	relay  Relay

	buys        atomic.Int64
	sells       atomic.Int64
	failures    atomic.Int64
	relayRoutes atomic.Int64
}

// NewEngine creates an execution engine. relay may be nil when no privileged
// path is configured.
func NewEngine(config Config, venue Venue, signer Signer, relay Relay) *Engine {
	if config.SubmitTimeout == 0 {
		config.SubmitTimeout = DefaultConfig().SubmitTimeout
	}
	return &Engine{config: config, venue: venue, signer: signer, relay: relay}
}

// Ready reports whether a signing account is configured.
func (e *Engine) Ready() bool {
	return e.signer != nil && e.signer.Ready()
}

// Buy swaps BaseAsset into the target asset.
func (e *Engine) Buy(ctx context.Context, p TradeParams) TradeResult {
	req := OrderRequest{
		Chain:       p.Chain,
		InputAsset:  p.BaseAsset,
		OutputAsset: p.Asset,
		Amount:      p.Amount,
		SlippageBps: e.config.SlippageBps,
	}
	res := e.execute(ctx, req, p.PreferRelay)
	if res.Success {
		e.buys.Add(1)
	}
	return res
}

// Sell swaps the full position of the asset back into BaseAsset.
func (e *Engine) Sell(ctx context.Context, p TradeParams) TradeResult {
	req := OrderRequest{
		Chain:       p.Chain,
		InputAsset:  p.Asset,
		OutputAsset: p.BaseAsset,
		SellAll:     true,
		SlippageBps: e.config.SlippageBps,
	}
	res := e.execute(ctx, req, p.PreferRelay)
	if res.Success {
		e.sells.Add(1)
	}
	return res
}

func (e *Engine) execute(ctx context.Context, req OrderRequest, preferRelay bool) TradeResult {
	if !e.Ready() {
		e.failures.Add(1)
		return TradeResult{Error: "no signing account configured"}
	}

	order, err := e.venue.PrepareOrder(ctx, req)
	if err != nil {
		e.failures.Add(1)
		log.Warn().Err(err).
			Str("chain", string(req.Chain)).
			Str("output", req.OutputAsset).
			Msg("execution: order preparation failed")
		return TradeResult{Error: fmt.Sprintf("prepare order: %v", err)}
	}

	signedTx, err := e.signer.Sign(req.Chain, order.UnsignedTx)
	if err != nil {
		e.failures.Add(1)
		log.Error().Err(err).Str("chain", string(req.Chain)).Msg("execution: signing failed")
		return TradeResult{Error: fmt.Sprintf("sign: %v", err)}
	}

	submitCtx, cancel := context.WithTimeout(ctx, e.config.SubmitTimeout)
	defer cancel()

	txID, route, err := e.submit(submitCtx, req.Chain, signedTx, preferRelay)
	if err != nil {
		e.failures.Add(1)
		log.Warn().Err(err).
			Str("chain", string(req.Chain)).
			Str("output", req.OutputAsset).
			Msg("execution: submission rejected")
		return TradeResult{Error: fmt.Sprintf("submit: %v", err)}
	}

	if route == "relay" {
		e.relayRoutes.Add(1)
	}

	log.Info().
		Str("chain", string(req.Chain)).
		Str("tx", txID).
		Str("route", route).
		Str("fill_price", order.QuotedPrice.String()).
		Msg("execution: submission accepted")

	return TradeResult{
		Success:   true,
		FillPrice: order.QuotedPrice,
		TxID:      txID,
		Route:     route,
	}
}

// submit tries the relay first when preferred, then falls back to direct
// submission exactly once. The fallback only runs when the relay definitively
// did not accept, so the transaction is never submitted twice.
func (e *Engine) submit(ctx context.Context, chain position.ChainKey, signedTx string, preferRelay bool) (string, string, error) {
	if preferRelay && e.relay != nil {
		id, accepted, err := e.relay.Submit(ctx, signedTx)
		if err == nil && accepted {
			return id, "relay", nil
		}
		if err != nil {
			log.Warn().Err(err).Msg("execution: relay unavailable, falling back to direct")
		} else {
			log.Warn().Msg("execution: relay declined bundle, falling back to direct")
		}
	}

	txID, err := e.venue.SubmitDirect(ctx, chain, signedTx)
	if err != nil {
		return "", "", err
	}
	return txID, "direct", nil
}

// Stats returns engine counters.
type Stats struct {
	Buys        int64 `json:"buys"`
	Sells       int64 `json:"sells"`
	Failures    int64 `json:"failures"`
	RelayRoutes int64 `json:"relay_routes"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		Buys:        e.buys.Load(),
		Sells:       e.sells.Load(),
		Failures:    e.failures.Load(),
		RelayRoutes: e.relayRoutes.Load(),
	}
}
