package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/apex-trading/apex/internal/execution"
	"github.com/apex-trading/apex/internal/position"
	"github.com/apex-trading/apex/internal/settings"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Position Monitor — one goroutine per open position, own cadence,
// Tracking -> Exiting -> Closed
// ---------------------------------------------------------------------------

// State is the monitor lifecycle state.
type State int32

const (
	StateTracking State = iota
	StateExiting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateExiting:
		return "EXITING"
	case StateClosed:
		return "CLOSED"
	default:
		return "TRACKING"
	}
}

// Exit reasons recorded on close.
const (
	ReasonTakeProfit   = "TAKE_PROFIT"
	ReasonStopLoss     = "STOP_LOSS"
	ReasonHardStop     = "HARD_STOP"
	ReasonTrailingStop = "TRAILING_STOP"
	ReasonForceClose   = "FORCE_CLOSE"
)

// PriceFeed polls the current price of an asset.
type PriceFeed interface {
	Price(ctx context.Context, chain position.ChainKey, address string) (decimal.Decimal, error)
}

// Trader executes the exit sell. Implemented by execution.Engine.
type Trader interface {
	Sell(ctx context.Context, p execution.TradeParams) execution.TradeResult
}

// Config configures a monitor.
type Config struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	SellTimeout  time.Duration

	// Exit thresholds, captured at entry.
	Rules settings.ExitRules

	// Readings above this pnl% on placeholder-symbol assets are treated as
	// bad data points and skipped.
	GlitchPnLPct float64
}

// DefaultConfig returns monitoring defaults.
func DefaultConfig(rules settings.ExitRules) Config {
	return Config{
		PollInterval: 15 * time.Second,
		PollTimeout:  8 * time.Second,
		SellTimeout:  30 * time.Second,
		Rules:        rules,
		GlitchPnLPct: 10000,
	}
}

// CloseReport describes a finished position.
type CloseReport struct {
	Position position.View `json:"position"`
	Reason   string        `json:"reason"`
	PnLPct   float64       `json:"pnl_pct"`
	SellOK   bool          `json:"sell_ok"`
}

// Monitor tracks a single open position to a risk-managed exit. It owns all
// mutation of the position until close.
type Monitor struct {
	config   Config
	pos      *position.Position
	feed     PriceFeed
	trader   Trader
	store    *settings.Store
	registry *position.Registry
	onClose  func(CloseReport)
	onPeak   func(position.View)

	state   atomic.Int32
	armed   bool // trailing stop armed once pnl has exceeded MinProfitPct
	forceCh chan string
}

// New creates a monitor for an open position. onClose fires exactly once,
// after the position has been removed from the registry.
func New(config Config, pos *position.Position, feed PriceFeed, trader Trader,
	store *settings.Store, registry *position.Registry, onClose func(CloseReport)) *Monitor {
	if config.PollInterval == 0 {
		config.PollInterval = 15 * time.Second
	}
	if config.PollTimeout == 0 {
		config.PollTimeout = 8 * time.Second
	}
	if config.SellTimeout == 0 {
		config.SellTimeout = 30 * time.Second
	}
	if config.GlitchPnLPct == 0 {
		config.GlitchPnLPct = 10000
	}
	return &Monitor{
		config:   config,
		pos:      pos,
		feed:     feed,
		trader:   trader,
		store:    store,
		registry: registry,
		onClose:  onClose,
		forceCh:  make(chan string, 1),
	}
}

// SetOnPeak sets the callback fired whenever a reading raises the peak.
// Must be set before Run.
func (m *Monitor) SetOnPeak(fn func(position.View)) {
	m.onPeak = fn
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Position returns the monitored position.
func (m *Monitor) Position() *position.Position {
	return m.pos
}

// ForceExit requests an immediate exit with the given reason. Safe to call
// from any goroutine; ignored once the monitor is past Tracking.
func (m *Monitor) ForceExit(reason string) {
	if reason == "" {
		reason = ReasonForceClose
	}
	select {
	case m.forceCh <- reason:
	default:
	}
}

// Run drives the monitor until the position is closed or ctx is cancelled.
// A failed price poll never terminates the monitor; it retries on the next
// tick with unchanged state.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	log.Debug().
		Str("pos_id", m.pos.ID).
		Str("chain", string(m.pos.Chain)).
		Str("address", m.pos.Address).
		Str("entry", m.pos.EntryPrice.String()).
		Msg("monitor: tracking started")

	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-m.forceCh:
			m.exit(reason)
			return
		case <-ticker.C:
			if m.poll(ctx) {
				return
			}
		}
	}
}

// poll fetches one price reading and advances the state machine. Returns true
// when the position was closed.
func (m *Monitor) poll(ctx context.Context) bool {
	pollCtx, cancel := context.WithTimeout(ctx, m.config.PollTimeout)
	price, err := m.feed.Price(pollCtx, m.pos.Chain, m.pos.Address)
	cancel()
	if err != nil {
		log.Debug().Err(err).Str("pos_id", m.pos.ID).Msg("monitor: price poll failed, retrying next cycle")
		return false
	}
	if !m.pos.EntryPrice.IsPositive() || !price.IsPositive() {
		return false
	}

	pnl := pnlPct(m.pos.EntryPrice, price)

	// Glitch guard: an implausible pnl on an unidentified asset is a bad
	// data point, not a fill. Skip the reading entirely.
	if pnl > m.config.GlitchPnLPct && m.pos.Symbol == position.PlaceholderSymbol {
		log.Warn().
			Str("pos_id", m.pos.ID).
			Float64("pnl_pct", pnl).
			Msg("monitor: implausible reading on unidentified asset, skipping")
		return false
	}

	prevPeak := m.pos.Peak()
	peak := m.pos.Observe(price)
	drawdown := drawdownPct(peak, price)

	if m.onPeak != nil && peak.GreaterThan(prevPeak) {
		m.onPeak(m.pos.Snapshot())
	}

	if pnl > m.config.Rules.MinProfitPct {
		m.armed = true
	}

	reason, shouldExit := decideExit(pnl, drawdown, m.armed, m.config.Rules)
	if !shouldExit {
		return false
	}

	m.exit(reason)
	return true
}

// exit performs the Tracking -> Exiting -> Closed transitions. The position
// is always closed and deregistered, even when the sell fails; a failed sell
// is flagged for manual attention.
func (m *Monitor) exit(reason string) {
	if !m.state.CompareAndSwap(int32(StateTracking), int32(StateExiting)) {
		return
	}

	view := m.pos.Snapshot()
	snap := m.store.Snapshot()

	log.Info().
		Str("pos_id", m.pos.ID).
		Str("symbol", m.pos.Symbol).
		Str("reason", reason).
		Float64("pnl_pct", view.PnLPct).
		Msg("monitor: EXITING position")

	sellCtx, cancel := context.WithTimeout(context.Background(), m.config.SellTimeout)
	res := m.trader.Sell(sellCtx, execution.TradeParams{
		Chain:       m.pos.Chain,
		Asset:       m.pos.Address,
		BaseAsset:   snap.BaseAsset,
		PreferRelay: snap.RelayEnabled,
	})
	cancel()

	if !res.Success {
		log.Error().
			Str("pos_id", m.pos.ID).
			Str("error", res.Error).
			Msg("monitor: exit sell FAILED, closing anyway - manual attention required")
	}

	m.state.Store(int32(StateClosed))
	m.registry.Remove(m.pos.Address)

	if m.onClose != nil {
		m.onClose(CloseReport{
			Position: view,
			Reason:   reason,
			PnLPct:   view.PnLPct,
			SellOK:   res.Success,
		})
	}

	log.Info().
		Str("pos_id", m.pos.ID).
		Str("symbol", m.pos.Symbol).
		Str("reason", reason).
		Float64("pnl_pct", view.PnLPct).
		Bool("sell_ok", res.Success).
		Msg("monitor: position CLOSED")
}

// decideExit applies the exit rules to one reading. Capital preservation
// outranks profit-locking: the stop-loss family is evaluated before the
// trailing stop. Exactly one reason is returned.
func decideExit(pnl, drawdown float64, armed bool, rules settings.ExitRules) (string, bool) {
	if rules.HardStopPct < 0 && pnl <= rules.HardStopPct {
		return ReasonHardStop, true
	}
	if pnl <= rules.StopLossPct {
		return ReasonStopLoss, true
	}
	if pnl >= rules.TakeProfitPct {
		return ReasonTakeProfit, true
	}
	if armed && drawdown >= rules.TrailingDistancePct {
		return ReasonTrailingStop, true
	}
	return "", false
}

func pnlPct(entry, current decimal.Decimal) float64 {
	v, _ := current.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100)).Float64()
	return v
}

func drawdownPct(peak, current decimal.Decimal) float64 {
	if !peak.IsPositive() {
		return 0
	}
	v, _ := peak.Sub(current).Div(peak).Mul(decimal.NewFromInt(100)).Float64()
	return v
}
