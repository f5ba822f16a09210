package settings

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Runtime trading settings — mutated by the operator control plane, read by
// every sniper loop and monitor through an injected *Store handle
// ---------------------------------------------------------------------------

// RiskTier selects the take-profit / stop-loss pair for new entries.
type RiskTier string

const (
	RiskLow    RiskTier = "LOW"
	RiskMedium RiskTier = "MEDIUM"
	RiskMax    RiskTier = "MAX"
)

// riskOrder defines the operator cycle LOW -> MEDIUM -> MAX -> LOW.
var riskOrder = []RiskTier{RiskLow, RiskMedium, RiskMax}

// Thresholds maps a risk tier to its (take-profit %, stop-loss %) pair.
// Pure and deterministic; unknown tiers fall back to MEDIUM.
func Thresholds(tier RiskTier) (takeProfitPct, stopLossPct float64) {
	switch tier {
	case RiskLow:
		return 12, -5
	case RiskMax:
		return 100, -20
	default:
		return 25, -10
	}
}

// Snapshot is a consistent read of all runtime settings.
type Snapshot struct {
	Autopilot           bool            `json:"autopilot"`
	TradeAmount         decimal.Decimal `json:"trade_amount"`
	Risk                RiskTier        `json:"risk"`
	TrailingDistancePct float64         `json:"trailing_distance_pct"`
	MinProfitPct        float64         `json:"min_profit_pct"`
	HardStopPct         float64         `json:"hard_stop_pct"`
	RelayEnabled        bool            `json:"relay_enabled"`
	BaseAsset           string          `json:"base_asset"`
}

// ExitRules are the thresholds a monitor applies to one position. They are
// captured once at entry: changing the risk tier afterwards does not affect
// positions that are already open.
type ExitRules struct {
	TakeProfitPct       float64 `json:"take_profit_pct"`
	StopLossPct         float64 `json:"stop_loss_pct"`
	HardStopPct         float64 `json:"hard_stop_pct"`
	TrailingDistancePct float64 `json:"trailing_distance_pct"`
	MinProfitPct        float64 `json:"min_profit_pct"`
}

// Store holds the runtime settings behind a mutex.
type Store struct {
	mu      sync.RWMutex
	s       Snapshot
	amounts []decimal.Decimal
}

// DefaultAmounts is the operator amount cycle.
func DefaultAmounts() []decimal.Decimal {
	return []decimal.Decimal{
		decimal.NewFromFloat(0.1),
		decimal.NewFromFloat(0.5),
		decimal.NewFromFloat(1.0),
		decimal.NewFromFloat(5.0),
	}
}

// NewStore creates a settings store from initial values. If the initial trade
// amount is not in the cycle it is used as-is until the first CycleAmount.
func NewStore(initial Snapshot) *Store {
	if initial.Risk == "" {
		initial.Risk = RiskMedium
	}
	if initial.TradeAmount.IsZero() {
		initial.TradeAmount = decimal.NewFromFloat(0.1)
	}
	return &Store{s: initial, amounts: DefaultAmounts()}
}

// Snapshot returns a consistent copy of the current settings.
func (st *Store) Snapshot() Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

// Autopilot reports whether the autopilot flag is set.
func (st *Store) Autopilot() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.Autopilot
}

// SetAutopilot sets the autopilot flag and returns the previous value.
func (st *Store) SetAutopilot(on bool) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	prev := st.s.Autopilot
	st.s.Autopilot = on
	if prev != on {
		log.Info().Bool("autopilot", on).Msg("settings: autopilot toggled")
	}
	return prev
}

// CycleAmount advances the trade amount to the next step in the cycle and
// returns the new value.
func (st *Store) CycleAmount() decimal.Decimal {
	st.mu.Lock()
	defer st.mu.Unlock()
	next := st.amounts[0]
	for i, a := range st.amounts {
		if a.Equal(st.s.TradeAmount) {
			next = st.amounts[(i+1)%len(st.amounts)]
			break
		}
	}
	st.s.TradeAmount = next
	log.Info().Str("amount", next.String()).Msg("settings: trade amount cycled")
	return next
}

// CycleRisk advances the risk tier and returns the new tier.
func (st *Store) CycleRisk() RiskTier {
	st.mu.Lock()
	defer st.mu.Unlock()
	next := riskOrder[0]
	for i, r := range riskOrder {
		if r == st.s.Risk {
			next = riskOrder[(i+1)%len(riskOrder)]
			break
		}
	}
	st.s.Risk = next
	log.Info().Str("risk", string(next)).Msg("settings: risk tier cycled")
	return next
}

// ToggleRelay flips the relay flag and returns the new value.
func (st *Store) ToggleRelay() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.RelayEnabled = !st.s.RelayEnabled
	log.Info().Bool("relay", st.s.RelayEnabled).Msg("settings: relay toggled")
	return st.s.RelayEnabled
}

// ExitRules captures the exit thresholds for a new entry under the current
// tier and trailing settings.
func (st *Store) ExitRules() ExitRules {
	st.mu.RLock()
	defer st.mu.RUnlock()
	tp, sl := Thresholds(st.s.Risk)
	return ExitRules{
		TakeProfitPct:       tp,
		StopLossPct:         sl,
		HardStopPct:         st.s.HardStopPct,
		TrailingDistancePct: st.s.TrailingDistancePct,
		MinProfitPct:        st.s.MinProfitPct,
	}
}
