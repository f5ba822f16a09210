package position

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Positions — open trade state shared between the sniper loops (insert)
// and the per-position monitors (peak updates, removal)
// ---------------------------------------------------------------------------

// ChainKey identifies a target chain.
type ChainKey string

const (
	ChainSOL  ChainKey = "SOL"
	ChainETH  ChainKey = "ETH"
	ChainBASE ChainKey = "BASE"
	ChainBSC  ChainKey = "BSC"
)

// PlaceholderSymbol is used by discovery feeds for unidentified assets.
const PlaceholderSymbol = "UNK"

// Signal is a candidate tradable-asset observation from the discovery feed.
// Immutable once produced.
type Signal struct {
	Chain    ChainKey        `json:"chain"`
	Symbol   string          `json:"symbol"`
	Address  string          `json:"address"`
	PriceUSD decimal.Decimal `json:"price_usd"`
}

// Position is an open trade. The monitor spawned for it owns all mutation
// until close; the mutex only protects peak/last-price against concurrent
// status reads.
type Position struct {
	ID         string          `json:"id"`
	Chain      ChainKey        `json:"chain"`
	Symbol     string          `json:"symbol"`
	Address    string          `json:"address"`
	EntryPrice decimal.Decimal `json:"entry_price_usd"`
	OpenedAt   time.Time       `json:"opened_at"`

	mu        sync.Mutex
	peakPrice decimal.Decimal
	lastPrice decimal.Decimal
}

// New creates a Position for a filled entry. Peak starts at the entry price.
func New(id string, sig Signal, entryPrice decimal.Decimal) *Position {
	return &Position{
		ID:         id,
		Chain:      sig.Chain,
		Symbol:     sig.Symbol,
		Address:    sig.Address,
		EntryPrice: entryPrice,
		OpenedAt:   time.Now(),
		peakPrice:  entryPrice,
		lastPrice:  entryPrice,
	}
}

// Observe records a price poll and returns the updated peak. The peak is
// monotonically non-decreasing for the lifetime of the position.
func (p *Position) Observe(price decimal.Decimal) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPrice = price
	if price.GreaterThan(p.peakPrice) {
		p.peakPrice = price
	}
	return p.peakPrice
}

// Peak returns the highest observed price.
func (p *Position) Peak() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peakPrice
}

// LastPrice returns the most recently observed price.
func (p *Position) LastPrice() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPrice
}

// RestorePeak seeds the peak from a persisted snapshot. Only valid before the
// monitor starts observing.
func (p *Position) RestorePeak(peak decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peakPrice = peak
	if p.lastPrice.IsZero() {
		p.lastPrice = peak
	}
}

// View is an immutable snapshot of a position for status queries and
// persistence.
type View struct {
	ID         string          `json:"id"`
	Chain      ChainKey        `json:"chain"`
	Symbol     string          `json:"symbol"`
	Address    string          `json:"address"`
	EntryPrice decimal.Decimal `json:"entry_price_usd"`
	PeakPrice  decimal.Decimal `json:"peak_price_usd"`
	LastPrice  decimal.Decimal `json:"last_price_usd"`
	PnLPct     float64         `json:"pnl_pct"`
	OpenedAt   time.Time       `json:"opened_at"`
}

// Snapshot returns a copy-safe view of the position.
func (p *Position) Snapshot() View {
	p.mu.Lock()
	peak, last := p.peakPrice, p.lastPrice
	p.mu.Unlock()

	pnl := 0.0
	if p.EntryPrice.IsPositive() {
		v, _ := last.Sub(p.EntryPrice).Div(p.EntryPrice).
			Mul(decimal.NewFromInt(100)).Float64()
		pnl = v
	}

	return View{
		ID:         p.ID,
		Chain:      p.Chain,
		Symbol:     p.Symbol,
		Address:    p.Address,
		EntryPrice: p.EntryPrice,
		PeakPrice:  peak,
		LastPrice:  last,
		PnLPct:     pnl,
		OpenedAt:   p.OpenedAt,
	}
}
