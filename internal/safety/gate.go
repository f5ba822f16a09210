package safety

import (
	"context"

	"github.com/apex-trading/apex/internal/position"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Safety Gate — risk-report and balance checks before any capital commitment.
// The gate fails CLOSED: an unverifiable dependency is a rejection.
// ---------------------------------------------------------------------------

// Report is the external reputation verdict for an asset.
type Report struct {
	Score   int  `json:"score"`
	Flagged bool `json:"flagged"`
}

// ReportProvider queries an external reputation service. A returned error
// means the query itself failed and must be distinguishable from a report.
type ReportProvider interface {
	Report(ctx context.Context, address string) (Report, error)
}

// BalanceProvider queries the acting account's available funds on a chain.
type BalanceProvider interface {
	Balance(ctx context.Context, chain position.ChainKey) (decimal.Decimal, error)
}

// Config configures the gate.
type Config struct {
	// Reject assets whose risk score is at or above this value.
	MaxScore int `yaml:"max_score"`

	// Funds kept back to cover network fees, in the venue-native unit.
	FeeReserve decimal.Decimal `yaml:"fee_reserve"`
}

// DefaultConfig returns the thresholds the reputation feed documents.
func DefaultConfig() Config {
	return Config{
		MaxScore:   500,
		FeeReserve: decimal.NewFromFloat(0.01),
	}
}

// Rejection reasons reported to the caller.
const (
	ReasonOK                 = "ok"
	ReasonInsufficientFunds  = "insufficient_funds"
	ReasonBalanceUnavailable = "balance_unavailable"
	ReasonReportUnavailable  = "report_unavailable"
	ReasonRiskScore          = "risk_score"
	ReasonFlagged            = "flagged"
)

// Verdict is the gate outcome for one candidate.
type Verdict struct {
	Allow bool   `json:"allow"`
	Reason string `json:"reason"`

	// FundsExhausted marks rejections caused by the account rather than the
	// asset, so callers can back off instead of blacklisting the address.
	FundsExhausted bool `json:"funds_exhausted"`
}

// Gate evaluates candidates against the reputation service and the account
// balance. Balances are queried fresh on every call.
type Gate struct {
	config   Config
	reports  ReportProvider
	balances BalanceProvider
}

// NewGate creates a gate over the given providers.
func NewGate(config Config, reports ReportProvider, balances BalanceProvider) *Gate {
	return &Gate{config: config, reports: reports, balances: balances}
}

// Evaluate returns whether a buy of amount on chain for address may proceed.
func (g *Gate) Evaluate(ctx context.Context, chain position.ChainKey, address string, amount decimal.Decimal) Verdict {
	// Balance first: cannot verify funds => do not trade.
	balance, err := g.balances.Balance(ctx, chain)
	if err != nil {
		log.Warn().Err(err).Str("chain", string(chain)).
			Msg("safety: balance query failed, rejecting")
		return Verdict{Reason: ReasonBalanceUnavailable, FundsExhausted: true}
	}
	required := amount.Add(g.config.FeeReserve)
	if balance.LessThan(required) {
		log.Info().
			Str("chain", string(chain)).
			Str("balance", balance.String()).
			Str("required", required.String()).
			Msg("safety: insufficient funds")
		return Verdict{Reason: ReasonInsufficientFunds, FundsExhausted: true}
	}

	// Reputation check. A failed query rejects: fail-closed.
	report, err := g.reports.Report(ctx, address)
	if err != nil {
		log.Warn().Err(err).Str("address", address).
			Msg("safety: risk report unavailable, rejecting")
		return Verdict{Reason: ReasonReportUnavailable}
	}
	if report.Flagged {
		log.Info().Str("address", address).Msg("safety: asset flagged")
		return Verdict{Reason: ReasonFlagged}
	}
	if report.Score >= g.config.MaxScore {
		log.Info().
			Str("address", address).
			Int("score", report.Score).
			Int("max", g.config.MaxScore).
			Msg("safety: risk score too high")
		return Verdict{Reason: ReasonRiskScore}
	}

	return Verdict{Allow: true, Reason: ReasonOK}
}
