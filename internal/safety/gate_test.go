package safety

import (
	"context"
	"errors"
	"testing"

	"github.com/apex-trading/apex/internal/position"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type stubReports struct {
	report Report
	err    error
}

func (s *stubReports) Report(_ context.Context, _ string) (Report, error) {
	return s.report, s.err
}

type stubBalances struct {
	balance decimal.Decimal
	err     error
}

func (s *stubBalances) Balance(_ context.Context, _ position.ChainKey) (decimal.Decimal, error) {
	return s.balance, s.err
}

func newTestGate(reports *stubReports, balances *stubBalances) *Gate {
	cfg := Config{MaxScore: 500, FeeReserve: decimal.NewFromFloat(0.01)}
	return NewGate(cfg, reports, balances)
}

func TestGate_Allows(t *testing.T) {
	gate := newTestGate(
		&stubReports{report: Report{Score: 100}},
		&stubBalances{balance: decimal.NewFromFloat(10)},
	)

	v := gate.Evaluate(context.Background(), position.ChainSOL, "mint-1", decimal.NewFromFloat(0.5))
	assert.True(t, v.Allow)
	assert.Equal(t, ReasonOK, v.Reason)
}

func TestGate_FailsClosedOnReportError(t *testing.T) {
	// Every simulated failure mode of the report adapter must reject.
	failures := map[string]error{
		"timeout":        context.DeadlineExceeded,
		"server error":   errors.New("reputation: HTTP 503"),
		"malformed body": errors.New("reputation: parse response: unexpected EOF"),
	}

	for name, err := range failures {
		t.Run(name, func(t *testing.T) {
			gate := newTestGate(
				&stubReports{err: err},
				&stubBalances{balance: decimal.NewFromFloat(10)},
			)
			v := gate.Evaluate(context.Background(), position.ChainSOL, "mint-1", decimal.NewFromFloat(0.5))
			assert.False(t, v.Allow, "gate must fail closed")
			assert.Equal(t, ReasonReportUnavailable, v.Reason)
		})
	}
}

func TestGate_RejectsFlagged(t *testing.T) {
	gate := newTestGate(
		&stubReports{report: Report{Score: 10, Flagged: true}},
		&stubBalances{balance: decimal.NewFromFloat(10)},
	)

	v := gate.Evaluate(context.Background(), position.ChainSOL, "mint-1", decimal.NewFromFloat(0.5))
	assert.False(t, v.Allow)
	assert.Equal(t, ReasonFlagged, v.Reason)
}

func TestGate_RejectsHighScore(t *testing.T) {
	gate := newTestGate(
		&stubReports{report: Report{Score: 500}},
		&stubBalances{balance: decimal.NewFromFloat(10)},
	)

	v := gate.Evaluate(context.Background(), position.ChainSOL, "mint-1", decimal.NewFromFloat(0.5))
	assert.False(t, v.Allow)
	assert.Equal(t, ReasonRiskScore, v.Reason)
}

func TestGate_InsufficientFunds(t *testing.T) {
	gate := newTestGate(
		&stubReports{report: Report{Score: 10}},
		&stubBalances{balance: decimal.NewFromFloat(0.5)},
	)

	// 0.5 available, 0.5 + 0.01 reserve required.
	v := gate.Evaluate(context.Background(), position.ChainSOL, "mint-1", decimal.NewFromFloat(0.5))
	assert.False(t, v.Allow)
	assert.Equal(t, ReasonInsufficientFunds, v.Reason)
	assert.True(t, v.FundsExhausted)
}

func TestGate_BalanceQueryFailureRejects(t *testing.T) {
	gate := newTestGate(
		&stubReports{report: Report{Score: 10}},
		&stubBalances{err: errors.New("rpc: connection refused")},
	)

	v := gate.Evaluate(context.Background(), position.ChainSOL, "mint-1", decimal.NewFromFloat(0.5))
	assert.False(t, v.Allow)
	assert.Equal(t, ReasonBalanceUnavailable, v.Reason)
	assert.True(t, v.FundsExhausted)
}
