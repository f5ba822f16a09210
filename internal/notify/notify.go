// Package notify fans operator alerts out to the configured channels. A
// failing channel never blocks delivery to the others.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/apex-trading/apex/internal/monitor"
	"github.com/apex-trading/apex/internal/position"
	"github.com/rs/zerolog/log"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to all registered senders.
type Notifier struct {
	senders []Sender
}

// NewNotifier creates a notifier over the given senders. With no senders it
// is a no-op, which keeps call sites unconditional.
func NewNotifier(senders ...Sender) *Notifier {
	return &Notifier{senders: senders}
}

// Notify delivers to every sender and returns a combined error when any of
// them failed.
func (n *Notifier) Notify(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			log.Error().Err(err).Str("sender", s.Name()).Msg("notify: sender failed")
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		log.Debug().Str("sender", s.Name()).Str("title", title).Msg("notify: delivered")
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// PositionOpened formats and delivers an entry alert.
func (n *Notifier) PositionOpened(ctx context.Context, view position.View) {
	msg := fmt.Sprintf("%s %s @ %s\nAddress: %s",
		view.Chain, view.Symbol, view.EntryPrice.String(), view.Address)
	_ = n.Notify(ctx, "SNIPED", msg)
}

// CandidateRejected formats and delivers a safety-gate rejection alert.
func (n *Notifier) CandidateRejected(ctx context.Context, chain position.ChainKey, sig position.Signal, reason string) {
	msg := fmt.Sprintf("%s %s: %s\nAddress: %s", chain, sig.Symbol, reason, sig.Address)
	_ = n.Notify(ctx, "REJECTED", msg)
}

// AutopilotChanged delivers an autopilot toggle alert.
func (n *Notifier) AutopilotChanged(ctx context.Context, on bool) {
	state := "OFF"
	if on {
		state = "ON"
	}
	_ = n.Notify(ctx, "AUTOPILOT "+state, fmt.Sprintf("Autopilot switched %s", state))
}

// CloseAllRequested delivers a force-close sweep alert.
func (n *Notifier) CloseAllRequested(ctx context.Context, count int) {
	_ = n.Notify(ctx, "CLOSE ALL", fmt.Sprintf("Force-closing %d open position(s)", count))
}

// PositionClosed formats and delivers an exit alert. Failed sells are called
// out so the operator can intervene.
func (n *Notifier) PositionClosed(ctx context.Context, report monitor.CloseReport) {
	title := "CLOSED"
	if !report.SellOK {
		title = "CLOSE FAILED - CHECK WALLET"
	}
	msg := fmt.Sprintf("%s %s: %s at %+.2f%%",
		report.Position.Chain, report.Position.Symbol, report.Reason, report.PnLPct)
	_ = n.Notify(ctx, title, msg)
}
