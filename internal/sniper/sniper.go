package sniper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex-trading/apex/internal/execution"
	"github.com/apex-trading/apex/internal/monitor"
	"github.com/apex-trading/apex/internal/position"
	"github.com/apex-trading/apex/internal/safety"
	"github.com/apex-trading/apex/internal/settings"
	"github.com/apex-trading/apex/internal/signal"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ---------------------------------------------------------------------------
// Sniper Supervisor — one scan/gate/execute loop per chain, each entry handed
// to a dedicated position monitor
// ---------------------------------------------------------------------------

// Config configures the supervisor.
type Config struct {
	// Chains to run a loop for.
	Chains []position.ChainKey `yaml:"chains"`

	// Cadence between scans on the happy path.
	ScanIntervalMs int `yaml:"scan_interval_ms"`

	// Backoff after a failed feed query or a failed buy.
	ErrorBackoffMs int `yaml:"error_backoff_ms"`

	// Backoff after a funds-exhausted rejection. Account-level, so longer
	// than the per-scan cadence.
	FundsBackoffMs int `yaml:"funds_backoff_ms"`

	// Poll cadence handed to spawned monitors.
	MonitorPollMs int `yaml:"monitor_poll_ms"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Chains:         []position.ChainKey{position.ChainSOL, position.ChainETH, position.ChainBASE, position.ChainBSC},
		ScanIntervalMs: 2500,
		ErrorBackoffMs: 5000,
		FundsBackoffMs: 30000,
		MonitorPollMs:  15000,
	}
}

// Trader is the execution boundary the loops and monitors share.
// Implemented by execution.Engine.
type Trader interface {
	Buy(ctx context.Context, p execution.TradeParams) execution.TradeResult
	Sell(ctx context.Context, p execution.TradeParams) execution.TradeResult
	Ready() bool
}

// Journal persists trade history and open positions across restarts. All
// methods tolerate a nil receiver check at the call site; persistence is
// optional.
type Journal interface {
	MarkTraded(ctx context.Context, address string) error
	SavePosition(ctx context.Context, view position.View) error
	RemovePosition(ctx context.Context, address string) error
}

// Supervisor runs one entry loop per configured chain. Each loop owns its
// chain's trade lock: at most one buy is in flight per chain, and positions
// opened by a loop are handed off to monitors immediately.
type Supervisor struct {
	config Config
	store  *settings.Store
	source *signal.Source
	gate   *safety.Gate
	trader Trader
	feed   monitor.PriceFeed

	registry *position.Registry
	recent   *position.RecentSet
	journal  Journal

	mu           sync.Mutex
	locks        map[position.ChainKey]bool
	monitors     map[string]*monitor.Monitor // position ID -> monitor
	resume       []position.View
	fundsAlerted map[position.ChainKey]bool

	closeWg sync.WaitGroup
	running atomic.Bool

	scans       atomic.Int64
	entries     atomic.Int64
	gateRejects atomic.Int64
	buyFailures atomic.Int64

	onOpen   func(view position.View)
	onClose  func(report monitor.CloseReport)
	onReject func(chain position.ChainKey, sig position.Signal, reason string)
}

// New creates a supervisor. journal may be nil to disable persistence.
func New(config Config, store *settings.Store, source *signal.Source, gate *safety.Gate,
	trader Trader, feed monitor.PriceFeed, registry *position.Registry,
	recent *position.RecentSet, journal Journal) *Supervisor {
	if config.ScanIntervalMs == 0 {
		config.ScanIntervalMs = DefaultConfig().ScanIntervalMs
	}
	if config.ErrorBackoffMs == 0 {
		config.ErrorBackoffMs = DefaultConfig().ErrorBackoffMs
	}
	if config.FundsBackoffMs == 0 {
		config.FundsBackoffMs = DefaultConfig().FundsBackoffMs
	}
	if len(config.Chains) == 0 {
		config.Chains = DefaultConfig().Chains
	}
	return &Supervisor{
		config:       config,
		store:        store,
		source:       source,
		gate:         gate,
		trader:       trader,
		feed:         feed,
		registry:     registry,
		recent:       recent,
		journal:      journal,
		locks:        make(map[position.ChainKey]bool),
		monitors:     make(map[string]*monitor.Monitor),
		fundsAlerted: make(map[position.ChainKey]bool),
	}
}

// SetOnOpen sets the callback fired after a position is opened.
func (s *Supervisor) SetOnOpen(fn func(view position.View)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOpen = fn
}

// SetOnClose sets the callback fired after a monitor closes its position.
func (s *Supervisor) SetOnClose(fn func(report monitor.CloseReport)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = fn
}

// SetOnReject sets the callback fired when the gate rejects a candidate.
// Asset-level rejections fire every time; funds-exhausted rejections fire once
// per episode so a drained account does not repeat the alert every backoff.
func (s *Supervisor) SetOnReject(fn func(chain position.ChainKey, sig position.Signal, reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReject = fn
}

// Resume registers persisted positions to be re-monitored when Run starts.
// Must be called before Run.
func (s *Supervisor) Resume(views []position.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resume = append(s.resume, views...)
}

// Run starts one loop per chain and blocks until ctx is cancelled. A missing
// signing account is a configuration error, not a runtime condition, so it
// fails immediately instead of spinning.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.trader.Ready() {
		return fmt.Errorf("sniper: no signing account configured")
	}
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sniper: already running")
	}
	defer s.running.Store(false)

	s.mu.Lock()
	resume := s.resume
	s.resume = nil
	s.mu.Unlock()
	for _, view := range resume {
		s.restorePosition(ctx, view)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, chain := range s.config.Chains {
		chain := chain
		g.Go(func() error {
			s.runChain(ctx, chain)
			return nil
		})
	}

	log.Info().
		Int("chains", len(s.config.Chains)).
		Int("resumed", len(resume)).
		Msg("sniper: supervisor started")

	return g.Wait()
}

// runChain is the scan -> gate -> execute loop for one chain.
func (s *Supervisor) runChain(ctx context.Context, chain position.ChainKey) {
	log.Info().Str("chain", string(chain)).Msg("sniper: chain loop started")

	for {
		delay := s.iterate(ctx, chain)
		select {
		case <-ctx.Done():
			log.Info().Str("chain", string(chain)).Msg("sniper: chain loop stopped")
			return
		case <-time.After(delay):
		}
	}
}

// iterate runs one scan cycle and returns the delay before the next one. A
// panic in one cycle must not take the chain loop down with it.
func (s *Supervisor) iterate(ctx context.Context, chain position.ChainKey) (delay time.Duration) {
	scanInterval := time.Duration(s.config.ScanIntervalMs) * time.Millisecond
	errorBackoff := time.Duration(s.config.ErrorBackoffMs) * time.Millisecond
	delay = scanInterval

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("chain", string(chain)).Interface("panic", r).
				Msg("sniper: scan cycle panicked")
			delay = errorBackoff
		}
	}()

	s.scans.Add(1)

	// Autopilot off: keep the loop alive but enter nothing.
	if !s.store.Autopilot() {
		return scanInterval
	}

	// A buy already in flight on this chain; wait it out.
	if s.lockHeld(chain) {
		return scanInterval
	}

	res := s.source.Next(ctx, chain)
	switch res.Kind {
	case signal.Failed:
		return errorBackoff
	case signal.Empty:
		return scanInterval
	}

	sig := res.Signal
	if s.recent.Contains(sig.Address) {
		return scanInterval
	}

	snap := s.store.Snapshot()
	verdict := s.gate.Evaluate(ctx, chain, sig.Address, snap.TradeAmount)
	if !verdict.Allow {
		s.gateRejects.Add(1)
		if verdict.FundsExhausted {
			// Account-level problem: the asset stays eligible, the loop
			// backs off instead.
			s.mu.Lock()
			alerted := s.fundsAlerted[chain]
			s.fundsAlerted[chain] = true
			cb := s.onReject
			s.mu.Unlock()
			if cb != nil && !alerted {
				cb(chain, sig, verdict.Reason)
			}
			log.Warn().Str("chain", string(chain)).Str("reason", verdict.Reason).
				Msg("sniper: funds exhausted, backing off")
			return time.Duration(s.config.FundsBackoffMs) * time.Millisecond
		}
		// Asset-level rejection is final for this address.
		s.recent.Mark(sig.Address)
		s.journalMarkTraded(ctx, sig.Address)
		s.mu.Lock()
		cb := s.onReject
		s.mu.Unlock()
		if cb != nil {
			cb(chain, sig, verdict.Reason)
		}
		log.Info().
			Str("chain", string(chain)).
			Str("symbol", sig.Symbol).
			Str("address", sig.Address).
			Str("reason", verdict.Reason).
			Msg("sniper: candidate rejected")
		return scanInterval
	}

	s.mu.Lock()
	s.fundsAlerted[chain] = false
	s.mu.Unlock()

	if !s.tryAcquire(chain) {
		return scanInterval
	}
	defer s.release(chain)

	s.enter(ctx, chain, sig, snap)
	return scanInterval
}

// enter executes the buy and hands the position to a monitor. Called with the
// chain lock held.
func (s *Supervisor) enter(ctx context.Context, chain position.ChainKey, sig position.Signal, snap settings.Snapshot) {
	log.Info().
		Str("chain", string(chain)).
		Str("symbol", sig.Symbol).
		Str("address", sig.Address).
		Str("amount", snap.TradeAmount.String()).
		Str("risk", string(snap.Risk)).
		Msg("sniper: EXECUTING BUY")

	res := s.trader.Buy(ctx, execution.TradeParams{
		Chain:       chain,
		Asset:       sig.Address,
		Amount:      snap.TradeAmount,
		BaseAsset:   snap.BaseAsset,
		PreferRelay: snap.RelayEnabled,
	})
	if !res.Success {
		// The address stays eligible: a transient venue failure must not
		// blacklist a tradable asset.
		s.buyFailures.Add(1)
		log.Error().
			Str("chain", string(chain)).
			Str("address", sig.Address).
			Str("error", res.Error).
			Msg("sniper: buy FAILED")
		return
	}

	entryPrice := res.FillPrice
	if !entryPrice.IsPositive() {
		entryPrice = sig.PriceUSD
	}

	posID := uuid.New().String()[:12]
	pos := position.New(posID, sig, entryPrice)
	if !s.registry.Insert(pos) {
		log.Warn().Str("address", sig.Address).
			Msg("sniper: position already open for address, dropping duplicate")
		return
	}

	s.recent.Mark(sig.Address)
	s.journalMarkTraded(ctx, sig.Address)
	s.journalSave(ctx, pos.Snapshot())

	// Exit thresholds are captured now; later tier changes do not touch
	// this position.
	s.spawnMonitor(ctx, pos, s.store.ExitRules())
	s.entries.Add(1)

	s.mu.Lock()
	cb := s.onOpen
	s.mu.Unlock()
	if cb != nil {
		cb(pos.Snapshot())
	}

	log.Info().
		Str("pos_id", posID).
		Str("chain", string(chain)).
		Str("symbol", sig.Symbol).
		Str("entry_price", entryPrice.String()).
		Str("tx", res.TxID).
		Str("route", res.Route).
		Msg("sniper: position OPENED")
}

// restorePosition rebuilds a persisted position and re-monitors it under the
// current tier's thresholds.
func (s *Supervisor) restorePosition(ctx context.Context, view position.View) {
	pos := position.New(view.ID, position.Signal{
		Chain:    view.Chain,
		Symbol:   view.Symbol,
		Address:  view.Address,
		PriceUSD: view.EntryPrice,
	}, view.EntryPrice)
	pos.OpenedAt = view.OpenedAt
	pos.RestorePeak(view.PeakPrice)

	if !s.registry.Insert(pos) {
		return
	}
	s.recent.Mark(view.Address)
	s.spawnMonitor(ctx, pos, s.store.ExitRules())

	log.Info().
		Str("pos_id", view.ID).
		Str("chain", string(view.Chain)).
		Str("symbol", view.Symbol).
		Msg("sniper: position restored from journal")
}

func (s *Supervisor) spawnMonitor(ctx context.Context, pos *position.Position, rules settings.ExitRules) {
	monCfg := monitor.DefaultConfig(rules)
	if s.config.MonitorPollMs > 0 {
		monCfg.PollInterval = time.Duration(s.config.MonitorPollMs) * time.Millisecond
	}

	s.closeWg.Add(1)
	m := monitor.New(monCfg, pos, s.feed, s.trader, s.store, s.registry, func(report monitor.CloseReport) {
		defer s.closeWg.Done()

		s.mu.Lock()
		delete(s.monitors, pos.ID)
		cb := s.onClose
		s.mu.Unlock()

		s.journalRemove(context.Background(), pos.Address)
		if cb != nil {
			cb(report)
		}
	})

	// Re-persist on every new peak so a restart does not re-arm the trailing
	// stop from a stale high-water mark.
	m.SetOnPeak(func(view position.View) {
		s.journalSave(context.Background(), view)
	})

	s.mu.Lock()
	s.monitors[pos.ID] = m
	s.mu.Unlock()

	go m.Run(ctx)
}

// CloseAll requests a force-exit on every active monitor and returns how many
// were signalled. Sells proceed asynchronously on the monitors' goroutines.
func (s *Supervisor) CloseAll() int {
	s.mu.Lock()
	monitors := make([]*monitor.Monitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		monitors = append(monitors, m)
	}
	s.mu.Unlock()

	for _, m := range monitors {
		m.ForceExit(monitor.ReasonForceClose)
	}
	log.Info().Int("count", len(monitors)).Msg("sniper: force-close requested for all positions")
	return len(monitors)
}

// Drain blocks until every spawned monitor has reported its close, or the
// timeout elapses. Callers should stop new entries (autopilot off) before
// draining. Returns false on timeout.
func (s *Supervisor) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.closeWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.Warn().Msg("sniper: drain timed out with positions still exiting")
		return false
	}
}

// ---------------------------------------------------------------------------
// Trade locks — at most one buy in flight per chain
// ---------------------------------------------------------------------------

func (s *Supervisor) tryAcquire(chain position.ChainKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[chain] {
		return false
	}
	s.locks[chain] = true
	return true
}

func (s *Supervisor) release(chain position.ChainKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[chain] = false
}

func (s *Supervisor) lockHeld(chain position.ChainKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks[chain]
}

// ---------------------------------------------------------------------------
// Persistence helpers — journal failures are logged, never fatal
// ---------------------------------------------------------------------------

func (s *Supervisor) journalMarkTraded(ctx context.Context, address string) {
	if s.journal == nil {
		return
	}
	if err := s.journal.MarkTraded(ctx, address); err != nil {
		log.Warn().Err(err).Str("address", address).Msg("sniper: journal mark failed")
	}
}

func (s *Supervisor) journalSave(ctx context.Context, view position.View) {
	if s.journal == nil {
		return
	}
	if err := s.journal.SavePosition(ctx, view); err != nil {
		log.Warn().Err(err).Str("pos_id", view.ID).Msg("sniper: journal save failed")
	}
}

func (s *Supervisor) journalRemove(ctx context.Context, address string) {
	if s.journal == nil {
		return
	}
	if err := s.journal.RemovePosition(ctx, address); err != nil {
		log.Warn().Err(err).Str("address", address).Msg("sniper: journal remove failed")
	}
}

// Stats returns supervisor counters.
type Stats struct {
	Scans          int64 `json:"scans"`
	Entries        int64 `json:"entries"`
	GateRejects    int64 `json:"gate_rejects"`
	BuyFailures    int64 `json:"buy_failures"`
	OpenPositions  int   `json:"open_positions"`
	ActiveMonitors int   `json:"active_monitors"`
	Running        bool  `json:"running"`
}

func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	active := len(s.monitors)
	s.mu.Unlock()

	return Stats{
		Scans:          s.scans.Load(),
		Entries:        s.entries.Load(),
		GateRejects:    s.gateRejects.Load(),
		BuyFailures:    s.buyFailures.Load(),
		OpenPositions:  s.registry.Len(),
		ActiveMonitors: active,
		Running:        s.running.Load(),
	}
}
