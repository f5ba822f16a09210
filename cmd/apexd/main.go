package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex-trading/apex/internal/adapters/dexfeed"
	"github.com/apex-trading/apex/internal/adapters/rugwatch"
	"github.com/apex-trading/apex/internal/adapters/venue"
	"github.com/apex-trading/apex/internal/chainrpc"
	"github.com/apex-trading/apex/internal/config"
	"github.com/apex-trading/apex/internal/execution"
	"github.com/apex-trading/apex/internal/keyring"
	"github.com/apex-trading/apex/internal/monitor"
	"github.com/apex-trading/apex/internal/notify"
	"github.com/apex-trading/apex/internal/position"
	"github.com/apex-trading/apex/internal/relay"
	"github.com/apex-trading/apex/internal/safety"
	"github.com/apex-trading/apex/internal/settings"
	signalsrc "github.com/apex-trading/apex/internal/signal"
	"github.com/apex-trading/apex/internal/sniper"
	"github.com/apex-trading/apex/internal/state"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

func main() {
	// 1. Parse flags; .env first so ${VAR} expansion in the config works.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to .env file (optional)")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "WARN: failed to load %s: %v\n", *envPath, err)
	}

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("APEX Autonomous Sniper - Starting")
	log.Info().Msg("SCAN -> GATE -> EXECUTE -> MONITOR")
	log.Info().Msg("=============================================")

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("autopilot", cfg.Trading.Autopilot).
		Float64("trade_amount", cfg.Trading.TradeAmount).
		Str("risk", cfg.Trading.Risk).
		Strs("chains", cfg.Sniper.Chains).
		Bool("relay", cfg.Relay.Enabled).
		Msg("Configuration loaded")

	// 4. Load the signing key. Key material stays inside the keyring.
	var signer *keyring.Keyring
	if cfg.Wallet.KeyFile != "" {
		signer, err = keyring.LoadFile(cfg.Wallet.KeyFile)
	} else {
		signer, err = keyring.LoadEnv(cfg.Wallet.KeyEnv)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Signing key unavailable")
	}

	// 5. Runtime settings store, seeded from config.
	store := settings.NewStore(settings.Snapshot{
		Autopilot:           cfg.Trading.Autopilot,
		TradeAmount:         decimal.NewFromFloat(cfg.Trading.TradeAmount),
		Risk:                settings.RiskTier(cfg.Trading.Risk),
		TrailingDistancePct: cfg.Trading.TrailingDistancePct,
		MinProfitPct:        cfg.Trading.MinProfitPct,
		HardStopPct:         cfg.Trading.HardStopPct,
		RelayEnabled:        cfg.Relay.Enabled && cfg.Trading.RelayEnabled,
		BaseAsset:           cfg.Trading.BaseAsset,
	})

	// 6. Shared position state.
	registry := position.NewRegistry()
	recent := position.NewRecentSet()

	// 7. Adapters.
	chains := make([]position.ChainKey, 0, len(cfg.Sniper.Chains))
	venueEndpoints := make(map[position.ChainKey]string)
	rpcEndpoints := make(map[position.ChainKey]string)
	rpcAccounts := make(map[position.ChainKey]string)
	for _, name := range cfg.Sniper.Chains {
		chain := position.ChainKey(name)
		chains = append(chains, chain)
		if cc, ok := cfg.Chains[name]; ok {
			venueEndpoints[chain] = cc.VenueURL
			rpcEndpoints[chain] = cc.RPCURL
			rpcAccounts[chain] = cc.Account
		}
	}

	feedClient := dexfeed.NewClient(dexfeed.Config{
		DiscoveryURL: cfg.Feeds.DiscoveryURL,
		PriceURL:     cfg.Feeds.PriceURL,
		TimeoutMs:    cfg.Feeds.TimeoutMs,
	})

	var prices monitor.PriceFeed = feedClient
	var stream *dexfeed.Stream
	if cfg.Feeds.StreamEnabled && cfg.Feeds.WSURL != "" {
		streamCfg := dexfeed.DefaultStreamConfig()
		streamCfg.WSURL = cfg.Feeds.WSURL
		stream = dexfeed.NewStream(streamCfg, feedClient)
		prices = stream
	}

	reputation := rugwatch.NewClient(rugwatch.Config{
		BaseURL:   cfg.Reputation.BaseURL,
		TimeoutMs: cfg.Reputation.TimeoutMs,
	})

	balances := chainrpc.NewClient(chainrpc.Config{
		Endpoints: rpcEndpoints,
		Accounts:  rpcAccounts,
	})

	venueClient := venue.NewClient(venue.Config{
		Endpoints: venueEndpoints,
		TimeoutMs: cfg.Execution.SubmitTimeoutMs,
	})

	// 8. Relay + execution engine.
	var relayClient execution.Relay
	if cfg.Relay.Enabled {
		relayClient = relay.NewClient(relay.Config{
			EngineURL: cfg.Relay.EngineURL,
			TimeoutMs: cfg.Relay.TimeoutMs,
		})
	}
	engine := execution.NewEngine(execution.Config{
		SlippageBps:   cfg.Execution.SlippageBps,
		SubmitTimeout: time.Duration(cfg.Execution.SubmitTimeoutMs) * time.Millisecond,
	}, venueClient, signer, relayClient)

	// 9. Safety gate + signal source.
	gate := safety.NewGate(safety.Config{
		MaxScore:   cfg.Safety.MaxScore,
		FeeReserve: decimal.NewFromFloat(cfg.Safety.FeeReserve),
	}, reputation, balances)
	source := signalsrc.NewSource(feedClient, recent)

	// 10. Optional Redis journal: seed the recent set, resume open positions.
	var journal sniper.Journal
	var redisStore *state.Store
	if cfg.Redis.Enabled {
		redisStore, err = state.New(context.Background(), state.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Redis unavailable")
		}
		defer redisStore.Close()
		journal = redisStore
	}

	// 11. Notifier.
	var senders []notify.Sender
	if cfg.Notifier.Enabled {
		senders = append(senders, notify.NewTelegramSender(cfg.Notifier.TelegramToken, cfg.Notifier.TelegramChatID))
	}
	notifier := notify.NewNotifier(senders...)

	// 12. Supervisor.
	supervisor := sniper.New(sniper.Config{
		Chains:         chains,
		ScanIntervalMs: cfg.Sniper.ScanIntervalMs,
		ErrorBackoffMs: cfg.Sniper.ErrorBackoffMs,
		FundsBackoffMs: cfg.Sniper.FundsBackoffMs,
		MonitorPollMs:  cfg.Sniper.MonitorPollMs,
	}, store, source, gate, engine, prices, registry, recent, journal)

	supervisor.SetOnOpen(func(view position.View) {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		notifier.PositionOpened(notifyCtx, view)
	})
	supervisor.SetOnClose(func(report monitor.CloseReport) {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		notifier.PositionClosed(notifyCtx, report)
	})
	supervisor.SetOnReject(func(chain position.ChainKey, sig position.Signal, reason string) {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		notifier.CandidateRejected(notifyCtx, chain, sig, reason)
	})

	if redisStore != nil {
		bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if traded, err := redisStore.LoadTraded(bootCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to load traded history")
		} else {
			recent.Seed(traded)
			log.Info().Int("addresses", len(traded)).Msg("Traded history restored")
		}
		if views, err := redisStore.LoadPositions(bootCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to load open positions")
		} else if len(views) > 0 {
			supervisor.Resume(views)
		}
		bootCancel()
	}

	// 13. Context + signals.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received, closing all positions")
		// Stop new entries, then drain before tearing the loops down; the
		// exit sells run on the monitors' goroutines.
		store.SetAutopilot(false)
		if closed := supervisor.CloseAll(); closed > 0 {
			notifyCtx, notifyCancel := context.WithTimeout(context.Background(), 10*time.Second)
			notifier.CloseAllRequested(notifyCtx, closed)
			notifyCancel()
			supervisor.Drain(30 * time.Second)
		}
		cancel()
	}()

	// 14. Start services.
	if stream != nil {
		go stream.Run(ctx)
	}

	supervisorDone := make(chan error, 1)
	go func() { supervisorDone <- supervisor.Run(ctx) }()

	// Daily P&L summary at midnight UTC.
	scheduler := cron.New(cron.WithLocation(time.UTC))
	if _, err := scheduler.AddFunc("0 0 * * *", func() {
		stats := supervisor.Stats()
		execStats := engine.Stats()
		summary := fmt.Sprintf("Scans: %d\nEntries: %d\nBuys: %d / Sells: %d\nFailures: %d\nOpen: %d",
			stats.Scans, stats.Entries, execStats.Buys, execStats.Sells, execStats.Failures, stats.OpenPositions)
		summaryCtx, summaryCancel := context.WithTimeout(context.Background(), 10*time.Second)
		notifier.Notify(summaryCtx, "DAILY SUMMARY", summary)
		summaryCancel()
		log.Info().
			Int64("scans", stats.Scans).
			Int64("entries", stats.Entries).
			Int64("buy_failures", stats.BuyFailures).
			Msg("[DAILY SUMMARY]")
	}); err != nil {
		log.Error().Err(err).Msg("Failed to schedule daily summary")
	}
	scheduler.Start()
	defer scheduler.Stop()

	// 15. HTTP control plane.
	server := newControlServer(cfg, store, supervisor, engine, feedClient, registry, notifier)
	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("Control server started")
		if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			log.Error().Err(srvErr).Msg("Control server error")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Msg("APEX Autonomous Sniper - Running")

	// 16. Block until the supervisor stops.
	if err := <-supervisorDone; err != nil {
		log.Error().Err(err).Msg("Supervisor failed")
	}

	stats := supervisor.Stats()
	log.Info().
		Int64("scans", stats.Scans).
		Int64("entries", stats.Entries).
		Int64("gate_rejects", stats.GateRejects).
		Int("open_positions", stats.OpenPositions).
		Msg("APEX Autonomous Sniper - Final Statistics")
	log.Info().Msg("APEX Autonomous Sniper - Shutdown complete")
}

// newControlServer builds the operator HTTP surface: status reads plus the
// settings mutations (autopilot, amount/risk cycling, relay toggle,
// close-all).
func newControlServer(cfg *config.Config, store *settings.Store, supervisor *sniper.Supervisor,
	engine *execution.Engine, feed *dexfeed.Client, registry *position.Registry,
	notifier *notify.Notifier) *http.Server {
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}
	postOnly := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return false
		}
		return true
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"status":    "ok",
			"autopilot": store.Autopilot(),
			"instance":  cfg.General.InstanceID,
		})
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"settings":  store.Snapshot(),
			"sniper":    supervisor.Stats(),
			"execution": engine.Stats(),
			"feed":      feed.Stats(),
		})
	})

	mux.HandleFunc("/positions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, registry.Open())
	})

	setAutopilot := func(w http.ResponseWriter, r *http.Request, on bool) {
		if !postOnly(w, r) {
			return
		}
		if prev := store.SetAutopilot(on); prev != on {
			notifier.AutopilotChanged(r.Context(), on)
		}
		writeJSON(w, map[string]any{"autopilot": on})
	}
	mux.HandleFunc("/control/autopilot/on", func(w http.ResponseWriter, r *http.Request) {
		setAutopilot(w, r, true)
	})
	mux.HandleFunc("/control/autopilot/off", func(w http.ResponseWriter, r *http.Request) {
		setAutopilot(w, r, false)
	})

	mux.HandleFunc("/control/cycle-amount", func(w http.ResponseWriter, r *http.Request) {
		if !postOnly(w, r) {
			return
		}
		writeJSON(w, map[string]any{"trade_amount": store.CycleAmount()})
	})

	mux.HandleFunc("/control/cycle-risk", func(w http.ResponseWriter, r *http.Request) {
		if !postOnly(w, r) {
			return
		}
		tier := store.CycleRisk()
		tp, sl := settings.Thresholds(tier)
		writeJSON(w, map[string]any{"risk": tier, "take_profit_pct": tp, "stop_loss_pct": sl})
	})

	mux.HandleFunc("/control/toggle-relay", func(w http.ResponseWriter, r *http.Request) {
		if !postOnly(w, r) {
			return
		}
		writeJSON(w, map[string]any{"relay_enabled": store.ToggleRelay()})
	})

	mux.HandleFunc("/control/close-all", func(w http.ResponseWriter, r *http.Request) {
		if !postOnly(w, r) {
			return
		}
		count := supervisor.CloseAll()
		if count > 0 {
			notifier.CloseAllRequested(r.Context(), count)
		}
		writeJSON(w, map[string]any{"closing": count})
	})

	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "apexd").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "apexd").
			Str("instance", general.InstanceID).Logger()
	}
}
