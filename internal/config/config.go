package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for APEX.
type Config struct {
	General    GeneralConfig          `yaml:"general"`
	Trading    TradingConfig          `yaml:"trading"`
	Sniper     SniperConfig           `yaml:"sniper"`
	Safety     SafetyConfig           `yaml:"safety"`
	Execution  ExecutionConfig        `yaml:"execution"`
	Relay      RelayConfig            `yaml:"relay"`
	Feeds      FeedsConfig            `yaml:"feeds"`
	Reputation ReputationConfig       `yaml:"reputation"`
	Chains     map[string]ChainConfig `yaml:"chains"`
	Redis      RedisConfig            `yaml:"redis"`
	Notifier   NotifierConfig         `yaml:"notifier"`
	Server     ServerConfig           `yaml:"server"`
	Wallet     WalletConfig           `yaml:"wallet"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

// TradingConfig seeds the runtime settings store. Everything here is mutable
// through the control plane after boot.
type TradingConfig struct {
	Autopilot           bool    `yaml:"autopilot"`
	TradeAmount         float64 `yaml:"trade_amount"`
	Risk                string  `yaml:"risk"` // LOW|MEDIUM|MAX
	TrailingDistancePct float64 `yaml:"trailing_distance_pct"`
	MinProfitPct        float64 `yaml:"min_profit_pct"`
	HardStopPct         float64 `yaml:"hard_stop_pct"`
	RelayEnabled        bool    `yaml:"relay_enabled"`
	BaseAsset           string  `yaml:"base_asset"`
}

type SniperConfig struct {
	Chains         []string `yaml:"chains"`
	ScanIntervalMs int      `yaml:"scan_interval_ms"`
	ErrorBackoffMs int      `yaml:"error_backoff_ms"`
	FundsBackoffMs int      `yaml:"funds_backoff_ms"`
	MonitorPollMs  int      `yaml:"monitor_poll_ms"`
}

type SafetyConfig struct {
	MaxScore   int     `yaml:"max_score"`
	FeeReserve float64 `yaml:"fee_reserve"`
}

type ExecutionConfig struct {
	SlippageBps     int `yaml:"slippage_bps"`
	SubmitTimeoutMs int `yaml:"submit_timeout_ms"`
}

type RelayConfig struct {
	Enabled   bool   `yaml:"enabled"`
	EngineURL string `yaml:"engine_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type FeedsConfig struct {
	DiscoveryURL  string `yaml:"discovery_url"`
	PriceURL      string `yaml:"price_url"`
	WSURL         string `yaml:"ws_url"`
	StreamEnabled bool   `yaml:"stream_enabled"`
	TimeoutMs     int    `yaml:"timeout_ms"`
}

type ReputationConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type ChainConfig struct {
	RPCURL   string `yaml:"rpc_url"`
	VenueURL string `yaml:"venue_url"`
	Account  string `yaml:"account"` // funding account address
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NotifierConfig struct {
	Enabled        bool   `yaml:"enabled"`
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type WalletConfig struct {
	// Path to the signing key file. The key never leaves the keyring.
	KeyFile string `yaml:"key_file"`

	// Environment variable holding the key, used when KeyFile is empty.
	KeyEnv string `yaml:"key_env"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "apex-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Trading.TradeAmount == 0 {
		cfg.Trading.TradeAmount = 0.1
	}
	if cfg.Trading.Risk == "" {
		cfg.Trading.Risk = "MEDIUM"
	}
	if cfg.Trading.TrailingDistancePct == 0 {
		cfg.Trading.TrailingDistancePct = 3
	}
	if cfg.Trading.MinProfitPct == 0 {
		cfg.Trading.MinProfitPct = 5
	}
	if cfg.Trading.HardStopPct == 0 {
		cfg.Trading.HardStopPct = -35
	}
	if len(cfg.Sniper.Chains) == 0 {
		cfg.Sniper.Chains = []string{"SOL", "ETH", "BASE", "BSC"}
	}
	if cfg.Sniper.ScanIntervalMs == 0 {
		cfg.Sniper.ScanIntervalMs = 2500
	}
	if cfg.Sniper.ErrorBackoffMs == 0 {
		cfg.Sniper.ErrorBackoffMs = 5000
	}
	if cfg.Sniper.FundsBackoffMs == 0 {
		cfg.Sniper.FundsBackoffMs = 30000
	}
	if cfg.Sniper.MonitorPollMs == 0 {
		cfg.Sniper.MonitorPollMs = 15000
	}
	if cfg.Safety.MaxScore == 0 {
		cfg.Safety.MaxScore = 500
	}
	if cfg.Safety.FeeReserve == 0 {
		cfg.Safety.FeeReserve = 0.01
	}
	if cfg.Execution.SlippageBps == 0 {
		cfg.Execution.SlippageBps = 200
	}
	if cfg.Execution.SubmitTimeoutMs == 0 {
		cfg.Execution.SubmitTimeoutMs = 10000
	}
	if cfg.Relay.TimeoutMs == 0 {
		cfg.Relay.TimeoutMs = 5000
	}
	if cfg.Feeds.TimeoutMs == 0 {
		cfg.Feeds.TimeoutMs = 8000
	}
	if cfg.Reputation.TimeoutMs == 0 {
		cfg.Reputation.TimeoutMs = 8000
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Wallet.KeyEnv == "" {
		cfg.Wallet.KeyEnv = "APEX_SIGNING_KEY"
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	switch c.Trading.Risk {
	case "LOW", "MEDIUM", "MAX":
	default:
		return fmt.Errorf("config: unknown risk tier %q", c.Trading.Risk)
	}
	if c.Trading.TradeAmount <= 0 {
		return fmt.Errorf("config: trade_amount must be positive")
	}
	if c.Trading.HardStopPct >= 0 {
		return fmt.Errorf("config: hard_stop_pct must be negative")
	}
	known := map[string]bool{"SOL": true, "ETH": true, "BASE": true, "BSC": true}
	for _, chain := range c.Sniper.Chains {
		if !known[chain] {
			return fmt.Errorf("config: unknown chain %q", chain)
		}
	}
	if c.Notifier.Enabled && (c.Notifier.TelegramToken == "" || c.Notifier.TelegramChatID == "") {
		return fmt.Errorf("config: notifier enabled without telegram credentials")
	}
	return nil
}
