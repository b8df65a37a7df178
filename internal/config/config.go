// Package config defines all configuration for the grid and copy-trading bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ORDERLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun      bool              `mapstructure:"dry_run"`
	Account     AccountConfig     `mapstructure:"account"`
	API         APIConfig         `mapstructure:"api"`
	Grid        GridConfig        `mapstructure:"grid"`
	CopyTrading CopyTradingConfig `mapstructure:"copy_trading"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Store       StoreConfig       `mapstructure:"store"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Admin       AdminConfig       `mapstructure:"admin"`
}

// AccountConfig holds the Ethereum wallet used to register an exchange API
// key. PrivateKey signs the L1 (EIP-712) key-registration message; the
// resulting ORDERLY_KEY/ORDERLY_SECRET pair signs every subsequent trading
// request.
type AccountConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	AccountID  string `mapstructure:"account_id"`
	ChainID    int    `mapstructure:"chain_id"`
}

// APIConfig holds exchange endpoints and optional pre-derived trading credentials.
// If Key/Secret are empty, the bot derives them via L1 auth on startup.
type APIConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	WSPublic  string `mapstructure:"ws_public_url"`
	WSPrivate string `mapstructure:"ws_private_url"`
	Key       string `mapstructure:"key"`
	Secret    string `mapstructure:"secret"`
	Testnet   bool   `mapstructure:"testnet"`
}

// GridConfig sets the defaults applied to a grid session when a field is not
// supplied by the caller that starts one.
type GridConfig struct {
	DefaultGridCount int           `mapstructure:"default_grid_count"`
	MaxGridCount     int           `mapstructure:"max_grid_count"`
	MaxSessionsTotal int           `mapstructure:"max_sessions_total"`
	EventQueueDepth  int           `mapstructure:"event_queue_depth"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
}

// CopyTradingConfig tunes the leader-monitor and follower-dispatch pipeline.
type CopyTradingConfig struct {
	MaxFollowersPerLeader int           `mapstructure:"max_followers_per_leader"`
	TradeHistoryCap       int           `mapstructure:"trade_history_cap"`
	ProcessedOrderCap     int           `mapstructure:"processed_order_cap"`
	ExecutionTimeout      time.Duration `mapstructure:"execution_timeout"`
}

// RiskConfig sets hard limits applied per account (leader or follower).
//
//   - MaxPositionCount: cap on distinct symbols held at once.
//   - MaxPositionValue: cap on total notional value across all open positions.
//   - MaxDailyLoss: max realized loss in one UTC day before trades are rejected.
//   - MaxConcentration: max fraction of total notional allowed in one symbol.
//   - MaxTradeNotional: per-trade notional cap; an oversized trade is clamped down
//     to it, and rejected only when the clamped size is below 10% of the original.
type RiskConfig struct {
	MaxPositionCount int     `mapstructure:"max_position_count"`
	MaxPositionValue float64 `mapstructure:"max_position_value"`
	MaxDailyLoss     float64 `mapstructure:"max_daily_loss"`
	MaxConcentration float64 `mapstructure:"max_concentration"`
	MaxTradeNotional float64 `mapstructure:"max_trade_notional"`
}

// StoreConfig sets where session and copy-trade data is persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AdminConfig controls the admin/session HTTP server.
type AdminConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	FrontendURL    string   `mapstructure:"frontend_url"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: ORDERLY_KEY, ORDERLY_SECRET, ORDERLY_ACCOUNT_ID,
// ORDERLY_TESTNET, FRONTEND_URL, CORS_ORIGINS.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ORDERLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("ORDERLY_KEY"); key != "" {
		cfg.API.Key = key
	}
	if secret := os.Getenv("ORDERLY_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if acct := os.Getenv("ORDERLY_ACCOUNT_ID"); acct != "" {
		cfg.Account.AccountID = acct
	}
	if os.Getenv("ORDERLY_TESTNET") == "true" || os.Getenv("ORDERLY_TESTNET") == "1" {
		cfg.API.Testnet = true
	}
	if url := os.Getenv("FRONTEND_URL"); url != "" {
		cfg.Admin.FrontendURL = url
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Admin.AllowedOrigins = strings.Split(origins, ",")
	}
	if os.Getenv("ORDERLY_DRY_RUN") == "true" || os.Getenv("ORDERLY_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Account.PrivateKey == "" {
		return fmt.Errorf("account.private_key is required")
	}
	if c.Account.ChainID == 0 {
		return fmt.Errorf("account.chain_id is required")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Grid.DefaultGridCount <= 0 {
		return fmt.Errorf("grid.default_grid_count must be > 0")
	}
	if c.Grid.MaxGridCount < c.Grid.DefaultGridCount {
		return fmt.Errorf("grid.max_grid_count must be >= grid.default_grid_count")
	}
	if c.Grid.EventQueueDepth <= 0 {
		return fmt.Errorf("grid.event_queue_depth must be > 0")
	}
	if c.CopyTrading.TradeHistoryCap <= 0 {
		return fmt.Errorf("copy_trading.trade_history_cap must be > 0")
	}
	if c.Risk.MaxPositionCount <= 0 {
		return fmt.Errorf("risk.max_position_count must be > 0")
	}
	if c.Risk.MaxPositionValue <= 0 {
		return fmt.Errorf("risk.max_position_value must be > 0")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be > 0")
	}
	if c.Risk.MaxConcentration <= 0 || c.Risk.MaxConcentration > 1 {
		return fmt.Errorf("risk.max_concentration must be in (0, 1]")
	}
	return nil
}
