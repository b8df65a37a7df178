package api

import (
	"time"

	"polymarket-mm/internal/config"
)

// DashboardSnapshot is the complete admin-surface view: every grid session,
// every leader/follower relationship, and the account-level config summary.
type DashboardSnapshot struct {
	Timestamp time.Time         `json:"timestamp"`
	Sessions  []GridSessionView `json:"sessions"`
	Leaders   []LeaderView      `json:"leaders"`
	Followers []FollowerView    `json:"followers"`
	Config    ConfigSummary     `json:"config"`
}

// GridSessionView is one grid-trading session's reportable state.
type GridSessionView struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Symbol          string    `json:"symbol"`
	Direction       string    `json:"direction"`
	Mode            string    `json:"mode"`
	Running         bool      `json:"running"`
	CurrentPointer  int       `json:"current_pointer"`
	PreviousPointer int       `json:"previous_pointer"`
	GridProfit      float64   `json:"grid_profit"`
	UnrealizedPnL   float64   `json:"unrealized_pnl"`
	TotalProfit     float64   `json:"total_profit"`
	ArbitrageCount  int       `json:"arbitrage_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// LeaderView is one copy-trading leader's approval/activity state.
type LeaderView struct {
	UserID        string `json:"user_id"`
	Status        string `json:"status"`
	FollowerCount int    `json:"follower_count"`
}

// FollowerView is one follower's subscription and recent copy-trade activity.
type FollowerView struct {
	FollowerID       string  `json:"follower_id"`
	LeaderID         string  `json:"leader_id"`
	CopyRatio        float64 `json:"copy_ratio"`
	Running          bool    `json:"running"`
	SkippedTrades    int64   `json:"skipped_trades"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
	RiskSnapshot     RiskSnapshot `json:"risk"`
}

// RiskSnapshot is one account's (leader or follower) daily risk accounting.
type RiskSnapshot struct {
	Date        string  `json:"date"`
	RealizedPnL float64 `json:"realized_pnl"`
	TradeCount  int     `json:"trade_count"`
	RiskScore   int     `json:"risk_score"`
	Positions   []PositionView `json:"positions"`
}

// PositionView is one symbol's coarse position, used by risk and sizing.
type PositionView struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
	Notional float64 `json:"notional"`
}

// ConfigSummary reports the account-level operating parameters: grid
// session defaults, copy-trading dispatch tuning, and risk limits.
type ConfigSummary struct {
	DryRun bool `json:"dry_run"`

	DefaultGridCount int `json:"default_grid_count"`
	MaxGridCount     int `json:"max_grid_count"`
	MaxSessionsTotal int `json:"max_sessions_total"`

	MaxFollowersPerLeader int `json:"max_followers_per_leader"`
	TradeHistoryCap       int `json:"trade_history_cap"`

	MaxPositionCount int     `json:"max_position_count"`
	MaxPositionValue float64 `json:"max_position_value"`
	MaxDailyLoss     float64 `json:"max_daily_loss"`
	MaxConcentration float64 `json:"max_concentration"`
	MaxTradeNotional float64 `json:"max_trade_notional"`
}

// NewConfigSummary projects the loaded config into its public, JSON-facing
// form.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		DryRun: cfg.DryRun,

		DefaultGridCount: cfg.Grid.DefaultGridCount,
		MaxGridCount:     cfg.Grid.MaxGridCount,
		MaxSessionsTotal: cfg.Grid.MaxSessionsTotal,

		MaxFollowersPerLeader: cfg.CopyTrading.MaxFollowersPerLeader,
		TradeHistoryCap:       cfg.CopyTrading.TradeHistoryCap,

		MaxPositionCount: cfg.Risk.MaxPositionCount,
		MaxPositionValue: cfg.Risk.MaxPositionValue,
		MaxDailyLoss:     cfg.Risk.MaxDailyLoss,
		MaxConcentration: cfg.Risk.MaxConcentration,
		MaxTradeNotional: cfg.Risk.MaxTradeNotional,
	}
}
