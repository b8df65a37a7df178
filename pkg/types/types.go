// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — order and fill records,
// grid and copy-trading domain objects, and exchange WebSocket event payloads.
// It has no dependencies on internal packages, so it can be imported by any
// layer. Every monetary or quantity field is a decimal.Decimal rather than a
// float64: grid levels, fill prices, and PnL accumulate over thousands of
// operations and float64 drift is not acceptable here.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType enumerates the supported order execution styles.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus mirrors the exchange's order lifecycle states.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// GridDirection is the set of directions a grid session can trade.
type GridDirection string

const (
	DirectionLong  GridDirection = "LONG"
	DirectionShort GridDirection = "SHORT"
	DirectionBoth  GridDirection = "BOTH"
)

// GridMode selects the spacing of grid price levels.
type GridMode string

const (
	GridArithmetic GridMode = "ARITHMETIC"
	GridGeometric  GridMode = "GEOMETRIC"
)

// SizingMode selects how order quantity is computed per grid level.
type SizingMode string

const (
	SizingFixedQuantity SizingMode = "FIXED_QUANTITY"
	SizingNotionalEqual SizingMode = "NOTIONAL_EQUAL"
)

// SignalType enumerates the internal events a grid session reacts to.
type SignalType string

const (
	SignalInitial     SignalType = "INITIAL"
	SignalCounter     SignalType = "COUNTER"
	SignalMarketOpen  SignalType = "MARKET_OPEN"
	SignalCancelAll   SignalType = "CANCEL_ALL"
	SignalStop        SignalType = "STOP"
)

// TradeMode identifies which exclusive trading mode a user account is in.
type TradeMode string

const (
	TradeModeGrid         TradeMode = "GRID"
	TradeModeCopyLeader   TradeMode = "COPY_LEADER"
	TradeModeCopyFollower TradeMode = "COPY_FOLLOWER"
)

// PositionAction classifies the effect a fill has on a position.
type PositionAction string

const (
	ActionOpen   PositionAction = "OPEN"
	ActionAdd    PositionAction = "ADD"
	ActionReduce PositionAction = "REDUCE"
	ActionClose  PositionAction = "CLOSE"
)

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// MarketInfo describes the trading rules for one perpetual symbol.
type MarketInfo struct {
	Symbol          string          `json:"symbol"`
	BaseCurrency    string          `json:"base_currency"`
	QuoteCurrency   string          `json:"quote_currency"`
	TickSize        decimal.Decimal `json:"tick_size"`
	StepSize        decimal.Decimal `json:"step_size"`
	MinQuantity     decimal.Decimal `json:"min_quantity"`
	MinNotional     decimal.Decimal `json:"min_notional"`
	MaxLeverage     decimal.Decimal `json:"max_leverage"`
	PricePrecision  int32           `json:"price_precision"`
	QtyPrecision    int32           `json:"qty_precision"`
}

// ————————————————————————————————————————————————————————————————————————
// Orders and fills
// ————————————————————————————————————————————————————————————————————————

// OrderRecord is the bot's local view of one order it has placed.
type OrderRecord struct {
	OrderID      string          `json:"order_id"`
	ClientID     string          `json:"client_id"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	Type         OrderType       `json:"type"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	FilledQty    decimal.Decimal `json:"filled_qty"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	Status       OrderStatus     `json:"status"`
	GridLevel    int             `json:"grid_level"`
	ReduceOnly   bool            `json:"reduce_only"`
	Fills        []Fill          `json:"fills,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Remaining returns the quantity still unfilled.
func (o *OrderRecord) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQty)
}

// IsActive reports whether the order can still receive fills.
func (o *OrderRecord) IsActive() bool {
	return o.Status == OrderStatusNew || o.Status == OrderStatusPartiallyFilled
}

// Fill is one execution report against an OrderRecord.
type Fill struct {
	FillID    string          `json:"fill_id"`
	OrderID   string          `json:"order_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Fee       decimal.Decimal `json:"fee"`
	Timestamp time.Time       `json:"timestamp"`
}

// PendingOrderRegistration tracks an order the bot has asked the exchange to
// place but has not yet received an order id for.
type PendingOrderRegistration struct {
	ClientID  string          `json:"client_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	GridLevel int             `json:"grid_level"`
	CreatedAt time.Time       `json:"created_at"`
}

// ————————————————————————————————————————————————————————————————————————
// Positions and grid state
// ————————————————————————————————————————————————————————————————————————

// Position is the bot's running view of net exposure on one symbol.
type Position struct {
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	MarkPrice    decimal.Decimal `json:"mark_price"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// UnrealizedPnL computes mark-to-market PnL given the position's mark price.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	if p.Quantity.IsZero() {
		return decimal.Zero
	}
	diff := p.MarkPrice.Sub(p.AvgPrice)
	if p.Side == Sell {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity)
}

// GridSlot is one price level in a grid session's ladder.
type GridSlot struct {
	Level     int             `json:"level"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	HasOrder  bool            `json:"has_order"`
	OrderID   string          `json:"order_id,omitempty"`
}

// GridConfig is the user-supplied parameters for one grid session.
type GridConfig struct {
	Symbol      string          `json:"symbol"`
	Direction   GridDirection   `json:"direction"`
	Mode        GridMode        `json:"mode"`
	Sizing      SizingMode      `json:"sizing"`
	UpperPrice  decimal.Decimal `json:"upper_price"`
	LowerPrice  decimal.Decimal `json:"lower_price"`
	GridCount   int             `json:"grid_count"`
	// TotalMargin is the capital allocated to the session. Long/Short split
	// it 50/50 between the market-open initial position and the grid
	// itself; Both commits all of it to the grid (no initial position).
	TotalMargin decimal.Decimal `json:"total_margin"`
	// FeeRate is the taker fee applied per fill when computing cost/revenue
	// basis and unrealized P&L. Zero means the bot falls back to its
	// built-in default.
	FeeRate     decimal.Decimal `json:"fee_rate,omitempty"`
	StopUpper   decimal.Decimal `json:"stop_upper,omitempty"`
	StopLower   decimal.Decimal `json:"stop_lower,omitempty"`
}

// Session is the runtime state of one grid-trading session.
type Session struct {
	SessionID       string          `json:"session_id"`
	UserID          string          `json:"user_id"`
	Config          GridConfig      `json:"config"`
	CurrentPointer  int             `json:"current_pointer"`
	PreviousPointer int             `json:"previous_pointer"`
	FirstTriggered  bool            `json:"first_triggered"`
	Running         bool            `json:"running"`
	CreatedAt       time.Time       `json:"created_at"`
	StoppedAt       time.Time       `json:"stopped_at,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Copy trading
// ————————————————————————————————————————————————————————————————————————

// LeaderTradeEvent is a normalized execution report from a leader account,
// ready to fan out to followers.
type LeaderTradeEvent struct {
	LeaderID   string          `json:"leader_id"`
	OrderID    string          `json:"order_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	ReduceOnly bool            `json:"reduce_only"`
	Action     PositionAction  `json:"action"`
	Timestamp  time.Time       `json:"timestamp"`
}

// PositionInfo is a follower's or leader's coarse position summary used by
// risk and sizing decisions.
type PositionInfo struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	Notional    decimal.Decimal `json:"notional"`
}

// FollowerConfig is one follower's subscription to a leader.
type FollowerConfig struct {
	FollowerID     string          `json:"follower_id"`
	LeaderID       string          `json:"leader_id"`
	CopyRatio      decimal.Decimal `json:"copy_ratio"`
	MaxNotional    decimal.Decimal `json:"max_notional"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CopyTradeRecord is one executed (or rejected) copy of a leader's trade.
type CopyTradeRecord struct {
	FollowerID   string          `json:"follower_id"`
	LeaderID     string          `json:"leader_id"`
	LeaderOrderID string         `json:"leader_order_id"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Success      bool            `json:"success"`
	Reason       string          `json:"reason,omitempty"`
	LatencyMs    int64           `json:"latency_ms"`
	Timestamp    time.Time       `json:"timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// Risk
// ————————————————————————————————————————————————————————————————————————

// RiskLimits bounds one account's (leader or follower) risk exposure.
type RiskLimits struct {
	MaxPositionCount  int             `json:"max_position_count"`
	MaxPositionValue  decimal.Decimal `json:"max_position_value"`
	MaxDailyLoss      decimal.Decimal `json:"max_daily_loss"`
	MaxConcentration  decimal.Decimal `json:"max_concentration"` // fraction of total notional in one symbol
	MaxTradeNotional  decimal.Decimal `json:"max_trade_notional"`
}

// DailyStats accumulates one account's risk-relevant activity since the last
// UTC daily reset.
type DailyStats struct {
	Date        string          `json:"date"` // YYYY-MM-DD UTC
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	TradeCount  int             `json:"trade_count"`
	RiskScore   int             `json:"risk_score"`
}

// ————————————————————————————————————————————————————————————————————————
// Profit tracking and session summaries
// ————————————————————————————————————————————————————————————————————————

// GridSummary is the persisted end-of-session report for a grid session.
type GridSummary struct {
	SessionID         string          `json:"session_id"`
	Symbol            string          `json:"symbol"`
	GridProfit        decimal.Decimal `json:"grid_profit"`
	UnrealizedPnL     decimal.Decimal `json:"unrealized_pnl"`
	UnpairedProfit    decimal.Decimal `json:"unpaired_profit"`
	TotalProfit       decimal.Decimal `json:"total_profit"`
	CapitalUtilization decimal.Decimal `json:"capital_utilization"`
	ArbitrageCount    int             `json:"arbitrage_count"`
	FundingFees       decimal.Decimal `json:"funding_fees"`
	WinCount          int             `json:"win_count"`
	LossCount         int             `json:"loss_count"`
	WinRate           decimal.Decimal `json:"win_rate"`
	AvgWin            decimal.Decimal `json:"avg_win"`
	AvgLoss           decimal.Decimal `json:"avg_loss"`
	MaxWin            decimal.Decimal `json:"max_win"`
	MaxLoss           decimal.Decimal `json:"max_loss"`
	StoppedAt         time.Time       `json:"stopped_at"`
}
