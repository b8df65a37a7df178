package api

import (
	"time"

	"polymarket-mm/pkg/types"
)

// Event is the wrapper for everything pushed to admin WebSocket clients.
type Event struct {
	Type      string      `json:"type"` // "snapshot", "session_started", "session_stopped", "order_filled", "copy_trade", "leader_status"
	Timestamp time.Time   `json:"timestamp"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data"`
}

// SessionStartedEvent announces a new grid session's initial state.
type SessionStartedEvent struct {
	SessionID string  `json:"session_id"`
	UserID    string  `json:"user_id"`
	Symbol    string  `json:"symbol"`
	GridCount int     `json:"grid_count"`
}

// SessionStoppedEvent announces a grid session's final summary.
type SessionStoppedEvent struct {
	SessionID      string  `json:"session_id"`
	Reason         string  `json:"reason"`
	GridProfit     float64 `json:"grid_profit"`
	TotalProfit    float64 `json:"total_profit"`
	ArbitrageCount int     `json:"arbitrage_count"`
}

// OrderFilledEvent reports one grid-order fill.
type OrderFilledEvent struct {
	SessionID string  `json:"session_id"`
	OrderID   string  `json:"order_id"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
}

// CopyTradeEvent reports one follower's copy-trade attempt, successful or
// not.
type CopyTradeEvent struct {
	FollowerID string  `json:"follower_id"`
	LeaderID   string  `json:"leader_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Price      float64 `json:"price"`
	Quantity   float64 `json:"quantity"`
	Success    bool    `json:"success"`
	Reason     string  `json:"reason,omitempty"`
	LatencyMs  int64   `json:"latency_ms"`
}

// LeaderStatusEvent reports a leader's approval-state transition.
type LeaderStatusEvent struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// NewOrderFilledEvent builds an OrderFilledEvent from a raw exchange fill.
func NewOrderFilledEvent(sessionID string, f types.Fill) OrderFilledEvent {
	return OrderFilledEvent{
		SessionID: sessionID,
		OrderID:   f.OrderID,
		Side:      string(f.Side),
		Price:     f.Price.InexactFloat64(),
		Quantity:  f.Quantity.InexactFloat64(),
	}
}

// NewCopyTradeEvent builds a CopyTradeEvent from a persisted copy-trade
// record.
func NewCopyTradeEvent(r types.CopyTradeRecord) CopyTradeEvent {
	return CopyTradeEvent{
		FollowerID: r.FollowerID,
		LeaderID:   r.LeaderID,
		Symbol:     r.Symbol,
		Side:       string(r.Side),
		Price:      r.Price.InexactFloat64(),
		Quantity:   r.Quantity.InexactFloat64(),
		Success:    r.Success,
		Reason:     r.Reason,
		LatencyMs:  r.LatencyMs,
	}
}
