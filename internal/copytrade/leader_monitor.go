// Package copytrade implements the leader/follower copy-trading fan-out:
// one LeaderMonitor per leader broadcasts normalized trade events to every
// follower's CopyTradingBot, and CopyTradingSessionManager owns the
// process-wide registry tying leaders, followers, and the trading-mode
// mutex together.
package copytrade

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

const (
	processedOrderCap       = 10000
	processedOrderCompactTo = processedOrderCap / 2
)

// TradeCallback is invoked once per broadcast trade event. Implementations
// must not block for long — broadcast is fire-and-forget per callback, but a
// slow callback still delays only itself, never its siblings.
type TradeCallback func(types.LeaderTradeEvent)

// executionReport is the wire shape of one execution-report message from the
// exchange's private WebSocket channel.
type executionReport struct {
	Status        string `json:"status"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	ExecutedPrice string `json:"executedPrice"`
	AvgPrice      string `json:"avgPrice"`
	ExecutedQty   string `json:"executedQty"`
	OrderID       string `json:"orderId"`
	Timestamp     int64  `json:"timestamp"`
	ReduceOnly    bool   `json:"reduceOnly"`
}

// LeaderMonitor owns one leader's private WebSocket connection and fans out
// every accepted fill to every registered follower callback.
type LeaderMonitor struct {
	leaderID string
	logger   *slog.Logger

	mu        sync.Mutex
	callbacks map[string]TradeCallback // followerID -> callback

	processedMu sync.Mutex // accessed only from this monitor's own dispatch path, per §5
	processed   map[string]struct{}
}

// NewLeaderMonitor creates a monitor for one leader account.
func NewLeaderMonitor(leaderID string, logger *slog.Logger) *LeaderMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderMonitor{
		leaderID:  leaderID,
		logger:    logger.With("component", "leader_monitor", "leader_id", leaderID),
		callbacks: make(map[string]TradeCallback),
		processed: make(map[string]struct{}),
	}
}

// RegisterTradeCallback subscribes a follower to this leader's trade events.
func (m *LeaderMonitor) RegisterTradeCallback(followerID string, cb TradeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[followerID] = cb
}

// UnregisterTradeCallback removes a follower's subscription.
func (m *LeaderMonitor) UnregisterTradeCallback(followerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.callbacks, followerID)
}

// FollowerCount reports how many followers are currently subscribed.
func (m *LeaderMonitor) FollowerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.callbacks)
}

// OnMessage is the WebSocket dispatch entry point: it parses one raw
// execution-report payload and, if accepted, broadcasts it.
func (m *LeaderMonitor) OnMessage(raw []byte) {
	event, ok := m.parseExecutionReport(raw)
	if !ok {
		return
	}
	if m.isDuplicate(event.OrderID) {
		return
	}
	m.broadcastTradeEvent(event)
}

// parseExecutionReport accepts only FILLED/PARTIAL_FILL reports with a
// positive executed quantity and every required field present.
func (m *LeaderMonitor) parseExecutionReport(raw []byte) (types.LeaderTradeEvent, bool) {
	var report executionReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return types.LeaderTradeEvent{}, false
	}

	status := strings.ToUpper(report.Status)
	if status != "FILLED" && status != "PARTIAL_FILL" {
		return types.LeaderTradeEvent{}, false
	}
	if report.Symbol == "" || report.Side == "" || report.OrderID == "" {
		return types.LeaderTradeEvent{}, false
	}

	priceStr := report.ExecutedPrice
	if priceStr == "" {
		priceStr = report.AvgPrice
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return types.LeaderTradeEvent{}, false
	}
	qty, err := decimal.NewFromString(report.ExecutedQty)
	if err != nil || !qty.IsPositive() {
		return types.LeaderTradeEvent{}, false
	}

	side := types.Buy
	if strings.EqualFold(report.Side, string(types.Sell)) {
		side = types.Sell
	}

	action := types.ActionOpen
	if report.ReduceOnly {
		action = types.ActionClose
	}

	ts := time.Now()
	if report.Timestamp > 0 {
		ts = time.UnixMilli(report.Timestamp)
	}

	return types.LeaderTradeEvent{
		LeaderID:   m.leaderID,
		OrderID:    report.OrderID,
		Symbol:     report.Symbol,
		Side:       side,
		Price:      price,
		Quantity:   qty,
		ReduceOnly: report.ReduceOnly,
		Action:     action,
		Timestamp:  ts,
	}, true
}

func (m *LeaderMonitor) isDuplicate(orderID string) bool {
	m.processedMu.Lock()
	defer m.processedMu.Unlock()

	if _, seen := m.processed[orderID]; seen {
		return true
	}
	m.processed[orderID] = struct{}{}

	if len(m.processed) > processedOrderCap {
		m.compactProcessedLocked()
	}
	return false
}

// compactProcessedLocked drops arbitrary entries down to half capacity. Map
// iteration order is unspecified, which is fine here: order_id reuse on a
// real exchange is effectively impossible, so which half survives does not
// matter, only that the set stays bounded.
func (m *LeaderMonitor) compactProcessedLocked() {
	kept := make(map[string]struct{}, processedOrderCompactTo)
	i := 0
	for id := range m.processed {
		if i >= processedOrderCompactTo {
			break
		}
		kept[id] = struct{}{}
		i++
	}
	m.processed = kept
}

// broadcastTradeEvent invokes every registered callback concurrently; a
// panicking or slow callback only affects that one follower.
func (m *LeaderMonitor) broadcastTradeEvent(e types.LeaderTradeEvent) {
	m.mu.Lock()
	cbs := make(map[string]TradeCallback, len(m.callbacks))
	for id, cb := range m.callbacks {
		cbs[id] = cb
	}
	m.mu.Unlock()

	for followerID, cb := range cbs {
		go m.invokeSafely(followerID, cb, e)
	}
}

func (m *LeaderMonitor) invokeSafely(followerID string, cb TradeCallback, e types.LeaderTradeEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("trade callback panicked", "follower_id", followerID, "recovered", r)
		}
	}()
	cb(e)
}
