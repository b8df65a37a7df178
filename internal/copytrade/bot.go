package copytrade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/metrics"
	"polymarket-mm/internal/risk"
	"polymarket-mm/pkg/types"
)

const (
	tradeHistoryCap       = 1000
	tradeHistoryCompactTo = 500
)

// Exchange is the subset of the REST client a follower's CopyTradingBot
// needs to mirror a leader's fill.
type Exchange interface {
	CreateMarketOrder(ctx context.Context, clientID, symbol string, side types.Side, qty decimal.Decimal, reduceOnly bool) (*types.OrderRecord, error)
	CreateLimitOrder(ctx context.Context, clientID, symbol string, side types.Side, price, qty decimal.Decimal, reduceOnly bool) (*types.OrderRecord, error)
}

// CopyTradingBot mirrors one leader's fills into one follower's account,
// scaled by copyRatio and bounded by the follower's RiskController.
type CopyTradingBot struct {
	followerID string
	leaderID   string
	copyRatio  decimal.Decimal

	exch   Exchange
	risk   *risk.Controller
	logger *slog.Logger

	executionMu sync.Mutex // serializes copy-trade execution for this follower

	mu             sync.Mutex
	running        bool
	skippedTrades  int64
	history        []types.CopyTradeRecord
	latencySamples []time.Duration
}

// NewCopyTradingBot creates a follower's executor for one leader.
func NewCopyTradingBot(followerID, leaderID string, copyRatio decimal.Decimal, exch Exchange, riskController *risk.Controller, logger *slog.Logger) *CopyTradingBot {
	if logger == nil {
		logger = slog.Default()
	}
	return &CopyTradingBot{
		followerID: followerID,
		leaderID:   leaderID,
		copyRatio:  copyRatio,
		exch:       exch,
		risk:       riskController,
		logger:     logger.With("component", "copy_trading_bot", "follower_id", followerID, "leader_id", leaderID),
		running:    true,
	}
}

// Risk returns the follower's risk controller, for admin-surface reporting.
func (b *CopyTradingBot) Risk() *risk.Controller {
	return b.risk
}

// FollowerID returns the account this bot executes copy trades for.
func (b *CopyTradingBot) FollowerID() string {
	return b.followerID
}

// LeaderID returns the leader this bot is mirroring.
func (b *CopyTradingBot) LeaderID() string {
	return b.leaderID
}

// CopyRatio returns the configured copy ratio.
func (b *CopyTradingBot) CopyRatio() decimal.Decimal {
	return b.copyRatio
}

// Stop marks the bot as no longer accepting new leader trades.
func (b *CopyTradingBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
}

// IsRunning reports whether the bot still mirrors leader trades.
func (b *CopyTradingBot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// HandleLeaderTrade is registered as the leader's TradeCallback. It runs
// under executionMu so copies for this follower never overlap, and the
// risk-validate/execute/record sequence stays atomic per event.
func (b *CopyTradingBot) HandleLeaderTrade(event types.LeaderTradeEvent) types.CopyTradeRecord {
	b.executionMu.Lock()
	defer b.executionMu.Unlock()

	start := time.Now()

	if !b.IsRunning() {
		return b.recordSkipped(event, "follower not running", start)
	}

	action := types.ActionOpen
	if event.ReduceOnly {
		action = types.ActionClose
	}

	result := b.risk.ValidateTrade(event, b.copyRatio, event.Price, action)
	if !result.IsValid {
		return b.recordSkipped(event, result.Reason, start)
	}

	qty := result.AdjustedQty
	if qty.IsZero() {
		qty = event.Quantity.Mul(b.copyRatio)
	}

	clientID := fmt.Sprintf("copy-%s-%s", b.followerID, event.OrderID)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var order *types.OrderRecord
	var err error
	switch {
	case event.ReduceOnly:
		order, err = b.exch.CreateMarketOrder(ctx, clientID, event.Symbol, event.Side, qty, true)
	default:
		order, err = b.exch.CreateLimitOrder(ctx, clientID, event.Symbol, event.Side, event.Price, qty, false)
	}

	latency := time.Since(start)
	b.recordLatency(latency)

	record := types.CopyTradeRecord{
		FollowerID: b.followerID, LeaderID: b.leaderID, LeaderOrderID: event.OrderID,
		Symbol: event.Symbol, Side: event.Side, Price: event.Price, Quantity: qty,
		LatencyMs: latency.Milliseconds(), Timestamp: time.Now(),
	}
	if err != nil {
		record.Success = false
		record.Reason = err.Error()
		b.appendHistory(record)
		b.logger.Warn("copy trade execution failed", "leader_order_id", event.OrderID, "error", err)
		return record
	}

	record.Success = true
	if order != nil {
		record.Price = order.Price
	}
	b.risk.RecordTradeResult(event.Symbol, qty, record.Price, event.Side, action, decimal.Zero)
	b.appendHistory(record)
	return record
}

func (b *CopyTradingBot) recordSkipped(event types.LeaderTradeEvent, reason string, start time.Time) types.CopyTradeRecord {
	b.mu.Lock()
	b.skippedTrades++
	b.mu.Unlock()

	record := types.CopyTradeRecord{
		FollowerID: b.followerID, LeaderID: b.leaderID, LeaderOrderID: event.OrderID,
		Symbol: event.Symbol, Side: event.Side, Price: event.Price, Quantity: event.Quantity,
		Success: false, Reason: reason, LatencyMs: time.Since(start).Milliseconds(), Timestamp: time.Now(),
	}
	b.appendHistory(record)
	return record
}

func (b *CopyTradingBot) appendHistory(record types.CopyTradeRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, record)
	if len(b.history) > tradeHistoryCap {
		b.history = append([]types.CopyTradeRecord(nil), b.history[len(b.history)-tradeHistoryCompactTo:]...)
	}
}

func (b *CopyTradingBot) recordLatency(d time.Duration) {
	metrics.CopyTradeLatencyMs.Observe(float64(d.Milliseconds()))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.latencySamples = append(b.latencySamples, d)
	if len(b.latencySamples) > tradeHistoryCap {
		b.latencySamples = append([]time.Duration(nil), b.latencySamples[len(b.latencySamples)-tradeHistoryCompactTo:]...)
	}
}

// History returns a snapshot of this follower's copy-trade records, most
// recent last.
func (b *CopyTradingBot) History() []types.CopyTradeRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.CopyTradeRecord, len(b.history))
	copy(out, b.history)
	return out
}

// SkippedTrades returns how many leader trades this follower has declined
// to mirror (risk rejection or not-running).
func (b *CopyTradingBot) SkippedTrades() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.skippedTrades
}

// AverageLatency returns the mean latency across the retained copy-trade
// execution samples, or zero if none have run yet. Once more than
// tradeHistoryCap samples accumulate, only the most recent
// tradeHistoryCompactTo are kept.
func (b *CopyTradingBot) AverageLatency() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.latencySamples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range b.latencySamples {
		total += d
	}
	return total / time.Duration(len(b.latencySamples))
}
