// Package engine is the top-level orchestrator.
//
// It wires together all subsystems:
//
//  1. One exchange.Client/Auth pair for this account's REST trading calls.
//  2. One WebSocketSupervisor for this account's private fill/order feed.
//  3. A registry of GridTradingBot sessions, started and stopped on demand
//     through the admin HTTP surface.
//  4. A CopyTradingSessionManager, for when this account acts as a copy-trading
//     leader (broadcasting its own fills to followers) or hosts follower bots
//     that mirror an approved leader.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"polymarket-mm/internal/api"
	"polymarket-mm/internal/config"
	"polymarket-mm/internal/copytrade"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/grid"
	"polymarket-mm/internal/market"
	"polymarket-mm/internal/metrics"
	"polymarket-mm/internal/store"
	"polymarket-mm/pkg/types"
)

// gridSession bundles a running bot with the bookkeeping the engine needs to
// stop it and report its owner.
type gridSession struct {
	bot    *grid.GridTradingBot
	userID string
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine orchestrates every grid session and copy-trading relationship for
// one exchange account.
type Engine struct {
	cfg        config.Config
	client     *exchange.Client
	auth       *exchange.Auth
	supervisor *exchange.WebSocketSupervisor
	validator  *market.MarketValidator
	store      *store.Store
	copyMgr    *copytrade.CopyTradingSessionManager
	logger     *slog.Logger

	marksMu sync.Mutex
	marks   map[string]*market.MarkPriceCache

	sessionsMu sync.RWMutex
	sessions   map[string]*gridSession

	selfLeaderMu sync.Mutex
	selfLeader   *copytrade.LeaderMonitor // non-nil once this account activates as a leader

	events chan api.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components. If L2 API credentials aren't
// configured, it derives them via L1 (EIP-712) auth.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		return nil, err
	}

	client := exchange.NewClient(cfg, auth, logger)

	if !auth.HasCredentials() {
		logger.Info("no trading credentials, deriving API key via L1...")
		creds, err := client.DeriveAPIKey(context.Background())
		if err != nil {
			return nil, err
		}
		auth.SetCredentials(*creds)
	}

	supervisor := exchange.NewWebSocketSupervisor(cfg.API.WSPrivate, auth, logger)
	validator := market.NewMarketValidator(nil)

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:        cfg,
		client:     client,
		auth:       auth,
		supervisor: supervisor,
		validator:  validator,
		store:      st,
		copyMgr:    copytrade.NewCopyTradingSessionManager(logger),
		logger:     logger.With("component", "engine"),
		marks:      make(map[string]*market.MarkPriceCache),
		sessions:   make(map[string]*gridSession),
		events:     make(chan api.Event, 256),
		ctx:        ctx,
		cancel:     cancel,
	}

	supervisor.OnFill(e.onFill)
	supervisor.OnOrder(e.onOrder)
	e.copyMgr.OnCopyTrade(e.onCopyTrade)

	return e, nil
}

// onCopyTrade broadcasts a follower's copy-trade attempt to admin clients.
func (e *Engine) onCopyTrade(record types.CopyTradeRecord) {
	e.emit(api.Event{Type: "copy_trade", Data: api.NewCopyTradeEvent(record)})
}

// Start launches the private feed and every subsystem goroutine that does
// not depend on a specific session existing yet.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.supervisor.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("private feed error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down every running grid session and follower bot,
// then cancels the private feed and closes the store.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.sessionsMu.RLock()
	sessionIDs := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		sessionIDs = append(sessionIDs, id)
	}
	e.sessionsMu.RUnlock()

	for _, id := range sessionIDs {
		if err := e.StopGridSession(id); err != nil {
			e.logger.Error("failed to stop session on shutdown", "session_id", id, "error", err)
		}
	}

	e.cancel()
	e.wg.Wait()
	close(e.events)
	e.store.Close()

	e.logger.Info("shutdown complete")
}

// Events returns the channel of events pushed to admin WebSocket clients.
func (e *Engine) Events() <-chan api.Event {
	return e.events
}

func (e *Engine) emit(evt api.Event) {
	evt.Timestamp = time.Now()
	select {
	case e.events <- evt:
	default:
		e.logger.Warn("admin event channel full, dropping event", "type", evt.Type)
	}
}

func (e *Engine) markCacheFor(symbol string) *market.MarkPriceCache {
	e.marksMu.Lock()
	defer e.marksMu.Unlock()
	mc, ok := e.marks[symbol]
	if !ok {
		mc = market.NewMarkPriceCache(symbol)
		e.marks[symbol] = mc
	}
	return mc
}

// defaultMarketInfo is the fallback trading-rule table for a symbol the
// caller hasn't registered yet. Real tick/step/min-notional tables are a
// user/config-database concern, out of scope here.
func defaultMarketInfo(symbol string) types.MarketInfo {
	return types.MarketInfo{
		Symbol:         symbol,
		TickSize:       decimal.NewFromFloat(0.01),
		StepSize:       decimal.NewFromFloat(0.001),
		MinQuantity:    decimal.NewFromFloat(0.001),
		MinNotional:    decimal.NewFromFloat(10),
		PricePrecision: 2,
		QtyPrecision:   3,
	}
}

// StartGridSession validates cfg, seeds the session's mark price, and starts
// a new GridTradingBot.
func (e *Engine) StartGridSession(ctx context.Context, userID string, cfg types.GridConfig) (*types.Session, error) {
	if _, ok := e.validator.Get(cfg.Symbol); !ok {
		e.validator.Upsert(defaultMarketInfo(cfg.Symbol))
	}
	if err := e.validator.ValidateGridConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid grid config: %w", err)
	}

	marks := e.markCacheFor(cfg.Symbol)
	snap, err := e.client.GetOrderbook(ctx, cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch initial orderbook: %w", err)
	}
	if !marks.Refresh(snap) {
		return nil, fmt.Errorf("empty orderbook for %s", cfg.Symbol)
	}
	price, _ := marks.Price()

	sessionID := uuid.NewString()
	bot, err := grid.NewGridTradingBot(sessionID, cfg, e.client, e.validator, marks, e.store, e.logger)
	if err != nil {
		return nil, err
	}

	sessCtx, cancel := context.WithCancel(e.ctx)
	done := make(chan struct{})
	if err := bot.StartGridTrading(sessCtx, price, done); err != nil {
		cancel()
		return nil, err
	}

	e.sessionsMu.Lock()
	e.sessions[sessionID] = &gridSession{bot: bot, userID: userID, cancel: cancel, done: done}
	e.sessionsMu.Unlock()

	e.emit(api.Event{
		Type:      "session_started",
		SessionID: sessionID,
		Data: api.SessionStartedEvent{
			SessionID: sessionID,
			UserID:    userID,
			Symbol:    cfg.Symbol,
			GridCount: cfg.GridCount,
		},
	})

	session := bot.Status()
	session.UserID = userID
	return &session, nil
}

// StopGridSession stops a running grid session and persists its summary.
func (e *Engine) StopGridSession(sessionID string) error {
	e.sessionsMu.Lock()
	sess, ok := e.sessions[sessionID]
	if ok {
		delete(e.sessions, sessionID)
	}
	e.sessionsMu.Unlock()
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}

	mc := e.markCacheFor(sess.bot.Status().Config.Symbol)
	markPrice, _ := mc.Price()
	summary := sess.bot.ProfitSummary(markPrice)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()

	err := sess.bot.StopGridTrading(stopCtx, "admin_stop")
	close(sess.done)
	sess.cancel()

	e.emit(api.Event{
		Type:      "session_stopped",
		SessionID: sessionID,
		Data: api.SessionStoppedEvent{
			SessionID:      sessionID,
			Reason:         "admin_stop",
			GridProfit:     summary.GridProfit.InexactFloat64(),
			TotalProfit:    summary.TotalProfit.InexactFloat64(),
			ArbitrageCount: summary.ArbitrageCount,
		},
	})
	return err
}

// GetGridSession reports one session's current state.
func (e *Engine) GetGridSession(sessionID string) (api.GridSessionView, bool) {
	e.sessionsMu.RLock()
	sess, ok := e.sessions[sessionID]
	e.sessionsMu.RUnlock()
	if !ok {
		return api.GridSessionView{}, false
	}
	return e.toView(sess), true
}

// ListGridSessions reports every tracked session's current state.
func (e *Engine) ListGridSessions() []api.GridSessionView {
	e.sessionsMu.RLock()
	defer e.sessionsMu.RUnlock()

	out := make([]api.GridSessionView, 0, len(e.sessions))
	for _, sess := range e.sessions {
		out = append(out, e.toView(sess))
	}
	return out
}

func (e *Engine) toView(sess *gridSession) api.GridSessionView {
	status := sess.bot.Status()
	mc := e.markCacheFor(status.Config.Symbol)
	markPrice, _ := mc.Price()
	summary := sess.bot.ProfitSummary(markPrice)

	return api.GridSessionView{
		SessionID:       status.SessionID,
		UserID:          sess.userID,
		Symbol:          status.Config.Symbol,
		Direction:       string(status.Config.Direction),
		Mode:            string(status.Config.Mode),
		Running:         status.Running,
		CurrentPointer:  status.CurrentPointer,
		PreviousPointer: status.PreviousPointer,
		GridProfit:      summary.GridProfit.InexactFloat64(),
		UnrealizedPnL:   summary.UnrealizedPnL.InexactFloat64(),
		TotalProfit:     summary.TotalProfit.InexactFloat64(),
		ArbitrageCount:  summary.ArbitrageCount,
		CreatedAt:       status.CreatedAt,
	}
}

// RegisterLeader marks userID as a pending copy-trading leader.
func (e *Engine) RegisterLeader(userID string) {
	e.copyMgr.RegisterLeader(userID)
}

// ApproveLeader approves a pending leader and activates its monitor.
func (e *Engine) ApproveLeader(userID string) error {
	if err := e.copyMgr.ApproveLeader(userID); err != nil {
		return err
	}
	monitor, err := e.copyMgr.ActivateLeader(userID)
	if err != nil {
		return err
	}

	e.selfLeaderMu.Lock()
	if userID == e.cfg.Account.AccountID {
		e.selfLeader = monitor
	}
	e.selfLeaderMu.Unlock()

	e.emit(api.Event{Type: "leader_status", Data: api.LeaderStatusEvent{UserID: userID, Status: string(copytrade.LeaderActive)}})
	return nil
}

// RejectLeader rejects a pending leader.
func (e *Engine) RejectLeader(userID string) error {
	if err := e.copyMgr.RejectLeader(userID); err != nil {
		return err
	}
	e.emit(api.Event{Type: "leader_status", Data: api.LeaderStatusEvent{UserID: userID, Status: string(copytrade.LeaderRejected)}})
	return nil
}

// StartFollowing starts a follower bot mirroring leaderID, with a
// risk.Controller built from this account's configured risk limits.
func (e *Engine) StartFollowing(ctx context.Context, followerID, leaderID string, copyRatio decimal.Decimal) error {
	limits := types.RiskLimits{
		MaxPositionCount: e.cfg.Risk.MaxPositionCount,
		MaxPositionValue: decimal.NewFromFloat(e.cfg.Risk.MaxPositionValue),
		MaxDailyLoss:     decimal.NewFromFloat(e.cfg.Risk.MaxDailyLoss),
		MaxConcentration: decimal.NewFromFloat(e.cfg.Risk.MaxConcentration),
		MaxTradeNotional: decimal.NewFromFloat(e.cfg.Risk.MaxTradeNotional),
	}

	cfg, err := e.copyMgr.StartFollowing(ctx, followerID, leaderID, copyRatio, limits, e.client)
	if err != nil {
		return err
	}
	if err := e.store.SaveFollowerConfig(*cfg); err != nil {
		e.logger.Error("failed to persist follower config", "follower_id", followerID, "error", err)
	}

	bot, _ := e.copyMgr.Follower(followerID)
	if bot != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			bot.Risk().RunDailyReset(e.ctx)
		}()
	}

	return nil
}

// StopFollowing tears down a follower's bot, persisting its trade history.
func (e *Engine) StopFollowing(followerID, leaderID string) error {
	bot, ok := e.copyMgr.Follower(followerID)
	if !ok {
		return fmt.Errorf("follower %s not found", followerID)
	}

	history := bot.History()
	if err := e.store.SaveCopyTradeHistory(followerID, history); err != nil {
		e.logger.Error("failed to persist copy trade history", "follower_id", followerID, "error", err)
	}

	e.copyMgr.StopFollowing(followerID, leaderID)
	return nil
}

// ListLeaders reports every registered leader's approval/activity state.
func (e *Engine) ListLeaders() []api.LeaderView {
	summaries := e.copyMgr.Leaders()
	out := make([]api.LeaderView, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, api.LeaderView{UserID: s.UserID, Status: string(s.Status), FollowerCount: s.FollowerCount})
	}
	return out
}

// ListFollowers reports every active follower's subscription and risk state.
func (e *Engine) ListFollowers() []api.FollowerView {
	bots := e.copyMgr.Followers()
	out := make([]api.FollowerView, 0, len(bots))
	for _, bot := range bots {
		daily, positions := bot.Risk().Snapshot()
		out = append(out, api.FollowerView{
			FollowerID:       bot.FollowerID(),
			LeaderID:         bot.LeaderID(),
			CopyRatio:        bot.CopyRatio().InexactFloat64(),
			Running:          bot.IsRunning(),
			SkippedTrades:    bot.SkippedTrades(),
			AverageLatencyMs: float64(bot.AverageLatency().Milliseconds()),
			RiskSnapshot:     api.ConvertRiskSnapshot(daily, positions),
		})
	}
	return out
}

// onFill fans a private-feed fill out to every grid session (each bot
// silently ignores fills for orders it isn't tracking) and, if this account
// is an active copy-trading leader, to its LeaderMonitor.
func (e *Engine) onFill(f types.Fill) {
	e.sessionsMu.RLock()
	for _, sess := range e.sessions {
		sess.bot.AddEvent(grid.Event{Kind: grid.EventOrderFilled, Payload: f})
	}
	e.sessionsMu.RUnlock()

	if mc, ok := e.marks[f.Symbol]; ok {
		mc.Set(f.Price)
	}

	e.selfLeaderMu.Lock()
	leader := e.selfLeader
	e.selfLeaderMu.Unlock()
	if leader != nil {
		leader.OnMessage(fillToExecutionReport(f))
	}

	e.emit(api.Event{Type: "order_filled", Data: api.NewOrderFilledEvent("", f)})
}

// onOrder fans a user-initiated cancellation out to every grid session.
func (e *Engine) onOrder(o types.OrderRecord) {
	if o.Status != types.OrderStatusCancelled {
		return
	}
	e.sessionsMu.RLock()
	for _, sess := range e.sessions {
		sess.bot.AddEvent(grid.Event{Kind: grid.EventOrderCancellation, Payload: grid.CancellationEvent{
			Symbol:   o.Symbol,
			OrderID:  o.OrderID,
			Reason:   "exchange_cancel",
			UserInit: true,
		}})
	}
	e.sessionsMu.RUnlock()
}

// fillToExecutionReport adapts a typed Fill into the raw execution-report
// wire shape LeaderMonitor.OnMessage expects, since both describe the same
// private-feed event under two different historical schemas.
func fillToExecutionReport(f types.Fill) []byte {
	raw, _ := json.Marshal(struct {
		Status        string `json:"status"`
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		ExecutedPrice string `json:"executedPrice"`
		ExecutedQty   string `json:"executedQty"`
		OrderID       string `json:"orderId"`
		Timestamp     int64  `json:"timestamp"`
	}{
		Status:        "FILLED",
		Symbol:        f.Symbol,
		Side:          string(f.Side),
		ExecutedPrice: f.Price.String(),
		ExecutedQty:   f.Quantity.String(),
		OrderID:       f.OrderID,
		Timestamp:     f.Timestamp.UnixMilli(),
	})
	return raw
}

// RecordSessionMetrics snapshots session, feed, and risk state into the
// process's Prometheus gauges. Called periodically by cmd/gridbot's main loop.
func (e *Engine) RecordSessionMetrics() {
	account := e.cfg.Account.AccountID

	e.sessionsMu.RLock()
	for id, sess := range e.sessions {
		stats := sess.bot.ProfitSummary(decimal.Zero)
		metrics.GridArbitrageCount.WithLabelValues(id).Set(float64(stats.ArbitrageCount))
		metrics.GridActiveOrders.WithLabelValues(id).Set(float64(sess.bot.ActiveOrderCount()))
	}
	e.sessionsMu.RUnlock()

	metrics.WSSupervisorState.WithLabelValues(account).Set(float64(e.supervisor.State()))
	metrics.WSConnectionState.WithLabelValues(account).Set(float64(e.supervisor.ConnectionState()))

	for _, bot := range e.copyMgr.Followers() {
		daily, _ := bot.Risk().Snapshot()
		metrics.RiskDailyLoss.WithLabelValues(bot.FollowerID()).Set(daily.RealizedPnL.Neg().InexactFloat64())
	}
}
