package grid

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/market"
	"polymarket-mm/pkg/types"
)

const (
	duplicateOrderWindow = 5 * time.Second
	fuzzyPriceEpsilon    = "0.00000001"
	stopStepTimeout      = 2 * time.Second
)

// defaultFeeRate is the taker fee rate used when a session's GridConfig
// doesn't specify one.
var defaultFeeRate = decimal.NewFromFloat(0.001)

// priceKey identifies one (price, side) slot in the dedup trackers. Prices
// are keyed by their normalized string form so equal decimals with different
// internal scale compare equal.
type priceKey struct {
	Price string
	Side  types.Side
}

// orderDedupTracker guards against placing two orders at the same grid slot,
// the way a goroutine race between a fill callback and a signal handler
// could otherwise trigger.
type orderDedupTracker struct {
	mu      sync.Mutex
	pending map[priceKey]time.Time
}

func newOrderDedupTracker() *orderDedupTracker {
	return &orderDedupTracker{pending: make(map[priceKey]time.Time)}
}

func (d *orderDedupTracker) markPending(key priceKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[key] = time.Now()
}

func (d *orderDedupTracker) clearPending(key priceKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, key)
}

func (d *orderDedupTracker) isPendingRecent(key priceKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.pending[key]
	return ok && time.Since(t) < duplicateOrderWindow
}

// Exchange is the subset of the REST client GridTradingBot needs. Defined
// here so tests can substitute a fake without touching the real HTTP client.
type Exchange interface {
	CreateLimitOrder(ctx context.Context, clientID, symbol string, side types.Side, price, qty decimal.Decimal, reduceOnly bool) (*types.OrderRecord, error)
	CreateMarketOrder(ctx context.Context, clientID, symbol string, side types.Side, qty decimal.Decimal, reduceOnly bool) (*types.OrderRecord, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAll(ctx context.Context, symbol string) error
}

var _ Exchange = (*exchange.Client)(nil)

// Store persists the end-of-session summary. Implemented by internal/store.
type Store interface {
	SaveGridSummary(summary types.GridSummary) error
}

// GridTradingBot orchestrates one grid-trading session: it owns the signal
// generator, order/profit trackers, and the event queue that serializes all
// state mutation, and translates SessionEventQueue events into exchange
// calls.
type GridTradingBot struct {
	sessionID string
	cfg       types.GridConfig

	exch      Exchange
	validator *market.MarketValidator
	marks     *market.MarkPriceCache
	store     Store

	signals *GridSignalGenerator
	orders  *OrderTracker
	profit  *ProfitTracker
	queue   *SessionEventQueue

	logger *slog.Logger

	mu              sync.Mutex
	activeOrders    map[string]*types.OrderRecord // order_id -> record, grid orders only
	gridOrders      map[int]string                // level -> order_id ("" while pending)
	dedup           *orderDedupTracker
	currentPointer  int
	previousPointer int
	firstTriggered  bool
	running         bool
	stopReason      string
	startedAt       time.Time
}

// NewGridTradingBot wires a new session's components together.
func NewGridTradingBot(sessionID string, cfg types.GridConfig, exch Exchange, validator *market.MarketValidator, marks *market.MarkPriceCache, store Store, logger *slog.Logger) (*GridTradingBot, error) {
	signals, err := NewGridSignalGenerator(cfg)
	if err != nil {
		return nil, fmt.Errorf("grid signal generator: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	feeRate := cfg.FeeRate
	if feeRate.IsZero() {
		feeRate = defaultFeeRate
	}

	return &GridTradingBot{
		sessionID:    sessionID,
		cfg:          cfg,
		exch:         exch,
		validator:    validator,
		marks:        marks,
		store:        store,
		signals:      signals,
		orders:       NewOrderTracker(),
		profit:       NewProfitTracker(cfg.Symbol, feeRate, cfg.TotalMargin),
		queue:        NewSessionEventQueue(sessionID, logger.With("session_id", sessionID)),
		logger:       logger.With("component", "grid_bot", "session_id", sessionID, "symbol", cfg.Symbol),
		activeOrders: make(map[string]*types.OrderRecord),
		gridOrders:   make(map[int]string),
		dedup:        newOrderDedupTracker(),
	}, nil
}

// StartGridTrading seeds the initial ladder around currentPrice and begins
// the session's single-consumer event loop. done stops the loop when closed.
func (b *GridTradingBot) StartGridTrading(ctx context.Context, currentPrice decimal.Decimal, done <-chan struct{}) error {
	b.mu.Lock()
	b.running = true
	b.startedAt = time.Now()
	pointer, pending := b.signals.SetupInitialGrid(currentPrice)
	b.currentPointer = pointer
	b.previousPointer = pointer
	b.mu.Unlock()

	for _, p := range pending {
		var err error
		if p.MarketOpen {
			err = b.createMarketOpenOrder(ctx, p.Level, p.Side, p.Qty)
		} else {
			err = b.createGridOrder(ctx, p.Level, p.Price, p.Side, p.Qty)
		}
		if err != nil {
			b.logger.Error("initial grid order failed", "level", p.Level, "error", err)
		}
	}

	go b.queue.Run(done, b.handleEvent)
	return nil
}

// createGridOrder implements the duplicate-order-guard triad and places one
// grid-level order.
func (b *GridTradingBot) createGridOrder(ctx context.Context, level int, price decimal.Decimal, side types.Side, qty decimal.Decimal) error {
	key := priceKey{Price: price.String(), Side: side}

	if b.dedup.isPendingRecent(key) {
		return fmt.Errorf("duplicate order suppressed: pending within %s at %s %s", duplicateOrderWindow, side, price)
	}
	if b.isActiveAtPrice(price, side) {
		return fmt.Errorf("duplicate order suppressed: already active at %s %s", side, price)
	}

	b.dedup.markPending(key)
	defer b.dedup.clearPending(key)

	normPrice := price
	normQty := qty
	if b.validator != nil {
		var err error
		normPrice, err = b.validator.NormalizePrice(b.cfg.Symbol, price)
		if err != nil {
			return fmt.Errorf("normalize price: %w", err)
		}
		normQty, err = b.validator.NormalizeQuantity(b.cfg.Symbol, qty)
		if err != nil {
			return fmt.Errorf("normalize quantity: %w", err)
		}
	}

	clientID := fmt.Sprintf("%s-%d-%d", b.sessionID, level, time.Now().UnixNano())
	order, err := b.exch.CreateLimitOrder(ctx, clientID, b.cfg.Symbol, side, normPrice, normQty, false)
	if err != nil {
		return fmt.Errorf("create limit order: %w", err)
	}
	order.GridLevel = level

	b.mu.Lock()
	b.activeOrders[order.OrderID] = order
	b.gridOrders[level] = order.OrderID
	b.mu.Unlock()

	b.orders.AddOrder(order)
	return nil
}

// isActiveAtPrice implements the fuzzy-price duplicate check: any active
// order within fuzzyPriceEpsilon of price on the same side counts as a
// match.
func (b *GridTradingBot) isActiveAtPrice(price decimal.Decimal, side types.Side) bool {
	epsilon, _ := decimal.NewFromString(fuzzyPriceEpsilon)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range b.activeOrders {
		if o.Side != side || !o.IsActive() {
			continue
		}
		if o.Price.Sub(price).Abs().LessThanOrEqual(epsilon) {
			return true
		}
	}
	return false
}

// AddEvent enqueues an event for the session's consumer loop.
func (b *GridTradingBot) AddEvent(e Event) bool {
	return b.queue.AddEvent(e)
}

func (b *GridTradingBot) handleEvent(e Event) error {
	switch e.Kind {
	case EventSignal:
		sig, ok := e.Payload.(SignalEvent)
		if !ok {
			return fmt.Errorf("signal event payload has wrong type %T", e.Payload)
		}
		return b.handleSignalEvent(context.Background(), sig)
	case EventOrderFilled:
		f, ok := e.Payload.(types.Fill)
		if !ok {
			return fmt.Errorf("order-filled event payload has wrong type %T", e.Payload)
		}
		return b.handleOrderFilled(context.Background(), f)
	case EventOrderCancellation:
		c, ok := e.Payload.(CancellationEvent)
		if !ok {
			return fmt.Errorf("cancellation event payload has wrong type %T", e.Payload)
		}
		return b.handleCancellation(context.Background(), c)
	case EventStop:
		reason, _ := e.Payload.(string)
		return b.StopGridTrading(context.Background(), reason)
	default:
		return fmt.Errorf("unknown event kind %v", e.Kind)
	}
}

// SignalEvent is the payload for an EventSignal.
type SignalEvent struct {
	Type  types.SignalType
	Level int
	Side  types.Side
	Price decimal.Decimal
	Qty   decimal.Decimal
}

func (b *GridTradingBot) handleSignalEvent(ctx context.Context, sig SignalEvent) error {
	switch sig.Type {
	case types.SignalInitial, types.SignalCounter:
		return b.createGridOrder(ctx, sig.Level, sig.Price, sig.Side, sig.Qty)
	case types.SignalMarketOpen:
		return b.createMarketOpenOrder(ctx, sig.Level, sig.Side, sig.Qty)
	case types.SignalCancelAll:
		return b.cancelAllGridOrders(ctx)
	case types.SignalStop:
		return b.StopGridTrading(ctx, "signal")
	default:
		return fmt.Errorf("unknown signal type %q", sig.Type)
	}
}

// createMarketOpenOrder places a market order tracked the same way a grid
// order is, used both for a Long/Short session's initial position (level -1)
// and for an explicit SignalMarketOpen event.
func (b *GridTradingBot) createMarketOpenOrder(ctx context.Context, level int, side types.Side, qty decimal.Decimal) error {
	clientID := fmt.Sprintf("%s-mkt-%d", b.sessionID, time.Now().UnixNano())
	order, err := b.exch.CreateMarketOrder(ctx, clientID, b.cfg.Symbol, side, qty, false)
	if err != nil {
		return fmt.Errorf("create market order: %w", err)
	}
	order.GridLevel = level
	b.mu.Lock()
	b.activeOrders[order.OrderID] = order
	b.mu.Unlock()
	b.orders.AddOrder(order)
	return nil
}

// handleOrderFilled applies the fill-gating contract: only a fully-filled
// order notifies the signal generator, a partial fill just updates state.
func (b *GridTradingBot) handleOrderFilled(ctx context.Context, f types.Fill) error {
	if f.Symbol != "" && f.Symbol != b.cfg.Symbol {
		return nil
	}

	b.mu.Lock()
	order, known := b.activeOrders[f.OrderID]
	b.mu.Unlock()
	if !known {
		return nil
	}

	applied, err := b.orders.AddFill(f)
	if err != nil {
		return err
	}
	if !applied {
		return nil // already-processed fill, drop silently
	}

	b.profit.AddTrade(f.Side, f.Price, f.Quantity, f.Fee)

	updated, _ := b.orders.Get(f.OrderID)
	if updated == nil || updated.Status != types.OrderStatusFilled {
		b.logger.Debug("partial fill applied", "order_id", f.OrderID, "filled_qty", updated.FilledQty)
		return nil
	}

	b.mu.Lock()
	delete(b.activeOrders, f.OrderID)
	delete(b.gridOrders, order.GridLevel)
	// The pointer in force before this fill becomes the previous pointer.
	prevPointer := b.currentPointer
	firstTriggered := b.firstTriggered
	b.mu.Unlock()

	// The very first full fill of a session seeds current_pointer without
	// emitting a counter order — there is no prior pointer to paper over yet.
	if !firstTriggered {
		b.mu.Lock()
		b.currentPointer = order.GridLevel
		b.firstTriggered = true
		b.mu.Unlock()
		b.logger.Debug("first fill gated, no counter order", "order_id", f.OrderID, "level", order.GridLevel)
		return nil
	}

	newCurrent, newPrevious, counter := b.signals.OnOrderFilled(order.GridLevel, f.Side, prevPointer)

	b.mu.Lock()
	b.currentPointer = newCurrent
	b.previousPointer = newPrevious
	b.mu.Unlock()

	return b.createGridOrder(ctx, counter.Level, counter.Price, counter.Side, counter.Qty)
}

// CancellationEvent is the payload for an EventOrderCancellation.
type CancellationEvent struct {
	Symbol   string
	OrderID  string
	Reason   string
	UserInit bool // classified as user-initiated, eligible for recovery
}

func (b *GridTradingBot) handleCancellation(ctx context.Context, c CancellationEvent) error {
	if c.Symbol != "" && c.Symbol != b.cfg.Symbol {
		return nil
	}

	b.mu.Lock()
	order, known := b.activeOrders[c.OrderID]
	if known {
		delete(b.activeOrders, c.OrderID)
		delete(b.gridOrders, order.GridLevel)
	}
	b.mu.Unlock()
	if !known {
		return nil
	}
	b.orders.RemoveOrder(c.OrderID)

	if !c.UserInit {
		return nil
	}
	return b.createGridOrder(ctx, order.GridLevel, order.Price, order.Side, order.Quantity)
}

// cancelAllGridOrders walks the active set and cancels every limit order for
// this symbol. Orders that fail to cancel stay tracked so a later retry (or
// the final stop sweep) can try again.
func (b *GridTradingBot) cancelAllGridOrders(ctx context.Context) error {
	b.mu.Lock()
	ids := make([]string, 0, len(b.activeOrders))
	for id, o := range b.activeOrders {
		if o.Type == types.OrderTypeLimit {
			ids = append(ids, id)
		}
	}
	b.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := b.exch.CancelOrder(ctx, b.cfg.Symbol, id); err != nil {
			b.logger.Warn("cancel failed, order remains tracked", "order_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		b.mu.Lock()
		if o, ok := b.activeOrders[id]; ok {
			delete(b.gridOrders, o.GridLevel)
		}
		delete(b.activeOrders, id)
		b.mu.Unlock()
		b.orders.RemoveOrder(id)
	}
	return firstErr
}

// runStep runs fn with a bounded timeout, logging (not propagating) failures
// so the stop sequence always reaches its final summary step.
func (b *GridTradingBot) runStep(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), stopStepTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		b.logger.Warn("stop step failed, continuing", "step", name, "error", err)
	}
}

// StopGridTrading tears the session down: cancels all grid orders, closes
// any residual position at market, and persists a final GridSummary. Every
// step is bounded and best-effort; a failure does not abort later steps.
func (b *GridTradingBot) StopGridTrading(ctx context.Context, reason string) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.stopReason = reason
	b.mu.Unlock()

	b.runStep("cancel_all", func(ctx context.Context) error {
		return b.cancelAllGridOrders(ctx)
	})

	b.runStep("close_residual_position", func(ctx context.Context) error {
		side, qty := b.profit.NetPosition()
		if qty.IsZero() {
			return nil
		}
		clientID := fmt.Sprintf("%s-close-%d", b.sessionID, time.Now().UnixNano())
		_, err := b.exch.CreateMarketOrder(ctx, clientID, b.cfg.Symbol, side.Opposite(), qty, true)
		return err
	})

	markPrice, _ := b.marks.Price()
	summary := b.profit.Summary(b.sessionID, markPrice)
	summary.StoppedAt = time.Now()

	b.runStep("persist_summary", func(ctx context.Context) error {
		if b.store == nil {
			return nil
		}
		return b.store.SaveGridSummary(summary)
	})

	return nil
}

// IsRunning reports whether the session's event loop is still active.
func (b *GridTradingBot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Status returns a snapshot of the session's runtime pointer state, for
// admin-surface reporting. CreatedAt is the session's start time; UserID
// and StoppedAt are filled in by the caller that owns the session registry.
func (b *GridTradingBot) Status() types.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return types.Session{
		SessionID:       b.sessionID,
		Config:          b.cfg,
		CurrentPointer:  b.currentPointer,
		PreviousPointer: b.previousPointer,
		FirstTriggered:  b.firstTriggered,
		Running:         b.running,
		CreatedAt:       b.startedAt,
	}
}

// ProfitSummary reports the session's current profit accounting without
// stopping it, using markPrice for the unrealized-P&L leg.
func (b *GridTradingBot) ProfitSummary(markPrice decimal.Decimal) types.GridSummary {
	return b.profit.Summary(b.sessionID, markPrice)
}

// ActiveOrderCount reports how many grid orders are currently resting on the
// book, for admin-surface and metrics reporting.
func (b *GridTradingBot) ActiveOrderCount() int {
	return b.orders.Statistics().ActiveOrders
}
