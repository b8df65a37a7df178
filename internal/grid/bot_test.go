package grid

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/market"
	"polymarket-mm/pkg/types"
)

// fakeExchange is an in-memory stand-in for internal/exchange.Client.
type fakeExchange struct {
	mu      sync.Mutex
	nextID  int
	limits  []types.OrderRecord
	markets []types.OrderRecord
	cancels []string
}

func (f *fakeExchange) CreateLimitOrder(_ context.Context, _, symbol string, side types.Side, price, qty decimal.Decimal, reduceOnly bool) (*types.OrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	o := types.OrderRecord{
		OrderID:  fmt.Sprintf("o%d", f.nextID),
		Symbol:   symbol,
		Side:     side,
		Type:     types.OrderTypeLimit,
		Price:    price,
		Quantity: qty,
		Status:   types.OrderStatusNew,
	}
	f.limits = append(f.limits, o)
	return &o, nil
}

func (f *fakeExchange) CreateMarketOrder(_ context.Context, _, symbol string, side types.Side, qty decimal.Decimal, reduceOnly bool) (*types.OrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	o := types.OrderRecord{
		OrderID:  fmt.Sprintf("o%d", f.nextID),
		Symbol:   symbol,
		Side:     side,
		Type:     types.OrderTypeMarket,
		Quantity: qty,
		Status:   types.OrderStatusNew,
	}
	f.markets = append(f.markets, o)
	return &o, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, _, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, orderID)
	return nil
}

func (f *fakeExchange) CancelAll(_ context.Context, _ string) error { return nil }

type fakeStore struct {
	mu       sync.Mutex
	saved    []types.GridSummary
}

func (s *fakeStore) SaveGridSummary(summary types.GridSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, summary)
	return nil
}

func newTestBot(t *testing.T, exch *fakeExchange, store *fakeStore) *GridTradingBot {
	t.Helper()
	cfg := testGridConfig()
	bot, err := NewGridTradingBot("sess-1", cfg, exch, nil, market.NewMarkPriceCache(cfg.Symbol), store, nil)
	if err != nil {
		t.Fatalf("NewGridTradingBot: %v", err)
	}
	return bot
}

func TestStartGridTradingPlacesInitialOrders(t *testing.T) {
	t.Parallel()
	exch := &fakeExchange{}
	bot := newTestBot(t, exch, nil)
	done := make(chan struct{})
	defer close(done)

	if err := bot.StartGridTrading(context.Background(), decimal.NewFromFloat(2505), done); err != nil {
		t.Fatalf("StartGridTrading: %v", err)
	}

	exch.mu.Lock()
	n := len(exch.limits)
	exch.mu.Unlock()
	if n != 4 {
		t.Errorf("placed %d initial orders, want 4", n)
	}
	if got := bot.ActiveOrderCount(); got != 4 {
		t.Errorf("ActiveOrderCount() = %d, want 4", got)
	}
}

func TestCreateGridOrderRejectsDuplicatePending(t *testing.T) {
	t.Parallel()
	exch := &fakeExchange{}
	bot := newTestBot(t, exch, nil)

	key := priceKey{Price: decimal.NewFromFloat(2500).String(), Side: types.Buy}
	bot.dedup.markPending(key)

	err := bot.createGridOrder(context.Background(), 2, decimal.NewFromFloat(2500), types.Buy, decimal.NewFromFloat(1))
	if err == nil {
		t.Fatal("expected duplicate-order rejection")
	}
}

func TestCreateGridOrderRejectsFuzzyPriceMatch(t *testing.T) {
	t.Parallel()
	exch := &fakeExchange{}
	bot := newTestBot(t, exch, nil)

	if err := bot.createGridOrder(context.Background(), 2, decimal.NewFromFloat(2500), types.Buy, decimal.NewFromFloat(1)); err != nil {
		t.Fatalf("first create: %v", err)
	}

	// A price within fuzzyPriceEpsilon of an already-active order on the same
	// side must be rejected as a duplicate.
	nearlySame := decimal.NewFromFloat(2500).Add(decimal.NewFromFloat(0.000000001))
	err := bot.createGridOrder(context.Background(), 3, nearlySame, types.Buy, decimal.NewFromFloat(1))
	if err == nil {
		t.Fatal("expected fuzzy-price duplicate rejection")
	}
}

// twoActiveBuys returns two distinct active buy orders, for tests that need
// to burn the first-fill gate on one before exercising a second.
func twoActiveBuys(t *testing.T, bot *GridTradingBot) (first, second *types.OrderRecord) {
	t.Helper()
	bot.mu.Lock()
	defer bot.mu.Unlock()
	for _, o := range bot.activeOrders {
		if o.Side != types.Buy {
			continue
		}
		if first == nil {
			first = o
		} else if second == nil {
			second = o
		}
	}
	if first == nil || second == nil {
		t.Fatal("expected at least two active buy orders")
	}
	return first, second
}

func TestHandleOrderFilledGatesFirstFillThenEmitsCounterOnSecond(t *testing.T) {
	t.Parallel()
	exch := &fakeExchange{}
	bot := newTestBot(t, exch, nil)
	done := make(chan struct{})
	defer close(done)

	if err := bot.StartGridTrading(context.Background(), decimal.NewFromFloat(2505), done); err != nil {
		t.Fatalf("StartGridTrading: %v", err)
	}

	first, second := twoActiveBuys(t, bot)

	// The session's very first full fill must not emit a counter order.
	if err := bot.handleOrderFilled(context.Background(), types.Fill{
		FillID: "f1", OrderID: first.OrderID, Symbol: bot.cfg.Symbol,
		Side: types.Buy, Price: first.Price, Quantity: first.Quantity,
	}); err != nil {
		t.Fatalf("handleOrderFilled (first fill): %v", err)
	}

	exch.mu.Lock()
	limitsAfterFirst := len(exch.limits)
	exch.mu.Unlock()
	if limitsAfterFirst != 4 {
		t.Errorf("expected no counter order after the first fill, limit count = %d, want 4 (the initial ladder)", limitsAfterFirst)
	}
	if !bot.Status().FirstTriggered {
		t.Error("expected FirstTriggered to be true after the first full fill")
	}

	// A second full fill must behave normally: exactly one counter order.
	if err := bot.handleOrderFilled(context.Background(), types.Fill{
		FillID: "f2", OrderID: second.OrderID, Symbol: bot.cfg.Symbol,
		Side: types.Buy, Price: second.Price, Quantity: second.Quantity,
	}); err != nil {
		t.Fatalf("handleOrderFilled (second fill): %v", err)
	}

	exch.mu.Lock()
	limitsAfterSecond := len(exch.limits)
	exch.mu.Unlock()
	if limitsAfterSecond != limitsAfterFirst+1 {
		t.Errorf("expected exactly one counter order after the second full fill, got %d new orders", limitsAfterSecond-limitsAfterFirst)
	}
}

func TestHandleOrderFilledGatesOnFullFillOnly(t *testing.T) {
	t.Parallel()
	exch := &fakeExchange{}
	bot := newTestBot(t, exch, nil)
	done := make(chan struct{})
	defer close(done)

	if err := bot.StartGridTrading(context.Background(), decimal.NewFromFloat(2505), done); err != nil {
		t.Fatalf("StartGridTrading: %v", err)
	}

	first, target := twoActiveBuys(t, bot)

	// Burn the first-fill gate on an unrelated order so the partial/full
	// sequence below exercises ordinary (non-first-fill) fill handling.
	if err := bot.handleOrderFilled(context.Background(), types.Fill{
		FillID: "f0", OrderID: first.OrderID, Symbol: bot.cfg.Symbol,
		Side: types.Buy, Price: first.Price, Quantity: first.Quantity,
	}); err != nil {
		t.Fatalf("handleOrderFilled (gate burn): %v", err)
	}

	err := bot.handleOrderFilled(context.Background(), types.Fill{
		FillID: "f1", OrderID: target.OrderID, Symbol: bot.cfg.Symbol,
		Side: types.Buy, Price: target.Price, Quantity: target.Quantity.Div(decimal.NewFromInt(2)),
	})
	if err != nil {
		t.Fatalf("handleOrderFilled (partial): %v", err)
	}

	exch.mu.Lock()
	limitsAfterPartial := len(exch.limits)
	exch.mu.Unlock()

	// Now fully fill it — this must trigger exactly one counter order.
	err = bot.handleOrderFilled(context.Background(), types.Fill{
		FillID: "f2", OrderID: target.OrderID, Symbol: bot.cfg.Symbol,
		Side: types.Buy, Price: target.Price, Quantity: target.Quantity.Div(decimal.NewFromInt(2)),
	})
	if err != nil {
		t.Fatalf("handleOrderFilled (full): %v", err)
	}

	exch.mu.Lock()
	limitsAfterFull := len(exch.limits)
	exch.mu.Unlock()

	if limitsAfterFull != limitsAfterPartial+1 {
		t.Errorf("expected exactly one counter order after full fill, got %d new orders", limitsAfterFull-limitsAfterPartial)
	}
}

func TestStopGridTradingCancelsAndPersistsSummary(t *testing.T) {
	t.Parallel()
	exch := &fakeExchange{}
	store := &fakeStore{}
	bot := newTestBot(t, exch, store)
	done := make(chan struct{})
	defer close(done)

	if err := bot.StartGridTrading(context.Background(), decimal.NewFromFloat(2505), done); err != nil {
		t.Fatalf("StartGridTrading: %v", err)
	}

	if err := bot.StopGridTrading(context.Background(), "test"); err != nil {
		t.Fatalf("StopGridTrading: %v", err)
	}

	if bot.IsRunning() {
		t.Error("bot should no longer be running after StopGridTrading")
	}

	exch.mu.Lock()
	cancelCount := len(exch.cancels)
	exch.mu.Unlock()
	if cancelCount != 4 {
		t.Errorf("cancelled %d orders, want 4", cancelCount)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.saved) != 1 {
		t.Fatalf("expected one persisted GridSummary, got %d", len(store.saved))
	}
	if store.saved[0].SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", store.saved[0].SessionID)
	}
}

func TestStopGridTradingClosesResidualPositionAtMarket(t *testing.T) {
	t.Parallel()
	exch := &fakeExchange{}
	store := &fakeStore{}
	bot := newTestBot(t, exch, store)
	done := make(chan struct{})
	defer close(done)

	if err := bot.StartGridTrading(context.Background(), decimal.NewFromFloat(2505), done); err != nil {
		t.Fatalf("StartGridTrading: %v", err)
	}

	first, _ := twoActiveBuys(t, bot)
	if err := bot.handleOrderFilled(context.Background(), types.Fill{
		FillID: "f1", OrderID: first.OrderID, Symbol: bot.cfg.Symbol,
		Side: types.Buy, Price: first.Price, Quantity: first.Quantity,
	}); err != nil {
		t.Fatalf("handleOrderFilled: %v", err)
	}

	if err := bot.StopGridTrading(context.Background(), "test"); err != nil {
		t.Fatalf("StopGridTrading: %v", err)
	}

	exch.mu.Lock()
	defer exch.mu.Unlock()
	if len(exch.markets) != 1 {
		t.Fatalf("expected exactly one residual-close market order, got %d", len(exch.markets))
	}
	closeOrder := exch.markets[0]
	if closeOrder.Side != types.Sell {
		t.Errorf("residual close side = %s, want SELL (closing a long)", closeOrder.Side)
	}
	if !closeOrder.Quantity.Equal(first.Quantity) {
		t.Errorf("residual close qty = %s, want %s", closeOrder.Quantity, first.Quantity)
	}
}

func TestQueueDrivenStopEndsRunLoop(t *testing.T) {
	t.Parallel()
	exch := &fakeExchange{}
	store := &fakeStore{}
	bot := newTestBot(t, exch, store)
	done := make(chan struct{})
	defer close(done)

	if err := bot.StartGridTrading(context.Background(), decimal.NewFromFloat(2505), done); err != nil {
		t.Fatalf("StartGridTrading: %v", err)
	}

	bot.AddEvent(Event{Kind: EventStop, Payload: "queue-stop"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !bot.IsRunning() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("bot did not stop after a queued Stop event")
}
