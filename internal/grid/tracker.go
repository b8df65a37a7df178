// Package grid implements the grid-trading order lifecycle: order tracking,
// FIFO profit accounting, grid signal generation, the bounded per-session
// event queue, and the session runner that ties them together.
package grid

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// OrderTracker is the authoritative local record of every order a grid
// session has placed and every fill it has received against them. Fills are
// applied idempotently by fill_id: the same fill re-delivered after a
// WebSocket reconnect is a no-op the second time.
type OrderTracker struct {
	mu      sync.RWMutex
	orders  map[string]*types.OrderRecord // order_id -> record
	fillIDs map[string]struct{}           // every fill_id ever applied, across all orders
}

// NewOrderTracker creates an empty tracker.
func NewOrderTracker() *OrderTracker {
	return &OrderTracker{
		orders:  make(map[string]*types.OrderRecord),
		fillIDs: make(map[string]struct{}),
	}
}

// AddOrder registers a newly placed order.
func (t *OrderTracker) AddOrder(o *types.OrderRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orders[o.OrderID] = o
}

// RemoveOrder drops an order from tracking, used after a confirmed cancel.
// It also evicts the order's fill ids from the dedup set, since an order_id
// is never reused but a fill_id collision across orders is not otherwise
// possible once the order is gone.
func (t *OrderTracker) RemoveOrder(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if o, ok := t.orders[orderID]; ok {
		for _, f := range o.Fills {
			delete(t.fillIDs, f.FillID)
		}
	}
	delete(t.orders, orderID)
}

// Get returns the tracked order, if any.
func (t *OrderTracker) Get(orderID string) (*types.OrderRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.orders[orderID]
	return o, ok
}

// Active returns every order still eligible to receive fills.
func (t *OrderTracker) Active() []*types.OrderRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*types.OrderRecord, 0, len(t.orders))
	for _, o := range t.orders {
		if o.IsActive() {
			out = append(out, o)
		}
	}
	return out
}

// AddFill applies a fill to its order idempotently. It returns applied=false
// without error when fill.FillID has already been applied — the caller
// should treat that as "nothing happened", not as a failure.
func (t *OrderTracker) AddFill(f types.Fill) (applied bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, seen := t.fillIDs[f.FillID]; seen {
		return false, nil
	}

	o, ok := t.orders[f.OrderID]
	if !ok {
		return false, fmt.Errorf("fill %s references unknown order %s", f.FillID, f.OrderID)
	}

	priorNotional := o.AvgFillPrice.Mul(o.FilledQty)
	newNotional := priorNotional.Add(f.Price.Mul(f.Quantity))
	o.FilledQty = o.FilledQty.Add(f.Quantity)
	if o.FilledQty.IsPositive() {
		o.AvgFillPrice = newNotional.Div(o.FilledQty)
	}
	o.Fills = append(o.Fills, f)

	switch {
	case o.FilledQty.GreaterThanOrEqual(o.Quantity):
		o.Status = types.OrderStatusFilled
	case o.FilledQty.IsPositive():
		o.Status = types.OrderStatusPartiallyFilled
	}

	t.fillIDs[f.FillID] = struct{}{}
	return true, nil
}

// Statistics summarizes the tracker's current state.
type Statistics struct {
	TotalOrders    int
	ActiveOrders   int
	FilledOrders   int
	TotalFilledQty decimal.Decimal
}

// Statistics computes a snapshot over all tracked orders.
func (t *OrderTracker) Statistics() Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Statistics{TotalFilledQty: decimal.Zero}
	for _, o := range t.orders {
		stats.TotalOrders++
		if o.IsActive() {
			stats.ActiveOrders++
		}
		if o.Status == types.OrderStatusFilled {
			stats.FilledOrders++
		}
		stats.TotalFilledQty = stats.TotalFilledQty.Add(o.FilledQty)
	}
	return stats
}
