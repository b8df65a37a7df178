package market

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// MarketValidator holds per-symbol trading rules (tick size, step size,
// minimum notional) and normalizes prices/quantities to them. It is the
// single source of truth every order-placing component consults before
// calling the exchange client.
type MarketValidator struct {
	mu      sync.RWMutex
	markets map[string]types.MarketInfo
}

// NewMarketValidator creates a validator seeded with the given market table.
func NewMarketValidator(markets []types.MarketInfo) *MarketValidator {
	m := make(map[string]types.MarketInfo, len(markets))
	for _, mi := range markets {
		m[mi.Symbol] = mi
	}
	return &MarketValidator{markets: m}
}

// Upsert adds or replaces a symbol's trading rules.
func (v *MarketValidator) Upsert(info types.MarketInfo) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.markets[info.Symbol] = info
}

// Get returns a symbol's trading rules.
func (v *MarketValidator) Get(symbol string) (types.MarketInfo, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	mi, ok := v.markets[symbol]
	return mi, ok
}

// NormalizePrice floors price down to the symbol's tick size.
func (v *MarketValidator) NormalizePrice(symbol string, price decimal.Decimal) (decimal.Decimal, error) {
	mi, ok := v.Get(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown symbol %q", symbol)
	}
	if mi.TickSize.IsZero() {
		return price, nil
	}
	steps := price.Div(mi.TickSize).Floor()
	return steps.Mul(mi.TickSize), nil
}

// NormalizeQuantity floors quantity down to the symbol's step size.
func (v *MarketValidator) NormalizeQuantity(symbol string, qty decimal.Decimal) (decimal.Decimal, error) {
	mi, ok := v.Get(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown symbol %q", symbol)
	}
	if mi.StepSize.IsZero() {
		return qty, nil
	}
	steps := qty.Div(mi.StepSize).Floor()
	return steps.Mul(mi.StepSize), nil
}

// ValidateOrder checks a proposed order against the symbol's minimum
// quantity and minimum notional rules.
func (v *MarketValidator) ValidateOrder(symbol string, price, qty decimal.Decimal) error {
	mi, ok := v.Get(symbol)
	if !ok {
		return fmt.Errorf("unknown symbol %q", symbol)
	}
	if qty.LessThan(mi.MinQuantity) {
		return fmt.Errorf("quantity %s below minimum %s for %s", qty, mi.MinQuantity, symbol)
	}
	notional := price.Mul(qty)
	if notional.LessThan(mi.MinNotional) {
		return fmt.Errorf("notional %s below minimum %s for %s", notional, mi.MinNotional, symbol)
	}
	return nil
}

// ValidateGridConfig checks a grid session's parameters for internal
// consistency before any orders are placed.
func (v *MarketValidator) ValidateGridConfig(cfg types.GridConfig) error {
	mi, ok := v.Get(cfg.Symbol)
	if !ok {
		return fmt.Errorf("unknown symbol %q", cfg.Symbol)
	}
	if cfg.UpperPrice.LessThanOrEqual(cfg.LowerPrice) {
		return fmt.Errorf("upper_price must be greater than lower_price")
	}
	if cfg.GridCount < 2 {
		return fmt.Errorf("grid_count must be at least 2")
	}
	if cfg.TotalMargin.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("total_margin must be positive")
	}
	marginPerGrid := cfg.TotalMargin.Div(decimal.NewFromInt(int64(cfg.GridCount)))
	if marginPerGrid.LessThan(mi.MinNotional) {
		return fmt.Errorf("margin per grid %s below minimum notional %s for %s", marginPerGrid, mi.MinNotional, cfg.Symbol)
	}
	switch cfg.Direction {
	case types.DirectionLong, types.DirectionShort, types.DirectionBoth:
	default:
		return fmt.Errorf("invalid direction %q", cfg.Direction)
	}
	switch cfg.Mode {
	case types.GridArithmetic, types.GridGeometric:
	default:
		return fmt.Errorf("invalid grid mode %q", cfg.Mode)
	}
	if !cfg.StopUpper.IsZero() && cfg.StopUpper.LessThanOrEqual(cfg.UpperPrice) {
		return fmt.Errorf("stop_upper must be above upper_price")
	}
	if !cfg.StopLower.IsZero() && cfg.StopLower.GreaterThanOrEqual(cfg.LowerPrice) {
		return fmt.Errorf("stop_lower must be below lower_price")
	}
	return nil
}
