package grid

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// GridSignalGenerator builds a grid's price/quantity ladder and decides what
// to do next each time an order at one of its levels fully fills: emit
// exactly one counter order at the opposite side, cancel everything, or stop.
//
// Per the resolved interpretation of direction=Both's counter-order rule
// (see the design notes), the generator always emits its counter order at
// the previous pointer rather than the current one, regardless of direction
// — this keeps OnOrderFilled a single deterministic function of
// (currentPointer, previousPointer) instead of branching by direction.
type GridSignalGenerator struct {
	cfg        types.GridConfig
	prices     []decimal.Decimal // ascending, index 0 = lowest level
	quantities []decimal.Decimal // per-level quantity, aligned with prices
}

// NewGridSignalGenerator builds the price and quantity ladders for cfg.
func NewGridSignalGenerator(cfg types.GridConfig) (*GridSignalGenerator, error) {
	if cfg.GridCount < 2 {
		return nil, fmt.Errorf("grid_count must be at least 2")
	}

	prices, err := buildPriceLadder(cfg)
	if err != nil {
		return nil, err
	}
	quantities := buildQuantityLadder(cfg, prices)

	return &GridSignalGenerator{cfg: cfg, prices: prices, quantities: quantities}, nil
}

func buildPriceLadder(cfg types.GridConfig) ([]decimal.Decimal, error) {
	n := cfg.GridCount
	prices := make([]decimal.Decimal, n)

	switch cfg.Mode {
	case types.GridArithmetic:
		step := cfg.UpperPrice.Sub(cfg.LowerPrice).Div(decimal.NewFromInt(int64(n - 1)))
		for i := 0; i < n; i++ {
			prices[i] = cfg.LowerPrice.Add(step.Mul(decimal.NewFromInt(int64(i))))
		}
	case types.GridGeometric:
		if cfg.LowerPrice.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("geometric grids require a positive lower_price")
		}
		ratio, _ := cfg.UpperPrice.Div(cfg.LowerPrice).Float64()
		nth := 1.0 / float64(n-1)
		growth := decimal.NewFromFloat(math.Pow(ratio, nth))
		prices[0] = cfg.LowerPrice
		for i := 1; i < n; i++ {
			prices[i] = prices[i-1].Mul(growth)
		}
	default:
		return nil, fmt.Errorf("unknown grid mode %q", cfg.Mode)
	}

	return prices, nil
}

// gridMarginFraction returns the share of total_margin committed to the grid
// ladder itself. Long/Short reserve the other half for the market-open
// initial position; Both has no initial position and commits it all.
func gridMarginFraction(direction types.GridDirection) decimal.Decimal {
	switch direction {
	case types.DirectionLong, types.DirectionShort:
		return decimal.NewFromFloat(0.5)
	default:
		return decimal.NewFromInt(1)
	}
}

// referencePriceFor returns the price fixed-quantity sizing divides
// margin_per_grid by: the lowest price a Long grid will ever buy at, or the
// highest price a Short/Both grid will ever sell at.
func referencePriceFor(cfg types.GridConfig) decimal.Decimal {
	if cfg.Direction == types.DirectionLong {
		return cfg.LowerPrice
	}
	return cfg.UpperPrice
}

func buildQuantityLadder(cfg types.GridConfig, prices []decimal.Decimal) []decimal.Decimal {
	n := len(prices)
	qty := make([]decimal.Decimal, n)

	switch cfg.Sizing {
	case types.SizingNotionalEqual:
		notionalPerLevel := cfg.TotalMargin.Div(decimal.NewFromInt(int64(n)))
		for i, p := range prices {
			if p.IsZero() {
				qty[i] = decimal.Zero
				continue
			}
			qty[i] = notionalPerLevel.Div(p)
		}
	default: // SizingFixedQuantity
		marginPerGrid := cfg.TotalMargin.Mul(gridMarginFraction(cfg.Direction)).Div(decimal.NewFromInt(int64(n)))
		if cfg.Mode == types.GridGeometric {
			// Geometric grids recompute quantity at each level so that
			// margin_per_grid, not quantity, stays constant across levels.
			for i, p := range prices {
				if p.IsZero() {
					qty[i] = decimal.Zero
					continue
				}
				qty[i] = marginPerGrid.Div(p)
			}
			break
		}
		fixedQty := marginPerGrid.Div(referencePriceFor(cfg))
		for i := range prices {
			qty[i] = fixedQty
		}
	}
	return qty
}

// Levels returns the number of grid price levels.
func (g *GridSignalGenerator) Levels() int { return len(g.prices) }

// PriceAt returns the price at a grid level.
func (g *GridSignalGenerator) PriceAt(level int) decimal.Decimal { return g.prices[level] }

// QuantityAt returns the order quantity at a grid level.
func (g *GridSignalGenerator) QuantityAt(level int) decimal.Decimal { return g.quantities[level] }

// nearestLevelConservative returns the grid level nearest currentPrice at or
// below it (level 0 if every level is above), used to seed current_pointer at
// session start regardless of direction.
func (g *GridSignalGenerator) nearestLevelConservative(currentPrice decimal.Decimal) int {
	best := 0
	bestDist := decimal.NewFromInt(-1)
	for i, p := range g.prices {
		if p.GreaterThan(currentPrice) {
			continue
		}
		dist := currentPrice.Sub(p)
		if bestDist.LessThan(decimal.Zero) || dist.LessThan(bestDist) {
			bestDist = dist
			best = i
		}
	}
	return best
}

// PendingInitialOrder describes one order SetupInitialGrid wants placed.
// MarketOpen orders carry Level -1: they are the Long/Short initial
// position, not a grid level.
type PendingInitialOrder struct {
	Level      int
	Side       types.Side
	Price      decimal.Decimal
	Qty        decimal.Decimal
	MarketOpen bool
}

// marketOpenOrder builds the Long/Short initial-position order: half of
// total_margin, sized at currentPrice, on the grid's own side.
func (g *GridSignalGenerator) marketOpenOrder(currentPrice decimal.Decimal) PendingInitialOrder {
	side := types.Buy
	if g.cfg.Direction == types.DirectionShort {
		side = types.Sell
	}
	initialMargin := g.cfg.TotalMargin.Mul(gridMarginFraction(g.cfg.Direction))
	qty := decimal.Zero
	if currentPrice.IsPositive() {
		qty = initialMargin.Div(currentPrice)
	}
	return PendingInitialOrder{Level: -1, Side: side, Price: currentPrice, Qty: qty, MarketOpen: true}
}

// SetupInitialGrid computes current_pointer/previous_pointer and the set of
// orders to place to seed the grid around currentPrice.
func (g *GridSignalGenerator) SetupInitialGrid(currentPrice decimal.Decimal) (pointer int, orders []PendingInitialOrder) {
	pointer = g.nearestLevelConservative(currentPrice)

	if g.cfg.Direction == types.DirectionLong || g.cfg.Direction == types.DirectionShort {
		orders = append(orders, g.marketOpenOrder(currentPrice))
	}

	for i := range g.prices {
		switch g.cfg.Direction {
		case types.DirectionLong:
			if i <= pointer {
				orders = append(orders, PendingInitialOrder{Level: i, Side: types.Buy, Price: g.prices[i], Qty: g.quantities[i]})
			}
		case types.DirectionShort:
			if i >= pointer {
				orders = append(orders, PendingInitialOrder{Level: i, Side: types.Sell, Price: g.prices[i], Qty: g.quantities[i]})
			}
		case types.DirectionBoth:
			if i < pointer {
				orders = append(orders, PendingInitialOrder{Level: i, Side: types.Buy, Price: g.prices[i], Qty: g.quantities[i]})
			} else if i > pointer {
				orders = append(orders, PendingInitialOrder{Level: i, Side: types.Sell, Price: g.prices[i], Qty: g.quantities[i]})
			}
		}
	}
	return pointer, orders
}

// CounterOrder is the single opposite-side order OnOrderFilled emits.
type CounterOrder struct {
	Level int
	Side  types.Side
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// OnOrderFilled is called exactly once per order that transitions to fully
// filled (partial fills are not gated through here — see OrderTracker). It
// returns the new (currentPointer, previousPointer) and the single counter
// order to place at previousPointer.
func (g *GridSignalGenerator) OnOrderFilled(filledLevel int, filledSide types.Side, previousPointer int) (newCurrent, newPrevious int, counter CounterOrder) {
	newCurrent = filledLevel
	newPrevious = previousPointer

	counterSide := filledSide.Opposite()
	counter = CounterOrder{
		Level: newPrevious,
		Side:  counterSide,
		Price: g.prices[newPrevious],
		Qty:   g.quantities[newPrevious],
	}
	return newCurrent, newPrevious, counter
}

// StopBySignal reports whether markPrice has crossed cfg's stop bounds.
func (g *GridSignalGenerator) StopBySignal(markPrice decimal.Decimal) bool {
	if !g.cfg.StopUpper.IsZero() && markPrice.GreaterThanOrEqual(g.cfg.StopUpper) {
		return true
	}
	if !g.cfg.StopLower.IsZero() && markPrice.LessThanOrEqual(g.cfg.StopLower) {
		return true
	}
	return false
}
