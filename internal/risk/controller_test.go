package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

func testRiskLimits() types.RiskLimits {
	return types.RiskLimits{
		MaxPositionCount: 5,
		MaxPositionValue: decimal.NewFromInt(10000),
		MaxDailyLoss:     decimal.NewFromInt(500),
		MaxConcentration: decimal.NewFromFloat(0.5),
		MaxTradeNotional: decimal.NewFromInt(1000),
	}
}

func testEvent(symbol string, qty decimal.Decimal) types.LeaderTradeEvent {
	return types.LeaderTradeEvent{Symbol: symbol, Side: types.Buy, Price: decimal.NewFromInt(100), Quantity: qty}
}

func TestValidateTradeAcceptsWithinLimits(t *testing.T) {
	t.Parallel()
	c := NewController("f1", testRiskLimits(), nil)

	result := c.ValidateTrade(testEvent("BTC", decimal.NewFromInt(1)), decimal.NewFromFloat(1), decimal.NewFromInt(100), types.ActionOpen)
	if !result.IsValid {
		t.Fatalf("expected valid trade, got reason %q", result.Reason)
	}
	if !result.AdjustedQty.Equal(decimal.NewFromInt(1)) {
		t.Errorf("AdjustedQty = %s, want 1 (no clamp needed)", result.AdjustedQty)
	}
}

func TestValidateTradeClampsOnPerTradeNotional(t *testing.T) {
	t.Parallel()
	c := NewController("f1", testRiskLimits(), nil)

	// 100 qty * 100 price = 10000 notional, way over the 1000 limit.
	result := c.ValidateTrade(testEvent("BTC", decimal.NewFromInt(100)), decimal.NewFromFloat(1), decimal.NewFromInt(100), types.ActionOpen)
	if !result.IsValid {
		t.Fatalf("expected clamp not reject, got reason %q", result.Reason)
	}
	if !result.AdjustedQty.Equal(decimal.NewFromInt(10)) {
		t.Errorf("AdjustedQty = %s, want 10 (1000/100)", result.AdjustedQty)
	}
	if result.RiskScore < 30 {
		t.Errorf("RiskScore = %d, want >= 30", result.RiskScore)
	}
}

func TestValidateTradeRejectsWhenClampedBelowTenPercent(t *testing.T) {
	t.Parallel()
	limits := testRiskLimits()
	limits.MaxTradeNotional = decimal.NewFromInt(1)
	c := NewController("f1", limits, nil)

	result := c.ValidateTrade(testEvent("BTC", decimal.NewFromInt(100)), decimal.NewFromFloat(1), decimal.NewFromInt(100), types.ActionOpen)
	if result.IsValid {
		t.Fatal("expected rejection: clamped size is far below 10% of original")
	}
	if result.RiskScore != 100 {
		t.Errorf("RiskScore = %d, want 100 on rejection", result.RiskScore)
	}
}

func TestValidateTradeRejectsOnDailyLossLimit(t *testing.T) {
	t.Parallel()
	c := NewController("f1", testRiskLimits(), nil)
	c.RecordTradeResult("BTC", decimal.NewFromInt(1), decimal.NewFromInt(100), types.Sell, types.ActionClose, decimal.NewFromInt(-500))

	result := c.ValidateTrade(testEvent("BTC", decimal.NewFromInt(1)), decimal.NewFromFloat(1), decimal.NewFromInt(100), types.ActionOpen)
	if result.IsValid {
		t.Fatal("expected rejection: daily loss limit reached")
	}
	if result.RiskScore != 100 {
		t.Errorf("RiskScore = %d, want 100 on rejection", result.RiskScore)
	}
}

func TestValidateTradeRejectsOnPositionCountLimit(t *testing.T) {
	t.Parallel()
	limits := testRiskLimits()
	limits.MaxPositionCount = 1
	c := NewController("f1", limits, nil)
	c.RecordTradeResult("BTC", decimal.NewFromInt(1), decimal.NewFromInt(100), types.Buy, types.ActionOpen, decimal.Zero)

	result := c.ValidateTrade(testEvent("ETH", decimal.NewFromInt(1)), decimal.NewFromFloat(1), decimal.NewFromInt(100), types.ActionOpen)
	if result.IsValid {
		t.Fatal("expected rejection: position count limit reached for a new symbol")
	}
	if result.RiskScore != 100 {
		t.Errorf("RiskScore = %d, want 100 on rejection", result.RiskScore)
	}
}

func TestValidateTradeClampsOnConcentration(t *testing.T) {
	t.Parallel()
	limits := testRiskLimits()
	limits.MaxConcentration = decimal.NewFromFloat(0.5)
	limits.MaxPositionValue = decimal.NewFromInt(100000)
	limits.MaxTradeNotional = decimal.NewFromInt(100000)
	c := NewController("f1", limits, nil)
	c.RecordTradeResult("BTC", decimal.NewFromInt(40), decimal.NewFromInt(100), types.Buy, types.ActionOpen, decimal.Zero)

	// Adding a large ETH position would push ETH concentration well above 50%.
	result := c.ValidateTrade(testEvent("ETH", decimal.NewFromInt(100)), decimal.NewFromFloat(1), decimal.NewFromInt(100), types.ActionOpen)
	if !result.IsValid {
		t.Fatalf("expected clamp not reject, got reason %q", result.Reason)
	}
	if !result.AdjustedQty.LessThan(decimal.NewFromInt(100)) {
		t.Errorf("AdjustedQty = %s, expected it to be clamped below 100", result.AdjustedQty)
	}
}

func TestRecordTradeResultAddAveragesEntryPrice(t *testing.T) {
	t.Parallel()
	c := NewController("f1", testRiskLimits(), nil)
	c.RecordTradeResult("BTC", decimal.NewFromInt(1), decimal.NewFromInt(100), types.Buy, types.ActionOpen, decimal.Zero)
	c.RecordTradeResult("BTC", decimal.NewFromInt(1), decimal.NewFromInt(200), types.Buy, types.ActionAdd, decimal.Zero)

	_, positions := c.Snapshot()
	pos, ok := positions["BTC"]
	if !ok {
		t.Fatal("expected BTC position to exist")
	}
	if !pos.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Quantity = %s, want 2", pos.Quantity)
	}
	if !pos.AvgPrice.Equal(decimal.NewFromInt(150)) {
		t.Errorf("AvgPrice = %s, want 150", pos.AvgPrice)
	}
}

func TestRecordTradeResultReduceDeletesOnFullClose(t *testing.T) {
	t.Parallel()
	c := NewController("f1", testRiskLimits(), nil)
	c.RecordTradeResult("BTC", decimal.NewFromInt(2), decimal.NewFromInt(100), types.Buy, types.ActionOpen, decimal.Zero)
	c.RecordTradeResult("BTC", decimal.NewFromInt(2), decimal.NewFromInt(100), types.Sell, types.ActionReduce, decimal.Zero)

	_, positions := c.Snapshot()
	if _, ok := positions["BTC"]; ok {
		t.Error("expected BTC position to be removed after full reduce")
	}
}
