package market

import (
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

func testMarketInfo() types.MarketInfo {
	return types.MarketInfo{
		Symbol:      "PERP_ETH_USDC",
		TickSize:    decimal.NewFromFloat(0.01),
		StepSize:    decimal.NewFromFloat(0.001),
		MinQuantity: decimal.NewFromFloat(0.001),
		MinNotional: decimal.NewFromFloat(10),
	}
}

func TestNormalizePriceFloorsToTick(t *testing.T) {
	t.Parallel()
	v := NewMarketValidator([]types.MarketInfo{testMarketInfo()})

	got, err := v.NormalizePrice("PERP_ETH_USDC", decimal.NewFromFloat(2500.567))
	if err != nil {
		t.Fatalf("NormalizePrice: %v", err)
	}
	if !got.Equal(decimal.NewFromFloat(2500.56)) {
		t.Errorf("got %s, want 2500.56", got)
	}
}

func TestNormalizeQuantityFloorsToStep(t *testing.T) {
	t.Parallel()
	v := NewMarketValidator([]types.MarketInfo{testMarketInfo()})

	got, err := v.NormalizeQuantity("PERP_ETH_USDC", decimal.NewFromFloat(1.2349))
	if err != nil {
		t.Fatalf("NormalizeQuantity: %v", err)
	}
	if !got.Equal(decimal.NewFromFloat(1.234)) {
		t.Errorf("got %s, want 1.234", got)
	}
}

func TestNormalizeUnknownSymbol(t *testing.T) {
	t.Parallel()
	v := NewMarketValidator(nil)

	if _, err := v.NormalizePrice("NOPE", decimal.NewFromFloat(1)); err == nil {
		t.Fatal("expected error for unknown symbol")
	}
}

func TestValidateOrderRejectsBelowMinNotional(t *testing.T) {
	t.Parallel()
	v := NewMarketValidator([]types.MarketInfo{testMarketInfo()})

	err := v.ValidateOrder("PERP_ETH_USDC", decimal.NewFromFloat(1), decimal.NewFromFloat(1))
	if err == nil {
		t.Fatal("expected error for order below min notional")
	}
}

func TestValidateOrderAccepts(t *testing.T) {
	t.Parallel()
	v := NewMarketValidator([]types.MarketInfo{testMarketInfo()})

	err := v.ValidateOrder("PERP_ETH_USDC", decimal.NewFromFloat(2500), decimal.NewFromFloat(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateGridConfigRejectsInvertedRange(t *testing.T) {
	t.Parallel()
	v := NewMarketValidator([]types.MarketInfo{testMarketInfo()})

	cfg := types.GridConfig{
		Symbol:        "PERP_ETH_USDC",
		Direction:     types.DirectionBoth,
		Mode:          types.GridArithmetic,
		UpperPrice:    decimal.NewFromFloat(2000),
		LowerPrice:    decimal.NewFromFloat(2500),
		GridCount:     10,
		TotalMargin:   decimal.NewFromFloat(1000),
	}
	if err := v.ValidateGridConfig(cfg); err == nil {
		t.Fatal("expected error for inverted price range")
	}
}

func TestValidateGridConfigAccepts(t *testing.T) {
	t.Parallel()
	v := NewMarketValidator([]types.MarketInfo{testMarketInfo()})

	cfg := types.GridConfig{
		Symbol:        "PERP_ETH_USDC",
		Direction:     types.DirectionBoth,
		Mode:          types.GridArithmetic,
		UpperPrice:    decimal.NewFromFloat(2600),
		LowerPrice:    decimal.NewFromFloat(2400),
		GridCount:     10,
		TotalMargin:   decimal.NewFromFloat(1000),
	}
	if err := v.ValidateGridConfig(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
