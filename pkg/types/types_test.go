package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	if Buy.Opposite() != Sell {
		t.Errorf("Buy.Opposite() = %s, want SELL", Buy.Opposite())
	}
	if Sell.Opposite() != Buy {
		t.Errorf("Sell.Opposite() = %s, want BUY", Sell.Opposite())
	}
}

func TestOrderRecordRemaining(t *testing.T) {
	t.Parallel()

	o := &OrderRecord{
		Quantity:  decimal.NewFromFloat(10),
		FilledQty: decimal.NewFromFloat(6),
	}
	if got := o.Remaining(); !got.Equal(decimal.NewFromFloat(4)) {
		t.Errorf("Remaining() = %s, want 4", got)
	}
}

func TestOrderRecordIsActive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status OrderStatus
		want   bool
	}{
		{OrderStatusNew, true},
		{OrderStatusPartiallyFilled, true},
		{OrderStatusFilled, false},
		{OrderStatusCancelled, false},
		{OrderStatusRejected, false},
	}

	for _, tt := range tests {
		o := &OrderRecord{Status: tt.status}
		if got := o.IsActive(); got != tt.want {
			t.Errorf("IsActive() for status %s = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestPositionUnrealizedPnL(t *testing.T) {
	t.Parallel()

	p := &Position{
		Side:      Buy,
		Quantity:  decimal.NewFromFloat(2),
		AvgPrice:  decimal.NewFromFloat(100),
		MarkPrice: decimal.NewFromFloat(110),
	}
	if got := p.UnrealizedPnL(); !got.Equal(decimal.NewFromFloat(20)) {
		t.Errorf("UnrealizedPnL() long = %s, want 20", got)
	}

	p.Side = Sell
	if got := p.UnrealizedPnL(); !got.Equal(decimal.NewFromFloat(-20)) {
		t.Errorf("UnrealizedPnL() short = %s, want -20", got)
	}

	p.Quantity = decimal.Zero
	if got := p.UnrealizedPnL(); !got.IsZero() {
		t.Errorf("UnrealizedPnL() flat = %s, want 0", got)
	}
}
