package grid

import (
	"sync"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// lot is one still-open piece of inventory, FIFO-ordered within its side.
// Value is the lot's total, fee-inclusive cost (for a long lot) or revenue
// (for a short lot) basis for its remaining Quantity — not a per-unit price
// — so that proportional matching against a partial close divides cleanly.
type lot struct {
	Quantity decimal.Decimal
	Value    decimal.Decimal
}

// ProfitTracker accumulates realized grid profit using FIFO lot matching: a
// BUY first closes out any open SELL lots (oldest first) before opening a
// new long lot with whatever quantity remains, and symmetrically for SELL.
// This mirrors a perpetual account's actual position accounting far more
// closely than a single running-average-cost figure, and is what lets grid
// profit be attributed per matched round trip rather than as one aggregate
// number.
type ProfitTracker struct {
	mu sync.Mutex

	symbol  string
	feeRate decimal.Decimal

	longLots  []lot // open BUY lots awaiting a matching SELL
	shortLots []lot // open SELL lots awaiting a matching BUY

	gridProfit  decimal.Decimal // realized profit from matched round trips
	totalFees   decimal.Decimal // cumulative trading fees paid, all fills
	fundingFees decimal.Decimal
	orderModPnL decimal.Decimal

	totalMarginAllocated decimal.Decimal

	arbitrageCount int
	winCount       int
	lossCount      int
	totalWinAmount decimal.Decimal
	totalLossAmount decimal.Decimal
	maxWin         decimal.Decimal
	maxLoss        decimal.Decimal
}

// NewProfitTracker creates a tracker for one symbol. feeRate is the taker
// fee applied to a fill whose reported Fee is zero. totalMarginAllocated is
// the session's configured capital, used by CapitalUtilization.
func NewProfitTracker(symbol string, feeRate, totalMarginAllocated decimal.Decimal) *ProfitTracker {
	return &ProfitTracker{
		symbol:               symbol,
		feeRate:              feeRate,
		totalMarginAllocated: totalMarginAllocated,
		gridProfit:           decimal.Zero,
		totalFees:            decimal.Zero,
		fundingFees:          decimal.Zero,
		orderModPnL:          decimal.Zero,
	}
}

// AddTrade applies one fill to the FIFO ledger, matching it against the
// opposite side's open lots before opening a new lot with any remainder. A
// zero fee means "compute it from feeRate"; pass the exchange-reported fee
// directly otherwise.
func (p *ProfitTracker) AddTrade(side types.Side, price, qty, fee decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	notional := price.Mul(qty)
	if fee.IsZero() {
		fee = notional.Mul(p.feeRate)
	}
	p.totalFees = p.totalFees.Add(fee)

	if side == types.Buy {
		buyCost := notional.Add(fee)
		remaining := p.matchAgainst(&p.shortLots, buyCost, qty, false)
		if remaining.IsPositive() {
			remainingValue := buyCost.Mul(remaining).Div(qty)
			p.longLots = append(p.longLots, lot{Quantity: remaining, Value: remainingValue})
		}
		return
	}

	sellRevenue := notional.Sub(fee)
	remaining := p.matchAgainst(&p.longLots, sellRevenue, qty, true)
	if remaining.IsPositive() {
		remainingValue := sellRevenue.Mul(remaining).Div(qty)
		p.shortLots = append(p.shortLots, lot{Quantity: remaining, Value: remainingValue})
	}
}

// matchAgainst consumes lots (oldest first) up to closingQty, proportionally
// splitting both the lot's basis and the closing trade's value across each
// matched chunk, and returns the quantity left unmatched. longClose is true
// when a long lot is being closed out (profit = closing value - lot basis);
// false when a short lot is being closed out (profit = lot basis - closing
// value).
func (p *ProfitTracker) matchAgainst(lots *[]lot, closingValue, closingQty decimal.Decimal, longClose bool) decimal.Decimal {
	remaining := closingQty
	l := *lots

	for len(l) > 0 && remaining.IsPositive() {
		head := l[0]
		matched := decimal.Min(head.Quantity, remaining)

		matchedHeadValue := head.Value.Mul(matched).Div(head.Quantity)
		matchedClosingValue := closingValue.Mul(matched).Div(closingQty)

		var profit decimal.Decimal
		if longClose {
			profit = matchedClosingValue.Sub(matchedHeadValue)
		} else {
			profit = matchedHeadValue.Sub(matchedClosingValue)
		}
		p.gridProfit = p.gridProfit.Add(profit)
		p.arbitrageCount++
		p.recordWinLossLocked(profit)

		head.Quantity = head.Quantity.Sub(matched)
		head.Value = head.Value.Sub(matchedHeadValue)
		remaining = remaining.Sub(matched)

		if head.Quantity.IsZero() {
			l = l[1:]
		} else {
			l[0] = head
		}
	}

	*lots = l
	return remaining
}

func (p *ProfitTracker) recordWinLossLocked(profit decimal.Decimal) {
	if profit.IsPositive() {
		p.winCount++
		p.totalWinAmount = p.totalWinAmount.Add(profit)
		if profit.GreaterThan(p.maxWin) {
			p.maxWin = profit
		}
		return
	}
	if profit.IsNegative() {
		p.lossCount++
		p.totalLossAmount = p.totalLossAmount.Add(profit)
		if profit.LessThan(p.maxLoss) {
			p.maxLoss = profit
		}
	}
}

// AddFundingFee records a funding payment (negative) or receipt (positive).
func (p *ProfitTracker) AddFundingFee(amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fundingFees = p.fundingFees.Add(amount)
}

// AddOrderModificationPnL records a PnL adjustment from an out-of-band order
// modification (e.g. exchange-initiated amend) that bypassed AddTrade.
func (p *ProfitTracker) AddOrderModificationPnL(amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orderModPnL = p.orderModPnL.Add(amount)
}

// UnrealizedPnL marks every still-open lot to markPrice, net of the taker fee
// that would be paid to close it.
func (p *ProfitTracker) UnrealizedPnL(markPrice decimal.Decimal) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unrealizedPnLLocked(markPrice)
}

func (p *ProfitTracker) unrealizedPnLLocked(markPrice decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	oneMinusFee := decimal.NewFromInt(1).Sub(p.feeRate)
	onePlusFee := decimal.NewFromInt(1).Add(p.feeRate)
	for _, l := range p.longLots {
		closeValueAfterFee := l.Quantity.Mul(markPrice).Mul(oneMinusFee)
		total = total.Add(closeValueAfterFee.Sub(l.Value))
	}
	for _, l := range p.shortLots {
		buybackCostAfterFee := l.Quantity.Mul(markPrice).Mul(onePlusFee)
		total = total.Add(l.Value.Sub(buybackCostAfterFee))
	}
	return total
}

// NetPosition sums the still-open lots into a single net side/quantity, for
// a session's residual-position close at stop. Buy with a zero quantity
// means flat.
func (p *ProfitTracker) NetPosition() (types.Side, decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	longQty := decimal.Zero
	for _, l := range p.longLots {
		longQty = longQty.Add(l.Quantity)
	}
	shortQty := decimal.Zero
	for _, l := range p.shortLots {
		shortQty = shortQty.Add(l.Quantity)
	}

	net := longQty.Sub(shortQty)
	if net.IsZero() {
		return types.Buy, decimal.Zero
	}
	if net.IsNegative() {
		return types.Sell, net.Neg()
	}
	return types.Buy, net
}

// CapitalUtilization returns the fraction (as a percentage) of
// totalMarginAllocated currently tied up in open lots' cost/revenue basis.
// Returns zero if no margin was allocated.
func (p *ProfitTracker) CapitalUtilization() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capitalUtilizationLocked()
}

func (p *ProfitTracker) capitalUtilizationLocked() decimal.Decimal {
	if !p.totalMarginAllocated.IsPositive() {
		return decimal.Zero
	}
	used := decimal.Zero
	for _, l := range p.longLots {
		used = used.Add(l.Value)
	}
	for _, l := range p.shortLots {
		used = used.Add(l.Value)
	}
	return used.Div(p.totalMarginAllocated).Mul(decimal.NewFromInt(100))
}

// Summary produces the persisted end-of-session report.
func (p *ProfitTracker) Summary(sessionID string, markPrice decimal.Decimal) types.GridSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	unrealized := p.unrealizedPnLLocked(markPrice)
	unpaired := unrealized.Sub(p.totalFees).Add(p.fundingFees).Add(p.orderModPnL)
	total := p.gridProfit.Add(unpaired)

	closedTrades := p.winCount + p.lossCount
	winRate := decimal.Zero
	avgWin := decimal.Zero
	avgLoss := decimal.Zero
	if closedTrades > 0 {
		winRate = decimal.NewFromInt(int64(p.winCount)).Div(decimal.NewFromInt(int64(closedTrades))).Mul(decimal.NewFromInt(100))
	}
	if p.winCount > 0 {
		avgWin = p.totalWinAmount.Div(decimal.NewFromInt(int64(p.winCount)))
	}
	if p.lossCount > 0 {
		avgLoss = p.totalLossAmount.Div(decimal.NewFromInt(int64(p.lossCount)))
	}

	return types.GridSummary{
		SessionID:          sessionID,
		Symbol:             p.symbol,
		GridProfit:         p.gridProfit,
		UnrealizedPnL:      unrealized,
		UnpairedProfit:     unpaired,
		TotalProfit:        total,
		CapitalUtilization: p.capitalUtilizationLocked(),
		ArbitrageCount:     p.arbitrageCount,
		FundingFees:        p.fundingFees,
		WinCount:           p.winCount,
		LossCount:          p.lossCount,
		WinRate:            winRate,
		AvgWin:             avgWin,
		AvgLoss:            avgLoss,
		MaxWin:             p.maxWin,
		MaxLoss:            p.maxLoss,
	}
}
