// Package risk enforces per-follower risk limits for copy-trading sessions.
//
// Each follower owns one Controller. Every incoming leader trade is checked
// against the follower's RiskLimits before it is copied: per-trade notional
// is clamped, daily loss is enforced as a hard stop, and position count,
// total exposure, and single-symbol concentration are clamped or rejected.
// A running risk_score accumulates how close a trade came to tripping a
// limit, for dashboards and alerting — it never gates the trade itself.
package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

const maxRiskScore = 99

var (
	tenPercent = decimal.NewFromFloat(0.10)
	eightyPct  = decimal.NewFromFloat(0.80)
	twentyPct  = decimal.NewFromFloat(0.20)
)

// ValidationResult is what ValidateTrade returns: either the trade is
// rejected outright, or it may proceed with AdjustedQty in place of the
// event's original quantity.
type ValidationResult struct {
	IsValid     bool
	Reason      string
	AdjustedQty decimal.Decimal
	RiskScore   int
}

// Controller enforces one follower's RiskLimits across all symbols it is
// copy-trading. All state lives behind a single mutex: copy-trade decisions
// are infrequent enough that one lock per follower is not a contention
// concern, and it keeps ValidateTrade/RecordTradeResult trivially race-free.
type Controller struct {
	followerID string
	limits     types.RiskLimits
	logger     *slog.Logger

	mu        sync.Mutex
	daily     types.DailyStats
	positions map[string]types.PositionInfo
}

// NewController creates a risk controller for one follower.
func NewController(followerID string, limits types.RiskLimits, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		followerID: followerID,
		limits:     limits,
		logger:     logger.With("component", "risk_controller", "follower_id", followerID),
		daily:      types.DailyStats{Date: today()},
		positions:  make(map[string]types.PositionInfo),
	}
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

func (c *Controller) resetDailyIfNeededLocked() {
	d := today()
	if c.daily.Date != d {
		c.daily = types.DailyStats{Date: d}
	}
}

// ValidateTrade runs the 7-step risk check against one leader trade event,
// scaled by copyRatio, for the given action (Open/Add/Reduce/Close).
func (c *Controller) ValidateTrade(event types.LeaderTradeEvent, copyRatio decimal.Decimal, currentPrice decimal.Decimal, action types.PositionAction) ValidationResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetDailyIfNeededLocked()

	price := currentPrice
	if price.IsZero() {
		price = event.Price
	}

	followerQty := event.Quantity.Mul(copyRatio)
	adjustedQty := followerQty
	tradeValue := followerQty.Mul(price)
	riskScore := 0

	// Step: per-trade notional clamp.
	if c.limits.MaxTradeNotional.IsPositive() && tradeValue.GreaterThan(c.limits.MaxTradeNotional) {
		clamped := c.limits.MaxTradeNotional.Div(price)
		if clamped.LessThan(followerQty.Mul(tenPercent)) {
			return ValidationResult{IsValid: false, Reason: "trade size below 10% of original after per-trade clamp", RiskScore: 100}
		}
		adjustedQty = clamped
		riskScore += 30
	}

	// Step: hard daily-loss stop.
	if c.limits.MaxDailyLoss.IsPositive() && c.daily.RealizedPnL.Neg().GreaterThanOrEqual(c.limits.MaxDailyLoss) {
		return ValidationResult{IsValid: false, Reason: "daily loss limit reached", RiskScore: 100}
	}

	// Step: approaching daily-loss limit raises the score without rejecting.
	if c.limits.MaxDailyLoss.IsPositive() {
		lossRemaining := c.limits.MaxDailyLoss.Add(c.daily.RealizedPnL) // RealizedPnL is negative when losing
		if lossRemaining.LessThan(c.limits.MaxDailyLoss.Mul(twentyPct)) {
			riskScore += 40
		}
	}

	if action == types.ActionOpen || action == types.ActionAdd {
		// Step: position-count limit.
		_, alreadyHeld := c.positions[event.Symbol]
		if c.limits.MaxPositionCount > 0 {
			if len(c.positions) >= c.limits.MaxPositionCount && !alreadyHeld {
				return ValidationResult{IsValid: false, Reason: "max position count reached", RiskScore: 100}
			}
			if decimal.NewFromInt(int64(len(c.positions))).GreaterThanOrEqual(decimal.NewFromInt(int64(c.limits.MaxPositionCount)).Mul(eightyPct)) {
				riskScore += 20
			}
		}

		// Step: total position-value clamp.
		currentTotal := c.totalPositionValueLocked(price)
		if c.limits.MaxPositionValue.IsPositive() {
			projected := currentTotal.Add(adjustedQty.Mul(price))
			if projected.GreaterThan(c.limits.MaxPositionValue) {
				room := c.limits.MaxPositionValue.Sub(currentTotal)
				if room.LessThanOrEqual(decimal.Zero) {
					return ValidationResult{IsValid: false, Reason: "position value limit reached", RiskScore: 100}
				}
				adjustedQty = room.Div(price)
				riskScore += 25
			}
		}

		// Step: single-symbol concentration clamp. Skipped while no position
		// is held, where any trade would be the whole book.
		if c.limits.MaxConcentration.IsPositive() && currentTotal.IsPositive() {
			existing := c.positions[event.Symbol]
			existingValue := existing.Quantity.Mul(price)
			newSymbolValue := existingValue.Add(adjustedQty.Mul(price))
			newTotal := currentTotal.Add(adjustedQty.Mul(price))
			if newTotal.IsPositive() && newSymbolValue.Div(newTotal).GreaterThan(c.limits.MaxConcentration) {
				// Solve for the largest adjustedQty keeping the ratio at the limit:
				// (existingValue + q*price) / (currentTotal + q*price) = maxConcentration
				numerator := c.limits.MaxConcentration.Mul(currentTotal).Sub(existingValue)
				denominator := price.Mul(decimal.NewFromInt(1).Sub(c.limits.MaxConcentration))
				if denominator.LessThanOrEqual(decimal.Zero) || numerator.LessThanOrEqual(decimal.Zero) {
					return ValidationResult{IsValid: false, Reason: "concentration limit makes trade infeasible", RiskScore: 100}
				}
				clamped := numerator.Div(denominator)
				if clamped.LessThanOrEqual(decimal.Zero) {
					return ValidationResult{IsValid: false, Reason: "concentration limit makes trade infeasible", RiskScore: 100}
				}
				adjustedQty = decimal.Min(adjustedQty, clamped)
				riskScore += 15
			}
		}
	}

	if riskScore > maxRiskScore {
		riskScore = maxRiskScore
	}

	return ValidationResult{IsValid: true, AdjustedQty: adjustedQty, RiskScore: riskScore}
}

func (c *Controller) totalPositionValueLocked(markPrice decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, p := range c.positions {
		total = total.Add(p.Quantity.Mul(markPrice))
	}
	return total
}

// RecordTradeResult updates the follower's position book and daily stats
// after a copy-trade has actually executed.
func (c *Controller) RecordTradeResult(symbol string, qty, price decimal.Decimal, side types.Side, action types.PositionAction, pnl decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetDailyIfNeededLocked()
	c.daily.TradeCount++

	switch action {
	case types.ActionOpen:
		c.positions[symbol] = types.PositionInfo{Symbol: symbol, Quantity: qty, AvgPrice: price, Notional: qty.Mul(price)}
	case types.ActionAdd:
		existing, ok := c.positions[symbol]
		if !ok {
			c.positions[symbol] = types.PositionInfo{Symbol: symbol, Quantity: qty, AvgPrice: price, Notional: qty.Mul(price)}
			break
		}
		newQty := existing.Quantity.Add(qty)
		newNotional := existing.Quantity.Mul(existing.AvgPrice).Add(qty.Mul(price))
		avg := price
		if newQty.IsPositive() {
			avg = newNotional.Div(newQty)
		}
		c.positions[symbol] = types.PositionInfo{Symbol: symbol, Quantity: newQty, AvgPrice: avg, Notional: newQty.Mul(avg)}
	case types.ActionReduce:
		existing, ok := c.positions[symbol]
		if ok {
			remaining := existing.Quantity.Sub(qty)
			if remaining.LessThanOrEqual(decimal.Zero) {
				delete(c.positions, symbol)
			} else {
				existing.Quantity = remaining
				existing.Notional = remaining.Mul(existing.AvgPrice)
				c.positions[symbol] = existing
			}
		}
	case types.ActionClose:
		delete(c.positions, symbol)
	}

	c.daily.RealizedPnL = c.daily.RealizedPnL.Add(pnl)
}

// Snapshot returns the follower's current daily stats and open positions.
func (c *Controller) Snapshot() (types.DailyStats, map[string]types.PositionInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	positions := make(map[string]types.PositionInfo, len(c.positions))
	for k, v := range c.positions {
		positions[k] = v
	}
	return c.daily, positions
}

// RunDailyReset blocks until ctx is cancelled, resetting daily stats at each
// UTC midnight. One goroutine per follower controller.
func (c *Controller) RunDailyReset(ctx context.Context) {
	for {
		wait := time.Until(nextUTCMidnight())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			c.mu.Lock()
			c.daily = types.DailyStats{Date: today()}
			c.mu.Unlock()
			c.logger.Info("daily risk stats reset")
		}
	}
}

func nextUTCMidnight() time.Time {
	now := time.Now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return next
}
