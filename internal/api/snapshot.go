package api

import (
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/pkg/types"
)

// SessionProvider is the subset of the engine the admin surface reads to
// build a snapshot and to serve session/leader/follower commands.
type SessionProvider interface {
	ListGridSessions() []GridSessionView
	ListLeaders() []LeaderView
	ListFollowers() []FollowerView
}

// BuildSnapshot aggregates state from all components into an admin snapshot.
func BuildSnapshot(provider SessionProvider, cfg config.Config) DashboardSnapshot {
	return DashboardSnapshot{
		Timestamp: time.Now(),
		Sessions:  provider.ListGridSessions(),
		Leaders:   provider.ListLeaders(),
		Followers: provider.ListFollowers(),
		Config:    NewConfigSummary(cfg),
	}
}

// ConvertRiskSnapshot projects a risk.Controller snapshot into its
// JSON-facing form.
func ConvertRiskSnapshot(daily types.DailyStats, positions map[string]types.PositionInfo) RiskSnapshot {
	views := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, PositionView{
			Symbol:   p.Symbol,
			Quantity: p.Quantity.InexactFloat64(),
			AvgPrice: p.AvgPrice.InexactFloat64(),
			Notional: p.Notional.InexactFloat64(),
		})
	}
	return RiskSnapshot{
		Date:        daily.Date,
		RealizedPnL: daily.RealizedPnL.InexactFloat64(),
		TradeCount:  daily.TradeCount,
		RiskScore:   daily.RiskScore,
		Positions:   views,
	}
}
