package copytrade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/risk"
	"polymarket-mm/pkg/types"
)

// LeaderStatus is a leader account's approval state.
type LeaderStatus string

const (
	LeaderPending  LeaderStatus = "PENDING"
	LeaderApproved LeaderStatus = "APPROVED"
	LeaderRejected LeaderStatus = "REJECTED"
	LeaderActive   LeaderStatus = "ACTIVE"
)

// TradingModeConflict is returned when a user attempts to enter a trading
// mode that conflicts with one they already hold.
type TradingModeConflict struct {
	UserID      string
	Current     types.TradeMode
	Requested   types.TradeMode
}

func (e *TradingModeConflict) Error() string {
	return fmt.Sprintf("user %s already in mode %s, cannot enter %s", e.UserID, e.Current, e.Requested)
}

type leaderEntry struct {
	status  LeaderStatus
	monitor *LeaderMonitor
}

// CopyTradingSessionManager is the process-wide registry of leaders,
// followers, and the trading-mode mutex that keeps a user in at most one of
// {Grid, CopyLeader, CopyFollower} at a time.
type CopyTradingSessionManager struct {
	logger *slog.Logger

	leadersMu sync.RWMutex
	leaders   map[string]*leaderEntry // leaderID -> entry

	followersMu sync.RWMutex
	followers   map[string]*CopyTradingBot // followerID -> bot

	modesMu sync.Mutex
	modes   map[string]types.TradeMode // userID -> current mode

	onCopyTrade func(types.CopyTradeRecord)
}

// NewCopyTradingSessionManager creates an empty registry.
func NewCopyTradingSessionManager(logger *slog.Logger) *CopyTradingSessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &CopyTradingSessionManager{
		logger:    logger.With("component", "copy_trading_session_manager"),
		leaders:   make(map[string]*leaderEntry),
		followers: make(map[string]*CopyTradingBot),
		modes:     make(map[string]types.TradeMode),
	}
}

// OnCopyTrade registers a callback invoked after every copy-trade attempt
// (successful or not), for admin-surface event broadcasting.
func (m *CopyTradingSessionManager) OnCopyTrade(cb func(types.CopyTradeRecord)) {
	m.onCopyTrade = cb
}

// enterMode claims mode for userID, failing if the user already holds a
// different mode. Idempotent if the user already holds the same mode.
func (m *CopyTradingSessionManager) enterMode(userID string, mode types.TradeMode) error {
	m.modesMu.Lock()
	defer m.modesMu.Unlock()

	if current, ok := m.modes[userID]; ok && current != mode {
		return &TradingModeConflict{UserID: userID, Current: current, Requested: mode}
	}
	m.modes[userID] = mode
	return nil
}

func (m *CopyTradingSessionManager) releaseMode(userID string) {
	m.modesMu.Lock()
	defer m.modesMu.Unlock()
	delete(m.modes, userID)
}

// RegisterLeader marks userID as a pending leader, awaiting admin approval.
func (m *CopyTradingSessionManager) RegisterLeader(userID string) {
	m.leadersMu.Lock()
	defer m.leadersMu.Unlock()
	if _, exists := m.leaders[userID]; exists {
		return
	}
	m.leaders[userID] = &leaderEntry{status: LeaderPending}
}

// ApproveLeader moves a pending leader to Approved.
func (m *CopyTradingSessionManager) ApproveLeader(userID string) error {
	m.leadersMu.Lock()
	defer m.leadersMu.Unlock()
	entry, ok := m.leaders[userID]
	if !ok {
		return fmt.Errorf("leader %s not registered", userID)
	}
	entry.status = LeaderApproved
	return nil
}

// RejectLeader moves a pending leader to Rejected.
func (m *CopyTradingSessionManager) RejectLeader(userID string) error {
	m.leadersMu.Lock()
	defer m.leadersMu.Unlock()
	entry, ok := m.leaders[userID]
	if !ok {
		return fmt.Errorf("leader %s not registered", userID)
	}
	entry.status = LeaderRejected
	return nil
}

// ActivateLeader checks the trading-mode mutex and starts userID's
// LeaderMonitor if one is not already running.
func (m *CopyTradingSessionManager) ActivateLeader(userID string) (*LeaderMonitor, error) {
	m.leadersMu.Lock()
	entry, ok := m.leaders[userID]
	if !ok || (entry.status != LeaderApproved && entry.status != LeaderActive) {
		m.leadersMu.Unlock()
		return nil, fmt.Errorf("leader %s is not approved", userID)
	}
	m.leadersMu.Unlock()

	if err := m.enterMode(userID, types.TradeModeCopyLeader); err != nil {
		return nil, err
	}

	m.leadersMu.Lock()
	defer m.leadersMu.Unlock()
	if entry.monitor == nil {
		entry.monitor = NewLeaderMonitor(userID, m.logger)
	}
	entry.status = LeaderActive
	return entry.monitor, nil
}

// DeactivateLeader returns a leader to the approved state and releases its
// trading mode. The leader's monitor is kept and reused by a later
// ActivateLeader.
func (m *CopyTradingSessionManager) DeactivateLeader(userID string) {
	m.leadersMu.Lock()
	if entry, ok := m.leaders[userID]; ok {
		entry.status = LeaderApproved
	}
	m.leadersMu.Unlock()
	m.releaseMode(userID)
}

// StartFollowing validates both parties, creates a CopyTradingBot for
// followerID, and registers it as a callback on the leader's monitor.
func (m *CopyTradingSessionManager) StartFollowing(ctx context.Context, followerID, leaderID string, copyRatio decimal.Decimal, limits types.RiskLimits, exch Exchange) (*types.FollowerConfig, error) {
	if err := m.enterMode(followerID, types.TradeModeCopyFollower); err != nil {
		return nil, err
	}

	m.leadersMu.RLock()
	entry, ok := m.leaders[leaderID]
	m.leadersMu.RUnlock()
	if !ok || entry.monitor == nil {
		m.releaseMode(followerID)
		return nil, fmt.Errorf("leader %s has no active monitor", leaderID)
	}

	riskController := risk.NewController(followerID, limits, m.logger)
	bot := NewCopyTradingBot(followerID, leaderID, copyRatio, exch, riskController, m.logger)

	m.followersMu.Lock()
	m.followers[followerID] = bot
	m.followersMu.Unlock()

	entry.monitor.RegisterTradeCallback(followerID, func(e types.LeaderTradeEvent) {
		record := bot.HandleLeaderTrade(e)
		if m.onCopyTrade != nil {
			m.onCopyTrade(record)
		}
	})

	return &types.FollowerConfig{
		FollowerID: followerID,
		LeaderID:   leaderID,
		CopyRatio:  copyRatio,
		Active:     true,
	}, nil
}

// StopFollowing tears down a follower's bot and unregisters its callback.
func (m *CopyTradingSessionManager) StopFollowing(followerID, leaderID string) {
	m.followersMu.Lock()
	bot, ok := m.followers[followerID]
	delete(m.followers, followerID)
	m.followersMu.Unlock()
	if ok {
		bot.Stop()
	}

	m.leadersMu.RLock()
	entry, leaderOK := m.leaders[leaderID]
	m.leadersMu.RUnlock()
	if leaderOK && entry.monitor != nil {
		entry.monitor.UnregisterTradeCallback(followerID)
	}

	m.releaseMode(followerID)
}

// Follower returns the bot registered for followerID, if any.
func (m *CopyTradingSessionManager) Follower(followerID string) (*CopyTradingBot, bool) {
	m.followersMu.RLock()
	defer m.followersMu.RUnlock()
	b, ok := m.followers[followerID]
	return b, ok
}

// LeaderStatusOf returns a leader's current approval state.
func (m *CopyTradingSessionManager) LeaderStatusOf(userID string) (LeaderStatus, bool) {
	m.leadersMu.RLock()
	defer m.leadersMu.RUnlock()
	entry, ok := m.leaders[userID]
	if !ok {
		return "", false
	}
	return entry.status, true
}

// LeaderSummary is one leader's reportable state.
type LeaderSummary struct {
	UserID        string
	Status        LeaderStatus
	FollowerCount int
}

// Leaders lists every registered leader, for admin-surface reporting.
func (m *CopyTradingSessionManager) Leaders() []LeaderSummary {
	m.leadersMu.RLock()
	defer m.leadersMu.RUnlock()

	out := make([]LeaderSummary, 0, len(m.leaders))
	for userID, entry := range m.leaders {
		count := 0
		if entry.monitor != nil {
			count = entry.monitor.FollowerCount()
		}
		out = append(out, LeaderSummary{UserID: userID, Status: entry.status, FollowerCount: count})
	}
	return out
}

// Followers lists every active follower bot, for admin-surface reporting.
func (m *CopyTradingSessionManager) Followers() []*CopyTradingBot {
	m.followersMu.RLock()
	defer m.followersMu.RUnlock()

	out := make([]*CopyTradingBot, 0, len(m.followers))
	for _, bot := range m.followers {
		out = append(out, bot)
	}
	return out
}
