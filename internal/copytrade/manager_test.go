package copytrade

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

func TestRegisterApproveActivateLeader(t *testing.T) {
	t.Parallel()
	m := NewCopyTradingSessionManager(nil)
	m.RegisterLeader("leader-1")

	if status, _ := m.LeaderStatusOf("leader-1"); status != LeaderPending {
		t.Fatalf("status = %s, want Pending", status)
	}

	if err := m.ApproveLeader("leader-1"); err != nil {
		t.Fatalf("ApproveLeader: %v", err)
	}

	monitor, err := m.ActivateLeader("leader-1")
	if err != nil {
		t.Fatalf("ActivateLeader: %v", err)
	}
	if monitor == nil {
		t.Fatal("expected a non-nil monitor")
	}
	if status, _ := m.LeaderStatusOf("leader-1"); status != LeaderActive {
		t.Errorf("status = %s, want Active", status)
	}
}

func TestActivateLeaderRejectsUnapproved(t *testing.T) {
	t.Parallel()
	m := NewCopyTradingSessionManager(nil)
	m.RegisterLeader("leader-1")

	if _, err := m.ActivateLeader("leader-1"); err == nil {
		t.Fatal("expected activation to fail before approval")
	}
}

func TestActivateLeaderRejectsWhenAlreadyFollowing(t *testing.T) {
	t.Parallel()
	m := NewCopyTradingSessionManager(nil)
	m.RegisterLeader("user-1")
	m.ApproveLeader("user-1")

	if err := m.enterMode("user-1", types.TradeModeCopyFollower); err != nil {
		t.Fatalf("enterMode: %v", err)
	}

	_, err := m.ActivateLeader("user-1")
	if err == nil {
		t.Fatal("expected TradingModeConflict")
	}
	if _, ok := err.(*TradingModeConflict); !ok {
		t.Errorf("error type = %T, want *TradingModeConflict", err)
	}
}

func TestStartFollowingRegistersCallbackAndStopFollowingRemovesIt(t *testing.T) {
	t.Parallel()
	m := NewCopyTradingSessionManager(nil)
	m.RegisterLeader("leader-1")
	m.ApproveLeader("leader-1")
	monitor, err := m.ActivateLeader("leader-1")
	if err != nil {
		t.Fatalf("ActivateLeader: %v", err)
	}

	exch := &fakeExchange{}
	limits := testRiskLimits()
	_, err = m.StartFollowing(context.Background(), "follower-1", "leader-1", decimal.NewFromFloat(1), limits, exch)
	if err != nil {
		t.Fatalf("StartFollowing: %v", err)
	}
	if monitor.FollowerCount() != 1 {
		t.Fatalf("FollowerCount = %d, want 1", monitor.FollowerCount())
	}

	if _, ok := m.Follower("follower-1"); !ok {
		t.Fatal("expected follower bot to be registered")
	}

	m.StopFollowing("follower-1", "leader-1")
	if monitor.FollowerCount() != 0 {
		t.Errorf("FollowerCount after stop = %d, want 0", monitor.FollowerCount())
	}
	if _, ok := m.Follower("follower-1"); ok {
		t.Error("expected follower bot to be removed")
	}
}

func TestOnCopyTradeFiresAfterLeaderTrade(t *testing.T) {
	t.Parallel()
	m := NewCopyTradingSessionManager(nil)
	m.RegisterLeader("leader-1")
	m.ApproveLeader("leader-1")
	monitor, err := m.ActivateLeader("leader-1")
	if err != nil {
		t.Fatalf("ActivateLeader: %v", err)
	}

	var received types.CopyTradeRecord
	got := make(chan struct{}, 1)
	m.OnCopyTrade(func(r types.CopyTradeRecord) {
		received = r
		got <- struct{}{}
	})

	exch := &fakeExchange{}
	_, err = m.StartFollowing(context.Background(), "follower-1", "leader-1", decimal.NewFromFloat(1), testRiskLimits(), exch)
	if err != nil {
		t.Fatalf("StartFollowing: %v", err)
	}

	monitor.broadcastTradeEvent(testLeaderEvent())

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("expected OnCopyTrade callback to fire")
	}
	if received.FollowerID != "follower-1" || received.LeaderID != "leader-1" {
		t.Errorf("record = %+v, want follower-1/leader-1", received)
	}
}

func TestStartFollowingRejectsConflictingMode(t *testing.T) {
	t.Parallel()
	m := NewCopyTradingSessionManager(nil)
	m.RegisterLeader("leader-1")
	m.ApproveLeader("leader-1")
	if _, err := m.ActivateLeader("leader-1"); err != nil {
		t.Fatalf("ActivateLeader: %v", err)
	}

	if err := m.enterMode("follower-1", types.TradeModeGrid); err != nil {
		t.Fatalf("enterMode: %v", err)
	}

	_, err := m.StartFollowing(context.Background(), "follower-1", "leader-1", decimal.NewFromFloat(1), testRiskLimits(), &fakeExchange{})
	if err == nil {
		t.Fatal("expected conflict with existing Grid mode")
	}
}
