package engine

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	return config.Config{
		DryRun: true,
		Account: config.AccountConfig{
			PrivateKey: "0x4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d",
			AccountID:  "acct-123",
			ChainID:    421614,
		},
		API: config.APIConfig{
			BaseURL:   baseURL,
			WSPrivate: "ws://127.0.0.1:0",
			Key:       "orderly-key",
			Secret:    "c2VjcmV0LWJ5dGVz",
		},
		Store: config.StoreConfig{DataDir: t.TempDir()},
		Risk: config.RiskConfig{
			MaxPositionCount: 5,
			MaxPositionValue: 10000,
			MaxDailyLoss:     1000,
			MaxConcentration: 0.5,
			MaxTradeNotional: 5000,
		},
	}
}

func newTestEngine(t *testing.T, baseURL string) *Engine {
	t.Helper()
	eng, err := New(testConfig(t, baseURL), testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(eng.Stop)
	return eng
}

func orderbookServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbol":"BTC-PERP","bids":[["50000","1"]],"asks":[["50010","1"]]}`))
	}))
}

func testGridConfig(symbol string) types.GridConfig {
	return types.GridConfig{
		Symbol:        symbol,
		Direction:     types.DirectionBoth,
		Mode:          types.GridArithmetic,
		Sizing:        types.SizingFixedQuantity,
		UpperPrice:    decimal.NewFromInt(51000),
		LowerPrice:    decimal.NewFromInt(49000),
		GridCount:     4,
		TotalMargin:   decimal.NewFromInt(4000),
	}
}

func TestStartGridSessionAppearsInListAndGet(t *testing.T) {
	t.Parallel()

	srv := orderbookServer(t)
	defer srv.Close()
	eng := newTestEngine(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := eng.StartGridSession(ctx, "user-1", testGridConfig("BTC-PERP"))
	if err != nil {
		t.Fatalf("StartGridSession() error = %v", err)
	}
	if session.SessionID == "" {
		t.Fatal("expected a non-empty session id")
	}
	if session.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", session.UserID)
	}

	views := eng.ListGridSessions()
	if len(views) != 1 {
		t.Fatalf("ListGridSessions() returned %d sessions, want 1", len(views))
	}
	if views[0].SessionID != session.SessionID {
		t.Errorf("listed session id = %q, want %q", views[0].SessionID, session.SessionID)
	}

	view, ok := eng.GetGridSession(session.SessionID)
	if !ok {
		t.Fatal("GetGridSession() ok = false, want true")
	}
	if view.Symbol != "BTC-PERP" {
		t.Errorf("Symbol = %q, want BTC-PERP", view.Symbol)
	}

	if err := eng.StopGridSession(session.SessionID); err != nil {
		t.Fatalf("StopGridSession() error = %v", err)
	}
	if _, ok := eng.GetGridSession(session.SessionID); ok {
		t.Error("expected session to be gone after StopGridSession")
	}
}

func TestStopGridSessionNotFound(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, "http://127.0.0.1:0")
	if err := eng.StopGridSession("no-such-session"); err == nil {
		t.Error("expected an error stopping an unknown session")
	}
}

func TestStartGridSessionRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	srv := orderbookServer(t)
	defer srv.Close()
	eng := newTestEngine(t, srv.URL)

	cfg := testGridConfig("BTC-PERP")
	cfg.GridCount = 1 // below the minimum of 2

	_, err := eng.StartGridSession(context.Background(), "user-1", cfg)
	if err == nil {
		t.Fatal("expected an error for an invalid grid config")
	}
}

func TestLeaderApprovalLifecycle(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, "http://127.0.0.1:0")

	eng.RegisterLeader("leader-1")
	leaders := eng.ListLeaders()
	if len(leaders) != 1 || leaders[0].UserID != "leader-1" {
		t.Fatalf("ListLeaders() = %+v, want one entry for leader-1", leaders)
	}
	if leaders[0].Status != "PENDING" {
		t.Errorf("Status = %q, want PENDING", leaders[0].Status)
	}

	if err := eng.ApproveLeader("leader-1"); err != nil {
		t.Fatalf("ApproveLeader() error = %v", err)
	}

	leaders = eng.ListLeaders()
	if leaders[0].Status != "ACTIVE" {
		t.Errorf("Status after approval = %q, want ACTIVE", leaders[0].Status)
	}
}

func TestRejectUnknownLeader(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, "http://127.0.0.1:0")
	if err := eng.RejectLeader("ghost"); err == nil {
		t.Error("expected an error rejecting a leader that was never registered")
	}
}

func TestStopFollowingNotFound(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, "http://127.0.0.1:0")
	if err := eng.StopFollowing("no-such-follower", "leader-1"); err == nil {
		t.Error("expected an error stopping an unknown follower")
	}
}

func TestStartFollowingRequiresActiveLeader(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, "http://127.0.0.1:0")
	err := eng.StartFollowing(context.Background(), "follower-1", "leader-never-approved", decimal.NewFromFloat(0.5))
	if err == nil {
		t.Error("expected an error following a leader with no active monitor")
	}
}

func TestStartFollowingAndListFollowers(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, "http://127.0.0.1:0")
	eng.RegisterLeader("leader-1")
	if err := eng.ApproveLeader("leader-1"); err != nil {
		t.Fatalf("ApproveLeader() error = %v", err)
	}

	err := eng.StartFollowing(context.Background(), "follower-1", "leader-1", decimal.NewFromFloat(0.5))
	if err != nil {
		t.Fatalf("StartFollowing() error = %v", err)
	}

	followers := eng.ListFollowers()
	if len(followers) != 1 {
		t.Fatalf("ListFollowers() returned %d entries, want 1", len(followers))
	}
	if followers[0].FollowerID != "follower-1" || followers[0].LeaderID != "leader-1" {
		t.Errorf("follower view = %+v, want follower-1/leader-1", followers[0])
	}

	if err := eng.StopFollowing("follower-1", "leader-1"); err != nil {
		t.Fatalf("StopFollowing() error = %v", err)
	}
	if len(eng.ListFollowers()) != 0 {
		t.Error("expected no followers after StopFollowing")
	}
}
