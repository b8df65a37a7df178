package copytrade

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"polymarket-mm/pkg/types"
)

func reportJSON(t *testing.T, r executionReport) []byte {
	t.Helper()
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestParseExecutionReportAcceptsFilled(t *testing.T) {
	t.Parallel()
	m := NewLeaderMonitor("leader-1", nil)

	raw := reportJSON(t, executionReport{
		Status: "FILLED", Symbol: "PERP_ETH_USDC", Side: "buy", Type: "LIMIT",
		ExecutedPrice: "2500.5", ExecutedQty: "1.25", OrderID: "o1", Timestamp: 1700000000000,
	})
	event, ok := m.parseExecutionReport(raw)
	if !ok {
		t.Fatal("expected report to be accepted")
	}
	if event.Side != types.Buy || event.Action != types.ActionOpen {
		t.Errorf("event = %+v, want Buy/Open", event)
	}
}

func TestParseExecutionReportRejectsOtherStatus(t *testing.T) {
	t.Parallel()
	m := NewLeaderMonitor("leader-1", nil)
	raw := reportJSON(t, executionReport{Status: "NEW", Symbol: "PERP_ETH_USDC", Side: "buy", ExecutedQty: "1", OrderID: "o1"})
	if _, ok := m.parseExecutionReport(raw); ok {
		t.Fatal("expected NEW status to be rejected")
	}
}

func TestParseExecutionReportRejectsZeroQty(t *testing.T) {
	t.Parallel()
	m := NewLeaderMonitor("leader-1", nil)
	raw := reportJSON(t, executionReport{Status: "FILLED", Symbol: "PERP_ETH_USDC", Side: "buy", ExecutedPrice: "100", ExecutedQty: "0", OrderID: "o1"})
	if _, ok := m.parseExecutionReport(raw); ok {
		t.Fatal("expected zero executed quantity to be rejected")
	}
}

func TestParseExecutionReportReduceOnlyMapsToClose(t *testing.T) {
	t.Parallel()
	m := NewLeaderMonitor("leader-1", nil)
	raw := reportJSON(t, executionReport{Status: "PARTIAL_FILL", Symbol: "PERP_ETH_USDC", Side: "sell", ExecutedPrice: "100", ExecutedQty: "1", OrderID: "o1", ReduceOnly: true})
	event, ok := m.parseExecutionReport(raw)
	if !ok {
		t.Fatal("expected report to be accepted")
	}
	if event.Action != types.ActionClose {
		t.Errorf("Action = %s, want Close", event.Action)
	}
}

func TestIsDuplicateRejectsRepeatedOrderID(t *testing.T) {
	t.Parallel()
	m := NewLeaderMonitor("leader-1", nil)
	if m.isDuplicate("o1") {
		t.Fatal("first occurrence should not be a duplicate")
	}
	if !m.isDuplicate("o1") {
		t.Fatal("second occurrence should be a duplicate")
	}
}

func TestCompactProcessedKeepsSizeBounded(t *testing.T) {
	t.Parallel()
	m := NewLeaderMonitor("leader-1", nil)
	for i := 0; i < processedOrderCap+10; i++ {
		m.isDuplicate(string(rune(i)) + "-order")
	}
	if len(m.processed) > processedOrderCap {
		t.Errorf("processed set = %d entries, want <= %d", len(m.processed), processedOrderCap)
	}
}

func TestBroadcastTradeEventIsolatesPanickingCallback(t *testing.T) {
	t.Parallel()
	m := NewLeaderMonitor("leader-1", nil)

	var mu sync.Mutex
	var goodCalled bool

	m.RegisterTradeCallback("bad", func(types.LeaderTradeEvent) { panic("boom") })
	m.RegisterTradeCallback("good", func(types.LeaderTradeEvent) {
		mu.Lock()
		goodCalled = true
		mu.Unlock()
	})

	m.broadcastTradeEvent(types.LeaderTradeEvent{LeaderID: "leader-1", OrderID: "o1"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		called := goodCalled
		mu.Unlock()
		if called {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("good callback was never invoked despite the bad callback panicking")
}

func TestRegisterUnregisterTradeCallback(t *testing.T) {
	t.Parallel()
	m := NewLeaderMonitor("leader-1", nil)
	m.RegisterTradeCallback("f1", func(types.LeaderTradeEvent) {})
	if m.FollowerCount() != 1 {
		t.Fatalf("FollowerCount = %d, want 1", m.FollowerCount())
	}
	m.UnregisterTradeCallback("f1")
	if m.FollowerCount() != 0 {
		t.Fatalf("FollowerCount = %d, want 0 after unregister", m.FollowerCount())
	}
}
