package exchange

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func newTestSupervisor() *WebSocketSupervisor {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewWebSocketSupervisor("wss://example.invalid/ws", &Auth{}, logger)
}

func TestMarkProcessedRejectsDuplicate(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor()

	if !s.markProcessed("fill-1") {
		t.Fatal("expected first delivery of fill-1 to be accepted")
	}
	if s.markProcessed("fill-1") {
		t.Fatal("expected re-delivery of fill-1 to be rejected")
	}
	if !s.markProcessed("fill-2") {
		t.Fatal("expected fill-2 to be accepted")
	}
}

func TestMarkProcessedCapsSize(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor()

	for i := 0; i < processedFillMaxSize+50; i++ {
		s.markProcessed(string(rune(i)) + "-fill")
	}
	if len(s.order) > processedFillMaxSize {
		t.Errorf("processed set size = %d, want <= %d", len(s.order), processedFillMaxSize)
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor()

	for i := 0; i < circuitFailureThreshold; i++ {
		s.recordFailure(errors.New("dial failed"))
	}
	if s.State() != CircuitOpen {
		t.Fatalf("state = %s, want OPEN after %d failures", s.State(), circuitFailureThreshold)
	}
}

func TestCircuitBreakerHalfOpenClosesAfterSuccesses(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor()

	for i := 0; i < circuitFailureThreshold; i++ {
		s.recordFailure(errors.New("dial failed"))
	}
	s.circuitMu.Lock()
	s.openedAt = time.Now().Add(-circuitCooldown - time.Second)
	s.circuitMu.Unlock()

	if _, ok := s.gateOnCircuit(); !ok {
		t.Fatal("expected gate to allow a half-open test attempt after cooldown")
	}
	if s.State() != CircuitHalfOpen {
		t.Fatalf("state = %s, want HALF_OPEN", s.State())
	}

	for i := 0; i < halfOpenSuccessesNeeded; i++ {
		s.recordSuccess()
	}
	if s.State() != CircuitClosed {
		t.Fatalf("state = %s, want CLOSED after %d successes", s.State(), halfOpenSuccessesNeeded)
	}
}

func TestCircuitBreakerHalfOpenReopensOnFailure(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor()

	s.circuitMu.Lock()
	s.circuitState = CircuitHalfOpen
	s.circuitMu.Unlock()

	s.recordFailure(errors.New("dial failed"))
	if s.State() != CircuitOpen {
		t.Fatalf("state = %s, want OPEN after a half-open failure", s.State())
	}
}

func TestComputeBackoffSchedule(t *testing.T) {
	t.Parallel()

	want := []time.Duration{
		3 * time.Second,
		6 * time.Second,
		12 * time.Second,
		24 * time.Second,
		48 * time.Second,
		96 * time.Second,
		120 * time.Second,
		120 * time.Second,
	}
	for i, w := range want {
		got := computeBackoff(i+1, nil)
		if got != w {
			t.Errorf("computeBackoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestComputeBackoffBrokenPipePenalty(t *testing.T) {
	t.Parallel()

	base := computeBackoff(1, nil)
	withPenalty := computeBackoff(1, errors.New("write: broken pipe"))
	if withPenalty != base+brokenPipePenalty {
		t.Errorf("broken-pipe backoff = %v, want %v", withPenalty, base+brokenPipePenalty)
	}
}

func TestConnectionStateDefaultsToDisconnected(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor()
	if got := s.ConnectionState(); got != ConnDisconnected {
		t.Errorf("initial ConnectionState = %v, want ConnDisconnected", got)
	}
}

func TestConnectionStateString(t *testing.T) {
	t.Parallel()
	cases := []struct {
		state ConnectionState
		want  string
	}{
		{ConnDisconnected, "DISCONNECTED"},
		{ConnConnected, "CONNECTED"},
		{ConnReconnecting, "RECONNECTING"},
		{ConnFailed, "FAILED"},
	}
	for _, c := range cases {
		if got := c.state.String(); got != c.want {
			t.Errorf("%d.String() = %q, want %q", c.state, got, c.want)
		}
	}
}

func TestSetConnStateRoundTrips(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor()
	s.setConnState(ConnFailed)
	if got := s.ConnectionState(); got != ConnFailed {
		t.Errorf("ConnectionState after setConnState(ConnFailed) = %v, want ConnFailed", got)
	}
}
