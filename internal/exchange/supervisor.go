// supervisor.go implements a resilient WebSocket connection to the exchange's
// private (authenticated) feed: execution reports, order lifecycle events,
// and position updates.
//
// Beyond the simple reconnect loop, the supervisor adds:
//
//   - A 3-state circuit breaker (CLOSED/OPEN/HALF_OPEN) that stops hammering
//     a feed that is failing outright, rather than retrying forever at the
//     backoff ceiling.
//   - A health monitor that forces a reconnect if no message has arrived
//     within a staleness window, and proactively recycles long-lived
//     connections.
//   - A bounded, TTL'd set of processed fill IDs so a reconnect-triggered
//     re-delivery of the same execution report is not applied twice.
//
// Callback handlers registered via OnFill/OnOrder are invoked synchronously
// from the read loop and must not block — they exist only to enqueue work
// onto a session's event queue, never to do I/O themselves.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polymarket-mm/pkg/types"
)

const (
	backoffBase         = 3 * time.Second
	backoffMax          = 120 * time.Second
	brokenPipePenalty   = 7 * time.Second
	maxConsecutiveRetries = 8

	circuitFailureThreshold = 6
	circuitCooldown         = 120 * time.Second
	halfOpenTestAttempts    = 2
	halfOpenSuccessesNeeded = 2

	healthCheckInterval       = 90 * time.Second
	healthStalenessWindow     = 45 * time.Second
	proactiveReconnectAfter   = 6 * time.Hour

	processedFillTTL      = 300 * time.Second
	processedFillMaxSize  = 1000

	writeTimeout  = 10 * time.Second
	pingInterval  = 50 * time.Second
)

// CircuitState is one of the three states of the supervisor's circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ConnectionState is the supervisor's connection lifecycle, distinct from
// the circuit breaker: it tracks whether the socket itself is up, down, or
// permanently given up on, while the circuit breaker tracks whether
// reconnect attempts are currently being throttled.
type ConnectionState int

const (
	ConnDisconnected ConnectionState = iota
	ConnConnected
	ConnReconnecting
	ConnFailed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnDisconnected:
		return "DISCONNECTED"
	case ConnConnected:
		return "CONNECTED"
	case ConnReconnecting:
		return "RECONNECTING"
	case ConnFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// FillHandler receives an execution report. It must not block.
type FillHandler func(types.Fill)

// OrderHandler receives an order lifecycle update. It must not block.
type OrderHandler func(types.OrderRecord)

// WebSocketSupervisor manages one resilient private-feed connection.
type WebSocketSupervisor struct {
	url  string
	auth *Auth

	connMu sync.Mutex
	conn   *websocket.Conn

	circuitMu         sync.Mutex
	circuitState      CircuitState
	consecutiveFails  int
	halfOpenAttempts  int
	halfOpenSuccesses int
	openedAt          time.Time

	stateMu   sync.Mutex
	connState ConnectionState

	lastMessageMu sync.Mutex
	lastMessageAt time.Time
	connectedAt   time.Time

	processedMu sync.Mutex
	processed   map[string]time.Time
	order       []string // insertion order, for oldest-first eviction

	onFill  FillHandler
	onOrder OrderHandler

	logger *slog.Logger
}

// NewWebSocketSupervisor creates a supervisor for the private feed at url.
func NewWebSocketSupervisor(url string, auth *Auth, logger *slog.Logger) *WebSocketSupervisor {
	return &WebSocketSupervisor{
		url:          url,
		auth:         auth,
		circuitState: CircuitClosed,
		processed:    make(map[string]time.Time),
		logger:       logger.With("component", "ws_supervisor"),
	}
}

// OnFill registers the callback invoked for each execution report.
func (s *WebSocketSupervisor) OnFill(h FillHandler) { s.onFill = h }

// OnOrder registers the callback invoked for each order lifecycle update.
func (s *WebSocketSupervisor) OnOrder(h OrderHandler) { s.onOrder = h }

// State returns the current circuit breaker state.
func (s *WebSocketSupervisor) State() CircuitState {
	s.circuitMu.Lock()
	defer s.circuitMu.Unlock()
	return s.circuitState
}

// ConnectionState returns the supervisor's current connection lifecycle
// state (DISCONNECTED/CONNECTED/RECONNECTING/FAILED).
func (s *WebSocketSupervisor) ConnectionState() ConnectionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.connState
}

func (s *WebSocketSupervisor) setConnState(state ConnectionState) {
	s.stateMu.Lock()
	s.connState = state
	s.stateMu.Unlock()
}

// Run connects and maintains the connection, honoring the circuit breaker,
// until ctx is cancelled or the circuit trips to a terminal failure after
// maxConsecutiveRetries exhausted attempts. Blocks until then.
func (s *WebSocketSupervisor) Run(ctx context.Context) error {
	healthCtx, healthCancel := context.WithCancel(ctx)
	defer healthCancel()
	go s.healthMonitor(healthCtx)

	s.setConnState(ConnDisconnected)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if wait, ok := s.gateOnCircuit(); !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A connection that reached CONNECTED ends the run of consecutive failures.
		if s.ConnectionState() == ConnConnected {
			attempt = 0
		}
		s.recordFailure(err)
		attempt++

		s.logger.Warn("private feed disconnected, reconnecting",
			"error", err, "attempt", attempt, "circuit", s.State().String())

		if attempt >= maxConsecutiveRetries {
			s.setConnState(ConnFailed)
			return fmt.Errorf("exhausted %d consecutive reconnect attempts: %w", maxConsecutiveRetries, err)
		}

		s.setConnState(ConnReconnecting)

		backoff := computeBackoff(attempt, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// computeBackoff follows the schedule base*2^(n-1) capped at backoffMax, with
// an extra penalty added when the failure looks like a broken pipe (the
// write-side counterpart to a dropped read connection, which tends to
// recur immediately if retried too quickly).
func computeBackoff(attempt int, lastErr error) time.Duration {
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffMax {
			d = backoffMax
			break
		}
	}
	if lastErr != nil && strings.Contains(strings.ToLower(lastErr.Error()), "broken pipe") {
		d += brokenPipePenalty
	}
	return d
}

// gateOnCircuit returns (0, true) when a connection attempt should proceed
// now, or (wait, false) when the caller should sleep wait and re-check.
func (s *WebSocketSupervisor) gateOnCircuit() (time.Duration, bool) {
	s.circuitMu.Lock()
	defer s.circuitMu.Unlock()

	switch s.circuitState {
	case CircuitClosed:
		return 0, true
	case CircuitOpen:
		remaining := circuitCooldown - time.Since(s.openedAt)
		if remaining <= 0 {
			s.circuitState = CircuitHalfOpen
			s.halfOpenAttempts = 0
			s.halfOpenSuccesses = 0
			return 0, true
		}
		return remaining, false
	case CircuitHalfOpen:
		if s.halfOpenAttempts >= halfOpenTestAttempts {
			// Waiting for in-flight test attempts to resolve.
			return time.Second, false
		}
		s.halfOpenAttempts++
		return 0, true
	default:
		return 0, true
	}
}

func (s *WebSocketSupervisor) recordSuccess() {
	s.circuitMu.Lock()
	defer s.circuitMu.Unlock()

	s.consecutiveFails = 0
	switch s.circuitState {
	case CircuitHalfOpen:
		s.halfOpenSuccesses++
		if s.halfOpenSuccesses >= halfOpenSuccessesNeeded {
			s.circuitState = CircuitClosed
		}
	case CircuitOpen:
		// Shouldn't happen (gateOnCircuit would have blocked), but be defensive.
		s.circuitState = CircuitClosed
	}
}

func (s *WebSocketSupervisor) recordFailure(err error) {
	s.circuitMu.Lock()
	defer s.circuitMu.Unlock()

	if s.circuitState == CircuitHalfOpen {
		s.circuitState = CircuitOpen
		s.openedAt = time.Now()
		return
	}

	s.consecutiveFails++
	if s.consecutiveFails >= circuitFailureThreshold {
		s.circuitState = CircuitOpen
		s.openedAt = time.Now()
	}
}

func (s *WebSocketSupervisor) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.connectedAt = time.Now()
	s.touchLastMessage()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	if err := s.authenticate(); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	s.logger.Info("private feed connected")
	s.recordSuccess()
	s.setConnState(ConnConnected)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(healthStalenessWindow * 2))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.touchLastMessage()
		s.dispatchMessage(msg)
	}
}

func (s *WebSocketSupervisor) authenticate() error {
	payload := struct {
		Event string            `json:"event"`
		Auth  map[string]string `json:"params"`
	}{Event: "auth", Auth: s.auth.WSAuthPayload()}
	return s.writeJSON(payload)
}

func (s *WebSocketSupervisor) touchLastMessage() {
	s.lastMessageMu.Lock()
	s.lastMessageAt = time.Now()
	s.lastMessageMu.Unlock()
}

func (s *WebSocketSupervisor) timeSinceLastMessage() time.Duration {
	s.lastMessageMu.Lock()
	defer s.lastMessageMu.Unlock()
	if s.lastMessageAt.IsZero() {
		return 0
	}
	return time.Since(s.lastMessageAt)
}

// healthMonitor forces a reconnect when the feed has gone quiet longer than
// healthStalenessWindow, and proactively recycles connections older than
// proactiveReconnectAfter even when healthy.
func (s *WebSocketSupervisor) healthMonitor(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			conn := s.conn
			s.connMu.Unlock()
			if conn == nil {
				continue
			}

			if s.timeSinceLastMessage() > healthStalenessWindow {
				s.logger.Warn("private feed stale, forcing reconnect", "silence", s.timeSinceLastMessage())
				conn.Close()
				continue
			}
			if time.Since(s.connectedAt) > proactiveReconnectAfter {
				s.logger.Info("private feed connection aged out, proactively reconnecting")
				conn.Close()
			}
		}
	}
}

func (s *WebSocketSupervisor) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (s *WebSocketSupervisor) writeJSON(v interface{}) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *WebSocketSupervisor) writeMessage(msgType int, data []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(msgType, data)
}

func (s *WebSocketSupervisor) dispatchMessage(data []byte) {
	var envelope struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.Topic {
	case "executionreport":
		var fill types.Fill
		if err := json.Unmarshal(data, &fill); err != nil {
			s.logger.Error("unmarshal execution report", "error", err)
			return
		}
		if !s.markProcessed(fill.FillID) {
			return
		}
		if s.onFill != nil {
			s.onFill(fill)
		}
	case "order":
		var order types.OrderRecord
		if err := json.Unmarshal(data, &order); err != nil {
			s.logger.Error("unmarshal order event", "error", err)
			return
		}
		if s.onOrder != nil {
			s.onOrder(order)
		}
	default:
		s.logger.Debug("ignoring ws topic", "topic", envelope.Topic)
	}
}

// markProcessed returns true the first time fillID is seen within the TTL
// window, and false for a duplicate (a re-delivery after reconnect). It
// evicts entries older than processedFillTTL and caps the set at
// processedFillMaxSize, evicting the oldest entries first.
func (s *WebSocketSupervisor) markProcessed(fillID string) bool {
	if fillID == "" {
		return true
	}

	s.processedMu.Lock()
	defer s.processedMu.Unlock()

	now := time.Now()
	if seenAt, ok := s.processed[fillID]; ok && now.Sub(seenAt) < processedFillTTL {
		return false
	}

	s.processed[fillID] = now
	s.order = append(s.order, fillID)

	cutoff := now.Add(-processedFillTTL)
	for len(s.order) > 0 {
		oldest := s.order[0]
		if seenAt, ok := s.processed[oldest]; !ok || seenAt.Before(cutoff) {
			delete(s.processed, oldest)
			s.order = s.order[1:]
			continue
		}
		break
	}
	for len(s.order) > processedFillMaxSize {
		oldest := s.order[0]
		delete(s.processed, oldest)
		s.order = s.order[1:]
	}

	return true
}
