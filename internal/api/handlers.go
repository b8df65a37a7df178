package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/copytrade"
	"polymarket-mm/pkg/types"
)

// Commander is the subset of the engine that mutates session/leader/follower
// state. Handlers never touch grid, risk, or copytrade internals directly —
// every command is routed through this boundary.
type Commander interface {
	StartGridSession(ctx context.Context, userID string, cfg types.GridConfig) (*types.Session, error)
	StopGridSession(sessionID string) error
	GetGridSession(sessionID string) (GridSessionView, bool)
	RegisterLeader(userID string)
	ApproveLeader(userID string) error
	RejectLeader(userID string) error
	StartFollowing(ctx context.Context, followerID, leaderID string, copyRatio decimal.Decimal) error
	StopFollowing(followerID, leaderID string) error
}

// Engine is everything the admin HTTP surface needs from the orchestrator.
type Engine interface {
	SessionProvider
	Commander
	Events() <-chan Event
}

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	engine Engine
	cfg    config.Config
	hub    *Hub
	logger *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(engine Engine, cfg config.Config, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		engine: engine,
		cfg:    cfg,
		hub:    hub,
		logger: logger.With("component", "api-handlers"),
	}
}

// apiError is the JSON error body for every non-2xx response.
type apiError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiError{ErrorCode: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSnapshot returns the current admin-surface state.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BuildSnapshot(h.engine, h.cfg))
}

// startSessionRequest is the JSON body for POST /sessions.
type startSessionRequest struct {
	UserID        string          `json:"user_id"`
	Symbol        string          `json:"symbol"`
	Direction     string          `json:"direction"`
	Mode          string          `json:"mode"`
	Sizing        string          `json:"sizing"`
	UpperPrice    decimal.Decimal `json:"upper_price"`
	LowerPrice    decimal.Decimal `json:"lower_price"`
	GridCount     int             `json:"grid_count"`
	TotalMargin   decimal.Decimal `json:"total_margin"`
	FeeRate       decimal.Decimal `json:"fee_rate"`
	StopUpper     decimal.Decimal `json:"stop_upper"`
	StopLower     decimal.Decimal `json:"stop_lower"`
}

// HandleStartSession handles POST /sessions.
func (h *Handlers) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_body", err.Error())
		return
	}
	if req.UserID == "" || req.Symbol == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing_fields", "user_id and symbol are required")
		return
	}

	cfg := types.GridConfig{
		Symbol:        req.Symbol,
		Direction:     types.GridDirection(req.Direction),
		Mode:          types.GridMode(req.Mode),
		Sizing:        types.SizingMode(req.Sizing),
		UpperPrice:    req.UpperPrice,
		LowerPrice:    req.LowerPrice,
		GridCount:     req.GridCount,
		TotalMargin:   req.TotalMargin,
		FeeRate:       req.FeeRate,
		StopUpper:     req.StopUpper,
		StopLower:     req.StopLower,
	}

	session, err := h.engine.StartGridSession(r.Context(), req.UserID, cfg)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "session_start_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// HandleStopSession handles DELETE /sessions/{id}.
func (h *Handlers) HandleStopSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := h.engine.StopGridSession(sessionID); err != nil {
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// HandleGetSession handles GET /sessions/{id}.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	view, ok := h.engine.GetGridSession(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found", "no session with that id")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleApproveLeader handles POST /admin/leaders/{id}/approve.
func (h *Handlers) HandleApproveLeader(w http.ResponseWriter, r *http.Request, userID string) {
	if err := h.engine.ApproveLeader(userID); err != nil {
		writeError(w, http.StatusNotFound, "leader_not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// HandleRejectLeader handles POST /admin/leaders/{id}/reject.
func (h *Handlers) HandleRejectLeader(w http.ResponseWriter, r *http.Request, userID string) {
	if err := h.engine.RejectLeader(userID); err != nil {
		writeError(w, http.StatusNotFound, "leader_not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// followRequest is the JSON body for POST /follow.
type followRequest struct {
	FollowerID string          `json:"follower_id"`
	LeaderID   string          `json:"leader_id"`
	CopyRatio  decimal.Decimal `json:"copy_ratio"`
}

// HandleStartFollowing handles POST /follow.
func (h *Handlers) HandleStartFollowing(w http.ResponseWriter, r *http.Request) {
	var req followRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_body", err.Error())
		return
	}
	if req.FollowerID == "" || req.LeaderID == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing_fields", "follower_id and leader_id are required")
		return
	}

	err := h.engine.StartFollowing(r.Context(), req.FollowerID, req.LeaderID, req.CopyRatio)
	if err != nil {
		var conflict *copytrade.TradingModeConflict
		if errors.As(err, &conflict) {
			writeError(w, http.StatusConflict, "trading_mode_conflict", err.Error())
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "follow_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "following"})
}

// HandleStopFollowing handles DELETE /follow/{id}. leaderID comes from a
// query parameter since a follower may only follow one leader at a time.
func (h *Handlers) HandleStopFollowing(w http.ResponseWriter, r *http.Request, followerID string) {
	leaderID := r.URL.Query().Get("leader_id")
	h.engine.StopFollowing(followerID, leaderID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// HandleWebSocket upgrades the connection and creates a new WebSocket client.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.cfg.Admin, req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn)

	snapshot := BuildSnapshot(h.engine, h.cfg)
	evt := Event{Type: "snapshot", Data: snapshot}

	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal initial snapshot", "error", err)
		return
	}

	select {
	case client.send <- data:
	default:
		h.logger.Warn("failed to send initial snapshot to client")
	}
}

func isOriginAllowed(origin string, cfg config.AdminConfig, reqHost string) bool {
	if origin == "" {
		// Non-browser clients often omit Origin; keep this path functional.
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
