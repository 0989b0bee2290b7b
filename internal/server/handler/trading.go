package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/digitbot/internal/domain"
	"github.com/alanyoungcy/digitbot/internal/server/middleware"
	"github.com/alanyoungcy/digitbot/internal/service"
)

// Bridge is the part of the request bridge the HTTP layer drives.
type Bridge interface {
	Mode() string
	DoConnect(ctx context.Context, token string) (service.ConnectResult, error)
	DoAnalyze(ctx context.Context, sessionID string) (domain.Estimate, error)
	DoTrade(ctx context.Context, req service.TradeRequest) (domain.Purchase, error)
	DoGetBalance(ctx context.Context, token string) (domain.Balance, error)
	DoDisconnect(ctx context.Context, sessionID string) error
	Sessions() []domain.SessionInfo
	Trades(ctx context.Context, sessionID string, limit int) ([]domain.TradeRecord, error)
	Audit(ctx context.Context, sessionID string, limit int) ([]domain.AuditEntry, error)
}

// TradingHandler serves the dashboard API.
type TradingHandler struct {
	bridge Bridge
	logger *slog.Logger
}

// NewTradingHandler creates a TradingHandler.
func NewTradingHandler(bridge Bridge, logger *slog.Logger) *TradingHandler {
	return &TradingHandler{
		bridge: bridge,
		logger: logger.With(slog.String("handler", "trading")),
	}
}

type tokenRequest struct {
	Token string `json:"token"`
}

type tradeRequest struct {
	Signal    string           `json:"signal"`
	Amount    *decimal.Decimal `json:"amount"`
	SessionID string           `json:"session_id"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

// Connect authorizes a token and opens a session.
// POST /api/connect
func (h *TradingHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, "Invalid request body")
		return
	}

	res, err := h.bridge.DoConnect(r.Context(), req.Token)
	if err != nil {
		h.fail(w, r, "connect", err)
		return
	}

	setSessionCookie(w, res.SessionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "Connected & Authorized",
		"balance":    res.Balance.Amount.InexactFloat64(),
		"currency":   res.Balance.Currency,
		"session_id": res.SessionID,
	})
}

// Analyze returns a signal recommendation.
// GET /api/analyze
func (h *TradingHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	est, err := h.bridge.DoAnalyze(r.Context(), sessionID(r, ""))
	if err != nil {
		h.fail(w, r, "analyze", err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

// Trade places one EVEN/ODD contract.
// POST /api/trade
func (h *TradingHandler) Trade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, "Invalid request body")
		return
	}

	p, err := h.bridge.DoTrade(r.Context(), service.TradeRequest{
		SessionID: sessionID(r, req.SessionID),
		Signal:    req.Signal,
		Amount:    req.Amount,
	})
	if err != nil {
		h.fail(w, r, "trade", err)
		return
	}

	resp := map[string]any{
		"success": true,
		"result":  p.Summary(),
	}
	if p.HasBalance {
		resp["balance"] = p.BalanceAfter.InexactFloat64()
	}
	if p.Settled {
		resp["won"] = p.Won
	}
	writeJSON(w, http.StatusOK, resp)
}

// Balance reads the balance of a token without opening a session.
// POST /api/balance
func (h *TradingHandler) Balance(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, "Invalid request body")
		return
	}

	bal, err := h.bridge.DoGetBalance(r.Context(), req.Token)
	if err != nil {
		h.fail(w, r, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"balance":  bal.Amount.InexactFloat64(),
		"currency": bal.Currency,
	})
}

// Disconnect closes the caller's session.
// POST /api/disconnect
func (h *TradingHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, "Invalid request body")
		return
	}

	if err := h.bridge.DoDisconnect(r.Context(), sessionID(r, req.SessionID)); err != nil {
		h.fail(w, r, "disconnect", err)
		return
	}
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Disconnected"})
}

// Sessions lists live sessions. Operators see every session; anyone else
// sees only the session named by their cookie or session_id.
// GET /api/sessions
func (h *TradingHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions := []domain.SessionInfo{}
	all := h.bridge.Sessions()
	if middleware.IsOperator(r.Context()) {
		sessions = append(sessions, all...)
	} else if id := sessionID(r, ""); id != "" {
		for _, s := range all {
			if s.ID == id {
				sessions = append(sessions, s)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":     h.bridge.Mode(),
		"sessions": sessions,
	})
}

// Trades lists recently journaled trades, scoped like Sessions. An operator
// without session_id gets every session's trades.
// GET /api/trades
func (h *TradingHandler) Trades(w http.ResponseWriter, r *http.Request) {
	id, ok := h.scope(r)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "trades": []domain.TradeRecord{}})
		return
	}
	trades, err := h.bridge.Trades(r.Context(), id, parseLimit(r))
	if err != nil {
		h.fail(w, r, "trades", err)
		return
	}
	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "trades": trades})
}

// Audit lists recent session and trade lifecycle events, scoped like Trades.
// GET /api/audit
func (h *TradingHandler) Audit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.scope(r)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "entries": []domain.AuditEntry{}})
		return
	}
	entries, err := h.bridge.Audit(r.Context(), id, parseLimit(r))
	if err != nil {
		h.fail(w, r, "audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "entries": entries})
}

// scope picks the session a read is limited to. ok is false when a
// non-operator names no session and so may read nothing.
func (h *TradingHandler) scope(r *http.Request) (id string, ok bool) {
	if middleware.IsOperator(r.Context()) {
		return r.URL.Query().Get("session_id"), true
	}
	id = sessionID(r, "")
	return id, id != ""
}

// fail reports err as {success:false}. Broker and validation messages are
// passed through verbatim; anything else is logged as an internal error.
func (h *TradingHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		be *domain.BrokerError
		ve *domain.ValidationError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &be):
		h.logger.InfoContext(r.Context(), "request rejected",
			slog.String("op", op),
			slog.String("reason", err.Error()),
		)
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
	writeFailure(w, domain.UserMessage(err))
}
