package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"event-sniper/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Loopback status endpoint, no origin policy needed.
		return true
	},
}

// TradeReader serves /api/trades; satisfied by store.Store.
type TradeReader interface {
	Trades(ctx context.Context, tokenID string, limit int) ([]store.Trade, error)
}

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	snap   *snapshotter
	trades TradeReader
	hub    *Hub
	logger *slog.Logger
}

const defaultTradeLimit = 50

// HandleHealth returns liveness plus uptime.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"uptime": time.Since(h.snap.startedAt).String(),
	})
}

// HandleSnapshot returns the full state view.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.snap.build()); err != nil {
		h.logger.Error("failed to encode snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// HandleTrades returns recent fills, newest first. Query params: limit
// (default 50), token_id.
func (h *Handlers) HandleTrades(w http.ResponseWriter, r *http.Request) {
	if h.trades == nil {
		http.Error(w, "store not configured", http.StatusNotFound)
		return
	}

	limit := defaultTradeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	trades, err := h.trades.Trades(r.Context(), r.URL.Query().Get("token_id"), limit)
	if err != nil {
		h.logger.Error("failed to query trades", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	views := make([]TradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, TradeView{
			OrderID:       t.OrderID,
			ClientOrderID: t.ClientOrderID,
			TokenID:       t.TokenID,
			Side:          string(t.Side),
			Quantity:      t.Quantity,
			Price:         t.Price,
			Fees:          t.Fees,
			ExecutedAt:    t.ExecutedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// HandleWebSocket upgrades the connection, registers the client, and sends
// the current snapshot as the first frame.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn)

	evt := StreamEvent{
		Type:    "snapshot",
		Payload: h.snap.build(),
	}
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
