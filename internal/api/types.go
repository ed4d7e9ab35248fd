package api

import (
	"time"

	"event-sniper/internal/engine"
	"event-sniper/internal/prices"
	"event-sniper/pkg/types"
)

// StreamEvent is one frame pushed to WebSocket clients: a type tag plus a
// type-specific payload.
type StreamEvent struct {
	Type      string    `json:"type"` // snapshot | signal | trade | error | metrics
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Snapshot is the full state view served by /api/snapshot and pushed to
// WebSocket clients on connect.
type Snapshot struct {
	Status        string                  `json:"status"`
	UptimeSeconds float64                 `json:"uptime_seconds"`
	DryRun        bool                    `json:"dry_run"`
	Metrics       engine.Metrics          `json:"metrics"`
	Portfolio     PortfolioSnapshot       `json:"portfolio"`
	Prices        map[string]prices.Quote `json:"prices"`
	GeneratedAt   time.Time               `json:"generated_at"`
}

// PortfolioSnapshot is the portfolio section of a Snapshot.
type PortfolioSnapshot struct {
	Cash          float64          `json:"cash"`
	Positions     []types.Position `json:"positions"`
	UnrealizedPnL float64          `json:"unrealized_pnl"`
	MarketValue   float64          `json:"market_value"`
}

// TradeView is one row of /api/trades.
type TradeView struct {
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	TokenID       string    `json:"token_id"`
	Side          string    `json:"side"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	Fees          float64   `json:"fees"`
	ExecutedAt    time.Time `json:"executed_at"`
}

// SignalPayload is the payload of a "signal" stream event.
type SignalPayload struct {
	Signal types.TradeSignal `json:"signal"`
}

// TradePayload is the payload of a "trade" stream event.
type TradePayload struct {
	Signal types.TradeSignal     `json:"signal"`
	Result types.ExecutionResult `json:"result"`
}

// ErrorPayload is the payload of an "error" stream event.
type ErrorPayload struct {
	Error string `json:"error"`
}
