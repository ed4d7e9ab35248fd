package api

import (
	"time"

	"event-sniper/internal/engine"
	"event-sniper/pkg/types"
)

// Bridge adapts the hub into an engine.Observer so pipeline events stream
// to WebSocket clients. Metrics frames are throttled: the pipeline emits
// one per event, which would swamp clients during bursts.
type Bridge struct {
	hub          *Hub
	metricsEvery time.Duration
	lastMetrics  time.Time
}

// NewBridge wires a hub to the engine's observer interface.
func NewBridge(hub *Hub) *Bridge {
	return &Bridge{hub: hub, metricsEvery: time.Second}
}

// SignalGenerated implements engine.Observer.
func (b *Bridge) SignalGenerated(signal types.TradeSignal) {
	b.hub.BroadcastEvent(StreamEvent{
		Type:      "signal",
		Timestamp: time.Now(),
		Payload:   SignalPayload{Signal: signal},
	})
}

// TradeExecuted implements engine.Observer.
func (b *Bridge) TradeExecuted(signal types.TradeSignal, result types.ExecutionResult) {
	b.hub.BroadcastEvent(StreamEvent{
		Type:      "trade",
		Timestamp: time.Now(),
		Payload:   TradePayload{Signal: signal, Result: result},
	})
}

// ErrorOccurred implements engine.Observer.
func (b *Bridge) ErrorOccurred(err error) {
	b.hub.BroadcastEvent(StreamEvent{
		Type:      "error",
		Timestamp: time.Now(),
		Payload:   ErrorPayload{Error: err.Error()},
	})
}

// MetricsUpdated implements engine.Observer.
func (b *Bridge) MetricsUpdated(m engine.Metrics) {
	if time.Since(b.lastMetrics) < b.metricsEvery {
		return
	}
	b.lastMetrics = time.Now()
	b.hub.BroadcastEvent(StreamEvent{
		Type:      "metrics",
		Timestamp: time.Now(),
		Payload:   m,
	})
}
