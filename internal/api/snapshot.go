package api

import (
	"sort"
	"time"

	"event-sniper/internal/engine"
	"event-sniper/internal/prices"
	"event-sniper/pkg/types"
)

// MetricsProvider exposes the engine's counters; satisfied by
// engine.Engine.
type MetricsProvider interface {
	Metrics() engine.Metrics
}

// PortfolioReader is the read-only slice of the portfolio manager the API
// consumes.
type PortfolioReader interface {
	Cash() float64
	Positions() map[string]types.Position
	TotalUnrealizedPnL() float64
	TotalMarketValue() float64
}

// snapshotter assembles Snapshots from the live components. Portfolio and
// prices may be nil; their sections come back empty.
type snapshotter struct {
	metrics   MetricsProvider
	portfolio PortfolioReader
	prices    *prices.Cache
	dryRun    bool
	startedAt time.Time
}

func (s *snapshotter) build() Snapshot {
	snap := Snapshot{
		Status:        "ok",
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		DryRun:        s.dryRun,
		GeneratedAt:   time.Now(),
	}
	if s.metrics != nil {
		snap.Metrics = s.metrics.Metrics()
	}
	if s.portfolio != nil {
		snap.Portfolio = buildPortfolio(s.portfolio)
	}
	if s.prices != nil {
		snap.Prices = s.prices.Snapshot()
	}
	return snap
}

func buildPortfolio(p PortfolioReader) PortfolioSnapshot {
	held := p.Positions()
	positions := make([]types.Position, 0, len(held))
	for _, pos := range held {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].TokenID < positions[j].TokenID })

	return PortfolioSnapshot{
		Cash:          p.Cash(),
		Positions:     positions,
		UnrealizedPnL: p.TotalUnrealizedPnL(),
		MarketValue:   p.TotalMarketValue(),
	}
}
