// Package portfolio tracks cash and open positions, enforces pre-order
// risk checks, and applies fills. All methods are called from the engine's
// drain loop, so the manager carries no locking of its own.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"event-sniper/pkg/types"
)

// Balancer reports available cash; satisfied by the executor.
type Balancer interface {
	GetBalance(ctx context.Context) (float64, error)
}

// PositionStore is the persistence slice the manager needs; satisfied by
// store.Store.
type PositionStore interface {
	UpsertPosition(ctx context.Context, p types.Position) error
	AllPositions(ctx context.Context) ([]types.Position, error)
	DeletePosition(ctx context.Context, tokenID string) error
}

// Manager is the in-memory ledger of cash and positions, persisted
// through the store on every mutation.
type Manager struct {
	cash         float64
	positions    map[string]types.Position
	maxPositions int
	store        PositionStore
	logger       *slog.Logger
}

// New builds an empty manager; call Load before accepting orders.
func New(store PositionStore, maxPositions int, logger *slog.Logger) *Manager {
	return &Manager{
		positions:    make(map[string]types.Position),
		maxPositions: maxPositions,
		store:        store,
		logger:       logger.With("component", "portfolio"),
	}
}

// Load seeds cash from the venue and positions from the store. It must
// complete before the first CheckOrder. A nil balancer leaves cash at
// zero, for read-only callers that only need the position book.
func (m *Manager) Load(ctx context.Context, balancer Balancer) error {
	if balancer != nil {
		cash, err := balancer.GetBalance(ctx)
		if err != nil {
			return fmt.Errorf("load balance: %w", err)
		}
		m.cash = cash
	}

	positions, err := m.store.AllPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	for _, p := range positions {
		m.positions[p.TokenID] = p
	}

	m.logger.Info("portfolio loaded", "cash", m.cash, "positions", len(m.positions))
	return nil
}

// CheckOrder is the pre-trade risk gate. A false return carries a
// human-readable rejection reason.
func (m *Manager) CheckOrder(order types.Order) (bool, string) {
	switch order.Side {
	case types.BUY:
		// Without a limit price, assume the worst-case fill at 1.0.
		limit := 1.0
		if order.LimitPrice != nil {
			limit = *order.LimitPrice
		}
		cost := order.Quantity * limit
		if cost > m.cash {
			return false, fmt.Sprintf("insufficient cash: %.2f > %.2f", cost, m.cash)
		}
		if _, held := m.positions[order.TokenID]; !held && len(m.positions) >= m.maxPositions {
			return false, fmt.Sprintf("max positions reached: %d", m.maxPositions)
		}
	case types.SELL:
		held, ok := m.positions[order.TokenID]
		if !ok || held.Quantity < order.Quantity {
			return false, fmt.Sprintf("insufficient position for sell: %g > %g", order.Quantity, held.Quantity)
		}
	}
	return true, ""
}

// OnFill applies an executed order to cash and positions, persisting the
// mutation in the same step.
func (m *Manager) OnFill(ctx context.Context, order types.Order, result types.ExecutionResult) error {
	filledSize := result.FilledSize
	if filledSize <= 0 {
		filledSize = order.Quantity
	}
	notional := filledSize * result.FilledPrice

	switch order.Side {
	case types.BUY:
		pos, held := m.positions[order.TokenID]
		if !held {
			pos = types.Position{
				TokenID:       order.TokenID,
				Side:          types.PositionLong,
				Quantity:      filledSize,
				AvgEntryPrice: result.FilledPrice,
				CurrentPrice:  result.FilledPrice,
				OpenedAt:      time.Now(),
			}
		} else {
			newQty := pos.Quantity + filledSize
			pos.AvgEntryPrice = (pos.Quantity*pos.AvgEntryPrice + filledSize*result.FilledPrice) / newQty
			pos.Quantity = newQty
			pos.CurrentPrice = result.FilledPrice
		}
		if err := m.store.UpsertPosition(ctx, pos); err != nil {
			return fmt.Errorf("persist position: %w", err)
		}
		m.positions[order.TokenID] = pos
		m.cash -= notional + result.FeesPaid

	case types.SELL:
		pos, held := m.positions[order.TokenID]
		if !held {
			m.logger.Warn("sell fill for unknown position", "token_id", order.TokenID)
			return nil
		}
		if filledSize > pos.Quantity {
			return fmt.Errorf("sell fill exceeds held quantity: %g > %g", filledSize, pos.Quantity)
		}
		pos.Quantity -= filledSize
		if pos.Quantity <= 0 {
			if err := m.store.DeletePosition(ctx, order.TokenID); err != nil {
				return fmt.Errorf("delete position: %w", err)
			}
			delete(m.positions, order.TokenID)
		} else {
			if err := m.store.UpsertPosition(ctx, pos); err != nil {
				return fmt.Errorf("persist position: %w", err)
			}
			m.positions[order.TokenID] = pos
		}
		m.cash += notional - result.FeesPaid
	}

	m.logger.Info("fill applied",
		"token_id", order.TokenID,
		"side", order.Side,
		"size", filledSize,
		"price", result.FilledPrice,
		"cash", m.cash)
	return nil
}

// OnPriceUpdate marks a held token to the latest price. Unknown tokens
// are ignored.
func (m *Manager) OnPriceUpdate(ctx context.Context, tokenID string, price float64) error {
	pos, held := m.positions[tokenID]
	if !held {
		return nil
	}
	pos.CurrentPrice = price
	if err := m.store.UpsertPosition(ctx, pos); err != nil {
		return fmt.Errorf("persist position: %w", err)
	}
	m.positions[tokenID] = pos
	return nil
}

// Cash returns available cash.
func (m *Manager) Cash() float64 { return m.cash }

// Positions returns a copy of the open positions.
func (m *Manager) Positions() map[string]types.Position {
	out := make(map[string]types.Position, len(m.positions))
	for k, v := range m.positions {
		out[k] = v
	}
	return out
}

// TotalUnrealizedPnL sums unrealized profit across open positions.
func (m *Manager) TotalUnrealizedPnL() float64 {
	var total float64
	for _, p := range m.positions {
		total += p.UnrealizedPnL()
	}
	return total
}

// TotalMarketValue sums quantity × current price across open positions.
func (m *Manager) TotalMarketValue() float64 {
	var total float64
	for _, p := range m.positions {
		total += p.MarketValue()
	}
	return total
}
