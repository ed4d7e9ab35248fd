// Package store persists trades, positions, and order lifecycle state to
// SQLite, and appends executed fills to a per-day JSONL journal.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"event-sniper/pkg/types"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id        TEXT NOT NULL,
	client_order_id TEXT NOT NULL,
	token_id        TEXT NOT NULL,
	side            TEXT NOT NULL,
	quantity        REAL NOT NULL,
	price           REAL NOT NULL,
	fees            REAL NOT NULL DEFAULT 0,
	executed_at     REAL NOT NULL,
	created_at      REAL NOT NULL DEFAULT (strftime('%s','now'))
);
CREATE INDEX IF NOT EXISTS idx_trades_token_id ON trades(token_id);
CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);

CREATE TABLE IF NOT EXISTS positions (
	token_id        TEXT PRIMARY KEY,
	side            TEXT NOT NULL,
	quantity        REAL NOT NULL,
	avg_entry_price REAL NOT NULL,
	current_price   REAL NOT NULL,
	opened_at       REAL NOT NULL,
	updated_at      REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	client_order_id   TEXT PRIMARY KEY,
	token_id          TEXT NOT NULL,
	side              TEXT NOT NULL,
	quantity          REAL NOT NULL,
	order_type        TEXT NOT NULL,
	limit_price       REAL,
	time_in_force     TEXT NOT NULL,
	status            TEXT NOT NULL,
	exchange_order_id TEXT,
	reason            TEXT NOT NULL DEFAULT '',
	created_at        REAL NOT NULL,
	updated_at        REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_token_id ON orders(token_id);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
`

// Store is the SQLite-backed persistence layer. Safe for concurrent use;
// the single connection serializes writers, which the modernc driver
// requires.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" opens an ephemeral database for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertTrade records one executed fill.
func (s *Store) InsertTrade(ctx context.Context, order types.Order, result types.ExecutionResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (order_id, client_order_id, token_id, side, quantity, price, fees, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.OrderID, order.ClientOrderID, order.TokenID, string(order.Side),
		result.FilledSize, result.FilledPrice, result.FeesPaid,
		unixSeconds(result.ExecutedAt))
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// Trade is one persisted fill row.
type Trade struct {
	ID            int64
	OrderID       string
	ClientOrderID string
	TokenID       string
	Side          types.Side
	Quantity      float64
	Price         float64
	Fees          float64
	ExecutedAt    time.Time
}

// Trades returns fills newest-first, optionally filtered to one token and
// capped at limit (0 = no cap).
func (s *Store) Trades(ctx context.Context, tokenID string, limit int) ([]Trade, error) {
	query := `SELECT id, order_id, client_order_id, token_id, side, quantity, price, fees, executed_at
		FROM trades`
	var args []any
	if tokenID != "" {
		query += ` WHERE token_id = ?`
		args = append(args, tokenID)
	}
	query += ` ORDER BY executed_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		var side string
		var executedAt float64
		if err := rows.Scan(&t.ID, &t.OrderID, &t.ClientOrderID, &t.TokenID, &side,
			&t.Quantity, &t.Price, &t.Fees, &executedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = types.Side(side)
		t.ExecutedAt = fromUnixSeconds(executedAt)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// UpsertPosition inserts or replaces the position for its token.
func (s *Store) UpsertPosition(ctx context.Context, p types.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (token_id, side, quantity, avg_entry_price, current_price, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token_id) DO UPDATE SET
			side = excluded.side,
			quantity = excluded.quantity,
			avg_entry_price = excluded.avg_entry_price,
			current_price = excluded.current_price,
			updated_at = excluded.updated_at`,
		p.TokenID, string(p.Side), p.Quantity, p.AvgEntryPrice, p.CurrentPrice,
		unixSeconds(p.OpenedAt), unixSeconds(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// Position looks up one token's position. ErrNotFound if absent.
func (s *Store) Position(ctx context.Context, tokenID string) (types.Position, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token_id, side, quantity, avg_entry_price, current_price, opened_at
		FROM positions WHERE token_id = ?`, tokenID)

	p, err := scanPosition(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Position{}, fmt.Errorf("position %s: %w", tokenID, ErrNotFound)
	}
	return p, err
}

// AllPositions returns every open position.
func (s *Store) AllPositions(ctx context.Context) ([]types.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token_id, side, quantity, avg_entry_price, current_price, opened_at
		FROM positions ORDER BY token_id`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []types.Position
	for rows.Next() {
		p, err := scanPosition(rows.Scan)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// DeletePosition removes a closed position. Deleting an absent token is
// not an error.
func (s *Store) DeletePosition(ctx context.Context, tokenID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE token_id = ?`, tokenID); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

// InsertOrder records a new order in the given lifecycle state.
func (s *Store) InsertOrder(ctx context.Context, order types.Order, status types.OrderStatus) error {
	now := unixSeconds(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (client_order_id, token_id, side, quantity, order_type,
			limit_price, time_in_force, status, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ClientOrderID, order.TokenID, string(order.Side), order.Quantity,
		string(order.OrderType), order.LimitPrice, string(order.TimeInForce),
		string(status), order.Reason, unixSeconds(order.CreatedAt), now)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// UpdateOrderStatus advances an order's lifecycle state, optionally
// attaching the exchange-assigned ID.
func (s *Store) UpdateOrderStatus(ctx context.Context, clientOrderID string, status types.OrderStatus, exchangeOrderID string) error {
	var exchangeID any
	if exchangeOrderID != "" {
		exchangeID = exchangeOrderID
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, exchange_order_id = COALESCE(?, exchange_order_id), updated_at = ?
		WHERE client_order_id = ?`,
		string(status), exchangeID, unixSeconds(time.Now()), clientOrderID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("order %s: %w", clientOrderID, ErrNotFound)
	}
	return nil
}

// StoredOrder is one persisted order row.
type StoredOrder struct {
	Order           types.Order
	Status          types.OrderStatus
	ExchangeOrderID string
}

// Order looks up an order by its client order ID. ErrNotFound if absent.
func (s *Store) Order(ctx context.Context, clientOrderID string) (StoredOrder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT client_order_id, token_id, side, quantity, order_type, limit_price,
			time_in_force, status, exchange_order_id, reason, created_at
		FROM orders WHERE client_order_id = ?`, clientOrderID)

	var o StoredOrder
	var side, orderType, tif, status string
	var limitPrice sql.NullFloat64
	var exchangeID sql.NullString
	var createdAt float64
	err := row.Scan(&o.Order.ClientOrderID, &o.Order.TokenID, &side, &o.Order.Quantity,
		&orderType, &limitPrice, &tif, &status, &exchangeID, &o.Order.Reason, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredOrder{}, fmt.Errorf("order %s: %w", clientOrderID, ErrNotFound)
	}
	if err != nil {
		return StoredOrder{}, fmt.Errorf("scan order: %w", err)
	}

	o.Order.Side = types.Side(side)
	o.Order.OrderType = types.OrderType(orderType)
	o.Order.TimeInForce = types.TimeInForce(tif)
	o.Order.CreatedAt = fromUnixSeconds(createdAt)
	if limitPrice.Valid {
		o.Order.LimitPrice = &limitPrice.Float64
	}
	o.Status = types.OrderStatus(status)
	o.ExchangeOrderID = exchangeID.String
	return o, nil
}

func scanPosition(scan func(dest ...any) error) (types.Position, error) {
	var p types.Position
	var side string
	var openedAt float64
	if err := scan(&p.TokenID, &side, &p.Quantity, &p.AvgEntryPrice, &p.CurrentPrice, &openedAt); err != nil {
		return types.Position{}, err
	}
	p.Side = types.PositionSide(side)
	p.OpenedAt = fromUnixSeconds(openedAt)
	return p, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(secs float64) time.Time {
	return time.Unix(0, int64(secs*float64(time.Second)))
}
