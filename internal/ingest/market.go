// market.go implements the venue market-channel WebSocket source.
//
// The source subscribes by token ID (asset ID) and re-projects "book"
// snapshots, "price_change" deltas, "last_trade_price" prints, and
// "tick_size_change" notices into MarketEvents. It reconnects with
// exponential backoff and re-subscribes to every tracked token after each
// reconnect; once the attempt budget is spent the stream closes and Err
// reports ErrReconnectExhausted. A read deadline ensures silent server
// failures are detected even when no market is moving.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"event-sniper/internal/config"
	"event-sniper/pkg/types"
)

const (
	wsWriteTimeout = 10 * time.Second // deadline for outgoing messages
	wsEventBuffer  = 256              // buffer between read loop and engine
	wsPingPayload  = "PING"           // venue keepalive message
)

// MarketWS is the venue market-data source. Safe for concurrent use:
// Subscribe may be called from any goroutine, before or after Connect.
type MarketWS struct {
	url string
	cfg config.IngestConfig

	connMu    sync.Mutex // protects conn and connected
	conn      *websocket.Conn
	connected bool

	subMu      sync.RWMutex
	subscribed map[string]bool

	events     chan types.MarketEvent
	eventsOnce sync.Once
	done       chan struct{}
	doneOnce   sync.Once
	wg         sync.WaitGroup

	errMu sync.Mutex
	err   error

	logger *slog.Logger
}

// NewMarketWS creates a market WebSocket source for the given endpoint.
func NewMarketWS(url string, cfg config.IngestConfig, logger *slog.Logger) *MarketWS {
	return &MarketWS{
		url:        url,
		cfg:        cfg,
		subscribed: make(map[string]bool),
		events:     make(chan types.MarketEvent, wsEventBuffer),
		done:       make(chan struct{}),
		logger:     logger.With("component", "ws_market"),
	}
}

// Connect dials the venue and starts the read loop. Tokens registered via
// Subscribe before Connect are subscribed immediately after the dial.
// Calling Connect on a connected source is a no-op.
func (s *MarketWS) Connect(ctx context.Context) error {
	if s.IsConnected() {
		return nil
	}
	if err := s.dial(ctx); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Disconnect stops the read loop, closes the connection, and closes the
// event channel. Safe to call more than once.
func (s *MarketWS) Disconnect() error {
	s.doneOnce.Do(func() { close(s.done) })
	s.dropConn()
	s.wg.Wait()
	s.closeEvents()
	return nil
}

// Stream returns the event channel. It closes when the source terminates.
func (s *MarketWS) Stream() <-chan types.MarketEvent { return s.events }

// IsConnected reports whether the WebSocket is currently up.
func (s *MarketWS) IsConnected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.connected
}

// Err returns the terminal error after the stream has closed.
func (s *MarketWS) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Subscribe registers token IDs. When connected, the full subscription set
// is re-sent: the venue replaces the set on every subscribe message, so a
// partial send would silently drop earlier tokens. Re-subscribing an
// already-tracked token is harmless.
func (s *MarketWS) Subscribe(ctx context.Context, tokenIDs []string) error {
	s.subMu.Lock()
	for _, id := range tokenIDs {
		s.subscribed[id] = true
	}
	s.subMu.Unlock()

	if !s.IsConnected() {
		s.logger.Info("registered tokens for subscription on connect", "count", len(tokenIDs))
		return nil
	}
	if err := s.sendSubscription(s.SubscribedTokens()); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Subscribed reports whether a token ID is in the tracked set.
func (s *MarketWS) Subscribed(tokenID string) bool {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return s.subscribed[tokenID]
}

// SubscribedTokens returns a sorted copy of the tracked token IDs.
func (s *MarketWS) SubscribedTokens() []string {
	s.subMu.RLock()
	tokens := make([]string, 0, len(s.subscribed))
	for id := range s.subscribed {
		tokens = append(tokens, id)
	}
	s.subMu.RUnlock()
	sort.Strings(tokens)
	return tokens
}

func (s *MarketWS) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connected = true
	s.connMu.Unlock()

	tokens := s.SubscribedTokens()
	if len(tokens) > 0 {
		if err := s.sendSubscription(tokens); err != nil {
			s.dropConn()
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	s.logger.Info("websocket connected", "url", s.url, "subscriptions", len(tokens))
	return nil
}

func (s *MarketWS) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.closeEvents()
	defer s.dropConn()

	for {
		err := s.readLoop(ctx)
		if ctx.Err() != nil || s.closing() {
			return
		}

		s.logger.Warn("websocket disconnected", "error", err)

		if err := s.reconnect(ctx); err != nil {
			if ctx.Err() == nil && !s.closing() {
				s.setErr(err)
				s.logger.Error("websocket source terminated", "error", err)
			}
			return
		}
	}
}

func (s *MarketWS) readLoop(ctx context.Context) error {
	conn := s.currentConn()
	if conn == nil {
		return ErrNotConnected
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		for _, ev := range s.parseFrame(msg) {
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			case <-s.done:
				return nil
			}
		}
	}
}

// reconnect retries the dial with exponential backoff. Each successful
// dial re-subscribes the full token set. Returns ErrReconnectExhausted
// once the attempt budget is spent.
func (s *MarketWS) reconnect(ctx context.Context) error {
	s.dropConn()

	for attempt := 1; attempt <= s.cfg.ReconnectMaxAttempts; attempt++ {
		backoff := s.cfg.ReconnectInitialDelay << (attempt - 1)
		if backoff > s.cfg.ReconnectMaxDelay {
			backoff = s.cfg.ReconnectMaxDelay
		}

		s.logger.Info("reconnection attempt",
			"attempt", attempt,
			"max", s.cfg.ReconnectMaxAttempts,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-time.After(backoff):
		}

		if err := s.dial(ctx); err != nil {
			s.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
			continue
		}
		return nil
	}

	return fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, s.cfg.ReconnectMaxAttempts)
}

func (s *MarketWS) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeMessage(websocket.TextMessage, []byte(wsPingPayload)); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (s *MarketWS) sendSubscription(tokens []string) error {
	return s.writeJSON(types.WSSubscribeMsg{Type: "market", AssetIDs: tokens})
}

func (s *MarketWS) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(v)
}

func (s *MarketWS) writeMessage(msgType int, data []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteMessage(msgType, data)
}

func (s *MarketWS) currentConn() *websocket.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

func (s *MarketWS) dropConn() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected = false
}

func (s *MarketWS) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *MarketWS) closeEvents() {
	s.eventsOnce.Do(func() { close(s.events) })
}

func (s *MarketWS) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// ————————————————————————————————————————————————————————————————————————
// Frame parsing
// ————————————————————————————————————————————————————————————————————————

// parseFrame converts one wire frame into zero or more MarketEvents.
// The venue sends a JSON array on initial subscription (one book snapshot
// per token) and single objects afterwards; both shapes are handled.
// Malformed frames are logged and skipped, never fatal.
func (s *MarketWS) parseFrame(data []byte) []types.MarketEvent {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("PONG")) {
		return nil
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			s.logger.Warn("failed to parse message", "error", err, "data", truncate(trimmed, 100))
			return nil
		}
		var events []types.MarketEvent
		for _, item := range items {
			if ev, ok := s.parseObject(item); ok {
				events = append(events, ev)
			}
		}
		return events
	}

	if ev, ok := s.parseObject(trimmed); ok {
		return []types.MarketEvent{ev}
	}
	return nil
}

func (s *MarketWS) parseObject(data []byte) (types.MarketEvent, bool) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Warn("failed to parse message", "error", err, "data", truncate(data, 100))
		return types.MarketEvent{}, false
	}

	switch envelope.EventType {
	case "book":
		var evt types.WSBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Warn("failed to parse book event", "error", err, "data", truncate(data, 100))
			return types.MarketEvent{}, false
		}
		ev := types.MarketEvent{
			Type:      types.EventBookUpdate,
			Timestamp: time.Now(),
			TokenID:   evt.AssetID,
			MarketID:  evt.Market,
		}
		if len(evt.Buys) > 0 {
			ev.BestBid = safeFloat(evt.Buys[0].Price)
		}
		if len(evt.Sells) > 0 {
			ev.BestAsk = safeFloat(evt.Sells[0].Price)
		}
		return ev, true

	case "price_change":
		var evt types.WSPriceChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Warn("failed to parse price_change event", "error", err, "data", truncate(data, 100))
			return types.MarketEvent{}, false
		}
		ev := types.MarketEvent{
			Type:      types.EventPriceChange,
			Timestamp: time.Now(),
			TokenID:   evt.AssetID,
			MarketID:  evt.Market,
			BestBid:   safeFloat(evt.BestBid),
			BestAsk:   safeFloat(evt.BestAsk),
			LastPrice: safeFloat(evt.Price),
			LastSize:  safeFloat(evt.Size),
		}
		// Nested shape: quotes live on the last change entry instead.
		if ev.BestBid == nil && ev.BestAsk == nil && len(evt.PriceChanges) > 0 {
			change := evt.PriceChanges[len(evt.PriceChanges)-1]
			if ev.TokenID == "" {
				ev.TokenID = change.AssetID
			}
			ev.BestBid = safeFloat(change.BestBid)
			ev.BestAsk = safeFloat(change.BestAsk)
		}
		return ev, true

	case "last_trade_price":
		var evt types.WSLastTradeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Warn("failed to parse last_trade_price event", "error", err, "data", truncate(data, 100))
			return types.MarketEvent{}, false
		}
		return types.MarketEvent{
			Type:      types.EventLastTrade,
			Timestamp: time.Now(),
			TokenID:   evt.AssetID,
			MarketID:  evt.Market,
			LastPrice: safeFloat(evt.Price),
			LastSize:  safeFloat(evt.Size),
		}, true

	case "tick_size_change":
		var evt types.WSTickSizeChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Warn("failed to parse tick_size_change event", "error", err, "data", truncate(data, 100))
			return types.MarketEvent{}, false
		}
		return types.MarketEvent{
			Type:      types.EventTickSizeChange,
			Timestamp: time.Now(),
			TokenID:   evt.AssetID,
			MarketID:  evt.Market,
		}, true

	default:
		s.logger.Debug("ignoring ws event", "type", envelope.EventType)
		return types.MarketEvent{}, false
	}
}

// safeFloat parses a decimal string, returning nil for empty or
// unparseable values.
func safeFloat(v string) *float64 {
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n])
}
