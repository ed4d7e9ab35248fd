// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the sniper — pipeline events,
// trade signals, orders, positions, trigger rules, and the venue wire
// payloads. It has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// EventType tags the flavor of a MarketEvent. Market-data events carry a
// token ID and price fields; external events carry free-text content.
type EventType string

const (
	EventPriceChange    EventType = "PRICE_CHANGE"
	EventBookUpdate     EventType = "BOOK_UPDATE"
	EventLastTrade      EventType = "LAST_TRADE"
	EventTickSizeChange EventType = "TICK_SIZE_CHANGE"

	EventNews   EventType = "NEWS"
	EventSocial EventType = "SOCIAL"
)

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeFOK    OrderType = "FOK" // fill-or-kill: fills entirely and immediately, or cancels
)

// TimeInForce enumerates how long an order remains working.
type TimeInForce string

const (
	TIFGoodTilCancelled  TimeInForce = "GTC"
	TIFImmediateOrCancel TimeInForce = "IOC"
	TIFFillOrKill        TimeInForce = "FOK"
)

// OrderStatus is the normalized lifecycle state of a submitted order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusFilled    OrderStatus = "FILLED"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
	StatusFailed    OrderStatus = "FAILED"
)

// PositionSide is the direction of an open position. Binary-outcome tokens
// are only ever held long in this system; SHORT and FLAT exist for the
// store round-trip and derived PnL math.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
	PositionFlat  PositionSide = "FLAT"
)

// Comparison selects which direction a threshold rule watches.
type Comparison string

const (
	ComparisonAbove Comparison = "above"
	ComparisonBelow Comparison = "below"
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// TickSize represents the price granularity for a market. The venue supports
// four tick sizes; each market has a fixed tick size that determines the
// minimum price increment and USDC amount rounding precision.
type TickSize string

const (
	Tick01    TickSize = "0.1"    // 1 decimal  — coarse markets
	Tick001   TickSize = "0.01"   // 2 decimals — standard markets (most common)
	Tick0001  TickSize = "0.001"  // 3 decimals — fine-grained markets
	Tick00001 TickSize = "0.0001" // 4 decimals — ultra-precise markets
)

// Decimals returns the number of decimal places for a tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// AmountDecimals returns the rounding precision for USDC amounts.
func (t TickSize) AmountDecimals() int {
	switch t {
	case Tick01:
		return 3
	case Tick001:
		return 4
	case Tick0001:
		return 5
	case Tick00001:
		return 6
	default:
		return 4
	}
}

// ————————————————————————————————————————————————————————————————————————
// Pipeline events
// ————————————————————————————————————————————————————————————————————————

// MarketEvent is the single currency of the ingest pipeline: every source
// (venue WebSocket, RSS poller, manual injector) re-projects its input into
// one of these, and every parser consumes them. Values are treated as
// immutable once constructed; optional fields are nil when the source did
// not supply them.
type MarketEvent struct {
	Type      EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"` // ingest time, assigned by the source

	// Market-data fields (BOOK_UPDATE / PRICE_CHANGE / LAST_TRADE /
	// TICK_SIZE_CHANGE). Prices live in [0,1] for binary-outcome tokens.
	TokenID   string   `json:"token_id,omitempty"`
	MarketID  string   `json:"market_id,omitempty"` // condition ID
	BestBid   *float64 `json:"best_bid,omitempty"`
	BestAsk   *float64 `json:"best_ask,omitempty"`
	LastPrice *float64 `json:"last_price,omitempty"`
	LastSize  *float64 `json:"last_size,omitempty"`

	// External fields (NEWS / SOCIAL).
	Content string `json:"content,omitempty"`
	Source  string `json:"source,omitempty"`

	// Original wire payload, kept for debugging only.
	RawData map[string]any `json:"raw_data,omitempty"`
}

// NewMarketDataEvent builds a market-data event. TokenID is mandatory.
func NewMarketDataEvent(eventType EventType, tokenID string) (MarketEvent, error) {
	ev := MarketEvent{Type: eventType, Timestamp: time.Now(), TokenID: tokenID}
	if err := ev.Validate(); err != nil {
		return MarketEvent{}, err
	}
	return ev, nil
}

// NewExternalEvent builds a NEWS or SOCIAL event. Content is mandatory.
func NewExternalEvent(eventType EventType, content, source string) (MarketEvent, error) {
	ev := MarketEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		Content:   content,
		Source:    source,
	}
	if err := ev.Validate(); err != nil {
		return MarketEvent{}, err
	}
	return ev, nil
}

// Validate checks the per-flavor invariants: market-data events must name
// a token, external events must carry content.
func (e MarketEvent) Validate() error {
	switch e.Type {
	case EventPriceChange, EventBookUpdate, EventLastTrade, EventTickSizeChange:
		if e.TokenID == "" {
			return fmt.Errorf("%s event requires a token ID", e.Type)
		}
	case EventNews, EventSocial:
		if e.Content == "" {
			return fmt.Errorf("%s event requires content", e.Type)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// IsMarketData reports whether the event carries venue market data
// (a token ID plus one of the market-channel event types).
func (e MarketEvent) IsMarketData() bool {
	if e.TokenID == "" {
		return false
	}
	switch e.Type {
	case EventPriceChange, EventBookUpdate, EventLastTrade, EventTickSizeChange:
		return true
	}
	return false
}

// Price extracts the reference price for threshold evaluation, in
// precedence order: mid-price when both sides are quoted, then last trade
// price, then best ask, then best bid. The second return is false when the
// event carries no usable price.
func (e MarketEvent) Price() (float64, bool) {
	switch {
	case e.BestBid != nil && e.BestAsk != nil:
		return (*e.BestBid + *e.BestAsk) / 2, true
	case e.LastPrice != nil:
		return *e.LastPrice, true
	case e.BestAsk != nil:
		return *e.BestAsk, true
	case e.BestBid != nil:
		return *e.BestBid, true
	}
	return 0, false
}

// TradeSignal is a parser's verdict that a rule fired: buy or sell this
// token for this many dollars, for this reason.
type TradeSignal struct {
	TokenID   string    `json:"token_id"`
	Side      Side      `json:"side"`
	SizeUSDC  float64   `json:"size_usdc"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Order is the validated, uniquely-identified form of a TradeSignal.
// ClientOrderID is the idempotency key across retries and restarts.
type Order struct {
	ClientOrderID string      `json:"client_order_id"`
	TokenID       string      `json:"token_id"`
	Side          Side        `json:"side"`
	Quantity      float64     `json:"quantity"`
	OrderType     OrderType   `json:"order_type"`
	LimitPrice    *float64    `json:"limit_price,omitempty"`
	TimeInForce   TimeInForce `json:"time_in_force"`
	Reason        string      `json:"reason"`
	CreatedAt     time.Time   `json:"created_at"`
}

// NewOrderFromSignal converts a signal into an FOK order with a fresh
// client order ID. The signal's USDC size is converted to shares at
// refPrice so quantity checks compare like with like; a non-positive
// refPrice falls back to the binary midpoint 0.5. The executor rescales
// against the live book before submitting.
func NewOrderFromSignal(signal TradeSignal, refPrice float64) Order {
	if refPrice <= 0 {
		refPrice = 0.5
	}
	return Order{
		ClientOrderID: uuid.New().String(),
		TokenID:       signal.TokenID,
		Side:          signal.Side,
		Quantity:      signal.SizeUSDC / refPrice,
		OrderType:     OrderTypeFOK,
		TimeInForce:   TIFFillOrKill,
		Reason:        signal.Reason,
		CreatedAt:     time.Now(),
	}
}

// ExecutionResult is the normalized outcome of an order submission.
type ExecutionResult struct {
	OrderID      string      `json:"order_id"` // exchange-assigned
	Status       OrderStatus `json:"status"`
	FilledPrice  float64     `json:"filled_price"` // average fill price, 0 if unfilled
	FilledSize   float64     `json:"filled_size"`  // shares filled
	FeesPaid     float64     `json:"fees_paid"`
	ExecutedAt   time.Time   `json:"execution_timestamp"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// Position is one token's holding. At most one Position exists per token;
// quantity zero means the token is absent from the live ledger.
type Position struct {
	TokenID       string       `json:"token_id"`
	Side          PositionSide `json:"side"`
	Quantity      float64      `json:"quantity"`
	AvgEntryPrice float64      `json:"avg_entry_price"`
	CurrentPrice  float64      `json:"current_price"`
	OpenedAt      time.Time    `json:"opened_at"`
}

// UnrealizedPnL is quantity × (current − entry), sign-flipped for SHORT
// and zero for FLAT.
func (p Position) UnrealizedPnL() float64 {
	switch p.Side {
	case PositionLong:
		return p.Quantity * (p.CurrentPrice - p.AvgEntryPrice)
	case PositionShort:
		return p.Quantity * (p.AvgEntryPrice - p.CurrentPrice)
	}
	return 0
}

// MarketValue is quantity × current price.
func (p Position) MarketValue() float64 {
	return p.Quantity * p.CurrentPrice
}

// ————————————————————————————————————————————————————————————————————————
// Trigger rules
// ————————————————————————————————————————————————————————————————————————

// DefaultCooldown is the minimum spacing between consecutive signals from
// the same rule when the rule does not set its own.
const DefaultCooldown = 60 * time.Second

// ThresholdRule fires when a token's price crosses a threshold in the
// watched direction. Rules are immutable once installed; they arrive from
// the rules file or from the discovery manager.
type ThresholdRule struct {
	TokenID        string        `json:"token_id"`
	TriggerSide    Side          `json:"trigger_side"`
	Threshold      float64       `json:"threshold"` // in (0,1)
	Comparison     Comparison    `json:"comparison"`
	SizeUSDC       float64       `json:"size_usdc"`
	ReasonTemplate string        `json:"reason_template"`
	Cooldown       time.Duration `json:"cooldown"`
}

// Reason renders the rule's template, substituting {comparison},
// {threshold}, {current_price}, and {token_id}.
func (r ThresholdRule) Reason(currentPrice float64) string {
	tmpl := r.ReasonTemplate
	if tmpl == "" {
		tmpl = "Threshold {comparison} {threshold} triggered"
	}
	return strings.NewReplacer(
		"{comparison}", string(r.Comparison),
		"{threshold}", trimFloat(r.Threshold),
		"{current_price}", trimFloat(currentPrice),
		"{token_id}", r.TokenID,
	).Replace(tmpl)
}

// KeywordRule fires when an external event's content contains the keyword.
type KeywordRule struct {
	Keyword        string        `json:"keyword"`
	TokenID        string        `json:"token_id"`
	TriggerSide    Side          `json:"trigger_side"`
	SizeUSDC       float64       `json:"size_usdc"`
	ReasonTemplate string        `json:"reason_template"`
	CaseSensitive  bool          `json:"case_sensitive"`
	Cooldown       time.Duration `json:"cooldown"`
}

// Reason renders the rule's template, substituting {keyword}, {source}
// (or "unknown"), and {content} truncated to 50 runes.
func (r KeywordRule) Reason(source, content string) string {
	tmpl := r.ReasonTemplate
	if tmpl == "" {
		tmpl = "Keyword '{keyword}' detected"
	}
	if source == "" {
		source = "unknown"
	}
	if runes := []rune(content); len(runes) > 50 {
		content = string(runes[:50])
	}
	return strings.NewReplacer(
		"{keyword}", r.Keyword,
		"{source}", source,
		"{content}", content,
	).Replace(tmpl)
}

// trimFloat renders a float without trailing zeros, e.g. 0.30 -> "0.3".
func trimFloat(v float64) string {
	s := strings.TrimRight(fmt.Sprintf("%.4f", v), "0")
	return strings.TrimSuffix(s, ".")
}

// ————————————————————————————————————————————————————————————————————————
// Discovery
// ————————————————————————————————————————————————————————————————————————

// MarketCriteria narrows a catalog search. Tags and ActiveOnly translate
// to server-side query parameters; volume, liquidity, and keyword filters
// apply client-side because server support for them is partial.
type MarketCriteria struct {
	Tags         []string `json:"tags,omitempty"`
	MinVolume    float64  `json:"min_volume"`
	MinLiquidity float64  `json:"min_liquidity"`
	Keywords     []string `json:"keywords,omitempty"`
	ActiveOnly   bool     `json:"active_only"`
}

// DiscoveryResult is one market accepted from the catalog: a non-empty
// market ID plus the first CLOB token, which represents the YES outcome.
type DiscoveryResult struct {
	MarketID     string     `json:"market_id"`
	TokenID      string     `json:"token_id"`
	Title        string     `json:"title"`
	Volume       float64    `json:"volume"`
	Liquidity    float64    `json:"liquidity"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	DiscoveredAt time.Time  `json:"discovered_at"`
}

// RuleTemplate is a threshold recipe without a token; the subscription
// manager stamps it onto each discovered market.
type RuleTemplate struct {
	TriggerSide Side          `json:"trigger_side"`
	Threshold   float64       `json:"threshold"`
	Comparison  Comparison    `json:"comparison"`
	SizeUSDC    float64       `json:"size_usdc"`
	Cooldown    time.Duration `json:"cooldown"`
}

// DiscoveryStrategy binds search criteria to trading intent:
// "find crypto markets over $50k volume, buy if price drops below 0.20".
type DiscoveryStrategy struct {
	Name         string         `json:"name"`
	Criteria     MarketCriteria `json:"criteria"`
	RuleTemplate RuleTemplate   `json:"rule_template"`
	MaxMarkets   int            `json:"max_markets"`
}

// ————————————————————————————————————————————————————————————————————————
// Venue orders
// ————————————————————————————————————————————————————————————————————————

// UserOrder is the high-level order the executor hands to the exchange
// client, which converts it to a SignedOrder for the CLOB API.
type UserOrder struct {
	TokenID    string    // which token to trade
	Price      float64   // limit price (0.0 to 1.0 for binary markets)
	Size       float64   // quantity in tokens
	Side       Side      // BUY or SELL
	OrderType  OrderType // FOK for sniper orders
	TickSize   TickSize  // market's price granularity (for amount rounding)
	Expiration int64     // unix timestamp, 0 = no expiry
	Nonce      int64     // replay protection
	FeeRateBps int       // fee rate in basis points
	NegRisk    bool      // routes signing to the neg-risk exchange contract
}

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount and TakerAmount are in 6-decimal USDC units (1e6 = $1).
//
// For BUY:  maker gives MakerAmount USDC, receives TakerAmount tokens
// For SELL: maker gives MakerAmount tokens, receives TakerAmount USDC
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`       // funder/proxy wallet address
	Signer        string        `json:"signer"`      // EOA that signs the order
	Taker         string        `json:"taker"`       // zero address = open order
	TokenID       string        `json:"tokenId"`     // CTF token ID
	MakerAmount   *big.Int      `json:"makerAmount"` // what maker gives (scaled to 1e6)
	TakerAmount   *big.Int      `json:"takerAmount"` // what maker receives (scaled to 1e6)
	Side          Side          `json:"side"`
	Expiration    string        `json:"expiration"`    // unix timestamp as string
	Nonce         string        `json:"nonce"`         // replay protection
	FeeRateBps    string        `json:"feeRateBps"`    // fee in basis points as string
	SignatureType SignatureType `json:"signatureType"` // 0 = EOA
	Signature     string        `json:"signature"`     // EIP-712 signature hex
}

// OrderPayload is the REST API request body for POST /orders.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`     // API key of the order owner
	OrderType OrderType   `json:"orderType"` // FOK
}

// OrderResponse is the REST API response for an order submission. Decimal
// fields arrive as strings; gateways disagree on "orderID" vs "id", so
// both are mapped.
type OrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	ID       string `json:"id"`
	Status   string `json:"status"` // e.g. "matched", "live"
	Price    string `json:"price"`
	Size     string `json:"size"`
	Fee      string `json:"fee"`
	Error    string `json:"error"`
	Message  string `json:"message"`
}

// BalanceResponse is the REST response from GET /balance-allowance.
// Balance is in 6-decimal base units, as a string.
type BalanceResponse struct {
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the order book.
// Price and Size are strings because the CLOB API returns them as strings
// to preserve decimal precision.
type PriceLevel struct {
	Price string `json:"price"` // e.g. "0.55"
	Size  string `json:"size"`  // e.g. "100.5"
}

// BookResponse is the REST response from GET /book for a single token.
// Bids and asks carry the best level first.
type BookResponse struct {
	Market       string       `json:"market"`
	AssetID      string       `json:"asset_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	Hash         string       `json:"hash"`
	Timestamp    string       `json:"timestamp"`
	MinOrderSize string       `json:"min_order_size"`
	TickSize     string       `json:"tick_size"`
	NegRisk      bool         `json:"neg_risk"`
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket events
// ————————————————————————————————————————————————————————————————————————
// These structs map 1:1 to the JSON messages sent over the venue market
// WebSocket: "book" (full snapshot), "price_change" (delta),
// "last_trade_price" (trade print), "tick_size_change".

// WSBookEvent is a full order book snapshot from the market WS channel.
// Buys and Sells carry the best level at index 0.
type WSBookEvent struct {
	EventType string       `json:"event_type"` // always "book"
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"` // condition ID
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"`  // book version hash
	Buys      []PriceLevel `json:"buys"`  // bid levels
	Sells     []PriceLevel `json:"sells"` // ask levels
}

// WSPriceChange is a single price level update within a price_change event.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`    // the price level that changed
	Size    string `json:"size"`     // new size at that level (0 = removed)
	Side    string `json:"side"`     // "BUY" or "SELL"
	BestBid string `json:"best_bid"` // new best bid after this change
	BestAsk string `json:"best_ask"` // new best ask after this change
}

// WSPriceChangeEvent is an incremental update from the market WS. Some
// producers inline asset_id and best_bid/best_ask at the top level, others
// nest one or more changes in price_changes; both shapes occur in the wild.
type WSPriceChangeEvent struct {
	EventType    string          `json:"event_type"` // always "price_change"
	AssetID      string          `json:"asset_id"`
	Market       string          `json:"market"`
	Timestamp    string          `json:"timestamp"`
	Price        string          `json:"price"` // the price level that changed
	Size         string          `json:"size"`
	BestBid      string          `json:"best_bid"`
	BestAsk      string          `json:"best_ask"`
	PriceChanges []WSPriceChange `json:"price_changes"`
}

// WSLastTradeEvent is a trade print from the market WS channel.
type WSLastTradeEvent struct {
	EventType string `json:"event_type"` // always "last_trade_price"
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"`
}

// WSTickSizeChangeEvent signals that a market's tick granularity changed.
type WSTickSizeChangeEvent struct {
	EventType   string `json:"event_type"` // always "tick_size_change"
	AssetID     string `json:"asset_id"`
	Market      string `json:"market"`
	OldTickSize string `json:"old_tick_size"`
	NewTickSize string `json:"new_tick_size"`
	Timestamp   string `json:"timestamp"`
}

// WSSubscribeMsg is the subscription message sent on connect (and again
// when the subscription set grows while connected).
type WSSubscribeMsg struct {
	Type     string   `json:"type"`                 // "market"
	AssetIDs []string `json:"assets_ids,omitempty"` // token IDs
}
