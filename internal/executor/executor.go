// Package executor turns trade signals into venue orders, running every
// order through a pre-trade gauntlet: size cap, dry-run short-circuit,
// request spacing, aggressive pricing from the live book, price sanity,
// and FOK submission with tolerant response normalization.
package executor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"event-sniper/internal/exchange"
	"event-sniper/pkg/types"
)

// Error kinds, matchable with errors.Is. The engine journals the kind with
// every rejected signal.
var (
	ErrAuthentication  = errors.New("authentication failed")
	ErrPositionSize    = errors.New("position size exceeds limit")
	ErrOrderBook       = errors.New("order book unavailable")
	ErrPriceValidation = errors.New("price validation failed")
	ErrRateLimit       = errors.New("rate limited")
	ErrExecution       = errors.New("order execution failed")
)

const (
	// Prices must stay inside the venue's quotable band.
	minPrice = 0.01
	maxPrice = 0.99

	// Aggression applied to the touch so FOK orders cross the spread.
	buySlippage  = 1.01
	sellSlippage = 0.99

	// A spread wider than half the ask means the book is too thin to take.
	maxSpreadRatio = 0.50

	dryRunFillPrice = 0.50
	dryRunBalance   = 10000.0

	orderSpacing = 100 * time.Millisecond
)

// VenueClient is the slice of the exchange client the executor needs.
type VenueClient interface {
	GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error)
	SubmitOrder(ctx context.Context, order types.UserOrder) (*types.OrderResponse, error)
	CollateralBalance(ctx context.Context) (float64, error)
	HasL2Credentials() bool
	DeriveAPIKey(ctx context.Context) (*exchange.Credentials, error)
}

// Executor submits risk-checked FOK orders against the venue, or simulates
// them in dry-run mode.
type Executor struct {
	client  VenueClient
	dryRun  bool
	maxSize float64
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New builds an executor. maxSize caps a single order's USDC notional and
// applies in dry-run too.
func New(client VenueClient, dryRun bool, maxSize float64, logger *slog.Logger) *Executor {
	return &Executor{
		client:  client,
		dryRun:  dryRun,
		maxSize: maxSize,
		limiter: rate.NewLimiter(rate.Every(orderSpacing), 1),
		logger:  logger.With("component", "executor"),
	}
}

// Setup validates venue credentials before trading starts. In live mode,
// missing L2 credentials are derived from the wallet key; dry-run is a
// no-op.
func (e *Executor) Setup(ctx context.Context) error {
	if e.dryRun {
		e.logger.Info("dry-run mode, skipping credential check")
		return nil
	}
	if e.client.HasL2Credentials() {
		return nil
	}
	if _, err := e.client.DeriveAPIKey(ctx); err != nil {
		return fmt.Errorf("%w: derive api key: %v", ErrAuthentication, err)
	}
	e.logger.Info("derived L2 credentials from wallet key")
	return nil
}

// Execute runs the gauntlet and submits the signal as an FOK order. Checks
// run in a fixed order and fail fast; the returned error always matches
// one of the package's sentinel kinds.
func (e *Executor) Execute(ctx context.Context, signal types.TradeSignal) (types.ExecutionResult, error) {
	if signal.SizeUSDC > e.maxSize {
		return types.ExecutionResult{}, fmt.Errorf("%w: %.2f > %.2f USDC",
			ErrPositionSize, signal.SizeUSDC, e.maxSize)
	}

	if e.dryRun {
		return e.simulate(signal), nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return types.ExecutionResult{}, ctx.Err()
		}
		return types.ExecutionResult{}, fmt.Errorf("%w: %v", ErrRateLimit, err)
	}

	price, err := e.aggressivePrice(ctx, signal)
	if err != nil {
		return types.ExecutionResult{}, err
	}
	if price < minPrice || price > maxPrice {
		return types.ExecutionResult{}, fmt.Errorf("%w: price %.4f outside [%.2f, %.2f]",
			ErrPriceValidation, price, minPrice, maxPrice)
	}

	order := types.UserOrder{
		TokenID:   signal.TokenID,
		Price:     price,
		Size:      signal.SizeUSDC / price,
		Side:      signal.Side,
		OrderType: types.OrderTypeFOK,
		TickSize:  types.Tick001,
		Nonce:     time.Now().UnixMilli(),
	}

	e.logger.Info("submitting order",
		"token_id", signal.TokenID,
		"side", signal.Side,
		"price", price,
		"size", order.Size,
		"reason", signal.Reason)

	resp, err := e.client.SubmitOrder(ctx, order)
	if err != nil {
		if ctx.Err() != nil {
			return types.ExecutionResult{}, ctx.Err()
		}
		return types.ExecutionResult{}, fmt.Errorf("%w: %v", ErrExecution, err)
	}

	return normalizeResponse(resp, order), nil
}

// GetBalance reports the available USDC collateral. Dry-run always reports
// a synthetic bankroll.
func (e *Executor) GetBalance(ctx context.Context) (float64, error) {
	if e.dryRun {
		return dryRunBalance, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: %v", ErrRateLimit, err)
	}
	balance, err := e.client.CollateralBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return balance, nil
}

// simulate produces the synthetic fill used in dry-run: everything fills
// at the mid of the quotable band, fee-free.
func (e *Executor) simulate(signal types.TradeSignal) types.ExecutionResult {
	result := types.ExecutionResult{
		OrderID:     "dry_run_" + randomHex(4),
		Status:      types.StatusFilled,
		FilledPrice: dryRunFillPrice,
		FilledSize:  signal.SizeUSDC / dryRunFillPrice,
		ExecutedAt:  time.Now(),
	}
	e.logger.Info("dry-run fill",
		"order_id", result.OrderID,
		"token_id", signal.TokenID,
		"side", signal.Side,
		"size", result.FilledSize)
	return result
}

// aggressivePrice derives a crossing limit price from the top of book:
// a shade through the touch, clamped to the quotable band. A book missing
// the needed side, or quoting a spread wider than half the ask, is
// rejected.
func (e *Executor) aggressivePrice(ctx context.Context, signal types.TradeSignal) (float64, error) {
	book, err := e.client.GetOrderBook(ctx, signal.TokenID)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: %v", ErrOrderBook, err)
	}

	bestBid, hasBid := bestLevel(book.Bids)
	bestAsk, hasAsk := bestLevel(book.Asks)

	if hasBid && hasAsk && bestAsk > 0 {
		if spread := (bestAsk - bestBid) / bestAsk; spread > maxSpreadRatio {
			return 0, fmt.Errorf("%w: spread %.0f%% of ask (bid %.4f, ask %.4f)",
				ErrPriceValidation, spread*100, bestBid, bestAsk)
		}
	}

	switch signal.Side {
	case types.BUY:
		if !hasAsk {
			return 0, fmt.Errorf("%w: no asks for token %s", ErrOrderBook, signal.TokenID)
		}
		return min(bestAsk*buySlippage, maxPrice), nil
	case types.SELL:
		if !hasBid {
			return 0, fmt.Errorf("%w: no bids for token %s", ErrOrderBook, signal.TokenID)
		}
		return max(bestBid*sellSlippage, minPrice), nil
	default:
		return 0, fmt.Errorf("%w: unknown side %q", ErrPriceValidation, signal.Side)
	}
}

// normalizeResponse maps the venue's loosely-typed order response onto an
// ExecutionResult. Missing prices fall back to the submitted limit;
// missing sizes fall back to the submitted quantity only when the order
// actually filled.
func normalizeResponse(resp *types.OrderResponse, order types.UserOrder) types.ExecutionResult {
	result := types.ExecutionResult{
		OrderID:    firstNonEmpty(resp.OrderID, resp.ID, "unknown_"+randomHex(4)),
		Status:     normalizeStatus(resp.Status),
		ExecutedAt: time.Now(),
	}

	result.FilledPrice = parseOrDefault(resp.Price, order.Price)
	if result.Status == types.StatusFilled {
		result.FilledSize = parseOrDefault(resp.Size, order.Size)
	} else {
		result.FilledSize = parseOrDefault(resp.Size, 0)
	}
	result.FeesPaid = parseOrDefault(resp.Fee, 0)

	switch result.Status {
	case types.StatusRejected, types.StatusCancelled, types.StatusFailed:
		result.ErrorMessage = firstNonEmpty(resp.ErrorMsg, resp.Error, resp.Message)
	}
	return result
}

func normalizeStatus(status string) types.OrderStatus {
	switch strings.ToUpper(status) {
	case "FILLED", "MATCHED":
		return types.StatusFilled
	case "PARTIAL":
		return types.StatusPartial
	case "CANCELLED", "CANCELED":
		return types.StatusCancelled
	case "REJECTED":
		return types.StatusRejected
	default:
		return types.StatusPending
	}
}

func bestLevel(levels []types.PriceLevel) (float64, bool) {
	if len(levels) == 0 {
		return 0, false
	}
	price, err := strconv.ParseFloat(levels[0].Price, 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

func parseOrDefault(s string, fallback float64) float64 {
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf)
}
