// Package exchange implements the venue CLOB REST adapter.
//
// The client covers the surface the sniper needs:
//   - GetOrderBook:       GET  /book                — fetch L2 book for a token
//   - SubmitOrder:        POST /orders              — place one signed FOK order
//   - CollateralBalance:  GET  /balance-allowance   — USDC balance for sizing
//   - DeriveAPIKey:       GET  /auth/derive-api-key — bootstrap L2 creds from L1 wallet
//
// Every request is paced by a per-endpoint-category rate limiter, retried on
// 5xx errors, and authenticated with L2 HMAC headers (except book reads).
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"event-sniper/internal/config"
	"event-sniper/pkg/types"
)

// Per-category request pacing. Book reads are cheap; order placement and
// balance reads hit authenticated endpoints with tighter venue limits.
var (
	bookLimit  = rate.Every(100 * time.Millisecond)
	orderLimit = rate.Every(250 * time.Millisecond)
	authLimit  = rate.Every(time.Second)
)

// Client is the venue CLOB REST API client.
// It wraps a resty HTTP client with rate limiting, retry, and auth.
type Client struct {
	http    *resty.Client // HTTP client with retry + base URL
	auth    *Auth         // L1/L2 auth provider for request signing
	bookRL  *rate.Limiter
	orderRL *rate.Limiter
	authRL  *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.CLOBBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    httpClient,
		auth:    auth,
		bookRL:  rate.NewLimiter(bookLimit, 1),
		orderRL: rate.NewLimiter(orderLimit, 1),
		authRL:  rate.NewLimiter(authLimit, 1),
		logger:  logger.With("component", "clob_client"),
	}
}

// GetOrderBook fetches the order book for a single token.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error) {
	if err := c.bookRL.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// SubmitOrder signs and places a single order. The venue's order endpoint
// accepts a batch; the sniper always sends a batch of one, so the first
// response element is the order's outcome.
func (c *Client) SubmitOrder(ctx context.Context, order types.UserOrder) (*types.OrderResponse, error) {
	if err := c.orderRL.Wait(ctx); err != nil {
		return nil, err
	}

	signed, err := c.auth.SignOrder(order)
	if err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}

	payloads := []types.OrderPayload{{
		Order:     signed,
		Owner:     c.auth.creds.ApiKey,
		OrderType: order.OrderType,
	}}

	body, err := json.Marshal(payloads)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/orders", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var results []types.OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&results).
		Post("/orders")
	if err != nil {
		return nil, fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("post order: empty response")
	}

	c.logger.Info("order submitted",
		"token_id", order.TokenID,
		"side", order.Side,
		"price", order.Price,
		"size", order.Size,
		"status", results[0].Status,
	)
	return &results[0], nil
}

// CollateralBalance fetches the available USDC balance. The venue reports
// 6-decimal base units as a string; the result is converted to dollars.
func (c *Client) CollateralBalance(ctx context.Context) (float64, error) {
	if err := c.authRL.Wait(ctx); err != nil {
		return 0, err
	}

	path := "/balance-allowance"
	headers, err := c.auth.L2Headers("GET", path, "")
	if err != nil {
		return 0, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.BalanceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("asset_type", "COLLATERAL").
		SetResult(&result).
		Get(path)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("get balance: status %d: %s", resp.StatusCode(), resp.String())
	}

	raw, err := strconv.ParseFloat(result.Balance, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", result.Balance, err)
	}
	return raw / 1e6, nil
}

// DeriveAPIKey derives L2 API credentials via L1 authentication.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	if err := c.authRL.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}

// HasL2Credentials reports whether API credentials are installed.
func (c *Client) HasL2Credentials() bool {
	return c.auth.HasL2Credentials()
}
