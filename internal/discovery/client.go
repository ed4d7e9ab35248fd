// Package discovery finds tradable markets in the venue's Gamma catalog
// and expands discovery strategies into live subscriptions + rules.
//
// The client walks the paginated /events endpoint with server-side tag and
// active filters; volume, liquidity, and keyword filters apply client-side
// because server support for them is partial. The subscription manager
// turns accepted markets into (subscription, threshold rule) pairs under a
// global cap.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"event-sniper/pkg/types"
)

// Error kinds for catalog queries, matchable with errors.Is.
var (
	ErrRateLimited = errors.New("catalog rate limited")
	ErrServer      = errors.New("catalog server error")
	ErrAPI         = errors.New("catalog request failed")
)

const (
	pageLimit      = 100
	maxAttempts    = 5
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
	requestSpacing = 100 * time.Millisecond
)

// gammaEvent is the JSON shape of one catalog event. Numeric fields arrive
// as strings; clobTokenIds is sometimes a JSON array and sometimes a
// JSON-encoded string of one.
type gammaEvent struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	EndDate string `json:"endDate"`
	Tags    []struct {
		Slug string `json:"slug"`
	} `json:"tags"`
	Markets []struct {
		ID           string          `json:"id"`
		ClobTokenIds json.RawMessage `json:"clobTokenIds"`
		Volume       string          `json:"volume"`
		Liquidity    string          `json:"liquidity"`
	} `json:"markets"`
}

// gammaEnvelope is the cursor-paginated response shape. The endpoint also
// returns a bare array (no next page); both are handled in fetchPage.
type gammaEnvelope struct {
	Data       []gammaEvent `json:"data"`
	NextCursor string       `json:"next_cursor"`
}

// Client queries the Gamma catalog API.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a catalog client for the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Every(requestSpacing), 1),
		logger:  logger.With("component", "discovery"),
	}
}

// Discover walks the catalog for markets matching the criteria, up to
// limit results (0 = unlimited). Each accepted market carries a non-empty
// market ID and its first CLOB token, the YES outcome.
func (c *Client) Discover(ctx context.Context, criteria types.MarketCriteria, limit int) ([]types.DiscoveryResult, error) {
	var results []types.DiscoveryResult
	cursor := ""

	for {
		events, nextCursor, err := c.fetchPage(ctx, criteria, cursor)
		if err != nil {
			return nil, err
		}

		for _, event := range events {
			for _, res := range c.acceptMarkets(event, criteria) {
				results = append(results, res)
				if limit > 0 && len(results) >= limit {
					return results, nil
				}
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	c.logger.Info("discovery complete", "results", len(results), "tags", strings.Join(criteria.Tags, ","))
	return results, nil
}

// fetchPage requests one page, retrying rate limits and server errors with
// exponential backoff. Client errors other than 429 fail immediately.
func (c *Client) fetchPage(ctx context.Context, criteria types.MarketCriteria, cursor string) ([]gammaEvent, string, error) {
	params := map[string]string{"limit": strconv.Itoa(pageLimit)}
	if len(criteria.Tags) > 0 {
		params["tag_slug"] = strings.Join(criteria.Tags, ",")
	}
	if criteria.ActiveOnly {
		params["active"] = "true"
	}
	if cursor != "" {
		params["cursor"] = cursor
	}

	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, "", err
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			Get("/events")

		var kindErr error
		switch {
		case err != nil:
			kindErr = fmt.Errorf("%w: %v", ErrAPI, err)
		case resp.StatusCode() == http.StatusTooManyRequests:
			if retryAfter := parseRetryAfter(resp.Header().Get("Retry-After")); retryAfter > 0 {
				backoff = retryAfter
			}
			kindErr = fmt.Errorf("%w: status 429", ErrRateLimited)
		case resp.StatusCode() >= 500:
			kindErr = fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode())
		case resp.StatusCode() != http.StatusOK:
			return nil, "", fmt.Errorf("%w: status %d: %s", ErrAPI, resp.StatusCode(), resp.String())
		default:
			return parseEventsBody(resp.Body())
		}

		if attempt >= maxAttempts {
			return nil, "", fmt.Errorf("after %d attempts: %w", attempt, kindErr)
		}
		c.logger.Warn("catalog request retrying", "attempt", attempt, "backoff", backoff, "error", kindErr)

		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// parseEventsBody tolerates both response shapes: a bare array means no
// further pages; an envelope carries the next cursor.
func parseEventsBody(body []byte) ([]gammaEvent, string, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var events []gammaEvent
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, "", fmt.Errorf("%w: decode array: %v", ErrAPI, err)
		}
		return events, "", nil
	}

	var env gammaEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, "", fmt.Errorf("%w: decode envelope: %v", ErrAPI, err)
	}
	return env.Data, env.NextCursor, nil
}

// acceptMarkets applies client-side filters to one event's markets and
// converts survivors to DiscoveryResults.
func (c *Client) acceptMarkets(event gammaEvent, criteria types.MarketCriteria) []types.DiscoveryResult {
	if len(criteria.Keywords) > 0 && !matchesKeyword(event.Title, criteria.Keywords) {
		return nil
	}

	var endDate *time.Time
	if event.EndDate != "" {
		if parsed, err := time.Parse(time.RFC3339, event.EndDate); err == nil {
			endDate = &parsed
		}
	}

	tags := make([]string, 0, len(event.Tags))
	for _, tag := range event.Tags {
		tags = append(tags, tag.Slug)
	}

	var results []types.DiscoveryResult
	for _, m := range event.Markets {
		if m.ID == "" {
			continue
		}
		tokens := parseTokenIDs(m.ClobTokenIds)
		if len(tokens) == 0 {
			c.logger.Debug("market without CLOB tokens skipped", "market_id", m.ID)
			continue
		}

		volume := parseNumeric(m.Volume)
		liquidity := parseNumeric(m.Liquidity)
		if volume < criteria.MinVolume || liquidity < criteria.MinLiquidity {
			continue
		}

		results = append(results, types.DiscoveryResult{
			MarketID:     m.ID,
			TokenID:      tokens[0], // first token is the YES outcome
			Title:        event.Title,
			Volume:       volume,
			Liquidity:    liquidity,
			EndDate:      endDate,
			Tags:         tags,
			DiscoveredAt: time.Now(),
		})
	}
	return results
}

// parseTokenIDs handles both wire shapes of clobTokenIds: a JSON array of
// strings, or a JSON string containing an encoded array.
func parseTokenIDs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err == nil {
		return ids
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		if err := json.Unmarshal([]byte(encoded), &ids); err == nil {
			return ids
		}
	}
	return nil
}

// parseNumeric converts a string-typed numeric field, substituting 0 for
// missing or malformed values.
func parseNumeric(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func matchesKeyword(title string, keywords []string) bool {
	lower := strings.ToLower(title)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
