package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-sniper/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventJSON(id, title string, markets ...string) string {
	return fmt.Sprintf(`{"id":%q,"title":%q,"endDate":"2026-12-31T00:00:00Z","tags":[{"slug":"crypto"}],"markets":[%s]}`,
		id, title, joinComma(markets))
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func TestDiscoverBareArray(t *testing.T) {
	t.Parallel()

	market := `{"id":"m1","clobTokenIds":"[\"tok-yes\",\"tok-no\"]","volume":"120000","liquidity":"9000"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "crypto", r.URL.Query().Get("tag_slug"))
		assert.Equal(t, "true", r.URL.Query().Get("active"))
		fmt.Fprintf(w, "[%s]", eventJSON("e1", "Will BTC hit 100k?", market))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, testLogger())
	results, err := c.Discover(context.Background(), types.MarketCriteria{
		Tags:       []string{"crypto"},
		MinVolume:  50000,
		ActiveOnly: true,
	}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)

	got := results[0]
	assert.Equal(t, "m1", got.MarketID)
	assert.Equal(t, "tok-yes", got.TokenID)
	assert.Equal(t, "Will BTC hit 100k?", got.Title)
	assert.Equal(t, 120000.0, got.Volume)
	assert.Equal(t, []string{"crypto"}, got.Tags)
	require.NotNil(t, got.EndDate)
	assert.Equal(t, 2026, got.EndDate.Year())
}

func TestDiscoverCursorPagination(t *testing.T) {
	t.Parallel()

	m1 := `{"id":"m1","clobTokenIds":["a-yes","a-no"],"volume":"100000","liquidity":"5000"}`
	m2 := `{"id":"m2","clobTokenIds":["b-yes","b-no"],"volume":"100000","liquidity":"5000"}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			fmt.Fprintf(w, `{"data":[%s],"next_cursor":"page2"}`, eventJSON("e1", "first", m1))
		case "page2":
			fmt.Fprintf(w, "[%s]", eventJSON("e2", "second", m2))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, testLogger())
	results, err := c.Discover(context.Background(), types.MarketCriteria{}, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a-yes", results[0].TokenID)
	assert.Equal(t, "b-yes", results[1].TokenID)
}

func TestDiscoverLimitStopsPagination(t *testing.T) {
	t.Parallel()

	var pages int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		m := `{"id":"m1","clobTokenIds":["x","y"],"volume":"100000","liquidity":"5000"}`
		fmt.Fprintf(w, `{"data":[%s],"next_cursor":"more"}`, eventJSON("e1", "t", m))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, testLogger())
	results, err := c.Discover(context.Background(), types.MarketCriteria{}, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 1, pages, "limit reached on the first page should stop pagination")
}

func TestDiscoverClientSideFilters(t *testing.T) {
	t.Parallel()

	lowVolume := `{"id":"m-low","clobTokenIds":["lv"],"volume":"100","liquidity":"9000"}`
	lowLiquidity := `{"id":"m-thin","clobTokenIds":["tl"],"volume":"90000","liquidity":"10"}`
	noTokens := `{"id":"m-none","clobTokenIds":[],"volume":"90000","liquidity":"9000"}`
	good := `{"id":"m-good","clobTokenIds":["ok-yes","ok-no"],"volume":"90000","liquidity":"9000"}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "[%s,%s]",
			eventJSON("e1", "Fed rate decision", lowVolume, lowLiquidity, noTokens, good),
			eventJSON("e2", "Election winner", good))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, testLogger())
	results, err := c.Discover(context.Background(), types.MarketCriteria{
		MinVolume:    50000,
		MinLiquidity: 1000,
		Keywords:     []string{"FED"},
	}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1, "keyword filter should drop the election event")
	assert.Equal(t, "m-good", results[0].MarketID)
	assert.Equal(t, "Fed rate decision", results[0].Title)
}

func TestDiscoverRetriesRateLimit(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, testLogger())
	results, err := c.Discover(context.Background(), types.MarketCriteria{}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 2, calls)
}

func TestDiscoverBadRequestFailsFast(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad tag", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, testLogger())
	_, err := c.Discover(context.Background(), types.MarketCriteria{}, 0)
	require.ErrorIs(t, err, ErrAPI)
	assert.Equal(t, 1, calls, "4xx other than 429 must not retry")
}

func TestParseTokenIDs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"json array", `["a","b"]`, []string{"a", "b"}},
		{"encoded string", `"[\"a\",\"b\"]"`, []string{"a", "b"}},
		{"empty array", `[]`, []string{}},
		{"garbage", `42`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := parseTokenIDs(json.RawMessage(tt.raw))
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
