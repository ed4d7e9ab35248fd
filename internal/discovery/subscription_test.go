package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-sniper/pkg/types"
)

type fakeSubscriber struct {
	tokens  map[string]bool
	failOn  string
	calls   int
	batches [][]string
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{tokens: map[string]bool{}}
}

func (f *fakeSubscriber) Subscribe(_ context.Context, tokenIDs []string) error {
	f.calls++
	f.batches = append(f.batches, tokenIDs)
	for _, id := range tokenIDs {
		if id == f.failOn {
			return errors.New("subscribe refused")
		}
		f.tokens[id] = true
	}
	return nil
}

func (f *fakeSubscriber) Subscribed(tokenID string) bool { return f.tokens[tokenID] }

type fakeRuleSink struct {
	rules []types.ThresholdRule
}

func (f *fakeRuleSink) AddRule(rule types.ThresholdRule) { f.rules = append(f.rules, rule) }

func (f *fakeRuleSink) HasRuleForToken(tokenID string) bool {
	for _, r := range f.rules {
		if r.TokenID == tokenID {
			return true
		}
	}
	return false
}

// catalogServer serves one bare-array page with the given markets.
func catalogServer(t *testing.T, markets ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "[%s]", eventJSON("e1", "Will BTC hit 100k by March?", markets...))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func marketJSON(id, token string) string {
	return fmt.Sprintf(`{"id":%q,"clobTokenIds":[%q,"%s-no"],"volume":"100000","liquidity":"9000"}`, id, token, token)
}

func cryptoDipStrategy(maxMarkets int) types.DiscoveryStrategy {
	return types.DiscoveryStrategy{
		Name:     "crypto-dip",
		Criteria: types.MarketCriteria{MinVolume: 50000},
		RuleTemplate: types.RuleTemplate{
			TriggerSide: types.BUY,
			Threshold:   0.20,
			Comparison:  types.ComparisonBelow,
			SizeUSDC:    25,
			Cooldown:    time.Minute,
		},
		MaxMarkets: maxMarkets,
	}
}

func TestExecuteStrategiesInstallsPairs(t *testing.T) {
	t.Parallel()

	srv := catalogServer(t, marketJSON("m1", "tok1"), marketJSON("m2", "tok2"))
	subscriber := newFakeSubscriber()
	sink := &fakeRuleSink{}
	mgr := NewSubscriptionManager(NewClient(srv.URL, 5*time.Second, testLogger()), subscriber, sink, 0, testLogger())

	n := mgr.ExecuteStrategies(context.Background(), []types.DiscoveryStrategy{cryptoDipStrategy(0)})

	assert.Equal(t, 2, n)
	assert.Equal(t, 2, mgr.Active())
	assert.True(t, subscriber.Subscribed("tok1"))
	assert.True(t, subscriber.Subscribed("tok2"))
	require.Len(t, sink.rules, 2)

	rule := sink.rules[0]
	assert.Equal(t, "tok1", rule.TokenID)
	assert.Equal(t, 0.20, rule.Threshold)
	assert.Equal(t, types.ComparisonBelow, rule.Comparison)
	assert.Equal(t, 25.0, rule.SizeUSDC)
	assert.Equal(t, "[crypto-dip] Will BTC hit 100k by March? | {comparison} {threshold}", rule.ReasonTemplate)
}

func TestExecuteStrategiesSkipsHandledTokens(t *testing.T) {
	t.Parallel()

	srv := catalogServer(t, marketJSON("m1", "tok1"), marketJSON("m2", "tok2"))
	subscriber := newFakeSubscriber()
	subscriber.tokens["tok1"] = true // already live from a prior run
	sink := &fakeRuleSink{}
	sink.rules = append(sink.rules, types.ThresholdRule{TokenID: "tok2"})
	mgr := NewSubscriptionManager(NewClient(srv.URL, 5*time.Second, testLogger()), subscriber, sink, 0, testLogger())

	n := mgr.ExecuteStrategies(context.Background(), []types.DiscoveryStrategy{cryptoDipStrategy(0)})

	assert.Equal(t, 0, n)
	assert.Equal(t, 0, subscriber.calls)
	assert.Len(t, sink.rules, 1)
}

func TestExecuteStrategiesGlobalCap(t *testing.T) {
	t.Parallel()

	srv := catalogServer(t,
		marketJSON("m1", "tok1"), marketJSON("m2", "tok2"), marketJSON("m3", "tok3"))
	subscriber := newFakeSubscriber()
	sink := &fakeRuleSink{}
	mgr := NewSubscriptionManager(NewClient(srv.URL, 5*time.Second, testLogger()), subscriber, sink, 2, testLogger())

	n := mgr.ExecuteStrategies(context.Background(), []types.DiscoveryStrategy{cryptoDipStrategy(0)})

	assert.Equal(t, 2, n)
	assert.Equal(t, 2, mgr.Active())
	assert.False(t, subscriber.Subscribed("tok3"))

	// At the cap, a later run installs nothing more.
	n = mgr.ExecuteStrategies(context.Background(), []types.DiscoveryStrategy{cryptoDipStrategy(0)})
	assert.Equal(t, 0, n)
}

func TestExecuteStrategiesClampsFetchToHeadroom(t *testing.T) {
	t.Parallel()

	// Page one already covers the remaining capacity; paging further would
	// only fetch markets destined to be dropped.
	var pages int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		if r.URL.Query().Get("cursor") == "" {
			fmt.Fprintf(w, `{"data":[%s],"next_cursor":"p2"}`,
				eventJSON("e1", "Will BTC hit 100k by March?", marketJSON("m1", "tok1"), marketJSON("m2", "tok2")))
			return
		}
		fmt.Fprintf(w, "[%s]", eventJSON("e2", "Will ETH flip BTC?", marketJSON("m3", "tok3")))
	}))
	defer srv.Close()

	subscriber := newFakeSubscriber()
	sink := &fakeRuleSink{}
	mgr := NewSubscriptionManager(NewClient(srv.URL, 5*time.Second, testLogger()), subscriber, sink, 2, testLogger())

	n := mgr.ExecuteStrategies(context.Background(), []types.DiscoveryStrategy{cryptoDipStrategy(10)})

	assert.Equal(t, 2, n)
	assert.Equal(t, 1, pages, "discovery must stop once the remaining capacity is covered")
	assert.False(t, subscriber.Subscribed("tok3"))
}

func TestExecuteStrategiesSubscribeFailureSkipsRule(t *testing.T) {
	t.Parallel()

	srv := catalogServer(t, marketJSON("m1", "tok1"), marketJSON("m2", "tok2"))
	subscriber := newFakeSubscriber()
	subscriber.failOn = "tok1"
	sink := &fakeRuleSink{}
	mgr := NewSubscriptionManager(NewClient(srv.URL, 5*time.Second, testLogger()), subscriber, sink, 0, testLogger())

	n := mgr.ExecuteStrategies(context.Background(), []types.DiscoveryStrategy{cryptoDipStrategy(0)})

	assert.Equal(t, 1, n, "failed subscription must not install its rule")
	require.Len(t, sink.rules, 1)
	assert.Equal(t, "tok2", sink.rules[0].TokenID)
}

func TestExecuteStrategiesDiscoveryFailureContinues(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("tag_slug") == "broken" {
			http.Error(w, "no such tag", http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, "[%s]", eventJSON("e1", "ok", marketJSON("m1", "tok1")))
	}))
	defer srv.Close()

	broken := cryptoDipStrategy(0)
	broken.Name = "broken"
	broken.Criteria.Tags = []string{"broken"}

	subscriber := newFakeSubscriber()
	sink := &fakeRuleSink{}
	mgr := NewSubscriptionManager(NewClient(srv.URL, 5*time.Second, testLogger()), subscriber, sink, 0, testLogger())

	n := mgr.ExecuteStrategies(context.Background(), []types.DiscoveryStrategy{broken, cryptoDipStrategy(0)})

	assert.Equal(t, 1, n, "a failing strategy must not block later ones")
	assert.True(t, subscriber.Subscribed("tok1"))
}
