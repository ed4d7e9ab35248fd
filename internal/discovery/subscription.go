package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"event-sniper/pkg/types"
)

// Subscriber is the market-data side of subscription management, satisfied
// by the WebSocket market source.
type Subscriber interface {
	Subscribe(ctx context.Context, tokenIDs []string) error
	Subscribed(tokenID string) bool
}

// RuleSink is the rule-evaluation side, satisfied by the threshold parser.
type RuleSink interface {
	AddRule(rule types.ThresholdRule)
	HasRuleForToken(tokenID string) bool
}

// SubscriptionManager expands discovery strategies into live market
// subscriptions plus threshold rules, under a global subscription cap.
type SubscriptionManager struct {
	client     *Client
	subscriber Subscriber
	rules      RuleSink
	maxTotal   int
	active     int
	logger     *slog.Logger
}

const defaultMaxSubscriptions = 50

// NewSubscriptionManager wires the catalog client to the market source and
// rule sink. maxTotal caps subscriptions across all strategy runs; 0 means
// the default of 50.
func NewSubscriptionManager(client *Client, subscriber Subscriber, rules RuleSink, maxTotal int, logger *slog.Logger) *SubscriptionManager {
	if maxTotal <= 0 {
		maxTotal = defaultMaxSubscriptions
	}
	return &SubscriptionManager{
		client:     client,
		subscriber: subscriber,
		rules:      rules,
		maxTotal:   maxTotal,
		logger:     logger.With("component", "subscriptions"),
	}
}

// ExecuteStrategies runs each strategy in order and returns the number of
// new subscriptions installed. A strategy that fails discovery is logged
// and skipped; later strategies still run. Safe to call again later with
// the same strategies: already-handled tokens are skipped, so repeated
// runs only pick up newly listed markets.
func (m *SubscriptionManager) ExecuteStrategies(ctx context.Context, strategies []types.DiscoveryStrategy) int {
	installed := 0

	for _, strategy := range strategies {
		if m.active >= m.maxTotal {
			m.logger.Warn("subscription cap reached, remaining strategies skipped",
				"cap", m.maxTotal, "strategy", strategy.Name)
			break
		}

		n, err := m.executeStrategy(ctx, strategy)
		if err != nil {
			m.logger.Error("strategy failed", "strategy", strategy.Name, "error", err)
			continue
		}
		installed += n
	}

	return installed
}

func (m *SubscriptionManager) executeStrategy(ctx context.Context, strategy types.DiscoveryStrategy) (int, error) {
	// Fetching past the remaining global headroom wastes catalog pages:
	// anything beyond it would be dropped below anyway.
	limit := strategy.MaxMarkets
	if remaining := m.maxTotal - m.active; limit <= 0 || limit > remaining {
		limit = remaining
	}

	results, err := m.client.Discover(ctx, strategy.Criteria, limit)
	if err != nil {
		return 0, fmt.Errorf("discover: %w", err)
	}

	installed := 0
	for _, result := range results {
		if m.active >= m.maxTotal {
			break
		}
		// A token already subscribed or already carrying a rule was handled
		// by an earlier strategy or a prior run.
		if m.subscriber.Subscribed(result.TokenID) || m.rules.HasRuleForToken(result.TokenID) {
			continue
		}

		if err := m.subscriber.Subscribe(ctx, []string{result.TokenID}); err != nil {
			m.logger.Error("subscribe failed", "token_id", result.TokenID, "error", err)
			continue
		}
		m.active++

		rule := ruleFromTemplate(strategy, result)
		m.rules.AddRule(rule)
		installed++

		m.logger.Info("market subscribed",
			"strategy", strategy.Name,
			"market_id", result.MarketID,
			"token_id", result.TokenID,
			"title", result.Title,
			"threshold", rule.Threshold)
	}

	return installed, nil
}

// Active reports how many subscriptions the manager has installed.
func (m *SubscriptionManager) Active() int {
	return m.active
}

// ruleFromTemplate stamps a strategy's rule template onto one discovered
// market. The reason prefix keeps the originating strategy and market
// visible in trade journals.
func ruleFromTemplate(strategy types.DiscoveryStrategy, result types.DiscoveryResult) types.ThresholdRule {
	title := result.Title
	if runes := []rune(title); len(runes) > 50 {
		title = string(runes[:50])
	}
	reason := fmt.Sprintf("[%s] %s | {comparison} {threshold}", strategy.Name, strings.TrimSpace(title))

	return types.ThresholdRule{
		TokenID:        result.TokenID,
		TriggerSide:    strategy.RuleTemplate.TriggerSide,
		Threshold:      strategy.RuleTemplate.Threshold,
		Comparison:     strategy.RuleTemplate.Comparison,
		SizeUSDC:       strategy.RuleTemplate.SizeUSDC,
		ReasonTemplate: reason,
		Cooldown:       strategy.RuleTemplate.Cooldown,
	}
}
