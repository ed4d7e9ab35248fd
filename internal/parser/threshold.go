package parser

import (
	"log/slog"
	"sync"
	"time"

	"event-sniper/pkg/types"
)

// cooldownKey identifies a threshold rule's trigger history. Two rules on
// the same token with the same threshold share a cooldown.
type cooldownKey struct {
	tokenID   string
	threshold float64
}

// ThresholdParser fires when a token's price crosses a configured level.
// Crossing is edge-triggered against the previously observed price, so a
// price parked beyond the threshold does not re-fire on every tick.
// Safe for concurrent use: rules may be added while events are evaluated.
type ThresholdParser struct {
	mu sync.Mutex

	rulesByToken map[string][]types.ThresholdRule // install order preserved per token
	lastTrigger  map[cooldownKey]time.Time
	lastPrice    map[string]float64

	logger *slog.Logger
}

// NewThresholdParser creates a parser seeded with the given rules.
func NewThresholdParser(rules []types.ThresholdRule, logger *slog.Logger) *ThresholdParser {
	p := &ThresholdParser{
		rulesByToken: make(map[string][]types.ThresholdRule),
		lastTrigger:  make(map[cooldownKey]time.Time),
		lastPrice:    make(map[string]float64),
		logger:       logger.With("component", "threshold_parser"),
	}
	for _, rule := range rules {
		p.rulesByToken[rule.TokenID] = append(p.rulesByToken[rule.TokenID], rule)
	}
	p.logger.Info("threshold parser initialized", "rules", len(rules))
	return p
}

// Evaluate checks a market event against the rules for its token. The
// first crossing in install order wins for this event.
func (p *ThresholdParser) Evaluate(event types.MarketEvent) *types.TradeSignal {
	if !event.IsMarketData() {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rules := p.rulesByToken[event.TokenID]
	if len(rules) == 0 {
		return nil
	}

	price, ok := event.Price()
	if !ok {
		return nil
	}

	prev, hasPrev := p.lastPrice[event.TokenID]
	// Record before evaluating: a cooldown-suppressed crossing is
	// consumed, not re-armed for the next tick.
	p.lastPrice[event.TokenID] = price

	now := time.Now()
	for _, rule := range rules {
		if sig := p.evaluateRuleLocked(rule, price, prev, hasPrev, now); sig != nil {
			return sig
		}
	}
	return nil
}

// evaluateRuleLocked checks cooldown and crossing for one rule.
// Must be called with the mutex held.
func (p *ThresholdParser) evaluateRuleLocked(rule types.ThresholdRule, price, prev float64, hasPrev bool, now time.Time) *types.TradeSignal {
	key := cooldownKey{rule.TokenID, rule.Threshold}
	if last, ok := p.lastTrigger[key]; ok && now.Sub(last) < rule.Cooldown {
		return nil
	}

	var crossed bool
	switch rule.Comparison {
	case types.ComparisonAbove:
		// Was at or below, now above. With no history, above is enough.
		if hasPrev {
			crossed = prev <= rule.Threshold && price > rule.Threshold
		} else {
			crossed = price > rule.Threshold
		}
	case types.ComparisonBelow:
		// Was at or above, now below. With no history, below is enough.
		if hasPrev {
			crossed = prev >= rule.Threshold && price < rule.Threshold
		} else {
			crossed = price < rule.Threshold
		}
	}
	if !crossed {
		return nil
	}

	p.lastTrigger[key] = now

	p.logger.Info("threshold triggered",
		"token_id", rule.TokenID,
		"price", price,
		"threshold", rule.Threshold,
		"side", rule.TriggerSide,
	)

	return &types.TradeSignal{
		TokenID:   rule.TokenID,
		Side:      rule.TriggerSide,
		SizeUSDC:  rule.SizeUSDC,
		Reason:    rule.Reason(price),
		Timestamp: now,
	}
}

// AddRule installs a rule at runtime.
func (p *ThresholdParser) AddRule(rule types.ThresholdRule) {
	p.mu.Lock()
	p.rulesByToken[rule.TokenID] = append(p.rulesByToken[rule.TokenID], rule)
	p.mu.Unlock()

	p.logger.Info("rule added",
		"token_id", rule.TokenID,
		"threshold", rule.Threshold,
		"side", rule.TriggerSide,
	)
}

// HasRuleForToken reports whether at least one rule targets the token.
func (p *ThresholdParser) HasRuleForToken(tokenID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rulesByToken[tokenID]) > 0
}

// Reset clears trigger history and price memory. Rules survive.
func (p *ThresholdParser) Reset() {
	p.mu.Lock()
	p.lastTrigger = make(map[cooldownKey]time.Time)
	p.lastPrice = make(map[string]float64)
	p.mu.Unlock()

	p.logger.Info("parser state reset")
}
